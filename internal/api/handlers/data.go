package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rjlee/actual-landg-pension/internal/api/middleware"
	"github.com/rjlee/actual-landg-pension/internal/ledger"
	"github.com/rjlee/actual-landg-pension/internal/login"
	"github.com/rjlee/actual-landg-pension/internal/mapping"
)

// DefaultLedgerTimeout bounds a UI ledger session, including the wait for a
// running sync to release the ledger.
const DefaultLedgerTimeout = 30 * time.Second

// DataHandler serves the mapping editor: the stored mapping, the ledger's
// accounts and the portal session.
type DataHandler struct {
	gw      ledger.Gateway
	store   mapping.Store
	coord   *login.Coordinator
	timeout time.Duration
	ready   atomic.Bool
	log     zerolog.Logger
}

// NewDataHandler creates a new data handler.
func NewDataHandler(gw ledger.Gateway, store mapping.Store, coord *login.Coordinator, log zerolog.Logger) *DataHandler {
	return &DataHandler{
		gw:      gw,
		store:   store,
		coord:   coord,
		timeout: DefaultLedgerTimeout,
		log:     log,
	}
}

// WithTimeout overrides DefaultLedgerTimeout.
func (h *DataHandler) WithTimeout(d time.Duration) *DataHandler {
	h.timeout = d
	return h
}

// Ready reports whether the last ledger session opened.
func (h *DataHandler) Ready() bool {
	return h.ready.Load()
}

// Probe opens and closes one ledger session to warm the budget, and
// records whether it succeeded.
func (h *DataHandler) Probe(ctx context.Context) error {
	_, err := h.accounts(ctx, false)
	return err
}

// accounts runs a short ledger session. With list unset it only opens the
// budget.
func (h *DataHandler) accounts(ctx context.Context, list bool) ([]ledger.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.gw.Open(ctx); err != nil {
		h.ready.Store(false)
		return nil, err
	}
	h.ready.Store(true)
	defer func() {
		if err := h.gw.Close(context.WithoutCancel(ctx)); err != nil {
			h.log.Error().Err(err).Msg("Failed to close ledger session")
		}
	}()

	if !list {
		return nil, nil
	}
	return h.gw.Accounts(ctx)
}

// GetData handles GET /api/data
func (h *DataHandler) GetData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entries, err := h.store.Load(ctx)
	if err != nil {
		h.log.Warn().Err(err).Str("location", h.store.Location()).Msg("Failed to load mapping")
		entries = []mapping.Entry{}
	}

	accounts, err := h.accounts(ctx, true)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrNoBudgetOpen):
		h.ready.Store(false)
		h.log.Info().Msg("Budget not yet loaded; skipping accounts fetch")
	default:
		h.log.Error().Err(err).Msg("Failed to fetch ledger accounts")
	}
	if accounts == nil {
		accounts = []ledger.Account{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"mapping":  entries,
		"accounts": accounts,
		"landg":    h.coord.Status(),
	})
}

// BudgetStatus handles GET /api/budget-status
func (h *DataHandler) BudgetStatus(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"ready": h.Ready()})
}

// SaveMappings handles POST /api/mappings. The body is the full mapping
// sequence; fields the editor does not know about are written back as sent.
func (h *DataHandler) SaveMappings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entries, err := mapping.Decode(body)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Mapping must be a JSON array of entries")
		return
	}

	if err := h.store.Save(r.Context(), entries); err != nil {
		h.log.Error().Err(err).Str("location", h.store.Location()).Msg("Failed to save mapping")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save mapping")
		return
	}

	h.log.Info().Int("entries", len(entries)).Msg("Mapping saved")
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
