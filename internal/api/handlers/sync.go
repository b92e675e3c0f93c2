package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rjlee/actual-landg-pension/internal/api/middleware"
	"github.com/rjlee/actual-landg-pension/internal/history"
	"github.com/rjlee/actual-landg-pension/internal/jobs"
	"github.com/rjlee/actual-landg-pension/internal/reconcile"
)

// SyncHandler runs reconciliation passes on request.
type SyncHandler struct {
	runner jobs.SyncRunner
	fatal  func(error)
	log    zerolog.Logger
}

// NewSyncHandler creates a new sync handler. A pass that cannot release the
// ledger is fatal to the process.
func NewSyncHandler(runner jobs.SyncRunner, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		runner: runner,
		fatal: func(err error) {
			log.Fatal().Err(err).Msg("Ledger session left open")
		},
		log: log,
	}
}

// WithFatal replaces the action taken when the ledger cannot be released.
func (h *SyncHandler) WithFatal(fn func(error)) *SyncHandler {
	h.fatal = fn
	return h
}

// Sync handles POST /api/sync
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	count, err := h.runner.RunSyncE(r.Context())
	if errors.Is(err, reconcile.ErrLedgerRelease) {
		h.fatal(err)
	}
	if err != nil {
		// A pass that stops early still reports what it applied.
		h.log.Error().Err(err).Int("count", count).Msg("Sync stopped early")
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]int{"count": count})
}

// HistoryHandler serves recorded pass outcomes.
type HistoryHandler struct {
	reader history.Reader
	log    zerolog.Logger
}

// NewHistoryHandler creates a new history handler. A nil reader means no
// history sink is configured.
func NewHistoryHandler(reader history.Reader, log zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{reader: reader, log: log}
}

// ListHistory handles GET /api/history
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		middleware.WriteError(w, http.StatusNotFound, "History is not configured")
		return
	}

	records, err := h.reader.Recent(r.Context(), queryInt(r, "limit"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read history")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"history": records,
		"count":   len(records),
	})
}
