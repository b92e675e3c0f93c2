// Package reconcile applies the observed pension balance to the mapped ledger
// accounts as balance-adjusting transactions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rjlee/actual-landg-pension/internal/history"
	"github.com/rjlee/actual-landg-pension/internal/ledger"
	"github.com/rjlee/actual-landg-pension/internal/mapping"
	"github.com/rjlee/actual-landg-pension/internal/portal"
)

// PayeeName is the payee every synthetic transaction is booked against.
const PayeeName = "actual-landg-pension"

// ErrLedgerRelease is returned when the ledger session could not be closed.
// The process can no longer use the ledger safely.
var ErrLedgerRelease = errors.New("failed to release ledger")

// Observer reads the current external balance.
type Observer interface {
	Observe(ctx context.Context, creds portal.Credentials) (float64, error)
}

// Engine runs reconciliation passes. Passes are serialized.
type Engine struct {
	gw       ledger.Gateway
	store    mapping.Store
	observer Observer
	creds    portal.Credentials
	recorder history.Recorder
	log      zerolog.Logger

	now    func() time.Time
	passID func() string

	mu sync.Mutex
}

// NewEngine creates an engine.
func NewEngine(gw ledger.Gateway, store mapping.Store, observer Observer, creds portal.Credentials, log zerolog.Logger) *Engine {
	return &Engine{
		gw:       gw,
		store:    store,
		observer: observer,
		creds:    creds,
		recorder: history.Nop{},
		log:      log.With().Str("component", "reconcile").Logger(),
		now:      time.Now,
		passID:   uuid.NewString,
	}
}

// WithRecorder sets where entry outcomes are recorded.
func (e *Engine) WithRecorder(r history.Recorder) *Engine {
	if r == nil {
		r = history.Nop{}
	}
	e.recorder = r
	return e
}

// RunSync runs one pass and returns the number of transactions applied. It
// panics if the ledger session cannot be released.
func (e *Engine) RunSync(ctx context.Context) int {
	applied, err := e.RunSyncE(ctx)
	if errors.Is(err, ErrLedgerRelease) {
		panic(err)
	}
	return applied
}

// RunSyncE runs one pass. The returned error explains why the pass stopped
// early; entry-level failures are logged and never returned. The applied
// count is valid even when err is non-nil.
func (e *Engine) RunSyncE(ctx context.Context) (applied int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.log.With().Str("store", e.store.Location()).Logger()

	entries, lerr := e.store.Load(ctx)
	if lerr != nil {
		log.Warn().Err(lerr).Msg("Failed to load or parse mapping; starting with empty mapping")
		entries = []mapping.Entry{}
	}
	log.Debug().Int("count", len(entries)).Msg("Loaded mapping entries")

	log.Info().Msg("Opening ledger")
	if oerr := e.gw.Open(ctx); oerr != nil {
		log.Error().Err(oerr).Msg("Failed to open ledger; aborting sync")
		return 0, fmt.Errorf("open ledger: %w", oerr)
	}
	defer func() {
		if cerr := e.gw.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Error().Err(cerr).Msg("Failed to close ledger")
			err = errors.Join(err, fmt.Errorf("%w: %v", ErrLedgerRelease, cerr))
		}
	}()

	if serr := e.gw.Sync(ctx); serr != nil {
		log.Debug().Err(serr).Msg("Pre-sync failed")
	}

	applied, err = e.pass(ctx, log, entries)
	if err != nil {
		log.Error().Err(err).Msg("Error during sync")
	}
	return applied, err
}

func (e *Engine) pass(ctx context.Context, log zerolog.Logger, entries []mapping.Entry) (int, error) {
	accounts, err := e.gw.Accounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	valid := ledger.IDs(accounts)

	observed, err := e.observer.Observe(ctx, e.creds)
	if err != nil {
		return 0, fmt.Errorf("observe balance: %w", err)
	}

	passID := e.passID()
	records := make([]history.Record, 0, len(entries))
	applied := 0

	for i := range entries {
		entry := &entries[i]
		now := e.now()
		rec := history.Record{
			PassID:     passID,
			AccountID:  entry.AccountID,
			Observed:   observed,
			RecordedAt: now,
		}
		elog := log.With().Str("account_id", entry.AccountID).Logger()

		if !valid[entry.AccountID] {
			elog.Warn().Msg("Ledger account not found; skipping")
			rec.Outcome = history.OutcomeSkipped
			records = append(records, rec)
			continue
		}

		last := entry.LastBalance
		if minor, berr := e.gw.AccountBalance(ctx, entry.AccountID, now); berr != nil {
			elog.Warn().Err(berr).Float64("last_balance", last).Msg("Unable to fetch ledger balance; falling back to stored lastBalance")
		} else {
			last = ledger.ToMajor(minor)
		}
		rec.Previous = last

		delta := observed - last
		if delta == 0 {
			rec.Outcome = history.OutcomeUnchanged
			records = append(records, rec)
			continue
		}
		elog.Info().Float64("delta", delta).Msg("Syncing pension change")

		tx := ledger.Transaction{
			ID:            fmt.Sprintf("landg-%s-%d", entry.AccountID, now.UnixMilli()),
			Date:          ledger.FormatDate(now),
			Amount:        ledger.ToMinor(delta),
			Payee:         e.resolvePayee(ctx, elog),
			ImportedPayee: PayeeName,
		}
		rec.AmountMinor = tx.Amount

		opts := ledger.AddOptions{RunTransfers: false, LearnCategories: false}
		if aerr := e.gw.AddTransactions(ctx, entry.AccountID, []ledger.Transaction{tx}, opts); aerr != nil {
			elog.Error().Err(aerr).Str("transaction_id", tx.ID).Msg("Failed to add transaction")
			rec.Outcome = history.OutcomeFailed
			rec.Error = aerr.Error()
			records = append(records, rec)
			continue
		}

		entry.LastBalance = observed
		applied++
		rec.Outcome = history.OutcomeApplied
		records = append(records, rec)
	}

	if err := e.store.Save(ctx, entries); err != nil {
		log.Error().Err(err).Msg("Failed to save mapping atomically")
	}
	log.Info().Int("applied", applied).Msg("Completed pension sync")

	if err := e.recorder.Record(ctx, records); err != nil {
		log.Warn().Err(err).Msg("Failed to record sync history")
	}

	if err := e.gw.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("Ledger sync after pension sync failed")
	} else {
		log.Info().Msg("Ledger sync complete")
	}

	return applied, nil
}

// resolvePayee finds or creates the sync payee. When neither works the raw
// name is used, which the ledger accepts as a new payee name.
func (e *Engine) resolvePayee(ctx context.Context, log zerolog.Logger) string {
	payees, err := e.gw.Payees(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to list payees")
	}
	for _, p := range payees {
		if p.Name == PayeeName && p.ID != "" {
			return p.ID
		}
	}

	id, err := e.gw.CreatePayee(ctx, PayeeName)
	if err != nil || id == "" {
		log.Warn().Err(err).Str("payee", PayeeName).Msg("Failed to create payee; using raw name")
		return PayeeName
	}
	return id
}
