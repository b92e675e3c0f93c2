package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rjlee/actual-landg-pension/internal/portal"
	"github.com/rjlee/actual-landg-pension/internal/reconcile"
)

// SyncRunner runs one reconciliation pass.
type SyncRunner interface {
	RunSyncE(ctx context.Context) (int, error)
}

// Runner executes login and sync jobs.
type Runner struct {
	sync     SyncRunner
	observer reconcile.Observer
	creds    portal.Credentials
}

// NewRunner creates a runner.
func NewRunner(sync SyncRunner, observer reconcile.Observer, creds portal.Credentials) *Runner {
	return &Runner{sync: sync, observer: observer, creds: creds}
}

// Handle is a JobHandler. A sync job that leaves the ledger unreleased
// panics, taking the process down.
func (r *Runner) Handle(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobTypeLogin:
		value, err := r.observer.Observe(ctx, r.creds)
		if err != nil {
			return err
		}
		job.Value = &value
		return nil

	case JobTypeSync:
		applied, err := r.sync.RunSyncE(ctx)
		job.Applied = &applied
		if errors.Is(err, reconcile.ErrLedgerRelease) {
			panic(err)
		}
		return err

	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
