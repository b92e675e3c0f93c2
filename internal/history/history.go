// Package history records the outcome of every mapping entry in a sync pass
// to optional external sinks.
package history

import (
	"context"
	"errors"
	"time"
)

// Outcome describes what a pass did with one mapping entry.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Record is one entry outcome.
type Record struct {
	PassID      string    `json:"pass_id"`
	AccountID   string    `json:"account_id"`
	Outcome     Outcome   `json:"outcome"`
	Observed    float64   `json:"observed"`
	Previous    float64   `json:"previous"`
	AmountMinor int64     `json:"amount_minor"`
	Error       string    `json:"error,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Recorder persists records. Failures are reported but never affect a pass.
type Recorder interface {
	Record(ctx context.Context, records []Record) error
}

// Reader returns the most recent records, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(context.Context, []Record) error { return nil }

// Multi fans records out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, records []Record) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
