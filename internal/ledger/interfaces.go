package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoBudgetOpen is returned by data operations issued outside an
	// Open/Close session, or when the server reports no budget loaded.
	ErrNoBudgetOpen = errors.New("No budget file is open")

	// ErrNotOpen is returned by Close when no session is held.
	ErrNotOpen = errors.New("ledger: close without matching open")
)

// Gateway is the budgeting ledger as seen by the reconciliation pass.
// Open acquires exclusive access and must be paired with Close.
//
//go:generate mockgen -destination=mocks/mock_gateway.go -source=interfaces.go Gateway
type Gateway interface {
	// Open acquires the ledger session, blocking while another holder has it.
	Open(ctx context.Context) error

	// Close releases the session acquired by Open.
	Close(ctx context.Context) error

	// Sync pulls and pushes pending budget changes.
	Sync(ctx context.Context) error

	// Accounts lists the ledger accounts.
	Accounts(ctx context.Context) ([]Account, error)

	// AccountBalance returns the balance in minor units as of the given day.
	AccountBalance(ctx context.Context, accountID string, asOf time.Time) (int64, error)

	// Payees lists all payees.
	Payees(ctx context.Context) ([]Payee, error)

	// CreatePayee creates a payee and returns its id.
	CreatePayee(ctx context.Context, name string) (string, error)

	// AddTransactions inserts raw transactions into an account.
	AddTransactions(ctx context.Context, accountID string, txs []Transaction, opts AddOptions) error
}
