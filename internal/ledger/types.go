package ledger

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the day format the ledger stores transaction dates in.
const DateLayout = "2006-01-02"

// Account is a budget account.
type Account struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OffBudget bool   `json:"offbudget,omitempty"`
	Closed    bool   `json:"closed,omitempty"`
}

// Payee is a transaction counterparty.
type Payee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Transaction is a raw ledger transaction. Amount is in minor units and
// Payee holds either a payee id or, when none could be resolved, a name.
type Transaction struct {
	ID            string `json:"id,omitempty"`
	Date          string `json:"date"`
	Amount        int64  `json:"amount"`
	Payee         string `json:"payee,omitempty"`
	ImportedPayee string `json:"imported_payee,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// AddOptions controls server-side post-processing of inserted transactions.
type AddOptions struct {
	RunTransfers    bool `json:"runTransfers"`
	LearnCategories bool `json:"learnCategories"`
}

// FormatDate renders t in the ledger's day format.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ToMajor converts minor units (pence) to major units (pounds).
func ToMajor(minor int64) float64 {
	return decimal.New(minor, -2).InexactFloat64()
}

// ToMinor converts a major-unit amount to minor units. Halves round up
// towards positive infinity on the float product, so -0.005 becomes 0.
func ToMinor(major float64) int64 {
	return int64(math.Floor(major*100 + 0.5))
}

// IDs returns the set of account ids.
func IDs(accounts []Account) map[string]bool {
	ids := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		ids[a.ID] = true
	}
	return ids
}
