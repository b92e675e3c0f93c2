package portal

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// SavingsPrefix starts the text block that carries the total savings.
const SavingsPrefix = "Your total savings are"

// ErrSavingsNotFound is returned when no amount can be read from the page.
var ErrSavingsNotFound = errors.New("Savings amount not found in text")

var savingsPattern = regexp.MustCompile(`£([\d,]+\.\d{2})`)

// ParseSavings extracts the first pound amount with exactly two decimals,
// such as "£12,345.67", from text.
func ParseSavings(text string) (float64, error) {
	m := savingsPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, ErrSavingsNotFound
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0, ErrSavingsNotFound
	}
	return d.InexactFloat64(), nil
}

// Extractor reads the savings amount out of page text that ParseSavings
// could not handle. Its answer is itself checked with ParseSavings.
type Extractor interface {
	ExtractSavings(ctx context.Context, text string) (string, error)
}
