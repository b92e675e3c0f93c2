package portal

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned by Page waits that ran out of time.
var ErrWaitTimeout = errors.New("wait timed out")

// Browser starts browser sessions.
type Browser interface {
	// Open starts a page bound to ctx. The page stops when ctx is done or
	// Close is called.
	Open(ctx context.Context) (Page, error)
}

// Page is the set of browser operations the portal login needs.
type Page interface {
	Navigate(url string) error

	// WaitVisible waits for selector, returning ErrWaitTimeout when it does
	// not appear in time.
	WaitVisible(selector string, timeout time.Duration) error

	Click(selector string) error
	Type(selector, text string) error

	// ClickButton clicks the first button whose trimmed text equals label.
	ClickButton(label string, timeout time.Duration) error

	// TextStartingWith returns the text of the first div whose trimmed text
	// starts with prefix.
	TextStartingWith(prefix string, timeout time.Duration) (string, error)

	LoadCookies(path string) error
	SaveCookies(path string) error

	Close() error
}
