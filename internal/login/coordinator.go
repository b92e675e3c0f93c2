// Package login coordinates the portal login lifecycle between the browser
// flow and the out-of-band submission of a one-time SMS code.
//
// One Coordinator is owned per process and injected into both the observer,
// which drives the login and blocks in AwaitCode, and the HTTP handlers, which
// call SubmitCode and Status. A single attempt may be in flight at a time.
package login

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is the state of the current login attempt.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusAwaitingCode Status = "awaiting-code"
	StatusResolved     Status = "resolved"
	StatusError        Status = "error"
)

// DefaultCodeTimeout bounds how long AwaitCode waits for a submission.
const DefaultCodeTimeout = 60 * time.Second

var (
	// ErrCodeTimeout is returned by AwaitCode when no code arrives in time.
	ErrCodeTimeout = errors.New("2FA code timeout")

	// ErrAttemptInProgress is returned by Begin while another attempt runs.
	ErrAttemptInProgress = errors.New("login attempt already in progress")

	// ErrAlreadyWaiting is returned when a second caller tries to wait for a
	// code during the same attempt.
	ErrAlreadyWaiting = errors.New("already awaiting a 2FA code")
)

// Session is a point-in-time snapshot of the coordinator.
type Session struct {
	Status Status   `json:"status"`
	Error  *string  `json:"error"`
	Value  *float64 `json:"value"`
}

// Coordinator is the process-wide login state machine.
type Coordinator struct {
	mu          sync.Mutex
	status      Status
	errMsg      string
	value       *float64
	pendingCode string
	active      bool
	waiting     bool

	// wake carries at most one pending notification; senders never block.
	wake chan struct{}
}

// NewCoordinator returns an idle coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		status: StatusIdle,
		wake:   make(chan struct{}, 1),
	}
}

// Begin resets the session to idle for a new attempt.
func (c *Coordinator) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return ErrAttemptInProgress
	}
	c.active = true
	c.status = StatusIdle
	c.errMsg = ""
	c.value = nil
	c.pendingCode = ""
	c.waiting = false
	c.drain()
	return nil
}

// SubmitCode records a one-time code and returns the status to idle. The
// waiter detects the code itself, so the status change is informational. A
// second submission before the first is consumed replaces it.
func (c *Coordinator) SubmitCode(code string) {
	c.mu.Lock()
	c.pendingCode = code
	c.status = StatusIdle
	c.mu.Unlock()

	c.notify()
}

// Status returns a snapshot of the session.
func (c *Coordinator) Status() Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Session{Status: c.status}
	if c.status == StatusError {
		msg := c.errMsg
		s.Error = &msg
	}
	if c.value != nil {
		v := *c.value
		s.Value = &v
	}
	return s
}

// Active reports whether an attempt is in flight.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// AwaitCode marks the session as awaiting a code and blocks until one is
// submitted, the attempt fails, timeout elapses or ctx is done. The returned
// code is consumed. A non-positive timeout uses DefaultCodeTimeout.
func (c *Coordinator) AwaitCode(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultCodeTimeout
	}

	c.mu.Lock()
	if c.waiting {
		c.mu.Unlock()
		return "", ErrAlreadyWaiting
	}
	c.waiting = true
	c.status = StatusAwaitingCode
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.waiting = false
		c.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if code, done, err := c.check(); done {
			return code, err
		}

		select {
		case <-c.wake:
		case <-timer.C:
			return "", ErrCodeTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// check inspects the session for a code or a failure.
func (c *Coordinator) check() (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusError {
		return "", true, errors.New(c.errMsg)
	}
	if c.pendingCode != "" {
		code := c.pendingCode
		c.pendingCode = ""
		return code, true, nil
	}
	return "", false, nil
}

// Resolve ends the attempt successfully with the observed value.
func (c *Coordinator) Resolve(value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := value
	c.status = StatusResolved
	c.value = &v
	c.errMsg = ""
	c.active = false
}

// Fail ends the attempt with err and wakes any waiter.
func (c *Coordinator) Fail(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	c.mu.Lock()
	c.status = StatusError
	c.errMsg = msg
	c.value = nil
	c.active = false
	c.mu.Unlock()

	c.notify()
}

func (c *Coordinator) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// drain discards a stale notification. Callers hold mu.
func (c *Coordinator) drain() {
	select {
	case <-c.wake:
	default:
	}
}
