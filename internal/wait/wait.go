// Package wait implements explicit polling waits: a condition is checked
// immediately and then at a fixed interval until it is satisfied or its
// timeout elapses.
package wait

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatecheck/internal/browser"
)

var (
	// ErrTimedOut matches every *TimeoutError.
	ErrTimedOut = errors.New("wait timed out")
	// ErrWaitInProgress is returned when a Waiter is asked to start a second
	// wait while one is still outstanding.
	ErrWaitInProgress = errors.New("another wait is already in progress on this session")
	// ErrInvalidCondition is returned for a condition whose timing is unusable.
	ErrInvalidCondition = errors.New("invalid wait condition")
)

// TimeoutError reports a condition that never became true. It is a
// recoverable signal, not a fault.
type TimeoutError struct {
	Description string
	Elapsed     time.Duration
	// Last is the most recent transient error returned by the check, if any.
	Last error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s", e.Elapsed, e.Description)
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimedOut }
func (e *TimeoutError) Unwrap() error        { return e.Last }

// IsTimeout reports whether err is, or wraps, a wait timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimedOut) }

// IsFatal reports whether err can never resolve by polling again.
func IsFatal(err error) bool {
	return errors.Is(err, browser.ErrSessionLost) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Clock is the time source used by waits.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Timing is a timeout and poll interval pair.
type Timing struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Validate enforces timeout >= interval > 0.
func (t Timing) Validate() error {
	if t.Interval <= 0 {
		return fmt.Errorf("%w: interval %s must be positive", ErrInvalidCondition, t.Interval)
	}
	if t.Timeout < t.Interval {
		return fmt.Errorf("%w: timeout %s is shorter than interval %s", ErrInvalidCondition, t.Timeout, t.Interval)
	}
	return nil
}

// Condition is something worth waiting for. Check returns ok=true once the
// condition holds, along with the value that satisfied it. An error from
// Check counts as "not yet" unless IsFatal says otherwise.
type Condition[T any] struct {
	Description string
	Timing
	Check func(ctx context.Context) (T, bool, error)
}

// Waiter runs waits for one browser session, one at a time.
type Waiter struct {
	clock  Clock
	logger *zap.Logger
	busy   atomic.Bool
}

// NewWaiter creates a Waiter. A nil clock means SystemClock.
func NewWaiter(clock Clock, logger *zap.Logger) *Waiter {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{clock: clock, logger: logger.Named("wait")}
}

// Clock returns the time source of the waiter.
func (w *Waiter) Clock() Clock { return w.clock }

// Until polls c until it holds, its timeout elapses or a fatal error occurs.
// The check runs once immediately and then every interval; the last sleep is
// shortened so a final check happens exactly at the timeout.
func Until[T any](ctx context.Context, w *Waiter, c Condition[T]) (T, error) {
	var zero T
	if c.Check == nil {
		return zero, fmt.Errorf("%w: %q has no check", ErrInvalidCondition, c.Description)
	}
	if err := c.Timing.Validate(); err != nil {
		return zero, fmt.Errorf("waiting for %s: %w", c.Description, err)
	}
	if !w.busy.CompareAndSwap(false, true) {
		return zero, ErrWaitInProgress
	}
	defer w.busy.Store(false)

	start := w.clock.Now()
	var last error
	for polls := 1; ; polls++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, ok, err := c.Check(ctx)
		switch {
		case err != nil && IsFatal(err):
			return zero, err
		case err != nil:
			last = err
		case ok:
			w.logger.Debug("Condition satisfied.",
				zap.String("condition", c.Description),
				zap.Int("polls", polls),
				zap.Duration("elapsed", w.clock.Now().Sub(start)))
			return v, nil
		}

		elapsed := w.clock.Now().Sub(start)
		remaining := c.Timeout - elapsed
		if remaining <= 0 {
			return zero, &TimeoutError{Description: c.Description, Elapsed: elapsed, Last: last}
		}
		if err := w.clock.Sleep(ctx, min(c.Interval, remaining)); err != nil {
			return zero, err
		}
	}
}

// ElementPresent waits for loc to resolve to an element.
func ElementPresent(s browser.Session, loc browser.Locator, t Timing) Condition[browser.ElementRef] {
	return Condition[browser.ElementRef]{
		Description: "element " + loc.String() + " to be present",
		Timing:      t,
		Check: func(ctx context.Context) (browser.ElementRef, bool, error) {
			el, err := s.FindElement(ctx, loc)
			if errors.Is(err, browser.ErrNotFound) {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, err
			}
			return el, true, nil
		},
	}
}

// URLContains waits for the current URL to contain fragment.
func URLContains(s browser.Session, fragment string, t Timing) Condition[string] {
	return Condition[string]{
		Description: fmt.Sprintf("URL to contain %q", fragment),
		Timing:      t,
		Check: func(ctx context.Context) (string, bool, error) {
			u, err := s.CurrentURL(ctx)
			if err != nil {
				return "", false, err
			}
			return u, strings.Contains(u, fragment), nil
		},
	}
}

// Present reports whether cond holds within its timeout. A timeout is
// reported as false; any other error is returned.
func Present[T any](ctx context.Context, w *Waiter, cond Condition[T]) (bool, error) {
	_, err := Until(ctx, w, cond)
	if IsTimeout(err) {
		return false, nil
	}
	return err == nil, err
}
