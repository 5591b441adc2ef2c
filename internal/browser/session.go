// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned by FindElement when no element matches the locator.
	ErrNotFound = errors.New("element not found")
	// ErrSessionLost means the browser behind a Session is gone and every
	// further call on it will fail. Callers must not retry it.
	ErrSessionLost = errors.New("browser session lost")
	// ErrNoSuchWindow is returned when a window handle does not name an open context.
	ErrNoSuchWindow = errors.New("no such window")
	// ErrForeignElement is returned when an ElementRef from another driver is passed in.
	ErrForeignElement = errors.New("element reference does not belong to this session")
)

// quitTimeout bounds how long WithSession waits for a browser to shut down.
const quitTimeout = 15 * time.Second

// WindowHandle is an opaque identifier for one browsing context (window or tab).
type WindowHandle string

// ElementRef is an opaque reference to a DOM element, only meaningful to the
// Session that returned it.
type ElementRef interface {
	// Locator reports the locator the element was resolved from.
	Locator() Locator
}

// Session is the capability the engine needs from one controllable browser
// instance. Implementations are not safe for concurrent use; a Session is
// owned by exactly one scenario run.
type Session interface {
	Navigate(ctx context.Context, url string) error
	FindElement(ctx context.Context, loc Locator) (ElementRef, error)
	// FindElements returns an empty slice, not an error, when nothing matches.
	FindElements(ctx context.Context, loc Locator) ([]ElementRef, error)
	Type(ctx context.Context, el ElementRef, text string) error
	Click(ctx context.Context, el ElementRef) error
	CurrentURL(ctx context.Context) (string, error)
	CurrentTitle(ctx context.Context) (string, error)
	WindowHandles(ctx context.Context) ([]WindowHandle, error)
	SwitchToWindow(ctx context.Context, h WindowHandle) error
	CloseCurrentWindow(ctx context.Context) error
	// ExecuteScript evaluates src in the active window. res may be nil.
	ExecuteScript(ctx context.Context, src string, res any) error
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	Quit(ctx context.Context) error
}

// Launcher starts new browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// WithSession launches a session, hands it to fn and quits it afterwards on
// every exit path, panics included. A quit failure is reported only when fn
// itself succeeded and the session was not already lost.
func WithSession(ctx context.Context, l Launcher, logger *zap.Logger, fn func(Session) error) (err error) {
	s, err := l.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch browser session: %w", err)
	}

	defer func() {
		// The caller's context may already be cancelled; shutdown must still happen.
		quitCtx, cancel := context.WithTimeout(Detach(ctx), quitTimeout)
		defer cancel()

		if qerr := s.Quit(quitCtx); qerr != nil {
			logger.Warn("Browser session did not quit cleanly.", zap.Error(qerr))
			if err == nil && !errors.Is(qerr, ErrSessionLost) {
				err = fmt.Errorf("failed to quit browser session: %w", qerr)
			}
		}
	}()

	return fn(s)
}

// IsSessionLost reports whether err means the session can no longer be used.
func IsSessionLost(err error) bool {
	return errors.Is(err, ErrSessionLost)
}
