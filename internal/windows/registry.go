// Package windows tracks the browser windows a scenario opens so that steps
// can move between them and always find their way back.
package windows

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatecheck/internal/browser"
	"github.com/xkilldash9x/gatecheck/internal/wait"
)

var (
	// ErrNoWindow is returned by Initialize when the session reports no window at all.
	ErrNoWindow = errors.New("session has no open window")
	// ErrWindowNotOpened means no new window appeared before the wait timed out.
	ErrWindowNotOpened = errors.New("expected a new window to open")
	// ErrUnknownHandle is returned for a handle the registry never learned about.
	ErrUnknownHandle = errors.New("unknown window handle")
	// ErrCannotCloseLastWindow is returned when closing would leave no window.
	ErrCannotCloseLastWindow = errors.New("cannot close the last known window")
	// ErrInvalidReturnTarget is returned when the handle to return to is the
	// window being closed.
	ErrInvalidReturnTarget = errors.New("cannot return to the window being closed")
	// ErrCloseNotConfirmed means the session still reports a window after closing it.
	ErrCloseNotConfirmed = errors.New("window did not close")
	// ErrActiveWindowGone is returned by Reconcile when the active window vanished.
	ErrActiveWindowGone = errors.New("active window is no longer open")
	// ErrOriginalGone means the window the session started with was closed.
	// Nothing can be returned to after that.
	ErrOriginalGone = errors.New("original window is no longer open")
	// ErrNotInitialized is returned by every operation before Initialize.
	ErrNotInitialized = errors.New("window registry not initialized")
)

// Registry is the engine's view of the windows of one session. The active
// handle is always a known handle and the original handle never changes
// once set.
type Registry struct {
	logger *zap.Logger
	timing wait.Timing

	original browser.WindowHandle
	active   browser.WindowHandle
	known    map[browser.WindowHandle]struct{}
}

// New creates an empty registry. timing bounds DiscoverNew and the close
// confirmation in CloseActiveAndReturnTo.
func New(timing wait.Timing, logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("windows"),
		timing: timing,
		known:  make(map[browser.WindowHandle]struct{}),
	}
}

// Initialize records the window the session starts with as both original
// and active. A registry can be initialized once.
func (r *Registry) Initialize(ctx context.Context, s browser.Session) error {
	if r.original != "" {
		return fmt.Errorf("window registry already initialized with %s", r.original)
	}
	handles, err := s.WindowHandles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}
	if len(handles) == 0 {
		return ErrNoWindow
	}
	if len(handles) > 1 {
		r.logger.Warn("Session started with several windows; the first one is the original.",
			zap.Int("count", len(handles)))
	}

	r.original = handles[0]
	r.active = handles[0]
	r.known[handles[0]] = struct{}{}
	return nil
}

// Original returns the handle recorded by Initialize.
func (r *Registry) Original() browser.WindowHandle { return r.original }

// Active returns the handle the session is currently switched to. It is
// empty only after the active window was lost (see Reconcile) or a return
// switch failed; SwitchTo restores it.
func (r *Registry) Active() browser.WindowHandle { return r.active }

// Known returns the known handles, sorted.
func (r *Registry) Known() []browser.WindowHandle {
	hs := make([]browser.WindowHandle, 0, len(r.known))
	for h := range r.known {
		hs = append(hs, h)
	}
	slices.Sort(hs)
	return hs
}

// Count returns the number of known handles.
func (r *Registry) Count() int { return len(r.known) }

func (r *Registry) isKnown(h browser.WindowHandle) bool {
	_, ok := r.known[h]
	return ok
}

// DiscoverNew waits until the session reports more than previousCount
// windows, adds every handle it did not know and returns the first of them
// in the session's enumeration order. It does not switch to it.
func (r *Registry) DiscoverNew(ctx context.Context, w *wait.Waiter, s browser.Session, previousCount int) (browser.WindowHandle, error) {
	if r.original == "" {
		return "", ErrNotInitialized
	}

	fresh, err := wait.Until(ctx, w, wait.Condition[[]browser.WindowHandle]{
		Description: fmt.Sprintf("more than %d windows", previousCount),
		Timing:      r.timing,
		Check: func(ctx context.Context) ([]browser.WindowHandle, bool, error) {
			handles, err := s.WindowHandles(ctx)
			if err != nil {
				return nil, false, err
			}
			if len(handles) <= previousCount {
				return nil, false, nil
			}
			var fresh []browser.WindowHandle
			for _, h := range handles {
				if !r.isKnown(h) {
					fresh = append(fresh, h)
				}
			}
			return fresh, len(fresh) > 0, nil
		},
	})
	if err != nil {
		if wait.IsTimeout(err) {
			return "", fmt.Errorf("%w: %w", ErrWindowNotOpened, err)
		}
		return "", err
	}

	for _, h := range fresh {
		r.known[h] = struct{}{}
	}
	if len(fresh) > 1 {
		r.logger.Warn("Several windows opened at once; all are tracked.", zap.Int("count", len(fresh)))
	}
	r.logger.Debug("New window discovered.", zap.String("handle", string(fresh[0])))
	return fresh[0], nil
}

// SwitchTo makes h the active window.
func (r *Registry) SwitchTo(ctx context.Context, s browser.Session, h browser.WindowHandle) error {
	if r.original == "" {
		return ErrNotInitialized
	}
	if !r.isKnown(h) {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if err := s.SwitchToWindow(ctx, h); err != nil {
		return fmt.Errorf("failed to switch to window %s: %w", h, err)
	}
	r.active = h
	return nil
}

// CloseActiveAndReturnTo closes the active window, waits until the session
// no longer reports it and switches to h.
func (r *Registry) CloseActiveAndReturnTo(ctx context.Context, w *wait.Waiter, s browser.Session, h browser.WindowHandle) error {
	if r.original == "" {
		return ErrNotInitialized
	}
	if len(r.known) <= 1 {
		return ErrCannotCloseLastWindow
	}
	if !r.isKnown(h) {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	closing := r.active
	if h == closing {
		return fmt.Errorf("%w: %s", ErrInvalidReturnTarget, h)
	}

	if err := s.CloseCurrentWindow(ctx); err != nil {
		return fmt.Errorf("failed to close window %s: %w", closing, err)
	}

	_, err := wait.Until(ctx, w, wait.Condition[struct{}]{
		Description: fmt.Sprintf("window %s to close", closing),
		Timing:      r.timing,
		Check: func(ctx context.Context) (struct{}, bool, error) {
			handles, err := s.WindowHandles(ctx)
			if err != nil {
				return struct{}{}, false, err
			}
			return struct{}{}, !slices.Contains(handles, closing), nil
		},
	})
	if err != nil {
		if wait.IsTimeout(err) {
			return fmt.Errorf("%w: %s: %w", ErrCloseNotConfirmed, closing, err)
		}
		return err
	}

	delete(r.known, closing)
	if err := s.SwitchToWindow(ctx, h); err != nil {
		// The closed window is gone either way; the registry must not point at it.
		r.active = ""
		return fmt.Errorf("failed to switch to window %s: %w", h, err)
	}
	r.active = h
	return nil
}

// Reconcile drops known handles the session no longer reports. It returns
// ErrActiveWindowGone if the active window was among them. The original
// handle is never dropped; its disappearance is reported as ErrOriginalGone.
func (r *Registry) Reconcile(ctx context.Context, s browser.Session) error {
	if r.original == "" {
		return ErrNotInitialized
	}
	handles, err := s.WindowHandles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	var activeGone, originalGone bool
	for h := range r.known {
		if slices.Contains(handles, h) {
			continue
		}
		r.logger.Warn("Known window disappeared.", zap.String("handle", string(h)))
		if h == r.active {
			activeGone = true
		}
		if h == r.original {
			originalGone = true
			continue
		}
		delete(r.known, h)
	}
	gone := r.active
	if activeGone {
		r.active = ""
	}
	if originalGone {
		return fmt.Errorf("%w: %s", ErrOriginalGone, r.original)
	}
	if activeGone {
		return fmt.Errorf("%w: %s", ErrActiveWindowGone, gone)
	}
	return nil
}

// CloseOthers closes every known window except the original and leaves the
// original active. Used to reset a session between scenarios.
func (r *Registry) CloseOthers(ctx context.Context, w *wait.Waiter, s browser.Session) error {
	if r.original == "" {
		return ErrNotInitialized
	}
	if err := r.Reconcile(ctx, s); err != nil && !errors.Is(err, ErrActiveWindowGone) {
		return err
	}
	for _, h := range r.Known() {
		if h == r.original {
			continue
		}
		if err := r.SwitchTo(ctx, s, h); err != nil {
			return err
		}
		if err := r.CloseActiveAndReturnTo(ctx, w, s, r.original); err != nil {
			return err
		}
	}
	if r.active != r.original {
		return r.SwitchTo(ctx, s, r.original)
	}
	return nil
}
