// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context that carries the values of primary and is
// cancelled when either primary or op is done. chromedp keeps its target in
// the context values, so primary must be the tab context and op the caller's
// deadline.
func CombineContext(primary, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// detachedContext keeps the values of its parent and drops its deadline and
// cancellation.
type detachedContext struct {
	context.Context
}

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }

// Detach returns a context that outlives ctx while keeping its values. Used
// for cleanup that has to run after the caller gave up.
func Detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}
