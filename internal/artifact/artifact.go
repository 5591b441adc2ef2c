// Package artifact captures and stores diagnostic screenshots for scenario
// rows that did not behave as expected.
package artifact

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatecheck/internal/browser"
)

// Store persists captured images.
type Store interface {
	// Save stores data for the scenario label captured at t and returns a
	// reference a human can follow, such as a file path.
	Save(ctx context.Context, label string, t time.Time, data []byte) (string, error)
}

// Capturer takes screenshots and hands them to a Store. Capture failures
// are logged and never fail the row they were taken for.
type Capturer struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewCapturer creates a capturer. A nil now means time.Now.
func NewCapturer(store Store, now func() time.Time, logger *zap.Logger) *Capturer {
	if now == nil {
		now = time.Now
	}
	return &Capturer{store: store, now: now, logger: logger.Named("artifact")}
}

// Capture screenshots the active window of s for label. It returns the
// artifact reference, or "" when nothing could be captured.
func (c *Capturer) Capture(ctx context.Context, s browser.Session, label string) string {
	if c == nil || c.store == nil {
		return ""
	}
	log := c.logger.With(zap.String("label", label))

	data, err := s.CaptureScreenshot(ctx)
	if err != nil {
		log.Warn("Failed to capture screenshot.", zap.Error(err))
		return ""
	}

	// A store may return a reference together with an error when the image
	// was written but its bookkeeping was not.
	ref, err := c.store.Save(ctx, label, c.now(), data)
	if err != nil {
		log.Warn("Failed to save screenshot.", zap.Error(err), zap.String("ref", ref))
		return ref
	}

	log.Info("Screenshot saved.", zap.String("ref", ref))
	return ref
}
