package outcome

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatecheck/internal/browser"
	"github.com/xkilldash9x/gatecheck/internal/wait"
)

// ErrIndeterminate matches every *IndeterminateError.
var ErrIndeterminate = errors.New("outcome could not be determined")

// IndeterminateError is returned when none of the signals showed up. It is
// never turned into a failure outcome by the classifier.
type IndeterminateError struct {
	URL string
}

func (e *IndeterminateError) Error() string {
	if e.URL == "" {
		return ErrIndeterminate.Error()
	}
	return fmt.Sprintf("%s at %s", ErrIndeterminate, e.URL)
}

func (e *IndeterminateError) Is(target error) bool { return target == ErrIndeterminate }

// Signals are the page observations the classifier looks for. They are
// application specific and come from the scenario table.
type Signals struct {
	// SuccessURL must be contained in the current URL after a successful attempt.
	SuccessURL string `yaml:"success_url"`
	// SuccessLocator, when set, must also be present for success.
	SuccessLocator browser.Locator `yaml:"success_locator"`
	// FieldError is any field-level validation indicator.
	FieldError browser.Locator `yaml:"field_error"`
	// Fields maps field names to the locator of that field's error message.
	Fields map[string]browser.Locator `yaml:"fields"`
	// Banner is the general error banner shown for rejected credentials.
	Banner browser.Locator `yaml:"banner"`
}

// Validate checks that a success signal exists and every locator is usable.
func (s Signals) Validate() error {
	if s.SuccessURL == "" && s.SuccessLocator.IsZero() {
		return errors.New("signals need a success_url or a success_locator")
	}
	named := map[string]browser.Locator{
		"success_locator": s.SuccessLocator,
		"field_error":     s.FieldError,
		"banner":          s.Banner,
	}
	for name, loc := range s.Fields {
		named["fields."+name] = loc
	}
	for name, loc := range named {
		if loc.IsZero() {
			continue
		}
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("signal %s: %w", name, err)
		}
	}
	if len(s.Fields) > 0 && s.FieldError.IsZero() {
		return errors.New("signals list per-field locators but no field_error indicator")
	}
	return nil
}

// Classifier reads the outcome of an attempt off the page.
type Classifier struct {
	signals Signals
	timing  wait.Timing
	logger  *zap.Logger
}

// NewClassifier creates a classifier. timing bounds every individual signal
// check and should be well below the step timeout.
func NewClassifier(signals Signals, timing wait.Timing, logger *zap.Logger) (*Classifier, error) {
	if err := signals.Validate(); err != nil {
		return nil, err
	}
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{signals: signals, timing: timing, logger: logger.Named("classifier")}, nil
}

// Classify checks, in order, for success, field validation errors and the
// credential banner, and returns the first that is present. If none is, it
// returns an *IndeterminateError.
func (c *Classifier) Classify(ctx context.Context, s browser.Session, w *wait.Waiter) (Outcome, error) {
	ok, err := c.succeeded(ctx, s, w)
	if err != nil {
		return Outcome{}, err
	}
	if ok {
		return Succeeded(), nil
	}

	if !c.signals.FieldError.IsZero() {
		ok, err := wait.Present(ctx, w, wait.ElementPresent(s, c.signals.FieldError, c.timing))
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			fields, err := c.erroredFields(ctx, s)
			if err != nil {
				return Outcome{}, err
			}
			return Validation(fields...), nil
		}
	}

	if !c.signals.Banner.IsZero() {
		ok, err := wait.Present(ctx, w, wait.ElementPresent(s, c.signals.Banner, c.timing))
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return Credential(), nil
		}
	}

	u, err := s.CurrentURL(ctx)
	if err != nil && wait.IsFatal(err) {
		return Outcome{}, err
	}
	c.logger.Debug("No outcome signal present.", zap.String("url", u))
	return Outcome{}, &IndeterminateError{URL: u}
}

func (c *Classifier) succeeded(ctx context.Context, s browser.Session, w *wait.Waiter) (bool, error) {
	if c.signals.SuccessURL != "" {
		ok, err := wait.Present(ctx, w, wait.URLContains(s, c.signals.SuccessURL, c.timing))
		if err != nil || !ok {
			return false, err
		}
	}
	if c.signals.SuccessLocator.IsZero() {
		return true, nil
	}
	return wait.Present(ctx, w, wait.ElementPresent(s, c.signals.SuccessLocator, c.timing))
}

// erroredFields probes each per-field locator once. The indicator is
// already on the page, so the messages are expected to be there too.
func (c *Classifier) erroredFields(ctx context.Context, s browser.Session) ([]string, error) {
	names := make([]string, 0, len(c.signals.Fields))
	for name := range c.signals.Fields {
		names = append(names, name)
	}
	slices.Sort(names)

	var fields []string
	for _, name := range names {
		els, err := s.FindElements(ctx, c.signals.Fields[name])
		if err != nil {
			if wait.IsFatal(err) {
				return nil, err
			}
			c.logger.Debug("Field check failed.", zap.String("field", name), zap.Error(err))
			continue
		}
		if len(els) > 0 {
			fields = append(fields, name)
		}
	}
	return fields, nil
}
