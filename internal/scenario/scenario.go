// Package scenario drives tables of input rows through a browser and turns
// each attempt into a verdict.
package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/gatecheck/internal/config"
	"github.com/xkilldash9x/gatecheck/internal/outcome"
)

// Row is one line of a scenario table. Rows are not modified once loaded.
type Row struct {
	Label  string            `yaml:"label" json:"label"`
	Inputs map[string]string `yaml:"inputs" json:"inputs"`
	Expect outcome.Outcome   `yaml:"expect" json:"expect"`
}

// Verdict is the result of driving one row.
type Verdict struct {
	Row         Row
	Actual      outcome.Outcome
	Passed      bool
	ArtifactRef string
	// Err is set when the row could not be classified, e.g. a step failed or
	// the outcome was indeterminate.
	Err      error
	Duration time.Duration
}

// Report aggregates the verdicts of one run.
type Report struct {
	RunID      uuid.UUID
	Plan       string
	StartedAt  time.Time
	FinishedAt time.Time
	Rows       int
	Verdicts   []Verdict
	Passed     int
	Failed     int

	// Truncated is set when a fatal error stopped the run early. TruncatedAt
	// is the index of the row that was being attempted and has no verdict.
	Truncated   bool
	TruncatedAt int
	Cause       error
}

func (r *Report) add(v Verdict) {
	r.Verdicts = append(r.Verdicts, v)
	if v.Passed {
		r.Passed++
	} else {
		r.Failed++
	}
}

// OK reports whether every row ran and passed.
func (r *Report) OK() bool { return !r.Truncated && r.Failed == 0 && len(r.Verdicts) == r.Rows }

// Summary renders a one-line account of the run.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d passed, %d failed of %d rows", r.Plan, r.Passed, r.Failed, r.Rows)
	if r.Truncated {
		fmt.Fprintf(&b, "; truncated at row %d", r.TruncatedAt+1)
		if r.Cause != nil {
			fmt.Fprintf(&b, ": %v", r.Cause)
		}
	}
	return b.String()
}

// TruncatedError is returned by Runner.Run when a fatal error stopped the
// run before every row was attempted.
type TruncatedError struct {
	At    int
	Label string
	Cause error
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("run truncated at row %d (%s): %v", e.At+1, e.Label, e.Cause)
}

func (e *TruncatedError) Unwrap() error { return e.Cause }

// IsTruncated reports whether err stopped a run early.
func IsTruncated(err error) bool {
	var te *TruncatedError
	return errors.As(err, &te)
}

// Plan is the interaction sequence every row is driven through.
type Plan struct {
	Name     string `yaml:"name"`
	StartURL string `yaml:"start_url"`
	// Reset overrides the configured reset mode when set.
	Reset   string          `yaml:"reset,omitempty"`
	Signals outcome.Signals `yaml:"signals"`
	Steps   []Step          `yaml:"steps"`
	// Cleanup runs after each row in navigate mode, typically a logout, so
	// the next row starts unauthenticated.
	Cleanup []Step `yaml:"cleanup,omitempty"`
}

// Validate checks the plan without reference to any rows.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return errors.New("plan has no name")
	}
	if p.StartURL == "" {
		return fmt.Errorf("plan %s has no start_url", p.Name)
	}
	switch p.Reset {
	case "", config.ResetNavigate, config.ResetFreshSession:
	default:
		return fmt.Errorf("plan %s: unknown reset mode %q", p.Name, p.Reset)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %s has no steps", p.Name)
	}
	if err := p.Signals.Validate(); err != nil {
		return fmt.Errorf("plan %s: %w", p.Name, err)
	}
	for i, st := range p.Steps {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("plan %s: step %d: %w", p.Name, i+1, err)
		}
	}
	for i, st := range p.Cleanup {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("plan %s: cleanup step %d: %w", p.Name, i+1, err)
		}
	}
	return nil
}

// Inputs returns the row inputs the plan's fill steps consume.
func (p *Plan) Inputs() []string {
	var names []string
	for _, st := range p.Steps {
		for _, f := range st.Fields {
			names = append(names, f.Input)
		}
	}
	return names
}
