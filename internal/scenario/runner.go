// File: internal/scenario/runner.go
// Description: Drives every row of a table through a plan, one browser
// session at a time, and collects the verdicts into a report.

package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/gatecheck/internal/artifact"
	"github.com/xkilldash9x/gatecheck/internal/browser"
	"github.com/xkilldash9x/gatecheck/internal/config"
	"github.com/xkilldash9x/gatecheck/internal/outcome"
	"github.com/xkilldash9x/gatecheck/internal/wait"
	"github.com/xkilldash9x/gatecheck/internal/windows"
)

// Options tune a Runner.
type Options struct {
	// Reset is config.ResetNavigate or config.ResetFreshSession. A plan's own
	// reset mode takes precedence.
	Reset string
	// StepTiming bounds every wait a step performs.
	StepTiming wait.Timing
	// SignalTiming bounds each outcome signal check.
	SignalTiming wait.Timing
	// ActionTimeout bounds each browser action, such as a page load or a
	// click. Zero means StepTiming.Timeout.
	ActionTimeout time.Duration
	// DownloadDir is where wait_download looks for files.
	DownloadDir string
	// Limiter, when set, paces row starts.
	Limiter *rate.Limiter
}

func (o Options) actionTimeout() time.Duration {
	if o.ActionTimeout > 0 {
		return o.ActionTimeout
	}
	return o.StepTiming.Timeout
}

// OptionsFromConfig derives runner options from the loaded configuration.
func OptionsFromConfig(cfg config.Interface) Options {
	w := cfg.Wait()
	opts := Options{
		Reset:         cfg.Runner().ResetMode,
		StepTiming:    wait.Timing{Timeout: w.StepTimeout, Interval: w.PollInterval},
		SignalTiming:  wait.Timing{Timeout: w.SignalTimeout, Interval: w.PollInterval},
		ActionTimeout: w.ActionTimeout,
		DownloadDir:   cfg.Browser().DownloadDir,
	}
	if rps := cfg.Runner().RowsPerSecond; rps > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return opts
}

// Runner executes scenario tables. A Runner holds no per-run state and can
// be reused, but runs must not overlap.
type Runner struct {
	launcher browser.Launcher
	capturer *artifact.Capturer
	clock    wait.Clock
	opts     Options
	logger   *zap.Logger
}

// NewRunner creates a runner. capturer may be nil to disable screenshots; a
// nil clock means wall time.
func NewRunner(launcher browser.Launcher, capturer *artifact.Capturer, clock wait.Clock, opts Options, logger *zap.Logger) *Runner {
	if clock == nil {
		clock = wait.SystemClock{}
	}
	return &Runner{
		launcher: launcher,
		capturer: capturer,
		clock:    clock,
		opts:     opts,
		logger:   logger.Named("runner"),
	}
}

// run is the state of one Run call.
type run struct {
	*Runner
	plan       *Plan
	classifier *outcome.Classifier
	report     *Report
	logger     *zap.Logger
}

// sessionState is everything bound to one live browser session.
type sessionState struct {
	session browser.Session
	waiter  *wait.Waiter
	windows *windows.Registry
	fresh   bool
}

// Run drives rows through plan in order. Every row gets a verdict unless a
// fatal error, such as losing the browser, stops the run; the report then
// holds the verdicts produced so far and Run returns a *TruncatedError.
func (r *Runner) Run(ctx context.Context, rows []Row, plan *Plan) (*Report, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if err := r.opts.StepTiming.Validate(); err != nil {
		return nil, fmt.Errorf("step timing: %w", err)
	}
	classifier, err := outcome.NewClassifier(plan.Signals, r.opts.SignalTiming, r.logger)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", plan.Name, err)
	}

	mode := plan.Reset
	if mode == "" {
		mode = r.opts.Reset
	}

	report := &Report{
		RunID:     uuid.New(),
		Plan:      plan.Name,
		StartedAt: r.clock.Now(),
		Rows:      len(rows),
	}
	ru := &run{
		Runner:     r,
		plan:       plan,
		classifier: classifier,
		report:     report,
		logger:     r.logger.With(zap.String("run_id", report.RunID.String()), zap.String("plan", plan.Name)),
	}
	ru.logger.Info("Starting scenario run.", zap.Int("rows", len(rows)), zap.String("reset", mode))

	switch mode {
	case config.ResetFreshSession:
		err = ru.inFreshSessions(ctx, rows)
	case config.ResetNavigate, "":
		err = ru.inOneSession(ctx, rows)
	default:
		err = fmt.Errorf("unknown reset mode %q", mode)
	}
	report.FinishedAt = r.clock.Now()

	ru.logger.Info("Scenario run finished.",
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
		zap.Bool("truncated", report.Truncated),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	return report, err
}

func (ru *run) inOneSession(ctx context.Context, rows []Row) error {
	next := 0
	err := browser.WithSession(ctx, ru.launcher, ru.logger, func(s browser.Session) error {
		st := ru.newSessionState(s, false)
		if err := st.windows.Initialize(ctx, s); err != nil {
			return err
		}
		for i, row := range rows {
			next = i
			if err := ru.pace(ctx); err != nil {
				return err
			}
			v, err := ru.attempt(ctx, st, row)
			if err != nil {
				return err
			}
			ru.report.add(v)

			next = i + 1
			if err := ru.cleanup(ctx, st); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if next < len(rows) {
		return ru.truncate(next, rows[next].Label, err)
	}
	ru.logger.Warn("Browser session failed after the last row.", zap.Error(err))
	return fmt.Errorf("browser session failed after the last row: %w", err)
}

func (ru *run) inFreshSessions(ctx context.Context, rows []Row) error {
	for i, row := range rows {
		if err := ru.pace(ctx); err != nil {
			return ru.truncate(i, row.Label, err)
		}

		var (
			v    Verdict
			done bool
		)
		err := browser.WithSession(ctx, ru.launcher, ru.logger, func(s browser.Session) error {
			var err error
			v, err = ru.attempt(ctx, ru.newSessionState(s, true), row)
			if err != nil {
				return err
			}
			done = true
			return nil
		})
		if !done {
			return ru.truncate(i, row.Label, err)
		}
		ru.report.add(v)
		if err != nil {
			// The verdict stands; WithSession already logged the shutdown failure.
			ru.logger.Debug("Continuing after session shutdown error.", zap.String("label", row.Label))
		}
	}
	return nil
}

func (ru *run) newSessionState(s browser.Session, fresh bool) *sessionState {
	return &sessionState{
		session: s,
		waiter:  wait.NewWaiter(ru.clock, ru.logger),
		windows: windows.New(ru.opts.StepTiming, ru.logger),
		fresh:   fresh,
	}
}

func (ru *run) pace(ctx context.Context) error {
	if ru.opts.Limiter == nil {
		return nil
	}
	return ru.opts.Limiter.Wait(ctx)
}

// attempt drives one row to a verdict. Only fatal errors are returned;
// anything else ends up in Verdict.Err.
func (ru *run) attempt(ctx context.Context, st *sessionState, row Row) (Verdict, error) {
	start := ru.clock.Now()
	log := ru.logger.With(zap.String("label", row.Label))
	v := Verdict{Row: row}

	err := ru.drive(ctx, st, row, log)
	if err == nil {
		v.Actual, err = ru.classifier.Classify(ctx, st.session, st.waiter)
	}
	if err != nil && wait.IsFatal(err) {
		return Verdict{}, err
	}
	v.Err = err
	v.Passed = err == nil && row.Expect.Matches(v.Actual)
	v.Duration = ru.clock.Now().Sub(start)

	if v.Passed {
		log.Info("Row passed.", zap.Stringer("outcome", v.Actual), zap.Duration("duration", v.Duration))
		return v, nil
	}

	v.ArtifactRef = ru.capturer.Capture(ctx, st.session, row.Label)
	fields := []zap.Field{
		zap.Stringer("expected", row.Expect),
		zap.Stringer("actual", v.Actual),
		zap.Duration("duration", v.Duration),
	}
	if v.Err != nil {
		fields = append(fields, zap.Error(v.Err))
	}
	if v.ArtifactRef != "" {
		fields = append(fields, zap.String("artifact", v.ArtifactRef))
	}
	log.Warn("Row failed.", fields...)
	return v, nil
}

// drive puts the session into the plan's starting state and runs its steps.
func (ru *run) drive(ctx context.Context, st *sessionState, row Row, log *zap.Logger) error {
	e := ru.env(st, row, log)
	if st.fresh {
		if err := st.windows.Initialize(ctx, st.session); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	} else if err := st.windows.CloseOthers(ctx, st.waiter, st.session); err != nil {
		if errors.Is(err, windows.ErrOriginalGone) {
			// Navigate mode has nowhere left to reset to.
			return fmt.Errorf("reset: %w: %w", browser.ErrSessionLost, err)
		}
		return fmt.Errorf("reset: %w", err)
	}
	err := e.act(ctx, "load "+ru.plan.StartURL, func(ctx context.Context) error {
		return st.session.Navigate(ctx, ru.plan.StartURL)
	})
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if e.downloadDir != "" {
		if e.downloads, err = snapshotDownloads(e.downloadDir); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	for i, step := range ru.plan.Steps {
		log.Debug("Running step.", zap.Int("step", i+1), zap.Stringer("action", step))
		if err := step.run(ctx, e); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step, err)
		}
	}
	return nil
}

// cleanup runs the plan's cleanup steps in navigate mode. Only fatal errors
// are returned; the next row's reset deals with whatever state is left.
func (ru *run) cleanup(ctx context.Context, st *sessionState) error {
	if len(ru.plan.Cleanup) == 0 {
		return nil
	}
	e := ru.env(st, Row{}, ru.logger)
	for i, step := range ru.plan.Cleanup {
		if err := step.run(ctx, e); err != nil {
			if wait.IsFatal(err) {
				return err
			}
			ru.logger.Warn("Cleanup step failed.", zap.Int("step", i+1), zap.Stringer("action", step), zap.Error(err))
			return nil
		}
	}
	return nil
}

func (ru *run) env(st *sessionState, row Row, log *zap.Logger) *env {
	return &env{
		session:       st.session,
		waiter:        st.waiter,
		windows:       st.windows,
		timing:        ru.opts.StepTiming,
		startURL:      ru.plan.StartURL,
		row:           row,
		logger:        log,
		actionTimeout: ru.opts.actionTimeout(),
		downloadDir:   ru.opts.DownloadDir,
	}
}

func (ru *run) truncate(at int, label string, cause error) error {
	ru.report.Truncated = true
	ru.report.TruncatedAt = at
	ru.report.Cause = cause
	ru.logger.Error("Run truncated.",
		zap.Int("row", at+1),
		zap.String("label", label),
		zap.Bool("session_lost", errors.Is(cause, browser.ErrSessionLost)),
		zap.Error(cause))
	return &TruncatedError{At: at, Label: label, Cause: cause}
}
