package scenario

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatecheck/internal/browser"
	"github.com/xkilldash9x/gatecheck/internal/wait"
	"github.com/xkilldash9x/gatecheck/internal/windows"
)

// StepKind names a built-in step.
type StepKind string

const (
	StepNavigate       StepKind = "navigate"
	StepWaitPresent    StepKind = "wait_present"
	StepWaitURL        StepKind = "wait_url"
	StepFill           StepKind = "fill"
	StepClick          StepKind = "click"
	StepOpenWindow     StepKind = "open_window"
	StepSwitchNew      StepKind = "switch_new"
	StepCloseAndReturn StepKind = "close_and_return"
	StepScript         StepKind = "script"
	StepWaitDownload   StepKind = "wait_download"
)

var (
	// ErrNoNewWindow is returned by switch_new when no open_window step ran
	// earlier in the row.
	ErrNoNewWindow = errors.New("no window was opened in this row")
	// ErrActionTimedOut is returned when one browser action outlives the
	// action timeout. It fails the row, not the run.
	ErrActionTimedOut = errors.New("browser action timed out")
	// ErrNoDownloadDir is returned by wait_download when the runner has no
	// download directory.
	ErrNoDownloadDir = errors.New("no download directory is configured")
)

// Field binds a row input to the element it is typed into.
type Field struct {
	Input  string          `yaml:"input"`
	Target browser.Locator `yaml:"target"`
}

// Step is one action of a plan. Which fields are used depends on Kind.
type Step struct {
	Kind StepKind `yaml:"step"`
	// URL is the destination of navigate and open_window. navigate without
	// a URL goes to the plan's start URL.
	URL string `yaml:"url,omitempty"`
	// Target is the element of wait_present and click.
	Target browser.Locator `yaml:"target,omitempty"`
	// Fragment is what wait_url expects in the current URL.
	Fragment string  `yaml:"fragment,omitempty"`
	Fields   []Field `yaml:"fields,omitempty"`
	Script   string  `yaml:"script,omitempty"`
	// File is the file name pattern wait_download expects, in
	// filepath.Match syntax.
	File string `yaml:"file,omitempty"`
}

// Validate checks that the step carries what its kind needs.
func (st Step) Validate() error {
	switch st.Kind {
	case StepNavigate, StepSwitchNew, StepCloseAndReturn:
		return nil
	case StepWaitPresent, StepClick:
		if st.Target.IsZero() {
			return fmt.Errorf("%s needs a target", st.Kind)
		}
		return st.Target.Validate()
	case StepWaitURL:
		if st.Fragment == "" {
			return fmt.Errorf("%s needs a fragment", st.Kind)
		}
		return nil
	case StepFill:
		if len(st.Fields) == 0 {
			return fmt.Errorf("%s needs fields", st.Kind)
		}
		for _, f := range st.Fields {
			if f.Input == "" {
				return fmt.Errorf("%s field without an input name", st.Kind)
			}
			if err := f.Target.Validate(); err != nil {
				return fmt.Errorf("%s field %s: %w", st.Kind, f.Input, err)
			}
		}
		return nil
	case StepOpenWindow:
		if st.URL == "" {
			return fmt.Errorf("%s needs a url", st.Kind)
		}
		return nil
	case StepScript:
		if st.Script == "" {
			return fmt.Errorf("%s needs a script", st.Kind)
		}
		return nil
	case StepWaitDownload:
		if st.File == "" {
			return fmt.Errorf("%s needs a file pattern", st.Kind)
		}
		if _, err := filepath.Match(st.File, ""); err != nil {
			return fmt.Errorf("%s file %q: %w", st.Kind, st.File, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown step %q", st.Kind)
	}
}

func (st Step) String() string {
	switch st.Kind {
	case StepWaitPresent, StepClick:
		return string(st.Kind) + " " + st.Target.String()
	case StepNavigate, StepOpenWindow:
		if st.URL != "" {
			return string(st.Kind) + " " + st.URL
		}
	case StepWaitURL:
		return string(st.Kind) + " " + st.Fragment
	case StepWaitDownload:
		return string(st.Kind) + " " + st.File
	}
	return string(st.Kind)
}

// env is what steps of one row operate on.
type env struct {
	session  browser.Session
	waiter   *wait.Waiter
	windows  *windows.Registry
	timing   wait.Timing
	startURL string
	row      Row
	logger   *zap.Logger

	actionTimeout time.Duration
	downloadDir   string
	// downloads is the download directory as it was when the row started.
	downloads downloadSnapshot

	// opened is the last window found by open_window in this row.
	opened browser.WindowHandle
}

// act runs one browser action under the action timeout. The action's own
// deadline expiring fails the row; the caller's context ending stays fatal.
func (e *env) act(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	err := fn(actx)
	if err == nil || ctx.Err() != nil || errors.Is(err, browser.ErrSessionLost) {
		return err
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s did not finish within %s", ErrActionTimedOut, what, e.actionTimeout)
	}
	return err
}

func (e *env) element(ctx context.Context, loc browser.Locator) (browser.ElementRef, error) {
	return wait.Until(ctx, e.waiter, wait.ElementPresent(e.session, loc, e.timing))
}

func (st Step) run(ctx context.Context, e *env) error {
	switch st.Kind {
	case StepNavigate:
		u := st.URL
		if u == "" {
			u = e.startURL
		}
		return e.act(ctx, "navigate to "+u, func(ctx context.Context) error {
			return e.session.Navigate(ctx, u)
		})

	case StepWaitPresent:
		_, err := e.element(ctx, st.Target)
		return err

	case StepWaitURL:
		_, err := wait.Until(ctx, e.waiter, wait.URLContains(e.session, st.Fragment, e.timing))
		return err

	case StepFill:
		for _, f := range st.Fields {
			v := e.row.Inputs[f.Input]
			if v == "" {
				// Empty inputs are left untouched so the form's own
				// required-field validation fires on submit.
				e.logger.Debug("Skipping empty input.", zap.String("input", f.Input))
				continue
			}
			el, err := e.element(ctx, f.Target)
			if err != nil {
				return fmt.Errorf("input %s: %w", f.Input, err)
			}
			err = e.act(ctx, "type into "+f.Target.String(), func(ctx context.Context) error {
				return e.session.Type(ctx, el, v)
			})
			if err != nil {
				return fmt.Errorf("input %s: %w", f.Input, err)
			}
		}
		return nil

	case StepClick:
		el, err := e.element(ctx, st.Target)
		if err != nil {
			return err
		}
		return e.act(ctx, "click "+st.Target.String(), func(ctx context.Context) error {
			return e.session.Click(ctx, el)
		})

	case StepOpenWindow:
		var before int
		err := e.act(ctx, "list windows", func(ctx context.Context) error {
			handles, err := e.session.WindowHandles(ctx)
			before = len(handles)
			return err
		})
		if err != nil {
			return err
		}
		target, err := json.Marshal(st.URL)
		if err != nil {
			return err
		}
		err = e.act(ctx, "open "+st.URL, func(ctx context.Context) error {
			return e.session.ExecuteScript(ctx, fmt.Sprintf("void window.open(%s, '_blank')", target), nil)
		})
		if err != nil {
			return err
		}
		h, err := e.windows.DiscoverNew(ctx, e.waiter, e.session, before)
		if err != nil {
			return err
		}
		e.opened = h
		return nil

	case StepSwitchNew:
		if e.opened == "" {
			return ErrNoNewWindow
		}
		return e.act(ctx, "switch to the new window", func(ctx context.Context) error {
			return e.windows.SwitchTo(ctx, e.session, e.opened)
		})

	case StepCloseAndReturn:
		return e.windows.CloseActiveAndReturnTo(ctx, e.waiter, e.session, e.windows.Original())

	case StepScript:
		return e.act(ctx, "run script", func(ctx context.Context) error {
			return e.session.ExecuteScript(ctx, st.Script, nil)
		})

	case StepWaitDownload:
		if e.downloadDir == "" {
			return ErrNoDownloadDir
		}
		path, err := wait.Until(ctx, e.waiter, downloadFinished(e.downloadDir, st.File, e.downloads, e.timing))
		if err != nil {
			return err
		}
		e.logger.Info("Download finished.", zap.String("file", path))
		return nil
	}
	return fmt.Errorf("unknown step %q", st.Kind)
}
