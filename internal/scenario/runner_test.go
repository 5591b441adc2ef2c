package scenario_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/gatecheck/internal/artifact"
	"github.com/xkilldash9x/gatecheck/internal/browser"
	"github.com/xkilldash9x/gatecheck/internal/browser/browsertest"
	"github.com/xkilldash9x/gatecheck/internal/config"
	"github.com/xkilldash9x/gatecheck/internal/mocks"
	"github.com/xkilldash9x/gatecheck/internal/outcome"
	"github.com/xkilldash9x/gatecheck/internal/scenario"
	"github.com/xkilldash9x/gatecheck/internal/wait"
	"github.com/xkilldash9x/gatecheck/internal/wait/waittest"
	"github.com/xkilldash9x/gatecheck/internal/windows"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	startURL     = "https://hrm.example.test/web/index.php/auth/login"
	dashboardURL = "https://hrm.example.test/web/index.php/dashboard/index"
	logoutURL    = "https://hrm.example.test/web/index.php/auth/logout"
	popupURL     = "https://www.orangehrm.com/"

	closeOriginal = "window.opener.close()"
)

var (
	userField = browser.Name("username")
	passField = browser.Name("password")
	submit    = browser.CSS("button[type='submit']")
	header    = browser.CSS("h6.oxd-topbar-header-breadcrumb-module")
	fieldErr  = browser.CSS("span.oxd-input-field-error-message")
	userErr   = browser.XPath("//input[@name='username']/ancestor::div[2]//span")
	passErr   = browser.XPath("//input[@name='password']/ancestor::div[2]//span")
	banner    = browser.CSS("p.oxd-alert-content-text")
	exportBtn = browser.XPath("//button[contains(., 'Export')]")

	stepTiming   = wait.Timing{Timeout: 10 * time.Second, Interval: 250 * time.Millisecond}
	signalTiming = wait.Timing{Timeout: 3 * time.Second, Interval: 250 * time.Millisecond}

	ignoreVolatile = cmpopts.IgnoreFields(scenario.Verdict{}, "Duration", "Err")
)

// loginApp scripts a fake session to behave like the login page of an HR
// application: the form renders shortly after navigation and the submit
// button produces one of the three outcomes.
type loginApp struct {
	visits int
	// loseOnVisit kills the session on that visit of the login page.
	loseOnVisit int
	// brokenVisit renders no form on that visit.
	brokenVisit int
	// stallVisit never finishes loading the page on that visit.
	stallVisit int
	// downloadDir receives export.csv when the export button is clicked.
	downloadDir string
	mark        map[browser.Locator]int
}

func (a *loginApp) install(f *browsertest.Fake) {
	f.OnNavigate(func(page *browsertest.Fake, url string) error {
		if url != startURL {
			return nil
		}
		a.visits++
		if a.visits == a.loseOnVisit {
			page.Lose()
			return browser.ErrSessionLost
		}
		if a.visits == a.stallVisit {
			page.StallNavigation(url)
			return nil
		}
		a.mark = map[browser.Locator]int{
			userField: len(page.Typed(userField)),
			passField: len(page.Typed(passField)),
		}
		page.Clear()
		if a.visits == a.brokenVisit {
			return nil
		}
		for _, loc := range []browser.Locator{userField, passField, submit} {
			page.ShowAfter(loc, 400*time.Millisecond)
		}
		return nil
	})

	f.OnClick(func(page *browsertest.Fake, loc browser.Locator) error {
		if loc == exportBtn {
			return os.WriteFile(filepath.Join(a.downloadDir, "export.csv"), []byte("id,name\n1,Admin\n"), 0o644)
		}
		if loc != submit {
			return nil
		}
		u, p := a.typed(page, userField), a.typed(page, passField)
		switch {
		case u == "ghost":
			// Nothing happens.
		case u == "" || p == "":
			page.ShowAfter(fieldErr, 300*time.Millisecond)
			if u == "" {
				page.ShowAfter(userErr, 300*time.Millisecond)
			}
			if p == "" {
				page.ShowAfter(passErr, 300*time.Millisecond)
			}
		case u == "Admin" && p == "admin123":
			page.SetURLAfter(dashboardURL, time.Second)
			page.ShowAfter(header, 1500*time.Millisecond)
			page.ShowAfter(exportBtn, 1500*time.Millisecond)
		default:
			page.ShowAfter(banner, 800*time.Millisecond)
		}
		return nil
	})

	f.OnScript(func(page *browsertest.Fake, src string) error {
		switch {
		case src == closeOriginal:
			// The page closes the window the session started with.
			ctx := context.Background()
			popup := page.Current()
			if err := page.SwitchToWindow(ctx, "W1"); err != nil {
				return err
			}
			if err := page.CloseCurrentWindow(ctx); err != nil {
				return err
			}
			return page.SwitchToWindow(ctx, popup)
		case strings.Contains(src, "window.open"):
			page.OpenURLAfter(popupURL, 2*time.Second)
		}
		return nil
	})
}

// typed returns what was typed into loc since the last visit.
func (a *loginApp) typed(f *browsertest.Fake, loc browser.Locator) string {
	return strings.Join(f.Typed(loc)[a.mark[loc]:], "")
}

func loginPlan() *scenario.Plan {
	return &scenario.Plan{
		Name:     "login",
		StartURL: startURL,
		Signals: outcome.Signals{
			SuccessURL:     "dashboard",
			SuccessLocator: header,
			FieldError:     fieldErr,
			Fields:         map[string]browser.Locator{"username": userErr, "password": passErr},
			Banner:         banner,
		},
		Steps: []scenario.Step{
			{Kind: scenario.StepWaitPresent, Target: userField},
			{Kind: scenario.StepFill, Fields: []scenario.Field{
				{Input: "username", Target: userField},
				{Input: "password", Target: passField},
			}},
			{Kind: scenario.StepClick, Target: submit},
		},
	}
}

func row(label, user, pass string, expect outcome.Outcome) scenario.Row {
	return scenario.Row{
		Label:  label,
		Inputs: map[string]string{"username": user, "password": pass},
		Expect: expect,
	}
}

type fixture struct {
	clock    *waittest.FakeClock
	app      *loginApp
	launcher *browsertest.Launcher
	store    *mocks.MockArtifactStore
	opts     scenario.Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		clock: waittest.NewFakeClock(),
		app:   &loginApp{},
		store: new(mocks.MockArtifactStore),
		opts: scenario.Options{
			Reset:        config.ResetNavigate,
			StepTiming:   stepTiming,
			SignalTiming: signalTiming,
		},
	}
	fx.launcher = browsertest.NewLauncher(fx.clock, func(_ int, f *browsertest.Fake) {
		fx.app.install(f)
	})
	return fx
}

func (fx *fixture) run(t *testing.T, plan *scenario.Plan, rows ...scenario.Row) (*scenario.Report, error) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	capturer := artifact.NewCapturer(fx.store, fx.clock.Now, logger)
	r := scenario.NewRunner(fx.launcher, capturer, fx.clock, fx.opts, logger)
	return r.Run(context.Background(), rows, plan)
}

func TestRun_ValidCredentialsPass(t *testing.T) {
	fx := newFixture(t)
	rows := []scenario.Row{row("valid admin", "Admin", "admin123", outcome.Succeeded())}

	report, err := fx.run(t, loginPlan(), rows...)
	require.NoError(t, err)

	want := []scenario.Verdict{{Row: rows[0], Actual: outcome.Succeeded(), Passed: true}}
	if diff := cmp.Diff(want, report.Verdicts, ignoreVolatile); diff != "" {
		t.Errorf("verdicts mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Passed)
	assert.NotEqual(t, uuid.Nil, report.RunID)

	sessions := fx.launcher.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, []string{"Admin"}, sessions[0].Typed(userField))
	assert.Equal(t, []string{"admin123"}, sessions[0].Typed(passField))
	assert.Equal(t, 1, sessions[0].Quits())
	fx.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_EmptyInputsAreSkippedButSubmitted(t *testing.T) {
	fx := newFixture(t)
	rows := []scenario.Row{row("empty credentials", "", "", outcome.Validation())}

	report, err := fx.run(t, loginPlan(), rows...)
	require.NoError(t, err)
	require.Len(t, report.Verdicts, 1)

	v := report.Verdicts[0]
	assert.True(t, v.Passed)
	assert.Equal(t, outcome.Validation("password", "username"), v.Actual)

	f := fx.launcher.Sessions()[0]
	assert.Empty(t, f.Typed(userField))
	assert.Empty(t, f.Typed(passField))
	assert.Equal(t, []browser.Locator{submit}, f.Clicks())
}

func TestRun_WrongPasswordIsCredentialNotValidation(t *testing.T) {
	fx := newFixture(t)
	fx.store.On("Save", mock.Anything, "admin without password", mock.Anything, browsertest.PNG).
		Return("screenshots/admin_without_password.png", nil)

	rows := []scenario.Row{
		row("wrong password", "Admin", "wrongPassword", outcome.Credential()),
		// Expecting a credential failure where validation fires must fail.
		row("admin without password", "Admin", "", outcome.Credential()),
		row("wrong case password", "Admin", "Admin123", outcome.Credential()),
	}

	report, err := fx.run(t, loginPlan(), rows...)
	require.NoError(t, err)

	want := []scenario.Verdict{
		{Row: rows[0], Actual: outcome.Credential(), Passed: true},
		{Row: rows[1], Actual: outcome.Validation("password"), ArtifactRef: "screenshots/admin_without_password.png"},
		{Row: rows[2], Actual: outcome.Credential(), Passed: true},
	}
	if diff := cmp.Diff(want, report.Verdicts, ignoreVolatile); diff != "" {
		t.Errorf("verdicts mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.OK())
	fx.store.AssertExpectations(t)
}

func TestRun_SessionLossTruncates(t *testing.T) {
	fx := newFixture(t)
	fx.app.loseOnVisit = 3
	rows := []scenario.Row{
		row("valid admin", "Admin", "admin123", outcome.Succeeded()),
		row("invalid user", "InvalidUser", "InvalidPass", outcome.Credential()),
		row("wrong password", "Admin", "wrongPassword", outcome.Credential()),
		row("empty credentials", "", "", outcome.Validation()),
		row("empty username", "", "admin123", outcome.Validation("username")),
	}

	report, err := fx.run(t, loginPlan(), rows...)

	var te *scenario.TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.At)
	assert.Equal(t, "wrong password", te.Label)
	assert.ErrorIs(t, err, browser.ErrSessionLost)
	assert.True(t, scenario.IsTruncated(err))

	require.NotNil(t, report)
	require.Len(t, report.Verdicts, 2)
	assert.True(t, report.Verdicts[0].Passed)
	assert.True(t, report.Verdicts[1].Passed)
	assert.True(t, report.Truncated)
	assert.Equal(t, 2, report.TruncatedAt)
	assert.ErrorIs(t, report.Cause, browser.ErrSessionLost)
	assert.False(t, report.OK())
	assert.Contains(t, report.Summary(), "truncated at row 3")

	sessions := fx.launcher.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].Quits(), "a lost session is still released")
}

func TestRun_StepFailureFailsOnlyThatRow(t *testing.T) {
	fx := newFixture(t)
	fx.app.brokenVisit = 1
	fx.store.On("Save", mock.Anything, "first", mock.Anything, mock.Anything).Return("screenshots/first.png", nil)

	rows := []scenario.Row{
		row("first", "Admin", "admin123", outcome.Succeeded()),
		row("second", "Admin", "admin123", outcome.Succeeded()),
	}
	report, err := fx.run(t, loginPlan(), rows...)
	require.NoError(t, err)
	require.Len(t, report.Verdicts, 2)

	first := report.Verdicts[0]
	assert.False(t, first.Passed)
	assert.True(t, first.Actual.IsZero())
	assert.ErrorIs(t, first.Err, wait.ErrTimedOut)
	assert.Equal(t, "screenshots/first.png", first.ArtifactRef)

	assert.True(t, report.Verdicts[1].Passed)
	assert.Equal(t, "login: 1 passed, 1 failed of 2 rows", report.Summary())
}

func TestRun_HungPageLoadFailsOnlyThatRow(t *testing.T) {
	fx := newFixture(t)
	fx.opts.ActionTimeout = 50 * time.Millisecond
	fx.app.stallVisit = 2
	fx.store.On("Save", mock.Anything, "stuck", mock.Anything, mock.Anything).Return("screenshots/stuck.png", nil)

	rows := []scenario.Row{
		row("first", "Admin", "admin123", outcome.Succeeded()),
		row("stuck", "Admin", "admin123", outcome.Succeeded()),
		row("third", "Admin", "wrongPassword", outcome.Credential()),
	}
	report, err := fx.run(t, loginPlan(), rows...)
	require.NoError(t, err, "a hung action must not end the run")
	require.Len(t, report.Verdicts, 3)
	assert.False(t, report.Truncated)

	stuck := report.Verdicts[1]
	assert.False(t, stuck.Passed)
	assert.ErrorIs(t, stuck.Err, scenario.ErrActionTimedOut)
	assert.NotErrorIs(t, stuck.Err, context.DeadlineExceeded)
	assert.False(t, wait.IsFatal(stuck.Err))
	assert.Contains(t, stuck.Err.Error(), "reset:")
	assert.Equal(t, "screenshots/stuck.png", stuck.ArtifactRef)

	assert.True(t, report.Verdicts[0].Passed)
	assert.True(t, report.Verdicts[2].Passed, "%v", report.Verdicts[2].Err)
	assert.Equal(t, "login: 2 passed, 1 failed of 3 rows", report.Summary())
	fx.store.AssertExpectations(t)
}

func TestRun_OriginalWindowClosedTruncates(t *testing.T) {
	fx := newFixture(t)
	fx.store.On("Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", nil).Maybe()
	plan := loginPlan()
	plan.Steps = append(plan.Steps,
		scenario.Step{Kind: scenario.StepWaitURL, Fragment: "dashboard"},
		scenario.Step{Kind: scenario.StepOpenWindow, URL: popupURL},
		scenario.Step{Kind: scenario.StepSwitchNew},
		scenario.Step{Kind: scenario.StepScript, Script: closeOriginal},
	)

	report, err := fx.run(t, plan,
		row("closes its opener", "Admin", "admin123", outcome.Succeeded()),
		row("next", "Admin", "admin123", outcome.Succeeded()),
		row("never reached", "Admin", "admin123", outcome.Succeeded()),
	)

	var te *scenario.TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.At)
	assert.Equal(t, "next", te.Label)
	assert.ErrorIs(t, err, windows.ErrOriginalGone)
	assert.NotErrorIs(t, err, windows.ErrUnknownHandle)
	require.NotNil(t, report)
	assert.Len(t, report.Verdicts, 1)
	assert.True(t, report.Truncated)
}

func TestRun_WaitDownload(t *testing.T) {
	downloadPlan := func(click bool) *scenario.Plan {
		plan := loginPlan()
		plan.Steps = append(plan.Steps, scenario.Step{Kind: scenario.StepWaitURL, Fragment: "dashboard"})
		if click {
			plan.Steps = append(plan.Steps, scenario.Step{Kind: scenario.StepClick, Target: exportBtn})
		}
		plan.Steps = append(plan.Steps, scenario.Step{Kind: scenario.StepWaitDownload, File: "*.csv"})
		return plan
	}

	t.Run("the exported file arrives", func(t *testing.T) {
		fx := newFixture(t)
		dir := t.TempDir()
		fx.opts.DownloadDir = dir
		fx.app.downloadDir = dir

		report, err := fx.run(t, downloadPlan(true), row("export", "Admin", "admin123", outcome.Succeeded()))
		require.NoError(t, err)
		require.Len(t, report.Verdicts, 1)
		assert.True(t, report.Verdicts[0].Passed, "%v", report.Verdicts[0].Err)
		assert.FileExists(t, filepath.Join(dir, "export.csv"))
	})

	t.Run("files from earlier rows do not count", func(t *testing.T) {
		fx := newFixture(t)
		dir := t.TempDir()
		fx.opts.DownloadDir = dir
		require.NoError(t, os.WriteFile(filepath.Join(dir, "old.csv"), []byte("stale"), 0o644))
		fx.store.On("Save", mock.Anything, "no export", mock.Anything, mock.Anything).Return("", nil)

		report, err := fx.run(t, downloadPlan(false), row("no export", "Admin", "admin123", outcome.Succeeded()))
		require.NoError(t, err)
		require.Len(t, report.Verdicts, 1)
		assert.False(t, report.Verdicts[0].Passed)
		assert.ErrorIs(t, report.Verdicts[0].Err, wait.ErrTimedOut)
	})

	t.Run("without a download directory", func(t *testing.T) {
		fx := newFixture(t)
		fx.store.On("Save", mock.Anything, "export", mock.Anything, mock.Anything).Return("", nil)

		report, err := fx.run(t, downloadPlan(false), row("export", "Admin", "admin123", outcome.Succeeded()))
		require.NoError(t, err)
		require.Len(t, report.Verdicts, 1)
		assert.ErrorIs(t, report.Verdicts[0].Err, scenario.ErrNoDownloadDir)
	})
}

func TestRun_IndeterminateOutcomeIsNotCoerced(t *testing.T) {
	fx := newFixture(t)
	fx.store.On("Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("disk full"))

	report, err := fx.run(t, loginPlan(), row("ghost", "ghost", "boo", outcome.Credential()))
	require.NoError(t, err)
	require.Len(t, report.Verdicts, 1)

	v := report.Verdicts[0]
	assert.False(t, v.Passed)
	assert.True(t, v.Actual.IsZero())
	assert.ErrorIs(t, v.Err, outcome.ErrIndeterminate)
	assert.Empty(t, v.ArtifactRef)
}

func TestRun_NavigateModeResetsEveryRow(t *testing.T) {
	fx := newFixture(t)
	fx.opts.Limiter = rate.NewLimiter(rate.Inf, 1)
	plan := loginPlan()
	plan.Cleanup = []scenario.Step{{Kind: scenario.StepNavigate, URL: logoutURL}}

	report, err := fx.run(t, plan,
		row("valid admin", "Admin", "admin123", outcome.Succeeded()),
		row("wrong user", "wrongUser", "admin123", outcome.Credential()),
	)
	require.NoError(t, err)
	assert.True(t, report.OK())

	sessions := fx.launcher.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, []string{startURL, logoutURL, startURL, logoutURL}, sessions[0].Navigations())
}

func TestRun_FreshSessionPerRow(t *testing.T) {
	fx := newFixture(t)
	fx.opts.Reset = config.ResetFreshSession
	rows := []scenario.Row{
		row("valid admin", "Admin", "admin123", outcome.Succeeded()),
		row("both invalid", "InvalidUser", "InvalidPass", outcome.Credential()),
		row("empty password", "Admin", "", outcome.Validation("password")),
	}

	report, err := fx.run(t, loginPlan(), rows...)
	require.NoError(t, err)
	assert.True(t, report.OK())

	sessions := fx.launcher.Sessions()
	require.Len(t, sessions, len(rows))
	for _, f := range sessions {
		assert.Equal(t, 1, f.Quits())
		assert.Equal(t, []string{startURL}, f.Navigations())
	}
}

func TestRun_PlanResetOverridesOptions(t *testing.T) {
	fx := newFixture(t)
	plan := loginPlan()
	plan.Reset = config.ResetFreshSession

	_, err := fx.run(t, plan,
		row("one", "Admin", "admin123", outcome.Succeeded()),
		row("two", "Admin", "admin123", outcome.Succeeded()),
	)
	require.NoError(t, err)
	assert.Len(t, fx.launcher.Sessions(), 2)
}

func TestRun_LaunchFailureTruncates(t *testing.T) {
	fx := newFixture(t)
	fx.opts.Reset = config.ResetFreshSession
	boom := errors.New("chrome not found")
	fx.launcher.Fail = func(i int) error {
		if i == 1 {
			return boom
		}
		return nil
	}

	report, err := fx.run(t, loginPlan(),
		row("one", "Admin", "admin123", outcome.Succeeded()),
		row("two", "Admin", "admin123", outcome.Succeeded()),
		row("three", "Admin", "admin123", outcome.Succeeded()),
	)
	var te *scenario.TruncatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.At)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, report.Verdicts, 1)
	assert.Equal(t, 1, report.TruncatedAt)
}

func TestRun_WindowWorkflow(t *testing.T) {
	fx := newFixture(t)
	plan := loginPlan()
	plan.Steps = append(plan.Steps,
		scenario.Step{Kind: scenario.StepWaitURL, Fragment: "dashboard"},
		scenario.Step{Kind: scenario.StepOpenWindow, URL: popupURL},
		scenario.Step{Kind: scenario.StepSwitchNew},
		scenario.Step{Kind: scenario.StepWaitURL, Fragment: "orangehrm.com"},
		scenario.Step{Kind: scenario.StepCloseAndReturn},
	)

	report, err := fx.run(t, plan, row("multiple windows", "Admin", "admin123", outcome.Succeeded()))
	require.NoError(t, err)
	require.Len(t, report.Verdicts, 1)
	assert.True(t, report.Verdicts[0].Passed, "%v", report.Verdicts[0].Err)

	f := fx.launcher.Sessions()[0]
	assert.Equal(t, []string{`void window.open("https://www.orangehrm.com/", '_blank')`}, f.Scripts())
	assert.Equal(t, browser.WindowHandle("W1"), f.Current())
}

func TestRun_SwitchNewWithoutOpenWindowFailsRow(t *testing.T) {
	fx := newFixture(t)
	fx.store.On("Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("shot.png", nil)
	plan := loginPlan()
	plan.Steps = append(plan.Steps, scenario.Step{Kind: scenario.StepSwitchNew})

	report, err := fx.run(t, plan, row("valid admin", "Admin", "admin123", outcome.Succeeded()))
	require.NoError(t, err)
	require.Len(t, report.Verdicts, 1)
	assert.ErrorIs(t, report.Verdicts[0].Err, scenario.ErrNoNewWindow)
}

func TestRun_CancelledContextTruncates(t *testing.T) {
	fx := newFixture(t)
	logger := zaptest.NewLogger(t)
	r := scenario.NewRunner(fx.launcher, nil, fx.clock, fx.opts, logger)

	ctx, cancel := context.WithCancel(context.Background())
	fx.launcher.Setup = func(_ int, f *browsertest.Fake) {
		fx.app.install(f)
		f.OnClick(func(*browsertest.Fake, browser.Locator) error {
			cancel()
			return nil
		})
	}

	report, err := r.Run(ctx, []scenario.Row{row("one", "Admin", "admin123", outcome.Succeeded())}, loginPlan())
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Truncated)
	assert.Empty(t, report.Verdicts)
	assert.Equal(t, 1, fx.launcher.Sessions()[0].Quits())
}

func TestRun_RejectsInvalidPlan(t *testing.T) {
	fx := newFixture(t)
	plan := loginPlan()
	plan.Steps = nil

	report, err := fx.run(t, plan, row("one", "Admin", "admin123", outcome.Succeeded()))
	assert.Error(t, err)
	assert.Nil(t, report)
	assert.Empty(t, fx.launcher.Sessions())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := new(mocks.MockConfig)
	cfg.On("Wait").Return(config.WaitConfig{
		StepTimeout:   10 * time.Second,
		SignalTimeout: 3 * time.Second,
		PollInterval:  250 * time.Millisecond,
		ActionTimeout: 30 * time.Second,
	})
	cfg.On("Runner").Return(config.RunnerConfig{ResetMode: config.ResetFreshSession, RowsPerSecond: 2})
	cfg.On("Browser").Return(config.BrowserConfig{DownloadDir: "/srv/downloads"})

	opts := scenario.OptionsFromConfig(cfg)
	assert.Equal(t, config.ResetFreshSession, opts.Reset)
	assert.Equal(t, stepTiming, opts.StepTiming)
	assert.Equal(t, signalTiming, opts.SignalTiming)
	assert.Equal(t, 30*time.Second, opts.ActionTimeout)
	assert.Equal(t, "/srv/downloads", opts.DownloadDir)
	require.NotNil(t, opts.Limiter)
	assert.Equal(t, rate.Limit(2), opts.Limiter.Limit())
	cfg.AssertExpectations(t)

	unpaced := new(mocks.MockConfig)
	unpaced.On("Wait").Return(config.WaitConfig{StepTimeout: time.Second, SignalTimeout: time.Second, PollInterval: time.Second})
	unpaced.On("Runner").Return(config.RunnerConfig{ResetMode: config.ResetNavigate})
	unpaced.On("Browser").Return(config.BrowserConfig{})
	assert.Nil(t, scenario.OptionsFromConfig(unpaced).Limiter)
}
