// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/gatecheck/internal/browser"
	"github.com/xkilldash9x/gatecheck/internal/browser/browsertest"
	"github.com/xkilldash9x/gatecheck/internal/config"
	"github.com/xkilldash9x/gatecheck/internal/observability"
	"github.com/xkilldash9x/gatecheck/internal/scenario"
	"github.com/xkilldash9x/gatecheck/internal/store"
	"github.com/xkilldash9x/gatecheck/internal/wait"
)

const (
	smokeStart = "https://app.example.test/login"
	smokeHome  = "https://app.example.test/home"
)

var (
	userField = browser.Name("user")
	passField = browser.Name("pass")
	submitBtn = browser.CSS("button")
	alert     = browser.CSS("p.alert")
)

const smokeTable = `
name: smoke
start_url: https://app.example.test/login
signals:
  success_url: /home
  banner: css=p.alert
steps:
  - step: wait_present
    target: name=user
  - step: fill
    fields:
      - {input: user, target: name=user}
      - {input: pass, target: name=pass}
  - step: click
    target: css=button
rows:
  - label: good
    inputs: {user: Admin, pass: "${SMOKE_PASSWORD}"}
    expect: success
  - label: bad
    inputs: {user: Admin, pass: nope}
    expect: credential
`

// testEnv is a scratch directory holding a config file and a scenario table.
type testEnv struct {
	dir       string
	config    string
	table     string
	artifacts string
	launcher  *browsertest.Launcher
}

// mockRunStore mocks the report persistence the commands use.
type mockRunStore struct {
	mock.Mock
}

var _ runStore = (*mockRunStore)(nil)

func (m *mockRunStore) SaveReport(ctx context.Context, r *scenario.Report) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *mockRunStore) RecentRuns(ctx context.Context, plan string, limit int) ([]store.RunSummary, error) {
	args := m.Called(ctx, plan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.RunSummary), args.Error(1)
}

// resetForTest silences the global logger and restores the injected
// dependencies once the test ends.
func resetForTest(t *testing.T) {
	t.Helper()

	origLauncher, origStore := newLauncher, openStore
	t.Cleanup(func() {
		newLauncher, openStore = origLauncher, origStore
		observability.ResetForTest()
	})

	lc := config.NewDefaultConfig().Logger()
	lc.Level = "error"
	observability.ResetForTest()
	observability.Initialize(lc, zapcore.AddSync(io.Discard))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	resetForTest(t)
	t.Setenv("SMOKE_PASSWORD", "secret")

	dir := t.TempDir()
	e := &testEnv{
		dir:       dir,
		config:    filepath.Join(dir, "gatecheck.yaml"),
		table:     filepath.Join(dir, "smoke.yaml"),
		artifacts: filepath.Join(dir, "shots"),
		launcher:  browsertest.NewLauncher(wait.SystemClock{}, smokeApp),
	}
	writeFile(t, e.config, `
wait:
  step_timeout: 1s
  signal_timeout: 200ms
  poll_interval: 20ms
artifacts:
  enabled: true
  dir: `+e.artifacts+`
`)
	writeFile(t, e.table, smokeTable)

	newLauncher = func(config.Interface, *zap.Logger) browser.Launcher { return e.launcher }
	return e
}

// smokeApp scripts a login page that accepts Admin/secret.
func smokeApp(_ int, f *browsertest.Fake) {
	f.OnNavigate(func(page *browsertest.Fake, url string) error {
		if url == smokeStart {
			page.Clear()
			page.Show(userField)
			page.Show(passField)
			page.Show(submitBtn)
		}
		return nil
	})
	f.OnClick(func(page *browsertest.Fake, loc browser.Locator) error {
		if loc != submitBtn {
			return nil
		}
		if last(page.Typed(userField)) == "Admin" && last(page.Typed(passField)) == "secret" {
			page.SetURL(smokeHome)
		} else {
			page.Show(alert)
		}
		return nil
	})
}

func last(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// execute runs a fresh command tree with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := NewRootCommand()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}
