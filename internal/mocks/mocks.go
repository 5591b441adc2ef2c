// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/gatecheck/internal/browser"
	"github.com/xkilldash9x/gatecheck/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	return m.Called().Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Wait() config.WaitConfig {
	return m.Called().Get(0).(config.WaitConfig)
}

func (m *MockConfig) Artifacts() config.ArtifactsConfig {
	return m.Called().Get(0).(config.ArtifactsConfig)
}

func (m *MockConfig) Runner() config.RunnerConfig {
	return m.Called().Get(0).(config.RunnerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	return m.Called().Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) SetBrowserDriver(d string)   { m.Called(d) }
func (m *MockConfig) SetBrowserHeadless(b bool)   { m.Called(b) }
func (m *MockConfig) SetRunnerResetMode(s string) { m.Called(s) }
func (m *MockConfig) SetArtifactsDir(d string)    { m.Called(d) }
func (m *MockConfig) SetDatabasePersist(b bool)   { m.Called(b) }

// -- Browser Mocks --

// MockSession mocks browser.Session for interaction-level assertions.
type MockSession struct {
	mock.Mock
}

var _ browser.Session = (*MockSession)(nil)

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockSession) FindElement(ctx context.Context, loc browser.Locator) (browser.ElementRef, error) {
	args := m.Called(ctx, loc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(browser.ElementRef), args.Error(1)
}

func (m *MockSession) FindElements(ctx context.Context, loc browser.Locator) ([]browser.ElementRef, error) {
	args := m.Called(ctx, loc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]browser.ElementRef), args.Error(1)
}

func (m *MockSession) Type(ctx context.Context, el browser.ElementRef, text string) error {
	return m.Called(ctx, el, text).Error(0)
}

func (m *MockSession) Click(ctx context.Context, el browser.ElementRef) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockSession) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) CurrentTitle(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) WindowHandles(ctx context.Context) ([]browser.WindowHandle, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]browser.WindowHandle), args.Error(1)
}

func (m *MockSession) SwitchToWindow(ctx context.Context, h browser.WindowHandle) error {
	return m.Called(ctx, h).Error(0)
}

func (m *MockSession) CloseCurrentWindow(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) ExecuteScript(ctx context.Context, src string, res any) error {
	return m.Called(ctx, src, res).Error(0)
}

func (m *MockSession) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSession) Quit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockElement is an opaque element reference for MockSession.
type MockElement struct {
	Loc browser.Locator
}

func (e MockElement) Locator() browser.Locator { return e.Loc }

// MockLauncher mocks browser.Launcher.
type MockLauncher struct {
	mock.Mock
}

var _ browser.Launcher = (*MockLauncher)(nil)

func (m *MockLauncher) Launch(ctx context.Context) (browser.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(browser.Session), args.Error(1)
}

// -- Artifact Mock --

// MockArtifactStore mocks artifact.Store.
type MockArtifactStore struct {
	mock.Mock
}

func (m *MockArtifactStore) Save(ctx context.Context, label string, t time.Time, data []byte) (string, error) {
	args := m.Called(ctx, label, t, data)
	return args.String(0), args.Error(1)
}
