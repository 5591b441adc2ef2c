// internal/browser/playwright.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatecheck/internal/config"
)

const playwrightInstallTimeout = 5 * time.Minute

// PlaywrightLauncher starts Chromium through the playwright driver.
type PlaywrightLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	installOnce sync.Once
	installErr  error
}

// NewPlaywrightLauncher creates a launcher for the playwright driver.
func NewPlaywrightLauncher(cfg config.BrowserConfig, logger *zap.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{cfg: cfg, logger: logger.Named("playwright")}
}

// LaunchOptions maps the browser configuration onto playwright options.
func (l *PlaywrightLauncher) LaunchOptions() playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.cfg.Headless),
		Args:     slices.Clone(l.cfg.Args),
		Timeout:  playwright.Float(float64(l.cfg.LaunchTimeout.Milliseconds())),
	}
	if l.cfg.ExecPath != "" {
		opts.ExecutablePath = playwright.String(l.cfg.ExecPath)
	}
	return opts
}

// ContextOptions maps the browser configuration onto a new browser context.
func (l *PlaywrightLauncher) ContextOptions() playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(l.cfg.IgnoreTLSErrors),
	}
	if l.cfg.WindowWidth > 0 && l.cfg.WindowHeight > 0 {
		opts.Viewport = &playwright.Size{Width: l.cfg.WindowWidth, Height: l.cfg.WindowHeight}
	}
	if l.cfg.DownloadDir != "" {
		opts.AcceptDownloads = playwright.Bool(true)
	}
	return opts
}

func (l *PlaywrightLauncher) ensureInstallation(ctx context.Context) error {
	l.installOnce.Do(func() {
		l.logger.Info("Verifying Playwright browser installation...")
		l.installErr = call(ctx, playwrightInstallTimeout, func() error {
			return playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
		})
	})
	return l.installErr
}

// Launch starts the driver, a browser and one page.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if l.cfg.InstallDriver {
		if err := l.ensureInstallation(ctx); err != nil {
			return nil, fmt.Errorf("failed to install playwright browsers: %w", err)
		}
	}

	var downloads string
	if l.cfg.DownloadDir != "" {
		dir, err := PrepareDownloadDir(l.cfg.DownloadDir)
		if err != nil {
			return nil, err
		}
		downloads = dir
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}

	b, err := pw.Chromium.Launch(l.LaunchOptions())
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}

	bctx, err := b.NewContext(l.ContextOptions())
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	s := &PlaywrightSession{
		logger:      l.logger,
		pw:          pw,
		browser:     b,
		bctx:        bctx,
		downloadDir: downloads,
		pages:       make(map[WindowHandle]playwright.Page),
	}
	// Pages opened by the page itself (window.open) show up here.
	bctx.OnPage(func(p playwright.Page) { s.register(p) })

	page, err := bctx.NewPage()
	if err != nil {
		_ = s.Quit(ctx)
		return nil, fmt.Errorf("failed to open first page: %w", err)
	}
	s.current = s.register(page)

	l.logger.Info("Browser launched.", zap.String("browser_version", b.Version()), zap.Bool("headless", l.cfg.Headless))
	return s, nil
}

type pwElement struct {
	owner  *PlaywrightSession
	window WindowHandle
	loc    Locator
	handle playwright.ElementHandle
}

func (e *pwElement) Locator() Locator { return e.loc }

// PlaywrightSession is a Session backed by playwright-go. Each page is a
// window; handles are generated when a page is first seen.
type PlaywrightSession struct {
	logger  *zap.Logger
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	// downloadDir is where finished downloads are saved. Empty leaves them
	// in playwright's temporary storage.
	downloadDir string

	mu      sync.Mutex
	pages   map[WindowHandle]playwright.Page
	order   []WindowHandle
	current WindowHandle

	quitOnce sync.Once
	quitErr  error
}

var _ Session = (*PlaywrightSession)(nil)

func (s *PlaywrightSession) register(p playwright.Page) WindowHandle {
	s.mu.Lock()
	for h, known := range s.pages {
		if known == p {
			s.mu.Unlock()
			return h
		}
	}
	h := WindowHandle(uuid.NewString())
	s.pages[h] = p
	s.order = append(s.order, h)
	s.mu.Unlock()

	if s.downloadDir != "" {
		p.OnDownload(s.saveDownload)
	}
	return h
}

// saveDownload copies a download into the download directory under the
// name the site suggested. The file only appears under that name once it
// is complete.
func (s *PlaywrightSession) saveDownload(d playwright.Download) {
	dest := downloadPath(s.downloadDir, d.SuggestedFilename())
	partial := dest + ".part"
	if err := d.SaveAs(partial); err != nil {
		s.logger.Warn("Failed to save download.", zap.String("file", dest), zap.Error(err))
		return
	}
	if err := os.Rename(partial, dest); err != nil {
		s.logger.Warn("Failed to save download.", zap.String("file", dest), zap.Error(err))
		return
	}
	s.logger.Info("Download saved.", zap.String("file", dest))
}

func (s *PlaywrightSession) page() (playwright.Page, error) {
	if !s.browser.IsConnected() {
		return nil, ErrSessionLost
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[s.current]
	if !ok || p.IsClosed() {
		return nil, fmt.Errorf("%s: %w", s.current, ErrNoSuchWindow)
	}
	return p, nil
}

func (s *PlaywrightSession) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case !s.browser.IsConnected():
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%s: %w", s.current, ErrNoSuchWindow)
	default:
		return err
	}
}

// do runs fn against the active page, bounded by ctx.
func (s *PlaywrightSession) do(ctx context.Context, fn func(p playwright.Page) error) error {
	p, err := s.page()
	if err != nil {
		return err
	}
	return s.mapErr(call(ctx, 0, func() error { return fn(p) }))
}

func (s *PlaywrightSession) Navigate(ctx context.Context, url string) error {
	return s.do(ctx, func(p playwright.Page) error {
		_, err := p.Goto(url)
		return err
	})
}

// selector renders a locator in playwright's selector syntax.
func selector(loc Locator) (string, error) {
	if err := loc.Validate(); err != nil {
		return "", err
	}
	if css, ok := loc.CSSSelector(); ok {
		return "css=" + css, nil
	}
	return "xpath=" + loc.Value, nil
}

func (s *PlaywrightSession) FindElement(ctx context.Context, loc Locator) (ElementRef, error) {
	els, err := s.FindElements(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	return els[0], nil
}

func (s *PlaywrightSession) FindElements(ctx context.Context, loc Locator) ([]ElementRef, error) {
	sel, err := selector(loc)
	if err != nil {
		return nil, err
	}

	var handles []playwright.ElementHandle
	err = s.do(ctx, func(p playwright.Page) error {
		var qerr error
		handles, qerr = p.QuerySelectorAll(sel)
		return qerr
	})
	if err != nil {
		return nil, err
	}

	refs := make([]ElementRef, 0, len(handles))
	for _, h := range handles {
		refs = append(refs, &pwElement{owner: s, window: s.current, loc: loc, handle: h})
	}
	return refs, nil
}

func (s *PlaywrightSession) element(el ElementRef) (*pwElement, error) {
	e, ok := el.(*pwElement)
	if !ok || e.owner != s {
		return nil, ErrForeignElement
	}
	if e.window != s.current {
		return nil, fmt.Errorf("element %s belongs to window %s, not the active one: %w", e.loc, e.window, ErrNotFound)
	}
	return e, nil
}

func (s *PlaywrightSession) Type(ctx context.Context, el ElementRef, text string) error {
	e, err := s.element(el)
	if err != nil {
		return err
	}
	return s.do(ctx, func(playwright.Page) error { return e.handle.Type(text) })
}

func (s *PlaywrightSession) Click(ctx context.Context, el ElementRef) error {
	e, err := s.element(el)
	if err != nil {
		return err
	}
	return s.do(ctx, func(playwright.Page) error { return e.handle.Click() })
}

func (s *PlaywrightSession) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := s.do(ctx, func(p playwright.Page) error {
		u = p.URL()
		return nil
	})
	return u, err
}

func (s *PlaywrightSession) CurrentTitle(ctx context.Context) (string, error) {
	var title string
	err := s.do(ctx, func(p playwright.Page) error {
		var terr error
		title, terr = p.Title()
		return terr
	})
	return title, err
}

func (s *PlaywrightSession) WindowHandles(ctx context.Context) ([]WindowHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.browser.IsConnected() {
		return nil, ErrSessionLost
	}
	// OnPage fires asynchronously; pick up pages it has not delivered yet.
	for _, p := range s.bctx.Pages() {
		s.register(p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]WindowHandle, 0, len(s.order))
	for _, h := range s.order {
		if !s.pages[h].IsClosed() {
			handles = append(handles, h)
		}
	}
	return handles, nil
}

func (s *PlaywrightSession) SwitchToWindow(ctx context.Context, h WindowHandle) error {
	s.mu.Lock()
	p, ok := s.pages[h]
	s.mu.Unlock()
	if !ok || p.IsClosed() {
		return fmt.Errorf("%s: %w", h, ErrNoSuchWindow)
	}
	if err := call(ctx, 0, p.BringToFront); err != nil {
		return s.mapErr(err)
	}
	s.mu.Lock()
	s.current = h
	s.mu.Unlock()
	return nil
}

func (s *PlaywrightSession) CloseCurrentWindow(ctx context.Context) error {
	return s.do(ctx, func(p playwright.Page) error { return p.Close() })
}

func (s *PlaywrightSession) ExecuteScript(ctx context.Context, src string, res any) error {
	var out any
	err := s.do(ctx, func(p playwright.Page) error {
		var eerr error
		// Evaluate expects a function or expression; statements need wrapping.
		out, eerr = p.Evaluate(scriptExpression(src))
		return eerr
	})
	if err != nil || res == nil {
		return err
	}
	// Re-encode the driver's generic value into the caller's type.
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode script result: %w", err)
	}
	return json.Unmarshal(raw, res)
}

func scriptExpression(src string) string {
	trimmed := strings.TrimSpace(src)
	if strings.HasPrefix(trimmed, "(") || strings.HasPrefix(trimmed, "function") || strings.Contains(trimmed, "=>") {
		return src
	}
	if strings.Contains(trimmed, ";") || strings.HasPrefix(trimmed, "void ") {
		return "() => { " + src + " }"
	}
	return src
}

func (s *PlaywrightSession) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.do(ctx, func(p playwright.Page) error {
		var serr error
		buf, serr = p.Screenshot()
		return serr
	})
	return buf, err
}

// Quit closes the context, the browser and the driver.
func (s *PlaywrightSession) Quit(ctx context.Context) error {
	s.quitOnce.Do(func() {
		lost := !s.browser.IsConnected()
		err := call(ctx, 0, func() error {
			var errs []error
			if !lost {
				errs = append(errs, s.bctx.Close(), s.browser.Close())
			}
			errs = append(errs, s.pw.Stop())
			return errors.Join(errs...)
		})
		switch {
		case lost:
			s.quitErr = ErrSessionLost
		case err != nil:
			s.quitErr = fmt.Errorf("failed to shut down playwright: %w", err)
		}
	})
	return s.quitErr
}

// call runs a blocking driver call and gives up when ctx is done or the
// optional timeout elapses. The driver call itself cannot be interrupted.
func call(ctx context.Context, timeout time.Duration, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
