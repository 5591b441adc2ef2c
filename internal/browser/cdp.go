// internal/browser/cdp.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatecheck/internal/config"
)

// CDPLauncher starts Chrome over the DevTools protocol, one process per session.
type CDPLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewCDPLauncher creates a launcher for the chromedp driver.
func NewCDPLauncher(cfg config.BrowserConfig, logger *zap.Logger) *CDPLauncher {
	return &CDPLauncher{cfg: cfg, logger: logger.Named("cdp")}
}

// Flags returns the Chrome command line flags for a session, keyed by name
// without the leading dashes. A false value means the flag is left out.
func (l *CDPLauncher) Flags() map[string]any {
	flags := map[string]any{
		"headless":                  l.cfg.Headless,
		"ignore-certificate-errors": l.cfg.IgnoreTLSErrors,
		"disable-gpu":               l.cfg.Headless,
	}

	for _, arg := range l.cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}

	// Containers (Docker on Linux) cannot set up the Chrome sandbox.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}

// AllocatorOptions turns the launcher configuration into chromedp options
// on top of chromedp's defaults.
func (l *CDPLauncher) AllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := slices.Clone(chromedp.DefaultExecAllocatorOptions[:])
	for name, value := range l.Flags() {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if l.cfg.WindowWidth > 0 && l.cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(l.cfg.WindowWidth, l.cfg.WindowHeight))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// Launch starts a browser process and attaches to its first tab.
func (l *CDPLauncher) Launch(ctx context.Context) (Session, error) {
	// The allocator outlives ctx; the session is torn down by Quit.
	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), l.AllocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the process. It must not see a deadline, or the
	// browser dies with it, so the launch timeout is enforced from outside.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	timer := time.NewTimer(l.cfg.LaunchTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-started:
	case <-timer.C:
		err = fmt.Errorf("browser did not start within %s", l.cfg.LaunchTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	first := WindowHandle(chromedp.FromContext(browserCtx).Target.TargetID)
	s := &CDPSession{
		logger:        l.logger.With(zap.String("window", string(first))),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabs:          map[WindowHandle]*cdpTab{first: {ctx: browserCtx, cancel: browserCancel}},
		order:         []WindowHandle{first},
		current:       first,
		original:      first,
	}
	if l.cfg.DownloadDir != "" {
		if err := s.allowDownloads(ctx, l.cfg.DownloadDir); err != nil {
			quitCtx, cancel := context.WithTimeout(Detach(ctx), quitTimeout)
			_ = s.Quit(quitCtx)
			cancel()
			return nil, err
		}
	}
	l.logger.Info("Browser launched.", zap.Bool("headless", l.cfg.Headless))
	return s, nil
}

type cdpTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type cdpElement struct {
	owner  *CDPSession
	window WindowHandle
	loc    Locator
	node   *cdp.Node
}

func (e *cdpElement) Locator() Locator { return e.loc }

// CDPSession is a Session backed by chromedp. Window handles are page
// target IDs.
type CDPSession struct {
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	tabs     map[WindowHandle]*cdpTab
	order    []WindowHandle
	current  WindowHandle
	original WindowHandle

	quitOnce sync.Once
	quitErr  error
}

var _ Session = (*CDPSession)(nil)

// run executes actions in the current tab bounded by ctx.
func (s *CDPSession) run(ctx context.Context, actions ...chromedp.Action) error {
	tab, ok := s.tabs[s.current]
	if !ok {
		if s.browserCtx.Err() != nil {
			return ErrSessionLost
		}
		return fmt.Errorf("%s: %w", s.current, ErrNoSuchWindow)
	}
	runCtx, cancel := CombineContext(tab.ctx, ctx)
	defer cancel()
	return s.mapErr(ctx, tab, chromedp.Run(runCtx, actions...))
}

func (s *CDPSession) mapErr(ctx context.Context, tab *cdpTab, err error) error {
	switch {
	case err == nil:
		return nil
	case s.browserCtx.Err() != nil:
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, chromedp.ErrInvalidContext):
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	case tab != nil && tab.ctx.Err() != nil:
		return fmt.Errorf("%s: %w", s.current, ErrNoSuchWindow)
	default:
		return err
	}
}

// browserExec returns a context whose CDP commands go to the browser target
// rather than a page.
func (s *CDPSession) browserExec(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := CombineContext(s.browserCtx, ctx)
	c := chromedp.FromContext(s.browserCtx)
	return cdp.WithExecutor(runCtx, c.Browser), cancel
}

// allowDownloads makes every tab of the browser save downloads into dir.
func (s *CDPSession) allowDownloads(ctx context.Context, dir string) error {
	abs, err := PrepareDownloadDir(dir)
	if err != nil {
		return err
	}
	execCtx, cancel := s.browserExec(ctx)
	defer cancel()
	err = cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(abs).
		Do(execCtx)
	if err != nil {
		return s.mapErr(ctx, nil, fmt.Errorf("failed to enable downloads: %w", err))
	}
	s.logger.Debug("Downloads enabled.", zap.String("dir", abs))
	return nil
}

func (s *CDPSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *CDPSession) FindElement(ctx context.Context, loc Locator) (ElementRef, error) {
	els, err := s.FindElements(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	return els[0], nil
}

func (s *CDPSession) FindElements(ctx context.Context, loc Locator) ([]ElementRef, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	var nodes []*cdp.Node
	var query chromedp.QueryAction
	if sel, ok := loc.CSSSelector(); ok {
		query = chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))
	} else {
		query = chromedp.Nodes(loc.Value, &nodes, chromedp.BySearch, chromedp.AtLeast(0))
	}
	if err := s.run(ctx, query); err != nil {
		return nil, err
	}

	refs := make([]ElementRef, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, &cdpElement{owner: s, window: s.current, loc: loc, node: n})
	}
	return refs, nil
}

func (s *CDPSession) element(el ElementRef) (*cdpElement, error) {
	e, ok := el.(*cdpElement)
	if !ok || e.owner != s {
		return nil, ErrForeignElement
	}
	if e.window != s.current {
		return nil, fmt.Errorf("element %s belongs to window %s, not the active one: %w", e.loc, e.window, ErrNotFound)
	}
	return e, nil
}

func (s *CDPSession) Type(ctx context.Context, el ElementRef, text string) error {
	e, err := s.element(el)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.SendKeys([]cdp.NodeID{e.node.NodeID}, text, chromedp.ByNodeID))
}

func (s *CDPSession) Click(ctx context.Context, el ElementRef) error {
	e, err := s.element(el)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.Click([]cdp.NodeID{e.node.NodeID}, chromedp.ByNodeID))
}

func (s *CDPSession) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, chromedp.Location(&u))
	return u, err
}

func (s *CDPSession) CurrentTitle(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, chromedp.Title(&title))
	return title, err
}

func (s *CDPSession) WindowHandles(ctx context.Context) ([]WindowHandle, error) {
	runCtx, cancel := CombineContext(s.browserCtx, ctx)
	defer cancel()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, s.mapErr(ctx, nil, err)
	}

	open := make(map[WindowHandle]bool, len(infos))
	var fresh []WindowHandle
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		h := WindowHandle(info.TargetID)
		open[h] = true
		if !slices.Contains(s.order, h) {
			fresh = append(fresh, h)
		}
	}

	// Known windows keep their enumeration order; new ones follow.
	slices.Sort(fresh)
	s.order = slices.DeleteFunc(s.order, func(h WindowHandle) bool { return !open[h] })
	s.order = append(s.order, fresh...)
	return slices.Clone(s.order), nil
}

func (s *CDPSession) SwitchToWindow(ctx context.Context, h WindowHandle) error {
	handles, err := s.WindowHandles(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(handles, h) {
		return fmt.Errorf("%s: %w", h, ErrNoSuchWindow)
	}

	if _, ok := s.tabs[h]; !ok {
		tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(target.ID(h)))
		// Attaching happens on the first Run against the new context.
		attachCtx, cancel := CombineContext(tabCtx, ctx)
		err := chromedp.Run(attachCtx)
		cancel()
		if err != nil {
			tabCancel()
			return s.mapErr(ctx, nil, fmt.Errorf("failed to attach to window %s: %w", h, err))
		}
		s.tabs[h] = &cdpTab{ctx: tabCtx, cancel: tabCancel}
	}

	execCtx, cancel := s.browserExec(ctx)
	defer cancel()
	if err := target.ActivateTarget(target.ID(h)).Do(execCtx); err != nil {
		return s.mapErr(ctx, nil, fmt.Errorf("failed to activate window %s: %w", h, err))
	}

	s.current = h
	return nil
}

func (s *CDPSession) CloseCurrentWindow(ctx context.Context) error {
	h := s.current
	tab, ok := s.tabs[h]
	if !ok {
		return fmt.Errorf("%s: %w", h, ErrNoSuchWindow)
	}

	// Cancelling an attached tab context detaches and closes its target. The
	// first tab's context is the browser's own, so that one is closed by id.
	if h != s.original {
		tab.cancel()
		delete(s.tabs, h)
		return nil
	}

	execCtx, cancel := s.browserExec(ctx)
	defer cancel()
	if err := target.CloseTarget(target.ID(h)).Do(execCtx); err != nil {
		return s.mapErr(ctx, tab, fmt.Errorf("failed to close window %s: %w", h, err))
	}
	delete(s.tabs, h)
	return nil
}

func (s *CDPSession) ExecuteScript(ctx context.Context, src string, res any) error {
	return s.run(ctx, chromedp.Evaluate(src, res))
}

func (s *CDPSession) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Quit closes the browser and reaps the process. Only the first call does work.
func (s *CDPSession) Quit(ctx context.Context) error {
	s.quitOnce.Do(func() {
		if s.browserCtx.Err() != nil {
			s.allocCancel()
			s.quitErr = ErrSessionLost
			return
		}

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.browserCtx) }()

		select {
		case err := <-done:
			if err != nil {
				s.logger.Debug("Graceful browser close failed.", zap.Error(err))
			}
		case <-ctx.Done():
			s.logger.Warn("Browser close timed out; killing the process.", zap.Error(ctx.Err()))
		}

		// Attached tabs are children of the browser context and go with it.
		s.browserCancel()
		s.allocCancel()
	})
	return s.quitErr
}
