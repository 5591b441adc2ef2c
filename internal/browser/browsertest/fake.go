// Package browsertest provides a scriptable in-memory browser.Session whose
// page state changes over simulated time.
package browsertest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xkilldash9x/gatecheck/internal/browser"
)

// Clock is the time source the fake consults to decide what is on the page.
type Clock interface {
	Now() time.Time
}

// PNG is what CaptureScreenshot returns unless screenshots are made to fail.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

type element struct {
	shownAt  time.Time
	hiddenAt time.Time // zero means never
}

func (e element) visible(now time.Time) bool {
	if now.Before(e.shownAt) {
		return false
	}
	return e.hiddenAt.IsZero() || now.Before(e.hiddenAt)
}

type urlChange struct {
	at  time.Time
	url string
}

type window struct {
	handle   browser.WindowHandle
	openedAt time.Time
	closed   bool
	urls     []urlChange
}

func (w *window) url(now time.Time) string {
	u := ""
	for _, c := range w.urls {
		if !now.Before(c.at) {
			u = c.url
		}
	}
	return u
}

type ref struct {
	owner *Fake
	loc   browser.Locator
}

func (r ref) Locator() browser.Locator { return r.loc }

// Fake is a browser.Session double. It is safe for concurrent use so tests
// can script it from hooks.
type Fake struct {
	mu       sync.Mutex
	clock    Clock
	lost     bool
	quits    int
	windows  []*window
	current  browser.WindowHandle
	elements map[browser.Locator]element
	title    string
	shotErr  error
	sticky   bool
	stalled  map[string]int

	typed       map[browser.Locator][]string
	clicks      []browser.Locator
	navigations []string
	scripts     []string

	onNavigate func(f *Fake, url string) error
	onClick    func(f *Fake, loc browser.Locator) error
	onScript   func(f *Fake, src string) error
}

var _ browser.Session = (*Fake)(nil)

// New returns a fake with a single blank window.
func New(clock Clock) *Fake {
	f := &Fake{
		clock:    clock,
		elements: make(map[browser.Locator]element),
		typed:    make(map[browser.Locator][]string),
	}
	f.current = f.addWindow(clock.Now())
	return f
}

func (f *Fake) addWindow(at time.Time) browser.WindowHandle {
	h := browser.WindowHandle(fmt.Sprintf("W%d", len(f.windows)+1))
	f.windows = append(f.windows, &window{handle: h, openedAt: at, urls: []urlChange{{at: at, url: "about:blank"}}})
	return h
}

// -- Scripting --

// Show makes loc resolvable from now on.
func (f *Fake) Show(loc browser.Locator) { f.ShowAfter(loc, 0) }

// ShowAfter makes loc resolvable d after now.
func (f *Fake) ShowAfter(loc browser.Locator, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements[loc] = element{shownAt: f.clock.Now().Add(d)}
}

// Hide removes loc from the page.
func (f *Fake) Hide(loc browser.Locator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.elements, loc)
}

// HideAfter removes loc from the page d after now.
func (f *Fake) HideAfter(loc browser.Locator, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.elements[loc]; ok {
		e.hiddenAt = f.clock.Now().Add(d)
		f.elements[loc] = e
	}
}

// Clear removes every element.
func (f *Fake) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements = make(map[browser.Locator]element)
}

// SetURL changes the URL of the current window.
func (f *Fake) SetURL(u string) { f.SetURLAfter(u, 0) }

// SetURLAfter changes the URL of the current window d after now.
func (f *Fake) SetURLAfter(u string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w := f.window(f.current); w != nil {
		w.urls = append(w.urls, urlChange{at: f.clock.Now().Add(d), url: u})
	}
}

// SetTitle sets the page title.
func (f *Fake) SetTitle(t string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.title = t
}

// OpenWindow adds a window immediately and returns its handle.
func (f *Fake) OpenWindow() browser.WindowHandle { return f.OpenWindowAfter(0) }

// OpenWindowAfter adds a window that shows up in WindowHandles d after now.
func (f *Fake) OpenWindowAfter(d time.Duration) browser.WindowHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addWindow(f.clock.Now().Add(d))
}

// OpenURLAfter adds a window already showing u that shows up in
// WindowHandles d after now, as window.open would.
func (f *Fake) OpenURLAfter(u string, d time.Duration) browser.WindowHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	at := f.clock.Now().Add(d)
	h := f.addWindow(at)
	w := f.window(h)
	w.urls = append(w.urls, urlChange{at: at, url: u})
	return h
}

// StickyClose makes CloseCurrentWindow succeed without the window going away.
func (f *Fake) StickyClose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sticky = true
}

// StallNavigation makes the next Navigate to url hang until its context is
// done, like a page load that never finishes.
func (f *Fake) StallNavigation(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stalled == nil {
		f.stalled = make(map[string]int)
	}
	f.stalled[url]++
}

// Lose kills the session: every later call fails with browser.ErrSessionLost.
func (f *Fake) Lose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lost = true
}

// FailScreenshots makes CaptureScreenshot return err.
func (f *Fake) FailScreenshots(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shotErr = err
}

// OnNavigate installs a hook run before every Navigate. A non-nil error is
// returned from Navigate and the navigation does not happen.
func (f *Fake) OnNavigate(fn func(f *Fake, url string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onNavigate = fn
}

// OnClick installs a hook run after every successful Click.
func (f *Fake) OnClick(fn func(f *Fake, loc browser.Locator) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClick = fn
}

// OnScript installs a hook run for every ExecuteScript.
func (f *Fake) OnScript(fn func(f *Fake, src string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onScript = fn
}

// -- Recorders --

// Typed returns every text typed into loc, in order.
func (f *Fake) Typed(loc browser.Locator) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.typed[loc])
}

// Clicks returns the locators of every clicked element, in order.
func (f *Fake) Clicks() []browser.Locator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.clicks)
}

// Navigations returns every URL passed to Navigate, in order.
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.navigations)
}

// Scripts returns every script passed to ExecuteScript, in order.
func (f *Fake) Scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.scripts)
}

// Quits counts Quit calls.
func (f *Fake) Quits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quits
}

// Current returns the handle of the active window.
func (f *Fake) Current() browser.WindowHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// -- browser.Session --

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	hook := f.onNavigate
	err := f.usable(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	if hook != nil {
		if err := hook(f, url); err != nil {
			return err
		}
	}

	f.mu.Lock()
	stall := f.stalled[url] > 0
	if stall {
		f.stalled[url]--
	}
	f.mu.Unlock()
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.usable(ctx); err != nil {
		return err
	}
	f.navigations = append(f.navigations, url)
	w := f.window(f.current)
	w.urls = append(w.urls, urlChange{at: f.clock.Now(), url: url})
	return nil
}

func (f *Fake) FindElement(ctx context.Context, loc browser.Locator) (browser.ElementRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.usable(ctx); err != nil {
		return nil, err
	}
	if !f.visible(loc) {
		return nil, fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	return ref{owner: f, loc: loc}, nil
}

func (f *Fake) FindElements(ctx context.Context, loc browser.Locator) ([]browser.ElementRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.usable(ctx); err != nil {
		return nil, err
	}
	if !f.visible(loc) {
		return []browser.ElementRef{}, nil
	}
	return []browser.ElementRef{ref{owner: f, loc: loc}}, nil
}

func (f *Fake) Type(ctx context.Context, el browser.ElementRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, err := f.resolve(ctx, el)
	if err != nil {
		return err
	}
	f.typed[loc] = append(f.typed[loc], text)
	return nil
}

func (f *Fake) Click(ctx context.Context, el browser.ElementRef) error {
	f.mu.Lock()
	loc, err := f.resolve(ctx, el)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.clicks = append(f.clicks, loc)
	hook := f.onClick
	f.mu.Unlock()

	if hook != nil {
		return hook(f, loc)
	}
	return nil
}

func (f *Fake) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.usable(ctx); err != nil {
		return "", err
	}
	return f.window(f.current).url(f.clock.Now()), nil
}

func (f *Fake) CurrentTitle(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.usable(ctx); err != nil {
		return "", err
	}
	return f.title, nil
}

func (f *Fake) WindowHandles(ctx context.Context) ([]browser.WindowHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.alive(ctx); err != nil {
		return nil, err
	}
	return f.openHandles(), nil
}

func (f *Fake) SwitchToWindow(ctx context.Context, h browser.WindowHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.alive(ctx); err != nil {
		return err
	}
	if !slices.Contains(f.openHandles(), h) {
		return fmt.Errorf("%s: %w", h, browser.ErrNoSuchWindow)
	}
	f.current = h
	return nil
}

func (f *Fake) CloseCurrentWindow(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.usable(ctx); err != nil {
		return err
	}
	if !f.sticky {
		f.window(f.current).closed = true
	}
	return nil
}

func (f *Fake) ExecuteScript(ctx context.Context, src string, res any) error {
	f.mu.Lock()
	if err := f.usable(ctx); err != nil {
		f.mu.Unlock()
		return err
	}
	f.scripts = append(f.scripts, src)
	hook := f.onScript
	f.mu.Unlock()

	if hook != nil {
		return hook(f, src)
	}
	return nil
}

func (f *Fake) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.usable(ctx); err != nil {
		return nil, err
	}
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return slices.Clone(PNG), nil
}

func (f *Fake) Quit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	if f.lost {
		return browser.ErrSessionLost
	}
	f.lost = true
	return nil
}

// -- internals; callers hold f.mu --

func (f *Fake) alive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.lost {
		return browser.ErrSessionLost
	}
	return nil
}

// usable additionally requires the active window to still be open.
func (f *Fake) usable(ctx context.Context) error {
	if err := f.alive(ctx); err != nil {
		return err
	}
	if w := f.window(f.current); w == nil || w.closed {
		return fmt.Errorf("current window %q: %w", f.current, browser.ErrNoSuchWindow)
	}
	return nil
}

func (f *Fake) window(h browser.WindowHandle) *window {
	for _, w := range f.windows {
		if w.handle == h {
			return w
		}
	}
	return nil
}

func (f *Fake) openHandles() []browser.WindowHandle {
	now := f.clock.Now()
	var hs []browser.WindowHandle
	for _, w := range f.windows {
		if !w.closed && !now.Before(w.openedAt) {
			hs = append(hs, w.handle)
		}
	}
	return hs
}

func (f *Fake) visible(loc browser.Locator) bool {
	e, ok := f.elements[loc]
	return ok && e.visible(f.clock.Now())
}

func (f *Fake) resolve(ctx context.Context, el browser.ElementRef) (browser.Locator, error) {
	if err := f.usable(ctx); err != nil {
		return browser.Locator{}, err
	}
	r, ok := el.(ref)
	if !ok || r.owner != f {
		return browser.Locator{}, browser.ErrForeignElement
	}
	if !f.visible(r.loc) {
		return browser.Locator{}, fmt.Errorf("stale element %s: %w", r.loc, browser.ErrNotFound)
	}
	return r.loc, nil
}

// Launcher hands out Fake sessions.
type Launcher struct {
	mu    sync.Mutex
	clock Clock

	// Setup scripts the fake of the i-th launch attempt, counting from zero.
	Setup func(i int, f *Fake)
	// Fail, when set, decides whether the i-th launch attempt fails.
	Fail     func(i int) error
	attempts int
	fakes    []*Fake
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher returns a launcher whose fakes share clock.
func NewLauncher(clock Clock, setup func(i int, f *Fake)) *Launcher {
	return &Launcher{clock: clock, Setup: setup}
}

func (l *Launcher) Launch(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.attempts
	l.attempts++
	if l.Fail != nil {
		if err := l.Fail(i); err != nil {
			return nil, err
		}
	}
	f := New(l.clock)
	if l.Setup != nil {
		l.Setup(i, f)
	}
	l.fakes = append(l.fakes, f)
	return f, nil
}

// Sessions returns every fake launched so far.
func (l *Launcher) Sessions() []*Fake {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.fakes)
}
