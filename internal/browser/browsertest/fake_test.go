package browsertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/gatecheck/internal/browser"
	"github.com/xkilldash9x/gatecheck/internal/wait/waittest"
)

func TestFake_ElementsFollowTheClock(t *testing.T) {
	ctx := context.Background()
	clock := waittest.NewFakeClock()
	f := New(clock)
	loc := browser.CSS("p.oxd-alert-content-text")

	f.ShowAfter(loc, time.Second)
	f.HideAfter(loc, 3*time.Second)

	_, err := f.FindElement(ctx, loc)
	assert.ErrorIs(t, err, browser.ErrNotFound)

	clock.Advance(time.Second)
	el, err := f.FindElement(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, loc, el.Locator())

	clock.Advance(2 * time.Second)
	els, err := f.FindElements(ctx, loc)
	require.NoError(t, err)
	assert.Empty(t, els)
	assert.ErrorIs(t, f.Click(ctx, el), browser.ErrNotFound, "stale reference")
}

func TestFake_Windows(t *testing.T) {
	ctx := context.Background()
	clock := waittest.NewFakeClock()
	f := New(clock)

	h := f.OpenWindowAfter(time.Second)
	hs, err := f.WindowHandles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []browser.WindowHandle{"W1"}, hs)
	assert.ErrorIs(t, f.SwitchToWindow(ctx, h), browser.ErrNoSuchWindow)

	clock.Advance(time.Second)
	require.NoError(t, f.SwitchToWindow(ctx, h))
	require.NoError(t, f.CloseCurrentWindow(ctx))

	_, err = f.CurrentURL(ctx)
	assert.ErrorIs(t, err, browser.ErrNoSuchWindow, "closed window is not usable")
	hs, err = f.WindowHandles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []browser.WindowHandle{"W1"}, hs)
}

func TestFake_LoseAndQuit(t *testing.T) {
	ctx := context.Background()
	f := New(waittest.NewFakeClock())

	assert.NoError(t, f.Quit(ctx))
	assert.ErrorIs(t, f.Navigate(ctx, "https://example.test"), browser.ErrSessionLost)
	assert.ErrorIs(t, f.Quit(ctx), browser.ErrSessionLost)
	assert.Equal(t, 2, f.Quits())
}

func TestFake_ForeignElement(t *testing.T) {
	ctx := context.Background()
	clock := waittest.NewFakeClock()
	a, b := New(clock), New(clock)
	a.Show(browser.Name("username"))

	el, err := a.FindElement(ctx, browser.Name("username"))
	require.NoError(t, err)
	assert.ErrorIs(t, b.Type(ctx, el, "Admin"), browser.ErrForeignElement)
}

func TestFake_StallNavigation(t *testing.T) {
	f := New(waittest.NewFakeClock())
	f.StallNavigation("https://slow.example.test/")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.Navigate(ctx, "https://slow.example.test/")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.Navigations(), "a stalled load never lands")

	require.NoError(t, f.Navigate(context.Background(), "https://slow.example.test/"), "only the next load stalls")
	assert.Equal(t, []string{"https://slow.example.test/"}, f.Navigations())
}
