package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/gatecheck/internal/browser/browsertest"
	"github.com/xkilldash9x/gatecheck/internal/mocks"
	"github.com/xkilldash9x/gatecheck/internal/wait/waittest"
)

var capturedAt = time.Date(2024, time.March, 9, 14, 30, 5, 0, time.UTC)

func fixedNow() time.Time { return capturedAt }

func TestSanitizeLabel(t *testing.T) {
	tests := map[string]string{
		"valid login":            "valid_login",
		"Admin / wrongPassword":  "Admin_wrongPassword",
		"  empty: both fields  ": "empty_both_fields",
		"row-3.retry":            "row-3.retry",
		"../../etc/passwd":       "etc_passwd",
		"ünïcode":                "n_code",
		"":                       "scenario",
		"///":                    "scenario",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeLabel(in), "label %q", in)
	}
}

func TestFileStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "screenshots")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ref, err := store.Save(context.Background(), "wrong password", capturedAt, browsertest.PNG)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "wrong_password_20240309_143005.png"), ref)
	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, browsertest.PNG, data)
}

func TestFileStore_CollisionSuffix(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var refs []string
	for i := 0; i < 3; i++ {
		ref, err := store.Save(ctx, "empty fields", capturedAt, []byte{byte(i)})
		require.NoError(t, err)
		refs = append(refs, filepath.Base(ref))
	}

	assert.Equal(t, []string{
		"empty_fields_20240309_143005.png",
		"empty_fields_20240309_143005_2.png",
		"empty_fields_20240309_143005_3.png",
	}, refs)
}

func TestFileStore_Index(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Save(ctx, "first", capturedAt, []byte("abc"))
	require.NoError(t, err)
	_, err = store.Save(ctx, "second", capturedAt.Add(time.Second), []byte("de"))
	require.NoError(t, err)

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	entries := reopened.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Label)
	assert.Equal(t, "first_20240309_143005.png", entries[0].File)
	assert.Equal(t, 3, entries[0].Size)
	assert.True(t, capturedAt.Equal(entries[0].CapturedAt))
	assert.Equal(t, "second_20240309_143006.png", entries[1].File)

	_, err = os.Stat(filepath.Join(dir, IndexFile+".tmp"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileStore_CorruptIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte("{not json"), 0o644))

	_, err := NewFileStore(dir)
	assert.ErrorContains(t, err, "corrupt")
}

func TestFileStore_CancelledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Save(ctx, "x", capturedAt, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.Entries())
}

func TestCapturer_Capture(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	fake := browsertest.New(waittest.NewFakeClock())
	c := NewCapturer(store, fixedNow, zaptest.NewLogger(t))

	ref := c.Capture(context.Background(), fake, "Admin/Admin123")

	assert.Equal(t, "Admin_Admin123_20240309_143005.png", filepath.Base(ref))
	assert.Len(t, store.Entries(), 1)
}

func TestCapturer_ScreenshotFailureIsLoggedNotRaised(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	fake := browsertest.New(waittest.NewFakeClock())
	fake.FailScreenshots(errors.New("target crashed"))

	ref := NewCapturer(store, fixedNow, zap.New(core)).Capture(context.Background(), fake, "row")

	assert.Empty(t, ref)
	assert.Empty(t, store.Entries())
	require.Equal(t, 1, logs.FilterMessage("Failed to capture screenshot.").Len())
	assert.Equal(t, "row", logs.All()[0].ContextMap()["label"])
}

func TestCapturer_StoreFailure(t *testing.T) {
	ctx := context.Background()
	session := new(mocks.MockSession)
	session.On("CaptureScreenshot", ctx).Return([]byte("png"), nil)

	store := new(mocks.MockArtifactStore)
	store.On("Save", ctx, "row", capturedAt, []byte("png")).Return("", errors.New("disk full")).Once()
	store.On("Save", ctx, "row", capturedAt, []byte("png")).Return("/tmp/row.png", errors.New("index not written")).Once()

	c := NewCapturer(store, fixedNow, zaptest.NewLogger(t))
	assert.Empty(t, c.Capture(ctx, session, "row"))
	assert.Equal(t, "/tmp/row.png", c.Capture(ctx, session, "row"), "a written file is still reported")

	session.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestCapturer_Disabled(t *testing.T) {
	var c *Capturer
	assert.Empty(t, c.Capture(context.Background(), nil, "row"))
	assert.Empty(t, NewCapturer(nil, nil, zaptest.NewLogger(t)).Capture(context.Background(), nil, "row"))
}
