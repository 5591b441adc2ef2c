package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/gatecheck/internal/wait"
)

func TestDownloadFinished(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	base := time.Date(2024, time.March, 9, 14, 0, 0, 0, time.UTC)
	write := func(name string, mod time.Time) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	write("report.csv", base)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "report-archive"), 0o755))
	before, err := snapshotDownloads(dir)
	require.NoError(t, err)
	assert.Len(t, before, 1, "directories are not downloads")

	cond := downloadFinished(dir, "report*", before, wait.Timing{Timeout: time.Second, Interval: 100 * time.Millisecond})

	_, ok, err := cond.Check(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a file already there when the row started does not count")

	write("report-2.csv.crdownload", base.Add(time.Minute))
	_, ok, err = cond.Check(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "an unfinished download does not count")

	write("report.csv", base.Add(time.Minute))
	path, ok, err := cond.Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "a rewritten file counts")
	assert.Equal(t, filepath.Join(dir, "report.csv"), path)
}

func TestSnapshotDownloads_MissingDir(t *testing.T) {
	snap, err := snapshotDownloads(filepath.Join(t.TempDir(), "not-yet"))
	require.NoError(t, err)
	assert.Empty(t, snap)
}
