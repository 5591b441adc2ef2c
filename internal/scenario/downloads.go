// File: internal/scenario/downloads.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/xkilldash9x/gatecheck/internal/browser"
	"github.com/xkilldash9x/gatecheck/internal/wait"
)

// downloadSnapshot maps the files of a download directory to their
// modification times.
type downloadSnapshot map[string]time.Time

// snapshotDownloads lists the complete files in dir. A missing directory
// is empty.
func snapshotDownloads(dir string) (downloadSnapshot, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return downloadSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read download directory: %w", err)
	}
	snap := make(downloadSnapshot, len(entries))
	for _, de := range entries {
		if de.IsDir() || browser.IsPartialDownload(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed since ReadDir.
			continue
		}
		snap[de.Name()] = info.ModTime()
	}
	return snap, nil
}

// downloadFinished waits for a complete file matching pattern that is new
// or rewritten since before was taken.
func downloadFinished(dir, pattern string, before downloadSnapshot, t wait.Timing) wait.Condition[string] {
	return wait.Condition[string]{
		Description: fmt.Sprintf("download matching %q in %s", pattern, dir),
		Timing:      t,
		Check: func(context.Context) (string, bool, error) {
			now, err := snapshotDownloads(dir)
			if err != nil {
				return "", false, err
			}
			for name, mod := range now {
				if ok, _ := filepath.Match(pattern, name); !ok {
					continue
				}
				if prev, seen := before[name]; seen && !mod.After(prev) {
					continue
				}
				return filepath.Join(dir, name), true, nil
			}
			return "", false, nil
		},
	}
}
