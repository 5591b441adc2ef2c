// internal/browser/downloads.go
package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Suffixes of files a download is written to before it completes. Chrome
// uses .crdownload; the playwright session saves to .part and renames.
var partialSuffixes = []string{".crdownload", ".part", ".tmp"}

// IsPartialDownload reports whether name is a download still in progress.
func IsPartialDownload(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// PrepareDownloadDir creates dir if needed and returns its absolute path,
// which is what the browsers expect.
func PrepareDownloadDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve download directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	return abs, nil
}

// downloadPath is where a download suggested as name is saved in dir. Only
// the base name is kept so a download cannot escape dir.
func downloadPath(dir, name string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		base = "download"
	}
	return filepath.Join(dir, base)
}
