package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
)

const (
	// TimestampLayout is the yyyyMMdd_HHmmss suffix of every file name.
	TimestampLayout = "20060102_150405"
	// IndexFile is the manifest kept next to the screenshots.
	IndexFile = "index.json"
)

// Entry describes one stored screenshot in the index.
type Entry struct {
	Label      string    `json:"label"`
	File       string    `json:"file"`
	CapturedAt time.Time `json:"captured_at"`
	Size       int       `json:"size"`
}

// FileStore writes screenshots as PNG files into a directory and keeps an
// index.json manifest of them.
type FileStore struct {
	dir string

	mu      sync.Mutex
	entries []Entry
}

// NewFileStore creates dir (a leading ~ is expanded) and loads any index
// already present in it.
func NewFileStore(dir string) (*FileStore, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand artifact directory %q: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	s := &FileStore{dir: expanded}
	raw, err := os.ReadFile(filepath.Join(expanded, IndexFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read artifact index: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.entries); err != nil {
			return nil, fmt.Errorf("artifact index %s is corrupt: %w", IndexFile, err)
		}
	}
	return s, nil
}

// Dir returns the directory screenshots are written to.
func (s *FileStore) Dir() string { return s.dir }

// Save writes <label>_<yyyyMMdd_HHmmss>.png. A second capture for the same
// label within the same second gets a _2, _3, ... suffix.
func (s *FileStore) Save(ctx context.Context, label string, t time.Time, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	base := SanitizeLabel(label) + "_" + t.Format(TimestampLayout)
	var path string
	for n := 1; ; n++ {
		name := base + ".png"
		if n > 1 {
			name = fmt.Sprintf("%s_%d.png", base, n)
		}
		path = filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create screenshot file: %w", err)
		}
		_, werr := f.Write(data)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("failed to write screenshot: %w", werr)
		}
		break
	}

	s.entries = append(s.entries, Entry{
		Label:      label,
		File:       filepath.Base(path),
		CapturedAt: t,
		Size:       len(data),
	})
	if err := s.writeIndex(); err != nil {
		return path, err
	}
	return path, nil
}

// Entries returns a copy of the manifest.
func (s *FileStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func (s *FileStore) writeIndex() error {
	raw, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact index: %w", err)
	}
	tmp := filepath.Join(s.dir, IndexFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact index: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, IndexFile))
}

// SanitizeLabel turns a scenario label into a safe file name stem.
func SanitizeLabel(label string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(label) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.Trim(b.String(), "_.")
	if out == "" {
		return "scenario"
	}
	return out
}
