package speech

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Scratch owns the disposable audio files created during a process run.
type Scratch struct {
	mu    sync.Mutex
	dir   string
	files []string
}

// NewScratch creates dir if needed.
func NewScratch(dir string) (*Scratch, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch directory.
func (s *Scratch) Dir() string {
	return s.dir
}

// Create opens a new uniquely named file matching pattern (see os.CreateTemp)
// and tracks it for Cleanup.
func (s *Scratch) Create(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	s.mu.Lock()
	s.files = append(s.files, f.Name())
	s.mu.Unlock()
	return f, nil
}

// Files returns the tracked paths.
func (s *Scratch) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Cleanup removes every tracked file and returns how many were removed.
func (s *Scratch) Cleanup() int {
	s.mu.Lock()
	files := s.files
	s.files = nil
	s.mu.Unlock()

	removed := 0
	for _, path := range files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove scratch file", slog.String("path", filepath.Base(path)), slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed
}
