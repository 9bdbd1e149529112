package chatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink persists broadcast entries.
type Sink interface {
	Append(e Entry) error
}

// FileSink appends entries to a text file. Each Append opens the file,
// takes an exclusive flock, writes one line and closes it again, so the file
// can be rotated or removed between writes.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a FileSink writing to path. The file is created lazily.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string {
	return s.path
}

// Append writes e as a single line. Concurrent callers are serialized.
func (s *FileSink) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create chat log dir: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open chat log: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("lock chat log: %w", err)
	}
	defer unlockFile(f) //nolint:errcheck // released on close anyway

	if _, err := f.WriteString(e.String() + "\n"); err != nil {
		return fmt.Errorf("write chat log: %w", err)
	}

	return nil
}
