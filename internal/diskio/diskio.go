// Package diskio wraps the whole-file reads and atomic whole-file writes
// the coordination engine needs. Writes go through
// github.com/natefinch/atomic, which writes to a temp file in the same
// directory and renames it into place, with Windows-safe retry-on-rename.
package diskio

import (
	"bytes"
	"fmt"
	"os"
	"time"

	atomicfile "github.com/natefinch/atomic"
)

// Stat is the subset of file metadata the engine needs after a write.
type Stat struct {
	Size    int64
	ModTime time.Time
}

// ReadFile reads the whole file at path.
func ReadFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return content, nil
}

// WriteFile atomically replaces the contents of path with content: a
// subsequent read is guaranteed to observe either the old or the new
// content in full, never a partial write.
func WriteFile(path string, content []byte) error {
	if err := atomicfile.WriteFile(path, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// StatFile returns size/mtime for path.
func StatFile(path string) (Stat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Stat{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Stat{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
