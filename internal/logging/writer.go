// Package logging builds the process logger: a JSON slog handler over stdout,
// stderr or a size-rotated file, optionally fanned out to the system logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingWriter is an io.WriteCloser that rotates log files by size.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	size       int64
	maxBytes   int64
	maxBackups int
	maxAgeDays int
	seq        int
	now        func() time.Time
}

// NewRotatingWriter opens the log file (creating it and its directory if
// needed). Once a write would push the file past maxSizeMB it is renamed to
// <base>-<timestamp>.<seq><ext> and a fresh file is opened. At most maxBackups
// rotated files are kept and rotated files older than maxAgeDays are removed.
func NewRotatingWriter(filePath string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		filePath:   filePath,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAgeDays: maxAgeDays,
		now:        time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	if err := rw.openFile(); err != nil {
		return nil, err
	}

	return rw, nil
}

func (rw *RotatingWriter) openFile() error {
	f, err := os.OpenFile(rw.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file %s: %w", rw.filePath, err)
	}

	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write implements io.Writer. A single record larger than the limit is still
// written whole, into a freshly rotated file.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}

	if rw.size > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Close closes the underlying file. Later writes fail with os.ErrClosed.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("closing log file for rotation: %w", err)
	}
	rw.file = nil

	rw.seq++
	base, ext := rw.splitName()
	rotatedName := fmt.Sprintf("%s-%s.%06d%s", base, rw.now().Format("20060102-150405"), rw.seq, ext)
	if err := os.Rename(rw.filePath, rotatedName); err != nil {
		return fmt.Errorf("rotating log file: %w", err)
	}

	if err := rw.openFile(); err != nil {
		return err
	}

	go rw.cleanup()

	return nil
}

// splitName returns the path without extension and the extension, defaulting
// the latter to ".log".
func (rw *RotatingWriter) splitName() (string, string) {
	ext := filepath.Ext(rw.filePath)
	base := strings.TrimSuffix(rw.filePath, ext)
	if ext == "" {
		ext = ".log"
	}
	return base, ext
}

// rotatedFiles lists rotated siblings of the active file, oldest first.
func (rw *RotatingWriter) rotatedFiles() []string {
	base, ext := rw.splitName()
	prefix := filepath.Base(base) + "-"
	dir := filepath.Dir(rw.filePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var rotated []string
	for _, e := range entries {
		name := e.Name()
		if name == filepath.Base(rw.filePath) || e.IsDir() {
			continue
		}
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			rotated = append(rotated, name)
		}
	}
	// Timestamp then sequence, so lexical order is age order.
	sort.Strings(rotated)
	return rotated
}

func (rw *RotatingWriter) cleanup() {
	dir := filepath.Dir(rw.filePath)
	rotated := rw.rotatedFiles()

	for len(rotated) > rw.maxBackups {
		os.Remove(filepath.Join(dir, rotated[0])) //nolint:errcheck
		rotated = rotated[1:]
	}

	if rw.maxAgeDays <= 0 {
		return
	}
	cutoff := rw.now().AddDate(0, 0, -rw.maxAgeDays)
	for _, name := range rotated {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(path) //nolint:errcheck
		}
	}
}
