package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the maximum size of a log file in megabytes before rotation.
	// A value of 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of old log files to keep.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// DefaultRotationConfig returns a RotationConfig with sensible defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter is an io.WriteCloser that rotates its file once it grows
// past the configured size. It is safe for concurrent use.
type RotatingWriter struct {
	mu     sync.Mutex
	path   string
	limit  int64
	keep   int
	gz     bool
	file   *os.File
	size   int64
	closed bool
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, config RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:  path,
		limit: int64(config.MaxSizeMB) << 20,
		keep:  config.MaxBackups,
		gz:    config.Compress,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write implements io.Writer, rotating first when p would cross the limit.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.closed {
		return 0, errors.New("log file is closed")
	}
	if rw.limit > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
			if rw.file == nil {
				return 0, err
			}
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// rotate shifts packline.log.N up by one, moves the live file to .1 and
// reopens. The caller must hold the mutex.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	if rw.keep <= 0 {
		if err := os.Remove(rw.path); err != nil && !os.IsNotExist(err) {
			return errors.Join(err, rw.open())
		}
		return rw.open()
	}

	for _, ext := range []string{"", ".gz"} {
		_ = os.Remove(rw.backup(rw.keep) + ext)
	}
	for i := rw.keep - 1; i >= 1; i-- {
		for _, ext := range []string{"", ".gz"} {
			if _, err := os.Stat(rw.backup(i) + ext); err == nil {
				_ = os.Rename(rw.backup(i)+ext, rw.backup(i+1)+ext)
			}
		}
	}

	if err := os.Rename(rw.path, rw.backup(1)); err != nil {
		return errors.Join(fmt.Errorf("failed to rename log file: %w", err), rw.open())
	}
	if rw.gz {
		gzipInPlace(rw.backup(1))
	}
	return rw.open()
}

func (rw *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// gzipInPlace replaces path with path.gz. The original is only removed once
// the compressed copy is complete.
func gzipInPlace(path string) {
	src, err := os.Open(path)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	zw := gzip.NewWriter(dst)
	_, copyErr := io.Copy(zw, src)
	closeErr := errors.Join(zw.Close(), dst.Close())
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path + ".gz")
		return
	}
	_ = os.Remove(path)
}

// Size returns the number of bytes in the live file.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// Close syncs and closes the live file. It is idempotent.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.closed {
		return nil
	}
	rw.closed = true
	if rw.file == nil {
		return nil
	}
	if err := rw.file.Sync(); err != nil {
		_ = rw.file.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	return rw.file.Close()
}
