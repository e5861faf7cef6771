package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/muurk/msrcap/internal/logging"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultLogFile is the capture log written when no path is configured.
const DefaultLogFile = "etqw-msr-log.txt"

// ErrWriterClosed is wrapped by the WriteError returned from Append after Close.
var ErrWriterClosed = errors.New("capture writer closed")

// WriteError reports a failed append. The record that was being appended is
// lost. When the destination is a file, any part of it that reached the file
// is truncated away so the log stays parseable.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("capture write to %s failed: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// syncer is implemented by *os.File.
type syncer interface {
	Sync() error
}

// truncater is implemented by *os.File.
type truncater interface {
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// Writer serializes appends from any number of sessions onto a single
// append-only destination. Each Append is one write under the lock, so the
// lines of one call are never split by another caller's lines.
type Writer struct {
	mu     sync.Mutex
	dst    io.Writer
	path   string
	sync   bool
	closed bool
	count  uint64
}

// OpenWriter opens (creating if needed) the capture log at path in append mode.
// When syncWrites is true every append is followed by fsync.
func OpenWriter(path string, syncWrites bool) (*Writer, error) {
	if path == "" {
		path = DefaultLogFile
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture log: %w", err)
	}

	logging.Info("Capture log opened",
		zap.String("path", path),
		zap.Bool("sync_writes", syncWrites),
	)

	return &Writer{dst: f, path: path, sync: syncWrites}, nil
}

// NewWriter wraps an arbitrary destination. name is only used in errors and logs.
func NewWriter(dst io.Writer, name string) *Writer {
	return &Writer{dst: dst, path: name}
}

// Path returns the destination name.
func (w *Writer) Path() string {
	return w.path
}

// Count returns the number of successful appends.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Append writes one group of lines atomically with respect to other appends.
// It does not retry; on failure a *WriteError is returned.
func (w *Writer) Append(lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
	}
	buf := []byte(b.String())

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &WriteError{Path: w.path, Err: ErrWriterClosed}
	}

	t, rewind := w.dst.(truncater)
	var offset int64
	if rewind {
		fi, err := t.Stat()
		if err != nil {
			return &WriteError{Path: w.path, Err: fmt.Errorf("stat: %w", err)}
		}
		offset = fi.Size()
	}

	n, err := w.dst.Write(buf)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if rewind && n > 0 {
			if terr := t.Truncate(offset); terr != nil {
				err = multierr.Append(err, fmt.Errorf("truncate partial record: %w", terr))
			} else {
				logging.Warn("Removed partial record from capture log",
					zap.String("path", w.path),
					zap.Int("bytes", n),
					zap.Int64("offset", offset),
				)
			}
		}
		return &WriteError{Path: w.path, Err: err}
	}

	if w.sync {
		if s, ok := w.dst.(syncer); ok {
			if err := s.Sync(); err != nil {
				return &WriteError{Path: w.path, Err: fmt.Errorf("sync: %w", err)}
			}
		}
	}

	w.count++
	return nil
}

// Write appends a formatted record.
func (w *Writer) Write(rec Record) error {
	return w.Append(rec.Lines())
}

// Close flushes and closes the destination if it is closable. Safe to call
// more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if s, ok := w.dst.(syncer); ok {
		err = multierr.Append(err, s.Sync())
	}
	if c, ok := w.dst.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}

	logging.Info("Capture log closed",
		zap.String("path", w.path),
		zap.Uint64("records", w.count),
	)
	return err
}
