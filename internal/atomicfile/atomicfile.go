// Package atomicfile writes CLI export/dump output atomically: the whole
// file appears at its destination path or not at all, never half-written.
package atomicfile

import (
	"bytes"
	"errors"
	"os"

	"github.com/natefinch/atomic"
)

// Writer writes files atomically. The zero value is ready to use.
type Writer struct{}

// NewWriter returns a Writer.
func NewWriter() *Writer { return &Writer{} }

// WriteOptions configures Write.
type WriteOptions struct {
	// Perm specifies the file permissions for the final file. Must be
	// non-zero.
	Perm os.FileMode
}

// DefaultOptions returns the default WriteOptions.
func (*Writer) DefaultOptions() WriteOptions {
	return WriteOptions{Perm: 0o644}
}

// Write writes data to path atomically: it's written to a temp file in the
// same directory and renamed over path, so a reader never observes a
// partially-written file at path.
func (w *Writer) Write(path string, data []byte, opts WriteOptions) error {
	if path == "" {
		return errors.New("atomicfile: path is empty")
	}
	if opts.Perm == 0 {
		return errors.New("atomicfile: opts.Perm must be non-zero")
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}
	return os.Chmod(path, opts.Perm)
}

// WriteWithDefaults writes data to path atomically using DefaultOptions.
func (w *Writer) WriteWithDefaults(path string, data []byte) error {
	return w.Write(path, data, w.DefaultOptions())
}
