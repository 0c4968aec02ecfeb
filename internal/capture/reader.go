package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Reader captures raw PCM from whatever Open returns: stdin, a FIFO fed by
// another recorder, or a file.
type Reader struct {
	name   string
	open   func() (io.ReadCloser, error)
	format Format
}

// NewReader wraps an opener. The opener is called on every Acquire.
func NewReader(name string, format Format, open func() (io.ReadCloser, error)) *Reader {
	return &Reader{name: name, open: open, format: format}
}

// NewStdin reads PCM from the process's standard input.
func NewStdin(format Format) *Reader {
	return NewReader("stdin", format, func() (io.ReadCloser, error) {
		return io.NopCloser(os.Stdin), nil
	})
}

// NewPath reads PCM from a file or FIFO path.
func NewPath(path string, format Format) *Reader {
	name := strings.TrimSpace(path)
	if name == "" {
		name = "fifo"
	}
	return NewReader(name, format, func() (io.ReadCloser, error) {
		return os.Open(path)
	})
}

func (r *Reader) Name() string {
	if strings.TrimSpace(r.name) == "" {
		return "reader"
	}
	return r.name
}

func (r *Reader) Acquire(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", r.Name(), err)
	}
	if r.open == nil {
		return nil, fmt.Errorf("%w: %s: no source", ErrDeviceUnavailable, r.Name())
	}
	rc, err := r.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, r.Name(), err)
	}
	return newStream(r.Name(), rc, r.format, nil), nil
}
