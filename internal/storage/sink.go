package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Create opens path for writing. Outputs named *.gz or *.zst are
// compressed on the fly; everything else is written as plain text.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	bw := bufio.NewWriterSize(f, 256*1024)

	switch {
	case strings.HasSuffix(path, ".gz"):
		gz := gzip.NewWriter(bw)
		return &layeredWriteCloser{w: gz, flush: bw.Flush, closers: []io.Closer{gz, f}}, nil

	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(bw)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("write: %w", err)
		}
		return &layeredWriteCloser{w: zw, flush: bw.Flush, closers: []io.Closer{zw, f}}, nil
	}

	return &layeredWriteCloser{w: bw, flush: bw.Flush, closers: []io.Closer{f}}, nil
}

type layeredWriteCloser struct {
	w       io.Writer
	flush   func() error
	closers []io.Closer
}

func (l *layeredWriteCloser) Write(p []byte) (int, error) { return l.w.Write(p) }

// Close closes the layers outside-in. The buffered layer sits between any
// compressor and the file, so it is flushed right before the file closes,
// after the compressor has emitted its trailer.
func (l *layeredWriteCloser) Close() error {
	var first error
	for i, c := range l.closers {
		if i == len(l.closers)-1 && l.flush != nil {
			if err := l.flush(); err != nil && first == nil {
				first = err
			}
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LineSink serializes whole-line appends from concurrent writers.
// Lines never interleave partially: each Append holds the lock for the
// full payload.
type LineSink struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: w}
}

// Append writes p followed by a newline unless p already ends with one.
// After the first write error the sink is poisoned and returns that error.
func (s *LineSink) Append(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if _, err := s.w.Write(p); err != nil {
		s.err = fmt.Errorf("write: %w", err)
		return s.err
	}
	if len(p) == 0 || p[len(p)-1] != '\n' {
		if _, err := s.w.Write([]byte{'\n'}); err != nil {
			s.err = fmt.Errorf("write: %w", err)
			return s.err
		}
	}
	return nil
}

// Err reports the first write error, if any.
func (s *LineSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
