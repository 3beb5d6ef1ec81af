package storage

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Magic bytes used to sniff compressed inputs.
var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Open opens path for reading and transparently decompresses gzip or zstd
// content, detected by magic bytes rather than file extension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	rc, err := Decompress(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return rc, nil
}

// Decompress wraps rc with the matching decompressor if its first bytes
// identify a gzip or zstd stream. Plain content passes through unchanged.
func Decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(rc, 64*1024)

	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
		return &layeredReadCloser{r: gz, closers: []io.Closer{gz, rc}}, nil

	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
		zrc := zr.IOReadCloser()
		return &layeredReadCloser{r: zrc, closers: []io.Closer{zrc, rc}}, nil
	}

	return &layeredReadCloser{r: br, closers: []io.Closer{rc}}, nil
}

// IsCompressed reports whether the file at path starts with a gzip or
// zstd magic. Compressed files cannot be split by byte range.
func IsCompressed(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 4)
	n, _ := io.ReadFull(f, head)
	return bytes.HasPrefix(head[:n], gzipMagic) || bytes.HasPrefix(head[:n], zstdMagic)
}

// layeredReadCloser reads from the outermost layer and closes all layers
// outside-in.
type layeredReadCloser struct {
	r       io.Reader
	closers []io.Closer
}

func (l *layeredReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }

func (l *layeredReadCloser) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
