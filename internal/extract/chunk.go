package extract

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/trafficlab/flowdiag/internal/pkg/evql"
	"github.com/trafficlab/flowdiag/internal/storage"
)

// Span is a contiguous, line-aligned byte range of the input file assigned
// to one worker. Start is the first byte of a line; End is one past a
// newline (or the end of file).
type Span struct {
	Start int64
	End   int64
}

// SplitFile partitions the file at path into up to n spans of roughly equal
// size. Boundaries are advanced to the next line start, so no span ever
// begins or ends mid-line and the spans cover the file exactly once.
func SplitFile(path string, n int) ([]Span, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	size := info.Size()

	if n <= 1 || size == 0 {
		return []Span{{0, size}}, nil
	}

	var spans []Span
	prev := int64(0)
	for i := 1; i < n; i++ {
		target := size * int64(i) / int64(n)
		if target <= prev {
			continue
		}
		boundary, err := nextLineStart(f, target, size)
		if err != nil {
			return nil, err
		}
		if boundary <= prev || boundary >= size {
			continue
		}
		spans = append(spans, Span{prev, boundary})
		prev = boundary
	}
	spans = append(spans, Span{prev, size})
	return spans, nil
}

// nextLineStart returns the offset of the first line start at or after off.
func nextLineStart(f *os.File, off, size int64) (int64, error) {
	buf := make([]byte, 32*1024)
	for off < size {
		n, err := f.ReadAt(buf, off)
		if i := bytes.IndexByte(buf[:n], '\n'); i >= 0 {
			return off + int64(i) + 1, nil
		}
		off += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read: %w", err)
		}
	}
	return size, nil
}

// RunParallelFile processes an uncompressed file with one worker per span.
// Workers share nothing while processing; each owns its span exclusively
// and buffers its rows, which are appended to the shared sink as whole
// blocks when the worker finishes. Output order follows worker completion,
// not input order.
func (x *Extractor) RunParallelFile(path string, w io.Writer, jobs int) (Stats, error) {
	spans, err := SplitFile(path, jobs)
	if err != nil {
		return Stats{}, err
	}

	if len(spans) == 1 {
		f, err := os.Open(path)
		if err != nil {
			return Stats{}, fmt.Errorf("read: %w", err)
		}
		defer f.Close()
		return x.Run(f, w)
	}

	sink := storage.NewLineSink(w)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		total    Stats
		firstErr error
	)

	for _, span := range spans {
		wg.Add(1)
		go func(sp Span) {
			defer wg.Done()

			f, err := os.Open(path)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("read: %w", err)
				}
				mu.Unlock()
				return
			}
			defer f.Close()

			var buf bytes.Buffer
			stats, err := x.Run(io.NewSectionReader(f, sp.Start, sp.End-sp.Start), &buf)

			mu.Lock()
			total.Add(stats)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()

			if err == nil && buf.Len() > 0 {
				sink.Append(buf.Bytes())
			}
		}(span)
	}
	wg.Wait()

	if firstErr != nil {
		return total, firstErr
	}
	return total, sink.Err()
}

// streamBatchSize is the number of lines handed to a worker at a time when
// the input cannot be split by byte range (compressed input or a pipe).
const streamBatchSize = 8192

// RunParallelStream fans batches of lines from a single reader out to a
// worker pool. Used when the input is not byte-range addressable. Output
// order follows batch completion.
func (x *Extractor) RunParallelStream(r io.Reader, w io.Writer, jobs int) (Stats, error) {
	if jobs <= 1 {
		return x.Run(r, w)
	}

	sink := storage.NewLineSink(w)
	batches := make(chan []string, jobs*2)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total Stats
	)

	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var buf bytes.Buffer
			for batch := range batches {
				buf.Reset()
				stats := x.processBatch(batch, &buf)

				mu.Lock()
				total.Add(stats)
				mu.Unlock()

				if buf.Len() > 0 {
					sink.Append(buf.Bytes())
				}
			}
		}()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	batch := make([]string, 0, streamBatchSize)
	for scanner.Scan() {
		batch = append(batch, scanner.Text())
		if len(batch) == streamBatchSize {
			batches <- batch
			batch = make([]string, 0, streamBatchSize)
		}
	}
	if len(batch) > 0 {
		batches <- batch
	}
	close(batches)
	wg.Wait()

	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("read: %w", err)
	}
	return total, sink.Err()
}

// processBatch runs the per-line pipeline over a batch of lines.
func (x *Extractor) processBatch(lines []string, buf *bytes.Buffer) Stats {
	var stats Stats
	var row []byte

	for _, line := range lines {
		stats.Lines++

		ev, ok, err := x.dec.Decode(line)
		if err != nil {
			stats.Malformed++
			continue
		}
		if !ok {
			stats.Dropped++
			continue
		}
		if !evql.Match(x.filter, &ev) {
			stats.Filtered++
			continue
		}

		row = ev.AppendCSV(row[:0])
		row = append(row, '\n')
		buf.Write(row)
		stats.Rows++
	}
	return stats
}
