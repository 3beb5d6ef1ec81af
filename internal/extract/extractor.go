package extract

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/trafficlab/flowdiag/internal/model"
	"github.com/trafficlab/flowdiag/internal/pkg/evql"
)

// Stats counts what happened to each input line of a run. Dropped lines are
// well-formed lines of other event types (a normal condition); malformed
// lines failed to decode.
type Stats struct {
	Lines     int64 `json:"lines"`
	Rows      int64 `json:"rows"`
	Dropped   int64 `json:"dropped"`
	Filtered  int64 `json:"filtered"`
	Malformed int64 `json:"malformed"`
}

// Add merges o into s.
func (s *Stats) Add(o Stats) {
	s.Lines += o.Lines
	s.Rows += o.Rows
	s.Dropped += o.Dropped
	s.Filtered += o.Filtered
	s.Malformed += o.Malformed
}

// SaveStats writes run stats as JSON, atomically via rename.
func SaveStats(path string, stats Stats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Options configures an Extractor.
type Options struct {
	Decoder Decoder
	Filter  string // optional EVQL expression applied after decoding
}

// Extractor streams an event log into CSV rows: one line in, at most one
// row out, nothing retained in between.
type Extractor struct {
	dec    Decoder
	filter evql.Node
}

// New builds an Extractor. The EVQL filter, if any, is parsed once here.
func New(opts Options) (*Extractor, error) {
	if opts.Decoder == nil {
		return nil, errors.New("extract: decoder is required")
	}

	node, err := evql.Parse(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}

	return &Extractor{dec: opts.Decoder, filter: node}, nil
}

// maxLineSize bounds a single input line. Event records are short; this
// only guards against scanning a non-line-oriented file by mistake.
const maxLineSize = 1024 * 1024

// Run processes r sequentially and writes one CSV row per matching line
// to w. Input order is preserved. The header is not written here: the
// caller emits it exactly once regardless of how many runs feed one sink.
func (x *Extractor) Run(r io.Reader, w io.Writer) (Stats, error) {
	var stats Stats
	var row []byte

	bw := bufio.NewWriterSize(w, 256*1024)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		stats.Lines++

		ev, ok, err := x.dec.Decode(scanner.Text())
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
		if _, err := bw.Write(row); err != nil {
			return stats, fmt.Errorf("write: %w", err)
		}
		stats.Rows++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("write: %w", err)
	}
	return stats, nil
}

// Each runs the per-line pipeline over r and hands every surviving event
// to fn instead of encoding it. Lets a consumer aggregate a raw log
// directly, without an intermediate CSV file.
func (x *Extractor) Each(r io.Reader, fn func(model.Event) error) (Stats, error) {
	var stats Stats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		stats.Lines++

		ev, ok, err := x.dec.Decode(scanner.Text())
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

		if err := fn(ev); err != nil {
			return stats, err
		}
		stats.Rows++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read: %w", err)
	}
	return stats, nil
}
