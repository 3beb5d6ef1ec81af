package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/trafficlab/flowdiag/internal/model"
)

// Snapshot header for aggregated link counts.
var countsMagic = []byte("FLOWCNT1")

var ErrInvalidSnapshot = errors.New("invalid counts snapshot header")

// CountsWriter writes aggregated link counts as a compact columnar
// snapshot: magic header, three zstd-compressed columns (link, bucket
// start, count), then a row-count footer.
type CountsWriter struct {
	encoder *zstd.Encoder
}

func NewCountsWriter() (*CountsWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &CountsWriter{encoder: enc}, nil
}

// WriteSnapshot writes rows to filename. Row order is preserved.
func (cw *CountsWriter) WriteSnapshot(filename string, rows []model.LinkCount) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(countsMagic); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	links := make([]int64, len(rows))
	times := make([]float64, len(rows))
	counts := make([]float64, len(rows))
	for i, r := range rows {
		links[i] = r.Link
		times[i] = r.Time
		counts[i] = r.Count
	}

	if err := cw.writeInt64Col(f, links); err != nil {
		return err
	}
	if err := cw.writeFloat64Col(f, times); err != nil {
		return err
	}
	if err := cw.writeFloat64Col(f, counts); err != nil {
		return err
	}

	if err := binary.Write(f, binary.LittleEndian, uint32(len(rows))); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (cw *CountsWriter) writeInt64Col(f *os.File, data []int64) error {
	buf := new(bytes.Buffer)
	for _, v := range data {
		binary.Write(buf, binary.LittleEndian, v)
	}
	return cw.compressAndWrite(f, buf.Bytes())
}

func (cw *CountsWriter) writeFloat64Col(f *os.File, data []float64) error {
	buf := new(bytes.Buffer)
	for _, v := range data {
		binary.Write(buf, binary.LittleEndian, math.Float64bits(v))
	}
	return cw.compressAndWrite(f, buf.Bytes())
}

func (cw *CountsWriter) compressAndWrite(f *os.File, raw []byte) error {
	compressed := cw.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))

	if err := binary.Write(f, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if _, err := f.Write(compressed); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// IsSnapshot reports whether the file at path carries the counts
// snapshot magic.
func IsSnapshot(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(countsMagic))
	n, _ := io.ReadFull(f, head)
	return bytes.Equal(head[:n], countsMagic)
}

// CountsReader reads snapshots produced by CountsWriter.
type CountsReader struct {
	decoder *zstd.Decoder
}

func NewCountsReader() (*CountsReader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &CountsReader{decoder: dec}, nil
}

// ReadSnapshot reads all rows from filename.
func (cr *CountsReader) ReadSnapshot(filename string) ([]model.LinkCount, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(countsMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if !bytes.Equal(header, countsMagic) {
		return nil, ErrInvalidSnapshot
	}

	linkData, err := cr.readAndDecompress(f)
	if err != nil {
		return nil, err
	}
	timeData, err := cr.readAndDecompress(f)
	if err != nil {
		return nil, err
	}
	countData, err := cr.readAndDecompress(f)
	if err != nil {
		return nil, err
	}

	var rowCount uint32
	if err := binary.Read(f, binary.LittleEndian, &rowCount); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	n := int(rowCount)
	if len(linkData) != n*8 || len(timeData) != n*8 || len(countData) != n*8 {
		return nil, errors.New("counts snapshot: column length mismatch")
	}

	rows := make([]model.LinkCount, n)
	for i := 0; i < n; i++ {
		rows[i].Link = int64(binary.LittleEndian.Uint64(linkData[i*8:]))
		rows[i].Time = math.Float64frombits(binary.LittleEndian.Uint64(timeData[i*8:]))
		rows[i].Count = math.Float64frombits(binary.LittleEndian.Uint64(countData[i*8:]))
	}
	return rows, nil
}

func (cr *CountsReader) readAndDecompress(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	decompressed, err := cr.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return decompressed, nil
}
