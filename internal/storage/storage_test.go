package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/trafficlab/flowdiag/internal/model"
)

func TestCreateOpenRoundtrip(t *testing.T) {
	payload := strings.Repeat("time=\"100.0\" type=\"entered link\" link=\"1\" vehicle=\"2\"\n", 500)

	for _, name := range []string{"plain.log", "events.log.gz", "events.log.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			wc, err := Create(path)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if _, err := io.WriteString(wc, payload); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := wc.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			rc, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if err := rc.Close(); err != nil {
				t.Fatalf("close reader: %v", err)
			}
			if string(got) != payload {
				t.Errorf("roundtrip changed content: %d bytes vs %d", len(got), len(payload))
			}

			compressed := strings.HasSuffix(name, ".gz") || strings.HasSuffix(name, ".zst")
			if IsCompressed(path) != compressed {
				t.Errorf("IsCompressed = %v, want %v", IsCompressed(path), compressed)
			}
		})
	}
}

func TestOpenDetectsByMagicNotExtension(t *testing.T) {
	// A gzip stream under a plain name still decompresses.
	dir := t.TempDir()
	gzPath := filepath.Join(dir, "a.gz")
	wc, err := Create(gzPath)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	io.WriteString(wc, "hello\n")
	wc.Close()

	plainPath := filepath.Join(dir, "misnamed.log")
	data, err := os.ReadFile(gzPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(plainPath, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rc, err := Open(plainPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello\n" {
		t.Errorf("got %q", got)
	}
}

func TestOpenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rc, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil || len(got) != 0 {
		t.Errorf("got %q, err %v", got, err)
	}
}

func TestLineSinkConcurrentAppends(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLineSink(&buf)

	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				line := fmt.Sprintf("w%d-%d", w, i)
				if err := sink.Append([]byte(line)); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if err := sink.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}
	// No partial interleaving: every line must be exactly one payload.
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if seen[line] {
			t.Fatalf("duplicate line %q", line)
		}
		seen[line] = true
		if !strings.HasPrefix(line, "w") || !strings.Contains(line, "-") {
			t.Fatalf("mangled line %q", line)
		}
	}
}

func TestLineSinkKeepsTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLineSink(&buf)

	sink.Append([]byte("already\n"))
	sink.Append([]byte("bare"))

	if buf.String() != "already\nbare\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestCountsSnapshotRoundtrip(t *testing.T) {
	rows := []model.LinkCount{
		{Link: 1, Time: 0, Count: 12},
		{Link: 1, Time: 900, Count: 7.5},
		{Link: 42, Time: 1800, Count: 0},
	}

	path := filepath.Join(t.TempDir(), "counts.snap")

	cw, err := NewCountsWriter()
	if err != nil {
		t.Fatalf("NewCountsWriter: %v", err)
	}
	if err := cw.WriteSnapshot(path, rows); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	if !IsSnapshot(path) {
		t.Error("IsSnapshot should recognize a written snapshot")
	}

	cr, err := NewCountsReader()
	if err != nil {
		t.Fatalf("NewCountsReader: %v", err)
	}
	got, err := cr.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(got), len(rows))
	}
	for i := range rows {
		if got[i] != rows[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], rows[i])
		}
	}
}

func TestReadSnapshotRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-snapshot")
	if err := os.WriteFile(path, []byte("link_id,count\n1,2\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if IsSnapshot(path) {
		t.Error("IsSnapshot must reject a CSV file")
	}

	cr, err := NewCountsReader()
	if err != nil {
		t.Fatalf("NewCountsReader: %v", err)
	}
	if _, err := cr.ReadSnapshot(path); err == nil {
		t.Error("ReadSnapshot should fail on a non-snapshot file")
	}
}

func TestCountsSnapshotEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.snap")

	cw, err := NewCountsWriter()
	if err != nil {
		t.Fatalf("NewCountsWriter: %v", err)
	}
	if err := cw.WriteSnapshot(path, nil); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	cr, err := NewCountsReader()
	if err != nil {
		t.Fatalf("NewCountsReader: %v", err)
	}
	got, err := cr.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d rows from an empty snapshot", len(got))
	}
}
