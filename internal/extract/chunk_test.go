package extract

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func writeTestLog(t *testing.T, lines int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "time=\"%d.0\" type=\"entered link\" link=\"%d\" vehicle=\"%d\"\n", 100+i, i%7, i)
	}
	path := filepath.Join(t.TempDir(), "events.log")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestSplitFileCoversInputOnce(t *testing.T) {
	path := writeTestLog(t, 1000)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	for _, jobs := range []int{1, 2, 3, 7, 16} {
		t.Run(fmt.Sprintf("jobs=%d", jobs), func(t *testing.T) {
			spans, err := SplitFile(path, jobs)
			if err != nil {
				t.Fatalf("SplitFile: %v", err)
			}

			// Spans must tile the file exactly: contiguous, in order,
			// starting at 0 and ending at the file size.
			var pos int64
			for _, sp := range spans {
				if sp.Start != pos {
					t.Fatalf("span starts at %d, expected %d", sp.Start, pos)
				}
				if sp.End <= sp.Start {
					t.Fatalf("empty span %+v", sp)
				}
				pos = sp.End
			}
			if pos != info.Size() {
				t.Fatalf("spans end at %d, file size is %d", pos, info.Size())
			}

			// Every boundary must fall on a line start.
			for _, sp := range spans[1:] {
				if sp.Start > 0 && data[sp.Start-1] != '\n' {
					t.Errorf("span start %d is mid-line", sp.Start)
				}
			}
		})
	}
}

func TestSplitFileTinyInput(t *testing.T) {
	path := writeTestLog(t, 2)
	spans, err := SplitFile(path, 8)
	if err != nil {
		t.Fatalf("SplitFile: %v", err)
	}
	// More workers than lines: spans still tile the file without overlap.
	if len(spans) > 2 {
		t.Errorf("got %d spans for a 2-line file", len(spans))
	}
}

// sortedRows returns the CSV rows of buf as a sorted slice, ignoring order.
func sortedRows(buf *bytes.Buffer) []string {
	rows := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	sort.Strings(rows)
	return rows
}

func TestRunParallelFileRowInvariance(t *testing.T) {
	path := writeTestLog(t, 5000)
	x := newTestExtractor(t, "")

	var sequential bytes.Buffer
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seqStats, err := x.Run(f, &sequential)
	f.Close()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := sortedRows(&sequential)

	for _, jobs := range []int{2, 4, 9} {
		t.Run(fmt.Sprintf("jobs=%d", jobs), func(t *testing.T) {
			var out bytes.Buffer
			stats, err := x.RunParallelFile(path, &out, jobs)
			if err != nil {
				t.Fatalf("RunParallelFile: %v", err)
			}
			if stats != seqStats {
				t.Errorf("stats = %+v, sequential %+v", stats, seqStats)
			}
			got := sortedRows(&out)
			if len(got) != len(want) {
				t.Fatalf("got %d rows, want %d", len(got), len(want))
			}
			for i := range got {
				if got[i] != want[i] {
					t.Fatalf("row %d differs: %q vs %q", i, got[i], want[i])
				}
			}
		})
	}
}

func TestRunParallelStreamRowInvariance(t *testing.T) {
	const lines = 20000
	var b strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "time=\"%d.0\" type=\"left link\" link=\"%d\" vehicle=\"%d\"\n", i, i%11, i)
	}
	input := b.String()

	x := newTestExtractor(t, "")

	var sequential bytes.Buffer
	seqStats, err := x.Run(strings.NewReader(input), &sequential)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := sortedRows(&sequential)

	var out bytes.Buffer
	stats, err := x.RunParallelStream(strings.NewReader(input), &out, 4)
	if err != nil {
		t.Fatalf("RunParallelStream: %v", err)
	}
	if stats != seqStats {
		t.Errorf("stats = %+v, sequential %+v", stats, seqStats)
	}

	got := sortedRows(&out)
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("row %d differs: %q vs %q", i, got[i], want[i])
		}
	}
}
