package extract

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/trafficlab/flowdiag/internal/model"
)

func newTestExtractor(t *testing.T, filter string) *Extractor {
	t.Helper()
	dec, err := NewDelimitedDecoder(DefaultSchema(), DefaultAllow)
	if err != nil {
		t.Fatalf("NewDelimitedDecoder: %v", err)
	}
	x, err := New(Options{Decoder: dec, Filter: filter})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return x
}

const testLog = `time="100.0" type="entered link" link="1" vehicle="10"
time="100.5" type="actend" person="3" link="1"
time="101.0" type="left link" link="1" vehicle="10"
garbage
time="102.25" type="entered link" link="2" vehicle="11"
`

func TestRun(t *testing.T) {
	x := newTestExtractor(t, "")

	var out bytes.Buffer
	stats, err := x.Run(strings.NewReader(testLog), &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "100.000000,entered link,1,10\n" +
		"101.000000,left link,1,10\n" +
		"102.250000,entered link,2,11\n"
	if out.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", out.String(), want)
	}

	if stats.Lines != 5 || stats.Rows != 3 || stats.Dropped != 1 || stats.Malformed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRunIdempotent(t *testing.T) {
	x := newTestExtractor(t, "")

	var first, second bytes.Buffer
	if _, err := x.Run(strings.NewReader(testLog), &first); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := x.Run(strings.NewReader(testLog), &second); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("sequential runs over the same input produced different bytes")
	}
}

func TestRunWithFilter(t *testing.T) {
	x := newTestExtractor(t, `type:"entered link" AND time > 101`)

	var out bytes.Buffer
	stats, err := x.Run(strings.NewReader(testLog), &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "102.250000,entered link,2,11\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if stats.Filtered != 2 {
		t.Errorf("Filtered = %d, want 2", stats.Filtered)
	}
}

func TestEach(t *testing.T) {
	x := newTestExtractor(t, "")

	var events []model.Event
	stats, err := x.Each(strings.NewReader(testLog), func(ev model.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	want := model.Event{Time: 100, Type: "entered link", Link: 1, Vehicle: 10}
	if events[0] != want {
		t.Errorf("events[0] = %+v, want %+v", events[0], want)
	}
	if stats.Lines != 5 || stats.Rows != 3 || stats.Dropped != 1 || stats.Malformed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestEachStopsOnCallbackError(t *testing.T) {
	x := newTestExtractor(t, "")

	wantErr := errors.New("stop")
	seen := 0
	_, err := x.Each(strings.NewReader(testLog), func(model.Event) error {
		seen++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want the callback error", err)
	}
	if seen != 1 {
		t.Errorf("callback ran %d times after erroring, want 1", seen)
	}
}

func TestRunEmptyInput(t *testing.T) {
	x := newTestExtractor(t, "")

	var out bytes.Buffer
	stats, err := x.Run(strings.NewReader(""), &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != 0 || stats.Lines != 0 {
		t.Errorf("empty input: out=%q stats=%+v", out.String(), stats)
	}
}

func TestNewRejectsBadFilter(t *testing.T) {
	dec, err := NewDelimitedDecoder(DefaultSchema(), DefaultAllow)
	if err != nil {
		t.Fatalf("NewDelimitedDecoder: %v", err)
	}
	if _, err := New(Options{Decoder: dec, Filter: "type:("}); err == nil {
		t.Error("New should reject an unparsable filter")
	}
}

func TestSaveStats(t *testing.T) {
	path := t.TempDir() + "/stats.json"
	stats := Stats{Lines: 5, Rows: 3, Dropped: 1, Malformed: 1}

	if err := SaveStats(path, stats); err != nil {
		t.Fatalf("SaveStats: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	for _, key := range []string{`"lines": 5`, `"rows": 3`, `"malformed": 1`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("stats file missing %q:\n%s", key, data)
		}
	}
}
