package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"runtime"
	"strings"

	"github.com/trafficlab/flowdiag/internal/config"
	"github.com/trafficlab/flowdiag/internal/counts"
	"github.com/trafficlab/flowdiag/internal/diagnostic"
	"github.com/trafficlab/flowdiag/internal/extract"
	"github.com/trafficlab/flowdiag/internal/matching"
	"github.com/trafficlab/flowdiag/internal/model"
	"github.com/trafficlab/flowdiag/internal/pkg/manifest"
	"github.com/trafficlab/flowdiag/internal/storage"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: flowdiag <command> [flags]

Commands:
  extract   Convert a simulation event log to an events CSV
  counts    Aggregate an events CSV into per-link interval counts
  report    Compare simulated against observed counts
  match     Associate detectors with network links

Run 'flowdiag <command> -h' for command flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "extract":
		runExtract(os.Args[2:])
	case "counts":
		runCounts(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "match":
		runMatch(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "flowdiag: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func runExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	inPath := fs.String("in", "-", "Input event log ('-' for stdin; gzip/zstd detected)")
	outPath := fs.String("out", "-", "Output CSV ('-' for stdout; .gz/.zst compressed)")
	cfgPath := fs.String("config", "", "YAML configuration file")
	format := fs.String("format", "log", "Input format: log or jsonl")
	delimiter := fs.String("delimiter", "", "Field delimiter override (single character)")
	types := fs.String("types", "", "Comma-separated event type allow-list override")
	filter := fs.String("filter", "", "Event filter expression")
	jobs := fs.Int("jobs", 1, "Worker count for parallel extraction (0 = all CPUs)")
	strict := fs.Bool("strict", false, "Fail when malformed lines are present")
	statsPath := fs.String("stats", "", "Write run statistics as JSON to this file")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("extract: %v", err)
	}

	schema := cfg.Extract.Schema()
	if *delimiter != "" {
		if len(*delimiter) != 1 {
			log.Fatalf("extract: delimiter must be a single character, got %q", *delimiter)
		}
		schema.Delimiter = (*delimiter)[0]
	}
	allow := cfg.Extract.Allow()
	if *types != "" {
		allow = splitList(*types)
	}
	expr := cfg.Extract.Filter
	if *filter != "" {
		expr = *filter
	}

	var dec extract.Decoder
	switch *format {
	case "log":
		dec, err = extract.NewDelimitedDecoder(schema, allow)
		if err != nil {
			log.Fatalf("extract: %v", err)
		}
	case "jsonl":
		dec = extract.NewJSONDecoder(allow)
	default:
		log.Fatalf("extract: unknown format %q", *format)
	}

	x, err := extract.New(extract.Options{Decoder: dec, Filter: expr})
	if err != nil {
		log.Fatalf("extract: %v", err)
	}

	workers := *jobs
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	out, closeOut := openOutput(*outPath)
	if _, err := io.WriteString(out, model.CSVHeader+"\n"); err != nil {
		log.Fatalf("extract: write: %v", err)
	}

	var stats extract.Stats
	switch {
	case *inPath != "-" && workers > 1 && !storage.IsCompressed(*inPath):
		stats, err = x.RunParallelFile(*inPath, out, workers)
	default:
		in, closeIn := openInput(*inPath)
		if workers > 1 {
			stats, err = x.RunParallelStream(in, out, workers)
		} else {
			stats, err = x.Run(in, out)
		}
		closeIn()
	}
	if err != nil {
		log.Fatalf("extract: %v", err)
	}
	closeOut()

	log.Printf("extract: %d lines, %d rows, %d dropped, %d filtered, %d malformed",
		stats.Lines, stats.Rows, stats.Dropped, stats.Filtered, stats.Malformed)

	if *statsPath != "" {
		if err := extract.SaveStats(*statsPath, stats); err != nil {
			log.Fatalf("extract: %v", err)
		}
	}
	if *strict && stats.Malformed > 0 {
		log.Fatalf("extract: %d malformed lines (strict mode)", stats.Malformed)
	}
}

func runCounts(args []string) {
	fs := flag.NewFlagSet("counts", flag.ExitOnError)
	inPath := fs.String("in", "", "Input events file (required; gzip/zstd detected)")
	outPath := fs.String("out", "-", "Output counts CSV ('-' for stdout)")
	cfgPath := fs.String("config", "", "YAML configuration file")
	format := fs.String("format", "csv", "Input format: csv (extracted events), log or jsonl (raw)")
	types := fs.String("types", "", "Comma-separated event types to count ('all' disables the restriction)")
	interval := fs.Float64("interval", 0, "Bucket width in seconds")
	bins := fs.Int("bins", 0, "Divide the observed time span into this many buckets")
	origin := fs.Float64("origin", 0, "Bucket origin")
	snapshot := fs.String("snapshot", "", "Also write a binary counts snapshot to this file")
	totals := fs.Bool("totals", false, "Write per-link totals without the time column")
	fs.Parse(args)

	if *inPath == "" {
		log.Fatalf("counts: -in is required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("counts: %v", err)
	}
	if *interval == 0 {
		*interval = cfg.Counts.Interval
	}
	if *bins == 0 {
		*bins = cfg.Counts.Bins
	}
	if *origin == 0 {
		*origin = cfg.Counts.Origin
	}
	if err := validateCountsOptions(*interval, *bins, *origin); err != nil {
		log.Fatalf("counts: %v", err)
	}

	// One count per traversal: only link-entry events by default. An
	// extracted events file still carries the paired exit events.
	allow := counts.DefaultTypes
	if len(cfg.Counts.EventTypes) > 0 {
		allow = cfg.Counts.EventTypes
	}
	switch {
	case *types == "all":
		allow = nil
	case *types != "":
		allow = splitList(*types)
	}
	filter := counts.NewTypeFilter(allow)

	width := *interval
	start := *origin
	if *bins > 0 {
		// First pass over the input to find the counted time span.
		minT, maxT := math.Inf(1), math.Inf(-1)
		if err := forEachEvent(*inPath, *format, cfg, func(ev model.Event) error {
			if !filter.Admits(ev.Type) {
				return nil
			}
			if ev.Time < minT {
				minT = ev.Time
			}
			if ev.Time > maxT {
				maxT = ev.Time
			}
			return nil
		}); err != nil {
			log.Fatalf("counts: %v", err)
		}
		if minT > maxT {
			log.Fatalf("counts: input has no countable events")
		}
		width = counts.IntervalForBins(minT, maxT, *bins)
		start = minT
	}

	agg := counts.NewWithOrigin(start, width)
	if err := forEachEvent(*inPath, *format, cfg, func(ev model.Event) error {
		if filter.Admits(ev.Type) {
			agg.ObserveEvent(ev)
		}
		return nil
	}); err != nil {
		log.Fatalf("counts: %v", err)
	}
	rows := agg.Rows()

	out, closeOut := openOutput(*outPath)
	if err := counts.WriteCSV(out, rows, !*totals); err != nil {
		log.Fatalf("counts: %v", err)
	}
	closeOut()

	if *snapshot != "" {
		cw, err := storage.NewCountsWriter()
		if err != nil {
			log.Fatalf("counts: %v", err)
		}
		if err := cw.WriteSnapshot(*snapshot, rows); err != nil {
			log.Fatalf("counts: %v", err)
		}
	}

	log.Printf("counts: %d rows, bucket width %gs", len(rows), width)
}

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	simPath := fs.String("sim", "", "Simulated counts (CSV or snapshot, required)")
	obsPath := fs.String("obs", "", "Observed counts (CSV or snapshot, required)")
	outDir := fs.String("out", "report", "Output directory for result CSVs")
	cfgPath := fs.String("config", "", "YAML configuration file")
	title := fs.String("title", "Traffic count diagnostics", "Report title")
	texPath := fs.String("tex", "", "Also render the report as a LaTeX document")
	manifestPath := fs.String("manifest", "", "Write a run manifest to this file")
	fs.Parse(args)

	if *simPath == "" || *obsPath == "" {
		log.Fatalf("report: -sim and -obs are required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("report: %v", err)
	}
	if cfg.Report.Title != "" {
		*title = cfg.Report.Title
	}

	sim, err := loadCounts(*simPath)
	if err != nil {
		log.Fatalf("report: %v", err)
	}
	obs, err := loadCounts(*obsPath)
	if err != nil {
		log.Fatalf("report: %v", err)
	}

	rep, err := buildReport(*title, cfg.Report, sim.HasTime && obs.HasTime)
	if err != nil {
		log.Fatalf("report: %v", err)
	}

	results, err := rep.Run(sim, obs)
	if err != nil {
		log.Fatalf("report: %v", err)
	}

	paths, err := diagnostic.WriteCSVDir(*outDir, results)
	if err != nil {
		log.Fatalf("report: %v", err)
	}

	if *texPath != "" {
		f, err := os.Create(*texPath)
		if err != nil {
			log.Fatalf("report: write: %v", err)
		}
		if err := diagnostic.WriteLaTeX(f, *title, results); err != nil {
			f.Close()
			log.Fatalf("report: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("report: write: %v", err)
		}
		paths = append(paths, *texPath)
	}

	if *manifestPath != "" {
		m := manifest.New("flowdiag report")
		for _, p := range []string{*simPath, *obsPath} {
			if err := m.AddInput(p); err != nil {
				log.Fatalf("report: %v", err)
			}
		}
		for _, p := range paths {
			if err := m.AddOutput(p); err != nil {
				log.Fatalf("report: %v", err)
			}
		}
		if err := m.Save(*manifestPath); err != nil {
			log.Fatalf("report: %v", err)
		}
	}

	log.Printf("report: %d analyses written to %s", len(results), *outDir)
}

// buildReport assembles the analysis sequence from configuration, or the
// default sequence when none is configured. The earth mover analysis is
// only included by default when both inputs are time-resolved.
func buildReport(title string, cfg config.ReportConfig, haveTime bool) (*diagnostic.Report, error) {
	rep := &diagnostic.Report{Title: title, Depends: make(map[string]string)}

	if len(cfg.Analyses) == 0 {
		comparison := &diagnostic.CountComparison{}
		summary := &diagnostic.CountSummaryStats{}
		rep.Analyses = []diagnostic.Analysis{comparison, summary}
		rep.Depends[summary.Slug()] = comparison.Slug()
		if haveTime {
			rep.Analyses = append(rep.Analyses, &diagnostic.EarthMoverDistance{})
		}
		return rep, nil
	}

	for _, ac := range cfg.Analyses {
		var metrics []diagnostic.Metric
		for _, name := range ac.Metrics {
			m, err := diagnostic.ParseMetric(name)
			if err != nil {
				return nil, err
			}
			metrics = append(metrics, m)
		}
		var stats []diagnostic.Stat
		for _, name := range ac.Stats {
			s, err := diagnostic.ParseStat(name)
			if err != nil {
				return nil, err
			}
			stats = append(stats, s)
		}

		a, err := diagnostic.NewAnalysis(ac.Name, metrics, stats)
		if err != nil {
			return nil, err
		}
		rep.Analyses = append(rep.Analyses, a)
		if ac.DependsOn != "" {
			rep.Depends[a.Slug()] = ac.DependsOn
		}
	}
	return rep, nil
}

func runMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	detPath := fs.String("detectors", "", "Detectors CSV (required)")
	linkPath := fs.String("links", "", "Network links CSV (required)")
	nodePath := fs.String("nodes", "", "Network nodes CSV (required)")
	dirPath := fs.String("directions", "", "Direction reference points CSV")
	outPath := fs.String("out", "-", "Output CSV ('-' for stdout)")
	cfgPath := fs.String("config", "", "YAML configuration file")
	fs.Parse(args)

	if *detPath == "" || *linkPath == "" || *nodePath == "" {
		log.Fatalf("match: -detectors, -links and -nodes are required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("match: %v", err)
	}

	detectors, records, header, err := readDetectorsFile(*detPath, cfg.Match.Detectors)
	if err != nil {
		log.Fatalf("match: %v", err)
	}
	links, err := readWith(*linkPath, matching.ReadLinks)
	if err != nil {
		log.Fatalf("match: %v", err)
	}
	nodes, err := readWith(*nodePath, matching.ReadNodes)
	if err != nil {
		log.Fatalf("match: %v", err)
	}

	directions := map[string]matching.Point{}
	if *dirPath != "" {
		directions, err = readWith(*dirPath, matching.ReadDirections)
		if err != nil {
			log.Fatalf("match: %v", err)
		}
	}

	network := matching.NewNetwork(links, nodes)
	matches := network.MatchAll(detectors, directions)

	matched := 0
	for _, m := range matches {
		if m.LinkID != "" {
			matched++
		}
	}

	out, closeOut := openOutput(*outPath)
	if err := matching.WriteMatches(out, header, records, matches); err != nil {
		log.Fatalf("match: %v", err)
	}
	closeOut()

	log.Printf("match: %d of %d detectors matched", matched, len(detectors))
}

// openInput opens an input path, '-' meaning stdin, with transparent
// decompression. The returned func releases the reader; failures there
// are fatal because a truncated compressed stream surfaces on close.
func openInput(path string) (io.Reader, func()) {
	if path == "-" {
		rc, err := storage.Decompress(io.NopCloser(os.Stdin))
		if err != nil {
			log.Fatalf("read: %v", err)
		}
		return rc, func() { rc.Close() }
	}
	rc, err := storage.Open(path)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return rc, func() {
		if err := rc.Close(); err != nil {
			log.Fatalf("read: %v", err)
		}
	}
}

// openOutput opens an output path, '-' meaning stdout.
func openOutput(path string) (io.Writer, func()) {
	if path == "-" {
		return os.Stdout, func() {}
	}
	wc, err := storage.Create(path)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return wc, func() {
		if err := wc.Close(); err != nil {
			log.Fatalf("write: %v", err)
		}
	}
}

// validateCountsOptions checks the bucketing flags after configuration
// values have been folded in. In bins mode the origin is derived from
// the earliest counted event, so a configured origin would be ignored.
func validateCountsOptions(interval float64, bins int, origin float64) error {
	if interval <= 0 && bins <= 0 {
		return errors.New("one of -interval or -bins is required")
	}
	if interval > 0 && bins > 0 {
		return errors.New("-interval and -bins are mutually exclusive")
	}
	if bins > 0 && origin != 0 {
		return errors.New("-origin cannot be combined with -bins; the origin is derived from the data")
	}
	return nil
}

// forEachEvent streams the events in path through fn. The csv format is
// the extractor's output; log and jsonl are raw event logs, decoded with
// the extraction configuration so the same allow-list and filter apply.
func forEachEvent(path, format string, cfg config.Config, fn func(model.Event) error) error {
	rc, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	var dec extract.Decoder
	switch format {
	case "csv":
		return counts.ReadEventsCSV(rc, fn)
	case "log":
		dec, err = extract.NewDelimitedDecoder(cfg.Extract.Schema(), cfg.Extract.Allow())
		if err != nil {
			return err
		}
	case "jsonl":
		dec = extract.NewJSONDecoder(cfg.Extract.Allow())
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	x, err := extract.New(extract.Options{Decoder: dec, Filter: cfg.Extract.Filter})
	if err != nil {
		return err
	}
	_, err = x.Each(rc, fn)
	return err
}

// loadCounts reads a counts table, accepting both the CSV form and the
// binary snapshot form, told apart by the snapshot magic.
func loadCounts(path string) (diagnostic.Counts, error) {
	if storage.IsSnapshot(path) {
		cr, err := storage.NewCountsReader()
		if err != nil {
			return diagnostic.Counts{}, err
		}
		rows, err := cr.ReadSnapshot(path)
		if err != nil {
			return diagnostic.Counts{}, err
		}
		return diagnostic.Counts{Rows: rows, HasTime: true}, nil
	}

	rc, err := storage.Open(path)
	if err != nil {
		return diagnostic.Counts{}, err
	}
	defer rc.Close()

	rows, hasTime, err := counts.ReadCSV(rc)
	if err != nil {
		return diagnostic.Counts{}, err
	}
	return diagnostic.Counts{Rows: rows, HasTime: hasTime}, nil
}

func readDetectorsFile(path string, cols matching.DetectorColumns) ([]matching.Detector, [][]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read: %w", err)
	}
	defer f.Close()
	return matching.ReadDetectors(f, cols)
}

// readWith opens path and applies a CSV reader to it.
func readWith[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("read: %w", err)
	}
	defer f.Close()
	return read(f)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
