package diagnostic

import (
	"fmt"
	"os"
	"path/filepath"
)

// Report runs a configured sequence of analyses over one pair of count
// tables and renders the results.
type Report struct {
	Title    string
	Analyses []Analysis

	// Depends maps an analysis slug to the slug of the analysis whose
	// result it should consume instead of the base comparison. The
	// dependency must appear earlier in the sequence.
	Depends map[string]string
}

// Result pairs an analysis with its generated table, in run order.
type Result struct {
	Title string
	Slug  string
	Table *Table
}

// Run generates every analysis in order. Comparison views are built
// lazily: the time-resolved join is only attempted when an analysis
// needs it.
func (r *Report) Run(sim, obs Counts) ([]Result, error) {
	var in Input
	results := make([]Result, 0, len(r.Analyses))
	bySlug := make(map[string]*Table)

	for _, a := range r.Analyses {
		var prior *Table
		if dep, ok := r.Depends[a.Slug()]; ok {
			prior = bySlug[dep]
			if prior == nil {
				return nil, fmt.Errorf("analysis %q depends on %q which has not run before it", a.Slug(), dep)
			}
		}

		if prior == nil {
			if a.NeedsTime() {
				if in.Time == nil {
					tc, err := BuildTimeComparison(sim, obs)
					if err != nil {
						return nil, fmt.Errorf("analysis %q: %w", a.Slug(), err)
					}
					in.Time = tc
				}
			} else if in.Link == nil {
				lc, err := BuildLinkComparison(sim, obs)
				if err != nil {
					return nil, fmt.Errorf("analysis %q: %w", a.Slug(), err)
				}
				in.Link = lc
			}
		}

		table, err := a.Run(&in, prior)
		if err != nil {
			return nil, fmt.Errorf("analysis %q: %w", a.Slug(), err)
		}

		results = append(results, Result{Title: a.Title(), Slug: a.Slug(), Table: table})
		bySlug[a.Slug()] = table
	}
	return results, nil
}

// WriteCSVDir writes one CSV file per result into dir and returns the
// written paths.
func WriteCSVDir(dir string, results []Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	paths := make([]string, 0, len(results))
	for _, res := range results {
		path := filepath.Join(dir, res.Slug+".csv")
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		if err := res.Table.WriteCSV(f); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
