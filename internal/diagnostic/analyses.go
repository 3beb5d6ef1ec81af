package diagnostic

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Input carries the comparison views an analysis may consume. Both are
// built lazily by the report runner; an analysis only receives the views
// its kind requires.
type Input struct {
	Link *LinkComparison
	Time *TimeComparison
}

// Analysis computes one result table. When a dependence is configured for
// an analysis, Run receives the dependency's table as prior and should
// derive its result from it instead of the base comparison.
type Analysis interface {
	Title() string
	Slug() string
	NeedsTime() bool
	Run(in *Input, prior *Table) (*Table, error)
}

// CountComparison produces the per-link table of simulated vs observed
// counts with the selected comparison metrics.
type CountComparison struct {
	Metrics []Metric
}

func (a *CountComparison) Title() string   { return "Link counts comparison analyses" }
func (a *CountComparison) Slug() string    { return "comparison" }
func (a *CountComparison) NeedsTime() bool { return false }

func (a *CountComparison) Run(in *Input, prior *Table) (*Table, error) {
	if prior != nil {
		return nil, errors.New("comparison cannot derive from another analysis")
	}

	metrics := a.Metrics
	if len(metrics) == 0 {
		metrics = DefaultMetrics
	}

	c := in.Link
	t := &Table{
		IndexName: "link_id",
		Index:     make([]string, len(c.Links)),
		Columns:   []string{"count_sim", "count_obs"},
		Data:      make([][]float64, len(c.Links)),
		Long:      true,
	}
	for _, m := range metrics {
		t.Columns = append(t.Columns, string(m))
	}

	for i, link := range c.Links {
		t.Index[i] = strconv.FormatInt(link, 10)
		row := make([]float64, 0, len(t.Columns))
		row = append(row, c.Sim[i], c.Obs[i])
		for _, m := range metrics {
			row = append(row, m.Eval(c.Sim[i], c.Obs[i]))
		}
		t.Data[i] = row
	}
	return t, nil
}

// Stat is a summary statistic over one comparison column.
type Stat string

const (
	StatMin    Stat = "min"
	StatMax    Stat = "max"
	StatMean   Stat = "mean"
	StatMedian Stat = "median"
	StatQ1     Stat = "quartile_1"
	StatQ3     Stat = "quartile_3"
)

// DefaultStats is the statistic selection applied when none is configured.
var DefaultStats = []Stat{StatMin, StatMax, StatMedian, StatMean, StatQ1, StatQ3}

// ParseStat validates a statistic name from configuration.
func ParseStat(name string) (Stat, error) {
	switch Stat(name) {
	case StatMin, StatMax, StatMean, StatMedian, StatQ1, StatQ3:
		return Stat(name), nil
	}
	return "", errors.New("unknown statistic: " + name)
}

// Eval computes the statistic over values. NaN inputs (a GEH over two
// zero counts, for example) are skipped, so the remaining cells still
// summarize; infinities participate and propagate. An input with no
// usable values yields NaN.
func (s Stat) Eval(values []float64) float64 {
	vals := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	switch s {
	case StatMin:
		min := vals[0]
		for _, v := range vals[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case StatMax:
		max := vals[0]
		for _, v := range vals[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case StatMean:
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals))
	case StatMedian:
		return quantile(vals, 0.5)
	case StatQ1:
		return quantile(vals, 0.25)
	case StatQ3:
		return quantile(vals, 0.75)
	default:
		return math.NaN()
	}
}

// quantile uses linear interpolation between closest ranks.
func quantile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// CountSummaryStats reduces each column of its input to the selected
// statistics, rounded to two decimals. Without a configured dependence it
// summarizes the raw sim/obs totals; depending on the comparison analysis
// extends the summary to the metric columns.
type CountSummaryStats struct {
	Stats []Stat
}

func (a *CountSummaryStats) Title() string   { return "Link counts summary statistics" }
func (a *CountSummaryStats) Slug() string    { return "summary" }
func (a *CountSummaryStats) NeedsTime() bool { return false }

func (a *CountSummaryStats) Run(in *Input, prior *Table) (*Table, error) {
	stats := a.Stats
	if len(stats) == 0 {
		stats = DefaultStats
	}

	var columns []string
	var data [][]float64 // column-major source values
	if prior != nil {
		columns = prior.Columns
		data = make([][]float64, len(columns))
		for j := range columns {
			col := make([]float64, len(prior.Index))
			for i := range prior.Index {
				col[i] = prior.Data[i][j]
			}
			data[j] = col
		}
	} else {
		c := in.Link
		columns = []string{"count_sim", "count_obs"}
		data = [][]float64{c.Sim, c.Obs}
	}

	t := &Table{
		IndexName: "statistic",
		Index:     make([]string, len(stats)),
		Columns:   columns,
		Data:      make([][]float64, len(stats)),
	}
	for i, s := range stats {
		t.Index[i] = string(s)
		row := make([]float64, len(columns))
		for j := range columns {
			row[j] = round2(s.Eval(data[j]))
		}
		t.Data[i] = row
	}
	return t, nil
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*100) / 100
}

// EarthMoverDistance compares the time profile of each link: the 1-D EMD
// between the simulated and observed bucket series, computed as the summed
// absolute difference of their cumulative counts (unit bucket width).
type EarthMoverDistance struct{}

func (a *EarthMoverDistance) Title() string   { return "Earth mover's distance" }
func (a *EarthMoverDistance) Slug() string    { return "emd" }
func (a *EarthMoverDistance) NeedsTime() bool { return true }

func (a *EarthMoverDistance) Run(in *Input, prior *Table) (*Table, error) {
	if prior != nil {
		return nil, errors.New("earth mover's distance cannot derive from another analysis")
	}

	c := in.Time
	var links []int64
	var dists []float64

	var cum, dist float64
	for i, k := range c.Keys {
		if i == 0 || k.Link != c.Keys[i-1].Link {
			if i > 0 {
				links = append(links, c.Keys[i-1].Link)
				dists = append(dists, dist)
			}
			cum, dist = 0, 0
		}
		cum += c.Sim[i] - c.Obs[i]
		dist += math.Abs(cum)
	}
	if len(c.Keys) > 0 {
		links = append(links, c.Keys[len(c.Keys)-1].Link)
		dists = append(dists, dist)
	}

	t := &Table{
		IndexName: "link_id",
		Index:     make([]string, len(links)),
		Columns:   []string{"emd"},
		Data:      make([][]float64, len(links)),
		Long:      true,
	}
	for i, link := range links {
		t.Index[i] = strconv.FormatInt(link, 10)
		t.Data[i] = []float64{dists[i]}
	}
	return t, nil
}

// NewAnalysis maps a configured analysis name to its implementation.
func NewAnalysis(name string, metrics []Metric, stats []Stat) (Analysis, error) {
	switch name {
	case "comparison":
		return &CountComparison{Metrics: metrics}, nil
	case "summary":
		return &CountSummaryStats{Stats: stats}, nil
	case "emd":
		return &EarthMoverDistance{}, nil
	}
	return nil, fmt.Errorf("unknown analysis: %q", name)
}
