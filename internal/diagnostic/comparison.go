package diagnostic

import (
	"errors"
	"math"
	"sort"

	"github.com/trafficlab/flowdiag/internal/model"
)

// Counts is a loaded counts table. HasTime reports whether rows are
// time-resolved (one row per link and bucket) or per-link totals.
type Counts struct {
	Rows    []model.LinkCount
	HasTime bool
}

// ErrNoOverlap is returned when simulated and observed counts share no link.
var ErrNoOverlap = errors.New("simulated and observed counts share no link")

// LinkComparison joins per-link totals of simulated and observed counts.
// Only links present on both sides are kept, sorted by link id.
type LinkComparison struct {
	Links []int64
	Sim   []float64
	Obs   []float64
}

// BuildLinkComparison sums time-resolved inputs per link first, then inner
// joins on link id.
func BuildLinkComparison(sim, obs Counts) (*LinkComparison, error) {
	simTotals := totalsByLink(sim)
	obsTotals := totalsByLink(obs)

	links := make([]int64, 0, len(simTotals))
	for link := range simTotals {
		if _, ok := obsTotals[link]; ok {
			links = append(links, link)
		}
	}
	if len(links) == 0 {
		return nil, ErrNoOverlap
	}
	sort.Slice(links, func(i, j int) bool { return links[i] < links[j] })

	c := &LinkComparison{
		Links: links,
		Sim:   make([]float64, len(links)),
		Obs:   make([]float64, len(links)),
	}
	for i, link := range links {
		c.Sim[i] = simTotals[link]
		c.Obs[i] = obsTotals[link]
	}
	return c, nil
}

func totalsByLink(c Counts) map[int64]float64 {
	totals := make(map[int64]float64)
	for _, row := range c.Rows {
		totals[row.Link] += row.Count
	}
	return totals
}

// TimeKey identifies one (link, bucket) cell of a time-resolved comparison.
type TimeKey struct {
	Link int64
	Time float64
}

// TimeComparison outer-joins time-resolved counts on (link, bucket) for
// links present in the observed data. Missing buckets count as zero.
type TimeComparison struct {
	Keys []TimeKey
	Sim  []float64
	Obs  []float64
}

// ErrNeedTime is returned when a time-resolved analysis receives per-link
// totals only.
var ErrNeedTime = errors.New("analysis requires time-resolved counts on both sides")

// BuildTimeComparison mirrors the link comparison for (link, bucket) cells.
// Simulated rows for links absent from the observations are discarded; the
// join itself is outer, with absent cells filled with zero.
func BuildTimeComparison(sim, obs Counts) (*TimeComparison, error) {
	if !sim.HasTime || !obs.HasTime {
		return nil, ErrNeedTime
	}

	obsLinks := make(map[int64]bool)
	for _, row := range obs.Rows {
		obsLinks[row.Link] = true
	}

	simCells := make(map[TimeKey]float64)
	for _, row := range sim.Rows {
		if !obsLinks[row.Link] {
			continue
		}
		simCells[TimeKey{row.Link, row.Time}] += row.Count
	}
	obsCells := make(map[TimeKey]float64)
	for _, row := range obs.Rows {
		obsCells[TimeKey{row.Link, row.Time}] += row.Count
	}

	seen := make(map[TimeKey]bool, len(simCells)+len(obsCells))
	keys := make([]TimeKey, 0, len(simCells)+len(obsCells))
	for k := range simCells {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range obsCells {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, ErrNoOverlap
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Link != keys[j].Link {
			return keys[i].Link < keys[j].Link
		}
		return keys[i].Time < keys[j].Time
	})

	c := &TimeComparison{
		Keys: keys,
		Sim:  make([]float64, len(keys)),
		Obs:  make([]float64, len(keys)),
	}
	for i, k := range keys {
		c.Sim[i] = simCells[k]
		c.Obs[i] = obsCells[k]
	}
	return c, nil
}

// Metric is a per-link comparison measure between simulated and observed
// counts.
type Metric string

const (
	MetricDiff    Metric = "diff"
	MetricPctDiff Metric = "pct_diff"
	MetricSQV     Metric = "sqv"
	MetricGEH     Metric = "geh"
)

// DefaultMetrics is the metric selection applied when none is configured.
var DefaultMetrics = []Metric{MetricDiff, MetricPctDiff, MetricSQV, MetricGEH}

// Eval computes the metric for one link. Division by a zero observed or
// combined count yields Inf/NaN, surfaced as-is.
func (m Metric) Eval(sim, obs float64) float64 {
	switch m {
	case MetricDiff:
		return sim - obs
	case MetricPctDiff:
		return (sim - obs) / obs
	case MetricSQV:
		// Scaling exponent follows the observed count's magnitude class.
		scale := obs * math.Pow(10, math.Floor(obs/10))
		return 1 / (1 + math.Sqrt((sim-obs)*(sim-obs)/scale))
	case MetricGEH:
		return math.Sqrt(2 * (sim - obs) * (sim - obs) / (sim + obs))
	default:
		return math.NaN()
	}
}

// ParseMetric validates a metric name from configuration.
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case MetricDiff, MetricPctDiff, MetricSQV, MetricGEH:
		return Metric(name), nil
	}
	return "", errors.New("unknown metric: " + name)
}
