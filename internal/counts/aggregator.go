package counts

import (
	"math"
	"sort"

	"github.com/trafficlab/flowdiag/internal/model"
)

// DefaultTypes is the event-type restriction applied by the counting
// stage when none is configured. A traversal emits an entry and an exit
// event for the same link; counting only the entry keeps one count per
// traversal instead of two.
var DefaultTypes = []string{"entered link"}

// TypeFilter restricts which event types are counted. A nil filter
// admits every type.
type TypeFilter map[string]bool

// NewTypeFilter builds a filter admitting exactly the given types. An
// empty list yields the nil filter.
func NewTypeFilter(types []string) TypeFilter {
	if len(types) == 0 {
		return nil
	}
	f := make(TypeFilter, len(types))
	for _, t := range types {
		f[t] = true
	}
	return f
}

// Admits reports whether events of the given type are counted.
func (f TypeFilter) Admits(typ string) bool {
	return f == nil || f[typ]
}

// Aggregator accumulates event counts per (link, time bucket). Which events
// get counted is decided upstream (TypeFilter, extraction allow-list); the
// aggregator counts everything it is fed. Memory is bounded by links x
// buckets, not by the event count.
type Aggregator struct {
	origin   float64
	interval float64
	counts   map[bucketKey]float64
}

type bucketKey struct {
	link   int64
	bucket int64
}

// New creates an Aggregator with buckets of the given width in seconds,
// anchored at time zero.
func New(interval float64) *Aggregator {
	return NewWithOrigin(0, interval)
}

// NewWithOrigin anchors the first bucket at origin instead of zero. Used
// when the bucket width is derived from the observed time span.
func NewWithOrigin(origin, interval float64) *Aggregator {
	return &Aggregator{
		origin:   origin,
		interval: interval,
		counts:   make(map[bucketKey]float64),
	}
}

// Interval reports the bucket width in seconds.
func (a *Aggregator) Interval() float64 { return a.interval }

// Observe counts one event. An event exactly on a bucket boundary belongs
// to the bucket that starts there.
func (a *Aggregator) Observe(link int64, t float64) {
	idx := int64(math.Floor((t - a.origin) / a.interval))
	a.counts[bucketKey{link: link, bucket: idx}]++
}

// ObserveEvent counts ev.
func (a *Aggregator) ObserveEvent(ev model.Event) {
	a.Observe(ev.Link, ev.Time)
}

// Rows returns the aggregated counts sorted by link, then bucket start.
func (a *Aggregator) Rows() []model.LinkCount {
	rows := make([]model.LinkCount, 0, len(a.counts))
	for k, c := range a.counts {
		rows = append(rows, model.LinkCount{
			Link:  k.link,
			Time:  a.origin + float64(k.bucket)*a.interval,
			Count: c,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Link != rows[j].Link {
			return rows[i].Link < rows[j].Link
		}
		return rows[i].Time < rows[j].Time
	})
	return rows
}

// IntervalForBins derives a bucket width that divides [minT, maxT] into the
// requested number of equal bins. The width is widened by one ULP-scale
// epsilon so the maximum falls inside the last bin rather than starting a
// new one.
func IntervalForBins(minT, maxT float64, bins int) float64 {
	if bins < 1 {
		bins = 1
	}
	span := maxT - minT
	if span <= 0 {
		return 1
	}
	w := span / float64(bins)
	return math.Nextafter(w, math.Inf(1))
}
