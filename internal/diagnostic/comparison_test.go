package diagnostic

import (
	"errors"
	"math"
	"testing"

	"github.com/trafficlab/flowdiag/internal/model"
)

func TestBuildLinkComparison(t *testing.T) {
	sim := Counts{Rows: []model.LinkCount{
		{Link: 2, Time: 0, Count: 5},
		{Link: 2, Time: 900, Count: 3},
		{Link: 1, Count: 10},
		{Link: 9, Count: 4}, // no observed counterpart
	}, HasTime: true}
	obs := Counts{Rows: []model.LinkCount{
		{Link: 1, Count: 12},
		{Link: 2, Count: 7},
		{Link: 5, Count: 1}, // no simulated counterpart
	}}

	c, err := BuildLinkComparison(sim, obs)
	if err != nil {
		t.Fatalf("BuildLinkComparison: %v", err)
	}

	// Inner join on link, time-resolved rows summed per link, sorted.
	if len(c.Links) != 2 || c.Links[0] != 1 || c.Links[1] != 2 {
		t.Fatalf("Links = %v", c.Links)
	}
	if c.Sim[0] != 10 || c.Obs[0] != 12 {
		t.Errorf("link 1: sim=%v obs=%v", c.Sim[0], c.Obs[0])
	}
	if c.Sim[1] != 8 || c.Obs[1] != 7 {
		t.Errorf("link 2: sim=%v obs=%v", c.Sim[1], c.Obs[1])
	}
}

func TestBuildLinkComparisonNoOverlap(t *testing.T) {
	sim := Counts{Rows: []model.LinkCount{{Link: 1, Count: 1}}}
	obs := Counts{Rows: []model.LinkCount{{Link: 2, Count: 1}}}
	if _, err := BuildLinkComparison(sim, obs); !errors.Is(err, ErrNoOverlap) {
		t.Errorf("err = %v, want ErrNoOverlap", err)
	}
}

func TestBuildTimeComparison(t *testing.T) {
	sim := Counts{Rows: []model.LinkCount{
		{Link: 1, Time: 0, Count: 3},
		{Link: 1, Time: 900, Count: 1},
		{Link: 4, Time: 0, Count: 9}, // link absent from observations
	}, HasTime: true}
	obs := Counts{Rows: []model.LinkCount{
		{Link: 1, Time: 900, Count: 2},
		{Link: 1, Time: 1800, Count: 5},
	}, HasTime: true}

	c, err := BuildTimeComparison(sim, obs)
	if err != nil {
		t.Fatalf("BuildTimeComparison: %v", err)
	}

	// Outer join over observed links: three buckets for link 1, zeros
	// where one side has no row, link 4 discarded.
	wantKeys := []TimeKey{{1, 0}, {1, 900}, {1, 1800}}
	if len(c.Keys) != len(wantKeys) {
		t.Fatalf("Keys = %v", c.Keys)
	}
	for i, k := range wantKeys {
		if c.Keys[i] != k {
			t.Fatalf("Keys[%d] = %v, want %v", i, c.Keys[i], k)
		}
	}
	if c.Sim[0] != 3 || c.Obs[0] != 0 {
		t.Errorf("bucket 0: sim=%v obs=%v", c.Sim[0], c.Obs[0])
	}
	if c.Sim[1] != 1 || c.Obs[1] != 2 {
		t.Errorf("bucket 900: sim=%v obs=%v", c.Sim[1], c.Obs[1])
	}
	if c.Sim[2] != 0 || c.Obs[2] != 5 {
		t.Errorf("bucket 1800: sim=%v obs=%v", c.Sim[2], c.Obs[2])
	}
}

func TestBuildTimeComparisonNeedsTime(t *testing.T) {
	sim := Counts{Rows: []model.LinkCount{{Link: 1, Count: 1}}, HasTime: true}
	obs := Counts{Rows: []model.LinkCount{{Link: 1, Count: 1}}}
	if _, err := BuildTimeComparison(sim, obs); !errors.Is(err, ErrNeedTime) {
		t.Errorf("err = %v, want ErrNeedTime", err)
	}
}

func approx(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func TestMetricEval(t *testing.T) {
	tests := []struct {
		metric Metric
		sim    float64
		obs    float64
		want   float64
	}{
		{MetricDiff, 110, 100, 10},
		{MetricDiff, 90, 100, -10},
		{MetricPctDiff, 110, 100, 0.1},
		{MetricGEH, 110, 100, 0.9759},
		{MetricGEH, 100, 100, 0},
		// scale = 5 * 10^0 = 5, sqv = 1/(1+sqrt(4/5))
		{MetricSQV, 7, 5, 0.527864},
		{MetricSQV, 5, 5, 1},
	}

	for _, tt := range tests {
		got := tt.metric.Eval(tt.sim, tt.obs)
		if !approx(got, tt.want, 1e-4) {
			t.Errorf("%s(%v, %v) = %v, want %v", tt.metric, tt.sim, tt.obs, got, tt.want)
		}
	}
}

func TestMetricEvalZeroObserved(t *testing.T) {
	if v := MetricPctDiff.Eval(5, 0); !math.IsInf(v, 1) {
		t.Errorf("pct_diff with zero observed = %v, want +Inf", v)
	}
	if v := MetricGEH.Eval(0, 0); !math.IsNaN(v) {
		t.Errorf("geh with both zero = %v, want NaN", v)
	}
}

func TestParseMetric(t *testing.T) {
	if _, err := ParseMetric("geh"); err != nil {
		t.Errorf("ParseMetric(geh): %v", err)
	}
	if _, err := ParseMetric("rmse"); err == nil {
		t.Error("ParseMetric should reject unknown names")
	}
}
