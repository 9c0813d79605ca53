package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/metric"
)

// Aggregate evaluates expr over inputs, producing one point per bucket present
// in any referenced input. Every referenced label must be present and all
// referenced series must share one period; otherwise a ConfigurationError is
// returned. A bucket where any referenced input is missing, or where a
// denominator is zero, yields a missing point. The result is Degraded when
// any input contributing to the bucket is degraded.
func Aggregate(expr Expression, inputs map[string]metric.Series) (metric.Series, error) {
	labels := References(expr)
	sort.Strings(labels)

	var (
		period time.Duration
		seen   bool
	)
	for _, l := range labels {
		s, ok := inputs[l]
		if !ok {
			return metric.Series{}, azerr.Configf("aggregate", "expression %s references absent series %q", Label(expr), l)
		}
		if s.Period <= 0 {
			return metric.Series{}, azerr.Configf("aggregate",
				"expression %s: series %q has non-positive period %s", Label(expr), l, s.Period)
		}
		if !seen {
			period, seen = s.Period, true
			continue
		}
		if s.Period != period {
			return metric.Series{}, azerr.Configf("aggregate",
				"expression %s mixes periods %s and %s (series %q)", Label(expr), period, s.Period, l)
		}
	}

	out := metric.Series{Label: Label(expr), Period: period}
	for _, ts := range buckets(labels, inputs) {
		degraded := false
		env := func(label string) (float64, bool) {
			p, ok := inputs[label].At(ts)
			if !ok {
				return math.NaN(), false
			}
			degraded = degraded || p.Degraded
			return p.Value, p.Valid()
		}
		v, ok := expr.eval(env)
		p := metric.Point{Timestamp: ts, Value: v}
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			p = metric.MissingPoint(ts)
		}
		p.Degraded = degraded
		out.Points = append(out.Points, p)
	}
	return out, nil
}

// At evaluates expr for a single bucket from one point per label. It is the
// per-tick form of Aggregate.
func At(expr Expression, ts time.Time, period time.Duration, points map[string]metric.Point) (metric.Point, error) {
	inputs := make(map[string]metric.Series, len(points))
	for l, p := range points {
		p.Timestamp = ts
		inputs[l] = metric.Single(l, period, p)
	}
	s, err := Aggregate(expr, inputs)
	if err != nil {
		return metric.Point{}, err
	}
	if p, ok := s.At(ts); ok {
		return p, nil
	}
	return metric.MissingPoint(ts), nil
}

func buckets(labels []string, inputs map[string]metric.Series) []time.Time {
	seen := make(map[int64]time.Time)
	for _, l := range labels {
		for _, p := range inputs[l].Points {
			seen[p.Timestamp.UnixNano()] = p.Timestamp
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
