// Package gate confirms that a zone's skew is large enough to matter.
//
// A magnitude gate compares one resource's rate series (fault rate, packet
// drop rate) with an absolute threshold. It is independent of outlier
// status: it keeps a zone that merely carries more traffic from being
// flagged as impaired.
package gate

import (
	"math"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/aggregate"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/metric"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// Gate is the magnitude check for one resource in one zone.
type Gate struct {
	Resource   models.Resource
	Rate       aggregate.Expression
	Comparison alarm.Comparison
	Threshold  float64
}

// New validates and returns a Gate.
func New(res models.Resource, rate aggregate.Expression, cmp alarm.Comparison, threshold float64) (*Gate, error) {
	if rate == nil {
		return nil, azerr.Configf("gate", "resource %s has no rate expression", res.ID)
	}
	if _, err := alarm.ParseComparison(string(cmp)); err != nil {
		return nil, err
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold < 0 {
		return nil, azerr.Configf("gate", "resource %s: threshold must be a non-negative number, got %v", res.ID, threshold)
	}
	return &Gate{Resource: res, Rate: rate, Comparison: cmp, Threshold: threshold}, nil
}

// Evaluate applies the gate to a rate series.
func (g *Gate) Evaluate(rate metric.Series) []alarm.Sample {
	return Evaluate(rate, g.Threshold, g.Comparison)
}

// Evaluate compares every point of rate with threshold. Missing points, and
// the NaN a zero denominator produces, give a Missing outcome.
func Evaluate(rate metric.Series, threshold float64, cmp alarm.Comparison) []alarm.Sample {
	out := make([]alarm.Sample, len(rate.Points))
	for i, p := range rate.Points {
		s := alarm.Sample{Timestamp: p.Timestamp, Value: p.Value, Degraded: p.Degraded}
		if p.Valid() {
			s.Outcome = alarm.Breached(cmp.Compare(p.Value, threshold))
		} else {
			s.Value = math.NaN()
		}
		out[i] = s
	}
	return out
}
