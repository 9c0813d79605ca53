// Package stats scores per-zone values for the statistical outlier
// algorithms in process. It backs both the local detector and the NATS
// scorer service.
package stats

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/outlier"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// Provider implements outlier.ScoreProvider.
type Provider struct{}

// New returns a Provider.
func New() *Provider { return &Provider{} }

var _ outlier.ScoreProvider = (*Provider)(nil)

// Score implements outlier.ScoreProvider.
//
//   - Z_SCORE: (v - mean) / population standard deviation. Zero deviation scores 0.
//   - CHI_SQUARED: the goodness-of-fit p-value against a uniform spread. Only
//     the zone farthest from the expected count is eligible; an all-zero
//     tick scores 1 with no eligible zone.
//   - IQR: (v - Q3) / IQR.
//   - MAD: (v - median) / MAD.
//
// For IQR and MAD a zero spread scores +Inf above the centre and 0 otherwise.
func (p *Provider) Score(ctx context.Context, alg outlier.Algorithm, values []outlier.ZoneValue) (map[models.ZoneID]outlier.Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return map[models.ZoneID]outlier.Score{}, nil
	}
	xs := make([]float64, len(values))
	for i, zv := range values {
		if math.IsNaN(zv.Value) || math.IsInf(zv.Value, 0) {
			return nil, fmt.Errorf("zone %s: value %v is not finite", zv.Zone, zv.Value)
		}
		xs[i] = zv.Value
	}

	switch alg {
	case outlier.ZScore:
		return zScores(values, xs), nil
	case outlier.ChiSquared:
		return chiSquared(values, xs), nil
	case outlier.IQR:
		q1, q3 := percentile(xs, 25), percentile(xs, 75)
		return spreadScores(values, q3, q3-q1), nil
	case outlier.MAD:
		med := percentile(xs, 50)
		dev := make([]float64, len(xs))
		for i, x := range xs {
			dev[i] = math.Abs(x - med)
		}
		return spreadScores(values, med, percentile(dev, 50)), nil
	default:
		return nil, fmt.Errorf("algorithm %s is not scored by this provider", alg)
	}
}

func zScores(values []outlier.ZoneValue, xs []float64) map[models.ZoneID]outlier.Score {
	mean, std := stat.PopMeanStdDev(xs, nil)
	out := make(map[models.ZoneID]outlier.Score, len(values))
	for _, zv := range values {
		z := 0.0
		if std > 0 {
			z = (zv.Value - mean) / std
		}
		out[zv.Zone] = outlier.Score{Value: z, Eligible: true}
	}
	return out
}

func chiSquared(values []outlier.ZoneValue, xs []float64) map[models.ZoneID]outlier.Score {
	out := make(map[models.ZoneID]outlier.Score, len(values))
	expected := stat.Mean(xs, nil)
	if expected == 0 || len(xs) < 2 {
		for _, zv := range values {
			out[zv.Zone] = outlier.Score{Value: 1}
		}
		return out
	}

	exp := make([]float64, len(xs))
	for i := range exp {
		exp[i] = expected
	}
	chi := stat.ChiSquare(xs, exp)
	dist := distuv.ChiSquared{K: float64(len(xs) - 1)}
	pValue := dist.Survival(chi)

	// First zone in order wins ties for farthest.
	farthest := 0
	for i, x := range xs {
		if math.Abs(x-expected) > math.Abs(xs[farthest]-expected) {
			farthest = i
		}
	}
	for i, zv := range values {
		out[zv.Zone] = outlier.Score{Value: pValue, Eligible: i == farthest}
	}
	return out
}

func spreadScores(values []outlier.ZoneValue, centre, spread float64) map[models.ZoneID]outlier.Score {
	out := make(map[models.ZoneID]outlier.Score, len(values))
	for _, zv := range values {
		var s float64
		switch {
		case spread > 0:
			s = (zv.Value - centre) / spread
		case zv.Value > centre:
			s = math.Inf(1)
		}
		out[zv.Zone] = outlier.Score{Value: s, Eligible: true}
	}
	return out
}

// percentile returns the p-th percentile of xs with linear interpolation
// between closest ranks, the convention used by most analysis tooling.
func percentile(xs []float64, p float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}
