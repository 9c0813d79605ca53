package outlier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// ZoneValue is one zone's total for the current tick.
type ZoneValue struct {
	Zone  models.ZoneID `json:"zone"`
	Value float64       `json:"value"`
}

// Score is a provider's normalized verdict input for one zone. Eligible is
// false when the algorithm rules the zone out regardless of Value, e.g. a
// CHI_SQUARED zone that is not the one farthest from the expected count.
type Score struct {
	Value    float64 `json:"value"`
	Eligible bool    `json:"eligible"`
}

// ScoreProvider scores per-zone values for a statistical algorithm. It must
// be deterministic for identical inputs and must return a score for every
// zone it was given.
type ScoreProvider interface {
	Score(ctx context.Context, alg Algorithm, values []ZoneValue) (map[models.ZoneID]Score, error)
}

// Decision is the classification of one zone together with the number it
// was based on: the zone's fraction of the region for STATIC, the provider
// score otherwise.
type Decision struct {
	Score   float64 `json:"score"`
	Outlier bool    `json:"outlier"`
}

// Classifier dispatches outlier classification by algorithm.
type Classifier struct {
	provider ScoreProvider
	timeout  time.Duration
}

// NewClassifier creates a Classifier. provider may be nil when only STATIC is
// used. timeout bounds each provider call; zero means no extra bound beyond
// the caller's context.
func NewClassifier(provider ScoreProvider, timeout time.Duration) *Classifier {
	return &Classifier{provider: provider, timeout: timeout}
}

// Supports reports whether c can classify with alg.
func (c *Classifier) Supports(alg Algorithm) bool {
	return alg.Local() || c.provider != nil
}

// Classify returns, for every zone in totals, whether it is an outlier.
func (c *Classifier) Classify(ctx context.Context, alg Algorithm, totals map[models.ZoneID]float64, threshold float64) (map[models.ZoneID]bool, error) {
	decisions, err := c.Decide(ctx, alg, totals, threshold)
	if err != nil {
		return nil, err
	}
	out := make(map[models.ZoneID]bool, len(decisions))
	for z, d := range decisions {
		out[z] = d.Outlier
	}
	return out, nil
}

// Decide is Classify with the underlying scores. A missing (NaN) zone total
// fails the whole classification with ErrMissingSample, since neither the
// region total nor the distribution is known. Provider deadlines surface as
// ErrProviderTimeout.
func (c *Classifier) Decide(ctx context.Context, alg Algorithm, totals map[models.ZoneID]float64, threshold float64) (map[models.ZoneID]Decision, error) {
	values := make([]ZoneValue, 0, len(totals))
	for _, z := range models.SortZones(zoneKeys(totals)) {
		v := totals[z]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("zone %s total: %w", z, azerr.ErrMissingSample)
		}
		values = append(values, ZoneValue{Zone: z, Value: v})
	}

	if alg == Static {
		return static(values, threshold), nil
	}
	if c.provider == nil {
		return nil, azerr.Configf("scorer", "no score provider configured for %s", alg)
	}

	pctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	scores, err := c.provider.Score(pctx, alg, values)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(pctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s scores: %w", alg, errors.Join(azerr.ErrProviderTimeout, err))
		}
		return nil, fmt.Errorf("%s scores: %w", alg, err)
	}

	out := make(map[models.ZoneID]Decision, len(values))
	for _, zv := range values {
		s, ok := scores[zv.Zone]
		if !ok || math.IsNaN(s.Value) {
			return nil, fmt.Errorf("%s score for zone %s: %w", alg, zv.Zone, azerr.ErrMissingSample)
		}
		out[zv.Zone] = Decision{Score: s.Value, Outlier: alg.Outlier(s, threshold)}
	}
	return out, nil
}

// static classifies zone/region >= threshold. A zero region total yields no
// outliers.
func static(values []ZoneValue, threshold float64) map[models.ZoneID]Decision {
	var region float64
	for _, zv := range values {
		region += zv.Value
	}
	out := make(map[models.ZoneID]Decision, len(values))
	for _, zv := range values {
		if region == 0 {
			out[zv.Zone] = Decision{}
			continue
		}
		frac := zv.Value / region
		out[zv.Zone] = Decision{Score: frac, Outlier: frac >= threshold}
	}
	return out
}

func zoneKeys(m map[models.ZoneID]float64) []models.ZoneID {
	out := make([]models.ZoneID, 0, len(m))
	for z := range m {
		out = append(out, z)
	}
	return out
}
