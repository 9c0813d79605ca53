package outlier

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

type fakeProvider struct {
	scores map[models.ZoneID]Score
	err    error
	delay  time.Duration
	calls  int
	got    []ZoneValue
}

func (f *fakeProvider) Score(ctx context.Context, _ Algorithm, values []ZoneValue) (map[models.ZoneID]Score, error) {
	f.calls++
	f.got = values
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.scores, f.err
}

func TestClassify_Static(t *testing.T) {
	tests := []struct {
		name      string
		totals    map[models.ZoneID]float64
		threshold float64
		want      map[models.ZoneID]bool
	}{
		{
			name:      "one dominant zone",
			totals:    map[models.ZoneID]float64{"az1": 10, "az2": 10, "az3": 80},
			threshold: 0.7,
			want:      map[models.ZoneID]bool{"az1": false, "az2": false, "az3": true},
		},
		{
			name:      "exact boundary is inclusive",
			totals:    map[models.ZoneID]float64{"az1": 30, "az2": 70},
			threshold: 0.7,
			want:      map[models.ZoneID]bool{"az1": false, "az2": true},
		},
		{
			name:      "zero region total",
			totals:    map[models.ZoneID]float64{"az1": 0, "az2": 0, "az3": 0},
			threshold: 0.01,
			want:      map[models.ZoneID]bool{"az1": false, "az2": false, "az3": false},
		},
		{
			name:      "evenly spread",
			totals:    map[models.ZoneID]float64{"az1": 5, "az2": 5, "az3": 5},
			threshold: 0.7,
			want:      map[models.ZoneID]bool{"az1": false, "az2": false, "az3": false},
		},
	}
	c := NewClassifier(nil, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(context.Background(), Static, tt.totals, tt.threshold)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			for z, want := range tt.want {
				if got[z] != want {
					t.Errorf("zone %s outlier = %v, want %v", z, got[z], want)
				}
			}
		})
	}
}

func TestClassify_MissingTotal(t *testing.T) {
	c := NewClassifier(nil, 0)
	_, err := c.Classify(context.Background(), Static,
		map[models.ZoneID]float64{"az1": 1, "az2": math.NaN()}, 0.7)
	if !errors.Is(err, azerr.ErrMissingSample) {
		t.Errorf("error = %v, want ErrMissingSample", err)
	}
}

func TestClassify_DispatchesToProvider(t *testing.T) {
	p := &fakeProvider{scores: map[models.ZoneID]Score{
		"az1": {Value: 0.01, Eligible: false},
		"az2": {Value: 0.01, Eligible: true},
		"az3": {Value: 0.05, Eligible: true},
	}}
	c := NewClassifier(p, time.Second)
	got, err := c.Classify(context.Background(), ChiSquared,
		map[models.ZoneID]float64{"az3": 1, "az1": 2, "az2": 3}, 0.05)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	want := map[models.ZoneID]bool{"az1": false, "az2": true, "az3": true}
	for z, w := range want {
		if got[z] != w {
			t.Errorf("zone %s = %v, want %v", z, got[z], w)
		}
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
	if p.got[0].Zone != "az1" || p.got[2].Zone != "az3" {
		t.Errorf("provider values not in zone order: %+v", p.got)
	}
}

func TestClassify_ProviderTimeout(t *testing.T) {
	p := &fakeProvider{delay: time.Second}
	c := NewClassifier(p, 10*time.Millisecond)
	_, err := c.Classify(context.Background(), ZScore, map[models.ZoneID]float64{"az1": 1}, 2)
	if !errors.Is(err, azerr.ErrProviderTimeout) {
		t.Fatalf("error = %v, want ErrProviderTimeout", err)
	}
	if !azerr.IsDegraded(err) {
		t.Error("IsDegraded = false, want true")
	}
}

func TestClassify_ProviderOmitsZone(t *testing.T) {
	p := &fakeProvider{scores: map[models.ZoneID]Score{"az1": {Value: 3, Eligible: true}}}
	c := NewClassifier(p, 0)
	_, err := c.Classify(context.Background(), ZScore, map[models.ZoneID]float64{"az1": 1, "az2": 2}, 2)
	if !errors.Is(err, azerr.ErrMissingSample) {
		t.Errorf("error = %v, want ErrMissingSample", err)
	}
}

func TestClassify_NoProvider(t *testing.T) {
	c := NewClassifier(nil, 0)
	if c.Supports(MAD) {
		t.Error("Supports(MAD) = true without provider")
	}
	_, err := c.Classify(context.Background(), MAD, map[models.ZoneID]float64{"az1": 1}, 3)
	if !errors.Is(err, azerr.ErrConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
}

func TestAlgorithm_OutlierInclusive(t *testing.T) {
	tests := []struct {
		alg   Algorithm
		score Score
		th    float64
		want  bool
	}{
		{ZScore, Score{Value: 2, Eligible: true}, 2, true},
		{ZScore, Score{Value: 1.99, Eligible: true}, 2, false},
		{IQR, Score{Value: 1.5, Eligible: true}, 1.5, true},
		{MAD, Score{Value: math.Inf(1), Eligible: true}, 3, true},
		{ChiSquared, Score{Value: 0.05, Eligible: true}, 0.05, true},
		{ChiSquared, Score{Value: 0.051, Eligible: true}, 0.05, false},
		{ChiSquared, Score{Value: 0.001, Eligible: false}, 0.05, false},
	}
	for _, tt := range tests {
		if got := tt.alg.Outlier(tt.score, tt.th); got != tt.want {
			t.Errorf("%s.Outlier(%+v, %v) = %v, want %v", tt.alg, tt.score, tt.th, got, tt.want)
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"", Static, false},
		{"z_score", ZScore, false},
		{" MAD ", MAD, false},
		{"grubbs", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAlgorithm(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAlgorithm(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestThresholds(t *testing.T) {
	defaults := map[Algorithm]float64{Static: 0.7, ChiSquared: 0.05, ZScore: 2, IQR: 1.5, MAD: 3}
	for alg, want := range defaults {
		if got := alg.DefaultThreshold(); got != want {
			t.Errorf("%s.DefaultThreshold() = %v, want %v", alg, got, want)
		}
		if err := alg.ValidateThreshold(want); err != nil {
			t.Errorf("%s default threshold invalid: %v", alg, err)
		}
	}
	invalid := []struct {
		alg Algorithm
		th  float64
	}{
		{Static, 0}, {Static, 1.2}, {ChiSquared, 2}, {ZScore, -1}, {MAD, math.NaN()},
	}
	for _, tt := range invalid {
		if err := tt.alg.ValidateThreshold(tt.th); !errors.Is(err, azerr.ErrConfiguration) {
			t.Errorf("%s.ValidateThreshold(%v) = %v, want configuration error", tt.alg, tt.th, err)
		}
	}
}
