package stats

import (
	"context"
	"math"
	"testing"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/outlier"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

const tolerance = 1e-9

func zoneValues(vs ...float64) []outlier.ZoneValue {
	out := make([]outlier.ZoneValue, len(vs))
	for i, v := range vs {
		out[i] = outlier.ZoneValue{Zone: models.ZoneID("az" + string(rune('1'+i))), Value: v}
	}
	return out
}

func score(t *testing.T, alg outlier.Algorithm, vs ...float64) map[models.ZoneID]outlier.Score {
	t.Helper()
	got, err := New().Score(context.Background(), alg, zoneValues(vs...))
	if err != nil {
		t.Fatalf("Score(%s): %v", alg, err)
	}
	if len(got) != len(vs) {
		t.Fatalf("Score(%s) returned %d zones, want %d", alg, len(got), len(vs))
	}
	return got
}

func TestScore_ZScore(t *testing.T) {
	got := score(t, outlier.ZScore, 10, 10, 80)
	if math.Abs(got["az3"].Value-math.Sqrt2) > tolerance {
		t.Errorf("az3 z = %v, want %v", got["az3"].Value, math.Sqrt2)
	}
	if math.Abs(got["az1"].Value+math.Sqrt2/2) > tolerance {
		t.Errorf("az1 z = %v, want %v", got["az1"].Value, -math.Sqrt2/2)
	}

	flat := score(t, outlier.ZScore, 4, 4, 4)
	for z, s := range flat {
		if s.Value != 0 || !s.Eligible {
			t.Errorf("flat %s = %+v, want eligible 0", z, s)
		}
	}
}

func TestScore_ChiSquared(t *testing.T) {
	tests := []struct {
		name         string
		values       []float64
		wantEligible models.ZoneID
		wantSmallP   bool
	}{
		{"skewed", []float64{10, 10, 80}, "az3", true},
		{"uniform", []float64{10, 10, 10}, "az1", false},
		{"all zero", []float64{0, 0, 0}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := score(t, outlier.ChiSquared, tt.values...)
			for z, s := range got {
				if s.Eligible != (z == tt.wantEligible) {
					t.Errorf("%s eligible = %v", z, s.Eligible)
				}
				if tt.wantSmallP && s.Value > 1e-10 {
					t.Errorf("%s p = %v, want < 1e-10", z, s.Value)
				}
				if !tt.wantSmallP && math.Abs(s.Value-1) > tolerance {
					t.Errorf("%s p = %v, want 1", z, s.Value)
				}
			}
		})
	}
}

func TestScore_IQR(t *testing.T) {
	got := score(t, outlier.IQR, 1, 2, 3, 4, 100)
	if math.Abs(got["az5"].Value-48) > tolerance {
		t.Errorf("az5 = %v, want 48", got["az5"].Value)
	}
	if got["az4"].Value != 0 {
		t.Errorf("az4 = %v, want 0", got["az4"].Value)
	}
	if !outlier.IQR.Outlier(got["az5"], 1.5) || outlier.IQR.Outlier(got["az4"], 1.5) {
		t.Error("only az5 should be an IQR outlier")
	}
}

func TestScore_MAD(t *testing.T) {
	got := score(t, outlier.MAD, 1, 2, 3, 4, 100)
	if math.Abs(got["az5"].Value-97) > tolerance {
		t.Errorf("az5 = %v, want 97", got["az5"].Value)
	}
	if math.Abs(got["az4"].Value-1) > tolerance {
		t.Errorf("az4 = %v, want 1", got["az4"].Value)
	}
}

func TestScore_ZeroSpread(t *testing.T) {
	got := score(t, outlier.MAD, 5, 5, 5, 9)
	if !math.IsInf(got["az4"].Value, 1) {
		t.Errorf("az4 = %v, want +Inf", got["az4"].Value)
	}
	if got["az1"].Value != 0 {
		t.Errorf("az1 = %v, want 0", got["az1"].Value)
	}
}

func TestScore_Errors(t *testing.T) {
	p := New()
	if _, err := p.Score(context.Background(), outlier.Static, zoneValues(1, 2)); err == nil {
		t.Error("STATIC: expected error")
	}
	if _, err := p.Score(context.Background(), outlier.ZScore, zoneValues(1, math.NaN())); err == nil {
		t.Error("NaN value: expected error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Score(ctx, outlier.ZScore, zoneValues(1)); err == nil {
		t.Error("cancelled context: expected error")
	}
}

func TestPercentile(t *testing.T) {
	xs := []float64{4, 1, 3, 2}
	tests := []struct{ p, want float64 }{
		{0, 1}, {25, 1.75}, {50, 2.5}, {75, 3.25}, {100, 4},
	}
	for _, tt := range tests {
		if got := percentile(xs, tt.p); math.Abs(got-tt.want) > tolerance {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
