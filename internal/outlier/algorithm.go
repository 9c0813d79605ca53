// Package outlier decides which zones carry a disproportionate share of a
// regional metric.
//
// STATIC is computed here. The statistical algorithms are dispatched to a
// ScoreProvider, which may run in process (package stats) or remotely
// (package remote).
package outlier

import (
	"math"
	"strings"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
)

// Algorithm selects how outliers are detected.
type Algorithm string

const (
	Static     Algorithm = "STATIC"
	ChiSquared Algorithm = "CHI_SQUARED"
	ZScore     Algorithm = "Z_SCORE"
	IQR        Algorithm = "IQR"
	MAD        Algorithm = "MAD"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{Static, ChiSquared, ZScore, IQR, MAD}

// ParseAlgorithm accepts an algorithm name in any case. Empty means STATIC.
func ParseAlgorithm(s string) (Algorithm, error) {
	if strings.TrimSpace(s) == "" {
		return Static, nil
	}
	a := Algorithm(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Algorithms {
		if a == known {
			return a, nil
		}
	}
	return "", azerr.Configf("detector.algorithm", "unknown outlier algorithm %q", s)
}

// DefaultThreshold returns the threshold used when none is configured.
func (a Algorithm) DefaultThreshold() float64 {
	switch a {
	case ChiSquared:
		return 0.05
	case ZScore:
		return 2
	case IQR:
		return 1.5
	case MAD:
		return 3
	default:
		return 0.7
	}
}

// ValidateThreshold checks that th is meaningful for a. STATIC thresholds are
// fractions of the region total and CHI_SQUARED thresholds are p-values, so
// both must lie in (0, 1]. The others are positive multipliers.
func (a Algorithm) ValidateThreshold(th float64) error {
	if math.IsNaN(th) || math.IsInf(th, 0) || th <= 0 {
		return azerr.Configf("detector.outlier_threshold", "%s threshold must be a positive number, got %v", a, th)
	}
	if (a == Static || a == ChiSquared) && th > 1 {
		return azerr.Configf("detector.outlier_threshold", "%s threshold must be <= 1, got %v", a, th)
	}
	return nil
}

// Local reports whether a is computed without a ScoreProvider.
func (a Algorithm) Local() bool {
	return a == Static
}

// Outlier applies the threshold semantics of a to a provider score. Both
// directions are inclusive: a score exactly at the threshold is an outlier.
func (a Algorithm) Outlier(s Score, th float64) bool {
	if !s.Eligible || math.IsNaN(s.Value) {
		return false
	}
	if a == ChiSquared {
		return s.Value <= th
	}
	return s.Value >= th
}
