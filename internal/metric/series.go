// Package metric defines periodic metric series and the sources that supply them.
package metric

import (
	"math"
	"sort"
	"time"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// Point is one bucket of a series. A missing point carries no value; Degraded
// marks a point that is missing because a collaborator failed or timed out.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Missing   bool      `json:"missing,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
}

// Valid reports whether the point carries a usable number.
func (p Point) Valid() bool {
	return !p.Missing && !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0)
}

// MissingPoint returns an explicit missing marker for the bucket.
func MissingPoint(ts time.Time) Point {
	return Point{Timestamp: ts, Value: math.NaN(), Missing: true}
}

// Series is a named periodic scalar time series keyed by resource and zone.
// Points are aligned to buckets of length Period and sorted by Timestamp.
type Series struct {
	Label      string        `json:"label"`
	ResourceID string        `json:"resource_id,omitempty"`
	Zone       models.ZoneID `json:"zone,omitempty"`
	Name       string        `json:"name,omitempty"`
	Period     time.Duration `json:"period"`
	Points     []Point       `json:"points"`
}

// At returns the point for the bucket starting at ts.
func (s Series) At(ts time.Time) (Point, bool) {
	i := sort.Search(len(s.Points), func(i int) bool {
		return !s.Points[i].Timestamp.Before(ts)
	})
	if i < len(s.Points) && s.Points[i].Timestamp.Equal(ts) {
		return s.Points[i], true
	}
	return Point{}, false
}

// Last returns the most recent point, or a missing point if the series is empty.
func (s Series) Last() Point {
	if len(s.Points) == 0 {
		return MissingPoint(time.Time{})
	}
	return s.Points[len(s.Points)-1]
}

// Single wraps one point into a series.
func Single(label string, period time.Duration, p Point) Series {
	return Series{Label: label, Period: period, Points: []Point{p}}
}

// Bucket truncates t to the start of its period bucket.
func Bucket(t time.Time, period time.Duration) time.Time {
	return t.UTC().Truncate(period)
}
