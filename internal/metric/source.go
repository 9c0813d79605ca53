package metric

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// Query identifies one raw series in a Source.
type Query struct {
	ResourceID string
	Zone       models.ZoneID
	Name       string
	Period     time.Duration
}

func (q Query) String() string {
	return fmt.Sprintf("%s/%s/%s@%s", q.ResourceID, q.Zone, q.Name, q.Period)
}

// Source supplies samples for a query and bucket. Absent data is returned as
// a point with Missing set, never as zero. An error means the lookup itself
// failed; callers treat the bucket as missing.
type Source interface {
	Fetch(ctx context.Context, q Query, bucket time.Time) (Point, error)
}

// MemorySource is an in-process Source, used for replay and tests.
type MemorySource struct {
	mu      sync.RWMutex
	samples map[Query]map[int64]float64
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{samples: make(map[Query]map[int64]float64)}
}

// Put records a value for the bucket containing ts.
func (m *MemorySource) Put(q Query, ts time.Time, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets, ok := m.samples[q]
	if !ok {
		buckets = make(map[int64]float64)
		m.samples[q] = buckets
	}
	buckets[Bucket(ts, q.Period).Unix()] = value
}

// Fetch implements Source.
func (m *MemorySource) Fetch(ctx context.Context, q Query, bucket time.Time) (Point, error) {
	if err := ctx.Err(); err != nil {
		return Point{}, err
	}
	ts := Bucket(bucket, q.Period)

	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.samples[q][ts.Unix()]
	if !ok || math.IsNaN(v) {
		return MissingPoint(ts), nil
	}
	return Point{Timestamp: ts, Value: v}, nil
}

// Record implements the same contract as SQLSource.Record.
func (m *MemorySource) Record(ctx context.Context, q Query, ts time.Time, value float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Put(q, ts, value)
	return nil
}

// DeleteBefore drops every bucket that starts before the given time and
// returns the number of samples removed.
func (m *MemorySource) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := before.Unix()

	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for q, buckets := range m.samples {
		for b := range buckets {
			if b < cutoff {
				delete(buckets, b)
				n++
			}
		}
		if len(buckets) == 0 {
			delete(m.samples, q)
		}
	}
	return n, nil
}
