package metric

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/store"
)

var retentionNow = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

func seedBuckets(t *testing.T, rec func(Query, time.Time, float64) error) {
	t.Helper()
	other := testQuery
	other.Zone = "use1-az2"
	for _, q := range []Query{testQuery, other} {
		for i := 0; i < 10; i++ {
			if err := rec(q, retentionNow.Add(-time.Duration(i)*time.Minute), float64(i)); err != nil {
				t.Fatalf("record: %v", err)
			}
		}
	}
}

func TestMemorySource_DeleteBefore(t *testing.T) {
	src := NewMemorySource()
	seedBuckets(t, func(q Query, ts time.Time, v float64) error { src.Put(q, ts, v); return nil })
	ctx := context.Background()

	n, err := src.DeleteBefore(ctx, retentionNow.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 8 {
		t.Errorf("deleted = %d, want 8", n)
	}
	p, _ := src.Fetch(ctx, testQuery, retentionNow.Add(-5*time.Minute))
	if p.Missing {
		t.Error("bucket at the cutoff was dropped")
	}
	p, _ = src.Fetch(ctx, testQuery, retentionNow.Add(-6*time.Minute))
	if !p.Missing {
		t.Errorf("bucket before the cutoff = %+v, want missing", p)
	}

	if _, err := src.DeleteBefore(ctx, retentionNow.Add(time.Hour)); err != nil {
		t.Fatalf("DeleteBefore all: %v", err)
	}
	if len(src.samples) != 0 {
		t.Errorf("%d empty series left behind", len(src.samples))
	}
}

func TestSQLSource_DeleteBefore(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := db.Migrate(ctx, "metric", Migrations()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	src, err := NewSQLSource(db.DB(), DriverSQLite)
	if err != nil {
		t.Fatalf("NewSQLSource: %v", err)
	}
	seedBuckets(t, func(q Query, ts time.Time, v float64) error { return src.Record(ctx, q, ts, v) })

	n, err := src.DeleteBefore(ctx, retentionNow.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 8 {
		t.Errorf("deleted = %d, want 8", n)
	}
	p, err := src.Fetch(ctx, testQuery, retentionNow)
	if err != nil || p.Missing {
		t.Errorf("recent bucket = %+v, %v; want present", p, err)
	}
	p, err = src.Fetch(ctx, testQuery, retentionNow.Add(-9*time.Minute))
	if err != nil || !p.Missing {
		t.Errorf("old bucket = %+v, %v; want missing", p, err)
	}
}

type failingPruner struct{ calls int }

func (f *failingPruner) DeleteBefore(context.Context, time.Time) (int64, error) {
	f.calls++
	return 0, errors.New("database is locked")
}

func TestRetention_Run(t *testing.T) {
	src := NewMemorySource()
	seedBuckets(t, func(q Query, ts time.Time, v float64) error { src.Put(q, ts, v); return nil })

	r := NewRetention(src, 3*time.Minute, time.Minute, zap.NewNop())
	r.now = func() time.Time { return retentionNow }
	r.ctx = context.Background()
	r.run()

	for i, want := range []bool{false, false, false, false, true, true} {
		ts := retentionNow.Add(-time.Duration(i) * time.Minute)
		p, _ := src.Fetch(context.Background(), testQuery, ts)
		if p.Missing != want {
			t.Errorf("bucket -%dm missing = %v, want %v", i, p.Missing, want)
		}
	}

	f := &failingPruner{}
	r = NewRetention(f, time.Minute, time.Minute, nil)
	r.ctx = context.Background()
	r.run()
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}

func TestRetention_StartStop(t *testing.T) {
	r := NewRetention(NewMemorySource(), time.Hour, 10*time.Millisecond, nil)
	r.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	r.Stop()
}
