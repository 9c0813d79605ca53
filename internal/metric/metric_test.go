package metric

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/store"
)

var testQuery = Query{ResourceID: "alb-1", Zone: "use1-az1", Name: "HTTPCode_Target_5XX_Count", Period: time.Minute}

func TestMemorySource_Fetch(t *testing.T) {
	src := NewMemorySource()
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	src.Put(testQuery, now, 7)
	src.Put(testQuery, now.Add(time.Minute), math.NaN())

	tests := []struct {
		name        string
		bucket      time.Time
		wantMissing bool
		wantValue   float64
	}{
		{"present", now, false, 7},
		{"same bucket different second", now.Add(-30 * time.Second), false, 7},
		{"nan is missing", now.Add(time.Minute), true, 0},
		{"absent is missing not zero", now.Add(2 * time.Minute), true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := src.Fetch(context.Background(), testQuery, tt.bucket)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if p.Missing != tt.wantMissing {
				t.Fatalf("Missing = %v, want %v", p.Missing, tt.wantMissing)
			}
			if !tt.wantMissing && p.Value != tt.wantValue {
				t.Errorf("Value = %v, want %v", p.Value, tt.wantValue)
			}
			if !p.Timestamp.Equal(Bucket(tt.bucket, time.Minute)) {
				t.Errorf("Timestamp = %v, want bucket start", p.Timestamp)
			}
		})
	}
}

func TestMemorySource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemorySource().Fetch(ctx, testQuery, time.Now()); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch error = %v, want context.Canceled", err)
	}
}

func TestSeries_At(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Series{Period: time.Minute, Points: []Point{
		{Timestamp: t0, Value: 1},
		{Timestamp: t0.Add(time.Minute), Value: 2},
	}}
	if p, ok := s.At(t0.Add(time.Minute)); !ok || p.Value != 2 {
		t.Errorf("At(t0+1m) = %v, %v; want 2, true", p.Value, ok)
	}
	if _, ok := s.At(t0.Add(5 * time.Minute)); ok {
		t.Error("At(t0+5m) found a point, want none")
	}
	if last := (Series{}).Last(); !last.Missing {
		t.Error("Last() of empty series should be missing")
	}
}

func TestNewSQLSource_UnsupportedDriver(t *testing.T) {
	_, err := NewSQLSource(nil, "oracle")
	if !errors.Is(err, azerr.ErrConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
}

func TestSQLSource_SQLiteRoundtrip(t *testing.T) {
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

	ts := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	if err := src.Record(ctx, testQuery, ts, 3); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := src.Record(ctx, testQuery, ts, 4); err != nil {
		t.Fatalf("Record upsert: %v", err)
	}

	p, err := src.Fetch(ctx, testQuery, ts)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Missing || p.Value != 4 {
		t.Errorf("Fetch = %+v, want value 4", p)
	}

	p, err = src.Fetch(ctx, testQuery, ts.Add(time.Minute))
	if err != nil {
		t.Fatalf("Fetch absent: %v", err)
	}
	if !p.Missing {
		t.Errorf("absent bucket = %+v, want missing", p)
	}
}

func TestSQLSource_Rebind(t *testing.T) {
	pg := &SQLSource{driver: DriverPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("postgres rebind = %q", got)
	}
	my := &SQLSource{driver: DriverMySQL}
	if got := my.rebind("a = ?"); got != "a = ?" {
		t.Errorf("mysql rebind = %q", got)
	}
}
