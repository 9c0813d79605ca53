package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/store"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := Open(context.Background(), db, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func transition(id, name string, zone models.ZoneID, to alarm.State, ts time.Time, value *float64) alarm.Transition {
	return alarm.Transition{
		ID:    id,
		Alarm: name,
		Config: alarm.Config{
			Name:   name,
			Zone:   zone,
			Class:  models.ResourceClassLoadBalancer,
			Signal: alarm.SignalOutlier,
		},
		From:      alarm.StateInsufficientData,
		To:        to,
		Timestamp: ts,
		Value:     value,
		Window:    []alarm.Outcome{alarm.Missing, alarm.Breaching},
	}
}

func ptr(v float64) *float64 { return &v }

func TestStore_InsertList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.OnTransition(ctx, transition("t1", "use1-az1-alb-fault-count-outlier", "use1-az1", alarm.StateOK, t0, ptr(0.1)))
	s.OnTransition(ctx, transition("t2", "use1-az3-alb-fault-count-outlier", "use1-az3", alarm.StateAlarm, t0.Add(time.Minute), nil))

	got, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "t2" {
		t.Errorf("first record = %s, want newest (t2)", got[0].ID)
	}
	if got[0].Value != nil {
		t.Errorf("missing value stored as %v", *got[0].Value)
	}
	if got[1].Value == nil || *got[1].Value != 0.1 {
		t.Errorf("value = %v, want 0.1", got[1].Value)
	}
	if !got[1].Bucket.Equal(t0) {
		t.Errorf("bucket = %v, want %v", got[1].Bucket, t0)
	}
	if len(got[0].Window) != 2 || got[0].Window[1] != alarm.Breaching {
		t.Errorf("window = %v", got[0].Window)
	}
	if got[0].Class != models.ResourceClassLoadBalancer || got[0].Signal != alarm.SignalOutlier {
		t.Errorf("class/signal = %s/%s", got[0].Class, got[0].Signal)
	}
}

func TestStore_ListFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i, z := range []models.ZoneID{"use1-az1", "use1-az2", "use1-az1"} {
		tr := transition(string(rune('a'+i)), string(z)+"-x", z, alarm.StateOK, t0.Add(time.Duration(i)*time.Minute), nil)
		if err := s.Insert(ctx, tr); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "all", filter: Filter{}, want: 3},
		{name: "zone", filter: Filter{Zone: "use1-az1"}, want: 2},
		{name: "alarm", filter: Filter{Alarm: "use1-az2-x"}, want: 1},
		{name: "since", filter: Filter{Since: t0.Add(time.Minute)}, want: 2},
		{name: "limit", filter: Filter{Limit: 1}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestStore_DeleteBefore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i := range 3 {
		tr := transition(string(rune('a'+i)), "x", "use1-az1", alarm.StateOK, t0.Add(time.Duration(i)*time.Hour), nil)
		if err := s.Insert(ctx, tr); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	n, err := s.DeleteBefore(ctx, t0.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	got, _ := s.List(ctx, Filter{})
	if len(got) != 1 {
		t.Errorf("remaining = %d, want 1", len(got))
	}
}

func TestStore_DuplicateIDIsLogged(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tr := transition("dup", "x", "use1-az1", alarm.StateOK, t0, nil)
	if err := s.Insert(ctx, tr); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, tr); err == nil {
		t.Error("second Insert with same id = nil error")
	}
	// The sink path swallows the error.
	s.OnTransition(ctx, tr)
}

func TestRetention_Run(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	old := transition("old", "x", "use1-az1", alarm.StateOK, time.Now().Add(-48*time.Hour), nil)
	recent := transition("new", "x", "use1-az1", alarm.StateAlarm, time.Now(), nil)
	for _, tr := range []alarm.Transition{old, recent} {
		if err := s.Insert(ctx, tr); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	r := NewRetention(s, 24*time.Hour, time.Hour, zap.NewNop())
	r.ctx = ctx
	r.run()

	got, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("remaining = %+v, want only new", got)
	}
}

func TestRetention_StartStop(t *testing.T) {
	r := NewRetention(testStore(t), time.Hour, 10*time.Millisecond, nil)
	r.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	r.Stop()
}

func TestHandleListTransitions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.Insert(ctx, transition("t1", "x", "use1-az1", alarm.StateAlarm, t0, ptr(42))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	tests := []struct {
		name  string
		query string
		code  int
		count int
	}{
		{name: "all", query: "", code: http.StatusOK, count: 1},
		{name: "other zone", query: "?zone=use1-az2", code: http.StatusOK, count: 0},
		{name: "bad since", query: "?since=yesterday", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/transitions"+tt.query, http.NoBody)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
			if tt.code != http.StatusOK {
				return
			}
			var records []Record
			if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if len(records) != tt.count {
				t.Errorf("len = %d, want %d", len(records), tt.count)
			}
		})
	}
}
