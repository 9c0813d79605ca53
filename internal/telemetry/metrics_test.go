package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/isolation"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

func TestObserveTick(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTick(isolation.TickReport{
		Result:   isolation.ResultDegraded,
		Duration: 20 * time.Millisecond,
		Degraded: []isolation.DegradedSample{
			{Reason: isolation.ReasonFetchTimeout},
			{Reason: isolation.ReasonFetchTimeout},
			{Reason: isolation.ReasonScoreError},
		},
		Zones: []isolation.ZoneStatus{
			{Zone: "use1-az1"},
			{Zone: "use1-az3", Impact: true},
		},
	})
	m.ObserveTick(isolation.TickReport{Result: isolation.ResultStale})

	tests := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"degraded ticks", m.ticks.WithLabelValues(isolation.ResultDegraded), 1},
		{"stale ticks", m.ticks.WithLabelValues(isolation.ResultStale), 1},
		{"fetch timeouts", m.degraded.WithLabelValues(isolation.ReasonFetchTimeout), 2},
		{"score errors", m.degraded.WithLabelValues(isolation.ReasonScoreError), 1},
		{"impacted zone", m.zoneImpact.WithLabelValues("use1-az3"), 1},
		{"healthy zone", m.zoneImpact.WithLabelValues("use1-az1"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.collector); got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}

	// Stale ticks are not timed.
	if n := testutil.CollectAndCount(m.tickDuration); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

func TestOnTransition(t *testing.T) {
	m := New(prometheus.NewRegistry())
	cfg := alarm.Config{
		Name:   "use1-az3-alb-fault-count-outlier",
		Zone:   "use1-az3",
		Class:  models.ResourceClassLoadBalancer,
		Signal: alarm.SignalOutlier,
	}

	m.OnTransition(context.Background(), alarm.Transition{Alarm: cfg.Name, Config: cfg, From: alarm.StateInsufficientData, To: alarm.StateAlarm})
	m.OnTransition(context.Background(), alarm.Transition{Alarm: cfg.Name, Config: cfg, From: alarm.StateAlarm, To: alarm.StateOK})

	state := func(s alarm.State) float64 {
		return testutil.ToFloat64(m.alarmState.WithLabelValues(cfg.Name, "use1-az3", "LOAD_BALANCER", "outlier", string(s)))
	}
	if got := state(alarm.StateOK); got != 1 {
		t.Errorf("OK gauge = %v, want 1", got)
	}
	if got := state(alarm.StateAlarm); got != 0 {
		t.Errorf("ALARM gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("outlier", "ALARM")); got != 1 {
		t.Errorf("transitions to ALARM = %v, want 1", got)
	}
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("second New on the same registry did not panic")
		}
	}()
	New(reg)
}
