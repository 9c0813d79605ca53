// Package telemetry exports detector activity as Prometheus metrics.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/isolation"
)

var states = []alarm.State{alarm.StateOK, alarm.StateAlarm, alarm.StateInsufficientData}

// Metrics implements isolation.TickObserver and alarm.Sink.
type Metrics struct {
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	degraded     *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	alarmState   *prometheus.GaugeVec
	zoneImpact   *prometheus.GaugeVec
}

// New creates the detector metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "azwatch_ticks_total",
				Help: "Detector ticks by result.",
			},
			[]string{"result"},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "azwatch_tick_duration_seconds",
				Help:    "Time spent evaluating one tick.",
				Buckets: prometheus.DefBuckets,
			},
		),
		degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "azwatch_degraded_samples_total",
				Help: "Samples treated as missing because a fetch or score failed.",
			},
			[]string{"reason"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "azwatch_alarm_transitions_total",
				Help: "Alarm state transitions by target state.",
			},
			[]string{"signal", "to"},
		),
		alarmState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "azwatch_alarm_state",
				Help: "1 for the current state of each alarm, 0 otherwise.",
			},
			[]string{"alarm", "zone", "class", "signal", "state"},
		),
		zoneImpact: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "azwatch_zone_isolated_impact",
				Help: "1 while a zone shows isolated impact.",
			},
			[]string{"zone"},
		),
	}
	reg.MustRegister(m.ticks, m.tickDuration, m.degraded, m.transitions, m.alarmState, m.zoneImpact)
	return m
}

// ObserveTick implements isolation.TickObserver.
func (m *Metrics) ObserveTick(r isolation.TickReport) {
	m.ticks.WithLabelValues(r.Result).Inc()
	if r.Result == isolation.ResultStale {
		return
	}
	m.tickDuration.Observe(r.Duration.Seconds())
	for _, d := range r.Degraded {
		m.degraded.WithLabelValues(d.Reason).Inc()
	}
	for _, z := range r.Zones {
		v := 0.0
		if z.Impact {
			v = 1
		}
		m.zoneImpact.WithLabelValues(z.Zone.String()).Set(v)
	}
}

// OnTransition implements alarm.Sink.
func (m *Metrics) OnTransition(_ context.Context, t alarm.Transition) {
	m.transitions.WithLabelValues(string(t.Config.Signal), string(t.To)).Inc()
	for _, s := range states {
		v := 0.0
		if s == t.To {
			v = 1
		}
		m.alarmState.WithLabelValues(t.Alarm, t.Config.Zone.String(), string(t.Config.Class), string(t.Config.Signal), string(s)).Set(v)
	}
}
