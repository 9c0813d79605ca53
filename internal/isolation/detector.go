// Package isolation detects zonal isolated impact.
//
// For every zone and resource class the detector keeps one outlier alarm
// (is this zone's share of faults disproportionate?) and one magnitude
// alarm per resource (is the fault rate large enough to matter?). A zone's
// class impact is outlier AND any magnitude alarm; its aggregate impact is
// the OR over classes.
package isolation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/aggregate"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/composite"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/event"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/gate"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/metric"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/outlier"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

var (
	// ErrTickDiscarded is returned when a tick was cancelled before its
	// results were committed. No alarm observed the tick.
	ErrTickDiscarded = errors.New("tick discarded")

	// ErrStaleTick is returned for a bucket at or before the last committed one.
	ErrStaleTick = errors.New("bucket already evaluated")
)

// Tick results, as reported in TickReport.Result.
const (
	ResultOK        = "ok"
	ResultDegraded  = "degraded"
	ResultDiscarded = "discarded"
	ResultStale     = "stale"
)

// Degraded sample reasons.
const (
	ReasonFetchTimeout = "fetch_timeout"
	ReasonFetchError   = "fetch_error"
	ReasonScoreTimeout = "score_timeout"
	ReasonScoreError   = "score_error"
)

// TickObserver is told about every tick, committed or not.
type TickObserver interface {
	ObserveTick(r TickReport)
}

// Options are the detector's collaborators. Source is required; Provider
// is required for every algorithm except STATIC.
type Options struct {
	Source   metric.Source
	Provider outlier.ScoreProvider
	Sink     alarm.Sink
	Bus      event.Publisher
	Observer TickObserver
	Logger   *zap.Logger
}

type gateAlarm struct {
	res  models.Resource
	gate *gate.Gate
	eval *alarm.Evaluator
}

// classUnit is one (zone, resource class) pair.
type classUnit struct {
	zone    models.ZoneID
	def     Definition
	outlier *alarm.Evaluator
	gates   []*gateAlarm
	impact  *composite.Node
}

type zoneUnit struct {
	zone      models.ZoneID
	classes   []*classUnit
	aggregate *composite.Node
	impact    bool
}

// Detector evaluates isolated impact once per tick.
type Detector struct {
	cfg        settings
	source     metric.Source
	classifier *outlier.Classifier
	sink       alarm.Sink
	bus        event.Publisher
	observer   TickObserver
	logger     *zap.Logger

	zones     []*zoneUnit
	byClass   map[models.ResourceClass][]*classUnit
	resources []models.Resource
	defs      map[models.ResourceClass]Definition

	mu         sync.Mutex // one tick at a time
	lastBucket time.Time
	last       atomic.Pointer[TickReport]
	view       atomic.Pointer[view]
}

// New validates cfg and builds the alarm trees for layout.
func New(cfg Config, layout Layout, opts Options) (*Detector, error) {
	s, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	if opts.Source == nil {
		return nil, azerr.Configf("metrics_source", "no metric source configured")
	}
	classifier := outlier.NewClassifier(opts.Provider, s.scoreTimeout)
	if !classifier.Supports(s.algorithm) {
		return nil, azerr.Configf("scorer", "algorithm %s needs a score provider", s.algorithm)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Detector{
		cfg:        s,
		source:     opts.Source,
		classifier: classifier,
		sink:       opts.Sink,
		bus:        opts.Bus,
		observer:   opts.Observer,
		logger:     logger,
		byClass:    make(map[models.ResourceClass][]*classUnit),
		resources:  layout.Resources,
		defs:       Definitions(),
	}

	outlierCmp := alarm.GreaterThanOrEqualTo
	if s.algorithm == outlier.ChiSquared {
		outlierCmp = alarm.LessThanOrEqualTo
	}

	for _, z := range layout.Zones {
		zu := &zoneUnit{zone: z}
		var impacts []*composite.Node
		for _, class := range models.ResourceClasses {
			def := d.defs[class]
			var resources []models.Resource
			for _, r := range layout.Resources {
				if r.Zone == z && r.Class == class {
					resources = append(resources, r)
				}
			}
			if len(resources) == 0 {
				continue
			}

			cu := &classUnit{zone: z, def: def}
			cu.outlier, err = alarm.NewEvaluator(alarm.Config{
				Name:              outlierAlarmName(z, def),
				Zone:              z,
				Class:             class,
				Signal:            alarm.SignalOutlier,
				EvaluationPeriods: s.n,
				DatapointsToAlarm: s.m,
				Comparison:        outlierCmp,
				Threshold:         s.threshold,
				MissingData:       s.outlierMissingData,
			})
			if err != nil {
				return nil, err
			}

			gateLeaves := make([]*composite.Node, 0, len(resources))
			for _, r := range resources {
				g, err := gate.New(r, def.Rate, def.Comparison, s.gateThresholds[class])
				if err != nil {
					return nil, err
				}
				ev, err := alarm.NewEvaluator(alarm.Config{
					Name:              gateAlarmName(r, def),
					Zone:              z,
					Class:             class,
					Signal:            alarm.SignalMagnitude,
					ResourceID:        r.ID,
					EvaluationPeriods: s.n,
					DatapointsToAlarm: s.m,
					Comparison:        def.Comparison,
					Threshold:         s.gateThresholds[class],
					MissingData:       s.gateMissingData,
				})
				if err != nil {
					return nil, err
				}
				cu.gates = append(cu.gates, &gateAlarm{res: r, gate: g, eval: ev})
				gateLeaves = append(gateLeaves, composite.Leaf(ev))
			}

			cu.impact = composite.AllOf(composite.Leaf(cu.outlier), composite.AnyOf(gateLeaves...)).
				Named(impactName(z, class))
			impacts = append(impacts, cu.impact)
			zu.classes = append(zu.classes, cu)
			d.byClass[class] = append(d.byClass[class], cu)
		}
		zu.aggregate = composite.AnyOf(impacts...).Named(aggregateImpactName(z))
		d.zones = append(d.zones, zu)
	}
	d.view.Store(d.capture())

	logger.Info("detector built",
		zap.String("algorithm", string(s.algorithm)),
		zap.Float64("threshold", s.threshold),
		zap.Int("zones", len(d.zones)),
		zap.Int("resources", len(layout.Resources)),
		zap.Duration("period", s.period),
	)
	return d, nil
}

// Period returns the evaluation period.
func (d *Detector) Period() time.Duration { return d.cfg.period }

// Window returns how far back an alarm looks: evaluation_periods periods.
func (d *Detector) Window() time.Duration { return time.Duration(d.cfg.n) * d.cfg.period }

// LastTick returns the report of the most recent committed tick. It does
// not wait for a tick in progress.
func (d *Detector) LastTick() TickReport {
	if r := d.last.Load(); r != nil {
		return *r
	}
	return TickReport{}
}

type fetchKey struct {
	resource string
	zone     models.ZoneID
	name     string
}

type pending struct {
	eval   *alarm.Evaluator
	sample alarm.Sample
}

// Tick evaluates the bucket containing at. Ticks are serialized. If ctx is
// cancelled before the results are committed, nothing is applied and
// ErrTickDiscarded is returned.
func (d *Detector) Tick(ctx context.Context, at time.Time) (TickReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bucket := metric.Bucket(at, d.cfg.period)
	report := TickReport{ID: uuid.NewString(), Bucket: bucket, Started: time.Now()}
	finish := func(result string, err error) (TickReport, error) {
		report.Result = result
		report.Duration = time.Since(report.Started)
		if d.observer != nil {
			d.observer.ObserveTick(report)
		}
		return report, err
	}

	if !d.lastBucket.IsZero() && !bucket.After(d.lastBucket) {
		return finish(ResultStale, fmt.Errorf("bucket %s: %w", bucket.Format(time.RFC3339), ErrStaleTick))
	}

	points, err := d.fetch(ctx, bucket, &report)
	var samples []pending
	if err == nil {
		samples, err = d.compute(ctx, bucket, points, &report)
	}
	if err != nil || ctx.Err() != nil {
		d.logger.Warn("tick discarded", zap.String("tick_id", report.ID), zap.Time("bucket", bucket))
		report.Degraded = nil
		return finish(ResultDiscarded, fmt.Errorf("bucket %s: %w", bucket.Format(time.RFC3339), ErrTickDiscarded))
	}

	d.commit(ctx, bucket, samples, &report)
	result := ResultOK
	if len(report.Degraded) > 0 {
		result = ResultDegraded
	}
	report, err = finish(result, nil)
	d.last.Store(&report)
	return report, err
}

// fetch reads every raw metric for the bucket in parallel. Failed lookups
// become missing points marked degraded; only cancellation of ctx aborts.
func (d *Detector) fetch(ctx context.Context, bucket time.Time, report *TickReport) (map[fetchKey]metric.Point, error) {
	points := make(map[fetchKey]metric.Point)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.workers)
	for _, r := range d.resources {
		for _, name := range d.defs[r.Class].Metrics {
			q := metric.Query{ResourceID: r.ID, Zone: r.Zone, Name: name, Period: d.cfg.period}
			g.Go(func() error {
				fctx, cancel := context.WithTimeout(gctx, d.cfg.fetchTimeout)
				defer cancel()
				p, err := d.source.Fetch(fctx, q, bucket)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					reason := ReasonFetchError
					if errors.Is(err, context.DeadlineExceeded) {
						reason = ReasonFetchTimeout
					}
					p = metric.MissingPoint(bucket)
					p.Degraded = true
					d.logger.Warn("metric fetch failed",
						zap.String("query", q.String()),
						zap.String("reason", reason),
						zap.Error(err),
					)
					mu.Lock()
					report.Degraded = append(report.Degraded, DegradedSample{Target: q.String(), Reason: reason, Error: err.Error()})
					mu.Unlock()
				}
				mu.Lock()
				points[fetchKey{resource: r.ID, zone: r.Zone, name: name}] = p
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}

// compute derives every alarm's sample for the bucket without touching
// alarm state.
func (d *Detector) compute(ctx context.Context, bucket time.Time, points map[fetchKey]metric.Point, report *TickReport) ([]pending, error) {
	var (
		mu  sync.Mutex
		out []pending
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, class := range models.ResourceClasses {
		units := d.byClass[class]
		if len(units) == 0 {
			continue
		}
		g.Go(func() error {
			samples, degraded := d.computeClass(gctx, bucket, units, points)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mu.Lock()
			out = append(out, samples...)
			report.Degraded = append(report.Degraded, degraded...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Detector) computeClass(ctx context.Context, bucket time.Time, units []*classUnit, points map[fetchKey]metric.Point) ([]pending, []DegradedSample) {
	var (
		out      []pending
		degraded []DegradedSample
	)
	totals := make(map[models.ZoneID]float64, len(units))
	totalDegraded := make(map[models.ZoneID]bool, len(units))

	for _, cu := range units {
		counts := make(map[string]metric.Point, len(cu.gates))
		for _, ga := range cu.gates {
			raw := make(map[string]metric.Point, len(cu.def.Metrics))
			for _, name := range cu.def.Metrics {
				raw[name] = points[fetchKey{resource: ga.res.ID, zone: ga.res.Zone, name: name}]
			}
			counts[ga.res.ID] = d.evaluate(cu.def.Count, bucket, raw)

			rate := d.evaluate(cu.def.Rate, bucket, raw)
			s := ga.gate.Evaluate(metric.Single(ga.eval.Name(), d.cfg.period, rate))[0]
			out = append(out, pending{eval: ga.eval, sample: s})
		}

		ids := make([]string, 0, len(counts))
		for id := range counts {
			ids = append(ids, id)
		}
		total := d.evaluate(aggregate.SumOf(ids...), bucket, counts)
		totals[cu.zone] = total.Value
		if !total.Valid() {
			totals[cu.zone] = math.NaN()
		}
		totalDegraded[cu.zone] = total.Degraded
	}

	class := units[0].def.Class
	decisions, err := d.classifier.Decide(ctx, d.cfg.algorithm, totals, d.cfg.threshold)
	if err != nil && !errors.Is(err, azerr.ErrMissingSample) {
		reason := ReasonScoreError
		if azerr.IsDegraded(err) {
			reason = ReasonScoreTimeout
		}
		d.logger.Warn("outlier classification failed",
			zap.String("class", string(class)),
			zap.String("reason", reason),
			zap.Error(err),
		)
		degraded = append(degraded, DegradedSample{Target: string(class), Reason: reason, Error: err.Error()})
	}

	for _, cu := range units {
		s := alarm.Sample{Timestamp: bucket, Value: math.NaN(), Outcome: alarm.Missing, Degraded: totalDegraded[cu.zone]}
		if err != nil {
			s.Degraded = s.Degraded || !errors.Is(err, azerr.ErrMissingSample)
		} else {
			dec := decisions[cu.zone]
			s.Value = dec.Score
			s.Outcome = alarm.Breached(dec.Outlier)
		}
		out = append(out, pending{eval: cu.outlier, sample: s})
	}
	return out, degraded
}

// evaluate applies expr to one bucket. Expressions are built from
// Definitions, so a configuration error here is a bug; it is logged and the
// point treated as missing.
func (d *Detector) evaluate(expr aggregate.Expression, bucket time.Time, in map[string]metric.Point) metric.Point {
	p, err := aggregate.At(expr, bucket, d.cfg.period, in)
	if err != nil {
		d.logger.Error("aggregate failed", zap.String("expression", expr.String()), zap.Error(err))
		return metric.MissingPoint(bucket)
	}
	return p
}

// commit applies every sample, then publishes transitions and zone impact
// changes.
func (d *Detector) commit(ctx context.Context, bucket time.Time, samples []pending, report *TickReport) {
	for _, p := range samples {
		if t, ok := p.eval.Observe(p.sample); ok {
			report.Transitions = append(report.Transitions, t)
		}
	}
	d.lastBucket = bucket

	// Delivery must not be cut short by a shutdown that starts now.
	ctx = context.WithoutCancel(ctx)
	for _, t := range report.Transitions {
		d.logTransition(report.ID, t)
		if d.sink != nil {
			d.sink.OnTransition(ctx, t)
		}
		d.publish(ctx, event.TopicAlarmTransition, t)
	}

	for _, zu := range d.zones {
		impact := zu.aggregate.Evaluate()
		if impact != zu.impact {
			zu.impact = impact
			ev := ZoneImpactEvent{Zone: zu.zone, Impact: impact, Bucket: bucket, Rule: zu.aggregate.String()}
			if impact {
				d.logger.Warn("zonal isolated impact detected", zap.String("zone", zu.zone.String()), zap.Time("bucket", bucket))
			} else {
				d.logger.Info("zonal isolated impact cleared", zap.String("zone", zu.zone.String()), zap.Time("bucket", bucket))
			}
			d.publish(ctx, event.TopicZoneImpact, ev)
		}
	}
	v := d.capture()
	d.view.Store(v)
	report.Zones = slices.Clone(v.zones)

	if len(report.Degraded) > 0 {
		d.publish(ctx, event.TopicTickDegraded, report.Degraded)
	}
}

func (d *Detector) publish(ctx context.Context, topic string, payload any) {
	if d.bus == nil {
		return
	}
	d.bus.PublishAsync(ctx, event.Event{
		Topic:     topic,
		Source:    "isolation",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

func (d *Detector) logTransition(tickID string, t alarm.Transition) {
	fields := []zap.Field{
		zap.String("tick_id", tickID),
		zap.String("alarm", t.Alarm),
		zap.String("zone", t.Config.Zone.String()),
		zap.String("class", string(t.Config.Class)),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.Time("bucket", t.Timestamp),
	}
	if t.To == alarm.StateAlarm {
		d.logger.Warn("alarm state changed", fields...)
		return
	}
	d.logger.Info("alarm state changed", fields...)
}
