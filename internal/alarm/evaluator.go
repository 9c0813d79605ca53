package alarm

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of one tick for one alarm.
type Outcome int8

const (
	Missing Outcome = iota
	NotBreaching
	Breaching
)

func (o Outcome) String() string {
	switch o {
	case Breaching:
		return "breaching"
	case NotBreaching:
		return "not_breaching"
	default:
		return "missing"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "breaching":
		*o = Breaching
	case "not_breaching":
		*o = NotBreaching
	default:
		*o = Missing
	}
	return nil
}

// Breached converts a boolean signal into an Outcome.
func Breached(b bool) Outcome {
	if b {
		return Breaching
	}
	return NotBreaching
}

// Sample is one tick's input to an Evaluator.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Outcome   Outcome   `json:"outcome"`
	Degraded  bool      `json:"degraded,omitempty"`
}

// Transition records a state change.
type Transition struct {
	ID        string    `json:"id"`
	Alarm     string    `json:"alarm"`
	Config    Config    `json:"config"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
	Window    []Outcome `json:"window"`
}

// Sink receives alarm transitions. Implementations must not block the
// caller for long; the detector delivers transitions after committing a tick.
type Sink interface {
	OnTransition(ctx context.Context, t Transition)
}

// Sinks fans a transition out to several sinks in order.
type Sinks []Sink

// OnTransition implements Sink.
func (s Sinks) OnTransition(ctx context.Context, t Transition) {
	for _, sink := range s {
		sink.OnTransition(ctx, t)
	}
}

// Evaluator owns the state of one alarm. It keeps the last N tick outcomes
// and recomputes the state on every observed tick. Samples that are not
// newer than the last observed tick are dropped, so ticks apply in order.
type Evaluator struct {
	cfg Config

	mu       sync.Mutex
	state    State
	window   []Outcome // ring buffer; unobserved slots are Missing
	next     int
	observed int
	last     Sample
}

// NewEvaluator validates cfg and returns an Evaluator in INSUFFICIENT_DATA.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{
		cfg:    cfg,
		state:  StateInsufficientData,
		window: make([]Outcome, cfg.EvaluationPeriods),
	}, nil
}

// Config returns the evaluator's configuration.
func (e *Evaluator) Config() Config { return e.cfg }

// Name returns the alarm name.
func (e *Evaluator) Name() string { return e.cfg.Name }

// State returns the current state.
func (e *Evaluator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Last returns the most recently observed sample.
func (e *Evaluator) Last() Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Window returns the last N outcomes, oldest first.
func (e *Evaluator) Window() []Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ordered()
}

// Observe records one tick and returns the transition it caused, if any.
func (e *Evaluator) Observe(s Sample) (Transition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.observed > 0 && !s.Timestamp.After(e.last.Timestamp) {
		return Transition{}, false
	}

	e.window[e.next] = s.Outcome
	e.next = (e.next + 1) % len(e.window)
	if e.observed < len(e.window) {
		e.observed++
	}
	e.last = s

	window := e.ordered()
	to := decide(window, e.cfg.DatapointsToAlarm, e.cfg.MissingData, e.state)
	if to == e.state {
		return Transition{}, false
	}
	t := Transition{
		ID:        uuid.NewString(),
		Alarm:     e.cfg.Name,
		Config:    e.cfg,
		From:      e.state,
		To:        to,
		Timestamp: s.Timestamp,
		Value:     Finite(s.Value),
		Degraded:  s.Degraded,
		Window:    window,
	}
	e.state = to
	return t, true
}

// Finite returns &v, or nil when v is NaN or infinite.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (e *Evaluator) ordered() []Outcome {
	out := make([]Outcome, 0, len(e.window))
	out = append(out, e.window[e.next:]...)
	out = append(out, e.window[:e.next]...)
	return out
}

// decide computes the state for a full window of N outcomes, where slots not
// yet observed are Missing.
//
//   - missing: any Missing outcome yields INSUFFICIENT_DATA.
//   - breaching / notBreaching: Missing is substituted before counting.
//   - ignore: Missing outcomes are dropped; M stays fixed. A window with no
//     observed outcome keeps the current state.
//
// Otherwise the state is ALARM when at least m outcomes breach, else OK.
func decide(window []Outcome, m int, policy MissingDataPolicy, current State) State {
	breaching, evaluated := 0, 0
	for _, o := range window {
		if o == Missing {
			switch policy {
			case TreatMissing:
				return StateInsufficientData
			case TreatBreaching:
				o = Breaching
			case TreatNotBreaching:
				o = NotBreaching
			default:
				continue
			}
		}
		evaluated++
		if o == Breaching {
			breaching++
		}
	}
	if evaluated == 0 {
		return current
	}
	if breaching >= m {
		return StateAlarm
	}
	return StateOK
}
