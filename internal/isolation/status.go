package isolation

import (
	"slices"
	"time"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/composite"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// TickReport summarizes one tick.
type TickReport struct {
	ID          string             `json:"id"`
	Bucket      time.Time          `json:"bucket"`
	Started     time.Time          `json:"started"`
	Duration    time.Duration      `json:"duration"`
	Result      string             `json:"result"`
	Degraded    []DegradedSample   `json:"degraded,omitempty"`
	Transitions []alarm.Transition `json:"transitions,omitempty"`
	Zones       []ZoneStatus       `json:"zones,omitempty"`
}

// DegradedSample records a metric or score that could not be obtained for
// a tick and was treated as missing.
type DegradedSample struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// ZoneImpactEvent is published when a zone's aggregate isolated-impact
// signal changes.
type ZoneImpactEvent struct {
	Zone   models.ZoneID `json:"zone"`
	Impact bool          `json:"impact"`
	Bucket time.Time     `json:"bucket"`
	Rule   string        `json:"rule"`
}

// ZoneStatus is the current view of one zone. Tree is only filled in by
// Detector.Zone.
type ZoneStatus struct {
	Zone      models.ZoneID          `json:"zone"`
	Impact    bool                   `json:"impact"`
	Monitored bool                   `json:"monitored"`
	Rule      string                 `json:"rule"`
	Classes   []ClassStatus          `json:"classes,omitempty"`
	Tree      *composite.Description `json:"tree,omitempty"`
}

// ClassStatus is the current view of one (zone, resource class) pair.
type ClassStatus struct {
	Class   models.ResourceClass `json:"class"`
	Impact  bool                 `json:"impact"`
	Rule    string               `json:"rule"`
	Outlier AlarmStatus          `json:"outlier"`
	Gates   []AlarmStatus        `json:"gates"`
}

// AlarmStatus is the current view of one alarm. Value is nil when the last
// sample was missing or not finite.
type AlarmStatus struct {
	Name       string           `json:"name"`
	Signal     alarm.Signal     `json:"signal"`
	ResourceID string           `json:"resource_id,omitempty"`
	State      alarm.State      `json:"state"`
	Condition  string           `json:"condition"`
	Value      *float64         `json:"value,omitempty"`
	UpdatedAt  *time.Time       `json:"updated_at,omitempty"`
	Threshold  float64          `json:"threshold"`
	Comparison alarm.Comparison `json:"comparison"`
	Window     []alarm.Outcome  `json:"window"`
}

func alarmStatus(e *alarm.Evaluator) AlarmStatus {
	cfg := e.Config()
	last := e.Last()
	st := AlarmStatus{
		Name:       cfg.Name,
		Signal:     cfg.Signal,
		ResourceID: cfg.ResourceID,
		State:      e.State(),
		Condition:  cfg.Condition(),
		Threshold:  cfg.Threshold,
		Comparison: cfg.Comparison,
		Window:     e.Window(),
	}
	if !last.Timestamp.IsZero() {
		ts := last.Timestamp
		st.UpdatedAt = &ts
		st.Value = alarm.Finite(last.Value)
	}
	return st
}

// view is the status of every zone as of the last committed tick.
type view struct {
	zones []ZoneStatus
	trees map[models.ZoneID]composite.Description
}

// Snapshot returns the status of every zone as of the last committed tick,
// sorted by zone ID. It never observes a tick that is still being applied.
func (d *Detector) Snapshot() []ZoneStatus {
	return slices.Clone(d.view.Load().zones)
}

// Zone returns the status of one zone, including its rule tree.
func (d *Detector) Zone(z models.ZoneID) (ZoneStatus, bool) {
	v := d.view.Load()
	for _, zs := range v.zones {
		if zs.Zone == z {
			tree := v.trees[z]
			zs.Tree = &tree
			return zs, true
		}
	}
	return ZoneStatus{}, false
}

// capture reads every alarm. Callers hold d.mu or own d exclusively.
func (d *Detector) capture() *view {
	v := &view{
		zones: make([]ZoneStatus, 0, len(d.zones)),
		trees: make(map[models.ZoneID]composite.Description, len(d.zones)),
	}
	for _, zu := range d.zones {
		v.zones = append(v.zones, zoneStatus(zu))
		v.trees[zu.zone] = zu.aggregate.Describe()
	}
	return v
}

func zoneStatus(zu *zoneUnit) ZoneStatus {
	zs := ZoneStatus{
		Zone:      zu.zone,
		Impact:    zu.aggregate.Evaluate(),
		Monitored: len(zu.classes) > 0,
		Rule:      zu.aggregate.String(),
	}
	for _, cu := range zu.classes {
		cs := ClassStatus{
			Class:   cu.def.Class,
			Impact:  cu.impact.Evaluate(),
			Rule:    cu.impact.String(),
			Outlier: alarmStatus(cu.outlier),
		}
		for _, ga := range cu.gates {
			cs.Gates = append(cs.Gates, alarmStatus(ga.eval))
		}
		zs.Classes = append(zs.Classes, cs)
	}
	return zs
}
