package composite

import (
	"testing"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
)

type fixed struct {
	name  string
	state alarm.State
}

func (f *fixed) Name() string       { return f.name }
func (f *fixed) State() alarm.State { return f.state }

func leaf(name string, s alarm.State) *Node { return Leaf(&fixed{name: name, state: s}) }

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		node *Node
		want bool
	}{
		{"leaf alarm", leaf("a", alarm.StateAlarm), true},
		{"leaf ok", leaf("a", alarm.StateOK), false},
		{"leaf insufficient data", leaf("a", alarm.StateInsufficientData), false},
		{"AND(ALARM, OK)", AllOf(leaf("a", alarm.StateAlarm), leaf("b", alarm.StateOK)), false},
		{"AND(ALARM, ALARM)", AllOf(leaf("a", alarm.StateAlarm), leaf("b", alarm.StateAlarm)), true},
		{"OR(OK, ALARM)", AnyOf(leaf("a", alarm.StateOK), leaf("b", alarm.StateAlarm)), true},
		{"OR(OK, INSUFFICIENT_DATA)", AnyOf(leaf("a", alarm.StateOK), leaf("b", alarm.StateInsufficientData)), false},
		{"empty OR", AnyOf(), false},
		{"empty AND", AllOf(), false},
		{"OR of nil children", AnyOf(nil, nil), false},
		{"nil node", nil, false},
		{
			"zone impact",
			AllOf(leaf("outlier", alarm.StateAlarm), AnyOf(leaf("g1", alarm.StateOK), leaf("g2", alarm.StateAlarm))),
			true,
		},
		{
			"zone impact without gate",
			AllOf(leaf("outlier", alarm.StateAlarm), AnyOf(leaf("g1", alarm.StateOK), leaf("g2", alarm.StateInsufficientData))),
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.node); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_ReadsCurrentState(t *testing.T) {
	a := &fixed{name: "a", state: alarm.StateOK}
	n := AnyOf(Leaf(a))
	if n.Evaluate() {
		t.Fatal("Evaluate() = true before alarm")
	}
	a.state = alarm.StateAlarm
	if !n.Evaluate() {
		t.Fatal("Evaluate() = false after alarm")
	}
}

func TestString(t *testing.T) {
	n := AllOf(
		leaf("use1-az1-alb-fault-count-outlier", alarm.StateOK),
		AnyOf(leaf("use1-az1-alb-1-fault-rate", alarm.StateOK)),
	)
	want := `ALARM("use1-az1-alb-fault-count-outlier") AND (ALARM("use1-az1-alb-1-fault-rate"))`
	if got := n.String(); got != want {
		t.Errorf("String() = %s\nwant %s", got, want)
	}
	if got := AnyOf().String(); got != "FALSE" {
		t.Errorf("empty String() = %s, want FALSE", got)
	}
}

func TestDescribe(t *testing.T) {
	n := AnyOf(
		AllOf(leaf("o", alarm.StateAlarm), AnyOf(leaf("g", alarm.StateAlarm))).Named("alb"),
		leaf("n", alarm.StateOK),
	).Named("aggregate")

	d := n.Describe()
	if d.Name != "aggregate" || !d.Value || len(d.Children) != 2 {
		t.Errorf("Describe() = %+v", d)
	}
	if d.Children[0].Name != "alb" || d.Children[1].State != alarm.StateOK {
		t.Errorf("children = %+v", d.Children)
	}
}
