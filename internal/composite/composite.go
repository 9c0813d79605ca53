// Package composite combines alarm states with AND/OR trees.
//
// Nodes hold no state of their own: every evaluation reads the current
// state of the leaf alarms.
package composite

import (
	"fmt"
	"strings"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
)

// Kind tags a Node.
type Kind string

const (
	KindLeaf Kind = "LEAF"
	KindAnd  Kind = "AND"
	KindOr   Kind = "OR"
)

// StateReader is a leaf alarm. *alarm.Evaluator implements it.
type StateReader interface {
	Name() string
	State() alarm.State
}

// Node is one vertex of a composite alarm tree.
type Node struct {
	kind     Kind
	name     string
	leaf     StateReader
	children []*Node
}

// Leaf wraps an alarm. It is true only while the alarm is in ALARM;
// INSUFFICIENT_DATA counts as false.
func Leaf(a StateReader) *Node {
	return &Node{kind: KindLeaf, name: a.Name(), leaf: a}
}

// AllOf is true iff every child is true. With no children it is false.
func AllOf(children ...*Node) *Node {
	return &Node{kind: KindAnd, children: compact(children)}
}

// AnyOf is true iff at least one child is true. With no children it is false.
func AnyOf(children ...*Node) *Node {
	return &Node{kind: KindOr, children: compact(children)}
}

// Named returns n with a display name.
func (n *Node) Named(name string) *Node {
	n.name = name
	return n
}

// Name returns the node's display name; for leaves, the alarm name.
func (n *Node) Name() string { return n.name }

// Kind returns the node's tag.
func (n *Node) Kind() Kind { return n.kind }

// Children returns the node's children.
func (n *Node) Children() []*Node { return n.children }

// Evaluate returns the node's value for the current leaf states.
func (n *Node) Evaluate() bool {
	return Evaluate(n)
}

// Evaluate returns n's value; a nil node is false.
func Evaluate(n *Node) bool {
	if n == nil {
		return false
	}
	switch n.kind {
	case KindLeaf:
		return n.leaf.State() == alarm.StateAlarm
	case KindAnd:
		if len(n.children) == 0 {
			return false
		}
		for _, c := range n.children {
			if !Evaluate(c) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range n.children {
			if Evaluate(c) {
				return true
			}
		}
	}
	return false
}

// String renders the rule in CloudWatch composite alarm syntax, e.g.
// ALARM("a") AND (ALARM("b") OR ALARM("c")).
func (n *Node) String() string {
	if n == nil {
		return "FALSE"
	}
	switch n.kind {
	case KindLeaf:
		return fmt.Sprintf("ALARM(%q)", n.name)
	case KindAnd, KindOr:
		if len(n.children) == 0 {
			return "FALSE"
		}
		parts := make([]string, len(n.children))
		for i, c := range n.children {
			if c.kind == KindLeaf {
				parts[i] = c.String()
			} else {
				parts[i] = "(" + c.String() + ")"
			}
		}
		return strings.Join(parts, " "+string(n.kind)+" ")
	}
	return "FALSE"
}

// Description is a JSON-friendly snapshot of a tree.
type Description struct {
	Name     string        `json:"name,omitempty"`
	Kind     Kind          `json:"kind"`
	Value    bool          `json:"value"`
	State    alarm.State   `json:"state,omitempty"`
	Rule     string        `json:"rule"`
	Children []Description `json:"children,omitempty"`
}

// Describe snapshots n and its subtree.
func (n *Node) Describe() Description {
	d := Description{Name: n.name, Kind: n.kind, Value: Evaluate(n), Rule: n.String()}
	if n.kind == KindLeaf {
		d.State = n.leaf.State()
		return d
	}
	for _, c := range n.children {
		d.Children = append(d.Children, c.Describe())
	}
	return d
}

func compact(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}
