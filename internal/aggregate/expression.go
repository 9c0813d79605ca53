// Package aggregate combines metric series with arithmetic expression trees.
//
// An expression references input series by label and is evaluated bucket by
// bucket. Missing inputs and division by zero produce a missing point, never
// a zero.
package aggregate

import (
	"math"
	"strconv"
	"strings"
)

// Expression is a node in an aggregate expression tree.
type Expression interface {
	// String renders the node in metric-math notation.
	String() string

	eval(env func(label string) (float64, bool)) (float64, bool)
	refs(into map[string]struct{})
}

// Ref reads the input series with the given label.
func Ref(label string) Expression { return ref(label) }

// Sum adds its terms. A sum of nothing is zero.
func Sum(terms ...Expression) Expression { return sum(terms) }

// SumOf is Sum over plain references.
func SumOf(labels ...string) Expression {
	terms := make([]Expression, len(labels))
	for i, l := range labels {
		terms[i] = Ref(l)
	}
	return Sum(terms...)
}

// Ratio divides num by den. A zero denominator yields a missing point.
func Ratio(num, den Expression) Expression { return ratio{num: num, den: den} }

// Percent is Ratio scaled by 100.
func Percent(num, den Expression) Expression { return scaled{inner: Ratio(num, den), factor: 100} }

// PercentOfTotal expresses part as a percentage of the sum of all.
func PercentOfTotal(part Expression, all ...Expression) Expression {
	return Percent(part, Sum(all...))
}

// Named labels the result of inner. Named(label, Ref(x)) is a pass-through relabel.
func Named(label string, inner Expression) Expression { return named{label: label, inner: inner} }

// Label returns the output label of expr: its name when Named, its
// rendering otherwise.
func Label(expr Expression) string {
	if n, ok := expr.(named); ok {
		return n.label
	}
	return expr.String()
}

// References returns the input labels expr reads, in no particular order.
func References(expr Expression) []string {
	set := make(map[string]struct{})
	expr.refs(set)
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return out
}

type ref string

func (r ref) String() string { return string(r) }

func (r ref) eval(env func(string) (float64, bool)) (float64, bool) { return env(string(r)) }

func (r ref) refs(into map[string]struct{}) { into[string(r)] = struct{}{} }

type sum []Expression

func (s sum) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, "+") + ")"
}

func (s sum) eval(env func(string) (float64, bool)) (float64, bool) {
	var total float64
	for _, t := range s {
		v, ok := t.eval(env)
		if !ok {
			return math.NaN(), false
		}
		total += v
	}
	return total, true
}

func (s sum) refs(into map[string]struct{}) {
	for _, t := range s {
		t.refs(into)
	}
}

type ratio struct{ num, den Expression }

func (r ratio) String() string { return r.num.String() + "/" + r.den.String() }

func (r ratio) eval(env func(string) (float64, bool)) (float64, bool) {
	n, ok := r.num.eval(env)
	if !ok {
		return math.NaN(), false
	}
	d, ok := r.den.eval(env)
	if !ok || d == 0 {
		return math.NaN(), false
	}
	return n / d, true
}

func (r ratio) refs(into map[string]struct{}) {
	r.num.refs(into)
	r.den.refs(into)
}

type scaled struct {
	inner  Expression
	factor float64
}

func (s scaled) String() string {
	return "(" + s.inner.String() + ")*" + strconv.FormatFloat(s.factor, 'f', -1, 64)
}

func (s scaled) eval(env func(string) (float64, bool)) (float64, bool) {
	v, ok := s.inner.eval(env)
	if !ok {
		return math.NaN(), false
	}
	return v * s.factor, true
}

func (s scaled) refs(into map[string]struct{}) { s.inner.refs(into) }

type named struct {
	label string
	inner Expression
}

func (n named) String() string { return n.inner.String() }

func (n named) eval(env func(string) (float64, bool)) (float64, bool) { return n.inner.eval(env) }

func (n named) refs(into map[string]struct{}) { n.inner.refs(into) }
