// Package alarm implements the M-of-N windowed alarm state machine.
package alarm

import (
	"fmt"
	"strings"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// State is an alarm state.
type State string

const (
	StateOK               State = "OK"
	StateAlarm            State = "ALARM"
	StateInsufficientData State = "INSUFFICIENT_DATA"
)

// Comparison decides whether a value breaches a threshold.
type Comparison string

const (
	GreaterThan          Comparison = "GreaterThanThreshold"
	GreaterThanOrEqualTo Comparison = "GreaterThanOrEqualToThreshold"
	LessThan             Comparison = "LessThanThreshold"
	LessThanOrEqualTo    Comparison = "LessThanOrEqualToThreshold"
)

// ParseComparison accepts the full names, their upper snake form and the
// operator symbols ">", ">=", "<", "<=".
func ParseComparison(s string) (Comparison, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case ">", "GREATERTHANTHRESHOLD", "GREATER_THAN":
		return GreaterThan, nil
	case ">=", "GREATERTHANOREQUALTOTHRESHOLD", "GREATER_THAN_OR_EQUAL":
		return GreaterThanOrEqualTo, nil
	case "<", "LESSTHANTHRESHOLD", "LESS_THAN":
		return LessThan, nil
	case "<=", "LESSTHANOREQUALTOTHRESHOLD", "LESS_THAN_OR_EQUAL":
		return LessThanOrEqualTo, nil
	}
	return "", azerr.Configf("comparison", "unknown comparison operator %q", s)
}

// Compare reports whether v breaches threshold.
func (c Comparison) Compare(v, threshold float64) bool {
	switch c {
	case GreaterThan:
		return v > threshold
	case GreaterThanOrEqualTo:
		return v >= threshold
	case LessThan:
		return v < threshold
	case LessThanOrEqualTo:
		return v <= threshold
	}
	return false
}

// Symbol returns the operator symbol.
func (c Comparison) Symbol() string {
	switch c {
	case GreaterThan:
		return ">"
	case GreaterThanOrEqualTo:
		return ">="
	case LessThan:
		return "<"
	case LessThanOrEqualTo:
		return "<="
	}
	return "?"
}

// MissingDataPolicy decides how missing ticks count toward the window.
type MissingDataPolicy string

const (
	// TreatMissing forces INSUFFICIENT_DATA while any tick in the window is missing.
	TreatMissing MissingDataPolicy = "missing"
	// TreatIgnore drops missing ticks from the window.
	TreatIgnore MissingDataPolicy = "ignore"
	// TreatBreaching counts missing ticks as breaching.
	TreatBreaching MissingDataPolicy = "breaching"
	// TreatNotBreaching counts missing ticks as not breaching.
	TreatNotBreaching MissingDataPolicy = "notBreaching"
)

// ParseMissingDataPolicy accepts the policy names in any case, with or
// without underscores. Empty means TreatMissing.
func ParseMissingDataPolicy(s string) (MissingDataPolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "") {
	case "", "missing":
		return TreatMissing, nil
	case "ignore":
		return TreatIgnore, nil
	case "breaching":
		return TreatBreaching, nil
	case "notbreaching":
		return TreatNotBreaching, nil
	}
	return "", azerr.Configf("missing_data", "unknown missing data policy %q", s)
}

// Signal names the kind of input an alarm watches.
type Signal string

const (
	SignalOutlier   Signal = "outlier"
	SignalMagnitude Signal = "magnitude"
)

// Config configures one Evaluator.
type Config struct {
	Name              string               `json:"name"`
	Zone              models.ZoneID        `json:"zone"`
	Class             models.ResourceClass `json:"class"`
	Signal            Signal               `json:"signal"`
	ResourceID        string               `json:"resource_id,omitempty"`
	EvaluationPeriods int                  `json:"evaluation_periods"`
	DatapointsToAlarm int                  `json:"datapoints_to_alarm"`
	Comparison        Comparison           `json:"comparison"`
	Threshold         float64              `json:"threshold"`
	MissingData       MissingDataPolicy    `json:"missing_data"`
}

// Condition renders the breach test, e.g. "value >= 5".
func (c Config) Condition() string {
	return fmt.Sprintf("value %s %g", c.Comparison.Symbol(), c.Threshold)
}

// Validate reports the first invalid field as a ConfigurationError.
func (c Config) Validate() error {
	if c.Name == "" {
		return azerr.Configf("alarm.name", "required")
	}
	if c.EvaluationPeriods < 1 {
		return azerr.Configf("evaluation_periods", "alarm %s: must be >= 1, got %d", c.Name, c.EvaluationPeriods)
	}
	if c.DatapointsToAlarm < 1 || c.DatapointsToAlarm > c.EvaluationPeriods {
		return azerr.Configf("datapoints_to_alarm", "alarm %s: must be in [1, %d], got %d",
			c.Name, c.EvaluationPeriods, c.DatapointsToAlarm)
	}
	if _, err := ParseComparison(string(c.Comparison)); err != nil {
		return err
	}
	switch c.MissingData {
	case TreatMissing, TreatIgnore, TreatBreaching, TreatNotBreaching:
	default:
		return azerr.Configf("missing_data", "alarm %s: unknown policy %q", c.Name, c.MissingData)
	}
	return nil
}
