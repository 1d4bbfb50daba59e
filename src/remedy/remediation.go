// Package remedy validates and conditionally applies corrective actions that
// adjust a node's own decision-making parameters. Actions are produced by an
// external bias-detection process; this package gates them by targeting rules
// and the auto-remediation policy before anything takes effect.
package remedy

import (
	"fmt"
	"time"
)

// TargetAll is the wildcard target matching every node.
const TargetAll = "all"

// Type enumerates the kinds of corrective action. The set is closed: every
// dispatch site switches over it exhaustively, so adding a type is a
// compile-visible change.
type Type int

const (
	// ParameterReweight adjusts a fixed, known set of decision parameters.
	ParameterReweight Type = iota
	// TrustReset returns trust ledger entries to the neutral baseline.
	TrustReset
	// ConscienceAdjustment applies every supplied parameter unconditionally.
	ConscienceAdjustment
	// PatternRetrain triggers an asynchronous retraining cycle.
	PatternRetrain
	// ManualReview is never applied automatically.
	ManualReview
)

// String ...
func (t Type) String() string {
	switch t {
	case ParameterReweight:
		return "parameter_reweight"
	case TrustReset:
		return "trust_reset"
	case ConscienceAdjustment:
		return "conscience_adjustment"
	case PatternRetrain:
		return "pattern_retrain"
	case ManualReview:
		return "manual_review"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	switch string(text) {
	case "parameter_reweight":
		*t = ParameterReweight
	case "trust_reset":
		*t = TrustReset
	case "conscience_adjustment":
		*t = ConscienceAdjustment
	case "pattern_retrain":
		*t = PatternRetrain
	case "manual_review":
		*t = ManualReview
	default:
		return fmt.Errorf("unknown remediation type %q", string(text))
	}
	return nil
}

// Action is a corrective adjustment proposed by an external bias-detection
// process. It is never mutated after creation.
type Action struct {
	ID                   string             `json:"id"`
	TargetNode           string             `json:"target_node"`
	Type                 Type               `json:"remediation_type"`
	Description          string             `json:"description"`
	ParameterAdjustments map[string]float64 `json:"parameter_adjustments"`
	ExpectedImpact       string             `json:"expected_impact"`
}

// Result records the outcome of applying one Action. A false Applied with a
// populated Reason is a policy refusal, not an error.
type Result struct {
	ActionID        string             `json:"action_id"`
	Applied         bool               `json:"applied"`
	Reason          string             `json:"reason"`
	AdjustmentsMade map[string]float64 `json:"adjustments_made"`
	Timestamp       time.Time          `json:"timestamp"`
}

// Report aggregates a batch of results.
type Report struct {
	TotalActions           int    `json:"total_actions"`
	SuccessfulRemediations int    `json:"successful_remediations"`
	FailedRemediations     int    `json:"failed_remediations"`
	Summary                string `json:"summary"`
}
