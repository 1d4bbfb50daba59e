package remedy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opsmesh/opsmesh/src/trust"
	"github.com/sirupsen/logrus"
)

// Names of the decision parameters that ParameterReweight is allowed to
// touch. Anything else is logged and skipped.
const (
	ParamScrutinyThreshold       = "scrutiny_threshold"
	ParamTemporalDecayRate       = "temporal_decay_rate"
	ParamStrainDeferralThreshold = "strain_deferral_threshold"
)

// Parameters are the node's live decision-making parameters, adjusted by
// approved remediations.
type Parameters struct {
	sync.RWMutex
	ScrutinyThreshold       float64
	TemporalDecayRate       float64
	StrainDeferralThreshold float64
}

// NewDefaultParameters returns the parameters a node starts with.
func NewDefaultParameters() *Parameters {
	return &Parameters{
		ScrutinyThreshold:       0.7,
		TemporalDecayRate:       0.1,
		StrainDeferralThreshold: 0.8,
	}
}

// set applies a recognized parameter by name and reports whether the name was
// recognized.
func (p *Parameters) set(name string, value float64) bool {
	p.Lock()
	defer p.Unlock()

	switch name {
	case ParamScrutinyThreshold:
		p.ScrutinyThreshold = value
	case ParamTemporalDecayRate:
		p.TemporalDecayRate = value
	case ParamStrainDeferralThreshold:
		p.StrainDeferralThreshold = value
	default:
		return false
	}

	return true
}

// Engine applies corrective actions, gated by targeting rules and the
// auto-remediation policy flag.
type Engine struct {
	nodeID          string
	autoRemediation bool
	params          *Parameters
	ledger          *trust.Ledger
	conscience      sync.Map // name -> float64
	retrainCycles   uint64
	logger          *logrus.Entry
}

// NewEngine creates a remediation Engine for the node identified by nodeID.
func NewEngine(nodeID string, autoRemediation bool, params *Parameters, ledger *trust.Ledger, logger *logrus.Entry) *Engine {
	if params == nil {
		params = NewDefaultParameters()
	}

	return &Engine{
		nodeID:          nodeID,
		autoRemediation: autoRemediation,
		params:          params,
		ledger:          ledger,
		logger:          logger,
	}
}

// Parameters returns the live decision parameters.
func (e *Engine) Parameters() *Parameters {
	return e.params
}

// RetrainCycles returns how many retraining cycles have been triggered.
func (e *Engine) RetrainCycles() uint64 {
	return atomic.LoadUint64(&e.retrainCycles)
}

// Validate checks an action before application. Production callers must call
// it before Apply; Apply itself does not re-validate. It fails on any
// adjustment value outside [0,1], and on a ParameterReweight with no
// adjustments at all.
func (e *Engine) Validate(action *Action) error {
	for name, value := range action.ParameterAdjustments {
		if value < 0.0 || value > 1.0 {
			return fmt.Errorf("parameter %q value %f outside [0.0, 1.0]", name, value)
		}
	}

	if action.Type == ParameterReweight && len(action.ParameterAdjustments) == 0 {
		return fmt.Errorf("parameter_reweight action %s has no parameter adjustments", action.ID)
	}

	return nil
}

// Apply runs the action through the targeting gate, then the policy gate,
// then dispatches on its type. It always runs to completion synchronously and
// never returns an error: refusals are Results with Applied=false and a
// human-readable Reason.
func (e *Engine) Apply(action *Action) Result {
	result := Result{
		ActionID:        action.ID,
		AdjustmentsMade: map[string]float64{},
		Timestamp:       time.Now(),
	}

	// Targeting gate: dispatch is never reached for actions aimed at another
	// node.
	if action.TargetNode != TargetAll && action.TargetNode != e.nodeID {
		result.Reason = "Not targeted for this node"
		return result
	}

	// Policy gate. ManualReview passes through so it can report its own
	// refusal.
	if !e.autoRemediation && action.Type != ManualReview {
		result.Reason = "Auto-remediation disabled in configuration"
		return result
	}

	switch action.Type {
	case ParameterReweight:
		for name, value := range action.ParameterAdjustments {
			if e.params.set(name, value) {
				result.AdjustmentsMade[name] = value
			} else {
				e.logger.WithFields(logrus.Fields{
					"action_id": action.ID,
					"parameter": name,
				}).Warn("Skipping unrecognized parameter")
			}
		}
		// Reported as applied even when every name was skipped; callers that
		// care inspect AdjustmentsMade.
		result.Applied = true
		result.Reason = fmt.Sprintf("Reweighted %d parameter(s)", len(result.AdjustmentsMade))

	case TrustReset:
		e.ledger.ResetAll()
		result.Applied = true
		result.Reason = "Trust ledger reset to neutral baseline"

	case ConscienceAdjustment:
		for name, value := range action.ParameterAdjustments {
			e.conscience.Store(name, value)
			result.AdjustmentsMade[name] = value
		}
		result.Applied = true
		result.Reason = fmt.Sprintf("Adjusted %d conscience parameter(s)", len(result.AdjustmentsMade))

	case PatternRetrain:
		atomic.AddUint64(&e.retrainCycles, 1)
		result.Applied = true
		result.Reason = "Pattern retraining cycle triggered"

	case ManualReview:
		result.Reason = "Manual review required - operator must apply this action"

	default:
		result.Reason = fmt.Sprintf("Unknown remediation type %d", action.Type)
	}

	e.logger.WithFields(logrus.Fields{
		"action_id": action.ID,
		"type":      action.Type.String(),
		"applied":   result.Applied,
		"reason":    result.Reason,
	}).Info("Processed remediation")

	return result
}

// ConscienceParameter reads back a conscience parameter set by a previous
// ConscienceAdjustment.
func (e *Engine) ConscienceParameter(name string) (float64, bool) {
	v, ok := e.conscience.Load(name)
	if !ok {
		return 0, false
	}
	return v.(float64), true
}

// GenerateReport aggregates a batch of results into counts and a one-line
// summary.
func (e *Engine) GenerateReport(results []Result) Report {
	report := Report{
		TotalActions: len(results),
	}

	for _, result := range results {
		if result.Applied {
			report.SuccessfulRemediations++
		} else {
			report.FailedRemediations++
		}
	}

	switch {
	case report.TotalActions == 0 || report.SuccessfulRemediations == 0:
		report.Summary = "No remediations applied"
	case report.FailedRemediations == 0:
		report.Summary = fmt.Sprintf("All %d remediations applied successfully", report.SuccessfulRemediations)
	default:
		report.Summary = fmt.Sprintf("Partial success: %d applied, %d failed/skipped",
			report.SuccessfulRemediations, report.FailedRemediations)
	}

	return report
}
