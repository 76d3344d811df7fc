package application

import (
	"errors"
	"log"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/delta"
	"waterwatch/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// DefaultSanityFactor bounds plausible observations: a value this many
// times over the rule limit is treated as a data artifact, not a real
// event.
const DefaultSanityFactor = 1000

// Evaluator classifies usage deltas against threshold rules.
type Evaluator struct {
	sanityFactor float64
	factorSource func() float64
	logger       *log.Logger
}

// EvaluatorOption configures the evaluator.
type EvaluatorOption func(*Evaluator)

// WithSanityFactor overrides the implausibility bound.
func WithSanityFactor(factor float64) EvaluatorOption {
	return func(e *Evaluator) {
		if factor > 1 {
			e.sanityFactor = factor
		}
	}
}

// WithSanityFactorSource reads the implausibility bound per evaluation,
// so a config reload takes effect without a restart. Values <= 1 from
// the source fall back to the static factor.
func WithSanityFactorSource(source func() float64) EvaluatorOption {
	return func(e *Evaluator) {
		e.factorSource = source
	}
}

// WithEvaluatorLogger assigns a logger for sanity-gate audit lines.
func WithEvaluatorLogger(logger *log.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(opts ...EvaluatorOption) (*Evaluator, error) {
	evaluator := &Evaluator{sanityFactor: DefaultSanityFactor}
	for _, opt := range opts {
		opt(evaluator)
	}
	if evaluator.sanityFactor <= 1 {
		return nil, errors.New("evaluator: sanity factor must be > 1")
	}
	return evaluator, nil
}

func (e *Evaluator) factor() float64 {
	if e.factorSource != nil {
		if f := e.factorSource(); f > 1 {
			return f
		}
	}
	return e.sanityFactor
}

// Evaluate returns the verdict for a delta against a rule. A rejected
// delta or an implausibly large value yields indeterminate, which never
// opens or closes an alarm and never notifies.
func (e *Evaluator) Evaluate(d delta.Delta, rule alarms.ThresholdRule) alarms.Verdict {
	if d.Confidence == delta.ConfidenceRejected {
		if e.logger != nil {
			e.logger.Printf("verdict=indeterminate reason=rejected_delta ref=%s tag=%s value=%.1f", rule.Ref, d.Tag, d.Value)
		}
		return alarms.VerdictIndeterminate
	}
	factor := e.factor()
	if rule.LimitValue > 0 && d.Value > rule.LimitValue*factor {
		// Sanity gate: thousands of times over limit is an artifact.
		// Logged distinctly from a true violation so operators can
		// investigate without an SMS storm.
		if e.logger != nil {
			e.logger.Printf("verdict=indeterminate reason=sanity_gate ref=%s tag=%s value=%.1f limit=%.1f factor=%.0f",
				rule.Ref, d.Tag, d.Value, rule.LimitValue, factor)
		}
		metrics.IncRuleSkipped("sanity_gate")
		return alarms.VerdictIndeterminate
	}
	if rule.Operator.Apply(d.Value, rule.LimitValue) {
		return alarms.VerdictViolated
	}
	return alarms.VerdictOK
}
