package application

import (
	"testing"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/delta"
	"waterwatch/internal/shifts"
)

func dayRule(limit float64) alarms.ThresholdRule {
	return alarms.ThresholdRule{
		Ref:        "pc-line-day",
		TagID:      "PC_Line_Total",
		LimitValue: limit,
		Operator:   alarms.OperatorGreaterOrEqual,
		Target:     alarms.TargetDayTotal,
		Severity:   alarms.SeverityWarning,
		Unit:       "L",
		Enabled:    true,
	}
}

func acceptedDelta(value float64) delta.Delta {
	window := shifts.DayAt(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), time.UTC)
	return delta.Delta{
		Tag:        "PC_Line_Total",
		Window:     window,
		Value:      value,
		Confidence: delta.ConfidenceNormal,
	}
}

func TestEvaluateVerdicts(t *testing.T) {
	evaluator, err := NewEvaluator()
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	rule := dayRule(10000)

	if got := evaluator.Evaluate(acceptedDelta(9999), rule); got != alarms.VerdictOK {
		t.Fatalf("9999 against >=10000 should be ok, got %s", got)
	}
	if got := evaluator.Evaluate(acceptedDelta(10000), rule); got != alarms.VerdictViolated {
		t.Fatalf("10000 against >=10000 should violate, got %s", got)
	}
}

func TestEvaluateSanityGate(t *testing.T) {
	evaluator, err := NewEvaluator()
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	rule := dayRule(10000)

	// 2000x over limit is a data artifact, not a violation.
	if got := evaluator.Evaluate(acceptedDelta(2000*10000), rule); got != alarms.VerdictIndeterminate {
		t.Fatalf("implausible value should be indeterminate, got %s", got)
	}
	// Just below the gate it is still a violation.
	if got := evaluator.Evaluate(acceptedDelta(999*10000), rule); got != alarms.VerdictViolated {
		t.Fatalf("large but plausible value should violate, got %s", got)
	}
}

func TestEvaluateRejectedDelta(t *testing.T) {
	evaluator, err := NewEvaluator()
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	d := acceptedDelta(50000)
	d.Confidence = delta.ConfidenceRejected
	if got := evaluator.Evaluate(d, dayRule(10000)); got != alarms.VerdictIndeterminate {
		t.Fatalf("rejected delta should be indeterminate, got %s", got)
	}
}

func TestNewEvaluatorRejectsBadFactor(t *testing.T) {
	if _, err := NewEvaluator(WithSanityFactor(500)); err != nil {
		t.Fatalf("custom factor rejected: %v", err)
	}
	evaluator, err := NewEvaluator(WithSanityFactor(0.5))
	if err != nil || evaluator.sanityFactor != DefaultSanityFactor {
		t.Fatalf("invalid factor must fall back to default, got %v err=%v", evaluator, err)
	}
}

func TestEvaluatorFollowsSanityFactorSource(t *testing.T) {
	factor := 1000.0
	evaluator, err := NewEvaluator(WithSanityFactorSource(func() float64 { return factor }))
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	rule := dayRule(10000)
	d := acceptedDelta(500 * 10000)

	if got := evaluator.Evaluate(d, rule); got != alarms.VerdictViolated {
		t.Fatalf("500x is under the 1000x gate, expected violated, got %v", got)
	}

	// A reload that tightens the bound takes effect on the next
	// evaluation without rebuilding the evaluator.
	factor = 400
	if got := evaluator.Evaluate(d, rule); got != alarms.VerdictIndeterminate {
		t.Fatalf("500x over a 400x gate must be indeterminate, got %v", got)
	}
	factor = 600
	if got := evaluator.Evaluate(d, rule); got != alarms.VerdictViolated {
		t.Fatalf("500x under a 600x gate must be violated again, got %v", got)
	}
}

func TestEvaluatorSourceFallsBackOnBadValue(t *testing.T) {
	evaluator, err := NewEvaluator(WithSanityFactorSource(func() float64 { return 0 }))
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	rule := dayRule(10000)
	if got := evaluator.Evaluate(acceptedDelta(2000*10000), rule); got != alarms.VerdictIndeterminate {
		t.Fatalf("source <= 1 must fall back to the default gate, got %v", got)
	}
	if got := evaluator.Evaluate(acceptedDelta(999*10000), rule); got != alarms.VerdictViolated {
		t.Fatalf("999x must pass the default gate, got %v", got)
	}
}
