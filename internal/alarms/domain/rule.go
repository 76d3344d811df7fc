package alarms

import (
	"errors"
	"time"
)

// Operator compares an observed value against a rule limit.
type Operator string

const (
	OperatorGreaterOrEqual Operator = ">="
	OperatorLessOrEqual    Operator = "<="
	OperatorGreater        Operator = ">"
	OperatorLess           Operator = "<"
	OperatorEqual          Operator = "=="
)

// Valid returns true when the operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreaterOrEqual, OperatorLessOrEqual, OperatorGreater, OperatorLess, OperatorEqual:
		return true
	default:
		return false
	}
}

// Apply evaluates value against limit.
func (o Operator) Apply(value, limit float64) bool {
	switch o {
	case OperatorGreaterOrEqual:
		return value >= limit
	case OperatorLessOrEqual:
		return value <= limit
	case OperatorGreater:
		return value > limit
	case OperatorLess:
		return value < limit
	case OperatorEqual:
		return value == limit
	default:
		return false
	}
}

// Target selects which aggregate a rule is evaluated against.
type Target string

const (
	TargetDayTotal   Target = "day_total"
	TargetShiftTotal Target = "shift_total"
	TargetAbsolute   Target = "absolute"
)

// Valid returns true when the target is supported.
func (t Target) Valid() bool {
	switch t {
	case TargetDayTotal, TargetShiftTotal, TargetAbsolute:
		return true
	default:
		return false
	}
}

// Windowed reports whether the target aggregates over a time window.
func (t Target) Windowed() bool {
	return t == TargetDayTotal || t == TargetShiftTotal
}

// Severity classifies threshold rules and the alarms they raise.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid returns true when the severity is known.
func (s Severity) Valid() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// ThresholdRule defines a usage threshold monitored by the engine.
type ThresholdRule struct {
	Ref             string    `json:"ref"`
	TagID           string    `json:"tag_id"`
	LimitValue      float64   `json:"limit_value"`
	Operator        Operator  `json:"operator"`
	Target          Target    `json:"target"`
	Severity        Severity  `json:"severity"`
	Unit            string    `json:"unit"`
	MessageTemplate string    `json:"message_template,omitempty"`
	Group           string    `json:"group,omitempty"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks rule invariants. A rule failing validation is skipped
// by the poll cycle; it never halts evaluation of other rules.
func (r ThresholdRule) Validate() error {
	if r.Ref == "" {
		return errors.New("threshold rule: empty ref")
	}
	if r.TagID == "" {
		return errors.New("threshold rule: empty tag id")
	}
	if !r.Operator.Valid() {
		return errors.New("threshold rule: invalid operator")
	}
	if !r.Target.Valid() {
		return errors.New("threshold rule: invalid target")
	}
	if !r.Severity.Valid() {
		return errors.New("threshold rule: invalid severity")
	}
	if r.Target.Windowed() && r.LimitValue <= 0 {
		return errors.New("threshold rule: windowed limit must be positive")
	}
	return nil
}

// Verdict is the outcome of evaluating one rule against one aggregate.
type Verdict string

const (
	VerdictOK            Verdict = "ok"
	VerdictViolated      Verdict = "violated"
	VerdictIndeterminate Verdict = "indeterminate"
)
