package alarms

import "errors"

// ErrNotFound indicates a missing alarm or threshold record.
var ErrNotFound = errors.New("alarm: not found")

// ErrAlreadyOpen indicates an open alarm already exists for the ref.
var ErrAlreadyOpen = errors.New("alarm: already open")

// ErrRuleDisabled indicates an operation on a disabled rule.
var ErrRuleDisabled = errors.New("alarm: rule disabled")
