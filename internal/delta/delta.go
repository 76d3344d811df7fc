package delta

import (
	"errors"
	"log"
	"sync"
	"time"

	"waterwatch/internal/shifts"
)

// Confidence classifies how a usage delta was derived.
type Confidence string

const (
	ConfidenceNormal   Confidence = "normal"
	ConfidenceReset    Confidence = "reset_corrected"
	ConfidenceOverflow Confidence = "overflow_corrected"
	ConfidenceRejected Confidence = "rejected"
)

// Default counter sizing. Most plant totalizers are 24-bit registers;
// flow computers report 32-bit.
const (
	DefaultCapacity         = float64(1<<24 - 1)
	Counter32Capacity       = float64(1<<32 - 1)
	DefaultRolloverFraction = 0.9
)

// Sample is a raw totalizer observation.
type Sample struct {
	Tag string    `json:"tag"`
	At  time.Time `json:"at"`
	Raw float64   `json:"raw"`
}

// Delta is a usage value derived from two samples bracketing a window.
type Delta struct {
	Tag        string        `json:"tag"`
	Window     shifts.Window `json:"window"`
	Value      float64       `json:"value"`
	Confidence Confidence    `json:"confidence"`
	StartRaw   float64       `json:"start_raw"`
	EndRaw     float64       `json:"end_raw"`
}

// Accepted reports whether the delta may be forwarded to evaluation.
func (d Delta) Accepted() bool {
	return d.Confidence != ConfidenceRejected
}

// CounterSpec describes a tag's counter sizing.
type CounterSpec struct {
	Capacity         float64
	RolloverFraction float64
}

func (s CounterSpec) normalized() CounterSpec {
	if s.Capacity <= 0 {
		s.Capacity = DefaultCapacity
	}
	if s.RolloverFraction <= 0 || s.RolloverFraction > 1 {
		s.RolloverFraction = DefaultRolloverFraction
	}
	return s
}

// SpecResolver returns the counter spec for a tag.
type SpecResolver func(tag string) CounterSpec

// CounterState is the per-tag state retained between poll cycles.
type CounterState struct {
	LastRaw           float64
	LastAt            time.Time
	WindowStartRaw    float64
	SuspectedCapacity float64
}

type tagState struct {
	mu    sync.Mutex
	state CounterState
}

// Engine turns bracketing totalizer samples into usage deltas,
// correcting for counter resets and rollovers.
type Engine struct {
	specs  SpecResolver
	logger *log.Logger

	mu     sync.RWMutex
	states map[string]*tagState
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger assigns a logger for correction audit lines.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine constructs a delta engine.
func NewEngine(specs SpecResolver, opts ...Option) (*Engine, error) {
	if specs == nil {
		return nil, errors.New("delta: nil spec resolver")
	}
	engine := &Engine{
		specs:  specs,
		states: make(map[string]*tagState),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Compute derives the usage delta for a window from its bracketing
// samples. The result value is never negative. Compute does not touch
// counter state; call Commit once the window's samples are fully
// consumed.
func (e *Engine) Compute(window shifts.Window, start, end Sample) Delta {
	spec := e.specs(start.Tag).normalized()

	d := Delta{
		Tag:      start.Tag,
		Window:   window,
		StartRaw: start.Raw,
		EndRaw:   end.Raw,
	}

	switch {
	case end.Raw >= start.Raw:
		d.Value = end.Raw - start.Raw
		d.Confidence = ConfidenceNormal
	case start.Raw >= spec.RolloverFraction*spec.Capacity:
		d.Value = (spec.Capacity - start.Raw) + end.Raw
		d.Confidence = ConfidenceOverflow
	default:
		// A drop far from capacity is a device restart; the post-reset
		// reading is the usage since the reset.
		d.Value = end.Raw
		d.Confidence = ConfidenceReset
	}

	if d.Value < 0 {
		d.Value = 0
	}
	if d.Value > spec.Capacity {
		// More than a full counter span in one window cannot be real.
		d.Confidence = ConfidenceRejected
	}

	if d.Confidence != ConfidenceNormal && e.logger != nil {
		e.logger.Printf("delta corrected tag=%s confidence=%s start_raw=%.0f end_raw=%.0f value=%.0f window=%s",
			d.Tag, d.Confidence, d.StartRaw, d.EndRaw, d.Value, window.Label())
	}
	return d
}

// Commit records the window's samples into the tag's counter state.
// Callers must invoke it only after the full window was consumed so a
// cancelled cycle never leaves the state half-updated.
func (e *Engine) Commit(tag string, d Delta, start, end Sample) {
	if e == nil || tag == "" {
		return
	}
	ts := e.tagState(tag)
	ts.mu.Lock()
	ts.state.LastRaw = end.Raw
	ts.state.LastAt = end.At
	ts.state.WindowStartRaw = start.Raw
	if d.Confidence == ConfidenceOverflow && start.Raw > ts.state.SuspectedCapacity {
		ts.state.SuspectedCapacity = start.Raw
	}
	ts.mu.Unlock()
}

// State returns a copy of the tag's counter state.
func (e *Engine) State(tag string) (CounterState, bool) {
	if e == nil {
		return CounterState{}, false
	}
	e.mu.RLock()
	ts, ok := e.states[tag]
	e.mu.RUnlock()
	if !ok {
		return CounterState{}, false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.state, true
}

func (e *Engine) tagState(tag string) *tagState {
	e.mu.RLock()
	ts, ok := e.states[tag]
	e.mu.RUnlock()
	if ok {
		return ts
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ts, ok = e.states[tag]; ok {
		return ts
	}
	ts = &tagState{}
	e.states[tag] = ts
	return ts
}
