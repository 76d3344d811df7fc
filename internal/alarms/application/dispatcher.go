package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/delta"
	"waterwatch/internal/eventing"
	"waterwatch/internal/observability/metrics"
	"waterwatch/internal/shifts"
)

// RuleSource lists the threshold rules to evaluate.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]alarms.ThresholdRule, error)
}

// SampleSource brackets historian samples around a window.
type SampleSource interface {
	WindowSamples(ctx context.Context, tag string, window shifts.Window, now time.Time) (start, end delta.Sample, ok bool, err error)
	Latest(ctx context.Context, tag string) (delta.Sample, bool, error)
}

// Notifier delivers alarm notifications to on-call contacts.
type Notifier interface {
	NotifyAlarm(ctx context.Context, event alarms.AlarmEvent, rule alarms.ThresholdRule, cleared bool)
}

// MessageRenderer builds the notification text for a violation.
type MessageRenderer func(rule alarms.ThresholdRule, d delta.Delta) string

const (
	defaultPollInterval = 60 * time.Second
	defaultWorkers      = 8
)

// Dispatcher drives the recurring poll cycle: per enabled rule it
// brackets historian samples, computes the usage delta, evaluates the
// threshold, runs the lifecycle state machine, and notifies on a new
// open. Rules are independent and evaluated concurrently under a
// bounded worker pool; a cycle never overlaps itself.
type Dispatcher struct {
	rules     RuleSource
	samples   SampleSource
	engine    *delta.Engine
	evaluator *Evaluator
	lifecycle *Service
	policy    PolicyProvider
	notifier  Notifier
	renderer  MessageRenderer
	status    *StatusBoard
	bus       *eventing.Bus
	loc       *time.Location
	logger    *log.Logger
	clock     Clock

	interval time.Duration
	workers  int
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithInterval sets the poll interval.
func WithInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithWorkers bounds the per-cycle worker pool.
func WithWorkers(workers int) DispatcherOption {
	return func(d *Dispatcher) {
		if workers > 0 {
			d.workers = workers
		}
	}
}

// WithDispatcherClock assigns a clock.
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithDispatcherLogger assigns a logger.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithNotifier assigns the notifier.
func WithNotifier(notifier Notifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.notifier = notifier
	}
}

// WithMessageRenderer assigns the notification text renderer.
func WithMessageRenderer(renderer MessageRenderer) DispatcherOption {
	return func(d *Dispatcher) {
		d.renderer = renderer
	}
}

// WithStatusBoard assigns the live status board.
func WithStatusBoard(board *StatusBoard) DispatcherOption {
	return func(d *Dispatcher) {
		d.status = board
	}
}

// WithDispatcherBus assigns the data-quality event bus.
func WithDispatcherBus(bus *eventing.Bus) DispatcherOption {
	return func(d *Dispatcher) {
		d.bus = bus
	}
}

// NewDispatcher constructs the poll dispatcher.
func NewDispatcher(rules RuleSource, samples SampleSource, engine *delta.Engine, evaluator *Evaluator, lifecycle *Service, policy PolicyProvider, loc *time.Location, opts ...DispatcherOption) (*Dispatcher, error) {
	if rules == nil || samples == nil {
		return nil, errors.New("dispatcher: nil rule or sample source")
	}
	if engine == nil || evaluator == nil || lifecycle == nil {
		return nil, errors.New("dispatcher: nil engine, evaluator or lifecycle")
	}
	if policy == nil {
		return nil, errors.New("dispatcher: nil policy provider")
	}
	if loc == nil {
		loc = time.Local
	}
	dispatcher := &Dispatcher{
		rules:     rules,
		samples:   samples,
		engine:    engine,
		evaluator: evaluator,
		lifecycle: lifecycle,
		policy:    policy,
		loc:       loc,
		clock:     systemClock{},
		interval:  defaultPollInterval,
		workers:   defaultWorkers,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// Run polls until the context is cancelled. Cycles run back to back on
// the interval; a slow cycle delays the next tick rather than
// overlapping it.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	if err := d.RunCycle(ctx); err != nil && d.logger != nil {
		d.logger.Printf("poll cycle error: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.RunCycle(ctx); err != nil && d.logger != nil {
				d.logger.Printf("poll cycle error: %v", err)
			}
		}
	}
}

// RunCycle evaluates every enabled rule once. Workers must finish (or
// hit the cycle deadline) before the cycle's results are final.
func (d *Dispatcher) RunCycle(ctx context.Context) error {
	started := d.clock.Now()
	deadline := d.interval * 3 / 4
	cycleCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	rules, err := d.rules.ListEnabled(cycleCtx)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			// Configuration error: skip this rule, others proceed.
			if d.logger != nil {
				d.logger.Printf("rule skipped ref=%s err=%v", rule.Ref, err)
			}
			metrics.IncRuleSkipped("invalid_rule")
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(rule alarms.ThresholdRule) {
			defer wg.Done()
			defer func() { <-sem }()
			d.evaluateRule(cycleCtx, rule)
		}(rule)
	}
	wg.Wait()

	elapsed := d.clock.Now().Sub(started)
	metrics.IncPollCycle()
	metrics.ObserveCycleDuration(elapsed)
	if d.logger != nil {
		d.logger.Printf("poll cycle complete rules=%d elapsed=%s", len(rules), elapsed)
	}
	return nil
}

func (d *Dispatcher) evaluateRule(ctx context.Context, rule alarms.ThresholdRule) {
	now := d.clock.Now()

	value, ok := d.fetch(ctx, rule, now)
	if !ok {
		metrics.IncVerdict(string(alarms.VerdictIndeterminate))
		d.markStale(rule, now)
		return
	}

	verdict := d.evaluator.Evaluate(value, rule)
	metrics.IncVerdict(string(verdict))

	if verdict == alarms.VerdictIndeterminate {
		d.flagDataQuality(ctx, rule, value, now)
		d.markStale(rule, now)
		return
	}

	message := ""
	if d.renderer != nil {
		message = d.renderer(rule, value)
	}
	transition, err := d.lifecycle.Apply(ctx, rule, verdict, value, message)
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("lifecycle error ref=%s err=%v", rule.Ref, err)
		}
		return
	}
	if transition.Notify && d.notifier != nil && transition.Event != nil {
		d.notifier.NotifyAlarm(ctx, *transition.Event, rule, transition.Cleared)
	}
	d.updateStatus(rule, value, verdict, now)
}

// fetch resolves the rule's window and brackets its samples, returning
// the usage delta to evaluate. ok is false when the data is missing or
// the historian is unavailable; the rule is then indeterminate and the
// cycle proceeds.
func (d *Dispatcher) fetch(ctx context.Context, rule alarms.ThresholdRule, now time.Time) (delta.Delta, bool) {
	switch rule.Target {
	case alarms.TargetShiftTotal, alarms.TargetDayTotal:
		window := shifts.DayAt(now, d.loc)
		if rule.Target == alarms.TargetShiftTotal {
			window = shifts.ShiftAt(now, d.loc)
		}
		start, end, ok, err := d.samples.WindowSamples(ctx, rule.TagID, window, now)
		if err != nil {
			metrics.IncHistorianError()
			if d.logger != nil {
				d.logger.Printf("historian read failed ref=%s tag=%s err=%v", rule.Ref, rule.TagID, err)
			}
			return delta.Delta{}, false
		}
		if !ok {
			return delta.Delta{}, false
		}
		computed := d.engine.Compute(window, start, end)
		d.engine.Commit(rule.TagID, computed, start, end)
		metrics.IncDelta(string(computed.Confidence))
		return computed, true

	case alarms.TargetAbsolute:
		sample, ok, err := d.samples.Latest(ctx, rule.TagID)
		if err != nil {
			metrics.IncHistorianError()
			if d.logger != nil {
				d.logger.Printf("historian read failed ref=%s tag=%s err=%v", rule.Ref, rule.TagID, err)
			}
			return delta.Delta{}, false
		}
		if !ok {
			return delta.Delta{}, false
		}
		return delta.Delta{
			Tag:        rule.TagID,
			Window:     shifts.DayAt(now, d.loc),
			Value:      sample.Raw,
			Confidence: delta.ConfidenceNormal,
			StartRaw:   sample.Raw,
			EndRaw:     sample.Raw,
		}, true

	default:
		return delta.Delta{}, false
	}
}

func (d *Dispatcher) flagDataQuality(ctx context.Context, rule alarms.ThresholdRule, value delta.Delta, now time.Time) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(ctx, eventing.KindDataQualityFlagged, now, map[string]any{
		"ref":        rule.Ref,
		"tag_id":     rule.TagID,
		"value":      value.Value,
		"confidence": value.Confidence,
		"window":     value.Window.Label(),
	})
}

func (d *Dispatcher) markStale(rule alarms.ThresholdRule, now time.Time) {
	if d.status == nil {
		return
	}
	d.status.MarkStale(rule.Ref, now)
}

func (d *Dispatcher) updateStatus(rule alarms.ThresholdRule, value delta.Delta, verdict alarms.Verdict, now time.Time) {
	if d.status == nil {
		return
	}
	status := RefStatus{
		Ref:           rule.Ref,
		TagID:         rule.TagID,
		Target:        rule.Target,
		Severity:      rule.Severity,
		LimitValue:    rule.LimitValue,
		Verdict:       verdict,
		LastValue:     value.Value,
		Confidence:    value.Confidence,
		WindowLabel:   value.Window.Label(),
		Unit:          rule.Unit,
		LastEvaluated: now,
	}
	if tag, ok := d.policy.Snapshot().Tag(rule.TagID); ok {
		status.Description = tag.Description
		status.Line = tag.Line
		if status.Unit == "" {
			status.Unit = tag.Unit
		}
	}
	if open, ok := d.lifecycle.OpenEvent(rule.Ref); ok {
		status.Open = true
		status.Acknowledged = open.Acknowledged()
		status.AlarmID = open.ID
	}
	d.status.Update(status)
}

// Status builds the dashboard snapshot.
func (d *Dispatcher) Status() Snapshot {
	if d.status == nil {
		return Snapshot{GeneratedAt: d.clock.Now()}
	}
	snapshot := d.policy.Snapshot()
	return d.status.Snapshot(d.clock.Now(), d.lifecycle.Degraded(), snapshot.MappingVersion)
}
