package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/config"
	"waterwatch/internal/delta"
	"waterwatch/internal/eventing"
	"waterwatch/internal/observability/metrics"
)

// AlarmStore is the durable record store for alarm events.
type AlarmStore interface {
	Create(ctx context.Context, event *alarms.AlarmEvent) error
	GetByID(ctx context.Context, id string) (*alarms.AlarmEvent, error)
	ListOpen(ctx context.Context) ([]alarms.AlarmEvent, error)
	ListByStatusAndTime(ctx context.Context, status string, from, to time.Time) ([]alarms.AlarmEvent, error)
	UpdateObserved(ctx context.Context, id string, value float64, at time.Time) error
	MarkAcknowledged(ctx context.Context, id, who string, at time.Time) error
	MarkClosed(ctx context.Context, id string, at time.Time) error
}

// PolicyProvider supplies the current monitoring config snapshot.
type PolicyProvider interface {
	Snapshot() *config.Snapshot
}

// TransitionKind classifies a lifecycle step.
type TransitionKind string

const (
	TransitionNone     TransitionKind = "none"
	TransitionOpened   TransitionKind = "opened"
	TransitionObserved TransitionKind = "observed"
	TransitionClosed   TransitionKind = "closed"
)

// Transition is the outcome of applying one verdict to a threshold's
// alarm state machine.
type Transition struct {
	Kind       TransitionKind
	Event      *alarms.AlarmEvent
	Notify     bool
	Cleared    bool
	Suppressed string
}

type refState struct {
	mu           sync.Mutex
	open         *alarms.AlarmEvent
	pendingOpen  bool
	pendingClose *alarms.AlarmEvent
	lastNotified time.Time
	lastClosed   time.Time
}

// Service is the per-threshold alarm state machine: it creates exactly
// one open AlarmEvent per violated threshold, keeps repeat violations
// idempotent, closes on recovery, and suppresses re-notification within
// the severity cooldown.
type Service struct {
	store  AlarmStore
	policy PolicyProvider
	bus    *eventing.Bus
	clock  Clock
	logger *log.Logger

	mu     sync.Mutex
	states map[string]*refState

	// openAlarms mirrors the number of states with an open event so the
	// gauge can update while a ref state is locked.
	openAlarms atomic.Int64
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithBus assigns the lifecycle event bus.
func WithBus(bus *eventing.Bus) ServiceOption {
	return func(s *Service) {
		s.bus = bus
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs the alarm lifecycle service.
func NewService(store AlarmStore, policy PolicyProvider, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("alarms: nil store")
	}
	if policy == nil {
		return nil, errors.New("alarms: nil policy provider")
	}
	service := &Service{
		store:  store,
		policy: policy,
		clock:  systemClock{},
		states: make(map[string]*refState),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// ReconcileOpen loads open alarm events from the record store into the
// in-memory index so a restart never duplicates an already-open alarm.
func (s *Service) ReconcileOpen(ctx context.Context) error {
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		return err
	}
	restored := int64(0)
	for i := range open {
		event := open[i]
		state := s.refState(event.ThresholdRef)
		state.mu.Lock()
		if state.open == nil {
			restored++
		}
		state.open = &event
		state.lastNotified = event.OpenedAt
		state.mu.Unlock()
	}
	s.openAlarms.Store(restored)
	if s.logger != nil {
		s.logger.Printf("alarm reconcile complete open=%d", len(open))
	}
	metrics.SetOpenAlarms(int(restored))
	return nil
}

// Apply runs one verdict through the threshold's state machine.
// Indeterminate verdicts never transition. The message is the rendered
// notification text stored on a newly opened event.
func (s *Service) Apply(ctx context.Context, rule alarms.ThresholdRule, verdict alarms.Verdict, d delta.Delta, message string) (Transition, error) {
	if s == nil {
		return Transition{Kind: TransitionNone}, errors.New("alarms: nil service")
	}
	state := s.refState(rule.Ref)
	state.mu.Lock()
	defer state.mu.Unlock()

	s.flushPending(ctx, state)

	switch verdict {
	case alarms.VerdictViolated:
		return s.applyViolated(ctx, state, rule, d, message)
	case alarms.VerdictOK:
		return s.applyOK(ctx, state, rule)
	default:
		return Transition{Kind: TransitionNone}, nil
	}
}

func (s *Service) applyViolated(ctx context.Context, state *refState, rule alarms.ThresholdRule, d delta.Delta, message string) (Transition, error) {
	now := s.clock.Now().UTC()

	if state.open != nil {
		// Idempotent while open: track the latest observation only.
		state.open.ObservedValue = d.Value
		state.open.UpdatedAt = now
		if !state.pendingOpen {
			if err := s.store.UpdateObserved(ctx, state.open.ID, d.Value, now); err != nil && s.logger != nil {
				s.logger.Printf("alarm observe update failed id=%s err=%v", state.open.ID, err)
			}
		}
		return Transition{Kind: TransitionObserved, Event: state.open}, nil
	}

	event := &alarms.AlarmEvent{
		ID:            alarms.BuildAlarmID(rule.Ref, d.Window.Start, now),
		ThresholdRef:  rule.Ref,
		TagID:         rule.TagID,
		ObservedValue: d.Value,
		WindowKind:    d.Window.Kind,
		WindowStart:   d.Window.Start,
		WindowEnd:     d.Window.End,
		Severity:      rule.Severity,
		Message:       message,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	state.open = event
	state.pendingOpen = false

	transition := Transition{Kind: TransitionOpened, Event: event, Notify: true}

	if err := s.store.Create(ctx, event); err != nil {
		// Storage failure: keep the transition in memory but withhold
		// notification until the event is durable.
		state.pendingOpen = true
		transition.Notify = false
		transition.Suppressed = "not_durable"
		if s.logger != nil {
			s.logger.Printf("alarm open not durable ref=%s err=%v", rule.Ref, err)
		}
	}

	cooldown := s.policy.Snapshot().Cooldowns.For(string(rule.Severity))
	if transition.Notify && cooldown > 0 && !state.lastNotified.IsZero() && now.Sub(state.lastNotified) < cooldown {
		transition.Notify = false
		transition.Suppressed = "cooldown"
		if s.logger != nil {
			s.logger.Printf("alarm reopened suppressed=cooldown ref=%s severity=%s", rule.Ref, rule.Severity)
		}
	}
	if transition.Notify {
		state.lastNotified = now
	}

	if s.logger != nil {
		s.logger.Printf("alarm opened ref=%s value=%.1f limit=%.1f window=%s notify=%t",
			rule.Ref, d.Value, rule.LimitValue, d.Window.Label(), transition.Notify)
	}
	metrics.IncAlarmOpened(string(rule.Severity))
	metrics.SetOpenAlarms(int(s.openAlarms.Add(1)))
	s.publish(ctx, eventing.KindAlarmOpened, now, event)
	return transition, nil
}

func (s *Service) applyOK(ctx context.Context, state *refState, rule alarms.ThresholdRule) (Transition, error) {
	if state.open == nil {
		return Transition{Kind: TransitionNone}, nil
	}
	now := s.clock.Now().UTC()
	event := state.open
	event.ClosedAt = now
	event.UpdatedAt = now
	state.open = nil
	state.lastClosed = now

	if state.pendingOpen {
		// The open never reached the store; nothing to close there.
		state.pendingOpen = false
	} else if err := s.store.MarkClosed(ctx, event.ID, now); err != nil {
		state.pendingClose = event
		if s.logger != nil {
			s.logger.Printf("alarm close not durable id=%s err=%v", event.ID, err)
		}
	}

	if s.logger != nil {
		s.logger.Printf("alarm cleared ref=%s id=%s", rule.Ref, event.ID)
	}
	metrics.IncAlarmCleared()
	metrics.SetOpenAlarms(int(s.openAlarms.Add(-1)))
	s.publish(ctx, eventing.KindAlarmCleared, now, event)

	return Transition{
		Kind:    TransitionClosed,
		Event:   event,
		Cleared: true,
		Notify:  s.policy.Snapshot().NotifyCleared,
	}, nil
}

// flushPending retries persistence that failed in an earlier cycle.
// Called with the ref state locked.
func (s *Service) flushPending(ctx context.Context, state *refState) {
	if state.pendingClose != nil {
		if err := s.store.MarkClosed(ctx, state.pendingClose.ID, state.pendingClose.ClosedAt); err == nil {
			state.pendingClose = nil
		}
	}
	if state.pendingOpen && state.open != nil {
		if err := s.store.Create(ctx, state.open); err == nil {
			state.pendingOpen = false
			if s.logger != nil {
				s.logger.Printf("alarm open persisted after retry id=%s", state.open.ID)
			}
		}
	}
}

// Acknowledge marks an open alarm acknowledged by an operator.
func (s *Service) Acknowledge(ctx context.Context, id, who string) (*alarms.AlarmEvent, error) {
	if id == "" {
		return nil, errors.New("alarms: alarm id required")
	}
	event, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, alarms.ErrNotFound
	}
	if event.Acknowledged() {
		return event, nil
	}
	now := s.clock.Now().UTC()
	if err := s.store.MarkAcknowledged(ctx, id, who, now); err != nil {
		return nil, err
	}
	event.AcknowledgedAt = now
	event.AcknowledgedBy = who
	event.UpdatedAt = now

	state := s.refState(event.ThresholdRef)
	state.mu.Lock()
	if state.open != nil && state.open.ID == id {
		state.open.AcknowledgedAt = now
		state.open.AcknowledgedBy = who
	}
	state.mu.Unlock()

	s.publish(ctx, eventing.KindAlarmAcknowledged, now, event)
	return event, nil
}

// ListAlarms returns alarm history filtered by status and time range.
func (s *Service) ListAlarms(ctx context.Context, status string, from, to time.Time) ([]alarms.AlarmEvent, error) {
	return s.store.ListByStatusAndTime(ctx, status, from.UTC(), to.UTC())
}

// OpenEvent returns the in-memory open event for a ref, if any.
func (s *Service) OpenEvent(ref string) (*alarms.AlarmEvent, bool) {
	state := s.refState(ref)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.open == nil {
		return nil, false
	}
	copied := *state.open
	return &copied, true
}

// Degraded reports whether any transition is awaiting durable storage.
func (s *Service) Degraded() bool {
	s.mu.Lock()
	states := make([]*refState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	s.mu.Unlock()
	for _, state := range states {
		state.mu.Lock()
		pending := state.pendingOpen || state.pendingClose != nil
		state.mu.Unlock()
		if pending {
			return true
		}
	}
	return false
}

func (s *Service) publish(ctx context.Context, kind string, at time.Time, event *alarms.AlarmEvent) {
	if s.bus == nil || event == nil {
		return
	}
	s.bus.Publish(ctx, kind, at, event)
}

func (s *Service) refState(ref string) *refState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[ref]
	if !ok {
		state = &refState{}
		s.states[ref] = state
	}
	return state
}
