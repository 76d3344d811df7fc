package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/config"
	"waterwatch/internal/delta"
	"waterwatch/internal/shifts"
)

type stubRules struct {
	rules []alarms.ThresholdRule
}

func (s *stubRules) ListEnabled(context.Context) ([]alarms.ThresholdRule, error) {
	return s.rules, nil
}

type stubSamples struct {
	mu      sync.Mutex
	start   float64
	end     float64
	missing bool
	err     error
	latest  float64
}

func (s *stubSamples) set(start, end float64) {
	s.mu.Lock()
	s.start, s.end = start, end
	s.mu.Unlock()
}

func (s *stubSamples) WindowSamples(_ context.Context, tag string, window shifts.Window, _ time.Time) (delta.Sample, delta.Sample, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return delta.Sample{}, delta.Sample{}, false, s.err
	}
	if s.missing {
		return delta.Sample{}, delta.Sample{}, false, nil
	}
	return delta.Sample{Tag: tag, At: window.Start, Raw: s.start},
		delta.Sample{Tag: tag, At: window.End, Raw: s.end}, true, nil
}

func (s *stubSamples) Latest(_ context.Context, tag string) (delta.Sample, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return delta.Sample{}, false, s.err
	}
	return delta.Sample{Tag: tag, Raw: s.latest}, true, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []alarms.AlarmEvent
}

func (n *recordingNotifier) NotifyAlarm(_ context.Context, event alarms.AlarmEvent, _ alarms.ThresholdRule, _ bool) {
	n.mu.Lock()
	n.calls = append(n.calls, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func newTestDispatcher(t *testing.T, rules *stubRules, samples *stubSamples, notifier Notifier) (*Dispatcher, *Service) {
	t.Helper()
	engine, err := delta.NewEngine(func(string) delta.CounterSpec { return delta.CounterSpec{} })
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	evaluator, err := NewEvaluator()
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	policy := &stubPolicy{snapshot: testSnapshot()}
	lifecycle, err := NewService(newMemoryStore(), policy, WithClock(clock))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	opts := []DispatcherOption{
		WithDispatcherClock(clock),
		WithStatusBoard(NewStatusBoard()),
		WithInterval(time.Second),
		WithWorkers(2),
	}
	if notifier != nil {
		opts = append(opts, WithNotifier(notifier))
	}
	dispatcher, err := NewDispatcher(rules, samples, engine, evaluator, lifecycle, policy, time.UTC, opts...)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	return dispatcher, lifecycle
}

func testSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Cooldowns: config.CooldownMinutes{Warning: 15, Critical: 30},
	}
}

func TestRunCycleOpensAndNotifiesOnce(t *testing.T) {
	rules := &stubRules{rules: []alarms.ThresholdRule{dayRule(10000)}}
	samples := &stubSamples{start: 100000, end: 112000}
	notifier := &recordingNotifier{}
	dispatcher, lifecycle := newTestDispatcher(t, rules, samples, notifier)
	ctx := context.Background()

	if err := dispatcher.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", notifier.count())
	}
	if _, open := lifecycle.OpenEvent("pc-line-day"); !open {
		t.Fatal("expected open alarm after violating cycle")
	}

	// The alarm stays open and quiet on repeat cycles.
	if err := dispatcher.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("repeat violation must not re-notify, got %d", notifier.count())
	}
}

func TestRunCycleClosesOnRecovery(t *testing.T) {
	rules := &stubRules{rules: []alarms.ThresholdRule{dayRule(10000)}}
	samples := &stubSamples{start: 100000, end: 112000}
	notifier := &recordingNotifier{}
	dispatcher, lifecycle := newTestDispatcher(t, rules, samples, notifier)
	ctx := context.Background()

	dispatcher.RunCycle(ctx)
	samples.set(100000, 105000)
	dispatcher.RunCycle(ctx)

	if _, open := lifecycle.OpenEvent("pc-line-day"); open {
		t.Fatal("alarm must close once usage recovers")
	}
	// notify_cleared is off in the test snapshot.
	if notifier.count() != 1 {
		t.Fatalf("cleared must not notify, got %d", notifier.count())
	}
}

func TestRunCycleHistorianOutageIsIndeterminate(t *testing.T) {
	rules := &stubRules{rules: []alarms.ThresholdRule{dayRule(10000)}}
	samples := &stubSamples{start: 100000, end: 112000}
	notifier := &recordingNotifier{}
	dispatcher, lifecycle := newTestDispatcher(t, rules, samples, notifier)
	ctx := context.Background()

	dispatcher.RunCycle(ctx)
	if _, open := lifecycle.OpenEvent("pc-line-day"); !open {
		t.Fatal("expected open alarm")
	}

	samples.mu.Lock()
	samples.err = errors.New("historian unreachable")
	samples.mu.Unlock()
	dispatcher.RunCycle(ctx)

	// Outage must neither close the alarm nor send anything.
	if _, open := lifecycle.OpenEvent("pc-line-day"); !open {
		t.Fatal("historian outage must not close an open alarm")
	}
	if notifier.count() != 1 {
		t.Fatalf("historian outage must not notify, got %d", notifier.count())
	}
}

func TestRunCycleSkipsInvalidRule(t *testing.T) {
	bad := dayRule(10000)
	bad.Operator = "~="
	good := dayRule(10000)
	good.Ref = "ck-line-day"
	good.TagID = "CK_Line_Total"
	rules := &stubRules{rules: []alarms.ThresholdRule{bad, good}}
	samples := &stubSamples{start: 100000, end: 112000}
	notifier := &recordingNotifier{}
	dispatcher, lifecycle := newTestDispatcher(t, rules, samples, notifier)

	if err := dispatcher.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if _, open := lifecycle.OpenEvent("ck-line-day"); !open {
		t.Fatal("valid rule must still be evaluated")
	}
	if _, open := lifecycle.OpenEvent("pc-line-day"); open {
		t.Fatal("invalid rule must be skipped")
	}
}

func TestRunCycleSanityGateSendsNothing(t *testing.T) {
	rules := &stubRules{rules: []alarms.ThresholdRule{dayRule(10000)}}
	// 1200x over limit: the delta is computed but gated.
	samples := &stubSamples{start: 0, end: 1200 * 10000}
	notifier := &recordingNotifier{}
	dispatcher, lifecycle := newTestDispatcher(t, rules, samples, notifier)

	dispatcher.RunCycle(context.Background())
	if notifier.count() != 0 {
		t.Fatalf("sanity-gated value must produce zero deliveries, got %d", notifier.count())
	}
	if _, open := lifecycle.OpenEvent("pc-line-day"); open {
		t.Fatal("sanity-gated value must not open an alarm")
	}
}

func TestStatusSnapshotGroupsByLine(t *testing.T) {
	rules := &stubRules{rules: []alarms.ThresholdRule{dayRule(10000)}}
	samples := &stubSamples{start: 100000, end: 105000}
	dispatcher, _ := newTestDispatcher(t, rules, samples, nil)

	dispatcher.RunCycle(context.Background())
	snapshot := dispatcher.Status()
	if len(snapshot.Lines) != 1 {
		t.Fatalf("expected one line group, got %d", len(snapshot.Lines))
	}
	refs := snapshot.Lines[0].Refs
	if len(refs) != 1 || refs[0].Ref != "pc-line-day" {
		t.Fatalf("unexpected refs %+v", refs)
	}
	if refs[0].Verdict != alarms.VerdictOK {
		t.Fatalf("expected ok verdict, got %s", refs[0].Verdict)
	}
}
