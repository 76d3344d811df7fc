package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	alarmapp "waterwatch/internal/alarms/application"
	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/audit"
	"waterwatch/internal/config"
)

type fakeStore struct {
	events map[string]*alarms.AlarmEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[string]*alarms.AlarmEvent)}
}

func (s *fakeStore) Create(_ context.Context, event *alarms.AlarmEvent) error {
	copied := *event
	s.events[event.ID] = &copied
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*alarms.AlarmEvent, error) {
	event, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	copied := *event
	return &copied, nil
}

func (s *fakeStore) ListOpen(_ context.Context) ([]alarms.AlarmEvent, error) {
	var open []alarms.AlarmEvent
	for _, event := range s.events {
		if event.Open() {
			open = append(open, *event)
		}
	}
	return open, nil
}

func (s *fakeStore) ListByStatusAndTime(_ context.Context, status string, _, _ time.Time) ([]alarms.AlarmEvent, error) {
	var list []alarms.AlarmEvent
	for _, event := range s.events {
		if status == "open" && !event.Open() {
			continue
		}
		if status == "closed" && event.Open() {
			continue
		}
		list = append(list, *event)
	}
	return list, nil
}

func (s *fakeStore) UpdateObserved(_ context.Context, id string, value float64, at time.Time) error {
	if event, ok := s.events[id]; ok {
		event.ObservedValue = value
		event.UpdatedAt = at
	}
	return nil
}

func (s *fakeStore) MarkAcknowledged(_ context.Context, id, who string, at time.Time) error {
	event, ok := s.events[id]
	if !ok {
		return nil
	}
	if event.AcknowledgedAt.IsZero() {
		event.AcknowledgedAt = at
		event.AcknowledgedBy = who
	}
	return nil
}

func (s *fakeStore) MarkClosed(_ context.Context, id string, at time.Time) error {
	if event, ok := s.events[id]; ok && event.ClosedAt.IsZero() {
		event.ClosedAt = at
	}
	return nil
}

type fakePolicy struct{ snapshot *config.Snapshot }

func (p *fakePolicy) Snapshot() *config.Snapshot { return p.snapshot }

type fakeStatus struct{}

func (fakeStatus) Status() alarmapp.Snapshot {
	return alarmapp.Snapshot{GeneratedAt: time.Now().UTC()}
}

type fakeThresholds struct {
	rules   []alarms.ThresholdRule
	enabled map[string]bool
}

func (f *fakeThresholds) List(_ context.Context) ([]alarms.ThresholdRule, error) {
	return f.rules, nil
}

func (f *fakeThresholds) SetEnabled(_ context.Context, ref string, enabled bool) error {
	if _, ok := f.enabled[ref]; !ok {
		return alarms.ErrNotFound
	}
	f.enabled[ref] = enabled
	return nil
}

type fakeDeliveries struct {
	records   map[string][]alarms.DeliveryRecord
	delivered map[string]time.Time
}

func (f *fakeDeliveries) ListByAlarm(_ context.Context, alarmEventID string) ([]alarms.DeliveryRecord, error) {
	return f.records[alarmEventID], nil
}

func (f *fakeDeliveries) MarkDelivered(_ context.Context, providerMessageID string, at time.Time) error {
	f.delivered[providerMessageID] = at
	return nil
}

type fakeReloader struct{ err error }

func (f *fakeReloader) Reload() error { return f.err }

type fakeAuditor struct{ entries []audit.Entry }

func (f *fakeAuditor) Log(_ context.Context, entry audit.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditor) List(_ context.Context, limit int) ([]audit.Entry, error) {
	if limit > len(f.entries) {
		limit = len(f.entries)
	}
	return f.entries[:limit], nil
}

type fixture struct {
	mux        *http.ServeMux
	store      *fakeStore
	thresholds *fakeThresholds
	deliveries *fakeDeliveries
	reloader   *fakeReloader
	auditor    *fakeAuditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	snapshot, err := config.LoadSnapshot("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	store := newFakeStore()
	service, err := alarmapp.NewService(store, &fakePolicy{snapshot: snapshot},
		alarmapp.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	f := &fixture{
		store: store,
		thresholds: &fakeThresholds{
			rules:   []alarms.ThresholdRule{{Ref: "pc-line-day", TagID: "PC_Line_Total", LimitValue: 250000, Operator: alarms.OperatorGreaterOrEqual, Target: alarms.TargetDayTotal, Severity: alarms.SeverityWarning, Enabled: true}},
			enabled: map[string]bool{"pc-line-day": true},
		},
		deliveries: &fakeDeliveries{
			records:   make(map[string][]alarms.DeliveryRecord),
			delivered: make(map[string]time.Time),
		},
		reloader: &fakeReloader{},
		auditor:  &fakeAuditor{},
	}

	handler, err := NewHandler(service, fakeStatus{}, f.thresholds, f.deliveries, f.reloader, f.auditor, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	f.mux = http.NewServeMux()
	handler.Register(f.mux)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestHandlerStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
}

func TestHandlerListAlarmsValidatesRange(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodGet, "/api/v1/alarms", ""); rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/alarms?from=not-a-time", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad from: %d", rec.Code)
	}
	rec := f.do(http.MethodGet, "/api/v1/alarms?from=2026-04-02T00:00:00Z&to=2026-04-01T00:00:00Z", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: %d", rec.Code)
	}
}

func TestHandlerAcknowledge(t *testing.T) {
	f := newFixture(t)
	opened := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	event := &alarms.AlarmEvent{
		ID:           "alarm-0a1b2c3d",
		ThresholdRef: "pc-line-day",
		TagID:        "PC_Line_Total",
		Severity:     alarms.SeverityWarning,
		OpenedAt:     opened,
		UpdatedAt:    opened,
	}
	if err := f.store.Create(context.Background(), event); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := f.do(http.MethodPost, "/api/v1/alarms/alarm-0a1b2c3d/ack", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ack: %d %s", rec.Code, rec.Body.String())
	}
	var got alarms.AlarmEvent
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Acknowledged() || got.AcknowledgedBy != "anonymous" {
		t.Fatalf("ack not recorded: %+v", got)
	}
	if len(f.auditor.entries) != 1 || f.auditor.entries[0].Action != audit.ActionAlarmAck {
		t.Fatalf("audit entries %+v", f.auditor.entries)
	}

	if rec := f.do(http.MethodPost, "/api/v1/alarms/alarm-missing/ack", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing ack: %d", rec.Code)
	}
}

func TestHandlerThresholdToggle(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPost, "/api/v1/thresholds/pc-line-day/disable", ""); rec.Code != http.StatusOK {
		t.Fatalf("disable: %d", rec.Code)
	}
	if f.thresholds.enabled["pc-line-day"] {
		t.Fatal("rule still enabled")
	}
	if rec := f.do(http.MethodPost, "/api/v1/thresholds/no-such-rule/enable", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown ref: %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/thresholds/pc-line-day/disable", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET toggle: %d", rec.Code)
	}
}

func TestHandlerDeliveryReceipt(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/deliveries/receipt",
		`{"message_id":"msg-000042","delivered_at":"2026-04-01T10:00:00Z"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("receipt: %d %s", rec.Code, rec.Body.String())
	}
	at, ok := f.deliveries.delivered["msg-000042"]
	if !ok || !at.Equal(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("delivered %v %v", at, ok)
	}
	if rec := f.do(http.MethodPost, "/api/v1/deliveries/receipt", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty receipt: %d", rec.Code)
	}
}

func TestHandlerConfigReload(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPost, "/api/v1/config/reload", ""); rec.Code != http.StatusOK {
		t.Fatalf("reload: %d", rec.Code)
	}
	f.reloader.err = errors.New("config: sanity_factor must be > 1")
	if rec := f.do(http.MethodPost, "/api/v1/config/reload", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("failed reload: %d", rec.Code)
	}
}
