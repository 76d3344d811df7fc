package eventing

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"
)

func TestBusDeliversToKindSubscribers(t *testing.T) {
	bus := NewBus(log.New(io.Discard, "", 0))

	var opened []Envelope
	bus.Subscribe(KindAlarmOpened, "recorder", func(_ context.Context, env Envelope) {
		opened = append(opened, env)
	})
	var cleared int
	bus.Subscribe(KindAlarmCleared, "other", func(_ context.Context, _ Envelope) {
		cleared++
	})

	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	bus.Publish(context.Background(), KindAlarmOpened, at, map[string]string{"alarm_id": "alarm-0a1b2c3d"})

	if len(opened) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(opened))
	}
	if cleared != 0 {
		t.Fatal("subscriber of another kind must not fire")
	}
	env := opened[0]
	if env.Kind != KindAlarmOpened || !env.At.Equal(at) || env.ID == "" {
		t.Fatalf("bad envelope: %+v", env)
	}
	var payload map[string]string
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["alarm_id"] != "alarm-0a1b2c3d" {
		t.Fatalf("payload %v", payload)
	}
}

func TestBusIsolatesPanickingSubscriber(t *testing.T) {
	bus := NewBus(log.New(io.Discard, "", 0))

	bus.Subscribe(KindAlarmOpened, "broken", func(_ context.Context, _ Envelope) {
		panic("boom")
	})
	var delivered int
	bus.Subscribe(KindAlarmOpened, "healthy", func(_ context.Context, _ Envelope) {
		delivered++
	})

	bus.Publish(context.Background(), KindAlarmOpened, time.Now(), nil)

	if delivered != 1 {
		t.Fatalf("healthy subscriber starved, delivered=%d", delivered)
	}
}

func TestBusNilSafety(t *testing.T) {
	var bus *Bus
	bus.Subscribe(KindAlarmOpened, "noop", func(_ context.Context, _ Envelope) {})
	bus.Publish(context.Background(), KindAlarmOpened, time.Now(), nil)

	bus = NewBus(nil)
	bus.Subscribe("", "noop", func(_ context.Context, _ Envelope) {})
	bus.Publish(context.Background(), KindAlarmOpened, time.Now(), nil)
}
