package http

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"waterwatch/internal/eventing"
)

func TestSSEBrokerDeliversBusEvents(t *testing.T) {
	broker := NewSSEBroker()
	bus := eventing.NewBus(log.New(io.Discard, "", 0))
	broker.Attach(bus)

	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	bus.Publish(context.Background(), eventing.KindAlarmOpened, time.Now(), map[string]string{"alarm_id": "alarm-0a1b2c3d"})

	select {
	case payload := <-ch:
		if len(payload) == 0 {
			t.Fatal("empty stream payload")
		}
	case <-time.After(time.Second):
		t.Fatal("no payload delivered")
	}
}

func TestSSEBrokerUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	broker.Unsubscribe(ch)

	broker.broadcast([]byte("late"))

	if _, ok := <-ch; ok {
		t.Fatal("unsubscribed channel must be closed with nothing buffered")
	}
}

// Hammer broadcast against churning subscribers; a send racing a close
// would panic here.
func TestSSEBrokerConcurrentChurn(t *testing.T) {
	broker := NewSSEBroker()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				broker.broadcast([]byte("tick"))
			}
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ch := broker.Subscribe()
				broker.Unsubscribe(ch)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broker churn did not finish")
	}
}
