package eventing

import (
	"context"
	"log"
	"sync"
	"time"
)

// Handler consumes published envelopes.
type Handler func(ctx context.Context, env Envelope)

type subscriber struct {
	name    string
	handler Handler
}

// Bus fans events out to subscribers synchronously. A panicking
// subscriber is isolated and logged; it never takes down the publisher
// or the other subscribers.
type Bus struct {
	logger *log.Logger

	mu   sync.RWMutex
	subs map[string][]subscriber
}

// NewBus constructs a bus.
func NewBus(logger *log.Logger) *Bus {
	return &Bus{logger: logger, subs: make(map[string][]subscriber)}
}

// Subscribe registers a handler for an event kind.
func (b *Bus) Subscribe(kind, name string, handler Handler) {
	if b == nil || kind == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], subscriber{name: name, handler: handler})
	b.mu.Unlock()
}

// Publish builds an envelope and delivers it to every subscriber of
// the kind.
func (b *Bus) Publish(ctx context.Context, kind string, at time.Time, payload any) {
	if b == nil {
		return
	}
	env, err := BuildEnvelope(kind, at, payload)
	if err != nil {
		if b.logger != nil {
			b.logger.Printf("event publish failed kind=%s err=%v", kind, err)
		}
		return
	}
	b.mu.RLock()
	subs := b.subs[kind]
	b.mu.RUnlock()
	for _, sub := range subs {
		b.deliver(ctx, sub, env)
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscriber, env Envelope) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Printf("event subscriber panic kind=%s subscriber=%s recovered=%v", env.Kind, sub.name, r)
		}
	}()
	sub.handler(ctx, env)
}
