// Package hooks defines the lifecycle events published by the observer
// engine and the bus that fans them out to subscribers.
package hooks

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus publishes engine lifecycle events to registered subscribers in a
	// fan-out pattern. The bus is thread-safe and supports concurrent
	// Publish, Register and Close operations.
	//
	// Events are delivered synchronously in the publisher's goroutine, and
	// iteration stops at the first subscriber error, so a critical subscriber
	// can halt the operation that produced the event.
	Bus interface {
		// Publish delivers the event to every currently registered
		// subscriber in registration order, stopping at the first error.
		Publish(ctx context.Context, event Event) error

		// Register adds a subscriber to the bus and returns a Subscription
		// that can be closed to unregister. Register returns an error if sub
		// is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published lifecycle events. HandleEvent should
	// return an error only if processing fails in a way that should halt the
	// engine operation; non-critical failures should be logged and swallowed
	// so other subscribers still run.
	Subscriber interface {
		// HandleEvent processes a single event. The context originates from
		// the Bus.Publish call.
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription is an active registration on a Bus. Close removes the
	// subscriber; it is idempotent and thread-safe.
	Subscription interface {
		// Close removes the subscriber from the bus. Always returns nil.
		Close() error
	}

	bus struct {
		mu sync.RWMutex
		// subscribers maps subscription handles to their subscriber
		// implementations; the pointer key enables removal on Close.
		subscribers map[*subscription]Subscriber
		// order preserves registration order for delivery.
		order []*subscription
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// NewBus constructs an in-memory event bus.
//
// Typical usage:
//
//	bus := hooks.NewBus()
//	sub, _ := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
//		log.Printf(ctx, "event: %s", evt.Type())
//		return nil
//	}))
//	defer sub.Close()
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.order))
	for _, s := range b.order {
		if sub, ok := b.subscribers[s]; ok {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("hooks: nil subscriber")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.order = append(b.order, s)
	b.mu.Unlock()
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		delete(b.subscribers, s)
		for i, o := range b.order {
			if o == s {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	})
	return nil
}
