// Package telemetry records engine lifecycle events as OpenTelemetry
// metrics. Register the subscriber on the observer bus; every published
// event increments a counter named after the event type, labeled with the
// workflow, and emits a debug log line.
//
// The subscriber uses the global MeterProvider; configure it via
// otel.SetMeterProvider (typically through clue.ConfigureOpenTelemetry)
// before events start flowing.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"

	"goa.design/flow/hooks"
)

const meterName = "goa.design/flow/hooks/telemetry"

type (
	// Options configure NewSubscriber.
	Options struct {
		// Meter overrides the OTel meter. Defaults to the global provider's
		// meter.
		Meter metric.Meter
		// Prefix is prepended to every counter name. Defaults to "flow.".
		Prefix string
	}

	// Subscriber is a hooks.Subscriber recording per-event-type counters.
	Subscriber struct {
		meter  metric.Meter
		prefix string

		// counters are created lazily per event type and cached.
		mu       sync.Mutex
		counters map[hooks.EventType]metric.Int64Counter
	}
)

var _ hooks.Subscriber = (*Subscriber)(nil)

// NewSubscriber constructs a telemetry subscriber.
func NewSubscriber(opts Options) *Subscriber {
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "flow."
	}
	return &Subscriber{
		meter:    meter,
		prefix:   prefix,
		counters: make(map[hooks.EventType]metric.Int64Counter),
	}
}

// HandleEvent implements hooks.Subscriber. Metric failures are logged and
// swallowed so telemetry never halts engine operations.
func (s *Subscriber) HandleEvent(ctx context.Context, event hooks.Event) error {
	log.Debug(ctx,
		log.KV{K: "hook", V: string(event.Type())},
		log.KV{K: "process_id", V: event.ProcessID()},
		log.KV{K: "workflow", V: event.Workflow()},
	)
	counter, err := s.counter(event.Type())
	if err != nil {
		log.Error(ctx, err, log.KV{K: "hook", V: string(event.Type())})
		return nil
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", event.Workflow()),
	))
	return nil
}

func (s *Subscriber) counter(t hooks.EventType) (metric.Int64Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[t]; ok {
		return c, nil
	}
	c, err := s.meter.Int64Counter(s.prefix + string(t))
	if err != nil {
		return nil, err
	}
	s.counters[t] = c
	return c, nil
}
