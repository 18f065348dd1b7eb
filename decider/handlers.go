package decider

import (
	"context"

	"goa.design/flow/engine"
)

// Handlers is a Decider that routes each unseen event to a callback by
// event kind. Nil callbacks ignore their events.
type Handlers struct {
	// ProcessStarted handles the initial process event.
	ProcessStarted func(ctx context.Context, p *engine.Process, ev engine.ProcessStartedEvent) (any, error)
	// Activity handles terminal activity results.
	Activity func(ctx context.Context, p *engine.Process, ev engine.ActivityEvent) (any, error)
	// Signal handles delivered signals.
	Signal func(ctx context.Context, p *engine.Process, ev engine.SignalEvent) (any, error)
	// Timer handles timer firings.
	Timer func(ctx context.Context, p *engine.Process, ev engine.TimerEvent) (any, error)
	// ChildProcess handles child process closures.
	ChildProcess func(ctx context.Context, p *engine.Process, ev engine.ChildProcessEvent) (any, error)
}

// Decide routes every unseen event to its handler and collects the results.
func (h Handlers) Decide(ctx context.Context, p *engine.Process) (any, error) {
	var results []any
	for _, ev := range p.UnseenEvents() {
		var (
			res any
			err error
		)
		switch ev := ev.(type) {
		case engine.ProcessStartedEvent:
			if h.ProcessStarted != nil {
				res, err = h.ProcessStarted(ctx, p, ev)
			}
		case engine.ActivityEvent:
			if h.Activity != nil {
				res, err = h.Activity(ctx, p, ev)
			}
		case engine.SignalEvent:
			if h.Signal != nil {
				res, err = h.Signal(ctx, p, ev)
			}
		case engine.TimerEvent:
			if h.Timer != nil {
				res, err = h.Timer(ctx, p, ev)
			}
		case engine.ChildProcessEvent:
			if h.ChildProcess != nil {
				res, err = h.ChildProcess(ctx, p, ev)
			}
		}
		if err != nil {
			return nil, err
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results, nil
}
