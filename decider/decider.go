// Package decider defines the contract between the worker loop and user
// decision logic, plus two reusable decider styles: event-kind handlers and
// named rules.
//
// A decider returns its decisions in whatever shape is convenient: a single
// decision, a slice, the name of an activity type to schedule, a nested mix,
// or nothing. Normalize flattens the result into the decision batch submitted
// to the engine.
package decider

import (
	"context"
	"fmt"
	"reflect"

	"goa.design/flow/engine"
)

type (
	// Decider produces decisions for a dispatched decision task.
	Decider interface {
		// Decide inspects the process history and returns zero or more
		// decisions in any shape accepted by Normalize.
		Decide(ctx context.Context, p *engine.Process) (any, error)
	}

	// Func adapts a function to the Decider interface.
	Func func(ctx context.Context, p *engine.Process) (any, error)
)

// Decide calls f.
func (f Func) Decide(ctx context.Context, p *engine.Process) (any, error) {
	return f(ctx, p)
}

// Normalize flattens a decider return value into a decision batch. Accepted
// shapes:
//
//   - nil: no decisions
//   - engine.Decision
//   - a string naming a registered activity type, translated to
//     ScheduleActivity with the process input
//   - a slice of any accepted shape, flattened recursively
//
// Duplicate decisions are removed preserving first-occurrence order, so a
// rule firing for several events contributes a terminal decision only once.
func Normalize(value any, p *engine.Process) ([]engine.Decision, error) {
	flat, err := flatten(value, p)
	if err != nil {
		return nil, err
	}
	var out []engine.Decision
	for _, d := range flat {
		dup := false
		for _, seen := range out {
			if reflect.DeepEqual(d, seen) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, d)
		}
	}
	return out, nil
}

func flatten(value any, p *engine.Process) ([]engine.Decision, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case engine.Decision:
		return []engine.Decision{v}, nil
	case string:
		return []engine.Decision{engine.NewScheduleActivity(v, p.Input)}, nil
	case []engine.Decision:
		return v, nil
	case []any:
		var out []engine.Decision
		for _, el := range v {
			ds, err := flatten(el, p)
			if err != nil {
				return nil, err
			}
			out = append(out, ds...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("decider returned %T: %w", value, engine.ErrInvalidDecision)
}
