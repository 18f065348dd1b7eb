package decider

import (
	"context"

	"goa.design/flow/engine"
)

type (
	// Rule pairs an event predicate with a handler. A rule set runs every
	// rule against every unseen event of the dispatched history.
	Rule struct {
		// Name identifies the rule in logs.
		Name string
		// Match reports whether the rule applies to the event.
		Match func(ev engine.Event) bool
		// Handle produces decisions for a matching event, in any shape
		// accepted by Normalize.
		Handle func(ctx context.Context, p *engine.Process, ev engine.Event) (any, error)
	}

	// RuleSet is a Decider built from named rules.
	RuleSet struct {
		rules []Rule
	}
)

// NewRuleSet builds a rule-based decider. Rules run in the given order for
// each unseen event.
func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// Decide runs every rule against every unseen event and returns the
// collected results. Duplicates are removed by Normalize downstream.
func (rs *RuleSet) Decide(ctx context.Context, p *engine.Process) (any, error) {
	var results []any
	for _, ev := range p.UnseenEvents() {
		for _, r := range rs.rules {
			if r.Match == nil || !r.Match(ev) {
				continue
			}
			res, err := r.Handle(ctx, p, ev)
			if err != nil {
				return nil, err
			}
			if res != nil {
				results = append(results, res)
			}
		}
	}
	return results, nil
}

// OnProcessStarted matches the initial process event.
func OnProcessStarted() func(engine.Event) bool {
	return func(ev engine.Event) bool {
		return ev.Kind() == engine.KindProcessStarted
	}
}

// OnCompletedActivity matches successful results of the named activity type.
func OnCompletedActivity(activity string) func(engine.Event) bool {
	return func(ev engine.Event) bool {
		ae, ok := ev.(engine.ActivityEvent)
		if !ok || ae.Execution.Activity != activity {
			return false
		}
		_, ok = ae.Result.(engine.ActivityCompleted)
		return ok
	}
}

// OnInterruptedActivity matches failed, canceled and timed-out results of
// the named activity type.
func OnInterruptedActivity(activity string) func(engine.Event) bool {
	return func(ev engine.Event) bool {
		ae, ok := ev.(engine.ActivityEvent)
		if !ok || ae.Execution.Activity != activity {
			return false
		}
		_, completed := ae.Result.(engine.ActivityCompleted)
		return !completed
	}
}

// OnSignal matches signals with the given name. A blank name matches every
// signal.
func OnSignal(name string) func(engine.Event) bool {
	return func(ev engine.Event) bool {
		se, ok := ev.(engine.SignalEvent)
		return ok && (name == "" || se.Signal.Name == name)
	}
}

// OnTimer matches timer firings.
func OnTimer() func(engine.Event) bool {
	return func(ev engine.Event) bool {
		return ev.Kind() == engine.KindTimerFired
	}
}

// OnChildProcess matches child process closures for the given workflow type.
// A blank workflow matches every child.
func OnChildProcess(workflow string) func(engine.Event) bool {
	return func(ev engine.Event) bool {
		ce, ok := ev.(engine.ChildProcessEvent)
		return ok && (workflow == "" || ce.Workflow == workflow)
	}
}
