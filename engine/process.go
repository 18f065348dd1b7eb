package engine

import (
	"slices"
	"time"
)

// Process is a running workflow instance. Identity, workflow name, input,
// tags and parent are immutable after StartProcess; History is the
// append-only event log owned by the backend.
type Process struct {
	// ID uniquely identifies the process. Assigned by StartProcess when blank.
	ID string
	// Workflow names the registered workflow type driving the process.
	Workflow string
	// Input is the opaque payload passed to the initial decision.
	Input any
	// Tags are short labels used by Processes filters. Hosted adapters may
	// cap their cardinality.
	Tags []string
	// Parent is the ID of the process that started this one, if any.
	Parent string
	// History is the ordered event log. History[0] is always a
	// ProcessStartedEvent.
	History []Event
}

// NewProcess builds a process for the given workflow type with its history
// seeded with a ProcessStartedEvent.
func NewProcess(workflow string, input any, tags ...string) *Process {
	return &Process{
		Workflow: workflow,
		Input:    input,
		Tags:     tags,
		History:  []Event{ProcessStartedEvent{At: time.Now()}},
	}
}

// Clone returns a copy of the process with its own tag and history slices.
// Event payloads are shared; events are immutable once appended.
func (p *Process) Clone() *Process {
	cp := *p
	cp.Tags = slices.Clone(p.Tags)
	cp.History = slices.Clone(p.History)
	return &cp
}

// CopyWithID returns a clone of the process carrying the given ID.
func (p *Process) CopyWithID(id string) *Process {
	cp := p.Clone()
	cp.ID = id
	return cp
}

// Terminated reports whether the history ends in a terminal decision
// (CompleteProcess or CancelProcess).
func (p *Process) Terminated() bool {
	if len(p.History) == 0 {
		return false
	}
	ev, ok := p.History[len(p.History)-1].(DecisionEvent)
	if !ok {
		return false
	}
	switch ev.Decision.Kind() {
	case KindCompleteProcess, KindCancelProcess:
		return true
	}
	return false
}

// UnseenEvents returns the events the decider holding the current decision
// task has not reacted to yet.
//
// The set is only meaningful while a decision is in flight, that is while the
// history ends in a DecisionStartedEvent: it is then the slice of events
// between the previous DecisionStartedEvent and the current one, with started
// markers removed. Once a decision has been recorded after the marker the
// decider has reacted and the set is empty. A history that never saw a
// decision dispatch returns every non-marker event.
func (p *Process) UnseenEvents() []Event {
	cur := -1
	for i := len(p.History) - 1; i >= 0; i-- {
		if p.History[i].Kind() == KindDecisionStarted {
			cur = i
			break
		}
	}
	if cur == -1 {
		return filterMarkers(p.History)
	}
	if cur != len(p.History)-1 {
		return nil
	}
	prev := -1
	for i := cur - 1; i >= 0; i-- {
		if p.History[i].Kind() == KindDecisionStarted {
			prev = i
			break
		}
	}
	return filterMarkers(p.History[prev+1 : cur])
}

// UnfinishedActivities returns the executions scheduled by decisions in the
// history for which no terminal Activity event exists. Deciders use it to
// track parallel branches still in flight.
func (p *Process) UnfinishedActivities() []ActivityExecution {
	finished := make(map[string]bool)
	for _, ev := range p.History {
		if ae, ok := ev.(ActivityEvent); ok {
			finished[ae.Execution.ID] = true
		}
	}
	var unfinished []ActivityExecution
	for _, ev := range p.History {
		de, ok := ev.(DecisionEvent)
		if !ok {
			continue
		}
		sa, ok := de.Decision.(ScheduleActivity)
		if !ok || finished[sa.ID] {
			continue
		}
		unfinished = append(unfinished, ActivityExecution{Activity: sa.Activity, ID: sa.ID, Input: sa.Input})
	}
	return unfinished
}

func filterMarkers(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		switch ev.Kind() {
		case KindDecisionStarted, KindActivityStarted:
			continue
		}
		out = append(out, ev)
	}
	return out
}
