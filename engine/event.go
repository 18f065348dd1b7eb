package engine

import "time"

// EventKind identifies the variant of a history event.
type EventKind string

const (
	// KindProcessStarted marks the implicit first event of every process.
	KindProcessStarted EventKind = "process_started"
	// KindDecisionStarted marks the dispatch of a decision task to a decider.
	KindDecisionStarted EventKind = "decision_started"
	// KindDecision records a decision submitted by a decider.
	KindDecision EventKind = "decision"
	// KindActivityStarted marks the dispatch of an activity task to a worker.
	KindActivityStarted EventKind = "activity_started"
	// KindActivity records the terminal result of an activity execution.
	KindActivity EventKind = "activity"
	// KindSignal records an out-of-band signal delivered to the process.
	KindSignal EventKind = "signal"
	// KindTimerFired records a scheduled timer firing.
	KindTimerFired EventKind = "timer"
	// KindChildProcess records the completion or cancellation of a child process.
	KindChildProcess EventKind = "child_process"
)

type (
	// Event is a single entry in a process history. Histories are append-only
	// and totally ordered per process; concrete event types carry the payload
	// for each lifecycle phase. Consumers dispatch with a type switch:
	//
	//	switch ev := ev.(type) {
	//	case engine.ActivityEvent:
	//	    // ev.Execution, ev.Result
	//	case engine.SignalEvent:
	//	    // ev.Signal.Name, ev.Signal.Data
	//	}
	Event interface {
		// Kind returns the event variant.
		Kind() EventKind
		// Timestamp returns when the event was appended.
		Timestamp() time.Time
	}

	// ProcessStartedEvent is the first event of every process history.
	ProcessStartedEvent struct {
		At time.Time
	}

	// DecisionStartedEvent is appended when a decision task is dispatched.
	// A history ending in DecisionStartedEvent has a decision in flight.
	DecisionStartedEvent struct {
		At time.Time
	}

	// DecisionEvent records a decision submitted through CompleteDecisionTask.
	DecisionEvent struct {
		At       time.Time
		Decision Decision
	}

	// ActivityStartedEvent is appended when an activity task is dispatched.
	ActivityStartedEvent struct {
		At        time.Time
		Execution ActivityExecution
	}

	// ActivityEvent records the terminal outcome of an activity execution.
	ActivityEvent struct {
		At        time.Time
		Execution ActivityExecution
		Result    ActivityResult
	}

	// SignalEvent records an out-of-band signal delivered to the process.
	SignalEvent struct {
		At     time.Time
		Signal Signal
	}

	// TimerEvent is appended when a scheduled timer becomes due, immediately
	// before the DecisionStartedEvent of the decision it wakes up.
	TimerEvent struct {
		At    time.Time
		Timer Timer
	}

	// ChildProcessEvent is appended to a parent history when a child process
	// reaches a terminal decision.
	ChildProcessEvent struct {
		At        time.Time
		ProcessID string
		Workflow  string
		Tags      []string
		Result    ProcessResult
	}

	// Signal is an out-of-band message delivered to a running process.
	Signal struct {
		Name string
		Data any
	}
)

func (e ProcessStartedEvent) Kind() EventKind  { return KindProcessStarted }
func (e DecisionStartedEvent) Kind() EventKind { return KindDecisionStarted }
func (e DecisionEvent) Kind() EventKind        { return KindDecision }
func (e ActivityStartedEvent) Kind() EventKind { return KindActivityStarted }
func (e ActivityEvent) Kind() EventKind        { return KindActivity }
func (e SignalEvent) Kind() EventKind          { return KindSignal }
func (e TimerEvent) Kind() EventKind           { return KindTimerFired }
func (e ChildProcessEvent) Kind() EventKind    { return KindChildProcess }

func (e ProcessStartedEvent) Timestamp() time.Time  { return e.At }
func (e DecisionStartedEvent) Timestamp() time.Time { return e.At }
func (e DecisionEvent) Timestamp() time.Time        { return e.At }
func (e ActivityStartedEvent) Timestamp() time.Time { return e.At }
func (e ActivityEvent) Timestamp() time.Time        { return e.At }
func (e SignalEvent) Timestamp() time.Time          { return e.At }
func (e TimerEvent) Timestamp() time.Time           { return e.At }
func (e ChildProcessEvent) Timestamp() time.Time    { return e.At }
