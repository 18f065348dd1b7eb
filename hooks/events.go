package hooks

import (
	"time"

	"goa.design/flow/engine"
)

// EventType identifies the lifecycle phase an event reports.
type EventType string

const (
	// ProcessStarted fires after a process is registered with the engine.
	ProcessStarted EventType = "process_started"
	// ProcessSignaled fires after a signal is delivered to a process.
	ProcessSignaled EventType = "process_signaled"
	// ProcessCanceled fires after a process is canceled.
	ProcessCanceled EventType = "process_canceled"
	// ProcessCompleted fires after a decision batch completes a process.
	ProcessCompleted EventType = "process_completed"
	// DecisionTaskCompleted fires after a decision batch is applied.
	DecisionTaskCompleted EventType = "decision_task_completed"
	// ActivityScheduled fires for each activity scheduled by a decision batch.
	ActivityScheduled EventType = "activity_scheduled"
	// ActivityCanceled fires for each activity withdrawn by a decision batch.
	ActivityCanceled EventType = "activity_canceled"
	// ActivityCompleted fires after an activity result is recorded.
	ActivityCompleted EventType = "activity_completed"
	// ActivityFailed fires after a failed activity result is recorded.
	ActivityFailed EventType = "activity_failed"
	// ActivityTimedOut fires when a dispatched history reveals an activity
	// reclaimed by the expiration sweeps.
	ActivityTimedOut EventType = "activity_timed_out"
)

type (
	// Event is the interface all hook events implement. Subscribers use type
	// switches to access event-specific fields:
	//
	//	switch e := evt.(type) {
	//	case *hooks.ActivityCompletedEvent:
	//	    log.Printf("%s finished: %v", e.Execution.Activity, e.Result)
	//	case *hooks.ProcessCompletedEvent:
	//	    log.Printf("process %s done", e.ProcessID())
	//	}
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// ProcessID returns the process the event belongs to.
		ProcessID() string
		// Workflow returns the workflow type of the process, when known to
		// the publisher.
		Workflow() string
		// Timestamp returns when the event was published.
		Timestamp() time.Time
	}

	baseEvent struct {
		eventType EventType
		processID string
		workflow  string
		at        time.Time
	}

	// ProcessStartedEvent fires when a process is started.
	ProcessStartedEvent struct {
		baseEvent
		// Input is the payload the process was started with.
		Input any
		// Tags are the process tags.
		Tags []string
	}

	// ProcessSignaledEvent fires when a signal is delivered.
	ProcessSignaledEvent struct {
		baseEvent
		// Signal is the delivered signal.
		Signal engine.Signal
	}

	// ProcessCanceledEvent fires when a process is canceled, either through
	// the engine API or by a CancelProcess decision.
	ProcessCanceledEvent struct {
		baseEvent
		Details string
		Reason  string
	}

	// ProcessCompletedEvent fires when a CompleteProcess decision is applied.
	ProcessCompletedEvent struct {
		baseEvent
		// Result is the terminal result of the process.
		Result any
	}

	// DecisionTaskCompletedEvent fires after a decision batch is applied.
	DecisionTaskCompletedEvent struct {
		baseEvent
		// Decisions is the batch submitted by the decider.
		Decisions []engine.Decision
	}

	// ActivityScheduledEvent fires for each ScheduleActivity decision.
	ActivityScheduledEvent struct {
		baseEvent
		Execution engine.ActivityExecution
	}

	// ActivityCanceledEvent fires for each CancelActivity decision.
	ActivityCanceledEvent struct {
		baseEvent
		// ExecutionID is the withdrawn execution's ID.
		ExecutionID string
	}

	// ActivityCompletedEvent fires when a successful result is recorded.
	ActivityCompletedEvent struct {
		baseEvent
		Execution engine.ActivityExecution
		Result    any
	}

	// ActivityFailedEvent fires when a failed or canceled result is recorded.
	ActivityFailedEvent struct {
		baseEvent
		Execution engine.ActivityExecution
		Reason    string
		Details   string
	}

	// ActivityTimedOutEvent fires when a polled decision task's history shows
	// an execution reclaimed by the expiration sweeps.
	ActivityTimedOutEvent struct {
		baseEvent
		Execution engine.ActivityExecution
		Details   string
	}
)

func newBase(t EventType, processID, workflow string) baseEvent {
	return baseEvent{eventType: t, processID: processID, workflow: workflow, at: time.Now()}
}

func (b baseEvent) Type() EventType      { return b.eventType }
func (b baseEvent) ProcessID() string    { return b.processID }
func (b baseEvent) Workflow() string     { return b.workflow }
func (b baseEvent) Timestamp() time.Time { return b.at }

// NewProcessStarted builds a ProcessStartedEvent from a started process.
func NewProcessStarted(p *engine.Process) *ProcessStartedEvent {
	return &ProcessStartedEvent{
		baseEvent: newBase(ProcessStarted, p.ID, p.Workflow),
		Input:     p.Input,
		Tags:      p.Tags,
	}
}

// NewProcessSignaled builds a ProcessSignaledEvent.
func NewProcessSignaled(processID string, signal engine.Signal) *ProcessSignaledEvent {
	return &ProcessSignaledEvent{
		baseEvent: newBase(ProcessSignaled, processID, ""),
		Signal:    signal,
	}
}

// NewProcessCanceled builds a ProcessCanceledEvent.
func NewProcessCanceled(processID, workflow, details, reason string) *ProcessCanceledEvent {
	return &ProcessCanceledEvent{
		baseEvent: newBase(ProcessCanceled, processID, workflow),
		Details:   details,
		Reason:    reason,
	}
}

// NewProcessCompleted builds a ProcessCompletedEvent.
func NewProcessCompleted(processID, workflow string, result any) *ProcessCompletedEvent {
	return &ProcessCompletedEvent{
		baseEvent: newBase(ProcessCompleted, processID, workflow),
		Result:    result,
	}
}

// NewDecisionTaskCompleted builds a DecisionTaskCompletedEvent.
func NewDecisionTaskCompleted(processID, workflow string, decisions []engine.Decision) *DecisionTaskCompletedEvent {
	return &DecisionTaskCompletedEvent{
		baseEvent: newBase(DecisionTaskCompleted, processID, workflow),
		Decisions: decisions,
	}
}

// NewActivityScheduled builds an ActivityScheduledEvent.
func NewActivityScheduled(processID, workflow string, exec engine.ActivityExecution) *ActivityScheduledEvent {
	return &ActivityScheduledEvent{
		baseEvent: newBase(ActivityScheduled, processID, workflow),
		Execution: exec,
	}
}

// NewActivityCanceled builds an ActivityCanceledEvent.
func NewActivityCanceled(processID, workflow, executionID string) *ActivityCanceledEvent {
	return &ActivityCanceledEvent{
		baseEvent:   newBase(ActivityCanceled, processID, workflow),
		ExecutionID: executionID,
	}
}

// NewActivityCompleted builds an ActivityCompletedEvent.
func NewActivityCompleted(processID string, exec engine.ActivityExecution, result any) *ActivityCompletedEvent {
	return &ActivityCompletedEvent{
		baseEvent: newBase(ActivityCompleted, processID, ""),
		Execution: exec,
		Result:    result,
	}
}

// NewActivityFailed builds an ActivityFailedEvent.
func NewActivityFailed(processID string, exec engine.ActivityExecution, reason, details string) *ActivityFailedEvent {
	return &ActivityFailedEvent{
		baseEvent: newBase(ActivityFailed, processID, ""),
		Execution: exec,
		Reason:    reason,
		Details:   details,
	}
}

// NewActivityTimedOut builds an ActivityTimedOutEvent.
func NewActivityTimedOut(processID, workflow string, exec engine.ActivityExecution, details string) *ActivityTimedOutEvent {
	return &ActivityTimedOutEvent{
		baseEvent: newBase(ActivityTimedOut, processID, workflow),
		Execution: exec,
		Details:   details,
	}
}
