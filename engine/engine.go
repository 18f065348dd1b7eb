// Package engine defines the workflow orchestration model: processes with
// append-only event histories, decisions, activity executions and the Engine
// contract implemented by the in-memory, MongoDB and Amazon SWF backends.
//
// An Engine is a state machine plus task broker. Deciders poll for decision
// tasks, read the history and submit decisions; activity workers poll for
// activity tasks, execute them and submit results. The broker guarantees a
// total order of events per process and at most one decision in flight per
// process at any time.
package engine

import (
	"context"
	"errors"
	"iter"
	"time"
)

// Sentinel errors returned by Engine operations. Backends wrap them with
// contextual detail; callers test with errors.Is.
var (
	// ErrUnknownProcess reports an operation against a process the backend
	// does not know, including processes that already terminated.
	ErrUnknownProcess = errors.New("unknown process")
	// ErrUnknownActivity reports a completion or heartbeat whose run-id no
	// longer matches an in-flight activity, typically after reclamation.
	ErrUnknownActivity = errors.New("unknown activity")
	// ErrUnknownDecision reports a completion whose run-id no longer matches
	// an in-flight decision.
	ErrUnknownDecision = errors.New("unknown decision")
	// ErrTimedOut reports that the target expired before the operation.
	ErrTimedOut = errors.New("timed out")
	// ErrInvalidDecision reports a decision the broker cannot apply, such as
	// scheduling an unregistered activity type.
	ErrInvalidDecision = errors.New("invalid decision")
	// ErrInvalidInput reports input that violates a backend constraint, such
	// as exceeding the hosted tag cardinality limit.
	ErrInvalidInput = errors.New("invalid input")
)

type (
	// WorkflowOptions configure a workflow type at registration.
	WorkflowOptions struct {
		// Timeout bounds the total wall-clock lifetime of a process.
		Timeout time.Duration
		// DecisionTimeout bounds each dispatched decision task.
		DecisionTimeout time.Duration
		// Category routes the workflow's decision tasks.
		Category string
	}

	// ActivityOptions configure an activity type at registration.
	ActivityOptions struct {
		// Category routes executions of this activity type.
		Category string
		// ScheduledTimeout bounds the time an execution may wait in queue.
		ScheduledTimeout time.Duration
		// ExecutionTimeout bounds the time between dispatch and completion.
		ExecutionTimeout time.Duration
		// HeartbeatTimeout bounds the interval between worker heartbeats.
		HeartbeatTimeout time.Duration
	}

	// Engine is the orchestration contract shared by all backends.
	//
	// StartProcess, SignalProcess, CancelProcess and the two Complete methods
	// are atomic with respect to each other on a given backend instance.
	// PollDecisionTask and PollActivityTask are non-blocking and return a nil
	// task when nothing is eligible.
	Engine interface {
		// RegisterWorkflow registers a workflow type. Zero option fields take
		// the engine configuration defaults. Registration is idempotent.
		RegisterWorkflow(ctx context.Context, name string, opts WorkflowOptions) error
		// RegisterActivity registers an activity type. Zero option fields
		// take the engine configuration defaults. Registration is idempotent.
		RegisterActivity(ctx context.Context, name string, opts ActivityOptions) error
		// StartProcess starts a process for a registered workflow type. A
		// blank process ID is replaced with a generated one; the assigned ID
		// is written back to proc. An initial decision is scheduled.
		StartProcess(ctx context.Context, proc *Process) error
		// SignalProcess appends a SignalEvent to the process history and
		// schedules a decision.
		SignalProcess(ctx context.Context, processID string, signal Signal) error
		// CancelProcess terminates the process, withdraws its pending work
		// and notifies its parent if it has one.
		CancelProcess(ctx context.Context, processID string, details, reason string) error
		// Processes returns a lazy sequence of open processes matching the
		// filter. Snapshots are safe to retain.
		Processes(ctx context.Context, filter ProcessFilter) iter.Seq2[*Process, error]
		// ProcessByID returns a snapshot of the process with the given ID.
		ProcessByID(ctx context.Context, processID string) (*Process, error)
		// PollDecisionTask leases the next due decision task in the category.
		// A blank category selects the default decision category.
		PollDecisionTask(ctx context.Context, req PollRequest) (*DecisionTask, error)
		// PollActivityTask leases the next scheduled activity execution in
		// the category. A blank category selects the default category.
		PollActivityTask(ctx context.Context, req PollRequest) (*ActivityTask, error)
		// HeartbeatActivityTask renews the heartbeat lease of a running
		// activity.
		HeartbeatActivityTask(ctx context.Context, task *ActivityTask) error
		// CompleteDecisionTask atomically applies the decisions produced for
		// the task and releases the decision lease.
		CompleteDecisionTask(ctx context.Context, task *DecisionTask, decisions []Decision) error
		// CompleteActivityTask records the result of a leased activity
		// execution and schedules a decision.
		CompleteActivityTask(ctx context.Context, task *ActivityTask, result ActivityResult) error
	}
)
