// Package observer wraps an engine so that every successful state change is
// published as a typed lifecycle event on a hooks.Bus. Events are emitted
// after the wrapped engine call returns, so subscribers only ever see changes
// that actually took place.
package observer

import (
	"context"
	"iter"

	"goa.design/flow/engine"
	"goa.design/flow/hooks"
)

// Engine decorates another engine with lifecycle event publication.
type Engine struct {
	next engine.Engine
	bus  hooks.Bus
}

var _ engine.Engine = (*Engine)(nil)

// Wrap returns an engine that delegates to next and publishes lifecycle
// events on bus.
func Wrap(next engine.Engine, bus hooks.Bus) *Engine {
	return &Engine{next: next, bus: bus}
}

// RegisterWorkflow delegates to the wrapped engine.
func (e *Engine) RegisterWorkflow(ctx context.Context, name string, opts engine.WorkflowOptions) error {
	return e.next.RegisterWorkflow(ctx, name, opts)
}

// RegisterActivity delegates to the wrapped engine.
func (e *Engine) RegisterActivity(ctx context.Context, name string, opts engine.ActivityOptions) error {
	return e.next.RegisterActivity(ctx, name, opts)
}

// StartProcess delegates and publishes ProcessStarted.
func (e *Engine) StartProcess(ctx context.Context, proc *engine.Process) error {
	if err := e.next.StartProcess(ctx, proc); err != nil {
		return err
	}
	return e.bus.Publish(ctx, hooks.NewProcessStarted(proc))
}

// SignalProcess delegates and publishes ProcessSignaled.
func (e *Engine) SignalProcess(ctx context.Context, processID string, signal engine.Signal) error {
	if err := e.next.SignalProcess(ctx, processID, signal); err != nil {
		return err
	}
	return e.bus.Publish(ctx, hooks.NewProcessSignaled(processID, signal))
}

// CancelProcess delegates and publishes ProcessCanceled.
func (e *Engine) CancelProcess(ctx context.Context, processID string, details, reason string) error {
	workflow := ""
	if p, err := e.next.ProcessByID(ctx, processID); err == nil {
		workflow = p.Workflow
	}
	if err := e.next.CancelProcess(ctx, processID, details, reason); err != nil {
		return err
	}
	return e.bus.Publish(ctx, hooks.NewProcessCanceled(processID, workflow, details, reason))
}

// Processes delegates to the wrapped engine.
func (e *Engine) Processes(ctx context.Context, filter engine.ProcessFilter) iter.Seq2[*engine.Process, error] {
	return e.next.Processes(ctx, filter)
}

// ProcessByID delegates to the wrapped engine.
func (e *Engine) ProcessByID(ctx context.Context, processID string) (*engine.Process, error) {
	return e.next.ProcessByID(ctx, processID)
}

// PollDecisionTask delegates and publishes an ActivityTimedOut event for
// every reclaimed execution surfacing in the dispatched history. Timeouts
// happen inside the broker sweeps, so the poll is the first place they
// become observable.
func (e *Engine) PollDecisionTask(ctx context.Context, req engine.PollRequest) (*engine.DecisionTask, error) {
	task, err := e.next.PollDecisionTask(ctx, req)
	if err != nil || task == nil {
		return task, err
	}
	for _, ev := range task.Process.UnseenEvents() {
		ae, ok := ev.(engine.ActivityEvent)
		if !ok {
			continue
		}
		to, ok := ae.Result.(engine.ActivityTimedOut)
		if !ok {
			continue
		}
		evt := hooks.NewActivityTimedOut(task.Process.ID, task.Process.Workflow, ae.Execution, to.Details)
		if err := e.bus.Publish(ctx, evt); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// PollActivityTask delegates to the wrapped engine.
func (e *Engine) PollActivityTask(ctx context.Context, req engine.PollRequest) (*engine.ActivityTask, error) {
	return e.next.PollActivityTask(ctx, req)
}

// HeartbeatActivityTask delegates to the wrapped engine.
func (e *Engine) HeartbeatActivityTask(ctx context.Context, task *engine.ActivityTask) error {
	return e.next.HeartbeatActivityTask(ctx, task)
}

// CompleteDecisionTask delegates and publishes DecisionTaskCompleted plus
// one event per scheduling or terminal decision in the batch.
func (e *Engine) CompleteDecisionTask(ctx context.Context, task *engine.DecisionTask, decisions []engine.Decision) error {
	if err := e.next.CompleteDecisionTask(ctx, task, decisions); err != nil {
		return err
	}
	pid, workflow := task.Process.ID, task.Process.Workflow
	if err := e.bus.Publish(ctx, hooks.NewDecisionTaskCompleted(pid, workflow, decisions)); err != nil {
		return err
	}
	for _, d := range decisions {
		var evt hooks.Event
		switch d := d.(type) {
		case engine.ScheduleActivity:
			exec := engine.ActivityExecution{Activity: d.Activity, ID: d.ID, Input: d.Input}
			evt = hooks.NewActivityScheduled(pid, workflow, exec)
		case engine.CancelActivity:
			evt = hooks.NewActivityCanceled(pid, workflow, d.ID)
		case engine.CompleteProcess:
			evt = hooks.NewProcessCompleted(pid, workflow, d.Result)
		case engine.CancelProcess:
			evt = hooks.NewProcessCanceled(pid, workflow, d.Details, d.Reason)
		case engine.StartChildProcess:
			evt = hooks.NewProcessStarted(d.Process)
		default:
			continue
		}
		if err := e.bus.Publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// CompleteActivityTask delegates and publishes the event matching the
// recorded result.
func (e *Engine) CompleteActivityTask(ctx context.Context, task *engine.ActivityTask, result engine.ActivityResult) error {
	if err := e.next.CompleteActivityTask(ctx, task, result); err != nil {
		return err
	}
	var evt hooks.Event
	switch r := result.(type) {
	case engine.ActivityCompleted:
		evt = hooks.NewActivityCompleted(task.ProcessID, task.Execution, r.Result)
	case engine.ActivityFailed:
		evt = hooks.NewActivityFailed(task.ProcessID, task.Execution, r.Reason, r.Details)
	case engine.ActivityCanceled:
		evt = hooks.NewActivityCanceled(task.ProcessID, "", task.Execution.ID)
	case engine.ActivityTimedOut:
		evt = hooks.NewActivityTimedOut(task.ProcessID, "", task.Execution, r.Details)
	default:
		return nil
	}
	return e.bus.Publish(ctx, evt)
}
