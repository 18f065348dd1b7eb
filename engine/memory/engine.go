// Package memory implements the engine contract entirely in memory. It is
// the reference broker: a single mutex serializes every operation, expiration
// sweeps run at the start of each poll and complete call, and nothing
// survives a restart. Use it for tests and single-process setups.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"goa.design/flow/engine"
)

type (
	// Engine is the in-memory backend. The zero value is not usable; call New.
	Engine struct {
		mu    sync.Mutex
		cfg   engine.Config
		clock clockwork.Clock

		workflows  map[string]engine.WorkflowOptions
		activities map[string]engine.ActivityOptions
		processes  map[string]*engine.Process

		scheduledDecisions  []*scheduledDecision
		scheduledActivities []*scheduledActivity
		runningDecisions    map[string]*runningDecision
		runningActivities   map[string]*runningActivity

		// reclaimed maps run-ids taken back by the sweeper to their process
		// so late completions report a timeout rather than an unknown
		// identifier. Entries are dropped when the process terminates.
		reclaimed map[string]string
	}

	// Option configures New.
	Option func(*Engine)

	scheduledDecision struct {
		processID string
		category  string
		fireAt    time.Time // zero unless timer-backed
		timer     *engine.Timer
	}

	runningDecision struct {
		processID string
		expiresAt time.Time
	}

	scheduledActivity struct {
		execution engine.ActivityExecution
		processID string
		category  string
		expiresAt time.Time
	}

	runningActivity struct {
		execution          engine.ActivityExecution
		processID          string
		expiresAt          time.Time
		heartbeatExpiresAt time.Time
	}
)

// WithConfig overrides the default engine configuration.
func WithConfig(cfg engine.Config) Option {
	return func(e *Engine) { e.cfg = cfg.Normalized() }
}

// WithClock injects the clock used for expiration deadlines. Tests pass a
// clockwork fake clock to drive sweeps without sleeping.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// New returns an empty in-memory engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:               engine.DefaultConfig(),
		clock:             clockwork.NewRealClock(),
		workflows:         make(map[string]engine.WorkflowOptions),
		activities:        make(map[string]engine.ActivityOptions),
		processes:         make(map[string]*engine.Process),
		runningDecisions:  make(map[string]*runningDecision),
		runningActivities: make(map[string]*runningActivity),
		reclaimed:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterWorkflow registers or overwrites a workflow type.
func (e *Engine) RegisterWorkflow(_ context.Context, name string, opts engine.WorkflowOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[name] = e.cfg.WorkflowDefaults(opts)
	return nil
}

// RegisterActivity registers or overwrites an activity type.
func (e *Engine) RegisterActivity(_ context.Context, name string, opts engine.ActivityOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[name] = e.cfg.ActivityDefaults(opts)
	return nil
}

// StartProcess registers the process and schedules its initial decision. A
// blank ID is replaced with a generated one and written back to proc.
func (e *Engine) StartProcess(_ context.Context, proc *engine.Process) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workflows[proc.Workflow]; !ok {
		return fmt.Errorf("start process: workflow %q not registered: %w", proc.Workflow, engine.ErrInvalidInput)
	}
	if proc.ID == "" {
		proc.ID = uuid.NewString()
	}
	stored := proc.Clone()
	if len(stored.History) == 0 {
		stored.History = []engine.Event{engine.ProcessStartedEvent{At: e.clock.Now()}}
	}
	e.processes[stored.ID] = stored
	e.scheduleDecision(stored.ID, time.Time{}, nil)
	return nil
}

// SignalProcess appends a signal event and ensures a decision is scheduled.
func (e *Engine) SignalProcess(_ context.Context, processID string, signal engine.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.processes[processID]
	if !ok {
		return fmt.Errorf("signal process %q: %w", processID, engine.ErrUnknownProcess)
	}
	p.History = append(p.History, engine.SignalEvent{At: e.clock.Now(), Signal: signal})
	e.scheduleDecision(processID, time.Time{}, nil)
	return nil
}

// CancelProcess terminates the process from the outside.
func (e *Engine) CancelProcess(_ context.Context, processID string, details, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.processes[processID]
	if !ok {
		return fmt.Errorf("cancel process %q: %w", processID, engine.ErrUnknownProcess)
	}
	now := e.clock.Now()
	d := engine.CancelProcess{Details: details, Reason: reason}
	p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
	e.terminate(p, engine.ProcessCanceled{Details: details, Reason: reason}, now)
	return nil
}

// Processes returns snapshots of the open processes matching the filter.
func (e *Engine) Processes(_ context.Context, filter engine.ProcessFilter) iter.Seq2[*engine.Process, error] {
	e.mu.Lock()
	var matches []*engine.Process
	for _, p := range e.processes {
		if matchFilter(p, filter) {
			matches = append(matches, p.Clone())
		}
	}
	e.mu.Unlock()
	return func(yield func(*engine.Process, error) bool) {
		for _, p := range matches {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// ProcessByID returns a snapshot of the process with the given ID.
func (e *Engine) ProcessByID(_ context.Context, processID string) (*engine.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.processes[processID]
	if !ok {
		return nil, fmt.Errorf("process %q: %w", processID, engine.ErrUnknownProcess)
	}
	return p.Clone(), nil
}

// PollDecisionTask leases the oldest due decision task in the category.
func (e *Engine) PollDecisionTask(_ context.Context, req engine.PollRequest) (*engine.DecisionTask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweep()
	category := req.Category
	if category == "" {
		category = e.cfg.DecisionCategory
	}
	now := e.clock.Now()
	for i := 0; i < len(e.scheduledDecisions); i++ {
		sd := e.scheduledDecisions[i]
		p, ok := e.processes[sd.processID]
		if !ok {
			// Process terminated while the entry was queued.
			e.scheduledDecisions = slices.Delete(e.scheduledDecisions, i, i+1)
			i--
			continue
		}
		if sd.category != category {
			continue
		}
		if sd.timer != nil && sd.fireAt.After(now) {
			continue
		}
		e.scheduledDecisions = slices.Delete(e.scheduledDecisions, i, i+1)
		if sd.timer != nil {
			p.History = append(p.History, engine.TimerEvent{At: now, Timer: *sd.timer})
		}
		p.History = append(p.History, engine.DecisionStartedEvent{At: now})
		runID := uuid.NewString()
		e.runningDecisions[runID] = &runningDecision{
			processID: p.ID,
			expiresAt: now.Add(e.workflows[p.Workflow].DecisionTimeout),
		}
		return &engine.DecisionTask{
			Process: p.Clone(),
			Context: map[string]string{engine.ContextRunID: runID},
		}, nil
	}
	return nil, nil
}

// PollActivityTask leases the oldest scheduled activity in the category.
func (e *Engine) PollActivityTask(_ context.Context, req engine.PollRequest) (*engine.ActivityTask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweep()
	category := req.Category
	if category == "" {
		category = e.cfg.ActivityCategory
	}
	now := e.clock.Now()
	for i := 0; i < len(e.scheduledActivities); i++ {
		sa := e.scheduledActivities[i]
		p, ok := e.processes[sa.processID]
		if !ok {
			e.scheduledActivities = slices.Delete(e.scheduledActivities, i, i+1)
			i--
			continue
		}
		if sa.category != category {
			continue
		}
		e.scheduledActivities = slices.Delete(e.scheduledActivities, i, i+1)
		opts := e.activities[sa.execution.Activity]
		p.History = append(p.History, engine.ActivityStartedEvent{At: now, Execution: sa.execution})
		runID := uuid.NewString()
		e.runningActivities[runID] = &runningActivity{
			execution:          sa.execution,
			processID:          p.ID,
			expiresAt:          now.Add(opts.ExecutionTimeout),
			heartbeatExpiresAt: now.Add(opts.HeartbeatTimeout),
		}
		return &engine.ActivityTask{
			Execution: sa.execution,
			ProcessID: p.ID,
			Context:   map[string]string{engine.ContextRunID: runID},
		}, nil
	}
	return nil, nil
}

// HeartbeatActivityTask renews the heartbeat lease of a running activity.
func (e *Engine) HeartbeatActivityTask(_ context.Context, task *engine.ActivityTask) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweep()
	runID := task.Context[engine.ContextRunID]
	ra, ok := e.runningActivities[runID]
	if !ok {
		if _, ok := e.reclaimed[runID]; ok {
			return fmt.Errorf("heartbeat activity %q: %w", task.Execution.ID, engine.ErrTimedOut)
		}
		return fmt.Errorf("heartbeat activity %q: %w", task.Execution.ID, engine.ErrUnknownActivity)
	}
	opts := e.activities[ra.execution.Activity]
	ra.heartbeatExpiresAt = e.clock.Now().Add(opts.HeartbeatTimeout)
	return nil
}

// CompleteDecisionTask atomically applies the submitted decisions and
// releases the decision lease.
func (e *Engine) CompleteDecisionTask(_ context.Context, task *engine.DecisionTask, decisions []engine.Decision) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweep()
	runID := task.Context[engine.ContextRunID]
	rd, ok := e.runningDecisions[runID]
	if !ok {
		return fmt.Errorf("complete decision: %w", engine.ErrUnknownDecision)
	}
	delete(e.runningDecisions, runID)
	p, ok := e.processes[rd.processID]
	if !ok {
		return fmt.Errorf("complete decision: process %q: %w", rd.processID, engine.ErrUnknownProcess)
	}
	now := e.clock.Now()
	for _, d := range decisions {
		if err := e.applyDecision(p, d, now); err != nil {
			return err
		}
		switch d.(type) {
		case engine.CompleteProcess, engine.CancelProcess:
			// The process is gone; the rest of the batch has nothing to
			// apply to.
			return nil
		}
	}
	return nil
}

// CompleteActivityTask records the result of a leased execution and
// schedules a follow-up decision.
func (e *Engine) CompleteActivityTask(_ context.Context, task *engine.ActivityTask, result engine.ActivityResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweep()
	runID := task.Context[engine.ContextRunID]
	ra, ok := e.runningActivities[runID]
	if !ok {
		return fmt.Errorf("complete activity %q: %w", task.Execution.ID, engine.ErrUnknownActivity)
	}
	delete(e.runningActivities, runID)
	p, ok := e.processes[ra.processID]
	if !ok {
		return fmt.Errorf("complete activity %q: process %q: %w", task.Execution.ID, ra.processID, engine.ErrUnknownProcess)
	}
	p.History = append(p.History, engine.ActivityEvent{At: e.clock.Now(), Execution: ra.execution, Result: result})
	e.scheduleDecision(p.ID, time.Time{}, nil)
	return nil
}

func (e *Engine) applyDecision(p *engine.Process, d engine.Decision, now time.Time) error {
	switch d := d.(type) {
	case engine.ScheduleActivity:
		opts, ok := e.activities[d.Activity]
		if !ok {
			return fmt.Errorf("schedule activity %q: not registered: %w", d.Activity, engine.ErrInvalidDecision)
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		category := d.Category
		if category == "" {
			category = opts.Category
		}
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
		e.scheduledActivities = append(e.scheduledActivities, &scheduledActivity{
			execution: engine.ActivityExecution{Activity: d.Activity, ID: d.ID, Input: d.Input},
			processID: p.ID,
			category:  category,
			expiresAt: now.Add(opts.ScheduledTimeout),
		})
	case engine.CancelActivity:
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
		if exec, ok := e.withdrawActivity(d.ID); ok {
			p.History = append(p.History, engine.ActivityEvent{At: now, Execution: exec, Result: engine.ActivityCanceled{}})
		}
	case engine.CompleteProcess:
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
		e.terminate(p, engine.ProcessCompleted{Result: d.Result}, now)
	case engine.CancelProcess:
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
		e.terminate(p, engine.ProcessCanceled{Details: d.Details, Reason: d.Reason}, now)
	case engine.StartChildProcess:
		if _, ok := e.workflows[d.Process.Workflow]; !ok {
			return fmt.Errorf("start child process: workflow %q not registered: %w", d.Process.Workflow, engine.ErrInvalidDecision)
		}
		// The generated ID lands on the submitted decision so callers see
		// the child's identity.
		if d.Process.ID == "" {
			d.Process.ID = uuid.NewString()
		}
		child := d.Process.Clone()
		child.Parent = p.ID
		if len(child.History) == 0 {
			child.History = []engine.Event{engine.ProcessStartedEvent{At: now}}
		}
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: engine.StartChildProcess{Process: child.Clone()}})
		e.processes[child.ID] = child
		e.scheduleDecision(child.ID, time.Time{}, nil)
	case engine.Timer:
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
		e.scheduleDecision(p.ID, now.Add(d.Delay), &d)
	default:
		return fmt.Errorf("decision kind %q: %w", d.Kind(), engine.ErrInvalidDecision)
	}
	return nil
}

// scheduleDecision queues a decision entry unless one already exists for the
// process in either decision structure. A non-nil timer makes the entry
// timer-backed with the given fire time.
func (e *Engine) scheduleDecision(processID string, fireAt time.Time, timer *engine.Timer) {
	for _, sd := range e.scheduledDecisions {
		if sd.processID == processID {
			return
		}
	}
	for _, rd := range e.runningDecisions {
		if rd.processID == processID {
			return
		}
	}
	p, ok := e.processes[processID]
	if !ok {
		return
	}
	e.scheduledDecisions = append(e.scheduledDecisions, &scheduledDecision{
		processID: processID,
		category:  e.workflows[p.Workflow].Category,
		fireAt:    fireAt,
		timer:     timer,
	})
}

// terminate removes the process and its queued work, then notifies the
// parent if there is one.
func (e *Engine) terminate(p *engine.Process, result engine.ProcessResult, now time.Time) {
	delete(e.processes, p.ID)
	e.scheduledDecisions = slices.DeleteFunc(e.scheduledDecisions, func(sd *scheduledDecision) bool {
		return sd.processID == p.ID
	})
	e.scheduledActivities = slices.DeleteFunc(e.scheduledActivities, func(sa *scheduledActivity) bool {
		return sa.processID == p.ID
	})
	for runID, pid := range e.reclaimed {
		if pid == p.ID {
			delete(e.reclaimed, runID)
		}
	}
	if p.Parent == "" {
		return
	}
	parent, ok := e.processes[p.Parent]
	if !ok {
		return
	}
	parent.History = append(parent.History, engine.ChildProcessEvent{
		At:        now,
		ProcessID: p.ID,
		Workflow:  p.Workflow,
		Tags:      p.Tags,
		Result:    result,
	})
	e.scheduleDecision(parent.ID, time.Time{}, nil)
}

// withdrawActivity removes the scheduled or running activity with the given
// execution ID and returns its execution.
func (e *Engine) withdrawActivity(id string) (engine.ActivityExecution, bool) {
	for i, sa := range e.scheduledActivities {
		if sa.execution.ID == id {
			e.scheduledActivities = slices.Delete(e.scheduledActivities, i, i+1)
			return sa.execution, true
		}
	}
	for runID, ra := range e.runningActivities {
		if ra.execution.ID == id {
			delete(e.runningActivities, runID)
			return ra.execution, true
		}
	}
	return engine.ActivityExecution{}, false
}

// sweep runs the expiration sweeps, activities first then decisions.
func (e *Engine) sweep() {
	now := e.clock.Now()

	e.scheduledActivities = slices.DeleteFunc(e.scheduledActivities, func(sa *scheduledActivity) bool {
		if !sa.expiresAt.Before(now) {
			return false
		}
		if p, ok := e.processes[sa.processID]; ok {
			p.History = append(p.History, engine.ActivityEvent{At: now, Execution: sa.execution, Result: engine.ActivityTimedOut{Details: "scheduled timeout"}})
			e.scheduleDecision(sa.processID, time.Time{}, nil)
		}
		return true
	})

	for runID, ra := range e.runningActivities {
		if !ra.expiresAt.Before(now) && !ra.heartbeatExpiresAt.Before(now) {
			continue
		}
		delete(e.runningActivities, runID)
		details := "execution timeout"
		if ra.heartbeatExpiresAt.Before(now) && !ra.expiresAt.Before(now) {
			details = "heartbeat timeout"
		}
		if p, ok := e.processes[ra.processID]; ok {
			e.reclaimed[runID] = ra.processID
			p.History = append(p.History, engine.ActivityEvent{At: now, Execution: ra.execution, Result: engine.ActivityTimedOut{Details: details}})
			e.scheduleDecision(ra.processID, time.Time{}, nil)
		}
	}

	for runID, rd := range e.runningDecisions {
		if !rd.expiresAt.Before(now) {
			continue
		}
		delete(e.runningDecisions, runID)
		if _, ok := e.processes[rd.processID]; ok {
			e.reclaimed[runID] = rd.processID
			e.scheduleDecision(rd.processID, time.Time{}, nil)
		}
	}
}

func matchFilter(p *engine.Process, f engine.ProcessFilter) bool {
	if f.Workflow != "" && p.Workflow != f.Workflow {
		return false
	}
	if f.Tag != "" && !slices.Contains(p.Tags, f.Tag) {
		return false
	}
	return true
}
