// Package mongo implements the engine contract on top of MongoDB. Each
// broker structure lives in its own collection and process histories are
// persisted in wire form, so processes survive restarts and several worker
// hosts can share one backend database.
//
// A single Engine instance serializes its operations with a mutex, matching
// the atomicity contract of the in-memory backend. Running several Engine
// instances against the same database requires external coordination and is
// not supported.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"goa.design/clue/health"

	"goa.design/flow/engine"
)

const (
	defaultOpTimeout = 5 * time.Second
	clientName       = "flow-mongo"
)

type (
	// Options configure New.
	Options struct {
		// Client is the connected Mongo driver client. Required.
		Client *mongodriver.Client
		// Database names the database holding the broker collections.
		// Required.
		Database string
		// Config overrides the default registration defaults.
		Config engine.Config
		// Clock overrides the clock used for expiration deadlines.
		Clock clockwork.Clock
		// Timeout bounds individual storage operations. Defaults to 5s.
		Timeout time.Duration
	}

	// Engine is the MongoDB backend.
	Engine struct {
		mu      sync.Mutex
		client  *mongodriver.Client
		colls   collections
		cfg     engine.Config
		clock   clockwork.Clock
		timeout time.Duration

		// reclaimed maps run-ids taken back by this instance's sweeps to
		// their process so late heartbeats report a timeout rather than an
		// unknown lease. Entries are dropped when the process terminates.
		reclaimed map[string]string
	}
)

var (
	_ engine.Engine = (*Engine)(nil)
	_ health.Pinger = (*Engine)(nil)
)

// New returns a Mongo-backed engine, creating the broker indexes if needed.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	colls := newCollections(opts.Client.Database(opts.Database))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, colls); err != nil {
		return nil, err
	}
	e := newEngineWithCollections(colls, opts.Config, opts.Clock, timeout)
	e.client = opts.Client
	return e, nil
}

func newEngineWithCollections(colls collections, cfg engine.Config, clock clockwork.Clock, timeout time.Duration) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Engine{
		colls:     colls,
		cfg:       cfg.Normalized(),
		clock:     clock,
		timeout:   timeout,
		reclaimed: make(map[string]string),
	}
}

// Name implements health.Pinger.
func (e *Engine) Name() string { return clientName }

// Ping implements health.Pinger.
func (e *Engine) Ping(ctx context.Context) error {
	if e.client == nil {
		return nil
	}
	return e.client.Ping(ctx, readpref.Primary())
}

// RegisterWorkflow upserts the workflow type document.
func (e *Engine) RegisterWorkflow(ctx context.Context, name string, opts engine.WorkflowOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	doc := fromWorkflowOptions(name, e.cfg.WorkflowDefaults(opts))
	_, err := e.colls.workflowTypes.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

// RegisterActivity upserts the activity type document.
func (e *Engine) RegisterActivity(ctx context.Context, name string, opts engine.ActivityOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	doc := fromActivityOptions(name, e.cfg.ActivityDefaults(opts))
	_, err := e.colls.activityTypes.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

// StartProcess persists the process and schedules its initial decision.
func (e *Engine) StartProcess(ctx context.Context, proc *engine.Process) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if _, ok, err := e.workflowOpts(ctx, proc.Workflow); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("start process: workflow %q not registered: %w", proc.Workflow, engine.ErrInvalidInput)
	}
	if proc.ID == "" {
		proc.ID = uuid.NewString()
	}
	stored := proc.Clone()
	if len(stored.History) == 0 {
		stored.History = []engine.Event{engine.ProcessStartedEvent{At: e.clock.Now()}}
	}
	if err := e.saveProcess(ctx, stored); err != nil {
		return err
	}
	return e.scheduleDecision(ctx, stored.ID, time.Time{}, nil)
}

// SignalProcess appends a signal event and ensures a decision is scheduled.
func (e *Engine) SignalProcess(ctx context.Context, processID string, signal engine.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	p, err := e.loadProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("signal process: %w", err)
	}
	p.History = append(p.History, engine.SignalEvent{At: e.clock.Now(), Signal: signal})
	if err := e.saveProcess(ctx, p); err != nil {
		return err
	}
	return e.scheduleDecision(ctx, processID, time.Time{}, nil)
}

// CancelProcess terminates the process from the outside.
func (e *Engine) CancelProcess(ctx context.Context, processID string, details, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	p, err := e.loadProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("cancel process: %w", err)
	}
	now := e.clock.Now()
	p.History = append(p.History, engine.DecisionEvent{At: now, Decision: engine.CancelProcess{Details: details, Reason: reason}})
	return e.terminate(ctx, p, engine.ProcessCanceled{Details: details, Reason: reason}, now)
}

// Processes returns a lazy sequence over the matching process documents.
func (e *Engine) Processes(ctx context.Context, filter engine.ProcessFilter) iter.Seq2[*engine.Process, error] {
	query := bson.M{}
	if filter.Workflow != "" {
		query["workflow"] = filter.Workflow
	}
	if filter.Tag != "" {
		query["tags"] = filter.Tag
	}
	return func(yield func(*engine.Process, error) bool) {
		cur, err := e.colls.processes.Find(ctx, query)
		if err != nil {
			yield(nil, err)
			return
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var doc processDoc
			if err := cur.Decode(&doc); err != nil {
				yield(nil, err)
				return
			}
			p, err := doc.toProcess()
			if !yield(p, err) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// ProcessByID loads a process with its full history.
func (e *Engine) ProcessByID(ctx context.Context, processID string) (*engine.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.loadProcess(ctx, processID)
}

// PollDecisionTask leases the oldest due decision task in the category.
func (e *Engine) PollDecisionTask(ctx context.Context, req engine.PollRequest) (*engine.DecisionTask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := e.sweep(ctx); err != nil {
		return nil, err
	}
	category := req.Category
	if category == "" {
		category = e.cfg.DecisionCategory
	}
	now := e.clock.Now()
	cur, err := e.colls.scheduledDecisions.Find(ctx,
		bson.M{"category": category},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var sd scheduledDecisionDoc
		if err := cur.Decode(&sd); err != nil {
			return nil, err
		}
		if sd.Timer && sd.FireAt.After(now) {
			continue
		}
		p, err := e.loadProcess(ctx, sd.ProcessID)
		if errors.Is(err, engine.ErrUnknownProcess) {
			if _, err := e.colls.scheduledDecisions.DeleteOne(ctx, bson.M{"_id": sd.ID}); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := e.colls.scheduledDecisions.DeleteOne(ctx, bson.M{"_id": sd.ID}); err != nil {
			return nil, err
		}
		if sd.Timer {
			timer, err := sd.timerDecision()
			if err != nil {
				return nil, err
			}
			p.History = append(p.History, engine.TimerEvent{At: now, Timer: timer})
		}
		p.History = append(p.History, engine.DecisionStartedEvent{At: now})
		if err := e.saveProcess(ctx, p); err != nil {
			return nil, err
		}
		wopts, _, err := e.workflowOpts(ctx, p.Workflow)
		if err != nil {
			return nil, err
		}
		runID := uuid.NewString()
		if err := e.colls.runningDecisions.InsertOne(ctx, runningDecisionDoc{
			RunID:     runID,
			ProcessID: p.ID,
			ExpiresAt: now.Add(wopts.DecisionTimeout),
		}); err != nil {
			return nil, err
		}
		return &engine.DecisionTask{
			Process: p,
			Context: map[string]string{engine.ContextRunID: runID},
		}, nil
	}
	return nil, cur.Err()
}

// PollActivityTask leases the oldest scheduled activity in the category.
func (e *Engine) PollActivityTask(ctx context.Context, req engine.PollRequest) (*engine.ActivityTask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := e.sweep(ctx); err != nil {
		return nil, err
	}
	category := req.Category
	if category == "" {
		category = e.cfg.ActivityCategory
	}
	now := e.clock.Now()
	cur, err := e.colls.scheduledActivities.Find(ctx,
		bson.M{"category": category},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var sa scheduledActivityDoc
		if err := cur.Decode(&sa); err != nil {
			return nil, err
		}
		p, err := e.loadProcess(ctx, sa.ProcessID)
		if errors.Is(err, engine.ErrUnknownProcess) {
			if _, err := e.colls.scheduledActivities.DeleteOne(ctx, bson.M{"_id": sa.ID}); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := e.colls.scheduledActivities.DeleteOne(ctx, bson.M{"_id": sa.ID}); err != nil {
			return nil, err
		}
		exec, err := sa.execution()
		if err != nil {
			return nil, err
		}
		aopts, _, err := e.activityOpts(ctx, sa.Activity)
		if err != nil {
			return nil, err
		}
		p.History = append(p.History, engine.ActivityStartedEvent{At: now, Execution: exec})
		if err := e.saveProcess(ctx, p); err != nil {
			return nil, err
		}
		runID := uuid.NewString()
		if err := e.colls.runningActivities.InsertOne(ctx, runningActivityDoc{
			RunID:              runID,
			ProcessID:          p.ID,
			Activity:           sa.Activity,
			ExecutionID:        sa.ExecutionID,
			Input:              sa.Input,
			ExpiresAt:          now.Add(aopts.ExecutionTimeout),
			HeartbeatExpiresAt: now.Add(aopts.HeartbeatTimeout),
		}); err != nil {
			return nil, err
		}
		return &engine.ActivityTask{
			Execution: exec,
			ProcessID: p.ID,
			Context:   map[string]string{engine.ContextRunID: runID},
		}, nil
	}
	return nil, cur.Err()
}

// HeartbeatActivityTask renews the heartbeat lease of a running activity.
func (e *Engine) HeartbeatActivityTask(ctx context.Context, task *engine.ActivityTask) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := e.sweep(ctx); err != nil {
		return err
	}
	runID := task.Context[engine.ContextRunID]
	var ra runningActivityDoc
	if err := e.colls.runningActivities.FindOne(ctx, bson.M{"_id": runID}).Decode(&ra); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			if _, ok := e.reclaimed[runID]; ok {
				return fmt.Errorf("heartbeat activity %q: %w", task.Execution.ID, engine.ErrTimedOut)
			}
			return fmt.Errorf("heartbeat activity %q: %w", task.Execution.ID, engine.ErrUnknownActivity)
		}
		return err
	}
	aopts, _, err := e.activityOpts(ctx, ra.Activity)
	if err != nil {
		return err
	}
	_, err = e.colls.runningActivities.UpdateOne(ctx,
		bson.M{"_id": runID},
		bson.M{"$set": bson.M{"heartbeat_expires_at": e.clock.Now().Add(aopts.HeartbeatTimeout)}},
	)
	return err
}

// CompleteDecisionTask atomically applies the submitted decisions and
// releases the decision lease.
func (e *Engine) CompleteDecisionTask(ctx context.Context, task *engine.DecisionTask, decisions []engine.Decision) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := e.sweep(ctx); err != nil {
		return err
	}
	runID := task.Context[engine.ContextRunID]
	var rd runningDecisionDoc
	if err := e.colls.runningDecisions.FindOne(ctx, bson.M{"_id": runID}).Decode(&rd); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return fmt.Errorf("complete decision: %w", engine.ErrUnknownDecision)
		}
		return err
	}
	if _, err := e.colls.runningDecisions.DeleteOne(ctx, bson.M{"_id": runID}); err != nil {
		return err
	}
	p, err := e.loadProcess(ctx, rd.ProcessID)
	if err != nil {
		return fmt.Errorf("complete decision: %w", err)
	}
	now := e.clock.Now()
	for _, d := range decisions {
		if err := e.applyDecision(ctx, p, d, now); err != nil {
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
func (e *Engine) CompleteActivityTask(ctx context.Context, task *engine.ActivityTask, result engine.ActivityResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := e.sweep(ctx); err != nil {
		return err
	}
	runID := task.Context[engine.ContextRunID]
	var ra runningActivityDoc
	if err := e.colls.runningActivities.FindOne(ctx, bson.M{"_id": runID}).Decode(&ra); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return fmt.Errorf("complete activity %q: %w", task.Execution.ID, engine.ErrUnknownActivity)
		}
		return err
	}
	if _, err := e.colls.runningActivities.DeleteOne(ctx, bson.M{"_id": runID}); err != nil {
		return err
	}
	p, err := e.loadProcess(ctx, ra.ProcessID)
	if err != nil {
		return fmt.Errorf("complete activity %q: %w", task.Execution.ID, err)
	}
	exec, err := ra.execution()
	if err != nil {
		return err
	}
	p.History = append(p.History, engine.ActivityEvent{At: e.clock.Now(), Execution: exec, Result: result})
	if err := e.saveProcess(ctx, p); err != nil {
		return err
	}
	return e.scheduleDecision(ctx, p.ID, time.Time{}, nil)
}

func (e *Engine) applyDecision(ctx context.Context, p *engine.Process, d engine.Decision, now time.Time) error {
	switch d := d.(type) {
	case engine.ScheduleActivity:
		aopts, ok, err := e.activityOpts(ctx, d.Activity)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("schedule activity %q: not registered: %w", d.Activity, engine.ErrInvalidDecision)
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		category := d.Category
		if category == "" {
			category = aopts.Category
		}
		input, err := marshalOpaque(d.Input)
		if err != nil {
			return err
		}
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
		if err := e.saveProcess(ctx, p); err != nil {
			return err
		}
		return e.colls.scheduledActivities.InsertOne(ctx, scheduledActivityDoc{
			ID:          uuid.NewString(),
			ProcessID:   p.ID,
			Activity:    d.Activity,
			ExecutionID: d.ID,
			Input:       input,
			Category:    category,
			CreatedAt:   now,
			ExpiresAt:   now.Add(aopts.ScheduledTimeout),
		})
	case engine.CancelActivity:
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
		exec, ok, err := e.withdrawActivity(ctx, d.ID)
		if err != nil {
			return err
		}
		if ok {
			p.History = append(p.History, engine.ActivityEvent{At: now, Execution: exec, Result: engine.ActivityCanceled{}})
		}
		return e.saveProcess(ctx, p)
	case engine.CompleteProcess:
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
		return e.terminate(ctx, p, engine.ProcessCompleted{Result: d.Result}, now)
	case engine.CancelProcess:
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
		return e.terminate(ctx, p, engine.ProcessCanceled{Details: d.Details, Reason: d.Reason}, now)
	case engine.StartChildProcess:
		if _, ok, err := e.workflowOpts(ctx, d.Process.Workflow); err != nil {
			return err
		} else if !ok {
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
		if err := e.saveProcess(ctx, p); err != nil {
			return err
		}
		if err := e.saveProcess(ctx, child); err != nil {
			return err
		}
		return e.scheduleDecision(ctx, child.ID, time.Time{}, nil)
	case engine.Timer:
		p.History = append(p.History, engine.DecisionEvent{At: now, Decision: d})
		if err := e.saveProcess(ctx, p); err != nil {
			return err
		}
		return e.scheduleDecision(ctx, p.ID, now.Add(d.Delay), &d)
	}
	return fmt.Errorf("decision kind %q: %w", d.Kind(), engine.ErrInvalidDecision)
}

// scheduleDecision inserts a decision entry unless one already exists for
// the process in either decision collection.
func (e *Engine) scheduleDecision(ctx context.Context, processID string, fireAt time.Time, timer *engine.Timer) error {
	var existing bson.M
	err := e.colls.scheduledDecisions.FindOne(ctx, bson.M{"process_id": processID}).Decode(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongodriver.ErrNoDocuments) {
		return err
	}
	err = e.colls.runningDecisions.FindOne(ctx, bson.M{"process_id": processID}).Decode(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongodriver.ErrNoDocuments) {
		return err
	}
	p, err := e.loadProcess(ctx, processID)
	if errors.Is(err, engine.ErrUnknownProcess) {
		return nil
	}
	if err != nil {
		return err
	}
	wopts, _, err := e.workflowOpts(ctx, p.Workflow)
	if err != nil {
		return err
	}
	doc := scheduledDecisionDoc{
		ID:        uuid.NewString(),
		ProcessID: processID,
		Category:  wopts.Category,
		CreatedAt: e.clock.Now(),
	}
	if timer != nil {
		data, err := marshalOpaque(timer.Data)
		if err != nil {
			return err
		}
		doc.Timer = true
		doc.FireAt = fireAt
		doc.DelayMS = timer.Delay.Milliseconds()
		doc.TimerData = data
	}
	return e.colls.scheduledDecisions.InsertOne(ctx, doc)
}

// terminate removes the process and its queued work, then notifies the
// parent if there is one.
func (e *Engine) terminate(ctx context.Context, p *engine.Process, result engine.ProcessResult, now time.Time) error {
	if _, err := e.colls.processes.DeleteOne(ctx, bson.M{"_id": p.ID}); err != nil {
		return err
	}
	if _, err := e.colls.scheduledDecisions.DeleteMany(ctx, bson.M{"process_id": p.ID}); err != nil {
		return err
	}
	if _, err := e.colls.scheduledActivities.DeleteMany(ctx, bson.M{"process_id": p.ID}); err != nil {
		return err
	}
	for runID, pid := range e.reclaimed {
		if pid == p.ID {
			delete(e.reclaimed, runID)
		}
	}
	if p.Parent == "" {
		return nil
	}
	parent, err := e.loadProcess(ctx, p.Parent)
	if errors.Is(err, engine.ErrUnknownProcess) {
		return nil
	}
	if err != nil {
		return err
	}
	parent.History = append(parent.History, engine.ChildProcessEvent{
		At:        now,
		ProcessID: p.ID,
		Workflow:  p.Workflow,
		Tags:      p.Tags,
		Result:    result,
	})
	if err := e.saveProcess(ctx, parent); err != nil {
		return err
	}
	return e.scheduleDecision(ctx, parent.ID, time.Time{}, nil)
}

// withdrawActivity removes the scheduled or running activity with the given
// execution ID and returns its execution.
func (e *Engine) withdrawActivity(ctx context.Context, id string) (engine.ActivityExecution, bool, error) {
	var sa scheduledActivityDoc
	err := e.colls.scheduledActivities.FindOne(ctx, bson.M{"execution_id": id}).Decode(&sa)
	if err == nil {
		if _, err := e.colls.scheduledActivities.DeleteOne(ctx, bson.M{"_id": sa.ID}); err != nil {
			return engine.ActivityExecution{}, false, err
		}
		exec, err := sa.execution()
		return exec, true, err
	}
	if !errors.Is(err, mongodriver.ErrNoDocuments) {
		return engine.ActivityExecution{}, false, err
	}
	var ra runningActivityDoc
	err = e.colls.runningActivities.FindOne(ctx, bson.M{"execution_id": id}).Decode(&ra)
	if err == nil {
		if _, err := e.colls.runningActivities.DeleteOne(ctx, bson.M{"_id": ra.RunID}); err != nil {
			return engine.ActivityExecution{}, false, err
		}
		exec, err := ra.execution()
		return exec, true, err
	}
	if !errors.Is(err, mongodriver.ErrNoDocuments) {
		return engine.ActivityExecution{}, false, err
	}
	return engine.ActivityExecution{}, false, nil
}

// sweep runs the expiration sweeps, activities first then decisions.
func (e *Engine) sweep(ctx context.Context) error {
	now := e.clock.Now()

	expired, err := e.collectScheduledActivities(ctx, bson.M{"expires_at": bson.M{"$lt": now}})
	if err != nil {
		return err
	}
	for _, sa := range expired {
		if _, err := e.colls.scheduledActivities.DeleteOne(ctx, bson.M{"_id": sa.ID}); err != nil {
			return err
		}
		if _, err := e.recordActivityTimeout(ctx, sa.ProcessID, sa.Activity, sa.ExecutionID, sa.Input, "scheduled timeout", now); err != nil {
			return err
		}
	}

	running, err := e.collectRunningActivities(ctx, bson.M{"$or": bson.A{
		bson.M{"expires_at": bson.M{"$lt": now}},
		bson.M{"heartbeat_expires_at": bson.M{"$lt": now}},
	}})
	if err != nil {
		return err
	}
	for _, ra := range running {
		if _, err := e.colls.runningActivities.DeleteOne(ctx, bson.M{"_id": ra.RunID}); err != nil {
			return err
		}
		details := "execution timeout"
		if ra.HeartbeatExpiresAt.Before(now) && !ra.ExpiresAt.Before(now) {
			details = "heartbeat timeout"
		}
		recorded, err := e.recordActivityTimeout(ctx, ra.ProcessID, ra.Activity, ra.ExecutionID, ra.Input, details, now)
		if err != nil {
			return err
		}
		if recorded {
			e.reclaimed[ra.RunID] = ra.ProcessID
		}
	}

	cur, err := e.colls.runningDecisions.Find(ctx, bson.M{"expires_at": bson.M{"$lt": now}})
	if err != nil {
		return err
	}
	var decisions []runningDecisionDoc
	for cur.Next(ctx) {
		var rd runningDecisionDoc
		if err := cur.Decode(&rd); err != nil {
			cur.Close(ctx)
			return err
		}
		decisions = append(decisions, rd)
	}
	if err := cur.Err(); err != nil {
		cur.Close(ctx)
		return err
	}
	cur.Close(ctx)
	for _, rd := range decisions {
		if _, err := e.colls.runningDecisions.DeleteOne(ctx, bson.M{"_id": rd.RunID}); err != nil {
			return err
		}
		if _, err := e.loadProcess(ctx, rd.ProcessID); err == nil {
			e.reclaimed[rd.RunID] = rd.ProcessID
		} else if !errors.Is(err, engine.ErrUnknownProcess) {
			return err
		}
		if err := e.scheduleDecision(ctx, rd.ProcessID, time.Time{}, nil); err != nil {
			return err
		}
	}
	return nil
}

// recordActivityTimeout appends the timeout event and reports whether the
// process still existed.
func (e *Engine) recordActivityTimeout(ctx context.Context, processID, activityName, executionID, input, details string, now time.Time) (bool, error) {
	p, err := e.loadProcess(ctx, processID)
	if errors.Is(err, engine.ErrUnknownProcess) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	doc := scheduledActivityDoc{Activity: activityName, ExecutionID: executionID, Input: input}
	exec, err := doc.execution()
	if err != nil {
		return false, err
	}
	p.History = append(p.History, engine.ActivityEvent{At: now, Execution: exec, Result: engine.ActivityTimedOut{Details: details}})
	if err := e.saveProcess(ctx, p); err != nil {
		return false, err
	}
	return true, e.scheduleDecision(ctx, processID, time.Time{}, nil)
}

func (e *Engine) collectScheduledActivities(ctx context.Context, filter any) ([]scheduledActivityDoc, error) {
	cur, err := e.colls.scheduledActivities.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []scheduledActivityDoc
	for cur.Next(ctx) {
		var doc scheduledActivityDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, cur.Err()
}

func (e *Engine) collectRunningActivities(ctx context.Context, filter any) ([]runningActivityDoc, error) {
	cur, err := e.colls.runningActivities.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []runningActivityDoc
	for cur.Next(ctx) {
		var doc runningActivityDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, cur.Err()
}

func (e *Engine) loadProcess(ctx context.Context, processID string) (*engine.Process, error) {
	var doc processDoc
	if err := e.colls.processes.FindOne(ctx, bson.M{"_id": processID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("process %q: %w", processID, engine.ErrUnknownProcess)
		}
		return nil, err
	}
	return doc.toProcess()
}

func (e *Engine) saveProcess(ctx context.Context, p *engine.Process) error {
	doc, err := fromProcess(p)
	if err != nil {
		return err
	}
	_, err = e.colls.processes.UpdateOne(ctx,
		bson.M{"_id": p.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

func (e *Engine) workflowOpts(ctx context.Context, name string) (engine.WorkflowOptions, bool, error) {
	var doc workflowTypeDoc
	if err := e.colls.workflowTypes.FindOne(ctx, bson.M{"_id": name}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return engine.WorkflowOptions{}, false, nil
		}
		return engine.WorkflowOptions{}, false, err
	}
	return doc.toOptions(), true, nil
}

func (e *Engine) activityOpts(ctx context.Context, name string) (engine.ActivityOptions, bool, error) {
	var doc activityTypeDoc
	if err := e.colls.activityTypes.FindOne(ctx, bson.M{"_id": name}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return engine.ActivityOptions{}, false, nil
		}
		return engine.ActivityOptions{}, false, err
	}
	return doc.toOptions(), true, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}
