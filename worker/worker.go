// Package worker implements the polling loops that connect an engine to the
// deciders and activities registered on a Manager. Loops are resilient: user
// code errors are logged and swallowed, the broker's timeouts take care of
// redelivery.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	"goa.design/flow"
	"goa.design/flow/activity"
	"goa.design/flow/decider"
	"goa.design/flow/engine"
)

type (
	// DecisionWorker polls for decision tasks and runs the matching decider.
	DecisionWorker struct {
		mgr *flow.Manager
		options
	}

	// ActivityWorker polls for activity tasks and runs the matching
	// activity.
	ActivityWorker struct {
		mgr *flow.Manager
		options
	}

	// Option configures a worker.
	Option func(*options)

	options struct {
		category          string
		identity          string
		idleRate          rate.Limit
		heartbeatInterval time.Duration
	}
)

// WithCategory restricts the worker to one routing category.
func WithCategory(category string) Option {
	return func(o *options) { o.category = category }
}

// WithIdentity names the worker in poll requests and logs.
func WithIdentity(identity string) Option {
	return func(o *options) { o.identity = identity }
}

// WithIdlePollRate caps how often the worker polls while the queue is
// empty. Defaults to one poll per second.
func WithIdlePollRate(limit rate.Limit) Option {
	return func(o *options) { o.idleRate = limit }
}

// WithHeartbeatInterval makes the activity worker heartbeat running
// executions automatically on the given interval. Zero disables automatic
// heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = d }
}

func newOptions(kind string, opts []Option) options {
	o := options{idleRate: rate.Limit(1)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.identity == "" {
		host, _ := os.Hostname()
		o.identity = fmt.Sprintf("%s-%s-%s", kind, host, uuid.NewString()[:8])
	}
	return o
}

// NewDecisionWorker builds a decision worker over the manager's engine.
func NewDecisionWorker(mgr *flow.Manager, opts ...Option) *DecisionWorker {
	return &DecisionWorker{mgr: mgr, options: newOptions("decider", opts)}
}

// NewActivityWorker builds an activity worker over the manager's engine.
func NewActivityWorker(mgr *flow.Manager, opts ...Option) *ActivityWorker {
	return &ActivityWorker{mgr: mgr, options: newOptions("activity", opts)}
}

// Step polls once and processes at most one decision task. It reports
// whether a task was processed. Decider errors are logged and swallowed; the
// decision lease expires and the broker redispatches.
func (w *DecisionWorker) Step(ctx context.Context) (bool, error) {
	eng := w.mgr.Engine()
	task, err := eng.PollDecisionTask(ctx, engine.PollRequest{Category: w.category, Identity: w.identity})
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	ctx = log.With(ctx, log.KV{K: "process", V: task.Process.ID}, log.KV{K: "workflow", V: task.Process.Workflow})
	def, ok := w.mgr.WorkflowFor(task.Process.Workflow)
	if !ok {
		log.Error(ctx, engine.ErrInvalidInput, log.KV{K: "msg", V: "no decider registered"})
		return true, nil
	}
	result, err := def.Decider.Decide(ctx, task.Process)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "decider failed"})
		return true, nil
	}
	decisions, err := decider.Normalize(result, task.Process)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "invalid decider result"})
		return true, nil
	}
	if err := eng.CompleteDecisionTask(ctx, task, decisions); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "complete decision task"})
		return true, nil
	}
	log.Debug(ctx, log.KV{K: "msg", V: "decision completed"}, log.KV{K: "decisions", V: len(decisions)})
	return true, nil
}

// Run polls until the context is canceled, pacing idle polls with the
// configured rate.
func (w *DecisionWorker) Run(ctx context.Context) error {
	ctx = log.With(ctx, log.KV{K: "worker", V: w.identity})
	log.Info(ctx, log.KV{K: "msg", V: "decision worker started"}, log.KV{K: "category", V: w.category})
	defer log.Info(ctx, log.KV{K: "msg", V: "decision worker stopped"})
	return runLoop(ctx, w.idleRate, w.Step)
}

// Step polls once and processes at most one activity task. It reports
// whether a task was processed.
func (w *ActivityWorker) Step(ctx context.Context) (bool, error) {
	eng := w.mgr.Engine()
	task, err := eng.PollActivityTask(ctx, engine.PollRequest{Category: w.category, Identity: w.identity})
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	ctx = log.With(ctx,
		log.KV{K: "process", V: task.ProcessID},
		log.KV{K: "activity", V: task.Execution.Activity},
		log.KV{K: "execution", V: task.Execution.ID},
	)
	def, ok := w.mgr.ActivityFor(task.Execution.Activity)
	if !ok {
		reason := fmt.Sprintf("activity %q not registered with worker", task.Execution.Activity)
		log.Error(ctx, engine.ErrInvalidInput, log.KV{K: "msg", V: reason})
		if err := eng.CompleteActivityTask(ctx, task, engine.ActivityFailed{Reason: reason}); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "complete activity task"})
		}
		return true, nil
	}

	actx := activity.NewContext(task, eng)
	runCtx := ctx
	if w.heartbeatInterval > 0 {
		var stop context.CancelFunc
		runCtx, stop = activity.Monitor(ctx, actx, w.heartbeatInterval)
		defer stop()
	}

	var result engine.ActivityResult = engine.ActivityCompleted{}
	if def.Activity != nil {
		result = activity.Run(runCtx, def.Activity, actx)
	}
	if def.ManualComplete {
		// Completion happens out of band through CompleteActivityTask.
		log.Debug(ctx, log.KV{K: "msg", V: "activity handed off for manual completion"})
		return true, nil
	}
	if err := eng.CompleteActivityTask(ctx, task, result); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "complete activity task"})
		return true, nil
	}
	log.Debug(ctx, log.KV{K: "msg", V: "activity completed"}, log.KV{K: "result", V: result.Kind()})
	return true, nil
}

// Run polls until the context is canceled, pacing idle polls with the
// configured rate.
func (w *ActivityWorker) Run(ctx context.Context) error {
	ctx = log.With(ctx, log.KV{K: "worker", V: w.identity})
	log.Info(ctx, log.KV{K: "msg", V: "activity worker started"}, log.KV{K: "category", V: w.category})
	defer log.Info(ctx, log.KV{K: "msg", V: "activity worker stopped"})
	return runLoop(ctx, w.idleRate, w.Step)
}

func runLoop(ctx context.Context, idleRate rate.Limit, step func(context.Context) (bool, error)) error {
	limiter := rate.NewLimiter(idleRate, 1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		worked, err := step(ctx)
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "poll failed"})
		}
		if worked {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
}
