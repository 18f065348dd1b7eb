// Package activity defines the contract between the worker loop and user
// activity code: the execution context with its heartbeat hook, a heartbeat
// monitor, and the translation of returns, errors and panics into engine
// results.
package activity

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"goa.design/flow/engine"
)

type (
	// Activity is user activity code. Execute runs a single execution and
	// returns its result value.
	Activity interface {
		Execute(ctx context.Context, actx *Context) (any, error)
	}

	// Func adapts a function to the Activity interface.
	Func func(ctx context.Context, actx *Context) (any, error)

	// Context carries the execution being run and the heartbeat hook bound
	// to its engine lease.
	Context struct {
		// Task is the leased activity task.
		Task *engine.ActivityTask

		heartbeat func(ctx context.Context) error
	}

	// CanceledError reported by Execute turns the execution result into
	// ActivityCanceled instead of ActivityFailed.
	CanceledError struct {
		Details string
	}
)

// Execute calls f.
func (f Func) Execute(ctx context.Context, actx *Context) (any, error) {
	return f(ctx, actx)
}

// NewContext binds a leased task to the engine that issued it.
func NewContext(task *engine.ActivityTask, eng engine.Engine) *Context {
	return &Context{
		Task: task,
		heartbeat: func(ctx context.Context) error {
			return eng.HeartbeatActivityTask(ctx, task)
		},
	}
}

// Execution returns the execution being run.
func (c *Context) Execution() engine.ActivityExecution {
	return c.Task.Execution
}

// Heartbeat renews the execution's heartbeat lease. It fails once the
// broker has reclaimed the lease; long-running activities should stop work
// when that happens.
func (c *Context) Heartbeat(ctx context.Context) error {
	return c.heartbeat(ctx)
}

// Error implements error.
func (e CanceledError) Error() string {
	if e.Details == "" {
		return "activity canceled"
	}
	return "activity canceled: " + e.Details
}

// Monitor heartbeats the execution on the given interval until the returned
// stop function is called or the lease is lost. When the lease is lost the
// returned context is canceled so cooperative activities can abort.
func Monitor(ctx context.Context, c *Context, interval time.Duration) (context.Context, context.CancelFunc) {
	mctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-mctx.Done():
				return
			case <-ticker.C:
				if err := c.Heartbeat(ctx); err != nil {
					cancel()
					return
				}
			}
		}
	}()
	return mctx, cancel
}

// Run executes the activity and translates its outcome into an engine
// result. Panics in user code are captured as failures carrying the stack,
// never propagated to the worker loop.
func Run(ctx context.Context, act Activity, actx *Context) (result engine.ActivityResult) {
	defer func() {
		if r := recover(); r != nil {
			result = engine.ActivityFailed{
				Reason:  fmt.Sprintf("panic: %v", r),
				Details: string(debug.Stack()),
			}
		}
	}()
	value, err := act.Execute(ctx, actx)
	if err != nil {
		var canceled CanceledError
		if errors.As(err, &canceled) {
			return engine.ActivityCanceled{Details: canceled.Details}
		}
		return engine.ActivityFailed{Reason: err.Error()}
	}
	if r, ok := value.(engine.ActivityResult); ok {
		return r
	}
	return engine.ActivityCompleted{Result: value}
}
