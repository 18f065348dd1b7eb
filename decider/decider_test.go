package decider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/flow/engine"
)

func TestNormalizeShapes(t *testing.T) {
	p := engine.NewProcess("order", map[string]any{"id": 1})

	ds, err := Normalize(nil, p)
	require.NoError(t, err)
	require.Empty(t, ds)

	ds, err = Normalize(engine.CompleteProcess{Result: "ok"}, p)
	require.NoError(t, err)
	require.Equal(t, []engine.Decision{engine.CompleteProcess{Result: "ok"}}, ds)

	// A bare activity name schedules it with the process input.
	ds, err = Normalize("charge", p)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	sa := ds[0].(engine.ScheduleActivity)
	require.Equal(t, "charge", sa.Activity)
	require.Equal(t, p.Input, sa.Input)
	require.NotEmpty(t, sa.ID)

	// Nested slices flatten in order.
	ds, err = Normalize([]any{
		"charge",
		[]engine.Decision{engine.Timer{Delay: 0}},
		engine.CompleteProcess{},
	}, p)
	require.NoError(t, err)
	require.Len(t, ds, 3)
	require.Equal(t, engine.KindScheduleActivity, ds[0].Kind())
	require.Equal(t, engine.KindTimer, ds[1].Kind())
	require.Equal(t, engine.KindCompleteProcess, ds[2].Kind())
}

func TestNormalizeDedupsPreservingOrder(t *testing.T) {
	p := engine.NewProcess("order", nil)
	ds, err := Normalize([]any{
		engine.CompleteProcess{Result: "ok"},
		engine.CancelActivity{ID: "1"},
		engine.CompleteProcess{Result: "ok"},
	}, p)
	require.NoError(t, err)
	require.Equal(t, []engine.Decision{
		engine.CompleteProcess{Result: "ok"},
		engine.CancelActivity{ID: "1"},
	}, ds)
}

func TestNormalizeRejectsUnknownShape(t *testing.T) {
	_, err := Normalize(42, engine.NewProcess("order", nil))
	require.ErrorIs(t, err, engine.ErrInvalidDecision)
}

func TestRuleSet(t *testing.T) {
	rs := NewRuleSet(
		Rule{
			Name:  "start shipping",
			Match: OnProcessStarted(),
			Handle: func(_ context.Context, p *engine.Process, _ engine.Event) (any, error) {
				return "ship", nil
			},
		},
		Rule{
			Name:  "retry interrupted shipment",
			Match: OnInterruptedActivity("ship"),
			Handle: func(_ context.Context, p *engine.Process, _ engine.Event) (any, error) {
				return "ship", nil
			},
		},
		Rule{
			Name:  "finish after shipping",
			Match: OnCompletedActivity("ship"),
			Handle: func(_ context.Context, _ *engine.Process, ev engine.Event) (any, error) {
				res := ev.(engine.ActivityEvent).Result.(engine.ActivityCompleted)
				return engine.CompleteProcess{Result: res.Result}, nil
			},
		},
	)

	ctx := context.Background()

	// Fresh process: only the start rule fires.
	p := engine.NewProcess("order", map[string]any{"id": 1})
	p.History = append(p.History, engine.DecisionStartedEvent{})
	res, err := rs.Decide(ctx, p)
	require.NoError(t, err)
	ds, err := Normalize(res, p)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	require.Equal(t, "ship", ds[0].(engine.ScheduleActivity).Activity)

	// Interrupted shipment: the retry rule fires.
	p.History = append(p.History,
		engine.DecisionEvent{Decision: engine.ScheduleActivity{Activity: "ship", ID: "1"}},
		engine.ActivityEvent{
			Execution: engine.ActivityExecution{Activity: "ship", ID: "1"},
			Result:    engine.ActivityTimedOut{},
		},
		engine.DecisionStartedEvent{},
	)
	res, err = rs.Decide(ctx, p)
	require.NoError(t, err)
	ds, err = Normalize(res, p)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	require.Equal(t, "ship", ds[0].(engine.ScheduleActivity).Activity)

	// Completed shipment: the finish rule fires.
	p.History = append(p.History,
		engine.DecisionEvent{Decision: engine.ScheduleActivity{Activity: "ship", ID: "2"}},
		engine.ActivityEvent{
			Execution: engine.ActivityExecution{Activity: "ship", ID: "2"},
			Result:    engine.ActivityCompleted{Result: "delivered"},
		},
		engine.DecisionStartedEvent{},
	)
	res, err = rs.Decide(ctx, p)
	require.NoError(t, err)
	ds, err = Normalize(res, p)
	require.NoError(t, err)
	require.Equal(t, []engine.Decision{engine.CompleteProcess{Result: "delivered"}}, ds)
}

func TestOnTimerMatchesTimerFirings(t *testing.T) {
	match := OnTimer()
	require.True(t, match(engine.TimerEvent{Timer: engine.Timer{Data: "wake"}}))
	require.False(t, match(engine.SignalEvent{Signal: engine.Signal{Name: "wake"}}))
	require.False(t, match(engine.DecisionEvent{Decision: engine.Timer{Delay: time.Minute}}))
}

func TestHandlersRouting(t *testing.T) {
	h := Handlers{
		ProcessStarted: func(_ context.Context, p *engine.Process, _ engine.ProcessStartedEvent) (any, error) {
			return "work", nil
		},
		Signal: func(_ context.Context, _ *engine.Process, ev engine.SignalEvent) (any, error) {
			return engine.CancelProcess{Reason: ev.Signal.Name}, nil
		},
	}

	ctx := context.Background()
	p := engine.NewProcess("order", nil)
	p.History = append(p.History,
		engine.SignalEvent{Signal: engine.Signal{Name: "abort"}},
		engine.DecisionStartedEvent{},
	)
	res, err := h.Decide(ctx, p)
	require.NoError(t, err)
	ds, err := Normalize(res, p)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	require.Equal(t, engine.KindScheduleActivity, ds[0].Kind())
	require.Equal(t, engine.CancelProcess{Reason: "abort"}, ds[1])
}
