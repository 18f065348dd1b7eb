package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventRoundTripNestedChildProcess(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	child := &Process{
		ID:       "child-1",
		Workflow: "fulfillment",
		Input:    map[string]any{"order": "o-7"},
		Tags:     []string{"urgent"},
		Parent:   "parent-1",
		History:  []Event{ProcessStartedEvent{At: at}},
	}
	ev := DecisionEvent{At: at, Decision: StartChildProcess{Process: child}}

	data, err := MarshalEvent(ev)
	require.NoError(t, err)

	decoded, err := UnmarshalEvent(data)
	require.NoError(t, err)
	de, ok := decoded.(DecisionEvent)
	require.True(t, ok)
	sc, ok := de.Decision.(StartChildProcess)
	require.True(t, ok)
	require.Equal(t, "child-1", sc.Process.ID)
	require.Equal(t, "parent-1", sc.Process.Parent)
	require.Equal(t, map[string]any{"order": "o-7"}, sc.Process.Input)
	require.Len(t, sc.Process.History, 1)
	require.True(t, at.Equal(sc.Process.History[0].Timestamp()))
}

func TestEventRoundTripActivityResult(t *testing.T) {
	ev := ActivityEvent{
		At:        time.Now().UTC().Truncate(time.Millisecond),
		Execution: ActivityExecution{Activity: "charge", ID: "1", Input: 2},
		Result:    ActivityFailed{Reason: "card declined", Details: "code 402"},
	}
	data, err := MarshalEvent(ev)
	require.NoError(t, err)

	decoded, err := UnmarshalEvent(data)
	require.NoError(t, err)
	ae := decoded.(ActivityEvent)
	// Opaque values come back as decoded JSON.
	require.Equal(t, float64(2), ae.Execution.Input)
	require.Equal(t, ActivityFailed{Reason: "card declined", Details: "code 402"}, ae.Result)
}

func TestEventRoundTripTimer(t *testing.T) {
	ev := TimerEvent{At: time.Now().UTC(), Timer: Timer{Delay: 90 * time.Second, Data: "reminder"}}
	data, err := MarshalEvent(ev)
	require.NoError(t, err)

	decoded, err := UnmarshalEvent(data)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, decoded.(TimerEvent).Timer.Delay)
	require.Equal(t, "reminder", decoded.(TimerEvent).Timer.Data)
}

func TestUnmarshalEventRejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{"kind":"bogus","at":"2026-03-14T09:26:53Z"}`))
	require.ErrorContains(t, err, "unknown kind")
}

func TestProcessRoundTrip(t *testing.T) {
	p := NewProcess("order", map[string]any{"total": "12.50"}, "batch")
	p.ID = "p-1"
	p.History = append(p.History,
		DecisionStartedEvent{At: time.Now().UTC()},
		DecisionEvent{At: time.Now().UTC(), Decision: ScheduleActivity{Activity: "charge", ID: "1", Category: "billing"}},
		SignalEvent{At: time.Now().UTC(), Signal: Signal{Name: "poke", Data: []any{"a", "b"}}},
	)

	data, err := MarshalProcess(p)
	require.NoError(t, err)

	decoded, err := UnmarshalProcess(data)
	require.NoError(t, err)
	require.Equal(t, p.ID, decoded.ID)
	require.Equal(t, p.Workflow, decoded.Workflow)
	require.Equal(t, p.Tags, decoded.Tags)
	require.Len(t, decoded.History, len(p.History))
	sa := decoded.History[2].(DecisionEvent).Decision.(ScheduleActivity)
	require.Equal(t, "billing", sa.Category)
	require.Equal(t, []any{"a", "b"}, decoded.History[3].(SignalEvent).Signal.Data)
}
