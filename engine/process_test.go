package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewProcessSeedsHistory(t *testing.T) {
	p := NewProcess("order", map[string]any{"id": 42}, "urgent")
	require.Empty(t, p.ID)
	require.Equal(t, "order", p.Workflow)
	require.Equal(t, []string{"urgent"}, p.Tags)
	require.Len(t, p.History, 1)
	require.Equal(t, KindProcessStarted, p.History[0].Kind())
}

func TestCloneIsIndependent(t *testing.T) {
	p := NewProcess("order", nil, "a", "b")
	p.ID = "p1"
	cp := p.Clone()
	cp.Tags[0] = "mutated"
	cp.History = append(cp.History, SignalEvent{At: time.Now()})
	require.Equal(t, "a", p.Tags[0])
	require.Len(t, p.History, 1)
	require.Equal(t, "p1", cp.ID)
}

func TestCopyWithID(t *testing.T) {
	p := NewProcess("order", nil)
	p.ID = "p1"
	cp := p.CopyWithID("p2")
	require.Equal(t, "p2", cp.ID)
	require.Equal(t, "p1", p.ID)
}

func TestTerminated(t *testing.T) {
	p := NewProcess("order", nil)
	require.False(t, p.Terminated())

	p.History = append(p.History, DecisionEvent{Decision: ScheduleActivity{Activity: "ship", ID: "1"}})
	require.False(t, p.Terminated())

	done := p.Clone()
	done.History = append(done.History, DecisionEvent{Decision: CompleteProcess{Result: "ok"}})
	require.True(t, done.Terminated())

	canceled := p.Clone()
	canceled.History = append(canceled.History, DecisionEvent{Decision: CancelProcess{Reason: "no stock"}})
	require.True(t, canceled.Terminated())
}

func TestUnseenEventsInitialDispatch(t *testing.T) {
	// First dispatch: everything before the marker is unseen.
	p := NewProcess("order", nil)
	p.History = append(p.History, DecisionStartedEvent{})
	unseen := p.UnseenEvents()
	require.Len(t, unseen, 1)
	require.Equal(t, KindProcessStarted, unseen[0].Kind())
}

func TestUnseenEventsBetweenDispatches(t *testing.T) {
	p := NewProcess("order", nil)
	p.History = append(p.History,
		SignalEvent{Signal: Signal{Name: "first"}},
		DecisionStartedEvent{},
		DecisionEvent{Decision: ScheduleActivity{Activity: "ship", ID: "1"}},
		SignalEvent{Signal: Signal{Name: "second"}},
		DecisionStartedEvent{},
	)
	unseen := p.UnseenEvents()
	require.Len(t, unseen, 2)
	require.Equal(t, KindDecision, unseen[0].Kind())
	require.Equal(t, "second", unseen[1].(SignalEvent).Signal.Name)
}

func TestUnseenEventsEmptyAfterDecisionRecorded(t *testing.T) {
	p := NewProcess("order", nil)
	p.History = append(p.History,
		DecisionStartedEvent{},
		DecisionEvent{Decision: ScheduleActivity{Activity: "ship", ID: "1"}},
	)
	require.Empty(t, p.UnseenEvents())
}

func TestUnseenEventsConsecutiveDispatches(t *testing.T) {
	p := NewProcess("order", nil)
	p.History = append(p.History,
		DecisionStartedEvent{},
		DecisionStartedEvent{},
	)
	require.Empty(t, p.UnseenEvents())
}

func TestUnseenEventsNoDispatch(t *testing.T) {
	p := NewProcess("order", nil)
	p.History = append(p.History, SignalEvent{Signal: Signal{Name: "poke"}})
	unseen := p.UnseenEvents()
	require.Len(t, unseen, 2)
}

func TestUnfinishedActivities(t *testing.T) {
	p := NewProcess("order", nil)
	p.History = append(p.History,
		DecisionEvent{Decision: ScheduleActivity{Activity: "charge", ID: "1", Input: 2}},
		DecisionEvent{Decision: ScheduleActivity{Activity: "ship", ID: "2"}},
		ActivityEvent{
			Execution: ActivityExecution{Activity: "ship", ID: "2"},
			Result:    ActivityCompleted{Result: "shipped"},
		},
	)
	unfinished := p.UnfinishedActivities()
	require.Equal(t, []ActivityExecution{{Activity: "charge", ID: "1", Input: 2}}, unfinished)
}
