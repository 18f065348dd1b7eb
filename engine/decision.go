package engine

import (
	"time"

	"github.com/google/uuid"
)

// DecisionKind identifies the variant of a decision.
type DecisionKind string

const (
	// KindScheduleActivity requests execution of an activity.
	KindScheduleActivity DecisionKind = "schedule_activity"
	// KindCancelActivity withdraws a previously scheduled activity.
	KindCancelActivity DecisionKind = "cancel_activity"
	// KindCompleteProcess terminates the process successfully.
	KindCompleteProcess DecisionKind = "complete_process"
	// KindCancelProcess terminates the process without completing it.
	KindCancelProcess DecisionKind = "cancel_process"
	// KindStartChildProcess starts a new process parented to this one.
	KindStartChildProcess DecisionKind = "start_child_process"
	// KindTimer schedules a future decision.
	KindTimer DecisionKind = "timer"
)

type (
	// Decision is an instruction produced by a decider and applied atomically
	// by CompleteDecisionTask. Concrete types form a closed set; the broker
	// dispatches with an exhaustive type switch and rejects anything else with
	// ErrInvalidDecision.
	Decision interface {
		// Kind returns the decision variant.
		Kind() DecisionKind
	}

	// ScheduleActivity requests execution of the named activity type. ID
	// correlates the execution across history events; the broker assigns a
	// fresh one when left blank. Category overrides the activity type's
	// registered routing category for this execution only.
	ScheduleActivity struct {
		Activity string
		ID       string
		Input    any
		Category string
	}

	// CancelActivity withdraws the scheduled or running activity with the
	// given ID. The broker records an Activity event with a Canceled result
	// for the withdrawn execution.
	CancelActivity struct {
		ID string
	}

	// CompleteProcess ends the process successfully with an optional result.
	CompleteProcess struct {
		Result any
	}

	// CancelProcess ends the process without completing it.
	CancelProcess struct {
		Details string
		Reason  string
	}

	// StartChildProcess starts Process as a child of the deciding process.
	StartChildProcess struct {
		Process *Process
	}

	// Timer schedules a decision that fires after Delay. Data is carried
	// opaquely into the TimerEvent the firing appends.
	Timer struct {
		Delay time.Duration
		Data  any
	}
)

func (d ScheduleActivity) Kind() DecisionKind  { return KindScheduleActivity }
func (d CancelActivity) Kind() DecisionKind    { return KindCancelActivity }
func (d CompleteProcess) Kind() DecisionKind   { return KindCompleteProcess }
func (d CancelProcess) Kind() DecisionKind     { return KindCancelProcess }
func (d StartChildProcess) Kind() DecisionKind { return KindStartChildProcess }
func (d Timer) Kind() DecisionKind             { return KindTimer }

// NewScheduleActivity builds a ScheduleActivity decision with a generated
// execution ID. Deciders that schedule the same activity several times in one
// decision batch must use distinct IDs; generating them here keeps batch
// deduplication from collapsing intentionally repeated schedules.
func NewScheduleActivity(activity string, input any) ScheduleActivity {
	return ScheduleActivity{Activity: activity, ID: uuid.NewString(), Input: input}
}
