package swf

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/swf/types"

	"goa.design/flow/engine"
)

// processFromHistory rebuilds a process from SWF history events. Activity
// executions are correlated through the scheduled event id SWF embeds in
// every later activity event; timers through the timer id. History events
// with no engine counterpart, decision task bookkeeping mostly, are dropped.
func processFromHistory(processID string, events []types.HistoryEvent) (*engine.Process, error) {
	p := &engine.Process{ID: processID}
	scheduled := make(map[int64]engine.ActivityExecution)
	timers := make(map[string]engine.Timer)

	for _, ev := range events {
		at := aws.ToTime(ev.EventTimestamp)
		switch ev.EventType {
		case types.EventTypeWorkflowExecutionStarted:
			attrs := ev.WorkflowExecutionStartedEventAttributes
			input, err := unmarshalOpaque(attrs.Input)
			if err != nil {
				return nil, err
			}
			p.Workflow = aws.ToString(attrs.WorkflowType.Name)
			p.Input = input
			p.Tags = attrs.TagList
			if attrs.ParentWorkflowExecution != nil {
				p.Parent = aws.ToString(attrs.ParentWorkflowExecution.WorkflowId)
			}
			p.History = append(p.History, engine.ProcessStartedEvent{At: at})

		case types.EventTypeDecisionTaskStarted:
			p.History = append(p.History, engine.DecisionStartedEvent{At: at})

		case types.EventTypeActivityTaskScheduled:
			attrs := ev.ActivityTaskScheduledEventAttributes
			input, err := unmarshalOpaque(attrs.Input)
			if err != nil {
				return nil, err
			}
			exec := engine.ActivityExecution{
				Activity: aws.ToString(attrs.ActivityType.Name),
				ID:       aws.ToString(attrs.ActivityId),
				Input:    input,
			}
			scheduled[ev.EventId] = exec
			decision := engine.ScheduleActivity{Activity: exec.Activity, ID: exec.ID, Input: exec.Input}
			if attrs.TaskList != nil {
				decision.Category = aws.ToString(attrs.TaskList.Name)
			}
			p.History = append(p.History, engine.DecisionEvent{At: at, Decision: decision})

		case types.EventTypeActivityTaskStarted:
			exec := scheduled[ev.ActivityTaskStartedEventAttributes.ScheduledEventId]
			p.History = append(p.History, engine.ActivityStartedEvent{At: at, Execution: exec})

		case types.EventTypeActivityTaskCompleted:
			attrs := ev.ActivityTaskCompletedEventAttributes
			result, err := unmarshalOpaque(attrs.Result)
			if err != nil {
				return nil, err
			}
			p.History = append(p.History, engine.ActivityEvent{
				At:        at,
				Execution: scheduled[attrs.ScheduledEventId],
				Result:    engine.ActivityCompleted{Result: result},
			})

		case types.EventTypeActivityTaskFailed:
			attrs := ev.ActivityTaskFailedEventAttributes
			p.History = append(p.History, engine.ActivityEvent{
				At:        at,
				Execution: scheduled[attrs.ScheduledEventId],
				Result:    engine.ActivityFailed{Reason: aws.ToString(attrs.Reason), Details: aws.ToString(attrs.Details)},
			})

		case types.EventTypeActivityTaskTimedOut:
			attrs := ev.ActivityTaskTimedOutEventAttributes
			p.History = append(p.History, engine.ActivityEvent{
				At:        at,
				Execution: scheduled[attrs.ScheduledEventId],
				Result:    engine.ActivityTimedOut{Details: string(attrs.TimeoutType)},
			})

		case types.EventTypeActivityTaskCanceled:
			attrs := ev.ActivityTaskCanceledEventAttributes
			p.History = append(p.History, engine.ActivityEvent{
				At:        at,
				Execution: scheduled[attrs.ScheduledEventId],
				Result:    engine.ActivityCanceled{Details: aws.ToString(attrs.Details)},
			})

		case types.EventTypeWorkflowExecutionSignaled:
			attrs := ev.WorkflowExecutionSignaledEventAttributes
			data, err := unmarshalOpaque(attrs.Input)
			if err != nil {
				return nil, err
			}
			p.History = append(p.History, engine.SignalEvent{
				At:     at,
				Signal: engine.Signal{Name: aws.ToString(attrs.SignalName), Data: data},
			})

		case types.EventTypeTimerStarted:
			attrs := ev.TimerStartedEventAttributes
			delay, err := strconv.ParseInt(aws.ToString(attrs.StartToFireTimeout), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("timer %q: %w", aws.ToString(attrs.TimerId), err)
			}
			data, err := unmarshalOpaque(attrs.Control)
			if err != nil {
				return nil, err
			}
			timer := engine.Timer{Delay: time.Duration(delay) * time.Second, Data: data}
			timers[aws.ToString(attrs.TimerId)] = timer
			p.History = append(p.History, engine.DecisionEvent{At: at, Decision: timer})

		case types.EventTypeTimerFired:
			attrs := ev.TimerFiredEventAttributes
			p.History = append(p.History, engine.TimerEvent{At: at, Timer: timers[aws.ToString(attrs.TimerId)]})

		case types.EventTypeStartChildWorkflowExecutionInitiated:
			attrs := ev.StartChildWorkflowExecutionInitiatedEventAttributes
			input, err := unmarshalOpaque(attrs.Input)
			if err != nil {
				return nil, err
			}
			child := &engine.Process{
				ID:       aws.ToString(attrs.WorkflowId),
				Workflow: aws.ToString(attrs.WorkflowType.Name),
				Input:    input,
				Tags:     attrs.TagList,
				Parent:   processID,
			}
			p.History = append(p.History, engine.DecisionEvent{At: at, Decision: engine.StartChildProcess{Process: child}})

		case types.EventTypeChildWorkflowExecutionCompleted:
			attrs := ev.ChildWorkflowExecutionCompletedEventAttributes
			result, err := unmarshalOpaque(attrs.Result)
			if err != nil {
				return nil, err
			}
			p.History = append(p.History, childEvent(at, attrs.WorkflowExecution, attrs.WorkflowType, engine.ProcessCompleted{Result: result}))

		case types.EventTypeChildWorkflowExecutionCanceled:
			attrs := ev.ChildWorkflowExecutionCanceledEventAttributes
			p.History = append(p.History, childEvent(at, attrs.WorkflowExecution, attrs.WorkflowType, engine.ProcessCanceled{Details: aws.ToString(attrs.Details)}))

		case types.EventTypeChildWorkflowExecutionFailed:
			attrs := ev.ChildWorkflowExecutionFailedEventAttributes
			p.History = append(p.History, childEvent(at, attrs.WorkflowExecution, attrs.WorkflowType, engine.ProcessFailed{
				Reason:  aws.ToString(attrs.Reason),
				Details: aws.ToString(attrs.Details),
			}))

		case types.EventTypeChildWorkflowExecutionTimedOut:
			attrs := ev.ChildWorkflowExecutionTimedOutEventAttributes
			p.History = append(p.History, childEvent(at, attrs.WorkflowExecution, attrs.WorkflowType, engine.ProcessTimedOut{
				Details: string(attrs.TimeoutType),
			}))

		case types.EventTypeWorkflowExecutionCompleted:
			attrs := ev.WorkflowExecutionCompletedEventAttributes
			result, err := unmarshalOpaque(attrs.Result)
			if err != nil {
				return nil, err
			}
			p.History = append(p.History, engine.DecisionEvent{At: at, Decision: engine.CompleteProcess{Result: result}})

		case types.EventTypeWorkflowExecutionCanceled:
			attrs := ev.WorkflowExecutionCanceledEventAttributes
			p.History = append(p.History, engine.DecisionEvent{At: at, Decision: engine.CancelProcess{Details: aws.ToString(attrs.Details)}})
		}
	}
	return p, nil
}

func childEvent(at time.Time, exec *types.WorkflowExecution, wt *types.WorkflowType, result engine.ProcessResult) engine.ChildProcessEvent {
	ev := engine.ChildProcessEvent{At: at, Result: result}
	if exec != nil {
		ev.ProcessID = aws.ToString(exec.WorkflowId)
	}
	if wt != nil {
		ev.Workflow = aws.ToString(wt.Name)
	}
	return ev
}

func marshalOpaque(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return aws.String(string(data)), nil
}

func unmarshalOpaque(s *string) (any, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(*s), &v); err != nil {
		return nil, err
	}
	return v, nil
}
