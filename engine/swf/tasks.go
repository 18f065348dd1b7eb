package swf

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/swf"
	"github.com/aws/aws-sdk-go-v2/service/swf/types"
	"github.com/google/uuid"

	"goa.design/flow/engine"
)

// PollDecisionTask polls the category's decision task list. SWF long-polls
// and returns an empty token when nothing was scheduled before the poll
// expired; that surfaces as a nil task.
func (e *Engine) PollDecisionTask(ctx context.Context, req engine.PollRequest) (*engine.DecisionTask, error) {
	category := req.Category
	if category == "" {
		category = e.cfg.DecisionCategory
	}
	in := &swf.PollForDecisionTaskInput{
		Domain:   aws.String(e.domain),
		TaskList: &types.TaskList{Name: aws.String(category)},
	}
	if req.Identity != "" {
		in.Identity = aws.String(req.Identity)
	}
	var (
		first  *swf.PollForDecisionTaskOutput
		events []types.HistoryEvent
	)
	for {
		out, err := e.api.PollForDecisionTask(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("poll decision task: %w", err)
		}
		if aws.ToString(out.TaskToken) == "" {
			return nil, nil
		}
		if first == nil {
			first = out
		}
		events = append(events, out.Events...)
		if out.NextPageToken == nil {
			break
		}
		in.NextPageToken = out.NextPageToken
	}
	proc, err := processFromHistory(aws.ToString(first.WorkflowExecution.WorkflowId), events)
	if err != nil {
		return nil, err
	}
	return &engine.DecisionTask{
		Process: proc,
		Context: map[string]string{
			engine.ContextRunID: aws.ToString(first.WorkflowExecution.RunId),
			ContextTaskToken:    aws.ToString(first.TaskToken),
		},
	}, nil
}

// PollActivityTask polls the category's activity task list.
func (e *Engine) PollActivityTask(ctx context.Context, req engine.PollRequest) (*engine.ActivityTask, error) {
	category := req.Category
	if category == "" {
		category = e.cfg.ActivityCategory
	}
	in := &swf.PollForActivityTaskInput{
		Domain:   aws.String(e.domain),
		TaskList: &types.TaskList{Name: aws.String(category)},
	}
	if req.Identity != "" {
		in.Identity = aws.String(req.Identity)
	}
	out, err := e.api.PollForActivityTask(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("poll activity task: %w", err)
	}
	if aws.ToString(out.TaskToken) == "" {
		return nil, nil
	}
	input, err := unmarshalOpaque(out.Input)
	if err != nil {
		return nil, err
	}
	return &engine.ActivityTask{
		Execution: engine.ActivityExecution{
			Activity: aws.ToString(out.ActivityType.Name),
			ID:       aws.ToString(out.ActivityId),
			Input:    input,
		},
		ProcessID: aws.ToString(out.WorkflowExecution.WorkflowId),
		Context: map[string]string{
			engine.ContextRunID: aws.ToString(out.WorkflowExecution.RunId),
			ContextTaskToken:    aws.ToString(out.TaskToken),
		},
	}, nil
}

// HeartbeatActivityTask records a heartbeat against the task token.
func (e *Engine) HeartbeatActivityTask(ctx context.Context, task *engine.ActivityTask) error {
	_, err := e.api.RecordActivityTaskHeartbeat(ctx, &swf.RecordActivityTaskHeartbeatInput{
		TaskToken: aws.String(task.Context[ContextTaskToken]),
	})
	if err != nil {
		if isFault(err, "UnknownResourceFault") {
			return fmt.Errorf("heartbeat activity %q: %w", task.Execution.ID, engine.ErrUnknownActivity)
		}
		return fmt.Errorf("heartbeat activity %q: %w", task.Execution.ID, err)
	}
	return nil
}

// CompleteDecisionTask responds with the translated decision list.
func (e *Engine) CompleteDecisionTask(ctx context.Context, task *engine.DecisionTask, decisions []engine.Decision) error {
	translated := make([]types.Decision, 0, len(decisions))
	for _, d := range decisions {
		td, err := translateDecision(d)
		if err != nil {
			return err
		}
		translated = append(translated, td)
	}
	_, err := e.api.RespondDecisionTaskCompleted(ctx, &swf.RespondDecisionTaskCompletedInput{
		TaskToken: aws.String(task.Context[ContextTaskToken]),
		Decisions: translated,
	})
	if err != nil {
		if isFault(err, "UnknownResourceFault") {
			return fmt.Errorf("complete decision: %w", engine.ErrUnknownDecision)
		}
		return fmt.Errorf("complete decision: %w", err)
	}
	return nil
}

// CompleteActivityTask responds with the matching activity response.
func (e *Engine) CompleteActivityTask(ctx context.Context, task *engine.ActivityTask, result engine.ActivityResult) error {
	token := aws.String(task.Context[ContextTaskToken])
	var err error
	switch r := result.(type) {
	case engine.ActivityCompleted:
		var out *string
		if out, err = marshalOpaque(r.Result); err != nil {
			return err
		}
		_, err = e.api.RespondActivityTaskCompleted(ctx, &swf.RespondActivityTaskCompletedInput{
			TaskToken: token,
			Result:    out,
		})
	case engine.ActivityCanceled:
		in := &swf.RespondActivityTaskCanceledInput{TaskToken: token}
		if r.Details != "" {
			in.Details = aws.String(r.Details)
		}
		_, err = e.api.RespondActivityTaskCanceled(ctx, in)
	case engine.ActivityFailed:
		in := &swf.RespondActivityTaskFailedInput{TaskToken: token}
		if r.Reason != "" {
			in.Reason = aws.String(r.Reason)
		}
		if r.Details != "" {
			in.Details = aws.String(r.Details)
		}
		_, err = e.api.RespondActivityTaskFailed(ctx, in)
	default:
		return fmt.Errorf("complete activity %q: result kind %q: %w", task.Execution.ID, result.Kind(), engine.ErrInvalidInput)
	}
	if err != nil {
		if isFault(err, "UnknownResourceFault") {
			return fmt.Errorf("complete activity %q: %w", task.Execution.ID, engine.ErrUnknownActivity)
		}
		return fmt.Errorf("complete activity %q: %w", task.Execution.ID, err)
	}
	return nil
}

func translateDecision(d engine.Decision) (types.Decision, error) {
	switch d := d.(type) {
	case engine.ScheduleActivity:
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		input, err := marshalOpaque(d.Input)
		if err != nil {
			return types.Decision{}, err
		}
		attrs := &types.ScheduleActivityTaskDecisionAttributes{
			ActivityId:   aws.String(id),
			ActivityType: &types.ActivityType{Name: aws.String(d.Activity), Version: aws.String(defaultVersion)},
			Input:        input,
		}
		if d.Category != "" {
			attrs.TaskList = &types.TaskList{Name: aws.String(d.Category)}
		}
		return types.Decision{
			DecisionType:                           types.DecisionTypeScheduleActivityTask,
			ScheduleActivityTaskDecisionAttributes: attrs,
		}, nil
	case engine.CancelActivity:
		return types.Decision{
			DecisionType: types.DecisionTypeRequestCancelActivityTask,
			RequestCancelActivityTaskDecisionAttributes: &types.RequestCancelActivityTaskDecisionAttributes{
				ActivityId: aws.String(d.ID),
			},
		}, nil
	case engine.CompleteProcess:
		result, err := marshalOpaque(d.Result)
		if err != nil {
			return types.Decision{}, err
		}
		return types.Decision{
			DecisionType: types.DecisionTypeCompleteWorkflowExecution,
			CompleteWorkflowExecutionDecisionAttributes: &types.CompleteWorkflowExecutionDecisionAttributes{
				Result: result,
			},
		}, nil
	case engine.CancelProcess:
		attrs := &types.CancelWorkflowExecutionDecisionAttributes{}
		if d.Details != "" {
			attrs.Details = aws.String(d.Details)
		}
		return types.Decision{
			DecisionType: types.DecisionTypeCancelWorkflowExecution,
			CancelWorkflowExecutionDecisionAttributes: attrs,
		}, nil
	case engine.StartChildProcess:
		child := d.Process
		if len(child.Tags) > maxTags {
			return types.Decision{}, fmt.Errorf("start child process: at most %d tags: %w", maxTags, engine.ErrInvalidInput)
		}
		id := child.ID
		if id == "" {
			id = uuid.NewString()
		}
		input, err := marshalOpaque(child.Input)
		if err != nil {
			return types.Decision{}, err
		}
		return types.Decision{
			DecisionType: types.DecisionTypeStartChildWorkflowExecution,
			StartChildWorkflowExecutionDecisionAttributes: &types.StartChildWorkflowExecutionDecisionAttributes{
				WorkflowId:   aws.String(id),
				WorkflowType: &types.WorkflowType{Name: aws.String(child.Workflow), Version: aws.String(defaultVersion)},
				Input:        input,
				TagList:      child.Tags,
				ChildPolicy:  types.ChildPolicyAbandon,
			},
		}, nil
	case engine.Timer:
		control, err := marshalOpaque(d.Data)
		if err != nil {
			return types.Decision{}, err
		}
		return types.Decision{
			DecisionType: types.DecisionTypeStartTimer,
			StartTimerDecisionAttributes: &types.StartTimerDecisionAttributes{
				TimerId:            aws.String(uuid.NewString()),
				StartToFireTimeout: aws.String(seconds(d.Delay)),
				Control:            control,
			},
		}, nil
	}
	return types.Decision{}, fmt.Errorf("decision kind %q: %w", d.Kind(), engine.ErrInvalidDecision)
}
