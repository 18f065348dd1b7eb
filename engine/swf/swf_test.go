package swf

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/swf"
	"github.com/aws/aws-sdk-go-v2/service/swf/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"goa.design/flow/engine"
)

// fakeAPI scripts SWF responses per method and records the inputs the
// adapter sends. Unset methods return empty outputs.
type fakeAPI struct {
	describeWorkflowErr error
	describeActivityErr error

	registeredWorkflow *swf.RegisterWorkflowTypeInput
	registeredActivity *swf.RegisterActivityTypeInput
	started            *swf.StartWorkflowExecutionInput
	signaled           *swf.SignalWorkflowExecutionInput
	terminated         *swf.TerminateWorkflowExecutionInput
	responded          *swf.RespondDecisionTaskCompletedInput
	activityCompleted  *swf.RespondActivityTaskCompletedInput
	activityCanceled   *swf.RespondActivityTaskCanceledInput
	activityFailed     *swf.RespondActivityTaskFailedInput

	startErr           error
	signalErr          error
	respondActivityErr error
	listPages          []*swf.ListOpenWorkflowExecutionsOutput
	listCalls          int
	decisionPoll       *swf.PollForDecisionTaskOutput
	activityPoll       *swf.PollForActivityTaskOutput
	history            *swf.GetWorkflowExecutionHistoryOutput
	heartbeatErr       error
}

func fault(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func (f *fakeAPI) DescribeWorkflowType(_ context.Context, _ *swf.DescribeWorkflowTypeInput, _ ...func(*swf.Options)) (*swf.DescribeWorkflowTypeOutput, error) {
	if f.describeWorkflowErr != nil {
		return nil, f.describeWorkflowErr
	}
	return &swf.DescribeWorkflowTypeOutput{}, nil
}

func (f *fakeAPI) RegisterWorkflowType(_ context.Context, in *swf.RegisterWorkflowTypeInput, _ ...func(*swf.Options)) (*swf.RegisterWorkflowTypeOutput, error) {
	f.registeredWorkflow = in
	return &swf.RegisterWorkflowTypeOutput{}, nil
}

func (f *fakeAPI) DescribeActivityType(_ context.Context, _ *swf.DescribeActivityTypeInput, _ ...func(*swf.Options)) (*swf.DescribeActivityTypeOutput, error) {
	if f.describeActivityErr != nil {
		return nil, f.describeActivityErr
	}
	return &swf.DescribeActivityTypeOutput{}, nil
}

func (f *fakeAPI) RegisterActivityType(_ context.Context, in *swf.RegisterActivityTypeInput, _ ...func(*swf.Options)) (*swf.RegisterActivityTypeOutput, error) {
	f.registeredActivity = in
	return &swf.RegisterActivityTypeOutput{}, nil
}

func (f *fakeAPI) StartWorkflowExecution(_ context.Context, in *swf.StartWorkflowExecutionInput, _ ...func(*swf.Options)) (*swf.StartWorkflowExecutionOutput, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = in
	return &swf.StartWorkflowExecutionOutput{RunId: aws.String("run-1")}, nil
}

func (f *fakeAPI) SignalWorkflowExecution(_ context.Context, in *swf.SignalWorkflowExecutionInput, _ ...func(*swf.Options)) (*swf.SignalWorkflowExecutionOutput, error) {
	if f.signalErr != nil {
		return nil, f.signalErr
	}
	f.signaled = in
	return &swf.SignalWorkflowExecutionOutput{}, nil
}

func (f *fakeAPI) TerminateWorkflowExecution(_ context.Context, in *swf.TerminateWorkflowExecutionInput, _ ...func(*swf.Options)) (*swf.TerminateWorkflowExecutionOutput, error) {
	f.terminated = in
	return &swf.TerminateWorkflowExecutionOutput{}, nil
}

func (f *fakeAPI) ListOpenWorkflowExecutions(_ context.Context, _ *swf.ListOpenWorkflowExecutionsInput, _ ...func(*swf.Options)) (*swf.ListOpenWorkflowExecutionsOutput, error) {
	if f.listCalls >= len(f.listPages) {
		return &swf.ListOpenWorkflowExecutionsOutput{}, nil
	}
	out := f.listPages[f.listCalls]
	f.listCalls++
	return out, nil
}

func (f *fakeAPI) GetWorkflowExecutionHistory(_ context.Context, _ *swf.GetWorkflowExecutionHistoryInput, _ ...func(*swf.Options)) (*swf.GetWorkflowExecutionHistoryOutput, error) {
	if f.history == nil {
		return &swf.GetWorkflowExecutionHistoryOutput{}, nil
	}
	return f.history, nil
}

func (f *fakeAPI) PollForDecisionTask(_ context.Context, _ *swf.PollForDecisionTaskInput, _ ...func(*swf.Options)) (*swf.PollForDecisionTaskOutput, error) {
	if f.decisionPoll == nil {
		return &swf.PollForDecisionTaskOutput{}, nil
	}
	return f.decisionPoll, nil
}

func (f *fakeAPI) PollForActivityTask(_ context.Context, _ *swf.PollForActivityTaskInput, _ ...func(*swf.Options)) (*swf.PollForActivityTaskOutput, error) {
	if f.activityPoll == nil {
		return &swf.PollForActivityTaskOutput{}, nil
	}
	return f.activityPoll, nil
}

func (f *fakeAPI) RecordActivityTaskHeartbeat(_ context.Context, _ *swf.RecordActivityTaskHeartbeatInput, _ ...func(*swf.Options)) (*swf.RecordActivityTaskHeartbeatOutput, error) {
	if f.heartbeatErr != nil {
		return nil, f.heartbeatErr
	}
	return &swf.RecordActivityTaskHeartbeatOutput{}, nil
}

func (f *fakeAPI) RespondDecisionTaskCompleted(_ context.Context, in *swf.RespondDecisionTaskCompletedInput, _ ...func(*swf.Options)) (*swf.RespondDecisionTaskCompletedOutput, error) {
	f.responded = in
	return &swf.RespondDecisionTaskCompletedOutput{}, nil
}

func (f *fakeAPI) RespondActivityTaskCompleted(_ context.Context, in *swf.RespondActivityTaskCompletedInput, _ ...func(*swf.Options)) (*swf.RespondActivityTaskCompletedOutput, error) {
	if f.respondActivityErr != nil {
		return nil, f.respondActivityErr
	}
	f.activityCompleted = in
	return &swf.RespondActivityTaskCompletedOutput{}, nil
}

func (f *fakeAPI) RespondActivityTaskCanceled(_ context.Context, in *swf.RespondActivityTaskCanceledInput, _ ...func(*swf.Options)) (*swf.RespondActivityTaskCanceledOutput, error) {
	f.activityCanceled = in
	return &swf.RespondActivityTaskCanceledOutput{}, nil
}

func (f *fakeAPI) RespondActivityTaskFailed(_ context.Context, in *swf.RespondActivityTaskFailedInput, _ ...func(*swf.Options)) (*swf.RespondActivityTaskFailedOutput, error) {
	f.activityFailed = in
	return &swf.RespondActivityTaskFailedOutput{}, nil
}

func newTestEngine(t *testing.T, api API) *Engine {
	t.Helper()
	e, err := New(Options{Client: api, Domain: "test"})
	require.NoError(t, err)
	return e
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{Domain: "test"})
	require.Error(t, err)
	_, err = New(Options{Client: &fakeAPI{}})
	require.Error(t, err)
}

func TestRegisterWorkflowDescribeThenRegister(t *testing.T) {
	ctx := context.Background()

	// Already registered: no register call.
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	require.NoError(t, e.RegisterWorkflow(ctx, "foo", engine.WorkflowOptions{}))
	require.Nil(t, api.registeredWorkflow)

	// Unknown type: registered with defaults applied.
	api = &fakeAPI{describeWorkflowErr: fault("UnknownResourceFault")}
	e = newTestEngine(t, api)
	require.NoError(t, e.RegisterWorkflow(ctx, "foo", engine.WorkflowOptions{DecisionTimeout: 30 * time.Second}))
	reg := api.registeredWorkflow
	require.NotNil(t, reg)
	require.Equal(t, "foo", aws.ToString(reg.Name))
	require.Equal(t, "decisions", aws.ToString(reg.DefaultTaskList.Name))
	require.Equal(t, "30", aws.ToString(reg.DefaultTaskStartToCloseTimeout))
	require.Equal(t, types.ChildPolicyAbandon, reg.DefaultChildPolicy)
}

func TestRegisterActivityTaskList(t *testing.T) {
	api := &fakeAPI{describeActivityErr: fault("UnknownResourceFault")}
	e := newTestEngine(t, api)
	require.NoError(t, e.RegisterActivity(context.Background(), "charge", engine.ActivityOptions{
		Category:         "payments",
		HeartbeatTimeout: time.Minute,
	}))
	reg := api.registeredActivity
	require.NotNil(t, reg)
	require.Equal(t, "payments", aws.ToString(reg.DefaultTaskList.Name))
	require.Equal(t, "60", aws.ToString(reg.DefaultTaskHeartbeatTimeout))
}

func TestStartProcessTagLimit(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	proc := engine.NewProcess("foo", nil)
	proc.Tags = []string{"1", "2", "3", "4", "5", "6"}
	err := e.StartProcess(context.Background(), proc)
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	require.Nil(t, api.started)
}

func TestStartProcessAssignsID(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	proc := engine.NewProcess("foo", map[string]any{"n": 1})
	proc.ID = ""
	require.NoError(t, e.StartProcess(context.Background(), proc))
	require.NotEmpty(t, proc.ID)
	require.Equal(t, proc.ID, aws.ToString(api.started.WorkflowId))
	require.JSONEq(t, `{"n":1}`, aws.ToString(api.started.Input))
}

func TestSignalUnknownProcess(t *testing.T) {
	api := &fakeAPI{signalErr: fault("UnknownResourceFault")}
	e := newTestEngine(t, api)
	err := e.SignalProcess(context.Background(), "nope", engine.Signal{Name: "poke"})
	require.ErrorIs(t, err, engine.ErrUnknownProcess)
}

func TestProcessesFilterRestriction(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{})
	for _, err := range e.Processes(context.Background(), engine.ProcessFilter{Workflow: "foo", Tag: "bar"}) {
		require.ErrorIs(t, err, engine.ErrInvalidInput)
		return
	}
	t.Fatal("expected an error from the sequence")
}

func TestProcessesPagination(t *testing.T) {
	info := func(id string) types.WorkflowExecutionInfo {
		return types.WorkflowExecutionInfo{
			Execution:    &types.WorkflowExecution{WorkflowId: aws.String(id), RunId: aws.String("r-" + id)},
			WorkflowType: &types.WorkflowType{Name: aws.String("foo"), Version: aws.String("1.0")},
			TagList:      []string{"batch"},
		}
	}
	api := &fakeAPI{listPages: []*swf.ListOpenWorkflowExecutionsOutput{
		{ExecutionInfos: []types.WorkflowExecutionInfo{info("p1")}, NextPageToken: aws.String("next")},
		{ExecutionInfos: []types.WorkflowExecutionInfo{info("p2")}},
	}}
	e := newTestEngine(t, api)

	var ids []string
	for p, err := range e.Processes(context.Background(), engine.ProcessFilter{Tag: "batch"}) {
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	require.Equal(t, []string{"p1", "p2"}, ids)
	require.Equal(t, 2, api.listCalls)
}

func decisionPollOutput() *swf.PollForDecisionTaskOutput {
	at := func(s int) *time.Time {
		t := time.Date(2024, 1, 1, 0, 0, s, 0, time.UTC)
		return &t
	}
	return &swf.PollForDecisionTaskOutput{
		TaskToken: aws.String("token-1"),
		WorkflowExecution: &types.WorkflowExecution{
			WorkflowId: aws.String("p1"),
			RunId:      aws.String("run-1"),
		},
		Events: []types.HistoryEvent{
			{
				EventId: 1, EventTimestamp: at(0),
				EventType: types.EventTypeWorkflowExecutionStarted,
				WorkflowExecutionStartedEventAttributes: &types.WorkflowExecutionStartedEventAttributes{
					WorkflowType: &types.WorkflowType{Name: aws.String("foo"), Version: aws.String("1.0")},
					Input:        aws.String(`[2,3]`),
					TagList:      []string{"batch"},
				},
			},
			{
				EventId: 2, EventTimestamp: at(1),
				EventType: types.EventTypeDecisionTaskStarted,
			},
			{
				EventId: 3, EventTimestamp: at(2),
				EventType: types.EventTypeActivityTaskScheduled,
				ActivityTaskScheduledEventAttributes: &types.ActivityTaskScheduledEventAttributes{
					ActivityId:   aws.String("m1"),
					ActivityType: &types.ActivityType{Name: aws.String("multiply"), Version: aws.String("1.0")},
					Input:        aws.String(`[2,3]`),
				},
			},
			{
				EventId: 4, EventTimestamp: at(3),
				EventType: types.EventTypeActivityTaskStarted,
				ActivityTaskStartedEventAttributes: &types.ActivityTaskStartedEventAttributes{
					ScheduledEventId: 3,
				},
			},
			{
				EventId: 5, EventTimestamp: at(4),
				EventType: types.EventTypeActivityTaskCompleted,
				ActivityTaskCompletedEventAttributes: &types.ActivityTaskCompletedEventAttributes{
					ScheduledEventId: 3,
					Result:           aws.String(`6`),
				},
			},
			{
				EventId: 6, EventTimestamp: at(5),
				EventType: types.EventTypeWorkflowExecutionSignaled,
				WorkflowExecutionSignaledEventAttributes: &types.WorkflowExecutionSignaledEventAttributes{
					SignalName: aws.String("poke"),
					Input:      aws.String(`"hi"`),
				},
			},
			{
				EventId: 7, EventTimestamp: at(6),
				EventType: types.EventTypeDecisionTaskStarted,
			},
		},
	}
}

func TestPollDecisionTaskTranslatesHistory(t *testing.T) {
	api := &fakeAPI{decisionPoll: decisionPollOutput()}
	e := newTestEngine(t, api)

	task, err := e.PollDecisionTask(context.Background(), engine.PollRequest{})
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, "run-1", task.Context[engine.ContextRunID])
	require.Equal(t, "token-1", task.Context[ContextTaskToken])

	p := task.Process
	require.Equal(t, "p1", p.ID)
	require.Equal(t, "foo", p.Workflow)
	require.Equal(t, []any{float64(2), float64(3)}, p.Input)
	require.Equal(t, []string{"batch"}, p.Tags)

	kinds := make([]engine.EventKind, len(p.History))
	for i, ev := range p.History {
		kinds[i] = ev.Kind()
	}
	require.Equal(t, []engine.EventKind{
		engine.KindProcessStarted,
		engine.KindDecisionStarted,
		engine.KindDecision,
		engine.KindActivityStarted,
		engine.KindActivity,
		engine.KindSignal,
		engine.KindDecisionStarted,
	}, kinds)

	// Activity events are correlated back to the scheduled execution.
	av := p.History[4].(engine.ActivityEvent)
	require.Equal(t, "multiply", av.Execution.Activity)
	require.Equal(t, "m1", av.Execution.ID)
	require.Equal(t, engine.ActivityCompleted{Result: float64(6)}, av.Result)

	unseen := p.UnseenEvents()
	require.Len(t, unseen, 3)
}

func TestPollDecisionTaskEmpty(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{})
	task, err := e.PollDecisionTask(context.Background(), engine.PollRequest{})
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestPollActivityTask(t *testing.T) {
	api := &fakeAPI{activityPoll: &swf.PollForActivityTaskOutput{
		TaskToken:         aws.String("token-2"),
		ActivityId:        aws.String("m1"),
		ActivityType:      &types.ActivityType{Name: aws.String("multiply"), Version: aws.String("1.0")},
		Input:             aws.String(`[2,3]`),
		WorkflowExecution: &types.WorkflowExecution{WorkflowId: aws.String("p1"), RunId: aws.String("run-1")},
	}}
	e := newTestEngine(t, api)

	task, err := e.PollActivityTask(context.Background(), engine.PollRequest{})
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, "multiply", task.Execution.Activity)
	require.Equal(t, "p1", task.ProcessID)
	require.Equal(t, "token-2", task.Context[ContextTaskToken])
}

func TestCompleteDecisionTaskMapping(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	task := &engine.DecisionTask{Context: map[string]string{ContextTaskToken: "token-1"}}

	err := e.CompleteDecisionTask(context.Background(), task, []engine.Decision{
		engine.ScheduleActivity{Activity: "multiply", ID: "m1", Input: []any{2, 3}, Category: "math"},
		engine.Timer{Delay: 5 * time.Minute, Data: "wake"},
		engine.CompleteProcess{Result: 6},
	})
	require.NoError(t, err)

	out := api.responded
	require.NotNil(t, out)
	require.Equal(t, "token-1", aws.ToString(out.TaskToken))
	require.Len(t, out.Decisions, 3)

	sched := out.Decisions[0]
	require.Equal(t, types.DecisionTypeScheduleActivityTask, sched.DecisionType)
	require.Equal(t, "m1", aws.ToString(sched.ScheduleActivityTaskDecisionAttributes.ActivityId))
	require.Equal(t, "math", aws.ToString(sched.ScheduleActivityTaskDecisionAttributes.TaskList.Name))

	timer := out.Decisions[1]
	require.Equal(t, types.DecisionTypeStartTimer, timer.DecisionType)
	require.Equal(t, "300", aws.ToString(timer.StartTimerDecisionAttributes.StartToFireTimeout))

	done := out.Decisions[2]
	require.Equal(t, types.DecisionTypeCompleteWorkflowExecution, done.DecisionType)
	require.Equal(t, "6", aws.ToString(done.CompleteWorkflowExecutionDecisionAttributes.Result))
}

func TestCompleteActivityTaskMapping(t *testing.T) {
	ctx := context.Background()
	task := &engine.ActivityTask{
		Execution: engine.ActivityExecution{Activity: "multiply", ID: "m1"},
		Context:   map[string]string{ContextTaskToken: "token-2"},
	}

	api := &fakeAPI{}
	e := newTestEngine(t, api)
	require.NoError(t, e.CompleteActivityTask(ctx, task, engine.ActivityCompleted{Result: 6}))
	require.Equal(t, "6", aws.ToString(api.activityCompleted.Result))

	require.NoError(t, e.CompleteActivityTask(ctx, task, engine.ActivityCanceled{Details: "stop"}))
	require.Equal(t, "stop", aws.ToString(api.activityCanceled.Details))

	require.NoError(t, e.CompleteActivityTask(ctx, task, engine.ActivityFailed{Reason: "boom", Details: "stack"}))
	require.Equal(t, "boom", aws.ToString(api.activityFailed.Reason))

	// Workers never submit timeouts; the sweeps own that result kind.
	err := e.CompleteActivityTask(ctx, task, engine.ActivityTimedOut{})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestCompleteActivityTaskUnknownToken(t *testing.T) {
	api := &fakeAPI{respondActivityErr: fault("UnknownResourceFault")}
	e := newTestEngine(t, api)
	task := &engine.ActivityTask{
		Execution: engine.ActivityExecution{Activity: "multiply", ID: "m1"},
		Context:   map[string]string{ContextTaskToken: "token-2"},
	}
	err := e.CompleteActivityTask(context.Background(), task, engine.ActivityCompleted{Result: 6})
	require.ErrorIs(t, err, engine.ErrUnknownActivity)
}

func TestHeartbeatUnknownToken(t *testing.T) {
	api := &fakeAPI{heartbeatErr: fault("UnknownResourceFault")}
	e := newTestEngine(t, api)
	task := &engine.ActivityTask{
		Execution: engine.ActivityExecution{Activity: "multiply", ID: "m1"},
		Context:   map[string]string{ContextTaskToken: "token-2"},
	}
	err := e.HeartbeatActivityTask(context.Background(), task)
	require.ErrorIs(t, err, engine.ErrUnknownActivity)
}
