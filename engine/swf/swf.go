// Package swf adapts the engine contract to Amazon Simple Workflow Service.
// SWF owns the broker state: histories, task queues, leases and timeouts all
// live in the hosted service, and this package only translates between the
// engine model and the SWF API. Task lists play the role of categories and
// the task token rides along in the task context next to the run id.
package swf

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/swf"
	"github.com/aws/aws-sdk-go-v2/service/swf/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"goa.design/flow/engine"
)

const (
	// ContextTaskToken is the task context key under which the SWF task
	// token travels between poll and respond calls.
	ContextTaskToken = "task_token"

	// defaultVersion is the single workflow and activity type version this
	// adapter registers and schedules.
	defaultVersion = "1.0"

	// maxTags is the SWF tag list cardinality limit.
	maxTags = 5

	// openWindow bounds how far back ListOpenWorkflowExecutions looks.
	openWindow = 365 * 24 * time.Hour
)

type (
	// Options configure New.
	Options struct {
		// Client is the SWF service client. Required.
		Client API
		// Domain is the registered SWF domain. Required.
		Domain string
		// Config overrides the default registration defaults.
		Config engine.Config
	}

	// API is the surface of the SWF client the adapter uses. *swf.Client
	// satisfies it; tests substitute fakes.
	API interface {
		DescribeWorkflowType(ctx context.Context, in *swf.DescribeWorkflowTypeInput, opts ...func(*swf.Options)) (*swf.DescribeWorkflowTypeOutput, error)
		RegisterWorkflowType(ctx context.Context, in *swf.RegisterWorkflowTypeInput, opts ...func(*swf.Options)) (*swf.RegisterWorkflowTypeOutput, error)
		DescribeActivityType(ctx context.Context, in *swf.DescribeActivityTypeInput, opts ...func(*swf.Options)) (*swf.DescribeActivityTypeOutput, error)
		RegisterActivityType(ctx context.Context, in *swf.RegisterActivityTypeInput, opts ...func(*swf.Options)) (*swf.RegisterActivityTypeOutput, error)
		StartWorkflowExecution(ctx context.Context, in *swf.StartWorkflowExecutionInput, opts ...func(*swf.Options)) (*swf.StartWorkflowExecutionOutput, error)
		SignalWorkflowExecution(ctx context.Context, in *swf.SignalWorkflowExecutionInput, opts ...func(*swf.Options)) (*swf.SignalWorkflowExecutionOutput, error)
		TerminateWorkflowExecution(ctx context.Context, in *swf.TerminateWorkflowExecutionInput, opts ...func(*swf.Options)) (*swf.TerminateWorkflowExecutionOutput, error)
		ListOpenWorkflowExecutions(ctx context.Context, in *swf.ListOpenWorkflowExecutionsInput, opts ...func(*swf.Options)) (*swf.ListOpenWorkflowExecutionsOutput, error)
		GetWorkflowExecutionHistory(ctx context.Context, in *swf.GetWorkflowExecutionHistoryInput, opts ...func(*swf.Options)) (*swf.GetWorkflowExecutionHistoryOutput, error)
		PollForDecisionTask(ctx context.Context, in *swf.PollForDecisionTaskInput, opts ...func(*swf.Options)) (*swf.PollForDecisionTaskOutput, error)
		PollForActivityTask(ctx context.Context, in *swf.PollForActivityTaskInput, opts ...func(*swf.Options)) (*swf.PollForActivityTaskOutput, error)
		RecordActivityTaskHeartbeat(ctx context.Context, in *swf.RecordActivityTaskHeartbeatInput, opts ...func(*swf.Options)) (*swf.RecordActivityTaskHeartbeatOutput, error)
		RespondDecisionTaskCompleted(ctx context.Context, in *swf.RespondDecisionTaskCompletedInput, opts ...func(*swf.Options)) (*swf.RespondDecisionTaskCompletedOutput, error)
		RespondActivityTaskCompleted(ctx context.Context, in *swf.RespondActivityTaskCompletedInput, opts ...func(*swf.Options)) (*swf.RespondActivityTaskCompletedOutput, error)
		RespondActivityTaskCanceled(ctx context.Context, in *swf.RespondActivityTaskCanceledInput, opts ...func(*swf.Options)) (*swf.RespondActivityTaskCanceledOutput, error)
		RespondActivityTaskFailed(ctx context.Context, in *swf.RespondActivityTaskFailedInput, opts ...func(*swf.Options)) (*swf.RespondActivityTaskFailedOutput, error)
	}

	// Engine is the SWF adapter.
	Engine struct {
		api    API
		domain string
		cfg    engine.Config
	}
)

var (
	_ engine.Engine = (*Engine)(nil)
	_ API           = (*swf.Client)(nil)
)

// New returns an SWF-backed engine.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, errors.New("swf client is required")
	}
	if opts.Domain == "" {
		return nil, errors.New("swf domain is required")
	}
	return &Engine{
		api:    opts.Client,
		domain: opts.Domain,
		cfg:    opts.Config.Normalized(),
	}, nil
}

// RegisterWorkflow registers the workflow type unless it already exists.
func (e *Engine) RegisterWorkflow(ctx context.Context, name string, opts engine.WorkflowOptions) error {
	opts = e.cfg.WorkflowDefaults(opts)
	_, err := e.api.DescribeWorkflowType(ctx, &swf.DescribeWorkflowTypeInput{
		Domain:       aws.String(e.domain),
		WorkflowType: &types.WorkflowType{Name: aws.String(name), Version: aws.String(defaultVersion)},
	})
	if err == nil {
		return nil
	}
	if !isFault(err, "UnknownResourceFault") {
		return fmt.Errorf("register workflow %q: %w", name, err)
	}
	_, err = e.api.RegisterWorkflowType(ctx, &swf.RegisterWorkflowTypeInput{
		Domain:                              aws.String(e.domain),
		Name:                                aws.String(name),
		Version:                             aws.String(defaultVersion),
		DefaultTaskList:                     &types.TaskList{Name: aws.String(opts.Category)},
		DefaultChildPolicy:                  types.ChildPolicyAbandon,
		DefaultExecutionStartToCloseTimeout: aws.String(seconds(opts.Timeout)),
		DefaultTaskStartToCloseTimeout:      aws.String(seconds(opts.DecisionTimeout)),
	})
	if err != nil && !isFault(err, "TypeAlreadyExistsFault") {
		return fmt.Errorf("register workflow %q: %w", name, err)
	}
	return nil
}

// RegisterActivity registers the activity type unless it already exists.
func (e *Engine) RegisterActivity(ctx context.Context, name string, opts engine.ActivityOptions) error {
	opts = e.cfg.ActivityDefaults(opts)
	_, err := e.api.DescribeActivityType(ctx, &swf.DescribeActivityTypeInput{
		Domain:       aws.String(e.domain),
		ActivityType: &types.ActivityType{Name: aws.String(name), Version: aws.String(defaultVersion)},
	})
	if err == nil {
		return nil
	}
	if !isFault(err, "UnknownResourceFault") {
		return fmt.Errorf("register activity %q: %w", name, err)
	}
	_, err = e.api.RegisterActivityType(ctx, &swf.RegisterActivityTypeInput{
		Domain:                            aws.String(e.domain),
		Name:                              aws.String(name),
		Version:                           aws.String(defaultVersion),
		DefaultTaskList:                   &types.TaskList{Name: aws.String(opts.Category)},
		DefaultTaskHeartbeatTimeout:       aws.String(seconds(opts.HeartbeatTimeout)),
		DefaultTaskScheduleToStartTimeout: aws.String(seconds(opts.ScheduledTimeout)),
		DefaultTaskScheduleToCloseTimeout: aws.String(seconds(opts.ScheduledTimeout)),
		DefaultTaskStartToCloseTimeout:    aws.String(seconds(opts.ExecutionTimeout)),
	})
	if err != nil && !isFault(err, "TypeAlreadyExistsFault") {
		return fmt.Errorf("register activity %q: %w", name, err)
	}
	return nil
}

// StartProcess starts a workflow execution. The process ID becomes the
// workflow ID; SWF assigns the run ID.
func (e *Engine) StartProcess(ctx context.Context, proc *engine.Process) error {
	if len(proc.Tags) > maxTags {
		return fmt.Errorf("start process: at most %d tags: %w", maxTags, engine.ErrInvalidInput)
	}
	if proc.ID == "" {
		proc.ID = uuid.NewString()
	}
	input, err := marshalOpaque(proc.Input)
	if err != nil {
		return err
	}
	_, err = e.api.StartWorkflowExecution(ctx, &swf.StartWorkflowExecutionInput{
		Domain:       aws.String(e.domain),
		WorkflowId:   aws.String(proc.ID),
		WorkflowType: &types.WorkflowType{Name: aws.String(proc.Workflow), Version: aws.String(defaultVersion)},
		Input:        input,
		TagList:      proc.Tags,
	})
	if err != nil {
		if isFault(err, "UnknownResourceFault") {
			return fmt.Errorf("start process: workflow %q not registered: %w", proc.Workflow, engine.ErrInvalidInput)
		}
		return fmt.Errorf("start process: %w", err)
	}
	return nil
}

// SignalProcess delivers a signal to the open execution.
func (e *Engine) SignalProcess(ctx context.Context, processID string, signal engine.Signal) error {
	input, err := marshalOpaque(signal.Data)
	if err != nil {
		return err
	}
	_, err = e.api.SignalWorkflowExecution(ctx, &swf.SignalWorkflowExecutionInput{
		Domain:     aws.String(e.domain),
		WorkflowId: aws.String(processID),
		SignalName: aws.String(signal.Name),
		Input:      input,
	})
	if err != nil {
		if isFault(err, "UnknownResourceFault") {
			return fmt.Errorf("signal process %q: %w", processID, engine.ErrUnknownProcess)
		}
		return fmt.Errorf("signal process %q: %w", processID, err)
	}
	return nil
}

// CancelProcess terminates the open execution.
func (e *Engine) CancelProcess(ctx context.Context, processID string, details, reason string) error {
	in := &swf.TerminateWorkflowExecutionInput{
		Domain:      aws.String(e.domain),
		WorkflowId:  aws.String(processID),
		ChildPolicy: types.ChildPolicyAbandon,
	}
	if details != "" {
		in.Details = aws.String(details)
	}
	if reason != "" {
		in.Reason = aws.String(reason)
	}
	if _, err := e.api.TerminateWorkflowExecution(ctx, in); err != nil {
		if isFault(err, "UnknownResourceFault") {
			return fmt.Errorf("cancel process %q: %w", processID, engine.ErrUnknownProcess)
		}
		return fmt.Errorf("cancel process %q: %w", processID, err)
	}
	return nil
}

// Processes pages lazily through the open executions. SWF cannot filter by
// workflow and tag in the same request; asking for both fails with
// ErrInvalidInput. Listed processes carry identity, workflow and tags only;
// use ProcessByID for history and input.
func (e *Engine) Processes(ctx context.Context, filter engine.ProcessFilter) iter.Seq2[*engine.Process, error] {
	return func(yield func(*engine.Process, error) bool) {
		if filter.Workflow != "" && filter.Tag != "" {
			yield(nil, fmt.Errorf("list processes: filter by workflow or tag, not both: %w", engine.ErrInvalidInput))
			return
		}
		in := &swf.ListOpenWorkflowExecutionsInput{
			Domain:          aws.String(e.domain),
			StartTimeFilter: &types.ExecutionTimeFilter{OldestDate: aws.Time(time.Now().Add(-openWindow))},
		}
		if filter.Workflow != "" {
			in.TypeFilter = &types.WorkflowTypeFilter{Name: aws.String(filter.Workflow)}
		}
		if filter.Tag != "" {
			in.TagFilter = &types.TagFilter{Tag: aws.String(filter.Tag)}
		}
		for {
			out, err := e.api.ListOpenWorkflowExecutions(ctx, in)
			if err != nil {
				yield(nil, fmt.Errorf("list processes: %w", err))
				return
			}
			for _, info := range out.ExecutionInfos {
				p := &engine.Process{
					ID:       aws.ToString(info.Execution.WorkflowId),
					Workflow: aws.ToString(info.WorkflowType.Name),
					Tags:     info.TagList,
				}
				if !yield(p, nil) {
					return
				}
			}
			if out.NextPageToken == nil {
				return
			}
			in.NextPageToken = out.NextPageToken
		}
	}
}

// ProcessByID reconstructs a process from its open execution history.
func (e *Engine) ProcessByID(ctx context.Context, processID string) (*engine.Process, error) {
	exec, err := e.openExecution(ctx, processID)
	if err != nil {
		return nil, err
	}
	var events []types.HistoryEvent
	in := &swf.GetWorkflowExecutionHistoryInput{
		Domain:    aws.String(e.domain),
		Execution: exec,
	}
	for {
		out, err := e.api.GetWorkflowExecutionHistory(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("process %q: history: %w", processID, err)
		}
		events = append(events, out.Events...)
		if out.NextPageToken == nil {
			break
		}
		in.NextPageToken = out.NextPageToken
	}
	return processFromHistory(processID, events)
}

func (e *Engine) openExecution(ctx context.Context, processID string) (*types.WorkflowExecution, error) {
	out, err := e.api.ListOpenWorkflowExecutions(ctx, &swf.ListOpenWorkflowExecutionsInput{
		Domain:          aws.String(e.domain),
		StartTimeFilter: &types.ExecutionTimeFilter{OldestDate: aws.Time(time.Now().Add(-openWindow))},
		ExecutionFilter: &types.WorkflowExecutionFilter{WorkflowId: aws.String(processID)},
	})
	if err != nil {
		return nil, fmt.Errorf("process %q: %w", processID, err)
	}
	if len(out.ExecutionInfos) == 0 {
		return nil, fmt.Errorf("process %q: %w", processID, engine.ErrUnknownProcess)
	}
	return out.ExecutionInfos[0].Execution, nil
}

func seconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}

func isFault(err error, code string) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == code
}
