package engine

// ResultKind identifies the variant of an activity or child-process result.
type ResultKind string

const (
	// ResultCompleted marks successful completion.
	ResultCompleted ResultKind = "completed"
	// ResultCanceled marks cooperative cancellation.
	ResultCanceled ResultKind = "canceled"
	// ResultFailed marks failure.
	ResultFailed ResultKind = "failed"
	// ResultTimedOut marks expiration by the broker sweeps.
	ResultTimedOut ResultKind = "timed_out"
)

type (
	// ActivityExecution is a concrete instance of an activity type: the
	// activity name, the execution ID assigned by the scheduling decision and
	// the opaque input.
	ActivityExecution struct {
		Activity string
		ID       string
		Input    any
	}

	// ActivityResult is the terminal outcome of an activity execution.
	ActivityResult interface {
		// Kind returns the result variant.
		Kind() ResultKind
	}

	// ActivityCompleted carries the value returned by the activity.
	ActivityCompleted struct {
		Result any
	}

	// ActivityCanceled records cooperative cancellation of an activity.
	ActivityCanceled struct {
		Details string
	}

	// ActivityFailed records an activity failure.
	ActivityFailed struct {
		Reason  string
		Details string
	}

	// ActivityTimedOut records reclamation of an activity by the expiration
	// sweeps (scheduled, execution or heartbeat timeout).
	ActivityTimedOut struct {
		Details string
	}

	// ProcessResult is the terminal outcome of a child process as seen by its
	// parent in a ChildProcessEvent.
	ProcessResult interface {
		// Kind returns the result variant.
		Kind() ResultKind
	}

	// ProcessCompleted carries the result of a CompleteProcess decision.
	ProcessCompleted struct {
		Result any
	}

	// ProcessCanceled carries the details of a CancelProcess decision.
	ProcessCanceled struct {
		Details string
		Reason  string
	}

	// ProcessFailed records a child process failure (hosted backends only;
	// the in-process backends terminate through decisions).
	ProcessFailed struct {
		Reason  string
		Details string
	}

	// ProcessTimedOut records expiration of a child process execution.
	ProcessTimedOut struct {
		Details string
	}
)

func (r ActivityCompleted) Kind() ResultKind { return ResultCompleted }
func (r ActivityCanceled) Kind() ResultKind  { return ResultCanceled }
func (r ActivityFailed) Kind() ResultKind    { return ResultFailed }
func (r ActivityTimedOut) Kind() ResultKind  { return ResultTimedOut }

func (r ProcessCompleted) Kind() ResultKind { return ResultCompleted }
func (r ProcessCanceled) Kind() ResultKind  { return ResultCanceled }
func (r ProcessFailed) Kind() ResultKind    { return ResultFailed }
func (r ProcessTimedOut) Kind() ResultKind  { return ResultTimedOut }
