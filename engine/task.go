package engine

// ContextRunID is the task context key under which backends store the run
// identifier that ties a completion back to the in-flight table entry.
const ContextRunID = "run_id"

type (
	// DecisionTask is a leased unit of decider work. Process is a snapshot of
	// the history at dispatch time; Context carries backend-opaque values that
	// must be passed back verbatim to CompleteDecisionTask.
	DecisionTask struct {
		Process *Process
		Context map[string]string
	}

	// ActivityTask is a leased unit of activity work.
	ActivityTask struct {
		Execution ActivityExecution
		ProcessID string
		Context   map[string]string
	}

	// PollRequest selects which tasks a poll is willing to take. Category
	// filters on the routing category; Identity names the polling worker for
	// diagnostics.
	PollRequest struct {
		Category string
		Identity string
	}

	// ProcessFilter narrows a Processes listing. Zero values match everything.
	// Hosted backends may not support combining both fields.
	ProcessFilter struct {
		Workflow string
		Tag      string
	}
)
