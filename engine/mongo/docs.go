package mongo

import (
	"encoding/json"
	"time"

	"goa.design/flow/engine"
)

// Document shapes persisted per collection. Opaque payloads (process input,
// activity input, timer data) are stored as wire-form JSON strings so the
// broker round-trips them without interpreting their structure.

type (
	processDoc struct {
		ID       string   `bson:"_id"`
		Workflow string   `bson:"workflow"`
		Tags     []string `bson:"tags,omitempty"`
		Parent   string   `bson:"parent,omitempty"`
		// Data is the full wire-form process record including history.
		Data string `bson:"data"`
	}

	workflowTypeDoc struct {
		Name            string `bson:"_id"`
		TimeoutMS       int64  `bson:"timeout_ms"`
		DecisionTimeout int64  `bson:"decision_timeout_ms"`
		Category        string `bson:"category"`
	}

	activityTypeDoc struct {
		Name             string `bson:"_id"`
		Category         string `bson:"category"`
		ScheduledTimeout int64  `bson:"scheduled_timeout_ms"`
		ExecutionTimeout int64  `bson:"execution_timeout_ms"`
		HeartbeatTimeout int64  `bson:"heartbeat_timeout_ms"`
	}

	scheduledDecisionDoc struct {
		ID        string    `bson:"_id"`
		ProcessID string    `bson:"process_id"`
		Category  string    `bson:"category"`
		CreatedAt time.Time `bson:"created_at"`
		// Timer-backed entries carry the fire time and the timer payload.
		Timer     bool      `bson:"timer"`
		FireAt    time.Time `bson:"fire_at,omitempty"`
		DelayMS   int64     `bson:"delay_ms,omitempty"`
		TimerData string    `bson:"timer_data,omitempty"`
	}

	scheduledActivityDoc struct {
		ID          string    `bson:"_id"`
		ProcessID   string    `bson:"process_id"`
		Activity    string    `bson:"activity"`
		ExecutionID string    `bson:"execution_id"`
		Input       string    `bson:"input,omitempty"`
		Category    string    `bson:"category"`
		CreatedAt   time.Time `bson:"created_at"`
		ExpiresAt   time.Time `bson:"expires_at"`
	}

	runningDecisionDoc struct {
		RunID     string    `bson:"_id"`
		ProcessID string    `bson:"process_id"`
		ExpiresAt time.Time `bson:"expires_at"`
	}

	runningActivityDoc struct {
		RunID              string    `bson:"_id"`
		ProcessID          string    `bson:"process_id"`
		Activity           string    `bson:"activity"`
		ExecutionID        string    `bson:"execution_id"`
		Input              string    `bson:"input,omitempty"`
		ExpiresAt          time.Time `bson:"expires_at"`
		HeartbeatExpiresAt time.Time `bson:"heartbeat_expires_at"`
	}
)

func fromProcess(p *engine.Process) (processDoc, error) {
	data, err := engine.MarshalProcess(p)
	if err != nil {
		return processDoc{}, err
	}
	return processDoc{
		ID:       p.ID,
		Workflow: p.Workflow,
		Tags:     p.Tags,
		Parent:   p.Parent,
		Data:     string(data),
	}, nil
}

func (doc processDoc) toProcess() (*engine.Process, error) {
	return engine.UnmarshalProcess([]byte(doc.Data))
}

func fromWorkflowOptions(name string, opts engine.WorkflowOptions) workflowTypeDoc {
	return workflowTypeDoc{
		Name:            name,
		TimeoutMS:       opts.Timeout.Milliseconds(),
		DecisionTimeout: opts.DecisionTimeout.Milliseconds(),
		Category:        opts.Category,
	}
}

func (doc workflowTypeDoc) toOptions() engine.WorkflowOptions {
	return engine.WorkflowOptions{
		Timeout:         time.Duration(doc.TimeoutMS) * time.Millisecond,
		DecisionTimeout: time.Duration(doc.DecisionTimeout) * time.Millisecond,
		Category:        doc.Category,
	}
}

func fromActivityOptions(name string, opts engine.ActivityOptions) activityTypeDoc {
	return activityTypeDoc{
		Name:             name,
		Category:         opts.Category,
		ScheduledTimeout: opts.ScheduledTimeout.Milliseconds(),
		ExecutionTimeout: opts.ExecutionTimeout.Milliseconds(),
		HeartbeatTimeout: opts.HeartbeatTimeout.Milliseconds(),
	}
}

func (doc activityTypeDoc) toOptions() engine.ActivityOptions {
	return engine.ActivityOptions{
		Category:         doc.Category,
		ScheduledTimeout: time.Duration(doc.ScheduledTimeout) * time.Millisecond,
		ExecutionTimeout: time.Duration(doc.ExecutionTimeout) * time.Millisecond,
		HeartbeatTimeout: time.Duration(doc.HeartbeatTimeout) * time.Millisecond,
	}
}

func (doc scheduledActivityDoc) execution() (engine.ActivityExecution, error) {
	exec := engine.ActivityExecution{Activity: doc.Activity, ID: doc.ExecutionID}
	if doc.Input != "" {
		if err := json.Unmarshal([]byte(doc.Input), &exec.Input); err != nil {
			return exec, err
		}
	}
	return exec, nil
}

func (doc runningActivityDoc) execution() (engine.ActivityExecution, error) {
	exec := engine.ActivityExecution{Activity: doc.Activity, ID: doc.ExecutionID}
	if doc.Input != "" {
		if err := json.Unmarshal([]byte(doc.Input), &exec.Input); err != nil {
			return exec, err
		}
	}
	return exec, nil
}

func (doc scheduledDecisionDoc) timerDecision() (engine.Timer, error) {
	t := engine.Timer{Delay: time.Duration(doc.DelayMS) * time.Millisecond}
	if doc.TimerData != "" {
		if err := json.Unmarshal([]byte(doc.TimerData), &t.Data); err != nil {
			return t, err
		}
	}
	return t, nil
}

func marshalOpaque(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
