package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire codec used by persistent backends. Events, decisions and results are
// encoded as {kind, ...} JSON records; opaque inputs and results round-trip
// as plain JSON values, so a decoded payload is whatever encoding/json
// produces (map[string]any, []any, float64, string, bool, nil).

type (
	eventRecord struct {
		Kind    EventKind       `json:"kind"`
		At      time.Time       `json:"at"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}

	decisionRecord struct {
		Kind    DecisionKind    `json:"kind"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}

	resultRecord struct {
		Kind    ResultKind `json:"kind"`
		Result  any        `json:"result,omitempty"`
		Details string     `json:"details,omitempty"`
		Reason  string     `json:"reason,omitempty"`
	}

	executionRecord struct {
		Activity string `json:"activity"`
		ID       string `json:"id"`
		Input    any    `json:"input,omitempty"`
	}

	processRecord struct {
		ID       string            `json:"id"`
		Workflow string            `json:"workflow"`
		Input    any               `json:"input,omitempty"`
		Tags     []string          `json:"tags,omitempty"`
		Parent   string            `json:"parent,omitempty"`
		History  []json.RawMessage `json:"history,omitempty"`
	}

	decisionEventPayload struct {
		Decision decisionRecord `json:"decision"`
	}

	activityStartedPayload struct {
		Execution executionRecord `json:"execution"`
	}

	activityEventPayload struct {
		Execution executionRecord `json:"execution"`
		Result    resultRecord    `json:"result"`
	}

	signalPayload struct {
		Name string `json:"name"`
		Data any    `json:"data,omitempty"`
	}

	timerPayload struct {
		Delay time.Duration `json:"delay"`
		Data  any           `json:"data,omitempty"`
	}

	childProcessPayload struct {
		ProcessID string       `json:"process_id"`
		Workflow  string       `json:"workflow"`
		Tags      []string     `json:"tags,omitempty"`
		Result    resultRecord `json:"result"`
	}

	scheduleActivityPayload struct {
		Activity string `json:"activity"`
		ID       string `json:"id"`
		Input    any    `json:"input,omitempty"`
		Category string `json:"category,omitempty"`
	}

	cancelActivityPayload struct {
		ID string `json:"id"`
	}

	completeProcessPayload struct {
		Result any `json:"result,omitempty"`
	}

	cancelProcessPayload struct {
		Details string `json:"details,omitempty"`
		Reason  string `json:"reason,omitempty"`
	}

	startChildPayload struct {
		Process processRecord `json:"process"`
	}
)

// MarshalEvent encodes a history event as a wire record.
func MarshalEvent(ev Event) ([]byte, error) {
	rec := eventRecord{Kind: ev.Kind(), At: ev.Timestamp()}
	var (
		payload any
		err     error
	)
	switch ev := ev.(type) {
	case ProcessStartedEvent, DecisionStartedEvent:
	case DecisionEvent:
		var dr decisionRecord
		if dr, err = encodeDecision(ev.Decision); err == nil {
			payload = decisionEventPayload{Decision: dr}
		}
	case ActivityStartedEvent:
		payload = activityStartedPayload{Execution: encodeExecution(ev.Execution)}
	case ActivityEvent:
		payload = activityEventPayload{
			Execution: encodeExecution(ev.Execution),
			Result:    encodeActivityResult(ev.Result),
		}
	case SignalEvent:
		payload = signalPayload{Name: ev.Signal.Name, Data: ev.Signal.Data}
	case TimerEvent:
		payload = timerPayload{Delay: ev.Timer.Delay, Data: ev.Timer.Data}
	case ChildProcessEvent:
		payload = childProcessPayload{
			ProcessID: ev.ProcessID,
			Workflow:  ev.Workflow,
			Tags:      ev.Tags,
			Result:    encodeProcessResult(ev.Result),
		}
	default:
		err = fmt.Errorf("marshal event: unknown kind %q", ev.Kind())
	}
	if err != nil {
		return nil, err
	}
	if payload != nil {
		if rec.Payload, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("marshal event %q: %w", rec.Kind, err)
		}
	}
	return json.Marshal(rec)
}

// UnmarshalEvent decodes a wire record produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	switch rec.Kind {
	case KindProcessStarted:
		return ProcessStartedEvent{At: rec.At}, nil
	case KindDecisionStarted:
		return DecisionStartedEvent{At: rec.At}, nil
	case KindDecision:
		var p decisionEventPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal decision event: %w", err)
		}
		d, err := decodeDecision(p.Decision)
		if err != nil {
			return nil, err
		}
		return DecisionEvent{At: rec.At, Decision: d}, nil
	case KindActivityStarted:
		var p activityStartedPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal activity started event: %w", err)
		}
		return ActivityStartedEvent{At: rec.At, Execution: decodeExecution(p.Execution)}, nil
	case KindActivity:
		var p activityEventPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal activity event: %w", err)
		}
		res, err := decodeActivityResult(p.Result)
		if err != nil {
			return nil, err
		}
		return ActivityEvent{At: rec.At, Execution: decodeExecution(p.Execution), Result: res}, nil
	case KindSignal:
		var p signalPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal signal event: %w", err)
		}
		return SignalEvent{At: rec.At, Signal: Signal{Name: p.Name, Data: p.Data}}, nil
	case KindTimerFired:
		var p timerPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal timer event: %w", err)
		}
		return TimerEvent{At: rec.At, Timer: Timer{Delay: p.Delay, Data: p.Data}}, nil
	case KindChildProcess:
		var p childProcessPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal child process event: %w", err)
		}
		res, err := decodeProcessResult(p.Result)
		if err != nil {
			return nil, err
		}
		return ChildProcessEvent{At: rec.At, ProcessID: p.ProcessID, Workflow: p.Workflow, Tags: p.Tags, Result: res}, nil
	}
	return nil, fmt.Errorf("unmarshal event: unknown kind %q", rec.Kind)
}

// MarshalProcess encodes a process with its full history.
func MarshalProcess(p *Process) ([]byte, error) {
	rec, err := encodeProcess(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// UnmarshalProcess decodes a process produced by MarshalProcess.
func UnmarshalProcess(data []byte) (*Process, error) {
	var rec processRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal process: %w", err)
	}
	return decodeProcess(rec)
}

func encodeProcess(p *Process) (processRecord, error) {
	rec := processRecord{
		ID:       p.ID,
		Workflow: p.Workflow,
		Input:    p.Input,
		Tags:     p.Tags,
		Parent:   p.Parent,
	}
	for _, ev := range p.History {
		data, err := MarshalEvent(ev)
		if err != nil {
			return processRecord{}, err
		}
		rec.History = append(rec.History, data)
	}
	return rec, nil
}

func decodeProcess(rec processRecord) (*Process, error) {
	p := &Process{
		ID:       rec.ID,
		Workflow: rec.Workflow,
		Input:    rec.Input,
		Tags:     rec.Tags,
		Parent:   rec.Parent,
	}
	for _, data := range rec.History {
		ev, err := UnmarshalEvent(data)
		if err != nil {
			return nil, err
		}
		p.History = append(p.History, ev)
	}
	return p, nil
}

func encodeDecision(d Decision) (decisionRecord, error) {
	rec := decisionRecord{Kind: d.Kind()}
	var payload any
	switch d := d.(type) {
	case ScheduleActivity:
		payload = scheduleActivityPayload{Activity: d.Activity, ID: d.ID, Input: d.Input, Category: d.Category}
	case CancelActivity:
		payload = cancelActivityPayload{ID: d.ID}
	case CompleteProcess:
		payload = completeProcessPayload{Result: d.Result}
	case CancelProcess:
		payload = cancelProcessPayload{Details: d.Details, Reason: d.Reason}
	case StartChildProcess:
		pr, err := encodeProcess(d.Process)
		if err != nil {
			return decisionRecord{}, err
		}
		payload = startChildPayload{Process: pr}
	case Timer:
		payload = timerPayload{Delay: d.Delay, Data: d.Data}
	default:
		return decisionRecord{}, fmt.Errorf("marshal decision: unknown kind %q", d.Kind())
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return decisionRecord{}, fmt.Errorf("marshal decision %q: %w", rec.Kind, err)
	}
	rec.Payload = data
	return rec, nil
}

func decodeDecision(rec decisionRecord) (Decision, error) {
	switch rec.Kind {
	case KindScheduleActivity:
		var p scheduleActivityPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal schedule activity decision: %w", err)
		}
		return ScheduleActivity{Activity: p.Activity, ID: p.ID, Input: p.Input, Category: p.Category}, nil
	case KindCancelActivity:
		var p cancelActivityPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal cancel activity decision: %w", err)
		}
		return CancelActivity{ID: p.ID}, nil
	case KindCompleteProcess:
		var p completeProcessPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal complete process decision: %w", err)
		}
		return CompleteProcess{Result: p.Result}, nil
	case KindCancelProcess:
		var p cancelProcessPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal cancel process decision: %w", err)
		}
		return CancelProcess{Details: p.Details, Reason: p.Reason}, nil
	case KindStartChildProcess:
		var p startChildPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal start child process decision: %w", err)
		}
		proc, err := decodeProcess(p.Process)
		if err != nil {
			return nil, err
		}
		return StartChildProcess{Process: proc}, nil
	case KindTimer:
		var p timerPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal timer decision: %w", err)
		}
		return Timer{Delay: p.Delay, Data: p.Data}, nil
	}
	return nil, fmt.Errorf("unmarshal decision: unknown kind %q", rec.Kind)
}

func encodeExecution(e ActivityExecution) executionRecord {
	return executionRecord{Activity: e.Activity, ID: e.ID, Input: e.Input}
}

func decodeExecution(rec executionRecord) ActivityExecution {
	return ActivityExecution{Activity: rec.Activity, ID: rec.ID, Input: rec.Input}
}

func encodeActivityResult(r ActivityResult) resultRecord {
	switch r := r.(type) {
	case ActivityCompleted:
		return resultRecord{Kind: ResultCompleted, Result: r.Result}
	case ActivityCanceled:
		return resultRecord{Kind: ResultCanceled, Details: r.Details}
	case ActivityFailed:
		return resultRecord{Kind: ResultFailed, Reason: r.Reason, Details: r.Details}
	case ActivityTimedOut:
		return resultRecord{Kind: ResultTimedOut, Details: r.Details}
	}
	return resultRecord{}
}

func decodeActivityResult(rec resultRecord) (ActivityResult, error) {
	switch rec.Kind {
	case ResultCompleted:
		return ActivityCompleted{Result: rec.Result}, nil
	case ResultCanceled:
		return ActivityCanceled{Details: rec.Details}, nil
	case ResultFailed:
		return ActivityFailed{Reason: rec.Reason, Details: rec.Details}, nil
	case ResultTimedOut:
		return ActivityTimedOut{Details: rec.Details}, nil
	}
	return nil, fmt.Errorf("unmarshal activity result: unknown kind %q", rec.Kind)
}

func encodeProcessResult(r ProcessResult) resultRecord {
	switch r := r.(type) {
	case ProcessCompleted:
		return resultRecord{Kind: ResultCompleted, Result: r.Result}
	case ProcessCanceled:
		return resultRecord{Kind: ResultCanceled, Details: r.Details, Reason: r.Reason}
	case ProcessFailed:
		return resultRecord{Kind: ResultFailed, Reason: r.Reason, Details: r.Details}
	case ProcessTimedOut:
		return resultRecord{Kind: ResultTimedOut, Details: r.Details}
	}
	return resultRecord{}
}

func decodeProcessResult(rec resultRecord) (ProcessResult, error) {
	switch rec.Kind {
	case ResultCompleted:
		return ProcessCompleted{Result: rec.Result}, nil
	case ResultCanceled:
		return ProcessCanceled{Details: rec.Details, Reason: rec.Reason}, nil
	case ResultFailed:
		return ProcessFailed{Reason: rec.Reason, Details: rec.Details}, nil
	case ResultTimedOut:
		return ProcessTimedOut{Details: rec.Details}, nil
	}
	return nil, fmt.Errorf("unmarshal process result: unknown kind %q", rec.Kind)
}
