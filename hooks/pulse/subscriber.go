package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/flow/hooks"
)

type (
	// SubscriberOptions configure NewSubscriber.
	SubscriberOptions struct {
		// Client publishes the envelopes. Required.
		Client Client
		// StreamID derives the target stream from an event. Defaults to
		// `process/<ProcessID>`.
		StreamID func(hooks.Event) string
	}

	// Subscriber is a hooks.Subscriber that appends every lifecycle event to
	// the process's Pulse stream as a JSON envelope.
	Subscriber struct {
		client   Client
		streamID func(hooks.Event) string
	}

	// envelope is the wire form of a published lifecycle event.
	envelope struct {
		Type      string    `json:"type"`
		ProcessID string    `json:"process_id"`
		Workflow  string    `json:"workflow,omitempty"`
		Timestamp time.Time `json:"timestamp"`
		Payload   any       `json:"payload,omitempty"`
	}
)

var _ hooks.Subscriber = (*Subscriber)(nil)

// NewSubscriber constructs a Pulse-backed lifecycle subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	return &Subscriber{client: opts.Client, streamID: streamID}, nil
}

// HandleEvent implements hooks.Subscriber.
func (s *Subscriber) HandleEvent(ctx context.Context, event hooks.Event) error {
	stream, err := s.client.Stream(s.streamID(event))
	if err != nil {
		return err
	}
	env := envelope{
		Type:      string(event.Type()),
		ProcessID: event.ProcessID(),
		Workflow:  event.Workflow(),
		Timestamp: event.Timestamp().UTC(),
		Payload:   payload(event),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := stream.Add(ctx, env.Type, data); err != nil {
		return err
	}
	return nil
}

func defaultStreamID(event hooks.Event) string {
	return "process/" + event.ProcessID()
}

// payload extracts the event-specific fields published in the envelope.
func payload(event hooks.Event) any {
	switch e := event.(type) {
	case *hooks.ProcessStartedEvent:
		return map[string]any{"input": e.Input, "tags": e.Tags}
	case *hooks.ProcessSignaledEvent:
		return map[string]any{"signal": e.Signal.Name, "data": e.Signal.Data}
	case *hooks.ProcessCanceledEvent:
		return map[string]any{"details": e.Details, "reason": e.Reason}
	case *hooks.ProcessCompletedEvent:
		return map[string]any{"result": e.Result}
	case *hooks.DecisionTaskCompletedEvent:
		kinds := make([]string, len(e.Decisions))
		for i, d := range e.Decisions {
			kinds[i] = string(d.Kind())
		}
		return map[string]any{"decisions": kinds}
	case *hooks.ActivityScheduledEvent:
		return map[string]any{"activity": e.Execution.Activity, "execution_id": e.Execution.ID}
	case *hooks.ActivityCanceledEvent:
		return map[string]any{"execution_id": e.ExecutionID}
	case *hooks.ActivityCompletedEvent:
		return map[string]any{"activity": e.Execution.Activity, "execution_id": e.Execution.ID, "result": e.Result}
	case *hooks.ActivityFailedEvent:
		return map[string]any{"activity": e.Execution.Activity, "execution_id": e.Execution.ID, "reason": e.Reason, "details": e.Details}
	case *hooks.ActivityTimedOutEvent:
		return map[string]any{"activity": e.Execution.Activity, "execution_id": e.Execution.ID, "details": e.Details}
	}
	return nil
}
