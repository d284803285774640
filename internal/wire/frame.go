package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

type FrameType string

const (
	// Inbound frame types.
	FrameTypeInitialState          FrameType = "initial_state"
	FrameTypeEvent                 FrameType = "event"
	FrameTypeError                 FrameType = "error"
	FrameTypePong                  FrameType = "pong"
	FrameTypeInjectMessageResponse FrameType = "inject_message_response"

	// Outbound frame types.
	FrameTypeSubscribe     FrameType = "subscribe"
	FrameTypeInjectMessage FrameType = "inject_message"
)

type EventType string

const (
	EventTypeSessionCreated        EventType = "session_created"
	EventTypeMessageReceived       EventType = "message_received"
	EventTypeAgentResponseComplete EventType = "agent_response_complete"
	EventTypeToolCallStart         EventType = "tool_call_start"
	EventTypeToolCallComplete      EventType = "tool_call_complete"
	EventTypeToolCallError         EventType = "tool_call_error"
	EventTypeError                 EventType = "error"
	EventTypeMetricsUpdated        EventType = "metrics_updated"
	EventTypeDashboardConnected    EventType = "dashboard_connected"
	EventTypeDashboardTest         EventType = "dashboard_test"
)

// Frame is a single dashboard protocol message. The populated fields depend
// on Type; Decode performs no validation beyond JSON well-formedness.
type Frame struct {
	Type FrameType `json:"type"`

	// type == "event"
	EventType EventType       `json:"event_type,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp *float64        `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	// type == "initial_state"
	Sessions []BackendSession `json:"sessions,omitempty"`
	Metrics  []BackendMetric  `json:"metrics,omitempty"`
	Config   *BackendConfig   `json:"config,omitempty"`

	// type == "error"
	Message string `json:"message,omitempty"`

	// type == "inject_message_response"
	Success *bool `json:"success,omitempty"`
}

func Decode(payload []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if strings.TrimSpace(string(frame.Type)) == "" {
		return Frame{}, fmt.Errorf("frame missing type discriminator")
	}
	return frame, nil
}

// Event is the validated payload of an event-typed frame.
type Event struct {
	EventType EventType       `json:"event_type"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event extracts the embedded event. It fails when the frame is not
// event-typed or is missing event_type or timestamp.
func (f Frame) Event() (Event, error) {
	if f.Type != FrameTypeEvent {
		return Event{}, fmt.Errorf("frame type %q is not an event", f.Type)
	}
	if strings.TrimSpace(string(f.EventType)) == "" {
		return Event{}, fmt.Errorf("event frame missing event_type")
	}
	if f.Timestamp == nil {
		return Event{}, fmt.Errorf("event frame missing timestamp")
	}
	return Event{
		EventType: f.EventType,
		SessionID: f.SessionID,
		Timestamp: *f.Timestamp,
		Data:      f.Data,
	}, nil
}

func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// IsGlobal reports whether the event type is handled without a session id.
func (e Event) IsGlobal() bool {
	switch e.EventType {
	case EventTypeDashboardConnected, EventTypeDashboardTest, EventTypeMetricsUpdated:
		return true
	}
	return false
}
