package timeline

import (
	"encoding/json"
	"fmt"
	"time"

	"agentdeck.local/projects/deck-dashboard/internal/ids"
	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

type messageReceivedData struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

type agentResponseData struct {
	FinalText   string  `json:"final_text"`
	TotalTimeMS float64 `json:"total_time_ms"`
}

type toolCallData struct {
	ToolCallID    string         `json:"tool_call_id"`
	ToolName      string         `json:"tool_name"`
	ToolArguments map[string]any `json:"tool_arguments"`
	ResultPreview string         `json:"result_preview"`
	Error         string         `json:"error"`
	ErrorType     string         `json:"error_type"`
}

type errorData struct {
	ErrorType string `json:"error_type"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Project maps one domain event onto zero or one timeline entry. Event types
// with no timeline representation return ok=false; that is not an error.
// The entry's Raw carries the event's defining fields so an inspector can
// show a faithful payload without the transport framing.
func Project(event wire.Event) (Entry, bool) {
	stamp := displayTime(event.Timestamp)

	switch event.EventType {
	case wire.EventTypeSessionCreated:
		return Entry{
			ID:        entryID("evt", event.Timestamp),
			Kind:      KindEvent,
			Content:   "Session created",
			Timestamp: stamp,
			Status:    StatusInfo,
			Raw:       map[string]any{"session_id": event.SessionID},
		}, true

	case wire.EventTypeMessageReceived:
		var data messageReceivedData
		decodeData(event, &data)
		metadata := data.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		return Entry{
			ID:        entryID("msg", event.Timestamp),
			Kind:      KindUser,
			Content:   data.Text,
			Timestamp: stamp,
			Latency:   "+0.00s",
			Status:    StatusInfo,
			Raw: map[string]any{
				"role":     "user",
				"content":  data.Text,
				"metadata": metadata,
			},
		}, true

	case wire.EventTypeAgentResponseComplete:
		var data agentResponseData
		decodeData(event, &data)
		return Entry{
			ID:        entryID("msg", event.Timestamp),
			Kind:      KindAgent,
			Content:   data.FinalText,
			Timestamp: stamp,
			Latency:   fmt.Sprintf("+%.2fs", data.TotalTimeMS/1000),
			Status:    StatusSuccess,
			Raw: map[string]any{
				"role":    "assistant",
				"content": data.FinalText,
			},
		}, true

	case wire.EventTypeToolCallStart:
		var data toolCallData
		decodeData(event, &data)
		args := marshalArguments(data.ToolArguments)
		return Entry{
			ID:        entryID("evt", event.Timestamp),
			Kind:      KindEvent,
			Content:   "tool:" + data.ToolName,
			Details:   args,
			Timestamp: stamp,
			Status:    StatusSuccess,
			Raw: map[string]any{
				"tool_call_id": data.ToolCallID,
				"function": map[string]any{
					"name":      data.ToolName,
					"arguments": args,
				},
			},
		}, true

	case wire.EventTypeToolCallComplete:
		var data toolCallData
		decodeData(event, &data)
		details := data.ResultPreview
		if details == "" {
			details = "Success"
		}
		return Entry{
			ID:        entryID("evt", event.Timestamp),
			Kind:      KindEvent,
			Content:   "tool:" + data.ToolName,
			Details:   details,
			Timestamp: stamp,
			Status:    StatusSuccess,
			Raw: map[string]any{
				"tool_call_id": data.ToolCallID,
				"function":     map[string]any{"name": data.ToolName},
				"response":     data.ResultPreview,
			},
		}, true

	case wire.EventTypeToolCallError:
		var data toolCallData
		decodeData(event, &data)
		return Entry{
			ID:        entryID("evt", event.Timestamp),
			Kind:      KindEvent,
			Content:   "tool:" + data.ToolName,
			Details:   "ERROR: " + data.Error,
			Timestamp: stamp,
			Status:    StatusError,
			Raw: map[string]any{
				"tool_call_id": data.ToolCallID,
				"function":     map[string]any{"name": data.ToolName},
				"error": map[string]any{
					"message": data.Error,
					"type":    data.ErrorType,
				},
			},
		}, true

	case wire.EventTypeError:
		var data errorData
		decodeData(event, &data)
		message := data.Message
		if message == "" {
			message = "Unknown error"
		}
		return Entry{
			ID:        entryID("err", event.Timestamp),
			Kind:      KindEvent,
			Content:   "Error",
			Details:   message,
			Timestamp: stamp,
			Status:    StatusError,
			Raw: map[string]any{
				"error_type": data.ErrorType,
				"error_code": data.ErrorCode,
				"message":    data.Message,
			},
		}, true
	}

	return Entry{}, false
}

// decodeData tolerates absent or malformed data; the projector renders zero
// values rather than dropping the event.
func decodeData(event wire.Event, v any) {
	_ = event.DecodeData(v)
}

func marshalArguments(args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func entryID(prefix string, timestamp float64) string {
	return fmt.Sprintf("%s_%d_%s", prefix, int64(timestamp), ids.Short())
}

func displayTime(timestamp float64) string {
	sec := int64(timestamp)
	nsec := int64((timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).Local().Format("15:04:05")
}
