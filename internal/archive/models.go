package archive

import "time"

// EventRecord is one archived dashboard event.
type EventRecord struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	SessionID  string    `json:"session_id,omitempty"`
	Timestamp  float64   `json:"timestamp"`
	DataJSON   []byte    `json:"data_json,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// SessionRecord aggregates what the archive has seen for one session.
type SessionRecord struct {
	SessionID   string    `json:"session_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastEventAt time.Time `json:"last_event_at"`
	EventCount  int64     `json:"event_count"`
}
