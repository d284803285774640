package timeline

type Kind string

const (
	KindUser  Kind = "USER"
	KindAgent Kind = "AGENT"
	KindEvent Kind = "EVENT"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusInfo    Status = "info"
)

// Entry is one rendered item in a conversation's ordered history. Entries
// are immutable once appended; the reducer only ever appends.
type Entry struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"type"`
	Content   string `json:"content"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
	Latency   string `json:"latency,omitempty"`
	Status    Status `json:"status,omitempty"`
	Raw       any    `json:"raw,omitempty"`
}

// ParseKind maps a backend item type string to a Kind. Unrecognized strings
// are rejected rather than defaulted.
func ParseKind(raw string) (Kind, bool) {
	switch Kind(raw) {
	case KindUser, KindAgent, KindEvent:
		return Kind(raw), true
	}
	return "", false
}
