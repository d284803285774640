package state

import "agentdeck.local/projects/deck-dashboard/internal/timeline"

// Conversation is one tracked agent session and its ordered timeline.
// Items are append-only; insertion order is the ordering guarantee.
type Conversation struct {
	ID        string           `json:"id"`
	Timestamp string           `json:"timestamp"`
	Title     string           `json:"title"`
	Preview   string           `json:"preview"`
	Items     []timeline.Entry `json:"items"`
}

type Metric struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Metric labels the reducer patches from metrics_updated events.
const (
	MetricLabelMessages  = "Messages"
	MetricLabelToolCalls = "Tool Calls"
	MetricLabelErrors    = "Errors"
	MetricLabelLatency   = "Latency (p95)"
)

// AgentConfig is the live identity/model/client snapshot for the agent under
// observation. It is replaced wholesale on initial_state and never patched.
type AgentConfig struct {
	Identity     ConfigIdentity `json:"identity"`
	Model        ConfigModel    `json:"model"`
	Client       ConfigClient   `json:"client"`
	Capabilities []string       `json:"capabilities"`
}

type ConfigIdentity struct {
	AgentID     string `json:"agentId"`
	SDKVersion  string `json:"sdkVersion"`
	Environment string `json:"environment"`
}

type ConfigModel struct {
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
}

type ConfigClient struct {
	Platform      string `json:"platform"`
	AppState      string `json:"appState"`
	Permissions   string `json:"permissions"`
	SocketStatus  string `json:"socketStatus"`
	LastHeartbeat string `json:"lastHeartbeat"`
}

// Snapshot is an immutable copy of the view-model handed to observers.
type Snapshot struct {
	Conversations []Conversation
	SelectedID    string
	Metrics       []Metric
	Config        *AgentConfig
	Err           string
}

// Selected returns the selected conversation, if the selected id is present.
func (s Snapshot) Selected() (Conversation, bool) {
	for _, conv := range s.Conversations {
		if conv.ID == s.SelectedID {
			return conv, true
		}
	}
	return Conversation{}, false
}
