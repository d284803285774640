package wire

import "encoding/json"

// Backend shapes carried by initial_state frames. They are schema-compatible
// supersets of the view-model types; conversion lives with the reducer.

type BackendSession struct {
	ID        string                `json:"id"`
	Timestamp string                `json:"timestamp"`
	Title     string                `json:"title"`
	Preview   string                `json:"preview"`
	Items     []BackendTimelineItem `json:"items"`
}

type BackendTimelineItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Content   string          `json:"content"`
	Details   string          `json:"details,omitempty"`
	Timestamp string          `json:"timestamp"`
	Latency   string          `json:"latency,omitempty"`
	Status    string          `json:"status,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

type BackendMetric struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type BackendConfig struct {
	Identity     BackendIdentity `json:"identity"`
	Model        BackendModel    `json:"model"`
	Client       BackendClient   `json:"client"`
	Capabilities []string        `json:"capabilities"`
}

type BackendIdentity struct {
	AgentID     string `json:"agentId"`
	SDKVersion  string `json:"sdkVersion"`
	Environment string `json:"environment,omitempty"`
}

type BackendModel struct {
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
}

type BackendClient struct {
	Platform      string `json:"platform,omitempty"`
	AppState      string `json:"appState,omitempty"`
	Permissions   string `json:"permissions,omitempty"`
	SocketStatus  string `json:"socketStatus,omitempty"`
	LastHeartbeat string `json:"lastHeartbeat,omitempty"`
}
