package state

import (
	"encoding/json"
	"log"

	"agentdeck.local/projects/deck-dashboard/internal/timeline"
	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

// convertSession maps a backend session onto the view-model shape. Items with
// an unrecognized type string are dropped as invalid rather than coerced.
func convertSession(session wire.BackendSession, logger *log.Logger) Conversation {
	items := make([]timeline.Entry, 0, len(session.Items))
	for _, item := range session.Items {
		entry, ok := convertItem(item)
		if !ok {
			logger.Printf("dropping backend timeline item with unknown type session_id=%s item_id=%s type=%q", session.ID, item.ID, item.Type)
			continue
		}
		items = append(items, entry)
	}

	return Conversation{
		ID:        session.ID,
		Timestamp: session.Timestamp,
		Title:     session.Title,
		Preview:   session.Preview,
		Items:     items,
	}
}

func convertItem(item wire.BackendTimelineItem) (timeline.Entry, bool) {
	kind, ok := timeline.ParseKind(item.Type)
	if !ok {
		return timeline.Entry{}, false
	}

	entry := timeline.Entry{
		ID:        item.ID,
		Kind:      kind,
		Content:   item.Content,
		Details:   item.Details,
		Timestamp: item.Timestamp,
		Latency:   item.Latency,
		Status:    timeline.Status(item.Status),
	}
	if len(item.Raw) > 0 {
		var raw any
		if err := json.Unmarshal(item.Raw, &raw); err == nil {
			entry.Raw = raw
		}
	}
	return entry, true
}

func convertMetrics(metrics []wire.BackendMetric) []Metric {
	converted := make([]Metric, 0, len(metrics))
	for _, m := range metrics {
		converted = append(converted, Metric{Label: m.Label, Value: m.Value})
	}
	return converted
}

func convertConfig(config wire.BackendConfig) *AgentConfig {
	converted := &AgentConfig{
		Identity: ConfigIdentity{
			AgentID:     config.Identity.AgentID,
			SDKVersion:  config.Identity.SDKVersion,
			Environment: orDefault(config.Identity.Environment, "development"),
		},
		Model: ConfigModel{
			Name:        config.Model.Name,
			Temperature: config.Model.Temperature,
			TopP:        config.Model.TopP,
		},
		Client: ConfigClient{
			Platform:      orDefault(config.Client.Platform, "Unknown"),
			AppState:      orDefault(config.Client.AppState, "foreground"),
			Permissions:   orDefault(config.Client.Permissions, "granted"),
			SocketStatus:  orDefault(config.Client.SocketStatus, "connected"),
			LastHeartbeat: orDefault(config.Client.LastHeartbeat, "0ms ago"),
		},
		Capabilities: config.Capabilities,
	}
	if converted.Capabilities == nil {
		converted.Capabilities = []string{}
	}
	return converted
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
