package state

import (
	"io"
	"log"
	"math"
	"sync"
	"time"

	"agentdeck.local/projects/deck-dashboard/internal/timeline"
	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

// Store owns the canonical in-memory view-model. All mutation goes through
// Apply*/Select/Clear; callers never hold references into the internals.
// Frames arrive serialized on the connection read loop, the mutex only
// guards against UI commands issued from other goroutines.
type Store struct {
	logger *log.Logger

	mu            sync.Mutex
	order         []string
	conversations map[string]*Conversation
	metrics       []Metric
	config        *AgentConfig
	selectedID    string
	lastError     string
}

func NewStore(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		logger:        logger,
		conversations: map[string]*Conversation{},
	}
}

// ApplyInitialState replaces sessions, metrics and config wholesale with
// whatever the frame carries; sections absent from the frame are untouched.
// If nothing is selected, the first server-provided session becomes selected.
func (s *Store) ApplyInitialState(frame wire.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if frame.Sessions != nil {
		s.order = s.order[:0]
		s.conversations = make(map[string]*Conversation, len(frame.Sessions))
		for _, session := range frame.Sessions {
			conv := convertSession(session, s.logger)
			s.order = append(s.order, conv.ID)
			s.conversations[conv.ID] = &conv
		}
		if s.selectedID == "" && len(s.order) > 0 {
			s.selectedID = s.order[0]
		}
	}

	if frame.Metrics != nil {
		s.metrics = convertMetrics(frame.Metrics)
	}

	if frame.Config != nil {
		s.config = convertConfig(*frame.Config)
	}
}

// ApplyEvent folds one validated event into the view-model and reports
// whether anything changed.
func (s *Store) ApplyEvent(event wire.Event) bool {
	if event.IsGlobal() {
		switch event.EventType {
		case wire.EventTypeDashboardConnected, wire.EventTypeDashboardTest:
			s.logger.Printf("observed %s event", event.EventType)
			return false
		case wire.EventTypeMetricsUpdated:
			return s.patchMetrics(event)
		}
	}

	if event.SessionID == "" {
		s.logger.Printf("dropping event without session_id event_type=%s", event.EventType)
		return false
	}

	entry, ok := timeline.Project(event)
	if !ok {
		s.logger.Printf("event type has no timeline projection event_type=%s", event.EventType)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, exists := s.conversations[event.SessionID]; exists {
		// A session only gets created once; a repeat announcement is noise.
		if event.EventType == wire.EventTypeSessionCreated {
			s.logger.Printf("ignoring session_created for known session session_id=%s", event.SessionID)
			return false
		}
		conv.Items = append(conv.Items, entry)
		return true
	}

	if event.EventType != wire.EventTypeSessionCreated {
		s.logger.Printf("dropping event for unknown session session_id=%s event_type=%s", event.SessionID, event.EventType)
		return false
	}

	conv := &Conversation{
		ID:        event.SessionID,
		Timestamp: time.Unix(int64(event.Timestamp), 0).Local().Format("2006-01-02 15:04:05"),
		Title:     "Session " + shortID(event.SessionID),
		Preview:   "New session",
		Items:     []timeline.Entry{entry},
	}
	s.order = append([]string{conv.ID}, s.order...)
	s.conversations[conv.ID] = conv
	if s.selectedID == "" {
		s.selectedID = conv.ID
	}
	return true
}

// patchMetrics updates only the metric labels present in the event payload;
// absent fields leave their metrics untouched. Labels missing from the
// current snapshot are not invented.
func (s *Store) patchMetrics(event wire.Event) bool {
	var data struct {
		TotalMessages    *float64 `json:"total_messages"`
		TotalToolCalls   *float64 `json:"total_tool_calls"`
		TotalErrors      *float64 `json:"total_errors"`
		AverageLatencyMS *float64 `json:"average_latency_ms"`
	}
	if err := event.DecodeData(&data); err != nil {
		s.logger.Printf("dropping metrics_updated with malformed data: %v", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if data.TotalMessages != nil {
		changed = s.setMetric(MetricLabelMessages, *data.TotalMessages) || changed
	}
	if data.TotalToolCalls != nil {
		changed = s.setMetric(MetricLabelToolCalls, *data.TotalToolCalls) || changed
	}
	if data.TotalErrors != nil {
		changed = s.setMetric(MetricLabelErrors, *data.TotalErrors) || changed
	}
	if data.AverageLatencyMS != nil {
		changed = s.setMetric(MetricLabelLatency, math.Round(*data.AverageLatencyMS)) || changed
	}
	return changed
}

func (s *Store) setMetric(label string, value float64) bool {
	for i := range s.metrics {
		if s.metrics[i].Label == label {
			s.metrics[i].Value = value
			return true
		}
	}
	return false
}

// Select records the chosen conversation id. Selecting an id not present in
// the session map is legal; the snapshot simply resolves no conversation.
func (s *Store) Select(id string) {
	s.mu.Lock()
	s.selectedID = id
	s.mu.Unlock()
}

func (s *Store) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// Clear atomically empties conversations and selection. Metrics and config
// are left as-is.
func (s *Store) Clear() {
	s.mu.Lock()
	s.order = nil
	s.conversations = map[string]*Conversation{}
	s.selectedID = ""
	s.mu.Unlock()
}

func (s *Store) SetError(message string) {
	s.mu.Lock()
	s.lastError = message
	s.mu.Unlock()
}

func (s *Store) ClearError() {
	s.SetError("")
}

// Snapshot copies the current view-model. Conversations and their item
// slices are copied so observers can never alias reducer-owned memory.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversations := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		conv := s.conversations[id]
		copied := *conv
		copied.Items = append([]timeline.Entry(nil), conv.Items...)
		conversations = append(conversations, copied)
	}

	snapshot := Snapshot{
		Conversations: conversations,
		SelectedID:    s.selectedID,
		Metrics:       append([]Metric(nil), s.metrics...),
		Err:           s.lastError,
	}
	if s.config != nil {
		copied := *s.config
		copied.Capabilities = append([]string(nil), s.config.Capabilities...)
		snapshot.Config = &copied
	}
	return snapshot
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
