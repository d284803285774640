package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

// deck-sim is a scripted stand-in for the agent backend. It speaks the
// dashboard protocol over /ws/dashboard: an initial_state snapshot on
// connect, a synthetic event stream after it, and responses for the
// subscribe and inject_message commands.
func main() {
	logger := log.New(os.Stderr, "deck-sim ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	addr := strings.TrimSpace(os.Getenv("DECK_SIM_ADDR"))
	if addr == "" {
		addr = ":3001"
	}
	apiKey := strings.TrimSpace(os.Getenv("DECK_SIM_API_KEY"))
	interval := 2 * time.Second
	if raw := strings.TrimSpace(os.Getenv("DECK_SIM_EVENT_INTERVAL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			logger.Fatalf("DECK_SIM_EVENT_INTERVAL must be a positive duration, got %q", raw)
		}
		interval = parsed
	}

	sim := &simulator{
		logger:   logger,
		apiKey:   apiKey,
		interval: interval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/dashboard", sim.handleDashboard)
	server := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening addr=%s interval=%s auth=%t", addr, interval, apiKey != "")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

type simulator struct {
	logger   *log.Logger
	apiKey   string
	interval time.Duration
}

type serverFrame struct {
	Type      string                `json:"type"`
	EventType string                `json:"event_type,omitempty"`
	SessionID string                `json:"session_id,omitempty"`
	Timestamp *float64              `json:"timestamp,omitempty"`
	Data      any                   `json:"data,omitempty"`
	Sessions  []wire.BackendSession `json:"sessions,omitempty"`
	Metrics   []wire.BackendMetric  `json:"metrics,omitempty"`
	Config    *wire.BackendConfig   `json:"config,omitempty"`
	Success   *bool                 `json:"success,omitempty"`
	Message   string                `json:"message,omitempty"`
}

type clientFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Text      string          `json:"text"`
	Filters   json.RawMessage `json:"filters"`
}

type sessionFilters struct {
	SessionIDs []string `json:"session_ids"`
	EventTypes []string `json:"event_types"`
}

func (s *simulator) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && r.URL.Query().Get("api_key") != s.apiKey {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade failed remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	s.logger.Printf("dashboard connected remote=%s", r.RemoteAddr)

	session := &simSession{
		logger: s.logger,
		conn:   conn,
		done:   make(chan struct{}),
	}
	defer session.close()

	if err := session.write(initialStateFrame()); err != nil {
		s.logger.Printf("initial state write failed: %v", err)
		return
	}

	go session.emitLoop(s.interval)
	session.readLoop()
}

type simSession struct {
	logger *log.Logger
	conn   *websocket.Conn

	writeMu   sync.Mutex
	filtersMu sync.Mutex
	filters   *sessionFilters

	closeOnce sync.Once
	done      chan struct{}
}

func (s *simSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *simSession) write(frame serverFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *simSession) readLoop() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Printf("dashboard disconnected: %v", err)
			s.close()
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.logger.Printf("dropping malformed client frame: %v", err)
			continue
		}

		switch frame.Type {
		case "subscribe":
			s.applyFilters(frame.Filters)
		case "inject_message":
			s.handleInject(frame)
		case "ping":
			_ = s.write(serverFrame{Type: "pong"})
		default:
			s.logger.Printf("ignoring client frame type=%q", frame.Type)
		}
	}
}

func (s *simSession) applyFilters(raw json.RawMessage) {
	if len(raw) == 0 {
		s.filtersMu.Lock()
		s.filters = nil
		s.filtersMu.Unlock()
		s.logger.Printf("subscription filters cleared")
		return
	}
	var filters sessionFilters
	if err := json.Unmarshal(raw, &filters); err != nil {
		s.logger.Printf("dropping malformed filters: %v", err)
		return
	}
	s.filtersMu.Lock()
	s.filters = &filters
	s.filtersMu.Unlock()
	s.logger.Printf("subscription filters applied sessions=%v types=%v", filters.SessionIDs, filters.EventTypes)
}

func (s *simSession) handleInject(frame clientFrame) {
	accepted := strings.TrimSpace(frame.SessionID) != "" && strings.TrimSpace(frame.Text) != ""
	response := serverFrame{Type: "inject_message_response", SessionID: frame.SessionID, Success: &accepted}
	if !accepted {
		response.Message = "session_id and text are required"
	}
	if err := s.write(response); err != nil {
		return
	}
	if !accepted {
		return
	}
	// Echo the injected text back as a user message on the session.
	s.send(frame.SessionID, "message_received", map[string]any{
		"text": frame.Text,
	})
}

// emitLoop plays a repeating script of agent activity until the
// connection drops.
func (s *simSession) emitLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sessions := []string{"sess_alpha_001", "sess_beta_002"}
	tools := []string{"search_code", "read_file", "run_tests"}
	step := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		sessionID := sessions[step%len(sessions)]
		tool := tools[step%len(tools)]
		switch step % 6 {
		case 0:
			s.send(sessionID, "message_received", map[string]any{"text": fmt.Sprintf("user prompt %d", step)})
		case 1:
			s.send(sessionID, "tool_call_start", map[string]any{
				"tool_name":      tool,
				"tool_arguments": map[string]any{"query": fmt.Sprintf("step-%d", step)},
			})
		case 2:
			if rand.Intn(8) == 0 {
				s.send(sessionID, "tool_call_error", map[string]any{"tool_name": tool, "error": "tool timed out"})
			} else {
				s.send(sessionID, "tool_call_complete", map[string]any{"tool_name": tool})
			}
		case 3:
			s.send(sessionID, "agent_response_complete", map[string]any{
				"final_text":    fmt.Sprintf("done with step %d", step),
				"total_time_ms": float64(500 + rand.Intn(4000)),
			})
		case 4:
			s.send("", "metrics_updated", map[string]any{
				"total_messages":     float64(step + 1),
				"total_tool_calls":   float64(step / 2),
				"average_latency_ms": 200 + rand.Float64()*800,
			})
		case 5:
			if step%30 == 5 {
				newID := fmt.Sprintf("sess_run_%03d", step)
				sessions = append(sessions, newID)
				s.send(newID, "session_created", map[string]any{})
			}
		}
		step++
	}
}

func (s *simSession) send(sessionID, eventType string, data map[string]any) {
	if !s.allowed(sessionID, eventType) {
		return
	}
	ts := float64(time.Now().Unix())
	frame := serverFrame{
		Type:      "event",
		EventType: eventType,
		SessionID: sessionID,
		Timestamp: &ts,
		Data:      data,
	}
	if err := s.write(frame); err != nil {
		s.close()
	}
}

func (s *simSession) allowed(sessionID, eventType string) bool {
	s.filtersMu.Lock()
	filters := s.filters
	s.filtersMu.Unlock()
	if filters == nil {
		return true
	}
	// Global events pass the session filter unconditionally.
	if len(filters.SessionIDs) > 0 && sessionID != "" && !contains(filters.SessionIDs, sessionID) {
		return false
	}
	if len(filters.EventTypes) > 0 && !contains(filters.EventTypes, eventType) {
		return false
	}
	return true
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func initialStateFrame() serverFrame {
	return serverFrame{
		Type: "initial_state",
		Sessions: []wire.BackendSession{
			{
				ID:      "sess_alpha_001",
				Title:   "Refactor auth middleware",
				Preview: "Working through the token refresh path",
				Items: []wire.BackendTimelineItem{
					{
						ID:        "msg_seed_1",
						Type:      "USER",
						Content:   "Can you refactor the auth middleware?",
						Timestamp: "09:14:02",
					},
					{
						ID:        "msg_seed_2",
						Type:      "AGENT",
						Content:   "Starting with the token refresh path.",
						Timestamp: "09:14:05",
						Latency:   "+0.41s",
						Status:    "success",
					},
				},
			},
			{
				ID:      "sess_beta_002",
				Title:   "Investigate flaky tests",
				Preview: "Bisecting the failing suite",
				Items:   []wire.BackendTimelineItem{},
			},
		},
		Metrics: []wire.BackendMetric{
			{Label: "Messages", Value: 12},
			{Label: "Tool Calls", Value: 7},
			{Label: "Errors", Value: 0},
			{Label: "Latency (p95)", Value: 640},
		},
		Config: &wire.BackendConfig{
			Identity: wire.BackendIdentity{
				AgentID:     "agent_sim_001",
				SDKVersion:  "0.9.3",
				Environment: "development",
			},
			Model: wire.BackendModel{
				Name:        "deck-sim-large",
				Temperature: 0.7,
				TopP:        0.95,
			},
			Client: wire.BackendClient{
				Platform: "linux",
				AppState: "foreground",
			},
			Capabilities: []string{"tools", "streaming"},
		},
	}
}
