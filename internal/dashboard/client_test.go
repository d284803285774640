package dashboard

import (
	"context"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"agentdeck.local/projects/deck-dashboard/internal/state"
	"agentdeck.local/projects/deck-dashboard/internal/subscribers"
	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

const testInitialState = `{
	"type": "initial_state",
	"sessions": [{"id": "sess_a", "title": "Session A", "preview": "hello", "items": []}],
	"metrics": [
		{"label": "Messages", "value": 10},
		{"label": "Errors", "value": 0}
	],
	"config": {
		"identity": {"agentId": "agent_1", "sdkVersion": "1.0.0"},
		"model": {"name": "sim-large", "temperature": 0.7, "topP": 0.9},
		"client": {},
		"capabilities": ["tools"]
	}
}`

type scriptedServer struct {
	*localServer
	mu     sync.Mutex
	frames []string
	recv   chan []byte
}

// newScriptedServer serves a websocket endpoint that pushes the configured
// frames on every accepted connection, then echoes nothing and keeps
// reading so outbound frames can be asserted.
func newScriptedServer(t *testing.T, frames ...string) *scriptedServer {
	t.Helper()
	s := &scriptedServer{frames: frames, recv: make(chan []byte, 16)}
	upgrader := websocket.Upgrader{}
	server, err := newTCP4Server(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.mu.Lock()
		frames := append([]string(nil), s.frames...)
		s.mu.Unlock()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.recv <- payload
		}
	}))
	if err != nil {
		t.Skipf("tcp listen not permitted in this environment: %v", err)
	}
	s.localServer = server
	t.Cleanup(server.Close)
	return s
}

func (s *scriptedServer) setFrames(frames ...string) {
	s.mu.Lock()
	s.frames = frames
	s.mu.Unlock()
}

func (s *scriptedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/dashboard"
}

func newTestClient(t *testing.T, server *scriptedServer, sinks ...subscribers.Subscriber) *Client {
	t.Helper()
	client, err := New(Config{
		Endpoint:             server.wsURL(),
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxAttempts: 3,
	}, nil, sinks...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func waitForSnapshot(t *testing.T, ch <-chan state.Snapshot, ok func(state.Snapshot) bool, what string) state.Snapshot {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snapshot := <-ch:
			if ok(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func waitForConnected(t *testing.T, ch <-chan bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-ch:
			if c {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for connection")
		}
	}
}

func TestNewRejectsInvalidEndpoint(t *testing.T) {
	if _, err := New(Config{Endpoint: "http://not-a-ws"}, nil); err == nil {
		t.Fatalf("expected config error for non-ws endpoint")
	}
}

func TestInitialStateAndEventsFlowIntoSnapshot(t *testing.T) {
	server := newScriptedServer(t,
		testInitialState,
		`{"type":"event","event_type":"message_received","session_id":"sess_a","timestamp":1700000000,"data":{"text":"hi"}}`,
		`{"type":"event","event_type":"agent_response_complete","session_id":"sess_a","timestamp":1700000001,"data":{"final_text":"hello","total_time_ms":500}}`,
	)
	client := newTestClient(t, server)

	snapshots := make(chan state.Snapshot, 32)
	client.OnState(func(s state.Snapshot) { snapshots <- s })

	client.Connect()

	snapshot := waitForSnapshot(t, snapshots, func(s state.Snapshot) bool {
		return len(s.Conversations) == 1 && len(s.Conversations[0].Items) == 2
	}, "both events applied")

	conv := snapshot.Conversations[0]
	if conv.ID != "sess_a" {
		t.Fatalf("unexpected conversation %q", conv.ID)
	}
	if conv.Items[0].Content != "hi" || conv.Items[1].Content != "hello" {
		t.Fatalf("entries out of order: %+v", conv.Items)
	}
	if snapshot.SelectedID != "sess_a" {
		t.Fatalf("expected first session auto-selected, got %q", snapshot.SelectedID)
	}
	if snapshot.Config == nil || snapshot.Config.Identity.AgentID != "agent_1" {
		t.Fatalf("expected config applied, got %+v", snapshot.Config)
	}
}

func TestMalformedAndInvalidFramesAreDropped(t *testing.T) {
	server := newScriptedServer(t,
		testInitialState,
		`{definitely not json`,
		`{"type":"event","event_type":"message_received","session_id":"sess_a"}`,
		`{"type":"event","timestamp":1700000000,"session_id":"sess_a"}`,
		`{"type":"event","event_type":"message_received","session_id":"sess_a","timestamp":1700000000,"data":{"text":"survivor"}}`,
	)
	client := newTestClient(t, server)

	snapshots := make(chan state.Snapshot, 32)
	client.OnState(func(s state.Snapshot) { snapshots <- s })
	client.Connect()

	snapshot := waitForSnapshot(t, snapshots, func(s state.Snapshot) bool {
		return len(s.Conversations) == 1 && len(s.Conversations[0].Items) == 1
	}, "survivor event after malformed frames")

	if got := snapshot.Conversations[0].Items[0].Content; got != "survivor" {
		t.Fatalf("expected only the valid event applied, got %q", got)
	}
}

func TestMalformedFrameLeavesStateUnchanged(t *testing.T) {
	server := newScriptedServer(t, testInitialState)
	client := newTestClient(t, server)

	snapshots := make(chan state.Snapshot, 32)
	client.OnState(func(s state.Snapshot) { snapshots <- s })
	client.Connect()

	waitForSnapshot(t, snapshots, func(s state.Snapshot) bool {
		return len(s.Conversations) == 1
	}, "initial state")

	before := client.Snapshot()
	client.handleFrame([]byte("{broken"))
	after := client.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("expected malformed frame to leave state byte-for-byte unchanged")
	}
}

func TestServerErrorSurfacesAndClearsOnReconnect(t *testing.T) {
	server := newScriptedServer(t,
		testInitialState,
		`{"type":"error","message":"backend exploded"}`,
	)
	client := newTestClient(t, server)

	snapshots := make(chan state.Snapshot, 32)
	client.OnState(func(s state.Snapshot) { snapshots <- s })
	client.Connect()

	waitForSnapshot(t, snapshots, func(s state.Snapshot) bool {
		return s.Err == "backend exploded"
	}, "error banner")

	// A fresh connection clears the banner.
	server.setFrames(testInitialState)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := client.Snapshot().Err; got != "" {
		t.Fatalf("expected error cleared after reconnect, got %q", got)
	}
}

func TestRefreshAwaitsInitialState(t *testing.T) {
	server := newScriptedServer(t, testInitialState)
	client := newTestClient(t, server)
	client.Connect()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if len(client.Snapshot().Conversations) != 1 {
		t.Fatalf("expected refreshed initial state")
	}
}

func TestRefreshHonorsContextCancellation(t *testing.T) {
	// Server that upgrades but never sends an initial_state.
	server := newScriptedServer(t)
	client := newTestClient(t, server)
	client.Connect()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := client.Refresh(ctx); err == nil {
		t.Fatalf("expected refresh to fail when no initial_state arrives")
	}
}

func TestInjectMessageAndSubscribeReachServer(t *testing.T) {
	server := newScriptedServer(t, testInitialState)
	client := newTestClient(t, server)

	connected := make(chan bool, 8)
	client.OnConnectionChange(func(c bool) { connected <- c })
	client.Connect()

	waitForConnected(t, connected)
	client.Subscribe(wire.SubscriptionFilters{SessionIDs: []string{"sess_a"}})
	client.InjectMessage("sess_a", "playground hello")

	var got []string
	for len(got) < 2 {
		select {
		case payload := <-server.recv:
			got = append(got, string(payload))
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for outbound frames, got %v", got)
		}
	}
	if !strings.Contains(got[0], `"type":"subscribe"`) {
		t.Fatalf("expected subscribe frame first, got %s", got[0])
	}
	if !strings.Contains(got[1], `"type":"inject_message"`) || !strings.Contains(got[1], "playground hello") {
		t.Fatalf("unexpected inject frame %s", got[1])
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []wire.Event
	seen   chan struct{}
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Handle(_ context.Context, event wire.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	r.seen <- struct{}{}
	return nil
}

func TestSinksReceiveValidatedEvents(t *testing.T) {
	server := newScriptedServer(t,
		testInitialState,
		`{"type":"event","event_type":"tool_call_start","session_id":"sess_a","timestamp":1700000000,"data":{"tool_name":"grep"}}`,
	)
	sink := &recordingSink{seen: make(chan struct{}, 8)}
	client := newTestClient(t, server, sink)
	client.Connect()

	select {
	case <-sink.seen:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for sink delivery")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 sink event, got %d", len(sink.events))
	}
	if sink.events[0].EventType != wire.EventTypeToolCallStart {
		t.Fatalf("unexpected sink event %+v", sink.events[0])
	}
}

func TestSelectAndClearCommands(t *testing.T) {
	server := newScriptedServer(t, testInitialState)
	client := newTestClient(t, server)

	snapshots := make(chan state.Snapshot, 32)
	client.OnState(func(s state.Snapshot) { snapshots <- s })
	client.Connect()

	waitForSnapshot(t, snapshots, func(s state.Snapshot) bool {
		return len(s.Conversations) == 1
	}, "initial state")

	client.SelectConversation("sess_missing")
	snapshot := waitForSnapshot(t, snapshots, func(s state.Snapshot) bool {
		return s.SelectedID == "sess_missing"
	}, "selection update")
	if _, ok := snapshot.Selected(); ok {
		t.Fatalf("expected unknown selection to resolve no conversation")
	}

	client.ClearConversations()
	waitForSnapshot(t, snapshots, func(s state.Snapshot) bool {
		return len(s.Conversations) == 0 && s.SelectedID == ""
	}, "clear")
}

func newTCP4Server(handler http.Handler) (*localServer, error) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &http.Server{Handler: handler}
	go func() {
		_ = server.Serve(listener)
	}()
	return &localServer{
		URL:      "http://" + listener.Addr().String(),
		listener: listener,
		server:   server,
	}, nil
}

type localServer struct {
	URL      string
	listener net.Listener
	server   *http.Server
}

func (s *localServer) Close() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	_ = s.listener.Close()
}
