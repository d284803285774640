package conn

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

func TestBackoffSequence(t *testing.T) {
	base := 1000 * time.Millisecond
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := Backoff(base, attempt); got != want[attempt-1] {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want[attempt-1], got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{URL: "ws://localhost:8000/ws/dashboard"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	for name, cfg := range map[string]Config{
		"http scheme": {URL: "http://localhost:8000"},
		"no host":     {URL: "ws://"},
		"empty":       {},
	} {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected %s config to fail validation", name)
		}
	}
}

func TestDialURLAppendsAPIKey(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no key", Config{URL: "ws://host/ws"}, "ws://host/ws"},
		{"key", Config{URL: "ws://host/ws", APIKey: "secret"}, "ws://host/ws?api_key=secret"},
		{"key with existing query", Config{URL: "ws://host/ws?v=1", APIKey: "secret"}, "ws://host/ws?v=1&api_key=secret"},
		{"key needing escape", Config{URL: "ws://host/ws", APIKey: "a b&c"}, "ws://host/ws?api_key=a+b%26c"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(tc.cfg, nil)
			if got := m.dialURL(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSendWhileDisconnectedIsNoOp(t *testing.T) {
	m := NewManager(Config{URL: "ws://localhost:9/ws"}, nil)
	m.Send(wire.NewInjectMessage("sess_1", "hello"))
	m.Subscribe(wire.SubscriptionFilters{})

	if got := m.State(); got != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", got)
	}
}

func TestConnectDeliversMessagesAndState(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server, err := newTCP4Server(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api_key"); got != "secret" {
			t.Errorf("expected api_key query parameter, got %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		_, _, _ = conn.ReadMessage()
	}))
	if err != nil {
		t.Skipf("tcp listen not permitted in this environment: %v", err)
	}
	defer server.Close()

	m := NewManager(Config{
		URL:         "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		APIKey:      "secret",
		BaseDelay:   time.Hour,
		MaxAttempts: 1,
	}, nil)
	defer m.Disconnect()

	states := make(chan bool, 8)
	messages := make(chan []byte, 8)
	m.OnConnectionChange(func(connected bool) { states <- connected })
	m.OnMessage(func(payload []byte) { messages <- payload })

	m.Connect()
	// Idempotent: a second Connect while connecting/connected is a no-op.
	m.Connect()

	waitForBool(t, states, true, "connected notification")
	select {
	case payload := <-messages:
		if string(payload) != `{"type":"pong"}` {
			t.Fatalf("unexpected payload %s", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for inbound frame")
	}
	if got := m.State(); got != StateConnected {
		t.Fatalf("expected connected state, got %s", got)
	}
	if got := m.ReconnectAttempt(); got != 0 {
		t.Fatalf("expected attempt counter reset on success, got %d", got)
	}
}

func TestReconnectAfterServerClose(t *testing.T) {
	var upgrades int32
	upgrader := websocket.Upgrader{}
	server, err := newTCP4Server(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&upgrades, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// Abnormal close to trigger the backoff path.
			_ = conn.Close()
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	if err != nil {
		t.Skipf("tcp listen not permitted in this environment: %v", err)
	}
	defer server.Close()

	m := NewManager(Config{
		URL:         "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		BaseDelay:   10 * time.Millisecond,
		MaxAttempts: 5,
	}, nil)
	defer m.Disconnect()

	states := make(chan bool, 16)
	m.OnConnectionChange(func(connected bool) { states <- connected })

	m.Connect()
	waitForBool(t, states, true, "first connect")
	waitForBool(t, states, false, "disconnect on server close")
	waitForBool(t, states, true, "reconnect")

	if atomic.LoadInt32(&upgrades) < 2 {
		t.Fatalf("expected at least 2 upgrades, got %d", upgrades)
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	var upgrades int32
	upgrader := websocket.Upgrader{}
	server, err := newTCP4Server(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upgrades, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	if err != nil {
		t.Skipf("tcp listen not permitted in this environment: %v", err)
	}
	defer server.Close()

	m := NewManager(Config{
		URL:         "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		BaseDelay:   50 * time.Millisecond,
		MaxAttempts: 10,
	}, nil)

	states := make(chan bool, 16)
	m.OnConnectionChange(func(connected bool) { states <- connected })

	m.Connect()
	waitForBool(t, states, true, "first connect")
	waitForBool(t, states, false, "disconnect on server close")

	// A reconnect timer is now pending; Disconnect must cancel it. A dial
	// already in flight is allowed to finish, so settle before sampling.
	m.Disconnect()
	time.Sleep(150 * time.Millisecond)
	seen := atomic.LoadInt32(&upgrades)
	time.Sleep(300 * time.Millisecond)

	if got := atomic.LoadInt32(&upgrades); got != seen {
		t.Fatalf("expected no reconnect after Disconnect, upgrades went %d -> %d", seen, got)
	}
	if got := m.State(); got != StateDisconnected {
		t.Fatalf("expected terminal disconnected state, got %s", got)
	}
}

func TestObserverUnsubscribeAndPanicIsolation(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server, err := newTCP4Server(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		_, _, _ = conn.ReadMessage()
	}))
	if err != nil {
		t.Skipf("tcp listen not permitted in this environment: %v", err)
	}
	defer server.Close()

	m := NewManager(Config{
		URL:         "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		BaseDelay:   time.Hour,
		MaxAttempts: 1,
	}, nil)
	defer m.Disconnect()

	var mu sync.Mutex
	var unsubscribedCalls, survivorCalls int

	unsubscribe := m.OnMessage(func([]byte) {
		mu.Lock()
		unsubscribedCalls++
		mu.Unlock()
	})
	unsubscribe()
	m.OnMessage(func([]byte) { panic("faulty observer") })
	done := make(chan struct{}, 4)
	m.OnMessage(func([]byte) {
		mu.Lock()
		survivorCalls++
		mu.Unlock()
		done <- struct{}{}
	})

	m.Connect()
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i+1)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if unsubscribedCalls != 0 {
		t.Fatalf("expected unsubscribed handler to never run, got %d calls", unsubscribedCalls)
	}
	if survivorCalls != 2 {
		t.Fatalf("expected surviving handler to see both frames despite panic, got %d", survivorCalls)
	}
}

func TestReconnectStopsAtMaxAttempts(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp listen not permitted in this environment: %v", err)
	}
	defer listener.Close()

	// Accept and immediately drop every connection so each dial fails the
	// websocket handshake. Accepted connections count dial attempts.
	var dials int32
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&dials, 1)
			_ = conn.Close()
		}
	}()

	manager := NewManager(Config{
		URL:         "ws://" + listener.Addr().String() + "/ws/dashboard",
		BaseDelay:   5 * time.Millisecond,
		MaxAttempts: 2,
	}, nil)
	defer manager.Disconnect()

	manager.Connect()

	// The explicit connect dials once, then two capped retries.
	waitForDials(t, &dials, 3, "initial dial plus capped retries")

	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&dials); got != 3 {
		t.Fatalf("expected dialing to stop at the attempt cap, got %d dials", got)
	}
	if got := manager.State(); got != StateDisconnected {
		t.Fatalf("expected disconnected state past the cap, got %s", got)
	}
	if got := manager.ReconnectAttempt(); got != 2 {
		t.Fatalf("expected attempt counter held at cap, got %d", got)
	}

	// An explicit Connect resets the counter and dials again.
	manager.Connect()
	waitForDials(t, &dials, 4, "dial after fresh connect")
}

func waitForDials(t *testing.T, dials *int32, want int32, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(dials) < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: got %d dials, want %d", what, atomic.LoadInt32(dials), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForBool(t *testing.T, ch <-chan bool, want bool, what string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
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
