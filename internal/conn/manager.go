package conn

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 10
	ioTimeout          = 10 * time.Second
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

type Config struct {
	// URL is the dashboard WebSocket endpoint, e.g. ws://localhost:8000/ws/dashboard.
	URL string
	// APIKey, when set, is appended to the URL as an api_key query parameter.
	APIKey string
	// BaseDelay seeds the reconnect backoff; delay = BaseDelay * 2^(attempt-1).
	BaseDelay time.Duration
	// MaxAttempts caps reconnect attempts; past the cap the manager stays
	// disconnected until an explicit Connect.
	MaxAttempts int
}

func (c Config) Validate() error {
	parsed, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil {
		return fmt.Errorf("dashboard url is invalid: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("dashboard url must use ws or wss scheme")
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("dashboard url must include a host")
	}
	return nil
}

// Backoff returns the deterministic reconnect delay for a 1-based attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Manager owns at most one live dashboard connection. Connect and Disconnect
// return immediately; results surface through the registered observers.
// Inbound frames are delivered sequentially from a single read loop, so
// downstream consumers see them serialized.
type Manager struct {
	cfg    Config
	logger *log.Logger

	mu             sync.Mutex
	writeMu        sync.Mutex
	conn           *websocket.Conn
	state          State
	attempts       int
	gen            uint64
	reconnectTimer *time.Timer

	nextHandle      int
	messageHandlers map[int]func([]byte)
	connHandlers    map[int]func(bool)
}

func NewManager(cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Manager{
		cfg:             cfg,
		logger:          logger,
		state:           StateDisconnected,
		messageHandlers: map[int]func([]byte){},
		connHandlers:    map[int]func(bool){},
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempt returns the current 0-based attempt counter. It resets to
// zero on a successful connection and on an explicit Connect.
func (m *Manager) ReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect starts connecting unless a connection is already live or pending.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.attempts = 0
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.mu.Unlock()

	go m.dial(gen)
}

// Disconnect tears down the connection and cancels any pending reconnect.
// Always safe to call; the manager stays disconnected until Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	wasConnected := m.state == StateConnected
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(500*time.Millisecond))
		_ = conn.Close()
	}
	if wasConnected {
		m.notifyConnection(false)
	}
}

// Send writes one JSON message. Not connected is a logged no-op; messages
// are never queued.
func (m *Manager) Send(message any) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.logger.Printf("cannot send message: not connected")
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(ioTimeout)); err != nil {
		m.logger.Printf("set write deadline: %v", err)
		return
	}
	if err := conn.WriteJSON(message); err != nil {
		m.logger.Printf("write message: %v", err)
	}
}

// Subscribe asks the server to filter the event stream.
func (m *Manager) Subscribe(filters wire.SubscriptionFilters) {
	m.Send(wire.NewSubscribe(filters))
}

// InjectMessage sends a playground message into a session.
func (m *Manager) InjectMessage(sessionID, text string) {
	m.Send(wire.NewInjectMessage(sessionID, text))
}

// OnMessage registers a raw-frame observer and returns its unsubscribe.
func (m *Manager) OnMessage(fn func(payload []byte)) func() {
	m.mu.Lock()
	id := m.nextHandle
	m.nextHandle++
	m.messageHandlers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.messageHandlers, id)
		m.mu.Unlock()
	}
}

// OnConnectionChange registers a connection-state observer and returns its
// unsubscribe.
func (m *Manager) OnConnectionChange(fn func(connected bool)) func() {
	m.mu.Lock()
	id := m.nextHandle
	m.nextHandle++
	m.connHandlers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.connHandlers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) dial(gen uint64) {
	dialer := websocket.Dialer{HandshakeTimeout: ioTimeout}
	conn, resp, err := dialer.Dial(m.dialURL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		m.logger.Printf("dial dashboard websocket: %v", err)
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.state = StateDisconnected
		m.mu.Unlock()
		m.notifyConnection(false)
		m.scheduleReconnect(gen)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.mu.Unlock()

	m.logger.Printf("connected to dashboard endpoint")
	m.notifyConnection(true)
	go m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			m.mu.Lock()
			if gen != m.gen {
				m.mu.Unlock()
				return
			}
			m.conn = nil
			m.state = StateDisconnected
			m.mu.Unlock()

			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Printf("read dashboard message: %v", err)
			}
			m.notifyConnection(false)
			m.scheduleReconnect(gen)
			return
		}
		m.deliver(payload)
	}
}

func (m *Manager) scheduleReconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxAttempts {
		m.mu.Unlock()
		m.logger.Printf("max reconnection attempts reached attempts=%d", m.cfg.MaxAttempts)
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := Backoff(m.cfg.BaseDelay, attempt)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.reconnectTimer = nil
		m.state = StateConnecting
		m.mu.Unlock()
		m.dial(gen)
	})
	m.mu.Unlock()

	m.logger.Printf("reconnecting in %s attempt=%d/%d", delay, attempt, m.cfg.MaxAttempts)
}

func (m *Manager) deliver(payload []byte) {
	for _, fn := range m.snapshotMessageHandlers() {
		m.safeCall(func() { fn(payload) })
	}
}

func (m *Manager) notifyConnection(connected bool) {
	for _, fn := range m.snapshotConnHandlers() {
		m.safeCall(func() { fn(connected) })
	}
}

// safeCall shields delivery from a faulty handler so the remaining handlers
// still run and the read loop survives.
func (m *Manager) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("observer panic recovered: %v", r)
		}
	}()
	fn()
}

func (m *Manager) snapshotMessageHandlers() []func([]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]int, 0, len(m.messageHandlers))
	for id := range m.messageHandlers {
		keys = append(keys, id)
	}
	sort.Ints(keys)
	handlers := make([]func([]byte), 0, len(keys))
	for _, id := range keys {
		handlers = append(handlers, m.messageHandlers[id])
	}
	return handlers
}

func (m *Manager) snapshotConnHandlers() []func(bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]int, 0, len(m.connHandlers))
	for id := range m.connHandlers {
		keys = append(keys, id)
	}
	sort.Ints(keys)
	handlers := make([]func(bool), 0, len(keys))
	for _, id := range keys {
		handlers = append(handlers, m.connHandlers[id])
	}
	return handlers
}

func (m *Manager) dialURL() string {
	if strings.TrimSpace(m.cfg.APIKey) == "" {
		return m.cfg.URL
	}
	separator := "?"
	if strings.Contains(m.cfg.URL, "?") {
		separator = "&"
	}
	return m.cfg.URL + separator + "api_key=" + url.QueryEscape(m.cfg.APIKey)
}
