package dashboard

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"agentdeck.local/projects/deck-dashboard/internal/conn"
	"agentdeck.local/projects/deck-dashboard/internal/dispatch"
	"agentdeck.local/projects/deck-dashboard/internal/state"
	"agentdeck.local/projects/deck-dashboard/internal/subscribers"
	"agentdeck.local/projects/deck-dashboard/internal/wire"
)

type Config struct {
	// Endpoint is the dashboard WebSocket URL.
	Endpoint string
	// APIKey is appended to the endpoint at connect time when set.
	APIKey string
	// ReconnectBaseDelay and ReconnectMaxAttempts tune the backoff; zero
	// values take the connection manager defaults.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
}

// Client owns the full ingestion pipeline: one connection manager, the
// view-model store, the observer registry, and the optional event sinks.
// Lifecycle is New -> Connect -> ... -> Close; a Client is not reusable
// after Close.
type Client struct {
	logger     *log.Logger
	manager    *conn.Manager
	store      *state.Store
	dispatcher *dispatch.Dispatcher

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc

	mu             sync.Mutex
	closed         bool
	nextHandle     int
	stateHandlers  map[int]func(state.Snapshot)
	connHandlers   map[int]func(bool)
	refreshWaiters []chan struct{}

	unsubMessage func()
	unsubConn    func()
}

// New validates the config and builds a client. Sinks receive every
// validated event; pass none to run without the sink pipeline.
func New(cfg Config, logger *log.Logger, sinks ...subscribers.Subscriber) (*Client, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	connCfg := conn.Config{
		URL:         cfg.Endpoint,
		APIKey:      cfg.APIKey,
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}
	if err := connCfg.Validate(); err != nil {
		return nil, fmt.Errorf("dashboard config: %w", err)
	}

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	c := &Client{
		logger:         logger,
		manager:        conn.NewManager(connCfg, logger),
		store:          state.NewStore(logger),
		dispatchCtx:    dispatchCtx,
		dispatchCancel: dispatchCancel,
		stateHandlers:  map[int]func(state.Snapshot){},
		connHandlers:   map[int]func(bool){},
	}
	if len(sinks) > 0 {
		c.dispatcher = dispatch.New(logger, sinks)
	}

	c.unsubMessage = c.manager.OnMessage(c.handleFrame)
	c.unsubConn = c.manager.OnConnectionChange(c.handleConnectionChange)
	return c, nil
}

// Connect starts connecting; results surface through observers.
func (c *Client) Connect() {
	c.manager.Connect()
}

// Disconnect tears the connection down and cancels pending reconnects.
func (c *Client) Disconnect() {
	c.manager.Disconnect()
}

// Close disconnects and releases the client. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.unsubMessage()
	c.unsubConn()
	c.manager.Disconnect()
	c.dispatchCancel()
}

// Subscribe asks the server to filter the stream by session ids or event
// types.
func (c *Client) Subscribe(filters wire.SubscriptionFilters) {
	c.manager.Subscribe(filters)
}

// InjectMessage sends a playground message into a session.
func (c *Client) InjectMessage(sessionID, text string) {
	c.manager.InjectMessage(sessionID, text)
}

// SelectConversation records the selection. Unknown ids are legal and
// resolve to no conversation downstream.
func (c *Client) SelectConversation(id string) {
	c.store.Select(id)
	c.notifyState()
}

// ClearConversations empties conversations and selection in one step.
func (c *Client) ClearConversations() {
	c.store.Clear()
	c.notifyState()
}

// Refresh forces a disconnect and reconnect, returning once the server has
// delivered a fresh initial_state or the context ends.
func (c *Client) Refresh(ctx context.Context) error {
	ch := make(chan struct{})
	c.mu.Lock()
	c.refreshWaiters = append(c.refreshWaiters, ch)
	c.mu.Unlock()

	c.manager.Disconnect()
	c.manager.Connect()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		c.dropRefreshWaiter(ch)
		return ctx.Err()
	}
}

func (c *Client) Snapshot() state.Snapshot {
	return c.store.Snapshot()
}

func (c *Client) ConnectionState() conn.State {
	return c.manager.State()
}

func (c *Client) ReconnectAttempt() int {
	return c.manager.ReconnectAttempt()
}

// OnState registers an observer for view-model snapshots; it fires after
// every state change. Returns the unsubscribe handle.
func (c *Client) OnState(fn func(state.Snapshot)) func() {
	c.mu.Lock()
	id := c.nextHandle
	c.nextHandle++
	c.stateHandlers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.stateHandlers, id)
		c.mu.Unlock()
	}
}

// OnConnectionChange registers an observer for connection transitions.
func (c *Client) OnConnectionChange(fn func(connected bool)) func() {
	c.mu.Lock()
	id := c.nextHandle
	c.nextHandle++
	c.connHandlers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.connHandlers, id)
		c.mu.Unlock()
	}
}

// handleFrame is the single ingestion point; frames arrive serialized from
// the connection read loop. No frame, however malformed, may crash it.
func (c *Client) handleFrame(payload []byte) {
	frame, err := wire.Decode(payload)
	if err != nil {
		c.logger.Printf("dropping malformed frame: %v", err)
		return
	}

	switch frame.Type {
	case wire.FrameTypeInitialState:
		c.store.ApplyInitialState(frame)
		c.signalRefreshWaiters()
		c.notifyState()

	case wire.FrameTypeEvent:
		event, err := frame.Event()
		if err != nil {
			c.logger.Printf("dropping invalid event frame: %v", err)
			return
		}
		if c.dispatcher != nil {
			c.dispatcher.Dispatch(c.dispatchCtx, event)
		}
		if c.store.ApplyEvent(event) {
			c.notifyState()
		}

	case wire.FrameTypeError:
		message := frame.Message
		if message == "" {
			message = "Unknown error"
		}
		c.store.SetError(message)
		c.notifyState()

	case wire.FrameTypeInjectMessageResponse:
		if frame.Success != nil && !*frame.Success {
			c.logger.Printf("inject_message rejected by server")
		}

	case wire.FrameTypePong:
		// Keepalive, nothing to fold.

	default:
		c.logger.Printf("ignoring frame with unhandled type %q", frame.Type)
	}
}

func (c *Client) handleConnectionChange(connected bool) {
	if connected {
		c.store.ClearError()
	} else {
		c.store.SetError("Disconnected from server")
	}
	c.notifyState()

	for _, fn := range c.snapshotConnHandlers() {
		c.safeCall(func() { fn(connected) })
	}
}

func (c *Client) notifyState() {
	snapshot := c.store.Snapshot()
	for _, fn := range c.snapshotStateHandlers() {
		c.safeCall(func() { fn(snapshot) })
	}
}

// safeCall keeps one faulty observer from breaking delivery to the rest.
func (c *Client) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("observer panic recovered: %v", r)
		}
	}()
	fn()
}

func (c *Client) snapshotStateHandlers() []func(state.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]int, 0, len(c.stateHandlers))
	for id := range c.stateHandlers {
		keys = append(keys, id)
	}
	sort.Ints(keys)
	handlers := make([]func(state.Snapshot), 0, len(keys))
	for _, id := range keys {
		handlers = append(handlers, c.stateHandlers[id])
	}
	return handlers
}

func (c *Client) snapshotConnHandlers() []func(bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]int, 0, len(c.connHandlers))
	for id := range c.connHandlers {
		keys = append(keys, id)
	}
	sort.Ints(keys)
	handlers := make([]func(bool), 0, len(keys))
	for _, id := range keys {
		handlers = append(handlers, c.connHandlers[id])
	}
	return handlers
}

func (c *Client) signalRefreshWaiters() {
	c.mu.Lock()
	waiters := c.refreshWaiters
	c.refreshWaiters = nil
	c.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func (c *Client) dropRefreshWaiter(ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, waiter := range c.refreshWaiters {
		if waiter == ch {
			c.refreshWaiters = append(c.refreshWaiters[:i], c.refreshWaiters[i+1:]...)
			return
		}
	}
}
