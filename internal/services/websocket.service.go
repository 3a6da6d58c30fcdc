package services

import (
	"sync"
	"sync/atomic"
	"time"

	"monsoon/internal/errors"
	"monsoon/internal/logger"
	"monsoon/internal/models"

	"github.com/gorilla/websocket"
)

// Message types exchanged over the push channel
const (
	MessageSubscribe             = "subscribe"
	MessageUnsubscribe           = "unsubscribe"
	MessageSubscribeProcesses    = "subscribe_processes"
	MessageUnsubscribeProcesses  = "unsubscribe_processes"
	MessagePing                  = "ping"
	MessagePong                  = "pong"
	MessageAuth                  = "auth"
	MessageAuthSuccess           = "auth_success"
	MessageAuthError             = "auth_error"
	MessageCapabilities          = "capabilities"
	MessageSamples               = "samples"
	MessageUnsubscribed          = "unsubscribed"
	MessageProcessesSubscribed   = "processes_subscribed"
	MessageProcesses             = "processes"
	MessageProcessesUnsubscribed = "processes_unsubscribed"
	MessageShutdown              = "shutdown"
	MessageError                 = "error"
)

var wsLog = logger.Component("ws")

// WebSocketMessage represents a message sent over WebSocket. Messages
// produced by a subscription carry its ID.
type WebSocketMessage struct {
	Type           string      `json:"type"`
	Timestamp      time.Time   `json:"timestamp"`
	SubscriptionID string      `json:"subscription_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Error          string      `json:"error,omitempty"`
	Token          string      `json:"token,omitempty"` // For auth messages from client
}

// ClientConnection is one connected WebSocket client. It carries at
// most one capability subscription and one process subscription at a
// time.
type ClientConnection struct {
	ID   string
	Conn *websocket.Conn
	Send chan WebSocketMessage

	closed    chan struct{}
	closeOnce sync.Once
	timeout   time.Duration

	mu           sync.Mutex
	subscription *SubscriptionHandle
	processes    *SubscriptionHandle
}

// NewClientConnection creates a client whose outgoing queue holds
// buffer messages. A message that cannot be queued within timeout
// means the client is gone.
func NewClientConnection(id string, conn *websocket.Conn, buffer int, timeout time.Duration) *ClientConnection {
	if buffer < 1 {
		buffer = 1
	}
	if timeout <= 0 {
		timeout = DefaultSamplingPeriod
	}
	return &ClientConnection{
		ID:      id,
		Conn:    conn,
		Send:    make(chan WebSocketMessage, buffer),
		closed:  make(chan struct{}),
		timeout: timeout,
	}
}

// Closed is closed once the client has been shut down
func (c *ClientConnection) Closed() <-chan struct{} {
	return c.closed
}

// Enqueue queues msg for the write pump
func (c *ClientConnection) Enqueue(msg WebSocketMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case <-c.closed:
		return errors.New().New(errors.ErrSubscriberGone)
	default:
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case c.Send <- msg:
		return nil
	case <-c.closed:
		return errors.New().New(errors.ErrSubscriberGone)
	case <-timer.C:
		return errors.New().WithMessage(errors.ErrSubscriberGone, "Client did not drain within "+c.timeout.String())
	}
}

// Subscribe starts a subscription for this client. The capabilities
// message is queued before any samples message.
func (c *ClientConnection) Subscribe(controller *SubscriptionController) (models.StaticCapabilities, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if active(c.subscription) {
		return models.StaticCapabilities{}, errors.New().WithMessage(errors.ErrInvalidArgument, "Already subscribed")
	}

	sink := newClientSink(c)
	caps, handle, err := controller.Start(sink)
	if err != nil {
		return models.StaticCapabilities{}, err
	}

	if err := sink.open(handle, WebSocketMessage{Type: MessageCapabilities, Data: caps}); err != nil {
		return models.StaticCapabilities{}, err
	}

	c.subscription = handle
	return caps, nil
}

// SubscribeProcesses starts a process list subscription for this
// client. The processes_subscribed message is queued before any
// processes message.
func (c *ClientConnection) SubscribeProcesses(controller *SubscriptionController) (*SubscriptionHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if active(c.processes) {
		return nil, errors.New().WithMessage(errors.ErrInvalidArgument, "Already subscribed to processes")
	}

	sink := newClientSink(c)
	handle, err := controller.StartProcesses(sink)
	if err != nil {
		return nil, err
	}

	if err := sink.open(handle, WebSocketMessage{Type: MessageProcessesSubscribed}); err != nil {
		return nil, err
	}

	c.processes = handle
	return handle, nil
}

// UnsubscribeProcesses stops the process subscription, returning its
// handle or nil when there was none
func (c *ClientConnection) UnsubscribeProcesses() *SubscriptionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle := c.processes
	if handle != nil {
		handle.Stop()
		c.processes = nil
	}
	return handle
}

func active(handle *SubscriptionHandle) bool {
	if handle == nil {
		return false
	}
	select {
	case <-handle.Done():
		return false
	default:
		return true
	}
}

// Unsubscribe stops the capability subscription, returning its handle
// or nil when there was none
func (c *ClientConnection) Unsubscribe() *SubscriptionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle := c.subscription
	if handle != nil {
		handle.Stop()
		c.subscription = nil
	}
	return handle
}

// Subscription returns the active subscription handle, or nil
func (c *ClientConnection) Subscription() *SubscriptionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription
}

// Shutdown stops both subscriptions and releases the write pump. Safe
// to call more than once.
func (c *ClientConnection) Shutdown() {
	c.Unsubscribe()
	c.UnsubscribeProcesses()
	c.closeOnce.Do(func() { close(c.closed) })
}

// clientSink delivers batches to a client once the subscription's
// leading message has been queued
type clientSink struct {
	client  *ClientConnection
	ready   chan struct{}
	aborted atomic.Bool
}

func newClientSink(client *ClientConnection) *clientSink {
	return &clientSink{client: client, ready: make(chan struct{})}
}

// open queues the leading message of handle and releases the sampler.
// When the message cannot be queued the subscription is stopped.
func (s *clientSink) open(handle *SubscriptionHandle, lead WebSocketMessage) error {
	lead.SubscriptionID = handle.ID()
	if err := s.client.Enqueue(lead); err != nil {
		handle.Stop()
		s.aborted.Store(true)
		close(s.ready)
		return err
	}
	close(s.ready)
	return nil
}

func (s *clientSink) Deliver(batch models.SampleBatch) error {
	return s.send(WebSocketMessage{
		Type:           MessageSamples,
		Timestamp:      batch.Timestamp,
		SubscriptionID: batch.SubscriptionID,
		Data:           batch,
	})
}

func (s *clientSink) DeliverProcesses(batch models.ProcessBatch) error {
	return s.send(WebSocketMessage{
		Type:           MessageProcesses,
		Timestamp:      batch.Timestamp,
		SubscriptionID: batch.SubscriptionID,
		Data:           batch,
	})
}

func (s *clientSink) send(msg WebSocketMessage) error {
	select {
	case <-s.ready:
	case <-s.client.closed:
		return errors.New().New(errors.ErrSubscriberGone)
	}
	if s.aborted.Load() {
		return errors.New().New(errors.ErrSubscriberGone)
	}
	return s.client.Enqueue(msg)
}

// WebSocketHub manages all connected WebSocket clients
type WebSocketHub struct {
	clients    map[string]*ClientConnection
	register   chan *ClientConnection
	unregister chan string
	mu         sync.RWMutex
	done       chan struct{}
	stopOnce   sync.Once
}

var wsHub *WebSocketHub

// InitWebSocketHub initializes the WebSocket hub
func InitWebSocketHub() *WebSocketHub {
	wsHub = NewWebSocketHub()
	return wsHub
}

// NewWebSocketHub creates and starts a hub
func NewWebSocketHub() *WebSocketHub {
	h := &WebSocketHub{
		clients:    make(map[string]*ClientConnection),
		register:   make(chan *ClientConnection),
		unregister: make(chan string),
		done:       make(chan struct{}),
	}

	go h.run()

	return h
}

func (h *WebSocketHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			clients := make([]*ClientConnection, 0, len(h.clients))
			for id, client := range h.clients {
				clients = append(clients, client)
				delete(h.clients, id)
			}
			h.mu.Unlock()

			// Enqueue may wait a full timeout per slow client
			for _, client := range clients {
				_ = client.Enqueue(WebSocketMessage{Type: MessageShutdown})
				client.Shutdown()
			}
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			total := len(h.clients)
			h.mu.Unlock()
			wsLog.Info().Str("client", client.ID).Int("total", total).Msg("Client connected")

		case clientID := <-h.unregister:
			h.mu.Lock()
			if client, exists := h.clients[clientID]; exists {
				delete(h.clients, clientID)
				client.Shutdown()
			}
			total := len(h.clients)
			h.mu.Unlock()
			wsLog.Info().Str("client", clientID).Int("total", total).Msg("Client disconnected")
		}
	}
}

// Register adds a new client to the hub
func (h *WebSocketHub) Register(client *ClientConnection) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Shutdown()
	}
}

// Unregister removes a client from the hub and stops its subscription
func (h *WebSocketHub) Unregister(clientID string) {
	select {
	case h.unregister <- clientID:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts down every client and the hub loop
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// GetWebSocketHub returns the WebSocket hub
func GetWebSocketHub() *WebSocketHub {
	return wsHub
}

// StopWebSocketHub gracefully stops the hub
func StopWebSocketHub() {
	if wsHub != nil {
		wsHub.Stop()
	}
}
