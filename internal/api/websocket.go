package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-av/internal/bridges/av"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// EventStateChanged carries an av.Snapshot each time a device's
	// published state changes. It is also sent once per device right
	// after a subscribe, with the current snapshot.
	EventStateChanged = "device.state_changed"

	// AllDevices in a subscribe payload follows every device, including
	// ones set up later.
	AllDevices = "*"

	wsSendBufferSize = 256
)

// WSMessage is one frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects devices by ID; "*" selects all of them.
type WSSubscribePayload struct {
	Devices []string `json:"devices"`
}

// Hub fans device events out to the connected clients that follow the
// device.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected socket and the devices it follows.
type WSClient struct {
	id      string
	subject string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte

	// current returns snapshots to replay after a subscribe; nil skips
	// the replay.
	current func(ids []string) []av.Snapshot

	mu      sync.RWMutex
	all     bool
	devices map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", c.id, "subject", c.subject, "clients", n)
}

// Unregister removes a client and closes its send channel. Calling it
// twice is harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "client_id", c.id, "clients", n)
	}
}

// Broadcast sends event to every client following deviceID. Slow clients
// with a full buffer miss the event.
func (h *Hub) Broadcast(event, deviceID string, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: event, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode websocket event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.follows(deviceID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades an authenticated request and starts the
// client's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		id:      uuid.NewString(),
		subject: subjectFrom(r.Context()),
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		current: s.snapshots,
		devices: make(map[string]struct{}),
	}
	s.hub.Register(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

// snapshots returns the current state of the listed devices, or of every
// device for AllDevices. Unknown IDs are skipped.
func (s *Server) snapshots(ids []string) []av.Snapshot {
	if slices.Contains(ids, AllDevices) {
		devs := s.devices.List()
		out := make([]av.Snapshot, 0, len(devs))
		for _, d := range devs {
			out = append(out, d.Snapshot())
		}
		return out
	}
	out := make([]av.Snapshot, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.devices.Get(id); ok {
			out = append(out, d.Snapshot())
		}
	}
	return out
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // as above
		c.handle(data)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error follows
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe:
		if len(msg.Payload.Devices) == 0 {
			c.reply(msg.ID, WSTypeError, map[string]string{"message": "devices must not be empty"})
			return
		}
		c.follow(msg.Payload.Devices, true)
		c.hub.logger.Debug("websocket client subscribed", "client_id", c.id, "devices", msg.Payload.Devices)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": msg.Payload.Devices})
		if c.current != nil {
			for _, snap := range c.current(msg.Payload.Devices) {
				c.event(EventStateChanged, snap)
			}
		}
	case WSTypeUnsubscribe:
		c.follow(msg.Payload.Devices, false)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": msg.Payload.Devices})
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

func (c *WSClient) follow(ids []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		switch {
		case id == AllDevices:
			c.all = on
		case on:
			c.devices[id] = struct{}{}
		default:
			delete(c.devices, id)
		}
	}
}

func (c *WSClient) follows(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.all {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

// enqueue drops data when the buffer is full or the client is gone.
func (c *WSClient) enqueue(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by Unregister
	}()
	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	if data, err := encodeFrame(WSMessage{Type: msgType, ID: id, Payload: payload}); err == nil {
		c.enqueue(data)
	}
}

func (c *WSClient) event(event string, payload any) {
	if data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: event, Payload: payload}); err == nil {
		c.enqueue(data)
	}
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
