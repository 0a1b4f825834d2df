package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/config"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/logging"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/ingest"
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
)

// Event channels clients can subscribe to.
const (
	// ChannelWrite carries one ingest.WriteEvent per handled write.
	ChannelWrite = "write"
	// ChannelFlush carries one ingest.FlushResult per non-empty flush cycle.
	ChannelFlush = "flush"
)

const (
	wsSendBufferSize = 256

	// dropLogEvery limits slow-client warnings to one per this many drops.
	dropLogEvery = 100
)

// WSMessage is the envelope for every message the server sends.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, entities.
// An empty Entities list means every entity. Entities only filters the
// write channel; flush events are not entity-specific.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Entities []string `json:"entities,omitempty"`
}

type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// subscription is a client's current filter. Guarded by WSClient.mu.
type subscription struct {
	channels map[string]struct{}
	entities map[string]struct{}
}

func newSubscription(channels ...string) subscription {
	s := subscription{
		channels: make(map[string]struct{}, len(channels)),
		entities: make(map[string]struct{}),
	}
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	return s
}

func (s subscription) matches(channel, entityID string) bool {
	if _, ok := s.channels[channel]; !ok {
		return false
	}
	if entityID == "" || len(s.entities) == 0 {
		return true
	}
	_, ok := s.entities[entityID]
	return ok
}

// Hub fans pipeline events out to WebSocket clients. It implements
// ingest.Observer and never blocks the caller: a client whose buffer is
// full misses the event.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	clock  clockwork.Clock

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub subscription

	dropped atomic.Uint64
}

// The API binds to a trusted interface, so any origin is accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates a hub. It is usable as an observer immediately; Run only
// handles shutdown.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clock:   clockwork.NewRealClock(),
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and closes its send channel. Safe to call
// more than once.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	close(c.send)
	h.logger.Debug("websocket client disconnected", "clients", n, "dropped", c.dropped.Load())
}

// Broadcast sends payload to every client subscribed to channel. entityID
// is matched against entity filters; pass "" for events that concern no
// single entity.
func (h *Hub) Broadcast(channel, entityID string, payload any) {
	h.mu.RLock()
	var targets []*WSClient
	for c := range h.clients {
		if c.wants(channel, entityID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	for _, c := range targets {
		if c.trySend(data) {
			continue
		}
		if n := c.dropped.Add(1); n%dropLogEvery == 1 {
			h.logger.Warn("websocket client too slow, dropping events", "dropped", n)
		}
	}
}

// OnWrite publishes e on ChannelWrite.
func (h *Hub) OnWrite(e ingest.WriteEvent) {
	h.Broadcast(ChannelWrite, e.EntityID, e)
}

// OnFlush publishes r on ChannelFlush.
func (h *Hub) OnFlush(r ingest.FlushResult) {
	h.Broadcast(ChannelFlush, "", r)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
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

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		sub:  newSubscription(),
	}
	s.hub.Register(c)

	t := newWSTimings(s.hub.cfg)
	go c.writePump(t)
	go c.readPump(t)
}

// wsTimings are the keepalive durations derived from config.
type wsTimings struct {
	readLimit int64
	ping      time.Duration
	pongWait  time.Duration
}

func newWSTimings(cfg config.WebSocketConfig) wsTimings {
	return wsTimings{
		readLimit: int64(cfg.MaxMessageSize),
		ping:      time.Duration(cfg.PingInterval) * time.Second,
		pongWait:  time.Duration(cfg.PongTimeout) * time.Second,
	}
}

// readDeadline allows one missed ping interval plus the pong grace period.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.ping + t.pongWait)
}

func (c *WSClient) readPump(t wsTimings) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(t.readLimit)
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(t.readDeadline())
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // peer may already be gone
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateSubscription(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// updateSubscription applies a subscribe or unsubscribe request. Unknown
// channels reject the whole request.
func (c *WSClient) updateSubscription(msg wsInbound) {
	var p WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}
	for _, ch := range p.Channels {
		if ch != ChannelWrite && ch != ChannelFlush {
			c.sendError(msg.ID, "unknown channel: "+ch)
			return
		}
	}

	subscribe := msg.Type == WSTypeSubscribe

	c.mu.Lock()
	for _, ch := range p.Channels {
		if subscribe {
			c.sub.channels[ch] = struct{}{}
		} else {
			delete(c.sub.channels, ch)
		}
	}
	for _, id := range p.Entities {
		if subscribe {
			c.sub.entities[id] = struct{}{}
		} else {
			delete(c.sub.entities, id)
		}
	}
	channels := sortedSet(c.sub.channels)
	entities := sortedSet(c.sub.entities)
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{
		"channels": channels,
		"entities": entities,
	})
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (c *WSClient) wants(channel, entityID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub.matches(channel, entityID)
}

// trySend queues data without blocking. It reports false when the buffer
// is full or the client has already been unregistered.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: c.hub.clock.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}

var _ ingest.Observer = (*Hub)(nil)
