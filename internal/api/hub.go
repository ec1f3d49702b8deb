package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/femasgate/internal/config"
	"github.com/ajitpratap0/femasgate/internal/events"
	"github.com/ajitpratap0/femasgate/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	clientBuffer = 256
)

// MessageType is the type of a control message exchanged with a client.
// Events are written as events.Event, not wrapped.
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
)

// Message is a control message. Topics is set on subscribe, unsubscribe and
// subscribed.
type Message struct {
	Type      MessageType `json:"type"`
	Topics    []string    `json:"topics,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

var (
	ErrHubClosed = errors.New("websocket hub closed")
	ErrHubBusy   = errors.New("websocket hub broadcast queue full")
)

// Client is one WebSocket connection. A client without topics receives every
// event except the per-instrument and per-exchange market topics, which
// duplicate the market topic. A client opened with ?session= follows the
// topics of that user session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	session string

	mu     sync.RWMutex
	topics map[string]struct{}
	closed bool
}

// enqueue hands data to the write pump without blocking. It reports false
// when the buffer is full or the client is closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.topics) == 0 {
		return !strings.HasPrefix(topic, events.TopicMarket+".")
	}
	_, ok := c.topics[topic]
	return ok
}

func (c *Client) subscribe(topics []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			c.topics[t] = struct{}{}
		}
	}
	return c.topicList()
}

// replace swaps the whole topic set.
func (c *Client) replace(topics []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.topics)
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			c.topics[t] = struct{}{}
		}
	}
	return c.topicList()
}

func (c *Client) unsubscribe(topics []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, strings.TrimSpace(t))
	}
	return c.topicList()
}

func (c *Client) topicList() []string {
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// broadcast is one queued event. A non-empty session addresses only the
// clients of that session, whatever their topics.
type broadcast struct {
	topic   string
	session string
	data    []byte
}

type sessionOp struct {
	id     string
	topics []string
	end    bool
}

// SessionResolver validates a user session and returns its topics.
type SessionResolver interface {
	Topics(sessionID string) ([]string, error)
}

// Hub maintains active WebSocket clients and fans events out to them. It
// implements events.Publisher and session.Listener.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	sessionOps chan sessionOp
	done       chan struct{}
	sessions   SessionResolver

	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.RWMutex
	running bool
	closed  bool
}

// NewHub creates a hub accepting connections from the given origins. An empty
// list or "*" accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan broadcast, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		sessionOps: make(chan sessionOp, 64),
		done:       make(chan struct{}),
		log:        config.NewLogger("websocket"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// UseSessions lets clients connect with ?session=<id>. Call before Run.
func (h *Hub) UseSessions(r SessionResolver) {
	h.sessions = r
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || allowsAny(allowed) {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Run starts the hub's main loop and returns when ctx ends. All clients are
// disconnected on return.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		close(h.done)
		for client := range h.clients {
			h.remove(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			h.log.Info().Int("total_clients", n).Msg("WebSocket client connected")

		case client := <-h.unregister:
			if n, ok := h.remove(client); ok {
				h.log.Info().Int("total_clients", n).Msg("WebSocket client disconnected")
			}

		case op := <-h.sessionOps:
			for client := range h.clients {
				if client.session != op.id {
					continue
				}
				if op.end {
					h.remove(client)
					continue
				}
				client.reply(Message{Type: MessageTypeSubscribed, Topics: client.replace(op.topics)})
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if msg.session != "" {
					if client.session != msg.session {
						continue
					}
				} else if !client.wants(msg.topic) {
					continue
				}
				if !client.enqueue(msg.data) {
					// Slow consumer
					h.remove(client)
					h.log.Warn().Msg("Dropped slow WebSocket client")
				}
			}
		}
	}
}

// remove closes and forgets client. Only the Run goroutine calls it.
func (h *Hub) remove(client *Client) (int, bool) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		client.close()
		metrics.WebSocketClients.Set(float64(n))
	}
	return n, ok
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SessionClientCount returns the number of clients bound to a user session.
func (h *Hub) SessionClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.session != "" {
			n++
		}
	}
	return n
}

// TopicsChanged retargets the clients of a user session.
func (h *Hub) TopicsChanged(sessionID string, topics []string) {
	h.sessionOp(sessionOp{id: sessionID, topics: topics})
}

// Ended disconnects the clients of a user session.
func (h *Hub) Ended(sessionID string) {
	h.sessionOp(sessionOp{id: sessionID, end: true})
}

func (h *Hub) sessionOp(op sessionOp) {
	h.mu.RLock()
	ready := h.running && !h.closed
	h.mu.RUnlock()
	if !ready {
		return
	}
	select {
	case h.sessionOps <- op:
	case <-h.done:
	}
}

// Publish queues ev for delivery to subscribed clients without blocking.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	return h.enqueue(broadcast{topic: ev.Topic}, ev)
}

// PublishSession queues ev for the clients of one user session only.
func (h *Hub) PublishSession(_ context.Context, sessionID string, ev events.Event) error {
	return h.enqueue(broadcast{topic: ev.Topic, session: sessionID}, ev)
}

func (h *Hub) enqueue(b broadcast, ev events.Event) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrHubClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.data = data
	select {
	case h.broadcast <- b:
		return nil
	default:
		return ErrHubBusy
	}
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(c *gin.Context) {
	h.mu.RLock()
	ready := h.running && !h.closed
	h.mu.RUnlock()
	if !ready {
		fail(c, ErrHubClosed)
		return
	}

	var sessionID string
	var sessionTopics []string
	if id := c.Query("session"); id != "" {
		if h.sessions == nil {
			fail(c, fmt.Errorf("%w: user sessions not enabled", errBadRequest))
			return
		}
		topics, err := h.sessions.Topics(id)
		if err != nil {
			fail(c, err)
			return
		}
		sessionID, sessionTopics = id, topics
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, clientBuffer),
		session: sessionID,
		topics:  make(map[string]struct{}),
	}
	client.subscribe(sessionTopics)
	for _, t := range c.QueryArray("topic") {
		client.subscribe(strings.Split(t, ","))
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes messages received from the client
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(Message{Type: MessageTypeError, Error: "invalid message"})
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})
	case MessageTypeSubscribe:
		c.reply(Message{Type: MessageTypeSubscribed, Topics: c.subscribe(msg.Topics)})
	case MessageTypeUnsubscribe:
		c.reply(Message{Type: MessageTypeSubscribed, Topics: c.unsubscribe(msg.Topics)})
	default:
		c.reply(Message{Type: MessageTypeError, Error: "unknown message type " + string(msg.Type)})
	}
}

// reply queues a control message. It is dropped when the send buffer is full.
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}
