package serving

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TopicTelemetry carries every completed telemetry snapshot.
const TopicTelemetry = "telemetry"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the envelope pushed to stream subscribers.
type Message struct {
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type subscriber struct {
	conn  *websocket.Conn
	topic string
	send  chan []byte
}

// Hub fans published messages out to websocket subscribers by topic.
type Hub struct {
	logger *zap.Logger

	mu         sync.RWMutex
	clients    map[*subscriber]struct{}
	register   chan *subscriber
	unregister chan *subscriber
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a hub. Call Start before serving subscribers.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*subscriber]struct{}),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the registration loop.
func (h *Hub) Start() {
	go h.run()
}

// Stop disconnects every subscriber. It is safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("stream subscriber registered", zap.String("topic", c.topic))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case <-h.stopCh:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast encodes v and queues it for every subscriber of topic. Slow
// subscribers miss messages rather than stall the publisher.
func (h *Hub) Broadcast(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("stream marshal failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	payload, err := json.Marshal(Message{Topic: topic, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("stream marshal failed", zap.String("topic", topic), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.topic != topic {
			continue
		}
		select {
		case c.send <- payload:
		default:
		}
	}
}

// ServeWS returns a handler that upgrades the connection and subscribes it
// to topic.
func (h *Hub) ServeWS(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		c := &subscriber{conn: conn, topic: topic, send: make(chan []byte, 16)}
		select {
		case h.register <- c:
		case <-h.stopCh:
			conn.Close()
			return
		}

		go h.writePump(c)
		go h.readPump(c)
	}
}

func (h *Hub) writePump(c *subscriber) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readPump(c *subscriber) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stopCh:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
