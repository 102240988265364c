package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satindergrewal/layerdaw/internal/logger"
)

// EventType names a pushed event.
type EventType string

const (
	EventTime    EventType = "time"    // playback position while playing
	EventEnded   EventType = "ended"   // timeline reached its end
	EventJob     EventType = "job"     // generation job added or updated
	EventMeters  EventType = "meters"  // post-gain peak levels
	EventProject EventType = "project" // project document changed
)

// Event is one message pushed to every connected client.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to websocket clients.
type Hub struct {
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Run owns client registration and delivery until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			logger.Debug("Event client connected", logger.Int("clients", h.ClientCount()))

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.remove(c)
			}

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues an event for every client. When the queue is full the
// event is dropped.
func (h *Hub) Publish(t EventType, data any) {
	msg, err := json.Marshal(Event{Type: t, Data: data, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		logger.Warn("Failed to encode event", logger.String("type", string(t)), logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
	}
}

// ServeHTTP upgrades the connection and streams events to it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed", logger.ErrorField(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; clients do not send commands over
// the socket.
func (c *client) readPump() {
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("Websocket read error", logger.ErrorField(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
