// Package events distributes board mutation events to websocket
// subscribers so open clients can refresh without polling.
package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/madfam-io/madlab/pkg/logger"
)

// Event describes a single board mutation.
type Event struct {
	Type      string      `json:"type"`
	ProjectID string      `json:"project_id,omitempty"`
	EntityID  string      `json:"entity_id,omitempty"`
	At        time.Time   `json:"at"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Event types published by the services.
const (
	TypeTaskCreated    = "task.created"
	TypeTaskUpdated    = "task.updated"
	TypeTaskMoved      = "task.moved"
	TypeTaskDeleted    = "task.deleted"
	TypeProjectUpdated = "project.updated"
)

const sendBuffer = 16

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans events out to connected websocket clients. It implements the
// application lifecycle interface.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	broadcast chan Event
	done      chan struct{}
}

// NewHub creates an idle hub. Start must be called before Publish has any
// effect on subscribers.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens in the CORS middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:   make(map[*client]struct{}),
		broadcast: make(chan Event, 64),
		done:      make(chan struct{}),
	}
}

// Name identifies the hub to the lifecycle manager.
func (h *Hub) Name() string { return "events" }

// Start begins the broadcast loop.
func (h *Hub) Start(ctx context.Context) error {
	go h.run()
	return nil
}

// Stop terminates the broadcast loop and disconnects subscribers.
func (h *Hub) Stop(ctx context.Context) error {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
	return nil
}

// Publish queues an event for delivery. Never blocks; events are dropped
// when the hub is saturated.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case h.broadcast <- e:
	default:
		h.log.WithField("type", e.Type).Warn("event dropped: broadcast queue full")
	}
}

// ServeHTTP upgrades the request to a websocket subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Event, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case e := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- e:
				default:
					// Slow consumer; drop it rather than stall the board.
					close(c.send)
					_ = c.conn.Close()
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) writePump(c *client) {
	for e := range c.send {
		if err := c.conn.WriteJSON(e); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	_ = c.conn.Close()
}
