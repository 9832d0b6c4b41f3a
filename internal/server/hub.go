package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

// EventKind tags what kind of operational event an EventHub broadcast
// carries (spec.md §6 "[DOMAIN] Additional operational surface").
type EventKind string

const (
	EventJobCompleted    EventKind = "job_completed"
	EventCheckpointFlush EventKind = "checkpoint_flush"
	EventHealthTransition EventKind = "health_transition"
)

// Event is one message pushed to every connected /ws/events client.
type Event struct {
	Kind EventKind   `json:"kind"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// eventClient mirrors the teacher's clientInterface so EventHub can manage
// both real websocket clients and test doubles identically.
type eventClient interface {
	getSendChannel() chan []byte
	close()
}

// EventHub fans a broadcast channel out to every connected dashboard,
// adapted from the teacher's web/handlers/websocket.go WebSocketHub:
// the register/unregister/broadcast select loop and writePump/readPump
// split are unchanged, but the payload is a typed Event instead of an
// arbitrary interface{} the UI had to shape itself.
type EventHub struct {
	clients    map[eventClient]bool
	broadcast  chan Event
	register   chan eventClient
	unregister chan eventClient
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewEventHub builds a hub; call Run in its own goroutine to start it.
func NewEventHub() *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		clients:    make(map[eventClient]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan eventClient),
		unregister: make(chan eventClient),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *EventHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.getSendChannel())
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("server: failed to marshal event %s: %v", ev.Kind, err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.getSendChannel() <- data:
				default:
					close(c.getSendChannel())
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop closes every connected client and halts Run.
func (h *EventHub) Stop() {
	h.cancel()
	h.mu.Lock()
	for c := range h.clients {
		close(c.getSendChannel())
		c.close()
	}
	h.clients = make(map[eventClient]bool)
	h.mu.Unlock()
}

// Publish enqueues an event for broadcast, dropping it if the channel is
// saturated rather than blocking the caller.
func (h *EventHub) Publish(kind EventKind, data interface{}) {
	select {
	case h.broadcast <- Event{Kind: kind, Time: time.Now(), Data: data}:
	default:
		log.Printf("server: event broadcast channel full, dropping %s", kind)
	}
}

// wsClient is a live websocket connection registered with an EventHub.
type wsClient struct {
	hub  *EventHub
	conn *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	send chan []byte
}

func (c *wsClient) getSendChannel() chan []byte { return c.send }

func (c *wsClient) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}
}

// ServeHTTP upgrades a GET /ws/events request and starts its read/write
// pumps. No Origin allowlist is enforced here the way the teacher's
// dashboard-only hub does, and the route is mounted without the
// bearer-token check the /api routes go through.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *wsClient) writePump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()
		if err != nil {
			return
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()
	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			return
		}
	}
}
