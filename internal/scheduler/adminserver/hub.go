// Package adminserver exposes a read-only operational surface over the
// scheduler's own state: health, Prometheus metrics, the current assignment,
// and a live websocket feed of assignment snapshots as they're published.
// Grounded on the teacher's internal/services/websocket/hub.go (register/
// unregister/broadcast channel hub run loop) trimmed down from its
// room/private-message chat semantics to a single broadcast topic, and on
// internal/services/workflow/server/server.go for the gin wiring idiom
// (health/ready/metrics routes, CORS + logging middleware, graceful Start/
// Shutdown).
package adminserver

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamfleet/scheduler/internal/scheduler/domain"
	"github.com/streamfleet/scheduler/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// AssignmentSnapshot is what's fanned out to websocket clients each time the
// control loop publishes a new assignment.
type AssignmentSnapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Workers   map[string][]int64 `json:"workers"`
}

func snapshotFromWorkers(workers domain.WorkerSet) AssignmentSnapshot {
	out := make(map[string][]int64, len(workers))
	for identity, w := range workers {
		ids := make([]int64, 0, len(w.Devices))
		for id := range w.Devices {
			ids = append(ids, id)
		}
		out[identity] = ids
	}
	return AssignmentSnapshot{Timestamp: time.Now(), Workers: out}
}

// hub fans out assignment snapshots to subscribed websocket clients. It owns
// no domain logic; it's a thin broadcast layer around the client's own
// channel.
type hub struct {
	clients    map[*client]bool
	broadcast  chan AssignmentSnapshot
	register   chan *client
	unregister chan *client
	logger     logger.Logger
}

type client struct {
	conn *websocket.Conn
	send chan AssignmentSnapshot
}

func newHub(log logger.Logger) *hub {
	return &hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan AssignmentSnapshot, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     log,
	}
}

func (h *hub) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			for c := range h.clients {
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case snapshot := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- snapshot:
				default:
					h.logger.Warn("adminserver: dropping slow websocket client")
				}
			}
		}
	}
}

// publish fans snapshot out to every connected websocket client. Safe to
// call from the control loop's goroutine; never blocks on slow clients.
func (h *hub) publish(workers domain.WorkerSet) {
	select {
	case h.broadcast <- snapshotFromWorkers(workers):
	default:
		h.logger.Warn("adminserver: broadcast queue full, dropping snapshot")
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
		case snapshot, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(snapshot)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(h *hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
