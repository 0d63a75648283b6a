package livestatus

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 54 * time.Second
	maxMessageSize = 512
	sendBufferSize = 8
)

// Notifier fans live-state snapshots out to connected websocket listeners.
// The registry is independent of the state write path: connects and
// disconnects can happen at any time relative to a broadcast, a send landing
// on a just-removed client is a no-op, and a client connecting mid-broadcast
// has already been caught up at attach time.
type Notifier struct {
	mu      sync.Mutex
	clients map[string]*client
	log     *slog.Logger
}

// NewNotifier returns an empty notifier.
func NewNotifier(log *slog.Logger) *Notifier {
	return &Notifier{clients: make(map[string]*client), log: log}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Attach takes ownership of conn. The snapshot returned by current is queued
// before the client joins the broadcast registry, and no broadcast can
// interleave between the two steps, so a new listener always sees state that
// was valid no earlier than its registration.
func (n *Notifier) Attach(conn *websocket.Conn, current func() Snapshot) {
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBufferSize)}

	n.mu.Lock()
	if data, err := json.Marshal(current()); err == nil {
		c.send <- data
	}
	n.clients[c.id] = c
	n.mu.Unlock()

	n.log.Debug("listener connected", slog.String("client_id", c.id))
	go c.writePump(n)
	go c.readPump(n)
}

// Broadcast sends snap to every connected listener. A listener whose buffer
// is full is dropped rather than allowed to block the others. The registry
// lock is held for the whole fan-out; sends are buffered and never block, and
// holding the lock means no channel can be closed mid-send by a concurrent
// disconnect.
func (n *Notifier) Broadcast(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		n.log.Error("marshal snapshot", slog.String("error", err.Error()))
		return
	}

	n.mu.Lock()
	var stale []*client
	for _, c := range n.clients {
		select {
		case c.send <- data:
		default:
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		n.log.Warn("listener too slow, dropping", slog.String("client_id", c.id))
		delete(n.clients, c.id)
		close(c.send)
	}
	n.mu.Unlock()
}

// Count returns the number of connected listeners.
func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// remove unregisters c and closes its send channel, which ends its
// writePump. Safe to call more than once for the same client.
func (n *Notifier) remove(c *client) {
	n.mu.Lock()
	if _, ok := n.clients[c.id]; ok {
		delete(n.clients, c.id)
		close(c.send)
		n.log.Debug("listener disconnected", slog.String("client_id", c.id))
	}
	n.mu.Unlock()
}

func (c *client) writePump(n *Notifier) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				n.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				n.remove(c)
				return
			}
		}
	}
}

// readPump discards inbound frames; listeners are receive-only. Its job is
// keeping the pong deadline fresh and noticing the disconnect.
func (c *client) readPump(n *Notifier) {
	defer func() {
		n.remove(c)
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
			return
		}
	}
}
