// Package relay republishes lirc button events to WebSocket clients and
// exposes the bridge status over HTTP.
package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTooManyConnections is returned by AddClient when the client limit is
// reached.
var ErrTooManyConnections = errors.New("too many relay connections")

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster fans button presses out to every connected client. It is a
// lirc.Listener; LircEvent never blocks on a client.
type Broadcaster struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	buffer     int
	maxClients int
	logger     *slog.Logger
	now        func() time.Time
}

// NewBroadcaster returns a broadcaster whose clients each queue up to
// buffer messages. maxClients <= 0 means no limit.
func NewBroadcaster(buffer, maxClients int, logger *slog.Logger) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		clients:    make(map[*client]bool),
		buffer:     buffer,
		maxClients: maxClients,
		logger:     logger,
		now:        time.Now,
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, b.buffer),
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// LircEvent relays one button press.
func (b *Broadcaster) LircEvent(buttonName, remoteControlName string, repeatCount int) {
	b.broadcast(Message{
		Type: MsgButton,
		Payload: ButtonPayload{
			Button: buttonName,
			Remote: remoteControlName,
			Repeat: repeatCount,
			Time:   b.now(),
		},
	})
}

// sendTo queues msg for a single client, reporting false if it was dropped.
func (b *Broadcaster) sendTo(c *client, msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("relay marshal failed", "type", msg.Type, "error", err)
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (b *Broadcaster) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("relay marshal failed", "type", msg.Type, "error", err)
		return
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("relay client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
