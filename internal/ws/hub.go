package ws

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/rx3lixir/rill/internal/fanout"
)

const (
	sendBufferSize = 64
	writeWait      = 10 * time.Second
)

// Hub maps named channels to the connections subscribed to them. It
// implements fanout.Publisher: a publish reaches every subscriber of
// that channel, best-effort.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	logger   *log.Logger
}

// Client is one websocket connection. Writes go through the buffered
// send channel so only writePump touches the conn.
type Client struct {
	conn     *websocket.Conn
	username string
	send     chan *fanout.Event
	channels map[string]struct{}
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		logger:   logger,
	}
}

// NewClient wraps a connection. An empty username means the principal
// never authenticated; the handler turns every operation from such a
// connection into an authentication-required error.
func (h *Hub) NewClient(conn *websocket.Conn, username string) *Client {
	c := &Client{
		conn:     conn,
		username: username,
		send:     make(chan *fanout.Event, sendBufferSize),
		channels: make(map[string]struct{}),
	}

	if username != "" {
		h.Subscribe(c, fanout.UserMessages(username))
		h.Subscribe(c, fanout.UserStatus(username))
		h.Subscribe(c, fanout.UserErrors(username))
		h.Subscribe(c, fanout.UserNotifications(username))
		h.Subscribe(c, fanout.UserUnread(username))
	}

	go c.writePump()

	return c
}

// Subscribe adds the client to a named channel.
func (h *Hub) Subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][c] = struct{}{}
	c.channels[channel] = struct{}{}
}

// Unsubscribe removes the client from a named channel.
func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unsubscribeLocked(c, channel)
}

func (h *Hub) unsubscribeLocked(c *Client, channel string) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(c.channels, channel)
}

// Remove drops the client from every channel and stops its writer.
// Called once, when the connection's read loop ends.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	for channel := range c.channels {
		h.unsubscribeLocked(c, channel)
	}
	h.mu.Unlock()

	close(c.send)
}

// Publish sends the event to every current subscriber of the channel.
// A subscriber whose buffer is full has the event dropped: slow
// clients never stall a fan-out.
func (h *Hub) Publish(channel string, ev *fanout.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.channels[channel] {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("Send buffer full, event dropped",
				"user", c.username, "channel", channel, "type", ev.Type)
		}
	}

	return nil
}

// Deliver pushes an event straight to one connection, bypassing the
// channel table. Used for request replies and for errors to
// connections that never authenticated.
func (c *Client) Deliver(ev *fanout.Event) {
	select {
	case c.send <- ev:
	default:
	}
}

func (c *Client) writePump() {
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			c.conn.Close()
			// read loop will notice and tear the client down
		}
	}
	c.conn.Close()
}
