package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// clientSendBuffer bounds per-client outbound buffering; overflow
// disconnects the offending client rather than blocking its peers, per
// spec.md §4.4's fanout contract.
const clientSendBuffer = 256

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// frame is the generic {type, id?, ...} envelope every wire message
// satisfies; individual handlers re-decode Raw into the concrete
// payload shape they expect.
type frame struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// Client is one authenticated public WS connection: a human browser, a
// headless SDK client, or a browser-extension agent host.
type Client struct {
	id   string
	conn *websocket.Conn
	addr string

	send chan []byte

	mu               sync.Mutex
	authenticated    bool
	subscribedAgents map[string]bool
	deviceID         string
	visible          bool

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id string, conn *websocket.Conn, addr string) *Client {
	return &Client{
		id:               id,
		conn:             conn,
		addr:             addr,
		send:             make(chan []byte, clientSendBuffer),
		subscribedAgents: make(map[string]bool),
		done:             make(chan struct{}),
	}
}

func (c *Client) Subscribe(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribedAgents[agentID] = true
}

func (c *Client) Unsubscribe(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribedAgents, agentID)
}

func (c *Client) IsSubscribed(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedAgents[agentID]
}

func (c *Client) SetAuthenticated() {
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) SetVisibility(deviceID string, visible bool) {
	c.mu.Lock()
	c.deviceID = deviceID
	c.visible = visible
	c.mu.Unlock()
}

func (c *Client) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Deliver enqueues msg for write; if the client's buffer is full the
// connection is torn down rather than blocking the sender, satisfying
// "slow clients do not block peers".
func (c *Client) Deliver(msg []byte) {
	select {
	case c.send <- msg:
	default:
		slog.Warn("gateway.client.overflow", "client", c.id)
		c.Close()
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump drains c.send to the socket, one writer goroutine per
// connection (gorilla/websocket connections are not safe for
// concurrent writers).
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("gateway.marshal_failed", "error", err)
		return []byte(`{"type":"error","message":"internal encoding error"}`)
	}
	return b
}
