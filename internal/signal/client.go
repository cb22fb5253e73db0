package signal

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/bloomstrip/internal/proto"
	"github.com/petervdpas/bloomstrip/internal/util"
)

// Client is the booth side of the relay: one websocket, a self id assigned
// by the server, and a fan-out of inbound messages. Subscriber channels are
// closed when the websocket drops, which is how the session layer observes
// SignalingDisconnected.
type Client struct {
	baseURL string

	mu        sync.Mutex
	conn      *websocket.Conn
	selfID    string
	rooms     map[string]bool
	listeners map[chan *proto.Message]struct{}
	closed    bool

	writeMu sync.Mutex
}

// Dial connects to the relay at baseURL (http:// or ws://) and waits for the
// welcome message carrying the assigned peer id.
func Dial(ctx context.Context, baseURL string) (*Client, error) {
	c := &Client{
		baseURL:   util.NormalizeURL(baseURL),
		rooms:     make(map[string]bool),
		listeners: make(map[chan *proto.Message]struct{}),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws"
	dialer := websocket.Dialer{HandshakeTimeout: util.DefaultDialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	var welcome proto.Message
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Type != proto.TypeWelcome || welcome.PeerID == "" {
		conn.Close()
		return fmt.Errorf("unexpected first message %q", welcome.Type)
	}

	c.mu.Lock()
	c.conn = conn
	c.selfID = welcome.PeerID
	c.mu.Unlock()

	go c.readLoop(conn)
	log.Printf("SIGNAL: connected to %s as %s", c.baseURL, welcome.PeerID)
	return nil
}

// SelfID returns the peer id the relay assigned on the current connection.
func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// Join registers this client in a room. Idempotent per connection; the room
// set is remembered so Reconnect can rejoin.
func (c *Client) Join(room string) error {
	room, err := util.ValidateRoomID(room)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rooms[room] = true
	c.mu.Unlock()
	return c.write(&proto.Message{Type: proto.TypeJoinRoom, Room: room})
}

// Relay sends a negotiation message to the peer registered under msg.To.
func (c *Client) Relay(msg *proto.Message) error {
	if msg.To == "" {
		return fmt.Errorf("relay %s: missing target", msg.Type)
	}
	return c.write(msg)
}

// Leave tells the relay this client is done with a room.
func (c *Client) Leave(room string) error {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	return c.write(&proto.Message{Type: proto.TypeLeave, Room: room})
}

// Subscribe returns a channel of inbound messages. The channel closes when
// the websocket drops or the subscription is cancelled.
func (c *Client) Subscribe() (ch chan *proto.Message, cancel func()) {
	ch = make(chan *proto.Message, 64)

	c.mu.Lock()
	if c.listeners == nil {
		c.listeners = make(map[chan *proto.Message]struct{})
	}
	c.listeners[ch] = struct{}{}
	c.mu.Unlock()

	cancel = func() {
		c.mu.Lock()
		if _, ok := c.listeners[ch]; ok {
			delete(c.listeners, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// Reconnect dials the relay again and rejoins every previously joined room.
// The relay assigns a fresh peer id; callers must re-subscribe, since the
// old subscription channels were closed when the connection dropped.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client closed")
	}
	old := c.conn
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if err := c.connect(ctx); err != nil {
		return err
	}
	for _, room := range rooms {
		if err := c.write(&proto.Message{Type: proto.TypeJoinRoom, Room: room}); err != nil {
			return err
		}
	}
	return nil
}

// Close tears the websocket down. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) write(msg *proto.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// readLoop fans inbound messages out to subscribers until the connection
// dies, then closes all subscriber channels.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg proto.Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		c.mu.Lock()
		for ch := range c.listeners {
			select {
			case ch <- &msg:
			default:
			}
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	// Only the current connection's death invalidates subscriptions; a
	// stale readLoop from before a Reconnect must not close the new ones.
	if c.conn == conn {
		for ch := range c.listeners {
			close(ch)
		}
		c.listeners = make(map[chan *proto.Message]struct{})
	}
	c.mu.Unlock()
}
