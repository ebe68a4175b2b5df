// Package remote is a store.Store backed by a huddle server over a websocket.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/huddle/internal/dns"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the WebSocket connection to the huddle server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	outgoing  chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
	nextID    atomic.Uint64
	log       *slog.Logger

	mu      sync.Mutex
	pending map[uint64]chan *protocol.Message
	watches map[uint64]*store.Queue
	broken  bool
}

var (
	_ store.Store          = (*Client)(nil)
	_ store.DisconnectHook = (*Client)(nil)
)

// Dial establishes the WebSocket connection to the server.
func Dial(ctx context.Context, serverURL string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ip, err := dns.Lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return newClient(conn, serverURL, logger), nil
}

func newClient(conn *websocket.Conn, serverURL string, logger *slog.Logger) *Client {
	c := &Client{
		conn:      conn,
		serverURL: serverURL,
		outgoing:  make(chan *protocol.Message, 64),
		done:      make(chan struct{}),
		log:       logging.Component(logger, "remote-store"),
		pending:   make(map[uint64]chan *protocol.Message),
		watches:   make(map[uint64]*store.Queue),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c
}

// readPump routes results to their waiting callers and events to watches.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		c.fail()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("connection lost", "server", c.serverURL, "err", err)
			}
			return
		}

		switch msg.Type {
		case protocol.TypeEvent:
			c.mu.Lock()
			q := c.watches[msg.WatchID]
			c.mu.Unlock()
			if q != nil && msg.Event != nil {
				q.Push(*msg.Event)
			}

		case protocol.TypeResult, protocol.TypeError:
			c.mu.Lock()
			ch := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- &msg
			}

		default:
			c.log.Debug("unknown message type", "type", msg.Type)
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// fail ends every pending request and watch once the connection is gone.
func (c *Client) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for id, q := range c.watches {
		q.Close()
		delete(c.watches, id)
	}
}

func (c *Client) call(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	msg.ID = c.nextID.Add(1)
	ch := make(chan *protocol.Message, 1)

	c.mu.Lock()
	if c.broken {
		c.mu.Unlock()
		return nil, store.ErrClosed
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	abandon := func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}

	select {
	case c.outgoing <- msg:
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-c.done:
		abandon()
		return nil, store.ErrClosed
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, store.ErrClosed
		}
		if resp.Type == protocol.TypeError {
			return nil, protocol.ErrorFor(resp.Code, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-c.done:
		return nil, store.ErrClosed
	}
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.call(ctx, &protocol.Message{Type: protocol.TypePut, Key: key, Value: value})
	return err
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.call(ctx, &protocol.Message{Type: protocol.TypeGet, Key: key})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.call(ctx, &protocol.Message{Type: protocol.TypeDelete, Key: key})
	return err
}

func (c *Client) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	resp, err := c.call(ctx, &protocol.Message{Type: protocol.TypeList, Prefix: prefix})
	if err != nil {
		return nil, err
	}
	if resp.Entries == nil {
		return []store.Entry{}, nil
	}
	return resp.Entries, nil
}

func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := c.call(ctx, &protocol.Message{Type: protocol.TypeDeletePrefix, Prefix: prefix})
	return err
}

// RemoveOnDisconnect asks the server to delete key when this connection drops.
func (c *Client) RemoveOnDisconnect(ctx context.Context, key string) error {
	_, err := c.call(ctx, &protocol.Message{Type: protocol.TypeOnDisconnect, Key: key})
	return err
}

func (c *Client) Watch(ctx context.Context, prefix string) (<-chan store.Event, error) {
	watchID := c.nextID.Add(1)
	q := store.NewQueue()

	// Registered before the request so no event can arrive unrouted.
	c.mu.Lock()
	if c.broken {
		c.mu.Unlock()
		return nil, store.ErrClosed
	}
	c.watches[watchID] = q
	c.mu.Unlock()

	if _, err := c.call(ctx, &protocol.Message{Type: protocol.TypeWatch, Prefix: prefix, WatchID: watchID}); err != nil {
		c.dropWatch(watchID)
		return nil, err
	}

	out := make(chan store.Event)
	go func() {
		q.Run(ctx, out)
		if c.dropWatch(watchID) {
			select {
			case c.outgoing <- &protocol.Message{Type: protocol.TypeUnwatch, WatchID: watchID}:
			case <-c.done:
			case <-time.After(writeWait):
			}
		}
	}()
	return out, nil
}

func (c *Client) dropWatch(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.watches[id]
	if ok {
		q.Close()
		delete(c.watches, id)
	}
	return ok
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}
