package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/babelcast/internal/util"
)

// ErrClosed is returned by Send after the connection has been closed and by
// Run when the server closes the WebSocket.
var ErrClosed = errors.New("signaling connection closed")

// Options configures the WebSocket heartbeat and write deadlines.
type Options struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	// OnMessage, if set, observes every decoded inbound message before dispatch.
	OnMessage func(Message)
	// OnSend, if set, observes every outbound message after a successful write.
	OnSend func(Message)
}

func (o *Options) withDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = 2 * o.PingInterval
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
}

// Client is an open signaling connection. A Client only exists once the
// WebSocket handshake has completed, so every Send happens on an open socket.
type Client struct {
	conn   *websocket.Conn
	opts   Options
	sender *sender
	router *Router

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the signaling server at url.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts.withDefaults()

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}

	c := &Client{
		conn:   conn,
		opts:   opts,
		router: NewRouter(),
		done:   make(chan struct{}),
	}
	c.sender = &sender{conn: conn, writeWait: opts.WriteWait, done: c.done, onSend: opts.OnSend}
	return c, nil
}

// Send encodes value under key and writes it to the server.
func (c *Client) Send(key Key, value any) error {
	msg, err := NewMessage(key, value)
	if err != nil {
		return err
	}
	return c.sender.send(msg)
}

// Handle registers fn for messages carrying key, replacing any previous handler.
func (c *Client) Handle(key Key, fn HandlerFunc) {
	c.router.Handle(key, fn)
}

// Run reads and dispatches messages until the connection closes or ctx is
// cancelled. It always returns a non-nil error; a server-side close is
// reported as ErrClosed.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	go c.heartbeat()

	r := &receiver{conn: c.conn, router: c.router, pongWait: c.opts.PongWait, observe: c.opts.OnMessage}
	err := r.watch()
	c.Close()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// heartbeat pings the server every PingInterval until the client closes.
func (c *Client) heartbeat() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.sender.ping(); err != nil {
				util.LogDebug("ws ping failed: %v", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Done returns a channel that is closed once the connection is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and releases the connection. Safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.sender.closeFrame()
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
