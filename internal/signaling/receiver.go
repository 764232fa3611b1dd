package signaling

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/babelcast/internal/util"
)

// HandlerFunc handles one inbound message.
type HandlerFunc func(Message)

// Router maps message keys to handlers. Messages without a registered
// handler are dropped.
type Router struct {
	mu       sync.RWMutex
	handlers map[Key]HandlerFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Key]HandlerFunc)}
}

// Handle registers fn for key.
func (r *Router) Handle(key Key, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = fn
}

// Dispatch routes msg to its handler. Returns false when the message has no
// key or no handler is registered for it.
func (r *Router) Dispatch(msg Message) bool {
	if msg.Key == "" {
		return false
	}

	r.mu.RLock()
	fn, ok := r.handlers[msg.Key]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	fn(msg)
	return true
}

// receiver reads frames from the WebSocket and feeds them to a router (private).
type receiver struct {
	conn     *websocket.Conn
	router   *Router
	pongWait time.Duration
	observe  func(Message)
}

// watch blocks reading messages until the connection fails.
func (r *receiver) watch() error {
	_ = r.conn.SetReadDeadline(time.Now().Add(r.pongWait))
	r.conn.SetPongHandler(func(string) error {
		return r.conn.SetReadDeadline(time.Now().Add(r.pongWait))
	})

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(r.pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogWarning("failed to decode signaling message: %v", err)
			continue
		}
		if r.observe != nil {
			r.observe(msg)
		}

		if !r.router.Dispatch(msg) {
			util.LogDebug("ignoring signaling message with key %q", msg.Key)
		}
	}
}
