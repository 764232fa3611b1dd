package signaling

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sender serializes outgoing signaling messages to the WebSocket (private).
type sender struct {
	conn      *websocket.Conn
	writeWait time.Duration
	done      <-chan struct{}
	onSend    func(Message)
	mu        sync.Mutex
}

// send writes a signaling message to the WebSocket, guarded by a mutex.
func (s *sender) send(msg Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Key, err)
	}
	if s.onSend != nil {
		s.onSend(msg)
	}
	return nil
}

// ping writes a WebSocket ping control frame.
func (s *sender) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait))
}

// closeFrame writes a normal-closure control frame; errors are irrelevant
// because the connection is being torn down anyway.
func (s *sender) closeFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
