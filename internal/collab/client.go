package collab

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/metrics"
)

const (
	writeDeadline = 10 * time.Second
	closeDeadline = time.Second
)

// client is one admitted WebSocket session: identity, write capability and
// the outbound queue drained by its write pump.
type client struct {
	session  uint64
	userID   uuid.UUID
	username string
	canWrite bool

	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, session uint64, userID uuid.UUID, username string, canWrite bool, queueLimit int) *client {
	return &client{
		session:  session,
		userID:   userID,
		username: username,
		canWrite: canWrite,
		conn:     conn,
		send:     make(chan []byte, queueLimit),
		done:     make(chan struct{}),
	}
}

// trySend enqueues a frame without blocking. A false return means the client
// is over its backpressure limit and must be dropped.
func (c *client) trySend(frame []byte) bool {
	select {
	case <-c.done:
		return true // already closing; nothing to deliver
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close sends a close frame once and tears the connection down.
func (c *client) close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(closeDeadline)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.conn.Close()
	})
}

// dropForBackpressure disconnects a client whose queue overflowed.
func (c *client) dropForBackpressure() {
	metrics.DroppedClients.Inc()
	c.close(CloseInternalError, "outbound queue overflow")
}

// writePump drains the send queue and keeps the connection alive with pings.
// It exits when the client closes.
func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.close(CloseInternalError, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(CloseInternalError, "ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}
