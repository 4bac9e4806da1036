package ws

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type clientConn struct {
	id      string
	rawConn *websocket.Conn
	mu      sync.Mutex
	closed  atomic.Bool
}

func newClientConn(raw *websocket.Conn) *clientConn {
	return &clientConn{id: newConnID(), rawConn: raw}
}

func newConnID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// write sends one text frame; closed connections are skipped silently.
func (c *clientConn) write(data []byte) error {
	if c.closed.Load() {
		return websocket.ErrCloseSent
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(websocket.TextMessage, data)
}

func (c *clientConn) writeEvent(msgType string, payload any) error {
	data, err := marshalEvent(msgType, payload)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *clientConn) close() {
	if c.closed.CompareAndSwap(false, true) && c.rawConn != nil {
		c.rawConn.Close()
	}
}
