package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// connWrapper serializes writes and makes Close idempotent.
type connWrapper struct {
	conn   *websocket.Conn
	mutex  sync.Mutex
	closed bool
}

func newConnWrapper(c *websocket.Conn) *connWrapper {
	return &connWrapper{conn: c}
}

func (w *connWrapper) write(messageType int, data []byte) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, data)
}

// closeWith sends a close frame before tearing the connection down.
func (w *connWrapper) closeWith(code int, reason string) error {
	_ = w.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	return w.Close()
}

func (w *connWrapper) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}
