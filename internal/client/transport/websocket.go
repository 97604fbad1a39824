package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tshare/publicroom/internal/domain"
)

const (
	writeWait          = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second
	maxFrameSize       = 1 << 20
)

// WebSocketTransport dials a gorilla/websocket connection. A connection
// that receives neither frames nor pongs for IdleTimeout fails with
// ErrIdleTimeout.
type WebSocketTransport struct {
	URL         string
	Header      http.Header
	IdleTimeout time.Duration
	Dialer      *websocket.Dialer
}

func NewWebSocketTransport(url string, idleTimeout time.Duration) *WebSocketTransport {
	return &WebSocketTransport{
		URL:         url,
		IdleTimeout: idleTimeout,
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (t *WebSocketTransport) Name() string {
	return t.URL
}

func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", t.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}

	idle := t.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}

	c := &wsConn{conn: conn, idle: idle, done: make(chan struct{})}
	conn.SetReadLimit(maxFrameSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	go c.pinger()

	return c, nil
}

type wsConn struct {
	conn *websocket.Conn
	idle time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.idle)); err != nil {
			return nil, classify(err)
		}
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, classify(err)
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return &domain.TransportError{Op: "write", Err: err}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &domain.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Close says goodbye with a normal close frame before closing.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) pinger() {
	ticker := time.NewTicker(c.idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func classify(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return fmt.Errorf("%w: %v", ErrServerClosed, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrIdleTimeout, err)
	}

	return &domain.TransportError{Op: "read", Err: err}
}
