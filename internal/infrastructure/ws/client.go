package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
	"github.com/tshare/publicroom/internal/protocol"
)

const sendBufferSize = 256

// Client is one real-time connection. Its read goroutine is the only
// one that mutates roomCode, so requests from a client are handled in
// the order it sent them.
type Client struct {
	ID         string
	RemoteAddr string

	conn      *connWrapper
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	roomCode string
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:         uuid.NewString(),
		RemoteAddr: conn.RemoteAddr().String(),
		conn:       newConnWrapper(conn),
		send:       make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
	}
}

// deliver queues a frame without blocking. A client whose buffer is
// full is too slow to follow the room and gets disconnected.
func (c *Client) deliver(env *protocol.Envelope) bool {
	data, err := env.Bytes()
	if err != nil {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.close(websocket.CloseTryAgainLater, "send buffer full")
		return false
	}
}

func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.closeWith(code, reason)
	})
}

func (c *Client) readPump(core *Core) {
	defer func() {
		core.disconnect(c)
		c.close(websocket.CloseNormalClosure, "")
	}()

	c.conn.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.conn.SetPongHandler(func(string) error {
		return c.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				core.logger.Warn(logging.Transport, logging.Frame, "read error", map[logging.ExtraKey]any{
					logging.ParticipantID: c.ID,
					logging.ErrorMessage:  err.Error(),
				})
			}
			return
		}

		env, err := protocol.Parse(raw)
		if err != nil {
			core.logger.Debug(logging.Transport, logging.Frame, "dropping malformed frame", map[logging.ExtraKey]any{
				logging.ParticipantID: c.ID,
				logging.ErrorMessage:  err.Error(),
			})
			continue
		}

		core.handle(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			if err := c.conn.write(websocket.TextMessage, data); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.conn.write(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			return
		}
	}
}
