package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tshare/publicroom/internal/domain"
)

func wsServer(t *testing.T, handle func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketTransport_Echo(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})

	tr := NewWebSocketTransport(url, time.Second)
	assert.Equal(t, url, tr.Name())

	conn, err := tr.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteFrame([]byte(`{"event":"ping"}`)))
	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"event":"ping"}`, string(frame))
}

func TestWebSocketTransport_ServerCloseIsExplicit(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})

	conn, err := NewWebSocketTransport(url, time.Second).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame()
	assert.ErrorIs(t, err, ErrServerClosed)
}

func TestWebSocketTransport_GoingAwayIsTransient(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server is shutting down"))
		time.Sleep(50 * time.Millisecond)
	})

	conn, err := NewWebSocketTransport(url, time.Second).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame()
	assert.NotErrorIs(t, err, ErrServerClosed)
	var terr *domain.TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestWebSocketTransport_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	url := wsServer(t, func(conn *websocket.Conn) {
		// never reads, so pings go unanswered
		<-release
	})
	t.Cleanup(func() { close(release) })

	conn, err := NewWebSocketTransport(url, 100*time.Millisecond).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame()
	assert.ErrorIs(t, err, ErrIdleTimeout)
}

func TestWebSocketTransport_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewWebSocketTransport("ws"+strings.TrimPrefix(srv.URL, "http"), time.Second).Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
