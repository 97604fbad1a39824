package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/configs"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
	"github.com/tshare/publicroom/internal/infrastructure/metrics"
	"github.com/tshare/publicroom/internal/infrastructure/ratelimiter"
	"github.com/tshare/publicroom/internal/infrastructure/repository"
	"github.com/tshare/publicroom/internal/infrastructure/ws"
	"github.com/tshare/publicroom/internal/presentation/handler/health"
	"github.com/tshare/publicroom/internal/presentation/handler/messages"
	"github.com/tshare/publicroom/internal/presentation/handler/rooms"
	"github.com/tshare/publicroom/internal/protocol"
)

func newTestApp(t *testing.T, requestsPerFrame int) (*httptest.Server, domain.RoomRepository) {
	t.Helper()

	cfg, err := configs.Load("")
	require.NoError(t, err)

	logger := logging.NewNop()
	m := metrics.New()
	roomRepo := repository.NewRoomRepository(10, time.Hour, nil)
	msgRepo := repository.NewMessageRepository(10)

	msgLimiter := ratelimiter.NewFixedWindowRateLimiter(100, time.Second, nil)
	httpLimiter := ratelimiter.NewFixedWindowRateLimiter(requestsPerFrame, time.Hour, nil)
	t.Cleanup(msgLimiter.Close)
	t.Cleanup(httpLimiter.Close)

	core := ws.NewCore(ws.Options{}, roomRepo, msgRepo, msgLimiter, logger, m, nil)
	app := NewApplication(
		*cfg,
		rooms.NewHandler(roomRepo, core, logger),
		health.NewHandler(core),
		messages.NewHandler(roomRepo, msgRepo, logger),
		logger,
		httpLimiter,
		m,
	)

	srv := httptest.NewServer(app.Mount())
	t.Cleanup(func() {
		core.Shutdown()
		srv.Close()
	})
	return srv, roomRepo
}

func seed(t *testing.T, repo domain.RoomRepository, code string, active bool) {
	t.Helper()
	room, err := domain.NewRoomWithCode(code, "")
	require.NoError(t, err)
	room.Active = active
	require.NoError(t, repo.Create(context.Background(), room))
}

func TestValidateRoom(t *testing.T) {
	srv, repo := newTestApp(t, 100)
	seed(t, repo, "XY12", true)
	seed(t, repo, "OFF1", false)

	tests := []struct {
		name       string
		code       string
		wantStatus int
		wantBody   string
	}{
		{name: "active", code: "XY12", wantStatus: http.StatusOK, wantBody: `{"success":true}`},
		{name: "lower case", code: "xy12", wantStatus: http.StatusOK, wantBody: `{"success":true}`},
		{name: "unknown", code: "ABC1", wantStatus: http.StatusNotFound, wantBody: `{"success":false,"message":"Room not found"}`},
		{name: "inactive", code: "OFF1", wantStatus: http.StatusForbidden, wantBody: `{"success":false,"message":"Room is not active"}`},
		{name: "malformed", code: "A-B", wantStatus: http.StatusBadRequest, wantBody: `{"success":false,"message":"Invalid room code"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/public-room/validate/" + tt.code)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			raw, _ := json.Marshal(body)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.JSONEq(t, tt.wantBody, string(raw))
		})
	}
}

func TestCreateAndDeactivateRoom(t *testing.T) {
	srv, _ := newTestApp(t, 100)

	resp, err := http.Post(srv.URL+"/public-room", "application/json", strings.NewReader(`{"name":"Lobby"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Code   string `json:"code"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Len(t, created.Code, 6)
	assert.Equal(t, "Lobby", created.Name)
	assert.True(t, created.Active)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/public-room/"+created.Code+"/active", strings.NewReader(`{"active":false}`))
	put, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	put.Body.Close()
	assert.Equal(t, http.StatusOK, put.StatusCode)

	val, err := http.Get(srv.URL + "/public-room/validate/" + created.Code)
	require.NoError(t, err)
	val.Body.Close()
	assert.Equal(t, http.StatusForbidden, val.StatusCode)

	dup, err := http.Post(srv.URL+"/public-room", "application/json", strings.NewReader(`{"code":"`+created.Code+`"}`))
	require.NoError(t, err)
	dup.Body.Close()
	assert.Equal(t, http.StatusConflict, dup.StatusCode)
}

func TestSocketThroughMiddleware(t *testing.T) {
	srv, repo := newTestApp(t, 100)
	seed(t, repo, "XY12", true)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	data, _ := protocol.NewJoinRoom("j1", "XY12", "Ann").Bytes()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.RoomJoined, env.Event)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	var h struct {
		LiveRooms int `json:"liveRooms"`
	}
	require.NoError(t, json.NewDecoder(health.Body).Decode(&h))
	assert.Equal(t, 1, h.LiveRooms)
}

func TestRateLimiter(t *testing.T) {
	srv, _ := newTestApp(t, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/public-room/validate/XY12")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}

	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}, codes)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestApp(t, 100)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
