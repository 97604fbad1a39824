package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
	"github.com/tshare/publicroom/internal/infrastructure/metrics"
	"github.com/tshare/publicroom/internal/infrastructure/ratelimiter"
	"github.com/tshare/publicroom/internal/infrastructure/tracing"
	"github.com/tshare/publicroom/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	MaxParticipants  int
	MaxMessageLength int
	AllowedOrigins   []string
}

// Core routes frames from connected clients to the live room they
// joined. Each live room runs its own goroutine; Core only keeps the
// index of rooms and clients.
type Core struct {
	ctx    context.Context
	cancel context.CancelFunc

	opts              Options
	upgrader          websocket.Upgrader
	roomRepository    domain.RoomRepository
	messageRepository domain.MessageRepository
	limiter           ratelimiter.Limiter
	logger            logging.Logger
	metrics           *metrics.Metrics
	clock             clock.Clock
	tracer            trace.Tracer

	mu      sync.Mutex
	rooms   map[string]*liveRoom
	clients map[string]*Client
	closed  bool
}

func NewCore(
	opts Options,
	roomRepository domain.RoomRepository,
	messageRepository domain.MessageRepository,
	limiter ratelimiter.Limiter,
	logger logging.Logger,
	m *metrics.Metrics,
	clk clock.Clock,
) *Core {
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = 50
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 2000
	}
	if clk == nil {
		clk = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		ctx:               ctx,
		cancel:            cancel,
		opts:              opts,
		roomRepository:    roomRepository,
		messageRepository: messageRepository,
		limiter:           limiter,
		logger:            logger,
		metrics:           m,
		clock:             clk,
		tracer:            tracing.GetTracer("publicroom/ws"),
		rooms:             make(map[string]*liveRoom),
		clients:           make(map[string]*Client),
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     c.checkOrigin,
	}
	return c
}

func (c *Core) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range c.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Serve upgrades the request and runs the connection until it closes.
func (c *Core) Serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := newClient(conn)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		client.close(websocket.CloseGoingAway, ReasonServerClosing)
		return nil
	}
	c.clients[client.ID] = client
	c.mu.Unlock()

	c.metrics.ConnectionOpened()
	c.logger.Debug(logging.Transport, logging.Dial, "client connected", map[logging.ExtraKey]any{
		logging.ParticipantID: client.ID,
		logging.ClientIp:      client.RemoteAddr,
	})

	go client.writePump()
	go client.readPump(c)
	return nil
}

func (c *Core) handle(cl *Client, env *protocol.Envelope) {
	switch env.Event {
	case protocol.JoinRoom:
		c.join(cl, env)
	case protocol.SendMessage:
		c.sendMessage(cl, env)
	case protocol.TypingStart, protocol.TypingStop:
		if r := c.roomOf(cl); r != nil {
			r.submit(typingCmd{client: cl, started: env.Event == protocol.TypingStart})
		}
	default:
		c.logger.Debug(logging.Transport, logging.Frame, "ignoring unknown event", map[logging.ExtraKey]any{
			logging.ParticipantID: cl.ID,
			logging.Reason:        env.Event,
		})
	}
}

func (c *Core) join(cl *Client, env *protocol.Envelope) {
	ctx, span := c.tracer.Start(c.ctx, "room.join")
	defer span.End()

	var p protocol.JoinRoomPayload
	if err := env.Decode(&p); err != nil {
		c.rejectJoin(cl, env.ID, span, domain.ErrInvalidInput)
		return
	}

	code := domain.NormalizeCode(p.RoomCode)
	span.SetAttributes(attribute.String("room.code", code))

	room, err := c.roomRepository.GetByCode(ctx, code)
	if err != nil {
		c.rejectJoin(cl, env.ID, span, err)
		return
	}
	if !room.Active {
		c.rejectJoin(cl, env.ID, span, domain.ErrRoomInactive)
		return
	}

	username, err := domain.NormalizeUsername(p.Username)
	if err != nil {
		c.rejectJoin(cl, env.ID, span, err)
		return
	}

	if cl.roomCode != "" && cl.roomCode != code {
		c.leave(cl)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	live, ok := c.rooms[code]
	if !ok {
		// The room may have been evicted since it was read above.
		if err := c.roomRepository.Pin(ctx, code); err != nil {
			c.mu.Unlock()
			c.rejectJoin(cl, env.ID, span, err)
			return
		}
		live = newLiveRoom(code, c)
		c.rooms[code] = live
		go live.run()
		c.metrics.RoomOpened()
	}
	reply := make(chan error, 1)
	submitted := live.submit(joinCmd{client: cl, room: *room, username: username, reqID: env.ID, reply: reply})
	c.mu.Unlock()
	if !submitted {
		return
	}

	select {
	case err = <-reply:
	case <-live.quit:
		return
	}
	if err != nil {
		c.rejectJoin(cl, env.ID, span, err)
		if cl.roomCode == "" {
			c.reap(code, live)
		}
		return
	}
	cl.roomCode = code
}

func (c *Core) rejectJoin(cl *Client, reqID string, span trace.Span, err error) {
	reason := reasonFor(err)
	span.SetStatus(codes.Error, reason)

	cl.deliver(protocol.NewRoomError(reqID, reason))
	c.metrics.JoinResult(reason)

	lvl := c.logger.Info
	if reason == ReasonInternal {
		lvl = c.logger.Error
	}
	lvl(logging.Room, logging.Join, "join rejected", map[logging.ExtraKey]any{
		logging.ParticipantID: cl.ID,
		logging.Reason:        reason,
		logging.ErrorMessage:  err.Error(),
	})
}

func (c *Core) sendMessage(cl *Client, env *protocol.Envelope) {
	var p protocol.SendMessagePayload
	if err := env.Decode(&p); err != nil {
		cl.deliver(protocol.NewAck(env.ID, ReasonEmptyMessage))
		return
	}

	r := c.roomOf(cl)
	if r == nil || (p.RoomCode != "" && domain.NormalizeCode(p.RoomCode) != cl.roomCode) {
		cl.deliver(protocol.NewAck(env.ID, ReasonNotJoined))
		return
	}

	if ok, _ := c.limiter.Allow(cl.ID); !ok {
		cl.deliver(protocol.NewAck(env.ID, ReasonRateLimited))
		c.logger.Warn(logging.Room, logging.RateLimiting, "message rate limited", map[logging.ExtraKey]any{
			logging.ParticipantID: cl.ID,
			logging.RoomCode:      cl.roomCode,
		})
		return
	}

	if !r.submit(messageCmd{client: cl, reqID: env.ID, text: p.Text}) {
		cl.deliver(protocol.NewAck(env.ID, ReasonNotJoined))
	}
}

func (c *Core) roomOf(cl *Client) *liveRoom {
	if cl.roomCode == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[cl.roomCode]
}

// leave removes the client from its current room and stops the room
// once it is empty.
func (c *Core) leave(cl *Client) {
	code := cl.roomCode
	cl.roomCode = ""
	if code == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	live, ok := c.rooms[code]
	if !ok {
		return
	}
	reply := make(chan int, 1)
	if !live.submit(leaveCmd{client: cl, reply: reply}) {
		return
	}
	if <-reply == 0 {
		c.removeLocked(code, live)
	}
}

// reap stops a live room that ended up without members.
func (c *Core) reap(code string, live *liveRoom) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rooms[code] != live {
		return
	}
	reply := make(chan int, 1)
	if live.submit(sizeCmd{reply: reply}) && <-reply == 0 {
		c.removeLocked(code, live)
	}
}

func (c *Core) removeLocked(code string, live *liveRoom) {
	delete(c.rooms, code)
	c.roomRepository.Unpin(c.ctx, code)
	live.stop()
	c.metrics.RoomClosed()
}

func (c *Core) disconnect(cl *Client) {
	c.leave(cl)
	if l, ok := c.limiter.(interface{ Forget(string) }); ok {
		l.Forget(cl.ID)
	}

	c.mu.Lock()
	_, known := c.clients[cl.ID]
	delete(c.clients, cl.ID)
	c.mu.Unlock()

	if known {
		c.metrics.ConnectionClosed()
	}
	c.logger.Debug(logging.Transport, logging.Dial, "client disconnected", map[logging.ExtraKey]any{
		logging.ParticipantID: cl.ID,
	})
}

// Shutdown closes every connection with a going-away frame and stops
// all live rooms.
func (c *Core) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	clients := make([]*Client, 0, len(c.clients))
	for _, cl := range c.clients {
		clients = append(clients, cl)
	}
	for code, live := range c.rooms {
		c.removeLocked(code, live)
	}
	c.mu.Unlock()

	for _, cl := range clients {
		cl.close(websocket.CloseGoingAway, ReasonServerClosing)
	}
	c.cancel()
}

// LiveRooms reports how many rooms currently have a running goroutine.
func (c *Core) LiveRooms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}
