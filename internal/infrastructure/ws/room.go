package ws

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
	"github.com/tshare/publicroom/internal/protocol"
)

type member struct {
	client      *Client
	participant domain.Participant
}

// liveRoom owns the roster and message log of one room. All mutations
// run on its goroutine, in the order commands were submitted.
type liveRoom struct {
	code string
	core *Core

	cmds chan any
	quit chan struct{}

	members  map[string]*member // client id -> member
	order    []string           // client ids in join order
	lastSent time.Time
}

type joinCmd struct {
	client   *Client
	room     domain.Room
	username string
	reqID    string
	reply    chan error
}

type leaveCmd struct {
	client *Client
	reply  chan int
}

type sizeCmd struct {
	reply chan int
}

type messageCmd struct {
	client *Client
	reqID  string
	text   string
}

type typingCmd struct {
	client  *Client
	started bool
}

func newLiveRoom(code string, core *Core) *liveRoom {
	return &liveRoom{
		code:    code,
		core:    core,
		cmds:    make(chan any, 64),
		quit:    make(chan struct{}),
		members: make(map[string]*member),
	}
}

func (r *liveRoom) submit(cmd any) bool {
	select {
	case r.cmds <- cmd:
		return true
	case <-r.quit:
		return false
	}
}

func (r *liveRoom) stop() {
	close(r.quit)
}

func (r *liveRoom) run() {
	for {
		select {
		case cmd := <-r.cmds:
			switch cmd := cmd.(type) {
			case joinCmd:
				cmd.reply <- r.join(cmd)
			case leaveCmd:
				r.leave(cmd.client)
				cmd.reply <- len(r.members)
			case sizeCmd:
				cmd.reply <- len(r.members)
			case messageCmd:
				r.message(cmd)
			case typingCmd:
				r.typing(cmd)
			}
		case <-r.quit:
			return
		}
	}
}

func (r *liveRoom) join(cmd joinCmd) error {
	ctx := r.core.ctx

	if existing, ok := r.members[cmd.client.ID]; ok {
		// Repeated join on the same connection: resend the snapshot only.
		cmd.client.deliver(protocol.NewRoomJoined(cmd.reqID, cmd.room, r.history(ctx), r.roster()))
		r.core.metrics.JoinResult("rejoined")
		r.core.logger.Debug(logging.Room, logging.Join, "repeated join", map[logging.ExtraKey]any{
			logging.RoomCode:      r.code,
			logging.ParticipantID: string(existing.participant.ID),
		})
		return nil
	}

	if old := r.memberNamed(cmd.username); old != nil {
		r.replace(old, cmd)
		return nil
	}

	if len(r.members) >= r.core.opts.MaxParticipants {
		return domain.ErrRoomFull
	}

	p := domain.Participant{ID: domain.ParticipantID(uuid.NewString()), Username: cmd.username}
	r.members[cmd.client.ID] = &member{client: cmd.client, participant: p}
	r.order = append(r.order, cmd.client.ID)

	cmd.client.deliver(protocol.NewRoomJoined(cmd.reqID, cmd.room, r.history(ctx), r.roster()))
	r.broadcast(protocol.NewUserJoined(p), cmd.client.ID)

	r.core.metrics.ParticipantJoined()
	r.core.metrics.JoinResult("joined")
	r.core.logger.Info(logging.Room, logging.Join, "participant joined", map[logging.ExtraKey]any{
		logging.RoomCode:      r.code,
		logging.ParticipantID: string(p.ID),
		logging.Username:      p.Username,
	})

	return nil
}

// replace hands old's participant to the joining connection. Other
// members see no roster change; the old connection is closed normally
// so it does not reconnect.
func (r *liveRoom) replace(old *member, cmd joinCmd) {
	delete(r.members, old.client.ID)
	for i, id := range r.order {
		if id == old.client.ID {
			r.order[i] = cmd.client.ID
			break
		}
	}
	r.members[cmd.client.ID] = &member{client: cmd.client, participant: old.participant}

	cmd.client.deliver(protocol.NewRoomJoined(cmd.reqID, cmd.room, r.history(r.core.ctx), r.roster()))
	go old.client.close(websocket.CloseNormalClosure, ReasonReplaced)

	r.core.metrics.JoinResult("replaced")
	r.core.logger.Info(logging.Room, logging.Join, "participant reconnected", map[logging.ExtraKey]any{
		logging.RoomCode:      r.code,
		logging.ParticipantID: string(old.participant.ID),
		logging.Username:      old.participant.Username,
	})
}

func (r *liveRoom) memberNamed(username string) *member {
	for _, id := range r.order {
		if m := r.members[id]; m.participant.Username == username {
			return m
		}
	}
	return nil
}

func (r *liveRoom) leave(c *Client) {
	m, ok := r.members[c.ID]
	if !ok {
		return
	}

	delete(r.members, c.ID)
	for i, id := range r.order {
		if id == c.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.broadcast(protocol.NewUserLeft(m.participant), "")

	r.core.metrics.ParticipantLeft()
	r.core.logger.Info(logging.Room, logging.Leave, "participant left", map[logging.ExtraKey]any{
		logging.RoomCode:      r.code,
		logging.ParticipantID: string(m.participant.ID),
		logging.Username:      m.participant.Username,
	})
}

func (r *liveRoom) message(cmd messageCmd) {
	m, ok := r.members[cmd.client.ID]
	if !ok {
		cmd.client.deliver(protocol.NewAck(cmd.reqID, ReasonNotJoined))
		r.core.metrics.MessageResult("rejected")
		return
	}

	text := strings.TrimSpace(cmd.text)
	var reason string
	switch {
	case text == "":
		reason = ReasonEmptyMessage
	case utf8.RuneCountInString(text) > r.core.opts.MaxMessageLength:
		reason = ReasonMessageTooLong
	}
	if reason != "" {
		cmd.client.deliver(protocol.NewAck(cmd.reqID, reason))
		r.core.metrics.MessageResult("rejected")
		return
	}

	now := r.core.clock.Now().UTC()
	if now.Before(r.lastSent) {
		now = r.lastSent
	}
	r.lastSent = now

	msg := domain.NewChatMessage(m.participant.Username, text, now)
	if err := r.core.messageRepository.Append(r.core.ctx, r.code, msg); err != nil {
		r.core.logger.Error(logging.Room, logging.Delivery, "failed to store message", map[logging.ExtraKey]any{
			logging.RoomCode:     r.code,
			logging.ErrorMessage: err.Error(),
		})
	}

	r.broadcast(protocol.NewChatMessage(msg), "")
	cmd.client.deliver(protocol.NewAck(cmd.reqID, ""))
	r.core.metrics.MessageResult("delivered")
}

func (r *liveRoom) typing(cmd typingCmd) {
	m, ok := r.members[cmd.client.ID]
	if !ok {
		return
	}
	r.broadcast(protocol.NewTyping(cmd.started, "", m.participant.Username), cmd.client.ID)
	r.core.metrics.TypingRelayed()
}

// broadcast sends env to every member except the one with client id skip.
func (r *liveRoom) broadcast(env *protocol.Envelope, skip string) {
	for _, id := range r.order {
		if id == skip {
			continue
		}
		r.members[id].client.deliver(env)
	}
}

func (r *liveRoom) roster() []domain.Participant {
	users := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, r.members[id].participant)
	}
	return users
}

func (r *liveRoom) history(ctx context.Context) []domain.Message {
	msgs, err := r.core.messageRepository.GetByRoomCode(ctx, r.code)
	if err != nil {
		r.core.logger.Error(logging.Room, logging.Join, "failed to load history", map[logging.ExtraKey]any{
			logging.RoomCode:     r.code,
			logging.ErrorMessage: err.Error(),
		})
		return nil
	}
	if n := len(msgs); n > 0 && msgs[n-1].Timestamp.After(r.lastSent) {
		r.lastSent = msgs[n-1].Timestamp
	}
	return msgs
}
