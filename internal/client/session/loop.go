package session

import (
	"context"

	"github.com/tshare/publicroom/internal/client/delivery"
	"github.com/tshare/publicroom/internal/client/namestore"
	"github.com/tshare/publicroom/internal/client/roomjoin"
	"github.com/tshare/publicroom/internal/client/transport"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
	"github.com/tshare/publicroom/internal/protocol"
)

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	events := s.link.Events()
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			s.leaving.Store(true)
			return
		case ev, ok := <-events:
			if !ok {
				s.leaving.Store(true)
				return
			}
			if s.leaving.Load() {
				return
			}
			s.handleEvent(ev)
		case fn := <-s.inbox:
			if s.leaving.Load() {
				return
			}
			fn()
		}
	}
}

func (s *Session) teardown() {
	s.proto.Reset()
	s.cancelValidation()
	s.joinTimer.Stop()
	s.typingTimer.Stop()
	s.tracker.Reset()
	s.notifier.Reset()
	s.typers.Reset()
	s.state.Clear()
	s.resolveWaiters(domain.ErrSessionClosed)

	if err := s.link.Close(); err != nil {
		s.logger.Warn(logging.Session, logging.Leave, "failed to close link", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	s.publish()
	close(s.updates)
	s.logger.Info(logging.Session, logging.Leave, "session closed", nil)
}

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		s.epoch = ev.Epoch
		s.gaveUp = false
		if a, ok := s.proto.Rejoin(); ok {
			s.logger.Info(logging.Session, logging.Join, "rejoining after reconnect", map[logging.ExtraKey]any{
				logging.RoomCode: a.Code,
				logging.Epoch:    ev.Epoch,
			})
			s.sendJoin(a)
		}

	case transport.EventDisconnected:
		s.notifier.Reset()
		s.typers.Reset()
		if ev.Terminal {
			s.gaveUp = true
			s.lastErr = ev.Reason
		}

	case transport.EventDegraded, transport.EventHealthy:
		s.logger.Debug(logging.Session, logging.Delivery, "link health changed", map[logging.ExtraKey]any{
			logging.Epoch:  ev.Epoch,
			logging.Reason: ev.Kind.String(),
		})

	case transport.EventFrame:
		if ev.Epoch != s.epoch {
			s.logger.Debug(logging.Session, logging.Frame, "dropping frame from a previous connection", map[logging.ExtraKey]any{
				logging.Epoch: ev.Epoch,
			})
			return
		}
		env, err := protocol.Parse(ev.Frame)
		if err != nil {
			s.logger.Warn(logging.Session, logging.Frame, "malformed frame", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
			return
		}
		s.handleEnvelope(env)
	}
	s.publish()
}

func (s *Session) handleEnvelope(env *protocol.Envelope) {
	switch env.Event {
	case protocol.RoomJoined, protocol.RoomError:
		s.resolveJoin(env)

	case protocol.UserJoined, protocol.UserLeft:
		var p domain.Participant
		if err := env.Decode(&p); err != nil {
			s.malformed(env, err)
			return
		}
		if env.Event == protocol.UserJoined {
			s.state.UserJoined(p)
			return
		}
		s.state.UserLeft(p)
		s.typers.Clear(p.Username)

	case protocol.ChatMessage:
		var p protocol.ChatMessagePayload
		if err := env.Decode(&p); err != nil {
			s.malformed(env, err)
			return
		}
		s.state.AppendChat(p.Message())

	case protocol.TypingStart, protocol.TypingStop:
		var p protocol.TypingPayload
		if err := env.Decode(&p); err != nil {
			s.malformed(env, err)
			return
		}
		if !s.state.Joined() {
			return
		}
		if env.Event == protocol.TypingStart {
			s.typers.Mark(p.Username)
		} else {
			s.typers.Clear(p.Username)
		}
		s.scheduleSweep()

	case protocol.Ack:
		var p protocol.AckPayload
		if err := env.Decode(&p); err != nil {
			s.malformed(env, err)
			return
		}
		s.link.MarkHealthy()
		out, ok := s.tracker.Ack(env.ID, p)
		if !ok {
			return
		}
		if out.Err != nil {
			s.lastErr = out.Err
		}
		s.logger.Debug(logging.Session, logging.Delivery, "message "+out.Result.String(), map[logging.ExtraKey]any{
			logging.RequestID: out.ID,
		})

	default:
		s.logger.Debug(logging.Session, logging.Frame, "ignoring event", map[logging.ExtraKey]any{
			logging.Reason: env.Event,
		})
	}
}

func (s *Session) beginJoin(req roomjoin.Request, wait chan error) {
	attempt, started := s.proto.Begin(req)
	if !started {
		if s.proto.Phase() == roomjoin.Joined {
			wait <- nil
			return
		}
		s.waiters = append(s.waiters, wait)
		return
	}

	s.cancelValidation()
	s.joinTimer.Stop()
	s.resolveWaiters(ErrJoinSuperseded)
	s.waiters = []chan error{wait}
	s.lastErr = nil

	if err := s.names.Set(namestore.UsernameKey, req.Username); err != nil {
		s.logger.Warn(logging.Session, logging.Join, "failed to store name", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	s.logger.Info(logging.Session, logging.Join, "validating room", map[logging.ExtraKey]any{
		logging.RoomCode: req.Code,
		logging.Username: req.Username,
	})

	vctx, cancel := context.WithCancel(s.ctx)
	s.validating = cancel
	seq := attempt.Seq
	go func() {
		err := s.validator.Validate(vctx, req.Code)
		s.post(func() { s.validated(seq, err) })
	}()
	s.publish()
}

func (s *Session) validated(seq uint64, err error) {
	current, ok := s.proto.Current()
	if !ok || current.Seq != seq {
		return
	}
	s.cancelValidation()

	a, ok := s.proto.Validated(seq, err)
	if !ok {
		s.logger.Info(logging.Validation, logging.Join, "room validation failed", map[logging.ExtraKey]any{
			logging.RoomCode:     current.Code,
			logging.ErrorMessage: domain.UserMessage(err),
		})
		s.lastErr = err
		s.resolveWaiters(err)
		s.publish()
		return
	}
	s.sendJoin(a)
	s.publish()
}

// sendJoin emits join-room for a and bounds the wait for its reply. If
// the link is down the reply timer still runs; the next connection
// reissues the join.
func (s *Session) sendJoin(a roomjoin.Attempt) {
	frame, err := protocol.NewJoinRoom(a.ID, a.Code, a.Username).Bytes()
	if err == nil {
		err = s.link.Emit(frame)
	}
	if err != nil {
		s.logger.Debug(logging.Session, logging.Join, "join deferred until connected", map[logging.ExtraKey]any{
			logging.RoomCode:     a.Code,
			logging.ErrorMessage: err.Error(),
		})
	}

	s.joinTimer.Stop()
	seq := a.Seq
	s.joinTimer = s.after(s.opts.JoinTimeout, func() { s.joinTimedOut(seq) })
}

func (s *Session) resolveJoin(env *protocol.Envelope) {
	out, ok := s.proto.Resolve(env)
	if !ok {
		s.logger.Debug(logging.Session, logging.Join, "ignoring stale join reply", map[logging.ExtraKey]any{
			logging.RequestID: env.ID,
		})
		return
	}
	s.joinTimer.Stop()

	if out.Err != nil {
		s.logger.Info(logging.Session, logging.Join, "join rejected", map[logging.ExtraKey]any{
			logging.RoomCode: out.Attempt.Code,
			logging.Reason:   domain.UserMessage(out.Err),
		})
		if _, joined := s.proto.Room(); !joined {
			s.discardRoom()
		}
		s.lastErr = out.Err
		s.resolveWaiters(out.Err)
		return
	}

	s.tracker.Reset()
	s.notifier.Reset()
	s.typers.Reset()
	s.state.ApplySnapshot(*out.Snapshot)
	s.username = out.Attempt.Username
	s.lastErr = nil
	s.link.MarkHealthy()
	s.resolveWaiters(nil)

	s.logger.Info(logging.Session, logging.Join, "joined room", map[logging.ExtraKey]any{
		logging.RoomCode: s.state.Room().Code,
		logging.Username: s.username,
	})
}

func (s *Session) joinTimedOut(seq uint64) {
	out, ok := s.proto.Timeout(seq)
	if !ok {
		return
	}
	s.logger.Warn(logging.Session, logging.Join, "join timed out", map[logging.ExtraKey]any{
		logging.RoomCode: out.Attempt.Code,
	})
	s.lastErr = out.Err
	s.resolveWaiters(out.Err)
	s.publish()
}

func (s *Session) send(text string) error {
	if !s.state.Joined() {
		return domain.ErrNotJoined
	}

	id, err := s.tracker.Begin(text)
	if err != nil {
		return err
	}
	s.notifier.Stop()

	frame, err := protocol.NewSendMessage(id, s.state.Room().Code, text, s.username).Bytes()
	if err == nil {
		err = s.link.Emit(frame)
	}
	if err != nil {
		s.tracker.Abort(err)
		s.state.AppendPending(s.username, text)
		s.lastErr = &domain.TransportError{Op: "send message", Err: err}
		s.publish()
		return s.lastErr
	}

	s.publish()
	return nil
}

func (s *Session) deliveryTimedOut(out delivery.Outcome) {
	s.link.MarkDegraded()
	s.lastErr = out.Err
	s.logger.Warn(logging.Session, logging.Delivery, "no ack for message", map[logging.ExtraKey]any{
		logging.RequestID: out.ID,
	})
	s.publish()
}

func (s *Session) emitTyping(started bool) {
	if !s.state.Joined() {
		return
	}
	frame, err := protocol.NewTyping(started, s.state.Room().Code, s.username).Bytes()
	if err == nil {
		err = s.link.Emit(frame)
	}
	if err != nil {
		s.logger.Debug(logging.Session, logging.Typing, "typing notification dropped", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (s *Session) scheduleSweep() {
	s.typingTimer.Stop()
	s.typingTimer = nil

	next, ok := s.typers.NextExpiry()
	if !ok {
		return
	}
	s.typingTimer = s.after(next.Sub(s.clk.Now()), func() {
		if s.typers.Sweep() {
			s.publish()
		}
		s.scheduleSweep()
	})
}

func (s *Session) discardRoom() {
	s.tracker.Reset()
	s.notifier.Reset()
	s.typers.Reset()
	s.typingTimer.Stop()
	s.state.Clear()
}

// resolveWaiters publishes first so a returning Join sees the outcome
// in View.
func (s *Session) resolveWaiters(err error) {
	if len(s.waiters) == 0 {
		return
	}
	s.publish()
	for _, w := range s.waiters {
		w <- err
	}
	s.waiters = nil
}

func (s *Session) cancelValidation() {
	if s.validating != nil {
		s.validating()
		s.validating = nil
	}
}

func (s *Session) linkUp() bool {
	state := s.link.State()
	return state == domain.Connected || state == domain.Degraded
}

func (s *Session) malformed(env *protocol.Envelope, err error) {
	s.logger.Warn(logging.Session, logging.Frame, "malformed payload", map[logging.ExtraKey]any{
		logging.Reason:       env.Event,
		logging.ErrorMessage: err.Error(),
	})
}

// publish stores the current view and offers it on Updates, replacing
// a view the reader has not taken yet.
func (s *Session) publish() {
	room := s.state.View()
	v := &View{
		View:       room,
		Phase:      s.proto.Phase(),
		Connection: s.link.State(),
		Username:   s.username,
		Typing:     s.typers.Names(s.username),
		Sending:    s.tracker.InFlight(),
		Err:        s.lastErr,
		GaveUp:     s.gaveUp,
	}
	if room.Joined {
		v.ShareURL = ShareURL(s.opts.BaseURL, room.Room.Code)
	}
	s.view.Store(v)

	select {
	case s.updates <- *v:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- *v:
	default:
	}
}
