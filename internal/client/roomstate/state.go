// Package roomstate holds the client-side snapshot of one joined room.
//
// State is not safe for concurrent use. It is owned by the session
// loop, which applies events in the order the connection delivered
// them, and handed out to readers only as copies.
package roomstate

import (
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
	"github.com/tshare/publicroom/internal/protocol"
)

// View is an immutable copy of State.
type View struct {
	Joined       bool
	Room         domain.Room
	Messages     []domain.Message
	Participants []domain.Participant
	// Epoch counts applied snapshots. The log is append-only within
	// one epoch.
	Epoch uint64
}

type State struct {
	clk      clock.Clock
	presence *Presence

	joined   bool
	room     domain.Room
	messages []domain.Message
	roster   []domain.Participant
	epoch    uint64
}

func New(clk clock.Clock, presence *Presence) *State {
	if clk == nil {
		clk = clock.Real()
	}
	if presence == nil {
		presence = NewPresence("")
	}
	return &State{clk: clk, presence: presence}
}

// ApplySnapshot replaces room, roster and log wholesale and starts a
// new epoch. Nothing from the previous epoch is kept.
func (s *State) ApplySnapshot(p protocol.RoomJoinedPayload) {
	code := domain.NormalizeCode(p.RoomCode)
	name := p.RoomName
	if name == "" {
		name = domain.DefaultRoomName(code)
	}

	s.joined = true
	s.room = domain.Room{Code: code, Name: name, Active: true}
	s.messages = append([]domain.Message(nil), p.Messages...)
	s.roster = s.roster[:0:0]
	for _, u := range p.Users {
		s.upsert(u)
	}
	s.epoch++
}

// UserJoined adds p to the roster and announces it. A participant
// already on the roster is updated in place without an announcement.
func (s *State) UserJoined(p domain.Participant) bool {
	if !s.joined {
		return false
	}
	if !s.upsert(p) {
		return false
	}
	s.appendMessage(domain.NewSystemMessage(s.presence.Joined(p.Username), s.clk.Now()))
	return true
}

// UserLeft removes p from the roster and announces the departure.
func (s *State) UserLeft(p domain.Participant) {
	if !s.joined {
		return
	}
	for i, existing := range s.roster {
		if existing.ID == p.ID {
			s.roster = append(s.roster[:i], s.roster[i+1:]...)
			break
		}
	}
	s.appendMessage(domain.NewSystemMessage(s.presence.Left(p.Username), s.clk.Now()))
}

// AppendChat appends m to the log without deduplication.
func (s *State) AppendChat(m domain.Message) {
	if !s.joined {
		return
	}
	m.Kind = domain.KindChat
	s.appendMessage(m)
}

// AppendPending records a message the user tried to send but that
// could not be handed to the connection.
func (s *State) AppendPending(username, text string) {
	if !s.joined {
		return
	}
	m := domain.NewChatMessage(username, text, s.clk.Now())
	m.Pending = true
	s.appendMessage(m)
}

// Clear discards the room. The epoch counter is kept.
func (s *State) Clear() {
	s.joined = false
	s.room = domain.Room{}
	s.messages = nil
	s.roster = nil
}

func (s *State) Joined() bool {
	return s.joined
}

func (s *State) Room() domain.Room {
	return s.room
}

func (s *State) View() View {
	return View{
		Joined:       s.joined,
		Room:         s.room,
		Messages:     append([]domain.Message(nil), s.messages...),
		Participants: append([]domain.Participant(nil), s.roster...),
		Epoch:        s.epoch,
	}
}

// upsert reports whether p was not on the roster before.
func (s *State) upsert(p domain.Participant) bool {
	for i, existing := range s.roster {
		if existing.ID == p.ID {
			s.roster[i] = p
			return false
		}
	}
	s.roster = append(s.roster, p)
	return true
}

// appendMessage keeps timestamps non-decreasing.
func (s *State) appendMessage(m domain.Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = s.clk.Now()
	}
	if n := len(s.messages); n > 0 {
		if last := s.messages[n-1].Timestamp; m.Timestamp.Before(last) {
			m.Timestamp = last
		}
	}
	s.messages = append(s.messages, m)
}
