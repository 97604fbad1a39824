// Package roomjoin drives a join from room code validation to a
// resolved room-joined or room-error reply.
//
// Protocol is a plain state machine: it never blocks, owns no timers
// and is not safe for concurrent use. The session loop feeds it the
// validation result, incoming replies and timer expiries, and it
// decides which of them still belong to the current attempt.
package roomjoin

import (
	"github.com/google/uuid"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/protocol"
)

type Phase int

const (
	Idle Phase = iota
	Validating
	Joining
	Joined
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	}
	return "unknown"
}

type Request struct {
	Code     string
	Username string
}

// Attempt is one pass through validating and joining. Seq identifies
// it to timers; ID is the correlation id sent with join-room.
type Attempt struct {
	Request
	Seq uint64
	ID  string
}

// Outcome is the resolution of a join attempt.
type Outcome struct {
	Attempt  Attempt
	Snapshot *protocol.RoomJoinedPayload
	Err      error
}

type Protocol struct {
	phase   Phase
	current *Attempt
	joined  *Request
	err     error
	seq     uint64
}

func New() *Protocol {
	return &Protocol{}
}

func (p *Protocol) Phase() Phase {
	return p.phase
}

// Err is the error that sent the last attempt back to Idle.
func (p *Protocol) Err() error {
	return p.err
}

// Current returns the attempt in flight, if any.
func (p *Protocol) Current() (Attempt, bool) {
	if p.current == nil {
		return Attempt{}, false
	}
	return *p.current, true
}

// Room returns the request that last reached Joined. It survives a
// dropped connection so the join can be reissued.
func (p *Protocol) Room() (Request, bool) {
	if p.joined == nil {
		return Request{}, false
	}
	return *p.joined, true
}

// Begin starts validating req. A request identical to the one in
// flight, or to the room already joined, is coalesced and started is
// false. Any other request supersedes the current attempt.
func (p *Protocol) Begin(req Request) (attempt Attempt, started bool) {
	switch p.phase {
	case Validating, Joining:
		if p.current.Request == req {
			return *p.current, false
		}
	case Joined:
		if p.joined != nil && *p.joined == req {
			return Attempt{Request: req}, false
		}
	}

	p.seq++
	p.current = &Attempt{Request: req, Seq: p.seq}
	p.phase = Validating
	p.err = nil
	return *p.current, true
}

// Validated records the validation outcome of attempt seq. It returns
// the attempt to send as join-room, or false when the attempt failed
// or was superseded meanwhile.
func (p *Protocol) Validated(seq uint64, err error) (Attempt, bool) {
	if p.phase != Validating || p.current == nil || p.current.Seq != seq {
		return Attempt{}, false
	}
	if err != nil {
		p.fail(err)
		return Attempt{}, false
	}

	p.current.ID = uuid.NewString()
	p.phase = Joining
	return *p.current, true
}

// Resolve applies a room-joined or room-error envelope. Only the first
// reply correlated with the attempt in flight resolves it; anything
// else, including a second reply to the same attempt, is ignored.
// Replies without an id are taken as answering the current attempt.
func (p *Protocol) Resolve(env *protocol.Envelope) (Outcome, bool) {
	if p.phase != Joining || p.current == nil {
		return Outcome{}, false
	}
	if env.ID != "" && env.ID != p.current.ID {
		return Outcome{}, false
	}

	attempt := *p.current
	switch env.Event {
	case protocol.RoomJoined:
		var snapshot protocol.RoomJoinedPayload
		if err := env.Decode(&snapshot); err != nil {
			p.fail(&domain.ProtocolError{Reason: "Unable to join room"})
			p.joined = nil
			return Outcome{Attempt: attempt, Err: p.err}, true
		}
		p.phase = Joined
		p.current = nil
		joined := attempt.Request
		p.joined = &joined
		return Outcome{Attempt: attempt, Snapshot: &snapshot}, true

	case protocol.RoomError:
		p.fail(&domain.ProtocolError{Reason: env.Reason()})
		p.joined = nil
		return Outcome{Attempt: attempt, Err: p.err}, true
	}
	return Outcome{}, false
}

// Timeout expires attempt seq if it is still waiting for a reply.
// A late reply to it is ignored afterwards.
func (p *Protocol) Timeout(seq uint64) (Outcome, bool) {
	if p.phase != Joining || p.current == nil || p.current.Seq != seq {
		return Outcome{}, false
	}
	attempt := *p.current
	p.fail(&domain.TimeoutError{Op: "join"})
	return Outcome{Attempt: attempt, Err: p.err}, true
}

// Rejoin is called on every new connection. It reissues join-room for
// the joined room, or for a join whose request went out on a
// connection that has since dropped. Validation is not repeated.
func (p *Protocol) Rejoin() (Attempt, bool) {
	var req Request
	switch {
	case p.phase == Joining:
		req = p.current.Request
	case p.phase == Validating:
		return Attempt{}, false
	case p.joined != nil:
		req = *p.joined
	default:
		return Attempt{}, false
	}

	p.seq++
	p.current = &Attempt{Request: req, Seq: p.seq, ID: uuid.NewString()}
	p.phase = Joining
	p.err = nil
	return *p.current, true
}

// Reset forgets every attempt and the joined room.
func (p *Protocol) Reset() {
	p.phase = Idle
	p.current = nil
	p.joined = nil
	p.err = nil
}

func (p *Protocol) fail(err error) {
	p.phase = Idle
	p.current = nil
	p.err = err
}
