// Package delivery correlates an outgoing chat message with the
// server's ack. One message may be in flight at a time.
package delivery

import (
	"time"

	"github.com/google/uuid"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
	"github.com/tshare/publicroom/internal/protocol"
)

const DefaultTimeout = 5 * time.Second

type Result int

const (
	Delivered Result = iota
	Rejected
	TimedOut
	Aborted
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed out"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

type Outcome struct {
	ID     string
	Text   string
	Result Result
	Err    error
}

type AfterFunc func(d time.Duration, f func()) *clock.Timer

// Tracker is owned by the session loop and is not safe for concurrent
// use. Exactly one of Ack, Abort or the timeout resolves a Begin.
type Tracker struct {
	timeout   time.Duration
	after     AfterFunc
	onTimeout func(Outcome)

	id    string
	text  string
	gen   uint64
	timer *clock.Timer
}

func NewTracker(timeout time.Duration, after AfterFunc, onTimeout func(Outcome)) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{timeout: timeout, after: after, onTimeout: onTimeout}
}

func (t *Tracker) InFlight() bool {
	return t.id != ""
}

// Begin registers text as in flight and starts the ack timer. The
// returned id goes out with the send-message.
func (t *Tracker) Begin(text string) (string, error) {
	if t.InFlight() {
		return "", domain.ErrSendInFlight
	}

	t.id = uuid.NewString()
	t.text = text
	t.gen++
	gen := t.gen
	t.timer = t.after(t.timeout, func() { t.expire(gen) })
	return t.id, nil
}

// Ack resolves the message in flight. An ack with an unknown id, or
// one that arrives after the timeout, resolves nothing.
func (t *Tracker) Ack(id string, ack protocol.AckPayload) (Outcome, bool) {
	if !t.InFlight() || (id != "" && id != t.id) {
		return Outcome{}, false
	}

	out := Outcome{ID: t.id, Text: t.text, Result: Delivered}
	if !ack.OK {
		reason := ack.Error
		if reason == "" {
			reason = "Message was not delivered"
		}
		out.Result = Rejected
		out.Err = &domain.ProtocolError{Reason: reason}
	}
	t.Reset()
	return out, true
}

// Abort resolves the message in flight when it never reached the
// connection. The caller keeps the text as a pending message.
func (t *Tracker) Abort(err error) (Outcome, bool) {
	if !t.InFlight() {
		return Outcome{}, false
	}
	out := Outcome{ID: t.id, Text: t.text, Result: Aborted, Err: err}
	t.Reset()
	return out, true
}

// Reset forgets the message in flight without resolving it.
func (t *Tracker) Reset() {
	t.id = ""
	t.text = ""
	t.gen++
	t.timer.Stop()
	t.timer = nil
}

func (t *Tracker) expire(gen uint64) {
	if gen != t.gen || !t.InFlight() {
		return
	}
	out := Outcome{ID: t.id, Text: t.text, Result: TimedOut, Err: &domain.TimeoutError{Op: "message delivery"}}
	t.Reset()
	if t.onTimeout != nil {
		t.onTimeout(out)
	}
}
