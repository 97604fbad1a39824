package typing

import (
	"time"

	"github.com/tshare/publicroom/internal/infrastructure/clock"
)

const DefaultIdle = time.Second

// AfterFunc schedules f after d. The session passes a version that
// runs f on its own loop.
type AfterFunc func(d time.Duration, f func()) *clock.Timer

// Notifier emits typing-start once per keystroke burst and a single
// typing-stop when the burst ends, either after Idle without a
// keystroke or when a message is sent.
//
// A burst longer than the receivers' TTL is not refreshed mid-way, so
// receivers may drop the entry before the burst ends.
type Notifier struct {
	idle  time.Duration
	after AfterFunc
	send  func(started bool)

	typing bool
	gen    uint64
	timer  *clock.Timer
}

func NewNotifier(idle time.Duration, after AfterFunc, send func(started bool)) *Notifier {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Notifier{idle: idle, after: after, send: send}
}

func (n *Notifier) Typing() bool {
	return n.typing
}

// Keystroke starts a burst or extends the current one.
func (n *Notifier) Keystroke() {
	if !n.typing {
		n.typing = true
		n.send(true)
	}

	n.gen++
	gen := n.gen
	n.timer.Stop()
	n.timer = n.after(n.idle, func() { n.expire(gen) })
}

// Stop ends the burst now. It is a no-op outside a burst.
func (n *Notifier) Stop() {
	if !n.typing {
		return
	}
	n.Reset()
	n.send(false)
}

// Reset drops the burst without telling anyone.
func (n *Notifier) Reset() {
	n.typing = false
	n.gen++
	n.timer.Stop()
	n.timer = nil
}

func (n *Notifier) expire(gen uint64) {
	if gen != n.gen {
		return
	}
	n.Stop()
}
