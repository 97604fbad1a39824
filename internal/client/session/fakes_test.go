package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tshare/publicroom/internal/client/transport"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
	"github.com/tshare/publicroom/internal/protocol"
)

type fakeLink struct {
	events  chan transport.Event
	emitted chan *protocol.Envelope
	retries atomic.Int32

	mu     sync.Mutex
	state  domain.ConnectionState
	epoch  uint64
	closed bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		events:  make(chan transport.Event, 64),
		emitted: make(chan *protocol.Envelope, 64),
	}
}

func (l *fakeLink) Open(context.Context) error { return nil }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		l.state = domain.Disconnected
		close(l.events)
	}
	return nil
}

func (l *fakeLink) Emit(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return transport.ErrLinkClosed
	}
	if l.state != domain.Connected && l.state != domain.Degraded {
		return transport.ErrNotConnected
	}
	env, err := protocol.Parse(frame)
	if err != nil {
		return err
	}
	l.emitted <- env
	return nil
}

func (l *fakeLink) Events() <-chan transport.Event { return l.events }

func (l *fakeLink) Retry() { l.retries.Add(1) }

func (l *fakeLink) MarkDegraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != domain.Connected {
		return false
	}
	l.state = domain.Degraded
	return true
}

func (l *fakeLink) MarkHealthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != domain.Degraded {
		return false
	}
	l.state = domain.Connected
	return true
}

func (l *fakeLink) State() domain.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) connect() uint64 {
	l.mu.Lock()
	l.epoch++
	l.state = domain.Connected
	epoch := l.epoch
	l.mu.Unlock()

	l.events <- transport.Event{Kind: transport.EventConnected, Epoch: epoch, Transport: "fake"}
	return epoch
}

func (l *fakeLink) drop(terminal bool) {
	l.mu.Lock()
	l.state = domain.Disconnected
	epoch := l.epoch
	l.mu.Unlock()

	l.events <- transport.Event{Kind: transport.EventDisconnected, Epoch: epoch, Reason: transport.ErrIdleTimeout, Terminal: terminal}
}

// push delivers env on the current connection.
func (l *fakeLink) push(t *testing.T, env *protocol.Envelope) {
	t.Helper()
	l.mu.Lock()
	epoch := l.epoch
	l.mu.Unlock()
	l.pushAt(t, epoch, env)
}

func (l *fakeLink) pushAt(t *testing.T, epoch uint64, env *protocol.Envelope) {
	t.Helper()
	frame, err := env.Bytes()
	require.NoError(t, err)
	l.events <- transport.Event{Kind: transport.EventFrame, Epoch: epoch, Frame: frame}
}

func (l *fakeLink) next(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case env := <-l.emitted:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("nothing emitted")
		return nil
	}
}

func (l *fakeLink) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case env := <-l.emitted:
		t.Fatalf("unexpected %s", env.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeValidator struct {
	calls   atomic.Int32
	release chan struct{}
	result  func(code string) error
}

func (v *fakeValidator) Validate(ctx context.Context, code string) error {
	release := v.release
	v.calls.Add(1)
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if v.result != nil {
		return v.result(code)
	}
	return nil
}

type harness struct {
	session   *Session
	link      *fakeLink
	validator *fakeValidator
	clk       *clock.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		link:      newFakeLink(),
		validator: &fakeValidator{},
		clk:       clock.Fake(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)),
	}
	h.session = New(h.link, h.validator, nil, Options{
		BaseURL:     "https://share.example",
		JoinTimeout: 8 * time.Second,
		AckTimeout:  5 * time.Second,
		TypingTTL:   3 * time.Second,
		TypingIdle:  time.Second,
	}, nil, h.clk)
	require.NoError(t, h.session.Start(context.Background()))
	t.Cleanup(func() { _ = h.session.Leave() })
	return h
}

// join runs Join in the background and returns its result channel
// together with the join-room it emitted.
func (h *harness) join(t *testing.T, code, username string) (<-chan error, *protocol.Envelope) {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- h.session.Join(context.Background(), code, username) }()
	return result, h.link.next(t)
}

func (h *harness) joined(t *testing.T, users ...domain.Participant) {
	t.Helper()
	h.link.connect()
	result, env := h.join(t, "XY12", "Ann")
	require.Equal(t, protocol.JoinRoom, env.Event)

	if len(users) == 0 {
		users = []domain.Participant{{ID: "1", Username: "Ann"}}
	}
	h.link.push(t, protocol.NewRoomJoined(env.ID, domain.Room{Code: "XY12", Name: "Public Room XY12"}, nil, users))
	require.NoError(t, wait(t, result))
}

func (h *harness) eventually(t *testing.T, cond func(v View) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.session.View()) }, 2*time.Second, time.Millisecond)
}

func (h *harness) pendingTimers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.clk.PendingCount() == n }, 2*time.Second, time.Millisecond)
}

// sync returns once the loop has handled everything queued before it.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.call(context.Background(), func() error { return nil }))
}

func wait(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("join did not return")
		return nil
	}
}
