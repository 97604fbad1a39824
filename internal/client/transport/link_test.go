package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
)

type fakeConn struct {
	frames chan []byte
	fail   chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.fail:
		return nil, err
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

type fakeTransport struct {
	name  string
	dials atomic.Int32
	dial  func(n int) (Conn, error)
}

func (t *fakeTransport) Name() string { return t.name }

func (t *fakeTransport) Dial(context.Context) (Conn, error) {
	n := int(t.dials.Add(1))
	return t.dial(n)
}

func failing(name string) *fakeTransport {
	return &fakeTransport{name: name, dial: func(int) (Conn, error) {
		return nil, errors.New("refused")
	}}
}

func serving(name string, conns ...*fakeConn) *fakeTransport {
	return &fakeTransport{name: name, dial: func(n int) (Conn, error) {
		if n > len(conns) {
			return nil, errors.New("refused")
		}
		return conns[n-1], nil
	}}
}

func newTestLink(t *testing.T, clk clock.Clock, transports ...Transport) *Link {
	t.Helper()
	l := NewLink(Config{
		Transports:   transports,
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2,
		Clock:        clk,
	})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func next(t *testing.T, l *Link) Event {
	t.Helper()
	select {
	case ev, ok := <-l.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func waitSleeping(t *testing.T, clk *clock.FakeClock) {
	t.Helper()
	require.Eventually(t, func() bool { return clk.PendingCount() == 1 }, 2*time.Second, time.Millisecond)
}

func TestLink_DeliversFramesInOrder(t *testing.T) {
	conn := newFakeConn()
	l := newTestLink(t, clock.Real(), serving("primary", conn))
	require.NoError(t, l.Open(context.Background()))

	ev := next(t, l)
	assert.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, uint64(1), ev.Epoch)
	assert.Equal(t, "primary", ev.Transport)
	assert.Equal(t, domain.Connected, l.State())

	conn.frames <- []byte("one")
	conn.frames <- []byte("two")
	conn.frames <- []byte("three")
	for _, want := range []string{"one", "two", "three"} {
		ev := next(t, l)
		assert.Equal(t, EventFrame, ev.Kind)
		assert.Equal(t, uint64(1), ev.Epoch)
		assert.Equal(t, want, string(ev.Frame))
	}

	require.NoError(t, l.Emit([]byte("hello")))
	assert.Equal(t, [][]byte{[]byte("hello")}, conn.Written())
}

func TestLink_FallsBackToNextTransport(t *testing.T) {
	primary := failing("primary")
	conn := newFakeConn()
	secondary := serving("secondary", conn)

	l := newTestLink(t, clock.Real(), primary, secondary)
	require.NoError(t, l.Open(context.Background()))

	ev := next(t, l)
	assert.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, "secondary", ev.Transport)
	assert.Equal(t, int32(1), primary.dials.Load())
}

func TestLink_ReconnectsWithNewEpoch(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	first, second := newFakeConn(), newFakeConn()
	l := newTestLink(t, clk, serving("primary", first, second))
	require.NoError(t, l.Open(context.Background()))

	require.Equal(t, EventConnected, next(t, l).Kind)

	first.fail <- &domain.TransportError{Op: "read", Err: errors.New("reset by peer")}
	ev := next(t, l)
	assert.Equal(t, EventDisconnected, ev.Kind)
	assert.False(t, ev.Terminal)
	assert.Equal(t, uint64(1), ev.Epoch)

	waitSleeping(t, clk)
	assert.Equal(t, domain.Connecting, l.State())
	clk.Advance(time.Second)

	ev = next(t, l)
	assert.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, uint64(2), ev.Epoch)
	assert.Equal(t, uint64(2), l.Epoch())
}

func TestLink_AttemptCapIsTerminalUntilRetry(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	conn := newFakeConn()
	tr := &fakeTransport{name: "primary", dial: func(n int) (Conn, error) {
		if n <= 3 {
			return nil, errors.New("refused")
		}
		return conn, nil
	}}
	l := newTestLink(t, clk, tr)
	require.NoError(t, l.Open(context.Background()))

	waitSleeping(t, clk)
	clk.Advance(time.Second)
	waitSleeping(t, clk)
	clk.Advance(2 * time.Second)

	ev := next(t, l)
	assert.Equal(t, EventDisconnected, ev.Kind)
	assert.True(t, ev.Terminal)
	var terr *domain.TransportError
	assert.ErrorAs(t, ev.Reason, &terr)
	assert.Equal(t, domain.Disconnected, l.State())
	assert.Equal(t, int32(3), tr.dials.Load())

	l.Retry()
	ev = next(t, l)
	assert.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, int32(4), tr.dials.Load())
}

func TestLink_BackoffIsBounded(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	tr := failing("primary")
	l := NewLink(Config{
		Transports:   []Transport{tr},
		MaxAttempts:  6,
		InitialDelay: time.Second,
		MaxDelay:     3 * time.Second,
		Multiplier:   2,
		Clock:        clk,
	})
	t.Cleanup(func() { _ = l.Close() })
	require.NoError(t, l.Open(context.Background()))

	for attempt, delay := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second} {
		waitSleeping(t, clk)
		clk.Advance(delay - time.Millisecond)
		assert.Equal(t, int32(attempt+1), tr.dials.Load(), "fired early on attempt %d", attempt+1)
		clk.Advance(time.Millisecond)
		require.Eventually(t, func() bool { return tr.dials.Load() == int32(attempt+2) }, 2*time.Second, time.Millisecond)
	}
}

func TestLink_ServerCloseIsTerminal(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	first, second := newFakeConn(), newFakeConn()
	tr := serving("primary", first, second)
	l := newTestLink(t, clk, tr)
	require.NoError(t, l.Open(context.Background()))
	require.Equal(t, EventConnected, next(t, l).Kind)

	first.fail <- ErrServerClosed
	ev := next(t, l)
	assert.True(t, ev.Terminal)
	assert.ErrorIs(t, ev.Reason, ErrServerClosed)

	clk.Advance(time.Minute)
	assert.Equal(t, int32(1), tr.dials.Load())

	l.Retry()
	ev = next(t, l)
	assert.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, uint64(2), ev.Epoch)
}

func TestLink_DegradedKeepsConnection(t *testing.T) {
	conn := newFakeConn()
	l := newTestLink(t, clock.Real(), serving("primary", conn))

	assert.False(t, l.MarkDegraded(), "not connected yet")

	require.NoError(t, l.Open(context.Background()))
	require.Equal(t, EventConnected, next(t, l).Kind)

	assert.True(t, l.MarkDegraded())
	assert.False(t, l.MarkDegraded())
	assert.Equal(t, domain.Degraded, l.State())
	require.NoError(t, l.Emit([]byte("still open")))

	assert.True(t, l.MarkHealthy())
	assert.False(t, l.MarkHealthy())
	assert.Equal(t, domain.Connected, l.State())
}

func TestLink_PublishesHealthTransitions(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	first, second := newFakeConn(), newFakeConn()
	l := newTestLink(t, clk, serving("primary", first, second))
	require.NoError(t, l.Open(context.Background()))
	require.Equal(t, EventConnected, next(t, l).Kind)

	require.True(t, l.MarkDegraded())
	ev := next(t, l)
	assert.Equal(t, EventDegraded, ev.Kind)
	assert.Equal(t, uint64(1), ev.Epoch)

	require.True(t, l.MarkHealthy())
	ev = next(t, l)
	assert.Equal(t, EventHealthy, ev.Kind)
	assert.Equal(t, uint64(1), ev.Epoch)

	require.True(t, l.MarkDegraded())
	require.Equal(t, EventDegraded, next(t, l).Kind)

	first.fail <- &domain.TransportError{Op: "read", Err: errors.New("reset by peer")}
	require.Equal(t, EventDisconnected, next(t, l).Kind)
	waitSleeping(t, clk)
	clk.Advance(time.Second)
	require.Equal(t, EventConnected, next(t, l).Kind)

	// The new connection starts healthy, so degrading it is reported again.
	require.True(t, l.MarkDegraded())
	ev = next(t, l)
	assert.Equal(t, EventDegraded, ev.Kind)
	assert.Equal(t, uint64(2), ev.Epoch)
}

func TestLink_EmitAndClose(t *testing.T) {
	conn := newFakeConn()
	l := newTestLink(t, clock.Real(), serving("primary", conn))
	assert.ErrorIs(t, l.Emit([]byte("x")), ErrNotConnected)

	require.NoError(t, l.Open(context.Background()))
	require.Equal(t, EventConnected, next(t, l).Kind)

	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Emit([]byte("x")), ErrLinkClosed)
	assert.Equal(t, domain.Disconnected, l.State())
	assert.ErrorIs(t, l.Open(context.Background()), ErrLinkClosed)

	select {
	case <-conn.closed:
	default:
		t.Fatal("connection left open")
	}

	for range l.Events() {
	}
}

func TestLink_CloseBeforeOpen(t *testing.T) {
	l := NewLink(Config{Transports: []Transport{failing("primary")}})
	require.NoError(t, l.Close())
	_, ok := <-l.Events()
	assert.False(t, ok)
}

func TestLink_ContextCancelCloses(t *testing.T) {
	conn := newFakeConn()
	l := newTestLink(t, clock.Real(), serving("primary", conn))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Open(ctx))
	require.Equal(t, EventConnected, next(t, l).Kind)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-conn.closed:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
}

func TestLink_OpenWithoutTransports(t *testing.T) {
	l := NewLink(Config{})
	assert.ErrorIs(t, l.Open(context.Background()), ErrNoTransports)
}
