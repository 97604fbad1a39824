package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventFrame
	// EventDegraded and EventHealthy follow MarkDegraded and MarkHealthy.
	// The connection stays open in both cases.
	EventDegraded
	EventHealthy
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventFrame:
		return "frame"
	case EventDegraded:
		return "degraded"
	case EventHealthy:
		return "healthy"
	}
	return "unknown"
}

// Event is delivered on Link.Events in the order it happened. Epoch
// increments on every successful connection; frames carry the epoch of
// the connection they were read from.
type Event struct {
	Kind      EventKind
	Epoch     uint64
	Transport string
	Frame     []byte

	// Reason and Terminal are set on EventDisconnected. A terminal
	// disconnect is not followed by another attempt until Retry.
	Reason   error
	Terminal bool
}

type Config struct {
	// Transports are tried in order on every attempt.
	Transports []Transport

	DialTimeout time.Duration

	// MaxAttempts caps consecutive failed attempts. Zero means 10.
	MaxAttempts int

	InitialDelay        time.Duration
	MaxDelay            time.Duration
	Multiplier          float64
	RandomizationFactor float64

	Clock  clock.Clock
	Logger logging.Logger
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
}

// Link owns one logical connection. A single supervisor goroutine
// dials, reads and reconnects; everything it observes is published on
// Events, which is closed once the link is closed.
type Link struct {
	cfg    Config
	events chan Event
	retry  chan struct{}
	quit   chan struct{}
	done   chan struct{}

	health     chan struct{}
	healthDone chan struct{}

	mu      sync.Mutex
	state   domain.ConnectionState
	conn    Conn
	epoch   uint64
	started bool
	closed  bool
}

func NewLink(cfg Config) *Link {
	cfg.applyDefaults()
	return &Link{
		cfg:    cfg,
		events: make(chan Event, 64),
		retry:  make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  domain.Disconnected,

		health:     make(chan struct{}, 1),
		healthDone: make(chan struct{}),
	}
}

func (l *Link) Events() <-chan Event {
	return l.events
}

func (l *Link) State() domain.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Epoch returns the epoch of the current or most recent connection.
func (l *Link) Epoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// Open starts the supervisor. It returns immediately; the outcome of
// the first attempt arrives on Events. ctx bounds the whole lifetime of
// the link.
func (l *Link) Open(ctx context.Context) error {
	if len(l.cfg.Transports) == 0 {
		return ErrNoTransports
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if l.started {
		return nil
	}
	l.started = true
	l.state = domain.Connecting

	go l.supervise(ctx)
	go l.forwardHealth(ctx)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-l.done:
		}
	}()
	return nil
}

// Close tears the connection down and stops reconnecting. It waits for
// the supervisor to exit, so no event is published after it returns.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return nil
	}
	l.closed = true
	started := l.started
	conn := l.conn
	l.conn = nil
	l.state = domain.Disconnected
	close(l.quit)
	l.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	if !started {
		close(l.events)
		close(l.done)
		return err
	}
	<-l.done
	return err
}

// Emit writes one frame on the current connection.
func (l *Link) Emit(frame []byte) error {
	l.mu.Lock()
	conn := l.conn
	closed := l.closed
	l.mu.Unlock()

	if closed {
		return ErrLinkClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteFrame(frame)
}

// Retry restarts connecting after a terminal disconnect, or cuts a
// pending backoff delay short. Either way the attempt counter resets.
func (l *Link) Retry() {
	select {
	case l.retry <- struct{}{}:
	default:
	}
}

// MarkDegraded flags a connected link whose peer stopped answering.
// The connection is left open. Reports whether the state changed.
func (l *Link) MarkDegraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != domain.Connected {
		return false
	}
	l.state = domain.Degraded
	l.cfg.Logger.Warn(logging.Transport, logging.Delivery, "link degraded", map[logging.ExtraKey]any{
		logging.Epoch: l.epoch,
	})
	l.signalHealth()
	return true
}

// MarkHealthy clears a degraded flag after a successful round-trip.
func (l *Link) MarkHealthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != domain.Degraded {
		return false
	}
	l.state = domain.Connected
	l.signalHealth()
	return true
}

func (l *Link) signalHealth() {
	select {
	case l.health <- struct{}{}:
	default:
	}
}

// forwardHealth publishes degraded and healthy transitions. It runs
// apart from the supervisor so marking health never waits on the
// reader of Events. Only the latest state is published.
func (l *Link) forwardHealth(ctx context.Context) {
	defer close(l.healthDone)

	var (
		degraded  bool
		lastEpoch uint64
	)
	for {
		select {
		case <-l.health:
		case <-l.quit:
			return
		case <-ctx.Done():
			return
		}

		l.mu.Lock()
		state, epoch := l.state, l.epoch
		l.mu.Unlock()

		// A new connection starts healthy.
		if epoch != lastEpoch {
			degraded = false
			lastEpoch = epoch
		}

		var ev Event
		switch {
		case state == domain.Degraded && !degraded:
			degraded = true
			ev = Event{Kind: EventDegraded, Epoch: epoch}
		case state == domain.Connected && degraded:
			degraded = false
			ev = Event{Kind: EventHealthy, Epoch: epoch}
		default:
			continue
		}
		if !l.publish(ctx, ev) {
			return
		}
	}
}

type wake int

const (
	wakeTimer wake = iota
	wakeRetry
	wakeQuit
)

func (l *Link) supervise(ctx context.Context) {
	defer close(l.done)
	defer close(l.events)
	defer func() { <-l.healthDone }()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.InitialDelay
	bo.MaxInterval = l.cfg.MaxDelay
	bo.Multiplier = l.cfg.Multiplier
	bo.RandomizationFactor = l.cfg.RandomizationFactor
	bo.Reset()

	attempts := 0
	for {
		l.setState(domain.Connecting)

		conn, name, err := l.dial(ctx)
		if err != nil {
			if l.stopping(ctx) {
				return
			}
			attempts++
			l.cfg.Logger.Warn(logging.Transport, logging.Reconnect, "connection attempt failed", map[logging.ExtraKey]any{
				logging.Attempt:      attempts,
				logging.ErrorMessage: err.Error(),
			})

			if attempts >= l.cfg.MaxAttempts {
				l.setState(domain.Disconnected)
				reason := &domain.TransportError{
					Op:  fmt.Sprintf("gave up after %d attempts", attempts),
					Err: err,
				}
				if !l.publish(ctx, Event{Kind: EventDisconnected, Reason: reason, Terminal: true}) {
					return
				}
				if l.waitRetry(ctx) == wakeQuit {
					return
				}
				attempts = 0
				bo.Reset()
				continue
			}

			switch l.sleep(ctx, bo.NextBackOff()) {
			case wakeQuit:
				return
			case wakeRetry:
				attempts = 0
				bo.Reset()
			}
			continue
		}

		attempts = 0
		bo.Reset()

		epoch, ok := l.attach(conn)
		if !ok {
			_ = conn.Close()
			return
		}
		l.cfg.Logger.Info(logging.Transport, logging.Dial, "connected", map[logging.ExtraKey]any{
			logging.TransportName: name,
			logging.Epoch:         epoch,
		})
		if !l.publish(ctx, Event{Kind: EventConnected, Epoch: epoch, Transport: name}) {
			return
		}

		err = l.read(ctx, conn, epoch)
		if !l.detach(conn) || l.stopping(ctx) {
			return
		}
		_ = conn.Close()

		terminal := errors.Is(err, ErrServerClosed)
		l.cfg.Logger.Warn(logging.Transport, logging.Reconnect, "disconnected", map[logging.ExtraKey]any{
			logging.Epoch:        epoch,
			logging.ErrorMessage: err.Error(),
		})
		if !l.publish(ctx, Event{Kind: EventDisconnected, Epoch: epoch, Reason: err, Terminal: terminal}) {
			return
		}

		if terminal {
			if l.waitRetry(ctx) == wakeQuit {
				return
			}
			continue
		}

		l.setState(domain.Connecting)
		if l.sleep(ctx, bo.NextBackOff()) == wakeQuit {
			return
		}
	}
}

// dial tries every transport in order and returns the first connection.
func (l *Link) dial(ctx context.Context) (Conn, string, error) {
	var errs []error
	for _, t := range l.cfg.Transports {
		dctx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
		conn, err := t.Dial(dctx)
		cancel()
		if err == nil {
			return conn, t.Name(), nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}

		l.cfg.Logger.Debug(logging.Transport, logging.Dial, "transport failed, trying next", map[logging.ExtraKey]any{
			logging.TransportName: t.Name(),
			logging.ErrorMessage:  err.Error(),
		})
		errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
	}
	return nil, "", errors.Join(errs...)
}

func (l *Link) read(ctx context.Context, conn Conn, epoch uint64) error {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		if !l.publish(ctx, Event{Kind: EventFrame, Epoch: epoch, Frame: frame}) {
			return ErrLinkClosed
		}
	}
}

func (l *Link) attach(conn Conn) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, false
	}
	l.epoch++
	l.conn = conn
	l.state = domain.Connected
	return l.epoch, true
}

// detach reports false when Close already took the connection.
func (l *Link) detach(conn Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != conn {
		return false
	}
	l.conn = nil
	l.state = domain.Disconnected
	return true
}

func (l *Link) setState(s domain.ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.state = s
	}
}

func (l *Link) stopping(ctx context.Context) bool {
	select {
	case <-l.quit:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (l *Link) publish(ctx context.Context, ev Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-l.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *Link) sleep(ctx context.Context, d time.Duration) wake {
	select {
	case <-l.cfg.Clock.After(d):
		return wakeTimer
	case <-l.retry:
		return wakeRetry
	case <-l.quit:
		return wakeQuit
	case <-ctx.Done():
		return wakeQuit
	}
}

func (l *Link) waitRetry(ctx context.Context) wake {
	select {
	case <-l.retry:
		return wakeRetry
	case <-l.quit:
		return wakeQuit
	case <-ctx.Done():
		return wakeQuit
	}
}
