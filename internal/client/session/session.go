// Package session runs one public room session: it owns the link to
// the room server and applies everything that happens to the room on a
// single goroutine, in the order it happened.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tshare/publicroom/internal/client/delivery"
	"github.com/tshare/publicroom/internal/client/namestore"
	"github.com/tshare/publicroom/internal/client/roomjoin"
	"github.com/tshare/publicroom/internal/client/roomstate"
	"github.com/tshare/publicroom/internal/client/transport"
	"github.com/tshare/publicroom/internal/client/typing"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
)

const DefaultJoinTimeout = 8 * time.Second

var (
	ErrNotStarted      = errors.New("session not started")
	ErrJoinSuperseded  = errors.New("join superseded by a newer request")
	errInvalidRoomCode = &domain.ValidationError{Message: "Invalid room code"}
)

// Link is the connection a Session drives. *transport.Link implements it.
type Link interface {
	Open(ctx context.Context) error
	Close() error
	Emit(frame []byte) error
	Events() <-chan transport.Event
	Retry()
	MarkDegraded() bool
	MarkHealthy() bool
	State() domain.ConnectionState
}

type Options struct {
	// BaseURL is used to build the share link of the joined room.
	BaseURL     string
	Locale      string
	JoinTimeout time.Duration
	AckTimeout  time.Duration
	TypingTTL   time.Duration
	TypingIdle  time.Duration
}

// View is a snapshot of the session for rendering.
type View struct {
	roomstate.View

	Phase      roomjoin.Phase
	Connection domain.ConnectionState
	Username   string
	// Typing lists the other participants currently typing.
	Typing []string
	// Sending is true while a message waits for its ack.
	Sending  bool
	ShareURL string
	// Err is the last error worth showing the user.
	Err error
	// GaveUp is set once the link stopped reconnecting; Retry resumes.
	GaveUp bool
}

func (v View) ErrorMessage() string {
	return domain.UserMessage(v.Err)
}

type Session struct {
	link      Link
	validator roomjoin.Validator
	names     namestore.Store
	opts      Options
	logger    logging.Logger
	clk       clock.Clock

	inbox   chan func()
	quit    chan struct{}
	done    chan struct{}
	updates chan View
	view    atomic.Pointer[View]
	leaving atomic.Bool

	lifecycle sync.Mutex
	started   bool
	quitOnce  sync.Once

	// Everything below is owned by the loop goroutine.
	ctx         context.Context
	proto       *roomjoin.Protocol
	state       *roomstate.State
	typers      *typing.Aggregator
	notifier    *typing.Notifier
	tracker     *delivery.Tracker
	epoch       uint64
	username    string
	waiters     []chan error
	validating  context.CancelFunc
	joinTimer   *clock.Timer
	typingTimer *clock.Timer
	lastErr     error
	gaveUp      bool
}

func New(link Link, validator roomjoin.Validator, names namestore.Store, opts Options, logger logging.Logger, clk clock.Clock) *Session {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if names == nil {
		names = namestore.NewMemory()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}

	s := &Session{
		link:      link,
		validator: validator,
		names:     names,
		opts:      opts,
		logger:    logger,
		clk:       clk,
		inbox:     make(chan func(), 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		updates:   make(chan View, 1),
		proto:     roomjoin.New(),
		state:     roomstate.New(clk, roomstate.NewPresence(opts.Locale)),
		typers:    typing.NewAggregator(clk, opts.TypingTTL),
	}
	s.notifier = typing.NewNotifier(opts.TypingIdle, s.after, s.emitTyping)
	s.tracker = delivery.NewTracker(opts.AckTimeout, s.after, s.deliveryTimedOut)
	s.view.Store(&View{Connection: domain.Disconnected})
	return s
}

// Start opens the link and starts the session loop. Cancelling ctx
// has the same effect as Leave.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.leaving.Load() {
		return domain.ErrSessionClosed
	}
	if s.started {
		return nil
	}
	if err := s.link.Open(ctx); err != nil {
		return err
	}
	s.started = true
	s.ctx = ctx

	go s.run(ctx)
	return nil
}

// StoredName returns the display name saved by the last join, if any.
func (s *Session) StoredName() string {
	name, err := s.names.Get(namestore.UsernameKey)
	if err != nil {
		if !errors.Is(err, namestore.ErrNotFound) {
			s.logger.Warn(logging.Session, logging.Join, "failed to read stored name", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		return ""
	}
	return name
}

// Join validates code and joins the room as username. It blocks until
// the join resolves, ctx is done, or the session closes. A second call
// for the same room and name while the first is pending waits for the
// same attempt instead of starting another.
func (s *Session) Join(ctx context.Context, code, username string) error {
	code = domain.NormalizeCode(code)
	if err := domain.ValidateCode(code); err != nil {
		return errInvalidRoomCode
	}
	name, err := domain.NormalizeUsername(username)
	if err != nil {
		return err
	}

	wait := make(chan error, 1)
	req := roomjoin.Request{Code: code, Username: name}
	if err := s.call(ctx, func() error {
		s.beginJoin(req, wait)
		return nil
	}); err != nil {
		return err
	}

	select {
	case err := <-wait:
		return err
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send emits text to the joined room. It returns once the message is
// on the wire; the ack arrives asynchronously and View().Sending stays
// true until then. Only one message may be in flight.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyMessage
	}
	return s.call(ctx, func() error {
		return s.send(text)
	})
}

// Keystroke reports local typing activity.
func (s *Session) Keystroke() {
	s.post(func() {
		if s.state.Joined() {
			s.notifier.Keystroke()
		}
	})
}

// StopTyping ends the local typing burst now.
func (s *Session) StopTyping() {
	s.post(s.notifier.Stop)
}

// Retry reconnects after the link gave up, and reissues the join of a
// room whose rejoin timed out.
func (s *Session) Retry() {
	s.post(func() {
		s.gaveUp = false
		s.lastErr = nil
		s.link.Retry()
		if s.proto.Phase() == roomjoin.Idle && s.linkUp() {
			if a, ok := s.proto.Rejoin(); ok {
				s.sendJoin(a)
			}
		}
		s.publish()
	})
}

// Leave closes the link and discards the room. No event is applied
// once Leave has been called. The session cannot be reused.
func (s *Session) Leave() error {
	s.leaving.Store(true)
	s.quitOnce.Do(func() { close(s.quit) })

	s.lifecycle.Lock()
	started := s.started
	s.lifecycle.Unlock()

	if !started {
		s.closeUnstarted()
		return nil
	}
	<-s.done
	return nil
}

func (s *Session) View() View {
	return *s.view.Load()
}

// Updates delivers the latest View after every change. Intermediate
// views may be skipped by a slow reader. Closed when the session ends.
func (s *Session) Updates() <-chan View {
	return s.updates
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) closeUnstarted() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	select {
	case <-s.done:
	default:
		_ = s.link.Close()
		close(s.updates)
		close(s.done)
	}
}

func (s *Session) call(ctx context.Context, fn func() error) error {
	if s.leaving.Load() {
		return domain.ErrSessionClosed
	}
	s.lifecycle.Lock()
	started := s.started
	s.lifecycle.Unlock()
	if !started {
		return ErrNotStarted
	}

	reply := make(chan error, 1)
	select {
	case s.inbox <- func() { reply <- fn() }:
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) post(fn func()) {
	if s.leaving.Load() {
		return
	}
	s.lifecycle.Lock()
	started := s.started
	s.lifecycle.Unlock()
	if !started {
		return
	}
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// after runs f on the loop once d has elapsed.
func (s *Session) after(d time.Duration, f func()) *clock.Timer {
	return s.clk.AfterFunc(d, func() { s.post(f) })
}
