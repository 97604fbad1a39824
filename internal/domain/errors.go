package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomInactive        = errors.New("room is not active")
	ErrRoomFull            = errors.New("room is full")
	ErrRoomAlreadyExists   = errors.New("room already exists")
	ErrRoomStoreFull       = errors.New("room store is full")
	ErrInvalidRoomCode     = errors.New("invalid room code")
	ErrInvalidUsername     = errors.New("invalid username")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotJoined           = errors.New("not joined to a room")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrMessageTooLong      = errors.New("message is too long")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrSendInFlight        = errors.New("a message is already being sent")
	ErrSessionClosed       = errors.New("session closed")
)

// ValidationError is a user-correctable rejection of a room code or
// display name. Message is shown to the user as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// TimeoutError reports that a bounded wait elapsed. Op names the
// operation: "request", "join" or "message delivery".
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return e.Op + " timed out"
}

// TransportError wraps a failure of the underlying connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport: " + e.Op
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError carries a reason the server gave for rejecting a request.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return e.Reason
}

// UserMessage renders err the way it is shown to a user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		verr *ValidationError
		perr *ProtocolError
		terr *TimeoutError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.As(err, &perr):
		return perr.Reason
	case errors.As(err, &terr):
		return terr.Error()
	}
	return err.Error()
}
