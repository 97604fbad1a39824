package ws

import (
	"errors"

	"github.com/tshare/publicroom/internal/domain"
)

// Reasons sent to clients in room-error frames and negative acks.
const (
	ReasonRoomNotFound    = "Room not found"
	ReasonRoomInactive    = "Room is not active"
	ReasonRoomFull        = "Room is full"
	ReasonInvalidRoomCode = "Invalid room code"
	ReasonNotJoined       = "Not joined to a room"
	ReasonEmptyMessage    = "Message is empty"
	ReasonMessageTooLong  = "Message is too long"
	ReasonRateLimited     = "You are sending messages too quickly"
	ReasonServerClosing   = "Server is shutting down"
	ReasonReplaced        = "Joined from another connection"
	ReasonInternal        = "Unable to join room"
)

func reasonFor(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, domain.ErrRoomNotFound):
		return ReasonRoomNotFound
	case errors.Is(err, domain.ErrRoomInactive):
		return ReasonRoomInactive
	case errors.Is(err, domain.ErrRoomFull):
		return ReasonRoomFull
	case errors.Is(err, domain.ErrInvalidRoomCode), errors.Is(err, domain.ErrInvalidInput):
		return ReasonInvalidRoomCode
	case errors.Is(err, domain.ErrNotJoined):
		return ReasonNotJoined
	case errors.Is(err, domain.ErrEmptyMessage):
		return ReasonEmptyMessage
	case errors.Is(err, domain.ErrMessageTooLong):
		return ReasonMessageTooLong
	case errors.Is(err, domain.ErrRateLimited):
		return ReasonRateLimited
	}
	return ReasonInternal
}
