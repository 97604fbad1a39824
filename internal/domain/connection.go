package domain

import "time"

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Degraded
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

// TypingEntry is pruned once ExpiresAt passes without a refresh.
type TypingEntry struct {
	Username  string
	ExpiresAt time.Time
}
