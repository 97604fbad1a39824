// Package transport owns the physical connection of a room session:
// dialing an ordered list of candidate transports, reading frames in
// order, and reconnecting with bounded exponential backoff.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrServerClosed marks an explicit close by the server. The link
	// does not reconnect on its own after one.
	ErrServerClosed = errors.New("connection closed by server")
	// ErrIdleTimeout marks a connection that stopped delivering packets.
	ErrIdleTimeout  = errors.New("connection idle timeout")
	ErrNotConnected = errors.New("not connected")
	ErrLinkClosed   = errors.New("link closed")
	ErrNoTransports = errors.New("no transports configured")
)

// Conn is one established connection. ReadFrame is called from a
// single goroutine; WriteFrame and Close may be called concurrently.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Transport dials a Conn. Dial must honour ctx cancellation.
type Transport interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
}
