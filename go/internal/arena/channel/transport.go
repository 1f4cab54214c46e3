package channel

import (
	"context"
	"errors"
)

var (
	ErrConnClosed         = errors.New("connection closed")
	ErrNotConnected       = errors.New("room not connected")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrManagerClosed      = errors.New("channel manager closed")
)

// Transport opens one logical connection to an arena room.
type Transport interface {
	Dial(ctx context.Context, room string) (Conn, error)
}

// Conn is a single live connection. Read is only ever called from one goroutine;
// Write may be called concurrently with Read. After Close, Read returns an error.
type Conn interface {
	Read() (*ArenaEvent, error)
	Write(ctx context.Context, event *ArenaEvent) error
	Close() error
}
