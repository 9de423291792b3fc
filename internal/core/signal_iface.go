package core

import (
	"context"

	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

// Handshake is what the server tells a socket once it accepts it.
type Handshake struct {
	SocketID string
	UserID   domain.UserID
	Name     string
}

// Conn is one authenticated channel to the room server.
// Owned by the transport manager; the manager must Close() it.
type Conn interface {
	Handshake() Handshake
	Send(protocol.Envelope) error
	// Inbound delivers frames in server order and is closed when the
	// connection ends.
	Inbound() <-chan protocol.Envelope
	// Err reports why Inbound was closed; nil after a local Close.
	Err() error
	Close() error
}

// Dialer opens a Conn and blocks until the server handshake is received or
// ctx is done. A refused credential is reported as domain.ErrConnectionRejected.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}
