// Package hub holds the room server's in-memory state: connected sockets,
// rooms and their rosters.
package hub

import (
	"errors"
	"sync"

	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

type SessionID string

var ErrOutboxClosed = errors.New("outbox closed")

// Outbox is the write side of one socket. TrySend never blocks.
type Outbox interface {
	TrySend(frame []byte) error
	Close()
}

// Session binds an authenticated user to its socket outbox.
// It is what a room stores and fans out to.
type Session struct {
	ID   SessionID
	User domain.User
	out  Outbox

	mu       sync.RWMutex
	role     domain.Role
	caps     domain.Capabilities
	streamID string
}

func NewSession(id SessionID, user domain.User, out Outbox) *Session {
	return &Session{ID: id, User: user, out: out, role: domain.RoleMember}
}

// Send encodes and queues one event for this socket.
func (s *Session) Send(ev protocol.Event, id uint64, payload any) error {
	env, err := protocol.NewEnvelope(ev, id, payload)
	if err != nil {
		return err
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return s.out.TrySend(frame)
}

func (s *Session) trySend(frame []byte) error { return s.out.TrySend(frame) }

func (s *Session) setRole(r domain.Role) {
	s.mu.Lock()
	s.role = r
	s.mu.Unlock()
}

func (s *Session) setCaps(c domain.Capabilities) {
	s.mu.Lock()
	s.caps = c
	s.mu.Unlock()
}

// Participant is the roster view of this session.
func (s *Session) Participant() domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Participant{
		ID:       s.User.ID,
		Name:     s.User.Username,
		Role:     s.role,
		Caps:     s.caps,
		StreamID: s.streamID,
	}
}
