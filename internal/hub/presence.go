package hub

import (
	"context"
	"sync"

	"github.com/chaincast/session/internal/domain"
)

// PresenceStore counts who is in which room. The redis implementation lets
// several server instances share capacity limits.
type PresenceStore interface {
	Add(ctx context.Context, room domain.RoomID, user domain.UserID) error
	Remove(ctx context.Context, room domain.RoomID, user domain.UserID) error
	Count(ctx context.Context, room domain.RoomID) (int, error)
	Clear(ctx context.Context, room domain.RoomID) error
	Close() error
}

type MemoryPresence struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]map[domain.UserID]struct{}
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{rooms: make(map[domain.RoomID]map[domain.UserID]struct{})}
}

func (m *MemoryPresence) Add(_ context.Context, room domain.RoomID, user domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.rooms[room]
	if !ok {
		set = make(map[domain.UserID]struct{})
		m.rooms[room] = set
	}
	set[user] = struct{}{}
	return nil
}

func (m *MemoryPresence) Remove(_ context.Context, room domain.RoomID, user domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.rooms[room]
	if !ok {
		return nil
	}
	delete(set, user)
	if len(set) == 0 {
		delete(m.rooms, room)
	}
	return nil
}

func (m *MemoryPresence) Count(_ context.Context, room domain.RoomID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms[room]), nil
}

func (m *MemoryPresence) Clear(_ context.Context, room domain.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room)
	return nil
}

func (m *MemoryPresence) Close() error { return nil }
