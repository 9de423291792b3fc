package hub

import (
	"sort"
	"sync"

	"github.com/chaincast/session/internal/domain"
)

// Rooms owns every live room on this server.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[domain.RoomID]*Room)}
}

// GetOrCreate reports whether the room was created by this call.
func (f *Rooms) GetOrCreate(id domain.RoomID) (*Room, bool) {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room, false
	}
	room = NewRoom(id)
	f.rooms[id] = room
	return room, true
}

func (f *Rooms) Get(id domain.RoomID) (*Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rooms[id]
	return r, ok
}

func (f *Rooms) List() []RoomInfo {
	f.mu.RLock()
	out := make([]RoomInfo, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, r.Info())
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop forgets the room. It only removes r if it is still the live room
// for its id.
func (f *Rooms) Stop(r *Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[r.id] == r {
		delete(f.rooms, r.id)
	}
}
