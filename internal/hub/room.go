package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/domain"
)

// PublishResult reports delivery stats and backpressure to the hub.
type PublishResult struct {
	SentTo  int
	Dropped []*Session
}

type RoomInfo struct {
	ID           domain.RoomID `json:"id"`
	Participants int           `json:"participants"`
	StartedAt    time.Time     `json:"startedAt"`
}

// Room is a threadsafe in-memory roster.
// It never closes socket-owned resources.
type Room struct {
	id        domain.RoomID
	startedAt time.Time

	mu     sync.RWMutex
	bySID  map[SessionID]*Session
	byUser map[domain.UserID]SessionID
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{
		id:        id,
		startedAt: time.Now(),
		bySID:     make(map[SessionID]*Session),
		byUser:    make(map[domain.UserID]SessionID),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) Info() RoomInfo {
	return RoomInfo{ID: r.id, Participants: r.MemberCount(), StartedAt: r.startedAt}
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *Room) Has(sid SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySID[sid]
	return ok
}

// AddMember inserts s and returns the session it displaced for the same
// user, if any.
func (r *Room) AddMember(s *Session) (replaced *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byUser[s.User.ID]; ok && old != s.ID {
		replaced = r.bySID[old]
		delete(r.bySID, old)
	}
	r.bySID[s.ID] = s
	r.byUser[s.User.ID] = s.ID
	log.Info().Str("module", "hub.room").Str("room", string(r.id)).Str("sid", string(s.ID)).Str("user", string(s.User.ID)).Msg("member added")
	return replaced
}

func (r *Room) RemoveMember(sid SessionID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.bySID[sid]
	if !ok {
		return nil, false
	}
	delete(r.bySID, sid)
	if r.byUser[s.User.ID] == sid {
		delete(r.byUser, s.User.ID)
	}
	log.Info().Str("module", "hub.room").Str("room", string(r.id)).Str("sid", string(sid)).Msg("member removed")
	return s, true
}

// Member looks up the session a user joined with.
func (r *Room) Member(id domain.UserID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[id]
	if !ok {
		return nil, false
	}
	return r.bySID[sid], true
}

// Broadcast sends frame to everyone but from. An empty from reaches all.
func (r *Room) Broadcast(from SessionID, frame []byte) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		if err := m.trySend(frame); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "hub.room").Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// MembersSnapshot returns the roster without except, ordered by user id.
func (r *Room) MembersSnapshot(except SessionID) []domain.Participant {
	r.mu.RLock()
	out := make([]domain.Participant, 0, len(r.bySID))
	for sid, s := range r.bySID {
		if sid == except {
			continue
		}
		out = append(out, s.Participant())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Room) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.bySID))
	for _, s := range r.bySID {
		out = append(out, s)
	}
	return out
}
