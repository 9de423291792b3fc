package core

import (
	"sort"
	"sync"

	"github.com/chaincast/session/internal/domain"
)

// Roster is a threadsafe keyed collection of remote participants.
// Every operation is total: missing keys are reported, never fatal.
type Roster struct {
	mu   sync.RWMutex
	byID map[domain.UserID]domain.Participant
}

func NewRoster() *Roster {
	return &Roster{byID: make(map[domain.UserID]domain.Participant)}
}

// Insert adds p unless an entry with the same id exists. It reports whether
// the participant is new; a duplicate only refreshes the display name.
func (r *Roster) Insert(p domain.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[p.ID]; ok {
		if p.Name != "" {
			cur.Name = p.Name
			r.byID[p.ID] = cur
		}
		return false
	}
	r.byID[p.ID] = p
	return true
}

// Update applies fn to the entry for id and returns the result.
// Unknown ids are left alone.
func (r *Roster) Update(id domain.UserID, fn func(*domain.Participant)) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return domain.Participant{}, false
	}
	fn(&cur)
	cur.ID = id
	r.byID[id] = cur
	return cur, true
}

func (r *Roster) Remove(id domain.UserID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
	}
	return p, ok
}

func (r *Roster) Get(id domain.UserID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

func (r *Roster) Has(id domain.UserID) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot returns the participants ordered by id.
func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	out := make([]domain.Participant, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear empties the roster and returns the ids that were present.
func (r *Roster) Clear() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]domain.UserID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.byID = make(map[domain.UserID]domain.Participant)
	return ids
}
