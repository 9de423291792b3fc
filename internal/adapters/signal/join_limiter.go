package signal

import (
	"sync"
	"time"

	"github.com/chaincast/session/internal/domain"
)

// JoinLimiter caps join attempts in a sliding window, per user and per
// room. A zero limit disables that side.
type JoinLimiter struct {
	span    time.Duration
	perUser int
	perRoom int
	now     func() time.Time

	mu     sync.Mutex
	users  map[domain.UserID]*hits
	rooms  map[domain.RoomID]*hits
	pruned time.Time
}

type hits []time.Time

// since drops entries at or before t.
func (h *hits) since(t time.Time) {
	i := 0
	for i < len(*h) && !(*h)[i].After(t) {
		i++
	}
	*h = (*h)[i:]
}

// wait is how long until h has room for one more hit under limit.
func (h hits) wait(limit int, span time.Duration, now time.Time) time.Duration {
	if limit <= 0 || len(h) < limit {
		return 0
	}
	return h[len(h)-limit].Add(span).Sub(now)
}

func NewJoinLimiter(perUser, perRoom int, span time.Duration) *JoinLimiter {
	return &JoinLimiter{
		span:    span,
		perUser: perUser,
		perRoom: perRoom,
		now:     time.Now,
		users:   make(map[domain.UserID]*hits),
		rooms:   make(map[domain.RoomID]*hits),
	}
}

// Allow records a join of uid into room when both windows have space.
// Otherwise nothing is recorded and the returned duration says when to
// retry.
func (l *JoinLimiter) Allow(uid domain.UserID, room domain.RoomID) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.pruned) > l.span {
		l.pruneLocked(now)
	}
	u := bucket(l.users, uid, now.Add(-l.span))
	r := bucket(l.rooms, room, now.Add(-l.span))

	retry := max(u.wait(l.perUser, l.span, now), r.wait(l.perRoom, l.span, now))
	if retry > 0 {
		return retry, false
	}
	*u = append(*u, now)
	*r = append(*r, now)
	return 0, true
}

// Prune forgets keys with no hits left in the window. Allow does this
// once per window on its own.
func (l *JoinLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
}

func (l *JoinLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.span)
	prune(l.users, cutoff)
	prune(l.rooms, cutoff)
	l.pruned = now
}

// Len reports how many users and rooms are tracked.
func (l *JoinLimiter) Len() (users, rooms int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users), len(l.rooms)
}

func bucket[K comparable](m map[K]*hits, k K, cutoff time.Time) *hits {
	h, ok := m[k]
	if !ok {
		h = &hits{}
		m[k] = h
	}
	h.since(cutoff)
	return h
}

func prune[K comparable](m map[K]*hits, cutoff time.Time) {
	for k, h := range m {
		h.since(cutoff)
		if len(*h) == 0 {
			delete(m, k)
		}
	}
}
