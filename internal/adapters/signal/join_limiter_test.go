package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newClockedLimiter(perUser, perRoom int) (*JoinLimiter, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	l := NewJoinLimiter(perUser, perRoom, time.Minute)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestJoinLimiterPerUser(t *testing.T) {
	l, now := newClockedLimiter(2, 0)

	_, ok := l.Allow("alice", "r1")
	assert.True(t, ok)
	*now = now.Add(10 * time.Second)
	_, ok = l.Allow("alice", "r2")
	assert.True(t, ok)

	retry, ok := l.Allow("alice", "r3")
	assert.False(t, ok)
	assert.Equal(t, 50*time.Second, retry, "first hit leaves the window in 50s")

	_, ok = l.Allow("bob", "r1")
	assert.True(t, ok, "limits are per user")

	*now = now.Add(51 * time.Second)
	_, ok = l.Allow("alice", "r3")
	assert.True(t, ok)
}

func TestJoinLimiterPerRoom(t *testing.T) {
	l, _ := newClockedLimiter(0, 2)

	_, ok := l.Allow("alice", "busy")
	assert.True(t, ok)
	_, ok = l.Allow("bob", "busy")
	assert.True(t, ok)
	retry, ok := l.Allow("carol", "busy")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	_, ok = l.Allow("carol", "quiet")
	assert.True(t, ok)
}

func TestJoinLimiterRejectionRecordsNothing(t *testing.T) {
	l, _ := newClockedLimiter(1, 1)

	_, ok := l.Allow("alice", "r1")
	assert.True(t, ok)
	_, ok = l.Allow("bob", "r1")
	assert.False(t, ok, "room is full for this window")
	_, ok = l.Allow("bob", "r2")
	assert.True(t, ok, "bob's rejected attempt did not count against him")
}

func TestJoinLimiterPrune(t *testing.T) {
	l, now := newClockedLimiter(5, 5)
	l.Allow("alice", "r1")
	l.Allow("bob", "r2")

	*now = now.Add(2 * time.Minute)
	l.Prune()

	users, rooms := l.Len()
	assert.Zero(t, users)
	assert.Zero(t, rooms)

	l.Allow("alice", "r1")
	*now = now.Add(2 * time.Minute)
	l.Allow("carol", "r3")
	users, rooms = l.Len()
	assert.Equal(t, 1, users, "idle keys are swept by Allow")
	assert.Equal(t, 1, rooms)
}
