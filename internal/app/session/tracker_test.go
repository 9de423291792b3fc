package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/core/coretest"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

type sent struct {
	ev      protocol.Event
	payload any
}

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	self      domain.UserID
	sent      []sent
	requests  int
	// replies maps a room to its join reply; gates hold a join until closed.
	replies map[domain.RoomID]func() (any, error)
	gates   map[domain.RoomID]chan struct{}
	log     *[]string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		connected: true,
		self:      "me",
		replies:   make(map[domain.RoomID]func() (any, error)),
		gates:     make(map[domain.RoomID]chan struct{}),
	}
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Handshake() (core.Handshake, bool) {
	return core.Handshake{SocketID: "s", UserID: f.self}, true
}

func (f *fakeChannel) Emit(_ context.Context, ev protocol.Event, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{ev, payload})
	if f.log != nil {
		*f.log = append(*f.log, "emit:"+string(ev))
	}
	return nil
}

func (f *fakeChannel) Request(ctx context.Context, ev protocol.Event, payload any) (json.RawMessage, error) {
	join := payload.(protocol.JoinRoom)
	f.mu.Lock()
	f.requests++
	gate := f.gates[join.Room]
	reply := f.replies[join.Room]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reply == nil {
		return json.Marshal(protocol.JoinRoomReply{Room: join.Room, Role: join.Role, Count: 1})
	}
	v, err := reply()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (f *fakeChannel) sentOf(ev protocol.Event) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, s := range f.sent {
		if s.ev == ev {
			out = append(out, s.payload)
		}
	}
	return out
}

func (f *fakeChannel) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

type fakePeers struct {
	mu        sync.Mutex
	open      map[domain.UserID]bool
	created   []domain.UserID
	initiator map[domain.UserID]bool
	fail      map[domain.UserID]error
	log       *[]string
}

func newFakePeers() *fakePeers {
	return &fakePeers{open: map[domain.UserID]bool{}, initiator: map[domain.UserID]bool{}}
}

func (p *fakePeers) Create(_ domain.RoomID, id domain.UserID, initiator bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[id]; err != nil {
		return &domain.PeerError{Participant: id, Err: err}
	}
	p.open[id] = true
	p.created = append(p.created, id)
	p.initiator[id] = initiator
	return nil
}

func (p *fakePeers) Close(id domain.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.open, id)
}

func (p *fakePeers) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = map[domain.UserID]bool{}
	if p.log != nil {
		*p.log = append(*p.log, "peers:closeAll")
	}
}

func (p *fakePeers) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

func (p *fakePeers) createdCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created)
}

type orderNotifier struct {
	core.NopNotifier
	log *[]string
}

func (n orderNotifier) RoomLeft(id domain.RoomID, _ string) {
	*n.log = append(*n.log, "notify:left")
}

func rosterReply(room domain.RoomID, ids ...domain.UserID) func() (any, error) {
	return func() (any, error) {
		reply := protocol.JoinRoomReply{Room: room, Role: domain.RoleMember, Count: len(ids)}
		for _, id := range ids {
			reply.Participants = append(reply.Participants, domain.Participant{ID: id, Name: string(id)})
		}
		return reply, nil
	}
}

func newTestTracker() (*Tracker, *fakeChannel, *fakePeers, *coretest.Recorder) {
	ch := newFakeChannel()
	peers := newFakePeers()
	rec := &coretest.Recorder{}
	return NewTracker(ch, peers, rec), ch, peers, rec
}

func TestJoinRoomPopulatesRoster(t *testing.T) {
	tr, ch, peers, rec := newTestTracker()
	ch.replies["r1"] = rosterReply("r1", "me", "u1", "u2")

	require.NoError(t, tr.JoinRoom(context.Background(), "r1", domain.RoleMember))

	snap, ok := tr.Snapshot()
	require.True(t, ok)
	assert.Equal(t, domain.RoomJoined, snap.State)
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, domain.UserID("u1"), snap.Participants[0].ID)
	assert.Equal(t, 2, peers.openCount())
	assert.True(t, peers.initiator["u1"])
	require.Len(t, rec.Joined(), 1)
}

func TestJoinRoomValidation(t *testing.T) {
	tr, ch, _, _ := newTestTracker()
	assert.ErrorIs(t, tr.JoinRoom(context.Background(), "", ""), ErrEmptyRoomID)
	assert.ErrorIs(t, tr.JoinRoom(context.Background(), "r", "owner"), ErrInvalidRole)

	ch.connected = false
	assert.ErrorIs(t, tr.JoinRoom(context.Background(), "r", ""), domain.ErrNotConnected)
	assert.Equal(t, 0, ch.requestCount())
}

func TestJoinSameRoomTwice(t *testing.T) {
	tr, ch, _, rec := newTestTracker()

	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))

	assert.Equal(t, 1, ch.requestCount())
	assert.Len(t, rec.Joined(), 1)
}

func TestJoinWhileJoiningSameRoom(t *testing.T) {
	tr, ch, _, _ := newTestTracker()
	gate := make(chan struct{})
	ch.gates["r1"] = gate

	errs := make(chan error, 1)
	go func() { errs <- tr.JoinRoom(context.Background(), "r1", "") }()
	require.Eventually(t, func() bool { return ch.requestCount() == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, tr.JoinRoom(context.Background(), "r1", ""), domain.ErrJoinInProgress)
	close(gate)
	assert.NoError(t, <-errs)
}

func TestJoinOtherRoomSupersedes(t *testing.T) {
	tr, ch, _, rec := newTestTracker()
	gate := make(chan struct{})
	ch.gates["a"] = gate

	errs := make(chan error, 1)
	go func() { errs <- tr.JoinRoom(context.Background(), "a", "") }()
	require.Eventually(t, func() bool { return ch.requestCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, tr.JoinRoom(context.Background(), "b", ""))
	close(gate)

	assert.ErrorIs(t, <-errs, domain.ErrJoinSuperseded)
	id, state := tr.Current()
	assert.Equal(t, domain.RoomID("b"), id)
	assert.Equal(t, domain.RoomJoined, state)

	leaves := ch.sentOf(protocol.EventLeaveRoom)
	require.Len(t, leaves, 1)
	assert.Equal(t, domain.RoomID("a"), leaves[0].(protocol.LeaveRoom).Room)
	assert.Empty(t, rec.Left())
}

func TestJoinLostWithConnection(t *testing.T) {
	tr, ch, _, _ := newTestTracker()
	gate := make(chan struct{})
	ch.gates["a"] = gate
	ch.replies["a"] = func() (any, error) { return nil, domain.ErrConnectionLost }

	errs := make(chan error, 1)
	go func() { errs <- tr.JoinRoom(context.Background(), "a", "") }()
	require.Eventually(t, func() bool { return ch.requestCount() == 1 }, time.Second, time.Millisecond)

	tr.ConnectionLost()
	close(gate)

	err := <-errs
	assert.ErrorIs(t, err, domain.ErrConnectionLost)
	assert.NotErrorIs(t, err, domain.ErrJoinSuperseded)
	_, state := tr.Current()
	assert.Equal(t, domain.RoomNone, state)
}

func TestJoinRejected(t *testing.T) {
	tr, ch, _, _ := newTestTracker()
	ch.replies["full"] = func() (any, error) {
		return nil, &domain.AckError{Event: "join_room", Code: protocol.CodeRoomFull}
	}

	err := tr.JoinRoom(context.Background(), "full", "")
	assert.ErrorIs(t, err, domain.ErrRoomJoinRejected)
	var ackErr *domain.AckError
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, protocol.CodeRoomFull, ackErr.Code)

	_, state := tr.Current()
	assert.Equal(t, domain.RoomNone, state)
}

func TestDuplicateParticipantJoined(t *testing.T) {
	tr, _, peers, rec := newTestTracker()
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))

	ev := protocol.ParticipantJoined{Room: "r1", Participant: domain.Participant{ID: "u3", Name: "three"}}
	tr.ParticipantJoined(ev)
	tr.ParticipantJoined(ev)

	snap, _ := tr.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, domain.Capabilities{}, snap.Participants[0].Caps)
	assert.Len(t, rec.Added(), 1)
	assert.Equal(t, 1, peers.createdCount())
	assert.False(t, peers.initiator["u3"])
}

func TestParticipantEventsForOtherRoomIgnored(t *testing.T) {
	tr, _, peers, rec := newTestTracker()
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))

	tr.ParticipantJoined(protocol.ParticipantJoined{Room: "elsewhere", Participant: domain.Participant{ID: "x"}})
	tr.ParticipantJoined(protocol.ParticipantJoined{Room: "r1", Participant: domain.Participant{ID: "me"}})

	assert.Equal(t, 0, peers.createdCount())
	assert.Empty(t, rec.Added())
}

func TestStaleLeaveIsRejected(t *testing.T) {
	tr, ch, peers, _ := newTestTracker()
	ch.replies["r1"] = rosterReply("r1", "u1")
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))

	err := tr.LeaveRoom(context.Background(), "r0")
	assert.ErrorIs(t, err, domain.ErrNotInRoom)

	id, state := tr.Current()
	assert.Equal(t, domain.RoomID("r1"), id)
	assert.Equal(t, domain.RoomJoined, state)
	assert.Equal(t, 1, peers.openCount())
	assert.Empty(t, ch.sentOf(protocol.EventLeaveRoom))
}

func TestLeaveClosesLinksBeforeReset(t *testing.T) {
	var order []string
	ch := newFakeChannel()
	ch.log = &order
	peers := newFakePeers()
	peers.log = &order
	tr := NewTracker(ch, peers, orderNotifier{log: &order})
	ch.replies["r1"] = rosterReply("r1", "u1", "u2")
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))
	order = nil

	require.NoError(t, tr.LeaveRoom(context.Background(), "r1"))

	assert.Equal(t, []string{"peers:closeAll", "emit:leave_room", "notify:left"}, order)
	assert.Equal(t, 0, peers.openCount())
	_, state := tr.Current()
	assert.Equal(t, domain.RoomNone, state)
	_, ok := tr.Snapshot()
	assert.False(t, ok)
}

func TestParticipantLeftClosesLink(t *testing.T) {
	tr, ch, peers, rec := newTestTracker()
	ch.replies["r1"] = rosterReply("r1", "u1", "u2")
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))

	tr.ParticipantLeft(protocol.ParticipantLeft{Room: "r1", UserID: "u1"})
	tr.ParticipantLeft(protocol.ParticipantLeft{Room: "r1", UserID: "u1"})

	assert.Equal(t, 1, peers.openCount())
	assert.Equal(t, []domain.UserID{"u1"}, rec.Removed())
}

func TestUpdateForUnknownParticipantIgnored(t *testing.T) {
	tr, ch, _, rec := newTestTracker()
	ch.replies["r1"] = rosterReply("r1", "u1")
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))

	tr.ParticipantUpdated(protocol.StreamUpdate{Room: "r1", UserID: "ghost", Caps: domain.Capabilities{HasVideo: true}})
	assert.Empty(t, rec.Updated())

	tr.ParticipantUpdated(protocol.StreamUpdate{Room: "r1", UserID: "u1", Caps: domain.Capabilities{HasVideo: true}})
	tr.ParticipantUpdated(protocol.StreamUpdate{Room: "r1", UserID: "u1", Caps: domain.Capabilities{HasAudio: true}})
	p, ok := tr.Participant("u1")
	require.True(t, ok)
	assert.Equal(t, domain.Capabilities{HasAudio: true}, p.Caps)
}

func TestPeerFailureDoesNotAbortJoin(t *testing.T) {
	tr, ch, peers, rec := newTestTracker()
	peers.fail = map[domain.UserID]error{"u1": errors.New("boom")}
	ch.replies["r1"] = rosterReply("r1", "u1", "u2")

	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))
	snap, _ := tr.Snapshot()
	assert.Len(t, snap.Participants, 2)
	require.Len(t, rec.Errors(), 1)
	var pe *domain.PeerError
	require.ErrorAs(t, rec.Errors()[0], &pe)
	assert.Equal(t, domain.UserID("u1"), pe.Participant)
}

func TestConnectionLostThenRejoin(t *testing.T) {
	tr, ch, peers, rec := newTestTracker()
	ch.replies["r1"] = rosterReply("r1", "u1")
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", domain.RoleViewer))

	tr.ConnectionLost()
	_, state := tr.Current()
	assert.Equal(t, domain.RoomNone, state)
	assert.Equal(t, 0, peers.openCount())
	assert.Equal(t, []domain.RoomID{"r1"}, rec.Left())

	require.NoError(t, tr.Rejoin(context.Background()))
	id, state := tr.Current()
	assert.Equal(t, domain.RoomID("r1"), id)
	assert.Equal(t, domain.RoomJoined, state)
	assert.Equal(t, 2, ch.requestCount())
}

func TestRejoinAfterLeaveDoesNothing(t *testing.T) {
	tr, ch, _, _ := newTestTracker()
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))
	require.NoError(t, tr.LeaveRoom(context.Background(), "r1"))

	require.NoError(t, tr.Rejoin(context.Background()))
	assert.Equal(t, 1, ch.requestCount())
}

func TestRoomEndedTearsDown(t *testing.T) {
	tr, ch, peers, rec := newTestTracker()
	ch.replies["r1"] = rosterReply("r1", "u1")
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))

	tr.Lifecycle(domain.RoomStarted, protocol.RoomEvent{Room: "r1"})
	_, state := tr.Current()
	assert.Equal(t, domain.RoomJoined, state)

	tr.Lifecycle(domain.RoomEnded, protocol.RoomEvent{Room: "r1", Reason: "host ended"})
	_, state = tr.Current()
	assert.Equal(t, domain.RoomNone, state)
	assert.Equal(t, 0, peers.openCount())
	assert.Len(t, rec.Lifecycle(), 2)
	assert.Equal(t, []domain.RoomID{"r1"}, rec.Left())
}

func TestSendMessage(t *testing.T) {
	tr, ch, _, _ := newTestTracker()
	assert.ErrorIs(t, tr.SendMessage(context.Background(), "hi"), domain.ErrNotInRoom)
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))

	assert.ErrorIs(t, tr.SendMessage(context.Background(), "   "), domain.ErrEmptyContent)
	require.NoError(t, tr.SendMessage(context.Background(), "  hello "))
	require.NoError(t, tr.AddReaction(context.Background(), "🎉"))

	msgs := ch.sentOf(protocol.EventSendMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.SendMessage{Room: "r1", Content: "hello"}, msgs[0])
	assert.Len(t, ch.sentOf(protocol.EventAddReaction), 1)
}

func TestMessagesForOtherRoomsIgnored(t *testing.T) {
	tr, _, _, rec := newTestTracker()
	require.NoError(t, tr.JoinRoom(context.Background(), "r1", ""))

	tr.Message(protocol.Message{ID: "1", Room: "r2", Content: "nope"})
	tr.Message(protocol.Message{ID: "2", Room: "r1", Content: "yes"})
	tr.Reaction(protocol.Reaction{Room: "r1", Emoji: "+1"})

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "yes", msgs[0].Content)
	assert.Len(t, rec.Reactions(), 1)
}
