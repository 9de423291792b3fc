// Package session tracks the room the local client is in and its roster.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

var (
	ErrEmptyRoomID = errors.New("empty room id")
	ErrInvalidRole = errors.New("invalid role")
)

// Channel is the part of the transport the tracker talks through.
type Channel interface {
	Connected() bool
	Handshake() (core.Handshake, bool)
	Emit(ctx context.Context, ev protocol.Event, payload any) error
	Request(ctx context.Context, ev protocol.Event, payload any) (json.RawMessage, error)
}

// Peers owns the media links of the current room.
type Peers interface {
	Create(room domain.RoomID, id domain.UserID, initiator bool) error
	Close(id domain.UserID)
	CloseAll()
}

type room struct {
	id     domain.RoomID
	role   domain.Role
	state  domain.RoomState
	roster *core.Roster
	count  int
}

func (r *room) snapshot() domain.RoomSnapshot {
	return domain.RoomSnapshot{
		ID:           r.id,
		Role:         r.role,
		State:        r.state,
		Participants: r.roster.Snapshot(),
		Count:        r.count,
	}
}

type target struct {
	id   domain.RoomID
	role domain.Role
}

// Tracker holds at most one room. Peer links are only created for
// participants in the roster and are closed before the room is dropped.
type Tracker struct {
	ch     Channel
	peers  Peers
	notify core.Notifier

	mu   sync.Mutex
	room *room
	// rejoin remembers the room lost with the connection.
	rejoin *target
}

func NewTracker(ch Channel, peers Peers, notify core.Notifier) *Tracker {
	if notify == nil {
		notify = core.NopNotifier{}
	}
	return &Tracker{ch: ch, peers: peers, notify: notify}
}

// Current returns the tracked room id and its state.
func (t *Tracker) Current() (domain.RoomID, domain.RoomState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.room == nil {
		return "", domain.RoomNone
	}
	return t.room.id, t.room.state
}

func (t *Tracker) Snapshot() (domain.RoomSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.room == nil {
		return domain.RoomSnapshot{}, false
	}
	return t.room.snapshot(), true
}

// InRoom reports whether id is the room being joined or already joined.
func (t *Tracker) InRoom(id domain.RoomID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked(id) != nil
}

func (t *Tracker) Participant(id domain.UserID) (domain.Participant, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.room == nil {
		return domain.Participant{}, false
	}
	return t.room.roster.Get(id)
}

func (t *Tracker) activeLocked(id domain.RoomID) *room {
	r := t.room
	if r == nil || r.id != id {
		return nil
	}
	if r.state != domain.RoomJoining && r.state != domain.RoomJoined {
		return nil
	}
	return r
}

func (t *Tracker) joinedLocked() *room {
	if t.room == nil || t.room.state != domain.RoomJoined {
		return nil
	}
	return t.room
}

func (t *Tracker) self() domain.UserID {
	hs, _ := t.ch.Handshake()
	return hs.UserID
}

// JoinRoom asks the server to add the client to id. Joining the room
// already joined returns nil. A join for another room supersedes whatever
// room is current.
func (t *Tracker) JoinRoom(ctx context.Context, id domain.RoomID, role domain.Role) error {
	if id == "" {
		return ErrEmptyRoomID
	}
	if role == "" {
		role = domain.RoleMember
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if !t.ch.Connected() {
		return domain.ErrNotConnected
	}

	t.mu.Lock()
	prev := t.room
	if prev != nil && prev.id == id {
		switch prev.state {
		case domain.RoomJoined:
			t.mu.Unlock()
			return nil
		case domain.RoomJoining:
			t.mu.Unlock()
			return domain.ErrJoinInProgress
		}
	}
	var prevJoined bool
	if prev != nil {
		prevJoined = prev.state == domain.RoomJoined
		t.dropLocked(prev)
	}
	r := &room{id: id, role: role, state: domain.RoomJoining, roster: core.NewRoster()}
	t.room = r
	t.mu.Unlock()

	if prev != nil {
		log.Info().Str("module", "session").Str("from", string(prev.id)).Str("to", string(id)).Msg("switching room")
		t.emitLeave(ctx, prev.id)
		if prevJoined {
			t.notify.RoomLeft(prev.id, "switched room")
		}
	}

	log.Info().Str("module", "session").Str("room", string(id)).Str("role", string(role)).Msg("joining")
	raw, err := t.ch.Request(ctx, protocol.EventJoinRoom, protocol.JoinRoom{Room: id, Role: role})

	var reply protocol.JoinRoomReply
	if err == nil {
		if derr := json.Unmarshal(raw, &reply); derr != nil {
			err = fmt.Errorf("join %s: bad reply: %w", id, derr)
		}
	}

	t.mu.Lock()
	if t.room != r {
		// Whoever replaced r already sent leave_room for it. When nothing
		// replaced it the room went with the connection, and the
		// transport error says more than supersession.
		dropped := t.room == nil
		t.mu.Unlock()
		if err != nil && dropped {
			log.Warn().Err(err).Str("module", "session").Str("room", string(id)).Msg("join lost with connection")
			return fmt.Errorf("join %s: %w", id, err)
		}
		return fmt.Errorf("%w: %s", domain.ErrJoinSuperseded, id)
	}
	if err != nil {
		t.dropLocked(r)
		t.room = nil
		t.mu.Unlock()
		log.Warn().Err(err).Str("module", "session").Str("room", string(id)).Msg("join failed")
		var ackErr *domain.AckError
		if errors.As(err, &ackErr) {
			return fmt.Errorf("%w: %w", domain.ErrRoomJoinRejected, err)
		}
		return err
	}

	self := t.self()
	var peerErrs []error
	for _, p := range reply.Participants {
		if p.ID == "" || p.ID == self {
			continue
		}
		if r.roster.Insert(p) {
			if perr := t.peers.Create(id, p.ID, true); perr != nil {
				peerErrs = append(peerErrs, perr)
			}
		}
	}
	r.state = domain.RoomJoined
	if reply.Role.Valid() {
		r.role = reply.Role
	}
	r.count = reply.Count
	if r.count < r.roster.Len()+1 {
		r.count = r.roster.Len() + 1
	}
	t.rejoin = &target{id: id, role: role}
	snap := r.snapshot()
	t.mu.Unlock()

	log.Info().Str("module", "session").Str("room", string(id)).Int("participants", len(snap.Participants)).Msg("joined")
	t.notify.RoomJoined(snap)
	t.report(peerErrs)
	return nil
}

// LeaveRoom leaves id. A stale id that is not the current room is
// rejected with ErrNotInRoom and changes nothing.
func (t *Tracker) LeaveRoom(ctx context.Context, id domain.RoomID) error {
	t.mu.Lock()
	r := t.activeLocked(id)
	if r == nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNotInRoom, id)
	}
	wasJoined := r.state == domain.RoomJoined
	t.dropLocked(r)
	t.room = nil
	t.rejoin = nil
	t.mu.Unlock()

	log.Info().Str("module", "session").Str("room", string(id)).Msg("left")
	t.emitLeave(ctx, id)
	if wasJoined {
		t.notify.RoomLeft(id, "left")
	}
	return nil
}

// Reset forgets the current room without telling the server.
func (t *Tracker) Reset() {
	t.mu.Lock()
	r := t.room
	if r != nil {
		t.dropLocked(r)
		t.room = nil
	}
	t.rejoin = nil
	t.mu.Unlock()
}

// Drop forgets the current room and any pending rejoin without telling the
// server. The UI hears about it when the room was joined.
func (t *Tracker) Drop(reason string) {
	t.mu.Lock()
	r := t.room
	var wasJoined bool
	if r != nil {
		wasJoined = r.state == domain.RoomJoined
		t.dropLocked(r)
		t.room = nil
	}
	t.rejoin = nil
	t.mu.Unlock()

	if wasJoined {
		log.Info().Str("module", "session").Str("room", string(r.id)).Str("reason", reason).Msg("room dropped")
		t.notify.RoomLeft(r.id, reason)
	}
}

// dropLocked moves r through leaving: links first, then the roster.
func (t *Tracker) dropLocked(r *room) {
	r.state = domain.RoomLeaving
	t.peers.CloseAll()
	r.roster.Clear()
	r.count = 0
}

func (t *Tracker) emitLeave(ctx context.Context, id domain.RoomID) {
	err := t.ch.Emit(ctx, protocol.EventLeaveRoom, protocol.LeaveRoom{Room: id})
	if err != nil && !errors.Is(err, domain.ErrNotConnected) {
		log.Warn().Err(err).Str("module", "session").Str("room", string(id)).Msg("send leave")
	}
}

func (t *Tracker) report(errs []error) {
	for _, err := range errs {
		t.notify.Error(err)
	}
}

// ConnectionLost tears the room down locally and remembers it for Rejoin.
func (t *Tracker) ConnectionLost() {
	t.mu.Lock()
	r := t.room
	if r == nil {
		t.mu.Unlock()
		return
	}
	wasJoined := r.state == domain.RoomJoined
	t.rejoin = &target{id: r.id, role: r.role}
	t.dropLocked(r)
	t.room = nil
	t.mu.Unlock()

	log.Warn().Str("module", "session").Str("room", string(r.id)).Msg("room dropped with connection")
	if wasJoined {
		t.notify.RoomLeft(r.id, "connection lost")
	}
}

// Rejoin joins the room remembered by ConnectionLost, if any.
func (t *Tracker) Rejoin(ctx context.Context) error {
	t.mu.Lock()
	tg := t.rejoin
	busy := t.room != nil
	t.mu.Unlock()
	if tg == nil || busy {
		return nil
	}
	return t.JoinRoom(ctx, tg.id, tg.role)
}

// SendMessage posts content to the joined room.
func (t *Tracker) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ErrEmptyContent
	}
	id, err := t.joinedID()
	if err != nil {
		return err
	}
	return t.ch.Emit(ctx, protocol.EventSendMessage, protocol.SendMessage{Room: id, Content: content})
}

func (t *Tracker) AddReaction(ctx context.Context, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return domain.ErrEmptyContent
	}
	id, err := t.joinedID()
	if err != nil {
		return err
	}
	return t.ch.Emit(ctx, protocol.EventAddReaction, protocol.AddReaction{Room: id, Emoji: emoji})
}

// PublishCaps advertises the local media flags to the room.
func (t *Tracker) PublishCaps(ctx context.Context, caps domain.Capabilities) error {
	id, err := t.joinedID()
	if err != nil {
		return err
	}
	return t.ch.Emit(ctx, protocol.EventStreamUpdate, protocol.StreamUpdate{Room: id, Caps: caps})
}

func (t *Tracker) joinedID() (domain.RoomID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.joinedLocked()
	if r == nil {
		return "", domain.ErrNotInRoom
	}
	return r.id, nil
}
