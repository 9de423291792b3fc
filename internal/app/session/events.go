package session

import (
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

// ParticipantJoined adds a remote participant pushed by the server. The
// newcomer offers, so the local link is created as responder.
func (t *Tracker) ParticipantJoined(ev protocol.ParticipantJoined) {
	p := ev.Participant
	t.mu.Lock()
	r := t.activeLocked(ev.Room)
	if r == nil || p.ID == "" || p.ID == t.self() {
		t.mu.Unlock()
		return
	}
	if !r.roster.Insert(p) {
		t.mu.Unlock()
		log.Debug().Str("module", "session").Str("participant", string(p.ID)).Msg("duplicate join ignored")
		return
	}
	r.count++
	var peerErr error
	if err := t.peers.Create(r.id, p.ID, false); err != nil {
		peerErr = err
	}
	t.mu.Unlock()

	t.notify.ParticipantAdded(p)
	if peerErr != nil {
		t.notify.Error(peerErr)
	}
}

func (t *Tracker) ParticipantLeft(ev protocol.ParticipantLeft) {
	t.mu.Lock()
	r := t.activeLocked(ev.Room)
	if r == nil {
		t.mu.Unlock()
		return
	}
	if _, ok := r.roster.Remove(ev.UserID); !ok {
		t.mu.Unlock()
		return
	}
	r.count--
	t.peers.Close(ev.UserID)
	t.mu.Unlock()

	t.notify.ParticipantRemoved(ev.UserID)
}

// ParticipantUpdated applies pushed media flags. Unknown participants are
// ignored.
func (t *Tracker) ParticipantUpdated(ev protocol.StreamUpdate) {
	t.mu.Lock()
	r := t.activeLocked(ev.Room)
	if r == nil {
		t.mu.Unlock()
		return
	}
	p, ok := r.roster.Update(ev.UserID, func(p *domain.Participant) { p.Caps = ev.Caps })
	t.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "session").Str("participant", string(ev.UserID)).Msg("update for unknown participant")
		return
	}
	t.notify.ParticipantUpdated(p)
}

// AttachStream records the stream id received from a participant.
func (t *Tracker) AttachStream(id domain.UserID, streamID string) {
	t.mu.Lock()
	if t.room == nil {
		t.mu.Unlock()
		return
	}
	p, ok := t.room.roster.Update(id, func(p *domain.Participant) { p.StreamID = streamID })
	t.mu.Unlock()
	if ok {
		t.notify.ParticipantUpdated(p)
	}
}

// RoomLeft handles the server removing the client from a room.
func (t *Tracker) RoomLeft(ev protocol.RoomEvent) {
	if t.forget(ev.Room) {
		t.notify.RoomLeft(ev.Room, ev.Reason)
	}
}

// Lifecycle forwards room lifecycle pushes. Ending or removing the current
// room tears it down.
func (t *Tracker) Lifecycle(kind domain.LifecycleKind, ev protocol.RoomEvent) {
	t.notify.RoomLifecycle(domain.RoomLifecycle{Room: ev.Room, Kind: kind, Reason: ev.Reason})
	if kind == domain.RoomStarted {
		return
	}
	reason := ev.Reason
	if reason == "" {
		reason = "room " + string(kind)
	}
	if t.forget(ev.Room) {
		t.notify.RoomLeft(ev.Room, reason)
	}
}

// forget drops id if it is current and reports whether it was joined.
func (t *Tracker) forget(id domain.RoomID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.activeLocked(id)
	if r == nil {
		return false
	}
	wasJoined := r.state == domain.RoomJoined
	t.dropLocked(r)
	t.room = nil
	t.rejoin = nil
	return wasJoined
}

func (t *Tracker) Message(m protocol.Message) {
	if !t.InRoom(m.Room) {
		return
	}
	t.notify.ChatMessage(domain.ChatMessage{
		ID:      m.ID,
		Room:    m.Room,
		From:    m.From,
		Name:    m.Name,
		Content: m.Content,
		SentAt:  m.SentAt,
	})
}

func (t *Tracker) Reaction(r protocol.Reaction) {
	if !t.InRoom(r.Room) {
		return
	}
	t.notify.Reaction(domain.Reaction{Room: r.Room, From: r.From, Emoji: r.Emoji})
}
