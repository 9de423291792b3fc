package hub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

// Hub applies room operations requested by sockets and fans out the
// resulting pushes. Membership changes are serialized by mu.
type Hub struct {
	Registry        *Registry
	Rooms           *Rooms
	Policy          Policy
	Presence        PresenceStore
	MaxParticipants int

	mu  sync.Mutex
	now func() time.Time
}

func New(presence PresenceStore, maxParticipants int) *Hub {
	if presence == nil {
		presence = NewMemoryPresence()
	}
	return &Hub{
		Registry:        NewRegistry(),
		Rooms:           NewRooms(),
		Policy:          SimplePolicy{},
		Presence:        presence,
		MaxParticipants: maxParticipants,
		now:             time.Now,
	}
}

// JoinResult is the ack payload plus whether the join opened the room.
type JoinResult struct {
	Reply   protocol.JoinRoomReply
	Started bool
}

func reject(ev protocol.Event, code, msg string) *domain.AckError {
	return &domain.AckError{Event: string(ev), Code: code, Message: msg}
}

// Connect registers a socket. cancel stops its pumps.
func (h *Hub) Connect(sess *Session, cancel context.CancelFunc) {
	h.Registry.Bind(sess, cancel)
}

func (h *Hub) Join(ctx context.Context, sid SessionID, req protocol.JoinRoom) (JoinResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.Registry.Get(sid)
	if !ok {
		return JoinResult{}, reject(protocol.EventJoinRoom, protocol.CodeUnauthorized, "unknown socket")
	}
	id := domain.RoomID(strings.TrimSpace(string(req.Room)))
	if id == "" {
		return JoinResult{}, reject(protocol.EventJoinRoom, protocol.CodeBadPayload, "empty room id")
	}
	role := req.Role
	if role == "" {
		role = domain.RoleMember
	}
	if !role.Valid() {
		return JoinResult{}, reject(protocol.EventJoinRoom, protocol.CodeBadPayload, fmt.Sprintf("unknown role %q", role))
	}

	if cur, ok := h.Registry.RoomOf(sid); ok {
		if cur == id {
			if room, ok := h.Rooms.Get(id); ok {
				return JoinResult{Reply: h.reply(room, sess, role)}, nil
			}
		}
		h.leaveLocked(ctx, sess, cur)
	}

	room, created := h.Rooms.GetOrCreate(id)
	if !h.hasCapacity(ctx, room, sess.User.ID) {
		if created {
			h.Rooms.Stop(room)
		}
		log.Info().Str("module", "hub").Str("room", string(id)).Str("sid", string(sid)).Msg("join rejected: room full")
		return JoinResult{}, reject(protocol.EventJoinRoom, protocol.CodeRoomFull, fmt.Sprintf("room allows %d participants", h.MaxParticipants))
	}

	sess.setRole(role)
	if replaced := room.AddMember(sess); replaced != nil {
		h.Registry.ClearRoom(replaced.ID, id)
		_ = replaced.Send(protocol.EventRoomLeft, 0, protocol.RoomEvent{Room: id, Reason: "joined from another connection"})
		h.broadcast(room, sid, protocol.EventParticipantLeft, protocol.ParticipantLeft{Room: id, UserID: replaced.User.ID})
	}
	h.Registry.SetRoom(sid, id)
	if err := h.Presence.Add(ctx, id, sess.User.ID); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("room", string(id)).Msg("presence add")
	}

	// Pushed before the ack so existing members know the newcomer before
	// its offers arrive.
	h.broadcast(room, sid, protocol.EventParticipantJoined, protocol.ParticipantJoined{Room: id, Participant: sess.Participant()})

	log.Info().Str("module", "hub").Str("room", string(id)).Str("sid", string(sid)).Str("role", string(role)).Bool("started", created).Msg("joined")
	return JoinResult{Reply: h.reply(room, sess, role), Started: created}, nil
}

func (h *Hub) reply(room *Room, sess *Session, role domain.Role) protocol.JoinRoomReply {
	return protocol.JoinRoomReply{
		Room:         room.ID(),
		Role:         role,
		Participants: room.MembersSnapshot(sess.ID),
		Count:        room.MemberCount(),
	}
}

func (h *Hub) hasCapacity(ctx context.Context, room *Room, user domain.UserID) bool {
	if h.MaxParticipants <= 0 {
		return true
	}
	if _, ok := room.Member(user); ok {
		return true
	}
	n, err := h.Presence.Count(ctx, room.ID())
	if err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("room", string(room.ID())).Msg("presence count, using local roster")
		n = room.MemberCount()
	}
	return n < h.MaxParticipants
}

// Leave removes sid from room. An empty room id means the current room.
func (h *Hub) Leave(ctx context.Context, sid SessionID, room domain.RoomID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.Registry.Get(sid)
	if !ok {
		return reject(protocol.EventLeaveRoom, protocol.CodeUnauthorized, "unknown socket")
	}
	cur, ok := h.Registry.RoomOf(sid)
	if !ok || (room != "" && room != cur) {
		return reject(protocol.EventLeaveRoom, protocol.CodeNotInRoom, string(room))
	}
	h.leaveLocked(ctx, sess, cur)
	return nil
}

func (h *Hub) leaveLocked(ctx context.Context, sess *Session, id domain.RoomID) {
	h.Registry.ClearRoom(sess.ID, id)
	room, ok := h.Rooms.Get(id)
	if !ok {
		return
	}
	if _, ok := room.RemoveMember(sess.ID); !ok {
		return
	}
	if err := h.Presence.Remove(ctx, id, sess.User.ID); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("room", string(id)).Msg("presence remove")
	}
	if room.MemberCount() == 0 {
		h.Rooms.Stop(room)
		if err := h.Presence.Clear(ctx, id); err != nil {
			log.Warn().Err(err).Str("module", "hub").Str("room", string(id)).Msg("presence clear")
		}
		log.Info().Str("module", "hub").Str("room", string(id)).Msg("room closed, last member left")
		return
	}
	h.broadcast(room, sess.ID, protocol.EventParticipantLeft, protocol.ParticipantLeft{Room: id, UserID: sess.User.ID})
}

// Disconnect drops the socket and its room membership.
func (h *Hub) Disconnect(ctx context.Context, sid SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.Registry.Get(sid)
	if !ok {
		return
	}
	if cur, ok := h.Registry.RoomOf(sid); ok {
		h.leaveLocked(ctx, sess, cur)
	}
	h.Registry.Unbind(sid)
}

// current returns the session and room sid is in, if it is in ev.Room.
func (h *Hub) current(sid SessionID, ev protocol.Event, id domain.RoomID) (*Session, *Room, error) {
	sess, ok := h.Registry.Get(sid)
	if !ok {
		return nil, nil, reject(ev, protocol.CodeUnauthorized, "unknown socket")
	}
	cur, ok := h.Registry.RoomOf(sid)
	if !ok || cur != id {
		return nil, nil, reject(ev, protocol.CodeNotInRoom, string(id))
	}
	room, ok := h.Rooms.Get(cur)
	if !ok {
		return nil, nil, reject(ev, protocol.CodeRoomClosed, string(id))
	}
	return sess, room, nil
}

// UpdateStream stores the sender's media flags and pushes them to the room.
func (h *Hub) UpdateStream(sid SessionID, upd protocol.StreamUpdate) error {
	sess, room, err := h.current(sid, protocol.EventStreamUpdate, upd.Room)
	if err != nil {
		return err
	}
	sess.setCaps(upd.Caps)
	h.broadcast(room, sid, protocol.EventParticipantUpdated, protocol.StreamUpdate{
		Room:   room.ID(),
		UserID: sess.User.ID,
		Caps:   upd.Caps,
	})
	return nil
}

// SendMessage relays chat to the whole room, sender included. Clients do
// not echo locally.
func (h *Hub) SendMessage(sid SessionID, p protocol.SendMessage) error {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return reject(protocol.EventSendMessage, protocol.CodeBadPayload, "empty content")
	}
	sess, room, err := h.current(sid, protocol.EventSendMessage, p.Room)
	if err != nil {
		return err
	}
	h.broadcast(room, "", protocol.EventMessage, protocol.Message{
		ID:      uuid.NewString(),
		Room:    room.ID(),
		From:    sess.User.ID,
		Name:    sess.User.Username,
		Content: content,
		SentAt:  h.now().UTC(),
	})
	return nil
}

func (h *Hub) AddReaction(sid SessionID, p protocol.AddReaction) error {
	emoji := strings.TrimSpace(p.Emoji)
	if emoji == "" {
		return reject(protocol.EventAddReaction, protocol.CodeBadPayload, "empty emoji")
	}
	sess, room, err := h.current(sid, protocol.EventAddReaction, p.Room)
	if err != nil {
		return err
	}
	h.broadcast(room, "", protocol.EventReaction, protocol.Reaction{Room: room.ID(), From: sess.User.ID, Emoji: emoji})
	return nil
}

// Relay forwards an SDP or ICE message to one member of the sender's room,
// stamping the sender's user id.
func (h *Hub) Relay(sid SessionID, ev protocol.Event, sig protocol.Signal) error {
	sess, room, err := h.current(sid, ev, sig.Room)
	if err != nil {
		return err
	}
	target, ok := room.Member(sig.To)
	if !ok || target.ID == sid {
		return reject(ev, protocol.CodeNotInRoom, string(sig.To))
	}
	sig.From = sess.User.ID
	if err := target.Send(ev, 0, sig); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("to", string(target.ID)).Str("event", string(ev)).Msg("relay dropped")
		h.onBackpressure(room, target)
	}
	return nil
}

// EndRoom evicts every member with ev (room_ended or room_removed) and
// forgets the room.
func (h *Hub) EndRoom(ctx context.Context, id domain.RoomID, ev protocol.Event, reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.Rooms.Get(id)
	if !ok {
		return false
	}
	for _, s := range room.Sessions() {
		room.RemoveMember(s.ID)
		h.Registry.ClearRoom(s.ID, id)
		if err := s.Send(ev, 0, protocol.RoomEvent{Room: id, Reason: reason}); err != nil {
			log.Warn().Err(err).Str("module", "hub").Str("sid", string(s.ID)).Msg("end room push dropped")
		}
	}
	h.Rooms.Stop(room)
	if err := h.Presence.Clear(ctx, id); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("room", string(id)).Msg("presence clear")
	}
	log.Info().Str("module", "hub").Str("room", string(id)).Str("event", string(ev)).Msg("room ended")
	return true
}

func (h *Hub) List() []RoomInfo { return h.Rooms.List() }

func (h *Hub) broadcast(room *Room, from SessionID, ev protocol.Event, payload any) {
	env, err := protocol.NewEnvelope(ev, 0, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("broadcast encode")
		return
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("broadcast encode")
		return
	}
	res := room.Broadcast(from, frame)
	for _, slow := range res.Dropped {
		h.onBackpressure(room, slow)
	}
}

func (h *Hub) onBackpressure(room *Room, member *Session) {
	if h.Policy == nil {
		return
	}
	switch h.Policy.OnBackPressure(room, member) {
	case KickMember:
		log.Warn().Str("module", "hub").Str("sid", string(member.ID)).Msg("kicking slow member")
		h.Registry.Cancel(member.ID)
	case DropFrame, NoAction:
	}
}
