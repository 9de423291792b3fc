package orch

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

// on decodes the payload of ev into T before calling fn. Frames that do
// not decode are logged and dropped.
func on[T any](o *Orchestrator, ev protocol.Event, fn func(T)) {
	o.Conn.On(ev, func(env protocol.Envelope) {
		var v T
		if err := env.Decode(&v); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("event", string(ev)).Msg("bad payload")
			return
		}
		fn(v)
	})
}

// bind registers every server event handler. Binding replaces earlier
// handlers, so calling it on each Connect never stacks duplicates.
func (o *Orchestrator) bind() {
	r := o.Rooms
	on(o, protocol.EventParticipantJoined, r.ParticipantJoined)
	on(o, protocol.EventParticipantLeft, r.ParticipantLeft)
	on(o, protocol.EventParticipantUpdated, r.ParticipantUpdated)
	on(o, protocol.EventRoomLeft, r.RoomLeft)
	on(o, protocol.EventRoomStarted, func(ev protocol.RoomEvent) { r.Lifecycle(domain.RoomStarted, ev) })
	on(o, protocol.EventRoomEnded, func(ev protocol.RoomEvent) { r.Lifecycle(domain.RoomEnded, ev) })
	on(o, protocol.EventRoomRemoved, func(ev protocol.RoomEvent) { r.Lifecycle(domain.RoomRemoved, ev) })
	on(o, protocol.EventMessage, r.Message)
	on(o, protocol.EventReaction, r.Reaction)

	on(o, protocol.EventOffer, o.signal(o.Peers.HandleOffer))
	on(o, protocol.EventAnswer, o.signal(o.Peers.HandleAnswer))
	on(o, protocol.EventCandidate, o.signal(o.Peers.HandleCandidate))

	on(o, protocol.EventError, func(p protocol.ErrorPayload) {
		o.ui.Error(&domain.AckError{Event: string(protocol.EventError), Code: p.Code, Message: p.Message})
	})
}

// signal drops negotiation messages for rooms other than the current one
// and reports per-participant failures.
func (o *Orchestrator) signal(fn func(protocol.Signal) error) func(protocol.Signal) {
	return func(s protocol.Signal) {
		if !o.Rooms.InRoom(s.Room) {
			log.Debug().Str("module", "orch").Str("room", string(s.Room)).Msg("signal for other room")
			return
		}
		if _, ok := o.Rooms.Participant(s.From); !ok {
			log.Debug().Str("module", "orch").Str("from", string(s.From)).Msg("signal from unknown participant")
			return
		}
		if err := fn(s); err != nil {
			var pe *domain.PeerError
			if errors.As(err, &pe) {
				o.ui.Error(err)
				return
			}
			log.Warn().Err(err).Str("module", "orch").Msg("signal")
		}
	}
}
