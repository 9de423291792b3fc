// Package protocol defines the JSON event envelopes exchanged over the
// real-time channel between the session core and the room server.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names a message on the channel.
type Event string

// Client → server.
const (
	EventJoinRoom     Event = "join_room"
	EventLeaveRoom    Event = "leave_room"
	EventStreamUpdate Event = "stream_update"
	EventSendMessage  Event = "send_message"
	EventAddReaction  Event = "add_reaction"
	EventPing         Event = "ping"
)

// Server → client.
const (
	EventConnected          Event = "connected"
	EventConnectError       Event = "connect_error"
	EventAck                Event = "ack"
	EventParticipantJoined  Event = "participant_joined"
	EventParticipantLeft    Event = "participant_left"
	EventParticipantUpdated Event = "participant_updated"
	EventRoomLeft           Event = "room_left"
	EventRoomStarted        Event = "room_started"
	EventRoomEnded          Event = "room_ended"
	EventRoomRemoved        Event = "room_removed"
	EventMessage            Event = "message"
	EventReaction           Event = "reaction"
	EventPong               Event = "pong"
	EventError              Event = "error"
)

// Relayed in both directions between two sockets of the same room.
const (
	EventOffer     Event = "webrtc_offer"
	EventAnswer    Event = "webrtc_answer"
	EventCandidate Event = "webrtc_candidate"
)

// Ack codes returned by the server.
const (
	CodeBadPayload   = "bad_payload"
	CodeRoomFull     = "room_full"
	CodeRateLimited  = "rate_limited"
	CodeBanned       = "banned"
	CodeRoomClosed   = "room_closed"
	CodeNotInRoom    = "not_in_room"
	CodeUnauthorized = "unauthorized"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Type Event           `json:"type"`
	ID   uint64          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope. A nil payload yields no data.
func NewEnvelope(ev Event, id uint64, payload any) (Envelope, error) {
	env := Envelope{Type: ev, ID: id}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev, err)
	}
	env.Data = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// Encode serialises an envelope to a text frame.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Parse reads a text frame.
func Parse(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("bad frame: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("bad frame: missing type")
	}
	return e, nil
}
