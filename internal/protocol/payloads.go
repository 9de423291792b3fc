package protocol

import (
	"encoding/json"
	"time"

	"github.com/chaincast/session/internal/domain"
)

type Connected struct {
	SocketID string        `json:"socketId"`
	UserID   domain.UserID `json:"userId"`
	Name     string        `json:"name"`
}

type ConnectError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Ack struct {
	OK      bool            `json:"ok"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type JoinRoom struct {
	Room domain.RoomID `json:"room"`
	Role domain.Role   `json:"role,omitempty"`
}

type JoinRoomReply struct {
	Room         domain.RoomID        `json:"room"`
	Role         domain.Role          `json:"role"`
	Participants []domain.Participant `json:"participants"`
	Count        int                  `json:"count"`
}

type LeaveRoom struct {
	Room domain.RoomID `json:"room"`
}

type ParticipantJoined struct {
	Room        domain.RoomID      `json:"room"`
	Participant domain.Participant `json:"participant"`
}

type ParticipantLeft struct {
	Room   domain.RoomID `json:"room"`
	UserID domain.UserID `json:"userId"`
}

// StreamUpdate is sent by a client for itself and pushed by the server as
// participant_updated with UserID filled in.
type StreamUpdate struct {
	Room   domain.RoomID       `json:"room"`
	UserID domain.UserID       `json:"userId,omitempty"`
	Caps   domain.Capabilities `json:"caps"`
}

type SendMessage struct {
	Room    domain.RoomID `json:"room"`
	Content string        `json:"content"`
}

type Message struct {
	ID      string        `json:"id"`
	Room    domain.RoomID `json:"room"`
	From    domain.UserID `json:"from"`
	Name    string        `json:"name"`
	Content string        `json:"content"`
	SentAt  time.Time     `json:"sentAt"`
}

type AddReaction struct {
	Room  domain.RoomID `json:"room"`
	Emoji string        `json:"emoji"`
}

type Reaction struct {
	Room  domain.RoomID `json:"room"`
	From  domain.UserID `json:"from"`
	Emoji string        `json:"emoji"`
}

type RoomEvent struct {
	Room   domain.RoomID `json:"room"`
	Reason string        `json:"reason,omitempty"`
}

// Signal carries SDP or a trickled ICE candidate between two participants.
// Candidate is a JSON-encoded ICECandidateInit.
type Signal struct {
	Room      domain.RoomID `json:"room"`
	From      domain.UserID `json:"from,omitempty"`
	To        domain.UserID `json:"to"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate string        `json:"candidate,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
