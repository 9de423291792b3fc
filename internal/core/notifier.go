package core

import "github.com/chaincast/session/internal/domain"

// Notifier is the UI layer. Callbacks are never made while a component
// holds its lock, so implementations may call back into the session.
type Notifier interface {
	ConnectionEstablished(socketID string, reconnected bool)
	ConnectionLost(err error)
	RoomJoined(room domain.RoomSnapshot)
	RoomLeft(room domain.RoomID, reason string)
	ParticipantAdded(p domain.Participant)
	ParticipantRemoved(id domain.UserID)
	ParticipantUpdated(p domain.Participant)
	RemoteStream(s *RemoteStream)
	ChatMessage(msg domain.ChatMessage)
	Reaction(r domain.Reaction)
	RoomLifecycle(ev domain.RoomLifecycle)
	Error(err error)
}

// NopNotifier ignores everything. Embed it to implement a subset.
type NopNotifier struct{}

func (NopNotifier) ConnectionEstablished(string, bool)    {}
func (NopNotifier) ConnectionLost(error)                  {}
func (NopNotifier) RoomJoined(domain.RoomSnapshot)        {}
func (NopNotifier) RoomLeft(domain.RoomID, string)        {}
func (NopNotifier) ParticipantAdded(domain.Participant)   {}
func (NopNotifier) ParticipantRemoved(domain.UserID)      {}
func (NopNotifier) ParticipantUpdated(domain.Participant) {}
func (NopNotifier) RemoteStream(*RemoteStream)            {}
func (NopNotifier) ChatMessage(domain.ChatMessage)        {}
func (NopNotifier) Reaction(domain.Reaction)              {}
func (NopNotifier) RoomLifecycle(domain.RoomLifecycle)    {}
func (NopNotifier) Error(error)                           {}

var _ Notifier = NopNotifier{}
