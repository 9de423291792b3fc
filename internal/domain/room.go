package domain

type RoomID string

// Role is the local client's role inside a room.
type Role string

const (
	RoleMember      Role = "member"
	RoleViewer      Role = "viewer"
	RoleBroadcaster Role = "broadcaster"
	RoleModerator   Role = "moderator"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleViewer, RoleBroadcaster, RoleModerator:
		return true
	}
	return false
}

// RoomState moves strictly forward: none → joining → joined → leaving → none.
type RoomState int

const (
	RoomNone RoomState = iota
	RoomJoining
	RoomJoined
	RoomLeaving
)

func (s RoomState) String() string {
	switch s {
	case RoomJoining:
		return "joining"
	case RoomJoined:
		return "joined"
	case RoomLeaving:
		return "leaving"
	default:
		return "none"
	}
}

// RoomSnapshot is a read-only copy of the tracked room.
type RoomSnapshot struct {
	ID           RoomID        `json:"id"`
	Role         Role          `json:"role"`
	State        RoomState     `json:"state"`
	Participants []Participant `json:"participants"`
	Count        int           `json:"count"`
}

// LifecycleKind enumerates room lifecycle pushes.
type LifecycleKind string

const (
	RoomStarted LifecycleKind = "started"
	RoomEnded   LifecycleKind = "ended"
	RoomRemoved LifecycleKind = "removed"
)

type RoomLifecycle struct {
	Room   RoomID        `json:"room"`
	Kind   LifecycleKind `json:"kind"`
	Reason string        `json:"reason,omitempty"`
}
