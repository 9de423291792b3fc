package domain

import "time"

// Capabilities are the media flags a participant advertises.
// Updates are last-write-wins.
type Capabilities struct {
	HasVideo   bool `json:"hasVideo"`
	HasAudio   bool `json:"hasAudio"`
	IsMuted    bool `json:"isMuted"`
	IsVideoOff bool `json:"isVideoOff"`
}

// Participant is a remote peer visible in a room.
// No transport or lifecycle logic here.
type Participant struct {
	ID       UserID       `json:"id"`
	Name     string       `json:"name"`
	Role     Role         `json:"role,omitempty"`
	Caps     Capabilities `json:"caps"`
	StreamID string       `json:"streamId,omitempty"`
}

type ChatMessage struct {
	ID      string    `json:"id"`
	Room    RoomID    `json:"room"`
	From    UserID    `json:"from"`
	Name    string    `json:"name"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

type Reaction struct {
	Room  RoomID `json:"room"`
	From  UserID `json:"from"`
	Emoji string `json:"emoji"`
}
