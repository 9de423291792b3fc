package hub

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose outbox is full.
type Policy interface {
	OnBackPressure(room *Room, member *Session) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*Room, *Session) BackpressureAction {
	return KickMember
}
