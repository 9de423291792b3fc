// Package peer negotiates one media connection per remote participant.
package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

// Link pairs one remote participant with its PeerConnection. It never
// outlives the room it was created for.
type Link struct {
	Participant domain.UserID
	Room        domain.RoomID
	Initiator   bool

	pc     core.PeerConnection
	remote *core.RemoteStream

	mu        sync.Mutex
	state     domain.PeerState
	remoteSet bool
	queued    []webrtc.ICECandidateInit
	// slots holds one outgoing sender per track kind.
	slots map[domain.TrackKind]*slot
	// renegotiate is set when tracks were added before the first remote
	// offer was answered.
	renegotiate bool
	closed      bool
}

type slot struct {
	trackID string
	sender  core.Sender
}

func newLink(room domain.RoomID, id domain.UserID, initiator bool, pc core.PeerConnection) *Link {
	return &Link{
		Participant: id,
		Room:        room,
		Initiator:   initiator,
		pc:          pc,
		remote:      core.NewRemoteStream(id),
		state:       domain.PeerNew,
		slots:       make(map[domain.TrackKind]*slot),
	}
}

func (l *Link) State() domain.PeerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Stream() *core.RemoteStream { return l.remote }

func (l *Link) setState(s domain.PeerState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.state == s {
		return false
	}
	l.state = s
	return true
}

// addTracks puts tracks on the link, one per kind. A kind already sent
// gets its track swapped in place; only new kinds count as added and need
// a fresh offer.
func (l *Link) addTracks(tracks []core.LocalTrack) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, nil
	}
	n := 0
	for _, t := range tracks {
		tl := t.TrackLocal()
		if sl, ok := l.slots[t.Kind()]; ok {
			if sl.trackID == t.ID() {
				continue
			}
			if sl.sender != nil && tl != nil {
				if err := sl.sender.ReplaceTrack(tl); err != nil {
					return n, err
				}
			}
			sl.trackID = t.ID()
			continue
		}
		var sender core.Sender
		if tl != nil {
			var err error
			if sender, err = l.pc.AddTrack(tl); err != nil {
				return n, err
			}
		}
		l.slots[t.Kind()] = &slot{trackID: t.ID(), sender: sender}
		n++
	}
	return n, nil
}

// mayOffer reports whether this side can send an offer now. A responder
// waits until it has answered the first remote offer and remembers that a
// renegotiation is owed.
func (l *Link) mayOffer() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Initiator || l.remoteSet {
		return true
	}
	l.renegotiate = true
	return false
}

// owesOffer reports and clears a deferred renegotiation.
func (l *Link) owesOffer() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	owed := l.renegotiate
	l.renegotiate = false
	return owed
}

// remoteReady marks the remote description as set and returns the
// candidates that arrived before it.
func (l *Link) remoteReady() []webrtc.ICECandidateInit {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteSet = true
	q := l.queued
	l.queued = nil
	return q
}

// queue buffers c unless the remote description is set. It reports
// whether c was buffered.
func (l *Link) queue(c webrtc.ICECandidateInit) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remoteSet {
		return false
	}
	l.queued = append(l.queued, c)
	return true
}

func (l *Link) close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.state = domain.PeerClosed
	l.queued = nil
	l.mu.Unlock()
	return l.pc.Close()
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
