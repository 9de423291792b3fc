package coretest

import (
	"sync"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

// Recorder is a core.Notifier that keeps everything it is told.
type Recorder struct {
	mu          sync.Mutex
	events      []string
	established []bool
	lost        []error
	joined      []domain.RoomSnapshot
	left        []domain.RoomID
	added       []domain.Participant
	removed     []domain.UserID
	updated     []domain.Participant
	streams     []*core.RemoteStream
	messages    []domain.ChatMessage
	reactions   []domain.Reaction
	lifecycle   []domain.RoomLifecycle
	errs        []error
}

var _ core.Notifier = (*Recorder)(nil)

func (r *Recorder) record(ev string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	fn()
}

func (r *Recorder) ConnectionEstablished(_ string, reconnected bool) {
	r.record("established", func() { r.established = append(r.established, reconnected) })
}

func (r *Recorder) ConnectionLost(err error) {
	r.record("lost", func() { r.lost = append(r.lost, err) })
}

func (r *Recorder) RoomJoined(s domain.RoomSnapshot) {
	r.record("joined", func() { r.joined = append(r.joined, s) })
}

func (r *Recorder) RoomLeft(id domain.RoomID, _ string) {
	r.record("left", func() { r.left = append(r.left, id) })
}

func (r *Recorder) ParticipantAdded(p domain.Participant) {
	r.record("added", func() { r.added = append(r.added, p) })
}

func (r *Recorder) ParticipantRemoved(id domain.UserID) {
	r.record("removed", func() { r.removed = append(r.removed, id) })
}

func (r *Recorder) ParticipantUpdated(p domain.Participant) {
	r.record("updated", func() { r.updated = append(r.updated, p) })
}

func (r *Recorder) RemoteStream(s *core.RemoteStream) {
	r.record("stream", func() { r.streams = append(r.streams, s) })
}

func (r *Recorder) ChatMessage(m domain.ChatMessage) {
	r.record("message", func() { r.messages = append(r.messages, m) })
}

func (r *Recorder) Reaction(x domain.Reaction) {
	r.record("reaction", func() { r.reactions = append(r.reactions, x) })
}

func (r *Recorder) RoomLifecycle(ev domain.RoomLifecycle) {
	r.record("lifecycle", func() { r.lifecycle = append(r.lifecycle, ev) })
}

func (r *Recorder) Error(err error) {
	r.record("error", func() { r.errs = append(r.errs, err) })
}

// Count reports how many times the named callback fired.
func (r *Recorder) Count(ev string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == ev {
			n++
		}
	}
	return n
}

func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *Recorder) Established() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.established...)
}

func (r *Recorder) Lost() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.lost...)
}

func (r *Recorder) Joined() []domain.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RoomSnapshot(nil), r.joined...)
}

func (r *Recorder) Left() []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RoomID(nil), r.left...)
}

func (r *Recorder) Added() []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Participant(nil), r.added...)
}

func (r *Recorder) Removed() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.UserID(nil), r.removed...)
}

func (r *Recorder) Updated() []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Participant(nil), r.updated...)
}

func (r *Recorder) Streams() []*core.RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*core.RemoteStream(nil), r.streams...)
}

func (r *Recorder) Messages() []domain.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChatMessage(nil), r.messages...)
}

func (r *Recorder) Reactions() []domain.Reaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Reaction(nil), r.reactions...)
}

func (r *Recorder) Lifecycle() []domain.RoomLifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RoomLifecycle(nil), r.lifecycle...)
}

func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}
