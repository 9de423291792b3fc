package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

var ErrNoLink = errors.New("no peer link")

// Signaler relays negotiation messages to the room server.
type Signaler interface {
	Emit(ctx context.Context, ev protocol.Event, payload any) error
}

// TrackSource lists the local tracks to attach to new links.
type TrackSource func() []core.LocalTrack

// Manager keeps at most one Link per participant. Create, Close and
// CloseAll may be called with a caller lock held: they never call the
// Notifier synchronously.
type Manager struct {
	factory core.PeerFactory
	sig     Signaler
	local   TrackSource
	notify  core.Notifier

	mu    sync.Mutex
	links map[domain.UserID]*Link
}

func NewManager(factory core.PeerFactory, sig Signaler, local TrackSource, notify core.Notifier) *Manager {
	if notify == nil {
		notify = core.NopNotifier{}
	}
	if local == nil {
		local = func() []core.LocalTrack { return nil }
	}
	return &Manager{
		factory: factory,
		sig:     sig,
		local:   local,
		notify:  notify,
		links:   make(map[domain.UserID]*Link),
	}
}

func (m *Manager) Link(id domain.UserID) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	return l, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// Create opens a link to id unless one exists. The initiator attaches the
// local tracks and sends the first offer. Errors are scoped to id.
func (m *Manager) Create(room domain.RoomID, id domain.UserID, initiator bool) error {
	m.mu.Lock()
	if _, ok := m.links[id]; ok {
		m.mu.Unlock()
		return nil
	}
	pc, err := m.factory.NewPeer(id)
	if err != nil {
		m.mu.Unlock()
		return &domain.PeerError{Participant: id, Err: fmt.Errorf("%w: %v", domain.ErrPeerNegotiationFailed, err)}
	}
	l := newLink(room, id, initiator, pc)
	m.links[id] = l
	m.mu.Unlock()

	m.wire(l)
	if _, err := l.addTracks(m.local()); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("participant", string(id)).Msg("add local track")
	}
	log.Info().Str("module", "peer").Str("participant", string(id)).Bool("initiator", initiator).Msg("link created")

	if initiator {
		return m.offer(l)
	}
	return nil
}

func (m *Manager) wire(l *Link) {
	id := l.Participant
	l.pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if l.isClosed() {
			return
		}
		raw, err := json.Marshal(c)
		if err != nil {
			return
		}
		sig := protocol.Signal{Room: l.Room, To: id, Candidate: string(raw)}
		if err := m.sig.Emit(context.Background(), protocol.EventCandidate, sig); err != nil {
			log.Debug().Err(err).Str("module", "peer").Str("participant", string(id)).Msg("send candidate")
		}
	})
	l.pc.OnTrack(func(t core.RemoteTrack) {
		if l.isClosed() {
			return
		}
		log.Info().
			Str("module", "peer").
			Str("participant", string(id)).
			Str("kind", t.Kind().String()).
			Str("track_id", t.ID()).
			Str("stream_id", t.StreamID()).
			Msg("remote track")
		if l.remote.Add(t) {
			m.notify.RemoteStream(l.remote)
		}
	})
	l.pc.OnStateChange(func(s domain.PeerState) {
		if !l.setState(s) {
			return
		}
		log.Info().Str("module", "peer").Str("participant", string(id)).Str("state", s.String()).Msg("peer state")
		if s == domain.PeerFailed {
			m.notify.Error(&domain.PeerError{Participant: id, Err: domain.ErrPeerNegotiationFailed})
		}
	})
}

func (m *Manager) offer(l *Link) error {
	sd, err := l.pc.CreateOffer()
	if err != nil {
		l.setState(domain.PeerFailed)
		return &domain.PeerError{Participant: l.Participant, Err: fmt.Errorf("%w: offer: %v", domain.ErrPeerNegotiationFailed, err)}
	}
	l.setState(domain.PeerConnecting)
	sig := protocol.Signal{Room: l.Room, To: l.Participant, SDP: sd.SDP}
	if err := m.sig.Emit(context.Background(), protocol.EventOffer, sig); err != nil {
		return &domain.PeerError{Participant: l.Participant, Err: err}
	}
	return nil
}

// HandleOffer answers a remote offer on the existing link for its sender.
func (m *Manager) HandleOffer(s protocol.Signal) error {
	l, ok := m.Link(s.From)
	if !ok {
		return fmt.Errorf("offer from %s: %w", s.From, ErrNoLink)
	}
	answer, err := l.pc.ApplyOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.SDP})
	if err != nil {
		l.setState(domain.PeerFailed)
		return &domain.PeerError{Participant: s.From, Err: fmt.Errorf("%w: answer: %v", domain.ErrPeerNegotiationFailed, err)}
	}
	l.setState(domain.PeerConnecting)
	m.flush(l)
	reply := protocol.Signal{Room: l.Room, To: s.From, SDP: answer.SDP}
	if err := m.sig.Emit(context.Background(), protocol.EventAnswer, reply); err != nil {
		return err
	}
	if l.owesOffer() {
		return m.offer(l)
	}
	return nil
}

func (m *Manager) HandleAnswer(s protocol.Signal) error {
	l, ok := m.Link(s.From)
	if !ok {
		return fmt.Errorf("answer from %s: %w", s.From, ErrNoLink)
	}
	if err := l.pc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s.SDP}); err != nil {
		l.setState(domain.PeerFailed)
		return &domain.PeerError{Participant: s.From, Err: fmt.Errorf("%w: %v", domain.ErrPeerNegotiationFailed, err)}
	}
	m.flush(l)
	return nil
}

// HandleCandidate applies a trickled candidate, holding it back until the
// remote description is known.
func (m *Manager) HandleCandidate(s protocol.Signal) error {
	l, ok := m.Link(s.From)
	if !ok {
		return fmt.Errorf("candidate from %s: %w", s.From, ErrNoLink)
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(s.Candidate), &c); err != nil {
		return fmt.Errorf("candidate from %s: %w", s.From, err)
	}
	if l.queue(c) {
		return nil
	}
	if err := l.pc.AddICECandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("participant", string(s.From)).Msg("add ice candidate")
	}
	return nil
}

func (m *Manager) flush(l *Link) {
	for _, c := range l.remoteReady() {
		if err := l.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("participant", string(l.Participant)).Msg("add queued candidate")
		}
	}
}

// AttachLocal puts tracks on every open link. Replacing a track of a kind
// already sent needs no negotiation. A link that gained a kind is
// renegotiated: at once when this side initiated it, after answering the
// first offer otherwise.
func (m *Manager) AttachLocal(tracks []core.LocalTrack) {
	for _, l := range m.all() {
		n, err := l.addTracks(tracks)
		if err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("participant", string(l.Participant)).Msg("attach local track")
		}
		if n == 0 || !l.mayOffer() {
			continue
		}
		if err := m.offer(l); err != nil {
			m.notify.Error(err)
		}
	}
}

// Restart replaces a link with a fresh one and offers again.
func (m *Manager) Restart(id domain.UserID) error {
	l, ok := m.Link(id)
	if !ok {
		return fmt.Errorf("restart %s: %w", id, ErrNoLink)
	}
	m.Close(id)
	return m.Create(l.Room, id, true)
}

// Close tears down the link to id. Unknown ids are ignored.
func (m *Manager) Close(id domain.UserID) {
	m.mu.Lock()
	l, ok := m.links[id]
	delete(m.links, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := l.close(); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("participant", string(id)).Msg("close error")
		return
	}
	log.Info().Str("module", "peer").Str("participant", string(id)).Msg("link closed")
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[domain.UserID]*Link)
	m.mu.Unlock()
	for id, l := range links {
		if err := l.close(); err != nil {
			log.Error().Err(err).Str("module", "peer").Str("participant", string(id)).Msg("close error")
		}
	}
}

func (m *Manager) all() []*Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}
