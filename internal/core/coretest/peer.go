package coretest

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

// Peer is a core.PeerConnection that records calls. Fire* methods play the
// role of the network.
type Peer struct {
	ID domain.UserID

	// FailOffer and FailApply make negotiation steps fail.
	FailOffer error
	FailApply error

	mu         sync.Mutex
	senders    []*Sender
	offers     int
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool
	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(core.RemoteTrack)
	onState    func(domain.PeerState)
}

var _ core.PeerConnection = (*Peer)(nil)

// Sender records the track currently on one outgoing slot.
type Sender struct {
	mu       sync.Mutex
	track    webrtc.TrackLocal
	replaced int
}

var _ core.Sender = (*Sender)(nil)

func (s *Sender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	s.replaced++
	return nil
}

func (s *Sender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) Replaced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced
}

func (p *Peer) AddTrack(t webrtc.TrackLocal) (core.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &Sender{track: t}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailOffer != nil {
		return webrtc.SessionDescription{}, p.FailOffer
	}
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", p.ID, p.offers)}, nil
}

func (p *Peer) ApplyOffer(sd webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailApply != nil {
		return webrtc.SessionDescription{}, p.FailApply
	}
	p.remote = append(p.remote, sd)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + string(p.ID)}, nil
}

func (p *Peer) ApplyAnswer(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailApply != nil {
		return p.FailApply
	}
	p.remote = append(p.remote, sd)
	return nil
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remote) == 0 {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *Peer) OnTrack(fn func(core.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *Peer) OnStateChange(fn func(domain.PeerState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Peer) FireICE(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (p *Peer) FireTrack(t core.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (p *Peer) FireState(s domain.PeerState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

// Senders returns one entry per AddTrack call.
func (p *Peer) Senders() []*Sender {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Sender(nil), p.senders...)
}

func (p *Peer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *Peer) Remote() []webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), p.remote...)
}

// PeerFactory hands out Peers and remembers every one it created.
type PeerFactory struct {
	// Fail, when set, is returned for the listed participants.
	Fail map[domain.UserID]error

	mu    sync.Mutex
	peers map[domain.UserID][]*Peer
}

var _ core.PeerFactory = (*PeerFactory)(nil)

func (f *PeerFactory) NewPeer(id domain.UserID) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Fail[id]; err != nil {
		return nil, err
	}
	if f.peers == nil {
		f.peers = make(map[domain.UserID][]*Peer)
	}
	p := &Peer{ID: id}
	f.peers[id] = append(f.peers[id], p)
	return p, nil
}

// Last returns the newest Peer created for id.
func (f *PeerFactory) Last(id domain.UserID) *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	ps := f.peers[id]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

// Created reports how many Peers were made for id.
func (f *PeerFactory) Created(id domain.UserID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers[id])
}

// RemoteTrack is a finite inbound track.
type RemoteTrack struct {
	TrackID  string
	Stream   string
	Codec    webrtc.RTPCodecType
	Packets  []*rtp.Packet
	mu       sync.Mutex
	consumed int
}

var _ core.RemoteTrack = (*RemoteTrack)(nil)

func (t *RemoteTrack) ID() string                { return t.TrackID }
func (t *RemoteTrack) StreamID() string          { return t.Stream }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return t.Codec }

func (t *RemoteTrack) ReadPacket() (*rtp.Packet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumed >= len(t.Packets) {
		return nil, io.EOF
	}
	p := t.Packets[t.consumed]
	t.consumed++
	return p, nil
}
