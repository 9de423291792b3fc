package rtc

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

// Factory builds pion PeerConnections sharing one configuration.
type Factory struct {
	cfg webrtc.Configuration
}

var _ core.PeerFactory = (*Factory)(nil)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

func NewFactory(iceServers []string) *Factory {
	return &Factory{cfg: DefaultWebRTCConfig(iceServers)}
}

func (f *Factory) NewPeer(id domain.UserID) (core.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, participant: id}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("participant", string(id)).Str("ice_state", s.String()).Msg("ICE state")
	})
	return c, nil
}

// Connection adapts *webrtc.PeerConnection to core.PeerConnection using
// trickle ICE.
type Connection struct {
	pc          *webrtc.PeerConnection
	participant domain.UserID
}

var _ core.PeerConnection = (*Connection)(nil)

func (c *Connection) AddTrack(t webrtc.TrackLocal) (core.Sender, error) {
	sender, err := c.pc.AddTrack(t)
	if err != nil {
		return nil, err
	}
	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (c *Connection) OnTrack(fn func(core.RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("participant", string(c.participant)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		fn(remoteTrack{track})
	})
}

func (c *Connection) OnStateChange(fn func(domain.PeerState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("participant", string(c.participant)).Str("peer_connection_state", s.String()).Msg("Peer state")
		fn(peerState(s))
	})
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("participant", string(c.participant)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("participant", string(c.participant)).Msg("closed")
	return nil
}

func peerState(s webrtc.PeerConnectionState) domain.PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting, webrtc.PeerConnectionStateDisconnected:
		return domain.PeerConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.PeerConnected
	case webrtc.PeerConnectionStateFailed:
		return domain.PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.PeerClosed
	default:
		return domain.PeerNew
	}
}

type remoteTrack struct {
	*webrtc.TrackRemote
}

func (t remoteTrack) ReadPacket() (*rtp.Packet, error) {
	p, _, err := t.ReadRTP()
	return p, err
}
