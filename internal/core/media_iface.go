package core

import (
	"context"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/chaincast/session/internal/domain"
)

// MediaConstraints are the ideals requested from capture devices.
type MediaConstraints struct {
	Width            int
	Height           int
	FrameRate        float64
	SampleRate       int
	ChannelCount     int
	EchoCancellation bool
	NoiseSuppression bool
}

type CaptureRequest struct {
	Video       bool
	Audio       bool
	Constraints MediaConstraints
}

// LocalTrack is one captured camera or microphone track.
type LocalTrack interface {
	ID() string
	Kind() domain.TrackKind
	TrackLocal() webrtc.TrackLocal
	// Stop releases the device. Calling it twice must be harmless.
	Stop() error
}

// Capturer acquires devices. Failures must wrap domain.ErrPermissionDenied,
// domain.ErrDeviceNotFound or domain.ErrDeviceUnavailable when they apply.
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest) ([]LocalTrack, error)
}

// RemoteTrack is an inbound media track. *webrtc.TrackRemote fits once
// wrapped by the rtc adapter.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadPacket() (*rtp.Packet, error)
}

// Sender is the outgoing slot a local track was added to. *webrtc.RTPSender
// satisfies it.
type Sender interface {
	// ReplaceTrack swaps the media sent on the slot without renegotiating.
	ReplaceTrack(webrtc.TrackLocal) error
}

// PeerConnection is the negotiation object paired with one participant.
type PeerConnection interface {
	AddTrack(webrtc.TrackLocal) (Sender, error)
	// CreateOffer creates an offer and sets it as local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOffer sets the remote offer and returns the local answer.
	ApplyOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(RemoteTrack))
	OnStateChange(func(domain.PeerState))
	Close() error
}

type PeerFactory interface {
	NewPeer(id domain.UserID) (PeerConnection, error)
}
