package core

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/domain"
)

// RemoteStream groups the inbound tracks of one participant.
// It is owned by the PeerLink that received it.
type RemoteStream struct {
	Participant domain.UserID

	mu     sync.RWMutex
	tracks map[string]RemoteTrack
}

func NewRemoteStream(participant domain.UserID) *RemoteStream {
	return &RemoteStream{
		Participant: participant,
		tracks:      make(map[string]RemoteTrack),
	}
}

// Add attaches a track and reports whether it was new.
func (s *RemoteStream) Add(t RemoteTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracks[t.ID()]; ok {
		return false
	}
	s.tracks[t.ID()] = t
	return true
}

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RemoteTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// ID is the stream id advertised by the remote side, or the participant id
// when no track has arrived yet.
func (s *RemoteStream) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.StreamID() != "" {
			return t.StreamID()
		}
	}
	return string(s.Participant)
}

// Pump reads RTP packets from track and hands them to sink until ctx is
// done or the track ends.
func (s *RemoteStream) Pump(ctx context.Context, track RemoteTrack, sink func(*rtp.Packet)) error {
	logger := log.With().
		Str("module", "core.stream").
		Str("participant", string(s.Participant)).
		Str("track_id", track.ID()).
		Logger()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("pump ctx done")
			return ctx.Err()
		default:
		}
		pkt, err := track.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug().Msg("remote track ended")
				return nil
			}
			logger.Error().Err(err).Msg("read RTP error, stopping")
			return err
		}
		sink(pkt)
	}
}
