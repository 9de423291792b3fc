package devices

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Synthetic produces generated VP8 and Opus samples without touching any
// device. Used for headless clients and tests.
type Synthetic struct {
	// Fail, when set, is returned by every Capture.
	Fail error
}

var _ core.Capturer = (*Synthetic)(nil)

func (s *Synthetic) Capture(ctx context.Context, req core.CaptureRequest) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Fail != nil {
		return nil, classify(s.Fail)
	}
	streamID := "synthetic-" + uuid.NewString()
	var out []core.LocalTrack
	if req.Video {
		fps := req.Constraints.FrameRate
		if fps <= 0 {
			fps = 30
		}
		t, err := newSyntheticTrack(domain.KindVideo, streamID,
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			time.Duration(float64(time.Second)/fps), []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a})
		if err != nil {
			stopAll(out)
			return nil, err
		}
		out = append(out, t)
	}
	if req.Audio {
		t, err := newSyntheticTrack(domain.KindAudio, streamID,
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			20*time.Millisecond, opusSilence)
		if err != nil {
			stopAll(out)
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func stopAll(tracks []core.LocalTrack) {
	for _, t := range tracks {
		_ = t.Stop()
	}
}

type syntheticTrack struct {
	kind    domain.TrackKind
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	cancel  context.CancelFunc
	once    sync.Once
}

func newSyntheticTrack(kind domain.TrackKind, streamID string, codec webrtc.RTPCodecCapability, every time.Duration, payload []byte) (*syntheticTrack, error) {
	tl, err := webrtc.NewTrackLocalStaticSample(codec, string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &syntheticTrack{kind: kind, track: tl, cancel: cancel}
	t.enabled.Store(true)
	go t.pump(ctx, every, payload)
	return t, nil
}

func (t *syntheticTrack) pump(ctx context.Context, every time.Duration, payload []byte) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			if err := t.track.WriteSample(media.Sample{Data: payload, Duration: every}); err != nil {
				log.Debug().Err(err).Str("module", "devices").Str("track_id", t.ID()).Msg("write sample")
			}
		}
	}
}

func (t *syntheticTrack) ID() string                    { return t.track.ID() }
func (t *syntheticTrack) Kind() domain.TrackKind        { return t.kind }
func (t *syntheticTrack) TrackLocal() webrtc.TrackLocal { return t.track }
func (t *syntheticTrack) SetEnabled(on bool)            { t.enabled.Store(on) }

func (t *syntheticTrack) Stop() error {
	t.once.Do(t.cancel)
	return nil
}
