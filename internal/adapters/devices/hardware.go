//go:build hardware

package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

const rtpMTU = 1200

// Hardware captures from the local camera and microphone and re-packetises
// the encoded media into static RTP tracks.
type Hardware struct {
	selector *mediadevices.CodecSelector
}

var _ core.Capturer = (*Hardware)(nil)

func NewHardware() (core.Capturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 60

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return &Hardware{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func hasDevice(kind mediadevices.MediaDeviceType) bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

func (h *Hardware) constraints(req core.CaptureRequest) mediadevices.MediaStreamConstraints {
	c := req.Constraints
	out := mediadevices.MediaStreamConstraints{Codec: h.selector}
	if req.Video {
		out.Video = func(t *mediadevices.MediaTrackConstraints) {
			if c.Width > 0 {
				t.Width = prop.Int(c.Width)
			}
			if c.Height > 0 {
				t.Height = prop.Int(c.Height)
			}
			if c.FrameRate > 0 {
				t.FrameRate = prop.Float(c.FrameRate)
			}
		}
	}
	if req.Audio {
		out.Audio = func(t *mediadevices.MediaTrackConstraints) {
			if c.SampleRate > 0 {
				t.SampleRate = prop.Int(c.SampleRate)
			}
			if c.ChannelCount > 0 {
				t.ChannelCount = prop.Int(c.ChannelCount)
			}
			t.Latency = prop.Duration(20 * time.Millisecond)
		}
		if c.EchoCancellation || c.NoiseSuppression {
			// no driver-level props for these in mediadevices
			log.Debug().Str("module", "devices").
				Bool("echo_cancellation", c.EchoCancellation).
				Bool("noise_suppression", c.NoiseSuppression).
				Msg("audio processing constraints ignored")
		}
	}
	return out
}

func (h *Hardware) Capture(ctx context.Context, req core.CaptureRequest) ([]core.LocalTrack, error) {
	if req.Video && !hasDevice(mediadevices.VideoInput) {
		return nil, fmt.Errorf("%w: no camera", domain.ErrDeviceNotFound)
	}
	if req.Audio && !hasDevice(mediadevices.AudioInput) {
		return nil, fmt.Errorf("%w: no microphone", domain.ErrDeviceNotFound)
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(h.constraints(req))
		done <- result{s, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		// The driver cannot be interrupted; release whatever it opens later.
		go func() {
			if late := <-done; late.err == nil {
				for _, t := range late.stream.GetTracks() {
					_ = t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return nil, classify(r.err)
	}

	streamID := "cam-" + fmt.Sprint(rand.Uint32())
	var out []core.LocalTrack
	for _, src := range r.stream.GetTracks() {
		t, err := newHardwareTrack(src, streamID)
		if err != nil {
			_ = src.Close()
			stopAll(out)
			return nil, classify(err)
		}
		out = append(out, t)
	}
	log.Info().Str("module", "devices").Int("tracks", len(out)).Msg("hardware capture started")
	return out, nil
}

type hardwareTrack struct {
	src     mediadevices.Track
	out     *webrtc.TrackLocalStaticRTP
	kind    domain.TrackKind
	enabled atomic.Bool
	cancel  context.CancelFunc
	once    sync.Once
}

func newHardwareTrack(src mediadevices.Track, streamID string) (*hardwareTrack, error) {
	kind := domain.KindAudio
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"}
	if src.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.KindVideo
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	out, err := webrtc.NewTrackLocalStaticRTP(codec, src.ID(), streamID)
	if err != nil {
		return nil, err
	}
	name := strings.SplitN(codec.MimeType, "/", 2)[1]
	reader, err := src.NewRTPReader(name, rand.Uint32(), rtpMTU)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &hardwareTrack{src: src, out: out, kind: kind, cancel: cancel}
	t.enabled.Store(true)
	go t.pump(ctx, reader)
	return t, nil
}

func (t *hardwareTrack) pump(ctx context.Context, reader mediadevices.RTPReadCloser) {
	defer func() { _ = reader.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkts, release, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("module", "devices").Str("track_id", t.ID()).Msg("rtp read")
			}
			return
		}
		if t.enabled.Load() {
			for _, p := range pkts {
				if err := t.out.WriteRTP(p); err != nil {
					log.Debug().Err(err).Str("module", "devices").Msg("write rtp")
				}
			}
		}
		if release != nil {
			release()
		}
	}
}

func (t *hardwareTrack) ID() string                    { return t.out.ID() }
func (t *hardwareTrack) Kind() domain.TrackKind        { return t.kind }
func (t *hardwareTrack) TrackLocal() webrtc.TrackLocal { return t.out }
func (t *hardwareTrack) SetEnabled(on bool)            { t.enabled.Store(on) }

func (t *hardwareTrack) Stop() error {
	var err error
	t.once.Do(func() {
		t.cancel()
		err = t.src.Close()
	})
	return err
}
