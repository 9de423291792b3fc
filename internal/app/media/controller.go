// Package media owns the local capture stream and its per-track switches.
package media

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/config"
	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

var ErrNothingRequested = errors.New("neither video nor audio requested")

func ConstraintsFrom(cfg config.MediaConfig) core.MediaConstraints {
	return core.MediaConstraints{
		Width:            cfg.Width,
		Height:           cfg.Height,
		FrameRate:        cfg.FrameRate,
		SampleRate:       cfg.SampleRate,
		ChannelCount:     cfg.ChannelCount,
		EchoCancellation: cfg.EchoCancellation,
		NoiseSuppression: cfg.NoiseSuppression,
	}
}

type track struct {
	core.LocalTrack
	enabled bool
	once    sync.Once
}

func (t *track) stop() {
	t.once.Do(func() {
		if err := t.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("track_id", t.ID()).Msg("stop track")
		}
	})
}

// Controller holds at most one local stream. Toggling flips a track in
// place; a missing track is acquired on demand.
type Controller struct {
	capturer    core.Capturer
	constraints core.MediaConstraints
	timeout     time.Duration

	// acquire serialises device acquisition.
	acquire sync.Mutex

	mu       sync.Mutex
	tracks   map[domain.TrackKind]*track
	onTracks func([]core.LocalTrack)
}

func NewController(c core.Capturer, constraints core.MediaConstraints, timeout time.Duration) *Controller {
	return &Controller{
		capturer:    c,
		constraints: constraints,
		timeout:     timeout,
	}
}

// OnTracks registers a hook called with newly acquired tracks.
func (c *Controller) OnTracks(fn func([]core.LocalTrack)) {
	c.mu.Lock()
	c.onTracks = fn
	c.mu.Unlock()
}

// Initialize acquires a fresh stream, releasing any stream already open.
// On failure no stream is kept.
func (c *Controller) Initialize(ctx context.Context, video, audio bool) error {
	if !video && !audio {
		return ErrNothingRequested
	}
	c.acquire.Lock()
	defer c.acquire.Unlock()

	c.Cleanup()
	got, err := c.capture(ctx, video, audio)
	if err != nil {
		return err
	}
	c.install(got)
	log.Info().Str("module", "media").Bool("video", video).Bool("audio", audio).Int("tracks", len(got)).Msg("stream initialized")
	return nil
}

func (c *Controller) ToggleVideo(ctx context.Context) (bool, error) {
	return c.toggle(ctx, domain.KindVideo)
}

func (c *Controller) ToggleAudio(ctx context.Context) (bool, error) {
	return c.toggle(ctx, domain.KindAudio)
}

// toggle returns the new enabled flag of kind.
func (c *Controller) toggle(ctx context.Context, kind domain.TrackKind) (bool, error) {
	if on, ok := c.flip(kind); ok {
		return on, nil
	}

	c.acquire.Lock()
	defer c.acquire.Unlock()
	if on, ok := c.flip(kind); ok {
		return on, nil
	}
	got, err := c.capture(ctx, kind == domain.KindVideo, kind == domain.KindAudio)
	if err != nil {
		return false, err
	}
	c.install(got)
	log.Info().Str("module", "media").Str("kind", string(kind)).Msg("track acquired on toggle")
	return true, nil
}

// switchable tracks stop emitting media while disabled.
type switchable interface {
	SetEnabled(bool)
}

func (c *Controller) flip(kind domain.TrackKind) (bool, bool) {
	c.mu.Lock()
	t, ok := c.tracks[kind]
	if !ok {
		c.mu.Unlock()
		return false, false
	}
	t.enabled = !t.enabled
	on := t.enabled
	c.mu.Unlock()

	if sw, ok := t.LocalTrack.(switchable); ok {
		sw.SetEnabled(on)
	}
	return on, true
}

func (c *Controller) capture(ctx context.Context, video, audio bool) ([]core.LocalTrack, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	got, err := c.capturer.Capture(ctx, core.CaptureRequest{Video: video, Audio: audio, Constraints: c.constraints})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: capture timed out", domain.ErrDeviceUnavailable)
		}
		log.Warn().Err(err).Str("module", "media").Msg("capture failed")
		return nil, err
	}
	return got, nil
}

func (c *Controller) install(got []core.LocalTrack) {
	c.mu.Lock()
	if c.tracks == nil {
		c.tracks = make(map[domain.TrackKind]*track)
	}
	var replaced []*track
	for _, lt := range got {
		if old, ok := c.tracks[lt.Kind()]; ok {
			replaced = append(replaced, old)
		}
		c.tracks[lt.Kind()] = &track{LocalTrack: lt, enabled: true}
	}
	hook := c.onTracks
	c.mu.Unlock()

	for _, t := range replaced {
		t.stop()
	}
	if hook != nil && len(got) > 0 {
		hook(got)
	}
}

// Cleanup stops every track and drops the stream. Safe to call repeatedly.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	tracks := c.tracks
	c.tracks = nil
	c.mu.Unlock()
	for _, t := range tracks {
		t.stop()
	}
	if len(tracks) > 0 {
		log.Info().Str("module", "media").Int("tracks", len(tracks)).Msg("stream released")
	}
}

// Active reports whether a stream is open.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks) > 0
}

func (c *Controller) Enabled(kind domain.TrackKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tracks[kind]
	return ok && t.enabled
}

// Tracks returns the open tracks, video first.
func (c *Controller) Tracks() []core.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.LocalTrack, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t.LocalTrack)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind() > out[j].Kind() })
	return out
}

// Capabilities describes the stream as advertised to the room.
func (c *Controller) Capabilities() domain.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, hasVideo := c.tracks[domain.KindVideo]
	a, hasAudio := c.tracks[domain.KindAudio]
	return domain.Capabilities{
		HasVideo:   hasVideo,
		HasAudio:   hasAudio,
		IsMuted:    !hasAudio || !a.enabled,
		IsVideoOff: !hasVideo || !v.enabled,
	}
}
