package coretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
)

// Track is a LocalTrack that counts Stop calls. Local is returned as the
// pion track and may be nil.
type Track struct {
	TrackID   string
	TrackKind domain.TrackKind
	Local     webrtc.TrackLocal

	mu    sync.Mutex
	stops int
}

var _ core.LocalTrack = (*Track)(nil)

func (t *Track) ID() string                    { return t.TrackID }
func (t *Track) Kind() domain.TrackKind        { return t.TrackKind }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.Local }

func (t *Track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// NewTrack returns a Track backed by a pion sample track of kind.
func NewTrack(id string, kind domain.TrackKind) *Track {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == domain.KindVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, "local")
	if err != nil {
		panic(err)
	}
	return &Track{TrackID: id, TrackKind: kind, Local: local}
}

// Capturer hands out Tracks. Err, when set, fails every capture.
type Capturer struct {
	mu       sync.Mutex
	Err      error
	requests []core.CaptureRequest
	tracks   []*Track
}

var _ core.Capturer = (*Capturer)(nil)

func (c *Capturer) Capture(ctx context.Context, req core.CaptureRequest) ([]core.LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Err != nil {
		return nil, c.Err
	}
	var out []core.LocalTrack
	n := len(c.requests)
	if req.Video {
		t := NewTrack(fmt.Sprintf("video-%d", n), domain.KindVideo)
		c.tracks = append(c.tracks, t)
		out = append(out, t)
	}
	if req.Audio {
		t := NewTrack(fmt.Sprintf("audio-%d", n), domain.KindAudio)
		c.tracks = append(c.tracks, t)
		out = append(out, t)
	}
	return out, nil
}

func (c *Capturer) SetErr(err error) {
	c.mu.Lock()
	c.Err = err
	c.mu.Unlock()
}

func (c *Capturer) Requests() []core.CaptureRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.CaptureRequest(nil), c.requests...)
}

func (c *Capturer) Tracks() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Track(nil), c.tracks...)
}
