package media

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/core/coretest"
	"github.com/chaincast/session/internal/domain"
)

func newTestController() (*Controller, *coretest.Capturer) {
	capt := &coretest.Capturer{}
	return NewController(capt, core.MediaConstraints{Width: 1280, Height: 720, FrameRate: 30}, time.Second), capt
}

func TestInitializePermissionDenied(t *testing.T) {
	c, capt := newTestController()
	capt.SetErr(domain.ErrPermissionDenied)

	err := c.Initialize(context.Background(), true, true)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.False(t, c.Active())
	assert.Empty(t, c.Tracks())

	capt.SetErr(nil)
	on, err := c.ToggleVideo(context.Background())
	require.NoError(t, err)
	assert.True(t, on)

	reqs := capt.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[1].Video)
	assert.False(t, reqs[1].Audio)
}

func TestInitializeRequiresSomething(t *testing.T) {
	c, _ := newTestController()
	assert.ErrorIs(t, c.Initialize(context.Background(), false, false), ErrNothingRequested)
}

func TestInitializeReplacesOpenStream(t *testing.T) {
	c, capt := newTestController()
	require.NoError(t, c.Initialize(context.Background(), true, true))
	first := capt.Tracks()

	require.NoError(t, c.Initialize(context.Background(), true, false))
	for _, tr := range first {
		assert.Equal(t, 1, tr.Stops(), tr.TrackID)
	}
	tracks := c.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, domain.KindVideo, tracks[0].Kind())
}

func TestToggleFlipsWithoutReacquiring(t *testing.T) {
	c, capt := newTestController()
	require.NoError(t, c.Initialize(context.Background(), true, true))

	on, err := c.ToggleAudio(context.Background())
	require.NoError(t, err)
	assert.False(t, on)
	assert.True(t, c.Capabilities().IsMuted)

	on, err = c.ToggleAudio(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
	assert.False(t, c.Capabilities().IsMuted)
	assert.Len(t, capt.Requests(), 1)
}

func TestToggleAcquiresMissingKind(t *testing.T) {
	c, capt := newTestController()
	var hooked []core.LocalTrack
	c.OnTracks(func(ts []core.LocalTrack) { hooked = append(hooked, ts...) })
	require.NoError(t, c.Initialize(context.Background(), false, true))

	on, err := c.ToggleVideo(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
	assert.Len(t, capt.Requests(), 2)
	assert.Len(t, c.Tracks(), 2)
	assert.Len(t, hooked, 2)

	caps := c.Capabilities()
	assert.Equal(t, domain.Capabilities{HasVideo: true, HasAudio: true}, caps)
}

func TestToggleFailureKeepsExistingStream(t *testing.T) {
	c, capt := newTestController()
	require.NoError(t, c.Initialize(context.Background(), false, true))
	capt.SetErr(domain.ErrDeviceNotFound)

	_, err := c.ToggleVideo(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
	assert.True(t, c.Enabled(domain.KindAudio))
	assert.False(t, c.Enabled(domain.KindVideo))
}

func TestCleanupIsIdempotent(t *testing.T) {
	c, capt := newTestController()
	require.NoError(t, c.Initialize(context.Background(), true, true))

	c.Cleanup()
	c.Cleanup()

	for _, tr := range capt.Tracks() {
		assert.Equal(t, 1, tr.Stops(), tr.TrackID)
	}
	assert.False(t, c.Active())
	assert.Equal(t, domain.Capabilities{IsMuted: true, IsVideoOff: true}, c.Capabilities())
}

func TestCleanupWithoutStream(t *testing.T) {
	c, _ := newTestController()
	assert.NotPanics(t, c.Cleanup)
}
