package orch

import (
	"context"
	"errors"

	"github.com/chaincast/session/internal/domain"
)

func (o *Orchestrator) InitializeMedia(ctx context.Context, video, audio bool) error {
	if o.disposed.Load() {
		return ErrDisposed
	}
	if err := o.Media.Initialize(ctx, video, audio); err != nil {
		return err
	}
	o.publishCaps(ctx)
	return nil
}

func (o *Orchestrator) ToggleVideo(ctx context.Context) (bool, error) {
	on, err := o.Media.ToggleVideo(ctx)
	if err != nil {
		return false, err
	}
	o.publishCaps(ctx)
	return on, nil
}

func (o *Orchestrator) ToggleAudio(ctx context.Context) (bool, error) {
	on, err := o.Media.ToggleAudio(ctx)
	if err != nil {
		return false, err
	}
	o.publishCaps(ctx)
	return on, nil
}

// publishCaps tells the room about the local media flags when joined.
func (o *Orchestrator) publishCaps(ctx context.Context) {
	err := o.Rooms.PublishCaps(ctx, o.Media.Capabilities())
	if err != nil && !errors.Is(err, domain.ErrNotInRoom) {
		o.ui.Error(err)
	}
}
