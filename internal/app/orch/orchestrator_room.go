package orch

import (
	"context"
	"errors"

	"github.com/chaincast/session/internal/domain"
)

var ErrDisposed = errors.New("session disposed")

func (o *Orchestrator) JoinRoom(ctx context.Context, id domain.RoomID, role domain.Role) error {
	if o.disposed.Load() {
		return ErrDisposed
	}
	if err := o.Rooms.JoinRoom(ctx, id, role); err != nil {
		return err
	}
	if o.Media.Active() {
		_ = o.Rooms.PublishCaps(ctx, o.Media.Capabilities())
	}
	return nil
}

func (o *Orchestrator) LeaveRoom(ctx context.Context, id domain.RoomID) error {
	return o.Rooms.LeaveRoom(ctx, id)
}

func (o *Orchestrator) SendMessage(ctx context.Context, content string) error {
	return o.Rooms.SendMessage(ctx, content)
}

func (o *Orchestrator) AddReaction(ctx context.Context, emoji string) error {
	return o.Rooms.AddReaction(ctx, emoji)
}

// RestartPeer renegotiates with one participant after a failure.
func (o *Orchestrator) RestartPeer(id domain.UserID) error {
	return o.Peers.Restart(id)
}
