// Package orch wires the transport, room, peer and media components into
// one client session.
package orch

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/app/media"
	"github.com/chaincast/session/internal/app/peer"
	"github.com/chaincast/session/internal/app/session"
	"github.com/chaincast/session/internal/app/transport"
	"github.com/chaincast/session/internal/config"
	"github.com/chaincast/session/internal/core"
)

type Deps struct {
	Dialer   core.Dialer
	Peers    core.PeerFactory
	Capturer core.Capturer
	Notifier core.Notifier
}

// Orchestrator is the public face of the session core. The UI talks to it
// and is told about changes through the Notifier given in Deps.
type Orchestrator struct {
	Conn  *transport.Manager
	Rooms *session.Tracker
	Peers *peer.Manager
	Media *media.Controller

	ui       core.Notifier
	disposed atomic.Bool
}

func New(cfg config.ClientConfig, deps Deps) *Orchestrator {
	ui := deps.Notifier
	if ui == nil {
		ui = core.NopNotifier{}
	}
	o := &Orchestrator{ui: ui}
	n := &notifier{Notifier: ui, o: o}

	o.Conn = transport.NewManager(deps.Dialer, transport.OptionsFrom(cfg), n)
	o.Media = media.NewController(deps.Capturer, media.ConstraintsFrom(cfg.Media), cfg.MediaTimeout)
	o.Peers = peer.NewManager(deps.Peers, o.Conn, o.Media.Tracks, n)
	o.Rooms = session.NewTracker(o.Conn, o.Peers, n)
	o.Media.OnTracks(o.Peers.AttachLocal)
	return o
}

// Connect opens the channel and binds the server event handlers. A new
// token replaces the old server session, so the room goes with it.
func (o *Orchestrator) Connect(ctx context.Context, token string) error {
	if o.disposed.Load() {
		return ErrDisposed
	}
	if token != "" && o.Conn.Replaces(token) {
		o.Rooms.Drop("connection replaced")
	}
	o.bind()
	return o.Conn.Connect(ctx, token)
}

// Disconnect drops the room locally and closes the channel.
func (o *Orchestrator) Disconnect() {
	o.Rooms.Reset()
	o.Peers.CloseAll()
	o.Conn.Disconnect()
}

// Dispose leaves the room, closes the channel and releases devices. The
// Orchestrator is unusable afterwards.
func (o *Orchestrator) Dispose() {
	if o.disposed.Swap(true) {
		return
	}
	if id, _ := o.Rooms.Current(); id != "" {
		_ = o.Rooms.LeaveRoom(context.Background(), id)
	}
	o.Disconnect()
	o.Media.Cleanup()
	log.Info().Str("module", "orch").Msg("disposed")
}

// notifier sits between the components and the UI so that connection and
// stream events also update the room state.
type notifier struct {
	core.Notifier
	o *Orchestrator
}

func (n *notifier) ConnectionLost(err error) {
	n.o.Rooms.ConnectionLost()
	n.Notifier.ConnectionLost(err)
}

func (n *notifier) ConnectionEstablished(socketID string, reconnected bool) {
	n.Notifier.ConnectionEstablished(socketID, reconnected)
	if !reconnected {
		return
	}
	go func() {
		if err := n.o.Rooms.Rejoin(context.Background()); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("rejoin after reconnect")
			n.Notifier.Error(err)
		}
	}()
}

func (n *notifier) RemoteStream(s *core.RemoteStream) {
	n.o.Rooms.AttachStream(s.Participant, s.ID())
	n.Notifier.RemoteStream(s)
}
