package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/hub"
	"github.com/chaincast/session/internal/protocol"
)

func (ctl *Controller) handleJoin(ctx context.Context, sess *hub.Session, env protocol.Envelope) {
	var p protocol.JoinRoom
	if err := env.Decode(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.reply(sess, env, nil, badPayload(env.Type, err))
		return
	}
	if ctl.Limiter != nil {
		if retry, ok := ctl.Limiter.Allow(sess.User.ID, p.Room); !ok {
			retry = retry.Round(time.Second)
			log.Warn().Str("module", "signal").Str("user", string(sess.User.ID)).Str("room", string(p.Room)).Dur("retry", retry).Msg("join rate limited")
			ctl.reply(sess, env, nil, &domain.AckError{
				Event:   string(env.Type),
				Code:    protocol.CodeRateLimited,
				Message: fmt.Sprintf("too many joins, retry in %s", retry),
			})
			return
		}
	}

	log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Str("room", string(p.Room)).Msg("join")
	res, err := ctl.Hub.Join(ctx, sess.ID, p)
	if err != nil {
		ctl.reply(sess, env, nil, err)
		return
	}
	ctl.reply(sess, env, res.Reply, nil)
	if res.Started {
		_ = sess.Send(protocol.EventRoomStarted, 0, protocol.RoomEvent{Room: res.Reply.Room})
	}
}

// handleLeave exits the current room; the socket stays open.
func (ctl *Controller) handleLeave(ctx context.Context, sess *hub.Session, env protocol.Envelope) {
	var p protocol.LeaveRoom
	if len(env.Data) > 0 {
		if err := env.Decode(&p); err != nil {
			ctl.reply(sess, env, nil, badPayload(env.Type, err))
			return
		}
	}
	log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Str("room", string(p.Room)).Msg("leave")
	err := ctl.Hub.Leave(ctx, sess.ID, p.Room)
	if err != nil && env.ID == 0 {
		// late leaves after a server-side removal are expected
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sess.ID)).Msg("leave ignored")
		return
	}
	ctl.reply(sess, env, nil, err)
}
