package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/hub"
	"github.com/chaincast/session/internal/protocol"
)

// handleRelay forwards offers, answers and candidates untouched. The
// server never terminates media.
func (ctl *Controller) handleRelay(sess *hub.Session, env protocol.Envelope) {
	var p protocol.Signal
	if err := env.Decode(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(env.Type)).Msg("bad relay payload")
		ctl.reply(sess, env, nil, badPayload(env.Type, err))
		return
	}
	if err := ctl.Hub.Relay(sess.ID, env.Type, p); err != nil {
		// the target usually just left; the sender learns via participant_left
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sess.ID)).Str("to", string(p.To)).Msg("relay failed")
		if env.ID != 0 {
			ctl.reply(sess, env, nil, err)
		}
		return
	}
	ctl.reply(sess, env, nil, nil)
}
