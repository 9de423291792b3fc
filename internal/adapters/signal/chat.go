package signal

import (
	"github.com/chaincast/session/internal/hub"
	"github.com/chaincast/session/internal/protocol"
)

func (ctl *Controller) handleStreamUpdate(sess *hub.Session, env protocol.Envelope) {
	var p protocol.StreamUpdate
	if err := env.Decode(&p); err != nil {
		ctl.reply(sess, env, nil, badPayload(env.Type, err))
		return
	}
	ctl.reply(sess, env, nil, ctl.Hub.UpdateStream(sess.ID, p))
}

func (ctl *Controller) handleMessage(sess *hub.Session, env protocol.Envelope) {
	var p protocol.SendMessage
	if err := env.Decode(&p); err != nil {
		ctl.reply(sess, env, nil, badPayload(env.Type, err))
		return
	}
	ctl.reply(sess, env, nil, ctl.Hub.SendMessage(sess.ID, p))
}

func (ctl *Controller) handleReaction(sess *hub.Session, env protocol.Envelope) {
	var p protocol.AddReaction
	if err := env.Decode(&p); err != nil {
		ctl.reply(sess, env, nil, badPayload(env.Type, err))
		return
	}
	ctl.reply(sess, env, nil, ctl.Hub.AddReaction(sess.ID, p))
}
