package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/hub"
	"github.com/chaincast/session/internal/protocol"
)

const codeUnknownEvent = "unknown_event"

func errUnknownEvent(ev protocol.Event) error {
	return &domain.AckError{Event: string(ev), Code: codeUnknownEvent}
}

func badPayload(ev protocol.Event, err error) error {
	return &domain.AckError{Event: string(ev), Code: protocol.CodeBadPayload, Message: err.Error()}
}

func (ctl *Controller) handlePing(sess *hub.Session, env protocol.Envelope) {
	if err := sess.Send(protocol.EventPong, env.ID, nil); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("pong dropped")
	}
}

// reply acks a request. Fire-and-forget frames (id 0) get an error event
// on failure instead.
func (ctl *Controller) reply(sess *hub.Session, env protocol.Envelope, data any, err error) {
	if env.ID == 0 {
		if err != nil {
			var ae *domain.AckError
			if errors.As(err, &ae) {
				ctl.sendError(sess, ae.Code, ae.Error())
				return
			}
			ctl.sendError(sess, "internal", err.Error())
		}
		return
	}

	ack := protocol.Ack{OK: err == nil}
	if err != nil {
		var ae *domain.AckError
		if errors.As(err, &ae) {
			ack.Code, ack.Message = ae.Code, ae.Message
		} else {
			ack.Code, ack.Message = "internal", err.Error()
		}
	} else if data != nil {
		raw, mErr := json.Marshal(data)
		if mErr != nil {
			log.Error().Err(mErr).Str("module", "signal").Msg("ack marshal")
			ack = protocol.Ack{OK: false, Code: "internal", Message: fmt.Sprintf("encode reply: %v", mErr)}
		} else {
			ack.Data = raw
		}
	}
	if sErr := sess.Send(protocol.EventAck, env.ID, ack); sErr != nil {
		log.Warn().Err(sErr).Str("module", "signal").Str("sid", string(sess.ID)).Msg("ack dropped")
	}
}

func (ctl *Controller) sendError(sess *hub.Session, code, msg string) {
	if err := sess.Send(protocol.EventError, 0, protocol.ErrorPayload{Code: code, Message: msg}); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("error push dropped")
	}
}
