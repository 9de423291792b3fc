package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/hub"
	"github.com/chaincast/session/internal/protocol"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	var ping <-chan time.Time
	if ctl.pingPeriod > 0 {
		t := time.NewTicker(ctl.pingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			c.Close()
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sess *hub.Session, c *wsConn) {
	sid := sess.ID
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		ctl.Hub.Disconnect(context.Background(), sid)
		c.Close()
	}()

	if ctl.readLimit > 0 {
		c.conn.SetReadLimit(ctl.readLimit)
	}
	if ctl.pingPeriod > 0 {
		pongWait := ctl.pingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		ctl.handleSignal(ctx, sess, data)
	}
}

func (ctl *Controller) handleSignal(ctx context.Context, sess *hub.Session, data []byte) {
	env, err := protocol.Parse(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(sess, protocol.CodeBadPayload, err.Error())
		return
	}

	switch env.Type {
	case protocol.EventJoinRoom:
		ctl.handleJoin(ctx, sess, env)
	case protocol.EventLeaveRoom:
		ctl.handleLeave(ctx, sess, env)
	case protocol.EventStreamUpdate:
		ctl.handleStreamUpdate(sess, env)
	case protocol.EventSendMessage:
		ctl.handleMessage(sess, env)
	case protocol.EventAddReaction:
		ctl.handleReaction(sess, env)
	case protocol.EventPing:
		ctl.handlePing(sess, env)
	case protocol.EventOffer, protocol.EventAnswer, protocol.EventCandidate:
		ctl.handleRelay(sess, env)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
		ctl.reply(sess, env, nil, errUnknownEvent(env.Type))
	}
}
