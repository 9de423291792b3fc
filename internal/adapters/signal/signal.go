// Package signal serves the room server side of the real-time channel.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/config"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/hub"
	"github.com/chaincast/session/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

type Controller struct {
	Hub        *hub.Hub
	Limiter    *JoinLimiter
	pingPeriod time.Duration
	readLimit  int64
	upgrader   websocket.Upgrader
}

func NewController(h *hub.Hub, cfg config.ServerConfig) *Controller {
	var limiter *JoinLimiter
	if cfg.JoinRateLimit > 0 || cfg.RoomJoinRateLimit > 0 {
		limiter = NewJoinLimiter(cfg.JoinRateLimit, cfg.RoomJoinRateLimit, cfg.JoinRateWindow)
	}
	return &Controller{
		Hub:        h,
		Limiter:    limiter,
		pingPeriod: cfg.PingPeriod,
		readLimit:  cfg.ReadLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsConn is the hub.Outbox of one socket.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

var _ hub.Outbox = (*wsConn)(nil)

func (c *wsConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return hub.ErrOutboxClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Serve upgrades an authenticated request and runs the socket until it
// closes. It returns once the pumps are started.
func (ctl *Controller) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, user domain.User) error {
	ws, err := ctl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return err
	}
	sid := hub.SessionID(uuid.NewString())

	if err := ctx.Err(); err != nil {
		ctl.refuse(ws, "shutting_down", "server is shutting down")
		return err
	}

	conn := &wsConn{conn: ws, send: make(chan []byte, sendBuffer)}
	sess := hub.NewSession(sid, user, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Connect(sess, cancel)

	if err := sess.Send(protocol.EventConnected, 0, protocol.Connected{
		SocketID: string(sid),
		UserID:   user.ID,
		Name:     user.Username,
	}); err != nil {
		cancel()
		ctl.Hub.Disconnect(context.Background(), sid)
		conn.Close()
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sess, conn)
	return nil
}

// refuse sends connect_error and closes with a policy violation.
func (ctl *Controller) refuse(ws *websocket.Conn, code, msg string) {
	env, err := protocol.NewEnvelope(protocol.EventConnectError, 0, protocol.ConnectError{Code: code, Message: msg})
	if err == nil {
		if frame, err := protocol.Encode(env); err == nil {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.TextMessage, frame)
		}
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(writeWait))
	_ = ws.Close()
}
