package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

// Dialer connects to the room server, presenting the token as a bearer
// credential, and waits for the connected handshake.
type Dialer struct {
	URL        string
	PingPeriod time.Duration
	ws         *websocket.Dialer
}

var _ core.Dialer = (*Dialer)(nil)

func NewDialer(url string, pingPeriod time.Duration) *Dialer {
	return &Dialer{
		URL:        url,
		PingPeriod: pingPeriod,
		ws:         &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
	}
}

func (d *Dialer) Dial(ctx context.Context, token string) (core.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := d.ws.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", domain.ErrConnectionRejected, resp.StatusCode)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	hs, err := awaitHandshake(ctx, ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	log.Info().Str("module", "adapters.ws").Str("sid", hs.SocketID).Str("user", string(hs.UserID)).Msg("connected")

	c := newConn(ws, hs, d.PingPeriod)
	c.start()
	return c, nil
}

// awaitHandshake reads until connected or connect_error. Other frames sent
// before the handshake are dropped.
func awaitHandshake(ctx context.Context, ws *websocket.Conn) (core.Handshake, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return core.Handshake{}, ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation {
				return core.Handshake{}, fmt.Errorf("%w: %s", domain.ErrConnectionRejected, ce.Text)
			}
			return core.Handshake{}, fmt.Errorf("handshake: %w", err)
		}
		env, err := protocol.Parse(data)
		if err != nil {
			continue
		}
		switch env.Type {
		case protocol.EventConnected:
			var p protocol.Connected
			if err := env.Decode(&p); err != nil {
				return core.Handshake{}, fmt.Errorf("handshake: %w", err)
			}
			return core.Handshake{SocketID: p.SocketID, UserID: p.UserID, Name: p.Name}, nil
		case protocol.EventConnectError:
			var p protocol.ConnectError
			_ = env.Decode(&p)
			return core.Handshake{}, fmt.Errorf("%w: %s", domain.ErrConnectionRejected, p.Message)
		}
	}
}
