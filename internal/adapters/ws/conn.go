// Package ws is the WebSocket channel to the room server.
package ws

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait    = 5 * time.Second
	sendBuffer   = 64
	inboundQueue = 64
)

// conn implements core.Conn over one gorilla connection.
// readPump owns inbound and is the only goroutine that closes it. writePump
// owns the socket: it sends the close frame and then closes the socket.
type conn struct {
	ws         *websocket.Conn
	hs         core.Handshake
	pingPeriod time.Duration

	send    chan []byte
	inbound chan protocol.Envelope
	done    chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

var _ core.Conn = (*conn)(nil)

func newConn(ws *websocket.Conn, hs core.Handshake, pingPeriod time.Duration) *conn {
	return &conn{
		ws:         ws,
		hs:         hs,
		pingPeriod: pingPeriod,
		send:       make(chan []byte, sendBuffer),
		inbound:    make(chan protocol.Envelope, inboundQueue),
		done:       make(chan struct{}),
	}
}

func (c *conn) start() {
	if c.pingPeriod > 0 {
		pongWait := c.pingPeriod * 2
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	} else {
		_ = c.ws.SetReadDeadline(time.Time{})
	}
	go c.writePump()
	go c.readPump()
}

func (c *conn) Handshake() core.Handshake { return c.hs }

func (c *conn) Inbound() <-chan protocol.Envelope { return c.inbound }

func (c *conn) Send(env protocol.Envelope) error {
	b, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return domain.ErrNotConnected
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return domain.ErrNotConnected
	default:
		return fmt.Errorf("send %s: %w", env.Type, ErrBackpressure)
	}
}

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *conn) Close() error {
	c.closeWith(nil)
	return nil
}

func (c *conn) closeWith(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *conn) readPump() {
	defer close(c.inbound)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				log.Debug().Str("module", "adapters.ws").Str("sid", c.hs.SocketID).Msg("readPump closed locally")
			default:
				log.Warn().Err(err).Str("module", "adapters.ws").Str("sid", c.hs.SocketID).Msg("readPump read error")
				c.closeWith(fmt.Errorf("%w: %v", domain.ErrConnectionLost, err))
			}
			return
		}
		env, err := protocol.Parse(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.ws").Msg("dropping frame")
			continue
		}
		select {
		case c.inbound <- env:
		case <-c.done:
			return
		}
	}
}

func (c *conn) writePump() {
	defer func() { _ = c.ws.Close() }()
	var tick <-chan time.Time
	if c.pingPeriod > 0 {
		t := time.NewTicker(c.pingPeriod)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case b := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.closeWith(fmt.Errorf("%w: %v", domain.ErrConnectionLost, err))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				c.closeWith(fmt.Errorf("%w: %v", domain.ErrConnectionLost, err))
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.closeWith(fmt.Errorf("%w: ping: %v", domain.ErrConnectionLost, err))
				return
			}
		}
	}
}
