// Package coretest provides in-memory fakes of the core interfaces.
package coretest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

// Conn is a core.Conn backed by channels. Push feeds inbound frames and
// Drop simulates the server going away.
type Conn struct {
	hs core.Handshake
	in chan protocol.Envelope

	// OnSend, when set, is called after every Send outside the lock.
	OnSend func(c *Conn, env protocol.Envelope)

	mu     sync.Mutex
	sent   []protocol.Envelope
	err    error
	closed bool
}

var _ core.Conn = (*Conn)(nil)

func NewConn(socketID string, user domain.UserID) *Conn {
	return &Conn{
		hs: core.Handshake{SocketID: socketID, UserID: user, Name: string(user)},
		in: make(chan protocol.Envelope, 256),
	}
}

func (c *Conn) Handshake() core.Handshake { return c.hs }

func (c *Conn) Inbound() <-chan protocol.Envelope { return c.in }

func (c *Conn) Send(env protocol.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	c.sent = append(c.sent, env)
	hook := c.OnSend
	c.mu.Unlock()
	if hook != nil {
		hook(c, env)
	}
	return nil
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.shut(nil)
	return nil
}

// Drop ends the connection as if the remote side failed.
func (c *Conn) Drop(err error) { c.shut(err) }

func (c *Conn) shut(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.in)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Push delivers env as if the server sent it. Ignored after close.
func (c *Conn) Push(env protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.in <- env
}

// PushEvent wraps payload in an envelope and pushes it.
func (c *Conn) PushEvent(ev protocol.Event, payload any) {
	env, err := protocol.NewEnvelope(ev, 0, payload)
	if err != nil {
		panic(err)
	}
	c.Push(env)
}

// Ack pushes an acknowledgement for request id.
func (c *Conn) Ack(id uint64, ack protocol.Ack) {
	env, err := protocol.NewEnvelope(protocol.EventAck, id, ack)
	if err != nil {
		panic(err)
	}
	c.Push(env)
}

func (c *Conn) Sent() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Envelope(nil), c.sent...)
}

// SentOf returns the sent envelopes of one event type.
func (c *Conn) SentOf(ev protocol.Event) []protocol.Envelope {
	var out []protocol.Envelope
	for _, env := range c.Sent() {
		if env.Type == ev {
			out = append(out, env)
		}
	}
	return out
}

// AutoAck acknowledges every request positively with the value returned by
// reply, or with no data when reply is nil.
func AutoAck(reply func(env protocol.Envelope) any) func(*Conn, protocol.Envelope) {
	return func(c *Conn, env protocol.Envelope) {
		if env.ID == 0 {
			return
		}
		ack := protocol.Ack{OK: true}
		if reply != nil {
			if v := reply(env); v != nil {
				if a, ok := v.(protocol.Ack); ok {
					ack = a
				} else {
					raw, err := json.Marshal(v)
					if err != nil {
						panic(err)
					}
					ack.Data = raw
				}
			}
		}
		c.Ack(env.ID, ack)
	}
}

// DialFunc is called for every Dial with the 1-based attempt number.
type DialFunc func(ctx context.Context, token string, attempt int) (core.Conn, error)

// Dialer is a scripted core.Dialer.
type Dialer struct {
	Fn DialFunc

	mu     sync.Mutex
	calls  int
	tokens []string
}

var _ core.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, token string) (core.Conn, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.tokens = append(d.tokens, token)
	d.mu.Unlock()
	return d.Fn(ctx, token, n)
}

func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *Dialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

// Hang waits for ctx and returns its error.
func Hang(ctx context.Context, _ string, _ int) (core.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
