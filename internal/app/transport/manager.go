// Package transport owns the single authenticated channel to the room server.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chaincast/session/internal/config"
	"github.com/chaincast/session/internal/core"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/protocol"
)

type Options struct {
	HandshakeTimeout  time.Duration
	AckTimeout        time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
}

func OptionsFrom(cfg config.ClientConfig) Options {
	return Options{
		HandshakeTimeout:  cfg.HandshakeTimeout,
		AckTimeout:        cfg.AckTimeout,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectBackoff:  cfg.ReconnectBackoff,
	}
}

type ackResult struct {
	ack protocol.Ack
	err error
}

// attempt is an in-flight Connect. Callers with the same token share it.
type attempt struct {
	token  string
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

func (a *attempt) finish(err error) {
	a.err = err
	close(a.done)
}

// Manager holds at most one live Conn. Every inbound frame is dispatched
// from that Conn's read goroutine, which acts as the event loop.
type Manager struct {
	dialer    core.Dialer
	opts      Options
	notify    core.Notifier
	listeners *core.Listeners
	nextID    atomic.Uint64

	mu      sync.Mutex
	state   domain.ConnState
	token   string
	conn    core.Conn
	attempt *attempt
	// stopLoop cancels a running reconnect loop.
	stopLoop context.CancelFunc
	// gen changes on every Connect and Disconnect; goroutines holding an
	// older value must not touch state.
	gen     uint64
	pending map[uint64]chan ackResult
}

func NewManager(d core.Dialer, opts Options, notify core.Notifier) *Manager {
	if notify == nil {
		notify = core.NopNotifier{}
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 6 * time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	return &Manager{
		dialer:    d,
		opts:      opts,
		notify:    notify,
		listeners: core.NewListeners(),
		state:     domain.Disconnected,
		pending:   make(map[uint64]chan ackResult),
	}
}

func (m *Manager) State() domain.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connected() bool { return m.State() == domain.Connected }

// Handshake returns the server handshake of the live connection.
func (m *Manager) Handshake() (core.Handshake, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return core.Handshake{}, false
	}
	return m.conn.Handshake(), true
}

// Replaces reports whether Connect(token) would close a channel, live or
// reconnecting, that was opened with another token.
func (m *Manager) Replaces(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt == nil && m.token != "" && m.token != token
}

// Connect opens the channel. It is idempotent for the same token: an open
// channel returns nil and an in-flight attempt is awaited.
func (m *Manager) Connect(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrEmptyToken
	}

	m.mu.Lock()
	if m.state == domain.Connected && m.token == token {
		m.mu.Unlock()
		return nil
	}
	if a := m.attempt; a != nil {
		m.mu.Unlock()
		if a.token != token {
			return domain.ErrConnectInProgress
		}
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	stale := m.resetLocked(domain.ErrNotConnected)
	m.gen++
	gen := m.gen
	actx, cancel := context.WithCancel(ctx)
	a := &attempt{token: token, done: make(chan struct{}), cancel: cancel}
	m.attempt = a
	m.state = domain.Connecting
	m.token = token
	m.mu.Unlock()
	defer cancel()

	if stale != nil {
		_ = stale.Close()
	}

	log.Info().Str("module", "transport").Msg("connecting")
	conn, err := m.dial(actx, token)

	m.mu.Lock()
	if m.gen != gen || m.attempt != a {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		a.finish(domain.ErrConnectAborted)
		return domain.ErrConnectAborted
	}
	m.attempt = nil
	if err != nil {
		m.state = domain.Disconnected
		m.token = ""
		m.mu.Unlock()
		log.Warn().Err(err).Str("module", "transport").Msg("connect failed")
		a.finish(err)
		return err
	}
	m.conn = conn
	m.state = domain.Connected
	m.mu.Unlock()

	go m.readLoop(gen, conn)
	a.finish(nil)
	m.notify.ConnectionEstablished(conn.Handshake().SocketID, false)
	return nil
}

// Disconnect closes the channel, aborts a pending connect or reconnect and
// drops every listener. It is a no-op when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == domain.Disconnected && m.conn == nil && m.attempt == nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	if a := m.attempt; a != nil {
		a.cancel()
		m.attempt = nil
	}
	conn := m.resetLocked(domain.ErrNotConnected)
	m.mu.Unlock()

	m.listeners.Clear()
	if conn != nil {
		_ = conn.Close()
	}
	log.Info().Str("module", "transport").Msg("disconnected")
}

// resetLocked detaches the live conn and returns it for closing.
func (m *Manager) resetLocked(pendingErr error) core.Conn {
	if m.stopLoop != nil {
		m.stopLoop()
		m.stopLoop = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = domain.Disconnected
	m.token = ""
	m.failPendingLocked(pendingErr)
	return conn
}

func (m *Manager) failPendingLocked(err error) {
	for id, ch := range m.pending {
		ch <- ackResult{err: err}
		delete(m.pending, id)
	}
}

// On registers h for ev, replacing any earlier handler.
func (m *Manager) On(ev protocol.Event, h core.Handler) {
	if m.listeners.On(ev, h) {
		log.Debug().Str("module", "transport").Str("event", string(ev)).Msg("handler replaced")
	}
}

func (m *Manager) Off(ev protocol.Event) { m.listeners.Off(ev) }

// Listeners reports how many events have a handler bound.
func (m *Manager) Listeners() int { return m.listeners.Len() }

// Emit sends a fire-and-forget event.
func (m *Manager) Emit(_ context.Context, ev protocol.Event, payload any) error {
	env, err := protocol.NewEnvelope(ev, 0, payload)
	if err != nil {
		return err
	}
	conn, err := m.live()
	if err != nil {
		return err
	}
	return conn.Send(env)
}

// Request sends ev and waits for the matching ack. A negative ack is
// returned as *domain.AckError.
func (m *Manager) Request(ctx context.Context, ev protocol.Event, payload any) (json.RawMessage, error) {
	id := m.nextID.Add(1)
	env, err := protocol.NewEnvelope(ev, id, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan ackResult, 1)
	m.mu.Lock()
	if m.conn == nil || m.state != domain.Connected {
		m.mu.Unlock()
		return nil, domain.ErrNotConnected
	}
	conn := m.conn
	m.pending[id] = ch
	m.mu.Unlock()

	if err := conn.Send(env); err != nil {
		m.dropPending(id)
		return nil, err
	}

	timer := time.NewTimer(m.opts.AckTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if !res.ack.OK {
			return nil, &domain.AckError{Event: string(ev), Code: res.ack.Code, Message: res.ack.Message}
		}
		return res.ack.Data, nil
	case <-ctx.Done():
		m.dropPending(id)
		return nil, ctx.Err()
	case <-timer.C:
		m.dropPending(id)
		return nil, fmt.Errorf("%s: no ack after %s", ev, m.opts.AckTimeout)
	}
}

func (m *Manager) dropPending(id uint64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func (m *Manager) live() (core.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil || m.state != domain.Connected {
		return nil, domain.ErrNotConnected
	}
	return m.conn, nil
}

// dial performs one attempt bounded by the handshake timeout.
func (m *Manager) dial(ctx context.Context, token string) (core.Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(hctx, token)
	if err == nil {
		return conn, nil
	}
	switch {
	case errors.Is(err, domain.ErrConnectionRejected):
		return nil, err
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectAborted, ctx.Err())
	case errors.Is(hctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %s", domain.ErrConnectionTimeout, m.opts.HandshakeTimeout)
	default:
		return nil, err
	}
}

func (m *Manager) readLoop(gen uint64, conn core.Conn) {
	for env := range conn.Inbound() {
		m.dispatch(env)
	}

	m.mu.Lock()
	if m.gen != gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.failPendingLocked(domain.ErrConnectionLost)
	token := m.token
	cause := conn.Err()
	switch {
	case cause == nil:
		cause = domain.ErrConnectionLost
	case !errors.Is(cause, domain.ErrConnectionLost):
		cause = fmt.Errorf("%w: %v", domain.ErrConnectionLost, cause)
	}
	if m.opts.ReconnectAttempts <= 0 {
		m.state = domain.Disconnected
		m.token = ""
		m.mu.Unlock()
		log.Warn().Err(cause).Str("module", "transport").Msg("connection lost")
		m.notify.ConnectionLost(cause)
		return
	}
	m.state = domain.Connecting
	lctx, cancel := context.WithCancel(context.Background())
	m.stopLoop = cancel
	m.mu.Unlock()

	log.Warn().Err(cause).Str("module", "transport").Msg("connection lost, reconnecting")
	m.notify.ConnectionLost(cause)
	m.reconnect(lctx, gen, token)
}

// reconnect retries with a fixed backoff. A rejected credential ends the
// loop at once; exhausting the attempts reports ErrReconnectExhausted.
func (m *Manager) reconnect(ctx context.Context, gen uint64, token string) {
	for i := 1; i <= m.opts.ReconnectAttempts; i++ {
		timer := time.NewTimer(m.opts.ReconnectBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := m.dial(ctx, token)

		m.mu.Lock()
		if m.gen != gen || ctx.Err() != nil {
			m.mu.Unlock()
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err == nil {
			m.conn = conn
			m.state = domain.Connected
			m.stopLoop = nil
			m.mu.Unlock()
			log.Info().Str("module", "transport").Int("attempt", i).Msg("reconnected")
			go m.readLoop(gen, conn)
			m.notify.ConnectionEstablished(conn.Handshake().SocketID, true)
			return
		}
		if errors.Is(err, domain.ErrConnectionRejected) {
			m.giveUpLocked()
			m.mu.Unlock()
			log.Warn().Err(err).Str("module", "transport").Msg("reconnect rejected")
			m.notify.ConnectionLost(err)
			return
		}
		m.mu.Unlock()
		log.Warn().Err(err).Str("module", "transport").Int("attempt", i).Msg("reconnect failed")
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.giveUpLocked()
	m.mu.Unlock()
	log.Error().Str("module", "transport").Int("attempts", m.opts.ReconnectAttempts).Msg("reconnect exhausted")
	m.notify.ConnectionLost(domain.ErrReconnectExhausted)
}

func (m *Manager) giveUpLocked() {
	m.state = domain.Disconnected
	m.token = ""
	m.stopLoop = nil
}

func (m *Manager) dispatch(env protocol.Envelope) {
	if env.Type == protocol.EventAck {
		m.resolve(env)
		return
	}
	if !m.listeners.Dispatch(env) {
		log.Debug().Str("module", "transport").Str("event", string(env.Type)).Msg("no handler")
	}
}

func (m *Manager) resolve(env protocol.Envelope) {
	var ack protocol.Ack
	if err := env.Decode(&ack); err != nil {
		log.Warn().Err(err).Str("module", "transport").Uint64("id", env.ID).Msg("bad ack")
		return
	}
	m.mu.Lock()
	ch, ok := m.pending[env.ID]
	delete(m.pending, env.ID)
	m.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "transport").Uint64("id", env.ID).Msg("late ack")
		return
	}
	ch <- ackResult{ack: ack}
}
