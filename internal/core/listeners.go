package core

import (
	"sync"

	"github.com/chaincast/session/internal/protocol"
)

type Handler func(protocol.Envelope)

// Listeners is a registration table keyed by event name. Registering a
// handler for a name replaces the previous one, so repeated binding never
// stacks duplicate handlers.
type Listeners struct {
	mu       sync.RWMutex
	handlers map[protocol.Event]Handler
}

func NewListeners() *Listeners {
	return &Listeners{handlers: make(map[protocol.Event]Handler)}
}

// On registers h for ev and reports whether an older handler was replaced.
func (l *Listeners) On(ev protocol.Event, h Handler) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, replaced := l.handlers[ev]
	l.handlers[ev] = h
	return replaced
}

func (l *Listeners) Off(ev protocol.Event) {
	l.mu.Lock()
	delete(l.handlers, ev)
	l.mu.Unlock()
}

func (l *Listeners) Clear() {
	l.mu.Lock()
	l.handlers = make(map[protocol.Event]Handler)
	l.mu.Unlock()
}

func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

// Dispatch runs the handler for env.Type outside the table lock.
// It reports whether a handler was found.
func (l *Listeners) Dispatch(env protocol.Envelope) bool {
	l.mu.RLock()
	h, ok := l.handlers[env.Type]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	h(env)
	return true
}
