package core

import (
	"sync"

	"github.com/dkeye/Stage/internal/domain"
)

// Lifecycle event keys. Message events use the envelope's
// "<action>.<target>" key instead.
const (
	EventConnecting   = "connecting"
	EventReconnecting = "re-connecting"
	EventDisconnect   = "disconnect"
)

// WildcardKey receives every emitted event.
const WildcardKey = "*"

// Event is what listeners observe. Message events carry Env plus the
// sender's placement; lifecycle events carry Client and Room.
type Event struct {
	Key     string
	Env     domain.Envelope
	Room    domain.RoomName
	Channel domain.ChannelName
	SID     string
	Client  domain.ClientRecord

	// Dirty marks a resumed identity whose stale game state should be
	// stopped before reuse (set during authenticated handshakes).
	Dirty bool
}

type Handler func(Event)

// Emitter is the internal pub/sub used between the validation pipeline
// and game logic. Handlers run synchronously on the emitting
// goroutine, in registration order.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]Handler)}
}

func (e *Emitter) On(key string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[key] = append(e.handlers[key], h)
}

func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	hs := append([]Handler(nil), e.handlers[ev.Key]...)
	hs = append(hs, e.handlers[WildcardKey]...)
	e.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}
