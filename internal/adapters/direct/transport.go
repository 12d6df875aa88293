// Package direct is the in-process transport for co-located bot and
// game-logic clients: no sockets, envelopes are handed over as values.
package direct

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/app"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

// Receiver consumes envelopes delivered to a direct client. It runs on
// the sender's goroutine and must not block.
type Receiver func(env domain.Envelope)

type client struct {
	id   domain.ClientID
	recv Receiver
}

// Transport implements core.Transport for in-process clients. Direct
// connections skip the channel-authentication gate: the code on the
// other side is trusted by construction.
type Transport struct {
	endpoint string
	handler  core.ConnectionHandler
	router   *app.Router
	logger   zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*client
}

func New(endpoint string, handler core.ConnectionHandler, router *app.Router) *Transport {
	return &Transport{
		endpoint: endpoint,
		handler:  handler,
		router:   router,
		logger:   log.With().Str("module", "adapters.direct").Str("endpoint", endpoint).Logger(),
		conns:    make(map[string]*client),
	}
}

func (t *Transport) Kind() string { return "D" }

// Connect registers an in-process client and runs the handshake.
// Returns the assigned client id and the connection id.
func (t *Transport) Connect(clientType string, room domain.RoomName, proposed domain.ClientID, recv Receiver) (domain.ClientID, string, error) {
	connID := t.endpoint + t.Kind() + uuid.NewString()

	t.mu.Lock()
	t.conns[connID] = &client{recv: recv}
	t.mu.Unlock()
	t.router.Register(connID, t)

	id, err := t.handler.Connect(core.Handshake{
		ConnID:     connID,
		Transport:  t,
		Direct:     true,
		Room:       room,
		ClientType: clientType,
		ProposedID: proposed,
	})
	if err != nil {
		t.mu.Lock()
		delete(t.conns, connID)
		t.mu.Unlock()
		t.router.Unregister(connID)
		return "", "", err
	}

	t.mu.Lock()
	t.conns[connID].id = id
	t.mu.Unlock()
	return id, connID, nil
}

// Inject feeds an envelope from the direct client into the server,
// with the same spoof check the networked transport applies.
func (t *Transport) Inject(connID string, env domain.Envelope) error {
	t.mu.RLock()
	cl, ok := t.conns[connID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("conn %q: %w", connID, core.ErrUnknownConnection)
	}
	if env.From != string(cl.id) {
		t.logger.Warn().Str("conn", connID).Str("claimed", env.From).Str("bound", string(cl.id)).Msg("spoofed sender dropped")
		return core.ErrSpoofedSender
	}
	t.handler.Message(env)
	return nil
}

func (t *Transport) Send(env domain.Envelope, connID string) error {
	t.mu.RLock()
	cl, ok := t.conns[connID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("conn %q: %w", connID, core.ErrUnknownConnection)
	}
	if cl.recv != nil {
		cl.recv(env)
	}
	return nil
}

func (t *Transport) SendAll(env domain.Envelope, exceptConnID string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for connID, cl := range t.conns {
		if connID == exceptConnID || cl.recv == nil {
			continue
		}
		cl.recv(env)
	}
	return nil
}

func (t *Transport) Disconnect(connID string) {
	t.mu.Lock()
	_, ok := t.conns[connID]
	delete(t.conns, connID)
	t.mu.Unlock()
	if !ok {
		return
	}
	if err := t.handler.Disconnect(connID); err != nil && !errors.Is(err, core.ErrUnknownConnection) {
		t.logger.Warn().Err(err).Str("conn", connID).Msg("disconnect")
	}
}
