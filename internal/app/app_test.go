package app

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

const (
	testChannel = domain.ChannelName("main")
	testSession = "s1"

	waitingRoom = domain.RoomName("waiting")
	garageRoom  = domain.RoomName("garage")
	lobbyRoom   = domain.RoomName("lobby")
)

type sentEnvelope struct {
	env    domain.Envelope
	connID string
}

// fakeTransport records every send. When handler is set, Disconnect
// behaves like a real transport and notifies the server.
type fakeTransport struct {
	mu           sync.Mutex
	handler      core.ConnectionHandler
	sent         []sentEnvelope
	disconnected []string
}

func (f *fakeTransport) Kind() string { return "W" }

func (f *fakeTransport) Send(env domain.Envelope, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEnvelope{env: env, connID: connID})
	return nil
}

func (f *fakeTransport) SendAll(env domain.Envelope, exceptConnID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEnvelope{env: env, connID: "*"})
	return nil
}

func (f *fakeTransport) Disconnect(connID string) {
	f.mu.Lock()
	f.disconnected = append(f.disconnected, connID)
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		_ = h.Disconnect(connID)
	}
}

func (f *fakeTransport) sentTo(connID string) []domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Envelope
	for _, s := range f.sent {
		if s.connID == connID {
			out = append(out, s.env)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type world struct {
	reg *Registry
	dir *RoomDirectory

	player *Server
	admin  *Server

	playerTransport *fakeTransport
	adminTransport  *fakeTransport
}

type worldOption func(player, admin *ServerOptions)

func newWorld(t *testing.T, opts ...worldOption) *world {
	t.Helper()

	dir := NewRoomDirectory()
	dir.AddChannel(domain.Channel{Name: testChannel, Session: testSession})
	for _, room := range []domain.RoomName{waitingRoom, garageRoom, lobbyRoom} {
		require.NoError(t, dir.AddRoom(domain.Room{Name: room, Channel: testChannel}))
	}

	reg := NewRegistry()
	codec := NewTokenCodec("test-secret", time.Hour)

	playerOpts := ServerOptions{
		Name:            "player",
		Policy:          PlayerPolicy(),
		Channel:         testChannel,
		Codec:           codec,
		Reconnect:       true,
		AccessDeniedURL: "/denied",
		DefaultRoom:     waitingRoom,
	}
	adminOpts := ServerOptions{
		Name:            "admin",
		Policy:          AdminPolicy(),
		Channel:         testChannel,
		Codec:           codec,
		Reconnect:       true,
		AccessDeniedURL: "/denied",
		DefaultRoom:     garageRoom,
	}
	for _, o := range opts {
		o(&playerOpts, &adminOpts)
	}

	w := &world{
		reg: reg,
		dir: dir,
		player: NewServer(playerOpts, reg, dir,
			NewRouter("player", reg, dir), core.NewEmitter()),
		admin: NewServer(adminOpts, reg, dir,
			NewRouter("admin", reg, dir), core.NewEmitter()),
		playerTransport: &fakeTransport{},
		adminTransport:  &fakeTransport{},
	}
	w.admin.Pair(w.player)
	w.playerTransport.handler = w.player
	w.adminTransport.handler = w.admin
	return w
}

// connect registers the connection like a transport would and runs the
// handshake.
func (w *world) connect(t *testing.T, s *Server, tr *fakeTransport, connID string, proposed domain.ClientID, room domain.RoomName) domain.ClientID {
	t.Helper()
	s.Router().Register(connID, tr)
	id, err := s.Connect(core.Handshake{
		ConnID:     connID,
		Transport:  tr,
		Room:       room,
		ProposedID: proposed,
	})
	require.NoError(t, err)
	return id
}

func (w *world) connectPlayer(t *testing.T, connID string, proposed domain.ClientID, room domain.RoomName) domain.ClientID {
	return w.connect(t, w.player, w.playerTransport, connID, proposed, room)
}

func (w *world) connectAdmin(t *testing.T, connID string, proposed domain.ClientID, room domain.RoomName) domain.ClientID {
	return w.connect(t, w.admin, w.adminTransport, connID, proposed, room)
}
