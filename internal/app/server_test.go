package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

func TestFreshConnectWelcome(t *testing.T) {
	w := newWorld(t)

	id := w.connectPlayer(t, "PW1", "", "")
	assert.NotEmpty(t, id)

	room, ok := w.reg.RoomOf(id)
	require.True(t, ok)
	assert.Equal(t, waitingRoom, room)

	got := w.playerTransport.sentTo("PW1")
	require.Len(t, got, 1)
	hi := got[0]
	assert.Equal(t, domain.TargetHI, hi.Target)
	assert.Equal(t, string(id), hi.To.One)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(hi.Data, &payload))
	assert.Equal(t, string(id), payload["id"])
	assert.Equal(t, "PW1", payload["sid"])
	assert.Equal(t, string(testChannel), payload["channel"])
	assert.Equal(t, false, payload["admin"])
}

func TestAuthEnabledWithoutCookieIsDisposed(t *testing.T) {
	w := newWorld(t, func(player, admin *ServerOptions) {
		player.AuthEnabled = true
	})

	w.player.Router().Register("PW1", w.playerTransport)
	_, err := w.player.Connect(core.Handshake{
		ConnID:    "PW1",
		Transport: w.playerTransport,
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	got := w.playerTransport.sentTo("PW1")
	require.Len(t, got, 1)
	assert.Equal(t, domain.TargetHI, got[0].Target)
	assert.Equal(t, domain.UnauthClientID, got[0].To.One)
	assert.Contains(t, string(got[0].Data), "/denied")
}

func TestAuthEnabledAcceptsValidSessionToken(t *testing.T) {
	w := newWorld(t, func(player, admin *ServerOptions) {
		player.AuthEnabled = true
	})
	token, err := w.player.Codec().Sign(testSession, "P1")
	require.NoError(t, err)

	w.player.Router().Register("PW1", w.playerTransport)
	id, err := w.player.Connect(core.Handshake{
		ConnID:       "PW1",
		Transport:    w.playerTransport,
		SessionToken: token,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ClientID("P1"), id)
}

func TestReconnectPreservesIdentity(t *testing.T) {
	w := newWorld(t)

	id := w.connectPlayer(t, "PW1", "P1", lobbyRoom)
	require.Equal(t, domain.ClientID("P1"), id)
	require.NoError(t, w.player.Disconnect("PW1"))

	rec, ok := w.reg.Get("P1")
	require.True(t, ok)
	assert.True(t, rec.Disconnected)

	got := w.connectPlayer(t, "PW2", "P1", "")
	assert.Equal(t, domain.ClientID("P1"), got)

	rec, _ = w.reg.Get("P1")
	assert.Equal(t, "PW2", rec.SID)
	assert.True(t, rec.Connected)

	room, ok := w.reg.RoomOf("P1")
	require.True(t, ok)
	assert.Equal(t, lobbyRoom, room, "reconnection returns the client to its last room")
	assert.Contains(t, w.dir.Members(lobbyRoom), domain.ClientID("P1"))
}

func TestReconnectAfterRoomVanished(t *testing.T) {
	w := newWorld(t)

	w.connectPlayer(t, "PW1", "P1", lobbyRoom)
	require.NoError(t, w.player.Disconnect("PW1"))
	w.dir.DropRoom(lobbyRoom)
	w.playerTransport.reset()

	got := w.connectPlayer(t, "PW2", "P1", "")
	assert.Equal(t, domain.ClientID("P1"), got)

	room, ok := w.reg.RoomOf("P1")
	require.True(t, ok)
	assert.Equal(t, waitingRoom, room, "fallback to the initial room")

	sent := w.playerTransport.sentTo("PW2")
	require.Len(t, sent, 2)
	assert.Equal(t, domain.TargetAlert, sent[0].Target)
	assert.Equal(t, domain.TargetHI, sent[1].Target)
}

func TestReconnectTearsDownStaleRegistration(t *testing.T) {
	w := newWorld(t)

	w.connectPlayer(t, "PW1", "P1", lobbyRoom)
	// No disconnect: the old line died without the server noticing.
	got := w.connectPlayer(t, "PW2", "P1", "")
	assert.Equal(t, domain.ClientID("P1"), got)

	assert.Contains(t, w.playerTransport.disconnected, "PW1")
	rec, _ := w.reg.Get("P1")
	assert.Equal(t, "PW2", rec.SID)
	assert.True(t, rec.Connected)
}

func TestRepeatDisconnectIsTolerated(t *testing.T) {
	w := newWorld(t)

	w.connectPlayer(t, "PW1", "P1", "")
	require.NoError(t, w.player.Disconnect("PW1"))

	err := w.player.Disconnect("PW1")
	assert.ErrorIs(t, err, core.ErrUnknownConnection)
}

func TestDisconnectSnapshotsStage(t *testing.T) {
	w := newWorld(t)

	w.connectPlayer(t, "PW1", "P1", "")
	require.True(t, w.reg.Update("P1", func(rec *domain.ClientRecord) {
		rec.Stage = "3.1.1"
		rec.StageLevel = 2
	}))

	require.NoError(t, w.player.Disconnect("PW1"))

	rec, _ := w.reg.Get("P1")
	assert.Equal(t, "3.1.1", rec.DisconnectedStage)
	assert.Equal(t, 2, rec.DisconnectedStageLevel)
	assert.NotContains(t, w.dir.Members(waitingRoom), domain.ClientID("P1"))
}

func TestLifecycleEvents(t *testing.T) {
	w := newWorld(t)

	var keys []string
	for _, key := range []string{core.EventConnecting, core.EventReconnecting, core.EventDisconnect} {
		key := key
		w.player.Events().On(key, func(ev core.Event) {
			keys = append(keys, key)
		})
	}

	w.connectPlayer(t, "PW1", "P1", "")
	require.NoError(t, w.player.Disconnect("PW1"))
	w.connectPlayer(t, "PW2", "P1", "")

	assert.Equal(t, []string{core.EventConnecting, core.EventDisconnect, core.EventReconnecting}, keys)
}

type rejectAll struct{}

func (rejectAll) Authorize(core.HandshakeInfo) bool { return false }

type badGenerator struct{}

func (badGenerator) GenerateClientID(core.HandshakeInfo) (domain.ClientID, error) {
	return "", errors.New("backend down")
}

type rogueDecorator struct{}

func (rogueDecorator) Decorate(rec *domain.ClientRecord, _ core.HandshakeInfo) {
	rec.Custom["treatment"] = "red"
	rec.Admin = true
}

func TestConnectHooks(t *testing.T) {
	t.Run("authorizer rejects", func(t *testing.T) {
		w := newWorld(t, func(player, admin *ServerOptions) {
			player.Authorize = rejectAll{}
		})
		w.player.Router().Register("PW1", w.playerTransport)
		_, err := w.player.Connect(core.Handshake{ConnID: "PW1", Transport: w.playerTransport})
		assert.ErrorIs(t, err, core.ErrUnauthorized)
	})

	t.Run("generator error rejects", func(t *testing.T) {
		w := newWorld(t, func(player, admin *ServerOptions) {
			player.GenerateID = badGenerator{}
		})
		w.player.Router().Register("PW1", w.playerTransport)
		_, err := w.player.Connect(core.Handshake{ConnID: "PW1", Transport: w.playerTransport})
		assert.ErrorIs(t, err, core.ErrInvalidClientID)
	})

	t.Run("decorator may not touch fixed fields", func(t *testing.T) {
		w := newWorld(t, func(player, admin *ServerOptions) {
			player.Decorate = rogueDecorator{}
		})
		w.player.Router().Register("PW1", w.playerTransport)
		_, err := w.player.Connect(core.Handshake{ConnID: "PW1", Transport: w.playerTransport})
		assert.ErrorIs(t, err, core.ErrDecoratorViolation)
	})
}

func TestConnectFailsWithoutChannel(t *testing.T) {
	w := newWorld(t, func(player, admin *ServerOptions) {
		player.Channel = "ghost"
	})

	w.player.Router().Register("PW1", w.playerTransport)
	_, err := w.player.Connect(core.Handshake{ConnID: "PW1", Transport: w.playerTransport})
	assert.ErrorIs(t, err, core.ErrChannelNotFound)

	got := w.playerTransport.sentTo("PW1")
	require.Len(t, got, 1, "the line still gets its one parseable notification")
	assert.Equal(t, domain.TargetHI, got[0].Target)
}

func TestDeliveryDuringReconnectLoop(t *testing.T) {
	w := newWorld(t)
	w.connectPlayer(t, "PW1", "P1", lobbyRoom)
	w.connectPlayer(t, "PW2", "P2", lobbyRoom)

	// One goroutine cycles P2's line while another keeps sending to
	// it. Deliveries may miss during the switchover; they must never
	// observe a record mid-rewrite.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			connID := fmt.Sprintf("PW2-%d", i)
			w.player.Router().Register(connID, w.playerTransport)
			if _, err := w.player.Connect(core.Handshake{
				ConnID:     connID,
				Transport:  w.playerTransport,
				ProposedID: "P2",
			}); err != nil {
				return
			}
		}
	}()
	for i := 0; i < 200; i++ {
		env := domain.NewEnvelope(domain.ActionSay, domain.TargetTXT, "P1", domain.To("P2"))
		w.player.Message(env)
	}
	wg.Wait()

	rec, ok := w.reg.Get("P2")
	require.True(t, ok)
	assert.Equal(t, "PW2-199", rec.SID)
	assert.True(t, rec.Connected)
}

func TestEndpointMismatchIsRejected(t *testing.T) {
	w := newWorld(t)

	w.connectPlayer(t, "PW1", "P1", "")
	w.admin.Router().Register("AW1", w.adminTransport)
	_, err := w.admin.Connect(core.Handshake{
		ConnID:     "AW1",
		Transport:  w.adminTransport,
		ProposedID: "P1",
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}
