package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

func TestSendToClientResolvesAliases(t *testing.T) {
	w := newWorld(t)
	w.connectPlayer(t, "PW1", "P1", lobbyRoom)
	w.connectPlayer(t, "PW2", "P2", garageRoom)
	w.playerTransport.reset()

	// Same alias in two rooms; the room hint picks the right one.
	w.reg.RegisterAlias("dealer", "P1", lobbyRoom)
	w.reg.RegisterAlias("dealer", "P2", garageRoom)

	env := domain.NewEnvelope(domain.ActionSay, domain.TargetTXT, "SERVER", domain.To("dealer"))
	require.NoError(t, w.player.Router().SendToClient(env, "dealer", garageRoom, nil))

	assert.Empty(t, w.playerTransport.sentTo("PW1"))
	assert.Len(t, w.playerTransport.sentTo("PW2"), 1)
}

func TestSendToClientErrors(t *testing.T) {
	w := newWorld(t)
	w.connectPlayer(t, "PW1", "P1", lobbyRoom)
	env := domain.NewEnvelope(domain.ActionSay, domain.TargetTXT, "SERVER", domain.To("nobody"))

	err := w.player.Router().SendToClient(env, "nobody", lobbyRoom, nil)
	assert.ErrorIs(t, err, core.ErrUnknownRecipient)

	require.NoError(t, w.player.Disconnect("PW1"))
	err = w.player.Router().SendToClient(env, "P1", lobbyRoom, nil)
	assert.ErrorIs(t, err, core.ErrNoLiveConnection)
}

func TestBroadcastExcludesByResolvedIdentity(t *testing.T) {
	w := newWorld(t)
	w.connectPlayer(t, "PW1", "P1", lobbyRoom)
	w.connectPlayer(t, "PW2", "P2", lobbyRoom)
	w.playerTransport.reset()

	w.reg.RegisterAlias("narrator", "P1", "")

	// Addressed through the alias: exclusion still keys on P1 itself.
	env := domain.NewEnvelope(domain.ActionSay, domain.TargetTXT, "narrator", domain.To(domain.ToRoom))
	require.NoError(t, w.player.Router().Broadcast(env, "", nil))

	assert.Empty(t, w.playerTransport.sentTo("PW1"))
	assert.Len(t, w.playerTransport.sentTo("PW2"), 1)
}

func TestBroadcastUnplacedSender(t *testing.T) {
	w := newWorld(t)
	w.reg.Add("P1", false, "")

	env := domain.NewEnvelope(domain.ActionSay, domain.TargetTXT, "P1", domain.To(domain.ToRoom))
	err := w.player.Router().Broadcast(env, "", nil)
	assert.ErrorIs(t, err, core.ErrSenderNotPlaced)
}

func TestCrossEndpointDelivery(t *testing.T) {
	w := newWorld(t)
	w.connectAdmin(t, "AW1", "A1", lobbyRoom)
	w.connectPlayer(t, "PW1", "P1", lobbyRoom)
	w.adminTransport.reset()
	w.playerTransport.reset()

	// The admin router has no registration for P1's connection; it
	// finds it through the paired player router.
	env := domain.NewEnvelope(domain.ActionSay, domain.TargetTXT, "A1", domain.To("P1"))
	require.NoError(t, w.admin.Router().SendToClient(env, "P1", lobbyRoom, nil))
	assert.Len(t, w.playerTransport.sentTo("PW1"), 1)
}

func TestForwardRequiresPartner(t *testing.T) {
	w := newWorld(t)
	solo := NewRouter("solo", w.reg, w.dir)
	env := domain.NewEnvelope(domain.ActionSay, domain.TargetTXT, "A1", domain.To(domain.ToAll))
	err := solo.Forward(env, lobbyRoom, "A1", nil)
	assert.ErrorIs(t, err, core.ErrUnknownRecipient)
}

func TestNamedRoomDelivery(t *testing.T) {
	w := newWorld(t)
	w.connectAdmin(t, "AW1", "A1", garageRoom)
	w.connectPlayer(t, "PW1", "P1", lobbyRoom)
	w.playerTransport.reset()

	env := domain.NewEnvelope(domain.ActionSay, domain.TargetTXT, "A1", domain.To(domain.RoomPrefix+string(lobbyRoom)))
	w.admin.Message(env)

	got := w.playerTransport.sentTo("PW1")
	require.Len(t, got, 1)
	assert.Equal(t, domain.RoomPrefix+string(lobbyRoom), got[0].To.One,
		"the alias the sender wrote survives to the wire")
}
