package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressWireForms(t *testing.T) {
	t.Run("single string", func(t *testing.T) {
		var a Address
		require.NoError(t, json.Unmarshal([]byte(`"P1"`), &a))
		assert.False(t, a.IsList())
		assert.Equal(t, "P1", a.One)

		out, err := json.Marshal(a)
		require.NoError(t, err)
		assert.JSONEq(t, `"P1"`, string(out))
	})

	t.Run("array of ids", func(t *testing.T) {
		var a Address
		require.NoError(t, json.Unmarshal([]byte(`["a","b","c"]`), &a))
		assert.True(t, a.IsList())
		assert.Equal(t, []string{"a", "b", "c"}, a.Many)

		out, err := json.Marshal(a)
		require.NoError(t, err)
		assert.JSONEq(t, `["a","b","c"]`, string(out))
	})

	t.Run("number is rejected", func(t *testing.T) {
		var a Address
		assert.ErrorIs(t, json.Unmarshal([]byte(`42`), &a), ErrBadAddress)
	})
}

func TestDecode(t *testing.T) {
	env, err := Decode([]byte(`{"id":"x","session":"s","action":"say","target":"TXT","from":"P1","to":"ROOM","reliable":true}`))
	require.NoError(t, err)
	assert.Equal(t, ActionSay, env.Action)
	assert.Equal(t, "TXT", env.Target)
	assert.Equal(t, ToRoom, env.To.One)
	assert.True(t, env.Reliable)

	_, err = Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestEnvelopeValueSemantics(t *testing.T) {
	env := NewEnvelope(ActionSay, TargetTXT, "P1", To(ToRoom))
	copy1 := env.WithTo(To("a"))
	copy2 := env.WithTo(To("b"))

	assert.Equal(t, ToRoom, env.To.One)
	assert.Equal(t, "a", copy1.To.One)
	assert.Equal(t, "b", copy2.To.One)

	masked := env.WithFrom(ToServer)
	assert.Equal(t, "P1", env.From)
	assert.Equal(t, ToServer, masked.From)
}

func TestEventKey(t *testing.T) {
	env := NewEnvelope(ActionGet, TargetData, "P1", To("P2"))
	assert.Equal(t, "get.DATA", env.EventKey())
}

func TestEncodeCarriesOriginalLiteral(t *testing.T) {
	env := NewEnvelope(ActionSay, TargetTXT, "P1", To(ChannelPrefix+"lobby"))
	data, err := env.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "CHANNEL_lobby", wire["to"])
	for key := range wire {
		assert.NotEqual(t, byte('_'), key[0], "resolver scratch state leaked to the wire: %s", key)
	}
}
