package mitm

import (
	"testing"

	"github.com/proxysec/rdpmitm/engine"
	"github.com/proxysec/rdpmitm/proto/fastpath"
	"github.com/proxysec/rdpmitm/proto/sec"
	"github.com/proxysec/rdpmitm/proto/virtualchannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairedChannels builds the two SecureChannels of one legacy session the
// way the engines do: both sides derive the same schedule, the victim
// leg (server role) swaps the key pairing, the target leg (client role)
// uses it directly.
func pairedChannels(t *testing.T) (victimLeg, targetLeg *SecureChannel) {
	t.Helper()
	clientRandom := make([]byte, sec.ClientRandomSize)
	serverRandom := make([]byte, sec.ClientRandomSize)
	for i := range clientRandom {
		clientRandom[i] = byte(i)
		serverRandom[i] = byte(255 - i)
	}
	keys := sec.DeriveKeySchedule(clientRandom, serverRandom, 16)

	victimLeg = NewSecureChannel(
		&fastpath.Cipher{Stream: sec.NewStream(keys.InitialDecrypt), MacKey: keys.MacKey128},
		&fastpath.Cipher{Stream: sec.NewStream(keys.InitialEncrypt), MacKey: keys.MacKey128},
	)
	targetLeg = NewSecureChannel(
		&fastpath.Cipher{Stream: sec.NewStream(keys.InitialEncrypt), MacKey: keys.MacKey128},
		&fastpath.Cipher{Stream: sec.NewStream(keys.InitialDecrypt), MacKey: keys.MacKey128},
	)
	return victimLeg, targetLeg
}

func TestSecureChannelPairingAcrossRoles(t *testing.T) {
	victimLeg, targetLeg := pairedChannels(t)

	// What the proxy encrypts toward the victim, a real client (modeled
	// by the target leg's decrypt pairing) can decrypt, and vice versa.
	plaintext := []byte("demand active pdu")
	mac, ciphertext := victimLeg.EncryptSlowPath(plaintext)
	recovered, ok := targetLeg.DecryptSlowPath(ciphertext, mac)
	require.True(t, ok)
	assert.Equal(t, plaintext, recovered)
}

func TestSecureChannelDetectsTampering(t *testing.T) {
	victimLeg, targetLeg := pairedChannels(t)

	mac, ciphertext := victimLeg.EncryptSlowPath([]byte("input event pdu"))
	ciphertext[0] ^= 0xff
	_, ok := targetLeg.DecryptSlowPath(ciphertext, mac)
	assert.False(t, ok)
}

func TestNewSecureChannelNilForPlainLegs(t *testing.T) {
	assert.Nil(t, NewSecureChannel(nil, nil))
}

func TestChannelMapBridgesByNameAndDropsRefused(t *testing.T) {
	// Victim leg negotiated three channels; the target refused rdpsnd, so
	// only two made it into the target engine's channel list; ids differ
	// between the legs on purpose.
	victim := engine.NewClientEngine(nil, nil)
	victim.Channels = []engine.Channel{
		{Name: "cliprdr", Id: 1004},
		{Name: "rdpsnd", Id: 1005},
		{Name: "rdpdr", Id: 1006},
	}
	target := &engine.ServerEngine{
		Channels: []engine.Channel{
			{Name: "cliprdr", Id: 2004},
			{Name: "rdpdr", Id: 2006},
		},
		RefusedChannels: []string{"rdpsnd"},
	}

	m := buildChannelMap(victim, target)

	id, ok := m.toTarget(1004)
	require.True(t, ok)
	assert.Equal(t, uint16(2004), id)

	back, ok := m.toVictim(2006)
	require.True(t, ok)
	assert.Equal(t, uint16(1006), back)

	_, ok = m.toTarget(1005) // refused channel has nowhere to go
	assert.False(t, ok)

	assert.Equal(t, "cliprdr", m.name(1004))
	assert.Len(t, m.registry.ListChannels(), 2)
}

func TestChannelMapAssemblersArePerLegAndChannel(t *testing.T) {
	victim := engine.NewClientEngine(nil, nil)
	target := &engine.ServerEngine{}
	m := buildChannelMap(victim, target)

	a := m.assembler(true, 1004)
	assert.Same(t, a, m.assembler(true, 1004))
	assert.NotSame(t, a, m.assembler(false, 1004))
	assert.NotSame(t, a, m.assembler(true, 1005))

	chunk := virtualchannel.WrapSingleChunk([]byte("payload"))
	out, complete := a.Push(chunk)
	require.True(t, complete)
	assert.Equal(t, []byte("payload"), out)
}
