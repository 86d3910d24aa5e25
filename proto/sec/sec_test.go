package sec

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedRandom(b byte) []byte {
	out := make([]byte, ClientRandomSize)
	for i := range out {
		out[i] = b
	}
	return out
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// TestKeyScheduleReferenceVectors pins the full derivation for the
// clientRandom=0x01*32 / serverRandom=0x02*32 pair: master secret, session
// key blob, MAC key, both initial keys, and the signature over "hello".
// The constants were computed independently from the MS-RDPBCGR 5.3.5
// SaltedHash/FinalHash construction; any change to the hash composition
// order breaks this test bit-for-bit.
func TestKeyScheduleReferenceVectors(t *testing.T) {
	clientRandom := fixedRandom(0x01)
	serverRandom := fixedRandom(0x02)

	ks := DeriveKeySchedule(clientRandom, serverRandom, 16)

	assert.Equal(t,
		mustHex(t, "f19d87e5ba04372db5dc7988956c3f61fbd795b2ce760d9ce2ce6a3ab2e79f957da03034e20c56f168ec72d425498367"),
		ks.MasterSecret)
	assert.Equal(t,
		mustHex(t, "46813842e4042ea30e593aeb9127beeae5f00c3da440a274b0160bdb55a157387925c3e100193a1f2118ba054b42b205"),
		ks.SessionKeyBlob)
	assert.Equal(t, mustHex(t, "46813842e4042ea30e593aeb9127beea"), ks.MacKey128)
	assert.Equal(t, mustHex(t, "30e874e93c7d2073197adab47f96f7e7"), ks.InitialDecrypt)
	assert.Equal(t, mustHex(t, "fc986b2bea46244354e16c46064379a4"), ks.InitialEncrypt)

	sig := Sign(ks.MacKey128, []byte("hello"))
	assert.Equal(t, mustHex(t, "5440711e2b825935"), sig[:])
}

func TestKeyScheduleSymmetricAcrossSides(t *testing.T) {
	clientRandom := fixedRandom(0xaa)
	serverRandom := fixedRandom(0x55)

	a := DeriveKeySchedule(clientRandom, serverRandom, 16)
	b := DeriveKeySchedule(clientRandom, serverRandom, 16)

	// both sides derive the schedule from the same randoms, so the
	// schedule itself is reproducible byte-for-byte; which physical key
	// each side calls "encrypt" vs "decrypt" is a session-role
	// convention applied on top of this, not a property of
	// DeriveKeySchedule.
	require.Equal(t, a.MasterSecret, b.MasterSecret)
	assert.Equal(t, a.InitialEncrypt, b.InitialEncrypt)
	assert.Equal(t, a.InitialDecrypt, b.InitialDecrypt)
	assert.NotEqual(t, a.InitialEncrypt, a.InitialDecrypt)
	assert.Equal(t, a.MacKey128, b.MacKey128)
	assert.Len(t, a.InitialEncrypt, 16)
}

func Test40BitKeyIsWeakened(t *testing.T) {
	clientRandom := fixedRandom(0x11)
	serverRandom := fixedRandom(0x22)

	ks := DeriveKeySchedule(clientRandom, serverRandom, 8)
	assert.Len(t, ks.InitialEncrypt, 8)
	assert.Equal(t, []byte{0xd1, 0x26, 0x9e}, ks.InitialEncrypt[:3])
	assert.Equal(t, []byte{0xd1, 0x26, 0x9e}, ks.InitialDecrypt[:3])
}

func TestStreamRoundTrip(t *testing.T) {
	key := fixedRandom(0x7)[:16]
	enc := NewStream(key)
	dec := NewStream(key)

	plain := []byte("the quick brown fox jumps over the lazy dog")
	cipher := enc.Apply(plain)
	require.NotEqual(t, plain, cipher)

	recovered := dec.Apply(cipher)
	assert.Equal(t, plain, recovered)
}

func TestStreamRekeysAfterInterval(t *testing.T) {
	key := fixedRandom(0x9)[:16]
	enc := NewStream(key)
	dec := NewStream(key)

	for i := 0; i < rekeyInterval+10; i++ {
		plain := []byte{byte(i), byte(i >> 8)}
		cipher := enc.Apply(plain)
		recovered := dec.Apply(cipher)
		require.Equal(t, plain, recovered, "packet %d desynced", i)
	}
}

func TestStreamRekeyPreserves40BitSalt(t *testing.T) {
	key := []byte{0xd1, 0x26, 0x9e, 4, 5, 6, 7, 8}
	s := NewStream(key)
	for i := 0; i <= rekeyInterval; i++ {
		s.Apply([]byte{0})
	}
	assert.Equal(t, []byte{0xd1, 0x26, 0x9e}, s.currentKey[:3])
	assert.NotEqual(t, key, s.currentKey)
}

func TestSignVerify(t *testing.T) {
	macKey := fixedRandom(0x3)[:16]
	data := []byte("share control header payload")

	sig := Sign(macKey, data)
	assert.True(t, VerifySign(macKey, data, sig))

	tampered := append([]byte{}, data...)
	tampered[0] ^= 0xff
	assert.False(t, VerifySign(macKey, tampered, sig))
}

func TestClientRandomExchangeRoundTrip(t *testing.T) {
	priv := GenerateServerKeyPair(1024)
	modulus := priv.PublicKey.N.Bytes()
	// proprietary certificates store the modulus little-endian.
	modulusLE := make([]byte, len(modulus))
	for i, b := range modulus {
		modulusLE[len(modulus)-1-i] = b
	}

	clientRandom := GenerateClientRandom()
	encrypted := EncryptClientRandom(clientRandom, modulusLE, uint32(priv.PublicKey.E))
	recovered := DecryptClientRandom(encrypted, priv)

	assert.True(t, bytes.Equal(clientRandom, recovered))
}
