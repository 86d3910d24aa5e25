package sec

import (
	"crypto/rand"
	"crypto/rsa"
	"math/big"

	"github.com/proxysec/rdpmitm/core"
)

// ClientRandomSize is the size in bytes of the random value each side
// contributes to the key schedule.
const ClientRandomSize = 32

// EncryptClientRandom RSA-encrypts a 32-byte client random under the
// server's public key, reversing both the key material and the result to
// convert between RDP's little-endian convention and crypto/rsa's
// big-endian one.
func EncryptClientRandom(clientRandom, modulusLE []byte, exponent uint32) []byte {
	modulus := new(big.Int).SetBytes(core.Reverse(modulusLE))
	pub := &rsa.PublicKey{N: modulus, E: int(exponent)}

	plain := core.Reverse(clientRandom)
	// encrypt via raw modular exponentiation: RDP pads with zero rather
	// than PKCS1, so rsa.EncryptPKCS1v15 cannot be used here.
	c := new(big.Int).Exp(new(big.Int).SetBytes(plain), big.NewInt(int64(pub.E)), pub.N)
	out := c.Bytes()

	padded := make([]byte, (modulus.BitLen()+7)/8)
	copy(padded[len(padded)-len(out):], out)
	return core.Reverse(padded)
}

// DecryptClientRandom inverts EncryptClientRandom using the MITM's own RSA
// private key, recovering the 32-byte client random a victim encrypted
// under the proxy's presented certificate.
func DecryptClientRandom(encrypted []byte, priv *rsa.PrivateKey) []byte {
	c := new(big.Int).SetBytes(core.Reverse(encrypted))
	m := new(big.Int).Exp(c, priv.D, priv.N)
	out := m.Bytes()

	padded := make([]byte, ClientRandomSize)
	copy(padded[len(padded)-len(out):], out)
	return core.Reverse(padded)
}

// GenerateClientRandom produces a fresh 32-byte client random for the
// proxy's own security-exchange PDU toward the real target.
func GenerateClientRandom() []byte {
	return core.Random(ClientRandomSize)
}

// GenerateServerKeyPair creates an RSA key pair sized for a legacy
// PROPRIETARYSERVERCERTIFICATE, used to build the fake certificate the
// proxy presents to the victim.
func GenerateServerKeyPair(bits int) *rsa.PrivateKey {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	core.ThrowError(err)
	return priv
}
