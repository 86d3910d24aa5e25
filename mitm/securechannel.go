package mitm

import (
	"github.com/proxysec/rdpmitm/proto/fastpath"
	"github.com/proxysec/rdpmitm/proto/sec"
)

// SecureChannel is one leg's pair of live directional ciphers. The
// underlying fastpath.Cipher values are created by the engine the moment
// its key schedule is derived, because the handshake itself consumes
// keystream (the Client Info PDU is the first encrypted packet in each
// direction); this wrapper only adds the slow-path sign/verify
// convenience the relay loop wants. Slow path and fast path share the
// same two RC4 streams; a direction must never hold two independent
// stream states.
type SecureChannel struct {
	Encrypt *fastpath.Cipher
	Decrypt *fastpath.Cipher
}

// NewSecureChannel wraps an engine's already-seeded directional ciphers.
// Returns nil when the leg negotiated no legacy encryption (TLS mode or
// encryption level none), which the relay treats as pass-through.
func NewSecureChannel(encrypt, decrypt *fastpath.Cipher) *SecureChannel {
	if encrypt == nil || decrypt == nil {
		return nil
	}
	return &SecureChannel{Encrypt: encrypt, Decrypt: decrypt}
}

// EncryptSlowPath signs and encrypts an outbound slow-path PDU body,
// returning the 8-byte MAC and the ciphertext; the pair a caller
// assembles into `securityFlag|securityFlagHi|mac|ciphertext`.
func (c *SecureChannel) EncryptSlowPath(plaintext []byte) (mac [8]byte, ciphertext []byte) {
	mac = sec.Sign(c.Encrypt.MacKey, plaintext)
	ciphertext = c.Encrypt.Stream.Apply(plaintext)
	return
}

// DecryptSlowPath verifies mac against the plaintext recovered from
// ciphertext. A mismatch means key desynchronization or tampering; the
// caller decides how to react.
func (c *SecureChannel) DecryptSlowPath(ciphertext []byte, mac [8]byte) (plaintext []byte, ok bool) {
	plaintext = c.Decrypt.Stream.Apply(ciphertext)
	return plaintext, sec.VerifySign(c.Decrypt.MacKey, plaintext, mac)
}
