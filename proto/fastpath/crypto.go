package fastpath

import (
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/mcs/per"
	"github.com/proxysec/rdpmitm/proto/sec"
)

// FASTPATH_OUTPUT_ENCRYPTED and FASTPATH_OUTPUT_SECURE_CHECKSUM mirror the
// two bits packed into Header.EncryptionFlags (MS-RDPBCGR 2.2.9.1.2.1).
const (
	FASTPATH_OUTPUT_ENCRYPTED       uint8 = 0x1
	FASTPATH_OUTPUT_SECURE_CHECKSUM uint8 = 0x2
)

// Cipher bundles the per-direction RC4 stream and shared MAC key needed to
// read or write an encrypted FastPath PDU. A session owns two of these
// (client-facing, server-facing) and, on the MITM coupler, forwards a
// re-encrypted copy rather than the raw ciphertext, since the two legs use
// independent key material.
type Cipher struct {
	Stream *sec.Stream
	MacKey []byte
}

// ReadEncrypted reads a FastPath PDU whose header carries
// FASTPATH_OUTPUT_ENCRYPTED, verifying the signature that precedes the
// ciphertext and returning the decrypted payload.
func ReadEncrypted(r io.Reader, c *Cipher) []byte {
	var b uint8
	core.ReadLE(r, &b)
	encFlags := (b & 0xc0) >> 6
	core.ThrowIf(encFlags&FASTPATH_OUTPUT_ENCRYPTED == 0, "fastpath pdu is not encrypted")
	length := per.ReadLength(r)
	length = core.If(length < 0x80, length-2, length-3)

	var sig [8]byte
	core.ReadLE(r, &sig)
	ciphertext := core.ReadBytes(r, length-8)

	plain := c.Stream.Apply(ciphertext)
	if !sec.VerifySign(c.MacKey, plain, sig) {
		core.ThrowRDPErrorf(core.ErrBadSignature, "fastpath output signature mismatch")
	}
	return plain
}

// WriteEncrypted signs and encrypts data and writes it as a FastPath PDU
// with FASTPATH_OUTPUT_ENCRYPTED set.
func WriteEncrypted(w io.Writer, c *Cipher, data []byte) {
	WriteEncryptedPDU(w, c, 0, data)
}

// WriteEncryptedPDU is WriteEncrypted with the header's numberEvents
// field preserved, for re-framing input PDUs on the opposite leg.
func WriteEncryptedPDU(w io.Writer, c *Cipher, numberEvents uint8, data []byte) {
	sig := sec.Sign(c.MacKey, data)
	ciphertext := c.Stream.Apply(data)

	b := uint8(FASTPATH_OUTPUT_ENCRYPTED<<6 | (numberEvents&0x0f)<<2)
	core.WriteLE(w, b)
	length := len(ciphertext) + 8
	length = core.If(length+2 < 0x80, length+2, length+3)
	per.WriteLength(w, length)
	core.WriteLE(w, &sig)
	core.WriteFull(w, ciphertext)
}
