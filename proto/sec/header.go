// Package sec implements MS-RDPBCGR's legacy ("standard") RDP security
// layer: the client-random/server-random key exchange, the MD5/SHA1 key
// schedule, per-direction RC4 streams with periodic rekeying, and the
// 8-byte data-signature MAC. TLS-mode connections skip all of this and
// this package is not exercised for them beyond the flag constants.
package sec

import (
	"io"

	"github.com/proxysec/rdpmitm/core"
)

// SEC_* header flags (MS-RDPBCGR 2.2.8.1.1.2.1).
const (
	SEC_EXCHANGE_PKT        uint16 = 0x0001
	SEC_TRANSPORT_REQ       uint16 = 0x0002
	SEC_TRANSPORT_RSP       uint16 = 0x0004
	SEC_ENCRYPT             uint16 = 0x0008
	SEC_RESET_SEQNO         uint16 = 0x0010
	SEC_IGNORE_SEQNO        uint16 = 0x0020
	SEC_INFO_PKT            uint16 = 0x0040
	SEC_LICENSE_PKT         uint16 = 0x0080
	SEC_LICENSE_ENCRYPT_CS  uint16 = 0x0200
	SEC_LICENSE_ENCRYPT_SC  uint16 = 0x0200
	SEC_REDIRECTION_PKT     uint16 = 0x0400
	SEC_SECURE_CHECKSUM     uint16 = 0x0800
	SEC_AUTODETECT_REQ      uint16 = 0x1000
	SEC_AUTODETECT_RSP      uint16 = 0x2000
	SEC_HEARTBEAT           uint16 = 0x4000
	SEC_FLAGSHI_VALID       uint16 = 0x8000
)

// TsSecurityHeader is the 4-byte header prefixing every slow-path PDU once
// the legacy security layer is active (present even when Flags carries no
// SEC_ bits other than 0, in which case it is still read and discarded).
type TsSecurityHeader struct {
	Flags   uint16
	FlagsHi uint16
}

func (h *TsSecurityHeader) Read(r io.Reader) {
	core.ReadLE(r, &h.Flags)
	core.ReadLE(r, &h.FlagsHi)
}

func (h *TsSecurityHeader) Write(w io.Writer) {
	core.WriteLE(w, &h.Flags)
	core.WriteLE(w, &h.FlagsHi)
}

// TsSecurityHeader2 is the 12-byte variant used on encrypted PDUs: the
// base header followed by the 8-byte MAC signature preceding the
// ciphertext.
type TsSecurityHeader2 struct {
	TsSecurityHeader
	DataSignature [8]byte
}

func (h *TsSecurityHeader2) Read(r io.Reader) {
	h.TsSecurityHeader.Read(r)
	core.ReadLE(r, &h.DataSignature)
}

func (h *TsSecurityHeader2) Write(w io.Writer) {
	h.TsSecurityHeader.Write(w)
	core.WriteLE(w, &h.DataSignature)
}

// ClientSecurityExchangePDU carries the 32-byte client random, RSA
// encrypted under the server's public key and followed by 8 bytes of
// zero padding (72 bytes in all for a 512-bit key).
type ClientSecurityExchangePDU struct {
	Length                uint32
	EncryptedClientRandom []byte
	Padding               [8]byte
}

func (p *ClientSecurityExchangePDU) Read(r io.Reader) {
	core.ReadLE(r, &p.Length)
	p.EncryptedClientRandom = core.ReadBytes(r, int(p.Length)-8)
	core.ReadLE(r, &p.Padding)
}

func (p *ClientSecurityExchangePDU) Write(w io.Writer) {
	p.Length = uint32(len(p.EncryptedClientRandom) + 8)
	core.WriteLE(w, &p.Length)
	core.WriteFull(w, p.EncryptedClientRandom)
	core.WriteLE(w, &p.Padding)
}
