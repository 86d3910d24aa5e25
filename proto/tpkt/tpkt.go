// Package tpkt implements RFC 1006 TPKT framing, the length-prefixed
// envelope that carries X.224 over a TCP byte stream.
package tpkt

import (
	"io"

	"github.com/proxysec/rdpmitm/core"
)

const Version = 3

// Header is the 4-byte TPKT header: version, a reserved byte, and a
// 16-bit big-endian total length (header included).
type Header struct {
	Version  uint8
	Reserved uint8
	Length   uint16
}

func (h *Header) Read(r io.Reader) {
	core.ReadBE(r, h)
	if h.Version != Version {
		core.ThrowRDPErrorf(core.ErrUnknownHeader, "unexpected tpkt version %d", h.Version)
	}
	if h.Length < 4 {
		core.ThrowRDPErrorf(core.ErrMalformedPDU, "tpkt length %d smaller than header", h.Length)
	}
}

func (h *Header) Write(w io.Writer) {
	core.WriteBE(w, h)
}

// IsTPKT reports whether the first byte of a segment marks a TPKT frame.
func IsTPKT(b byte) bool {
	return b == Version
}

// Read reads a complete TPKT frame and returns its payload (the bytes
// after the 4-byte header).
func Read(r io.Reader) []byte {
	h := &Header{}
	h.Read(r)
	return core.ReadBytes(r, int(h.Length)-4)
}

// Write frames data as a single TPKT PDU. The 16-bit length field caps a
// frame at 65535 bytes including the header; callers fragment above that.
func Write(w io.Writer, data []byte) {
	if len(data)+4 > 0xffff {
		core.ThrowRDPErrorf(core.ErrMalformedPDU, "payload of %d bytes exceeds tpkt framing", len(data))
	}
	h := &Header{Version: Version, Length: uint16(len(data) + 4)}
	h.Write(w)
	core.WriteFull(w, data)
}
