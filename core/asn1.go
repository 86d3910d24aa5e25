// Package core holds the byte/stream primitives the protocol layers are
// built on: endian codecs with the panic-on-error layering contract, the
// buffered transport Stream with its TLS upgrades, the RDPError taxonomy,
// and the BER helpers below.
package core

import (
	"bytes"
	"io"
)

// BER identifier/length helpers for the two MCS connect PDUs, the only
// ASN.1 BER structures in the protocol (everything after Connect-Initial/
// Connect-Response is PER). The T.125 application tags are 101 and 102,
// both above 30, so the identifier always uses the high-tag-number form:
// a leading 0x7F (class APPLICATION, constructed, tag escape) followed by
// the tag number itself.

// ReadBERLength reads a BER length octet sequence: short form below 0x80,
// otherwise 0x8N followed by N big-endian length bytes.
func ReadBERLength(r io.Reader) int {
	b := ReadUInt8(r)
	if b&0x80 == 0 {
		return int(b)
	}
	n := int(b &^ 0x80)
	out := 0
	for i := 0; i < n; i++ {
		out = out<<8 | int(ReadUInt8(r))
	}
	return out
}

// WriteBERLength writes n in the shortest definite BER length form.
func WriteBERLength(w io.Writer, n int) {
	switch {
	case n < 0x80:
		WriteUInt8(w, uint8(n))
	case n <= 0xff:
		WriteUInt8(w, 0x81)
		WriteUInt8(w, uint8(n))
	default:
		WriteUInt8(w, 0x82)
		WriteUInt8(w, uint8(n>>8))
		WriteUInt8(w, uint8(n))
	}
}

// WrapBERApplicationTag prepends the [APPLICATION tag] CONSTRUCTED
// identifier and length to an already-encoded BER body.
func WrapBERApplicationTag(tag uint8, inner []byte) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0x7f)
	buf.WriteByte(tag)
	WriteBERLength(buf, len(inner))
	buf.Write(inner)
	return buf.Bytes()
}

// UnwrapBERApplicationTag validates the [APPLICATION tag] identifier and
// returns the inner BER content.
func UnwrapBERApplicationTag(tag uint8, data []byte) []byte {
	r := bytes.NewReader(data)
	ThrowIf(ReadUInt8(r) != 0x7f, "expected BER application tag identifier")
	ThrowIf(ReadUInt8(r) != tag, "unexpected BER application tag")
	length := ReadBERLength(r)
	return ReadBytes(r, length)
}
