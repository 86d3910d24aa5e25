// Package per implements the subset of ITU-T X.691 Packed Encoding Rules
// (PER, aligned variant) that MS-RDPBCGR uses for MCS domain PDUs and for
// the FastPath length field. Connect-Initial/Connect-Response, by contrast,
// are BER-encoded; see proto/pdu/mcsPdu for that half of MCS.
package per

import (
	"io"

	"github.com/proxysec/rdpmitm/core"
)

// ReadLength reads a PER length determinant: values below 0x80 are a single
// byte; values at or above 0x80 set the top bit and use two bytes for a
// 15-bit length.
func ReadLength(r io.Reader) int {
	b := core.ReadUInt8(r)
	if b&0x80 != 0 {
		b2 := core.ReadUInt8(r)
		return (int(b&0x7f) << 8) | int(b2)
	}
	return int(b)
}

// WriteLength writes n using the same determinant encoding as ReadLength.
func WriteLength(w io.Writer, n int) {
	if n < 0x80 {
		core.WriteUInt8(w, uint8(n))
		return
	}
	core.WriteUInt8(w, uint8((n>>8)|0x80))
	core.WriteUInt8(w, uint8(n))
}

// ReadEnumerated reads a PER ENUMERATED value (one byte, zero-indexed).
func ReadEnumerated(r io.Reader) uint8 {
	return core.ReadUInt8(r)
}

func WriteEnumerated(w io.Writer, v uint8) {
	core.WriteUInt8(w, v)
}

// ReadInteger16 reads a constrained 16-bit big-endian PER integer and adds
// back the range's lower bound, min.
func ReadInteger16(r io.Reader, min uint16) uint16 {
	return core.ReadUint16BE(r) + min
}

// WriteInteger16 writes v - min as a 16-bit big-endian PER integer.
func WriteInteger16(w io.Writer, v, min uint16) {
	core.WriteUInt16BE(w, v-min)
}

// WriteInteger writes an unconstrained small non-negative integer as a
// length-prefixed octet sequence: MCS ErectDomainRequest's subHeight and
// subInterval fields are this shape and real servers ignore their value.
func WriteInteger(w io.Writer, v int) {
	WriteLength(w, 1)
	core.WriteUInt8(w, uint8(v))
}

func ReadInteger(r io.Reader) int {
	n := ReadLength(r)
	b := core.ReadBytes(r, n)
	v := 0
	for _, c := range b {
		v = v<<8 | int(c)
	}
	return v
}

// ReadOctetString reads a PER length-prefixed octet string whose declared
// length is offset by min (used where the field has a minimum size).
func ReadOctetString(r io.Reader, min int) []byte {
	n := ReadLength(r) + min
	return core.ReadBytes(r, n)
}

// WriteOctetString writes data with a PER length determinant, with min
// subtracted from the advertised length to match the paired Read call.
func WriteOctetString(w io.Writer, data []byte, min int) {
	WriteLength(w, len(data)-min)
	core.WriteFull(w, data)
}
