// Package x224 implements the ISO 8073 class-0 transport PDUs that MS-RDPBCGR
// reuses to carry the initial connection request/confirm and, thereafter, a
// thin Data envelope around every MCS-framed message.
package x224

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/tpkt"
)

// TPDU codes, high nibble of the PDU type byte.
const (
	TPDU_CONNECTION_REQUEST = 0xE0
	TPDU_CONNECTION_CONFIRM = 0xD0
	TPDU_DISCONNECT_REQUEST = 0x80
	TPDU_DATA               = 0xF0
)

// Header is the variable-length X.224 header: a one-byte length indicator
// (not counting itself), the TPDU code, and, for CR/CC/DR, a pair of
// connection references and a class/options byte. Data TPDUs instead
// carry a single EOT byte (0x80, end of TSDU) after the code; the
// reference/flags fields are absent.
type Header struct {
	Length  uint8
	PduType uint8
	DstRef  uint16
	SrcRef  uint16
	Flags   uint8
	EOT     uint8
}

const eotMarker uint8 = 0x80

func (h *Header) Read(r io.Reader) {
	core.ReadBE(r, &h.Length)
	core.ReadBE(r, &h.PduType)
	switch h.PduType & 0xF0 {
	case TPDU_DATA:
		core.ReadBE(r, &h.EOT)
	default:
		core.ReadBE(r, &h.DstRef)
		core.ReadBE(r, &h.SrcRef)
		core.ReadBE(r, &h.Flags)
	}
}

func (h *Header) Write(w io.Writer) {
	core.WriteBE(w, &h.Length)
	core.WriteBE(w, &h.PduType)
	switch h.PduType & 0xF0 {
	case TPDU_DATA:
		h.EOT = eotMarker
		core.WriteBE(w, &h.EOT)
	default:
		core.WriteBE(w, &h.DstRef)
		core.WriteBE(w, &h.SrcRef)
		core.WriteBE(w, &h.Flags)
	}
}

// Connect frames data (typically a Negotiation Request/Response blob) inside
// a Connection Request or Connection Confirm TPDU and writes it, TPKT-wrapped.
func Connect(w io.Writer, pduType uint8, data []byte) {
	buf := new(bytes.Buffer)
	h := &Header{
		Length:  uint8(6 + len(data)),
		PduType: pduType,
		DstRef:  0,
		SrcRef:  0,
		Flags:   0,
	}
	h.Write(buf)
	core.WriteFull(buf, data)
	tpkt.Write(w, buf.Bytes())
}

// ReadConnect reads a Connection Request/Confirm TPDU and returns the
// negotiation blob that follows the fixed header.
func ReadConnect(r io.Reader) []byte {
	data := tpkt.Read(r)
	rd := bytes.NewReader(data)
	h := &Header{}
	h.Read(rd)
	rest := make([]byte, rd.Len())
	core.ThrowError(core.ReadFull(rd, rest))
	return rest
}

// Write wraps data (an MCS-encoded PDU) in a Data TPDU and TPKT frame;
// the transparent envelope used for every post-connect exchange.
func Write(w io.Writer, data []byte) {
	buf := new(bytes.Buffer)
	h := &Header{Length: 2, PduType: TPDU_DATA}
	h.Write(buf)
	core.WriteFull(buf, data)
	tpkt.Write(w, buf.Bytes())
}

// Read reads a TPKT frame carrying a Data TPDU and returns its payload.
func Read(r io.Reader) []byte {
	data := tpkt.Read(r)
	rd := bytes.NewReader(data)
	h := &Header{}
	h.Read(rd)
	core.ThrowIf(h.PduType&0xF0 != TPDU_DATA, "expected X.224 data TPDU")
	rest := make([]byte, rd.Len())
	core.ThrowError(core.ReadFull(rd, rest))
	return rest
}
