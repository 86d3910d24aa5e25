// Package slowpath implements the slow-path PDU envelope that every
// non-FastPath RDP message rides inside: the MCS Send-Data wrapper, the
// ShareControlHeader (PDUTYPE_DEMANDACTIVEPDU/CONFIRMACTIVEPDU/DATAPDU)
// and the nested ShareDataHeader that further tags data PDUs
// (PDUTYPE2_INPUT/UPDATE/CONTROL/SYNCHRONIZE/...). Rendering-specific data
// PDUs (bitmap updates, surface commands) are out of scope; this package
// only carries the headers and the PDUs the proxy must parse or forge.
package slowpath

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/mcs"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// ShareControlHeader PDU types (MS-RDPBCGR 2.2.8.1.1.1.1).
const (
	PDUTYPE_DEMANDACTIVEPDU  uint16 = 0x1
	PDUTYPE_CONFIRMACTIVEPDU uint16 = 0x3
	PDUTYPE_DEACTIVATEALLPDU uint16 = 0x6
	PDUTYPE_DATAPDU          uint16 = 0x7
	PDUTYPE_SERVER_REDIR_PKT uint16 = 0xA
)

// ShareDataHeader PDU2 types (MS-RDPBCGR 2.2.8.1.1.1.2).
const (
	PDUTYPE2_UPDATE               uint8 = 0x02
	PDUTYPE2_CONTROL              uint8 = 0x14
	PDUTYPE2_SYNCHRONIZE           uint8 = 0x1F
	PDUTYPE2_FONTLIST             uint8 = 0x27
	PDUTYPE2_FONTMAP              uint8 = 0x28
	PDUTYPE2_INPUT                uint8 = 0x1C
	PDUTYPE2_SHUTDOWN_REQUEST     uint8 = 0x24
	PDUTYPE2_SHUTDOWN_DENIED      uint8 = 0x25
	PDUTYPE2_SAVE_SESSION_INFO    uint8 = 0x26
	PDUTYPE2_SET_ERROR_INFO_PDU   uint8 = 0x2F
)

// ShareControlHeader prefixes every slow-path PDU carried over a Send Data
// Request/Indication.
type ShareControlHeader struct {
	TotalLength   uint16
	PDUType       uint16 // low 4 bits of the type field; version bits stripped
	PDUSource     uint16
}

const shareControlVersion uint16 = 0x10

func (h *ShareControlHeader) Read(r io.Reader) {
	core.ReadLE(r, &h.TotalLength)
	var typeAndVersion uint16
	core.ReadLE(r, &typeAndVersion)
	h.PDUType = typeAndVersion & 0x0f
	core.ReadLE(r, &h.PDUSource)
}

func (h *ShareControlHeader) Write(w io.Writer) {
	core.WriteLE(w, &h.TotalLength)
	typeAndVersion := shareControlVersion | h.PDUType
	core.WriteLE(w, &typeAndVersion)
	core.WriteLE(w, &h.PDUSource)
}

// ShareDataHeader prefixes every PDUTYPE_DATAPDU body.
type ShareDataHeader struct {
	SharedId           uint32
	Padding1           uint8
	StreamId           uint8
	UncompressedLength uint16
	PDUType2           uint8
	CompressedType     uint8
	CompressedLength   uint16
}

const (
	STREAM_UNDEFINED uint8 = 0x00
	STREAM_LOW       uint8 = 0x01
	STREAM_MED       uint8 = 0x02
	STREAM_HI        uint8 = 0x04
)

func (h *ShareDataHeader) Read(r io.Reader) {
	core.ReadLE(r, &h.SharedId)
	core.ReadLE(r, &h.Padding1)
	core.ReadLE(r, &h.StreamId)
	core.ReadLE(r, &h.UncompressedLength)
	core.ReadLE(r, &h.PDUType2)
	core.ReadLE(r, &h.CompressedType)
	core.ReadLE(r, &h.CompressedLength)
}

func (h *ShareDataHeader) Write(w io.Writer) {
	core.WriteLE(w, &h.SharedId)
	core.WriteLE(w, &h.Padding1)
	core.WriteLE(w, &h.StreamId)
	core.WriteLE(w, &h.UncompressedLength)
	core.WriteLE(w, &h.PDUType2)
	core.WriteLE(w, &h.CompressedType)
	core.WriteLE(w, &h.CompressedLength)
}

// ReadShareControl reads one slow-path PDU off an already-demultiplexed
// MCS channel payload and returns its control header plus the remaining
// body bytes.
func ReadShareControl(data []byte) (ShareControlHeader, []byte) {
	r := bytes.NewReader(data)
	h := ShareControlHeader{}
	h.Read(r)
	body := core.ReadBytes(r, len(data)-6)
	return h, body
}

// ReadShareData reads a PDUTYPE_DATAPDU body (everything after the
// ShareControlHeader) and returns its data header plus the inner payload.
func ReadShareData(body []byte) (ShareDataHeader, []byte) {
	r := bytes.NewReader(body)
	h := ShareDataHeader{}
	h.Read(r)
	rest := len(body) - 12
	return h, core.ReadBytes(r, rest)
}

// WriteShareControl wraps payload in a ShareControlHeader of the given
// type and writes the whole thing as an MCS Send Data Request inside an
// X.224 Data TPDU, the envelope every slow-path PDU this proxy forges
// uses.
func WriteShareControl(w io.Writer, userId, channelId uint16, pduType uint16, pduSource uint16, payload []byte) {
	h := ShareControlHeader{PDUType: pduType, PDUSource: pduSource}
	h.TotalLength = uint16(6 + len(payload))
	buf := new(bytes.Buffer)
	h.Write(buf)
	buf.Write(payload)

	sdr := mcs.NewSendDataRequest(userId, channelId)
	x224.Write(w, sdr.Serialize(buf.Bytes()))
}

// WriteShareData wraps payload in a ShareDataHeader, then a
// ShareControlHeader of type PDUTYPE_DATAPDU, and sends it the same way
// as WriteShareControl.
func WriteShareData(w io.Writer, userId, channelId uint16, sharedId uint32, pduType2 uint8, payload []byte) {
	dh := ShareDataHeader{
		SharedId:           sharedId,
		StreamId:           STREAM_LOW,
		UncompressedLength: uint16(len(payload) + 4),
		PDUType2:           pduType2,
	}
	buf := new(bytes.Buffer)
	dh.Write(buf)
	buf.Write(payload)
	WriteShareControl(w, userId, channelId, PDUTYPE_DATAPDU, userId, buf.Bytes())
}
