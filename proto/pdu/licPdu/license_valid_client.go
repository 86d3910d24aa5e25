package licPdu

import (
	"io"

	"github.com/proxysec/rdpmitm/core"
)

// License PDU header message types (MS-RDPELE 2.2.2.1). Only the shortcut
// this proxy synthesizes, ERROR_ALERT carrying STATUS_VALID_CLIENT, is
// modeled: a MITM never runs the full licensing protocol since it always
// tells the victim licensing is already satisfied.
const (
	ERROR_ALERT uint8 = 0xFF
)

const (
	statusValidClient uint32 = 0x00000007
	noStateTransition uint32 = 0x00000002
	blobTypeErrorBlob uint16 = 0x0004
)

// PreambleHeader is the 4-byte header shared by every licensing PDU:
// message type, a single flags byte, and the total PDU size including
// this header.
type PreambleHeader struct {
	BMsgType uint8
	Flags    uint8
	WMsgSize uint16
}

func (h *PreambleHeader) Read(r io.Reader) {
	core.ReadLE(r, &h.BMsgType)
	core.ReadLE(r, &h.Flags)
	core.ReadLE(r, &h.WMsgSize)
}

func (h *PreambleHeader) Write(w io.Writer) {
	core.WriteLE(w, &h.BMsgType)
	core.WriteLE(w, &h.Flags)
	core.WriteLE(w, &h.WMsgSize)
}

// LicenseValidClientData is the LICENSE_ERROR_MESSAGE body of the
// server's ERROR_ALERT/STATUS_VALID_CLIENT PDU: the shortcut a real
// server sends when it has decided the client needs no license exchange,
// and the one this proxy always synthesizes toward the victim.
type LicenseValidClientData struct {
	Preamble          PreambleHeader
	DwErrorCode       uint32
	DwStateTransition uint32
	BlobType          uint16
	BlobLen           uint16
}

func (d *LicenseValidClientData) Read(r io.Reader) {
	d.Preamble.Read(r)
	core.ThrowIf(d.Preamble.BMsgType != ERROR_ALERT, "not a license error alert")
	d.readBody(r)
}

// readBody parses the fields after the preamble, for callers that have
// already consumed it.
func (d *LicenseValidClientData) readBody(r io.Reader) {
	core.ReadLE(r, &d.DwErrorCode)
	core.ReadLE(r, &d.DwStateTransition)
	core.ReadLE(r, &d.BlobType)
	core.ReadLE(r, &d.BlobLen)
	core.ThrowIf(d.BlobLen != 0, "unexpected non-empty error blob")
}

// NewValidClientLicense builds the canonical valid-client shortcut body
// this proxy sends to the victim immediately after the Client Info PDU,
// preempting the real licensing exchange entirely.
func NewValidClientLicense() *LicenseValidClientData {
	return &LicenseValidClientData{
		DwErrorCode:       statusValidClient,
		DwStateTransition: noStateTransition,
		BlobType:          blobTypeErrorBlob,
	}
}

func (d *LicenseValidClientData) Write(w io.Writer) {
	d.Preamble = PreambleHeader{BMsgType: ERROR_ALERT, WMsgSize: 4 + 4 + 4 + 4}
	d.Preamble.Write(w)
	core.WriteLE(w, &d.DwErrorCode)
	core.WriteLE(w, &d.DwStateTransition)
	core.WriteLE(w, &d.BlobType)
	core.WriteLE(w, &d.BlobLen)
}
