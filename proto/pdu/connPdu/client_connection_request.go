package connPdu

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// ClientConnectionRequestPDU is the X.224 Connection Request payload: the
// routing cookie and the RDP Negotiation Request.
// https://learn.microsoft.com/en-us/openspecs/windows_protocols/ms-rdpbcgr/18a27ef9-6f9a-4501-b000-94b1fe3c2c10
type ClientConnectionRequestPDU struct {
	Cookie      string
	ProtocolNeg Negotiation
}

// NewClientConnectionRequestPDU builds the request the proxy replays
// toward the real target, carrying the protocol bitmask the victim asked
// for (already filtered by the caller to what the proxy can speak).
func NewClientConnectionRequestPDU(requestedProtocols uint32) *ClientConnectionRequestPDU {
	return &ClientConnectionRequestPDU{
		Cookie: "Cookie: mstshash=DESKTOP-0",
		ProtocolNeg: Negotiation{
			Type:   TYPE_RDP_NEG_REQ,
			Length: 8,
			Result: requestedProtocols,
		}}
}

func (pdu *ClientConnectionRequestPDU) Serialize() []byte {
	buff := new(bytes.Buffer)
	core.WriteFull(buff, []byte(pdu.Cookie+"\r\n"))
	core.WriteLE(buff, &pdu.ProtocolNeg)
	return buff.Bytes()
}

func (pdu *ClientConnectionRequestPDU) Write(w io.Writer) {
	x224.Connect(w, x224.TPDU_CONNECTION_REQUEST, pdu.Serialize())
}
