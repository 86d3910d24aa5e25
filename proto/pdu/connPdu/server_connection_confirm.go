package connPdu

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/proto/x224"
)

// ServerConnectionConfirmPDU is the X.224 Connection Confirm carrying the
// server's negotiation reply: either an RDP_NEG_RSP naming the selected
// protocol, or an RDP_NEG_FAILURE, or (against a pre-negotiation server)
// nothing at all, in which case ProtocolNeg stays zero and the connection
// falls back to legacy RDP security.
type ServerConnectionConfirmPDU struct {
	ProtocolNeg Negotiation
	HasNeg      bool
}

func (pdu *ServerConnectionConfirmPDU) Read(r io.Reader) {
	data := x224.ReadConnect(r)
	if len(data) < 8 {
		pdu.HasNeg = false
		return
	}
	pdu.ProtocolNeg.Read(bytes.NewReader(data))
	pdu.HasNeg = true
}

func (pdu *ServerConnectionConfirmPDU) Write(w io.Writer) {
	buf := new(bytes.Buffer)
	pdu.ProtocolNeg.Write(buf)
	x224.Connect(w, x224.TPDU_CONNECTION_CONFIRM, buf.Bytes())
}
