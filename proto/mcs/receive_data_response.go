package mcs

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/mcs/per"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// ReceiveDataResponse reads one SendDataIndication off the transport;
// the blocking-read form the target-facing engine uses during its
// handshake (licensing), before the relay's segment dispatcher takes
// over the steady state.
type ReceiveDataResponse struct{}

// Read consumes one X.224-framed SendDataIndication and returns the
// channel id it arrived on and the channel payload.
func (res *ReceiveDataResponse) Read(r io.Reader) (uint16, []byte) {
	data := x224.Read(r)
	rd := bytes.NewReader(data)
	pduHeader := ReadMcsPduHeader(rd)
	core.ThrowIf(pduHeader != MCS_PDUTYPE_SEND_DATA_INDICATION, "expected send data indication")
	per.ReadInteger16(rd, MCS_CHANNEL_USERID_BASE) // initiator
	channelId := per.ReadInteger16(rd, 0)
	core.ReadUInt8(rd) // data priority + segmentation
	return channelId, per.ReadOctetString(rd, 0)
}
