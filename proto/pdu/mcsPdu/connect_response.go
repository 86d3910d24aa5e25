package mcsPdu

import (
	"io"

	"github.com/huin/asn1ber"
	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/glog"
	"github.com/proxysec/rdpmitm/proto/gcc"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// connectResponseASN1 is T.125's Connect-Response, [APPLICATION 102]
// IMPLICIT SEQUENCE.
type connectResponseASN1 struct {
	Result           int `asn1:"tag:10"` // ENUMERATED, 0 = rt-successful
	CalledConnectId  int
	DomainParameters DomainParameters
	UserData         []byte `asn1:"tag:4"`
}

const connectResponseTag uint8 = 102

// ServerMcsConnectResponsePDU is the server's reply to
// ClientMcsConnectInitialPdu: the outcome of the MCS domain negotiation
// plus the server's GCC settings (SC_CORE/SC_SECURITY/SC_NET).
type ServerMcsConnectResponsePDU struct {
	Result  int
	GccBlob gcc.ServerSettings
}

func (pdu *ServerMcsConnectResponsePDU) Read(r io.Reader) {
	data := x224.Read(r)
	inner := core.UnwrapBERApplicationTag(connectResponseTag, data)

	var body connectResponseASN1
	_, err := asn1ber.Unmarshal(inner, &body)
	core.ThrowError(err)

	pdu.Result = body.Result
	if pdu.Result != 0 {
		core.ThrowRDPErrorf(core.ErrNegotiationFailure, "mcs connect refused, result=%d", pdu.Result)
	}

	blocks := gcc.UnwrapConferenceCreateResponse(body.UserData)
	pdu.GccBlob.Read(blocks)
	glog.Debugf("mcs connect response: %+v", pdu.GccBlob.Core)
}

func (pdu *ServerMcsConnectResponsePDU) Serialize() []byte {
	body := connectResponseASN1{
		Result:           pdu.Result,
		CalledConnectId:  0,
		DomainParameters: DefaultMaximumParameters(),
		UserData:         gcc.WrapConferenceCreateResponse(pdu.GccBlob.Write()),
	}
	inner, err := asn1ber.Marshal(body)
	core.ThrowError(err)
	return core.WrapBERApplicationTag(connectResponseTag, inner)
}

func (pdu *ServerMcsConnectResponsePDU) Write(w io.Writer) {
	x224.Write(w, pdu.Serialize())
}
