package mcsPdu

import (
	"io"

	"github.com/huin/asn1ber"
	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/gcc"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// DomainParameters is T.125's DomainParameters SEQUENCE, sent three times
// in a Connect-Initial (target/minimum/maximum) and once in a
// Connect-Response. Real clients and servers haggle over these; this
// proxy does not forward them: Read discards the received values, and
// each leg is sent the fixed defaults below.
type DomainParameters struct {
	MaxChannelIds   int `asn1:"tag:2"`
	MaxUserIds      int `asn1:"tag:2"`
	MaxTokenIds     int `asn1:"tag:2"`
	NumPriorities   int `asn1:"tag:2"`
	MinThroughput   int `asn1:"tag:2"`
	MaxHeight       int `asn1:"tag:2"`
	MaxMCSPDUsize   int `asn1:"tag:2"`
	ProtocolVersion int `asn1:"tag:2"`
}

// DefaultTargetParameters, DefaultMinimumParameters and
// DefaultMaximumParameters mirror the fixed values every mstsc-compatible
// client sends.
func DefaultTargetParameters() DomainParameters {
	return DomainParameters{34, 2, 0, 1, 0, 1, 0xffff, 2}
}
func DefaultMinimumParameters() DomainParameters {
	return DomainParameters{1, 1, 1, 1, 0, 1, 0x420, 2}
}
func DefaultMaximumParameters() DomainParameters {
	return DomainParameters{0xffff, 0xfc17, 0xffff, 1, 0, 1, 0xffff, 2}
}

// connectInitialASN1 is the wire shape of T.125's Connect-Initial,
// [APPLICATION 101] IMPLICIT SEQUENCE. The GCC conference-create blob
// travels inside UserData as an opaque octet string.
type connectInitialASN1 struct {
	CallingDomainSelector []byte `asn1:"tag:4"`
	CalledDomainSelector  []byte `asn1:"tag:4"`
	UpwardFlag            bool
	TargetParameters      DomainParameters
	MinimumParameters     DomainParameters
	MaximumParameters     DomainParameters
	UserData              []byte `asn1:"tag:4"`
}

const connectInitialTag uint8 = 101

// ClientMcsConnectInitialPdu is the first MCS-layer PDU: an X.224 Data TPDU
// carrying the BER-encoded Connect-Initial, whose UserData is the GCC
// Conference-Create-Request (client core/security/network settings).
type ClientMcsConnectInitialPdu struct {
	GccBlob gcc.ClientSettings
}

func NewClientMcsConnectInitialPdu(settings gcc.ClientSettings) *ClientMcsConnectInitialPdu {
	return &ClientMcsConnectInitialPdu{GccBlob: settings}
}

func (p *ClientMcsConnectInitialPdu) Serialize() []byte {
	asn1Body := connectInitialASN1{
		CallingDomainSelector: []byte{0x01},
		CalledDomainSelector:  []byte{0x01},
		UpwardFlag:            true,
		TargetParameters:      DefaultTargetParameters(),
		MinimumParameters:     DefaultMinimumParameters(),
		MaximumParameters:     DefaultMaximumParameters(),
		UserData:              gcc.WrapConferenceCreateRequest(p.GccBlob.Write()),
	}
	inner, err := asn1ber.Marshal(asn1Body)
	core.ThrowError(err)
	return core.WrapBERApplicationTag(connectInitialTag, inner)
}

func (p *ClientMcsConnectInitialPdu) Write(w io.Writer) {
	x224.Write(w, p.Serialize())
}

// Read decodes a Connect-Initial received on the victim-facing leg,
// where this proxy plays the server role: BER envelope, domain
// parameters, and the nested GCC conference-create blob.
func (p *ClientMcsConnectInitialPdu) Read(r io.Reader) {
	data := x224.Read(r)
	inner := core.UnwrapBERApplicationTag(connectInitialTag, data)

	var body connectInitialASN1
	_, err := asn1ber.Unmarshal(inner, &body)
	core.ThrowError(err)

	blocks := gcc.UnwrapConferenceCreateRequest(body.UserData)
	p.GccBlob.Read(blocks)
}
