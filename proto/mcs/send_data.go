package mcs

import (
	"bytes"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/mcs/per"
)

// SendDataIndication carries a channel payload from server to client (the
// direction ClientEngine uses toward the victim it plays RDP-server for,
// and the direction ServerEngine receives from the real target).
type SendDataIndication struct {
	UserId    uint16
	ChannelId uint16
}

func NewSendDataIndication(userId, channelId uint16) *SendDataIndication {
	return &SendDataIndication{UserId: userId, ChannelId: channelId}
}

func (s *SendDataIndication) Serialize(data []byte) []byte {
	buf := new(bytes.Buffer)
	WriteMcsPduHeader(buf, MCS_PDUTYPE_SEND_DATA_INDICATION, 0)
	per.WriteInteger16(buf, s.UserId, MCS_CHANNEL_USERID_BASE)
	per.WriteInteger16(buf, s.ChannelId, 0)
	core.WriteUInt8(buf, 0x70)
	per.WriteOctetString(buf, data, 0)
	return buf.Bytes()
}

// ReadSendData parses an already X.224-unwrapped domain PDU that is
// either a SendDataRequest or a SendDataIndication; the two are
// identical on the wire apart from the header's PDU-type nibble, and the
// MITM coupler needs to read whichever one the transport it's bridging
// actually produces. It returns the PDU type read, the channel id, and
// the channel payload.
func ReadSendData(data []byte) (pduType uint8, channelId uint16, payload []byte) {
	r := bytes.NewReader(data)
	pduType = ReadMcsPduHeader(r)
	core.ThrowIf(pduType != MCS_PDUTYPE_SEND_DATA_REQUEST && pduType != MCS_PDUTYPE_SEND_DATA_INDICATION,
		"expected send data request/indication")
	per.ReadInteger16(r, MCS_CHANNEL_USERID_BASE) // initiator, unused by the relay
	channelId = per.ReadInteger16(r, 0)
	core.ReadUInt8(r) // data priority + segmentation flags
	payload = per.ReadOctetString(r, 0)
	return
}

// ReadDomainPDUType peeks at a domain PDU's type without consuming data
// beyond the header byte, used by the relay loop to distinguish a
// SendData payload from a DisconnectProviderUltimatum arriving mid-session.
func ReadDomainPDUType(data []byte) uint8 {
	return ReadMcsPduHeader(bytes.NewReader(data))
}
