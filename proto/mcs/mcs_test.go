package mcs

import (
	"bytes"
	"testing"

	"github.com/proxysec/rdpmitm/proto/mcs/per"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachUserConfirmRoundTrip(t *testing.T) {
	in := &ServerAttachUserConfirm{UserId: 1007}
	out := &ServerAttachUserConfirm{}
	out.Read(bytes.NewReader(in.Serialize()))
	assert.Equal(t, uint16(1007), out.UserId)
}

func TestChannelJoinRequestRoundTrip(t *testing.T) {
	in := &ClientChannelJoinRequest{UserId: 1004, ChannelId: 1005}
	data := in.Serialize()

	r := bytes.NewReader(data)
	require.Equal(t, uint8(MCS_PDUTYPE_CHANNEL_JOIN_REQUEST), ReadMcsPduHeader(r))
	assert.Equal(t, uint16(1004), per.ReadInteger16(r, MCS_CHANNEL_USERID_BASE))
	assert.Equal(t, uint16(1005), per.ReadInteger16(r, 0))
}

func TestChannelJoinConfirmRoundTrip(t *testing.T) {
	in := &ServerChannelJoinConfirm{Result: 0, Initiator: 1004, Requested: 1005, ChannelId: 1005}
	out := &ServerChannelJoinConfirm{}
	out.Read(bytes.NewReader(in.Serialize()))
	assert.Equal(t, in.Result, out.Result)
	assert.Equal(t, in.Initiator, out.Initiator)
	assert.Equal(t, in.Requested, out.Requested)
	assert.Equal(t, in.ChannelId, out.ChannelId)
}

func TestChannelJoinRefusalOmitsChannelId(t *testing.T) {
	in := &ServerChannelJoinConfirm{Result: 1, Initiator: 1004, Requested: 1005}
	data := in.Serialize()

	out := &ServerChannelJoinConfirm{}
	out.Read(bytes.NewReader(data))
	assert.Equal(t, uint8(1), out.Result)
	assert.Equal(t, uint16(1005), out.Requested)
	assert.Zero(t, out.ChannelId)
}

func TestSendDataRequestRoundTrip(t *testing.T) {
	payload := []byte("share control pdu bytes")
	data := NewSendDataRequest(1004, 1003).Serialize(payload)

	pduType, channelId, got := ReadSendData(data)
	assert.Equal(t, uint8(MCS_PDUTYPE_SEND_DATA_REQUEST), pduType)
	assert.Equal(t, uint16(1003), channelId)
	assert.Equal(t, payload, got)
}

func TestSendDataIndicationRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5a}, 300) // forces the two-byte PER length form
	data := NewSendDataIndication(1002, 1005).Serialize(payload)

	pduType, channelId, got := ReadSendData(data)
	assert.Equal(t, uint8(MCS_PDUTYPE_SEND_DATA_INDICATION), pduType)
	assert.Equal(t, uint16(1005), channelId)
	assert.Equal(t, payload, got)
}

func TestReadSendDataRejectsOtherPDUs(t *testing.T) {
	data := (&ClientAttachUserRequest{}).Serialize()
	defer func() {
		assert.NotNil(t, recover())
	}()
	ReadSendData(data)
}

func TestDisconnectProviderUltimatumRoundTrip(t *testing.T) {
	for reason := uint8(0); reason < 8; reason++ {
		in := &DisconnectProviderUltimatum{Reason: reason}
		data := in.Serialize()

		require.Equal(t, uint8(MCS_PDUTYPE_DISCONNECT_PROVIDER_ULTIMATUM), ReadDomainPDUType(data))
		out := ReadDisconnectProviderUltimatum(data)
		assert.Equal(t, reason, out.Reason, "reason %d", reason)
	}
}
