// Package mcs implements the T.125 Multipoint Communication Service domain:
// attach-user, channel-join and send-data, the multiplexer that every
// virtual channel and the I/O channel ride on top of. Connect-Initial and
// Connect-Response (BER-encoded, carrying the GCC conference blob) live in
// proto/pdu/mcsPdu; this package covers the PER-encoded domain PDUs that
// follow.
package mcs

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/mcs/per"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// Domain PDU type codes (T.125 DomainMCSPDU CHOICE index).
const (
	MCS_PDUTYPE_ERECT_DOMAIN_REQUEST        = 1
	MCS_PDUTYPE_DISCONNECT_PROVIDER_ULTIMATUM = 8
	MCS_PDUTYPE_ATTACH_USER_REQUEST         = 10
	MCS_PDUTYPE_ATTACH_USER_CONFIRM         = 11
	MCS_PDUTYPE_CHANNEL_JOIN_REQUEST        = 14
	MCS_PDUTYPE_CHANNEL_JOIN_CONFIRM        = 15
	MCS_PDUTYPE_SEND_DATA_REQUEST           = 25
	MCS_PDUTYPE_SEND_DATA_INDICATION        = 26
)

// Well-known channel ids.
const (
	MCS_CHANNEL_USERID_BASE = 1001
	MCS_CHANNEL_GLOBAL      = 1003 // the I/O channel
)

// WriteMcsPduHeader packs the domain PDU type and a 2-bit options field
// into the single header byte every domain PDU begins with.
func WriteMcsPduHeader(w io.Writer, pduType uint8, options uint8) {
	core.WriteUInt8(w, (pduType<<2)|(options&0x03))
}

// ReadMcsPduHeader reads the header byte and returns the PDU type.
func ReadMcsPduHeader(r io.Reader) uint8 {
	return core.ReadUInt8(r) >> 2
}

// ClientAttachUserRequest requests a user id from the domain.
type ClientAttachUserRequest struct{}

func (c *ClientAttachUserRequest) Write(w io.Writer) {
	WriteMcsPduHeader(w, MCS_PDUTYPE_ATTACH_USER_REQUEST, 0)
}

func (c *ClientAttachUserRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	c.Write(buf)
	return buf.Bytes()
}

// ServerChannelJoinConfirm is the server's reply to a ChannelJoinRequest.
// Result 0 means success; any other value means the channel was refused.
type ServerChannelJoinConfirm struct {
	Result    uint8
	Initiator uint16
	Requested uint16
	ChannelId uint16
}

func (c *ServerChannelJoinConfirm) Read(r io.Reader) {
	core.ThrowIf(ReadMcsPduHeader(r) != MCS_PDUTYPE_CHANNEL_JOIN_CONFIRM, "invalid pdu type")
	c.Result = per.ReadEnumerated(r)
	c.Initiator = per.ReadInteger16(r, MCS_CHANNEL_USERID_BASE)
	c.Requested = per.ReadInteger16(r, 0)
	if c.Result == 0 {
		c.ChannelId = per.ReadInteger16(r, 0)
	}
}

func (c *ServerChannelJoinConfirm) Write(w io.Writer) {
	// options bit 1 marks the optional channelId field, present only on
	// success; a refusal omits it, which is how the reader knows to stop.
	options := uint8(0)
	if c.Result == 0 {
		options = 2
	}
	WriteMcsPduHeader(w, MCS_PDUTYPE_CHANNEL_JOIN_CONFIRM, options)
	per.WriteEnumerated(w, c.Result)
	per.WriteInteger16(w, c.Initiator, MCS_CHANNEL_USERID_BASE)
	per.WriteInteger16(w, c.Requested, 0)
	if c.Result == 0 {
		per.WriteInteger16(w, c.ChannelId, 0)
	}
}

func (c *ServerChannelJoinConfirm) Serialize() []byte {
	buf := new(bytes.Buffer)
	c.Write(buf)
	return buf.Bytes()
}

// ClientChannelJoinRequest asks the domain to join userId to channelId.
type ClientChannelJoinRequest struct {
	UserId    uint16
	ChannelId uint16
}

func (c *ClientChannelJoinRequest) Write(w io.Writer) {
	WriteMcsPduHeader(w, MCS_PDUTYPE_CHANNEL_JOIN_REQUEST, 0)
	per.WriteInteger16(w, c.UserId, MCS_CHANNEL_USERID_BASE)
	per.WriteInteger16(w, c.ChannelId, 0)
}

func (c *ClientChannelJoinRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	c.Write(buf)
	return buf.Bytes()
}

// SendDataRequest carries a channel payload from client to server (or, on
// the MITM's server-facing engine, the equivalent outbound direction).
type SendDataRequest struct {
	UserId    uint16
	ChannelId uint16
}

func NewSendDataRequest(userId, channelId uint16) *SendDataRequest {
	return &SendDataRequest{UserId: userId, ChannelId: channelId}
}

func (s *SendDataRequest) Serialize(data []byte) []byte {
	buf := new(bytes.Buffer)
	WriteMcsPduHeader(buf, MCS_PDUTYPE_SEND_DATA_REQUEST, 0)
	per.WriteInteger16(buf, s.UserId, MCS_CHANNEL_USERID_BASE)
	per.WriteInteger16(buf, s.ChannelId, 0)
	core.WriteUInt8(buf, 0x70) // data priority + segmentation flags, both fragments
	per.WriteOctetString(buf, data, 0)
	return buf.Bytes()
}

// DisconnectProviderUltimatum is sent by either side to tear a domain down
// cooperatively; the MITM coupler mirrors it onto the opposite connection
// as part of the symmetric shutdown described for cancellation.
type DisconnectProviderUltimatum struct {
	Reason uint8
}

func (d *DisconnectProviderUltimatum) Write(w io.Writer) {
	WriteMcsPduHeader(w, MCS_PDUTYPE_DISCONNECT_PROVIDER_ULTIMATUM, d.Reason>>1)
	core.WriteUInt8(w, (d.Reason&1)<<7)
}

func (d *DisconnectProviderUltimatum) Serialize() []byte {
	buf := new(bytes.Buffer)
	d.Write(buf)
	return buf.Bytes()
}

// ReadDisconnectProviderUltimatum parses an already X.224-unwrapped domain
// PDU known (via ReadDomainPDUType) to be a DisconnectProviderUltimatum.
// The mirror of Write's bit packing: the low 2 bits of the header byte and
// the top bit of the byte that follows.
func ReadDisconnectProviderUltimatum(data []byte) *DisconnectProviderUltimatum {
	r := bytes.NewReader(data)
	b := core.ReadUInt8(r)
	top := (b & 0x03) << 1
	bottom := (core.ReadUInt8(r) >> 7) & 1
	return &DisconnectProviderUltimatum{Reason: top | bottom}
}

// WriteDomainPDU wraps a serialized domain PDU in the X.224 Data envelope.
func WriteDomainPDU(w io.Writer, data []byte) {
	x224.Write(w, data)
}
