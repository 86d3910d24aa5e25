// Package drdynvc decodes the dynamic virtual channel transport
// (MS-RDPEDYC) that rides the static "drdynvc" channel: the cmd/cbId
// header byte, channel create/close negotiation and data segments. The
// proxy forwards DVC traffic opaquely; decoding exists so the relay can
// log which dynamic channels a session negotiates and tell control
// traffic from data.
package drdynvc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/proxysec/rdpmitm/core"
)

// Cmd values from the header byte's high nibble.
const (
	DVC_CMD_CREATE     uint8 = 0x01
	DVC_CMD_DATA_FIRST uint8 = 0x02
	DVC_CMD_DATA       uint8 = 0x03
	DVC_CMD_CLOSE      uint8 = 0x04
	DVC_CMD_CAPABILITY uint8 = 0x05
)

// DynamicVirtualChannelMessage is one DVC PDU: the raw header byte, its
// decoded cmd nibble, and everything after the header byte.
type DynamicVirtualChannelMessage struct {
	MessageType uint8 // raw header byte: cmd high nibble, sp/cbId low bits
	Cmd         uint8
	Data        []byte
}

// ReadDynamicVirtualChannelMessage decodes one DVC PDU from an already
// reassembled virtual channel message.
func ReadDynamicVirtualChannelMessage(r io.Reader) (*DynamicVirtualChannelMessage, error) {
	msg := &DynamicVirtualChannelMessage{}
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("dvc header: %w", err)
	}
	msg.MessageType = hdr[0]
	msg.Cmd = hdr[0] >> 4

	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("dvc body: %w", err)
	}
	msg.Data = rest
	return msg, nil
}

// Serialize re-encodes the message, byte-identical to what was read.
func (m *DynamicVirtualChannelMessage) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteUInt8(buf, m.MessageType)
	buf.Write(m.Data)
	return buf.Bytes()
}

// channelIdLen maps a two-bit width field (cbId, or sp for DATA_FIRST's
// length) to the encoded byte width.
func channelIdLen(bits uint8) int {
	switch bits & 0x03 {
	case 0:
		return 1
	case 1:
		return 2
	default:
		return 4
	}
}

func readLittleEndian(r *bytes.Reader, width int) (uint32, error) {
	b := make([]byte, width)
	if _, err := io.ReadFull(r, b); err != nil {
		return 0, err
	}
	v := uint32(0)
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v, nil
}

// CreateRequest is the server-to-client DVC create: the channel id the
// server assigned and the name identifying the dynamic channel protocol.
type CreateRequest struct {
	ChannelId   uint32
	ChannelName string
}

// ParseCreateRequest decodes a DVC_CMD_CREATE message body, using the
// header's cbId bits for the channel id width.
func ParseCreateRequest(msg *DynamicVirtualChannelMessage) (*CreateRequest, error) {
	r := bytes.NewReader(msg.Data)
	id, err := readLittleEndian(r, channelIdLen(msg.MessageType))
	if err != nil {
		return nil, fmt.Errorf("dvc create request: %w", err)
	}
	name, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return &CreateRequest{ChannelId: id, ChannelName: string(name)}, nil
}

// CreateResponse is the client's answer to a create: the echoed channel
// id and an HRESULT-style status, zero on success.
type CreateResponse struct {
	ChannelId uint32
	Status    uint32
}

// ParseCreateResponse decodes a DVC_CMD_CREATE message flowing in the
// response direction.
func ParseCreateResponse(msg *DynamicVirtualChannelMessage) (*CreateResponse, error) {
	r := bytes.NewReader(msg.Data)
	id, err := readLittleEndian(r, channelIdLen(msg.MessageType))
	if err != nil {
		return nil, fmt.Errorf("dvc create response: %w", err)
	}
	status, err := readLittleEndian(r, 4)
	if err != nil {
		return nil, fmt.Errorf("dvc create response status: %w", err)
	}
	return &CreateResponse{ChannelId: id, Status: status}, nil
}

// DataSegment is one DVC data message: the dynamic channel it belongs to
// and the payload bytes carried in this segment.
type DataSegment struct {
	ChannelId uint32
	Data      []byte
}

// ParseDataSegment decodes a DVC_CMD_DATA or DVC_CMD_DATA_FIRST body.
// DATA_FIRST additionally carries a total-length field ahead of the
// payload, which the relay (forwarding segments as-is) does not need, so
// it is consumed and dropped.
func ParseDataSegment(msg *DynamicVirtualChannelMessage) (*DataSegment, error) {
	r := bytes.NewReader(msg.Data)
	id, err := readLittleEndian(r, channelIdLen(msg.MessageType))
	if err != nil {
		return nil, fmt.Errorf("dvc data: %w", err)
	}
	if msg.Cmd == DVC_CMD_DATA_FIRST {
		// the sp bits give the length field's width the same way cbId
		// gives the channel id's.
		if _, err := readLittleEndian(r, channelIdLen(msg.MessageType>>2)); err != nil {
			return nil, fmt.Errorf("dvc data first length: %w", err)
		}
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &DataSegment{ChannelId: id, Data: payload}, nil
}

// CloseRequest tears one dynamic channel down; either side may send it.
type CloseRequest struct {
	ChannelId uint32
}

// ParseCloseRequest decodes a DVC_CMD_CLOSE body.
func ParseCloseRequest(msg *DynamicVirtualChannelMessage) (*CloseRequest, error) {
	r := bytes.NewReader(msg.Data)
	id, err := readLittleEndian(r, channelIdLen(msg.MessageType))
	if err != nil {
		return nil, fmt.Errorf("dvc close: %w", err)
	}
	return &CloseRequest{ChannelId: id}, nil
}
