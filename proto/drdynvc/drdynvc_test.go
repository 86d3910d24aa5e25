package drdynvc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMessage(t *testing.T, wire []byte) *DynamicVirtualChannelMessage {
	t.Helper()
	msg, err := ReadDynamicVirtualChannelMessage(bytes.NewReader(wire))
	require.NoError(t, err)
	return msg
}

func TestReadMessageSplitsCmdNibble(t *testing.T) {
	msg := readMessage(t, []byte{0x10, 0x04, 'a', 'u', 'd', 'i', 'o', 0x00})
	assert.Equal(t, DVC_CMD_CREATE, msg.Cmd)
	assert.Equal(t, uint8(0x10), msg.MessageType)
	assert.Equal(t, []byte{0x04, 'a', 'u', 'd', 'i', 'o', 0x00}, msg.Data)
}

func TestSerializeRoundTrip(t *testing.T) {
	wire := []byte{0x31, 0x05, 0x00, 0xde, 0xad}
	msg := readMessage(t, wire)
	assert.Equal(t, wire, msg.Serialize())
}

func TestReadMessageEmpty(t *testing.T) {
	_, err := ReadDynamicVirtualChannelMessage(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestParseCreateRequest(t *testing.T) {
	// cbId=0: one-byte channel id 4, then the channel name.
	msg := readMessage(t, append([]byte{0x10, 0x04}, []byte("Microsoft::Windows::RDS::Geometry\x00")...))
	req, err := ParseCreateRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), req.ChannelId)
	assert.Equal(t, "Microsoft::Windows::RDS::Geometry", req.ChannelName)
}

func TestParseCreateRequestWideChannelId(t *testing.T) {
	// cbId=1: two-byte little-endian channel id.
	msg := readMessage(t, []byte{0x11, 0x34, 0x12, 'e', 'c', 'h', 'o', 0x00})
	req, err := ParseCreateRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), req.ChannelId)
	assert.Equal(t, "echo", req.ChannelName)
}

func TestParseCreateResponse(t *testing.T) {
	msg := readMessage(t, []byte{0x10, 0x04, 0x00, 0x00, 0x00, 0x00})
	resp, err := ParseCreateResponse(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), resp.ChannelId)
	assert.Equal(t, uint32(0), resp.Status)
}

func TestParseCreateResponseTruncated(t *testing.T) {
	msg := readMessage(t, []byte{0x10, 0x04, 0x00})
	_, err := ParseCreateResponse(msg)
	assert.Error(t, err)
}

func TestParseDataSegment(t *testing.T) {
	msg := readMessage(t, []byte{0x30, 0x04, 0x01, 0x02, 0x03})
	seg, err := ParseDataSegment(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), seg.ChannelId)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, seg.Data)
}

func TestParseDataFirstSkipsTotalLength(t *testing.T) {
	// cmd=DATA_FIRST, sp=1 (two-byte length), cbId=0 (one-byte id).
	msg := readMessage(t, []byte{0x24, 0x04, 0x00, 0x01, 0xaa, 0xbb})
	seg, err := ParseDataSegment(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), seg.ChannelId)
	assert.Equal(t, []byte{0xaa, 0xbb}, seg.Data)
}

func TestParseCloseRequest(t *testing.T) {
	msg := readMessage(t, []byte{0x40, 0x07})
	req, err := ParseCloseRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), req.ChannelId)
}
