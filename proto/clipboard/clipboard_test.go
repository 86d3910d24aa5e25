package clipboard

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadClipboardMessageRoundTrip(t *testing.T) {
	original := NewFormatListMessage(CF_UNICODETEXT, CF_DIB)
	wire := original.Serialize()

	msg, err := ReadClipboardMessage(bytes.NewReader(wire))
	require.NoError(t, err)
	assert.Equal(t, CLIPRDR_MSG_TYPE_FORMAT_LIST, msg.MessageType)
	assert.Equal(t, original.Data, msg.Data)
	assert.Equal(t, wire, msg.Serialize())
}

func TestReadClipboardMessageTruncated(t *testing.T) {
	wire := NewFormatDataResponseMessage([]byte("ABC\x00")).Serialize()
	_, err := ReadClipboardMessage(bytes.NewReader(wire[:len(wire)-2]))
	assert.Error(t, err)
}

func TestParseFormatList(t *testing.T) {
	msg := NewFormatListMessage(CF_UNICODETEXT)
	formats := ParseFormatList(msg.Data)
	require.Len(t, formats, 1)
	assert.Equal(t, CF_UNICODETEXT, formats[0])
	assert.Equal(t, "CF_UNICODETEXT", GetFormatName(formats[0]))
}

func TestParseFormatListWithNames(t *testing.T) {
	buf := new(bytes.Buffer)
	// long layout: id then a nul-terminated UTF-16 name.
	buf.Write([]byte{0x0d, 0x00, 0x00, 0x00})
	buf.Write([]byte{'T', 0, 'X', 0, 0, 0})
	buf.Write([]byte{0x08, 0x00, 0x00, 0x00})
	buf.Write([]byte{0, 0})

	formats := ParseFormatList(buf.Bytes())
	assert.Equal(t, []ClipboardFormat{CF_UNICODETEXT, CF_DIB}, formats)
}

func TestFormatDataRequestResponse(t *testing.T) {
	reqBody := []byte{0x0d, 0x00, 0x00, 0x00}
	format, err := ParseFormatDataRequest(reqBody)
	require.NoError(t, err)
	assert.Equal(t, CF_UNICODETEXT, format)

	resp := NewFormatDataResponseMessage([]byte("ABC\x00"))
	assert.Equal(t, CLIPRDR_MSG_TYPE_FORMAT_DATA_RESPONSE, resp.MessageType)
	assert.Equal(t, CB_RESPONSE_OK, resp.MessageFlags)

	decoded, err := ReadClipboardMessage(bytes.NewReader(resp.Serialize()))
	require.NoError(t, err)
	assert.Equal(t, []byte("ABC\x00"), decoded.Data)
}

func TestParseFormatDataRequestTooShort(t *testing.T) {
	_, err := ParseFormatDataRequest([]byte{0x0d})
	assert.Error(t, err)
}
