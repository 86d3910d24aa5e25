package virtualchannel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapSingleChunkRoundTrip(t *testing.T) {
	data := []byte("clipboard pdu bytes")
	wire := WrapSingleChunk(data)

	r := bytes.NewReader(wire)
	h := ChannelPDUHeader{}
	h.Read(r)
	assert.Equal(t, uint32(len(data)), h.TotalLength)
	assert.Equal(t, CHANNEL_FLAG_FIRST|CHANNEL_FLAG_LAST, h.Flags)

	a := &Assembler{}
	out, complete := a.Push(wire)
	require.True(t, complete)
	assert.Equal(t, data, out)
}

func TestAssemblerReassemblesChunks(t *testing.T) {
	full := bytes.Repeat([]byte{0xab}, 10)

	chunk := func(flags uint32, body []byte) []byte {
		buf := new(bytes.Buffer)
		h := ChannelPDUHeader{TotalLength: uint32(len(full)), Flags: flags}
		h.Write(buf)
		buf.Write(body)
		return buf.Bytes()
	}

	a := &Assembler{}
	out, complete := a.Push(chunk(CHANNEL_FLAG_FIRST, full[:4]))
	assert.False(t, complete)
	assert.Nil(t, out)

	out, complete = a.Push(chunk(0, full[4:7]))
	assert.False(t, complete)
	assert.Nil(t, out)

	out, complete = a.Push(chunk(CHANNEL_FLAG_LAST, full[7:]))
	require.True(t, complete)
	assert.Equal(t, full, out)
}

func TestAssemblerResetsOnNewFirstChunk(t *testing.T) {
	a := &Assembler{}
	_, complete := a.Push(WrapSingleChunk([]byte("one"))[:8+2]) // FIRST|LAST but truncated body
	assert.True(t, complete)                                    // LAST flag still ends the message

	out, complete := a.Push(WrapSingleChunk([]byte("two")))
	require.True(t, complete)
	assert.Equal(t, []byte("two"), out)
}

func TestVirtualChannelManager(t *testing.T) {
	m := NewVirtualChannelManager()
	require.NoError(t, m.RegisterChannel(&VirtualChannel{ID: 1004, Name: CHANNEL_NAME_CLIPRDR}))
	assert.Error(t, m.RegisterChannel(&VirtualChannel{ID: 1004, Name: "dup"}))

	ch, ok := m.GetChannel(1004)
	require.True(t, ok)
	assert.Equal(t, CHANNEL_NAME_CLIPRDR, ch.Name)

	byName, ok := m.GetChannelByName(CHANNEL_NAME_CLIPRDR)
	require.True(t, ok)
	assert.Equal(t, uint16(1004), byName.ID)

	assert.Len(t, m.ListChannels(), 1)
}
