package gcc

import (
	"bytes"
	"testing"

	"github.com/proxysec/rdpmitm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientNetworkDataRoundTrip(t *testing.T) {
	in := &ClientNetworkData{
		ChannelDefs: []ChannelDef{
			{Name: "rdpdr", Options: CHANNEL_OPTION_INITIALIZED | CHANNEL_OPTION_COMPRESS_RDP},
			{Name: "cliprdr", Options: CHANNEL_OPTION_INITIALIZED},
		},
	}
	data := in.Serialize()

	out := &ClientNetworkData{}
	out.Read(bytes.NewReader(data))

	require.Len(t, out.ChannelDefs, 2)
	assert.Equal(t, "rdpdr", out.ChannelDefs[0].Name)
	assert.Equal(t, in.ChannelDefs[0].Options, out.ChannelDefs[0].Options)
	assert.Equal(t, "cliprdr", out.ChannelDefs[1].Name)
}

func TestServerNetworkDataRoundTrip(t *testing.T) {
	in := &ServerNetworkData{
		McsChannelId:   1003,
		ChannelIdArray: []uint16{1004, 1005},
	}
	buf := new(bytes.Buffer)
	in.Write(buf)

	out := &ServerNetworkData{}
	out.Read(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, in.McsChannelId, out.McsChannelId)
	assert.Equal(t, in.ChannelIdArray, out.ChannelIdArray)
}

func TestReadBlockRejectsOverlengthBlock(t *testing.T) {
	buf := new(bytes.Buffer)
	typ := uint16(CS_CORE)
	length := uint16(200) // far larger than the data actually supplied
	core.WriteLE(buf, &typ)
	core.WriteLE(buf, &length)
	buf.Write([]byte{1, 2, 3, 4})

	var caught error
	core.TryCatch(func() {
		ReadBlock(bytes.NewReader(buf.Bytes()), buf.Len())
	}, func(e any) {
		caught = core.AsRDPError(e)
	})
	require.Error(t, caught)
	rerr, ok := caught.(*core.RDPError)
	require.True(t, ok)
	assert.Equal(t, core.ErrMalformedPDU, rerr.Type)
}

func TestClientSettingsPreservesUnknownBlocks(t *testing.T) {
	s := &ClientSettings{}
	s.Core.DesktopWidth = 1920
	s.Core.DesktopHeight = 1080
	s.Security.EncryptionMethods = ENCRYPTION_METHOD_128BIT
	s.Network.ChannelDefs = []ChannelDef{{Name: "rdpsnd"}}
	s.Unknown = append(s.Unknown, &Block{Type: CS_CLUSTER, Data: []byte{0, 0, 0, 0}})

	data := s.Write()

	out := &ClientSettings{}
	out.Read(data)
	assert.Equal(t, uint16(1920), out.Core.DesktopWidth)
	assert.Equal(t, ENCRYPTION_METHOD_128BIT, out.Security.EncryptionMethods)
	require.Len(t, out.Network.ChannelDefs, 1)
	assert.Equal(t, "rdpsnd", out.Network.ChannelDefs[0].Name)
	require.Len(t, out.Unknown, 1)
	assert.Equal(t, CS_CLUSTER, out.Unknown[0].Type)
}
