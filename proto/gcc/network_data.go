package gcc

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
)

// Per-channel option flags (MS-RDPBCGR 2.2.1.3.4.1).
const (
	CHANNEL_OPTION_INITIALIZED uint32 = 0x80000000
	CHANNEL_OPTION_ENCRYPT_RDP uint32 = 0x40000000
	CHANNEL_OPTION_COMPRESS_RDP uint32 = 0x00400000
	CHANNEL_OPTION_SHOW_PROTOCOL uint32 = 0x00200000
)

// ChannelDef is one requested static virtual channel: an ASCII name, up to
// 7 characters and nul-padded to 8, plus option flags.
type ChannelDef struct {
	Name    string
	Options uint32
}

// ClientNetworkData is the CS_NET block: the list of static virtual
// channels the client wants bound, in request order. The server replies
// with a parallel ServerNetworkData.ChannelIdArray assigning each an MCS
// channel id in the same order.
type ClientNetworkData struct {
	ChannelCount uint32
	ChannelDefs  []ChannelDef
}

func (d *ClientNetworkData) Read(r io.Reader) {
	core.ReadLE(r, &d.ChannelCount)
	core.ThrowIf(d.ChannelCount > 31, "too many virtual channels requested")
	d.ChannelDefs = make([]ChannelDef, d.ChannelCount)
	for i := range d.ChannelDefs {
		raw := core.ReadBytes(r, 8)
		d.ChannelDefs[i].Name = nameFromBytes(raw)
		var opts uint32
		core.ReadLE(r, &opts)
		d.ChannelDefs[i].Options = opts
	}
}

func (d *ClientNetworkData) Serialize() []byte {
	buf := new(bytes.Buffer)
	d.ChannelCount = uint32(len(d.ChannelDefs))
	core.WriteLE(buf, &d.ChannelCount)
	for _, ch := range d.ChannelDefs {
		core.WriteFull(buf, nameToBytes(ch.Name))
		opts := ch.Options
		core.WriteLE(buf, &opts)
	}
	return buf.Bytes()
}

func nameFromBytes(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

func nameToBytes(name string) []byte {
	b := make([]byte, 8)
	copy(b, name)
	return b
}
