package gcc

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/glog"
)

// ServerNetworkData is the SC_NET block: the MCS channel id of the I/O
// channel, plus the server-assigned id for every channel the client asked
// for, in the same order as the client's ClientNetworkData.ChannelDefs.
// https://learn.microsoft.com/en-us/openspecs/windows_protocols/ms-rdpbcgr/89fa11de-5275-4106-9cf1-e5aa7709436c
type ServerNetworkData struct {
	McsChannelId   uint16
	ChannelCount   uint16
	ChannelIdArray []uint16
}

func (d *ServerNetworkData) Read(r io.Reader) {
	core.ReadLE(r, &d.McsChannelId)
	core.ReadLE(r, &d.ChannelCount)
	d.ChannelIdArray = make([]uint16, d.ChannelCount)
	core.ReadLE(r, d.ChannelIdArray)
	glog.Debugf("server network data: %+v", d)
}

func (d *ServerNetworkData) Write(w io.Writer) {
	d.ChannelCount = uint16(len(d.ChannelIdArray))
	core.WriteLE(w, &d.McsChannelId)
	core.WriteLE(w, &d.ChannelCount)
	core.WriteLE(w, d.ChannelIdArray)
	if d.ChannelCount%2 != 0 {
		core.WriteLE(w, uint16(0)) // pad to a 4-byte boundary
	}
}

func (d *ServerNetworkData) Serialize() []byte {
	buf := new(bytes.Buffer)
	d.Write(buf)
	return buf.Bytes()
}
