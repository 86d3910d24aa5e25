package sec

import (
	"io"

	"github.com/proxysec/rdpmitm/core"
)

// TsAutoReconnectInfo is the ARC_CS_PRIVATE_PACKET cookie a reconnecting
// client appends to its extended client info. The proxy never initiates a
// reconnect itself, but a victim mid-reconnect will send one, and it has
// to survive the round trip onto the target leg for the reconnect to work.
// https://learn.microsoft.com/en-us/openspecs/windows_protocols/ms-rdpbcgr/0f9f0375-876b-4c01-8ff9-2c9e5b75b6a8
type TsAutoReconnectInfo struct {
	LogonIdInfo   [16]byte
	ArcRandomBits [16]byte
}

// AutoReconnectInfoSize is the cookie's fixed on-wire length, advertised
// in the extended info's cbAutoReconnectLen field.
const AutoReconnectInfoSize = 32

func (i *TsAutoReconnectInfo) Read(r io.Reader) {
	core.ReadLE(r, &i.LogonIdInfo)
	core.ReadLE(r, &i.ArcRandomBits)
}

func (i *TsAutoReconnectInfo) Write(w io.Writer) {
	core.WriteFull(w, i.LogonIdInfo[:])
	core.WriteFull(w, i.ArcRandomBits[:])
}
