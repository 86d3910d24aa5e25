package gcc

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
)

// Color depth codes carried in ClientCoreData.ColorDepth.
const (
	RNS_UD_COLOR_4BPP  uint16 = 0xCA00
	RNS_UD_COLOR_8BPP  uint16 = 0xCA01
)

// ClientCoreData is the CS_CORE block: the client's desktop geometry,
// version, and the keyboard/locale fields every real client sends. Fields
// beyond ColorDepth are optional in the wire format (a client may truncate
// the block after any of them); fields missing from a truncated block are
// left at zero. Serialize always writes every field, so a block that came
// in truncated goes out at full length with the missing fields zero.
type ClientCoreData struct {
	Version              uint32
	DesktopWidth         uint16
	DesktopHeight        uint16
	ColorDepth           uint16
	SasSequence          uint16
	KeyboardLayout       uint32
	ClientBuild          uint32
	ClientName           [32]byte
	KeyboardType         uint32
	KeyboardSubType      uint32
	KeyboardFnKeys       uint32
	ImeFileName          [64]byte
	PostBeta2ColorDepth  uint16
	ClientProductId      uint16
	SerialNumber         uint32
	HighColorDepth       uint16
	SupportedColorDepths uint16
	EarlyCapabilityFlags uint16
	ClientDigProductId   [64]byte
	ConnectionType       uint8
	Pad1Octet            uint8
	ServerSelectedProtocol uint32

	Present int // 128 once the mandatory fields are decoded; optional tail fields are not counted
}

func (d *ClientCoreData) Read(r io.Reader) {
	core.ReadLE(r, &d.Version)
	core.ReadLE(r, &d.DesktopWidth)
	core.ReadLE(r, &d.DesktopHeight)
	core.ReadLE(r, &d.ColorDepth)
	core.ReadLE(r, &d.SasSequence)
	core.ReadLE(r, &d.KeyboardLayout)
	core.ReadLE(r, &d.ClientBuild)
	core.ReadLE(r, &d.ClientName)
	core.ReadLE(r, &d.KeyboardType)
	core.ReadLE(r, &d.KeyboardSubType)
	core.ReadLE(r, &d.KeyboardFnKeys)
	core.ReadLE(r, &d.ImeFileName)
	d.Present = 128

	tail := []func(){
		func() { core.ReadLE(r, &d.PostBeta2ColorDepth) },
		func() { core.ReadLE(r, &d.ClientProductId) },
		func() { core.ReadLE(r, &d.SerialNumber) },
		func() { core.ReadLE(r, &d.HighColorDepth) },
		func() { core.ReadLE(r, &d.SupportedColorDepths) },
		func() { core.ReadLE(r, &d.EarlyCapabilityFlags) },
		func() { core.ReadLE(r, &d.ClientDigProductId) },
		func() { core.ReadLE(r, &d.ConnectionType); core.ReadLE(r, &d.Pad1Octet) },
		func() { core.ReadLE(r, &d.ServerSelectedProtocol) },
	}
	for _, step := range tail {
		if !tryRead(step) {
			return
		}
	}
}

// tryRead runs fn against a reader bounded to a single GCC block, swallowing
// a short-read panic so optional trailing fields (every client truncates
// CS_CORE at a different point depending on its RDP version) are left at
// their zero value instead of aborting the whole block.
func tryRead(fn func()) (ok bool) {
	core.TryCatch(func() {
		fn()
		ok = true
	}, func(e any) {
		ok = false
	})
	return ok
}

func (d *ClientCoreData) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, &d.Version)
	core.WriteLE(buf, &d.DesktopWidth)
	core.WriteLE(buf, &d.DesktopHeight)
	core.WriteLE(buf, &d.ColorDepth)
	core.WriteLE(buf, &d.SasSequence)
	core.WriteLE(buf, &d.KeyboardLayout)
	core.WriteLE(buf, &d.ClientBuild)
	core.WriteLE(buf, &d.ClientName)
	core.WriteLE(buf, &d.KeyboardType)
	core.WriteLE(buf, &d.KeyboardSubType)
	core.WriteLE(buf, &d.KeyboardFnKeys)
	core.WriteLE(buf, &d.ImeFileName)
	core.WriteLE(buf, &d.PostBeta2ColorDepth)
	core.WriteLE(buf, &d.ClientProductId)
	core.WriteLE(buf, &d.SerialNumber)
	core.WriteLE(buf, &d.HighColorDepth)
	core.WriteLE(buf, &d.SupportedColorDepths)
	core.WriteLE(buf, &d.EarlyCapabilityFlags)
	core.WriteLE(buf, &d.ClientDigProductId)
	core.WriteLE(buf, &d.ConnectionType)
	core.WriteLE(buf, &d.Pad1Octet)
	core.WriteLE(buf, &d.ServerSelectedProtocol)
	return buf.Bytes()
}

// ServerCoreData is the SC_CORE block: the server's RDP version and, when
// present, the echo of the protocols the client requested and the early
// capability flags. The engines decide on TLS from the X.224 negotiation
// PDUs, not from this block.
type ServerCoreData struct {
	Version                uint32
	ClientRequestedProtocols uint32
	EarlyCapabilityFlags   uint32
}

func (d *ServerCoreData) Read(r io.Reader) {
	core.ReadLE(r, &d.Version)
	if !tryRead(func() { core.ReadLE(r, &d.ClientRequestedProtocols) }) {
		return
	}
	tryRead(func() { core.ReadLE(r, &d.EarlyCapabilityFlags) })
}

func (d *ServerCoreData) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, &d.Version)
	core.WriteLE(buf, &d.ClientRequestedProtocols)
	core.WriteLE(buf, &d.EarlyCapabilityFlags)
	return buf.Bytes()
}
