// Package gcc implements the T.124 Generic Conference Control blob nested
// inside the MCS Connect-Initial/Connect-Response PDUs: the CORE, SECURITY
// and NETWORK settings blocks that negotiate desktop geometry, the legacy
// encryption method and the virtual channel set.
package gcc

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/glog"
	"github.com/proxysec/rdpmitm/proto/mcs/per"
)

// User data block type tags.
const (
	CS_CORE      uint16 = 0xC001
	CS_SECURITY  uint16 = 0xC002
	CS_NET       uint16 = 0xC003
	CS_CLUSTER   uint16 = 0xC004
	CS_MONITOR   uint16 = 0xC005
	SC_CORE      uint16 = 0x0C01
	SC_SECURITY  uint16 = 0x0C02
	SC_NET       uint16 = 0x0C03
)

// Block is one type-tagged, length-prefixed GCC user data block. Blocks
// whose type this package does not model (e.g. CS_CLUSTER, CS_MONITOR) are
// kept as raw bytes so the MITM path can forward them byte-for-byte.
type Block struct {
	Type   uint16
	Length uint16
	Data   []byte
}

// ReadBlock reads one block, validating that the declared length does not
// run past the remaining buffer.
func ReadBlock(r io.Reader, remaining int) (*Block, int) {
	if remaining < 4 {
		core.ThrowRDPErrorf(core.ErrMalformedPDU, "gcc block header truncated: %d bytes left", remaining)
	}
	b := &Block{}
	core.ReadLE(r, &b.Type)
	core.ReadLE(r, &b.Length)
	if int(b.Length) < 4 || int(b.Length)-4 > remaining-4 {
		core.ThrowRDPErrorf(core.ErrMalformedPDU, "gcc block length %d exceeds remaining %d", b.Length, remaining)
	}
	b.Data = core.ReadBytes(r, int(b.Length)-4)
	return b, remaining - int(b.Length)
}

func (b *Block) Write(w io.Writer) {
	b.Length = uint16(len(b.Data) + 4)
	core.WriteLE(w, &b.Type)
	core.WriteLE(w, &b.Length)
	core.WriteFull(w, b.Data)
}

// ReadBlocks decodes every block in a user-data blob of the given total
// length, invoking fn for each. Blocks fn doesn't recognize should have
// their Data stashed verbatim by the caller for pass-through.
func ReadBlocks(data []byte, fn func(b *Block)) {
	r := bytes.NewReader(data)
	remaining := len(data)
	for remaining > 0 {
		b, left := ReadBlock(r, remaining)
		fn(b)
		remaining = left
	}
}

// ClientSettings is the decoded set of GCC client blocks carried inside a
// Connect-Initial: the blocks this module understands plus any unknown
// ones preserved for pass-through.
type ClientSettings struct {
	Core     ClientCoreData
	Security ClientSecurityData
	Network  ClientNetworkData
	Unknown  []*Block
}

func (s *ClientSettings) Read(data []byte) {
	ReadBlocks(data, func(b *Block) {
		switch b.Type {
		case CS_CORE:
			s.Core.Read(bytes.NewReader(b.Data))
		case CS_SECURITY:
			s.Security.Read(bytes.NewReader(b.Data))
		case CS_NET:
			s.Network.Read(bytes.NewReader(b.Data))
		default:
			glog.Debugf("gcc: preserving unknown client block %#x (%d bytes)", b.Type, len(b.Data))
			s.Unknown = append(s.Unknown, b)
		}
	})
}

func (s *ClientSettings) Write() []byte {
	buf := new(bytes.Buffer)
	writeBlock(buf, CS_CORE, s.Core.Serialize())
	writeBlock(buf, CS_SECURITY, s.Security.Serialize())
	writeBlock(buf, CS_NET, s.Network.Serialize())
	for _, b := range s.Unknown {
		b.Write(buf)
	}
	return buf.Bytes()
}

// ServerSettings is the decoded set of GCC blocks in a Connect-Response.
type ServerSettings struct {
	Core     ServerCoreData
	Security ServerSecurityData
	Network  ServerNetworkData
	Unknown  []*Block
}

func (s *ServerSettings) Read(data []byte) {
	ReadBlocks(data, func(b *Block) {
		switch b.Type {
		case SC_CORE:
			s.Core.Read(bytes.NewReader(b.Data))
		case SC_SECURITY:
			s.Security.Read(bytes.NewReader(b.Data))
		case SC_NET:
			s.Network.Read(bytes.NewReader(b.Data))
		default:
			glog.Debugf("gcc: preserving unknown server block %#x (%d bytes)", b.Type, len(b.Data))
			s.Unknown = append(s.Unknown, b)
		}
	})
}

func (s *ServerSettings) Write() []byte {
	buf := new(bytes.Buffer)
	writeBlock(buf, SC_CORE, s.Core.Serialize())
	writeBlock(buf, SC_SECURITY, s.Security.Serialize())
	writeBlock(buf, SC_NET, s.Network.Serialize())
	for _, b := range s.Unknown {
		b.Write(buf)
	}
	return buf.Bytes()
}

func writeBlock(w io.Writer, typ uint16, data []byte) {
	b := &Block{Type: typ, Data: data}
	b.Write(w)
}

// conferenceCreateHeader is the fixed byte prefix every mstsc-compatible
// client writes ahead of the PER-encoded GCC blocks in a
// ConferenceCreateRequest: the object identifier for T.124's
// "0.0.20.124.0.1" arc and the h221NonStandard key "Duca" tagging the
// payload as RDP rather than generic T.124 conference data.
var conferenceCreateHeader = []byte{
	0x00, 0x05, 0x00, 0x14, 0x7c, 0x00, 0x01,
	0x2a, 0x14, 0x76, 0x0a, 0x01, 0x01, 0x00, 0x01, 0xc0, 0x00,
	0x44, 0x75, 0x63, 0x61,
}

// WrapConferenceCreateRequest builds T.124's ConferenceCreateRequest
// envelope around the concatenated GCC user-data blocks.
func WrapConferenceCreateRequest(gccBlocks []byte) []byte {
	buf := new(bytes.Buffer)
	buf.Write(conferenceCreateHeader)
	per.WriteLength(buf, len(gccBlocks))
	buf.Write(gccBlocks)
	return buf.Bytes()
}

// UnwrapConferenceCreateRequest strips the ConferenceCreateRequest
// envelope and returns the GCC user-data blocks it carries.
func UnwrapConferenceCreateRequest(data []byte) []byte {
	if len(data) < len(conferenceCreateHeader) {
		core.ThrowRDPErrorf(core.ErrMalformedPDU, "conference create request truncated")
	}
	r := bytes.NewReader(data[len(conferenceCreateHeader):])
	n := per.ReadLength(r)
	return core.ReadBytes(r, n)
}

// WrapConferenceCreateResponse mirrors WrapConferenceCreateRequest for the
// server's reply.
func WrapConferenceCreateResponse(gccBlocks []byte) []byte {
	buf := new(bytes.Buffer)
	buf.Write(conferenceCreateResponseHeader)
	per.WriteLength(buf, len(gccBlocks))
	buf.Write(gccBlocks)
	return buf.Bytes()
}

func UnwrapConferenceCreateResponse(data []byte) []byte {
	if len(data) < len(conferenceCreateResponseHeader) {
		core.ThrowRDPErrorf(core.ErrMalformedPDU, "conference create response truncated")
	}
	r := bytes.NewReader(data[len(conferenceCreateResponseHeader):])
	n := per.ReadLength(r)
	return core.ReadBytes(r, n)
}

var conferenceCreateResponseHeader = []byte{
	0x00, 0x05, 0x00, 0x14, 0x7c, 0x00, 0x01, 0x2a,
	0x14, 0x76, 0x0a, 0x01, 0x01, 0x00, 0x01, 0xc0, 0x00,
	0x04, 0x00, 0x01,
}
