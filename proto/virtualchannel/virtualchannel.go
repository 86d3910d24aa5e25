// Package virtualchannel implements the static virtual channel layer
// (MS-RDPBCGR 2.2.6): the CHANNEL_PDU_HEADER that fronts every chunk, the
// chunk reassembly rules, and the registry of channels a session has
// bound. Named-channel payload formats live in their own packages
// (proto/clipboard, proto/drdynvc); this one only carries and reassembles.
package virtualchannel

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/proxysec/rdpmitm/core"
)

// Chunking flags from the CHANNEL_PDU_HEADER.
const (
	CHANNEL_FLAG_FIRST         uint32 = 0x00000001
	CHANNEL_FLAG_LAST          uint32 = 0x00000002
	CHANNEL_FLAG_SHOW_PROTOCOL uint32 = 0x00000010
	CHANNEL_FLAG_SUSPEND       uint32 = 0x00000020
	CHANNEL_FLAG_RESUME        uint32 = 0x00000040
)

// Well-known static channel names.
const (
	CHANNEL_NAME_CLIPRDR = "cliprdr" // clipboard redirection
	CHANNEL_NAME_RDPDR   = "rdpdr"   // device redirection
	CHANNEL_NAME_RDPSND  = "rdpsnd"  // audio redirection
	CHANNEL_NAME_DRDYNVC = "drdynvc" // dynamic virtual channel transport
)

// ChannelPDUHeader is the 8-byte header on every virtual channel chunk:
// the total length of the reassembled message and the chunking flags.
type ChannelPDUHeader struct {
	TotalLength uint32
	Flags       uint32
}

func (h *ChannelPDUHeader) Read(r io.Reader) {
	core.ReadLE(r, &h.TotalLength)
	core.ReadLE(r, &h.Flags)
}

func (h *ChannelPDUHeader) Write(w io.Writer) {
	core.WriteLE(w, &h.TotalLength)
	core.WriteLE(w, &h.Flags)
}

// WrapSingleChunk frames data as one FIRST|LAST chunk, the common case
// for the small control messages the proxy inspects and forwards.
func WrapSingleChunk(data []byte) []byte {
	buf := new(bytes.Buffer)
	h := ChannelPDUHeader{TotalLength: uint32(len(data)), Flags: CHANNEL_FLAG_FIRST | CHANNEL_FLAG_LAST}
	h.Write(buf)
	buf.Write(data)
	return buf.Bytes()
}

// Assembler reassembles one direction of one channel's chunk stream back
// into complete messages. Chunks arrive in order within a channel (the
// MCS layer guarantees per-channel ordering), so a single buffer per
// direction suffices.
type Assembler struct {
	expect  int
	partial []byte
}

// Push feeds one on-wire chunk (header included). It returns the
// reassembled message and true when the chunk completes one, or nil and
// false while more chunks are pending.
func (a *Assembler) Push(chunk []byte) ([]byte, bool) {
	r := bytes.NewReader(chunk)
	h := ChannelPDUHeader{}
	h.Read(r)
	body := core.ReadBytes(r, r.Len())

	if h.Flags&CHANNEL_FLAG_FIRST != 0 {
		a.expect = int(h.TotalLength)
		a.partial = a.partial[:0]
	}
	a.partial = append(a.partial, body...)

	if h.Flags&CHANNEL_FLAG_LAST == 0 {
		return nil, false
	}
	out := a.partial
	if a.expect > 0 && len(out) > a.expect {
		out = out[:a.expect]
	}
	a.partial = nil
	a.expect = 0
	return out, true
}

// VirtualChannel is one bound channel: the MCS channel id the domain
// assigned and the name the client requested it under.
type VirtualChannel struct {
	ID   uint16
	Name string
}

// VirtualChannelManager is the session's registry of bound channels,
// safe for lookup from both relay directions.
type VirtualChannelManager struct {
	mu       sync.RWMutex
	channels map[uint16]*VirtualChannel
}

func NewVirtualChannelManager() *VirtualChannelManager {
	return &VirtualChannelManager{channels: make(map[uint16]*VirtualChannel)}
}

// RegisterChannel adds a channel to the registry; registering an id twice
// is a bug in the caller's join bookkeeping.
func (m *VirtualChannelManager) RegisterChannel(channel *VirtualChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[channel.ID]; exists {
		return fmt.Errorf("virtual channel with id %d already registered", channel.ID)
	}
	m.channels[channel.ID] = channel
	return nil
}

// GetChannel retrieves a channel by MCS channel id.
func (m *VirtualChannelManager) GetChannel(id uint16) (*VirtualChannel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// GetChannelByName retrieves a channel by the name it was requested under.
func (m *VirtualChannelManager) GetChannelByName(name string) (*VirtualChannel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return nil, false
}

// ListChannels returns every bound channel.
func (m *VirtualChannelManager) ListChannels() []*VirtualChannel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*VirtualChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}
