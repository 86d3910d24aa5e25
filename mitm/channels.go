package mitm

import (
	"github.com/proxysec/rdpmitm/engine"
	"github.com/proxysec/rdpmitm/proto/virtualchannel"
)

// Channel names with per-channel inspection in the relay loop.
const (
	virtualChannelClipboard = virtualchannel.CHANNEL_NAME_CLIPRDR
	virtualChannelDynamic   = virtualchannel.CHANNEL_NAME_DRDYNVC
)

// channelMap pairs the victim-facing and target-facing MCS channel ids
// for every channel both sides actually joined, keyed by the name the
// client requested; the nameByServerId bookkeeping each side keeps,
// collapsed into the one lookup table the relay loop needs, since
// channel ids may differ between legs even though the channel set is
// the same.
type channelMap struct {
	// victimIO/targetIO are the two sides' I/O channel ids; always
	// mapped to each other regardless of name, since the I/O channel
	// carries no GCC channel definition of its own.
	victimIO, targetIO uint16

	victimToTarget map[uint16]uint16
	targetToVictim map[uint16]uint16
	victimToName   map[uint16]string

	// assemblers reassemble chunked virtual channel messages for
	// inspection, one per observed (leg, channel id). Forwarding uses
	// the raw chunks; only the recorder's view is reassembled.
	assemblers map[assemblerKey]*virtualchannel.Assembler

	// registry exposes the bound channel set through the same
	// name/id bookkeeping type the rest of the stack uses for a
	// single-leg channel table, so a caller introspecting a live
	// session (Session.VirtualChannels) sees the same shape it would
	// for a direct connection, not a MITM-specific structure.
	registry *virtualchannel.VirtualChannelManager
}

type assemblerKey struct {
	fromVictim bool
	channelID  uint16
}

func buildChannelMap(victim *engine.ClientEngine, target *engine.ServerEngine) *channelMap {
	m := &channelMap{
		victimIO:       victim.IOChannelID(),
		targetIO:       target.IOChannelID(),
		victimToTarget: make(map[uint16]uint16),
		targetToVictim: make(map[uint16]uint16),
		victimToName:   make(map[uint16]string),
		assemblers:     make(map[assemblerKey]*virtualchannel.Assembler),
		registry:       virtualchannel.NewVirtualChannelManager(),
	}

	targetIDByName := make(map[string]uint16, len(target.Channels))
	for _, ch := range target.Channels {
		targetIDByName[ch.Name] = ch.Id
	}

	for _, ch := range victim.Channels {
		m.victimToName[ch.Id] = ch.Name
		if targetID, ok := targetIDByName[ch.Name]; ok {
			m.victimToTarget[ch.Id] = targetID
			m.targetToVictim[targetID] = ch.Id
			_ = m.registry.RegisterChannel(&virtualchannel.VirtualChannel{ID: ch.Id, Name: ch.Name})
		}
		// A channel the victim joined but the target refused has no
		// target id and is silently dropped from the map: traffic on it
		// from the victim has nowhere to go and is recorded but not
		// forwarded, so it is also left out of the registry.
	}
	return m
}

// assembler returns the chunk reassembler for one leg's view of one
// channel, creating it on first use.
func (m *channelMap) assembler(fromVictim bool, channelID uint16) *virtualchannel.Assembler {
	k := assemblerKey{fromVictim: fromVictim, channelID: channelID}
	a, ok := m.assemblers[k]
	if !ok {
		a = &virtualchannel.Assembler{}
		m.assemblers[k] = a
	}
	return a
}

// toTarget maps a channel id observed on the victim leg to its
// target-leg equivalent. ok is false for the I/O channel (handled by the
// caller directly via targetIO) or for a channel the target refused.
func (m *channelMap) toTarget(victimChannelID uint16) (uint16, bool) {
	id, ok := m.victimToTarget[victimChannelID]
	return id, ok
}

// toVictim is toTarget's inverse.
func (m *channelMap) toVictim(targetChannelID uint16) (uint16, bool) {
	id, ok := m.targetToVictim[targetChannelID]
	return id, ok
}

func (m *channelMap) name(victimChannelID uint16) string {
	return m.victimToName[victimChannelID]
}
