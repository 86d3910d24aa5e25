// Package segment implements the post-handshake framing dispatch:
// every steady-state read inspects the first byte of the next segment
// and routes it to the TPKT/X.224 reader or the FastPath reader. Neither the TPKT nor the FastPath packages look at
// each other's header bits, so this dispatch has to live above both.
package segment

import (
	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/fastpath"
	"github.com/proxysec/rdpmitm/proto/tpkt"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// Kind distinguishes which framing a segment used, so the caller knows
// how to interpret and how to re-frame the payload on the opposite leg.
type Kind int

const (
	KindSlowPath Kind = iota
	KindFastPath
)

// Frame is one dispatched segment: Kind plus the payload appropriate to
// that kind. For KindSlowPath, Data is the X.224 Data TPDU payload (an
// MCS domain PDU, still to be parsed by the mcs package). For
// KindFastPath, Data is the FastPath PDU's data bytes and
// EncryptionFlags carries the first header byte's top two bits (MS-
// RDPBCGR 2.2.9.1.2's action/flags byte), needed to tell whether the
// payload is encrypted before the security layer can be applied.
type Frame struct {
	Kind            Kind
	Data            []byte
	EncryptionFlags uint8
	NumberEvents    uint8
}

// Next reads exactly one frame from the transport, dispatching on the
// first byte. A first byte that is neither a TPKT
// version marker nor a valid FastPath action code is a protocol error:
// the caller closes the connection (ErrUnknownHeader).
func Next(transport *core.Stream) Frame {
	b := transport.Peek(1)[0]
	if tpkt.IsTPKT(b) {
		return Frame{Kind: KindSlowPath, Data: x224.Read(transport)}
	}
	if isFastPathAction(b) {
		fp := fastpath.Read(transport)
		return Frame{
			Kind:            KindFastPath,
			Data:            fp.Data,
			EncryptionFlags: fp.Header.EncryptionFlags,
			NumberEvents:    fp.Header.NumberEvents,
		}
	}
	core.ThrowRDPErrorf(core.ErrUnknownHeader, "unrecognized first byte 0x%02x", b)
	panic("unreachable")
}

// isFastPathAction reports whether b's low two bits (the FastPath
// action field, MS-RDPBCGR 2.2.9.1.2) select the FastPath action code
// (0) rather than some other, unimplemented TPDU-like value. Slow-path
// framing is always marked by tpkt.Version (0x03); any other action
// value here is FastPath input/output, the only two actions this proxy
// forwards.
func isFastPathAction(b byte) bool {
	return b&0x03 == 0x00
}
