package connPdu

import (
	"io"

	"github.com/proxysec/rdpmitm/core"
)

// Negotiation is the RDP_NEG_REQ/RDP_NEG_RSP/RDP_NEG_FAILURE structure
// appended to the X.224 Connection Request/Confirm PDUs (MS-RDPBCGR
// 2.2.1.1.1 / 2.2.1.2.1). The same shape carries three different meanings
// depending on Type: for a request, Result holds the client's requested
// protocol bitmask; for a response, the server's selected protocol; for a
// failure, one of the FAILURE_* codes.
type Negotiation struct {
	Type   uint8
	Flags  uint8
	Length uint16
	Result uint32
}

const (
	TYPE_RDP_NEG_REQ     uint8 = 0x01
	TYPE_RDP_NEG_RSP     uint8 = 0x02
	TYPE_RDP_NEG_FAILURE uint8 = 0x03
)

// Requested/selected protocol bits.
const (
	PROTOCOL_RDP    uint32 = 0x00000000
	PROTOCOL_SSL    uint32 = 0x00000001
	PROTOCOL_HYBRID uint32 = 0x00000002
	PROTOCOL_RDSTLS uint32 = 0x00000004
	PROTOCOL_HYBRID_EX uint32 = 0x00000008
)

// RDP_NEG_RSP response flags.
const (
	EXTENDED_CLIENT_DATA_SUPPORTED uint8 = 0x01
	DYNVC_GFX_PROTOCOL_SUPPORTED   uint8 = 0x02
	RESTRICTED_ADMIN_MODE_SUPPORTED uint8 = 0x08
)

// RDP_NEG_FAILURE codes.
const (
	SSL_REQUIRED_BY_SERVER                uint32 = 0x00000001
	SSL_NOT_ALLOWED_BY_SERVER             uint32 = 0x00000002
	SSL_CERT_NOT_ON_SERVER                uint32 = 0x00000003
	INCONSISTENT_FLAGS                    uint32 = 0x00000004
	HYBRID_REQUIRED_BY_SERVER             uint32 = 0x00000005
	SSL_WITH_USER_AUTH_REQUIRED_BY_SERVER uint32 = 0x00000006
)

func (n *Negotiation) Read(r io.Reader) {
	core.ReadLE(r, &n.Type)
	core.ReadLE(r, &n.Flags)
	core.ReadLE(r, &n.Length)
	if n.Length != 8 {
		core.ThrowRDPErrorf(core.ErrMalformedPDU, "negotiation block length %d, want 8", n.Length)
	}
	core.ReadLE(r, &n.Result)
}

func (n *Negotiation) Write(w io.Writer) {
	n.Length = 8
	core.WriteLE(w, &n.Type)
	core.WriteLE(w, &n.Flags)
	core.WriteLE(w, &n.Length)
	core.WriteLE(w, &n.Result)
}

// IsFailure reports whether this block is an RDP_NEG_FAILURE; ClientsRequesting
// a protocol the target won't accept receive one of these instead of a
// normal response.
func (n *Negotiation) IsFailure() bool {
	return n.Type == TYPE_RDP_NEG_FAILURE
}
