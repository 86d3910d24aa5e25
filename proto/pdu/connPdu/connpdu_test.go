package connPdu

import (
	"bytes"
	"testing"

	"github.com/proxysec/rdpmitm/proto/sec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiationRoundTrip(t *testing.T) {
	for _, requested := range []uint32{
		PROTOCOL_RDP,
		PROTOCOL_SSL,
		PROTOCOL_SSL | PROTOCOL_HYBRID,
		PROTOCOL_SSL | PROTOCOL_HYBRID | PROTOCOL_HYBRID_EX,
	} {
		in := &Negotiation{Type: TYPE_RDP_NEG_REQ, Result: requested}
		buf := new(bytes.Buffer)
		in.Write(buf)
		require.Equal(t, 8, buf.Len())

		out := &Negotiation{}
		out.Read(bytes.NewReader(buf.Bytes()))
		assert.Equal(t, in.Type, out.Type)
		assert.Equal(t, requested, out.Result)
	}
}

func TestNegotiationRejectsBadLength(t *testing.T) {
	wire := []byte{0x01, 0x00, 0x07, 0x00, 0x00, 0x00, 0x00, 0x00}
	defer func() {
		assert.NotNil(t, recover())
	}()
	(&Negotiation{}).Read(bytes.NewReader(wire))
}

func TestNegotiationFailure(t *testing.T) {
	n := &Negotiation{Type: TYPE_RDP_NEG_FAILURE, Result: SSL_REQUIRED_BY_SERVER}
	assert.True(t, n.IsFailure())
	assert.False(t, (&Negotiation{Type: TYPE_RDP_NEG_RSP}).IsFailure())
}

func TestClientInfoRoundTrip(t *testing.T) {
	in := NewClientInfoPDU("CORP", "alice", "hunter2")
	in.AlternateShell = "cmd.exe"
	in.Extended.ClientAddress = "10.0.0.5"

	out := &ClientInfoPDU{}
	out.Read(bytes.NewReader(in.Serialize()))

	assert.Equal(t, "CORP", out.Domain)
	assert.Equal(t, "alice", out.UserName)
	assert.Equal(t, "hunter2", out.Password)
	assert.Equal(t, "cmd.exe", out.AlternateShell)
	assert.Equal(t, "10.0.0.5", out.Extended.ClientAddress)
	assert.Equal(t, in.Extended.TimeZone.Bias, out.Extended.TimeZone.Bias)
	assert.Nil(t, out.Extended.AutoReconnect)
}

func TestClientInfoCarriesAutoReconnectCookie(t *testing.T) {
	in := NewClientInfoPDU("", "bob", "pw")
	cookie := &sec.TsAutoReconnectInfo{}
	copy(cookie.LogonIdInfo[:], bytes.Repeat([]byte{0x11}, 16))
	copy(cookie.ArcRandomBits[:], bytes.Repeat([]byte{0x22}, 16))
	in.Extended.AutoReconnect = cookie

	out := &ClientInfoPDU{}
	out.Read(bytes.NewReader(in.Serialize()))

	require.NotNil(t, out.Extended.AutoReconnect)
	assert.Equal(t, cookie.LogonIdInfo, out.Extended.AutoReconnect.LogonIdInfo)
	assert.Equal(t, cookie.ArcRandomBits, out.Extended.AutoReconnect.ArcRandomBits)
}

func TestClientInfoWithoutExtendedBlock(t *testing.T) {
	in := NewClientInfoPDU("", "carol", "pw")
	full := in.Serialize()

	// Truncate right after the nul terminator of WorkingDir, the way a
	// pre-RDP-5.0 client would have sent it.
	short := full[:len(full)-emptyExtendedBlockSize]

	out := &ClientInfoPDU{}
	out.Read(bytes.NewReader(short))
	assert.Equal(t, "carol", out.UserName)
	assert.Zero(t, out.Extended.ClientAddressFamily)
}

// emptyExtendedBlockSize is the serialized size of the extended info
// block NewClientInfoPDU produces with empty address/dir strings and no
// reconnect cookie: addressFamily(2) + two counted nul-terminated empty
// strings (4 each) + timezone(172) + sessionId(4) + perfFlags(4) +
// cbAutoReconnectLen(2).
const emptyExtendedBlockSize = 2 + 4 + 4 + 172 + 4 + 4 + 2
