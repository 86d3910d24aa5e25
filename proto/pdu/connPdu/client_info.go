package connPdu

import (
	"bytes"
	"io"
	"time"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/sec"
)

// Client Info PDU flags (MS-RDPBCGR 2.2.1.11.1.1).
const (
	INFO_MOUSE                  uint32 = 0x00000001
	INFO_DISABLECTRLALTDEL      uint32 = 0x00000002
	INFO_AUTOLOGON              uint32 = 0x00000008
	INFO_UNICODE                uint32 = 0x00000010
	INFO_MAXIMIZESHELL          uint32 = 0x00000020
	INFO_LOGONNOTIFY            uint32 = 0x00000040
	INFO_COMPRESSION            uint32 = 0x00000080
	INFO_ENABLEWINDOWSKEY       uint32 = 0x00000100
	INFO_FORCE_ENCRYPTED_CS_PDU uint32 = 0x00000400
	INFO_RAIL                   uint32 = 0x00008000
	INFO_LOGONERRORS            uint32 = 0x00010000
	INFO_MOUSE_HAS_WHEEL        uint32 = 0x00020000
	INFO_PASSWORD_IS_SC_PIN     uint32 = 0x00040000
)

// ExtendedInfoPacket carries the timezone and client directory fields
// appended after the fixed-layout TS_INFO_PACKET body.
type ExtendedInfoPacket struct {
	ClientAddressFamily uint16
	ClientAddress       string
	ClientDir           string
	TimeZone            TimeZoneInformation
	ClientSessionId     uint32
	PerformanceFlags    uint32
	// AutoReconnect is the optional reconnect cookie a victim sends when
	// resuming a dropped session; nil when absent.
	AutoReconnect *sec.TsAutoReconnectInfo
}

// TimeZoneInformation mirrors the Win32 TIME_ZONE_INFORMATION structure
// embedded verbatim in the extended client info.
type TimeZoneInformation struct {
	Bias         int32
	StandardName [64]byte
	StandardDate SystemTime
	StandardBias int32
	DaylightName [64]byte
	DaylightDate SystemTime
	DaylightBias int32
}

type SystemTime struct {
	Year         uint16
	Month        uint16
	DayOfWeek    uint16
	Day          uint16
	Hour         uint16
	Minute       uint16
	Second       uint16
	Milliseconds uint16
}

// ClientInfoPDU is MS-RDPBCGR's TS_INFO_PACKET: user credentials, the
// target domain, the shell command line and working directory, and (via
// Extended) the timezone and client performance flags. Sent once, over
// the legacy security layer, after the channel joins (and security
// exchange, when there is one) and before the licensing exchange; the
// victim-facing engine answers it with the synthesized valid-client
// license.
type ClientInfoPDU struct {
	CodePage      uint32
	Flags         uint32
	Domain        string
	UserName      string
	Password      string
	AlternateShell string
	WorkingDir    string
	Extended      ExtendedInfoPacket
}

// NewClientInfoPDU builds a minimal, Unicode-flagged ClientInfoPDU with
// the supplied credentials and the client's local timezone, matching what
// a real client sends when auto-logon data has been typed into mstsc.
func NewClientInfoPDU(domain, username, password string) *ClientInfoPDU {
	_, offsetSec := time.Now().Zone()
	return &ClientInfoPDU{
		Flags:    INFO_MOUSE | INFO_UNICODE | INFO_DISABLECTRLALTDEL | INFO_ENABLEWINDOWSKEY,
		Domain:   domain,
		UserName: username,
		Password: password,
		Extended: ExtendedInfoPacket{
			ClientAddressFamily: 2, // AF_INET
			TimeZone: TimeZoneInformation{
				Bias: int32(-offsetSec / 60),
			},
			PerformanceFlags: 0,
		},
	}
}

func writeUnicodeString(w io.Writer, s string) {
	u := utf16Encode(s)
	length := uint16(len(u) * 2)
	core.WriteLE(w, &length)
	core.WriteFull(w, u)
}

func readUnicodeString(r io.Reader, lengthBytes int) string {
	raw := core.ReadBytes(r, lengthBytes)
	s := utf16Decode(raw)
	// counted extended-info strings include their nul terminator
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}

func (p *ClientInfoPDU) Write(w io.Writer) {
	core.WriteLE(w, &p.CodePage)
	core.WriteLE(w, &p.Flags)

	writeCountedLen(w, p.Domain)
	writeCountedLen(w, p.UserName)
	writeCountedLen(w, p.Password)
	writeCountedLen(w, p.AlternateShell)
	writeCountedLen(w, p.WorkingDir)

	writeUnicodeStringNul(w, p.Domain)
	writeUnicodeStringNul(w, p.UserName)
	writeUnicodeStringNul(w, p.Password)
	writeUnicodeStringNul(w, p.AlternateShell)
	writeUnicodeStringNul(w, p.WorkingDir)

	core.WriteLE(w, &p.Extended.ClientAddressFamily)
	writeUnicodeCountedNul(w, p.Extended.ClientAddress)
	writeUnicodeCountedNul(w, p.Extended.ClientDir)
	core.WriteLE(w, &p.Extended.TimeZone)
	core.WriteLE(w, &p.Extended.ClientSessionId)
	core.WriteLE(w, &p.Extended.PerformanceFlags)

	if p.Extended.AutoReconnect != nil {
		core.WriteLE(w, uint16(sec.AutoReconnectInfoSize))
		p.Extended.AutoReconnect.Write(w)
	} else {
		core.WriteLE(w, uint16(0))
	}
}

// writeCountedLen writes the byte length of s's UTF-16 encoding, excluding
// the nul terminator, as it will appear on the wire.
func writeCountedLen(w io.Writer, s string) {
	n := uint16(len(utf16Encode(s)))
	core.WriteLE(w, &n)
}

func writeUnicodeStringNul(w io.Writer, s string) {
	core.WriteFull(w, utf16Encode(s))
	core.WriteLE(w, uint16(0))
}

func writeUnicodeCountedNul(w io.Writer, s string) {
	n := uint16(len(utf16Encode(s)) + 2)
	core.WriteLE(w, &n)
	core.WriteFull(w, utf16Encode(s))
	core.WriteLE(w, uint16(0))
}

func (p *ClientInfoPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	p.Write(buf)
	return buf.Bytes()
}

// Read parses a TS_INFO_PACKET off the wire. This is the shape the
// victim-facing engine decodes so the coupler can observe (and, under
// policy, rewrite) the credentials before the proxy re-encodes its own
// ClientInfoPDU toward the real target.
func (p *ClientInfoPDU) Read(r io.Reader) {
	core.ReadLE(r, &p.CodePage)
	core.ReadLE(r, &p.Flags)

	var domainLen, userLen, passLen, shellLen, dirLen uint16
	core.ReadLE(r, &domainLen)
	core.ReadLE(r, &userLen)
	core.ReadLE(r, &passLen)
	core.ReadLE(r, &shellLen)
	core.ReadLE(r, &dirLen)

	p.Domain = readUnicodeString(r, int(domainLen))
	core.ReadBytes(r, 2) // nul terminator
	p.UserName = readUnicodeString(r, int(userLen))
	core.ReadBytes(r, 2)
	p.Password = readUnicodeString(r, int(passLen))
	core.ReadBytes(r, 2)
	p.AlternateShell = readUnicodeString(r, int(shellLen))
	core.ReadBytes(r, 2)
	p.WorkingDir = readUnicodeString(r, int(dirLen))
	core.ReadBytes(r, 2)

	if !tryReadClientInfo(func() { core.ReadLE(r, &p.Extended.ClientAddressFamily) }) {
		return
	}
	var addrLen uint16
	core.ReadLE(r, &addrLen)
	p.Extended.ClientAddress = readUnicodeString(r, int(addrLen))
	var dirLen2 uint16
	core.ReadLE(r, &dirLen2)
	p.Extended.ClientDir = readUnicodeString(r, int(dirLen2))
	core.ReadLE(r, &p.Extended.TimeZone)
	core.ReadLE(r, &p.Extended.ClientSessionId)
	if !tryReadClientInfo(func() { core.ReadLE(r, &p.Extended.PerformanceFlags) }) {
		return
	}
	tryReadClientInfo(func() {
		var cb uint16
		core.ReadLE(r, &cb)
		if cb == sec.AutoReconnectInfoSize {
			cookie := &sec.TsAutoReconnectInfo{}
			cookie.Read(r)
			p.Extended.AutoReconnect = cookie
		} else if cb > 0 {
			core.ReadBytes(r, int(cb))
		}
	})
}

// tryReadClientInfo swallows a short-read panic so the optional extended
// info block (real clients predating RDP 5.0 omit it entirely) doesn't
// abort the rest of the PDU.
func tryReadClientInfo(fn func()) (ok bool) {
	core.TryCatch(func() {
		fn()
		ok = true
	}, func(e any) {
		ok = false
	})
	return ok
}

func utf16Encode(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		if r < 0x10000 {
			out = append(out, byte(r), byte(r>>8))
			continue
		}
		r -= 0x10000
		hi := 0xd800 + (r >> 10)
		lo := 0xdc00 + (r & 0x3ff)
		out = append(out, byte(hi), byte(hi>>8), byte(lo), byte(lo>>8))
	}
	return out
}

func utf16Decode(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xd800 && u < 0xdc00 && i+1 < len(units) {
			u2 := units[i+1]
			if u2 >= 0xdc00 && u2 < 0xe000 {
				runes = append(runes, (rune(u-0xd800)<<10|rune(u2-0xdc00))+0x10000)
				i++
				continue
			}
		}
		runes = append(runes, rune(u))
	}
	return string(runes)
}
