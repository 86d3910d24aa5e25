// Package clipboard implements the CLIPRDR message layer (MS-RDPECLIP)
// far enough for a relay to observe it: the clipHeader envelope, the
// format list, and the data request/response bodies. The proxy never
// originates clipboard traffic; it decodes what passes through so the
// transcript shows what was copied, then forwards the original bytes.
package clipboard

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/proxysec/rdpmitm/core"
)

// ClipboardFormat identifies a clipboard data format. Values below
// 0xC000 are the standard Windows clipboard formats; private formats are
// registered by name in long-format-name lists.
type ClipboardFormat uint32

const (
	CF_BITMAP      ClipboardFormat = 0x0002
	CF_METAFILE    ClipboardFormat = 0x0003
	CF_SYLK        ClipboardFormat = 0x0004
	CF_DIF         ClipboardFormat = 0x0005
	CF_TIFF        ClipboardFormat = 0x0006
	CF_OEMTEXT     ClipboardFormat = 0x0007
	CF_DIB         ClipboardFormat = 0x0008
	CF_PALETTE     ClipboardFormat = 0x0009
	CF_UNICODETEXT ClipboardFormat = 0x000D
	CF_HDROP       ClipboardFormat = 0x000F
)

// ClipboardMessageType is the msgType field of the clipHeader.
type ClipboardMessageType uint16

const (
	CLIPRDR_MSG_TYPE_MONITOR_READY         ClipboardMessageType = 0x0001
	CLIPRDR_MSG_TYPE_FORMAT_LIST           ClipboardMessageType = 0x0002
	CLIPRDR_MSG_TYPE_FORMAT_LIST_RESPONSE  ClipboardMessageType = 0x0003
	CLIPRDR_MSG_TYPE_FORMAT_DATA_REQUEST   ClipboardMessageType = 0x0004
	CLIPRDR_MSG_TYPE_FORMAT_DATA_RESPONSE  ClipboardMessageType = 0x0005
	CLIPRDR_MSG_TYPE_TEMP_DIRECTORY        ClipboardMessageType = 0x0006
	CLIPRDR_MSG_TYPE_CLIP_CAPS             ClipboardMessageType = 0x0007
	CLIPRDR_MSG_TYPE_FILECONTENTS_REQUEST  ClipboardMessageType = 0x0008
	CLIPRDR_MSG_TYPE_FILECONTENTS_RESPONSE ClipboardMessageType = 0x0009
	CLIPRDR_MSG_TYPE_LOCK_CLIPDATA         ClipboardMessageType = 0x000A
	CLIPRDR_MSG_TYPE_UNLOCK_CLIPDATA       ClipboardMessageType = 0x000B
)

// Message flags.
const (
	CB_RESPONSE_OK   uint16 = 0x0001
	CB_RESPONSE_FAIL uint16 = 0x0002
)

// ClipboardMessage is one CLIPRDR PDU: the 8-byte clipHeader and the
// message body.
type ClipboardMessage struct {
	MessageType  ClipboardMessageType
	MessageFlags uint16
	DataLength   uint32
	Data         []byte
}

// ReadClipboardMessage decodes one CLIPRDR PDU from an already
// reassembled virtual channel message. It returns an error rather than
// panicking: a malformed clipboard message is an inspection failure, not
// a session failure.
func ReadClipboardMessage(r io.Reader) (*ClipboardMessage, error) {
	msg := &ClipboardMessage{}
	if err := binary.Read(r, binary.LittleEndian, &msg.MessageType); err != nil {
		return nil, fmt.Errorf("clipboard header: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &msg.MessageFlags); err != nil {
		return nil, fmt.Errorf("clipboard header: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &msg.DataLength); err != nil {
		return nil, fmt.Errorf("clipboard header: %w", err)
	}
	if msg.DataLength > 0 {
		msg.Data = make([]byte, msg.DataLength)
		if _, err := io.ReadFull(r, msg.Data); err != nil {
			return nil, fmt.Errorf("clipboard body: %w", err)
		}
	}
	return msg, nil
}

// Serialize re-encodes the message, byte-identical to what was read.
func (m *ClipboardMessage) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, m.MessageType)
	core.WriteLE(buf, m.MessageFlags)
	length := uint32(len(m.Data))
	core.WriteLE(buf, &length)
	buf.Write(m.Data)
	return buf.Bytes()
}

// ParseFormatList extracts the format ids from a long-layout FORMAT_LIST
// body: each entry is a 4-byte id followed by a nul-terminated UTF-16
// name, which is skipped. A short-layout list (fixed-size, nul-padded
// names) is read the same way, so its name padding yields extra ids of 0
// and can misalign the ids that follow.
func ParseFormatList(data []byte) []ClipboardFormat {
	formats := []ClipboardFormat{}
	r := bytes.NewReader(data)
	for r.Len() >= 4 {
		var id ClipboardFormat
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			break
		}
		formats = append(formats, id)
		if !skipFormatName(r) {
			break
		}
	}
	return formats
}

// skipFormatName consumes one long-layout format name: UTF-16 code units
// up to and including the nul terminator. It reports false when the data
// ends before a terminator, which ends the scan.
func skipFormatName(r *bytes.Reader) bool {
	for {
		var unit uint16
		if err := binary.Read(r, binary.LittleEndian, &unit); err != nil {
			return false
		}
		if unit == 0 {
			return true
		}
	}
}

// ParseFormatDataRequest extracts the requested format id.
func ParseFormatDataRequest(data []byte) (ClipboardFormat, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("format data request too short: %d bytes", len(data))
	}
	return ClipboardFormat(binary.LittleEndian.Uint32(data)), nil
}

// NewFormatListMessage builds a long-format-name FORMAT_LIST with empty
// names, the shape this module's tests and any policy-driven injection
// use.
func NewFormatListMessage(formats ...ClipboardFormat) *ClipboardMessage {
	buf := new(bytes.Buffer)
	for _, f := range formats {
		core.WriteLE(buf, f)
		core.WriteLE(buf, uint16(0)) // empty nul-terminated name
	}
	return &ClipboardMessage{
		MessageType: CLIPRDR_MSG_TYPE_FORMAT_LIST,
		Data:        buf.Bytes(),
	}
}

// NewFormatDataResponseMessage builds a FORMAT_DATA_RESPONSE carrying
// data for a previously requested format.
func NewFormatDataResponseMessage(data []byte) *ClipboardMessage {
	return &ClipboardMessage{
		MessageType:  CLIPRDR_MSG_TYPE_FORMAT_DATA_RESPONSE,
		MessageFlags: CB_RESPONSE_OK,
		Data:         data,
	}
}

// GetFormatName names the standard formats for log and transcript
// readability.
func GetFormatName(format ClipboardFormat) string {
	switch format {
	case CF_BITMAP:
		return "CF_BITMAP"
	case CF_METAFILE:
		return "CF_METAFILEPICT"
	case CF_SYLK:
		return "CF_SYLK"
	case CF_DIF:
		return "CF_DIF"
	case CF_TIFF:
		return "CF_TIFF"
	case CF_OEMTEXT:
		return "CF_OEMTEXT"
	case CF_DIB:
		return "CF_DIB"
	case CF_PALETTE:
		return "CF_PALETTE"
	case CF_UNICODETEXT:
		return "CF_UNICODETEXT"
	case CF_HDROP:
		return "CF_HDROP"
	default:
		return fmt.Sprintf("format(%#x)", uint32(format))
	}
}
