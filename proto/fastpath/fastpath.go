package fastpath

import (
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/mcs/per"
)

type Header struct {
	EncryptionFlags uint8
	NumberEvents    uint8
	Length          int
}

func (h *Header) Read(r io.Reader) {
	var b uint8
	core.ReadLE(r, &b)
	h.EncryptionFlags = (b & 0xc0) >> 6
	h.NumberEvents = (b & 0x3c) >> 2
	h.Length = per.ReadLength(r)
	h.Length = core.If(h.Length < 0x80, h.Length-2, h.Length-3)
}

func (h *Header) Write(w io.Writer) {
	b := uint8(h.EncryptionFlags<<6 | h.NumberEvents<<2)
	core.WriteLE(w, b)
	// the length field counts itself: one byte below 0x80, two at or above.
	h.Length = core.If(h.Length+2 < 0x80, h.Length+2, h.Length+3)
	per.WriteLength(w, h.Length)
}

type FastPathData struct {
	Header Header
	Data   []byte
}

func Read(r io.Reader) *FastPathData {
	fp := &FastPathData{}
	fp.Header.Read(r)
	//glog.Debugf("fastpath read header: %+v", fp.Header)
	fp.Data = core.ReadBytes(r, fp.Header.Length)
	//glog.Debugf("fastpath read data: %v - %x", len(fp.Data), fp.Data)
	return fp
}

func Write(w io.Writer, data []byte) {
	WritePDU(w, 0, data)
}

// WritePDU writes an unencrypted FastPath PDU preserving the header's
// numberEvents field, which input PDUs carry in the header byte rather
// than the payload.
func WritePDU(w io.Writer, numberEvents uint8, data []byte) {
	(&Header{NumberEvents: numberEvents, Length: len(data)}).Write(w)
	core.WriteFull(w, data)
}
