package slowpath

import (
	"bytes"
	"testing"

	"github.com/proxysec/rdpmitm/proto/mcs"
	"github.com/proxysec/rdpmitm/proto/x224"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareControlRoundTrip(t *testing.T) {
	h := ShareControlHeader{PDUType: PDUTYPE_DATAPDU, PDUSource: 1002}
	h.TotalLength = uint16(6 + 4)
	buf := new(bytes.Buffer)
	h.Write(buf)
	buf.Write([]byte{1, 2, 3, 4})

	out, body := ReadShareControl(buf.Bytes())
	assert.Equal(t, PDUTYPE_DATAPDU, out.PDUType)
	assert.Equal(t, uint16(1002), out.PDUSource)
	assert.Equal(t, []byte{1, 2, 3, 4}, body)
}

func TestShareControlStripsVersionBits(t *testing.T) {
	buf := new(bytes.Buffer)
	(&ShareControlHeader{TotalLength: 6, PDUType: PDUTYPE_CONFIRMACTIVEPDU}).Write(buf)

	out, _ := ReadShareControl(buf.Bytes())
	assert.Equal(t, PDUTYPE_CONFIRMACTIVEPDU, out.PDUType)
}

func TestShareDataRoundTrip(t *testing.T) {
	payload := []byte("synchronize pdu body")
	dh := ShareDataHeader{
		SharedId:           0x0103ea03,
		StreamId:           STREAM_LOW,
		UncompressedLength: uint16(len(payload) + 4),
		PDUType2:           PDUTYPE2_SYNCHRONIZE,
	}
	buf := new(bytes.Buffer)
	dh.Write(buf)
	buf.Write(payload)

	out, body := ReadShareData(buf.Bytes())
	assert.Equal(t, dh.SharedId, out.SharedId)
	assert.Equal(t, PDUTYPE2_SYNCHRONIZE, out.PDUType2)
	assert.Equal(t, payload, body)
}

func TestWriteShareDataProducesParsableEnvelope(t *testing.T) {
	payload := []byte{0xca, 0xfe}
	buf := new(bytes.Buffer)
	WriteShareData(buf, 1004, 1003, 0x03ea, PDUTYPE2_INPUT, payload)

	// peel: TPKT/X.224 data envelope, MCS send data, share control, share data.
	mcsData := x224.Read(bytes.NewReader(buf.Bytes()))
	pduType, channelId, inner := mcs.ReadSendData(mcsData)
	require.Equal(t, uint8(mcs.MCS_PDUTYPE_SEND_DATA_REQUEST), pduType)
	require.Equal(t, uint16(1003), channelId)

	ch, body := ReadShareControl(inner)
	require.Equal(t, PDUTYPE_DATAPDU, ch.PDUType)
	dh, got := ReadShareData(body)
	assert.Equal(t, PDUTYPE2_INPUT, dh.PDUType2)
	assert.Equal(t, payload, got)
}
