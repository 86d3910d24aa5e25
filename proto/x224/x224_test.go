package x224

import (
	"bytes"
	"testing"

	"github.com/proxysec/rdpmitm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadX224Header(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected *Header
		wantErr  bool
	}{
		{
			name: "data tpdu",
			data: []byte{0x02, 0xf0, 0x80},
			expected: &Header{
				Length:  0x02,
				PduType: 0xf0,
				EOT:     0x80,
			},
		},
		{
			name: "connection request",
			data: []byte{0x06, 0xe0, 0x00, 0x00, 0x12, 0x34, 0x00},
			expected: &Header{
				Length:  0x06,
				PduType: 0xe0,
				SrcRef:  0x1234,
			},
		},
		{
			name:    "truncated connection request",
			data:    []byte{0x06, 0xe0, 0x00},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := bytes.NewReader(tt.data)
			header := &Header{}

			var err error
			core.TryCatch(func() {
				header.Read(reader)
			}, func(e any) {
				err = e.(error)
			})

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, header)
		})
	}
}

func TestDataRoundTrip(t *testing.T) {
	payload := []byte{0x28, 0x01, 0x02, 0x03}
	buf := new(bytes.Buffer)
	Write(buf, payload)

	// TPKT header, then 02 F0 80, then the payload.
	wire := buf.Bytes()
	require.Equal(t, []byte{0x03, 0x00}, wire[:2])
	assert.Equal(t, []byte{0x02, 0xf0, 0x80}, wire[4:7])

	got := Read(bytes.NewReader(wire))
	assert.Equal(t, payload, got)
}

func TestConnectRoundTrip(t *testing.T) {
	blob := []byte("Cookie: mstshash=probe\r\n")
	buf := new(bytes.Buffer)
	Connect(buf, TPDU_CONNECTION_REQUEST, blob)

	got := ReadConnect(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, blob, got)
}

func TestReadRejectsNonDataTPDU(t *testing.T) {
	buf := new(bytes.Buffer)
	Connect(buf, TPDU_CONNECTION_CONFIRM, nil)

	var err error
	core.TryCatch(func() {
		Read(bytes.NewReader(buf.Bytes()))
	}, func(e any) {
		err = e.(error)
	})
	assert.Error(t, err)
}
