package fastpath

import (
	"bytes"
	"testing"

	"github.com/proxysec/rdpmitm/proto/sec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	Write(buf, payload)

	out := Read(buf)
	assert.Equal(t, payload, out.Data)
}

func TestWritePDUPreservesNumberEvents(t *testing.T) {
	buf := new(bytes.Buffer)
	WritePDU(buf, 3, []byte{0x01, 0x02})

	out := Read(buf)
	assert.Equal(t, uint8(3), out.Header.NumberEvents)
	assert.Equal(t, []byte{0x01, 0x02}, out.Data)
}

func TestPlainRoundTripAtLengthFormBoundary(t *testing.T) {
	// 0x7d is the largest payload whose total still fits the one-byte
	// length form; 0x7e is the first that needs two bytes.
	for _, n := range []int{0x7d, 0x7e, 0x7f, 0x200} {
		buf := new(bytes.Buffer)
		payload := bytes.Repeat([]byte{0xee}, n)
		Write(buf, payload)

		out := Read(buf)
		require.Equal(t, payload, out.Data, "payload size %#x", n)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	macKey := bytes.Repeat([]byte{0x24}, 16)

	writer := &Cipher{Stream: sec.NewStream(key), MacKey: macKey}
	reader := &Cipher{Stream: sec.NewStream(key), MacKey: macKey}

	buf := new(bytes.Buffer)
	payload := []byte("fast path output update payload")
	WriteEncrypted(buf, writer, payload)

	got := ReadEncrypted(buf, reader)
	require.Equal(t, payload, got)
}
