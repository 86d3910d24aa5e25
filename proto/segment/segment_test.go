package segment

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/proto/fastpath"
	"github.com/proxysec/rdpmitm/proto/x224"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeStream feeds wire bytes to a core.Stream through an in-memory
// connection, the same shape a live session reads from.
func pipeStream(t *testing.T, wire []byte) *core.Stream {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		client.Write(wire)
		client.Close()
	}()
	server.SetReadDeadline(time.Now().Add(time.Second))
	return core.NewStreamFromConn(server)
}

func TestNextDispatchesTPKT(t *testing.T) {
	wire := encodeSlowPath([]byte{0x01, 0x02, 0x03})
	frame := Next(pipeStream(t, wire))
	assert.Equal(t, KindSlowPath, frame.Kind)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, frame.Data)
}

func TestNextDispatchesFastPath(t *testing.T) {
	wire := encodeFastPath([]byte{0xaa, 0xbb})
	frame := Next(pipeStream(t, wire))
	assert.Equal(t, KindFastPath, frame.Kind)
	assert.Equal(t, []byte{0xaa, 0xbb}, frame.Data)
	assert.Zero(t, frame.EncryptionFlags)
}

func TestNextRejectsUnknownFirstByte(t *testing.T) {
	var err *core.RDPError
	core.TryCatch(func() {
		Next(pipeStream(t, []byte{0x55, 0x00, 0x00}))
	}, func(e any) {
		err = core.AsRDPError(e)
	})
	require.NotNil(t, err)
	assert.Equal(t, core.ErrUnknownHeader, err.Type)
	assert.Contains(t, err.Error(), "0x55")
}

func encodeSlowPath(payload []byte) []byte {
	buf := new(bytes.Buffer)
	x224.Write(buf, payload)
	return buf.Bytes()
}

func encodeFastPath(payload []byte) []byte {
	buf := new(bytes.Buffer)
	fastpath.Write(buf, payload)
	return buf.Bytes()
}
