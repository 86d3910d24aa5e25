package recorder

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSink is an in-memory Sink used by the tests below; it is not a
// FileSink/SocketSink but satisfies the same write-bytes contract.
type memSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (m *memSink) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Write(b)
}
func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
func (m *memSink) Name() string { return "mem" }
func (m *memSink) bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte{}, m.buf.Bytes()...)
}

type failingSink struct{ writes int }

func (f *failingSink) Write(b []byte) (int, error) {
	f.writes++
	return 0, assertErr
}
func (f *failingSink) Close() error  { return nil }
func (f *failingSink) Name() string  { return "failing" }

var assertErr = &writeError{}

type writeError struct{}

func (*writeError) Error() string { return "simulated sink failure" }

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{Type: TypeInput, Timestamp: 12345, Payload: []byte("hello")}
	encoded := rec.Encode()

	got, err := DecodeRecord(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.Timestamp, got.Timestamp)
	assert.Equal(t, rec.Payload, got.Payload)
}

func TestRecorderWritesInOrderAndSizeIsMonotonic(t *testing.T) {
	sink := &memSink{}
	r := New(sink)

	r.Input([]byte("in1"))
	r.Output([]byte("out1"))
	r.Clipboard([]byte("clip1"))
	sizeBeforeClose := len(sink.bytes())
	r.Close("normal")

	// the sink's writer goroutine drains asynchronously; give it a beat.
	deadline := time.Now().Add(time.Second)
	for len(sink.bytes()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	data := sink.bytes()
	assert.GreaterOrEqual(t, len(data), sizeBeforeClose, "transcript size shrank")
	reader := bytes.NewReader(data)

	rec1, err := DecodeRecord(reader)
	require.NoError(t, err)
	assert.Equal(t, TypeInput, rec1.Type)
	assert.Equal(t, []byte("in1"), rec1.Payload)

	rec2, err := DecodeRecord(reader)
	require.NoError(t, err)
	assert.Equal(t, TypeOutput, rec2.Type)

	rec3, err := DecodeRecord(reader)
	require.NoError(t, err)
	assert.Equal(t, TypeClipboard, rec3.Type)

	rec4, err := DecodeRecord(reader)
	require.NoError(t, err)
	assert.Equal(t, TypeClose, rec4.Type)

	assert.True(t, rec1.Timestamp <= rec2.Timestamp)
	assert.True(t, rec2.Timestamp <= rec3.Timestamp)
	assert.True(t, rec3.Timestamp <= rec4.Timestamp)
}

func TestRecorderSurvivesOneSinkFailing(t *testing.T) {
	good := &memSink{}
	bad := &failingSink{}
	r := New(good, bad)

	r.Input([]byte("x"))
	time.Sleep(50 * time.Millisecond)
	r.Output([]byte("y"))
	r.Close("done")

	deadline := time.Now().Add(time.Second)
	for len(good.bytes()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.NotEmpty(t, good.bytes())
}
