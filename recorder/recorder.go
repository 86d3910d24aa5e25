// Package recorder implements the session transcript: a tagged,
// timestamped event stream duplicated to one or more sinks. Recording is best-effort; a slow or broken sink must
// never stall the protocol engine it is observing, so every write to a
// sink goes through a small bounded queue drained by a dedicated
// goroutine, with a drop-oldest policy on overflow.
package recorder

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/proxysec/rdpmitm/glog"
)

// Type tags the kind of event a Record carries.
type Type uint8

const (
	TypeInput            Type = 0x00
	TypeOutput           Type = 0x01
	TypeClipboard        Type = 0x02
	TypeClose            Type = 0xFF
)

func (t Type) String() string {
	switch t {
	case TypeInput:
		return "INPUT"
	case TypeOutput:
		return "OUTPUT"
	case TypeClipboard:
		return "CLIPBOARD"
	case TypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Record is one observed PDU: its type, a monotonic timestamp in
// milliseconds since the recorder was created, and the plaintext payload
// (already decrypted, if the source PDU was encrypted).
type Record struct {
	Type      Type
	Timestamp uint64
	Payload   []byte
}

// Encode serializes r as
// `u8 type | u64le timestamp_ms | u32le length | bytes payload`.
func (r Record) Encode() []byte {
	buf := make([]byte, 1+8+4+len(r.Payload))
	buf[0] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[1:9], r.Timestamp)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(r.Payload)))
	copy(buf[13:], r.Payload)
	return buf
}

// DecodeRecord reads a single record from r, returning io.EOF once the
// stream is exhausted at a record boundary.
func DecodeRecord(r io.Reader) (Record, error) {
	var hdr [13]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Record{}, err
	}
	length := binary.LittleEndian.Uint32(hdr[9:13])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, err
	}
	return Record{
		Type:      Type(hdr[0]),
		Timestamp: binary.LittleEndian.Uint64(hdr[1:9]),
		Payload:   payload,
	}, nil
}

// Sink is the write-bytes contract every recorder output implements.
type Sink interface {
	io.Writer
	io.Closer
	Name() string
}

const queueDepth = 256

// sinkQueue drains one sink from a dedicated goroutine through a bounded
// channel. When the channel is full the oldest queued record is dropped
// to make room; back-pressure on a sink never blocks the caller that
// observed the PDU.
type sinkQueue struct {
	sink     Sink
	ch       chan []byte
	done     chan struct{}
	dropped  int
	mu       sync.Mutex
	failed   bool
}

func newSinkQueue(s Sink) *sinkQueue {
	q := &sinkQueue{sink: s, ch: make(chan []byte, queueDepth), done: make(chan struct{})}
	go q.run()
	return q
}

func (q *sinkQueue) run() {
	defer close(q.done)
	for b := range q.ch {
		if _, err := q.sink.Write(b); err != nil {
			glog.Warnf("recorder: sink %s write failed, removing: %v", q.sink.Name(), err)
			q.mu.Lock()
			q.failed = true
			q.mu.Unlock()
			return
		}
	}
}

func (q *sinkQueue) enqueue(b []byte) {
	select {
	case q.ch <- b:
	default:
		// Drop-oldest: make room for the newest record rather than the
		// other way around, since a live viewer cares about "now" more
		// than the backlog.
		select {
		case <-q.ch:
			q.mu.Lock()
			q.dropped++
			q.mu.Unlock()
		default:
		}
		select {
		case q.ch <- b:
		default:
		}
	}
}

func (q *sinkQueue) isFailed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed
}

func (q *sinkQueue) overflowCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *sinkQueue) closeAndDrain(timeout time.Duration) {
	close(q.ch)
	select {
	case <-q.done:
	case <-time.After(timeout):
	}
	_ = q.sink.Close()
}

// Recorder fans observed events out to every live sink, removing any
// sink whose writer goroutine reports a failure so recording continues
// on the survivors.
type Recorder struct {
	mu      sync.Mutex
	start   time.Time
	queues  []*sinkQueue
	closed  bool
}

// New creates a Recorder whose timestamps are milliseconds since the
// moment it is constructed, i.e. since session start.
func New(sinks ...Sink) *Recorder {
	r := &Recorder{start: time.Now()}
	for _, s := range sinks {
		r.queues = append(r.queues, newSinkQueue(s))
	}
	return r
}

func (r *Recorder) elapsedMs() uint64 {
	return uint64(time.Since(r.start).Milliseconds())
}

// record reaps any failed sink queues before fanning the record out.
// Both relay pumps write through this one lock, so records from the two
// legs interleave but never tear.
func (r *Recorder) record(t Type, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	rec := Record{Type: t, Timestamp: r.elapsedMs(), Payload: payload}
	encoded := rec.Encode()

	live := r.queues[:0]
	for _, q := range r.queues {
		if q.isFailed() {
			q.closeAndDrain(0)
			continue
		}
		q.enqueue(encoded)
		live = append(live, q)
	}
	r.queues = live
}

// Input records one observed input-event PDU.
func (r *Recorder) Input(payload []byte) { r.record(TypeInput, payload) }

// Output records one observed output-update PDU.
func (r *Recorder) Output(payload []byte) { r.record(TypeOutput, payload) }

// Clipboard records one observed clipboard PDU (format list, data
// request, or data response; the payload is the raw CLIPRDR message).
func (r *Recorder) Clipboard(payload []byte) { r.record(TypeClipboard, payload) }

// Close emits a single CLOSE record carrying the overflow count summed
// over all sinks (u32le) followed by the reason, then flushes and closes
// all sinks. Safe to
// call multiple times; only the first call has effect.
func (r *Recorder) Close(reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	queues := r.queues
	r.queues = nil
	r.mu.Unlock()

	overflow := 0
	for _, q := range queues {
		overflow += q.overflowCount()
	}
	payload := encodeCloseReason(reason, overflow)
	rec := Record{Type: TypeClose, Timestamp: r.elapsedMs(), Payload: payload}
	encoded := rec.Encode()

	for _, q := range queues {
		if !q.isFailed() {
			q.enqueue(encoded)
		}
		q.closeAndDrain(time.Second)
	}
}

func encodeCloseReason(reason string, overflow int) []byte {
	b := make([]byte, 0, len(reason)+8)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(overflow))
	b = append(b, n[:]...)
	b = append(b, []byte(reason)...)
	return b
}
