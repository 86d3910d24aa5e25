package mitm

import (
	"net"

	"github.com/proxysec/rdpmitm/glog"
	"github.com/proxysec/rdpmitm/recorder"
)

// Listener accepts victim connections and spins up one Session per
// connection, each pairing the accepted connection with a fresh dial to
// Options.TargetAddr. One Listener corresponds to one (victim-listen,
// target) pair; a proxy fronting several targets runs one Listener per
// target.
type Listener struct {
	ln        net.Listener
	opts      Options
	liveView  recorder.Sink
	recordDir string
}

// ListenerConfig bundles what NewListener needs beyond the per-session
// Options: where new session transcripts are written, and an optional
// shared sink (e.g. a recorder.SocketSink) every session additionally
// fans its recording out to.
type ListenerConfig struct {
	Options   Options
	RecordDir string
	LiveView  recorder.Sink
}

// NewListener binds addr and returns a Listener ready for Serve.
func NewListener(addr string, cfg ListenerConfig) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, opts: cfg.Options, liveView: cfg.LiveView, recordDir: cfg.RecordDir}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections; sessions already running are
// unaffected.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until the listener is closed, running each
// session in its own goroutine. It returns the error that ended Accept,
// which is expected (net.ErrClosed) when Close was called deliberately.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		go l.handle(conn)
	}
}

// handle builds a Session for one accepted connection and runs it to
// completion. The session id needed to name its recording file is only
// known once the Session exists, so the recorder is constructed here
// rather than inside NewSession and the session's recorder field is
// replaced before Run starts using it.
func (l *Listener) handle(conn net.Conn) {
	session := NewSession(conn, l.opts)

	var sinks []recorder.Sink
	if l.recordDir != "" {
		if fs, err := recorder.NewFileSink(l.recordDir + "/" + session.ID + ".rdpcap"); err == nil {
			sinks = append(sinks, fs)
		} else {
			glog.Warnf("session %s: could not open recording file: %v", session.ID, err)
		}
	}
	if l.liveView != nil {
		sinks = append(sinks, l.liveView)
	}
	session.rec = recorder.New(sinks...)

	glog.Infof("session %s: accepted victim %s", session.ID, conn.RemoteAddr())
	reason := session.Run(l.opts)
	glog.Infof("session %s: ended (%s)", session.ID, reason)
}
