package core

import (
	"bufio"
	"crypto/tls"
	"net"
	"time"

	"github.com/proxysec/rdpmitm/glog"
)

type Stream struct {
	c net.Conn
	b *bufio.ReadWriter

	r func([]byte) (int, error)
	w func([]byte) (int, error)
}

func (s *Stream) Read(b []byte) (n int, err error) {
	return s.r(b)
}

func (s *Stream) Write(b []byte) (n int, err error) {
	return s.w(b)
}

func (s *Stream) Peek(n int) []byte {
	if s.b == nil {
		s.b = bufio.NewReadWriter(bufio.NewReader(s.c), bufio.NewWriter(s.c))
		s.r = func(b []byte) (int, error) { return s.b.Read(b) }
		s.w = func(b []byte) (int, error) { return s.b.Write(b) }
	}
	d, err := s.b.Peek(n)
	ThrowError(err)
	return d
}

// SwitchSSL upgrades the connection to TLS as a client, matching the
// negotiated protocol on the target-facing side of a session. The MITM
// never validates the target's certificate chain itself; it is standing
// in for the victim, who already agreed to trust whatever the proxy shows
// them.
func (s *Stream) SwitchSSL() {
	config := &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS10,
		MaxVersion:         tls.VersionTLS13,
	}
	tlsConn := tls.Client(s.c, config)
	ThrowError(tlsConn.Handshake())
	s.c = tlsConn
	s.resetBuffers()
	glog.Debug("switch to SSL ok")
}

// SwitchSSLServer upgrades the connection to TLS as a server, used on the
// victim-facing side once the negotiated protocol selects TLS. cert is the
// MITM's own certificate, presented to the victim in place of the target's.
func (s *Stream) SwitchSSLServer(cert tls.Certificate) {
	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS10,
		MaxVersion:   tls.VersionTLS13,
	}
	tlsConn := tls.Server(s.c, config)
	ThrowError(tlsConn.Handshake())
	s.c = tlsConn
	s.resetBuffers()
	glog.Debug("switch to SSL ok (server side)")
}

func (s *Stream) resetBuffers() {
	s.b = nil
	s.r = func(b []byte) (int, error) { return s.c.Read(b) }
	s.w = func(b []byte) (int, error) { return s.c.Write(b) }
}

// RemoteAddr returns the peer address, used for logging and friendly-name
// reporting on the session handle.
func (s *Stream) RemoteAddr() string {
	return s.c.RemoteAddr().String()
}

func (s *Stream) Close() {
	_ = s.c.Close()
}

func NewStream(addr string, tmOut time.Duration) *Stream {
	conn, err := net.DialTimeout("tcp", addr, tmOut)
	ThrowError(err)
	s := &Stream{c: conn}
	s.r = func(b []byte) (int, error) { return s.c.Read(b) }
	s.w = func(b []byte) (int, error) { return s.c.Write(b) }
	return s
}

// NewStreamFromConn wraps an already-accepted connection, used on the
// victim-facing side of a MITM session where the listener (outside this
// module's scope) hands us the socket after Accept.
func NewStreamFromConn(conn net.Conn) *Stream {
	s := &Stream{c: conn}
	s.r = func(b []byte) (int, error) { return s.c.Read(b) }
	s.w = func(b []byte) (int, error) { return s.c.Write(b) }
	return s
}
