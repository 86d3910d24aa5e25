package gcc

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
)

// Legacy encryption method flags (MS-RDPBCGR 2.2.1.4.3.1.1).
const (
	ENCRYPTION_METHOD_NONE   uint32 = 0x00000000
	ENCRYPTION_METHOD_40BIT  uint32 = 0x00000001
	ENCRYPTION_METHOD_128BIT uint32 = 0x00000002
	ENCRYPTION_METHOD_56BIT  uint32 = 0x00000008
	ENCRYPTION_METHOD_FIPS   uint32 = 0x00000010
)

const (
	ENCRYPTION_LEVEL_NONE               uint32 = 0
	ENCRYPTION_LEVEL_LOW                uint32 = 1
	ENCRYPTION_LEVEL_CLIENT_COMPATIBLE  uint32 = 2
	ENCRYPTION_LEVEL_HIGH               uint32 = 3
	ENCRYPTION_LEVEL_FIPS               uint32 = 4
)

const (
	certChainVersion1 uint32 = 0x00000001 // proprietary, raw LE RSA key
	certChainVersion2 uint32 = 0x00000002 // X.509 chain
	certChainMask      uint32 = 0x7fffffff
)

// ClientSecurityData is the CS_SECURITY block: the set of encryption
// methods the client is willing to run.
type ClientSecurityData struct {
	EncryptionMethods   uint32
	ExtEncryptionMethods uint32
}

func (d *ClientSecurityData) Read(r io.Reader) {
	core.ReadLE(r, &d.EncryptionMethods)
	core.ReadLE(r, &d.ExtEncryptionMethods)
}

func (d *ClientSecurityData) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, &d.EncryptionMethods)
	core.WriteLE(buf, &d.ExtEncryptionMethods)
	return buf.Bytes()
}

// ProprietaryServerCertificate is the legacy (non-X.509) server certificate
// format: an RSA public key and a signature, both self-signed by a
// well-known Microsoft proprietary key, with modulus/exponent stored
// little-endian. The victim-facing engine builds one over the
// MITM-generated identity key and presents it in place of the real
// target certificate.
type ProprietaryServerCertificate struct {
	SignatureAlgorithmId uint32 // 1 = RSA
	KeyAlgorithmId       uint32 // 1 = RSA
	PublicKeyBlobType    uint16 // 0x0006 = RSA
	PublicKeyBlobLen     uint16
	Magic                uint32 // "RSA1" little-endian
	KeyLen               uint32
	BitLen               uint32
	DataLen              uint32
	PubExp               uint32
	Modulus              []byte // KeyLen bytes, little-endian, includes 8 pad bytes
	SignatureBlobType    uint16 // 0x0008
	SignatureBlobLen     uint16
	Signature            []byte
}

const rsaMagic uint32 = 0x31415352 // "RSA1"

func (c *ProprietaryServerCertificate) Read(r io.Reader) {
	core.ReadLE(r, &c.SignatureAlgorithmId)
	core.ReadLE(r, &c.KeyAlgorithmId)
	core.ReadLE(r, &c.PublicKeyBlobType)
	core.ReadLE(r, &c.PublicKeyBlobLen)
	core.ReadLE(r, &c.Magic)
	core.ThrowIf(c.Magic != rsaMagic, "bad proprietary certificate magic")
	core.ReadLE(r, &c.KeyLen)
	core.ReadLE(r, &c.BitLen)
	core.ReadLE(r, &c.DataLen)
	core.ReadLE(r, &c.PubExp)
	c.Modulus = core.ReadBytes(r, int(c.KeyLen))
	core.ReadLE(r, &c.SignatureBlobType)
	core.ReadLE(r, &c.SignatureBlobLen)
	c.Signature = core.ReadBytes(r, int(c.SignatureBlobLen))
}

func (c *ProprietaryServerCertificate) Serialize() []byte {
	buf := new(bytes.Buffer)
	c.KeyLen = uint32(len(c.Modulus))
	c.PublicKeyBlobLen = uint16(20 + len(c.Modulus))
	c.SignatureBlobLen = uint16(len(c.Signature))
	c.Magic = rsaMagic
	core.WriteLE(buf, &c.SignatureAlgorithmId)
	core.WriteLE(buf, &c.KeyAlgorithmId)
	core.WriteLE(buf, &c.PublicKeyBlobType)
	core.WriteLE(buf, &c.PublicKeyBlobLen)
	core.WriteLE(buf, &c.Magic)
	core.WriteLE(buf, &c.KeyLen)
	core.WriteLE(buf, &c.BitLen)
	core.WriteLE(buf, &c.DataLen)
	core.WriteLE(buf, &c.PubExp)
	core.WriteFull(buf, c.Modulus)
	core.WriteLE(buf, &c.SignatureBlobType)
	core.WriteLE(buf, &c.SignatureBlobLen)
	core.WriteFull(buf, c.Signature)
	return buf.Bytes()
}

// RSAPublicKey reverses the little-endian modulus into the big-endian form
// crypto/rsa expects, per the byte-order quirk documented on core.Reverse.
func (c *ProprietaryServerCertificate) RSAPublicKey() (modulus []byte, exponent uint32) {
	return core.Reverse(c.Modulus), c.PubExp
}

// ServerCertificate is the SC_SECURITY certificate field, which carries
// either a ProprietaryServerCertificate or an X509CertificateChain
// depending on the dwVersion tag on the wire.
type ServerCertificate struct {
	DwVersion    uint32
	Proprietary  *ProprietaryServerCertificate
	X509Chain    *X509CertificateChain
}

func (c *ServerCertificate) Read(r io.Reader) {
	core.ReadLE(r, &c.DwVersion)
	switch c.DwVersion & certChainMask {
	case certChainVersion1:
		c.Proprietary = &ProprietaryServerCertificate{}
		c.Proprietary.Read(r)
	case certChainVersion2:
		c.X509Chain = &X509CertificateChain{}
		c.X509Chain.Read(r)
	default:
		core.ThrowRDPErrorf(core.ErrMalformedPDU, "unknown server certificate version %#x", c.DwVersion)
	}
}

func (c *ServerCertificate) Serialize() []byte {
	buf := new(bytes.Buffer)
	switch {
	case c.Proprietary != nil:
		c.DwVersion = certChainVersion1
		core.WriteLE(buf, &c.DwVersion)
		core.WriteFull(buf, c.Proprietary.Serialize())
	case c.X509Chain != nil:
		c.DwVersion = certChainVersion2
		core.WriteLE(buf, &c.DwVersion)
		// X509CertificateChain has no Write method in the reference pack
		// (the MITM always regenerates a fresh proprietary certificate
		// rather than forging an X.509 chain), so this path only needs
		// to support Read for targets that offer it.
		core.ThrowRDPErrorf(core.ErrMalformedPDU, "writing an X.509 server certificate chain is not supported")
	default:
		core.ThrowRDPErrorf(core.ErrMalformedPDU, "empty server certificate")
	}
	return buf.Bytes()
}

// ServerSecurityData is the SC_SECURITY block: the encryption method and
// level the server picked, plus its certificate when encryption is in use.
// ServerRandom seeds the legacy key schedule together with the client's
// SEC_CLIENT_RANDOM.
type ServerSecurityData struct {
	EncryptionMethod uint32
	EncryptionLevel  uint32
	ServerRandomLen  uint32
	ServerCertLen    uint32
	ServerRandom     []byte
	ServerCert       *ServerCertificate
}

func (d *ServerSecurityData) Read(r io.Reader) {
	core.ReadLE(r, &d.EncryptionMethod)
	core.ReadLE(r, &d.EncryptionLevel)
	if d.EncryptionLevel == ENCRYPTION_LEVEL_NONE {
		return
	}
	core.ReadLE(r, &d.ServerRandomLen)
	core.ReadLE(r, &d.ServerCertLen)
	d.ServerRandom = core.ReadBytes(r, int(d.ServerRandomLen))
	certBytes := core.ReadBytes(r, int(d.ServerCertLen))
	d.ServerCert = &ServerCertificate{}
	d.ServerCert.Read(bytes.NewReader(certBytes))
}

func (d *ServerSecurityData) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, &d.EncryptionMethod)
	core.WriteLE(buf, &d.EncryptionLevel)
	if d.EncryptionLevel == ENCRYPTION_LEVEL_NONE {
		return buf.Bytes()
	}
	certBytes := d.ServerCert.Serialize()
	d.ServerRandomLen = uint32(len(d.ServerRandom))
	d.ServerCertLen = uint32(len(certBytes))
	core.WriteLE(buf, &d.ServerRandomLen)
	core.WriteLE(buf, &d.ServerCertLen)
	core.WriteFull(buf, d.ServerRandom)
	core.WriteFull(buf, certBytes)
	return buf.Bytes()
}
