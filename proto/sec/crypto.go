package sec

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha1"

	"github.com/proxysec/rdpmitm/core"
)

// rekeyInterval is the packet count after which MS-RDPBCGR 5.3.7 requires
// both peers to derive a fresh RC4 cipher from the original key material,
// independently in each direction.
const rekeyInterval = 4096

// Stream is one direction's RC4 cipher state: the initial key it was
// seeded with (the fixed update key every rekey derives from), the
// current-generation key, and a running packet count. A session holds two
// of these, one per direction, each advancing independently; the two
// directions must never share a keystream.
type Stream struct {
	initialKey []byte
	currentKey []byte
	cipher     *rc4.Cipher
	packets    int
}

// NewStream seeds a fresh RC4 stream from an initial key derived by
// DeriveKeySchedule.
func NewStream(key []byte) *Stream {
	s := &Stream{
		initialKey: append([]byte{}, key...),
		currentKey: append([]byte{}, key...),
	}
	s.reset()
	return s
}

func (s *Stream) reset() {
	c, err := rc4.NewCipher(s.currentKey)
	core.ThrowError(err)
	s.cipher = c
}

// rekey derives the next generation's key per MS-RDPBCGR 5.3.7.2:
// MD5(initialKey || pad2 || SHA1(initialKey || pad1 || currentKey)),
// truncated to the key length, then encrypted once with RC4 under itself.
// The 40-bit salt, if the key length calls for it, is re-applied so every
// generation keeps the fixed leading bytes.
func (s *Stream) rekey() {
	pad1 := bytesOf(0x36, 40)
	pad2 := bytesOf(0x5c, 48)

	sha := sha1.New()
	sha.Write(s.initialKey)
	sha.Write(pad1)
	sha.Write(s.currentKey)
	shaDigest := sha.Sum(nil)

	md := md5.New()
	md.Write(s.initialKey)
	md.Write(pad2)
	md.Write(shaDigest)
	next := md.Sum(nil)[:len(s.currentKey)]

	c, err := rc4.NewCipher(next)
	core.ThrowError(err)
	c.XORKeyStream(next, next)

	if len(next) == 8 {
		copy(next[0:3], []byte{0xd1, 0x26, 0x9e})
	}
	s.currentKey = next
	s.reset()
}

// Apply encrypts or decrypts data (RC4 is its own inverse), rekeying
// first whenever the packet count crosses rekeyInterval.
func (s *Stream) Apply(data []byte) []byte {
	if s.packets > 0 && s.packets%rekeyInterval == 0 {
		s.rekey()
	}
	s.packets++
	out := make([]byte, len(data))
	s.cipher.XORKeyStream(out, data)
	return out
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// Sign computes the 8-byte data signature MAC used to authenticate each
// secured PDU: MD5(macKey || pad2 || SHA1(macKey || pad1 || len32(data) ||
// data))[:8], per MS-RDPBCGR 5.3.6.1. len32 is the little-endian 4-byte
// length of data as it appears before encryption.
func Sign(macKey, data []byte) [8]byte {
	pad1 := bytesOf(0x36, 40)
	pad2 := bytesOf(0x5c, 48)

	length := uint32(len(data))
	lenBytes := []byte{byte(length), byte(length >> 8), byte(length >> 16), byte(length >> 24)}

	sha := sha1.New()
	sha.Write(macKey)
	sha.Write(pad1)
	sha.Write(lenBytes)
	sha.Write(data)
	shaDigest := sha.Sum(nil)

	md := md5.New()
	md.Write(macKey)
	md.Write(pad2)
	md.Write(shaDigest)
	digest := md.Sum(nil)

	var out [8]byte
	copy(out[:], digest[:8])
	return out
}

// VerifySign recomputes the MAC for data and reports whether it matches
// sig in constant time.
func VerifySign(macKey, data []byte, sig [8]byte) bool {
	got := Sign(macKey, data)
	return hmac.Equal(got[:], sig[:])
}
