package sec

import (
	"crypto/md5"
	"crypto/sha1"
)

// saltedHash implements MS-RDPBCGR's SaltedHash construction:
// MD5(secret || SHA1(salt || secret || clientRandom || serverRandom)),
// used with the "A"/"BB"/"CCC" and "X"/"YY"/"ZZZ" salts to derive the
// master secret and the session key blob.
func saltedHash(salt, secret, clientRandom, serverRandom []byte) []byte {
	sha := sha1.New()
	sha.Write(salt)
	sha.Write(secret)
	sha.Write(clientRandom)
	sha.Write(serverRandom)
	shaDigest := sha.Sum(nil)

	md := md5.New()
	md.Write(secret)
	md.Write(shaDigest)
	return md.Sum(nil)
}

// finalHash implements MS-RDPBCGR's FinalHash: MD5(in || clientRandom ||
// serverRandom), used to turn the two session-key-blob halves into the
// two initial RC4 keys.
func finalHash(in, clientRandom, serverRandom []byte) []byte {
	md := md5.New()
	md.Write(in)
	md.Write(clientRandom)
	md.Write(serverRandom)
	return md.Sum(nil)
}

// KeySchedule holds every key derived from the client-random/server-random
// exchange for one legacy-encrypted session, per MS-RDPBCGR 5.3.5. The
// Encrypt/Decrypt naming follows the RDP client's perspective: a client
// encrypts outbound traffic with InitialEncrypt and decrypts inbound
// traffic with InitialDecrypt, while a server (or this proxy playing the
// server role toward the victim) uses the same two keys with the roles
// swapped.
type KeySchedule struct {
	MasterSecret   []byte // 48 bytes
	SessionKeyBlob []byte // 48 bytes
	MacKey128      []byte // first 16 bytes of the blob, all key lengths
	InitialEncrypt []byte // client-to-server direction
	InitialDecrypt []byte // server-to-client direction
	KeyLenBytes    int    // 8 (40/56-bit) or 16 (128-bit)
}

// DeriveKeySchedule computes the master secret and both initial RC4 keys
// from the 32-byte client random and server random exchanged in the
// handshake's security-exchange and server-security-data steps, and the
// negotiated key length.
func DeriveKeySchedule(clientRandom, serverRandom []byte, keyLenBytes int) *KeySchedule {
	preMasterSecret := append(append([]byte{}, clientRandom[:24]...), serverRandom[:24]...)

	masterSecret := make([]byte, 0, 48)
	masterSecret = append(masterSecret, saltedHash([]byte("A"), preMasterSecret, clientRandom, serverRandom)...)
	masterSecret = append(masterSecret, saltedHash([]byte("BB"), preMasterSecret, clientRandom, serverRandom)...)
	masterSecret = append(masterSecret, saltedHash([]byte("CCC"), preMasterSecret, clientRandom, serverRandom)...)

	sessionKeyBlob := make([]byte, 0, 48)
	sessionKeyBlob = append(sessionKeyBlob, saltedHash([]byte("X"), masterSecret, clientRandom, serverRandom)...)
	sessionKeyBlob = append(sessionKeyBlob, saltedHash([]byte("YY"), masterSecret, clientRandom, serverRandom)...)
	sessionKeyBlob = append(sessionKeyBlob, saltedHash([]byte("ZZZ"), masterSecret, clientRandom, serverRandom)...)

	macKey128 := sessionKeyBlob[0:16]
	initialDecrypt := finalHash(sessionKeyBlob[16:32], clientRandom, serverRandom)
	initialEncrypt := finalHash(sessionKeyBlob[32:48], clientRandom, serverRandom)

	if keyLenBytes == 8 {
		initialEncrypt = weaken40Bit(initialEncrypt)
		initialDecrypt = weaken40Bit(initialDecrypt)
	}

	return &KeySchedule{
		MasterSecret:   masterSecret,
		SessionKeyBlob: sessionKeyBlob,
		MacKey128:      macKey128,
		InitialEncrypt: initialEncrypt,
		InitialDecrypt: initialDecrypt,
		KeyLenBytes:    keyLenBytes,
	}
}

// weaken40Bit truncates a derived 128-bit RC4 key to 8 bytes and replaces
// the first three with the fixed pad MS-RDPBCGR 5.3.5.1 prescribes, so
// every 40-bit session, regardless of the random key material, shares the
// same three leading bytes.
func weaken40Bit(key []byte) []byte {
	out := append([]byte{}, key[:8]...)
	copy(out[0:3], []byte{0xd1, 0x26, 0x9e})
	return out
}
