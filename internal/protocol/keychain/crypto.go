package keychain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const KeySize = 32

var (
	ErrInvalidPublicKey = errors.New("keychain: invalid public key")
	ErrSealedTooShort   = errors.New("keychain: sealed payload too short")
	ErrOpenFailed       = errors.New("keychain: open failed")
)

type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

func (k KeyPair) PublicHex() string {
	return hex.EncodeToString(k.Public[:])
}

// GenerateKeyPair returns a clamped x25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, err
	}
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

func ParsePublicKey(raw string) ([KeySize]byte, error) {
	var out [KeySize]byte
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != KeySize {
		return out, fmt.Errorf("%w: %q", ErrInvalidPublicKey, raw)
	}
	copy(out[:], b)
	return out, nil
}

// DeriveSymKey runs x25519 against peerPublic and expands the shared secret
// with HKDF-SHA256.
func DeriveSymKey(private, peerPublic [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	shared, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return out, err
	}
	defer Wipe(shared)
	r := hkdf.New(sha256.New, shared, nil, nil)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// TopicForKey is the hex sha256 of a symmetric key.
func TopicForKey(sym [KeySize]byte) string {
	sum := sha256.Sum256(sym[:])
	return hex.EncodeToString(sum[:])
}

// RandomTopic returns 32 random bytes in hex.
func RandomTopic() (string, error) {
	var b [KeySize]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func Seal(sym [KeySize]byte, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.New(sym[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize, chacha20poly1305.NonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func Open(sym [KeySize]byte, sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	if len(raw) < chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, ErrSealedTooShort
	}
	aead, err := chacha20poly1305.New(sym[:])
	if err != nil {
		return nil, err
	}
	nonce, ct := raw[:chacha20poly1305.NonceSize], raw[chacha20poly1305.NonceSize:]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return pt, nil
}

//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
