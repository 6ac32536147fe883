// Package wgcrypto implements the fixed-size cryptographic primitives the
// Enclave is built from: BLAKE2s hashing and HMAC, X25519 Diffie-Hellman,
// and ChaCha20-Poly1305 AEAD. Keys and hashes are fixed-size byte arrays;
// the AEAD functions take and return byte slices, and KDFN returns a
// freshly allocated slice of keys. There is no dynamic dispatch and no
// hidden state.
package wgcrypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the width of a Key: an X25519 scalar or point, a
	// ChaCha20 key, or a chaining key.
	KeySize = 32
	// HashSize is the width of a BLAKE2s-256 digest.
	HashSize = blake2s.Size
	// TagSize is the width of a Poly1305 authenticator.
	TagSize = chacha20poly1305.Overhead
	// blockSize is the BLAKE2s block size used by the HMAC construction.
	blockSize = blake2s.BlockSize
)

// Key is a 32-byte value: an X25519 scalar/point, an AEAD key, or a
// chaining key, depending on context.
type Key [KeySize]byte

// Hash is a 32-byte BLAKE2s-256 digest.
type Hash [HashSize]byte

// ErrZeroDH is returned by DH when the computed shared point is all-zero,
// which X25519 can produce for a small-order or otherwise degenerate
// input and which must never be used as key material.
var ErrZeroDH = errors.New("wgcrypto: dh produced all-zero output")

// Hash256 computes BLAKE2s-256 over the concatenation of data, unkeyed.
func Hash256(data ...[]byte) Hash {
	h, err := blake2s.New256(nil)
	if err != nil {
		// blake2s.New256 with a nil key never fails.
		panic(fmt.Sprintf("wgcrypto: blake2s.New256: %v", err))
	}
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HMAC computes HMAC-BLAKE2s-256(key, data) with the standard ipad/opad
// construction over the 64-byte BLAKE2s block size.
func HMAC(key Key, data ...[]byte) Key {
	var ipad, opad [blockSize]byte
	copy(ipad[:], key[:])
	copy(opad[:], key[:])
	for i := range ipad {
		ipad[i] ^= 0x36
		opad[i] ^= 0x5c
	}

	inner, _ := blake2s.New256(nil)
	inner.Write(ipad[:])
	for _, d := range data {
		inner.Write(d)
	}
	innerSum := inner.Sum(nil)

	outer, _ := blake2s.New256(nil)
	outer.Write(opad[:])
	outer.Write(innerSum)

	var out Key
	copy(out[:], outer.Sum(nil))
	return out
}

// DH performs an X25519 scalar multiplication of priv against pub,
// rejecting the all-zero result the way the protocol requires.
func DH(priv, pub Key) (Key, error) {
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return Key{}, fmt.Errorf("wgcrypto: x25519: %w", err)
	}
	var out Key
	copy(out[:], shared)
	if subtle.ConstantTimeCompare(out[:], make([]byte, KeySize)) == 1 {
		return Key{}, ErrZeroDH
	}
	return out, nil
}

// NewKeypair generates a fresh X25519 keypair: priv is randomly sourced
// and clamped, pub is priv's basepoint multiple.
func NewKeypair() (priv, pub Key, err error) {
	if _, err := randRead(priv[:]); err != nil {
		return Key{}, Key{}, fmt.Errorf("wgcrypto: generate ephemeral: %w", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	shared, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return Key{}, Key{}, fmt.Errorf("wgcrypto: derive public: %w", err)
	}
	copy(pub[:], shared)
	return priv, pub, nil
}

// PublicFromPrivate recovers priv's basepoint multiple, for callers (such
// as the fixture loader) that only hold a private key on disk and need its
// public half without generating a new keypair.
func PublicFromPrivate(priv Key) (Key, error) {
	shared, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return Key{}, fmt.Errorf("wgcrypto: derive public: %w", err)
	}
	var pub Key
	copy(pub[:], shared)
	return pub, nil
}

// AEADSeal seals plaintext under key with the fixed all-zero 12-byte
// handshake nonce and ad as associated data, appending a 16-byte tag.
func AEADSeal(key Key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("wgcrypto: new aead: %w", err)
	}
	var nonce [chacha20poly1305.NonceSize]byte
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

// AEADOpen opens ciphertext (which must include its trailing tag) under
// key with the fixed all-zero 12-byte handshake nonce and ad as
// associated data.
func AEADOpen(key Key, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("wgcrypto: new aead: %w", err)
	}
	var nonce [chacha20poly1305.NonceSize]byte
	out, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, ErrAEADOpen
	}
	return out, nil
}

// ErrAEADOpen is returned when an AEAD tag fails to verify.
var ErrAEADOpen = errors.New("wgcrypto: aead authentication failed")

// KDFN derives n (1..255) successive 32-byte keys via the Noise
// HKDF-expand construction: t0 = HMAC(key, in); out[0] = HMAC(t0, 0x01);
// out[i] = HMAC(t0, out[i-1] || byte(i+1)). t0 is zeroised before return.
func KDFN(n int, chainKey Key, input []byte) ([]Key, error) {
	if n < 1 || n > 255 {
		return nil, fmt.Errorf("wgcrypto: kdfn: n out of range: %d", n)
	}
	t0 := HMAC(chainKey, input)
	defer Zero(t0[:])

	out := make([]Key, n)
	out[0] = HMAC(t0, []byte{0x01})
	for i := 1; i < n; i++ {
		out[i] = HMAC(t0, append(append([]byte{}, out[i-1][:]...), byte(i+1)))
	}
	return out, nil
}

// KDF1 derives a single replacement chaining key.
func KDF1(chainKey Key, input []byte) (Key, error) {
	out, err := KDFN(1, chainKey, input)
	if err != nil {
		return Key{}, err
	}
	return out[0], nil
}

// KDF2 derives a pair of keys, typically (newChainKey, derivedKey).
func KDF2(chainKey Key, input []byte) (a, b Key, err error) {
	out, err := KDFN(2, chainKey, input)
	if err != nil {
		return Key{}, Key{}, err
	}
	return out[0], out[1], nil
}

// KDF3 derives a triple of keys, typically (newChainKey, tau, aeadKey).
func KDF3(chainKey Key, input []byte) (a, b, c Key, err error) {
	out, err := KDFN(3, chainKey, input)
	if err != nil {
		return Key{}, Key{}, Key{}, err
	}
	return out[0], out[1], out[2], nil
}

// KeyedMac16 computes a 16-byte keyed BLAKE2s MAC: the mac1/mac2 fields of
// a handshake message use this construction directly (not the HMAC
// wrapper above), with the appropriate key and the message prefix as
// input.
func KeyedMac16(key Key, data ...[]byte) ([16]byte, error) {
	h, err := blake2s.New128(key[:])
	if err != nil {
		return [16]byte{}, fmt.Errorf("wgcrypto: blake2s.New128: %w", err)
	}
	for _, d := range data {
		h.Write(d)
	}
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Zero overwrites b with zero bytes. Used to scrub transient key material
// from the stack before a handshake routine returns.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// randRead is a seam so tests could swap entropy if ever required; it
// wraps crypto/rand.Read.
var randRead = rand.Read
