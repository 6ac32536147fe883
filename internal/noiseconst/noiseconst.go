// Package noiseconst holds the fixed, process-wide constants the WireGuard
// handshake is domain-separated with: the Noise protocol name, the
// WireGuard identifier string, and the mac1/cookie labels. The two derived
// hashes (spec.md's Construction-Hash and Construction-Identifier-Hash) are
// computed once at package init, exactly as every interface's and peer's
// pubkeyhash is built from them afterwards.
package noiseconst

import "github.com/wiresep/enclave/internal/wgcrypto"

const (
	// Construction is the Noise protocol name this handshake instantiates.
	Construction = "Noise_IKpsk2_25519_ChaChaPoly_BLAKE2s"
	// Identifier disambiguates the construction from other users of the
	// same Noise pattern.
	Identifier = "WireGuard v1 zx2c4 Jason@zx2c4.com"
	// LabelMac1 domain-separates the mac1 keyed hash from everything else.
	LabelMac1 = "mac1----"
	// LabelCookie domain-separates the cookie key.
	LabelCookie = "cookie--"
)

var (
	// ConstructionHash is Hash(Construction), used as the initial chaining
	// key for every handshake.
	ConstructionHash wgcrypto.Hash
	// ConstructionIdentityHash is Hash(ConstructionHash || Identifier),
	// used as the initial transcript hash and as the seed for every
	// interface's and peer's pubkeyhash.
	ConstructionIdentityHash wgcrypto.Hash
)

func init() {
	ConstructionHash = wgcrypto.Hash256([]byte(Construction))
	ConstructionIdentityHash = wgcrypto.Hash256(ConstructionHash[:], []byte(Identifier))
}

// PubkeyHash computes Hash(ConstructionIdentityHash || pub), the identity
// hash used to seed a handshake transcript for a given static public key
// (an interface's own key on the responder side, a peer's key on the
// initiator side).
func PubkeyHash(pub wgcrypto.Key) wgcrypto.Hash {
	return wgcrypto.Hash256(ConstructionIdentityHash[:], pub[:])
}

// Mac1Key computes Hash(LabelMac1 || pub), the key used to validate the
// mac1 field of a handshake message addressed to the holder of pub.
func Mac1Key(pub wgcrypto.Key) wgcrypto.Key {
	h := wgcrypto.Hash256([]byte(LabelMac1), pub[:])
	var k wgcrypto.Key
	copy(k[:], h[:])
	return k
}

// CookieKey computes Hash(LabelCookie || pub). Cookie replies themselves
// are produced outside the Enclave, but the key is a pure function of the
// interface's static public key and is precomputed alongside pubkeyhash
// and mac1key.
func CookieKey(pub wgcrypto.Key) wgcrypto.Key {
	h := wgcrypto.Hash256([]byte(LabelCookie), pub[:])
	var k wgcrypto.Key
	copy(k[:], h[:])
	return k
}
