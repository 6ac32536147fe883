// Package identity produces and encodes the Curve25519 static keypairs a
// fixture document's interfaces and peers need. The Enclave itself never
// generates or loads its own identity — spec.md §6.3 is explicit that it
// only ever receives key material already decided by the Master, over the
// SIFN/SPEER descriptor stream — so this package exists purely to back
// cmd/wiresep-keygen, which produces key material for fixture documents
// during development.
package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/wiresep/enclave/internal/wgcrypto"
)

// Identity is a Curve25519 static keypair, printable as the hex fields a
// fixture document's static_private_key/static_public_key expect.
type Identity struct {
	PrivateKey wgcrypto.Key
	PublicKey  wgcrypto.Key
}

// Generate creates a new random identity: the key material a real
// deployment mints for a fresh interface or peer before handing it to the
// Master's configuration. Delegates to wgcrypto so there is exactly one
// X25519 keygen implementation in the repository.
func Generate() (*Identity, error) {
	priv, pub, err := wgcrypto.NewKeypair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate: %w", err)
	}
	return &Identity{PrivateKey: priv, PublicKey: pub}, nil
}

// FromPrivateKey recreates an identity from an already-chosen private key,
// e.g. one decoded from a fixture document or typed in by an operator.
func FromPrivateKey(priv wgcrypto.Key) (*Identity, error) {
	pub, err := wgcrypto.PublicFromPrivate(priv)
	if err != nil {
		return nil, fmt.Errorf("identity: derive public key: %w", err)
	}
	return &Identity{PrivateKey: priv, PublicKey: pub}, nil
}

// ParseHexPrivateKey decodes a hex-encoded private key — the same
// encoding a fixture document's static_private_key field uses — and
// derives its public half.
func ParseHexPrivateKey(hexKey string) (*Identity, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("identity: private key is not valid hex: %w", err)
	}
	if len(raw) != wgcrypto.KeySize {
		return nil, fmt.Errorf("identity: private key has %d bytes, want %d", len(raw), wgcrypto.KeySize)
	}
	var priv wgcrypto.Key
	copy(priv[:], raw)
	return FromPrivateKey(priv)
}

// LoadHexPrivateKeyFile reads a hex-encoded private key from path — the
// format cmd/wiresep-keygen writes and a fixture document embeds directly
// — and derives its public half. Unlike an on-disk agent identity this
// never auto-generates or silently persists a new key when the file is
// missing: the Enclave never owns an identity file of its own (spec.md
// §6.3), so minting one here on a missing path would hide an operator
// mistake rather than report it.
func LoadHexPrivateKeyFile(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	return ParseHexPrivateKey(string(data))
}

// PrivateKeyHex returns the private key as a hex string, the encoding a
// fixture document's static_private_key field uses.
func (id *Identity) PrivateKeyHex() string {
	return hex.EncodeToString(id.PrivateKey[:])
}

// PublicKeyHex returns the public key as a hex string, the encoding a
// fixture document's static_public_key field uses.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.PublicKey[:])
}

// Fingerprint returns a short hex prefix of the public key, for log lines
// that need to name a peer without printing its full key.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.PublicKey[:])
}

// Fingerprint derives a short display fingerprint from any public key.
func Fingerprint(pub []byte) string {
	n := len(pub)
	if n > 4 {
		n = 4
	}
	return hex.EncodeToString(pub[:n])
}

// String returns a human-readable identity summary.
func (id *Identity) String() string {
	return fmt.Sprintf("Identity{pubkey=%s}", id.Fingerprint())
}
