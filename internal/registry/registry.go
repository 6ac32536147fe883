// Package registry holds the Enclave's in-memory interface and peer
// tables: flat, dense-indexed arenas loaded once at startup from the
// SINIT/SIFN/SPEER control stream and never resized afterwards. Interfaces
// and peers are indexed by dense integer ids, but they also point at each
// other: a Peer holds its Interface by pointer (set once, at construction)
// and an Interface holds its peers as a slice of *Peer plus a map from
// static key to *Peer. Handshake state is embedded in each Peer.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/wiresep/enclave/internal/noiseconst"
	"github.com/wiresep/enclave/internal/tai64n"
	"github.com/wiresep/enclave/internal/wgcrypto"
)

// MaxPeers is the compile-time ceiling on the total number of peers across
// every interface, carried over from the original enclave's MAXPEERS
// static maximum (enclave.c). Bootstrap rejects any configuration that
// exceeds it before doing any descriptor or privilege work.
const MaxPeers = 1 << 16

// HandshakeState is the mutable, per-peer handshake scratch the four
// noiseik operations read and overwrite. It is never destroyed: each new
// handshake with a peer simply overwrites the previous one's fields.
type HandshakeState struct {
	SessID     uint32       // local session id, fresh on each new handshake
	PeerSessID uint32       // remote session id, learned during the handshake
	EPriv      wgcrypto.Key // this side's ephemeral private key
	EPubI      wgcrypto.Key // initiator's ephemeral public key, retained by the responder
	C          wgcrypto.Key // chaining key
	H          wgcrypto.Hash
}

// Peer is a statically configured WireGuard peer, persistent for the
// Enclave's lifetime. All fields except RecvTS and Handshake are pure
// functions of configuration supplied over SPEER and never change again.
type Peer struct {
	ID         uint32
	Interface  *Interface
	StaticPub  wgcrypto.Key // R_pub
	PubkeyHash wgcrypto.Hash
	Mac1Key    wgcrypto.Key
	DHSecret   wgcrypto.Key // X25519(interface.StaticPriv, StaticPub), derived once
	PSK        wgcrypto.Key // zero when absent
	RecvTS     tai64n.Timestamp
	Handshake  HandshakeState
}

// Interface is a statically configured WireGuard interface, persistent for
// the Enclave's lifetime.
type Interface struct {
	ID         uint32
	Name       string
	Port       int // descriptor to the Interface sibling process
	StaticPriv wgcrypto.Key
	StaticPub  wgcrypto.Key
	PubkeyHash wgcrypto.Hash
	Mac1Key    wgcrypto.Key
	CookieKey  wgcrypto.Key
	DefaultPSK wgcrypto.Key // fallback PSK for peers configured without their own
	Peers      []*Peer

	byPubkey map[wgcrypto.Key]*Peer
}

// NewInterface derives an Interface's precomputed identity fields from its
// static keypair. Peers are added afterwards with AddPeer.
func NewInterface(id uint32, name string, port int, staticPriv, staticPub wgcrypto.Key, defaultPSK wgcrypto.Key) *Interface {
	return &Interface{
		ID:         id,
		Name:       name,
		Port:       port,
		StaticPriv: staticPriv,
		StaticPub:  staticPub,
		PubkeyHash: noiseconst.PubkeyHash(staticPub),
		Mac1Key:    noiseconst.Mac1Key(staticPub),
		CookieKey:  noiseconst.CookieKey(staticPub),
		DefaultPSK: defaultPSK,
		byPubkey:   make(map[wgcrypto.Key]*Peer),
	}
}

// AddPeer derives the peer's precomputed identity fields — including the
// one-time Diffie-Hellman with the interface's static private key — and
// appends it to the interface's dense peer table. id must equal the peer's
// position in that table; the caller (the SPEER loader) is responsible for
// presenting peers in order. A zero psk falls back to the interface's
// DefaultPSK, per spec.md §3.
func (ifn *Interface) AddPeer(id uint32, staticPub wgcrypto.Key, psk wgcrypto.Key) (*Peer, error) {
	if int(id) != len(ifn.Peers) {
		return nil, fmt.Errorf("registry: out-of-order peer id %d for interface %s (expected %d)", id, ifn.Name, len(ifn.Peers))
	}
	dhsecret, err := wgcrypto.DH(ifn.StaticPriv, staticPub)
	if err != nil {
		return nil, fmt.Errorf("registry: precompute dhsecret for peer %d on %s: %w", id, ifn.Name, err)
	}
	if psk == (wgcrypto.Key{}) {
		psk = ifn.DefaultPSK
	}
	p := &Peer{
		ID:         id,
		Interface:  ifn,
		StaticPub:  staticPub,
		PubkeyHash: noiseconst.PubkeyHash(staticPub),
		Mac1Key:    noiseconst.Mac1Key(staticPub),
		DHSecret:   dhsecret,
		PSK:        psk,
	}
	ifn.Peers = append(ifn.Peers, p)
	ifn.byPubkey[staticPub] = p
	return p, nil
}

// PeerByID looks up a peer by its dense per-interface id.
func (ifn *Interface) PeerByID(id uint32) (*Peer, bool) {
	if id >= uint32(len(ifn.Peers)) {
		return nil, false
	}
	return ifn.Peers[id], true
}

// PeerByStaticKey looks up a peer by its static public key, used when a
// handshake message's identity is only known after decrypting enc_static.
func (ifn *Interface) PeerByStaticKey(pub wgcrypto.Key) (*Peer, bool) {
	p, ok := ifn.byPubkey[pub]
	return p, ok
}

// PeerBySessID performs a linear scan for the peer whose current handshake
// owns the given local session id. The Enclave's peer counts are small
// enough (spec.md's MaxPeers) that this is preferred over an extra index
// that would need to be kept in sync with every new handshake.
func (ifn *Interface) PeerBySessID(sessID uint32) (*Peer, bool) {
	for _, p := range ifn.Peers {
		if p.Handshake.SessID == sessID {
			return p, true
		}
	}
	return nil, false
}

// Registry is the top-level table of interfaces, indexed by dense integer
// id exactly as the configuration stream presented them.
type Registry struct {
	Interfaces []*Interface
	log        *slog.Logger
}

// New creates an empty registry. Interfaces are appended with AddInterface
// as SIFN messages arrive.
func New(log *slog.Logger) *Registry {
	return &Registry{log: log.With("component", "registry")}
}

// AddInterface appends a new interface; id must equal its position in the
// table.
func (r *Registry) AddInterface(ifn *Interface) error {
	if int(ifn.ID) != len(r.Interfaces) {
		return fmt.Errorf("registry: out-of-order interface id %d (expected %d)", ifn.ID, len(r.Interfaces))
	}
	r.Interfaces = append(r.Interfaces, ifn)
	return nil
}

// InterfaceByID looks up an interface by its dense id. The bound check is
// deliberately strict-less-than: spec.md §9 flags the original source's
// off-by-one (`ifnid > ifnvsize`) as a bug to not repeat.
func (r *Registry) InterfaceByID(id uint32) (*Interface, bool) {
	if id >= uint32(len(r.Interfaces)) {
		return nil, false
	}
	return r.Interfaces[id], true
}

// TotalPeers sums peer counts across every interface, used to enforce
// MaxPeers at bootstrap.
func (r *Registry) TotalPeers() int {
	n := 0
	for _, ifn := range r.Interfaces {
		n += len(ifn.Peers)
	}
	return n
}
