package registry

import (
	"io"
	"log/slog"
	"testing"

	"github.com/wiresep/enclave/internal/noiseconst"
	"github.com/wiresep/enclave/internal/wgcrypto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddPeerComputesDHSecretAndIdentityFields(t *testing.T) {
	ifnPriv, ifnPub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	peerPriv, peerPub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	ifn := NewInterface(0, "wg0", 0, ifnPriv, ifnPub, wgcrypto.Key{})
	if ifn.PubkeyHash != noiseconst.PubkeyHash(ifnPub) {
		t.Fatalf("interface pubkeyhash does not match noiseconst.PubkeyHash")
	}

	peer, err := ifn.AddPeer(0, peerPub, wgcrypto.Key{})
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if peer.PubkeyHash != noiseconst.PubkeyHash(peerPub) {
		t.Fatalf("peer pubkeyhash does not match noiseconst.PubkeyHash")
	}

	wantSecret, err := wgcrypto.DH(ifnPriv, peerPub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	if peer.DHSecret != wantSecret {
		t.Fatalf("peer DHSecret does not match X25519(interface.StaticPriv, peer.StaticPub)")
	}

	// The same DH computed from the other side must agree, confirming the
	// precomputed secret is the shared static-static secret both ends will
	// independently derive during a handshake.
	otherSecret, err := wgcrypto.DH(peerPriv, ifnPub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	if otherSecret != wantSecret {
		t.Fatalf("DH is not symmetric across the two keypairs")
	}
}

func TestAddPeerFallsBackToInterfaceDefaultPSK(t *testing.T) {
	priv, pub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	var defaultPSK wgcrypto.Key
	defaultPSK[0] = 0xaa
	ifn := NewInterface(0, "wg0", 0, priv, pub, defaultPSK)

	_, peerPub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	peer, err := ifn.AddPeer(0, peerPub, wgcrypto.Key{})
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if peer.PSK != defaultPSK {
		t.Fatalf("peer with no PSK of its own should fall back to the interface default")
	}

	_, otherPeerPub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	var ownPSK wgcrypto.Key
	ownPSK[0] = 0xbb
	otherPeer, err := ifn.AddPeer(1, otherPeerPub, ownPSK)
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if otherPeer.PSK != ownPSK {
		t.Fatalf("peer with its own PSK must not be overridden by the interface default")
	}
}

func TestAddPeerRejectsOutOfOrderID(t *testing.T) {
	priv, pub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	ifn := NewInterface(0, "wg0", 0, priv, pub, wgcrypto.Key{})

	_, peerPub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	if _, err := ifn.AddPeer(1, peerPub, wgcrypto.Key{}); err == nil {
		t.Fatalf("expected an error adding peer id 1 before id 0 exists")
	}
}

func TestPeerLookups(t *testing.T) {
	priv, pub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	ifn := NewInterface(0, "wg0", 0, priv, pub, wgcrypto.Key{})

	_, peerPub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	peer, err := ifn.AddPeer(0, peerPub, wgcrypto.Key{})
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	peer.Handshake.SessID = 42

	if got, ok := ifn.PeerByID(0); !ok || got != peer {
		t.Fatalf("PeerByID(0) = %v, %v; want %v, true", got, ok, peer)
	}
	if _, ok := ifn.PeerByID(1); ok {
		t.Fatalf("PeerByID(1) should not resolve: only one peer was added")
	}
	if got, ok := ifn.PeerByStaticKey(peerPub); !ok || got != peer {
		t.Fatalf("PeerByStaticKey mismatch")
	}
	if got, ok := ifn.PeerBySessID(42); !ok || got != peer {
		t.Fatalf("PeerBySessID(42) mismatch")
	}
	if _, ok := ifn.PeerBySessID(43); ok {
		t.Fatalf("PeerBySessID(43) should not resolve")
	}
}

func TestRegistryInterfaceByIDStrictBound(t *testing.T) {
	r := New(testLogger())
	priv, pub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	ifn := NewInterface(0, "wg0", 0, priv, pub, wgcrypto.Key{})
	if err := r.AddInterface(ifn); err != nil {
		t.Fatalf("AddInterface: %v", err)
	}

	if got, ok := r.InterfaceByID(0); !ok || got != ifn {
		t.Fatalf("InterfaceByID(0) mismatch")
	}
	// Exactly one interface was added: id 1 is out of bounds and must be
	// rejected by a strict less-than check, not the off-by-one
	// greater-than check the original implementation used.
	if _, ok := r.InterfaceByID(1); ok {
		t.Fatalf("InterfaceByID(1) must be rejected when only interface 0 exists")
	}
}

func TestRegistryAddInterfaceRejectsOutOfOrderID(t *testing.T) {
	r := New(testLogger())
	priv, pub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	ifn := NewInterface(1, "wg1", 0, priv, pub, wgcrypto.Key{})
	if err := r.AddInterface(ifn); err == nil {
		t.Fatalf("expected an error adding interface id 1 before id 0 exists")
	}
}

func TestTotalPeers(t *testing.T) {
	r := New(testLogger())
	for i := 0; i < 2; i++ {
		priv, pub, err := wgcrypto.NewKeypair()
		if err != nil {
			t.Fatalf("keypair: %v", err)
		}
		ifn := NewInterface(uint32(i), "wg", 0, priv, pub, wgcrypto.Key{})
		if err := r.AddInterface(ifn); err != nil {
			t.Fatalf("AddInterface: %v", err)
		}
		for j := 0; j < i+1; j++ {
			_, peerPub, err := wgcrypto.NewKeypair()
			if err != nil {
				t.Fatalf("keypair: %v", err)
			}
			if _, err := ifn.AddPeer(uint32(j), peerPub, wgcrypto.Key{}); err != nil {
				t.Fatalf("AddPeer: %v", err)
			}
		}
	}
	if got := r.TotalPeers(); got != 3 {
		t.Fatalf("TotalPeers() = %d, want 3", got)
	}
}
