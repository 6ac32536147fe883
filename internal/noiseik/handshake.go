package noiseik

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wiresep/enclave/internal/noiseconst"
	"github.com/wiresep/enclave/internal/registry"
	"github.com/wiresep/enclave/internal/tai64n"
	"github.com/wiresep/enclave/internal/wgcrypto"
)

// Sentinel errors for the reject paths spec.md §7 requires: each is
// reported by the caller with a single log line and never mutates peer
// state.
var (
	ErrUnknownPeer    = errors.New("noiseik: static key does not match any configured peer")
	ErrUnknownSession = errors.New("noiseik: no peer owns this session id")
	ErrCrossPeer      = errors.New("noiseik: handshake resolved to a different peer than asserted")
	ErrReplay         = errors.New("noiseik: timestamp is not strictly greater than the last accepted one")
)

func mixHash(h wgcrypto.Hash, data []byte) wgcrypto.Hash {
	return wgcrypto.Hash256(h[:], data)
}

func randSessionID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("noiseik: generate session id: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// CreateInit runs the initiator role: it generates a fresh ephemeral
// keypair and ties it to peer's precomputed identity fields and the
// interface's static key to produce a MsgInit, per spec.md §4.3. peer's
// handshake state is overwritten only once every step has succeeded.
func CreateInit(peer *registry.Peer) (*MsgInit, error) {
	sessID, err := randSessionID()
	if err != nil {
		return nil, err
	}
	ePriv, ePub, err := wgcrypto.NewKeypair()
	if err != nil {
		return nil, fmt.Errorf("noiseik: generate ephemeral: %w", err)
	}
	defer wgcrypto.Zero(ePriv[:])

	h := mixHash(peer.PubkeyHash, ePub[:])
	c, err := wgcrypto.KDF1(wgcrypto.Key(noiseconst.ConstructionHash), ePub[:])
	if err != nil {
		return nil, err
	}

	ks, err := wgcrypto.DH(ePriv, peer.StaticPub)
	if err != nil {
		return nil, fmt.Errorf("noiseik: es dh: %w", err)
	}
	var kappa1 wgcrypto.Key
	c, kappa1, err = wgcrypto.KDF2(c, ks[:])
	if err != nil {
		return nil, err
	}

	encStatic, err := wgcrypto.AEADSeal(kappa1, peer.Interface.StaticPub[:], h[:])
	if err != nil {
		return nil, fmt.Errorf("noiseik: seal static: %w", err)
	}
	h = mixHash(h, encStatic)

	var kappa2 wgcrypto.Key
	c, kappa2, err = wgcrypto.KDF2(c, peer.DHSecret[:])
	if err != nil {
		return nil, err
	}

	ts := tai64n.Now()
	encTS, err := wgcrypto.AEADSeal(kappa2, ts[:], h[:])
	if err != nil {
		return nil, fmt.Errorf("noiseik: seal timestamp: %w", err)
	}
	h = mixHash(h, encTS)

	msg := &MsgInit{
		Type:      MsgInitType,
		Sender:    sessID,
		Ephemeral: ePub,
	}
	copy(msg.EncStatic[:], encStatic)
	copy(msg.EncTS[:], encTS)
	if err := signInitMac1(msg, peer.Mac1Key); err != nil {
		return nil, err
	}

	peer.Handshake.SessID = sessID
	peer.Handshake.EPriv = ePriv
	peer.Handshake.C = c
	peer.Handshake.H = h
	return msg, nil
}

// ConsumeInit runs the responder role against an init message whose
// sender is not yet known to be a specific peer (the Proxy path) or is
// asserted by the caller (the Interface path, where `asserted` must match
// the peer the decryption resolves to). On success it returns the
// resolved peer and commits the new chaining key, transcript hash, and
// accepted timestamp; on any failure the peer's persistent state (if one
// was even found) is left untouched.
func ConsumeInit(ifn *registry.Interface, msg *MsgInit, asserted *registry.Peer) (*registry.Peer, error) {
	if err := verifyInitMac1(msg, ifn.Mac1Key); err != nil {
		return nil, err
	}

	h := mixHash(ifn.PubkeyHash, msg.Ephemeral[:])
	c, err := wgcrypto.KDF1(wgcrypto.Key(noiseconst.ConstructionHash), msg.Ephemeral[:])
	if err != nil {
		return nil, err
	}

	ks, err := wgcrypto.DH(ifn.StaticPriv, msg.Ephemeral)
	if err != nil {
		return nil, fmt.Errorf("noiseik: es dh: %w", err)
	}
	var kappa1 wgcrypto.Key
	c, kappa1, err = wgcrypto.KDF2(c, ks[:])
	if err != nil {
		return nil, err
	}

	staticPlain, err := wgcrypto.AEADOpen(kappa1, msg.EncStatic[:], h[:])
	if err != nil {
		return nil, fmt.Errorf("noiseik: open static: %w", err)
	}
	var candidatePub wgcrypto.Key
	copy(candidatePub[:], staticPlain)

	peer, ok := ifn.PeerByStaticKey(candidatePub)
	if !ok {
		return nil, ErrUnknownPeer
	}
	if asserted != nil && asserted != peer {
		return nil, ErrCrossPeer
	}
	h = mixHash(h, msg.EncStatic[:])

	var kappa2 wgcrypto.Key
	c, kappa2, err = wgcrypto.KDF2(c, peer.DHSecret[:])
	if err != nil {
		return nil, err
	}

	tsPlain, err := wgcrypto.AEADOpen(kappa2, msg.EncTS[:], h[:])
	if err != nil {
		return nil, fmt.Errorf("noiseik: open timestamp: %w", err)
	}
	var ts tai64n.Timestamp
	copy(ts[:], tsPlain)

	if !ts.After(peer.RecvTS) {
		return nil, ErrReplay
	}
	h = mixHash(h, msg.EncTS[:])

	peer.RecvTS = ts
	peer.Handshake.EPubI = msg.Ephemeral
	peer.Handshake.C = c
	peer.Handshake.H = h
	peer.Handshake.PeerSessID = msg.Sender
	return peer, nil
}

// CreateResponse runs the responder role's second step: peer must already
// hold the handshake state a prior ConsumeInit left behind (C, H, EPubI,
// PeerSessID). It generates a fresh responder ephemeral, finishes the
// triple DH, mixes in the PSK, and returns the response message.
func CreateResponse(peer *registry.Peer) (*MsgResp, error) {
	sessID, err := randSessionID()
	if err != nil {
		return nil, err
	}
	ePriv, ePub, err := wgcrypto.NewKeypair()
	if err != nil {
		return nil, fmt.Errorf("noiseik: generate ephemeral: %w", err)
	}

	c, err := wgcrypto.KDF1(peer.Handshake.C, ePub[:])
	if err != nil {
		return nil, err
	}
	h := mixHash(peer.Handshake.H, ePub[:])

	kee, err := wgcrypto.DH(ePriv, peer.Handshake.EPubI)
	if err != nil {
		wgcrypto.Zero(ePriv[:])
		return nil, fmt.Errorf("noiseik: ee dh: %w", err)
	}
	c, err = wgcrypto.KDF1(c, kee[:])
	if err != nil {
		return nil, err
	}

	kes, err := wgcrypto.DH(ePriv, peer.StaticPub)
	if err != nil {
		wgcrypto.Zero(ePriv[:])
		return nil, fmt.Errorf("noiseik: es dh: %w", err)
	}
	c, err = wgcrypto.KDF1(c, kes[:])
	if err != nil {
		return nil, err
	}

	var tau, kappa wgcrypto.Key
	c, tau, kappa, err = wgcrypto.KDF3(c, peer.PSK[:])
	if err != nil {
		return nil, err
	}
	h = mixHash(h, tau[:])

	encEmpty, err := wgcrypto.AEADSeal(kappa, nil, h[:])
	if err != nil {
		return nil, fmt.Errorf("noiseik: seal empty: %w", err)
	}

	msg := &MsgResp{
		Type:      MsgRespType,
		Sender:    sessID,
		Receiver:  peer.Handshake.PeerSessID,
		Ephemeral: ePub,
	}
	copy(msg.EncEmpty[:], encEmpty)
	if err := signRespMac1(msg, peer.Mac1Key); err != nil {
		return nil, err
	}

	peer.Handshake.SessID = sessID
	peer.Handshake.EPriv = ePriv
	peer.Handshake.C = c
	peer.Handshake.H = h
	return msg, nil
}

// ConsumeResponse runs the initiator role's second step: it looks up the
// peer owning msg.Receiver on ifn, finishes the triple DH using this
// side's retained ephemeral private key and the interface's static
// private key, and authenticates the empty AEAD payload.
func ConsumeResponse(ifn *registry.Interface, msg *MsgResp, asserted *registry.Peer) (*registry.Peer, error) {
	if err := verifyRespMac1(msg, ifn.Mac1Key); err != nil {
		return nil, err
	}

	peer, ok := ifn.PeerBySessID(msg.Receiver)
	if !ok {
		return nil, ErrUnknownSession
	}
	if asserted != nil && asserted != peer {
		return nil, ErrCrossPeer
	}

	c, err := wgcrypto.KDF1(peer.Handshake.C, msg.Ephemeral[:])
	if err != nil {
		return nil, err
	}
	h := mixHash(peer.Handshake.H, msg.Ephemeral[:])

	kee, err := wgcrypto.DH(peer.Handshake.EPriv, msg.Ephemeral)
	if err != nil {
		return nil, fmt.Errorf("noiseik: ee dh: %w", err)
	}
	c, err = wgcrypto.KDF1(c, kee[:])
	if err != nil {
		return nil, err
	}

	kes, err := wgcrypto.DH(ifn.StaticPriv, msg.Ephemeral)
	if err != nil {
		return nil, fmt.Errorf("noiseik: es dh: %w", err)
	}
	c, err = wgcrypto.KDF1(c, kes[:])
	if err != nil {
		return nil, err
	}

	var tau, kappa wgcrypto.Key
	c, tau, kappa, err = wgcrypto.KDF3(c, peer.PSK[:])
	if err != nil {
		return nil, err
	}
	h = mixHash(h, tau[:])

	if _, err := wgcrypto.AEADOpen(kappa, msg.EncEmpty[:], h[:]); err != nil {
		return nil, fmt.Errorf("noiseik: open empty: %w", err)
	}

	wgcrypto.Zero(peer.Handshake.EPriv[:])
	peer.Handshake.C = c
	peer.Handshake.H = h
	peer.Handshake.PeerSessID = msg.Sender
	return peer, nil
}

// SessionKeys is the pair of transport keys handed to the Interface
// process once a handshake completes. The Enclave never retains them
// after emitting this message.
type SessionKeys struct {
	LocalSessID  uint32
	RemoteSessID uint32
	SendKey      wgcrypto.Key
	RecvKey      wgcrypto.Key
}

// DeriveSessionKeys computes (send, recv) = KDF_2(empty, c) from peer's
// current chaining key. isResponder controls which of the two derived
// keys is the send key, per spec.md §4.4: the responder's send key is the
// initiator's recv key and vice versa. The chaining key is zeroised
// immediately after derivation; it must not be reused.
func DeriveSessionKeys(peer *registry.Peer, isResponder bool) (SessionKeys, error) {
	k1, k2, err := wgcrypto.KDF2(peer.Handshake.C, nil)
	if err != nil {
		return SessionKeys{}, err
	}
	defer wgcrypto.Zero(peer.Handshake.C[:])

	sk := SessionKeys{
		LocalSessID:  peer.Handshake.SessID,
		RemoteSessID: peer.Handshake.PeerSessID,
	}
	if isResponder {
		sk.RecvKey, sk.SendKey = k1, k2
	} else {
		sk.SendKey, sk.RecvKey = k1, k2
	}
	return sk, nil
}

// Zero overwrites a SessionKeys' key material, called by the dispatcher
// immediately after the message has been sent to the Interface.
func (sk *SessionKeys) Zero() {
	wgcrypto.Zero(sk.SendKey[:])
	wgcrypto.Zero(sk.RecvKey[:])
}
