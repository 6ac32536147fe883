// Package dispatch implements the Enclave's single-threaded message
// dispatcher: the handlers that run whenever a readiness-based event loop
// wakes up with a frame from the Interface or Proxy sibling, per spec.md
// §4.5. It is pure request/response logic over the noiseik and registry
// packages — the event loop itself (kqueue on the original, reader
// goroutines feeding one select loop here) lives in cmd/wiresep-enclave and
// only needs to call
// HandleInterfaceMessage / HandleProxyMessage when a descriptor is ready.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/wiresep/enclave/internal/noiseik"
	"github.com/wiresep/enclave/internal/registry"
	"github.com/wiresep/enclave/internal/wiremsg"
)

// IfnLink is the outbound side of an Interface sibling's descriptor: one
// per configured interface, used to deliver every message the dispatcher
// addresses to it (MSGWGINIT, MSGWGRESP, MSGCONNREQ, MSGSESSKEYS).
type IfnLink interface {
	SendFrame(f wiremsg.Frame) error
}

// ErrNoLink is returned when a handler needs to reply to an interface that
// has not had a link registered for it yet.
var ErrNoLink = errors.New("dispatch: no outbound link registered for this interface")

// Dispatcher owns the registry and the set of outbound links to every
// configured Interface sibling.
type Dispatcher struct {
	reg   *registry.Registry
	log   *slog.Logger
	links map[uint32]IfnLink
}

// New creates a Dispatcher over an already-populated registry.
func New(reg *registry.Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		reg:   reg,
		log:   log.With("component", "dispatch"),
		links: make(map[uint32]IfnLink),
	}
}

// RegisterLink attaches the outbound link for one interface. The
// cmd/wiresep-enclave entrypoint calls this once per SIfn as the descriptor
// for that Interface sibling is opened.
func (d *Dispatcher) RegisterLink(ifnID uint32, link IfnLink) {
	d.links[ifnID] = link
}

func (d *Dispatcher) sendFrame(ifn *registry.Interface, f wiremsg.Frame) error {
	link, ok := d.links[ifn.ID]
	if !ok {
		return fmt.Errorf("%w: interface %s", ErrNoLink, ifn.Name)
	}
	return link.SendFrame(f)
}

func (d *Dispatcher) sendPeerFrame(ifn *registry.Interface, typ wiremsg.Type, peerID uint32, payload []byte) error {
	pf := &wiremsg.PeerFrame{PeerID: peerID, Payload: payload}
	return d.sendFrame(ifn, wiremsg.Frame{Type: typ, Payload: pf.Marshal()})
}

func (d *Dispatcher) sendConnReq(ifn *registry.Interface, peerID uint32, local, foreign netip.AddrPort) error {
	cr := &wiremsg.ConnReq{PeerID: peerID, LocalAddr: local, ForeignAddr: foreign}
	return d.sendFrame(ifn, wiremsg.Frame{Type: wiremsg.TypeConnReq, Payload: cr.Marshal()})
}

func (d *Dispatcher) sendSessKeys(ifn *registry.Interface, peer *registry.Peer, isResponder bool) error {
	keys, err := noiseik.DeriveSessionKeys(peer, isResponder)
	if err != nil {
		return fmt.Errorf("dispatch: derive session keys for peer %d: %w", peer.ID, err)
	}
	defer keys.Zero()

	sk := &wiremsg.SessKeys{
		PeerID:       peer.ID,
		LocalSessID:  keys.LocalSessID,
		RemoteSessID: keys.RemoteSessID,
		SendKey:      keys.SendKey,
		RecvKey:      keys.RecvKey,
	}
	return d.sendFrame(ifn, wiremsg.Frame{Type: wiremsg.TypeSessKeys, Payload: sk.Marshal()})
}

// handleWGInit authenticates an incoming init message, determining the
// peer if asserted is nil (the Proxy path) or verifying it otherwise (the
// Interface path). On success it replies with, in order, an optional
// MSGCONNREQ (only when this init arrived via the Proxy and thus carries
// socket addresses), MSGSESSKEYS, and the freshly created MSGWGRESP.
func (d *Dispatcher) handleWGInit(ifn *registry.Interface, asserted *registry.Peer, payload []byte, local, foreign *netip.AddrPort) error {
	msg, err := noiseik.UnmarshalMsgInit(payload)
	if err != nil {
		return fmt.Errorf("dispatch: %s decode init: %w", ifn.Name, err)
	}

	peer, err := noiseik.ConsumeInit(ifn, msg, asserted)
	if err != nil {
		d.log.Warn("init message failed to authenticate", "interface", ifn.Name, "error", err)
		return err
	}

	resp, err := noiseik.CreateResponse(peer)
	if err != nil {
		d.log.Warn("could not create response message", "interface", ifn.Name, "peer", peer.ID, "error", err)
		return err
	}

	if local != nil && foreign != nil {
		if err := d.sendConnReq(ifn, peer.ID, *local, *foreign); err != nil {
			return fmt.Errorf("dispatch: %s send connreq for peer %d: %w", ifn.Name, peer.ID, err)
		}
	}

	if err := d.sendSessKeys(ifn, peer, true); err != nil {
		return fmt.Errorf("dispatch: %s send sesskeys for peer %d: %w", ifn.Name, peer.ID, err)
	}

	if err := d.sendPeerFrame(ifn, wiremsg.TypeWGResp, peer.ID, resp.Marshal()); err != nil {
		return fmt.Errorf("dispatch: %s send response for peer %d: %w", ifn.Name, peer.ID, err)
	}
	return nil
}

// handleWGResp authenticates an incoming response message, verifying it
// belongs to the session that sent the original init. On success it
// replies with an optional MSGCONNREQ, then MSGSESSKEYS.
func (d *Dispatcher) handleWGResp(ifn *registry.Interface, asserted *registry.Peer, payload []byte, local, foreign *netip.AddrPort) error {
	msg, err := noiseik.UnmarshalMsgResp(payload)
	if err != nil {
		return fmt.Errorf("dispatch: %s decode response: %w", ifn.Name, err)
	}

	peer, err := noiseik.ConsumeResponse(ifn, msg, asserted)
	if err != nil {
		d.log.Warn("response message failed to authenticate", "interface", ifn.Name, "error", err)
		return err
	}

	if local != nil && foreign != nil {
		if err := d.sendConnReq(ifn, peer.ID, *local, *foreign); err != nil {
			return fmt.Errorf("dispatch: %s send connreq for peer %d: %w", ifn.Name, peer.ID, err)
		}
	}

	if err := d.sendSessKeys(ifn, peer, false); err != nil {
		return fmt.Errorf("dispatch: %s send sesskeys for peer %d: %w", ifn.Name, peer.ID, err)
	}
	return nil
}

// ErrUnknownPeerID is returned when a frame from an Interface sibling
// addresses a peer id that interface does not have.
var ErrUnknownPeerID = errors.New("dispatch: unknown peer id from interface")

// ErrUnknownInterfaceID is returned when a frame from the Proxy addresses
// an interface id outside the registry's bounds.
var ErrUnknownInterfaceID = errors.New("dispatch: unknown interface id from proxy")

// HandleInterfaceMessage processes one frame received from an Interface
// sibling: MSGWGINIT and MSGWGRESP are handshake messages the Interface
// observed on an already-connected peer socket, and MSGREQWGINIT asks the
// Enclave to originate a fresh init for that peer.
func (d *Dispatcher) HandleInterfaceMessage(ifnID uint32, peerID uint32, typ wiremsg.Type, payload []byte) error {
	ifn, ok := d.reg.InterfaceByID(ifnID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInterfaceID, ifnID)
	}
	peer, ok := ifn.PeerByID(peerID)
	if !ok {
		return fmt.Errorf("%w: %d on %s", ErrUnknownPeerID, peerID, ifn.Name)
	}

	switch typ {
	case wiremsg.TypeWGInit:
		return d.handleWGInit(ifn, peer, payload, nil, nil)
	case wiremsg.TypeWGResp:
		return d.handleWGResp(ifn, peer, payload, nil, nil)
	case wiremsg.TypeReqWGInit:
		msg, err := noiseik.CreateInit(peer)
		if err != nil {
			d.log.Warn("unable to create a new init message", "interface", ifn.Name, "peer", peer.ID, "error", err)
			return err
		}
		if err := d.sendPeerFrame(ifn, wiremsg.TypeWGInit, peer.ID, msg.Marshal()); err != nil {
			return fmt.Errorf("dispatch: %s send init for peer %d: %w", ifn.Name, peer.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("dispatch: %s message from interface of unknown type %v", ifn.Name, typ)
	}
}

// HandleProxyMessage processes one frame received from the Proxy sibling:
// a handshake message whose peer is not yet known, tagged with the
// interface it arrived on and the local/foreign socket addresses the
// Interface will need to install a connected socket if the handshake
// authenticates.
func (d *Dispatcher) HandleProxyMessage(ifnID uint32, local, foreign netip.AddrPort, typ wiremsg.Type, payload []byte) error {
	ifn, ok := d.reg.InterfaceByID(ifnID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInterfaceID, ifnID)
	}

	switch typ {
	case wiremsg.TypeWGInit:
		return d.handleWGInit(ifn, nil, payload, &local, &foreign)
	case wiremsg.TypeWGResp:
		return d.handleWGResp(ifn, nil, payload, &local, &foreign)
	default:
		return fmt.Errorf("dispatch: %s message from proxy of unknown type %v", ifn.Name, typ)
	}
}
