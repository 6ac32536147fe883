package dispatch

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/wiresep/enclave/internal/noiseik"
	"github.com/wiresep/enclave/internal/registry"
	"github.com/wiresep/enclave/internal/wgcrypto"
	"github.com/wiresep/enclave/internal/wiremsg"
)

type fakeLink struct {
	frames []wiremsg.Frame
}

func (f *fakeLink) SendFrame(frame wiremsg.Frame) error {
	f.frames = append(f.frames, frame)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupPair(t *testing.T) (d *Dispatcher, initPeer *registry.Peer, respIfn *registry.Interface, respLink *fakeLink) {
	t.Helper()

	aPriv, aPub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair a: %v", err)
	}
	bPriv, bPub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair b: %v", err)
	}

	initIfn := registry.NewInterface(0, "wg-init", 0, aPriv, aPub, wgcrypto.Key{})
	respIfn = registry.NewInterface(0, "wg-resp", 0, bPriv, bPub, wgcrypto.Key{})

	initPeer, err = initIfn.AddPeer(0, bPub, wgcrypto.Key{})
	if err != nil {
		t.Fatalf("add peer on initiator: %v", err)
	}
	if _, err := respIfn.AddPeer(0, aPub, wgcrypto.Key{}); err != nil {
		t.Fatalf("add peer on responder: %v", err)
	}

	reg := registry.New(testLogger())
	if err := reg.AddInterface(respIfn); err != nil {
		t.Fatalf("AddInterface: %v", err)
	}

	d = New(reg, testLogger())
	respLink = &fakeLink{}
	d.RegisterLink(respIfn.ID, respLink)
	return
}

func TestHandleProxyMessageInitProducesConnReqSessKeysAndResp(t *testing.T) {
	d, initPeer, respIfn, respLink := setupPair(t)

	msgInit, err := noiseik.CreateInit(initPeer)
	if err != nil {
		t.Fatalf("CreateInit: %v", err)
	}

	local := netip.MustParseAddrPort("10.0.0.1:51820")
	foreign := netip.MustParseAddrPort("198.51.100.7:40000")

	if err := d.HandleProxyMessage(respIfn.ID, local, foreign, wiremsg.TypeWGInit, msgInit.Marshal()); err != nil {
		t.Fatalf("HandleProxyMessage: %v", err)
	}

	if len(respLink.frames) != 3 {
		t.Fatalf("got %d frames, want 3 (connreq, sesskeys, resp)", len(respLink.frames))
	}
	if respLink.frames[0].Type != wiremsg.TypeConnReq {
		t.Fatalf("frame 0 type = %v, want TypeConnReq", respLink.frames[0].Type)
	}
	cr, err := wiremsg.UnmarshalConnReq(respLink.frames[0].Payload)
	if err != nil {
		t.Fatalf("UnmarshalConnReq: %v", err)
	}
	if cr.LocalAddr != local || cr.ForeignAddr != foreign {
		t.Fatalf("connreq addresses mismatch: got local=%v foreign=%v", cr.LocalAddr, cr.ForeignAddr)
	}

	if respLink.frames[1].Type != wiremsg.TypeSessKeys {
		t.Fatalf("frame 1 type = %v, want TypeSessKeys", respLink.frames[1].Type)
	}
	if respLink.frames[2].Type != wiremsg.TypeWGResp {
		t.Fatalf("frame 2 type = %v, want TypeWGResp", respLink.frames[2].Type)
	}
	respFrame, err := wiremsg.UnmarshalPeerFrame(respLink.frames[2].Payload)
	if err != nil {
		t.Fatalf("UnmarshalPeerFrame: %v", err)
	}
	if _, err := noiseik.UnmarshalMsgResp(respFrame.Payload); err != nil {
		t.Fatalf("response payload does not decode as a MsgResp: %v", err)
	}
}

func TestHandleInterfaceMessageReqWGInitProducesInit(t *testing.T) {
	_, initPeer, _, _ := setupPair(t)

	initIfn := initPeer.Interface
	reg := registry.New(testLogger())
	if err := reg.AddInterface(initIfn); err != nil {
		t.Fatalf("AddInterface: %v", err)
	}
	d2 := New(reg, testLogger())
	link := &fakeLink{}
	d2.RegisterLink(initIfn.ID, link)

	if err := d2.HandleInterfaceMessage(initIfn.ID, initPeer.ID, wiremsg.TypeReqWGInit, nil); err != nil {
		t.Fatalf("HandleInterfaceMessage: %v", err)
	}
	if len(link.frames) != 1 || link.frames[0].Type != wiremsg.TypeWGInit {
		t.Fatalf("got %+v, want a single TypeWGInit frame", link.frames)
	}
	pf, err := wiremsg.UnmarshalPeerFrame(link.frames[0].Payload)
	if err != nil {
		t.Fatalf("UnmarshalPeerFrame: %v", err)
	}
	if pf.PeerID != initPeer.ID {
		t.Fatalf("got peer id %d, want %d", pf.PeerID, initPeer.ID)
	}
	if _, err := noiseik.UnmarshalMsgInit(pf.Payload); err != nil {
		t.Fatalf("init payload does not decode as a MsgInit: %v", err)
	}
}

func TestHandleInterfaceMessageRejectsUnknownPeer(t *testing.T) {
	d, _, respIfn, _ := setupPair(t)
	if err := d.HandleInterfaceMessage(respIfn.ID, 99, wiremsg.TypeReqWGInit, nil); err == nil {
		t.Fatalf("expected an error for an unknown peer id")
	}
}

func TestHandleProxyMessageRejectsUnknownInterface(t *testing.T) {
	d, _, _, _ := setupPair(t)
	local := netip.MustParseAddrPort("10.0.0.1:51820")
	foreign := netip.MustParseAddrPort("198.51.100.7:40000")
	if err := d.HandleProxyMessage(7, local, foreign, wiremsg.TypeWGInit, nil); err == nil {
		t.Fatalf("expected an error for an out-of-bounds interface id")
	}
}
