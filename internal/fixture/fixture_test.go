package fixture

import (
	"encoding/hex"
	"io"
	"log/slog"
	"testing"

	"github.com/wiresep/enclave/internal/wgcrypto"
	"github.com/wiresep/enclave/internal/wiremsg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleYAML(t *testing.T) ([]byte, wgcrypto.Key, wgcrypto.Key) {
	t.Helper()
	ifnPriv, _, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	_, peerPub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	doc := `
uid: 500
gid: 500
interfaces:
  - name: wg0
    static_private_key: "` + hex.EncodeToString(ifnPriv[:]) + `"
    peers:
      - static_public_key: "` + hex.EncodeToString(peerPub[:]) + `"
`
	return []byte(doc), ifnPriv, peerPub
}

func TestParseAndBuildRegistry(t *testing.T) {
	doc, ifnPriv, peerPub := sampleYAML(t)

	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Interfaces) != 1 || len(cfg.Interfaces[0].Peers) != 1 {
		t.Fatalf("unexpected shape: %+v", cfg)
	}

	reg, err := cfg.BuildRegistry(testLogger())
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	if len(reg.Interfaces) != 1 {
		t.Fatalf("got %d interfaces, want 1", len(reg.Interfaces))
	}
	ifn := reg.Interfaces[0]
	wantPub, err := wgcrypto.PublicFromPrivate(ifnPriv)
	if err != nil {
		t.Fatalf("PublicFromPrivate: %v", err)
	}
	if ifn.StaticPub != wantPub {
		t.Fatalf("interface public key does not match the derived one")
	}
	if len(ifn.Peers) != 1 || ifn.Peers[0].StaticPub != peerPub {
		t.Fatalf("peer was not loaded correctly: %+v", ifn.Peers)
	}
}

func TestEncodeControlStreamDecodesBackToTheSameFields(t *testing.T) {
	doc, ifnPriv, peerPub := sampleYAML(t)
	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	stream, err := cfg.EncodeControlStream()
	if err != nil {
		t.Fatalf("EncodeControlStream: %v", err)
	}

	f1, n1, err := wiremsg.DecodeFrame(stream)
	if err != nil {
		t.Fatalf("decode SINIT: %v", err)
	}
	if f1.Type != wiremsg.TypeSInit {
		t.Fatalf("frame 1 type = %v, want TypeSInit", f1.Type)
	}
	sinit, err := wiremsg.UnmarshalSInit(f1.Payload)
	if err != nil {
		t.Fatalf("UnmarshalSInit: %v", err)
	}
	if sinit.IfnCount != 1 || sinit.UID != 500 || sinit.GID != 500 {
		t.Fatalf("got %+v", sinit)
	}

	f2, n2, err := wiremsg.DecodeFrame(stream[n1:])
	if err != nil {
		t.Fatalf("decode SIFN: %v", err)
	}
	if f2.Type != wiremsg.TypeSIfn {
		t.Fatalf("frame 2 type = %v, want TypeSIfn", f2.Type)
	}
	sifn, err := wiremsg.UnmarshalSIfn(f2.Payload)
	if err != nil {
		t.Fatalf("UnmarshalSIfn: %v", err)
	}
	if sifn.StaticPriv != ifnPriv {
		t.Fatalf("sifn static private key mismatch")
	}
	if sifn.PeerCount != 1 {
		t.Fatalf("got peer count %d, want 1", sifn.PeerCount)
	}

	f3, n3, err := wiremsg.DecodeFrame(stream[n1+n2:])
	if err != nil {
		t.Fatalf("decode SPEER: %v", err)
	}
	if f3.Type != wiremsg.TypeSPeer {
		t.Fatalf("frame 3 type = %v, want TypeSPeer", f3.Type)
	}
	speer, err := wiremsg.UnmarshalSPeer(f3.Payload)
	if err != nil {
		t.Fatalf("UnmarshalSPeer: %v", err)
	}
	if speer.StaticPub != peerPub {
		t.Fatalf("speer static public key mismatch")
	}

	f4, n4, err := wiremsg.DecodeFrame(stream[n1+n2+n3:])
	if err != nil {
		t.Fatalf("decode SEOS: %v", err)
	}
	if f4.Type != wiremsg.TypeSEOS {
		t.Fatalf("frame 4 type = %v, want TypeSEOS", f4.Type)
	}
	if n1+n2+n3+n4 != len(stream) {
		t.Fatalf("did not consume the entire stream: %d != %d", n1+n2+n3+n4, len(stream))
	}
}

func TestDecodeKeyRejectsWrongLength(t *testing.T) {
	if _, err := decodeKey("test", "aabb"); err == nil {
		t.Fatalf("expected an error for a too-short hex key")
	}
}
