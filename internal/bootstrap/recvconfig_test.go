package bootstrap

import (
	"bytes"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"

	"github.com/wiresep/enclave/internal/fixture"
	"github.com/wiresep/enclave/internal/wgcrypto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReceiveConfigMatchesFixture(t *testing.T) {
	ifnPriv, _, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	_, peerPub, err := wgcrypto.NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	doc := []byte(`
uid: 500
gid: 500
interfaces:
  - name: wg0
    static_private_key: "` + hex.EncodeToString(ifnPriv[:]) + `"
    peers:
      - static_public_key: "` + hex.EncodeToString(peerPub[:]) + `"
`)

	cfg, err := fixture.Parse(doc)
	if err != nil {
		t.Fatalf("fixture.Parse: %v", err)
	}
	stream, err := cfg.EncodeControlStream()
	if err != nil {
		t.Fatalf("EncodeControlStream: %v", err)
	}

	got, err := ReceiveConfig(bytes.NewReader(stream), testLogger())
	if err != nil {
		t.Fatalf("ReceiveConfig: %v", err)
	}
	if got.Identity.UID != 500 || got.Identity.GID != 500 {
		t.Fatalf("got identity %+v", got.Identity)
	}
	if got.IfnCount != 1 || len(got.Registry.Interfaces) != 1 {
		t.Fatalf("got %d interfaces, want 1", len(got.Registry.Interfaces))
	}
	ifn := got.Registry.Interfaces[0]
	if ifn.Name != "wg0" {
		t.Fatalf("got interface name %q, want wg0", ifn.Name)
	}
	wantPub, err := wgcrypto.PublicFromPrivate(ifnPriv)
	if err != nil {
		t.Fatalf("PublicFromPrivate: %v", err)
	}
	if ifn.StaticPub != wantPub {
		t.Fatalf("interface public key mismatch")
	}
	if len(ifn.Peers) != 1 || ifn.Peers[0].StaticPub != peerPub {
		t.Fatalf("peer not loaded correctly: %+v", ifn.Peers)
	}
}

func TestReceiveConfigRejectsOutOfOrderFrames(t *testing.T) {
	// A stream that opens with SEOS instead of SINIT must be rejected
	// immediately rather than silently producing an empty registry.
	bad := (&seosOnlyStream{}).bytes()
	if _, err := ReceiveConfig(bytes.NewReader(bad), testLogger()); err == nil {
		t.Fatalf("expected an error when SINIT does not come first")
	}
}

type seosOnlyStream struct{}

func (seosOnlyStream) bytes() []byte {
	// A minimal 5-byte header tagged SEOS (type 4) with a zero-length
	// payload, deliberately skipping SINIT.
	return []byte{4, 0, 0, 0, 0}
}
