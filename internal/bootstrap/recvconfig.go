package bootstrap

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"

	"github.com/wiresep/enclave/internal/registry"
	"github.com/wiresep/enclave/internal/wiremsg"
)

// ReceivedConfig is everything recvconfig collects from the parent before
// the dispatcher can start: the populated registry, the requested uid/gid,
// and the number of interfaces the caller must still attach descriptors
// for (one link per SIfn, registered with dispatch.Dispatcher.RegisterLink
// once the corresponding descriptor is opened).
type ReceivedConfig struct {
	Registry *registry.Registry
	Identity Identity
	IfnCount uint32
}

// ReceiveConfig reads SINIT, followed by IfnCount repetitions of one SIfn
// and its SPeer messages, terminated by SEOS, exactly as the original
// enclave's recvconfig expects them on its master descriptor. Any frame
// out of this exact order is a fatal configuration error: the Enclave
// never renegotiates its peer table.
func ReceiveConfig(r io.Reader, log *slog.Logger) (*ReceivedConfig, error) {
	br := bufio.NewReader(r)
	log = log.With("component", "bootstrap")

	first, err := wiremsg.ReadFrame(br)
	if err != nil {
		return nil, err
	}
	if first.Type != wiremsg.TypeSInit {
		return nil, fmt.Errorf("bootstrap: expected SINIT, got %v", first.Type)
	}
	sinit, err := wiremsg.UnmarshalSInit(first.Payload)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: decode SINIT: %w", err)
	}

	reg := registry.New(log)
	for i := uint32(0); i < sinit.IfnCount; i++ {
		frame, err := wiremsg.ReadFrame(br)
		if err != nil {
			return nil, err
		}
		if frame.Type != wiremsg.TypeSIfn {
			return nil, fmt.Errorf("bootstrap: expected SIFN for interface %d, got %v", i, frame.Type)
		}
		sifn, err := wiremsg.UnmarshalSIfn(frame.Payload)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: decode SIFN %d: %w", i, err)
		}
		if sifn.ID != i {
			return nil, fmt.Errorf("bootstrap: out-of-order interface id %d (expected %d)", sifn.ID, i)
		}

		name := nameFromField(sifn.Name)
		ifn := registry.NewInterface(sifn.ID, name, 0, sifn.StaticPriv, sifn.StaticPub, sifn.DefaultPSK)
		if err := reg.AddInterface(ifn); err != nil {
			return nil, err
		}

		for j := uint32(0); j < sifn.PeerCount; j++ {
			pframe, err := wiremsg.ReadFrame(br)
			if err != nil {
				return nil, err
			}
			if pframe.Type != wiremsg.TypeSPeer {
				return nil, fmt.Errorf("bootstrap: expected SPEER for interface %d peer %d, got %v", i, j, pframe.Type)
			}
			speer, err := wiremsg.UnmarshalSPeer(pframe.Payload)
			if err != nil {
				return nil, fmt.Errorf("bootstrap: decode SPEER %d/%d: %w", i, j, err)
			}
			if speer.IfnID != i || speer.PeerID != j {
				return nil, fmt.Errorf("bootstrap: SPEER addressed (%d,%d), expected (%d,%d)", speer.IfnID, speer.PeerID, i, j)
			}
			if _, err := ifn.AddPeer(j, speer.StaticPub, speer.PSK); err != nil {
				return nil, err
			}
		}
	}

	if reg.TotalPeers() > registry.MaxPeers {
		return nil, fmt.Errorf("bootstrap: total peer count %d exceeds maximum %d", reg.TotalPeers(), registry.MaxPeers)
	}

	last, err := wiremsg.ReadFrame(br)
	if err != nil {
		return nil, err
	}
	if last.Type != wiremsg.TypeSEOS {
		return nil, fmt.Errorf("bootstrap: expected SEOS, got %v", last.Type)
	}

	log.Debug("config received from master", "interfaces", len(reg.Interfaces), "peers", reg.TotalPeers())

	return &ReceivedConfig{
		Registry: reg,
		Identity: Identity{UID: sinit.UID, GID: sinit.GID},
		IfnCount: sinit.IfnCount,
	}, nil
}

func nameFromField(b [wiremsg.IfnNameSize]byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
