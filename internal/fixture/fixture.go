// Package fixture loads a YAML description of interfaces and peers for
// development and testing, the way the teacher's internal/config package
// loads zerogo-agent/zerogo-controller configuration with gopkg.in/yaml.v3.
// The Enclave itself never reads YAML or touches a filesystem for
// configuration — spec.md §6.3 is explicit that it only ever receives
// SINIT/SIFN/SPEER/SEOS on its master descriptor — so this package is
// purely a convenience for driving that control stream from a readable
// source file in tests and local runs, standing in for the real Master
// process.
package fixture

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wiresep/enclave/internal/registry"
	"github.com/wiresep/enclave/internal/wgcrypto"
	"github.com/wiresep/enclave/internal/wiremsg"
)

// PeerSpec describes one configured peer.
type PeerSpec struct {
	StaticPublicKey string `yaml:"static_public_key"`
	PresharedKey    string `yaml:"preshared_key,omitempty"`
}

// InterfaceSpec describes one configured WireGuard interface. PresharedKey,
// if set, is the default PSK a peer without its own preshared_key falls
// back to (spec.md §3).
type InterfaceSpec struct {
	Name             string     `yaml:"name"`
	StaticPrivateKey string     `yaml:"static_private_key"`
	PresharedKey     string     `yaml:"preshared_key,omitempty"`
	Peers            []PeerSpec `yaml:"peers"`
}

// Config is the top-level fixture document.
type Config struct {
	UID        uint32          `yaml:"uid"`
	GID        uint32          `yaml:"gid"`
	Interfaces []InterfaceSpec `yaml:"interfaces"`
}

// Load reads and parses a fixture file from path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse parses a fixture document already in memory.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("fixture: parse: %w", err)
	}
	return &cfg, nil
}

func decodeKey(field, hexValue string) (wgcrypto.Key, error) {
	var k wgcrypto.Key
	if hexValue == "" {
		return k, nil
	}
	raw, err := hex.DecodeString(hexValue)
	if err != nil {
		return k, fmt.Errorf("fixture: %s is not valid hex: %w", field, err)
	}
	if len(raw) != wgcrypto.KeySize {
		return k, fmt.Errorf("fixture: %s has %d bytes, want %d", field, len(raw), wgcrypto.KeySize)
	}
	copy(k[:], raw)
	return k, nil
}

// BuildRegistry constructs a registry.Registry directly from the fixture,
// bypassing the wire protocol entirely — the shortest path for unit tests
// that want a populated registry without caring how it got there.
func (c *Config) BuildRegistry(log *slog.Logger) (*registry.Registry, error) {
	reg := registry.New(log)
	for i, ifnSpec := range c.Interfaces {
		priv, err := decodeKey(fmt.Sprintf("interfaces[%d].static_private_key", i), ifnSpec.StaticPrivateKey)
		if err != nil {
			return nil, err
		}
		staticPub, err := wgcrypto.PublicFromPrivate(priv)
		if err != nil {
			return nil, fmt.Errorf("fixture: derive public key for interface %d: %w", i, err)
		}
		defaultPSK, err := decodeKey(fmt.Sprintf("interfaces[%d].preshared_key", i), ifnSpec.PresharedKey)
		if err != nil {
			return nil, err
		}

		ifn := registry.NewInterface(uint32(i), ifnSpec.Name, 0, priv, staticPub, defaultPSK)
		if err := reg.AddInterface(ifn); err != nil {
			return nil, err
		}

		for j, peerSpec := range ifnSpec.Peers {
			peerPub, err := decodeKey(fmt.Sprintf("interfaces[%d].peers[%d].static_public_key", i, j), peerSpec.StaticPublicKey)
			if err != nil {
				return nil, err
			}
			psk, err := decodeKey(fmt.Sprintf("interfaces[%d].peers[%d].preshared_key", i, j), peerSpec.PresharedKey)
			if err != nil {
				return nil, err
			}
			if _, err := ifn.AddPeer(uint32(j), peerPub, psk); err != nil {
				return nil, err
			}
		}
	}
	if reg.TotalPeers() > registry.MaxPeers {
		return nil, fmt.Errorf("fixture: total peer count %d exceeds maximum %d", reg.TotalPeers(), registry.MaxPeers)
	}
	return reg, nil
}

// EncodeControlStream renders the fixture as the exact SINIT/SIFN/SPEER*/SEOS
// byte stream a real Master would send on the configuration descriptor,
// letting integration tests exercise the bootstrap control-frame decoder
// without a live sibling process.
func (c *Config) EncodeControlStream() ([]byte, error) {
	var out []byte

	sinit := &wiremsg.SInit{IfnCount: uint32(len(c.Interfaces)), UID: c.UID, GID: c.GID}
	out = append(out, (&wiremsg.Frame{Type: wiremsg.TypeSInit, Payload: sinit.Marshal()}).Marshal()...)

	for i, ifnSpec := range c.Interfaces {
		priv, err := decodeKey(fmt.Sprintf("interfaces[%d].static_private_key", i), ifnSpec.StaticPrivateKey)
		if err != nil {
			return nil, err
		}
		sifn := &wiremsg.SIfn{ID: uint32(i), PeerCount: uint32(len(ifnSpec.Peers))}
		if len(ifnSpec.Name) > wiremsg.IfnNameSize {
			return nil, fmt.Errorf("fixture: interface name %q longer than %d bytes", ifnSpec.Name, wiremsg.IfnNameSize)
		}
		copy(sifn.Name[:], ifnSpec.Name)
		sifn.StaticPriv = priv
		staticPub, err := wgcrypto.PublicFromPrivate(priv)
		if err != nil {
			return nil, fmt.Errorf("fixture: derive public key for interface %d: %w", i, err)
		}
		sifn.StaticPub = staticPub
		defaultPSK, err := decodeKey(fmt.Sprintf("interfaces[%d].preshared_key", i), ifnSpec.PresharedKey)
		if err != nil {
			return nil, err
		}
		sifn.DefaultPSK = defaultPSK
		out = append(out, (&wiremsg.Frame{Type: wiremsg.TypeSIfn, Payload: sifn.Marshal()}).Marshal()...)

		for j, peerSpec := range ifnSpec.Peers {
			peerPub, err := decodeKey(fmt.Sprintf("interfaces[%d].peers[%d].static_public_key", i, j), peerSpec.StaticPublicKey)
			if err != nil {
				return nil, err
			}
			psk, err := decodeKey(fmt.Sprintf("interfaces[%d].peers[%d].preshared_key", i, j), peerSpec.PresharedKey)
			if err != nil {
				return nil, err
			}
			speer := &wiremsg.SPeer{IfnID: uint32(i), PeerID: uint32(j), StaticPub: peerPub, PSK: psk}
			out = append(out, (&wiremsg.Frame{Type: wiremsg.TypeSPeer, Payload: speer.Marshal()}).Marshal()...)
		}
	}

	out = append(out, (&wiremsg.Frame{Type: wiremsg.TypeSEOS}).Marshal()...)
	return out, nil
}
