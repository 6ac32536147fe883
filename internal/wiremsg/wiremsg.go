// Package wiremsg frames the intra-daemon control protocol the Enclave
// speaks with its parent (Master) over the configuration descriptor and
// with its Interface and Proxy siblings over their respective descriptors,
// per spec.md §6.2. Every frame is a one-byte type tag, a four-byte
// little-endian payload length, and the payload itself — the same
// tag-then-fixed-fields layout awenaw-wireguard-go's device/noise-protocol.go
// uses for its two handshake message types, generalized here to a small
// closed set of message kinds instead of a single one.
//
// Frames carry no file descriptors: the Proxy descriptor and each
// Interface's descriptor are inherited at startup and named on
// cmd/wiresep-enclave's command line. wiremsg only describes the
// plain-data payload and leaves socket I/O to the caller.
package wiremsg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
)

// Type identifies a control frame's payload layout.
type Type uint8

const (
	TypeSInit Type = iota + 1
	TypeSIfn
	TypeSPeer
	TypeSEOS
	TypeWGInit
	TypeWGResp
	TypeReqWGInit
	TypeConnReq
	TypeSessKeys
)

func (t Type) String() string {
	switch t {
	case TypeSInit:
		return "SINIT"
	case TypeSIfn:
		return "SIFN"
	case TypeSPeer:
		return "SPEER"
	case TypeSEOS:
		return "SEOS"
	case TypeWGInit:
		return "MSGWGINIT"
	case TypeWGResp:
		return "MSGWGRESP"
	case TypeReqWGInit:
		return "MSGREQWGINIT"
	case TypeConnReq:
		return "MSGCONNREQ"
	case TypeSessKeys:
		return "MSGSESSKEYS"
	default:
		return fmt.Sprintf("wiremsg.Type(%d)", uint8(t))
	}
}

// HeaderSize is the width of a frame's type-and-length header.
const HeaderSize = 1 + 4

// ErrFrameTooShort is returned when a buffer is too small to even hold a
// frame header, or its declared length runs past the buffer's end.
var ErrFrameTooShort = errors.New("wiremsg: frame too short")

// Frame is one type-tagged control message as it travels over a
// descriptor. Payload is the type-specific encoding produced by this
// package's other Marshal functions.
type Frame struct {
	Type    Type
	Payload []byte
}

// Marshal encodes the frame's header and payload into a single buffer.
func (f *Frame) Marshal() []byte {
	b := make([]byte, HeaderSize+len(f.Payload))
	b[0] = byte(f.Type)
	binary.LittleEndian.PutUint32(b[1:5], uint32(len(f.Payload)))
	copy(b[5:], f.Payload)
	return b
}

// DecodeFrame reads one frame from the front of b and reports how many
// bytes it consumed, so callers can loop over a stream buffer that may
// hold more than one frame.
func DecodeFrame(b []byte) (Frame, int, error) {
	if len(b) < HeaderSize {
		return Frame{}, 0, ErrFrameTooShort
	}
	n := binary.LittleEndian.Uint32(b[1:5])
	total := HeaderSize + int(n)
	if len(b) < total {
		return Frame{}, 0, ErrFrameTooShort
	}
	payload := make([]byte, n)
	copy(payload, b[HeaderSize:total])
	return Frame{Type: Type(b[0]), Payload: payload}, total, nil
}

// ReadFrame reads exactly one frame from r: the fixed-size header first
// (which alone carries the payload length), then exactly that many payload
// bytes. Unlike DecodeFrame it consumes from a stream rather than a
// preloaded buffer, so it is what descriptor-backed callers (the master
// control connection, Interface and Proxy links) should use directly.
func ReadFrame(r io.Reader) (Frame, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Frame{}, fmt.Errorf("wiremsg: read frame header: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[1:5])

	buf := make([]byte, HeaderSize+int(n))
	copy(buf, hdr)
	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		return Frame{}, fmt.Errorf("wiremsg: read frame payload: %w", err)
	}
	frame, _, err := DecodeFrame(buf)
	return frame, err
}

// IfnNameSize is the fixed width of an interface name field in SIfn.
const IfnNameSize = 16

// SInit is the parent's bootstrap message: global flags, the uid/gid this
// process must drop to, and how many SIfn messages will follow. The Proxy
// descriptor is not part of the frame.
type SInit struct {
	Flags    uint32
	UID      uint32
	GID      uint32
	IfnCount uint32
}

const sInitSize = 4 * 4

func (m *SInit) Marshal() []byte {
	b := make([]byte, sInitSize)
	binary.LittleEndian.PutUint32(b[0:], m.Flags)
	binary.LittleEndian.PutUint32(b[4:], m.UID)
	binary.LittleEndian.PutUint32(b[8:], m.GID)
	binary.LittleEndian.PutUint32(b[12:], m.IfnCount)
	return b
}

func UnmarshalSInit(b []byte) (*SInit, error) {
	if len(b) != sInitSize {
		return nil, fmt.Errorf("%w: SINIT got %d want %d", ErrFrameTooShort, len(b), sInitSize)
	}
	return &SInit{
		Flags:    binary.LittleEndian.Uint32(b[0:]),
		UID:      binary.LittleEndian.Uint32(b[4:]),
		GID:      binary.LittleEndian.Uint32(b[8:]),
		IfnCount: binary.LittleEndian.Uint32(b[12:]),
	}, nil
}

// SIfn declares one interface: its dense id, name, long-term keypair, the
// interface-level default PSK a peer with no PSK of its own falls back to
// (spec.md §3; zero means "none"), and how many SPeer messages will follow
// for it. The interface's descriptor is not part of the frame.
type SIfn struct {
	ID         uint32
	Name       [IfnNameSize]byte
	StaticPriv [32]byte
	StaticPub  [32]byte
	DefaultPSK [32]byte
	PeerCount  uint32
}

const sIfnSize = 4 + IfnNameSize + 32 + 32 + 32 + 4

func (m *SIfn) Marshal() []byte {
	b := make([]byte, sIfnSize)
	binary.LittleEndian.PutUint32(b[0:], m.ID)
	copy(b[4:4+IfnNameSize], m.Name[:])
	off := 4 + IfnNameSize
	copy(b[off:off+32], m.StaticPriv[:])
	off += 32
	copy(b[off:off+32], m.StaticPub[:])
	off += 32
	copy(b[off:off+32], m.DefaultPSK[:])
	off += 32
	binary.LittleEndian.PutUint32(b[off:], m.PeerCount)
	return b
}

func UnmarshalSIfn(b []byte) (*SIfn, error) {
	if len(b) != sIfnSize {
		return nil, fmt.Errorf("%w: SIFN got %d want %d", ErrFrameTooShort, len(b), sIfnSize)
	}
	m := &SIfn{ID: binary.LittleEndian.Uint32(b[0:])}
	copy(m.Name[:], b[4:4+IfnNameSize])
	off := 4 + IfnNameSize
	copy(m.StaticPriv[:], b[off:off+32])
	off += 32
	copy(m.StaticPub[:], b[off:off+32])
	off += 32
	copy(m.DefaultPSK[:], b[off:off+32])
	off += 32
	m.PeerCount = binary.LittleEndian.Uint32(b[off:])
	return m, nil
}

// SPeer declares one peer on an already-declared interface.
type SPeer struct {
	IfnID     uint32
	PeerID    uint32
	PSK       [32]byte
	StaticPub [32]byte
}

const sPeerSize = 4 + 4 + 32 + 32

func (m *SPeer) Marshal() []byte {
	b := make([]byte, sPeerSize)
	binary.LittleEndian.PutUint32(b[0:], m.IfnID)
	binary.LittleEndian.PutUint32(b[4:], m.PeerID)
	copy(b[8:40], m.PSK[:])
	copy(b[40:72], m.StaticPub[:])
	return b
}

func UnmarshalSPeer(b []byte) (*SPeer, error) {
	if len(b) != sPeerSize {
		return nil, fmt.Errorf("%w: SPEER got %d want %d", ErrFrameTooShort, len(b), sPeerSize)
	}
	m := &SPeer{
		IfnID:  binary.LittleEndian.Uint32(b[0:]),
		PeerID: binary.LittleEndian.Uint32(b[4:]),
	}
	copy(m.PSK[:], b[8:40])
	copy(m.StaticPub[:], b[40:72])
	return m, nil
}

// PeerFrame carries raw handshake bytes addressed by peer id, the shape
// MSGWGINIT and MSGWGRESP take when exchanged with the Interface sibling
// (which already knows, from its connected UDP socket, which peer a
// message belongs to). It is also used, with an empty Payload, for
// MSGREQWGINIT.
type PeerFrame struct {
	PeerID  uint32
	Payload []byte
}

func (m *PeerFrame) Marshal() []byte {
	b := make([]byte, 4+len(m.Payload))
	binary.LittleEndian.PutUint32(b[0:], m.PeerID)
	copy(b[4:], m.Payload)
	return b
}

func UnmarshalPeerFrame(b []byte) (*PeerFrame, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: peer frame got %d want >= 4", ErrFrameTooShort, len(b))
	}
	m := &PeerFrame{PeerID: binary.LittleEndian.Uint32(b[0:])}
	m.Payload = append(m.Payload, b[4:]...)
	return m, nil
}

// addrPortSize is the fixed wire width of a netip.AddrPort: a 16-byte
// IPv4-in-IPv6 or native IPv6 address followed by a 2-byte port.
const addrPortSize = 18

func putAddrPort(b []byte, ap netip.AddrPort) {
	addr16 := ap.Addr().As16()
	copy(b[0:16], addr16[:])
	binary.LittleEndian.PutUint16(b[16:18], ap.Port())
}

func getAddrPort(b []byte) netip.AddrPort {
	var addr16 [16]byte
	copy(addr16[:], b[0:16])
	addr := netip.AddrFrom16(addr16)
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	port := binary.LittleEndian.Uint16(b[16:18])
	return netip.AddrPortFrom(addr, port)
}

// ProxyFrame carries raw handshake bytes tagged with an interface id and
// both the local (bound) and foreign (sender) socket addresses, the shape
// MSGWGINIT and MSGWGRESP take when the Proxy — rather than an already
// connected Interface socket — is the one delivering them.
type ProxyFrame struct {
	IfnID       uint32
	LocalAddr   netip.AddrPort
	ForeignAddr netip.AddrPort
	Payload     []byte
}

const proxyFrameHeaderSize = 4 + addrPortSize*2

func (m *ProxyFrame) Marshal() []byte {
	b := make([]byte, proxyFrameHeaderSize+len(m.Payload))
	binary.LittleEndian.PutUint32(b[0:], m.IfnID)
	putAddrPort(b[4:4+addrPortSize], m.LocalAddr)
	putAddrPort(b[4+addrPortSize:4+2*addrPortSize], m.ForeignAddr)
	copy(b[proxyFrameHeaderSize:], m.Payload)
	return b
}

func UnmarshalProxyFrame(b []byte) (*ProxyFrame, error) {
	if len(b) < proxyFrameHeaderSize {
		return nil, fmt.Errorf("%w: proxy frame got %d want >= %d", ErrFrameTooShort, len(b), proxyFrameHeaderSize)
	}
	m := &ProxyFrame{IfnID: binary.LittleEndian.Uint32(b[0:])}
	m.LocalAddr = getAddrPort(b[4 : 4+addrPortSize])
	m.ForeignAddr = getAddrPort(b[4+addrPortSize : 4+2*addrPortSize])
	m.Payload = append(m.Payload, b[proxyFrameHeaderSize:]...)
	return m, nil
}

// ConnReq is MSGCONNREQ: a request for the Interface to install a
// connected UDP socket for a peer, carrying the local and foreign
// addresses a Proxy-delivered handshake arrived on.
type ConnReq struct {
	PeerID      uint32
	LocalAddr   netip.AddrPort
	ForeignAddr netip.AddrPort
}

const connReqSize = 4 + addrPortSize*2

func (m *ConnReq) Marshal() []byte {
	b := make([]byte, connReqSize)
	binary.LittleEndian.PutUint32(b[0:], m.PeerID)
	putAddrPort(b[4:4+addrPortSize], m.LocalAddr)
	putAddrPort(b[4+addrPortSize:4+2*addrPortSize], m.ForeignAddr)
	return b
}

func UnmarshalConnReq(b []byte) (*ConnReq, error) {
	if len(b) != connReqSize {
		return nil, fmt.Errorf("%w: conn req got %d want %d", ErrFrameTooShort, len(b), connReqSize)
	}
	m := &ConnReq{PeerID: binary.LittleEndian.Uint32(b[0:])}
	m.LocalAddr = getAddrPort(b[4 : 4+addrPortSize])
	m.ForeignAddr = getAddrPort(b[4+addrPortSize : 4+2*addrPortSize])
	return m, nil
}

// SessKeys is MSGSESSKEYS: the transport key pair handed to the Interface
// once a handshake completes, addressed by peer id so the Interface knows
// which tunnel state to install it into.
type SessKeys struct {
	PeerID       uint32
	LocalSessID  uint32
	RemoteSessID uint32
	SendKey      [32]byte
	RecvKey      [32]byte
}

const sessKeysSize = 4 + 4 + 4 + 32 + 32

func (m *SessKeys) Marshal() []byte {
	b := make([]byte, sessKeysSize)
	binary.LittleEndian.PutUint32(b[0:], m.PeerID)
	binary.LittleEndian.PutUint32(b[4:], m.LocalSessID)
	binary.LittleEndian.PutUint32(b[8:], m.RemoteSessID)
	copy(b[12:44], m.SendKey[:])
	copy(b[44:76], m.RecvKey[:])
	return b
}

func UnmarshalSessKeys(b []byte) (*SessKeys, error) {
	if len(b) != sessKeysSize {
		return nil, fmt.Errorf("%w: sess keys got %d want %d", ErrFrameTooShort, len(b), sessKeysSize)
	}
	m := &SessKeys{
		PeerID:       binary.LittleEndian.Uint32(b[0:]),
		LocalSessID:  binary.LittleEndian.Uint32(b[4:]),
		RemoteSessID: binary.LittleEndian.Uint32(b[8:]),
	}
	copy(m.SendKey[:], b[12:44])
	copy(m.RecvKey[:], b[44:76])
	return m, nil
}
