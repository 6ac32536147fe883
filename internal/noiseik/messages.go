// Package noiseik implements the Noise_IKpsk2-style handshake WireGuard
// runs over its two handshake message types: the algebra of §4.2/§4.3 of
// the enclave specification, grounded on the reference handshake in
// golang.zx2c4.com/wireguard's device/noise-protocol.go (vendored into the
// retrieval pack as awenaw-wireguard-go/device/noise-protocol.go) but
// restated against this repository's registry.Peer/registry.Interface
// arena instead of that project's pointer-linked Device/Peer graph.
package noiseik

import (
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wiresep/enclave/internal/wgcrypto"
)

const (
	// MsgInitType and MsgRespType are the wire type codes occupying the
	// first 4 (little-endian) bytes of every handshake message.
	MsgInitType = uint32(1)
	MsgRespType = uint32(2)

	// MsgInitSize and MsgRespSize are the fixed wire sizes of the two
	// handshake messages, per spec.md §6.1.
	MsgInitSize = 4 + 4 + 32 + 48 + 28 + 16 + 16
	MsgRespSize = 4 + 4 + 4 + 32 + 16 + 16 + 16

	// mac1OffsetInit and mac1OffsetResp are the byte offsets up to which
	// mac1 is computed: everything in the message before the mac1 field
	// itself.
	mac1OffsetInit = MsgInitSize - 16 - 16
	mac1OffsetResp = MsgRespSize - 16 - 16
)

var errMessageLength = errors.New("noiseik: message has the wrong wire length")

// MsgInit is the first (initiator → responder) handshake message.
type MsgInit struct {
	Type      uint32
	Sender    uint32
	Ephemeral wgcrypto.Key
	EncStatic [48]byte
	EncTS     [28]byte
	Mac1      [16]byte
	Mac2      [16]byte
}

// MsgResp is the second (responder → initiator) handshake message.
type MsgResp struct {
	Type      uint32
	Sender    uint32
	Receiver  uint32
	Ephemeral wgcrypto.Key
	EncEmpty  [16]byte
	Mac1      [16]byte
	Mac2      [16]byte
}

// Marshal encodes msg into its 148-byte little-endian wire form.
func (msg *MsgInit) Marshal() []byte {
	b := make([]byte, MsgInitSize)
	binary.LittleEndian.PutUint32(b[0:], msg.Type)
	binary.LittleEndian.PutUint32(b[4:], msg.Sender)
	copy(b[8:40], msg.Ephemeral[:])
	copy(b[40:88], msg.EncStatic[:])
	copy(b[88:116], msg.EncTS[:])
	copy(b[116:132], msg.Mac1[:])
	copy(b[132:148], msg.Mac2[:])
	return b
}

// UnmarshalMsgInit decodes a 148-byte wire frame into a MsgInit.
func UnmarshalMsgInit(b []byte) (*MsgInit, error) {
	if len(b) != MsgInitSize {
		return nil, fmt.Errorf("%w: init got %d want %d", errMessageLength, len(b), MsgInitSize)
	}
	msg := &MsgInit{
		Type:   binary.LittleEndian.Uint32(b[0:]),
		Sender: binary.LittleEndian.Uint32(b[4:]),
	}
	copy(msg.Ephemeral[:], b[8:40])
	copy(msg.EncStatic[:], b[40:88])
	copy(msg.EncTS[:], b[88:116])
	copy(msg.Mac1[:], b[116:132])
	copy(msg.Mac2[:], b[132:148])
	if msg.Type != MsgInitType {
		return nil, fmt.Errorf("noiseik: init message has wrong type %d", msg.Type)
	}
	return msg, nil
}

// Marshal encodes msg into its 92-byte little-endian wire form.
func (msg *MsgResp) Marshal() []byte {
	b := make([]byte, MsgRespSize)
	binary.LittleEndian.PutUint32(b[0:], msg.Type)
	binary.LittleEndian.PutUint32(b[4:], msg.Sender)
	binary.LittleEndian.PutUint32(b[8:], msg.Receiver)
	copy(b[12:44], msg.Ephemeral[:])
	copy(b[44:60], msg.EncEmpty[:])
	copy(b[60:76], msg.Mac1[:])
	copy(b[76:92], msg.Mac2[:])
	return b
}

// UnmarshalMsgResp decodes a 92-byte wire frame into a MsgResp.
func UnmarshalMsgResp(b []byte) (*MsgResp, error) {
	if len(b) != MsgRespSize {
		return nil, fmt.Errorf("%w: resp got %d want %d", errMessageLength, len(b), MsgRespSize)
	}
	msg := &MsgResp{
		Type:     binary.LittleEndian.Uint32(b[0:]),
		Sender:   binary.LittleEndian.Uint32(b[4:]),
		Receiver: binary.LittleEndian.Uint32(b[8:]),
	}
	copy(msg.Ephemeral[:], b[12:44])
	copy(msg.EncEmpty[:], b[44:60])
	copy(msg.Mac1[:], b[60:76])
	copy(msg.Mac2[:], b[76:92])
	if msg.Type != MsgRespType {
		return nil, fmt.Errorf("noiseik: resp message has wrong type %d", msg.Type)
	}
	return msg, nil
}

// signInitMac1 and signRespMac1 compute mac1 over a message's bytes up to
// (not including) the mac1 field and write it into the message in place.
func signInitMac1(msg *MsgInit, key wgcrypto.Key) error {
	b := msg.Marshal()
	mac, err := wgcrypto.KeyedMac16(key, b[:mac1OffsetInit])
	if err != nil {
		return err
	}
	msg.Mac1 = mac
	return nil
}

func signRespMac1(msg *MsgResp, key wgcrypto.Key) error {
	b := msg.Marshal()
	mac, err := wgcrypto.KeyedMac16(key, b[:mac1OffsetResp])
	if err != nil {
		return err
	}
	msg.Mac1 = mac
	return nil
}

// ErrInvalidMac1 is returned when a message's mac1 field does not validate
// against the recipient's mac1key.
var ErrInvalidMac1 = errors.New("noiseik: mac1 validation failed")

func verifyInitMac1(msg *MsgInit, key wgcrypto.Key) error {
	b := msg.Marshal()
	want, err := wgcrypto.KeyedMac16(key, b[:mac1OffsetInit])
	if err != nil {
		return err
	}
	if !hmac.Equal(want[:], msg.Mac1[:]) {
		return ErrInvalidMac1
	}
	return nil
}

func verifyRespMac1(msg *MsgResp, key wgcrypto.Key) error {
	b := msg.Marshal()
	want, err := wgcrypto.KeyedMac16(key, b[:mac1OffsetResp])
	if err != nil {
		return err
	}
	if !hmac.Equal(want[:], msg.Mac1[:]) {
		return ErrInvalidMac1
	}
	return nil
}
