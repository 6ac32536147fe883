// Package tai64n implements the 12-byte TAI64N fixed-width monotonic
// timestamp WireGuard seals into every handshake initiation, used by the
// responder as a replay counter.
package tai64n

import (
	"bytes"
	"encoding/binary"
	"time"
)

// TimestampSize is the wire width of a Timestamp.
const TimestampSize = 12

// tai64Epoch is the fixed offset TAI64 labels apply to a Unix second count;
// it has no effect on ordering and exists only to match the TAI64 wire
// convention.
const tai64Epoch = uint64(1) << 62

// Timestamp is a 12-byte big-endian TAI64N value: 8 bytes of TAI64 seconds
// followed by 4 bytes of nanoseconds. Big-endian encoding means byte-lexical
// comparison is equivalent to numeric comparison, which is what the
// responder's replay check relies on.
type Timestamp [TimestampSize]byte

// Now returns the current time as a TAI64N timestamp.
func Now() Timestamp {
	return stamp(time.Now())
}

func stamp(t time.Time) Timestamp {
	var ts Timestamp
	binary.BigEndian.PutUint64(ts[:8], tai64Epoch+uint64(t.Unix()))
	binary.BigEndian.PutUint32(ts[8:], uint32(t.Nanosecond()))
	return ts
}

// After reports whether t is strictly greater than other, byte-lexically.
// Per spec.md §9 the replay check must use strict-greater semantics: a
// timestamp equal to the last accepted one is a replay, not an acceptance.
func (t Timestamp) After(other Timestamp) bool {
	return bytes.Compare(t[:], other[:]) > 0
}

// IsZero reports whether t is the all-zero sentinel a peer starts with
// before any handshake has been accepted.
func (t Timestamp) IsZero() bool {
	return t == Timestamp{}
}
