package tai64n

import (
	"testing"
	"time"
)

func TestStampOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := stamp(base)
	later := stamp(base.Add(time.Second))

	if !later.After(earlier) {
		t.Fatalf("a later timestamp must compare After an earlier one")
	}
	if earlier.After(later) {
		t.Fatalf("an earlier timestamp must not compare After a later one")
	}
}

func TestAfterIsStrict(t *testing.T) {
	ts := stamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if ts.After(ts) {
		t.Fatalf("a timestamp must not compare After itself: replay check requires strict greater-than")
	}
}

func TestNanosecondGranularityOrders(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 100, time.UTC)
	a := stamp(base)
	b := stamp(base.Add(1))
	if !b.After(a) {
		t.Fatalf("a one-nanosecond-later stamp must compare After")
	}
}

func TestIsZero(t *testing.T) {
	var zero Timestamp
	if !zero.IsZero() {
		t.Fatalf("the zero value must report IsZero")
	}
	if Now().IsZero() {
		t.Fatalf("a real timestamp must not report IsZero")
	}
}

func TestZeroValueIsNeverAfterAnyRealTimestamp(t *testing.T) {
	var zero Timestamp
	real := stamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if zero.After(real) {
		t.Fatalf("the zero sentinel must not compare After a real timestamp")
	}
	if !real.After(zero) {
		t.Fatalf("any real timestamp must compare After the zero sentinel, so a peer's first handshake is always accepted")
	}
}
