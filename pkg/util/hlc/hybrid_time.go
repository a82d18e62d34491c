// Copyright 2025 The TabletDB Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package hlc

import (
	"math"

	"github.com/cockroachdb/redact"
)

// LogicalBits is the width of the logical component packed into the low bits
// of a HybridTime. The remaining high bits hold physical microseconds.
const LogicalBits = 12

// HybridTime is an opaque, totally ordered 64-bit timestamp combining a
// physical component (microseconds) with a logical component used to break
// ties between events within the same microsecond. Values compare by their
// raw uint64 representation.
type HybridTime uint64

const (
	// Min sorts before every valid timestamp. It doubles as the "unset"
	// sentinel: a HybridTime's zero value is Min.
	Min HybridTime = 0
	// Initial is the timestamp a fresh replica's clock starts from.
	Initial HybridTime = 1
	// Max is the largest valid timestamp.
	Max HybridTime = math.MaxUint64 - 1
	// Invalid marks the absence of a timestamp.
	Invalid HybridTime = math.MaxUint64
)

// IsValid reports whether t holds an actual timestamp.
func (t HybridTime) IsValid() bool {
	return t != Invalid
}

// Decremented returns the immediate predecessor of t. The result is the
// largest timestamp strictly less than t. Undefined for Min.
func (t HybridTime) Decremented() HybridTime {
	return t - 1
}

// Incremented returns the immediate successor of t.
func (t HybridTime) Incremented() HybridTime {
	return t + 1
}

// AddMicros returns t shifted forward by d microseconds. The logical
// component is preserved.
func (t HybridTime) AddMicros(d int64) HybridTime {
	return t + HybridTime(d<<LogicalBits)
}

// AddLogical returns t advanced by delta logical units.
func (t HybridTime) AddLogical(delta uint64) HybridTime {
	return t + HybridTime(delta)
}

// Physical returns the physical component of t, in microseconds.
func (t HybridTime) Physical() int64 {
	return int64(t >> LogicalBits)
}

// Logical returns the logical component of t.
func (t HybridTime) Logical() uint64 {
	return uint64(t) & (1<<LogicalBits - 1)
}

// Less reports t < o.
func (t HybridTime) Less(o HybridTime) bool {
	return t < o
}

// LessEq reports t <= o.
func (t HybridTime) LessEq(o HybridTime) bool {
	return t <= o
}

// Compare returns -1, 0, or +1 depending on whether t sorts before, equal
// to, or after o.
func (t HybridTime) Compare(o HybridTime) int {
	switch {
	case t < o:
		return -1
	case t > o:
		return 1
	default:
		return 0
	}
}

// MaxHybridTime returns the larger of a and b.
func MaxHybridTime(a, b HybridTime) HybridTime {
	if a < b {
		return b
	}
	return a
}

// MinHybridTime returns the smaller of a and b.
func MinHybridTime(a, b HybridTime) HybridTime {
	if a < b {
		return a
	}
	return b
}

// String formats t as { physical: N logical: M }, with the sentinels spelled
// out by name.
func (t HybridTime) String() string {
	return redact.StringWithoutMarkers(t)
}

// SafeFormat implements the redact.SafeFormatter interface.
func (t HybridTime) SafeFormat(w redact.SafePrinter, _ rune) {
	switch t {
	case Min:
		w.SafeString("<min>")
	case Max:
		w.SafeString("<max>")
	case Invalid:
		w.SafeString("<invalid>")
	default:
		w.Printf("{ physical: %d logical: %d }", t.Physical(), t.Logical())
	}
}

var _ redact.SafeFormatter = HybridTime(0)
