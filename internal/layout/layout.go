// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package layout computes the fixed record widths of the seven plot tables
// as they exist during backpropagation.
//
// All widths are derived from the plot width parameter k at run time:
//
//	table 1:    x                                   k bits
//	tables 2-6: pos | offset | metadata...          (input)
//	            sort_key | pos | offset | padding   (output)
//	table 7:    f7 | pos | offset | padding
//
// Record sizes are the maximum a table occupies across the stages that share
// its file, so that a table can always be rewritten on top of itself.
package layout

import "github.com/cockroachdb/errors"

const (
	// NumTables is the number of tables in a plot.
	NumTables = 7

	// OffsetBits is the width of the relative offset field. The second
	// reference of an entry is always within 2^OffsetBits of the first.
	OffsetBits = 10

	// MinK and MaxK bound the width parameter.
	MinK = 1
	MaxK = 50
)

// PosBits returns the width of the position field. An extra bit beyond k is
// used because an unpruned table may hold more than 2^k entries.
func PosBits(k uint8) uint32 {
	return uint32(k) + 1
}

// SortKeyBits returns the width of the dense counter that replaces the
// discarded metadata of tables 2-6.
func SortKeyBits(k uint8) uint32 {
	return uint32(k) + 1
}

// F7Bits returns the width of the f7 value at the head of table 7 records.
func F7Bits(k uint8) uint32 {
	return uint32(k)
}

// ByteAlign rounds a number of bits up to a multiple of 8.
func ByteAlign(bits uint32) uint32 {
	return (bits + 7) &^ 7
}

// RecordSize returns the size in bytes of a record of the given table. It is
// a pure function of (k, table) and panics on a table index outside [1, 7].
func RecordSize(k uint8, table int) uint32 {
	switch table {
	case 1:
		return ByteAlign(uint32(k)) / 8
	case 2, 3, 4, 5, 6:
		// The larger of sort_key|pos|offset and the 3k-1 bits the next stage
		// writes into the same file.
		return ByteAlign(max(SortKeyBits(k)+PosBits(k)+OffsetBits, 3*uint32(k)-1)) / 8
	case 7:
		return ByteAlign(max(F7Bits(k)+PosBits(k)+OffsetBits, 3*uint32(k)-1)) / 8
	default:
		panic(errors.AssertionFailedf("invalid table index %d", table))
	}
}

// ValidateK returns an error if k is outside the supported range.
func ValidateK(k uint8) error {
	if k < MinK || k > MaxK {
		return errors.Newf("prune: k=%d outside supported range [%d, %d]", k, MinK, MaxK)
	}
	return nil
}
