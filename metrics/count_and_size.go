// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package metrics contains the value types used to report the size of plot
// tables.
package metrics

import (
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/redact"
	"github.com/pospace/prune/internal/invariants"
)

// CountAndSize tracks the record count and total size of a table or a set
// of tables.
type CountAndSize struct {
	// Count is the number of records.
	Count uint64

	// Bytes is the total size of all records.
	Bytes uint64
}

// Records returns the CountAndSize of count records of recordSize bytes each.
func Records(count uint64, recordSize uint32) CountAndSize {
	return CountAndSize{Count: count, Bytes: count * uint64(recordSize)}
}

// Accumulate increases the counts and sizes by the given amounts.
func (cs *CountAndSize) Accumulate(other CountAndSize) {
	cs.Count += other.Count
	cs.Bytes += other.Bytes
}

// Deduct decreases the counts and sizes by the given amounts.
func (cs *CountAndSize) Deduct(other CountAndSize) {
	cs.Count = invariants.SafeSub(cs.Count, other.Count)
	cs.Bytes = invariants.SafeSub(cs.Bytes, other.Bytes)
}

// Sub returns cs minus other.
func (cs CountAndSize) Sub(other CountAndSize) CountAndSize {
	cs.Deduct(other)
	return cs
}

func (cs CountAndSize) IsZero() bool {
	return cs.Count == 0 && cs.Bytes == 0
}

func (cs CountAndSize) String() string {
	return redact.StringWithoutMarkers(cs)
}

// SafeFormat implements redact.SafeFormatter.
func (cs CountAndSize) SafeFormat(w redact.SafePrinter, verb rune) {
	w.Printf("%s (%s)", crhumanize.Count(cs.Count, crhumanize.Compact), crhumanize.Bytes(cs.Bytes, crhumanize.Compact, crhumanize.OmitI))
}
