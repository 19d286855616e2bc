// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package extsort

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/pospace/prune/internal/bitpack"
	"github.com/pospace/prune/vfs"
)

// Strategy selects how records within the cache are ordered.
type Strategy int8

const (
	// QuickSort orders records by key and breaks ties by comparing the full
	// record bytes, which yields a total order independent of insertion order.
	QuickSort Strategy = iota
	// StableSort orders records by key only and keeps records with equal keys
	// in the order they were added.
	StableSort
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case QuickSort:
		return "quicksort"
	case StableSort:
		return "stable"
	default:
		return fmt.Sprintf("unknown(%d)", int8(s))
	}
}

// Options configures a Sorter.
type Options struct {
	// FS holds the temporary bucket files.
	FS vfs.FS
	// Dir is the directory bucket files are created in. It is created if it
	// does not exist.
	Dir string
	// Filename prefixes the name of every bucket file.
	Filename string

	// RecordSize is the fixed size in bytes of every record.
	RecordSize int

	// NumBuckets is the number of spill buckets and must equal
	// 1<<LogNumBuckets. A record's bucket is given by the top LogNumBuckets
	// bits of its key.
	NumBuckets    int
	LogNumBuckets int

	// KeyBitOffset is the offset of the sort key, in bits from the start of a
	// record. KeyBitWidth is its width; zero means the rest of the record,
	// capped at 64 bits.
	KeyBitOffset uint32
	KeyBitWidth  uint32

	// Strategy selects the in-memory ordering.
	Strategy Strategy

	// Concurrency bounds the number of bucket files written in parallel during
	// a spill. Values <= 0 mean 1.
	Concurrency int
}

func (o *Options) keyWidth() uint32 {
	if o.KeyBitWidth != 0 {
		return o.KeyBitWidth
	}
	return min(bitpack.MaxFieldBits, uint32(o.RecordSize)*8-o.KeyBitOffset)
}

func (o *Options) validate() error {
	switch {
	case o.FS == nil:
		return errors.New("extsort: FS is required")
	case o.RecordSize <= 0:
		return errors.Newf("extsort: invalid record size %d", o.RecordSize)
	case o.LogNumBuckets < 0 || o.LogNumBuckets > 16:
		return errors.Newf("extsort: log bucket count %d outside [0, 16]", o.LogNumBuckets)
	case o.NumBuckets != 1<<o.LogNumBuckets:
		return errors.Newf("extsort: bucket count %d is not 2^%d", o.NumBuckets, o.LogNumBuckets)
	case uint64(o.KeyBitOffset) >= uint64(o.RecordSize)*8:
		return errors.Newf("extsort: key offset %d beyond %d-byte record", o.KeyBitOffset, o.RecordSize)
	case o.keyWidth() > bitpack.MaxFieldBits:
		return errors.Newf("extsort: key width %d exceeds %d bits", o.keyWidth(), bitpack.MaxFieldBits)
	case uint64(o.KeyBitOffset)+uint64(o.keyWidth()) > uint64(o.RecordSize)*8:
		return errors.Newf("extsort: key bits [%d, %d) beyond %d-byte record",
			o.KeyBitOffset, o.KeyBitOffset+o.keyWidth(), o.RecordSize)
	case o.Strategy != QuickSort && o.Strategy != StableSort:
		return errors.Newf("extsort: unknown strategy %s", o.Strategy)
	}
	return nil
}
