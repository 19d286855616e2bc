// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package rank provides the liveness bitmaps of the backpropagation stage and
// a rank index over them.
//
// The rank of a bit position p is the number of set bits in [0, p). For a
// liveness bitmap over a table, the rank of a live record is the position it
// will occupy once every dead record has been removed from the table, which
// lets pointers into the table be rewritten before the table is compacted.
//
// The index is a two level directory of precomputed population counts. The
// bitmap is split into blocks of blockWords 64-bit words; each block stores
// the absolute rank of its first bit and each word stores the rank of its
// first bit relative to its block:
//
//	 block 0                       block 1
//	+------+------+-----+------+  +------+------+-----+
//	| w0   | w1   | ... | w7   |  | w8   | w9   | ... |
//	+------+------+-----+------+  +------+------+-----+
//	 rel=0  rel=c0       rel=..    rel=0  rel=c8
//	 abs=0                         abs=popcount(w0..w7)
//
// A Rank query reads one absolute count, one relative count and popcounts
// the bits of a single word below p.
package rank

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/pospace/prune/internal/invariants"
)

// blockWords is the number of words summarized by each absolute count. The
// relative counts must fit in a uint16: (blockWords-1)*64 < 1<<16.
const blockWords = 8

// Index answers rank queries over a Bitfield. It is immutable once built and
// must not outlive modifications to the Bitfield it was built from.
type Index struct {
	words    []uint64
	n        uint64
	total    uint64
	blockAbs []uint64
	wordRel  []uint16
}

// NewIndex builds an Index over a completed Bitfield.
func NewIndex(b *Bitfield) *Index {
	x := &Index{
		words:    b.words,
		n:        b.n,
		blockAbs: make([]uint64, (len(b.words)+blockWords-1)/blockWords),
		wordRel:  make([]uint16, len(b.words)),
	}
	var abs uint64
	var rel uint16
	for i, w := range b.words {
		if i%blockWords == 0 {
			x.blockAbs[i/blockWords] = abs
			rel = 0
		}
		x.wordRel[i] = rel
		c := uint16(bits.OnesCount64(w))
		rel += c
		abs += uint64(c)
	}
	x.total = abs
	if invariants.Sometimes(10) {
		x.verify()
	}
	return x
}

// verify recomputes every rank bit by bit.
func (x *Index) verify() {
	var r uint64
	for p := uint64(0); p < x.n; p++ {
		if got := x.Rank(p); got != r {
			panic(errors.AssertionFailedf("rank: Rank(%d) = %d, expected %d", p, got, r))
		}
		if x.get(p) {
			r++
		}
	}
	if r != x.total {
		panic(errors.AssertionFailedf("rank: total %d, expected %d", x.total, r))
	}
}

// Len returns the number of bits covered by the index.
func (x *Index) Len() uint64 {
	return x.n
}

// Total returns the number of set bits, i.e. the size of the compacted table.
func (x *Index) Total() uint64 {
	return x.total
}

// Rank returns the number of set bits at positions strictly less than p.
// Rank(0) is 0 and Rank(p) for p >= Len is Total.
func (x *Index) Rank(p uint64) uint64 {
	if p >= x.n {
		return x.total
	}
	w := p >> 6
	below := x.words[w] & (uint64(1)<<(p&63) - 1)
	return x.blockAbs[w/blockWords] + uint64(x.wordRel[w]) + uint64(bits.OnesCount64(below))
}

// Lookup translates a (position, offset) pointer pair into the numbering of
// the compacted table: the new position is the rank of pos and the new
// offset is the number of set bits between pos and pos+offset.
//
// Both pos and pos+offset must be set. Pointers to dropped records mean the
// liveness scan is broken, so Lookup panics rather than returning an error.
func (x *Index) Lookup(pos, offset uint64) (newPos, newOffset uint64) {
	target := pos + offset
	if !x.get(pos) || !x.get(target) {
		panic(errors.AssertionFailedf(
			"rank: lookup of (%d, %d) references an unset bit (bits: %d)", pos, offset, x.n))
	}
	newPos = x.Rank(pos)
	return newPos, x.Rank(target) - newPos
}

func (x *Index) get(i uint64) bool {
	return i < x.n && x.words[i>>6]&(1<<(i&63)) != 0
}
