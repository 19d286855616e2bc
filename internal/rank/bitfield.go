// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rank

import (
	"fmt"
	"math/bits"
	"strings"
)

// Bitfield is a fixed-length bitmap built on a []uint64, one bit per record of
// a table. Bits beyond Len are always zero.
type Bitfield struct {
	words []uint64
	n     uint64
}

// NewBitfield returns an all-false Bitfield of n bits.
func NewBitfield(n uint64) *Bitfield {
	b := &Bitfield{}
	b.Reset(n)
	return b
}

// Reset clears the bitfield and resizes it to n bits, reusing the existing
// allocation when it is large enough.
func (b *Bitfield) Reset(n uint64) {
	nWords := int((n + 63) >> 6)
	if cap(b.words) < nWords {
		b.words = make([]uint64, nWords)
	} else {
		b.words = b.words[:nWords]
		clear(b.words)
	}
	b.n = n
}

// Len returns the number of bits in the bitfield.
func (b *Bitfield) Len() uint64 {
	return b.n
}

// Set sets bit i. It panics if i >= Len.
func (b *Bitfield) Set(i uint64) {
	if i >= b.n {
		panic(fmt.Sprintf("rank: bit %d out of range [0, %d)", i, b.n))
	}
	b.words[i>>6] |= 1 << (i & 63)
}

// Get returns true if bit i is set. Bits at or beyond Len read as false.
func (b *Bitfield) Get(i uint64) bool {
	if i >= b.n {
		return false
	}
	return b.words[i>>6]&(1<<(i&63)) != 0
}

// Count returns the number of set bits.
func (b *Bitfield) Count() uint64 {
	var c int
	for _, w := range b.words {
		c += bits.OnesCount64(w)
	}
	return uint64(c)
}

// String returns the bits as a string of 0s and 1s, lowest index first.
func (b *Bitfield) String() string {
	var sb strings.Builder
	for i := uint64(0); i < b.n; i++ {
		if b.Get(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
