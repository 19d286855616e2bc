// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rank

import (
	"bytes"
	"fmt"
	"testing"
	"time"
	"unicode"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestIndexDataDriven(t *testing.T) {
	var bf *Bitfield
	var x *Index
	var buf bytes.Buffer
	datadriven.RunTest(t, "testdata/rank", func(t *testing.T, td *datadriven.TestData) string {
		buf.Reset()
		switch td.Cmd {
		case "build":
			var n uint64
			for _, r := range td.Input {
				if !unicode.IsSpace(r) {
					n++
				}
			}
			bf = NewBitfield(n)
			i := uint64(0)
			for _, r := range td.Input {
				if unicode.IsSpace(r) {
					continue
				}
				if r == '1' {
					bf.Set(i)
				}
				i++
			}
			x = NewIndex(bf)
			fmt.Fprintf(&buf, "bits: %s\ncount: %d\n", bf, x.Total())
			return buf.String()

		case "rank":
			var indexes []int
			td.ScanArgs(t, "indexes", &indexes)
			for _, idx := range indexes {
				fmt.Fprintf(&buf, "Rank(%d) = %d\n", idx, x.Rank(uint64(idx)))
			}
			return buf.String()

		case "lookup":
			var positions, offsets []int
			td.ScanArgs(t, "pos", &positions)
			td.ScanArgs(t, "offset", &offsets)
			for i := range positions {
				func() {
					defer func() {
						if r := recover(); r != nil {
							err, _ := r.(error)
							fmt.Fprintf(&buf, "Lookup(%d, %d) panicked: assertion failure %t\n",
								positions[i], offsets[i], errors.IsAssertionFailure(err))
						}
					}()
					p, o := x.Lookup(uint64(positions[i]), uint64(offsets[i]))
					fmt.Fprintf(&buf, "Lookup(%d, %d) = (%d, %d)\n", positions[i], offsets[i], p, o)
				}()
			}
			return buf.String()

		default:
			return fmt.Sprintf("unknown command: %s", td.Cmd)
		}
	})
}

func TestIndexRandom(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed: %d", seed)
	rng := rand.New(rand.NewSource(seed))

	testWithProbability := func(t *testing.T, size uint64, p float64) {
		bf := NewBitfield(size)
		v := make([]bool, size)
		for i := range v {
			if v[i] = rng.Float64() < p; v[i] {
				bf.Set(uint64(i))
			}
		}
		x := NewIndex(bf)
		require.Zero(t, x.Rank(0))
		var want uint64
		for i := uint64(0); i < size; i++ {
			require.Equalf(t, want, x.Rank(i), "Rank(%d)", i)
			require.Equal(t, v[i], bf.Get(i))
			if v[i] {
				want++
			}
			d := x.Rank(i+1) - x.Rank(i)
			require.True(t, d == 0 || d == 1)
		}
		require.Equal(t, want, x.Rank(size))
		require.Equal(t, want, x.Total())
		require.Equal(t, want, bf.Count())
	}

	for _, p := range []float64{0, 0.001, 0.1, 0.5, 0.8, 1} {
		for _, size := range []uint64{0, 1, 63, 64, 65, 511, 512, 513, 4096 + 7, uint64(rng.Intn(20000))} {
			t.Run(fmt.Sprintf("p=%.3f/size=%d", p, size), func(t *testing.T) {
				testWithProbability(t, size, p)
			})
		}
	}
}

func TestLookupMatchesCompaction(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const size = 3000
	bf := NewBitfield(size)
	for i := 0; i < size; i++ {
		if rng.Intn(3) != 0 {
			bf.Set(uint64(i))
		}
	}
	x := NewIndex(bf)

	// Physically compact the positions and check that Lookup agrees.
	var compacted []uint64
	newIndex := make(map[uint64]uint64)
	for i := uint64(0); i < size; i++ {
		if bf.Get(i) {
			newIndex[i] = uint64(len(compacted))
			compacted = append(compacted, i)
		}
	}
	for i := 0; i < 1000; i++ {
		a := compacted[rng.Intn(len(compacted))]
		b := compacted[rng.Intn(len(compacted))]
		if b < a {
			a, b = b, a
		}
		p, o := x.Lookup(a, b-a)
		require.Equal(t, newIndex[a], p)
		require.Equal(t, newIndex[b], p+o)
		require.Equal(t, compacted[p+o], b)
	}
}

func TestBitfieldReset(t *testing.T) {
	bf := NewBitfield(130)
	bf.Set(0)
	bf.Set(129)
	require.Equal(t, uint64(2), bf.Count())
	require.Panics(t, func() { bf.Set(130) })
	require.False(t, bf.Get(130))

	bf.Reset(70)
	require.Equal(t, uint64(70), bf.Len())
	require.Zero(t, bf.Count())
	bf.Set(69)
	require.True(t, bf.Get(69))

	bf.Reset(1000)
	require.Zero(t, bf.Count())
	require.Equal(t, uint64(1000), bf.Len())
}
