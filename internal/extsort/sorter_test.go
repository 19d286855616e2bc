// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package extsort

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/errors"
	"github.com/pospace/prune/internal/base"
	"github.com/pospace/prune/internal/bitpack"
	"github.com/pospace/prune/vfs"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func testOptions(fs vfs.FS) Options {
	return Options{
		FS:            fs,
		Dir:           "/tmp/sort",
		Filename:      "plot.p2.t4",
		RecordSize:    4,
		NumBuckets:    8,
		LogNumBuckets: 3,
		KeyBitOffset:  8,
		KeyBitWidth:   20,
		Strategy:      QuickSort,
		Concurrency:   4,
	}
}

func randomRecords(rng *rand.Rand, n, size int) [][]byte {
	recs := make([][]byte, n)
	for i := range recs {
		recs[i] = make([]byte, size)
		rng.Read(recs[i])
	}
	return recs
}

func sortedCopy(opts Options, recs [][]byte) [][]byte {
	want := slices.Clone(recs)
	key := func(r []byte) uint64 { return bitpack.Uint(r, opts.KeyBitOffset, opts.keyWidth()) }
	slices.SortFunc(want, func(a, b []byte) int {
		if ka, kb := key(a), key(b); ka != kb {
			if ka < kb {
				return -1
			}
			return 1
		}
		return bytes.Compare(a, b)
	})
	return want
}

func readAll(t *testing.T, s *Sorter, size int) [][]byte {
	var got [][]byte
	for i := int64(0); i < s.Count(); i++ {
		rec, err := s.ReadAt(i * int64(size))
		require.NoError(t, err)
		got = append(got, slices.Clone(rec))
	}
	return got
}

func TestSorterInMemory(t *testing.T) {
	defer leaktest.AfterTest(t)()
	fs := vfs.NewMem()
	opts := testOptions(fs)
	rng := rand.New(rand.NewSource(1))
	recs := randomRecords(rng, 100, opts.RecordSize)

	s, err := New(make([]byte, 1000), opts)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, s.Add(r))
	}
	require.NoError(t, s.Flush())
	require.Equal(t, int64(100), s.Count())
	require.Equal(t, sortedCopy(opts, recs), readAll(t, s, opts.RecordSize))
	require.Equal(t, Stats{}, s.Stats())

	names, err := fs.List(opts.Dir)
	require.NoError(t, err)
	require.Empty(t, names)
	require.NoError(t, s.Close())
}

func TestSorterSpill(t *testing.T) {
	defer leaktest.AfterTest(t)()
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed: %d", seed)
	rng := rand.New(rand.NewSource(seed))

	for _, strategy := range []Strategy{QuickSort, StableSort} {
		for _, n := range []int{1, 1000, 1024, 1025, 5000} {
			t.Run(fmt.Sprintf("%s/n=%d", strategy, n), func(t *testing.T) {
				fs := vfs.NewMem()
				opts := testOptions(fs)
				opts.Strategy = strategy
				// Random keys spread evenly over 8 buckets, so no bucket of
				// 5000 records outgrows the 1024-record cache.
				recs := randomRecords(rng, n, opts.RecordSize)
				s, err := New(make([]byte, 4096+3), opts)
				require.NoError(t, err)
				for _, r := range recs {
					require.NoError(t, s.Add(r))
				}
				require.NoError(t, s.Flush())
				if n >= 1024 {
					require.Greater(t, s.Stats().Spills, 0)
				}

				got := readAll(t, s, opts.RecordSize)
				want := sortedCopy(opts, recs)
				if strategy == QuickSort {
					require.Equal(t, want, got)
				} else {
					// Same multiset, ordered by key.
					require.ElementsMatch(t, want, got)
					for i := 1; i < len(got); i++ {
						require.LessOrEqual(t,
							bitpack.Uint(got[i-1], opts.KeyBitOffset, opts.KeyBitWidth),
							bitpack.Uint(got[i], opts.KeyBitOffset, opts.KeyBitWidth))
					}
				}

				// Random access after sequential access.
				for i := 0; i < 50; i++ {
					j := rng.Intn(n)
					rec, err := s.ReadAt(int64(j * opts.RecordSize))
					require.NoError(t, err)
					require.Equal(t, got[j], rec)
				}

				require.NoError(t, s.Close())
				names, err := fs.List(opts.Dir)
				require.NoError(t, err)
				require.Empty(t, names)
			})
		}
	}
}

func TestSorterStableOrder(t *testing.T) {
	fs := vfs.NewMem()
	opts := testOptions(fs)
	opts.RecordSize = 2
	opts.KeyBitOffset = 0
	opts.KeyBitWidth = 4
	opts.NumBuckets = 4
	opts.LogNumBuckets = 2
	opts.Strategy = StableSort

	s, err := New(make([]byte, 16), opts)
	require.NoError(t, err)
	// Keys 0, 4, 8 and 12 in the high nibble of the first byte, one per
	// bucket; insertion sequence in the second byte, descending so that a
	// bytewise tie-break would reverse it.
	for seq := 20; seq > 0; seq-- {
		require.NoError(t, s.Add([]byte{byte(seq%4) << 6, byte(seq)}))
	}
	require.Greater(t, s.Stats().Spills, 0)
	require.NoError(t, s.Flush())
	var prevKey, prevSeq byte
	for i := int64(0); i < s.Count(); i++ {
		rec, err := s.ReadAt(i * 2)
		require.NoError(t, err)
		key, seq := rec[0]>>4, rec[1]
		if i > 0 {
			require.LessOrEqual(t, prevKey, key)
			if key == prevKey {
				require.Less(t, seq, prevSeq)
			}
		}
		prevKey, prevSeq = key, seq
	}
	require.NoError(t, s.Close())
}

func TestSorterBucketOverflow(t *testing.T) {
	fs := vfs.NewMem()
	opts := testOptions(fs)
	s, err := New(make([]byte, 16), opts)
	require.NoError(t, err)
	// Every record lands in bucket 0.
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Add([]byte{byte(i), 0, 0, byte(i)}))
	}
	require.NoError(t, s.Flush())
	_, err = s.ReadAt(0)
	require.True(t, errors.IsAssertionFailure(err))
	require.NoError(t, s.Close())
}

func TestSorterCorruption(t *testing.T) {
	fs := vfs.NewMem()
	opts := testOptions(fs)
	s, err := New(make([]byte, 16), opts)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Add([]byte{0, byte(i << 5), 0, byte(i)}))
	}
	require.NoError(t, s.Flush())

	f, err := fs.OpenReadWrite(fs.PathJoin(opts.Dir, "plot.p2.t4.sort_bucket_000.tmp"))
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff}, 3)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = s.ReadAt(0)
	require.True(t, base.IsCorruptionError(err), "%+v", err)
	require.NoError(t, s.Close())
}

func TestSorterTruncatedBucket(t *testing.T) {
	fs := vfs.NewMem()
	opts := testOptions(fs)
	s, err := New(make([]byte, 16), opts)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Add([]byte{0, byte(i << 5), 0, byte(i)}))
	}
	require.NoError(t, s.Flush())

	f, err := fs.OpenReadWrite(fs.PathJoin(opts.Dir, "plot.p2.t4.sort_bucket_000.tmp"))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(2))
	require.NoError(t, f.Close())

	_, err = s.ReadAt(0)
	require.True(t, base.IsCorruptionError(err), "%+v", err)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, s.Close())
}

func TestSorterIOError(t *testing.T) {
	defer leaktest.AfterTest(t)()
	mem := vfs.NewMem()
	// MkdirAll succeeds, the first bucket file creation fails.
	fs := vfs.NewErrorFS(vfs.NewErrorIndex(1), 0, vfs.ErrorFSWrite, mem)
	opts := testOptions(fs)
	s, err := New(make([]byte, 8), opts)
	require.NoError(t, err)
	require.NoError(t, s.Add([]byte{1, 2, 3, 4}))
	err = s.Add([]byte{5, 6, 7, 8})
	require.ErrorIs(t, err, vfs.ErrInjected)
	require.NoError(t, s.Close())
}

func TestSorterMisuse(t *testing.T) {
	fs := vfs.NewMem()
	opts := testOptions(fs)

	_, err := New(make([]byte, 3), opts)
	require.Error(t, err)

	bad := opts
	bad.NumBuckets = 6
	_, err = New(make([]byte, 16), bad)
	require.Error(t, err)

	bad = opts
	bad.KeyBitWidth = 30
	_, err = New(make([]byte, 16), bad)
	require.Error(t, err)

	s, err := New(make([]byte, 16), opts)
	require.NoError(t, err)
	require.True(t, errors.IsAssertionFailure(s.Add([]byte{1, 2, 3})))
	_, err = s.ReadAt(0)
	require.True(t, errors.IsAssertionFailure(err))
	require.NoError(t, s.Add([]byte{1, 2, 3, 4}))
	require.NoError(t, s.Flush())
	require.True(t, errors.IsAssertionFailure(s.Flush()))
	require.True(t, errors.IsAssertionFailure(s.Add([]byte{1, 2, 3, 4})))
	_, err = s.ReadAt(2)
	require.True(t, errors.IsAssertionFailure(err))
	_, err = s.ReadAt(4)
	require.Error(t, err)
	rec, err := s.ReadAt(0)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, rec)
	require.NoError(t, s.Close())
}
