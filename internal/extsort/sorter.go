// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package extsort implements a bounded-memory external sort of fixed-size
// records by a bit range embedded in each record.
//
// Records are added to a caller-provided cache. When the cache fills it is
// sorted in place and spilled: since a record's bucket is a prefix of its key,
// each bucket occupies a contiguous range of the sorted cache and is appended
// to that bucket's temporary file. After Flush, the sorted sequence is read
// back bucket by bucket; each bucket is loaded into the cache, verified, and
// sorted again, so a bucket must fit in the cache.
//
// When every record fits in the cache nothing is spilled and the sequence is
// served directly from memory.
package extsort

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/pospace/prune/internal/base"
	"github.com/pospace/prune/internal/bitpack"
	"github.com/pospace/prune/internal/invariants"
	"github.com/pospace/prune/vfs"
	"golang.org/x/sync/errgroup"
)

// Stats describes the work done by a Sorter.
type Stats struct {
	// Spills is the number of times the cache was written out to buckets.
	Spills int
	// SpilledBytes is the number of bytes written to bucket files.
	SpilledBytes int64
	// BucketLoads is the number of times a bucket was read back.
	BucketLoads int
}

// Sorter accumulates records and produces them in ascending key order.
//
// A Sorter is not safe for concurrent use.
type Sorter struct {
	opts       Options
	cache      []byte
	capRecords int
	keyWidth   uint32
	bucketBits uint32
	tmp        []byte

	// cached is the number of records in the cache awaiting a spill.
	cached  int
	count   int64
	buckets []bucket
	flushed bool
	// inMemory is set when the whole sequence is held sorted in the cache.
	inMemory bool

	// Read-back state, valid after Flush.
	starts      []int64
	loaded      int
	loadedStart int64
	loadedEnd   int64

	stats Stats
}

type bucket struct {
	name    string
	file    vfs.File
	records int64
	digest  *xxhash.Digest
}

// New returns a Sorter using cache as its only record memory. The cache must
// hold at least one record.
func New(cache []byte, opts Options) (*Sorter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(cache) < opts.RecordSize {
		return nil, errors.Newf("extsort: %d-byte cache cannot hold a %d-byte record", len(cache), opts.RecordSize)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Dir != "" {
		if err := opts.FS.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "extsort: creating %s", opts.Dir)
		}
	}
	s := &Sorter{
		opts:       opts,
		capRecords: len(cache) / opts.RecordSize,
		keyWidth:   opts.keyWidth(),
		tmp:        make([]byte, opts.RecordSize),
		buckets:    make([]bucket, opts.NumBuckets),
		loaded:     -1,
	}
	s.cache = cache[:s.capRecords*opts.RecordSize]
	s.bucketBits = min(uint32(opts.LogNumBuckets), s.keyWidth)
	for i := range s.buckets {
		s.buckets[i].name = opts.FS.PathJoin(opts.Dir, fmt.Sprintf("%s.sort_bucket_%03d.tmp", opts.Filename, i))
	}
	return s, nil
}

func (s *Sorter) key(rec []byte) uint64 {
	return bitpack.Uint(rec, s.opts.KeyBitOffset, s.keyWidth)
}

func (s *Sorter) bucketOf(rec []byte) int {
	return int(s.key(rec) >> (s.keyWidth - s.bucketBits))
}

// Add copies rec into the sorter, spilling the cache if it is full.
func (s *Sorter) Add(rec []byte) error {
	if s.flushed {
		return errors.AssertionFailedf("extsort: Add after Flush")
	}
	if len(rec) != s.opts.RecordSize {
		return errors.AssertionFailedf("extsort: %d-byte record added to %d-byte sorter", len(rec), s.opts.RecordSize)
	}
	if s.count >= math.MaxInt64/int64(s.opts.RecordSize) {
		return errors.AssertionFailedf("extsort: record count %d exceeds addressable range", s.count)
	}
	copy(s.cache[s.cached*s.opts.RecordSize:], rec)
	s.cached++
	s.count++
	if s.cached == s.capRecords {
		return s.spill()
	}
	return nil
}

// Count returns the number of records added.
func (s *Sorter) Count() int64 {
	return s.count
}

// Stats returns the work done so far.
func (s *Sorter) Stats() Stats {
	return s.stats
}

func (s *Sorter) sortRecords(buf []byte) {
	rs := recordSlice{s: s, buf: buf}
	if s.opts.Strategy == StableSort {
		sort.Stable(rs)
	} else {
		sort.Sort(rs)
	}
	if invariants.Enabled {
		for i := 1; i < rs.Len(); i++ {
			if rs.Less(i, i-1) {
				panic(errors.AssertionFailedf("extsort: records %d and %d out of order", i-1, i))
			}
		}
	}
}

// spill sorts the cache and appends each bucket's range to its file. Buckets
// are written concurrently; each file is touched by at most one goroutine.
func (s *Sorter) spill() error {
	size := s.opts.RecordSize
	data := s.cache[:s.cached*size]
	s.sortRecords(data)

	g := errgroup.Group{}
	g.SetLimit(s.opts.Concurrency)
	for start := 0; start < s.cached; {
		b := s.bucketOf(data[start*size:])
		end := start + 1
		for end < s.cached && s.bucketOf(data[end*size:]) == b {
			end++
		}
		bkt := &s.buckets[b]
		run := data[start*size : end*size]
		g.Go(func() error {
			return s.appendToBucket(bkt, run)
		})
		s.stats.SpilledBytes += int64(len(run))
		start = end
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.stats.Spills++
	s.cached = 0
	return nil
}

func (s *Sorter) appendToBucket(b *bucket, run []byte) error {
	if b.file == nil {
		f, err := s.opts.FS.Create(b.name)
		if err != nil {
			return errors.Wrapf(err, "extsort: creating %s", b.name)
		}
		b.file = f
		b.digest = xxhash.New()
	}
	if _, err := b.file.Write(run); err != nil {
		return errors.Wrapf(err, "extsort: writing %s", b.name)
	}
	_, _ = b.digest.Write(run)
	b.records += int64(len(run) / s.opts.RecordSize)
	return nil
}

// Flush ends the add phase. Afterwards the records can be read back in
// sorted order with ReadAt.
func (s *Sorter) Flush() error {
	if s.flushed {
		return errors.AssertionFailedf("extsort: Flush called twice")
	}
	s.flushed = true
	if s.stats.Spills == 0 {
		// Everything fits in the cache.
		s.sortRecords(s.cache[:s.cached*s.opts.RecordSize])
		s.inMemory = true
		return nil
	}
	if s.cached > 0 {
		if err := s.spill(); err != nil {
			return err
		}
	}
	s.starts = make([]int64, len(s.buckets)+1)
	for i := range s.buckets {
		s.starts[i+1] = s.starts[i] + s.buckets[i].records
	}
	if invariants.Enabled && s.starts[len(s.buckets)] != s.count {
		panic(errors.AssertionFailedf("extsort: buckets hold %d records, added %d", s.starts[len(s.buckets)], s.count))
	}
	return nil
}

// ReadAt returns the record at byte offset off of the sorted sequence, i.e.
// record off/RecordSize. The returned slice aliases the cache and is only
// valid until the next call to ReadAt.
//
// Reads in ascending offset order load every bucket exactly once.
func (s *Sorter) ReadAt(off int64) ([]byte, error) {
	if !s.flushed {
		return nil, errors.AssertionFailedf("extsort: ReadAt before Flush")
	}
	size := int64(s.opts.RecordSize)
	if off < 0 || off%size != 0 {
		return nil, errors.AssertionFailedf("extsort: offset %d is not a multiple of record size %d", off, size)
	}
	i := off / size
	if i >= s.count {
		return nil, errors.Newf("extsort: read of record %d beyond %d sorted records", i, s.count)
	}
	if s.inMemory {
		return s.cache[off : off+size], nil
	}
	if s.loaded < 0 || i < s.loadedStart || i >= s.loadedEnd {
		// Find the last bucket starting at or before i that is non-empty.
		b := sort.Search(len(s.buckets), func(j int) bool { return s.starts[j+1] > i })
		if err := s.load(b); err != nil {
			return nil, err
		}
	}
	rel := (i - s.loadedStart) * size
	return s.cache[rel : rel+size], nil
}

func (s *Sorter) load(b int) error {
	invariants.CheckBounds(b, len(s.buckets))
	bkt := &s.buckets[b]
	n := bkt.records * int64(s.opts.RecordSize)
	if n > int64(len(s.cache)) {
		return errors.AssertionFailedf("extsort: bucket %d holds %d bytes, exceeding the %d-byte cache",
			b, n, len(s.cache))
	}
	s.loaded = -1
	buf := s.cache[:n]
	if n, err := bkt.file.ReadAt(buf, 0); err != nil {
		err = errors.Wrapf(err, "extsort: reading %s (read %d of %d bytes)", bkt.name, n, len(buf))
		if n < len(buf) && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			// The bucket file is shorter than the records appended to it.
			err = base.MarkCorruptionError(err)
		}
		return err
	}
	if sum := xxhash.Sum64(buf); sum != bkt.digest.Sum64() {
		return base.CorruptionErrorf("extsort: %s checksum mismatch %016x != %016x", bkt.name, sum, bkt.digest.Sum64())
	}
	s.sortRecords(buf)
	s.loaded = b
	s.loadedStart = s.starts[b]
	s.loadedEnd = s.starts[b+1]
	s.stats.BucketLoads++
	return nil
}

// Close removes the bucket files. The Sorter must not be used afterwards.
func (s *Sorter) Close() error {
	var err error
	for i := range s.buckets {
		b := &s.buckets[i]
		if b.file == nil {
			continue
		}
		err = errors.CombineErrors(err, b.file.Close())
		err = errors.CombineErrors(err, s.opts.FS.Remove(b.name))
		b.file = nil
	}
	s.cache = nil
	return err
}

// recordSlice implements sort.Interface over fixed-size records stored back
// to back in buf.
type recordSlice struct {
	s   *Sorter
	buf []byte
}

func (r recordSlice) Len() int {
	return len(r.buf) / r.s.opts.RecordSize
}

func (r recordSlice) at(i int) []byte {
	size := r.s.opts.RecordSize
	return r.buf[i*size : (i+1)*size]
}

func (r recordSlice) Less(i, j int) bool {
	a, b := r.at(i), r.at(j)
	ka, kb := r.s.key(a), r.s.key(b)
	if ka != kb {
		return ka < kb
	}
	if r.s.opts.Strategy == StableSort {
		return false
	}
	return bytes.Compare(a, b) < 0
}

func (r recordSlice) Swap(i, j int) {
	a, b := r.at(i), r.at(j)
	copy(r.s.tmp, a)
	copy(a, b)
	copy(b, r.s.tmp)
}
