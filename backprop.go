// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package prune

import (
	"fmt"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/pospace/prune/internal/base"
	"github.com/pospace/prune/internal/bitpack"
	"github.com/pospace/prune/internal/extsort"
	"github.com/pospace/prune/internal/invariants"
	"github.com/pospace/prune/internal/layout"
	"github.com/pospace/prune/internal/rank"
	"github.com/pospace/prune/metrics"
)

// Backpropagate removes from tables 1 through 6 every record that is not
// reachable from table 7, renumbers the survivors densely and rewrites the
// pointers of tables 2 through 7 to match. sizes holds the record count of
// each table; index 0 is unused. The returned array holds the new record
// counts: table 7 keeps its size and every other file is truncated to its
// new contents.
//
// memory is the only buffer used for table records. Its first half caches
// table reads and its second half is the external sorter's cache; each half
// must hold at least one record of every table.
//
// A failure leaves the tables in an unspecified state.
func Backpropagate(
	memory []byte, tables [NumTables + 1]TableFile, sizes [NumTables + 1]uint64, opts *Options,
) ([NumTables + 1]uint64, error) {
	opts = opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return [NumTables + 1]uint64{}, err
	}
	half := len(memory) / 2
	for t := 1; t <= NumTables; t++ {
		if tables[t] == nil {
			return [NumTables + 1]uint64{}, errors.Newf("prune: table %d has no file", t)
		}
		if size := layout.RecordSize(opts.K, t); uint64(half) < uint64(size) {
			return [NumTables + 1]uint64{}, errors.Newf(
				"prune: each half of %d bytes must hold a %d-byte record of table %d", half, size, t)
		}
	}

	b := &backprop{
		opts:      opts,
		listener:  *opts.EventListener,
		sizes:     sizes,
		readCache: memory[:half:half],
		sortCache: memory[half:],
		current:   rank.NewBitfield(0),
		next:      rank.NewBitfield(0),
	}
	p := newPacer(opts.WriteBytesPerSec)
	for t := 1; t <= NumTables; t++ {
		b.tables[t] = &tableIO{table: t, f: tables[t], pacer: p}
	}
	return b.run()
}

// backprop holds the state of one Backpropagate run.
type backprop struct {
	opts     *Options
	listener EventListener
	tables   [NumTables + 1]*tableIO
	sizes    [NumTables + 1]uint64
	newSizes [NumTables + 1]uint64

	// readCache and sortCache partition the caller's memory.
	readCache []byte
	sortCache []byte

	// current marks the live records of the table being processed; next
	// marks the records of the table below that they reference.
	current *rank.Bitfield
	next    *rank.Bitfield
}

func (b *backprop) run() ([NumTables + 1]uint64, error) {
	start := crtime.NowMono()
	info := BackpropInfo{
		K:           b.opts.K,
		ID:          b.opts.ID,
		MemoryBytes: uint64(len(b.readCache) + len(b.sortCache)),
		Sizes:       b.sizes,
	}
	b.listener.BackpropBegin(info)

	err := b.runTables()

	info.Done = true
	info.Duration = start.Elapsed()
	info.Err = err
	if err == nil {
		info.NewSizes = b.newSizes
	}
	b.listener.BackpropEnd(info)
	if err != nil {
		return [NumTables + 1]uint64{}, err
	}
	return b.newSizes, nil
}

func (b *backprop) runTables() error {
	for table := NumTables; table >= 2; table-- {
		start := crtime.NowMono()
		if err := b.scan(table); err != nil {
			return err
		}
		idx := rank.NewIndex(b.next)
		if invariants.Enabled && idx.Total() != b.next.Count() {
			panic(errors.AssertionFailedf("index over table %d counts %d of %d live records",
				table-1, idx.Total(), b.next.Count()))
		}
		var err error
		if table == NumTables {
			err = b.rewriteTable7(idx)
		} else {
			err = b.resort(table, idx)
		}
		if err != nil {
			return err
		}
		b.tableRewritten(table, 0, start)
		b.current, b.next = b.next, b.current
	}
	return b.compactTable1()
}

func (b *backprop) recordSize(table int) int {
	return int(layout.RecordSize(b.opts.K, table))
}

// pointerOffset returns the bit offset of the position field in the input
// records of table.
func (b *backprop) pointerOffset(table int) uint32 {
	if table == NumTables {
		return layout.F7Bits(b.opts.K)
	}
	return 0
}

// forEachChunk streams the records of a table through the read cache, calling
// fn with each chunk of whole records, the index of its first record and its
// byte offset in the file.
func (b *backprop) forEachChunk(table int, fn func(chunk []byte, first uint64, off int64) error) error {
	t := b.tables[table]
	size := uint64(b.recordSize(table))
	perChunk := uint64(len(b.readCache)) / size
	n := b.sizes[table]
	for first := uint64(0); first < n; first += perChunk {
		chunk := b.readCache[:min(perChunk, n-first)*size]
		off := int64(first * size)
		if err := t.readFull(chunk, off); err != nil {
			return err
		}
		if err := fn(chunk, first, off); err != nil {
			return err
		}
	}
	return nil
}

// scan marks in b.next every record of table-1 referenced by a live record of
// table. Every record of table 7 is live.
func (b *backprop) scan(table int) error {
	start := crtime.NowMono()
	size := b.recordSize(table)
	posOff := b.pointerOffset(table)
	posBits := layout.PosBits(b.opts.K)
	b.next.Reset(b.sizes[table-1])

	var live uint64
	err := b.forEachChunk(table, func(chunk []byte, first uint64, _ int64) error {
		for i := 0; i*size < len(chunk); i++ {
			idx := first + uint64(i)
			if table < NumTables && !b.current.Get(idx) {
				continue
			}
			rec := chunk[i*size : (i+1)*size]
			pos := bitpack.Uint(rec, posOff, posBits)
			offset := bitpack.Uint(rec, posOff+posBits, layout.OffsetBits)
			if pos+offset >= b.next.Len() {
				return base.CorruptionErrorf("prune: record %d of table %d points at (%d, %d) beyond the %d records of table %d",
					idx, table, pos, offset, b.next.Len(), table-1)
			}
			b.next.Set(pos)
			b.next.Set(pos + offset)
			live++
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.listener.TableScanned(TableScanInfo{
		Table:      table,
		Records:    b.sizes[table],
		Live:       live,
		Referenced: b.next.Count(),
		Duration:   start.Elapsed(),
	})
	return nil
}

// rewriteTable7 remaps the pointers of every table 7 record in place. Records
// keep their f7 value and their position in the file.
func (b *backprop) rewriteTable7(idx *rank.Index) error {
	k := b.opts.K
	size := b.recordSize(NumTables)
	f7Bits, posBits := layout.F7Bits(k), layout.PosBits(k)
	err := b.forEachChunk(NumTables, func(chunk []byte, first uint64, off int64) error {
		for i := 0; i < len(chunk); i += size {
			rec := chunk[i : i+size]
			f7 := bitpack.Uint(rec, 0, f7Bits)
			pos := bitpack.Uint(rec, f7Bits, posBits)
			offset := bitpack.Uint(rec, f7Bits+posBits, layout.OffsetBits)
			newPos, newOffset := idx.Lookup(pos, offset)
			err := bitpack.Encode(rec,
				bitpack.Field{Value: f7, Width: f7Bits},
				bitpack.Field{Value: newPos, Width: posBits},
				bitpack.Field{Value: newOffset, Width: layout.OffsetBits})
			if err != nil {
				return errors.Wrapf(err, "prune: encoding record %d of table %d", first+uint64(i/size), NumTables)
			}
		}
		return b.tables[NumTables].write(chunk, off)
	})
	if err != nil {
		return err
	}
	b.newSizes[NumTables] = b.sizes[NumTables]
	return nil
}

// resort remaps the live records of table, sorts them by their new pointers
// and writes them back contiguously, truncating the file. Each output record
// leads with its index among the survivors in original order.
func (b *backprop) resort(table int, idx *rank.Index) (err error) {
	start := crtime.NowMono()
	k := b.opts.K
	size := b.recordSize(table)
	posBits, counterBits := layout.PosBits(k), layout.SortKeyBits(k)
	sorter, err := extsort.New(b.sortCache, extsort.Options{
		FS:            b.opts.FS,
		Dir:           b.opts.TempDir,
		Filename:      fmt.Sprintf("%s.p2.t%d", b.opts.FilenamePrefix, table),
		RecordSize:    size,
		NumBuckets:    b.opts.NumBuckets,
		LogNumBuckets: b.opts.LogNumBuckets,
		KeyBitOffset:  counterBits,
		KeyBitWidth:   posBits + layout.OffsetBits,
		Strategy:      b.opts.Strategy,
		Concurrency:   b.opts.SortConcurrency,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, sorter.Close())
	}()

	rec := make([]byte, size)
	var counter uint64
	err = b.forEachChunk(table, func(chunk []byte, first uint64, _ int64) error {
		for i := 0; i*size < len(chunk); i++ {
			if !b.current.Get(first + uint64(i)) {
				continue
			}
			in := chunk[i*size : (i+1)*size]
			pos := bitpack.Uint(in, 0, posBits)
			offset := bitpack.Uint(in, posBits, layout.OffsetBits)
			newPos, newOffset := idx.Lookup(pos, offset)
			err := bitpack.Encode(rec,
				bitpack.Field{Value: counter, Width: counterBits},
				bitpack.Field{Value: newPos, Width: posBits},
				bitpack.Field{Value: newOffset, Width: layout.OffsetBits})
			if err != nil {
				return errors.Wrapf(err, "prune: encoding record %d of table %d", first+uint64(i), table)
			}
			if err := sorter.Add(rec); err != nil {
				return err
			}
			counter++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := sorter.Flush(); err != nil {
		return err
	}
	stats := sorter.Stats()
	b.listener.TableSorted(TableSortInfo{
		Table:        table,
		Records:      counter,
		Spills:       stats.Spills,
		SpilledBytes: uint64(stats.SpilledBytes),
		BucketLoads:  stats.BucketLoads,
		Duration:     start.Elapsed(),
	})

	// The table has been read in full, so the read cache batches the sorted
	// records on their way back into the file.
	t := b.tables[table]
	buf := b.readCache[:len(b.readCache)/size*size]
	var n int
	var writeOff int64
	var prevPos uint64
	for i := uint64(0); i < counter; i++ {
		r, err := sorter.ReadAt(int64(i) * int64(size))
		if err != nil {
			return err
		}
		if invariants.Enabled {
			p := bitpack.Uint(r, counterBits, posBits)
			if i > 0 && p < prevPos {
				panic(errors.AssertionFailedf("table %d: sorted record %d has position %d after %d", table, i, p, prevPos))
			}
			prevPos = p
		}
		n += copy(buf[n:], r)
		if n == len(buf) {
			if err := t.write(buf, writeOff); err != nil {
				return err
			}
			writeOff += int64(n)
			n = 0
		}
	}
	if n > 0 {
		if err := t.write(buf[:n], writeOff); err != nil {
			return err
		}
	}
	if err := t.truncate(int64(counter) * int64(size)); err != nil {
		return err
	}
	b.newSizes[table] = counter
	return nil
}

func (b *backprop) tableRewritten(table int, moved uint64, start crtime.Mono) {
	size := layout.RecordSize(b.opts.K, table)
	t := b.tables[table]
	b.listener.TableRewritten(TableInfo{
		Table:        table,
		RecordSize:   size,
		Before:       metrics.Records(b.sizes[table], size),
		After:        metrics.Records(b.newSizes[table], size),
		Moved:        moved,
		BytesRead:    t.bytesRead,
		BytesWritten: t.bytesWritten,
		Duration:     start.Elapsed(),
	})
}
