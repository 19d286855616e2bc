// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package prune

import (
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/pospace/prune/internal/invariants"
)

// compactTable1 drops the records of table 1 that b.current marks dead,
// keeping the survivors in their original order, and truncates the file.
//
// Survivors are moved only once their write offset falls behind their read
// offset; a leading run of survivors stays where it is. Within a chunk the
// moved survivors are packed at the front of the read cache and written with
// a single call. The write never passes the end of the chunk, so it never
// overwrites records that have not been read.
func (b *backprop) compactTable1() error {
	start := crtime.NowMono()
	t := b.tables[1]
	size := int64(b.recordSize(1))
	var writeOff int64
	var moved uint64
	err := b.forEachChunk(1, func(chunk []byte, first uint64, off int64) error {
		var packed int64
		pendingOff := int64(-1)
		for i := int64(0); i*size < int64(len(chunk)); i++ {
			if !b.current.Get(first + uint64(i)) {
				continue
			}
			readOff := off + i*size
			if readOff == writeOff {
				writeOff += size
				continue
			}
			if pendingOff < 0 {
				pendingOff = writeOff
			}
			copy(chunk[packed:packed+size], chunk[i*size:(i+1)*size])
			packed += size
			writeOff += size
			moved++
		}
		if packed == 0 {
			return nil
		}
		return t.write(chunk[:packed], pendingOff)
	})
	if err != nil {
		return err
	}
	if err := t.truncate(writeOff); err != nil {
		return err
	}
	b.newSizes[1] = uint64(writeOff / size)
	if invariants.Enabled && b.newSizes[1] != b.current.Count() {
		panic(errors.AssertionFailedf("table 1 compacted to %d records, %d live", b.newSizes[1], b.current.Count()))
	}
	b.tableRewritten(1, moved, start)
	return nil
}
