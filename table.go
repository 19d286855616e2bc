// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package prune

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tokenbucket"
)

// TableFile is the backing store of one table. Offsets and lengths are in
// bytes. A vfs.File satisfies TableFile.
type TableFile interface {
	io.ReaderAt
	io.WriterAt
	// Truncate changes the size of the file. Data past size is discarded.
	Truncate(size int64) error
}

// tableIO performs byte-exact reads and writes against one table and keeps
// count of the bytes moved.
type tableIO struct {
	table int
	f     TableFile
	pacer *pacer

	bytesRead    uint64
	bytesWritten uint64
}

// readFull fills buf from off. A read that ends before the buffer is full,
// including one that runs past the end of the file, is an error.
func (t *tableIO) readFull(buf []byte, off int64) error {
	n, err := t.f.ReadAt(buf, off)
	t.bytesRead += uint64(n)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return errors.Wrapf(err, "prune: reading %d bytes of table %d at offset %d (read %d)",
		len(buf), t.table, off, n)
}

func (t *tableIO) write(buf []byte, off int64) error {
	if t.pacer != nil {
		t.pacer.wait(int64(len(buf)))
	}
	n, err := t.f.WriteAt(buf, off)
	t.bytesWritten += uint64(n)
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return errors.Wrapf(err, "prune: writing %d bytes of table %d at offset %d", len(buf), t.table, off)
	}
	return nil
}

func (t *tableIO) truncate(size int64) error {
	if err := t.f.Truncate(size); err != nil {
		return errors.Wrapf(err, "prune: truncating table %d to %d bytes", t.table, size)
	}
	return nil
}

// pacer limits the rate of table writes.
type pacer struct {
	limiter tokenbucket.TokenBucket
	burst   int64
}

// newPacer returns a pacer refilled at bytesPerSec, or nil if writes are not
// paced.
func newPacer(bytesPerSec int64) *pacer {
	if bytesPerSec <= 0 {
		return nil
	}
	p := &pacer{burst: bytesPerSec}
	p.limiter.Init(tokenbucket.TokensPerSecond(bytesPerSec), tokenbucket.Tokens(bytesPerSec))
	return p
}

// wait blocks until n bytes worth of tokens have been taken. Requests larger
// than the burst are taken one burst at a time.
func (p *pacer) wait(n int64) {
	for n > 0 {
		step := min(n, p.burst)
		for {
			ok, d := p.limiter.TryToFulfill(tokenbucket.Tokens(step))
			if ok {
				break
			}
			time.Sleep(d)
		}
		n -= step
	}
}
