// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package prune

import (
	"math/bits"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pospace/prune/internal/base"
	"github.com/pospace/prune/internal/extsort"
	"github.com/pospace/prune/internal/layout"
	"github.com/pospace/prune/vfs"
)

// NumTables is the number of tables in a plot. Tables are numbered from 1.
const NumTables = layout.NumTables

// Logger defines an interface for writing log messages.
type Logger = base.Logger

// DefaultLogger logs to the Go stdlib logs.
type DefaultLogger = base.DefaultLogger

// SortStrategy selects how the external sorter orders records in memory.
type SortStrategy = extsort.Strategy

// Sort strategies.
const (
	QuickSort  = extsort.QuickSort
	StableSort = extsort.StableSort
)

const (
	defaultLogNumBuckets   = 4
	defaultFilenamePrefix  = "plot"
	defaultSortConcurrency = 4
)

// Options holds the parameters of a Backpropagate run.
type Options struct {
	// K is the plot's width parameter. Positions are K+1 bits wide.
	K uint8

	// ID identifies the plot. It is only reported to the event listener.
	ID []byte

	// TempDir is the directory holding the external sorter's spill files.
	// It is created if it does not exist. The default is os.TempDir().
	TempDir string

	// FilenamePrefix prefixes the name of every spill file. The default is
	// "plot".
	FilenamePrefix string

	// NumBuckets is the number of external sort buckets and must equal
	// 1<<LogNumBuckets. If both are zero, 16 buckets are used; if only one
	// is set, the other is derived from it.
	NumBuckets    int
	LogNumBuckets int

	// FS holds the spill files. The default is vfs.Default.
	FS vfs.FS

	// Logger is used by the default event listener. The default is
	// base.DefaultLogger.
	Logger Logger

	// EventListener receives progress notifications. The default logs every
	// event to Logger.
	EventListener *EventListener

	// WriteBytesPerSec, if positive, paces writes to the table files.
	WriteBytesPerSec int64

	// Strategy is the external sorter's in-memory ordering. The default is
	// QuickSort.
	Strategy SortStrategy

	// SortConcurrency bounds the number of spill files written in parallel.
	// The default is 4.
	SortConcurrency int
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified. Returns the new options.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.FilenamePrefix == "" {
		o.FilenamePrefix = defaultFilenamePrefix
	}
	switch {
	case o.NumBuckets == 0 && o.LogNumBuckets == 0:
		o.LogNumBuckets = defaultLogNumBuckets
		o.NumBuckets = 1 << defaultLogNumBuckets
	case o.NumBuckets == 0:
		o.NumBuckets = 1 << o.LogNumBuckets
	case o.LogNumBuckets == 0 && o.NumBuckets > 1:
		o.LogNumBuckets = bits.TrailingZeros(uint(o.NumBuckets))
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger{}
	}
	if o.EventListener == nil {
		l := MakeLoggingEventListener(o.Logger)
		o.EventListener = &l
	}
	o.EventListener.EnsureDefaults()
	if o.SortConcurrency <= 0 {
		o.SortConcurrency = defaultSortConcurrency
	}
	return o
}

// Validate verifies that the options are mutually consistent. It is called
// by Backpropagate after EnsureDefaults.
func (o *Options) Validate() error {
	if err := layout.ValidateK(o.K); err != nil {
		return err
	}
	switch {
	case o.LogNumBuckets < 0 || o.LogNumBuckets > 16:
		return errors.Newf("prune: log bucket count %d outside [0, 16]", o.LogNumBuckets)
	case o.NumBuckets != 1<<o.LogNumBuckets:
		return errors.Newf("prune: bucket count %d is not 2^%d", o.NumBuckets, o.LogNumBuckets)
	case o.WriteBytesPerSec < 0:
		return errors.Newf("prune: negative write rate %d", o.WriteBytesPerSec)
	case o.Strategy != QuickSort && o.Strategy != StableSort:
		return errors.Newf("prune: unknown sort strategy %s", o.Strategy)
	}
	return nil
}
