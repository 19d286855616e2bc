// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package prune

import (
	"encoding/hex"
	"time"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/redact"
	"github.com/pospace/prune/metrics"
)

// BackpropInfo contains the info for a Backpropagate run.
type BackpropInfo struct {
	// K is the plot's width parameter.
	K uint8
	// ID is the plot ID.
	ID []byte
	// MemoryBytes is the size of the working memory buffer.
	MemoryBytes uint64
	// Sizes holds the input record count of each table. Index 0 is unused.
	Sizes [NumTables + 1]uint64
	// NewSizes holds the output record count of each table. It is only set
	// once the run is done.
	NewSizes [NumTables + 1]uint64
	// Duration is the run's duration. Only set once the run is done.
	Duration time.Duration
	// Done is true when the run is complete.
	Done bool
	// Err is the error that aborted the run, if any.
	Err error
}

func (i BackpropInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i BackpropInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[plot %s] ", redact.SafeString(shortID(i.ID)))
	if i.Err != nil {
		w.Printf("backpropagation failed after %s: %s", redact.Safe(i.Duration), i.Err)
		return
	}
	if !i.Done {
		w.Printf("backpropagation k=%d memory=%s tables:",
			redact.SafeUint(i.K), crhumanize.Bytes(i.MemoryBytes, crhumanize.Compact, crhumanize.OmitI))
		for t := 1; t <= NumTables; t++ {
			w.Printf(" %d", redact.SafeUint(i.Sizes[t]))
		}
		return
	}
	w.Printf("backpropagated in %s, tables:", redact.Safe(i.Duration.Round(time.Millisecond)))
	for t := 1; t <= NumTables; t++ {
		w.Printf(" %d->%d", redact.SafeUint(i.Sizes[t]), redact.SafeUint(i.NewSizes[t]))
	}
}

func shortID(id []byte) string {
	if len(id) > 8 {
		id = id[:8]
	}
	if len(id) == 0 {
		return "-"
	}
	return hex.EncodeToString(id)
}

// TableScanInfo contains the info for the liveness scan of a table.
type TableScanInfo struct {
	// Table is the table scanned.
	Table int
	// Records is the number of records scanned.
	Records uint64
	// Live is the number of scanned records that are reachable from table 7.
	Live uint64
	// Referenced is the number of records of table Table-1 referenced by the
	// live records, i.e. the survivors of table Table-1.
	Referenced uint64
	Duration   time.Duration
}

func (i TableScanInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i TableScanInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("table %d: scanned %s records, %s live, %s referenced in table %d; %s",
		redact.SafeInt(i.Table),
		crhumanize.Count(i.Records, crhumanize.Compact),
		crhumanize.Count(i.Live, crhumanize.Compact),
		crhumanize.Count(i.Referenced, crhumanize.Compact),
		redact.SafeInt(i.Table-1),
		redact.Safe(i.Duration.Round(time.Millisecond)))
}

// TableSortInfo contains the info for the external sort of a table's
// remapped records.
type TableSortInfo struct {
	// Table is the table sorted.
	Table int
	// Records is the number of records sorted.
	Records uint64
	// Spills is the number of times the sort cache was written out.
	Spills int
	// SpilledBytes is the number of bytes written to spill files.
	SpilledBytes uint64
	// BucketLoads is the number of times a spill bucket was read back.
	BucketLoads int
	Duration    time.Duration
}

func (i TableSortInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i TableSortInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("table %d: sorted %s records", redact.SafeInt(i.Table), crhumanize.Count(i.Records, crhumanize.Compact))
	if i.Spills == 0 {
		w.Printf(" in memory")
	} else {
		w.Printf(", %d spills (%s), %d bucket loads", redact.SafeInt(i.Spills),
			crhumanize.Bytes(i.SpilledBytes, crhumanize.Compact, crhumanize.OmitI), redact.SafeInt(i.BucketLoads))
	}
	w.Printf("; %s", redact.Safe(i.Duration.Round(time.Millisecond)))
}

// TableInfo contains the info for the rewrite of a table.
type TableInfo struct {
	// Table is the table rewritten.
	Table int
	// RecordSize is the table's record size in bytes.
	RecordSize uint32
	// Before and After describe the table before and after the rewrite.
	Before, After metrics.CountAndSize
	// Moved is the number of records physically moved by table 1's
	// compaction. It is zero for the other tables.
	Moved uint64
	// BytesRead and BytesWritten count the table file I/O of both passes.
	BytesRead    uint64
	BytesWritten uint64
	Duration     time.Duration
}

// Reclaimed returns the records and bytes removed from the table.
func (i TableInfo) Reclaimed() metrics.CountAndSize {
	return i.Before.Sub(i.After)
}

func (i TableInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i TableInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("table %d: %s -> %s", redact.SafeInt(i.Table), i.Before, i.After)
	if i.Table == 1 {
		w.Printf(", %d moved", redact.SafeUint(i.Moved))
	}
	w.Printf("; %s", redact.Safe(i.Duration.Round(time.Millisecond)))
}

// EventListener contains a set of functions that will be invoked when
// various significant events occur during backpropagation. The functions are
// called synchronously from the goroutine running Backpropagate and never
// affect its outcome.
type EventListener struct {
	// BackpropBegin is invoked before any table is read.
	BackpropBegin func(BackpropInfo)

	// BackpropEnd is invoked after the run completes or fails.
	BackpropEnd func(BackpropInfo)

	// TableScanned is invoked after the liveness scan of tables 7 through 2.
	TableScanned func(TableScanInfo)

	// TableSorted is invoked after the remapped records of tables 6 through 2
	// have been sorted, before they are written back.
	TableSorted func(TableSortInfo)

	// TableRewritten is invoked after a table's final contents have been
	// written, for every table from 7 down to 1.
	TableRewritten func(TableInfo)
}

// EnsureDefaults ensures that every function of the listener is set.
func (l *EventListener) EnsureDefaults() {
	if l.BackpropBegin == nil {
		l.BackpropBegin = func(info BackpropInfo) {}
	}
	if l.BackpropEnd == nil {
		l.BackpropEnd = func(info BackpropInfo) {}
	}
	if l.TableScanned == nil {
		l.TableScanned = func(info TableScanInfo) {}
	}
	if l.TableSorted == nil {
		l.TableSorted = func(info TableSortInfo) {}
	}
	if l.TableRewritten == nil {
		l.TableRewritten = func(info TableInfo) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to
// the specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = DefaultLogger{}
	}
	return EventListener{
		BackpropBegin: func(info BackpropInfo) {
			logger.Infof("%s", info)
		},
		BackpropEnd: func(info BackpropInfo) {
			if info.Err != nil {
				logger.Errorf("%s", info)
				return
			}
			logger.Infof("%s", info)
		},
		TableScanned: func(info TableScanInfo) {
			logger.Infof("%s", info)
		},
		TableSorted: func(info TableSortInfo) {
			logger.Infof("%s", info)
		},
		TableRewritten: func(info TableInfo) {
			logger.Infof("%s", info)
		},
	}
}

// TeeEventListener wraps two EventListeners, forwarding all events to both.
func TeeEventListener(a, b EventListener) EventListener {
	a.EnsureDefaults()
	b.EnsureDefaults()
	return EventListener{
		BackpropBegin: func(info BackpropInfo) {
			a.BackpropBegin(info)
			b.BackpropBegin(info)
		},
		BackpropEnd: func(info BackpropInfo) {
			a.BackpropEnd(info)
			b.BackpropEnd(info)
		},
		TableScanned: func(info TableScanInfo) {
			a.TableScanned(info)
			b.TableScanned(info)
		},
		TableSorted: func(info TableSortInfo) {
			a.TableSorted(info)
			b.TableSorted(info)
		},
		TableRewritten: func(info TableInfo) {
			a.TableRewritten(info)
			b.TableRewritten(info)
		},
	}
}
