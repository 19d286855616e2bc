// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"math/rand/v2"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// ErrorFSMode is a bit field specifying the operation types for which error injection
// is enabled.
type ErrorFSMode int

// ErrInjected is the error returned by injected failures.
var ErrInjected = errors.New("injected error")

const (
	// ErrorFSRead enables errors for filesystem read operations.
	ErrorFSRead ErrorFSMode = 0x1
	// ErrorFSWrite enables errors for filesystem write operations, including
	// truncation.
	ErrorFSWrite ErrorFSMode = 0x2
)

// ErrorIndex counts down the operations subject to injection; the operation
// that decrements it to -1 fails.
type ErrorIndex struct {
	n atomic.Int32
}

// NewErrorIndex returns an ErrorIndex that fails the (i+1)th operation.
func NewErrorIndex(i int32) *ErrorIndex {
	e := &ErrorIndex{}
	e.n.Store(i)
	return e
}

// Remaining returns the number of operations left before the injected
// failure. It goes negative once the failure has been injected.
func (e *ErrorIndex) Remaining() int32 {
	return e.n.Load()
}

// NewErrorFS returns a new FS implementation that wraps another FS
// and injects an error for the operation at the specified index, or
// for operations with the specified probability.
func NewErrorFS(index *ErrorIndex, prob float64, mode ErrorFSMode, fs FS) FS {
	return &errorFS{
		FS:    fs,
		index: index,
		prob:  prob,
		mode:  mode,
	}
}

// WrapErrorFile wraps a single file with the same injection rules as
// NewErrorFS.
func WrapErrorFile(index *ErrorIndex, prob float64, mode ErrorFSMode, f File) File {
	return errorFile{f, &errorFS{index: index, prob: prob, mode: mode}}
}

type errorFS struct {
	FS
	index *ErrorIndex
	prob  float64
	mode  ErrorFSMode
}

func (fs *errorFS) maybeError(mode ErrorFSMode) error {
	if fs.mode&mode == 0 {
		return nil
	}
	if fs.index != nil && fs.index.n.Add(-1) == -1 {
		return ErrInjected
	}
	if fs.prob > 0.0 && rand.Float64() < fs.prob {
		return ErrInjected
	}
	return nil
}

func (fs *errorFS) Create(name string) (File, error) {
	if err := fs.maybeError(ErrorFSWrite); err != nil {
		return nil, err
	}
	f, err := fs.FS.Create(name)
	if err != nil {
		return nil, err
	}
	return errorFile{f, fs}, nil
}

func (fs *errorFS) Open(name string) (File, error) {
	if err := fs.maybeError(ErrorFSRead); err != nil {
		return nil, err
	}
	f, err := fs.FS.Open(name)
	if err != nil {
		return nil, err
	}
	return errorFile{f, fs}, nil
}

func (fs *errorFS) OpenReadWrite(name string) (File, error) {
	if err := fs.maybeError(ErrorFSRead); err != nil {
		return nil, err
	}
	f, err := fs.FS.OpenReadWrite(name)
	if err != nil {
		return nil, err
	}
	return errorFile{f, fs}, nil
}

func (fs *errorFS) Remove(name string) error {
	if _, err := fs.FS.Stat(name); oserror.IsNotExist(err) {
		return nil
	}
	if err := fs.maybeError(ErrorFSWrite); err != nil {
		return err
	}
	return fs.FS.Remove(name)
}

func (fs *errorFS) MkdirAll(dir string, perm os.FileMode) error {
	if err := fs.maybeError(ErrorFSWrite); err != nil {
		return err
	}
	return fs.FS.MkdirAll(dir, perm)
}

// errorFile implements File, injecting errors into the data path.
type errorFile struct {
	File
	fs *errorFS
}

func (f errorFile) Read(p []byte) (int, error) {
	if err := f.fs.maybeError(ErrorFSRead); err != nil {
		return 0, err
	}
	return f.File.Read(p)
}

func (f errorFile) ReadAt(p []byte, off int64) (int, error) {
	if err := f.fs.maybeError(ErrorFSRead); err != nil {
		return 0, err
	}
	return f.File.ReadAt(p, off)
}

func (f errorFile) Write(p []byte) (int, error) {
	if err := f.fs.maybeError(ErrorFSWrite); err != nil {
		return 0, err
	}
	return f.File.Write(p)
}

func (f errorFile) WriteAt(p []byte, off int64) (int, error) {
	if err := f.fs.maybeError(ErrorFSWrite); err != nil {
		return 0, err
	}
	return f.File.WriteAt(p, off)
}

func (f errorFile) Truncate(size int64) error {
	if err := f.fs.maybeError(ErrorFSWrite); err != nil {
		return err
	}
	return f.File.Truncate(size)
}

func (f errorFile) Sync() error {
	if err := f.fs.maybeError(ErrorFSWrite); err != nil {
		return err
	}
	return f.File.Sync()
}
