// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oob moves bulk arrays out of the message body. Put writes an array
// to a fresh temporary file and hands back a Ref naming it; Get loads the
// array a Ref names and, when the Ref asks for it, deletes the file.
//
// A temporary file belongs to the Put caller until its Ref is handed off, and
// to whoever calls Get afterwards. Concurrent Gets of the same deleting Ref
// are not safe.
//
// A Ref that arrives from a peer is trusted as is: by default Get deletes any
// path whose Ref sets DeleteAfterLoad. Stores that decode Refs from peers
// they do not control should be built WithConfinedDeletes.
package oob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/luxfi/flatrpc/ndarray"
)

var (
	ErrEncodeIO = errors.New("oob: writing out-of-band value failed")
	ErrDecodeIO = errors.New("oob: reading out-of-band value failed")
)

const (
	DefaultPrefix = "flattmp-"
	DefaultSuffix = ".npy"
)

var tempLocation atomic.Pointer[string]

// SetTempLocation sets the directory used by every Store built without
// WithDir. An empty dir restores the system temp directory. Stores read the
// location at each Put, so set it before concurrent encoding starts.
func SetTempLocation(dir string) {
	if dir == "" {
		tempLocation.Store(nil)
		return
	}
	tempLocation.Store(&dir)
}

// TempLocation reports the process-wide directory, "" meaning the system
// default.
func TempLocation() string {
	if p := tempLocation.Load(); p != nil {
		return *p
	}
	return ""
}

// Ref names an array held in a file. A Ref produced by Put owns its file and
// sets DeleteAfterLoad. A Ref built by hand may point at a file the caller
// keeps, optionally selecting one entry of a multi-array file by Index or
// Name; such files are never deleted unless DeleteAfterLoad is set.
type Ref struct {
	Filename        string
	DeleteAfterLoad bool
	Index           *int
	Name            string
}

// Store writes and reads out-of-band arrays.
type Store struct {
	dir     string
	prefix  string
	suffix  string
	storage ndarray.Storage
	confine bool
}

type Option func(*Store)

// WithDir pins the temp directory, ignoring SetTempLocation.
func WithDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

func WithSuffix(suffix string) Option {
	return func(s *Store) { s.suffix = suffix }
}

// WithStorage replaces the .npy file format.
func WithStorage(st ndarray.Storage) Option {
	return func(s *Store) { s.storage = st }
}

// WithConfinedDeletes honors DeleteAfterLoad only for files this store could
// have written: directly in Dir, named with its prefix and suffix. Other
// files are loaded and kept.
func WithConfinedDeletes() Option {
	return func(s *Store) { s.confine = true }
}

func New(opts ...Option) *Store {
	s := &Store{
		prefix:  DefaultPrefix,
		suffix:  DefaultSuffix,
		storage: ndarray.NPY{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir is the directory the next Put writes to.
func (s *Store) Dir() string {
	if s.dir != "" {
		return s.dir
	}
	if dir := TempLocation(); dir != "" {
		return dir
	}
	return os.TempDir()
}

// Put saves a into a new uniquely named file. The file is removed again if
// saving fails.
func (s *Store) Put(a *ndarray.Array) (Ref, error) {
	f, err := os.CreateTemp(s.Dir(), s.prefix+"*"+s.suffix)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrEncodeIO, err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrEncodeIO, multierr.Append(err, os.Remove(path)))
	}

	if err := s.storage.Save(a, path); err != nil {
		// CreateTemp made this file, nobody else can hold it
		return Ref{}, fmt.Errorf("%w: %s: %v", ErrEncodeIO, path, multierr.Append(err, os.Remove(path)))
	}
	log.Trace().Str("path", path).Stringer("array", a).Msg("oob: array written")
	return Ref{Filename: path, DeleteAfterLoad: true}, nil
}

// Get loads the array ref names. When ref.DeleteAfterLoad is set the file is
// removed whether or not loading succeeded.
func (s *Store) Get(ref Ref) (a *ndarray.Array, err error) {
	if ref.Filename == "" {
		return nil, fmt.Errorf("%w: empty filename", ErrDecodeIO)
	}
	if ref.DeleteAfterLoad && s.confine && !s.owns(ref.Filename) {
		log.Warn().Str("path", ref.Filename).Msg("oob: not deleting file outside the temp directory")
		ref.DeleteAfterLoad = false
	}
	if ref.DeleteAfterLoad {
		defer func() {
			if rmErr := os.Remove(ref.Filename); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Warn().Err(rmErr).Str("path", ref.Filename).Msg("oob: removing loaded file failed")
				if err != nil {
					err = multierr.Append(err, rmErr)
				}
			}
		}()
	}

	if ref.Index != nil || ref.Name != "" {
		index := -1
		if ref.Index != nil {
			index = *ref.Index
		}
		a, err = s.storage.LoadEntry(ref.Filename, ref.Name, index)
	} else {
		a, err = s.storage.Load(ref.Filename)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeIO, ref.Filename, err)
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s: no array loaded", ErrDecodeIO, ref.Filename)
	}
	return a, nil
}

func (s *Store) owns(path string) bool {
	dir, err := filepath.Abs(s.Dir())
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	base := filepath.Base(abs)
	return filepath.Dir(abs) == dir &&
		strings.HasPrefix(base, s.prefix) &&
		strings.HasSuffix(base, s.suffix) &&
		len(base) > len(s.prefix)+len(s.suffix)
}
