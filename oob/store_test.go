// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oob

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/flatrpc/ndarray"
)

// brokenStorage writes a partial file on Save and fails every Load.
type brokenStorage struct {
	ndarray.NPY
	failSave bool
	failLoad bool
}

func (b brokenStorage) Save(a *ndarray.Array, path string) error {
	if b.failSave {
		_ = os.WriteFile(path, []byte("partial"), 0o600)
		return errors.New("disk full")
	}
	return b.NPY.Save(a, path)
}

func (b brokenStorage) Load(path string) (*ndarray.Array, error) {
	if b.failLoad {
		return nil, errors.New("bad sector")
	}
	return b.NPY.Load(path)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPutGetDeletes(t *testing.T) {
	dir := t.TempDir()
	s := New(WithDir(dir))
	in := &ndarray.Array{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}

	ref, err := s.Put(in)
	require.NoError(t, err)
	assert.True(t, ref.DeleteAfterLoad)

	files := listDir(t, dir)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], DefaultPrefix))
	assert.True(t, strings.HasSuffix(files[0], DefaultSuffix))
	assert.Equal(t, filepath.Join(dir, files[0]), ref.Filename)

	out, err := s.Get(ref)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
	assert.Empty(t, listDir(t, dir))
}

func TestGetKeepsFileWithoutDeleteFlag(t *testing.T) {
	dir := t.TempDir()
	s := New(WithDir(dir))
	ref, err := s.Put(ndarray.FromFloat64(5, 6))
	require.NoError(t, err)

	ref.DeleteAfterLoad = false
	_, err = s.Get(ref)
	require.NoError(t, err)
	_, err = os.Stat(ref.Filename)
	require.NoError(t, err)

	again, err := s.Get(ref)
	require.NoError(t, err)
	assert.True(t, ndarray.FromFloat64(5, 6).Equal(again))
}

func TestPutRemovesFileOnSaveFailure(t *testing.T) {
	dir := t.TempDir()
	s := New(WithDir(dir), WithStorage(brokenStorage{failSave: true}))

	_, err := s.Put(ndarray.FromFloat64(1))
	require.ErrorIs(t, err, ErrEncodeIO)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, listDir(t, dir))
}

func TestPutUnwritableDir(t *testing.T) {
	s := New(WithDir(filepath.Join(t.TempDir(), "missing")))
	_, err := s.Put(ndarray.FromFloat64(1))
	require.ErrorIs(t, err, ErrEncodeIO)
}

func TestGetFailureStillDeletes(t *testing.T) {
	dir := t.TempDir()
	s := New(WithDir(dir), WithStorage(brokenStorage{failLoad: true}))
	ref, err := s.Put(ndarray.FromFloat64(1, 2))
	require.NoError(t, err)

	a, err := s.Get(ref)
	require.ErrorIs(t, err, ErrDecodeIO)
	assert.Nil(t, a)
	assert.Empty(t, listDir(t, dir))
}

func TestGetMissingFile(t *testing.T) {
	s := New()
	_, err := s.Get(Ref{Filename: filepath.Join(t.TempDir(), "gone.npy"), DeleteAfterLoad: true})
	require.ErrorIs(t, err, ErrDecodeIO)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = s.Get(Ref{})
	require.ErrorIs(t, err, ErrDecodeIO)
}

func TestGetArchiveEntryIsNotOwned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "set.npz")
	second := &ndarray.Array{Shape: []int{2}, Data: []int32{3, 4}}
	require.NoError(t, ndarray.WriteArchive(path,
		ndarray.Entry{Name: "first", Array: ndarray.FromFloat64(1)},
		ndarray.Entry{Name: "second", Array: second},
	))

	s := New()
	one := 1
	byIndex, err := s.Get(Ref{Filename: path, Index: &one})
	require.NoError(t, err)
	assert.True(t, second.Equal(byIndex))

	byName, err := s.Get(Ref{Filename: path, Name: "first"})
	require.NoError(t, err)
	assert.True(t, ndarray.FromFloat64(1).Equal(byName))

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestSetTempLocation(t *testing.T) {
	dir := t.TempDir()
	SetTempLocation(dir)
	t.Cleanup(func() { SetTempLocation("") })

	s := New(WithPrefix("custom-"), WithSuffix(".bin"))
	assert.Equal(t, dir, s.Dir())
	ref, err := s.Put(ndarray.FromFloat64(9))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(ref.Filename))
	assert.True(t, strings.HasPrefix(filepath.Base(ref.Filename), "custom-"))
	assert.True(t, strings.HasSuffix(ref.Filename, ".bin"))

	pinned := t.TempDir()
	assert.Equal(t, pinned, New(WithDir(pinned)).Dir())

	SetTempLocation("")
	assert.Equal(t, os.TempDir(), New().Dir())
	assert.Empty(t, TempLocation())
}

func TestConfinedDeletes(t *testing.T) {
	dir := t.TempDir()
	s := New(WithDir(dir), WithConfinedDeletes())

	// a file this store wrote is still deleted
	ref, err := s.Put(ndarray.FromFloat64(1, 2))
	require.NoError(t, err)
	_, err = s.Get(ref)
	require.NoError(t, err)
	assert.NoFileExists(t, ref.Filename)

	// a file elsewhere is loaded but kept
	other := filepath.Join(t.TempDir(), DefaultPrefix+"keep"+DefaultSuffix)
	require.NoError(t, ndarray.NPY{}.Save(ndarray.FromFloat64(3), other))
	a, err := s.Get(Ref{Filename: other, DeleteAfterLoad: true})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, a.Data)
	assert.FileExists(t, other)

	// so is a file in the directory that does not carry the store's naming
	mine := filepath.Join(dir, "results.npy")
	require.NoError(t, ndarray.NPY{}.Save(ndarray.FromFloat64(4), mine))
	_, err = s.Get(Ref{Filename: mine, DeleteAfterLoad: true})
	require.NoError(t, err)
	assert.FileExists(t, mine)

	// without the option the peer's request is honored
	_, err = New(WithDir(dir)).Get(Ref{Filename: other, DeleteAfterLoad: true})
	require.NoError(t, err)
	assert.NoFileExists(t, other)
}
