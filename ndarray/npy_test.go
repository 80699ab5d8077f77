// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ndarray

import (
	"bytes"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNPYRoundTrip(t *testing.T) {
	cases := map[string]*Array{
		"float64": {Shape: []int{2, 3}, Data: []float64{1, 2.5, -3, math.Inf(1), math.NaN(), 0}},
		"float32": {Shape: []int{4}, Data: []float32{1, 2, 3, 4}},
		"int64":   {Shape: []int{1, 2}, Data: []int64{math.MaxInt64, math.MinInt64}},
		"int32":   {Shape: []int{3}, Data: []int32{-1, 0, 1}},
		"int16":   {Shape: []int{2}, Data: []int16{-7, 7}},
		"int8":    {Shape: []int{2}, Data: []int8{-128, 127}},
		"uint8":   {Shape: []int{2, 2}, Data: []uint8{0, 1, 254, 255}},
		"bool":    {Shape: []int{3}, Data: []bool{true, false, true}},
		"empty":   {Shape: []int{0}, Data: []float64{}},
		"scalar":  {Shape: []int{}, Data: []float64{42}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteNPY(&buf, in))
			assert.Zero(t, (buf.Len()-in.Size()*elemSize(t, in))%64, "header must be 64-byte aligned")

			out, err := ReadNPY(&buf)
			require.NoError(t, err)
			assert.True(t, in.Equal(out), "got %v want %v", out, in)
		})
	}
}

func elemSize(t *testing.T, a *Array) int {
	t.Helper()
	switch a.DType() {
	case Float64, Int64:
		return 8
	case Float32, Int32:
		return 4
	case Int16:
		return 2
	}
	return 1
}

func TestReadNPYBigEndian(t *testing.T) {
	header := formatHeader(">i4", []int{2})
	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0, byte(len(header)), 0})
	buf.WriteString(header)
	buf.Write([]byte{0, 0, 0, 1, 0xff, 0xff, 0xff, 0xfe})

	out, err := ReadNPY(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -2}, out.Data)
	assert.Equal(t, []int{2}, out.Shape)
}

func TestReadNPYCorrupt(t *testing.T) {
	_, err := ReadNPY(bytes.NewReader([]byte("not an array")))
	require.ErrorIs(t, err, ErrCorrupt)

	var buf bytes.Buffer
	require.NoError(t, WriteNPY(&buf, FromFloat64(1, 2, 3)))
	truncated := buf.Bytes()[:buf.Len()-4]
	_, err = ReadNPY(bytes.NewReader(truncated))
	require.ErrorIs(t, err, ErrCorrupt)

	for _, shape := range [][]int{
		{3037000500, 3037000500}, // element count overflows int
		{1 << 40},                // fits, but the bytes are not there
		{math.MaxInt / 4},        // element count fits, byte count does not
	} {
		_, err = ReadNPY(bytes.NewReader(npyWithHeader("<f8", shape, 16)))
		require.ErrorIs(t, err, ErrCorrupt, "shape %v", shape)
	}
}

// npyWithHeader builds a stream whose header claims shape but which carries
// only dataLen bytes of data.
func npyWithHeader(descr DType, shape []int, dataLen int) []byte {
	header := formatHeader(descr, shape)
	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0, byte(len(header)), byte(len(header) >> 8)})
	buf.WriteString(header)
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

func TestNewValidatesShape(t *testing.T) {
	_, err := New([]int{2, 2}, []float64{1, 2, 3})
	require.Error(t, err)

	_, err = New([]int{1}, []string{"x"})
	require.ErrorIs(t, err, ErrUnsupportedType)

	a, err := New([]int{2, 2}, []int32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, Int32, a.DType())
}

func TestStorageLoadSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.npy")
	in := &Array{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}

	require.NoError(t, NPY{}.Save(in, path))
	out, err := NPY{}.Load(path)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))

	_, err = NPY{}.Load(filepath.Join(dir, "missing.npy"))
	require.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.npy"), []byte("junk"), 0o600))
	_, err = NPY{}.Load(filepath.Join(dir, "bad.npy"))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestArchiveEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.npz")
	first := FromFloat64(1, 2)
	second := &Array{Shape: []int{3}, Data: []int64{7, 8, 9}}
	require.NoError(t, WriteArchive(path, Entry{Name: "first", Array: first}, Entry{Name: "second", Array: second}))

	byName, err := NPY{}.LoadEntry(path, "second", -1)
	require.NoError(t, err)
	assert.True(t, second.Equal(byName))

	byIndex, err := NPY{}.LoadEntry(path, "", 0)
	require.NoError(t, err)
	assert.True(t, first.Equal(byIndex))

	_, err = NPY{}.LoadEntry(path, "third", -1)
	require.ErrorIs(t, err, ErrEntryNotFound)

	_, err = NPY{}.LoadEntry(path, "", 5)
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestEqual(t *testing.T) {
	a := FromFloat64(math.NaN(), 1)
	assert.True(t, a.Equal(FromFloat64(math.NaN(), 1)))
	assert.False(t, a.Equal(FromFloat64(0, 1)))
	assert.False(t, a.Equal(&Array{Shape: []int{2}, Data: []float32{0, 1}}))
	assert.False(t, a.Equal(nil))
}
