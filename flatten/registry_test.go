// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package flatten

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/flatrpc/ndarray"
	"github.com/luxfi/flatrpc/oob"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	return New(oob.New(oob.WithDir(dir))), dir
}

// overWire pushes a flat value through JSON the way the transport does.
func overWire(t *testing.T, flat any) any {
	t.Helper()
	data, err := json.Marshal(flat)
	require.NoError(t, err)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	require.NoError(t, dec.Decode(&out))
	return out
}

func roundTrip(t *testing.T, r *Registry, v any) any {
	t.Helper()
	flat, err := r.Encode(v)
	require.NoError(t, err)
	out, err := r.Decode(overWire(t, flat))
	require.NoError(t, err)
	return out
}

func TestRoundTripScalars(t *testing.T) {
	r, _ := newTestRegistry(t)
	cases := []struct {
		name string
		in   any
		want any
	}{
		{"string", "Hello, World!", "Hello, World!"},
		{"empty string", "", ""},
		{"true", true, true},
		{"int", 13, 13},
		{"negative int", -7, -7},
		{"int64 narrows to int", int64(math.MaxInt64), math.MaxInt},
		{"int8", int8(-3), -3},
		{"uint32", uint32(9), 9},
		{"big uint64", uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{"whole float", 2.0, 2.0},
		{"float", 0.1, 0.1},
		{"tiny float", 5e-324, 5e-324},
		{"big float", 1e300, 1e300},
		{"float32 widens", float32(0.1), float64(float32(0.1))},
		{"nil", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTrip(t, r, tc.in)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNegativeZeroKeepsSign(t *testing.T) {
	r, _ := newTestRegistry(t)
	got := roundTrip(t, r, math.Copysign(0, -1))
	require.IsType(t, float64(0), got)
	assert.True(t, math.Signbit(got.(float64)))
}

func TestNonFiniteFloatIsUnencodable(t *testing.T) {
	r, _ := newTestRegistry(t)
	for _, v := range []any{math.NaN(), math.Inf(1), []float64{1, math.Inf(-1)}} {
		_, err := r.Encode(v)
		require.ErrorIs(t, err, ErrUnencodable)
	}
}

func TestRoundTripWrappers(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := uuid.New()

	assert.Equal(t, id, roundTrip(t, r, id))
	assert.Equal(t, []byte{0, 1, 2, 255}, roundTrip(t, r, []byte{0, 1, 2, 255}))
	assert.Equal(t, TypedNone{Type: "string"}, roundTrip(t, r, TypedNone{Type: "string"}))
	assert.Nil(t, roundTrip(t, r, (*ndarray.Array)(nil)))

	got := roundTrip(t, r, errors.New("boom"))
	var rex *RemoteException
	require.ErrorAs(t, got.(error), &rex)
	assert.Equal(t, "boom", rex.Message)
}

func TestRoundTripTypedArrays(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.Equal(t, []int{1, -2, 3}, roundTrip(t, r, []int{1, -2, 3}))
	assert.Equal(t, []int{1, 2}, roundTrip(t, r, []int32{1, 2}))
	assert.Equal(t, []float64{1, 2.5, -0.25}, roundTrip(t, r, []float64{1, 2.5, -0.25}))
	assert.Equal(t, []float64{1}, roundTrip(t, r, []float32{1}))
	assert.Equal(t, []bool{true, false}, roundTrip(t, r, []bool{true, false}))
	assert.Equal(t, []int{}, roundTrip(t, r, []int{}))
}

func TestIntArrayTruncatesFloats(t *testing.T) {
	r, _ := newTestRegistry(t)
	out, err := r.Decode(Wrap(TagIntArray, []any{json.Number("2.9"), json.Number("-2.9"), 4}))
	require.NoError(t, err)
	assert.Equal(t, []int{2, -2, 4}, out)
}

func TestRoundTripCollections(t *testing.T) {
	r, _ := newTestRegistry(t)

	list := []any{"a", 1, 2.5, []any{true, nil}, []string{"x", "y"}}
	assert.Equal(t, []any{"a", 1, 2.5, []any{true, nil}, []any{"x", "y"}}, roundTrip(t, r, list))

	m := map[string]any{"name": "roi", "size": 3, "nested": map[string]any{"k": []int{1}}}
	assert.Equal(t, m, roundTrip(t, r, m))

	mixed := map[any]any{1: "one", "two": 2.0}
	assert.Equal(t, mixed, roundTrip(t, r, mixed))

	intKeys := map[int]string{1: "a", 2: "b"}
	assert.Equal(t, map[any]any{1: "a", 2: "b"}, roundTrip(t, r, intKeys))
}

func TestMapEncodingIsDeterministic(t *testing.T) {
	r, _ := newTestRegistry(t)
	m := map[string]any{"c": 3, "a": 1, "b": 2}
	first, err := r.Encode(m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Encode(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []any{"a", "b", "c"}, first.(Envelope)[keysKey])
}

func TestMapMalformed(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Decode(Envelope{TypeKey: TagMap, keysKey: []any{"a"}, valuesKey: []any{}})
	require.ErrorIs(t, err, ErrMalformed)

	_, err = r.Decode(Envelope{TypeKey: TagMap, keysKey: []any{[]any{1}}, valuesKey: []any{1}})
	require.ErrorIs(t, err, ErrMalformed)

	_, err = r.Decode(Envelope{TypeKey: TagMap})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDatasetOutOfBand(t *testing.T) {
	r, dir := newTestRegistry(t)
	in := &ndarray.Array{Shape: []int{2, 3}, Data: []float64{1, 2, 3, 4, 5, math.NaN()}}

	flat, err := r.Encode(in)
	require.NoError(t, err)
	e := flat.(Envelope)
	assert.Equal(t, TagDataset, e[TypeKey])
	assert.Equal(t, true, e[DeleteFileKey])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), oob.DefaultPrefix))
	assert.True(t, strings.HasSuffix(entries[0].Name(), oob.DefaultSuffix))

	out, err := r.Decode(overWire(t, flat))
	require.NoError(t, err)
	assert.True(t, in.Equal(out.(*ndarray.Array)))

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDatasetReferenceIsKept(t *testing.T) {
	r, dir := newTestRegistry(t)
	path := filepath.Join(dir, "kept.npz")
	want := &ndarray.Array{Shape: []int{2}, Data: []int16{5, 6}}
	require.NoError(t, ndarray.WriteArchive(path, ndarray.Entry{Name: "a", Array: ndarray.FromFloat64(1)}, ndarray.Entry{Name: "b", Array: want}))

	one := 1
	flat, err := r.Encode(oob.Ref{Filename: path, Index: &one, Name: "b"})
	require.NoError(t, err)
	e := flat.(Envelope)
	_, hasDelete := e[DeleteFileKey]
	assert.False(t, hasDelete)

	out, err := r.Decode(overWire(t, flat))
	require.NoError(t, err)
	assert.True(t, want.Equal(out.(*ndarray.Array)))
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestDatasetMissingFile(t *testing.T) {
	r, dir := newTestRegistry(t)
	_, err := r.Decode(Envelope{TypeKey: TagDataset, FilenameKey: filepath.Join(dir, "nope.npy"), DeleteFileKey: true})
	require.ErrorIs(t, err, oob.ErrDecodeIO)
}

type opaque struct{ secret int }

func TestUnknownValueAndTag(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Encode(opaque{1})
	require.ErrorIs(t, err, ErrUnencodable)
	assert.Contains(t, err.Error(), "opaque")
	assert.False(t, r.CanEncode(opaque{1}))

	_, err = r.Encode([]any{1, opaque{2}})
	require.ErrorIs(t, err, ErrUnencodable)

	_, err = r.Decode(Envelope{TypeKey: "flatrpc.Nothing"})
	require.ErrorIs(t, err, ErrUnrecognized)
	assert.Contains(t, err.Error(), "flatrpc.Nothing")
	assert.False(t, r.CanDecode(Envelope{TypeKey: "flatrpc.Nothing"}))

	_, err = r.Decode(map[string]any{"plain": 1})
	require.ErrorIs(t, err, ErrUnrecognized)
}

// shout encodes strings upper-cased under its own tag.
type shout struct{ Tagged }

func (shout) CanEncode(v any) bool { _, ok := v.(string); return ok }

func (shout) Encode(v any, _ Flattener) (any, error) {
	return Wrap("test.Shout", strings.ToUpper(v.(string))), nil
}

func (shout) Decode(v any, _ Flattener) (any, error) {
	return StringField(v, ContentKey)
}

func TestAddTakesPrecedence(t *testing.T) {
	r, _ := newTestRegistry(t)
	before := len(r.Handlers())
	r.Add(shout{Tagged{Name: "test.Shout"}})
	require.Len(t, r.Handlers(), before+1)
	assert.Equal(t, "test.Shout", r.Handlers()[0].Tag())

	for i := 0; i < 3; i++ {
		flat, err := r.Encode("quiet")
		require.NoError(t, err)
		assert.Equal(t, Wrap("test.Shout", "QUIET"), flat)
	}

	// nested values go through the root registry too
	flat, err := r.Encode([]any{"a", 1})
	require.NoError(t, err)
	assert.Equal(t, []any{Wrap("test.Shout", "A"), 1}, flat)
}

func TestEarlierHandlerWins(t *testing.T) {
	r := NewRegistry(shout{Tagged{Name: "test.Shout"}}, PassThrough{})
	flat, err := r.Encode("x")
	require.NoError(t, err)
	assert.Equal(t, Wrap("test.Shout", "X"), flat)

	r = NewRegistry(PassThrough{}, shout{Tagged{Name: "test.Shout"}})
	flat, err = r.Encode("x")
	require.NoError(t, err)
	assert.Equal(t, "x", flat)
}

func TestEncodeAllReportsIndex(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.EncodeAll([]any{1, opaque{}})
	require.ErrorIs(t, err, ErrUnencodable)
	assert.Contains(t, err.Error(), "argument 1")

	out, err := r.DecodeAll([]any{"a", json.Number("3")})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", 3}, out)
}

func TestDefaultIsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
}
