// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/flatrpc/flatten"
)

// typeNames reports the Go type each argument was bound to.
type typeNames struct{}

func typeName(v any) string { return fmt.Sprintf("%T", v) }

func (typeNames) Bool(v bool) string       { return typeName(v) }
func (typeNames) Uint8(v uint8) string     { return typeName(v) }
func (typeNames) Int16(v int16) string     { return typeName(v) }
func (typeNames) Int32(v int32) string     { return typeName(v) }
func (typeNames) Int64(v int64) string     { return typeName(v) }
func (typeNames) Float32(v float32) string { return typeName(v) }
func (typeNames) Float64(v float64) string { return typeName(v) }
func (typeNames) Text(v string) string     { return typeName(v) }
func (typeNames) Ptr(v *int) string        { return typeName(v) }

func (typeNames) Bools(v []bool) string       { return typeName(v) }
func (typeNames) Bytes(v []byte) string       { return typeName(v) }
func (typeNames) Int32s(v []int32) string     { return typeName(v) }
func (typeNames) Float32s(v []float32) string { return typeName(v) }
func (typeNames) Texts(v []string) string     { return typeName(v) }
func (typeNames) Table(v map[string]int) string {
	return typeName(v)
}

type shapes struct{}

func (shapes) Count(xs ...int) int { return len(xs) }

func (shapes) Label(prefix string, xs ...float64) string {
	return fmt.Sprint(prefix, len(xs))
}

func (shapes) Echo(ctx context.Context, s string) (string, error) {
	return s, ctx.Err()
}

func (shapes) Nothing(int) {}

func (shapes) Pair() (int, string) { return 1, "a" }

func (shapes) Fail() error { return errors.New("failed on purpose") }

type named interface {
	Name() string
}

type impl struct{}

func (impl) Name() string   { return "impl" }
func (impl) Secret() string { return "hidden" }

func callMethod(t *testing.T, p Procedure, args ...any) (any, error) {
	t.Helper()
	return p(context.Background(), args)
}

func TestInstancePrimitiveArguments(t *testing.T) {
	p, err := InstanceProcedure(typeNames{})
	require.NoError(t, err)

	tests := []struct {
		method string
		arg    any
		want   string
	}{
		{"bool", false, "bool"},
		{"uint8", 7, "uint8"},
		{"int16", -300, "int16"},
		{"int32", 5, "int32"},
		{"int64", 5, "int64"},
		{"float32", 0.5, "float32"},
		{"float64", 3, "float64"},
		{"text", "Hello", "string"},
		{"ptr", nil, "*int"},
		{"ptr", flatten.TypedNone{Type: "int"}, "*int"},
	}
	for _, tt := range tests {
		v, err := callMethod(t, p, tt.method, tt.arg)
		require.NoError(t, err, "%s(%v)", tt.method, tt.arg)
		assert.Equal(t, tt.want, v, "%s(%v)", tt.method, tt.arg)
	}
}

func TestInstanceArrayArguments(t *testing.T) {
	p, err := InstanceProcedure(typeNames{})
	require.NoError(t, err)

	tests := []struct {
		method string
		arg    any
		want   string
	}{
		{"bools", []bool{false}, "[]bool"},
		{"bytes", []byte{0}, "[]uint8"},
		{"int32s", []int{1, 2}, "[]int32"},
		{"float32s", []float64{0.5}, "[]float32"},
		{"float32s", []int{1}, "[]float32"},
		{"texts", []any{"Hello"}, "[]string"},
		{"texts", nil, "[]string"},
		{"table", map[string]any{"a": 1}, "map[string]int"},
	}
	for _, tt := range tests {
		v, err := callMethod(t, p, tt.method, tt.arg)
		require.NoError(t, err, "%s(%v)", tt.method, tt.arg)
		assert.Equal(t, tt.want, v, "%s(%v)", tt.method, tt.arg)
	}
}

func TestInstanceRejectsLossyArguments(t *testing.T) {
	p, err := InstanceProcedure(typeNames{})
	require.NoError(t, err)

	for _, args := range [][]any{
		{"uint8", 300},
		{"uint8", -1},
		{"int32", 2.5},
		{"int64", "5"},
		{"bool", nil},
		{"text", 1},
		{"int32s", []any{1, "x"}},
		{"texts", []any{"a", nil}},
		{"int32", 1, 2},
		{"int32"},
	} {
		_, err := callMethod(t, p, args...)
		assert.ErrorIs(t, err, ErrNoMethod, "%v", args)
	}
}

func TestInstanceMethodLookup(t *testing.T) {
	p, err := InstanceProcedure(typeNames{})
	require.NoError(t, err)

	for _, args := range [][]any{{"missing", 0}, {}, {42}, {""}} {
		_, err := callMethod(t, p, args...)
		assert.ErrorIs(t, err, ErrNoMethod, "%v", args)
	}

	// exact names work too
	v, err := callMethod(t, p, "Text", "x")
	require.NoError(t, err)
	assert.Equal(t, "string", v)

	_, err = InstanceProcedure(nil)
	assert.Error(t, err)
}

func TestInstanceSignatures(t *testing.T) {
	p, err := InstanceProcedure(&shapes{})
	require.NoError(t, err)

	for n := 0; n <= 8; n++ {
		args := []any{"count"}
		for i := 0; i < n; i++ {
			args = append(args, i+1)
		}
		v, err := callMethod(t, p, args...)
		require.NoError(t, err)
		assert.Equal(t, n, v)
	}

	v, err := callMethod(t, p, "label", "x", 1, 2.5)
	require.NoError(t, err)
	assert.Equal(t, "x2", v)

	v, err = callMethod(t, p, "echo", "ctx")
	require.NoError(t, err)
	assert.Equal(t, "ctx", v)

	v, err = callMethod(t, p, "nothing", 0)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = callMethod(t, p, "pair")
	require.NoError(t, err)
	assert.Equal(t, []any{1, "a"}, v)

	_, err = callMethod(t, p, "fail")
	assert.EqualError(t, err, "failed on purpose")
}

func TestInterfaceProcedureHidesOtherMethods(t *testing.T) {
	p, err := InterfaceProcedure[named](impl{})
	require.NoError(t, err)

	v, err := callMethod(t, p, "name")
	require.NoError(t, err)
	assert.Equal(t, "impl", v)

	_, err = callMethod(t, p, "secret")
	assert.ErrorIs(t, err, ErrNoMethod)

	p, err = InstanceProcedure(impl{})
	require.NoError(t, err)
	v, err = callMethod(t, p, "secret")
	require.NoError(t, err)
	assert.Equal(t, "hidden", v)

	_, err = InterfaceProcedure[impl](impl{})
	assert.Error(t, err)
}

func TestRegisterInstance(t *testing.T) {
	forEachTransport(t, func(t *testing.T, transport string) {
		env := newTestEnv(t, transport, nil)
		require.NoError(t, RegisterInstance(env.server, "types", typeNames{}))
		c := env.dial(t)
		ctx := context.Background()

		v, err := c.Call(ctx, "types", "int32s", []int{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, "[]int32", v)

		v, err = c.Call(ctx, "types", "float32", 0.25)
		require.NoError(t, err)
		assert.Equal(t, "float32", v)

		_, err = c.Call(ctx, "types", "missing")
		var rerr *RemoteError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, CodeProcedureFailed, rerr.Code)
		assert.Contains(t, rerr.Message, "no matching method")
	})
}
