// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/luxfi/flatrpc/flatten"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// InstanceProcedure exposes the exported methods of obj as one procedure.
// The first argument names the method, the rest are its arguments:
//
//	p, _ := rpc.InstanceProcedure(&plotter{})
//	server.Register("plot", p)
//	client.Call(ctx, "plot", "setTitle", "Scan 42")
//
// A lower-case first letter in the name is matched as upper case. Decoded
// arguments are converted to the parameter types where that loses nothing:
// an int fits an int16 parameter only when it is in range, a []int becomes
// a []float64, nil fits pointers, interfaces, slices and maps but no scalar.
// A method whose first parameter is a context.Context gets the call's
// context. Results follow the usual shapes: nothing, a value, an error, or
// a value and an error.
func InstanceProcedure(obj any) (Procedure, error) {
	return newInstance(obj, nil)
}

// InterfaceProcedure is InstanceProcedure limited to the methods of the
// interface I, even when obj has more.
func InterfaceProcedure[I any](obj I) (Procedure, error) {
	it := reflect.TypeFor[I]()
	if it.Kind() != reflect.Interface {
		return nil, fmt.Errorf("rpc: %s is not an interface", it)
	}
	return newInstance(obj, it)
}

// RegisterInstance registers InstanceProcedure(obj) under name.
func RegisterInstance(s Server, name string, obj any) error {
	p, err := InstanceProcedure(obj)
	if err != nil {
		return err
	}
	return s.Register(name, p)
}

type instance struct {
	v     reflect.Value
	iface reflect.Type
}

func newInstance(obj any, iface reflect.Type) (Procedure, error) {
	if obj == nil {
		return nil, errors.New("rpc: nil instance")
	}
	v := reflect.ValueOf(obj)
	if iface != nil && !v.Type().Implements(iface) {
		return nil, fmt.Errorf("rpc: %T does not implement %s", obj, iface)
	}
	inst := &instance{v: v, iface: iface}
	return inst.call, nil
}

func (inst *instance) call(ctx context.Context, args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: missing method name", ErrNoMethod)
	}
	name, ok := args[0].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: method name is %T", ErrNoMethod, args[0])
	}
	m, err := inst.method(name)
	if err != nil {
		return nil, err
	}
	in, err := bind(ctx, m.Type(), args[1:])
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", inst.v.Type(), name, err)
	}
	return results(m.Call(in))
}

func (inst *instance) method(name string) (reflect.Value, error) {
	for _, n := range []string{name, exported(name)} {
		if inst.iface != nil {
			if _, ok := inst.iface.MethodByName(n); !ok {
				continue
			}
		}
		if m := inst.v.MethodByName(n); m.IsValid() {
			return m, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("%w: %s has no method %q", ErrNoMethod, inst.v.Type(), name)
}

func exported(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

// bind converts args to the parameters of a method of type mt.
func bind(ctx context.Context, mt reflect.Type, args []any) ([]reflect.Value, error) {
	var in []reflect.Value
	first := 0
	if mt.NumIn() > 0 && mt.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		first = 1
	}

	fixed := mt.NumIn() - first
	if mt.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("%w: want at least %d arguments, got %d", ErrNoMethod, fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("%w: want %d arguments, got %d", ErrNoMethod, fixed, len(args))
	}

	for i, a := range args {
		var t reflect.Type
		if i < fixed {
			t = mt.In(first + i)
		} else {
			t = mt.In(mt.NumIn() - 1).Elem()
		}
		v, ok := convert(a, t)
		if !ok {
			return nil, fmt.Errorf("%w: argument %d: cannot use %T as %s", ErrNoMethod, i, a, t)
		}
		in = append(in, v)
	}
	return in, nil
}

// convert fits a decoded value to t without losing information.
func convert(a any, t reflect.Type) (reflect.Value, bool) {
	if _, ok := a.(flatten.TypedNone); ok {
		a = nil
	}
	if a == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(t), true
		}
		return reflect.Value{}, false
	}

	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(t) {
		return v, true
	}
	switch {
	case isNumber(v.Kind()) && isNumber(t.Kind()):
		if isUnsigned(t.Kind()) && isNegative(v) {
			return reflect.Value{}, false
		}
		out := v.Convert(t)
		if out.Convert(v.Type()).Interface() != v.Interface() {
			return reflect.Value{}, false
		}
		return out, true
	case v.Kind() == reflect.String && t.Kind() == reflect.String,
		v.Kind() == reflect.Bool && t.Kind() == reflect.Bool:
		return v.Convert(t), true
	case (v.Kind() == reflect.Slice || v.Kind() == reflect.Array) && t.Kind() == reflect.Slice:
		out := reflect.MakeSlice(t, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			e, ok := convert(v.Index(i).Interface(), t.Elem())
			if !ok {
				return reflect.Value{}, false
			}
			out.Index(i).Set(e)
		}
		return out, true
	case v.Kind() == reflect.Map && t.Kind() == reflect.Map:
		out := reflect.MakeMapWithSize(t, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, ok := convert(iter.Key().Interface(), t.Key())
			if !ok {
				return reflect.Value{}, false
			}
			e, ok := convert(iter.Value().Interface(), t.Elem())
			if !ok {
				return reflect.Value{}, false
			}
			out.SetMapIndex(k, e)
		}
		return out, true
	}
	return reflect.Value{}, false
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isNegative(v reflect.Value) bool {
	switch {
	case v.CanInt():
		return v.Int() < 0
	case v.CanFloat():
		return v.Float() < 0
	}
	return false
}

// results maps method results to a procedure result.
func results(out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if err, _ := out[n-1].Interface().(error); err != nil {
			return nil, err
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	}
	values := make([]any, len(out))
	for i, v := range out {
		values[i] = v.Interface()
	}
	return values, nil
}
