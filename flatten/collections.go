// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package flatten

import (
	"fmt"
	"reflect"
	"sort"
)

const (
	TagMap        = "flatrpc.Map"
	TagIntArray   = "flatrpc.IntArray"
	TagFloatArray = "flatrpc.FloatArray"
	TagBoolArray  = "flatrpc.BoolArray"

	keysKey   = "keys"
	valuesKey = "values"
)

// Sequence flattens any slice or array element by element and decodes every
// list to []any. It sits last in the built-in order so typed handlers win.
type Sequence struct{}

func (Sequence) Tag() string { return "" }

func (Sequence) CanEncode(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func (Sequence) CanDecode(v any) bool {
	_, ok := v.([]any)
	return ok
}

func (Sequence) Encode(v any, root Flattener) (any, error) {
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		enc, err := root.Encode(rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

func (Sequence) Decode(v any, root Flattener) (any, error) {
	in := v.([]any)
	out := make([]any, len(in))
	for i, item := range in {
		dec, err := root.Decode(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = dec
	}
	return out, nil
}

// Map flattens any Go map into parallel key and value lists, so keys need
// not be strings. It decodes to map[string]any when every key decodes to a
// string and to map[any]any otherwise. Pairs are written in sorted key order.
type Map struct{}

func (Map) Tag() string { return TagMap }

func (Map) CanEncode(v any) bool {
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Map
}

func (Map) CanDecode(v any) bool { return IsEnvelope(v, TagMap) }

func (Map) Encode(v any, root Flattener) (any, error) {
	rv := reflect.ValueOf(v)
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})

	flatKeys := make([]any, len(keys))
	flatValues := make([]any, len(keys))
	for i, k := range keys {
		fk, err := root.Encode(k.Interface())
		if err != nil {
			return nil, fmt.Errorf("map key %v: %w", k, err)
		}
		fv, err := root.Encode(rv.MapIndex(k).Interface())
		if err != nil {
			return nil, fmt.Errorf("map value %v: %w", k, err)
		}
		flatKeys[i], flatValues[i] = fk, fv
	}

	e := NewEnvelope(TagMap)
	e[keysKey] = flatKeys
	e[valuesKey] = flatValues
	return e, nil
}

func (Map) Decode(v any, root Flattener) (any, error) {
	keys, err := ListField(v, keysKey)
	if err != nil {
		return nil, err
	}
	values, err := ListField(v, valuesKey)
	if err != nil {
		return nil, err
	}
	if len(keys) != len(values) {
		return nil, fmt.Errorf("%w: %s: %d keys, %d values", ErrMalformed, TagMap, len(keys), len(values))
	}

	decKeys := make([]any, len(keys))
	allStrings := true
	for i, k := range keys {
		dk, err := root.Decode(k)
		if err != nil {
			return nil, fmt.Errorf("map key %d: %w", i, err)
		}
		if dk != nil && !reflect.TypeOf(dk).Comparable() {
			return nil, fmt.Errorf("%w: %s: key %d of type %T is not comparable", ErrMalformed, TagMap, i, dk)
		}
		if _, ok := dk.(string); !ok {
			allStrings = false
		}
		decKeys[i] = dk
	}

	if allStrings {
		out := make(map[string]any, len(keys))
		for i, k := range decKeys {
			dv, err := root.Decode(values[i])
			if err != nil {
				return nil, fmt.Errorf("map value %q: %w", k, err)
			}
			out[k.(string)] = dv
		}
		return out, nil
	}

	out := make(map[any]any, len(keys))
	for i, k := range decKeys {
		dv, err := root.Decode(values[i])
		if err != nil {
			return nil, fmt.Errorf("map value %v: %w", k, err)
		}
		out[k] = dv
	}
	return out, nil
}

// IntArray carries signed integer slices. Elements decode to []int; a float
// element truncates toward zero.
type IntArray struct{}

func (IntArray) Tag() string { return TagIntArray }

func (IntArray) CanEncode(v any) bool {
	switch v.(type) {
	case []int, []int8, []int16, []int32, []int64:
		return true
	}
	return false
}

func (IntArray) CanDecode(v any) bool { return IsEnvelope(v, TagIntArray) }

func (IntArray) Encode(v any, _ Flattener) (any, error) {
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = int(rv.Index(i).Int())
	}
	return Wrap(TagIntArray, out), nil
}

func (IntArray) Decode(v any, _ Flattener) (any, error) {
	in, err := ListField(v, ContentKey)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(in))
	for i, item := range in {
		if out[i], err = ToInt(item); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return out, nil
}

// FloatArray carries []float64 and []float32, decoding to []float64.
type FloatArray struct{}

func (FloatArray) Tag() string { return TagFloatArray }

func (FloatArray) CanEncode(v any) bool {
	switch v.(type) {
	case []float64, []float32:
		return true
	}
	return false
}

func (FloatArray) CanDecode(v any) bool { return IsEnvelope(v, TagFloatArray) }

func (FloatArray) Encode(v any, _ Flattener) (any, error) {
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		f, err := formatFloat(rv.Index(i).Float())
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = f
	}
	return Wrap(TagFloatArray, out), nil
}

func (FloatArray) Decode(v any, _ Flattener) (any, error) {
	in, err := ListField(v, ContentKey)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(in))
	for i, item := range in {
		if out[i], err = ToFloat(item); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return out, nil
}

// BoolArray carries []bool.
type BoolArray struct{}

func (BoolArray) Tag() string { return TagBoolArray }

func (BoolArray) CanEncode(v any) bool {
	_, ok := v.([]bool)
	return ok
}

func (BoolArray) CanDecode(v any) bool { return IsEnvelope(v, TagBoolArray) }

func (BoolArray) Encode(v any, _ Flattener) (any, error) {
	in := v.([]bool)
	out := make([]any, len(in))
	for i, b := range in {
		out[i] = b
	}
	return Wrap(TagBoolArray, out), nil
}

func (BoolArray) Decode(v any, _ Flattener) (any, error) {
	in, err := ListField(v, ContentKey)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(in))
	for i, item := range in {
		if out[i], err = ToBool(item); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return out, nil
}
