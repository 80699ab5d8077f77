// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package catalog

import (
	"fmt"
	"slices"

	"github.com/luxfi/flatrpc/flatten"
)

// Field maps one struct field of T to an envelope key.
type Field[T any] struct {
	Key string
	Get func(*T) any
	Set func(*T, any) error
}

// Record inlines the fields of T next to the type tag. It encodes T and *T
// and decodes to *T. Every field must be present when decoding.
type Record[T any] struct {
	flatten.Tagged
	Fields []Field[T]
}

func NewRecord[T any](tag string, fields ...Field[T]) *Record[T] {
	return &Record[T]{Tagged: flatten.Tagged{Name: tag}, Fields: fields}
}

func (r *Record[T]) CanEncode(v any) bool {
	switch x := v.(type) {
	case T:
		return true
	case *T:
		return x != nil
	}
	return false
}

func (r *Record[T]) Encode(v any, root flatten.Flattener) (any, error) {
	var p *T
	switch x := v.(type) {
	case T:
		p = &x
	case *T:
		p = x
	}
	e := flatten.NewEnvelope(r.Name)
	for _, f := range r.Fields {
		enc, err := root.Encode(f.Get(p))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.Name, f.Key, err)
		}
		e[f.Key] = enc
	}
	return e, nil
}

func (r *Record[T]) Decode(v any, root flatten.Flattener) (any, error) {
	out := new(T)
	for _, f := range r.Fields {
		raw, err := flatten.Field(v, f.Key)
		if err != nil {
			return nil, err
		}
		dec, err := root.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.Name, f.Key, err)
		}
		if err := f.Set(out, dec); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.Name, f.Key, err)
		}
	}
	return out, nil
}

// List wraps a slice of records under the content key.
type List[L ~[]*E, E any] struct {
	flatten.Tagged
}

func NewList[L ~[]*E, E any](tag string) *List[L, E] {
	return &List[L, E]{Tagged: flatten.Tagged{Name: tag}}
}

func (l *List[L, E]) CanEncode(v any) bool {
	_, ok := v.(L)
	return ok
}

func (l *List[L, E]) Encode(v any, root flatten.Flattener) (any, error) {
	in := v.(L)
	out := make([]any, len(in))
	for i, item := range in {
		enc, err := root.Encode(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", l.Name, i, err)
		}
		out[i] = enc
	}
	return flatten.Wrap(l.Name, out), nil
}

func (l *List[L, E]) Decode(v any, root flatten.Flattener) (any, error) {
	in, err := flatten.ListField(v, flatten.ContentKey)
	if err != nil {
		return nil, err
	}
	out := make(L, len(in))
	for i, item := range in {
		dec, err := root.Decode(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", l.Name, i, err)
		}
		e, ok := dec.(*E)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is %T", flatten.ErrMalformed, l.Name, i, dec)
		}
		out[i] = e
	}
	return out, nil
}

// Enum wraps a named string constant under the content key. Decoding rejects
// values outside Values.
type Enum[E ~string] struct {
	flatten.Tagged
	Values []E
}

func NewEnum[E ~string](tag string, values ...E) *Enum[E] {
	return &Enum[E]{Tagged: flatten.Tagged{Name: tag}, Values: values}
}

func (en *Enum[E]) CanEncode(v any) bool {
	_, ok := v.(E)
	return ok
}

func (en *Enum[E]) Encode(v any, _ flatten.Flattener) (any, error) {
	return flatten.Wrap(en.Name, string(v.(E))), nil
}

func (en *Enum[E]) Decode(v any, _ flatten.Flattener) (any, error) {
	s, err := flatten.StringField(v, flatten.ContentKey)
	if err != nil {
		return nil, err
	}
	return en.Parse(s)
}

// Parse converts s to a known enum value.
func (en *Enum[E]) Parse(s string) (E, error) {
	if !slices.Contains(en.Values, E(s)) {
		return "", fmt.Errorf("%w: %s: unknown value %q", flatten.ErrMalformed, en.Name, s)
	}
	return E(s), nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %T is not a string", flatten.ErrMalformed, v)
	}
	return s, nil
}

// orNil keeps a nil slice nil on the wire, so it decodes as nil rather than
// as an empty slice.
func orNil[S ~[]E, E any](s S) any {
	if s == nil {
		return nil
	}
	return s
}

// asFloats accepts a decoded float array or a plain list of numbers, which
// is what peers that do not tag arrays send.
func asFloats(v any) ([]float64, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []float64:
		return x, nil
	case []int:
		out := make([]float64, len(x))
		for i, n := range x {
			out[i] = float64(n)
		}
		return out, nil
	case []any:
		out := make([]float64, len(x))
		for i, item := range x {
			f, err := flatten.ToFloat(item)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not a number list", flatten.ErrMalformed, v)
}

func asStrings(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, len(x))
		for i, item := range x {
			s, err := asString(item)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not a string list", flatten.ErrMalformed, v)
}
