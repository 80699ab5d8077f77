// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package flatten converts native Go values into a flat, self-describing form
// made of scalars, lists and tagged envelopes, and back.
//
// A Registry holds an ordered list of handlers. Encode and Decode walk the
// list and hand the value to the first handler that accepts it, so order is
// part of the contract: type-specific handlers come first and the generic
// scalar and sequence handlers come last as fallbacks. Add puts a handler at
// the front, ahead of every built-in, which lets callers override built-in
// handling of overlapping types.
//
// Composite handlers recurse through the root Flattener for their fields.
// Nesting depth is bounded only by the goroutine stack.
package flatten

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luxfi/flatrpc/oob"
)

// Flattener encodes and decodes whole value trees. Handlers receive the root
// Flattener so nested values go through the full handler list.
type Flattener interface {
	Encode(v any) (any, error)
	Decode(v any) (any, error)
}

// Handler encodes one family of native values and decodes their flat form.
// Tag is the envelope type tag, or "" for handlers whose flat form is not an
// envelope.
type Handler interface {
	Tag() string
	CanEncode(v any) bool
	CanDecode(v any) bool
	Encode(v any, root Flattener) (any, error)
	Decode(v any, root Flattener) (any, error)
}

// Registry dispatches to handlers in order. Reads never lock; Add swaps in a
// new list.
type Registry struct {
	mu       sync.Mutex
	handlers atomic.Pointer[[]Handler]
}

var _ Flattener = (*Registry)(nil)

// NewRegistry returns a registry that tries handlers in the order given.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{}
	hs := append([]Handler(nil), handlers...)
	r.handlers.Store(&hs)
	return r
}

// New returns a registry holding the built-in handlers, with bulk arrays
// written through store.
func New(store *oob.Store) *Registry {
	return NewRegistry(Builtins(store)...)
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return New(oob.New())
})

// Default is the process-wide registry. Its out-of-band store follows
// oob.SetTempLocation.
func Default() *Registry {
	return defaultRegistry()
}

// Builtins lists the built-in handlers in precedence order.
func Builtins(store *oob.Store) []Handler {
	return []Handler{
		None{},
		NewDataset(store),
		UUID{},
		Binary{},
		IntArray{},
		FloatArray{},
		BoolArray{},
		Map{},
		Exception{},
		PassThrough{},
		Sequence{},
	}
}

// Add gives h precedence over every handler already registered.
func (r *Registry) Add(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.handlers.Load()
	hs := make([]Handler, 0, len(old)+1)
	hs = append(hs, h)
	hs = append(hs, old...)
	r.handlers.Store(&hs)
}

// Handlers returns a copy of the handler list in precedence order.
func (r *Registry) Handlers() []Handler {
	return append([]Handler(nil), *r.handlers.Load()...)
}

func (r *Registry) Encode(v any) (any, error) {
	for _, h := range *r.handlers.Load() {
		if h.CanEncode(v) {
			return h.Encode(v, r)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnencodable, describe(v))
}

func (r *Registry) Decode(v any) (any, error) {
	for _, h := range *r.handlers.Load() {
		if h.CanDecode(v) {
			return h.Decode(v, r)
		}
	}
	if tag := TagOf(v); tag != "" {
		return nil, fmt.Errorf("%w: tag %q", ErrUnrecognized, tag)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnrecognized, describe(v))
}

func (r *Registry) CanEncode(v any) bool {
	for _, h := range *r.handlers.Load() {
		if h.CanEncode(v) {
			return true
		}
	}
	return false
}

func (r *Registry) CanDecode(v any) bool {
	for _, h := range *r.handlers.Load() {
		if h.CanDecode(v) {
			return true
		}
	}
	return false
}

// EncodeAll encodes each value of vs, failing on the first error.
func (r *Registry) EncodeAll(vs []any) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		enc, err := r.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

// DecodeAll decodes each value of vs, failing on the first error.
func (r *Registry) DecodeAll(vs []any) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		dec, err := r.Decode(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = dec
	}
	return out, nil
}
