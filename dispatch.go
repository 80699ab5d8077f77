// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/luxfi/flatrpc/flatten"
)

// ProcIsAlive is registered on every server and returns true.
const ProcIsAlive = "is_alive"

// dispatcher owns the procedure table of a server and turns request bodies
// into response bodies. Every failure after the frame was read becomes a
// failed response.
type dispatcher struct {
	registry *flatten.Registry

	mu    sync.RWMutex
	procs map[string]Procedure
}

func newDispatcher(registry *flatten.Registry) *dispatcher {
	return &dispatcher{
		registry: registry,
		procs: map[string]Procedure{
			ProcIsAlive: func(context.Context, []any) (any, error) { return true, nil },
		},
	}
}

// Register adds a procedure. Names are unique per server.
func (d *dispatcher) Register(name string, p Procedure) error {
	if name == "" || p == nil {
		return fmt.Errorf("rpc: invalid procedure %q", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.procs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProcedure, name)
	}
	d.procs[name] = p
	return nil
}

func (d *dispatcher) lookup(name string) (Procedure, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.procs[name]
	return p, ok
}

// handle decodes one request body, runs it and returns the response body.
func (d *dispatcher) handle(ctx context.Context, body []byte) []byte {
	var req request
	resp := failure(CodeBadRequest, "")
	if err := wire.Decode(body, &req); err != nil {
		resp.Error = fmt.Sprintf("malformed request: %v", err)
	} else {
		resp = d.dispatch(ctx, req)
	}

	out, err := wire.Encode(resp)
	if err != nil {
		out, _ = wire.Encode(failure(CodeProcedureFailed, fmt.Sprintf("cannot encode response: %v", err)))
	}
	return out
}

func (d *dispatcher) dispatch(ctx context.Context, req request) response {
	p, ok := d.lookup(req.Procedure)
	if !ok {
		return failure(CodeUnknownProcedure, fmt.Sprintf("unknown procedure %q", req.Procedure))
	}

	decoded, err := guard(func() (any, error) { return d.registry.DecodeAll(req.Args) })
	if err != nil {
		log.Warn().Err(err).Str("procedure", req.Procedure).Msg("cannot decode arguments")
		return failure(CodeBadRequest, err.Error())
	}
	args, _ := decoded.([]any)

	value, err := guard(func() (any, error) { return p(ctx, args) })
	if err != nil {
		log.Warn().Err(err).Str("procedure", req.Procedure).Msg("procedure failed")
		return failure(CodeProcedureFailed, err.Error())
	}

	flat, err := guard(func() (any, error) { return d.registry.Encode(value) })
	if err != nil {
		log.Warn().Err(err).Str("procedure", req.Procedure).Msg("cannot encode result")
		return failure(CodeProcedureFailed, fmt.Sprintf("cannot encode result: %v", err))
	}
	return response{OK: true, Result: flat}
}

// guard runs f, turning a panic into an error. Procedures and registry
// handlers both run under it.
func guard(f func() (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Bytes("stack", debug.Stack()).Msg("recovered panic")
			value, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return f()
}
