// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"time"

	"github.com/luxfi/flatrpc/flatten"
)

// Procedure is a server-side callable. Args arrive decoded; the return
// value is flattened for the reply.
type Procedure func(ctx context.Context, args []any) (any, error)

// Result is the outcome of one remote call. Failure is nil on success.
type Result struct {
	Value   any
	Failure *RemoteError
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Failure == nil }

// Client invokes named procedures on one server.
type Client interface {
	// Invoke calls a procedure. A failure reported by the server comes back
	// in the Result; the error covers local encoding and transport problems.
	Invoke(ctx context.Context, name string, args ...any) (Result, error)

	// Call is Invoke with a remote failure returned as *RemoteError.
	Call(ctx context.Context, name string, args ...any) (any, error)

	// Close closes the connection
	Close() error
}

// Server is the protocol-agnostic RPC server interface.
type Server interface {
	// Register adds a procedure under name. Names are unique.
	Register(name string, p Procedure) error

	// Serve starts serving requests (blocks until closed or ctx cancelled)
	Serve(ctx context.Context) error

	// Close stops the server and every open connection
	Close() error

	// Addr returns the server's listen address
	Addr() string
}

// DefaultConnectTimeout bounds connection setup.
const DefaultConnectTimeout = 2 * time.Second

// DialOption configures client connections
type DialOption func(*dialOptions)

type dialOptions struct {
	registry       *flatten.Registry
	transport      string
	connectTimeout time.Duration
	maxFrameSize   int
	connPerCall    bool
}

func newDialOptions(opts []DialOption) *dialOptions {
	o := &dialOptions{
		transport:      DefaultTransport,
		connectTimeout: DefaultConnectTimeout,
		maxFrameSize:   DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = flatten.Default()
	}
	return o
}

// WithRegistry sets the codec registry used for arguments and results
func WithRegistry(r *flatten.Registry) DialOption {
	return func(o *dialOptions) { o.registry = r }
}

// WithTransport explicitly sets the transport type
func WithTransport(t string) DialOption {
	return func(o *dialOptions) { o.transport = t }
}

// WithConnectTimeout bounds each connection attempt
func WithConnectTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.connectTimeout = d }
}

// WithMaxFrameSize bounds request and response bodies
func WithMaxFrameSize(n int) DialOption {
	return func(o *dialOptions) { o.maxFrameSize = n }
}

// WithConnPerCall opens a fresh connection for every call instead of
// reusing one.
func WithConnPerCall() DialOption {
	return func(o *dialOptions) { o.connPerCall = true }
}

// ServerOption configures servers
type ServerOption func(*serverOptions)

type serverOptions struct {
	registry     *flatten.Registry
	transport    string
	maxFrameSize int
}

func newServerOptions(opts []ServerOption) *serverOptions {
	o := &serverOptions{
		transport:    DefaultTransport,
		maxFrameSize: DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = flatten.Default()
	}
	return o
}

// WithServerRegistry sets the codec registry used by the server
func WithServerRegistry(r *flatten.Registry) ServerOption {
	return func(o *serverOptions) { o.registry = r }
}

// WithServerTransport explicitly sets the transport type for the server
func WithServerTransport(t string) ServerOption {
	return func(o *serverOptions) { o.transport = t }
}

// WithServerMaxFrameSize bounds request and response bodies
func WithServerMaxFrameSize(n int) ServerOption {
	return func(o *serverOptions) { o.maxFrameSize = n }
}

// Proc binds a procedure name to c.
func Proc(c Client, name string) func(ctx context.Context, args ...any) (any, error) {
	return func(ctx context.Context, args ...any) (any, error) {
		return c.Call(ctx, name, args...)
	}
}

// IsAlive calls the liveness procedure.
func IsAlive(ctx context.Context, c Client) bool {
	v, err := c.Call(ctx, ProcIsAlive)
	alive, _ := v.(bool)
	return err == nil && alive
}

// WaitAlive polls the liveness procedure every interval until it answers or
// ctx is done.
func WaitAlive(ctx context.Context, c Client, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if IsAlive(ctx, c) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
