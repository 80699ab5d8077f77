// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Dial connects to an RPC server using the default transport (ZAP).
// Use WithTransport to pick another one. The first connection is made
// before Dial returns so an unreachable server fails here, within the
// connect timeout.
func Dial(ctx context.Context, addr string, opts ...DialOption) (Client, error) {
	o := newDialOptions(opts)
	dial, _, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, o.transport)
	}

	c := &client{addr: addr, o: o, dial: dial}
	cn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	if o.connPerCall {
		_ = cn.Close()
	} else {
		c.cur = cn
	}
	return c, nil
}

// Listen creates an RPC server listener using the default transport (ZAP).
func Listen(addr string, opts ...ServerOption) (Server, error) {
	o := newServerOptions(opts)
	_, listen, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, o.transport)
	}
	return listen(addr, o)
}

// client implements Client on top of any transport conn. One conn is kept
// and reused until it breaks; the next call dials again. Failed calls are
// never retried.
type client struct {
	addr string
	o    *dialOptions
	dial dialFunc

	mu     sync.Mutex
	cur    conn
	closed bool
}

// connect dials once within the connect timeout.
func (c *client) connect(ctx context.Context) (conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.o.connectTimeout)
	defer cancel()

	cn, err := c.dial(dctx, c.addr, c.o)
	switch {
	case err == nil:
		return cn, nil
	case errors.Is(err, ErrConnectionTimeout), errors.Is(err, ErrTransport):
		return nil, err
	case ctx.Err() != nil:
		return nil, fmt.Errorf("rpc: dial %s: %w", c.addr, ctx.Err())
	case dctx.Err() != nil || isTimeout(err):
		return nil, fmt.Errorf("%w: %s after %v: %w", ErrConnectionTimeout, c.addr, c.o.connectTimeout, err)
	default:
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, c.addr, err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *client) acquire(ctx context.Context) (conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.o.connPerCall {
		return c.connect(ctx)
	}
	if b, ok := c.cur.(interface{ Broken() bool }); ok && b.Broken() {
		_ = c.cur.Close()
		c.cur = nil
	}
	if c.cur == nil {
		cn, err := c.connect(ctx)
		if err != nil {
			return nil, err
		}
		c.cur = cn
	}
	return c.cur, nil
}

// release closes per-call conns and drops a shared conn after a transport
// failure.
func (c *client) release(cn conn, err error) {
	if c.o.connPerCall {
		_ = cn.Close()
		return
	}
	if !errors.Is(err, ErrTransport) {
		return
	}
	c.mu.Lock()
	if c.cur == cn {
		c.cur = nil
	}
	c.mu.Unlock()
	_ = cn.Close()
}

func (c *client) Invoke(ctx context.Context, name string, args ...any) (Result, error) {
	flat, err := c.o.registry.EncodeAll(args)
	if err != nil {
		return Result{}, fmt.Errorf("rpc: %s: %w", name, err)
	}
	body, err := wire.Encode(request{Procedure: name, Args: flat})
	if err != nil {
		return Result{}, fmt.Errorf("rpc: %s: encode request: %w", name, err)
	}

	cn, err := c.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	out, err := cn.roundTrip(ctx, name, body)
	c.release(cn, err)
	if err != nil {
		return Result{}, fmt.Errorf("rpc: %s: %w", name, err)
	}

	var resp response
	if err := wire.Decode(out, &resp); err != nil {
		return Result{}, fmt.Errorf("%w: %s: malformed response: %w", ErrTransport, name, err)
	}
	if !resp.OK {
		return Result{Failure: &RemoteError{Procedure: name, Code: resp.Code, Message: resp.Error}}, nil
	}
	value, err := c.o.registry.Decode(resp.Result)
	if err != nil {
		return Result{}, fmt.Errorf("rpc: %s: decode result: %w", name, err)
	}
	return Result{Value: value}, nil
}

func (c *client) Call(ctx context.Context, name string, args ...any) (any, error) {
	r, err := c.Invoke(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if r.Failure != nil {
		return nil, r.Failure
	}
	return r.Value, nil
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}

// dialZAP opens one ZAP connection
func dialZAP(ctx context.Context, addr string, o *dialOptions) (conn, error) {
	zc, err := ZAPDial(ctx, addr, o.maxFrameSize)
	if err != nil {
		return nil, err
	}
	return &zapClient{conn: zc}, nil
}

// listenZAP creates a ZAP server
func listenZAP(addr string, o *serverOptions) (Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	d := newDispatcher(o.registry)
	return &zapServer{
		dispatcher: d,
		server:     NewZAPServer(listener, ZAPHandlerFunc(d.handle), o.maxFrameSize),
	}, nil
}

// zapClient adapts ZAPConn to conn
type zapClient struct {
	conn *ZAPConn
}

func (c *zapClient) roundTrip(ctx context.Context, _ string, body []byte) ([]byte, error) {
	return c.conn.Call(ctx, body)
}

func (c *zapClient) Broken() bool {
	return c.conn.Broken()
}

func (c *zapClient) Close() error {
	return c.conn.Close()
}

// zapServer implements Server using ZAP transport
type zapServer struct {
	*dispatcher
	server *ZAPServer
}

func (s *zapServer) Serve(ctx context.Context) error {
	return s.server.Serve(ctx)
}

func (s *zapServer) Close() error {
	return s.server.Close()
}

func (s *zapServer) Addr() string {
	return s.server.Addr().String()
}
