// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"io"
	"maps"
	"slices"
	"sync"
)

// Transport names accepted by WithTransport and WithServerTransport.
const (
	TransportZAP  = "zap"  // length-prefixed frames over TCP
	TransportGRPC = "grpc" // only with -tags grpc
	TransportJSON = "json" // JSON-RPC 2.0 over HTTP
)

// DefaultTransport is used when no transport option is given.
const DefaultTransport = TransportZAP

// conn carries encoded request bodies to one server. Errors that leave the
// conn unusable wrap ErrTransport.
type conn interface {
	io.Closer
	roundTrip(ctx context.Context, procedure string, body []byte) ([]byte, error)
}

type (
	dialFunc   func(ctx context.Context, addr string, o *dialOptions) (conn, error)
	listenFunc func(addr string, o *serverOptions) (Server, error)
)

// transport is one client and server pair for a wire protocol.
type transport struct {
	dial   dialFunc
	listen listenFunc
}

var (
	transportsMu sync.RWMutex
	transports   = map[string]transport{
		TransportZAP: {dial: dialZAP, listen: listenZAP},
	}
)

// registerTransport adds a transport from an init function. Names are
// registered once; a second registration is a programming error.
func registerTransport(name string, dial dialFunc, listen listenFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	if _, dup := transports[name]; dup {
		panic("rpc: transport registered twice: " + name)
	}
	transports[name] = transport{dial: dial, listen: listen}
}

func lookupTransport(name string) (dialFunc, listenFunc, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	t, ok := transports[name]
	return t.dial, t.listen, ok
}

// AvailableTransports lists the transports compiled in, sorted.
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	return slices.Sorted(maps.Keys(transports))
}

// HasTransport reports whether name is compiled in.
func HasTransport(name string) bool {
	_, _, ok := lookupTransport(name)
	return ok
}
