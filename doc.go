// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rpc calls named procedures on a remote server. Arguments and
// results travel in the flat form produced by package flatten, so any value
// a registry handler understands can cross the wire, including bulk arrays
// sent by reference to a temp file.
//
// # Transport Selection
//
// ZAP is the default transport: length-prefixed frames over TCP, one
// request and one response per call, paired by request id. Other
// transports carry the same request and response bodies:
//
//	go build              # ZAP and JSON-RPC over HTTP
//	go build -tags grpc   # also gRPC
//
// # Usage
//
// Server usage:
//
//	server, err := rpc.Listen(":9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	server.Register("cat", func(ctx context.Context, args []any) (any, error) {
//	    return fmt.Sprint(args...), nil
//	})
//	go server.Serve(ctx)
//
// Client usage:
//
//	client, err := rpc.Dial(ctx, "localhost:9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	v, err := client.Call(ctx, "cat", "Hello", ", ", "World!")
//
// Dial fails within the connect timeout (two seconds by default) when
// nothing is listening. A procedure that returns an error or panics yields
// a *RemoteError on the client; the connection stays usable. Nothing in
// this package retries.
//
// # Architecture
//
//   - client.go: Client and Server interfaces, options, call helpers
//   - codec.go: request and response bodies
//   - dispatch.go: procedure table and request handling
//   - instance.go: an object's methods served as one procedure
//   - transport.go: transport registry for build-tag extensibility
//   - dial.go: Dial, Listen and the shared client
//   - zap.go: ZAP framing, connection and server
//   - json.go: JSON-RPC 2.0 transport
//   - dial_grpc.go: gRPC transport (requires -tags grpc)
package rpc
