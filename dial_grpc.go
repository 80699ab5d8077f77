//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

const grpcService = "flatrpc.Flat"

func init() {
	// Register gRPC transport when build tag is enabled
	registerTransport(TransportGRPC, dialGRPC, listenGRPC)
}

// rawCodec moves request and response bodies through gRPC untouched.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}
	return nil, fmt.Errorf("grpc raw codec: cannot marshal %T", v)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpc raw codec: cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "flatrpc-raw" }

func dialGRPC(ctx context.Context, addr string, o *dialOptions) (conn, error) {
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(rawCodec{}),
			grpc.MaxCallRecvMsgSize(o.maxFrameSize),
			grpc.MaxCallSendMsgSize(o.maxFrameSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}

	// wait for the first connection so an unreachable server fails here
	cc.Connect()
	for {
		state := cc.GetState()
		switch state {
		case connectivity.Ready:
			return &grpcClient{conn: cc}, nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			_ = cc.Close()
			return nil, fmt.Errorf("grpc dial %s: connection %s", addr, state)
		}
		if !cc.WaitForStateChange(ctx, state) {
			_ = cc.Close()
			return nil, fmt.Errorf("grpc dial %s: %w", addr, ctx.Err())
		}
	}
}

type grpcClient struct {
	conn *grpc.ClientConn
}

func (c *grpcClient) roundTrip(ctx context.Context, procedure string, body []byte) ([]byte, error) {
	var resp []byte
	if err := c.conn.Invoke(ctx, "/"+grpcService+"/"+procedure, body, &resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: grpc: %w", ErrTransport, err)
	}
	return resp, nil
}

func (c *grpcClient) Broken() bool {
	s := c.conn.GetState()
	return s == connectivity.TransientFailure || s == connectivity.Shutdown
}

func (c *grpcClient) Close() error {
	return c.conn.Close()
}

// grpcServer answers every method under grpcService through the
// dispatcher. The procedure name comes from the request body; the method
// path only has to be under the service.
type grpcServer struct {
	*dispatcher
	listener net.Listener
	server   *grpc.Server
	cancel   context.CancelFunc
	ctx      context.Context
	once     sync.Once
}

func listenGRPC(addr string, o *serverOptions) (Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &grpcServer{
		dispatcher: newDispatcher(o.registry),
		listener:   listener,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.server = grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.UnknownServiceHandler(s.handleStream),
		grpc.MaxRecvMsgSize(o.maxFrameSize),
		grpc.MaxSendMsgSize(o.maxFrameSize),
	)
	return s, nil
}

func (s *grpcServer) handleStream(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	if !strings.HasPrefix(method, "/"+grpcService+"/") {
		return fmt.Errorf("%w: %s", ErrUnknownProcedure, method)
	}
	var body []byte
	if err := stream.RecvMsg(&body); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	return stream.SendMsg(s.handle(ctx, body))
}

func (s *grpcServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	log.Debug().Str("addr", s.Addr()).Msg("grpc server listening")
	err := s.server.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *grpcServer) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.server.Stop()
		_ = s.listener.Close()
	})
	return nil
}

func (s *grpcServer) Addr() string {
	return s.listener.Addr().String()
}
