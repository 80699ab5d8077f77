//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGRPCIsRegistered(t *testing.T) {
	assert.True(t, HasTransport(TransportGRPC))
	assert.Contains(t, AvailableTransports(), TransportGRPC)
}

func TestGRPCCalls(t *testing.T) {
	env := newTestEnv(t, TransportGRPC, map[string]Procedure{
		"opaque": func(context.Context, []any) (any, error) { return opaque{}, nil },
		"panic":  func(context.Context, []any) (any, error) { panic("detector on fire") },
	})
	c := env.dial(t)
	ctx := context.Background()

	v, err := c.Call(ctx, "cat", "Hello, ", "World!")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", v)

	v, err = c.Call(ctx, "len", "Hello, ", "World!")
	require.NoError(t, err)
	assert.Equal(t, 13, v)

	_, err = c.Call(ctx, "missing")
	require.ErrorIs(t, err, ErrUnknownProcedure)

	var rerr *RemoteError
	_, err = c.Call(ctx, "opaque")
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, CodeProcedureFailed, rerr.Code)

	_, err = c.Call(ctx, "panic")
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Message, "detector on fire")

	// still serving
	v, err = c.Call(ctx, "echo", []float64{0.5, 1.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5}, v)
	assert.True(t, IsAlive(ctx, c))
}

func TestGRPCDialNothingListeningFailsFast(t *testing.T) {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	start := time.Now()
	_, err = Dial(context.Background(), fmt.Sprintf("127.0.0.1:%d", port), WithTransport(TransportGRPC))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport) || errors.Is(err, ErrConnectionTimeout), err.Error())
	assert.Less(t, elapsed, DefaultConnectTimeout+time.Second)
}

func TestGRPCClose(t *testing.T) {
	env := newTestEnv(t, TransportGRPC, nil)
	c := env.dial(t)
	ctx := context.Background()
	_, err := c.Call(ctx, "cat", "warm")
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- env.server.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on an idle connection")
	}
	require.NoError(t, env.server.Close())

	_, err = c.Call(ctx, "cat", "gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport) || errors.Is(err, ErrConnectionTimeout), err.Error())
}
