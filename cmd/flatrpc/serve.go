// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	rpc "github.com/luxfi/flatrpc"
	"github.com/luxfi/flatrpc/ndarray"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo procedures until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.resolve()
			if err != nil {
				return err
			}
			server, err := rpc.Listen(cfg.Addr,
				rpc.WithServerTransport(cfg.Transport),
				rpc.WithServerRegistry(newRegistry()),
				rpc.WithServerMaxFrameSize(int(cfg.MaxFrameSize)),
			)
			if err != nil {
				return err
			}
			if err := registerDemo(server); err != nil {
				_ = server.Close()
				return err
			}
			log.Info().
				Str("addr", server.Addr()).
				Str("transport", cfg.Transport).
				Msg("serving")
			err = server.Serve(cmd.Context())
			log.Info().Msg("server stopped")
			return err
		},
	}
}

func registerDemo(s rpc.Server) error {
	procs := map[string]rpc.Procedure{
		"cat":   catProc,
		"len":   lenProc,
		"echo":  echoProc,
		"shape": shapeProc,
	}
	for name, p := range procs {
		if err := s.Register(name, p); err != nil {
			return err
		}
	}
	return nil
}

func catProc(_ context.Context, args []any) (any, error) {
	var sb strings.Builder
	for _, a := range args {
		fmt.Fprint(&sb, a)
	}
	return sb.String(), nil
}

// lenProc counts the characters of its string arguments joined, or the
// elements of a single array or collection.
func lenProc(_ context.Context, args []any) (any, error) {
	if joined, ok := joinStrings(args); ok {
		return utf8.RuneCountInString(joined), nil
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("len: want strings or 1 collection, got %d arguments", len(args))
	}
	if a, ok := args[0].(*ndarray.Array); ok {
		return a.Size(), nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), nil
	}
	return nil, fmt.Errorf("len: %T has no length", args[0])
}

func joinStrings(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	var sb strings.Builder
	for _, a := range args {
		s, ok := a.(string)
		if !ok {
			return "", false
		}
		sb.WriteString(s)
	}
	return sb.String(), true
}

// echoProc returns its single argument, or all of them as a list.
func echoProc(_ context.Context, args []any) (any, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return args, nil
}

func shapeProc(_ context.Context, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("shape: want 1 argument, got %d", len(args))
	}
	a, ok := args[0].(*ndarray.Array)
	if !ok {
		return nil, fmt.Errorf("shape: %T is not an array", args[0])
	}
	return append([]int(nil), a.Shape...), nil
}
