// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	rpc "github.com/luxfi/flatrpc"
	"github.com/luxfi/flatrpc/flatten"
)

func newCallCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call <procedure> [args...]",
		Short: "Call a procedure and print its result",
		Long: `Call a procedure and print its result.

Each argument is read as JSON when it parses, otherwise as a plain string.
Flat envelopes such as {"__type__":"flatrpc.FloatArray","content":[1,2]}
are unflattened before sending.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve()
			if err != nil {
				return err
			}
			reg := newRegistry()
			values, err := parseArgs(reg, args[1:])
			if err != nil {
				return err
			}

			client, err := rpc.Dial(cmd.Context(), cfg.Addr,
				rpc.WithTransport(cfg.Transport),
				rpc.WithRegistry(reg),
				rpc.WithConnectTimeout(cfg.ConnectTimeout),
				rpc.WithMaxFrameSize(int(cfg.MaxFrameSize)),
			)
			if err != nil {
				return err
			}
			defer client.Close()

			v, err := client.Call(cmd.Context(), args[0], values...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), v)
			return err
		},
	}
}

func parseArgs(reg *flatten.Registry, args []string) ([]any, error) {
	values := make([]any, len(args))
	for i, a := range args {
		values[i] = parseArg(a)
	}
	return reg.DecodeAll(values)
}

func parseArg(s string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	return v
}
