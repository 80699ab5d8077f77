// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command flatrpc runs a demo procedure server and calls procedures on one.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/luxfi/flatrpc/catalog"
	"github.com/luxfi/flatrpc/flatten"
	"github.com/luxfi/flatrpc/internal/logger"
	"github.com/luxfi/flatrpc/oob"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	addr       string
	transport  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:          "flatrpc",
		Short:        "Call named procedures with flattened arguments",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a TOML config file")
	cmd.PersistentFlags().StringVar(&flags.addr, "addr", "", "server address (overrides config)")
	cmd.PersistentFlags().StringVar(&flags.transport, "transport", "", "transport name (overrides config)")

	cmd.AddCommand(newServeCmd(flags), newCallCmd(flags))
	return cmd
}

// resolve loads the config, applies flag overrides and the process-wide
// settings that follow from it.
func (f *rootFlags) resolve() (config, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return config{}, err
	}
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return config{}, err
	}
	if cfg.TempDir != "" {
		oob.SetTempLocation(cfg.TempDir)
	}
	log.Debug().
		Str("addr", cfg.Addr).
		Str("transport", cfg.Transport).
		Str("temp_dir", oob.TempLocation()).
		Dur("connect_timeout", cfg.ConnectTimeout).
		Str("max_frame_size", cfg.MaxFrameSize.HR()).
		Msg("config resolved")
	return cfg, nil
}

// newRegistry holds the built-in handlers plus the catalog types. Deletes
// requested by peers are confined to the temp directory.
func newRegistry() *flatten.Registry {
	reg := flatten.New(oob.New(oob.WithConfinedDeletes()))
	catalog.Register(reg)
	return reg
}
