// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/c2h5oh/datasize"

	rpc "github.com/luxfi/flatrpc"
)

// config.toml keys
type fileConfig struct {
	Addr           string            `toml:"addr"`
	Transport      string            `toml:"transport"`
	TempDir        string            `toml:"temp_dir"`
	ConnectTimeout string            `toml:"connect_timeout"`
	MaxFrameSize   datasize.ByteSize `toml:"max_frame_size"`
	LogLevel       string            `toml:"log_level"`
}

type config struct {
	Addr           string
	Transport      string
	TempDir        string
	ConnectTimeout time.Duration
	MaxFrameSize   datasize.ByteSize
	LogLevel       string
}

const defaultAddr = "127.0.0.1:8714"

func defaultConfig() config {
	return config{
		Addr:           defaultAddr,
		Transport:      rpc.DefaultTransport,
		ConnectTimeout: rpc.DefaultConnectTimeout,
		MaxFrameSize:   datasize.ByteSize(rpc.DefaultMaxFrameSize),
	}
}

// loadConfig overlays the keys set in path on the defaults. An empty path
// returns the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("temp_dir") {
		cfg.TempDir = strings.TrimSpace(raw.TempDir)
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return config{}, fmt.Errorf("load config: connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("max_frame_size") {
		cfg.MaxFrameSize = raw.MaxFrameSize
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr is empty")
	}
	if !rpc.HasTransport(c.Transport) {
		return fmt.Errorf("config: transport %q not in %v", c.Transport, rpc.AvailableTransports())
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("config: connect_timeout must be positive")
	}
	if c.MaxFrameSize < datasize.KB || c.MaxFrameSize > datasize.GB {
		return fmt.Errorf("config: max_frame_size %s out of range", c.MaxFrameSize.HR())
	}
	return nil
}
