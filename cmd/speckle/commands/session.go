// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/specklesystems/speckle-go/cmd/speckle/cli"
	"github.com/specklesystems/speckle-go/lib/clock"
	"github.com/specklesystems/speckle-go/lib/config"
	"github.com/specklesystems/speckle-go/lib/netutil"
	"github.com/specklesystems/speckle-go/lib/objecthash"
	"github.com/specklesystems/speckle-go/lib/telemetry"
	"github.com/specklesystems/speckle-go/lib/transport/server"
	"github.com/specklesystems/speckle-go/lib/transport/sqlite"
)

// sessionFlags are the flags shared by every command that touches the
// cache or the server. Non-empty values override the config file.
type sessionFlags struct {
	configPath string
	serverURL  string
	stream     string
	cacheDir   string
	scope      string
	verbose    bool
}

func (f *sessionFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "config file (default: $"+config.EnvConfig+")")
	flagSet.StringVar(&f.serverURL, "server", "", "server base URL")
	flagSet.StringVar(&f.stream, "stream", "", "stream (project) id")
	flagSet.StringVar(&f.cacheDir, "cache-dir", "", "directory holding the local cache")
	flagSet.StringVar(&f.scope, "scope", "", "local cache scope")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log debug output")
}

// loadConfig reads --config, then $SPECKLE_CONFIG, and falls back to
// defaults plus environment overrides when neither is set.
func (f *sessionFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case f.configPath != "":
		cfg, err = config.LoadFile(f.configPath)
	case os.Getenv(config.EnvConfig) != "":
		cfg, err = config.Load()
	default:
		cfg = config.FromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	if f.serverURL != "" {
		cfg.Account.ServerURL = f.serverURL
	}
	if f.stream != "" {
		cfg.Stream = f.stream
	}
	if f.cacheDir != "" {
		cfg.Cache.BasePath = f.cacheDir
	}
	if f.scope != "" {
		cfg.Cache.Scope = f.scope
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (f *sessionFlags) logger() *slog.Logger {
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	return cli.NewCommandLogger(level)
}

// session holds what a command opened from its flags.
type session struct {
	config    *config.Config
	logger    *slog.Logger
	hasher    objecthash.Hasher
	cache     *sqlite.Transport
	remote    *server.Transport
	telemetry *telemetry.Notifier
}

// openSession loads configuration and opens the local cache. The server
// transport is opened when requireRemote is set or a server URL is
// configured; either way the account must then be complete.
func (f *sessionFlags) openSession(requireRemote bool) (*session, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := f.logger()

	hasher, err := objecthash.ByName(cfg.Cache.Hasher)
	if err != nil {
		return nil, err
	}
	path, err := cfg.CachePath()
	if err != nil {
		return nil, err
	}
	cache, err := sqlite.Open(sqlite.Config{
		Path:           path,
		Scope:          cfg.Cache.Scope,
		MaxBufferBytes: cfg.Cache.BufferBytes,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	s := &session{
		config: cfg,
		logger: logger,
		hasher: hasher,
		cache:  cache,
	}

	if requireRemote || cfg.Account.ServerURL != "" {
		remote, err := openRemote(cfg, logger)
		if err != nil {
			return nil, errors.Join(err, cache.Close())
		}
		s.remote = remote
	}
	if cfg.Telemetry.Enabled {
		s.telemetry = telemetry.NewNotifier(telemetry.NewWriterSink(os.Stderr), clock.Real(), logger)
	}
	return s, nil
}

func openRemote(cfg *config.Config, logger *slog.Logger) (*server.Transport, error) {
	if err := cfg.RequireAccount(); err != nil {
		return nil, fmt.Errorf("server account: %w", err)
	}
	token, err := cfg.Account.ResolveToken()
	if err != nil {
		return nil, err
	}
	serverURL, err := cfg.Account.ParseServerURL()
	if err != nil {
		return nil, err
	}
	connectTimeout, err := cfg.HTTP.ConnectTimeoutDuration()
	if err != nil {
		return nil, err
	}
	return server.New(server.Config{
		ServerURL:      serverURL.String(),
		StreamID:       cfg.Stream,
		Token:          token,
		MaxBatchBytes:  cfg.Batch.MaxBytes,
		MaxBatchLength: cfg.Batch.MaxLength,
		QueueCapacity:  cfg.Batch.QueueCapacity,
		Workers:        cfg.Batch.Workers,
		Client: netutil.ClientConfig{
			ConnectTimeout: connectTimeout,
			Attempts:       cfg.HTTP.Attempts,
			Logger:         logger,
		},
		Logger: logger,
	})
}

func (s *session) Close() error {
	return s.cache.Close()
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
