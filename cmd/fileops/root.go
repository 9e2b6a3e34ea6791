package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/proview/fileops/cmd/fileops/opts"
	"github.com/proview/fileops/pkg/config"
	"github.com/proview/fileops/pkg/engine"
	"github.com/proview/fileops/pkg/log"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
)

var (
	// Flags
	configFile string
	debug      bool
)

// newRootOpts creates a new RootOpts with initialized dependencies
func newRootOpts(ctx context.Context) (*opts.RootOpts, error) {
	userLogger := log.New(os.Stdout, zerolog.InfoLevel)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, errors.Errorf("loading config: %w", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return nil, errors.Errorf("opening journal: %w", err)
	}

	return &opts.RootOpts{
		Config:     cfg,
		Engine:     eng,
		UserLogger: userLogger,
	}, nil
}

// loadConfig reads the configured file, falling back to the default
// location and then to built-in defaults when nothing is on disk.
func loadConfig(ctx context.Context) (*config.Config, error) {
	if configFile != "" {
		return config.Load(ctx, configFile)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return config.Default(), nil
	}
	path := filepath.Join(home, ".fileops", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return config.Default(), nil
	}
	return config.Load(ctx, path)
}

// addRootFlags adds shared flags to the root command
func addRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default ~/.fileops/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

// setupLogging configures zerolog based on flags
func setupLogging() {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
}
