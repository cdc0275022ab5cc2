// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Configuration flags
	configPath string
	envFile    string

	// Logging flags
	logLevel string
	logFile  string

	// Metrics flag
	metricsAddr string

	logger *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "panelsim",
	Short: "Field panel fleet emulator",
	Long: `Panelsim - emulates a fleet of field control panels that connect to a
central server and speak the byte-stuffed panel protocol over TCP.

Each panel answers the sync handshake, identification, state, relay and file
commands, reconnects on a randomized schedule, and drifts its state over time.

The fleet is described by a YAML file (--config) or by a legacy .ini roster.
Server settings can be overridden with PANELSIM_SERVER and PANELSIM_PORT, read
from the environment or from a .env file. For WebSocket authentication the
password is read from PANELSIM_PASSWORD, or prompted interactively if not set.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Fleet file (.yaml or legacy .ini)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
}

func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	l, err := newLogger(logLevel, logFile)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
