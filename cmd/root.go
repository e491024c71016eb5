// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/tuyastat/internal/config"
	"github.com/Thermoquad/tuyastat/internal/logging"
)

var (
	cfgFile string

	// Settings resolved from defaults, config file, environment and flags
	v      = config.New()
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "tuyastat",
	Short: "Tuya MCU Serial Protocol Analyzer",
	Long: `Tuyastat - A CLI tool for monitoring, analyzing and driving the Tuya
MCU serial protocol spoken between a WiFi module and its host MCU.

Provides passive commands (raw frame logging, error detection, capture replay)
and active commands that take the WiFi module role (monitor, send, bridge).

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the TUYASTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Every setting can also come from a YAML file (--config) or a TUYASTAT_*
environment variable, e.g. TUYASTAT_LINK_PORT or TUYASTAT_LOGGING_LEVEL.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "Config file (YAML)")

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.IntP("baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Metrics
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")

	// Logging flags
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console, json)")

	bindFlags(rootCmd, map[string]string{
		"link.port":          "port",
		"link.baud":          "baud",
		"link.url":           "url",
		"link.username":      "username",
		"link.no_ssl_verify": "no-ssl-verify",
		"logging.level":      "log-level",
		"logging.format":     "log-format",
		"metrics.addr":       "metrics-addr",
	})
}

// bindFlags binds config keys to persistent flags of cmd
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			flag = cmd.Flags().Lookup(name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			panic(err)
		}
	}
}

// setup loads the configuration and builds the logger before any command runs
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	logger, err = logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("config_file", v.ConfigFileUsed()),
		zap.String("link", cfg.Link.LinkInfo()),
	)
	return nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
