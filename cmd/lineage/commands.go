// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lineage/pkg/logging"
	"github.com/AleutianAI/lineage/pkg/ux"
	"github.com/AleutianAI/lineage/services/lineage/config"
	"github.com/AleutianAI/lineage/services/lineage/telemetry"
)

// app holds what PersistentPreRunE sets up for every subcommand.
type app struct {
	configPath  string
	logLevel    string
	metricsAddr string

	cfg      config.Config
	logger   *logging.Logger
	shutdown func(context.Context) error
	metrics  *telemetry.MetricsServer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "lineage",
		Short: "Inspect, rebuild, and archive model history documents",
		Long: `lineage works with the history and evolution documents exported by
a model tracker: validate them, rebuild evolution records by replay,
analyze performance shifts, and keep histories in a local archive.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve /metrics on host:port while the command runs")

	rootCmd.AddCommand(
		a.inspectCmd(),
		a.rebuildCmd(),
		a.shiftCmd(),
		a.archiveCmd(),
		a.demoCmd(),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		lvl, err := logging.ParseLevel(a.logLevel)
		if err != nil {
			return err
		}
		cfg.Logging.Level = lvl
	}
	if a.metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = a.metricsAddr
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	a.logger = logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		LogDir:  cfg.Logging.Dir,
		Service: cfg.Telemetry.ServiceName,
		Format:  cfg.Logging.Format,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.logger.Slog())

	a.shutdown, err = telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Output:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	if cfg.Telemetry.MetricsAddr != "" {
		a.metrics, err = telemetry.ServeMetrics(cfg.Telemetry.MetricsAddr, cfg.Telemetry.ServiceName, a.logger.Slog())
		if err != nil {
			return fmt.Errorf("serve metrics: %w", err)
		}
	}
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	var errs []error
	if a.metrics != nil {
		errs = append(errs, a.metrics.Shutdown(context.WithoutCancel(cmd.Context())))
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.WithoutCancel(cmd.Context())))
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

// printer styles output for the command's writers.
func (a *app) printer(cmd *cobra.Command) *ux.Printer {
	return ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), "")
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
