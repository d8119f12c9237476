// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads lineage tool configuration.
//
// Configuration is merged with priority env > file > defaults. Files may be
// YAML or JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/lineage/pkg/logging"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config contains all lineage configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Logging contains logger settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Telemetry contains trace and metric exporter settings.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Export contains document export settings.
	Export ExportConfig `json:"export" yaml:"export"`

	// Archive contains BadgerDB archive settings.
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Analysis contains performance shift settings.
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  logging.Level  `json:"level" yaml:"level"`
	Dir    string         `json:"dir" yaml:"dir"`
	Format logging.Format `json:"format" yaml:"format"`
}

// TelemetryConfig contains exporter selection.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name" yaml:"service_name"`
	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint"`

	// MetricsAddr, when set, serves /metrics on host:port while a command runs.
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
}

// ExportConfig contains document export settings.
type ExportConfig struct {
	// Dir is where ExportAll writes per-model documents.
	Dir string `json:"dir" yaml:"dir"`

	// Gzip compresses exported documents.
	Gzip bool `json:"gzip" yaml:"gzip"`
}

// ArchiveConfig contains BadgerDB archive settings.
type ArchiveConfig struct {
	Path       string        `json:"path" yaml:"path"`
	SyncWrites bool          `json:"sync_writes" yaml:"sync_writes"`
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`
}

// AnalysisConfig contains performance shift settings.
type AnalysisConfig struct {
	ShiftThreshold float64 `json:"shift_threshold" yaml:"shift_threshold"`
	MinSamples     int     `json:"min_samples" yaml:"min_samples"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  logging.LevelInfo,
			Format: logging.FormatAuto,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "lineage",
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
		Export: ExportConfig{
			Dir: "lineage-export",
		},
		Archive: ArchiveConfig{
			Path:       "~/.lineage/archive",
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Analysis: AnalysisConfig{
			ShiftThreshold: 10,
			MinSamples:     1,
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// # Inputs
//
//   - path: YAML or JSON config file. Empty or missing means defaults.
//
// # Outputs
//
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but cannot be parsed, or the merged
//     configuration fails Validate.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("load config env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadEnv(cfg *Config) error {
	if v := os.Getenv("LINEAGE_LOG_LEVEL"); v != "" {
		lvl, err := logging.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("LINEAGE_LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = lvl
	}
	if v := os.Getenv("LINEAGE_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("LINEAGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = logging.Format(v)
	}
	if v := os.Getenv("LINEAGE_TRACE_EXPORTER"); v != "" {
		cfg.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("LINEAGE_METRIC_EXPORTER"); v != "" {
		cfg.Telemetry.MetricExporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("LINEAGE_EXPORT_DIR"); v != "" {
		cfg.Export.Dir = v
	}
	if v := os.Getenv("LINEAGE_METRICS_ADDR"); v != "" {
		cfg.Telemetry.MetricsAddr = v
	}
	if v := os.Getenv("LINEAGE_EXPORT_GZIP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LINEAGE_EXPORT_GZIP: %w", err)
		}
		cfg.Export.Gzip = b
	}
	if v := os.Getenv("LINEAGE_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("LINEAGE_SHIFT_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("LINEAGE_SHIFT_THRESHOLD: %w", err)
		}
		cfg.Analysis.ShiftThreshold = f
	}
	return nil
}

var (
	traceExporters  = map[string]bool{"none": true, "stdout": true, "otlp": true}
	metricExporters = map[string]bool{"none": true, "stdout": true, "prometheus": true}
	logFormats      = map[logging.Format]bool{"": true, logging.FormatAuto: true, logging.FormatText: true, logging.FormatJSON: true}
)

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if !logFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}
	if !traceExporters[c.Telemetry.TraceExporter] {
		return fmt.Errorf("%w: telemetry.trace_exporter %q", ErrInvalidConfig, c.Telemetry.TraceExporter)
	}
	if !metricExporters[c.Telemetry.MetricExporter] {
		return fmt.Errorf("%w: telemetry.metric_exporter %q", ErrInvalidConfig, c.Telemetry.MetricExporter)
	}
	if c.Telemetry.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.Telemetry.MetricsAddr); err != nil {
			return fmt.Errorf("%w: telemetry.metrics_addr: %v", ErrInvalidConfig, err)
		}
	}
	if c.Export.Dir == "" {
		return fmt.Errorf("%w: export.dir must be set", ErrInvalidConfig)
	}
	if c.Archive.Path == "" {
		return fmt.Errorf("%w: archive.path must be set", ErrInvalidConfig)
	}
	if c.Archive.GCInterval < 0 {
		return fmt.Errorf("%w: archive.gc_interval must be >= 0", ErrInvalidConfig)
	}
	if c.Analysis.ShiftThreshold < 0 {
		return fmt.Errorf("%w: analysis.shift_threshold must be >= 0", ErrInvalidConfig)
	}
	if c.Analysis.MinSamples < 1 {
		return fmt.Errorf("%w: analysis.min_samples must be >= 1", ErrInvalidConfig)
	}
	return nil
}
