// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	// snapshotsCaptured counts accepted captures by reason
	snapshotsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lineage_snapshots_captured_total",
		Help: "Total snapshots captured by reason",
	}, []string{"reason"})

	// captureRejected counts rejected captures by cause
	captureRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lineage_capture_rejected_total",
		Help: "Total rejected captures by cause",
	}, []string{"cause"})

	// captureDuration tracks capture latency including the element copy
	captureDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lineage_capture_duration_seconds",
		Help:    "Snapshot capture duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10us to ~80ms
	})

	// exportTotal counts export and import operations by document kind
	exportTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lineage_export_total",
		Help: "Total export and import operations by kind and status",
	}, []string{"kind", "status"})

	trackedModels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lineage_tracked_models",
		Help: "Number of models with an evolution record",
	})
)

const (
	causeNilModel    = "nil_model"
	causeReason      = "invalid_reason"
	causeAttribute   = "unsupported_attribute"
	causeRegression  = "clock_regression"
	causeInternal    = "internal"
	statusOK         = "ok"
	statusError      = "error"
	kindHistory      = "history"
	kindEvolution    = "evolution"
	kindImport       = "import"
	kindArchive      = "archive"
	kindArchiveRead  = "archive_restore"
)

func countExport(kind string, err error) {
	status := statusOK
	if err != nil {
		status = statusError
	}
	exportTotal.WithLabelValues(kind, status).Inc()
}

// ==============================================================================
// OpenTelemetry Metrics
// ==============================================================================

var meter = otel.Meter("lineage.tracker")

// Instruments for the performance stream. They go to whichever exporter
// telemetry.Init installed, or nowhere before that.
var (
	perfEvents   metric.Int64Counter
	perfForward  metric.Float64Histogram
	perfBackward metric.Float64Histogram
	perfMemory   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		perfEvents, err = meter.Int64Counter(
			"lineage_performance_events_total",
			metric.WithDescription("Total performance events recorded"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		perfForward, err = meter.Float64Histogram(
			"lineage_forward_time_seconds",
			metric.WithDescription("Reported forward pass time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		perfBackward, err = meter.Float64Histogram(
			"lineage_backward_time_seconds",
			metric.WithDescription("Reported backward pass time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		perfMemory, err = meter.Int64Histogram(
			"lineage_memory_usage_bytes",
			metric.WithDescription("Reported memory usage"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordPerformanceMetrics records one accepted performance event.
func recordPerformanceMetrics(ctx context.Context, modelID string, fwd, bwd time.Duration, mem int64) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("model_id", modelID))
	perfEvents.Add(ctx, 1, attrs)
	perfForward.Record(ctx, fwd.Seconds(), attrs)
	perfBackward.Record(ctx, bwd.Seconds(), attrs)
	perfMemory.Record(ctx, mem, attrs)
}
