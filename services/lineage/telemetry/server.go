// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// MetricsPath is the route the metrics server exposes.
const MetricsPath = "/metrics"

// MetricsServer exposes Prometheus metrics over HTTP for the lifetime of a
// command.
//
// # Thread Safety
//
// Safe for concurrent use. Shutdown may be called once.
type MetricsServer struct {
	srv    *http.Server
	ln     net.Listener
	done   chan struct{}
	err    error
	logger *slog.Logger
}

// ServeMetrics starts serving MetricsPath on addr.
//
// # Description
//
// Serves MetricsHandler when Init enabled the Prometheus exporter, so both
// the OpenTelemetry instruments and the promauto collectors are scraped.
// Without that exporter only the promauto collectors of the default
// registry are served. Requests are traced through otelgin.
//
// # Inputs
//
//   - addr: host:port to listen on. Port 0 picks a free port.
//   - serviceName: Span service name for the otelgin middleware.
//   - logger: Receives serve errors. Nil uses slog.Default.
//
// # Outputs
//
//   - *MetricsServer: Running server; call Shutdown when done.
//   - error: Non-nil if addr cannot be bound.
func ServeMetrics(addr, serviceName string, logger *slog.Logger) (*MetricsServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	handler := MetricsHandler()
	if handler == nil {
		handler = promhttp.Handler()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.GET(MetricsPath, gin.WrapH(handler))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	s := &MetricsServer{
		srv: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		done:   make(chan struct{}),
		logger: logger,
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.err = err
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("address", s.Addr()), slog.String("path", MetricsPath))
	return s, nil
}

// Addr returns the bound address, with the port resolved.
func (s *MetricsServer) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops accepting scrapes and waits for in-flight ones.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return errors.Join(err, s.err)
}
