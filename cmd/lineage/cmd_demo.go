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
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lineage/pkg/ux"
	"github.com/AleutianAI/lineage/services/lineage/evolution"
	"github.com/AleutianAI/lineage/services/lineage/model"
	"github.com/AleutianAI/lineage/services/lineage/tracker"
)

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (a *app) demoCmd() *cobra.Command {
	var (
		dir      string
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Track two sample models and export their documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = a.cfg.Export.Dir
			}
			if !cmd.Flags().Changed("gzip") {
				compress = a.cfg.Export.Gzip
			}

			clock := &stepClock{now: time.Now().Round(0).UTC().Truncate(time.Second), step: time.Second}
			tr := tracker.New(tracker.WithClock(clock), tracker.WithLogger(a.logger.Slog()))

			ctx := cmd.Context()
			if err := runMLP(ctx, tr); err != nil {
				return fmt.Errorf("mlp: %w", err)
			}
			if err := runConvNet(ctx, tr); err != nil {
				return fmt.Errorf("convnet: %w", err)
			}

			paths, err := tr.ExportAll(ctx, expandHome(dir), compress)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			ux.NewPrinter(cmd.ErrOrStderr(), nil, "").Success(fmt.Sprintf("exported %d files to %s", len(paths), dir))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "output", "o", "", "export directory (default from config)")
	cmd.Flags().BoolVar(&compress, "gzip", false, "gzip exported documents")
	return cmd
}

// demoStep is one edit followed by a capture and a performance sample.
type demoStep struct {
	reason tracker.Reason
	edit   func(*model.Composite) error
	perf   evolution.PerformanceEvent
}

func runSteps(ctx context.Context, tr *tracker.Tracker, net *model.Composite, steps []demoStep) error {
	for i, s := range steps {
		if s.edit != nil {
			if err := s.edit(net); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		if _, err := tr.Capture(ctx, net, s.reason); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := tr.RecordPerformance(ctx, net.ID(), s.perf); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func perf(fwd, bwd time.Duration, mem int64) evolution.PerformanceEvent {
	return evolution.PerformanceEvent{ForwardTime: fwd, BackwardTime: bwd, MemoryUsage: mem}
}

func runMLP(ctx context.Context, tr *tracker.Tracker) error {
	return runSteps(ctx, tr, model.NewComposite("mlp"), []demoStep{
		{tracker.ReasonInitial, func(n *model.Composite) error {
			return n.AddElement("fc1", "linear", map[string]any{"in": 784, "out": 128, "bias": true})
		}, perf(2*time.Millisecond, 4*time.Millisecond, 1<<20)},
		{tracker.ReasonElementAdded, func(n *model.Composite) error {
			return n.AddElement("act1", "relu", nil)
		}, perf(2*time.Millisecond, 4*time.Millisecond, 1<<20)},
		{tracker.ReasonElementAdded, func(n *model.Composite) error {
			return n.AddElement("fc2", "linear", map[string]any{"in": 128, "out": 10, "bias": true})
		}, perf(3*time.Millisecond, 5*time.Millisecond, 3<<19)},
		{tracker.ReasonHyperparameterChange, func(n *model.Composite) error {
			return n.SetAttribute("fc1", "dropout", 0.2)
		}, perf(3*time.Millisecond, 6*time.Millisecond, 3<<19)},
	})
}

func runConvNet(ctx context.Context, tr *tracker.Tracker) error {
	return runSteps(ctx, tr, model.NewComposite("convnet"), []demoStep{
		{tracker.ReasonInitial, func(n *model.Composite) error {
			return n.AddElement("conv1", "conv2d", map[string]any{"kernel": []int{3, 3}, "channels": 32})
		}, perf(8*time.Millisecond, 15*time.Millisecond, 8<<20)},
		{tracker.ReasonElementAdded, func(n *model.Composite) error {
			return n.AddElement("pool1", "maxpool", map[string]any{"size": 2})
		}, perf(6*time.Millisecond, 12*time.Millisecond, 6<<20)},
		{tracker.ReasonPerformanceOptimization, func(n *model.Composite) error {
			return n.SetAttribute("conv1", "channels", 16)
		}, perf(4*time.Millisecond, 8*time.Millisecond, 4<<20)},
		{tracker.ReasonCheckpoint, func(n *model.Composite) error {
			n.Rename("convnet-small")
			return nil
		}, perf(4*time.Millisecond, 8*time.Millisecond, 4<<20)},
	})
}
