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
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lineage/pkg/ux"
	"github.com/AleutianAI/lineage/services/lineage/document"
	"github.com/AleutianAI/lineage/services/lineage/evolution"
	"github.com/AleutianAI/lineage/services/lineage/history"
	"github.com/AleutianAI/lineage/services/lineage/model"
	"github.com/AleutianAI/lineage/services/lineage/tracker"
)

// loadHistory reads a history file into a fresh tracker.
func (a *app) loadHistory(cmd *cobra.Command, path string) (*tracker.Tracker, model.ID, error) {
	doc, err := document.ReadHistoryFile(path)
	if err != nil {
		return nil, model.Nil, err
	}
	tr := tracker.New(tracker.WithLogger(a.logger.Slog()))
	id, err := tr.ImportHistory(cmd.Context(), doc)
	if err != nil {
		return nil, model.Nil, err
	}
	if id.IsNil() {
		return nil, model.Nil, fmt.Errorf("%s: history is empty", path)
	}
	return tr, id, nil
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <history.json[.gz]>",
		Short: "Validate a history document and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, id, err := a.loadHistory(cmd, args[0])
			if err != nil {
				return err
			}
			printSummary(a.printer(cmd), tr, id)
			return nil
		},
	}
}

func printSummary(p *ux.Printer, tr *tracker.Tracker, id model.ID) {
	obs := tr.Observe(id)
	rec := obs.Evolution
	latest := obs.History[len(obs.History)-1]

	reasons := make(map[history.Reason]int)
	for _, c := range rec.StructuralChanges {
		reasons[c.Reason]++
	}

	p.Title("Model history")
	tw := tabwriter.NewWriter(p.Out(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Model:\t%s\n", id)
	fmt.Fprintf(tw, "Name:\t%s\n", rec.ModelName)
	fmt.Fprintf(tw, "Snapshots:\t%d\n", len(obs.History))
	fmt.Fprintf(tw, "Created:\t%s\n", rec.CreatedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(tw, "Last modified:\t%s\n", rec.LastModifiedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(tw, "Elements:\t%d\n", latest.ElementCount())
	fmt.Fprintln(tw, "Reasons:")
	for _, r := range history.Reasons() {
		if n := reasons[r]; n > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", r, n)
		}
	}
	tw.Flush()
}

func (a *app) rebuildCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "rebuild <history.json[.gz]>",
		Short: "Rebuild the evolution document of a history by replay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, id, err := a.loadHistory(cmd, args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = id.String() + ".evolution.json"
			}
			if err := tr.ExportEvolutionFile(cmd.Context(), id, out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (default {modelId}.evolution.json)")
	return cmd
}

func (a *app) shiftCmd() *cobra.Command {
	var (
		threshold  float64
		minSamples int
	)
	cmd := &cobra.Command{
		Use:   "shift <evolution.json[.gz]>",
		Short: "Compare performance before and after the last structural change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := document.ReadEvolutionFile(args[0])
			if err != nil {
				return err
			}
			rec, err := document.ToRecord(doc)
			if err != nil {
				return err
			}

			opts := evolution.ShiftOptions{
				ThresholdPercent: a.cfg.Analysis.ShiftThreshold,
				MinSamples:       a.cfg.Analysis.MinSamples,
			}
			if cmd.Flags().Changed("threshold") {
				opts.ThresholdPercent = threshold
			}
			if cmd.Flags().Changed("min-samples") {
				opts.MinSamples = minSamples
			}
			printShift(a.printer(cmd), evolution.AnalyzeShift(rec, &opts))
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 10, "change percentage that counts as a shift")
	cmd.Flags().IntVar(&minSamples, "min-samples", 1, "events required on each side of the baseline")
	return cmd
}

func printShift(p *ux.Printer, s evolution.Shift) {
	if s.Baseline.IsZero() {
		p.Warning(fmt.Sprintf("Model %s has no structural changes", s.ModelID))
		return
	}
	p.Title("Performance shift")
	p.Info(fmt.Sprintf("Model %s, baseline %s (%s)", s.ModelID, s.Baseline.Format(time.RFC3339Nano), s.Reason))
	p.Info(fmt.Sprintf("Samples: %d before, %d after", s.SamplesBefore, s.SamplesAfter))
	if !s.Sufficient {
		p.Info("Not enough samples to compare")
		return
	}

	tw := tabwriter.NewWriter(p.Out(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tBEFORE\tAFTER\tCHANGE\tTREND")
	fmt.Fprintf(tw, "forward\t%s\t%s\t%+.1f%%\t%s\n",
		time.Duration(s.ForwardTime.Before), time.Duration(s.ForwardTime.After),
		s.ForwardTime.ChangePercent, s.ForwardTime.Direction)
	fmt.Fprintf(tw, "backward\t%s\t%s\t%+.1f%%\t%s\n",
		time.Duration(s.BackwardTime.Before), time.Duration(s.BackwardTime.After),
		s.BackwardTime.ChangePercent, s.BackwardTime.Direction)
	fmt.Fprintf(tw, "memory\t%.0fB\t%.0fB\t%+.1f%%\t%s\n",
		s.Memory.Before, s.Memory.After, s.Memory.ChangePercent, s.Memory.Direction)
	tw.Flush()
}
