// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evolution

import (
	"time"

	"github.com/AleutianAI/lineage/services/lineage/model"
)

// TrendDirection indicates the direction of a metric between two windows.
type TrendDirection string

const (
	TrendUp     TrendDirection = "UP"
	TrendDown   TrendDirection = "DOWN"
	TrendStable TrendDirection = "STABLE"
)

// ShiftOptions configures shift analysis.
type ShiftOptions struct {
	// ThresholdPercent is the relative change a metric must exceed to count
	// as UP or DOWN.
	// Default: 10
	ThresholdPercent float64

	// MinSamples is the minimum number of events required on each side of
	// the baseline.
	// Default: 1
	MinSamples int
}

// DefaultShiftOptions returns sensible defaults.
func DefaultShiftOptions() ShiftOptions {
	return ShiftOptions{
		ThresholdPercent: 10.0,
		MinSamples:       1,
	}
}

// MetricShift compares one metric's mean before and after the baseline.
type MetricShift struct {
	Before float64 `json:"before"`
	After  float64 `json:"after"`

	// ChangePercent is (After-Before)/Before*100, or 100 when Before is zero
	// and After is not.
	ChangePercent float64        `json:"change_percent"`
	Direction     TrendDirection `json:"direction"`
}

// Shift is the performance change around the last structural edit.
type Shift struct {
	ModelID model.ID `json:"model_id"`

	// Baseline is the timestamp of the last structural change. Events at or
	// after it count as "after".
	Baseline time.Time `json:"baseline"`

	// Reason of the last structural change.
	Reason string `json:"reason"`

	SamplesBefore int `json:"samples_before"`
	SamplesAfter  int `json:"samples_after"`

	// Sufficient is false when either side has fewer than MinSamples events
	// or the model has no structural changes. All directions are then STABLE.
	Sufficient bool `json:"sufficient"`

	// ForwardTime and BackwardTime are in nanoseconds; Memory in bytes.
	ForwardTime  MetricShift `json:"forward_time"`
	BackwardTime MetricShift `json:"backward_time"`
	Memory       MetricShift `json:"memory"`
}

// AnalyzeShift compares performance before and after the last structural
// change of rec.
//
// # Inputs
//
//   - rec: The evolution record to analyze.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - Shift: The analysis. Never fails; sparse records yield an
//     insufficient, all-STABLE result.
func AnalyzeShift(rec Record, opts *ShiftOptions) Shift {
	if opts == nil {
		defaults := DefaultShiftOptions()
		opts = &defaults
	}
	minSamples := max(opts.MinSamples, 1)

	shift := Shift{
		ModelID:      rec.ModelID,
		ForwardTime:  MetricShift{Direction: TrendStable},
		BackwardTime: MetricShift{Direction: TrendStable},
		Memory:       MetricShift{Direction: TrendStable},
	}

	last, ok := rec.LastStructuralChange()
	if !ok {
		return shift
	}
	shift.Baseline = last.Timestamp
	shift.Reason = string(last.Reason)

	var before, after window
	for _, ev := range rec.PerformanceChanges {
		if ev.Timestamp.Before(last.Timestamp) {
			before.add(ev)
		} else {
			after.add(ev)
		}
	}
	shift.SamplesBefore = before.n
	shift.SamplesAfter = after.n

	if before.n < minSamples || after.n < minSamples {
		return shift
	}
	shift.Sufficient = true

	shift.ForwardTime = compare(before.mean(before.forward), after.mean(after.forward), opts.ThresholdPercent)
	shift.BackwardTime = compare(before.mean(before.backward), after.mean(after.backward), opts.ThresholdPercent)
	shift.Memory = compare(before.mean(before.memory), after.mean(after.memory), opts.ThresholdPercent)
	return shift
}

type window struct {
	n                         int
	forward, backward, memory float64
}

func (w *window) add(ev PerformanceEvent) {
	w.n++
	w.forward += float64(ev.ForwardTime)
	w.backward += float64(ev.BackwardTime)
	w.memory += float64(ev.MemoryUsage)
}

func (w *window) mean(sum float64) float64 {
	if w.n == 0 {
		return 0
	}
	return sum / float64(w.n)
}

func compare(before, after, threshold float64) MetricShift {
	m := MetricShift{Before: before, After: after, Direction: TrendStable}

	if before > 0 {
		m.ChangePercent = (after - before) / before * 100
	} else if after > 0 {
		m.ChangePercent = 100.0
	}

	if m.ChangePercent > threshold {
		m.Direction = TrendUp
	} else if m.ChangePercent < -threshold {
		m.Direction = TrendDown
	}
	return m
}
