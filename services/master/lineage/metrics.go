// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lineage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("tidefs.lineage")
	meter  = otel.Meter("tidefs.lineage")
)

// registryMetrics holds the lineage counters and histograms.
// Instruments are initialized lazily on first use; failures degrade
// observability but never block lineage operations.
type registryMetrics struct {
	logger *slog.Logger

	once               sync.Once
	depsCreated        metric.Int64Counter
	checkpointsTotal   metric.Int64Counter
	filesLostTotal     metric.Int64Counter
	commandsTotal      metric.Int64Counter
	replayDurationSecs metric.Float64Histogram
}

func newRegistryMetrics(logger *slog.Logger) *registryMetrics {
	return &registryMetrics{logger: logger}
}

func (m *registryMetrics) init() {
	m.once.Do(func() {
		var initErrors []string

		var err error
		m.depsCreated, err = meter.Int64Counter("lineage_dependencies_created_total",
			metric.WithDescription("Number of lineage dependencies registered"),
		)
		if err != nil {
			initErrors = append(initErrors, "dependencies_created: "+err.Error())
		}

		m.checkpointsTotal, err = meter.Int64Counter("lineage_child_checkpoints_total",
			metric.WithDescription("Number of child-file checkpoint completions recorded"),
		)
		if err != nil {
			initErrors = append(initErrors, "child_checkpoints: "+err.Error())
		}

		m.filesLostTotal, err = meter.Int64Counter("lineage_files_lost_total",
			metric.WithDescription("Number of output-file loss reports recorded"),
		)
		if err != nil {
			initErrors = append(initErrors, "files_lost: "+err.Error())
		}

		m.commandsTotal, err = meter.Int64Counter("lineage_recompute_commands_total",
			metric.WithDescription("Number of recomputation commands synthesized"),
		)
		if err != nil {
			initErrors = append(initErrors, "recompute_commands: "+err.Error())
		}

		m.replayDurationSecs, err = meter.Float64Histogram("lineage_replay_duration_seconds",
			metric.WithDescription("Time spent replaying the lineage image on startup"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "replay_duration: "+err.Error())
		}

		if len(initErrors) > 0 {
			m.logger.Error("failed to initialize some lineage metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

func (m *registryMetrics) dependenciesCreated(ctx context.Context) {
	m.init()
	if m.depsCreated != nil {
		m.depsCreated.Add(ctx, 1)
	}
}

func (m *registryMetrics) childCheckpointed(ctx context.Context) {
	m.init()
	if m.checkpointsTotal != nil {
		m.checkpointsTotal.Add(ctx, 1)
	}
}

func (m *registryMetrics) fileLost(ctx context.Context) {
	m.init()
	if m.filesLostTotal != nil {
		m.filesLostTotal.Add(ctx, 1)
	}
}

func (m *registryMetrics) commandSynthesized(ctx context.Context) {
	m.init()
	if m.commandsTotal != nil {
		m.commandsTotal.Add(ctx, 1)
	}
}

func (m *registryMetrics) replayDuration(ctx context.Context, elapsed time.Duration) {
	m.init()
	if m.replayDurationSecs != nil {
		m.replayDurationSecs.Record(ctx, elapsed.Seconds())
	}
}
