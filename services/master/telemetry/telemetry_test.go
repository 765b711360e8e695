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
	"testing"
)

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // passing nil context is the case under test
	if _, err := Init(nil, DefaultConfig()); !errors.Is(err, ErrNilContext) {
		t.Errorf("expected ErrNilContext, got %v", err)
	}
}

func TestInit_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInit_StdoutExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "stdout"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInit_UnknownExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "zipkin"
	cfg.MetricExporter = "none"
	if _, err := Init(context.Background(), cfg); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("trace: expected ErrUnknownExporter, got %v", err)
	}

	cfg.TraceExporter = "none"
	cfg.MetricExporter = "statsd"
	if _, err := Init(context.Background(), cfg); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("metric: expected ErrUnknownExporter, got %v", err)
	}
}

func TestMetricsHandler_Prometheus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())

	if MetricsHandler() == nil {
		t.Error("expected a metrics handler with the prometheus exporter")
	}
}
