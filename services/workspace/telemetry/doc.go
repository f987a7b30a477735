// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for the
// changegraph service.
//
// # Traces
//
// Snapshot operations start spans on otel.Tracer("changegraph.snapshot").
// Init installs the exporter selected by Config.TraceExporter ("otlp",
// "stdout" or "none"). The HTTP API adds server spans through otelgin.
//
// # Metrics
//
// Storage, snapshot and worker-pool internals register prometheus collectors
// with promauto. The HTTP API records OTel instruments (Metrics), exported
// through the prometheus exporter so a single /metrics endpoint serves both.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(ctx)
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - CHANGEGRAPH_ENV: environment name (default: development)
package telemetry
