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
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the OTel instruments of the HTTP inspection API.
//
// Description:
//
//	Storage and snapshot internals publish prometheus collectors directly.
//	These instruments cover the outer surface: requests, snapshot loads
//	and writes triggered by requests, and errors by kind. All names use
//	the "changegraph_api_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// HTTPRequestsTotal counts requests by method, route and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks requests in flight.
	HTTPActiveRequests metric.Int64UpDownCounter

	// SnapshotLoadsTotal counts change-set snapshot loads by status.
	SnapshotLoadsTotal metric.Int64Counter

	// SnapshotWritesTotal counts snapshot writes published by the API.
	SnapshotWritesTotal metric.Int64Counter

	// ErrorsTotal counts API errors by kind.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers the API instruments with meter.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("changegraph.api"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"changegraph_api_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"changegraph_api_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"changegraph_api_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.SnapshotLoadsTotal, err = meter.Int64Counter(
		"changegraph_api_snapshot_loads_total",
		metric.WithDescription("Change-set snapshot loads"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create snapshot_loads_total: %w", err)
	}

	m.SnapshotWritesTotal, err = meter.Int64Counter(
		"changegraph_api_snapshot_writes_total",
		metric.WithDescription("Snapshot writes published through the API"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create snapshot_writes_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"changegraph_api_errors_total",
		metric.WithDescription("API errors by kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}
