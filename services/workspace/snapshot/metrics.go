// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("changegraph.snapshot")

var (
	writeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "changegraph_snapshot_write_duration_seconds",
		Help:    "Time to persist a workspace snapshot",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	})

	partitionsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changegraph_snapshot_partitions_total",
		Help: "Partitions handled by snapshot writes, by outcome (written or reused)",
	}, []string{"outcome"})

	findAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changegraph_snapshot_find_attempts_total",
		Help: "Change-set snapshot fetch attempts by result",
	}, []string{"result"})

	rebaseBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "changegraph_snapshot_rebase_batch_updates",
		Help:    "Updates per computed rebase batch",
		Buckets: []float64{0, 1, 10, 100, 1000, 10000},
	})

	workingCopies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "changegraph_snapshot_working_copies_total",
		Help: "Working copies materialized from a base graph",
	})
)

// fail records err on span and returns it.
func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// loggerWithTrace adds the active span's identifiers to logger.
func loggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
