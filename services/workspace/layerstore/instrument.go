// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layerstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
)

var (
	layerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changegraph_layerstore_operations_total",
		Help: "Layer store operations by backend, namespace, operation and result",
	}, []string{"backend", "namespace", "op", "result"})

	layerBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changegraph_layerstore_bytes_total",
		Help: "Uncompressed layer bytes moved by backend, namespace and operation",
	}, []string{"backend", "namespace", "op"})

	layerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "changegraph_layerstore_duration_seconds",
		Help:    "Layer store operation latency",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	}, []string{"backend", "op"})
)

// instrumented records prometheus metrics around another Store.
type instrumented struct {
	Store
	backend string
}

// Instrument wraps store so every read and write is counted under the
// given backend label.
func Instrument(store Store, backend string) Store {
	return &instrumented{Store: store, backend: backend}
}

func (s *instrumented) Write(ctx context.Context, ns Namespace, data []byte, meta Meta) (ids.Address, error) {
	start := time.Now()
	addr, err := s.Store.Write(ctx, ns, data, meta)
	layerLatency.WithLabelValues(s.backend, "write").Observe(time.Since(start).Seconds())
	if err != nil {
		layerOps.WithLabelValues(s.backend, string(ns), "write", "error").Inc()
		return addr, err
	}
	layerOps.WithLabelValues(s.backend, string(ns), "write", "ok").Inc()
	layerBytes.WithLabelValues(s.backend, string(ns), "write").Add(float64(len(data)))
	return addr, nil
}

func (s *instrumented) Read(ctx context.Context, ns Namespace, addr ids.Address) ([]byte, bool, error) {
	start := time.Now()
	data, ok, err := s.Store.Read(ctx, ns, addr)
	layerLatency.WithLabelValues(s.backend, "read").Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		layerOps.WithLabelValues(s.backend, string(ns), "read", "error").Inc()
	case !ok:
		layerOps.WithLabelValues(s.backend, string(ns), "read", "missing").Inc()
	default:
		layerOps.WithLabelValues(s.backend, string(ns), "read", "ok").Inc()
		layerBytes.WithLabelValues(s.backend, string(ns), "read").Add(float64(len(data)))
	}
	return data, ok, err
}
