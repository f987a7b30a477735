// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workpool runs CPU-heavy graph work on a bounded set of goroutines
// so that request handlers are never starved by merkle hashing, diffing or
// serialization of a large workspace.
package workpool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var (
	poolBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "changegraph_workpool_busy",
		Help: "Worker pool slots currently running a job",
	})

	poolWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "changegraph_workpool_wait_seconds",
		Help:    "Time a job waited for a worker pool slot",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	}, []string{"op"})

	poolRun = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "changegraph_workpool_run_seconds",
		Help:    "Time a job ran on the worker pool",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
	}, []string{"op"})
)

// Pool bounds the number of concurrently running jobs.
//
// Thread Safety: Safe for concurrent use.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	logger *slog.Logger
}

// New creates a pool with size slots. A size of zero or less uses
// GOMAXPROCS.
func New(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger.With(slog.String("component", "workpool")),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.size }

type result[T any] struct {
	value T
	err   error
}

// Run executes fn on a pool goroutine and waits for its result.
//
// Description:
//
//	Run blocks until a slot is free, then runs fn on a pool goroutine and
//	waits for it. If ctx ends while waiting for a slot, Run returns
//	ctx.Err() without running fn. Once fn has started Run always waits for
//	it. A panic in fn is converted to an error.
//
// Inputs:
//
//	ctx - Bounds the wait for a slot.
//	p - The pool. A nil pool runs fn inline.
//	op - Label used in metrics and logs.
//	fn - The job.
func Run[T any](ctx context.Context, p *Pool, op string, fn func() (T, error)) (T, error) {
	var zero T
	if p == nil {
		return fn()
	}

	waitStart := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	poolWait.WithLabelValues(op).Observe(time.Since(waitStart).Seconds())

	done := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		poolBusy.Inc()
		defer poolBusy.Dec()

		start := time.Now()
		defer func() {
			poolRun.WithLabelValues(op).Observe(time.Since(start).Seconds())
			if r := recover(); r != nil {
				p.logger.Error("worker pool job panicked", slog.String("op", op), slog.Any("panic", r))
				done <- result[T]{err: fmt.Errorf("workpool %s: panic: %v", op, r)}
			}
		}()
		v, err := fn()
		done <- result[T]{value: v, err: err}
	}()

	r := <-done
	return r.value, r.err
}

// Do is Run for jobs without a result.
func Do(ctx context.Context, p *Pool, op string, fn func() error) error {
	_, err := Run(ctx, p, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
