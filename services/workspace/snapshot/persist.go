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
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/changegraph/services/workspace/dal"
	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/layerstore"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
	"github.com/AleutianAI/changegraph/services/workspace/workpool"
)

// -----------------------------------------------------------------------------
// Initial
// -----------------------------------------------------------------------------

// Initial creates and persists the bootstrap snapshot.
//
// Description:
//
//	The graph holds the root, one category node per CategoryKind linked from
//	the root by a Use edge, and a default view linked from the View
//	category by a default Use edge. It is hashed and written before being
//	returned, so the snapshot's address is durable.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	d - Execution context. Layers must be set.
//	splitThreshold - Maximum nodes per partition; zero means unbounded.
//
// Outputs:
//
//	*WorkspaceSnapshot - The persisted snapshot.
//	error - Non-nil if the bootstrap graph cannot be built or written.
func Initial(ctx context.Context, d *dal.Context, splitThreshold int) (*WorkspaceSnapshot, error) {
	ctx, span := tracer.Start(ctx, "snapshot.Initial",
		trace.WithAttributes(attribute.Int("snapshot.split_threshold", splitThreshold)))
	defer span.End()

	if err := d.Validate(); err != nil {
		return nil, fail(span, err)
	}

	g := graph.New(splitThreshold)
	var viewCategory ids.ID
	for _, kind := range weights.AllCategoryKinds() {
		cat := weights.NewCategory(kind)
		if err := g.AddOrReplaceNode(cat); err != nil {
			return nil, fail(span, err)
		}
		if err := g.AddEdge(g.RootID(), weights.UseEdge(false), cat.ID()); err != nil {
			return nil, fail(span, err)
		}
		if kind == weights.CategoryView {
			viewCategory = cat.ID()
		}
	}
	view := weights.NewView(DefaultViewName)
	if err := g.AddOrReplaceNode(view); err != nil {
		return nil, fail(span, err)
	}
	if err := g.AddEdge(viewCategory, weights.UseEdge(true), view.ID()); err != nil {
		return nil, fail(span, err)
	}

	if err := workpool.Do(ctx, d.Pool, "cleanup_and_merkle", func() error {
		g.CleanupAndMerkleTreeHash()
		return nil
	}); err != nil {
		return nil, fail(span, err)
	}

	s := newSnapshot(g, ids.Address{})
	if _, err := s.Write(ctx, d); err != nil {
		return nil, fail(span, err)
	}
	loggerWithTrace(ctx, d.Log()).Info("initial workspace snapshot created",
		slog.String("component", "snapshot"),
		slog.String("address", s.Address().String()))
	return s, nil
}

// -----------------------------------------------------------------------------
// Write
// -----------------------------------------------------------------------------

type persistedSlot struct {
	index   int
	address ids.Address
	written bool
}

// Write persists the working copy and publishes its new address.
//
// Description:
//
//	Merkle hashes are recomputed (with cleanup) on the worker pool. Each
//	partition is handled by its own task: a partition whose hash matches
//	the hash recorded for its slot reuses that slot's address, any other
//	partition is encoded and written to the subgraph namespace. Results are
//	ordered by partition index, recorded on the working copy, and the
//	supergraph is written. The snapshot's address is replaced last, so a
//	failed or cancelled Write leaves it unchanged.
//
//	Writing twice without an intervening mutation performs no layer store
//	writes the second time and returns the same address. A loaded snapshot
//	with no working copy republishes the address it was loaded from and
//	keeps sharing its base.
//
// Outputs:
//
//	ids.Address - The new supergraph address.
//	error - ErrPartitionRemoved, a codec failure, or a wrapped layer store
//	  failure.
//
// Thread Safety: Holds the write lock for the duration of the pipeline.
func (s *WorkspaceSnapshot) Write(ctx context.Context, d *dal.Context) (ids.Address, error) {
	ctx, span := tracer.Start(ctx, "snapshot.Write")
	defer span.End()
	start := time.Now()

	if err := d.Validate(); err != nil {
		return ids.Address{}, fail(span, err)
	}

	if addr, ok := s.persistedBase(); ok {
		s.setAddress(addr)
		partitionsPersisted.WithLabelValues("reused").Add(float64(s.base.PartitionCount()))
		span.SetAttributes(
			attribute.Bool("snapshot.unmodified", true),
			attribute.String("snapshot.address", addr.String()),
		)
		return addr, nil
	}

	w := s.writeGraph()
	defer w.Release()
	g := w.Graph()

	if err := workpool.Do(ctx, d.Pool, "cleanup_and_merkle", func() error {
		g.CleanupAndMerkleTreeHash()
		return nil
	}); err != nil {
		return ids.Address{}, fail(span, err)
	}

	if g.PartitionCount() < s.base.PartitionCount() {
		return ids.Address{}, fail(span, fmt.Errorf("%w: base has %d partitions, working copy %d",
			ErrPartitionRemoved, s.base.PartitionCount(), g.PartitionCount()))
	}

	subs := g.SubGraphs()
	results := make(chan persistedSlot, len(subs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range subs {
		eg.Go(func() error {
			if addr, ok := g.PersistedPartition(i); ok {
				results <- persistedSlot{index: i, address: addr}
				return nil
			}
			data, err := workpool.Run(egCtx, d.Pool, "encode_subgraph", func() ([]byte, error) {
				return graph.EncodeSubGraph(subs[i])
			})
			if err != nil {
				return fmt.Errorf("encode partition %d: %w", i, err)
			}
			addr, err := d.Layers.Write(egCtx, layerstore.NamespaceSubGraph, data, d.Meta())
			if err != nil {
				return fmt.Errorf("write partition %d: %w", i, err)
			}
			results <- persistedSlot{index: i, address: addr, written: true}
			return nil
		})
	}
	err := eg.Wait()
	close(results)
	if err != nil {
		return ids.Address{}, fail(span, err)
	}

	slots := make([]persistedSlot, 0, len(subs))
	for r := range results {
		slots = append(slots, r)
	}
	slices.SortFunc(slots, func(a, b persistedSlot) int { return a.index - b.index })

	written := 0
	for _, slot := range slots {
		g.MarkPartitionPersisted(slot.index, slot.address)
		if slot.written {
			written++
		}
	}
	partitionsPersisted.WithLabelValues("written").Add(float64(written))
	partitionsPersisted.WithLabelValues("reused").Add(float64(len(slots) - written))

	super, err := graph.EncodeSuperGraph(g.SuperGraph())
	if err != nil {
		return ids.Address{}, fail(span, err)
	}
	addr := ids.AddressOf(super)
	if addr != s.Address() {
		if addr, err = d.Layers.Write(ctx, layerstore.NamespaceSuperGraph, super, d.Meta()); err != nil {
			return ids.Address{}, fail(span, fmt.Errorf("write supergraph: %w", err))
		}
	}
	s.setAddress(addr)

	writeDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("snapshot.partitions", len(slots)),
		attribute.Int("snapshot.partitions_written", written),
		attribute.String("snapshot.address", addr.String()),
	)
	span.SetStatus(codes.Ok, "")
	loggerWithTrace(ctx, d.Log()).Debug("workspace snapshot written",
		slog.String("component", "snapshot"),
		slog.String("address", addr.String()),
		slog.Int("partitions", len(slots)),
		slog.Int("written", written))
	return addr, nil
}

// -----------------------------------------------------------------------------
// Find
// -----------------------------------------------------------------------------

// Find rehydrates the snapshot persisted at addr.
//
// Outputs:
//
//	*WorkspaceSnapshot - A snapshot with no working copy.
//	error - *MissingAtAddressError if the supergraph or any partition is
//	  not visible, ErrNotMigrated for legacy bytes, or a wrapped layer store
//	  failure.
func Find(ctx context.Context, d *dal.Context, addr ids.Address) (*WorkspaceSnapshot, error) {
	ctx, span := tracer.Start(ctx, "snapshot.Find",
		trace.WithAttributes(attribute.String("snapshot.address", addr.String())))
	defer span.End()

	if err := d.Validate(); err != nil {
		return nil, fail(span, err)
	}

	data, ok, err := d.Layers.Read(ctx, layerstore.NamespaceSuperGraph, addr)
	if err != nil {
		return nil, fail(span, fmt.Errorf("read supergraph %s: %w", addr, err))
	}
	if !ok {
		return nil, fail(span, &MissingAtAddressError{Layer: LayerSuperGraph, Address: addr})
	}
	super, err := graph.DecodeSuperGraph(data)
	if err != nil {
		return nil, fail(span, fmt.Errorf("decode supergraph %s: %w", addr, err))
	}

	parts := make([]*graph.SubGraph, len(super.Addresses))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, partAddr := range super.Addresses {
		eg.Go(func() error {
			raw, ok, err := d.Layers.Read(egCtx, layerstore.NamespaceSubGraph, *partAddr)
			if err != nil {
				return fmt.Errorf("read partition %d: %w", i, err)
			}
			if !ok {
				return &MissingAtAddressError{Layer: LayerSubGraph, Address: *partAddr}
			}
			sub, err := workpool.Run(egCtx, d.Pool, "decode_subgraph", func() (*graph.SubGraph, error) {
				return graph.DecodeSubGraph(raw)
			})
			if err != nil {
				return fmt.Errorf("decode partition %d: %w", i, err)
			}
			parts[i] = sub
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fail(span, err)
	}

	g, err := graph.FromParts(super, parts)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("snapshot.partitions", len(parts)), attribute.Int("snapshot.nodes", g.NodeCount()))
	return newSnapshot(g, addr), nil
}

// FindForChangeSet resolves the change set's current address and loads it.
//
// Description:
//
//	The address lookup and the layer read race with writers publishing new
//	addresses and with layer visibility. Each attempt looks the address up
//	again and calls Find. Only *MissingAtAddressError is retried, up to
//	d.Retry.Attempts attempts spaced by d.Retry.Delay. A directory failure
//	is returned immediately.
//
// Outputs:
//
//	*WorkspaceSnapshot - The loaded snapshot.
//	error - The directory error, a non-retryable Find error, or
//	  ErrSnapshotNotFetched wrapping the last MissingAtAddressError.
func FindForChangeSet(ctx context.Context, d *dal.Context, changeSetID ids.ID) (*WorkspaceSnapshot, error) {
	ctx, span := tracer.Start(ctx, "snapshot.FindForChangeSet",
		trace.WithAttributes(attribute.String("change_set.id", changeSetID.String())))
	defer span.End()

	if d.ChangeSets == nil {
		return nil, fail(span, errors.New("dal context has no change-set directory"))
	}
	policy := d.RetryPolicy()
	limiter := rate.NewLimiter(rate.Every(policy.Delay), 1)
	logger := loggerWithTrace(ctx, d.Log()).With(
		slog.String("component", "snapshot"),
		slog.String("change_set_id", changeSetID.String()))

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fail(span, err)
		}
		addr, err := d.ChangeSets.Address(ctx, changeSetID)
		if err != nil {
			findAttempts.WithLabelValues("lookup_error").Inc()
			return nil, fail(span, fmt.Errorf("resolve change set %s: %w", changeSetID, err))
		}
		s, err := Find(ctx, d, addr)
		if err == nil {
			findAttempts.WithLabelValues("ok").Inc()
			span.SetAttributes(attribute.Int("snapshot.find_attempts", attempt))
			return s, nil
		}
		if !errors.Is(err, ErrMissingAtAddress) {
			findAttempts.WithLabelValues("error").Inc()
			return nil, fail(span, err)
		}
		findAttempts.WithLabelValues("missing").Inc()
		logger.Warn("snapshot not visible yet, retrying",
			slog.Int("attempt", attempt),
			slog.String("address", addr.String()))
		lastErr = err
	}
	return nil, fail(span, fmt.Errorf("%w: change set %s after %d attempts: %w",
		ErrSnapshotNotFetched, changeSetID, policy.Attempts, lastErr))
}
