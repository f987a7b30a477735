// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace wires the snapshot engine to its collaborators and
// exposes change sets over HTTP.
//
// A Service owns one layer store, one change-set directory and one worker
// pool. Every operation resolves a change set to its published snapshot
// with snapshot.FindForChangeSet; mutating operations write the snapshot
// and republish the new address in the directory.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/changegraph/services/workspace/changeset"
	"github.com/AleutianAI/changegraph/services/workspace/config"
	"github.com/AleutianAI/changegraph/services/workspace/dal"
	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/layerstore"
	"github.com/AleutianAI/changegraph/services/workspace/snapshot"
	"github.com/AleutianAI/changegraph/services/workspace/telemetry"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
	"github.com/AleutianAI/changegraph/services/workspace/workpool"
)

// ErrInvalidName is returned for an empty change-set or view name.
var ErrInvalidName = errors.New("name must not be empty")

// Service runs change-set operations against persisted snapshots.
//
// Thread Safety: Safe for concurrent use. Mutations are serialized per
// process so that load, write and republish happen atomically with respect
// to each other.
type Service struct {
	cfg     config.Config
	logger  *slog.Logger
	layers  layerstore.Store
	dir     *changeset.SQLiteDirectory
	pool    *workpool.Pool
	dal     *dal.Context
	metrics *telemetry.Metrics

	// mutateMu serializes load-mutate-write-publish cycles.
	mutateMu sync.Mutex
}

// Open builds a Service from cfg, opening the configured layer store and
// the SQLite change-set directory.
//
// Description:
//
//	The caller owns the returned Service and must Close it. On failure
//	every collaborator opened so far is closed again.
//
// Inputs:
//
//	ctx - Context for opening backends.
//	cfg - Validated configuration.
//	logger - Base logger. Nil uses slog.Default().
//
// Outputs:
//
//	*Service - Ready to serve.
//	error - Backend open failures.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	layers, err := layerstore.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open layer store: %w", err)
	}
	dir, err := changeset.OpenSQLite(ctx, cfg.ChangeSets.SQLitePath, logger)
	if err != nil {
		layers.Close()
		return nil, fmt.Errorf("open change-set directory: %w", err)
	}
	return New(cfg, logger, layers, dir), nil
}

// New builds a Service around already open collaborators. Close closes them.
func New(cfg config.Config, logger *slog.Logger, layers layerstore.Store, dir *changeset.SQLiteDirectory) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	pool := workpool.New(cfg.Workers.Size, logger)
	d := dal.New(cfg.Tenancy, cfg.Actor, layers, dir, pool, logger)
	d.Retry = cfg.Retry

	s := &Service{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "workspace")),
		layers: layers,
		dir:    dir,
		pool:   pool,
		dal:    d,
	}
	metrics, err := telemetry.NewMetrics(otel.Meter("changegraph.api"))
	if err != nil {
		s.logger.Warn("api metrics disabled", slog.String("error", err.Error()))
	} else {
		s.metrics = metrics
	}
	return s
}

// Close releases the directory and the layer store.
func (s *Service) Close() error {
	return errors.Join(s.dir.Close(), s.layers.Close())
}

// Metrics returns the API instruments, or nil when they are disabled.
func (s *Service) Metrics() *telemetry.Metrics {
	return s.metrics
}

// ----- change sets -----

// CreateChangeSet bootstraps an initial snapshot and registers a change set
// publishing it.
func (s *Service) CreateChangeSet(ctx context.Context, name string) (changeset.ChangeSet, error) {
	if name == "" {
		return changeset.ChangeSet{}, ErrInvalidName
	}
	snap, err := snapshot.Initial(ctx, s.dal, s.cfg.Graph.SplitThreshold)
	if err != nil {
		return changeset.ChangeSet{}, fmt.Errorf("initial snapshot: %w", err)
	}
	s.countWrite(ctx, "create")
	return s.dir.Create(ctx, name, snap.Address())
}

// ForkChangeSet registers a change set starting from base's current snapshot.
func (s *Service) ForkChangeSet(ctx context.Context, base ids.ID, name string) (changeset.ChangeSet, error) {
	if name == "" {
		return changeset.ChangeSet{}, ErrInvalidName
	}
	return s.dir.Fork(ctx, base, name)
}

// ChangeSet returns one directory row.
func (s *Service) ChangeSet(ctx context.Context, id ids.ID) (changeset.ChangeSet, error) {
	return s.dir.Get(ctx, id)
}

// ChangeSets lists every directory row in creation order.
func (s *Service) ChangeSets(ctx context.Context) ([]changeset.ChangeSet, error) {
	return s.dir.List(ctx)
}

// Summary describes the snapshot a change set publishes.
type Summary struct {
	ChangeSet      changeset.ChangeSet
	RootID         ids.ID
	NodeCount      int
	PartitionCount int
	Views          []snapshot.View
}

// Summarize loads the snapshot of a change set and reports its shape.
func (s *Service) Summarize(ctx context.Context, id ids.ID) (Summary, error) {
	cs, err := s.dir.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	snap, err := s.load(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	views, err := snap.ListViews(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		ChangeSet:      cs,
		RootID:         snap.RootID(),
		NodeCount:      snap.NodeCount(),
		PartitionCount: snap.PartitionCount(),
		Views:          views,
	}, nil
}

// ----- nodes and views -----

// NodeDetail is one node with its adjacent edges.
type NodeDetail struct {
	Weight   weights.NodeWeight
	Outgoing []graph.Edge
	Incoming []graph.Edge
}

// Node returns one node of a change set's snapshot.
func (s *Service) Node(ctx context.Context, id, node ids.ID) (NodeDetail, error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return NodeDetail{}, err
	}
	w, err := snap.NodeWeight(node)
	if err != nil {
		return NodeDetail{}, err
	}
	return NodeDetail{
		Weight:   w,
		Outgoing: snap.EdgesDirected(node, graph.Outgoing),
		Incoming: snap.EdgesDirected(node, graph.Incoming),
	}, nil
}

// Views lists the views of a change set's snapshot.
func (s *Service) Views(ctx context.Context, id ids.ID) ([]snapshot.View, error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.ListViews(ctx)
}

// CreateView adds a view and republishes the change set.
func (s *Service) CreateView(ctx context.Context, id ids.ID, name string) (ids.ID, ids.Address, error) {
	if name == "" {
		return ids.ID{}, ids.Address{}, ErrInvalidName
	}
	var view ids.ID
	addr, err := s.mutate(ctx, id, "create_view", func(snap *snapshot.WorkspaceSnapshot) error {
		var err error
		view, err = snap.CreateView(ctx, name)
		return err
	})
	return view, addr, err
}

// RemoveView removes a view under the orphan rule and republishes the
// change set.
func (s *Service) RemoveView(ctx context.Context, id, view ids.ID) (ids.Address, error) {
	return s.mutate(ctx, id, "remove_view", func(snap *snapshot.WorkspaceSnapshot) error {
		return snap.ViewRemove(ctx, s.dal, view)
	})
}

// ----- rebase and changes -----

// RebaseBatch returns the updates that turn onto's snapshot into id's.
func (s *Service) RebaseBatch(ctx context.Context, id, onto ids.ID) ([]graph.Update, error) {
	updated, base, err := s.loadPair(ctx, id, onto)
	if err != nil {
		return nil, err
	}
	return snapshot.CalculateRebaseBatch(ctx, s.dal, base, updated)
}

// Changes returns the entities of id's snapshot whose subtree differs from
// against's.
func (s *Service) Changes(ctx context.Context, id, against ids.ID) ([]graph.Change, error) {
	updated, base, err := s.loadPair(ctx, id, against)
	if err != nil {
		return nil, err
	}
	return base.DetectChanges(ctx, s.dal, updated)
}

// Approvals returns the approval requirements attached to the entities that
// changed between against and id.
func (s *Service) Approvals(ctx context.Context, id, against ids.ID) ([]snapshot.ApprovalRequirement, error) {
	updated, base, err := s.loadPair(ctx, id, against)
	if err != nil {
		return nil, err
	}
	changes, err := base.DetectChanges(ctx, s.dal, updated)
	if err != nil {
		return nil, err
	}
	return updated.ApprovalRequirementsForChanges(ctx, changes)
}

// ApplyResult reports an Apply.
type ApplyResult struct {
	Updates int
	Address ids.Address
}

// Apply replays the rebase batch from target to source onto target and
// republishes target.
func (s *Service) Apply(ctx context.Context, target, source ids.ID) (ApplyResult, error) {
	var n int
	addr, err := s.mutate(ctx, target, "apply", func(snap *snapshot.WorkspaceSnapshot) error {
		src, err := s.load(ctx, source)
		if err != nil {
			return err
		}
		updates, err := snapshot.CalculateRebaseBatch(ctx, s.dal, snap, src)
		if err != nil {
			return err
		}
		n = len(updates)
		return snap.PerformUpdates(ctx, s.dal, updates)
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Updates: n, Address: addr}, nil
}

// ----- internals -----

func (s *Service) load(ctx context.Context, id ids.ID) (*snapshot.WorkspaceSnapshot, error) {
	snap, err := snapshot.FindForChangeSet(ctx, s.dal, id)
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.SnapshotLoadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
	return snap, err
}

func (s *Service) loadPair(ctx context.Context, a, b ids.ID) (*snapshot.WorkspaceSnapshot, *snapshot.WorkspaceSnapshot, error) {
	first, err := s.load(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	second, err := s.load(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

// mutate loads id's snapshot, applies fn, writes the result and republishes
// the address. Nothing is published when fn fails.
func (s *Service) mutate(ctx context.Context, id ids.ID, op string, fn func(*snapshot.WorkspaceSnapshot) error) (ids.Address, error) {
	s.mutateMu.Lock()
	defer s.mutateMu.Unlock()

	snap, err := s.load(ctx, id)
	if err != nil {
		return ids.Address{}, err
	}
	if err := fn(snap); err != nil {
		return ids.Address{}, err
	}
	addr, err := snap.Write(ctx, s.dal)
	if err != nil {
		return ids.Address{}, fmt.Errorf("%s: write snapshot: %w", op, err)
	}
	if err := s.dir.SetAddress(ctx, id, addr); err != nil {
		return ids.Address{}, fmt.Errorf("%s: publish snapshot: %w", op, err)
	}
	s.countWrite(ctx, op)
	s.logger.Info("change set updated",
		slog.String("op", op),
		slog.String("change_set_id", id.String()),
		slog.String("address", addr.String()))
	return addr, nil
}

func (s *Service) countWrite(ctx context.Context, op string) {
	if s.metrics != nil {
		s.metrics.SnapshotWritesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}
