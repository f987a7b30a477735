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
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/changegraph/services/workspace/dal"
	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// -----------------------------------------------------------------------------
// Cycle check
// -----------------------------------------------------------------------------

// CycleCheckGuard keeps cycle checking enabled until released.
type CycleCheckGuard struct {
	s    *WorkspaceSnapshot
	once sync.Once
}

// EnableCycleCheck turns on cycle checking for AddEdge and AddOrderedEdge.
//
// Description:
//
//	Checking stays on while at least one guard is held. Guards may be
//	released in any order, from any goroutine. Typical use:
//
//	  guard := s.EnableCycleCheck()
//	  defer guard.Release()
//
// Thread Safety: Safe for concurrent use. The guard count is shared by
// every goroutine holding the snapshot.
func (s *WorkspaceSnapshot) EnableCycleCheck() *CycleCheckGuard {
	s.cycleChecks.Add(1)
	return &CycleCheckGuard{s: s}
}

// Release drops this guard's hold on cycle checking. Only the first call
// has an effect.
func (g *CycleCheckGuard) Release() {
	g.once.Do(func() { g.s.cycleChecks.Add(-1) })
}

// CycleCheckEnabled reports whether cycle checking is currently on.
func (s *WorkspaceSnapshot) CycleCheckEnabled() bool {
	return s.cycleChecks.Load() > 0
}

// -----------------------------------------------------------------------------
// Dependent value roots
// -----------------------------------------------------------------------------

// DVURootCheck reports whether root was already recorded in this edit
// session, recording it if not.
func (s *WorkspaceSnapshot) DVURootCheck(root ids.ID) bool {
	s.dvuMu.Lock()
	defer s.dvuMu.Unlock()
	if _, ok := s.dvuRoots[root]; ok {
		return true
	}
	s.dvuRoots[root] = struct{}{}
	return false
}

// AddDependentValueRoot schedules valueID for downstream recomputation.
// A value already scheduled in this session adds nothing to the graph.
//
// Outputs:
//
//	bool - True if a new root node was added.
//	error - *CategoryNotFoundError if the graph has no dependent value
//	  roots category.
func (s *WorkspaceSnapshot) AddDependentValueRoot(ctx context.Context, d *dal.Context, valueID ids.ID) (bool, error) {
	_, span := tracer.Start(ctx, "snapshot.AddDependentValueRoot")
	defer span.End()

	if s.DVURootCheck(valueID) {
		span.SetAttributes(attribute.Bool("dvu.duplicate", true))
		return false, nil
	}

	w := s.writeGraph()
	defer w.Release()
	g := w.Graph()

	cat, err := categoryNodeOrErr(g, weights.CategoryDependentValueRoots)
	if err != nil {
		s.forgetDVURoot(valueID)
		return false, fail(span, err)
	}
	node := weights.NewDependentValueRoot(valueID)
	if err := g.AddOrReplaceNode(node); err != nil {
		s.forgetDVURoot(valueID)
		return false, fail(span, err)
	}
	if err := g.AddEdge(cat, weights.UseEdge(false), node.ID()); err != nil {
		s.forgetDVURoot(valueID)
		return false, fail(span, err)
	}
	d.Log().Debug("dependent value root added",
		slog.String("component", "snapshot"),
		slog.String("value_id", valueID.String()))
	return true, nil
}

func (s *WorkspaceSnapshot) forgetDVURoot(root ids.ID) {
	s.dvuMu.Lock()
	delete(s.dvuRoots, root)
	s.dvuMu.Unlock()
}

// TakeDependentValueRoots removes every dependent value root node from the
// graph and returns their value identifiers in identifier order. Taken
// values may be scheduled again.
func (s *WorkspaceSnapshot) TakeDependentValueRoots(ctx context.Context) ([]ids.ID, error) {
	_, span := tracer.Start(ctx, "snapshot.TakeDependentValueRoots")
	defer span.End()

	w := s.writeGraph()
	defer w.Release()
	g := w.Graph()

	cat, err := categoryNodeOrErr(g, weights.CategoryDependentValueRoots)
	if err != nil {
		return nil, fail(span, err)
	}

	var values []ids.ID
	for _, e := range g.EdgesDirectedForKind(cat, weights.EdgeKindUse, graph.Outgoing) {
		nw, err := g.NodeWeight(e.Target)
		if err != nil {
			return nil, fail(span, err)
		}
		root, err := weights.As[*weights.DependentValueRootNodeWeight](nw)
		if err != nil {
			return nil, fail(span, err)
		}
		if err := g.RemoveNode(root.ID()); err != nil {
			return nil, fail(span, err)
		}
		values = append(values, root.ValueID)
	}
	ids.SortIDs(values)

	s.dvuMu.Lock()
	for _, v := range values {
		delete(s.dvuRoots, v)
	}
	s.dvuMu.Unlock()

	span.SetAttributes(attribute.Int("dvu.taken", len(values)))
	return values, nil
}

// HasDependentValueRoots reports whether any value is scheduled.
func (s *WorkspaceSnapshot) HasDependentValueRoots(ctx context.Context) (bool, error) {
	r := s.readGraph()
	defer r.Release()
	cat, err := categoryNodeOrErr(r.Graph(), weights.CategoryDependentValueRoots)
	if err != nil {
		return false, err
	}
	return len(r.Graph().EdgesDirectedForKind(cat, weights.EdgeKindUse, graph.Outgoing)) > 0, nil
}
