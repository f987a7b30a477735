// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot implements the versioned workspace snapshot: a shared,
// immutable base graph plus a lazily created working copy, persisted as
// content-addressed partitions.
//
// # Lifecycle
//
// A snapshot is created by Initial, or rehydrated by Find or
// FindForChangeSet. Reads see the working copy if one exists and the base
// otherwise. The first mutation clones the base into the working copy;
// Revert drops it again. Write persists the working copy and publishes a
// new address.
//
// # Concurrency
//
// A *WorkspaceSnapshot is shared by pointer between goroutines. The working
// copy slot is guarded by a reader/writer lock, the published address by a
// mutex. The cycle-check guard count is atomic and the dependent-value-root set
// has its own mutex. Merkle hashing, diffing and serialization run on the
// dal worker pool.
package snapshot

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// DefaultViewName is the name of the view created by Initial.
const DefaultViewName = "DEFAULT"

// WorkspaceSnapshot is a versioned handle over one workspace graph.
//
// Thread Safety: Safe for concurrent use.
type WorkspaceSnapshot struct {
	addrMu  sync.Mutex
	address ids.Address

	// base is never mutated after construction. baseAddr is where it is
	// persisted, zero if it never was.
	base     *graph.Graph
	baseAddr ids.Address

	wcMu        sync.RWMutex
	workingCopy *graph.Graph

	cycleChecks atomic.Int32

	dvuMu    sync.Mutex
	dvuRoots map[ids.ID]struct{}

	inferredMu  sync.Mutex
	inferred    *InferredConnectionGraph
	inferredGen uint64
	inferredSF  singleflight.Group
}

func newSnapshot(base *graph.Graph, addr ids.Address) *WorkspaceSnapshot {
	return &WorkspaceSnapshot{
		address:  addr,
		base:     base,
		baseAddr: addr,
		dvuRoots: make(map[ids.ID]struct{}),
	}
}

// FromGraph wraps an in-memory graph without persisting it. The snapshot
// has no address until Write is called.
func FromGraph(g *graph.Graph) *WorkspaceSnapshot {
	return newSnapshot(g, ids.Address{})
}

// -----------------------------------------------------------------------------
// Guards
// -----------------------------------------------------------------------------

// readGuard holds the read lock over whichever graph is active.
type readGuard struct {
	s    *WorkspaceSnapshot
	g    *graph.Graph
	once sync.Once
}

func (r *readGuard) Graph() *graph.Graph { return r.g }

func (r *readGuard) Release() { r.once.Do(r.s.wcMu.RUnlock) }

// writeGuard holds the write lock over the working copy. Acquiring it is
// the only place a working copy is materialized.
type writeGuard struct {
	s    *WorkspaceSnapshot
	once sync.Once
}

func (w *writeGuard) Graph() *graph.Graph { return w.s.workingCopy }

func (w *writeGuard) Release() { w.once.Do(w.s.wcMu.Unlock) }

func (s *WorkspaceSnapshot) readGraph() *readGuard {
	s.wcMu.RLock()
	g := s.workingCopy
	if g == nil {
		g = s.base
	}
	return &readGuard{s: s, g: g}
}

// persistedBase returns the base's address when no working copy exists and
// the base was loaded from the layer store.
func (s *WorkspaceSnapshot) persistedBase() (ids.Address, bool) {
	s.wcMu.RLock()
	defer s.wcMu.RUnlock()
	if s.workingCopy != nil || s.baseAddr.IsZero() {
		return ids.Address{}, false
	}
	return s.baseAddr, true
}

func (s *WorkspaceSnapshot) writeGraph() *writeGuard {
	s.wcMu.Lock()
	if s.workingCopy == nil {
		s.workingCopy = s.base.Clone()
		workingCopies.Inc()
	}
	return &writeGuard{s: s}
}

// -----------------------------------------------------------------------------
// Handle state
// -----------------------------------------------------------------------------

// Address returns the last published address. It is zero for a snapshot
// that was never written.
func (s *WorkspaceSnapshot) Address() ids.Address {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.address
}

func (s *WorkspaceSnapshot) setAddress(addr ids.Address) {
	s.addrMu.Lock()
	s.address = addr
	s.addrMu.Unlock()
}

// HasWorkingCopy reports whether a mutation has materialized a working copy.
func (s *WorkspaceSnapshot) HasWorkingCopy() bool {
	s.wcMu.RLock()
	defer s.wcMu.RUnlock()
	return s.workingCopy != nil
}

// Revert discards the working copy so reads see the base again.
func (s *WorkspaceSnapshot) Revert() {
	s.wcMu.Lock()
	s.workingCopy = nil
	s.wcMu.Unlock()
}

// RootID returns the root node of the active graph.
func (s *WorkspaceSnapshot) RootID() ids.ID {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().RootID()
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// AddOrReplaceNode inserts w or replaces the weight of the node with its id.
func (s *WorkspaceSnapshot) AddOrReplaceNode(w weights.NodeWeight) error {
	g := s.writeGraph()
	defer g.Release()
	return g.Graph().AddOrReplaceNode(w)
}

// AddOrderedNode inserts w as an ordered container and returns the id of
// its ordering node.
func (s *WorkspaceSnapshot) AddOrderedNode(w weights.NodeWeight) (ids.ID, error) {
	g := s.writeGraph()
	defer g.Release()
	return g.Graph().AddOrderedNode(w)
}

// UpdateContent replaces the content hash of id.
func (s *WorkspaceSnapshot) UpdateContent(id ids.ID, content ids.Hash) error {
	g := s.writeGraph()
	defer g.Release()
	return g.Graph().UpdateContent(id, content)
}

// AddEdge adds the edge (src, w.Kind, dst). While a CycleCheckGuard is held
// the edge is rejected with ErrWouldCreateCycle if it would close a cycle.
func (s *WorkspaceSnapshot) AddEdge(src ids.ID, w weights.EdgeWeight, dst ids.ID) error {
	g := s.writeGraph()
	defer g.Release()
	if s.CycleCheckEnabled() {
		return g.Graph().AddEdgeWithCycleCheck(src, w, dst)
	}
	return g.Graph().AddEdge(src, w, dst)
}

// AddOrderedEdge adds an edge from an ordered container and appends dst to
// its ordering.
func (s *WorkspaceSnapshot) AddOrderedEdge(src ids.ID, w weights.EdgeWeight, dst ids.ID) error {
	g := s.writeGraph()
	defer g.Release()
	if _, ordered := g.Graph().OrderingNodeFor(src); ordered && s.CycleCheckEnabled() {
		if err := g.Graph().AddEdgeWithCycleCheck(src, w, dst); err != nil {
			return err
		}
	}
	return g.Graph().AddOrderedEdge(src, w, dst)
}

// RemoveNodeByID removes a node and all its edges.
func (s *WorkspaceSnapshot) RemoveNodeByID(id ids.ID) error {
	g := s.writeGraph()
	defer g.Release()
	return g.Graph().RemoveNode(id)
}

// RemoveAllEdges detaches id from the graph, which removes it.
func (s *WorkspaceSnapshot) RemoveAllEdges(id ids.ID) error {
	return s.RemoveNodeByID(id)
}

// RemoveEdge removes the edge (src, kind, dst).
func (s *WorkspaceSnapshot) RemoveEdge(src, dst ids.ID, kind weights.EdgeKind) error {
	g := s.writeGraph()
	defer g.Release()
	return g.Graph().RemoveEdge(src, dst, kind)
}

// RemoveIncomingEdgesOfKind removes every edge of kind that targets target.
func (s *WorkspaceSnapshot) RemoveIncomingEdgesOfKind(target ids.ID, kind weights.EdgeKind) error {
	g := s.writeGraph()
	defer g.Release()
	return g.Graph().RemoveIncomingEdgesOfKind(target, kind)
}

// UpdateNodeID rewrites a node identifier, stamping lineage.
func (s *WorkspaceSnapshot) UpdateNodeID(oldID, newID, lineage ids.ID) error {
	g := s.writeGraph()
	defer g.Release()
	return g.Graph().UpdateNodeID(oldID, newID, lineage)
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// NodeWeight returns a copy of the weight of id.
func (s *WorkspaceSnapshot) NodeWeight(id ids.ID) (weights.NodeWeight, error) {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().NodeWeight(id)
}

// HasNode reports whether id exists in the active graph.
func (s *WorkspaceSnapshot) HasNode(id ids.ID) bool {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().HasNode(id)
}

// EdgesDirected returns the edges of id in one direction.
func (s *WorkspaceSnapshot) EdgesDirected(id ids.ID, dir graph.Direction) []graph.Edge {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().EdgesDirected(id, dir)
}

// EdgesDirectedForEdgeWeightKind returns the edges of id of one kind.
func (s *WorkspaceSnapshot) EdgesDirectedForEdgeWeightKind(id ids.ID, kind weights.EdgeKind, dir graph.Direction) []graph.Edge {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().EdgesDirectedForKind(id, kind, dir)
}

// OrderedChildren returns the ordered children of a container and whether
// it is ordered at all.
func (s *WorkspaceSnapshot) OrderedChildren(id ids.ID) ([]ids.ID, bool, error) {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().OrderedChildren(id)
}

// NodeCount returns the number of nodes in the active graph.
func (s *WorkspaceSnapshot) NodeCount() int {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().NodeCount()
}

// PartitionCount returns the number of partitions in the active graph.
func (s *WorkspaceSnapshot) PartitionCount() int {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().PartitionCount()
}

// Nodes returns copies of every node in identifier order.
func (s *WorkspaceSnapshot) Nodes() []weights.NodeWeight {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().Nodes()
}

// Edges returns every edge in (source, kind, target) order.
func (s *WorkspaceSnapshot) Edges() []graph.Edge {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().Edges()
}

// IsAcyclicDirected reports whether the active graph has no directed cycle.
func (s *WorkspaceSnapshot) IsAcyclicDirected() bool {
	r := s.readGraph()
	defer r.Release()
	return r.Graph().IsAcyclicDirected()
}
