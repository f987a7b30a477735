// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"maps"
	"slices"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// SuperGraph is the routing record of a partitioned graph.
//
// Invariant: len(Addresses) == len(PersistedHashes) == number of partitions.
// An address is nil only for a slot that has never been persisted.
type SuperGraph struct {
	Addresses       []*ids.Address
	PersistedHashes []ids.Hash
	RootIndex       int
	RootID          ids.ID
	CrossEdges      []Edge
	SplitThreshold  int
}

// Graph is a workspace graph split into bounded partitions.
//
// Description:
//
//	Nodes are placed in the last partition until it reaches the split
//	threshold, after which a new partition is opened. Partitions are never
//	reordered or removed. Edges between nodes of the same partition are
//	stored in that partition; all others are cross edges held here.
//
//	Clone is cheap relative to the graph size: partitions are shared and
//	frozen, and each side copies a partition the first time it modifies it.
//
// Thread Safety: NOT safe for concurrent use. Callers (the snapshot) guard
// a Graph with a reader/writer lock; read-only methods may run concurrently
// with each other.
type Graph struct {
	subgraphs      []*SubGraph
	addresses      []*ids.Address
	persisted      []ids.Hash
	rootID         ids.ID
	splitThreshold int

	location map[ids.ID]int
	crossOut map[ids.ID]map[edgeKey]weights.EdgeWeight
	crossIn  map[ids.ID]map[edgeKey]struct{}

	dirtyNodes map[ids.ID]struct{}
	dirtyParts map[int]struct{}
}

func empty(splitThreshold int) *Graph {
	return &Graph{
		splitThreshold: splitThreshold,
		location:       make(map[ids.ID]int),
		crossOut:       make(map[ids.ID]map[edgeKey]weights.EdgeWeight),
		crossIn:        make(map[ids.ID]map[edgeKey]struct{}),
		dirtyNodes:     make(map[ids.ID]struct{}),
		dirtyParts:     make(map[int]struct{}),
	}
}

// New creates a graph holding only a root node.
//
// Inputs:
//
//	splitThreshold - Maximum nodes per partition. Zero or negative means a
//	  single unbounded partition.
func New(splitThreshold int) *Graph {
	return NewWithRoot(splitThreshold, weights.NewRoot())
}

// NewWithRoot is like New but uses the supplied root weight.
func NewWithRoot(splitThreshold int, root *weights.RootNodeWeight) *Graph {
	g := empty(splitThreshold)
	g.appendPartition()
	g.insertNode(0, root.Clone())
	g.rootID = root.ID()
	return g
}

// FromParts reassembles a graph from a persisted supergraph and its
// partitions, in supergraph order.
//
// Outputs:
//
//	*Graph - The reassembled graph. Merkle hashes are those stored in the
//	  parts; the graph is not dirty.
//	error - ErrPartitionMismatch, ErrDuplicateNode, ErrMissingRoot or
//	  ErrNodeNotFound (for a dangling cross edge).
func FromParts(super SuperGraph, parts []*SubGraph) (*Graph, error) {
	if len(parts) != len(super.Addresses) || len(parts) != len(super.PersistedHashes) {
		return nil, fmt.Errorf("%w: %d addresses, %d hashes, %d partitions",
			ErrPartitionMismatch, len(super.Addresses), len(super.PersistedHashes), len(parts))
	}

	g := empty(super.SplitThreshold)
	g.subgraphs = parts
	g.addresses = slices.Clone(super.Addresses)
	g.persisted = slices.Clone(super.PersistedHashes)
	g.rootID = super.RootID

	for i, part := range parts {
		for id := range part.nodes {
			if prev, dup := g.location[id]; dup {
				return nil, fmt.Errorf("%w: %s in partitions %d and %d", ErrDuplicateNode, id, prev, i)
			}
			g.location[id] = i
		}
	}
	if p, ok := g.location[g.rootID]; !ok || p != super.RootIndex {
		return nil, fmt.Errorf("%w: %s", ErrMissingRoot, g.rootID)
	}
	for _, e := range super.CrossEdges {
		if !g.HasNode(e.Source) {
			return nil, nodeNotFound(e.Source)
		}
		if !g.HasNode(e.Target) {
			return nil, nodeNotFound(e.Target)
		}
		g.setCrossEdge(e.Source, e.Weight, e.Target)
	}
	return g, nil
}

// Clone returns an independent graph sharing frozen partitions with g.
func (g *Graph) Clone() *Graph {
	for _, s := range g.subgraphs {
		s.frozen.Store(true)
	}
	c := &Graph{
		subgraphs:      slices.Clone(g.subgraphs),
		addresses:      slices.Clone(g.addresses),
		persisted:      slices.Clone(g.persisted),
		rootID:         g.rootID,
		splitThreshold: g.splitThreshold,
		location:       maps.Clone(g.location),
		crossOut:       make(map[ids.ID]map[edgeKey]weights.EdgeWeight, len(g.crossOut)),
		crossIn:        make(map[ids.ID]map[edgeKey]struct{}, len(g.crossIn)),
		dirtyNodes:     maps.Clone(g.dirtyNodes),
		dirtyParts:     maps.Clone(g.dirtyParts),
	}
	for id, out := range g.crossOut {
		c.crossOut[id] = maps.Clone(out)
	}
	for id, in := range g.crossIn {
		c.crossIn[id] = maps.Clone(in)
	}
	return c
}

// -----------------------------------------------------------------------------
// Partition bookkeeping
// -----------------------------------------------------------------------------

func (g *Graph) appendPartition() int {
	g.subgraphs = append(g.subgraphs, newSubGraph())
	g.addresses = append(g.addresses, nil)
	g.persisted = append(g.persisted, ids.Hash{})
	i := len(g.subgraphs) - 1
	g.dirtyParts[i] = struct{}{}
	return i
}

// placement picks the partition for a new node.
func (g *Graph) placement() int {
	last := len(g.subgraphs) - 1
	if g.splitThreshold <= 0 || g.subgraphs[last].NodeCount() < g.splitThreshold {
		return last
	}
	return g.appendPartition()
}

// mutableSub returns partition i, copying it first if it is shared.
func (g *Graph) mutableSub(i int) *SubGraph {
	s := g.subgraphs[i]
	if s.frozen.Load() {
		s = s.clone()
		g.subgraphs[i] = s
	}
	return s
}

func (g *Graph) markDirty(id ids.ID) {
	g.dirtyNodes[id] = struct{}{}
	if p, ok := g.location[id]; ok {
		g.dirtyParts[p] = struct{}{}
	}
}

// PartitionCount returns the number of partitions.
func (g *Graph) PartitionCount() int {
	return len(g.subgraphs)
}

// SubGraphs returns the partitions in slot order. Callers must not modify
// them.
func (g *Graph) SubGraphs() []*SubGraph {
	return slices.Clone(g.subgraphs)
}

// SplitThreshold returns the per-partition node limit.
func (g *Graph) SplitThreshold() int {
	return g.splitThreshold
}

// PartitionRootHash returns the hash of partition i as of the last merkle pass.
func (g *Graph) PartitionRootHash(i int) ids.Hash {
	return g.subgraphs[i].rootHash
}

// PersistedPartition reports whether partition i can reuse its recorded
// address: it has one, and its current hash equals the hash recorded when
// that address was written.
func (g *Graph) PersistedPartition(i int) (ids.Address, bool) {
	if i >= len(g.addresses) || g.addresses[i] == nil {
		return ids.Address{}, false
	}
	if g.persisted[i] != g.subgraphs[i].rootHash {
		return ids.Address{}, false
	}
	return *g.addresses[i], true
}

// MarkPartitionPersisted records that partition i, at its current hash, is
// stored at addr.
func (g *Graph) MarkPartitionPersisted(i int, addr ids.Address) {
	a := addr
	g.addresses[i] = &a
	g.persisted[i] = g.subgraphs[i].rootHash
}

// SuperGraph returns the routing record for the graph's current state.
func (g *Graph) SuperGraph() SuperGraph {
	cross := make([]Edge, 0, len(g.crossOut))
	for src, out := range g.crossOut {
		for k, w := range out {
			cross = append(cross, Edge{Source: src, Target: k.Peer, Weight: w})
		}
	}
	slices.SortFunc(cross, compareEdges)
	return SuperGraph{
		Addresses:       slices.Clone(g.addresses),
		PersistedHashes: slices.Clone(g.persisted),
		RootIndex:       g.location[g.rootID],
		RootID:          g.rootID,
		CrossEdges:      cross,
		SplitThreshold:  g.splitThreshold,
	}
}

// -----------------------------------------------------------------------------
// Nodes
// -----------------------------------------------------------------------------

// RootID returns the root node identifier.
func (g *Graph) RootID() ids.ID {
	return g.rootID
}

// NodeCount returns the number of nodes across all partitions.
func (g *Graph) NodeCount() int {
	return len(g.location)
}

// HasNode reports whether id names a node.
func (g *Graph) HasNode(id ids.ID) bool {
	_, ok := g.location[id]
	return ok
}

// NodeIndex returns the partition holding id.
func (g *Graph) NodeIndex(id ids.ID) (int, bool) {
	p, ok := g.location[id]
	return p, ok
}

// node returns the stored weight without copying. Internal use only.
func (g *Graph) node(id ids.ID) (weights.NodeWeight, bool) {
	p, ok := g.location[id]
	if !ok {
		return nil, false
	}
	w, ok := g.subgraphs[p].nodes[id]
	return w, ok
}

// NodeWeight returns a copy of the weight of id.
func (g *Graph) NodeWeight(id ids.ID) (weights.NodeWeight, error) {
	w, ok := g.node(id)
	if !ok {
		return nil, nodeNotFound(id)
	}
	return w.Clone(), nil
}

// Nodes returns copies of every node in identifier order.
func (g *Graph) Nodes() []weights.NodeWeight {
	out := make([]weights.NodeWeight, 0, len(g.location))
	for _, s := range g.subgraphs {
		for _, w := range s.nodes {
			out = append(out, w.Clone())
		}
	}
	slices.SortFunc(out, func(a, b weights.NodeWeight) int { return a.ID().Compare(b.ID()) })
	return out
}

func (g *Graph) insertNode(p int, w weights.NodeWeight) {
	s := g.mutableSub(p)
	s.nodes[w.ID()] = w
	g.location[w.ID()] = p
	g.markDirty(w.ID())
}

// AddOrReplaceNode inserts w, or replaces the weight of an existing node
// with the same identifier while keeping its edges.
func (g *Graph) AddOrReplaceNode(w weights.NodeWeight) error {
	if w == nil {
		return ErrNilWeight
	}
	w = w.Clone()
	if p, ok := g.location[w.ID()]; ok {
		g.mutableSub(p).nodes[w.ID()] = w
		g.markDirty(w.ID())
		return nil
	}
	g.insertNode(g.placement(), w)
	return nil
}

// UpdateContent replaces the content hash of id.
func (g *Graph) UpdateContent(id ids.ID, content ids.Hash) error {
	w, ok := g.node(id)
	if !ok {
		return nodeNotFound(id)
	}
	updated, err := weights.ReplaceContent(w, content)
	if err != nil {
		return err
	}
	g.mutableSub(g.location[id]).nodes[id] = updated
	g.markDirty(id)
	return nil
}

// RemoveNode removes id and every edge touching it. The node is also
// dropped from the ordering of any ordered parent.
func (g *Graph) RemoveNode(id ids.ID) error {
	if id == g.rootID {
		return ErrCannotRemoveRoot
	}
	if !g.HasNode(id) {
		return nodeNotFound(id)
	}
	g.removeNode(id)
	return nil
}

func (g *Graph) removeNode(id ids.ID) {
	for _, e := range g.EdgesDirected(id, Incoming) {
		g.dropFromOrdering(e.Source, id)
		g.deleteEdge(e.Source, id, e.Weight.Kind)
	}
	for _, e := range g.EdgesDirected(id, Outgoing) {
		g.deleteEdge(id, e.Target, e.Weight.Kind)
	}
	p := g.location[id]
	delete(g.mutableSub(p).nodes, id)
	delete(g.location, id)
	delete(g.dirtyNodes, id)
	g.dirtyParts[p] = struct{}{}
}

// UpdateNodeID rewrites the identifier of a node, keeping its edges,
// ordering positions and partition, and stamping the supplied lineage.
func (g *Graph) UpdateNodeID(oldID, newID, lineage ids.ID) error {
	if !g.HasNode(oldID) {
		return nodeNotFound(oldID)
	}
	if oldID == newID {
		w, _ := g.node(oldID)
		g.mutableSub(g.location[oldID]).nodes[oldID] = weights.WithIdentity(w, newID, lineage)
		g.markDirty(oldID)
		return nil
	}
	if g.HasNode(newID) {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, newID)
	}

	out := g.EdgesDirected(oldID, Outgoing)
	in := g.EdgesDirected(oldID, Incoming)
	for _, e := range out {
		g.deleteEdge(e.Source, e.Target, e.Weight.Kind)
	}
	for _, e := range in {
		g.deleteEdge(e.Source, e.Target, e.Weight.Kind)
	}

	p := g.location[oldID]
	s := g.mutableSub(p)
	w := s.nodes[oldID]
	delete(s.nodes, oldID)
	delete(g.location, oldID)
	delete(g.dirtyNodes, oldID)
	s.nodes[newID] = weights.WithIdentity(w, newID, lineage)
	g.location[newID] = p
	g.markDirty(newID)

	rename := func(id ids.ID) ids.ID {
		if id == oldID {
			return newID
		}
		return id
	}
	for _, e := range out {
		g.setEdge(newID, e.Weight, rename(e.Target))
	}
	for _, e := range in {
		src := rename(e.Source)
		g.setEdge(src, e.Weight, newID)
		g.replaceInOrdering(src, oldID, newID)
	}
	if g.rootID == oldID {
		g.rootID = newID
	}
	return nil
}

// -----------------------------------------------------------------------------
// Edges
// -----------------------------------------------------------------------------

func (g *Graph) setCrossEdge(src ids.ID, w weights.EdgeWeight, dst ids.ID) {
	out := g.crossOut[src]
	if out == nil {
		out = make(map[edgeKey]weights.EdgeWeight)
		g.crossOut[src] = out
	}
	out[edgeKey{Kind: w.Kind, Peer: dst}] = w

	in := g.crossIn[dst]
	if in == nil {
		in = make(map[edgeKey]struct{})
		g.crossIn[dst] = in
	}
	in[edgeKey{Kind: w.Kind, Peer: src}] = struct{}{}
}

func (g *Graph) setEdge(src ids.ID, w weights.EdgeWeight, dst ids.ID) {
	ps, pd := g.location[src], g.location[dst]
	if ps == pd {
		g.mutableSub(ps).setEdge(src, w, dst)
	} else {
		g.setCrossEdge(src, w, dst)
	}
	g.markDirty(src)
}

func (g *Graph) deleteEdge(src, dst ids.ID, kind weights.EdgeKind) bool {
	ps, ok := g.location[src]
	if !ok {
		return false
	}
	pd, ok := g.location[dst]
	if !ok {
		return false
	}

	removed := false
	if ps == pd {
		if _, exists := g.subgraphs[ps].outgoing[src][edgeKey{Kind: kind, Peer: dst}]; exists {
			removed = g.mutableSub(ps).deleteEdge(src, dst, kind)
		}
	} else if out := g.crossOut[src]; out != nil {
		key := edgeKey{Kind: kind, Peer: dst}
		if _, exists := out[key]; exists {
			delete(out, key)
			if len(out) == 0 {
				delete(g.crossOut, src)
			}
			if in := g.crossIn[dst]; in != nil {
				delete(in, edgeKey{Kind: kind, Peer: src})
				if len(in) == 0 {
					delete(g.crossIn, dst)
				}
			}
			removed = true
		}
	}
	if removed {
		g.markDirty(src)
	}
	return removed
}

func (g *Graph) hasEdge(src, dst ids.ID, kind weights.EdgeKind) bool {
	key := edgeKey{Kind: kind, Peer: dst}
	if p, ok := g.location[src]; ok {
		if _, exists := g.subgraphs[p].outgoing[src][key]; exists {
			return true
		}
	}
	_, exists := g.crossOut[src][key]
	return exists
}

// AddEdge adds or updates the edge (src, w.Kind, dst).
func (g *Graph) AddEdge(src ids.ID, w weights.EdgeWeight, dst ids.ID) error {
	if !g.HasNode(src) {
		return nodeNotFound(src)
	}
	if !g.HasNode(dst) {
		return nodeNotFound(dst)
	}
	g.setEdge(src, w, dst)
	return nil
}

// RemoveEdge removes the edge (src, kind, dst). If src is an ordered
// container and no other edge still links it to dst, dst also leaves the
// ordering.
func (g *Graph) RemoveEdge(src, dst ids.ID, kind weights.EdgeKind) error {
	if !g.deleteEdge(src, dst, kind) {
		return &EdgeNotFoundError{Source: src, Target: dst, Kind: kind}
	}
	if kind != weights.EdgeKindOrdering && !g.linked(src, dst) {
		g.dropFromOrdering(src, dst)
	}
	return nil
}

func (g *Graph) linked(src, dst ids.ID) bool {
	for _, e := range g.EdgesDirected(src, Outgoing) {
		if e.Target == dst && e.Weight.Kind != weights.EdgeKindOrdering {
			return true
		}
	}
	return false
}

// RemoveIncomingEdgesOfKind removes every edge of kind pointing at target.
func (g *Graph) RemoveIncomingEdgesOfKind(target ids.ID, kind weights.EdgeKind) error {
	if !g.HasNode(target) {
		return nodeNotFound(target)
	}
	for _, e := range g.EdgesDirectedForKind(target, kind, Incoming) {
		if err := g.RemoveEdge(e.Source, target, kind); err != nil {
			return err
		}
	}
	return nil
}

// forEachOut visits the outgoing edges of id without sorting.
func (g *Graph) forEachOut(id ids.ID, fn func(k edgeKey, w weights.EdgeWeight)) {
	if p, ok := g.location[id]; ok {
		for k, w := range g.subgraphs[p].outgoing[id] {
			fn(k, w)
		}
	}
	for k, w := range g.crossOut[id] {
		fn(k, w)
	}
}

// forEachIn visits the incoming edges of id without sorting.
func (g *Graph) forEachIn(id ids.ID, fn func(k edgeKey)) {
	if p, ok := g.location[id]; ok {
		for k := range g.subgraphs[p].incoming[id] {
			fn(k)
		}
	}
	for k := range g.crossIn[id] {
		fn(k)
	}
}

// EdgesDirected returns the edges of id in one direction, ordered by kind
// then peer identifier. An unknown id yields no edges.
func (g *Graph) EdgesDirected(id ids.ID, dir Direction) []Edge {
	var keys []edgeKey
	var ws []weights.EdgeWeight
	switch dir {
	case Outgoing:
		g.forEachOut(id, func(k edgeKey, w weights.EdgeWeight) {
			keys = append(keys, k)
			ws = append(ws, w)
		})
	case Incoming:
		g.forEachIn(id, func(k edgeKey) {
			keys = append(keys, k)
		})
	}

	edges := make([]Edge, len(keys))
	for i, k := range keys {
		if dir == Outgoing {
			edges[i] = Edge{Source: id, Target: k.Peer, Weight: ws[i]}
		} else {
			edges[i] = Edge{Source: k.Peer, Target: id, Weight: g.edgeWeight(k.Peer, id, k.Kind)}
		}
	}
	slices.SortFunc(edges, func(a, b Edge) int {
		ka := edgeKey{Kind: a.Weight.Kind, Peer: a.Target}
		kb := edgeKey{Kind: b.Weight.Kind, Peer: b.Target}
		if dir == Incoming {
			ka.Peer, kb.Peer = a.Source, b.Source
		}
		return compareEdgeKeys(ka, kb)
	})
	return edges
}

func (g *Graph) edgeWeight(src, dst ids.ID, kind weights.EdgeKind) weights.EdgeWeight {
	key := edgeKey{Kind: kind, Peer: dst}
	if p, ok := g.location[src]; ok {
		if w, exists := g.subgraphs[p].outgoing[src][key]; exists {
			return w
		}
	}
	return g.crossOut[src][key]
}

// EdgesDirectedForKind is EdgesDirected filtered to one edge kind.
func (g *Graph) EdgesDirectedForKind(id ids.ID, kind weights.EdgeKind, dir Direction) []Edge {
	all := g.EdgesDirected(id, dir)
	out := all[:0]
	for _, e := range all {
		if e.Weight.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Edges returns every edge in (source, kind, target) order.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, s := range g.subgraphs {
		edges = append(edges, s.localEdges()...)
	}
	for src, out := range g.crossOut {
		for k, w := range out {
			edges = append(edges, Edge{Source: src, Target: k.Peer, Weight: w})
		}
	}
	slices.SortFunc(edges, compareEdges)
	return edges
}

// EdgeCount returns the number of edges, local and cross.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, s := range g.subgraphs {
		n += s.EdgeCount()
	}
	for _, out := range g.crossOut {
		n += len(out)
	}
	return n
}

// CrossEdgeCount returns the number of edges spanning partitions.
func (g *Graph) CrossEdgeCount() int {
	n := 0
	for _, out := range g.crossOut {
		n += len(out)
	}
	return n
}
