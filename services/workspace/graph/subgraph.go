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
	"slices"
	"sync/atomic"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// Edge is a directed (source, kind, target) triple plus its payload.
type Edge struct {
	Source ids.ID
	Target ids.ID
	Weight weights.EdgeWeight
}

// Direction selects outgoing or incoming edges.
type Direction uint8

const (
	Outgoing Direction = iota + 1
	Incoming
)

// edgeKey identifies an edge from one endpoint's point of view.
type edgeKey struct {
	Kind weights.EdgeKind
	Peer ids.ID
}

func compareEdgeKeys(a, b edgeKey) int {
	if a.Kind != b.Kind {
		return int(a.Kind) - int(b.Kind)
	}
	return a.Peer.Compare(b.Peer)
}

func compareEdges(a, b Edge) int {
	if c := a.Source.Compare(b.Source); c != 0 {
		return c
	}
	if a.Weight.Kind != b.Weight.Kind {
		return int(a.Weight.Kind) - int(b.Weight.Kind)
	}
	return a.Target.Compare(b.Target)
}

// -----------------------------------------------------------------------------
// SubGraph
// -----------------------------------------------------------------------------

// SubGraph is one bounded partition of a workspace graph.
//
// Description:
//
//	A SubGraph owns a set of nodes and the edges whose endpoints are both in
//	it. Edges that cross partitions live in the owning Graph. Once a
//	SubGraph is shared by two Graph values (after Clone) it is frozen, and
//	any Graph that needs to modify it takes a private copy first.
//
// Thread Safety: NOT safe for concurrent mutation. Frozen subgraphs are
// safe for concurrent reads.
type SubGraph struct {
	nodes    map[ids.ID]weights.NodeWeight
	outgoing map[ids.ID]map[edgeKey]weights.EdgeWeight
	incoming map[ids.ID]map[edgeKey]struct{}
	rootHash ids.Hash
	frozen   atomic.Bool
}

func newSubGraph() *SubGraph {
	return &SubGraph{
		nodes:    make(map[ids.ID]weights.NodeWeight),
		outgoing: make(map[ids.ID]map[edgeKey]weights.EdgeWeight),
		incoming: make(map[ids.ID]map[edgeKey]struct{}),
	}
}

// NodeCount returns the number of nodes in the partition.
func (s *SubGraph) NodeCount() int {
	return len(s.nodes)
}

// EdgeCount returns the number of partition-local edges.
func (s *SubGraph) EdgeCount() int {
	n := 0
	for _, out := range s.outgoing {
		n += len(out)
	}
	return n
}

// RootHash returns the partition hash computed by the last merkle pass.
func (s *SubGraph) RootHash() ids.Hash {
	return s.rootHash
}

// clone returns an unfrozen deep copy.
func (s *SubGraph) clone() *SubGraph {
	c := &SubGraph{
		nodes:    make(map[ids.ID]weights.NodeWeight, len(s.nodes)),
		outgoing: make(map[ids.ID]map[edgeKey]weights.EdgeWeight, len(s.outgoing)),
		incoming: make(map[ids.ID]map[edgeKey]struct{}, len(s.incoming)),
		rootHash: s.rootHash,
	}
	for id, w := range s.nodes {
		c.nodes[id] = w.Clone()
	}
	for id, out := range s.outgoing {
		m := make(map[edgeKey]weights.EdgeWeight, len(out))
		for k, w := range out {
			m[k] = w
		}
		c.outgoing[id] = m
	}
	for id, in := range s.incoming {
		m := make(map[edgeKey]struct{}, len(in))
		for k := range in {
			m[k] = struct{}{}
		}
		c.incoming[id] = m
	}
	return c
}

func (s *SubGraph) setEdge(src ids.ID, w weights.EdgeWeight, dst ids.ID) {
	out := s.outgoing[src]
	if out == nil {
		out = make(map[edgeKey]weights.EdgeWeight)
		s.outgoing[src] = out
	}
	out[edgeKey{Kind: w.Kind, Peer: dst}] = w

	in := s.incoming[dst]
	if in == nil {
		in = make(map[edgeKey]struct{})
		s.incoming[dst] = in
	}
	in[edgeKey{Kind: w.Kind, Peer: src}] = struct{}{}
}

func (s *SubGraph) deleteEdge(src, dst ids.ID, kind weights.EdgeKind) bool {
	out := s.outgoing[src]
	key := edgeKey{Kind: kind, Peer: dst}
	if _, ok := out[key]; !ok {
		return false
	}
	delete(out, key)
	if len(out) == 0 {
		delete(s.outgoing, src)
	}
	if in := s.incoming[dst]; in != nil {
		delete(in, edgeKey{Kind: kind, Peer: src})
		if len(in) == 0 {
			delete(s.incoming, dst)
		}
	}
	return true
}

// computeRootHash hashes every (id, merkle) pair of the partition in id
// order. A partition's hash therefore changes whenever any node it holds
// changes its subtree.
func (s *SubGraph) computeRootHash() {
	nodeIDs := make([]ids.ID, 0, len(s.nodes))
	for id := range s.nodes {
		nodeIDs = append(nodeIDs, id)
	}
	ids.SortIDs(nodeIDs)

	h := ids.NewHasher()
	h.WriteUint64(uint64(len(nodeIDs)))
	for _, id := range nodeIDs {
		h.WriteID(id)
		h.WriteHash(s.nodes[id].MerkleTreeHash())
	}
	s.rootHash = h.Sum()
}

// localEdges returns the partition-local edges in deterministic order.
func (s *SubGraph) localEdges() []Edge {
	edges := make([]Edge, 0, s.EdgeCount())
	for src, out := range s.outgoing {
		for k, w := range out {
			edges = append(edges, Edge{Source: src, Target: k.Peer, Weight: w})
		}
	}
	slices.SortFunc(edges, compareEdges)
	return edges
}

// sortedNodes returns the partition's nodes in id order.
func (s *SubGraph) sortedNodes() []weights.NodeWeight {
	out := make([]weights.NodeWeight, 0, len(s.nodes))
	for _, w := range s.nodes {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b weights.NodeWeight) int { return a.ID().Compare(b.ID()) })
	return out
}
