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

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// Merkle hashing
//
// The merkle tree hash of node n is
//
//	blake3( NodeHash(n) || for each outgoing edge e, by (kind, target):
//	        EdgeWeight(e) || target id || MerkleTreeHash(target) )
//
// A node reached again while its own hash is still being computed (a
// cycle) contributes its NodeHash instead of its merkle hash. Every
// mutation marks the touched node dirty; a merkle pass first spreads
// dirtiness to all ancestors, then recomputes only dirty nodes. Partition
// hashes are recomputed only for partitions that held a dirty node or lost
// one.

// IsDirty reports whether a merkle pass is pending.
func (g *Graph) IsDirty() bool {
	return len(g.dirtyNodes) > 0 || len(g.dirtyParts) > 0
}

// RootNodeMerkleTreeHash returns the merkle hash of the root node.
func (g *Graph) RootNodeMerkleTreeHash() ids.Hash {
	w, ok := g.node(g.rootID)
	if !ok {
		return ids.Hash{}
	}
	return w.MerkleTreeHash()
}

// Cleanup removes every node not reachable from the root.
//
// Outputs:
//
//	int - The number of nodes removed.
func (g *Graph) Cleanup() int {
	reachable := g.reachable()

	var doomed []ids.ID
	for id := range g.location {
		if _, ok := reachable[id]; !ok {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		if g.HasNode(id) {
			g.removeNode(id)
		}
	}
	return len(doomed)
}

// reachable returns every node reachable from the root along outgoing edges.
func (g *Graph) reachable() map[ids.ID]struct{} {
	seen := make(map[ids.ID]struct{}, len(g.location))
	stack := []ids.ID{g.rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		g.forEachOut(id, func(k edgeKey, _ weights.EdgeWeight) {
			if _, ok := seen[k.Peer]; !ok {
				stack = append(stack, k.Peer)
			}
		})
	}
	return seen
}

// MerkleTreeHash recomputes the merkle hash of every dirty node and the
// root hash of every affected partition.
func (g *Graph) MerkleTreeHash() {
	if !g.IsDirty() {
		return
	}

	queue := make([]ids.ID, 0, len(g.dirtyNodes))
	for id := range g.dirtyNodes {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		g.forEachIn(id, func(k edgeKey) {
			if _, dirty := g.dirtyNodes[k.Peer]; !dirty {
				g.markDirty(k.Peer)
				queue = append(queue, k.Peer)
			}
		})
	}

	onStack := make(map[ids.ID]struct{})
	var visit func(id ids.ID) ids.Hash
	visit = func(id ids.ID) ids.Hash {
		w, _ := g.node(id)
		if _, dirty := g.dirtyNodes[id]; !dirty {
			return w.MerkleTreeHash()
		}
		if _, cyc := onStack[id]; cyc {
			return w.NodeHash()
		}
		onStack[id] = struct{}{}

		h := ids.NewHasher()
		h.WriteHash(w.NodeHash())
		for _, e := range g.EdgesDirected(id, Outgoing) {
			e.Weight.HashInto(h)
			h.WriteID(e.Target)
			h.WriteHash(visit(e.Target))
		}
		sum := h.Sum()

		p := g.location[id]
		g.mutableSub(p).nodes[id].SetMerkleTreeHash(sum)
		delete(g.dirtyNodes, id)
		delete(onStack, id)
		g.dirtyParts[p] = struct{}{}
		return sum
	}

	if g.HasNode(g.rootID) {
		visit(g.rootID)
	}
	// Unreachable dirty nodes still get hashes; Cleanup normally removes them
	// first.
	rest := make([]ids.ID, 0, len(g.dirtyNodes))
	for id := range g.dirtyNodes {
		rest = append(rest, id)
	}
	slices.SortFunc(rest, func(a, b ids.ID) int { return a.Compare(b) })
	for _, id := range rest {
		if _, still := g.dirtyNodes[id]; still {
			visit(id)
		}
	}

	for p := range g.dirtyParts {
		if p < len(g.subgraphs) {
			g.mutableSub(p).computeRootHash()
		}
	}
	clear(g.dirtyParts)
}

// CleanupAndMerkleTreeHash runs Cleanup followed by MerkleTreeHash.
func (g *Graph) CleanupAndMerkleTreeHash() {
	g.Cleanup()
	g.MerkleTreeHash()
}
