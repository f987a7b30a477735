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

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// AddEdgeWithCycleCheck adds the edge (src, w.Kind, dst) only if it does not
// close a directed cycle.
//
// Outputs:
//
//	error - ErrWouldCreateCycle if dst already reaches src (or src == dst),
//	  ErrNodeNotFound if either endpoint is missing.
func (g *Graph) AddEdgeWithCycleCheck(src ids.ID, w weights.EdgeWeight, dst ids.ID) error {
	if !g.HasNode(src) {
		return nodeNotFound(src)
	}
	if !g.HasNode(dst) {
		return nodeNotFound(dst)
	}
	if !g.hasEdge(src, dst, w.Kind) && (src == dst || g.reaches(dst, src)) {
		return fmt.Errorf("%w: %s -[%s]-> %s", ErrWouldCreateCycle, src, w.Kind, dst)
	}
	g.setEdge(src, w, dst)
	return nil
}

// reaches reports whether a directed path leads from one node to another.
func (g *Graph) reaches(from, to ids.ID) bool {
	seen := map[ids.ID]struct{}{from: {}}
	stack := []ids.ID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		g.forEachOut(id, func(k edgeKey, _ weights.EdgeWeight) {
			if _, ok := seen[k.Peer]; !ok {
				seen[k.Peer] = struct{}{}
				stack = append(stack, k.Peer)
			}
		})
	}
	return false
}

// IsAcyclicDirected reports whether the graph has no directed cycle.
func (g *Graph) IsAcyclicDirected() bool {
	indegree := make(map[ids.ID]int, len(g.location))
	for id := range g.location {
		g.forEachOut(id, func(k edgeKey, _ weights.EdgeWeight) {
			indegree[k.Peer]++
		})
	}

	queue := make([]ids.ID, 0)
	for id := range g.location {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		g.forEachOut(id, func(k edgeKey, _ weights.EdgeWeight) {
			indegree[k.Peer]--
			if indegree[k.Peer] == 0 {
				queue = append(queue, k.Peer)
			}
		})
	}
	return visited == len(g.location)
}
