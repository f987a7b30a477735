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
	"slices"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// An ordered container is a node with exactly one Ordering edge to an
// OrderingNodeWeight. The ordering node's Order lists the container's
// children; it is independent of the order edges were added in and of
// edges of other kinds.

// OrderingNodeFor returns the ordering node of container, if it has one.
func (g *Graph) OrderingNodeFor(container ids.ID) (ids.ID, bool) {
	var found ids.ID
	ok := false
	g.forEachOut(container, func(k edgeKey, _ weights.EdgeWeight) {
		if k.Kind != weights.EdgeKindOrdering {
			return
		}
		if !ok || k.Peer.Compare(found) < 0 {
			found, ok = k.Peer, true
		}
	})
	return found, ok
}

// mutableOrdering returns the ordering weight of container for modification.
func (g *Graph) mutableOrdering(container ids.ID) (*weights.OrderingNodeWeight, bool) {
	ordID, ok := g.OrderingNodeFor(container)
	if !ok {
		return nil, false
	}
	p := g.location[ordID]
	ord, ok := g.mutableSub(p).nodes[ordID].(*weights.OrderingNodeWeight)
	return ord, ok
}

// AddOrderedNode adds w (or replaces its weight) and makes it an ordered
// container. It returns the identifier of the container's ordering node.
func (g *Graph) AddOrderedNode(w weights.NodeWeight) (ids.ID, error) {
	if err := g.AddOrReplaceNode(w); err != nil {
		return ids.ID{}, err
	}
	if ordID, ok := g.OrderingNodeFor(w.ID()); ok {
		return ordID, nil
	}
	ord := weights.NewOrdering()
	g.insertNode(g.placement(), ord)
	g.setEdge(w.ID(), weights.NewEdge(weights.EdgeKindOrdering), ord.ID())
	return ord.ID(), nil
}

// AddOrderedEdge adds the edge (src, w.Kind, dst) and appends dst to the
// ordering of src.
func (g *Graph) AddOrderedEdge(src ids.ID, w weights.EdgeWeight, dst ids.ID) error {
	if !g.HasNode(src) {
		return nodeNotFound(src)
	}
	if !g.HasNode(dst) {
		return nodeNotFound(dst)
	}
	ordID, ok := g.OrderingNodeFor(src)
	if !ok {
		return fmt.Errorf("%w: %s", ErrContainerNotOrdered, src)
	}
	g.setEdge(src, w, dst)
	if ord, ok := g.mutableOrdering(src); ok && ord.Append(dst) {
		g.markDirty(ordID)
	}
	return nil
}

// OrderedChildren returns the explicit child order of container.
//
// Outputs:
//
//	[]ids.ID - Children in order. Nil when the container is unordered.
//	bool - True if container is an ordered container.
//	error - ErrNodeNotFound if container does not exist.
func (g *Graph) OrderedChildren(container ids.ID) ([]ids.ID, bool, error) {
	if !g.HasNode(container) {
		return nil, false, nodeNotFound(container)
	}
	ordID, ok := g.OrderingNodeFor(container)
	if !ok {
		return nil, false, nil
	}
	w, _ := g.node(ordID)
	ord, err := weights.As[*weights.OrderingNodeWeight](w)
	if err != nil {
		return nil, false, err
	}
	return slices.Clone(ord.Order), true, nil
}

func (g *Graph) dropFromOrdering(container, child ids.ID) {
	ordID, ok := g.OrderingNodeFor(container)
	if !ok {
		return
	}
	if w, _ := g.node(ordID); w != nil {
		if ord, isOrd := w.(*weights.OrderingNodeWeight); !isOrd || !slices.Contains(ord.Order, child) {
			return
		}
	}
	if ord, ok := g.mutableOrdering(container); ok && ord.Remove(child) {
		g.markDirty(ordID)
	}
}

func (g *Graph) replaceInOrdering(container, oldID, newID ids.ID) {
	ordID, ok := g.OrderingNodeFor(container)
	if !ok {
		return
	}
	if w, _ := g.node(ordID); w != nil {
		if ord, isOrd := w.(*weights.OrderingNodeWeight); !isOrd || !slices.Contains(ord.Order, oldID) {
			return
		}
	}
	if ord, ok := g.mutableOrdering(container); ok && ord.Replace(oldID, newID) {
		g.markDirty(ordID)
	}
}
