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
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// ImportResult describes an imported component.
type ImportResult struct {
	// ComponentID is the id of the copy in the destination.
	ComponentID ids.ID

	// Mapping maps every copied source node to its new id.
	Mapping map[ids.ID]ids.ID
}

// componentSubgraph is the part of a source graph an import copies.
type componentSubgraph struct {
	nodes   []weights.NodeWeight
	edges   []graph.Edge
	anchors []ids.ID
}

// isAnchor reports whether a node is shared workspace structure that an
// import links to rather than copies.
func isAnchor(w weights.NodeWeight, component ids.ID) bool {
	switch w.Kind() {
	case weights.NodeKindRoot, weights.NodeKindCategory, weights.NodeKindSchema,
		weights.NodeKindSchemaVariant, weights.NodeKindSocket, weights.NodeKindView:
		return true
	case weights.NodeKindComponent:
		return w.ID() != component
	default:
		return false
	}
}

// ImportComponentSubgraph copies a component from source into s.
//
// Description:
//
//	The component and every node reachable from it through non-anchor nodes
//	are copied with fresh identifiers. Lineage is preserved, so a later
//	diff can relate the copy to its origin. Anchor nodes (schemas, schema
//	variants, sockets, categories, views and other components) are linked
//	by identifier and must already exist in s. Ordering lists are remapped
//	to the new identifiers. The copy is attached under the component
//	category of s.
//
// Inputs:
//
//	ctx - Context for tracing.
//	source - Snapshot to copy from. May be s itself.
//	componentID - Component to import.
//
// Outputs:
//
//	ImportResult - The new component id and the id mapping.
//	error - ErrUnexpectedNodeKind if componentID is not a component;
//	  ErrImportAnchorMissing if s lacks an anchor. s is unchanged on error.
//
// Thread Safety: Safe for concurrent use. The source read lock is released
// before the destination write lock is taken.
func (s *WorkspaceSnapshot) ImportComponentSubgraph(ctx context.Context, source *WorkspaceSnapshot, componentID ids.ID) (ImportResult, error) {
	_, span := tracer.Start(ctx, "snapshot.ImportComponentSubgraph",
		trace.WithAttributes(attribute.String("component.id", componentID.String())))
	defer span.End()

	sub, err := source.collectComponentSubgraph(componentID)
	if err != nil {
		return ImportResult{}, fail(span, err)
	}

	w := s.writeGraph()
	defer w.Release()
	g := w.Graph()

	for _, a := range sub.anchors {
		if !g.HasNode(a) {
			return ImportResult{}, fail(span, fmt.Errorf("%w: %s", ErrImportAnchorMissing, a))
		}
	}
	cat, err := categoryNodeOrErr(g, weights.CategoryComponent)
	if err != nil {
		return ImportResult{}, fail(span, err)
	}

	mapping := make(map[ids.ID]ids.ID, len(sub.nodes))
	for _, n := range sub.nodes {
		mapping[n.ID()] = ids.NewID()
	}
	remap := func(id ids.ID) ids.ID {
		if to, ok := mapping[id]; ok {
			return to
		}
		return id
	}

	for _, n := range sub.nodes {
		copied := weights.WithIdentity(n, mapping[n.ID()], n.LineageID())
		if ord, ok := copied.(*weights.OrderingNodeWeight); ok {
			for i, child := range ord.Order {
				ord.Order[i] = remap(child)
			}
		}
		if err := g.AddOrReplaceNode(copied); err != nil {
			return ImportResult{}, fail(span, err)
		}
	}
	for _, e := range sub.edges {
		if err := g.AddEdge(remap(e.Source), e.Weight, remap(e.Target)); err != nil {
			return ImportResult{}, fail(span, err)
		}
	}
	newComponent := mapping[componentID]
	if err := g.AddEdge(cat, weights.UseEdge(false), newComponent); err != nil {
		return ImportResult{}, fail(span, err)
	}

	span.SetAttributes(
		attribute.Int("import.nodes", len(sub.nodes)),
		attribute.Int("import.edges", len(sub.edges)),
		attribute.Int("import.anchors", len(sub.anchors)),
	)
	return ImportResult{ComponentID: newComponent, Mapping: mapping}, nil
}

// collectComponentSubgraph walks the outgoing edges of component under the
// read lock and returns copies of what an import needs.
func (s *WorkspaceSnapshot) collectComponentSubgraph(component ids.ID) (*componentSubgraph, error) {
	r := s.readGraph()
	defer r.Release()
	g := r.Graph()

	if err := expectKind(g, component, weights.NodeKindComponent); err != nil {
		return nil, err
	}

	sub := &componentSubgraph{}
	copied := map[ids.ID]struct{}{component: {}}
	anchors := make(map[ids.ID]struct{})
	queue := []ids.ID{component}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		nw, err := g.NodeWeight(id)
		if err != nil {
			return nil, err
		}
		sub.nodes = append(sub.nodes, nw)

		for _, e := range g.EdgesDirected(id, graph.Outgoing) {
			sub.edges = append(sub.edges, e)
			if _, seen := copied[e.Target]; seen {
				continue
			}
			if _, seen := anchors[e.Target]; seen {
				continue
			}
			target, err := g.NodeWeight(e.Target)
			if err != nil {
				return nil, err
			}
			if isAnchor(target, component) {
				anchors[e.Target] = struct{}{}
				sub.anchors = append(sub.anchors, e.Target)
				continue
			}
			copied[e.Target] = struct{}{}
			queue = append(queue, e.Target)
		}
	}
	ids.SortIDs(sub.anchors)
	return sub, nil
}
