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

	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// -----------------------------------------------------------------------------
// Categories
// -----------------------------------------------------------------------------

// CategoryNode returns the category node of kind, and false if the graph
// has none.
//
// Outputs:
//
//	error - ErrDuplicateCategory if more than one category of kind hangs
//	  off the root.
func (s *WorkspaceSnapshot) CategoryNode(kind weights.CategoryKind) (ids.ID, bool, error) {
	r := s.readGraph()
	defer r.Release()
	return categoryNode(r.Graph(), kind)
}

// CategoryNodeOrErr is CategoryNode with absence reported as
// *CategoryNotFoundError.
func (s *WorkspaceSnapshot) CategoryNodeOrErr(kind weights.CategoryKind) (ids.ID, error) {
	r := s.readGraph()
	defer r.Release()
	return categoryNodeOrErr(r.Graph(), kind)
}

func categoryNode(g *graph.Graph, kind weights.CategoryKind) (ids.ID, bool, error) {
	var found []ids.ID
	for _, e := range g.EdgesDirectedForKind(g.RootID(), weights.EdgeKindUse, graph.Outgoing) {
		nw, err := g.NodeWeight(e.Target)
		if err != nil {
			return ids.ID{}, false, err
		}
		cat, ok := nw.(*weights.CategoryNodeWeight)
		if ok && cat.Category == kind {
			found = append(found, cat.ID())
		}
	}
	switch len(found) {
	case 0:
		return ids.ID{}, false, nil
	case 1:
		return found[0], true, nil
	default:
		return ids.ID{}, false, fmt.Errorf("%w: %s (%d nodes)", ErrDuplicateCategory, kind, len(found))
	}
}

func categoryNodeOrErr(g *graph.Graph, kind weights.CategoryKind) (ids.ID, error) {
	id, ok, err := categoryNode(g, kind)
	if err != nil {
		return ids.ID{}, err
	}
	if !ok {
		return ids.ID{}, &CategoryNotFoundError{Kind: kind}
	}
	return id, nil
}

// -----------------------------------------------------------------------------
// Sockets and schema variants
// -----------------------------------------------------------------------------

// ListSocketsForSchemaVariant returns the sockets of variant in one
// direction, in identifier order.
func (s *WorkspaceSnapshot) ListSocketsForSchemaVariant(ctx context.Context, variant ids.ID, dir weights.SocketDirection) ([]*weights.SocketNodeWeight, error) {
	r := s.readGraph()
	defer r.Release()
	return socketsForSchemaVariant(r.Graph(), variant, dir)
}

// ListInputSocketIDsForSchemaVariant returns the ids of the input sockets
// of variant.
func (s *WorkspaceSnapshot) ListInputSocketIDsForSchemaVariant(ctx context.Context, variant ids.ID) ([]ids.ID, error) {
	sockets, err := s.ListSocketsForSchemaVariant(ctx, variant, weights.SocketInput)
	if err != nil {
		return nil, err
	}
	out := make([]ids.ID, len(sockets))
	for i, sock := range sockets {
		out[i] = sock.ID()
	}
	return out, nil
}

func socketsForSchemaVariant(g *graph.Graph, variant ids.ID, dir weights.SocketDirection) ([]*weights.SocketNodeWeight, error) {
	if err := expectKind(g, variant, weights.NodeKindSchemaVariant); err != nil {
		return nil, err
	}
	var out []*weights.SocketNodeWeight
	for _, e := range g.EdgesDirectedForKind(variant, weights.EdgeKindSocket, graph.Outgoing) {
		nw, err := g.NodeWeight(e.Target)
		if err != nil {
			return nil, err
		}
		sock, err := weights.As[*weights.SocketNodeWeight](nw)
		if err != nil {
			return nil, err
		}
		if sock.Direction == dir {
			out = append(out, sock)
		}
	}
	return out, nil
}

// SchemaVariantIDForSocket returns the single schema variant that owns
// socket.
//
// Outputs:
//
//	error - ErrSchemaVariantNotFound with no owner,
//	  ErrSchemaVariantNotUnique with several.
func (s *WorkspaceSnapshot) SchemaVariantIDForSocket(ctx context.Context, socket ids.ID) (ids.ID, error) {
	r := s.readGraph()
	defer r.Release()
	g := r.Graph()
	if err := expectKind(g, socket, weights.NodeKindSocket); err != nil {
		return ids.ID{}, err
	}
	return uniqueNeighbor(g, socket, weights.EdgeKindSocket, graph.Incoming, weights.NodeKindSchemaVariant)
}

// SchemaVariantIDForComponent returns the schema variant used by component.
func (s *WorkspaceSnapshot) SchemaVariantIDForComponent(ctx context.Context, component ids.ID) (ids.ID, error) {
	r := s.readGraph()
	defer r.Release()
	return schemaVariantForComponent(r.Graph(), component)
}

func schemaVariantForComponent(g *graph.Graph, component ids.ID) (ids.ID, error) {
	if err := expectKind(g, component, weights.NodeKindComponent); err != nil {
		return ids.ID{}, err
	}
	return uniqueNeighbor(g, component, weights.EdgeKindUse, graph.Outgoing, weights.NodeKindSchemaVariant)
}

// uniqueNeighbor follows edges of kind from id in dir and returns the one
// peer of nodeKind.
func uniqueNeighbor(g *graph.Graph, id ids.ID, kind weights.EdgeKind, dir graph.Direction, nodeKind weights.NodeKind) (ids.ID, error) {
	var found []ids.ID
	for _, e := range g.EdgesDirectedForKind(id, kind, dir) {
		peer := e.Target
		if dir == graph.Incoming {
			peer = e.Source
		}
		nw, err := g.NodeWeight(peer)
		if err != nil {
			return ids.ID{}, err
		}
		if nw.Kind() == nodeKind {
			found = append(found, peer)
		}
	}
	switch len(found) {
	case 0:
		return ids.ID{}, fmt.Errorf("%w: for %s", ErrSchemaVariantNotFound, id)
	case 1:
		return found[0], nil
	default:
		return ids.ID{}, fmt.Errorf("%w: %s has %d", ErrSchemaVariantNotUnique, id, len(found))
	}
}

// InputSocketsForComponent returns the input sockets of the schema variant
// component uses.
func (s *WorkspaceSnapshot) InputSocketsForComponent(ctx context.Context, component ids.ID) ([]*weights.SocketNodeWeight, error) {
	r := s.readGraph()
	defer r.Release()
	g := r.Graph()
	variant, err := schemaVariantForComponent(g, component)
	if err != nil {
		return nil, err
	}
	return socketsForSchemaVariant(g, variant, weights.SocketInput)
}

// SchemaForSchemaVariant returns the schema that owns variant.
//
// Outputs:
//
//	error - *SchemaOwnershipError unless exactly one schema owns variant.
func (s *WorkspaceSnapshot) SchemaForSchemaVariant(ctx context.Context, variant ids.ID) (ids.ID, error) {
	r := s.readGraph()
	defer r.Release()
	g := r.Graph()
	if err := expectKind(g, variant, weights.NodeKindSchemaVariant); err != nil {
		return ids.ID{}, err
	}
	var owners []ids.ID
	for _, e := range g.EdgesDirectedForKind(variant, weights.EdgeKindUse, graph.Incoming) {
		nw, err := g.NodeWeight(e.Source)
		if err != nil {
			return ids.ID{}, err
		}
		if nw.Kind() == weights.NodeKindSchema {
			owners = append(owners, e.Source)
		}
	}
	if len(owners) != 1 {
		return ids.ID{}, &SchemaOwnershipError{SchemaVariantID: variant, Owners: len(owners)}
	}
	return owners[0], nil
}

// -----------------------------------------------------------------------------
// Entity kinds
// -----------------------------------------------------------------------------

// EntityKindForID returns the entity kind of the node id.
func (s *WorkspaceSnapshot) EntityKindForID(ctx context.Context, id ids.ID) (weights.EntityKind, error) {
	nw, err := s.NodeWeight(id)
	if err != nil {
		return "", err
	}
	return weights.EntityKindFor(nw.Kind())
}

// expectKind fails with ErrUnexpectedNodeKind unless id is of kind.
func expectKind(g *graph.Graph, id ids.ID, kind weights.NodeKind) error {
	nw, err := g.NodeWeight(id)
	if err != nil {
		return err
	}
	if nw.Kind() != kind {
		return fmt.Errorf("%w: node %s is %s, expected %s", ErrUnexpectedNodeKind, id, nw.Kind(), kind)
	}
	return nil
}
