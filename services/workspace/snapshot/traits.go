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

	"github.com/AleutianAI/changegraph/services/workspace/dal"
	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// ApprovalRequirement is one approval rule attached to a changed entity.
type ApprovalRequirement struct {
	EntityID         ids.ID
	EntityKind       weights.EntityKind
	DefinitionID     ids.ID
	MinimumApprovers int
}

// ApprovalRequirementExt evaluates approval rules for a set of changes.
type ApprovalRequirementExt interface {
	ApprovalRequirementsForChanges(ctx context.Context, changes []graph.Change) ([]ApprovalRequirement, error)
}

// InputSocketExt resolves input sockets.
type InputSocketExt interface {
	ListInputSocketIDsForSchemaVariant(ctx context.Context, variant ids.ID) ([]ids.ID, error)
	InputSocketsForComponent(ctx context.Context, component ids.ID) ([]*weights.SocketNodeWeight, error)
	SchemaVariantIDForSocket(ctx context.Context, socket ids.ID) (ids.ID, error)
}

// SchemaVariantExt resolves schema variants and entity kinds.
type SchemaVariantExt interface {
	SchemaVariantIDForComponent(ctx context.Context, component ids.ID) (ids.ID, error)
	SchemaForSchemaVariant(ctx context.Context, variant ids.ID) (ids.ID, error)
	EntityKindForID(ctx context.Context, id ids.ID) (weights.EntityKind, error)
}

// ViewExt manages the view lifecycle.
type ViewExt interface {
	ListViews(ctx context.Context) ([]View, error)
	DefaultViewID(ctx context.Context) (ids.ID, error)
	CreateView(ctx context.Context, name string) (ids.ID, error)
	AddGeometry(ctx context.Context, view, entity ids.ID) (ids.ID, error)
	ViewsRepresenting(ctx context.Context, entity ids.ID) ([]ids.ID, error)
	ViewRemove(ctx context.Context, d *dal.Context, view ids.ID) error
}

var (
	_ ApprovalRequirementExt = (*WorkspaceSnapshot)(nil)
	_ InputSocketExt         = (*WorkspaceSnapshot)(nil)
	_ SchemaVariantExt       = (*WorkspaceSnapshot)(nil)
	_ ViewExt                = (*WorkspaceSnapshot)(nil)
)

// ApprovalRequirementsForChanges returns the approval requirement
// definitions attached to each changed entity, in change order. Changes to
// entities that no longer exist are skipped.
func (s *WorkspaceSnapshot) ApprovalRequirementsForChanges(ctx context.Context, changes []graph.Change) ([]ApprovalRequirement, error) {
	_, span := tracer.Start(ctx, "snapshot.ApprovalRequirementsForChanges")
	defer span.End()

	r := s.readGraph()
	defer r.Release()
	g := r.Graph()

	var out []ApprovalRequirement
	for _, c := range changes {
		if !g.HasNode(c.EntityID) {
			continue
		}
		for _, e := range g.EdgesDirectedForKind(c.EntityID, weights.EdgeKindApprovalRequirement, graph.Outgoing) {
			nw, err := g.NodeWeight(e.Target)
			if err != nil {
				return nil, fail(span, err)
			}
			def, err := weights.As[*weights.ApprovalRequirementDefinitionNodeWeight](nw)
			if err != nil {
				return nil, fail(span, err)
			}
			out = append(out, ApprovalRequirement{
				EntityID:         c.EntityID,
				EntityKind:       c.EntityKind,
				DefinitionID:     def.ID(),
				MinimumApprovers: def.MinimumApprovers,
			})
		}
	}
	return out, nil
}
