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
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/changegraph/services/workspace/dal"
	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// View is a view node and whether it is the default view.
type View struct {
	ID        ids.ID
	Name      string
	IsDefault bool
}

// ListViews returns every view under the view category in identifier order.
func (s *WorkspaceSnapshot) ListViews(ctx context.Context) ([]View, error) {
	r := s.readGraph()
	defer r.Release()
	return listViews(r.Graph())
}

func listViews(g *graph.Graph) ([]View, error) {
	cat, err := categoryNodeOrErr(g, weights.CategoryView)
	if err != nil {
		return nil, err
	}
	var views []View
	for _, e := range g.EdgesDirectedForKind(cat, weights.EdgeKindUse, graph.Outgoing) {
		nw, err := g.NodeWeight(e.Target)
		if err != nil {
			return nil, err
		}
		v, err := weights.As[*weights.ViewNodeWeight](nw)
		if err != nil {
			return nil, err
		}
		views = append(views, View{ID: v.ID(), Name: v.Name, IsDefault: e.Weight.IsDefault})
	}
	return views, nil
}

// DefaultViewID returns the default view.
//
// Outputs:
//
//	error - ErrNoDefaultView if no view edge is marked default.
func (s *WorkspaceSnapshot) DefaultViewID(ctx context.Context) (ids.ID, error) {
	r := s.readGraph()
	defer r.Release()
	return defaultViewID(r.Graph())
}

func defaultViewID(g *graph.Graph) (ids.ID, error) {
	views, err := listViews(g)
	if err != nil {
		return ids.ID{}, err
	}
	for _, v := range views {
		if v.IsDefault {
			return v.ID, nil
		}
	}
	return ids.ID{}, ErrNoDefaultView
}

// CreateView adds a non-default view named name.
func (s *WorkspaceSnapshot) CreateView(ctx context.Context, name string) (ids.ID, error) {
	w := s.writeGraph()
	defer w.Release()
	g := w.Graph()

	cat, err := categoryNodeOrErr(g, weights.CategoryView)
	if err != nil {
		return ids.ID{}, err
	}
	v := weights.NewView(name)
	if err := g.AddOrReplaceNode(v); err != nil {
		return ids.ID{}, err
	}
	if err := g.AddEdge(cat, weights.UseEdge(false), v.ID()); err != nil {
		return ids.ID{}, err
	}
	return v.ID(), nil
}

// AddGeometry places entity in view by adding a geometry node contained in
// the view that represents the entity. It returns the geometry id.
func (s *WorkspaceSnapshot) AddGeometry(ctx context.Context, view, entity ids.ID) (ids.ID, error) {
	w := s.writeGraph()
	defer w.Release()
	g := w.Graph()

	if err := expectKind(g, view, weights.NodeKindView); err != nil {
		return ids.ID{}, err
	}
	if !g.HasNode(entity) {
		return ids.ID{}, fmt.Errorf("geometry target: %w", ErrNodeNotFound)
	}
	geo := weights.NewGeometry(ids.Hash{})
	if err := g.AddOrReplaceNode(geo); err != nil {
		return ids.ID{}, err
	}
	if err := g.AddEdge(view, weights.NewEdge(weights.EdgeKindContain), geo.ID()); err != nil {
		return ids.ID{}, err
	}
	if err := g.AddEdge(geo.ID(), weights.NewEdge(weights.EdgeKindRepresents), entity); err != nil {
		return ids.ID{}, err
	}
	return geo.ID(), nil
}

// ListGeometriesForView returns the geometries contained in view.
func (s *WorkspaceSnapshot) ListGeometriesForView(ctx context.Context, view ids.ID) ([]ids.ID, error) {
	r := s.readGraph()
	defer r.Release()
	g := r.Graph()
	if err := expectKind(g, view, weights.NodeKindView); err != nil {
		return nil, err
	}
	return geometriesForView(g, view)
}

func geometriesForView(g *graph.Graph, view ids.ID) ([]ids.ID, error) {
	var out []ids.ID
	for _, e := range g.EdgesDirectedForKind(view, weights.EdgeKindContain, graph.Outgoing) {
		nw, err := g.NodeWeight(e.Target)
		if err != nil {
			return nil, err
		}
		if nw.Kind() == weights.NodeKindGeometry {
			out = append(out, e.Target)
		}
	}
	return out, nil
}

// ViewsRepresenting returns the views that hold a geometry for entity,
// without duplicates and in identifier order.
func (s *WorkspaceSnapshot) ViewsRepresenting(ctx context.Context, entity ids.ID) ([]ids.ID, error) {
	r := s.readGraph()
	defer r.Release()
	return viewsRepresenting(r.Graph(), entity)
}

func viewsRepresenting(g *graph.Graph, entity ids.ID) ([]ids.ID, error) {
	seen := make(map[ids.ID]struct{})
	var out []ids.ID
	for _, rep := range g.EdgesDirectedForKind(entity, weights.EdgeKindRepresents, graph.Incoming) {
		for _, c := range g.EdgesDirectedForKind(rep.Source, weights.EdgeKindContain, graph.Incoming) {
			nw, err := g.NodeWeight(c.Source)
			if err != nil {
				return nil, err
			}
			if nw.Kind() != weights.NodeKindView {
				continue
			}
			if _, dup := seen[c.Source]; dup {
				continue
			}
			seen[c.Source] = struct{}{}
			out = append(out, c.Source)
		}
	}
	ids.SortIDs(out)
	return out, nil
}

// ViewRemove deletes view and its geometries.
//
// Description:
//
//	For every geometry in the view, the views representing the same entity
//	are collected. If a component would be left with no other view the
//	removal fails and the graph is untouched. Entities of other kinds may
//	lose their last view.
//
// Inputs:
//
//	ctx - Context for tracing.
//	d - Execution context, used for logging.
//	view - The view to remove.
//
// Outputs:
//
//	error - ErrCannotRemoveDefaultView for the default view;
//	  *ViewOrphanError listing the components that would be orphaned.
func (s *WorkspaceSnapshot) ViewRemove(ctx context.Context, d *dal.Context, view ids.ID) error {
	ctx, span := tracer.Start(ctx, "snapshot.ViewRemove",
		trace.WithAttributes(attribute.String("view.id", view.String())))
	defer span.End()

	w := s.writeGraph()
	defer w.Release()
	g := w.Graph()

	if err := expectKind(g, view, weights.NodeKindView); err != nil {
		return fail(span, err)
	}
	def, err := defaultViewID(g)
	if err != nil {
		return fail(span, err)
	}
	if def == view {
		return fail(span, ErrCannotRemoveDefaultView)
	}

	geometries, err := geometriesForView(g, view)
	if err != nil {
		return fail(span, err)
	}

	var orphans []ids.ID
	for _, geo := range geometries {
		for _, rep := range g.EdgesDirectedForKind(geo, weights.EdgeKindRepresents, graph.Outgoing) {
			entity, err := g.NodeWeight(rep.Target)
			if err != nil {
				return fail(span, err)
			}
			if entity.Kind() != weights.NodeKindComponent {
				continue
			}
			views, err := viewsRepresenting(g, rep.Target)
			if err != nil {
				return fail(span, err)
			}
			others := 0
			for _, v := range views {
				if v != view {
					others++
				}
			}
			if others == 0 {
				orphans = append(orphans, rep.Target)
			}
		}
	}
	if len(orphans) > 0 {
		ids.SortIDs(orphans)
		return fail(span, &ViewOrphanError{ViewID: view, Components: orphans})
	}

	for _, geo := range geometries {
		if err := g.RemoveNode(geo); err != nil {
			return fail(span, err)
		}
	}
	if err := g.RemoveNode(view); err != nil {
		return fail(span, err)
	}
	loggerWithTrace(ctx, d.Log()).Info("view removed",
		slog.String("component", "snapshot"),
		slog.String("view_id", view.String()),
		slog.Int("geometries", len(geometries)))
	return nil
}
