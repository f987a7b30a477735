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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// ----- Categories -----

func TestCategoryNode_Missing(t *testing.T) {
	s := FromGraph(graph.New(0))

	_, ok, err := s.CategoryNode(weights.CategoryView)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CategoryNodeOrErr(weights.CategoryView)
	var notFound *CategoryNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, weights.CategoryView, notFound.Kind)
	assert.ErrorIs(t, err, ErrCategoryNotFound)

	_, err = s.ListViews(context.Background())
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}

func TestCategoryNode_Duplicate(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)

	extra := weights.NewCategory(weights.CategoryModule)
	require.NoError(t, s.AddOrReplaceNode(extra))
	require.NoError(t, s.AddEdge(s.RootID(), weights.UseEdge(false), extra.ID()))

	_, _, err := s.CategoryNode(weights.CategoryModule)
	assert.ErrorIs(t, err, ErrDuplicateCategory)

	_, ok, err := s.CategoryNode(weights.CategorySecret)
	require.NoError(t, err)
	assert.True(t, ok)
}

// ----- Sockets and schema variants -----

func TestSocketQueries(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	fx := addVariant(t, s, "server", []string{"region", "subnet"}, []string{"ip"})
	comp := addComponentOf(t, s, "web", fx.variant)

	inputs, err := s.ListSocketsForSchemaVariant(ctx, fx.variant, weights.SocketInput)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	names := []string{inputs[0].Name, inputs[1].Name}
	assert.ElementsMatch(t, []string{"region", "subnet"}, names)

	outputs, err := s.ListSocketsForSchemaVariant(ctx, fx.variant, weights.SocketOutput)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, fx.outputs["ip"], outputs[0].ID())

	inputIDs, err := s.ListInputSocketIDsForSchemaVariant(ctx, fx.variant)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ids.ID{fx.inputs["region"], fx.inputs["subnet"]}, inputIDs)

	variant, err := s.SchemaVariantIDForSocket(ctx, fx.inputs["region"])
	require.NoError(t, err)
	assert.Equal(t, fx.variant, variant)

	variant, err = s.SchemaVariantIDForComponent(ctx, comp)
	require.NoError(t, err)
	assert.Equal(t, fx.variant, variant)

	compInputs, err := s.InputSocketsForComponent(ctx, comp)
	require.NoError(t, err)
	assert.Len(t, compInputs, 2)

	_, err = s.ListSocketsForSchemaVariant(ctx, comp, weights.SocketInput)
	assert.ErrorIs(t, err, ErrUnexpectedNodeKind)
}

func TestSchemaVariantForComponent_Uniqueness(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	a := addVariant(t, s, "a", nil, nil)
	b := addVariant(t, s, "b", nil, nil)

	orphan := addComponent(t, s, "orphan")
	_, err := s.SchemaVariantIDForComponent(ctx, orphan)
	assert.ErrorIs(t, err, ErrSchemaVariantNotFound)

	both := addComponentOf(t, s, "both", a.variant)
	require.NoError(t, s.AddEdge(both, weights.UseEdge(false), b.variant))
	_, err = s.SchemaVariantIDForComponent(ctx, both)
	assert.ErrorIs(t, err, ErrSchemaVariantNotUnique)

	shared := weights.NewSocket("shared", weights.SocketInput, weights.ArityOne)
	require.NoError(t, s.AddOrReplaceNode(shared))
	_, err = s.SchemaVariantIDForSocket(ctx, shared.ID())
	assert.ErrorIs(t, err, ErrSchemaVariantNotFound)
	require.NoError(t, s.AddEdge(a.variant, weights.NewEdge(weights.EdgeKindSocket), shared.ID()))
	require.NoError(t, s.AddEdge(b.variant, weights.NewEdge(weights.EdgeKindSocket), shared.ID()))
	_, err = s.SchemaVariantIDForSocket(ctx, shared.ID())
	assert.ErrorIs(t, err, ErrSchemaVariantNotUnique)
}

func TestSchemaForSchemaVariant(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	fx := addVariant(t, s, "server", nil, nil)

	schema, err := s.SchemaForSchemaVariant(ctx, fx.variant)
	require.NoError(t, err)
	assert.Equal(t, fx.schema, schema)

	second := weights.NewSchema("other", hash("other"))
	require.NoError(t, s.AddOrReplaceNode(second))
	require.NoError(t, s.AddEdge(second.ID(), weights.UseEdge(false), fx.variant))
	_, err = s.SchemaForSchemaVariant(ctx, fx.variant)
	var ownership *SchemaOwnershipError
	require.ErrorAs(t, err, &ownership)
	assert.Equal(t, 2, ownership.Owners)
	assert.ErrorIs(t, err, ErrSchemaOwnership)

	lonely := weights.NewSchemaVariant("lonely", hash("lonely"))
	require.NoError(t, s.AddOrReplaceNode(lonely))
	_, err = s.SchemaForSchemaVariant(ctx, lonely.ID())
	require.ErrorAs(t, err, &ownership)
	assert.Equal(t, 0, ownership.Owners)
}

func TestEntityKindForID(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	comp := addComponent(t, s, "db")

	kind, err := s.EntityKindForID(ctx, comp)
	require.NoError(t, err)
	assert.Equal(t, weights.EntityKindComponent, kind)

	kind, err = s.EntityKindForID(ctx, s.RootID())
	require.NoError(t, err)
	assert.Equal(t, weights.EntityKindRoot, kind)

	_, err = s.EntityKindForID(ctx, ids.NewID())
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

// ----- Views -----

func TestViewRemove_OrphanRule(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	def, err := s.DefaultViewID(ctx)
	require.NoError(t, err)

	comp := addComponent(t, s, "db")
	view, err := s.CreateView(ctx, "ops")
	require.NoError(t, err)
	_, err = s.AddGeometry(ctx, view, comp)
	require.NoError(t, err)

	err = s.ViewRemove(ctx, d, view)
	var orphan *ViewOrphanError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, view, orphan.ViewID)
	assert.Equal(t, []ids.ID{comp}, orphan.Components)
	assert.ErrorIs(t, err, ErrViewRemovalOrphans)
	assert.True(t, s.HasNode(view))

	_, err = s.AddGeometry(ctx, def, comp)
	require.NoError(t, err)
	views, err := s.ViewsRepresenting(ctx, comp)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ids.ID{def, view}, views)

	geometries, err := s.ListGeometriesForView(ctx, view)
	require.NoError(t, err)
	require.Len(t, geometries, 1)

	require.NoError(t, s.ViewRemove(ctx, d, view))
	assert.False(t, s.HasNode(view))
	assert.False(t, s.HasNode(geometries[0]))
	views, err = s.ViewsRepresenting(ctx, comp)
	require.NoError(t, err)
	assert.Equal(t, []ids.ID{def}, views)

	listed, err := s.ListViews(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestViewRemove_NonComponentsMayLoseLastView(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	fx := addVariant(t, s, "server", nil, nil)

	view, err := s.CreateView(ctx, "schemas")
	require.NoError(t, err)
	_, err = s.AddGeometry(ctx, view, fx.variant)
	require.NoError(t, err)

	require.NoError(t, s.ViewRemove(ctx, d, view))
	assert.True(t, s.HasNode(fx.variant))
}

func TestViewRemove_DefaultView(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	def, err := s.DefaultViewID(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, s.ViewRemove(ctx, d, def), ErrCannotRemoveDefaultView)
	assert.ErrorIs(t, s.ViewRemove(ctx, d, s.RootID()), ErrUnexpectedNodeKind)
}

func TestAddGeometry_Errors(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	def, err := s.DefaultViewID(ctx)
	require.NoError(t, err)

	_, err = s.AddGeometry(ctx, def, ids.NewID())
	assert.ErrorIs(t, err, ErrNodeNotFound)
	_, err = s.AddGeometry(ctx, s.RootID(), def)
	assert.ErrorIs(t, err, ErrUnexpectedNodeKind)
}

// ----- Approval requirements -----

func TestApprovalRequirementsForChanges(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	comp := addComponent(t, s, "db")
	plain := addComponent(t, s, "cache")

	def := weights.NewApprovalRequirementDefinition(2)
	require.NoError(t, s.AddOrReplaceNode(def))
	require.NoError(t, s.AddEdge(comp, weights.NewEdge(weights.EdgeKindApprovalRequirement), def.ID()))

	reqs, err := s.ApprovalRequirementsForChanges(ctx, []graph.Change{
		{EntityID: comp, EntityKind: weights.EntityKindComponent},
		{EntityID: plain, EntityKind: weights.EntityKindComponent},
		{EntityID: ids.NewID(), EntityKind: weights.EntityKindComponent},
	})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, ApprovalRequirement{
		EntityID:         comp,
		EntityKind:       weights.EntityKindComponent,
		DefinitionID:     def.ID(),
		MinimumApprovers: 2,
	}, reqs[0])
}

// ----- Import -----

// componentWithChildren adds an ordered component using variant, with two
// content children and a reference to another component.
func componentWithChildren(t *testing.T, s *WorkspaceSnapshot, variant, peer ids.ID) (ids.ID, []ids.ID) {
	t.Helper()
	cat, err := s.CategoryNodeOrErr(weights.CategoryComponent)
	require.NoError(t, err)

	comp := weights.NewComponent(hash("importable"))
	_, err = s.AddOrderedNode(comp)
	require.NoError(t, err)
	require.NoError(t, s.AddEdge(cat, weights.UseEdge(false), comp.ID()))
	require.NoError(t, s.AddEdge(comp.ID(), weights.UseEdge(false), variant))
	require.NoError(t, s.AddEdge(comp.ID(), weights.NewEdge(weights.EdgeKindFrameContains), peer))

	var children []ids.ID
	for _, key := range []string{"second", "first"} {
		c := weights.NewContent(weights.ContentKindAttributeValue, hash(key))
		require.NoError(t, s.AddOrReplaceNode(c))
		require.NoError(t, s.AddOrderedEdge(comp.ID(), weights.ContainEdge(key), c.ID()))
		children = append(children, c.ID())
	}
	return comp.ID(), children
}

func TestImportComponentSubgraph(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	base := initial(t, d, 0)
	fx := addVariant(t, base, "server", nil, nil)
	peer := addComponentOf(t, base, "peer", fx.variant)
	addr, err := base.Write(ctx, d)
	require.NoError(t, err)

	source, err := Find(ctx, d, addr)
	require.NoError(t, err)
	comp, children := componentWithChildren(t, source, fx.variant, peer)

	dest, err := Find(ctx, d, addr)
	require.NoError(t, err)
	res, err := dest.ImportComponentSubgraph(ctx, source, comp)
	require.NoError(t, err)

	assert.NotEqual(t, comp, res.ComponentID)
	assert.Len(t, res.Mapping, 4)
	assert.Equal(t, res.ComponentID, res.Mapping[comp])

	w, err := dest.NodeWeight(res.ComponentID)
	require.NoError(t, err)
	assert.Equal(t, comp, w.LineageID())

	variant, err := dest.SchemaVariantIDForComponent(ctx, res.ComponentID)
	require.NoError(t, err)
	assert.Equal(t, fx.variant, variant)

	framed := dest.EdgesDirectedForEdgeWeightKind(res.ComponentID, weights.EdgeKindFrameContains, graph.Outgoing)
	require.Len(t, framed, 1)
	assert.Equal(t, peer, framed[0].Target)

	ordered, isOrdered, err := dest.OrderedChildren(res.ComponentID)
	require.NoError(t, err)
	assert.True(t, isOrdered)
	assert.Equal(t, []ids.ID{res.Mapping[children[0]], res.Mapping[children[1]]}, ordered)

	cat, err := dest.CategoryNodeOrErr(weights.CategoryComponent)
	require.NoError(t, err)
	users := dest.EdgesDirectedForEdgeWeightKind(res.ComponentID, weights.EdgeKindUse, graph.Incoming)
	require.Len(t, users, 1)
	assert.Equal(t, cat, users[0].Source)

	assert.True(t, source.HasNode(comp))
	assert.False(t, dest.HasNode(comp))
}

func TestImportComponentSubgraph_MissingAnchor(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	source := initial(t, d, 0)
	fx := addVariant(t, source, "server", nil, nil)
	peer := addComponentOf(t, source, "peer", fx.variant)
	comp, _ := componentWithChildren(t, source, fx.variant, peer)

	dest := initial(t, d, 0)
	before := nodeHashes(dest)
	_, err := dest.ImportComponentSubgraph(ctx, source, comp)
	assert.ErrorIs(t, err, ErrImportAnchorMissing)
	assert.Equal(t, before, nodeHashes(dest))

	_, err = dest.ImportComponentSubgraph(ctx, source, fx.variant)
	assert.ErrorIs(t, err, ErrUnexpectedNodeKind)
}

func TestImportComponentSubgraph_IntoSelf(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	fx := addVariant(t, s, "server", nil, nil)
	peer := addComponentOf(t, s, "peer", fx.variant)
	comp, _ := componentWithChildren(t, s, fx.variant, peer)
	before := s.NodeCount()

	res, err := s.ImportComponentSubgraph(ctx, s, comp)
	require.NoError(t, err)
	assert.Equal(t, before+len(res.Mapping), s.NodeCount())
	assert.True(t, s.HasNode(comp))
	assert.True(t, s.HasNode(res.ComponentID))
}
