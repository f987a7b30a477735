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
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/changegraph/services/workspace/changeset"
	"github.com/AleutianAI/changegraph/services/workspace/dal"
	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/layerstore"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
	"github.com/AleutianAI/changegraph/services/workspace/workpool"
)

// ----- Helpers -----

// memStore is an in-memory layer store that counts operations and can
// pretend supergraphs are not yet visible.
type memStore struct {
	mu         sync.Mutex
	data       map[layerstore.Namespace]map[ids.Address][]byte
	writes     map[layerstore.Namespace]int
	superReads int
	hideSuper  int
}

func newMemStore() *memStore {
	return &memStore{
		data:   make(map[layerstore.Namespace]map[ids.Address][]byte),
		writes: make(map[layerstore.Namespace]int),
	}
}

func (m *memStore) Write(_ context.Context, ns layerstore.Namespace, data []byte, _ layerstore.Meta) (ids.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := ids.AddressOf(data)
	if m.data[ns] == nil {
		m.data[ns] = make(map[ids.Address][]byte)
	}
	m.data[ns][addr] = append([]byte(nil), data...)
	m.writes[ns]++
	return addr, nil
}

func (m *memStore) Read(_ context.Context, ns layerstore.Namespace, addr ids.Address) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns == layerstore.NamespaceSuperGraph {
		m.superReads++
		if m.hideSuper > 0 {
			m.hideSuper--
			return nil, false, nil
		}
	}
	data, ok := m.data[ns][addr]
	return data, ok, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) writeCount(ns layerstore.Namespace) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[ns]
}

func (m *memStore) hide(n int) {
	m.mu.Lock()
	m.hideSuper = n
	m.mu.Unlock()
}

func (m *memStore) superReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.superReads
}

func (m *memStore) drop(ns layerstore.Namespace) {
	m.mu.Lock()
	delete(m.data, ns)
	m.mu.Unlock()
}

// mapDirectory is a change-set directory backed by a map.
type mapDirectory struct {
	mu      sync.Mutex
	addrs   map[ids.ID]ids.Address
	lookups int
}

func newMapDirectory() *mapDirectory {
	return &mapDirectory{addrs: make(map[ids.ID]ids.Address)}
}

func (m *mapDirectory) Address(_ context.Context, id ids.ID) (ids.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	addr, ok := m.addrs[id]
	if !ok {
		return ids.Address{}, changeset.ErrChangeSetNotFound
	}
	return addr, nil
}

func (m *mapDirectory) SetAddress(_ context.Context, id ids.ID, addr ids.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addrs[id] = addr
	return nil
}

func testDAL(t *testing.T) (*dal.Context, *memStore, *mapDirectory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()
	dir := newMapDirectory()
	d := dal.New("tenant", "tester", store, dir, workpool.New(2, logger), logger)
	d.Retry = dal.Retry{Attempts: 5, Delay: time.Millisecond}
	return d, store, dir
}

func initial(t *testing.T, d *dal.Context, splitThreshold int) *WorkspaceSnapshot {
	t.Helper()
	s, err := Initial(context.Background(), d, splitThreshold)
	require.NoError(t, err)
	return s
}

func hash(s string) ids.Hash {
	return ids.HashBytes([]byte(s))
}

// nodeHashes maps every node to its node hash.
func nodeHashes(s *WorkspaceSnapshot) map[ids.ID]ids.Hash {
	out := make(map[ids.ID]ids.Hash)
	for _, w := range s.Nodes() {
		out[w.ID()] = w.NodeHash()
	}
	return out
}

func addComponent(t *testing.T, s *WorkspaceSnapshot, name string) ids.ID {
	t.Helper()
	cat, err := s.CategoryNodeOrErr(weights.CategoryComponent)
	require.NoError(t, err)
	c := weights.NewComponent(hash(name))
	require.NoError(t, s.AddOrReplaceNode(c))
	require.NoError(t, s.AddEdge(cat, weights.UseEdge(false), c.ID()))
	return c.ID()
}

type variantFixture struct {
	schema  ids.ID
	variant ids.ID
	inputs  map[string]ids.ID
	outputs map[string]ids.ID
}

// addVariant adds a schema with one variant and the named sockets.
func addVariant(t *testing.T, s *WorkspaceSnapshot, name string, inputs, outputs []string) variantFixture {
	t.Helper()
	cat, err := s.CategoryNodeOrErr(weights.CategorySchema)
	require.NoError(t, err)

	schema := weights.NewSchema(name, hash(name))
	variant := weights.NewSchemaVariant(name+" v1", hash(name+" v1"))
	require.NoError(t, s.AddOrReplaceNode(schema))
	require.NoError(t, s.AddOrReplaceNode(variant))
	require.NoError(t, s.AddEdge(cat, weights.UseEdge(false), schema.ID()))
	require.NoError(t, s.AddEdge(schema.ID(), weights.UseEdge(true), variant.ID()))

	fx := variantFixture{schema: schema.ID(), variant: variant.ID(), inputs: map[string]ids.ID{}, outputs: map[string]ids.ID{}}
	add := func(names []string, dir weights.SocketDirection, into map[string]ids.ID) {
		for _, n := range names {
			sock := weights.NewSocket(n, dir, weights.ArityMany)
			require.NoError(t, s.AddOrReplaceNode(sock))
			require.NoError(t, s.AddEdge(variant.ID(), weights.NewEdge(weights.EdgeKindSocket), sock.ID()))
			into[n] = sock.ID()
		}
	}
	add(inputs, weights.SocketInput, fx.inputs)
	add(outputs, weights.SocketOutput, fx.outputs)
	return fx
}

func addComponentOf(t *testing.T, s *WorkspaceSnapshot, name string, variant ids.ID) ids.ID {
	t.Helper()
	c := addComponent(t, s, name)
	require.NoError(t, s.AddEdge(c, weights.UseEdge(false), variant))
	return c
}

// ----- Initial -----

func TestInitial_Bootstrap(t *testing.T) {
	d, store, _ := testDAL(t)
	s := initial(t, d, 0)

	assert.False(t, s.Address().IsZero())
	assert.Equal(t, 1, store.writeCount(layerstore.NamespaceSuperGraph))
	assert.Equal(t, s.PartitionCount(), store.writeCount(layerstore.NamespaceSubGraph))

	for _, kind := range weights.AllCategoryKinds() {
		_, ok, err := s.CategoryNode(kind)
		require.NoError(t, err)
		assert.True(t, ok, "category %s", kind)
	}

	views, err := s.ListViews(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, DefaultViewName, views[0].Name)
	assert.True(t, views[0].IsDefault)

	def, err := s.DefaultViewID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, views[0].ID, def)
	assert.True(t, s.IsAcyclicDirected())
}

func TestInitial_RequiresLayerStore(t *testing.T) {
	_, err := Initial(context.Background(), &dal.Context{}, 0)
	assert.ErrorIs(t, err, dal.ErrNoLayerStore)
}

// ----- Find -----

func TestFind_RoundTrip(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 3)
	fx := addVariant(t, s, "server", []string{"region"}, []string{"ip"})
	addComponentOf(t, s, "web", fx.variant)
	addr, err := s.Write(context.Background(), d)
	require.NoError(t, err)
	require.Greater(t, s.PartitionCount(), 1)

	loaded, err := Find(context.Background(), d, addr)
	require.NoError(t, err)
	assert.Equal(t, addr, loaded.Address())
	assert.False(t, loaded.HasWorkingCopy())
	assert.Equal(t, s.RootID(), loaded.RootID())
	assert.Equal(t, nodeHashes(s), nodeHashes(loaded))
	assert.Equal(t, s.Edges(), loaded.Edges())
	assert.Equal(t, s.PartitionCount(), loaded.PartitionCount())
}

func TestFind_MissingLayers(t *testing.T) {
	d, store, _ := testDAL(t)
	s := initial(t, d, 0)

	_, err := Find(context.Background(), d, ids.AddressOf([]byte("nothing here")))
	var missing *MissingAtAddressError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, LayerSuperGraph, missing.Layer)
	assert.ErrorIs(t, err, ErrMissingAtAddress)
	assert.ErrorIs(t, err, ErrSuperGraphMissing)

	store.drop(layerstore.NamespaceSubGraph)
	_, err = Find(context.Background(), d, s.Address())
	assert.ErrorIs(t, err, ErrMissingAtAddress)
	assert.ErrorIs(t, err, ErrSubGraphMissing)
}

func TestFind_LegacyBytes(t *testing.T) {
	d, store, _ := testDAL(t)
	addr, err := store.Write(context.Background(), layerstore.NamespaceSuperGraph, []byte("legacy supergraph bytes"), d.Meta())
	require.NoError(t, err)

	_, err = Find(context.Background(), d, addr)
	assert.ErrorIs(t, err, ErrNotMigrated)
	assert.NotErrorIs(t, err, ErrMissingAtAddress)
}

// ----- FindForChangeSet -----

func TestFindForChangeSet_RetriesUntilVisible(t *testing.T) {
	d, store, dir := testDAL(t)
	s := initial(t, d, 0)
	csID := ids.NewID()
	require.NoError(t, dir.SetAddress(context.Background(), csID, s.Address()))

	store.hide(2)
	before := store.superReadCount()
	loaded, err := FindForChangeSet(context.Background(), d, csID)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), loaded.Address())
	assert.Equal(t, 3, store.superReadCount()-before)
	assert.Equal(t, 3, dir.lookups)
}

func TestFindForChangeSet_SucceedsFirstTry(t *testing.T) {
	d, store, dir := testDAL(t)
	s := initial(t, d, 0)
	csID := ids.NewID()
	require.NoError(t, dir.SetAddress(context.Background(), csID, s.Address()))

	before := store.superReadCount()
	_, err := FindForChangeSet(context.Background(), d, csID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.superReadCount()-before)
}

func TestFindForChangeSet_ExhaustsAttempts(t *testing.T) {
	d, store, dir := testDAL(t)
	d.Retry = dal.Retry{Attempts: 5, Delay: 20 * time.Millisecond}
	s := initial(t, d, 0)
	csID := ids.NewID()
	require.NoError(t, dir.SetAddress(context.Background(), csID, s.Address()))

	store.hide(100)
	before := store.superReadCount()
	start := time.Now()
	_, err := FindForChangeSet(context.Background(), d, csID)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSnapshotNotFetched)
	assert.ErrorIs(t, err, ErrSuperGraphMissing)
	assert.Equal(t, 5, store.superReadCount()-before)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestFindForChangeSet_DirectoryErrorNotRetried(t *testing.T) {
	d, _, dir := testDAL(t)
	_, err := FindForChangeSet(context.Background(), d, ids.NewID())
	assert.ErrorIs(t, err, changeset.ErrChangeSetNotFound)
	assert.NotErrorIs(t, err, ErrSnapshotNotFetched)
	assert.Equal(t, 1, dir.lookups)
}

func TestFindForChangeSet_ContextCancelled(t *testing.T) {
	d, store, dir := testDAL(t)
	d.Retry = dal.Retry{Attempts: 5, Delay: time.Hour}
	s := initial(t, d, 0)
	csID := ids.NewID()
	require.NoError(t, dir.SetAddress(context.Background(), csID, s.Address()))
	store.hide(100)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := FindForChangeSet(ctx, d, csID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSnapshotNotFetched)
}

// ----- Working copy -----

func TestLazyCopy_BaseUnchanged(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)

	a, err := Find(context.Background(), d, s.Address())
	require.NoError(t, err)
	b, err := Find(context.Background(), d, s.Address())
	require.NoError(t, err)

	before := nodeHashes(a)
	assert.Equal(t, before, nodeHashes(b))
	assert.False(t, a.HasWorkingCopy())

	// Reads never materialize a working copy.
	_, err = a.ListViews(context.Background())
	require.NoError(t, err)
	assert.False(t, a.HasWorkingCopy())

	comp := addComponent(t, a, "db")
	assert.True(t, a.HasWorkingCopy())
	assert.True(t, a.HasNode(comp))
	assert.False(t, b.HasNode(comp))
	assert.Equal(t, before, nodeHashes(b))

	a.Revert()
	assert.False(t, a.HasWorkingCopy())
	assert.False(t, a.HasNode(comp))
	assert.Equal(t, before, nodeHashes(a))
}

func TestMutations_MissingNodes(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)

	missing := ids.NewID()
	assert.ErrorIs(t, s.UpdateContent(missing, hash("x")), ErrNodeNotFound)
	assert.ErrorIs(t, s.RemoveNodeByID(missing), ErrNodeNotFound)
	_, err := s.NodeWeight(missing)
	assert.ErrorIs(t, err, ErrNodeNotFound)

	comp := addComponent(t, s, "db")
	assert.ErrorIs(t, s.RemoveEdge(s.RootID(), comp, weights.EdgeKindUse), ErrEdgeNotFound)
}

func TestMutations_EdgesAndOrdering(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)
	comp := addComponent(t, s, "frame")

	parent := weights.NewComponent(hash("parent"))
	_, err := s.AddOrderedNode(parent)
	require.NoError(t, err)
	a := weights.NewContent(weights.ContentKindProp, hash("a"))
	b := weights.NewContent(weights.ContentKindProp, hash("b"))
	require.NoError(t, s.AddOrReplaceNode(a))
	require.NoError(t, s.AddOrReplaceNode(b))
	require.NoError(t, s.AddOrderedEdge(parent.ID(), weights.ContainEdge("b"), b.ID()))
	require.NoError(t, s.AddOrderedEdge(parent.ID(), weights.ContainEdge("a"), a.ID()))

	children, ordered, err := s.OrderedChildren(parent.ID())
	require.NoError(t, err)
	assert.True(t, ordered)
	assert.Equal(t, []ids.ID{b.ID(), a.ID()}, children)

	edges := s.EdgesDirectedForEdgeWeightKind(parent.ID(), weights.EdgeKindContain, graph.Outgoing)
	assert.Len(t, edges, 2)

	require.NoError(t, s.RemoveIncomingEdgesOfKind(comp, weights.EdgeKindUse))
	assert.Empty(t, s.EdgesDirected(comp, graph.Incoming))

	newID := ids.NewID()
	require.NoError(t, s.UpdateNodeID(a.ID(), newID, a.LineageID()))
	children, _, err = s.OrderedChildren(parent.ID())
	require.NoError(t, err)
	assert.Equal(t, []ids.ID{b.ID(), newID}, children)

	require.NoError(t, s.RemoveAllEdges(b.ID()))
	assert.False(t, s.HasNode(b.ID()))
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 4)
	before := s.NodeCount()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, s.AddOrReplaceNode(weights.NewComponent(ids.Hash{})))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = s.NodeCount()
				_, _ = s.DefaultViewID(context.Background())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, before+80, s.NodeCount())
}

// ----- Write -----

func TestWrite_IdempotentAndIncremental(t *testing.T) {
	d, store, _ := testDAL(t)
	s := initial(t, d, 3)
	loaded, err := Find(context.Background(), d, s.Address())
	require.NoError(t, err)

	subsBefore := store.writeCount(layerstore.NamespaceSubGraph)
	supersBefore := store.writeCount(layerstore.NamespaceSuperGraph)
	addr, err := loaded.Write(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
	assert.False(t, loaded.HasWorkingCopy(), "writing an unmutated snapshot must not clone its base")
	assert.Equal(t, subsBefore, store.writeCount(layerstore.NamespaceSubGraph))
	assert.Equal(t, supersBefore, store.writeCount(layerstore.NamespaceSuperGraph))

	addComponent(t, loaded, "db")
	subsBefore = store.writeCount(layerstore.NamespaceSubGraph)
	supersBefore = store.writeCount(layerstore.NamespaceSuperGraph)

	first, err := loaded.Write(context.Background(), d)
	require.NoError(t, err)
	assert.NotEqual(t, addr, first)
	written := store.writeCount(layerstore.NamespaceSubGraph) - subsBefore
	assert.Greater(t, written, 0)
	assert.Less(t, written, loaded.PartitionCount())
	assert.Equal(t, 1, store.writeCount(layerstore.NamespaceSuperGraph)-supersBefore)

	subsBefore = store.writeCount(layerstore.NamespaceSubGraph)
	supersBefore = store.writeCount(layerstore.NamespaceSuperGraph)
	second, err := loaded.Write(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, subsBefore, store.writeCount(layerstore.NamespaceSubGraph))
	assert.Equal(t, supersBefore, store.writeCount(layerstore.NamespaceSuperGraph))
}

func TestWrite_AfterRevertRepublishesBase(t *testing.T) {
	d, store, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	loaded, err := Find(ctx, d, s.Address())
	require.NoError(t, err)

	addComponent(t, loaded, "db")
	changed, err := loaded.Write(ctx, d)
	require.NoError(t, err)
	require.NotEqual(t, s.Address(), changed)

	loaded.Revert()
	supersBefore := store.writeCount(layerstore.NamespaceSuperGraph)
	addr, err := loaded.Write(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
	assert.Equal(t, s.Address(), loaded.Address())
	assert.Equal(t, supersBefore, store.writeCount(layerstore.NamespaceSuperGraph))
	assert.False(t, loaded.HasWorkingCopy())
}

func TestWrite_CleansUnreachableNodes(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)
	before := s.NodeCount()

	require.NoError(t, s.AddOrReplaceNode(weights.NewComponent(hash("stray"))))
	assert.Equal(t, before+1, s.NodeCount())

	addr, err := s.Write(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, before, s.NodeCount())

	loaded, err := Find(context.Background(), d, addr)
	require.NoError(t, err)
	assert.Equal(t, before, loaded.NodeCount())
}

// ----- Guards -----

func TestCycleCheckGuard(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)
	a := addComponent(t, s, "a")
	b := addComponent(t, s, "b")

	outer := s.EnableCycleCheck()
	inner := s.EnableCycleCheck()
	require.NoError(t, s.AddEdge(a, weights.NewEdge(weights.EdgeKindFrameContains), b))
	assert.ErrorIs(t, s.AddEdge(b, weights.NewEdge(weights.EdgeKindFrameContains), a), ErrWouldCreateCycle)

	inner.Release()
	assert.True(t, s.CycleCheckEnabled())
	outer.Release()
	outer.Release()
	assert.False(t, s.CycleCheckEnabled())

	require.NoError(t, s.AddEdge(b, weights.NewEdge(weights.EdgeKindFrameContains), a))
	assert.False(t, s.IsAcyclicDirected())
}

func TestCycleCheckGuard_OutOfOrderRelease(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)

	first := s.EnableCycleCheck()
	second := s.EnableCycleCheck()
	first.Release()
	assert.True(t, s.CycleCheckEnabled(), "the second guard is still held")
	second.Release()
	assert.False(t, s.CycleCheckEnabled())

	var wg sync.WaitGroup
	release := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := s.EnableCycleCheck()
			<-release
			g.Release()
		}()
	}
	held := s.EnableCycleCheck()
	close(release)
	wg.Wait()
	assert.True(t, s.CycleCheckEnabled())
	held.Release()
	assert.False(t, s.CycleCheckEnabled())
}

func TestDependentValueRoots(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)
	ctx := context.Background()
	v1, v2 := ids.NewID(), ids.NewID()

	has, err := s.HasDependentValueRoots(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	added, err := s.AddDependentValueRoot(ctx, d, v2)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddDependentValueRoot(ctx, d, v1)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddDependentValueRoot(ctx, d, v2)
	require.NoError(t, err)
	assert.False(t, added)

	has, err = s.HasDependentValueRoots(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	taken, err := s.TakeDependentValueRoots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ids.ID{v1, v2}, taken)

	has, err = s.HasDependentValueRoots(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	added, err = s.AddDependentValueRoot(ctx, d, v1)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestDVURootCheck(t *testing.T) {
	s := FromGraph(graph.New(0))
	root := ids.NewID()
	assert.False(t, s.DVURootCheck(root))
	assert.True(t, s.DVURootCheck(root))
}

func TestInferredConnectionGraph(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)
	ctx := context.Background()

	frameSV := addVariant(t, s, "frame", nil, []string{"region"})
	childSV := addVariant(t, s, "child", []string{"region", "vpc"}, nil)
	outer := addComponentOf(t, s, "outer", frameSV.variant)
	inner := addComponentOf(t, s, "inner", frameSV.variant)
	child := addComponentOf(t, s, "leaf", childSV.variant)
	require.NoError(t, s.AddEdge(outer, weights.NewEdge(weights.EdgeKindFrameContains), inner))
	require.NoError(t, s.AddEdge(inner, weights.NewEdge(weights.EdgeKindFrameContains), child))

	ig, err := s.InferredConnectionGraph(ctx, d)
	require.NoError(t, err)
	require.Equal(t, 1, ig.Len())
	conns := ig.ForDestination(child)
	require.Len(t, conns, 1)
	assert.Equal(t, inner, conns[0].SourceComponent)
	assert.Equal(t, frameSV.outputs["region"], conns[0].OutputSocket)
	assert.Equal(t, childSV.inputs["region"], conns[0].InputSocket)
	assert.Len(t, ig.ForSource(inner), 1)
	assert.Empty(t, ig.ForSource(outer))

	again, err := s.InferredConnectionGraph(ctx, d)
	require.NoError(t, err)
	assert.Same(t, ig, again)

	require.NoError(t, s.RemoveEdge(inner, child, weights.EdgeKindFrameContains))
	require.NoError(t, s.AddEdge(outer, weights.NewEdge(weights.EdgeKindFrameContains), child))
	stale, err := s.InferredConnectionGraph(ctx, d)
	require.NoError(t, err)
	assert.Same(t, ig, stale)

	s.ClearInferredConnectionGraph()
	rebuilt, err := s.InferredConnectionGraph(ctx, d)
	require.NoError(t, err)
	assert.NotSame(t, ig, rebuilt)
	conns = rebuilt.ForDestination(child)
	require.Len(t, conns, 1)
	assert.Equal(t, outer, conns[0].SourceComponent)
}

func TestInferredConnectionGraph_ConcurrentCallersShareResult(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)

	results := make([]*InferredConnectionGraph, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ig, err := s.InferredConnectionGraph(context.Background(), d)
			assert.NoError(t, err)
			results[i] = ig
		}()
	}
	wg.Wait()

	cached, err := s.InferredConnectionGraph(context.Background(), d)
	require.NoError(t, err)
	for _, ig := range results {
		require.NotNil(t, ig)
		assert.Equal(t, 0, ig.Len())
		assert.Same(t, cached, ig)
	}
}

// ----- Rebase -----

func TestRebase_DiffApplyLaw(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 3)
	fx := addVariant(t, s, "server", []string{"region"}, nil)
	doomed := addComponentOf(t, s, "doomed", fx.variant)
	kept := addComponentOf(t, s, "kept", fx.variant)
	addr, err := s.Write(ctx, d)
	require.NoError(t, err)

	base, err := Find(ctx, d, addr)
	require.NoError(t, err)
	updated, err := Find(ctx, d, addr)
	require.NoError(t, err)

	addComponentOf(t, updated, "added", fx.variant)
	_, err = updated.CreateView(ctx, "ops")
	require.NoError(t, err)
	require.NoError(t, updated.UpdateContent(kept, hash("kept v2")))
	require.NoError(t, updated.RemoveNodeByID(doomed))
	require.NoError(t, updated.UpdateNodeID(fx.variant, ids.NewID(), fx.variant))
	require.NoError(t, updated.CleanupAndMerkleTreeHash(ctx, d))

	batch, err := updated.CurrentRebaseBatch(ctx, d)
	require.NoError(t, err)
	require.NotEmpty(t, batch)
	assert.Equal(t, graph.UpdateKindRenameNode, batch[0].Kind())

	updates, err := CalculateRebaseBatch(ctx, d, base, updated)
	require.NoError(t, err)
	require.NotEmpty(t, updates)

	require.NoError(t, base.PerformUpdates(ctx, d, updates))
	require.NoError(t, base.CleanupAndMerkleTreeHash(ctx, d))
	assert.Equal(t, nodeHashes(updated), nodeHashes(base))
	assert.Equal(t, updated.Edges(), base.Edges())

	again, err := base.DetectUpdates(ctx, d, updated)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, base.PerformUpdates(ctx, d, updates))
	require.NoError(t, base.CleanupAndMerkleTreeHash(ctx, d))
	assert.Equal(t, nodeHashes(updated), nodeHashes(base))
}

func TestRebase_UnrelatedInitialSnapshots(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	a := initial(t, d, 0)
	b := initial(t, d, 0)
	fx := addVariant(t, b, "server", nil, nil)
	addComponentOf(t, b, "web", fx.variant)
	require.NoError(t, b.CleanupAndMerkleTreeHash(ctx, d))
	aNodes := a.NodeCount()

	updates, err := CalculateRebaseBatch(ctx, d, a, b)
	require.ErrorIs(t, err, ErrUnrelatedRoots)
	assert.Nil(t, updates)

	_, err = a.DetectChanges(ctx, d, b)
	require.ErrorIs(t, err, ErrUnrelatedRoots)
	assert.Equal(t, aNodes, a.NodeCount())
	assert.NotEqual(t, a.RootID(), b.RootID())
}

func TestRebase_NoWorkingCopy(t *testing.T) {
	d, _, _ := testDAL(t)
	s := initial(t, d, 0)
	loaded, err := Find(context.Background(), d, s.Address())
	require.NoError(t, err)

	batch, err := loaded.CurrentRebaseBatch(context.Background(), d)
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.False(t, loaded.HasWorkingCopy())

	require.NoError(t, loaded.CleanupAndMerkleTreeHash(context.Background(), d))
	assert.False(t, loaded.HasWorkingCopy())

	updates, err := loaded.DetectUpdates(context.Background(), d, loaded)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestDetectChanges(t *testing.T) {
	d, _, _ := testDAL(t)
	ctx := context.Background()
	s := initial(t, d, 0)
	base, err := Find(ctx, d, s.Address())
	require.NoError(t, err)
	updated, err := Find(ctx, d, s.Address())
	require.NoError(t, err)

	comp := addComponent(t, updated, "db")
	require.NoError(t, updated.CleanupAndMerkleTreeHash(ctx, d))

	changes, err := base.DetectChanges(ctx, d, updated)
	require.NoError(t, err)
	byID := make(map[ids.ID]weights.EntityKind)
	for _, c := range changes {
		byID[c.EntityID] = c.EntityKind
	}
	assert.Equal(t, weights.EntityKindComponent, byID[comp])
	assert.Equal(t, weights.EntityKindRoot, byID[s.RootID()])

	none, err := base.DetectChanges(ctx, d, base)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// ----- Errors -----

func TestMissingAtAddressError_Unwrap(t *testing.T) {
	err := error(&MissingAtAddressError{Layer: LayerSubGraph})
	assert.True(t, errors.Is(err, ErrMissingAtAddress))
	assert.True(t, errors.Is(err, ErrSubGraphMissing))
	assert.False(t, errors.Is(err, ErrSuperGraphMissing))
}
