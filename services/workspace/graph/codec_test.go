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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// persist encodes every partition and the supergraph, returning the bytes a
// layer store would hold.
func persist(t *testing.T, g *Graph) ([]byte, [][]byte) {
	t.Helper()
	g.CleanupAndMerkleTreeHash()
	parts := make([][]byte, g.PartitionCount())
	for i, s := range g.SubGraphs() {
		data, err := EncodeSubGraph(s)
		require.NoError(t, err)
		parts[i] = data
		g.MarkPartitionPersisted(i, ids.AddressOf(data))
	}
	super, err := EncodeSuperGraph(g.SuperGraph())
	require.NoError(t, err)
	return super, parts
}

func restore(t *testing.T, super []byte, parts [][]byte) *Graph {
	t.Helper()
	sg, err := DecodeSuperGraph(super)
	require.NoError(t, err)
	subs := make([]*SubGraph, len(parts))
	for i, data := range parts {
		s, err := DecodeSubGraph(data)
		require.NoError(t, err)
		subs[i] = s
	}
	g, err := FromParts(sg, subs)
	require.NoError(t, err)
	return g
}

func sampleGraph(t *testing.T) *Graph {
	t.Helper()
	g := New(2)
	cat := addNode(t, g, weights.NewCategory(weights.CategorySchema))
	addEdge(t, g, g.RootID(), weights.EdgeKindUse, cat)
	schema := addNode(t, g, weights.NewSchema("aws", content("aws")))
	addEdge(t, g, cat, weights.EdgeKindUse, schema)
	variant := addNode(t, g, weights.NewSchemaVariant("v1", content("v1")))
	require.NoError(t, g.AddEdge(schema, weights.UseEdge(true), variant))
	socket := addNode(t, g, weights.NewSocket("region", weights.SocketInput, weights.ArityOne))
	addEdge(t, g, variant, weights.EdgeKindSocket, socket)

	props := weights.NewContent(weights.ContentKindProp, content("props"))
	_, err := g.AddOrderedNode(props)
	require.NoError(t, err)
	addEdge(t, g, variant, weights.EdgeKindUse, props.ID())
	child := addNode(t, g, weights.NewContent(weights.ContentKindProp, content("child")))
	require.NoError(t, g.AddOrderedEdge(props.ID(), weights.ContainEdge("region"), child))
	return g
}

func TestCodec_RoundTrip(t *testing.T) {
	g := sampleGraph(t)
	super, parts := persist(t, g)
	want := structureOf(t, g)

	restored := restore(t, super, parts)
	assert.False(t, restored.IsDirty())
	assert.Equal(t, g.PartitionCount(), restored.PartitionCount())
	assert.Equal(t, g.SplitThreshold(), restored.SplitThreshold())
	assert.Equal(t, g.CrossEdgeCount(), restored.CrossEdgeCount())
	assert.Equal(t, want, structureOf(t, restored))

	for i := 0; i < restored.PartitionCount(); i++ {
		addr, ok := restored.PersistedPartition(i)
		require.True(t, ok, "partition %d", i)
		assert.Equal(t, ids.AddressOf(parts[i]), addr)
	}
}

func TestCodec_DeterministicBytes(t *testing.T) {
	g := sampleGraph(t)
	_, first := persist(t, g)
	_, second := persist(t, g)
	assert.Equal(t, first, second)
}

func TestCodec_RestoredGraphCanBeDiffed(t *testing.T) {
	g := sampleGraph(t)
	super, parts := persist(t, g)
	restored := restore(t, super, parts)

	updated := restored.Clone()
	added := addNode(t, updated, weights.NewView("extra"))
	addEdge(t, updated, updated.RootID(), weights.EdgeKindUse, added)
	updated.CleanupAndMerkleTreeHash()

	batch, err := g.DetectUpdates(updated)
	require.NoError(t, err)
	require.NoError(t, g.PerformUpdates(batch))
	assert.Equal(t, structureOf(t, updated), structureOf(t, g))
}

func TestCodec_Updates(t *testing.T) {
	base := sampleGraph(t)
	base.CleanupAndMerkleTreeHash()
	updated := base.Clone()
	view := addNode(t, updated, weights.NewView("v"))
	addEdge(t, updated, updated.RootID(), weights.EdgeKindUse, view)
	updated.CleanupAndMerkleTreeHash()

	batch, err := base.DetectUpdates(updated)
	require.NoError(t, err)
	data, err := EncodeUpdates(batch)
	require.NoError(t, err)

	decoded, err := DecodeUpdates(data)
	require.NoError(t, err)
	require.Len(t, decoded, len(batch))
	for i := range batch {
		assert.Equal(t, batch[i].Kind(), decoded[i].Kind())
		assert.Equal(t, batch[i].Subject(), decoded[i].Subject())
	}

	require.NoError(t, base.PerformUpdates(decoded))
	assert.Equal(t, structureOf(t, updated), structureOf(t, base))
}

func TestCodec_Errors(t *testing.T) {
	g := sampleGraph(t)
	_, parts := persist(t, g)
	good := parts[0]

	t.Run("legacy bytes", func(t *testing.T) {
		_, err := DecodeSubGraph([]byte("legacy-snapshot-format"))
		require.ErrorIs(t, err, ErrNotMigrated)
	})

	t.Run("older version", func(t *testing.T) {
		old := append([]byte(nil), good...)
		old[4] = FormatVersion - 1
		_, err := DecodeSubGraph(old)
		require.ErrorIs(t, err, ErrNotMigrated)
	})

	t.Run("newer version", func(t *testing.T) {
		newer := append([]byte(nil), good...)
		newer[4] = FormatVersion + 1
		_, err := DecodeSubGraph(newer)
		require.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("flipped payload byte", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[len(bad)-1] ^= 0xff
		_, err := DecodeSubGraph(bad)
		require.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("wrong record type", func(t *testing.T) {
		_, err := DecodeSuperGraph(good)
		require.ErrorIs(t, err, ErrNotMigrated)
	})

	t.Run("unpersisted partition", func(t *testing.T) {
		fresh := New(0)
		_, err := EncodeSuperGraph(fresh.SuperGraph())
		require.ErrorIs(t, err, ErrUnpersistedPartition)
	})

	t.Run("partition count mismatch", func(t *testing.T) {
		sg := g.SuperGraph()
		_, err := FromParts(sg, nil)
		require.ErrorIs(t, err, ErrPartitionMismatch)
	})
}
