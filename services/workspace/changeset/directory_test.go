// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package changeset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
)

func openTestDirectory(t *testing.T) *SQLiteDirectory {
	t.Helper()
	d, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "changesets.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCreateAndResolve(t *testing.T) {
	d := openTestDirectory(t)
	ctx := context.Background()
	addr := ids.AddressOf([]byte("supergraph"))

	cs, err := d.Create(ctx, "head", addr)
	require.NoError(t, err)
	assert.Equal(t, "head", cs.Name)

	got, err := d.Address(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	next := ids.AddressOf([]byte("supergraph-2"))
	require.NoError(t, d.SetAddress(ctx, cs.ID, next))
	got, err = d.Address(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestFork(t *testing.T) {
	d := openTestDirectory(t)
	ctx := context.Background()
	addr := ids.AddressOf([]byte("base"))

	head, err := d.Create(ctx, "head", addr)
	require.NoError(t, err)
	fork, err := d.Fork(ctx, head.ID, "feature")
	require.NoError(t, err)
	assert.Equal(t, head.ID, fork.BaseID)
	assert.Equal(t, addr, fork.Address)

	require.NoError(t, d.SetAddress(ctx, fork.ID, ids.AddressOf([]byte("feature-work"))))
	headAddr, err := d.Address(ctx, head.ID)
	require.NoError(t, err)
	assert.Equal(t, addr, headAddr, "forks publish independently")

	all, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, head.ID, all[0].ID)
	assert.Equal(t, fork.ID, all[1].ID)
}

func TestErrors(t *testing.T) {
	d := openTestDirectory(t)
	ctx := context.Background()

	_, err := d.Address(ctx, ids.NewID())
	require.ErrorIs(t, err, ErrChangeSetNotFound)

	err = d.SetAddress(ctx, ids.NewID(), ids.AddressOf([]byte("x")))
	require.ErrorIs(t, err, ErrChangeSetNotFound)

	empty, err := d.Create(ctx, "empty", ids.Address{})
	require.NoError(t, err)
	_, err = d.Address(ctx, empty.ID)
	require.ErrorIs(t, err, ErrNoAddress)

	_, err = d.Fork(ctx, empty.ID, "child")
	require.ErrorIs(t, err, ErrNoAddress)
}

func TestInMemory(t *testing.T) {
	d, err := OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	defer d.Close()

	cs, err := d.Create(context.Background(), "mem", ids.AddressOf([]byte("m")))
	require.NoError(t, err)
	got, err := d.Get(context.Background(), cs.ID)
	require.NoError(t, err)
	assert.Equal(t, cs.ID, got.ID)
}
