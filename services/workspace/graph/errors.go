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
	"errors"
	"fmt"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// Sentinel errors for graph operations.
var (
	// ErrNodeNotFound indicates the requested node does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound indicates the requested edge does not exist.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrDuplicateNode indicates a node identifier already exists in another
	// partition, or a rename target is taken.
	ErrDuplicateNode = errors.New("duplicate node identifier")

	// ErrWouldCreateCycle indicates that adding an edge would close a cycle
	// while cycle checking is enabled.
	ErrWouldCreateCycle = errors.New("edge would create a cycle")

	// ErrCannotRemoveRoot indicates an attempt to remove the graph root.
	ErrCannotRemoveRoot = errors.New("cannot remove the root node")

	// ErrMissingRoot indicates reconstructed parts do not contain the root.
	ErrMissingRoot = errors.New("graph root missing")

	// ErrContainerNotOrdered indicates an ordered operation on a node with no
	// ordering node.
	ErrContainerNotOrdered = errors.New("container is not ordered")

	// ErrPartitionMismatch indicates the supergraph and partition list
	// disagree on partition count.
	ErrPartitionMismatch = errors.New("supergraph and partitions disagree")

	// ErrNotHashed indicates a diff was requested on a graph with pending
	// merkle recomputation.
	ErrNotHashed = errors.New("graph has stale merkle hashes")

	// ErrNilWeight indicates a nil node weight was supplied.
	ErrNilWeight = errors.New("node weight must not be nil")

	// ErrUnknownUpdate indicates an update of an unrecognised type.
	ErrUnknownUpdate = errors.New("unknown update type")

	// ErrUnrelatedRoots indicates a diff between graphs whose roots have
	// different lineages. No batch can turn one into the other.
	ErrUnrelatedRoots = errors.New("graphs do not share a root lineage")

	// ErrUnreachableUpdate indicates a replayed batch left one of the nodes
	// it wrote unreachable from the root.
	ErrUnreachableUpdate = errors.New("update left node unreachable from root")

	// ErrNotMigrated indicates persisted bytes are in a legacy format that
	// this version can no longer read. Callers should run a migration rather
	// than treat it as corruption.
	ErrNotMigrated = errors.New("snapshot bytes not migrated")

	// ErrCorrupted indicates persisted bytes failed integrity checks.
	ErrCorrupted = errors.New("persisted graph bytes corrupted")

	// ErrUnsupportedVersion indicates bytes written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported graph format version")

	// ErrUnpersistedPartition indicates a supergraph was encoded while some
	// partition slot had no address.
	ErrUnpersistedPartition = errors.New("partition has no persisted address")
)

// NodeNotFoundError carries the identifier that was not found.
type NodeNotFoundError struct {
	ID ids.ID
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node not found: %s", e.ID)
}

// Unwrap returns ErrNodeNotFound.
func (e *NodeNotFoundError) Unwrap() error {
	return ErrNodeNotFound
}

// EdgeNotFoundError carries the triple that was not found.
type EdgeNotFoundError struct {
	Source ids.ID
	Target ids.ID
	Kind   weights.EdgeKind
}

func (e *EdgeNotFoundError) Error() string {
	return fmt.Sprintf("edge not found: %s -[%s]-> %s", e.Source, e.Kind, e.Target)
}

// Unwrap returns ErrEdgeNotFound.
func (e *EdgeNotFoundError) Unwrap() error {
	return ErrEdgeNotFound
}

func nodeNotFound(id ids.ID) error {
	return &NodeNotFoundError{ID: id}
}
