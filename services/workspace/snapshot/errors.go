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
	"errors"
	"fmt"

	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// Graph-level conditions surfaced unchanged by snapshot methods.
var (
	ErrNodeNotFound     = graph.ErrNodeNotFound
	ErrEdgeNotFound     = graph.ErrEdgeNotFound
	ErrWouldCreateCycle = graph.ErrWouldCreateCycle
	ErrNotMigrated      = graph.ErrNotMigrated
	ErrMissingRoot      = graph.ErrMissingRoot

	// ErrUnrelatedRoots indicates a diff between snapshots that were not
	// derived from a common initial snapshot.
	ErrUnrelatedRoots = graph.ErrUnrelatedRoots

	// ErrUnreachableUpdate indicates a replayed batch did not connect a node
	// it wrote to the root.
	ErrUnreachableUpdate = graph.ErrUnreachableUpdate

	// ErrUnexpectedNodeKind indicates a node of the wrong kind at a call
	// site that expects a specific one.
	ErrUnexpectedNodeKind = weights.ErrUnexpectedKind
)

var (
	// ErrMissingAtAddress indicates a layer referenced by an address is not
	// (yet) visible in the layer store. FindForChangeSet retries on it.
	ErrMissingAtAddress = errors.New("missing at address")

	// ErrSuperGraphMissing is the supergraph flavour of ErrMissingAtAddress.
	ErrSuperGraphMissing = errors.New("supergraph missing")

	// ErrSubGraphMissing is the subgraph flavour of ErrMissingAtAddress.
	ErrSubGraphMissing = errors.New("subgraph missing")

	// ErrSnapshotNotFetched is the terminal failure of FindForChangeSet
	// once its retries are exhausted.
	ErrSnapshotNotFetched = errors.New("workspace snapshot not fetched")

	// ErrPartitionRemoved indicates a working copy with fewer partitions
	// than its base. Partitions are append-only.
	ErrPartitionRemoved = errors.New("partition removed from working copy")

	// ErrCategoryNotFound indicates a missing category node.
	ErrCategoryNotFound = errors.New("category node not found")

	// ErrDuplicateCategory indicates more than one category node of a kind.
	ErrDuplicateCategory = errors.New("category node is not unique")

	// ErrSchemaOwnership indicates a schema variant without exactly one
	// owning schema.
	ErrSchemaOwnership = errors.New("schema variant must have exactly one schema")

	// ErrSchemaVariantNotFound indicates no schema variant owns a socket or
	// is used by a component.
	ErrSchemaVariantNotFound = errors.New("schema variant not found")

	// ErrSchemaVariantNotUnique indicates several candidate schema variants.
	ErrSchemaVariantNotUnique = errors.New("schema variant is not unique")

	// ErrNoDefaultView indicates the view category has no default member.
	ErrNoDefaultView = errors.New("default view not found")

	// ErrCannotRemoveDefaultView indicates an attempt to remove the default view.
	ErrCannotRemoveDefaultView = errors.New("cannot remove the default view")

	// ErrViewRemovalOrphans indicates removing a view would leave components
	// in no view.
	ErrViewRemovalOrphans = errors.New("view removal would orphan components")

	// ErrImportAnchorMissing indicates an imported component depends on a
	// node the destination does not have.
	ErrImportAnchorMissing = errors.New("import anchor missing in destination")
)

// LayerKind names which layer of a snapshot was missing.
type LayerKind string

const (
	LayerSuperGraph LayerKind = "supergraph"
	LayerSubGraph   LayerKind = "subgraph"
)

// MissingAtAddressError reports a layer that could not be read.
//
// It matches both ErrMissingAtAddress and the kind specific sentinel.
type MissingAtAddressError struct {
	Layer   LayerKind
	Address ids.Address
}

func (e *MissingAtAddressError) Error() string {
	return fmt.Sprintf("%s missing at address %s", e.Layer, e.Address)
}

// Unwrap returns ErrMissingAtAddress and the layer sentinel.
func (e *MissingAtAddressError) Unwrap() []error {
	if e.Layer == LayerSuperGraph {
		return []error{ErrMissingAtAddress, ErrSuperGraphMissing}
	}
	return []error{ErrMissingAtAddress, ErrSubGraphMissing}
}

// CategoryNotFoundError names the missing category.
type CategoryNotFoundError struct {
	Kind weights.CategoryKind
}

func (e *CategoryNotFoundError) Error() string {
	return fmt.Sprintf("category node not found: %s", e.Kind)
}

// Unwrap returns ErrCategoryNotFound.
func (e *CategoryNotFoundError) Unwrap() error { return ErrCategoryNotFound }

// SchemaOwnershipError reports how many schemas claim a variant.
type SchemaOwnershipError struct {
	SchemaVariantID ids.ID
	Owners          int
}

func (e *SchemaOwnershipError) Error() string {
	return fmt.Sprintf("schema variant %s has %d owning schemas, expected 1", e.SchemaVariantID, e.Owners)
}

// Unwrap returns ErrSchemaOwnership.
func (e *SchemaOwnershipError) Unwrap() error { return ErrSchemaOwnership }

// ViewOrphanError lists the components a view removal would orphan.
type ViewOrphanError struct {
	ViewID     ids.ID
	Components []ids.ID
}

func (e *ViewOrphanError) Error() string {
	return fmt.Sprintf("removing view %s would orphan %d component(s)", e.ViewID, len(e.Components))
}

// Unwrap returns ErrViewRemovalOrphans.
func (e *ViewOrphanError) Unwrap() error { return ErrViewRemovalOrphans }
