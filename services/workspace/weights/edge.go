// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package weights

import (
	"fmt"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
)

// EdgeKind discriminates the closed set of edge variants.
//
// An edge is identified by (source, kind, target); the payload fields of
// EdgeWeight are replaced, not duplicated, when the same triple is added
// again.
type EdgeKind uint8

const (
	// EdgeKindUse links a container to something it uses: root to category,
	// category to member, component to schema variant.
	EdgeKindUse EdgeKind = iota + 1

	// EdgeKindContain links a parent to a keyed child.
	EdgeKindContain

	// EdgeKindOrdering links an ordered container to its ordering node.
	EdgeKindOrdering

	// EdgeKindRepresents links a geometry to the entity it draws.
	EdgeKindRepresents

	// EdgeKindSocket links a schema variant to its sockets.
	EdgeKindSocket

	// EdgeKindFrameContains links a frame component to a child component.
	EdgeKindFrameContains

	EdgeKindPrototype
	EdgeKindSocketValue

	// EdgeKindApprovalRequirement links an entity to an approval
	// requirement definition.
	EdgeKindApprovalRequirement
)

// String returns the kind name.
func (k EdgeKind) String() string {
	switch k {
	case EdgeKindUse:
		return "use"
	case EdgeKindContain:
		return "contain"
	case EdgeKindOrdering:
		return "ordering"
	case EdgeKindRepresents:
		return "represents"
	case EdgeKindSocket:
		return "socket"
	case EdgeKindFrameContains:
		return "frame_contains"
	case EdgeKindPrototype:
		return "prototype"
	case EdgeKindSocketValue:
		return "socket_value"
	case EdgeKindApprovalRequirement:
		return "approval_requirement"
	default:
		return fmt.Sprintf("edge_kind(%d)", uint8(k))
	}
}

// EdgeWeight is the payload of an edge.
type EdgeWeight struct {
	Kind EdgeKind

	// IsDefault marks the default member of a Use relation, e.g. the default
	// view under the view category.
	IsDefault bool

	// Key is the map key of a Contain edge.
	Key string
}

// NewEdge returns a payload-free edge weight of the given kind.
func NewEdge(kind EdgeKind) EdgeWeight {
	return EdgeWeight{Kind: kind}
}

// UseEdge returns a Use edge weight.
func UseEdge(isDefault bool) EdgeWeight {
	return EdgeWeight{Kind: EdgeKindUse, IsDefault: isDefault}
}

// ContainEdge returns a Contain edge weight with a key.
func ContainEdge(key string) EdgeWeight {
	return EdgeWeight{Kind: EdgeKindContain, Key: key}
}

// HashInto feeds the deterministic representation of w into h.
func (w EdgeWeight) HashInto(h *ids.Hasher) {
	_ = h.WriteByte(byte(w.Kind))
	_ = h.WriteByte(boolByte(w.IsDefault))
	h.WriteUint64(uint64(len(w.Key)))
	h.WriteString(w.Key)
}
