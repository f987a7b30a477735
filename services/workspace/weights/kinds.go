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

import "fmt"

// -----------------------------------------------------------------------------
// Node Kinds
// -----------------------------------------------------------------------------

// NodeKind discriminates the closed set of node weight variants.
type NodeKind uint8

const (
	NodeKindRoot NodeKind = iota + 1
	NodeKindCategory
	NodeKindContent
	NodeKindComponent
	NodeKindSchema
	NodeKindSchemaVariant
	NodeKindSocket
	NodeKindView
	NodeKindGeometry
	NodeKindOrdering
	NodeKindDependentValueRoot
	NodeKindApprovalRequirementDefinition
)

var nodeKindNames = map[NodeKind]string{
	NodeKindRoot:                          "root",
	NodeKindCategory:                      "category",
	NodeKindContent:                       "content",
	NodeKindComponent:                     "component",
	NodeKindSchema:                        "schema",
	NodeKindSchemaVariant:                 "schema_variant",
	NodeKindSocket:                        "socket",
	NodeKindView:                          "view",
	NodeKindGeometry:                      "geometry",
	NodeKindOrdering:                      "ordering",
	NodeKindDependentValueRoot:            "dependent_value_root",
	NodeKindApprovalRequirementDefinition: "approval_requirement_definition",
}

// String returns the snake_case name of the kind.
func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("node_kind(%d)", uint8(k))
}

// AllNodeKinds lists every node kind in declaration order.
func AllNodeKinds() []NodeKind {
	return []NodeKind{
		NodeKindRoot,
		NodeKindCategory,
		NodeKindContent,
		NodeKindComponent,
		NodeKindSchema,
		NodeKindSchemaVariant,
		NodeKindSocket,
		NodeKindView,
		NodeKindGeometry,
		NodeKindOrdering,
		NodeKindDependentValueRoot,
		NodeKindApprovalRequirementDefinition,
	}
}

// EntityKind is the consumer-facing classification of a node, used by change
// records and approval evaluation.
type EntityKind string

const (
	EntityKindRoot                          EntityKind = "Root"
	EntityKindCategory                      EntityKind = "Category"
	EntityKindContent                       EntityKind = "Content"
	EntityKindComponent                     EntityKind = "Component"
	EntityKindSchema                        EntityKind = "Schema"
	EntityKindSchemaVariant                 EntityKind = "SchemaVariant"
	EntityKindSocket                        EntityKind = "Socket"
	EntityKindView                          EntityKind = "View"
	EntityKindGeometry                      EntityKind = "Geometry"
	EntityKindOrdering                      EntityKind = "Ordering"
	EntityKindDependentValueRoot            EntityKind = "DependentValueRoot"
	EntityKindApprovalRequirementDefinition EntityKind = "ApprovalRequirementDefinition"
)

// EntityKindFor maps a node kind to its entity kind.
//
// Every NodeKind has exactly one EntityKind; an unknown kind returns an
// error rather than a guess.
func EntityKindFor(kind NodeKind) (EntityKind, error) {
	switch kind {
	case NodeKindRoot:
		return EntityKindRoot, nil
	case NodeKindCategory:
		return EntityKindCategory, nil
	case NodeKindContent:
		return EntityKindContent, nil
	case NodeKindComponent:
		return EntityKindComponent, nil
	case NodeKindSchema:
		return EntityKindSchema, nil
	case NodeKindSchemaVariant:
		return EntityKindSchemaVariant, nil
	case NodeKindSocket:
		return EntityKindSocket, nil
	case NodeKindView:
		return EntityKindView, nil
	case NodeKindGeometry:
		return EntityKindGeometry, nil
	case NodeKindOrdering:
		return EntityKindOrdering, nil
	case NodeKindDependentValueRoot:
		return EntityKindDependentValueRoot, nil
	case NodeKindApprovalRequirementDefinition:
		return EntityKindApprovalRequirementDefinition, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// -----------------------------------------------------------------------------
// Category Kinds
// -----------------------------------------------------------------------------

// CategoryKind names a singleton anchor node hanging off the graph root.
type CategoryKind uint8

const (
	CategoryComponent CategoryKind = iota + 1
	CategorySchema
	CategoryView
	CategoryDependentValueRoots
	CategoryModule
	CategorySecret
)

// String returns the category name.
func (c CategoryKind) String() string {
	switch c {
	case CategoryComponent:
		return "component"
	case CategorySchema:
		return "schema"
	case CategoryView:
		return "view"
	case CategoryDependentValueRoots:
		return "dependent_value_roots"
	case CategoryModule:
		return "module"
	case CategorySecret:
		return "secret"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// AllCategoryKinds lists every category kind. Bootstrap creates one node for
// each, in this order.
func AllCategoryKinds() []CategoryKind {
	return []CategoryKind{
		CategoryComponent,
		CategorySchema,
		CategoryView,
		CategoryDependentValueRoots,
		CategoryModule,
		CategorySecret,
	}
}

// -----------------------------------------------------------------------------
// Sockets
// -----------------------------------------------------------------------------

// SocketDirection says whether a socket consumes or produces values.
type SocketDirection uint8

const (
	SocketInput SocketDirection = iota + 1
	SocketOutput
)

// String returns "input" or "output".
func (d SocketDirection) String() string {
	switch d {
	case SocketInput:
		return "input"
	case SocketOutput:
		return "output"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// SocketArity bounds how many connections a socket accepts.
type SocketArity uint8

const (
	ArityOne SocketArity = iota + 1
	ArityMany
)

// String returns "one" or "many".
func (a SocketArity) String() string {
	switch a {
	case ArityOne:
		return "one"
	case ArityMany:
		return "many"
	default:
		return fmt.Sprintf("arity(%d)", uint8(a))
	}
}

// ContentKind tags the domain object behind a ContentNodeWeight.
type ContentKind string

const (
	ContentKindRoot           ContentKind = "root"
	ContentKindAttributeValue ContentKind = "attribute_value"
	ContentKindProp           ContentKind = "prop"
	ContentKindFunc           ContentKind = "func"
	ContentKindSecret         ContentKind = "secret"
	ContentKindModule         ContentKind = "module"
)
