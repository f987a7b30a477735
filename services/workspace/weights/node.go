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
	"encoding/gob"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
)

var (
	// ErrNoContent is returned when replacing content on a kind that has none.
	ErrNoContent = errors.New("node weight has no content hash")

	// ErrUnknownKind is returned for a kind outside the closed set.
	ErrUnknownKind = errors.New("unknown node kind")

	// ErrUnexpectedKind is returned when a call site expects a specific
	// variant and finds another.
	ErrUnexpectedKind = errors.New("unexpected node weight kind")
)

// -----------------------------------------------------------------------------
// NodeWeight
// -----------------------------------------------------------------------------

// NodeWeight is the payload of a graph node.
//
// Description:
//
//	NodeWeight is a closed sum type. Only the pointer types declared in this
//	package implement it (the unexported header method seals the set), and
//	call sites discriminate with a type switch or Kind(). Adding a variant
//	means adding it to AllNodeKinds, EntityKindFor, and RegisterGobTypes.
//
// Thread Safety: Values are NOT safe for concurrent mutation. The graph
// engine hands out clones to readers.
type NodeWeight interface {
	// ID is the node identifier, stable for the node's lifetime unless
	// explicitly rewritten.
	ID() ids.ID

	// LineageID survives identifier rewrites.
	LineageID() ids.ID

	Kind() NodeKind

	// MerkleTreeHash is the last computed hash of this node and everything
	// reachable from it.
	MerkleTreeHash() ids.Hash
	SetMerkleTreeHash(ids.Hash)

	// NodeHash is the deterministic hash of this node alone: kind, identity
	// and payload. It never includes the merkle hash.
	NodeHash() ids.Hash

	// ContentHash returns the content address of the domain payload, if
	// this kind carries one.
	ContentHash() (ids.Hash, bool)

	Clone() NodeWeight

	header() *Header
}

// Header holds the fields common to every node weight.
type Header struct {
	NodeID  ids.ID
	Lineage ids.ID
	Merkle  ids.Hash
}

func newHeader() Header {
	id := ids.NewID()
	return Header{NodeID: id, Lineage: id}
}

// ID implements NodeWeight.
func (h *Header) ID() ids.ID { return h.NodeID }

// LineageID implements NodeWeight.
func (h *Header) LineageID() ids.ID { return h.Lineage }

// MerkleTreeHash implements NodeWeight.
func (h *Header) MerkleTreeHash() ids.Hash { return h.Merkle }

// SetMerkleTreeHash implements NodeWeight.
func (h *Header) SetMerkleTreeHash(x ids.Hash) { h.Merkle = x }

func (h *Header) header() *Header { return h }

func (h *Header) hashInto(hs *ids.Hasher, kind NodeKind) {
	_ = hs.WriteByte(byte(kind))
	hs.WriteID(h.NodeID)
	hs.WriteID(h.Lineage)
}

// contentSetter is implemented by variants whose payload is a content hash.
type contentSetter interface {
	setContent(ids.Hash)
}

// ReplaceContent returns a clone of w carrying the new content hash.
//
// Outputs:
//
//	NodeWeight - The updated clone. w is not modified.
//	error - ErrNoContent if the variant carries no content hash.
func ReplaceContent(w NodeWeight, content ids.Hash) (NodeWeight, error) {
	c := w.Clone()
	setter, ok := c.(contentSetter)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoContent, w.Kind(), w.ID())
	}
	setter.setContent(content)
	return c, nil
}

// WithIdentity returns a clone of w with a rewritten identifier and lineage.
// The merkle hash is cleared because it covered the old identity.
func WithIdentity(w NodeWeight, id, lineage ids.ID) NodeWeight {
	c := w.Clone()
	h := c.header()
	h.NodeID = id
	h.Lineage = lineage
	h.Merkle = ids.Hash{}
	return c
}

var registerOnce sync.Once

// RegisterGobTypes registers every concrete node weight with encoding/gob so
// that NodeWeight interface values survive serialization.
//
// Thread Safety: Safe for concurrent use; registration happens once.
func RegisterGobTypes() {
	registerOnce.Do(func() {
		gob.Register(&RootNodeWeight{})
		gob.Register(&CategoryNodeWeight{})
		gob.Register(&ContentNodeWeight{})
		gob.Register(&ComponentNodeWeight{})
		gob.Register(&SchemaNodeWeight{})
		gob.Register(&SchemaVariantNodeWeight{})
		gob.Register(&SocketNodeWeight{})
		gob.Register(&ViewNodeWeight{})
		gob.Register(&GeometryNodeWeight{})
		gob.Register(&OrderingNodeWeight{})
		gob.Register(&DependentValueRootNodeWeight{})
		gob.Register(&ApprovalRequirementDefinitionNodeWeight{})
	})
}

// -----------------------------------------------------------------------------
// Variants
// -----------------------------------------------------------------------------

// RootNodeWeight is the single root of a workspace graph.
type RootNodeWeight struct {
	Header
}

// NewRoot returns a root node with a fresh identity.
func NewRoot() *RootNodeWeight {
	return &RootNodeWeight{Header: newHeader()}
}

func (w *RootNodeWeight) Kind() NodeKind                { return NodeKindRoot }
func (w *RootNodeWeight) ContentHash() (ids.Hash, bool) { return ids.Hash{}, false }
func (w *RootNodeWeight) Clone() NodeWeight             { c := *w; return &c }
func (w *RootNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	return h.Sum()
}

// CategoryNodeWeight is a singleton anchor for one class of entity.
type CategoryNodeWeight struct {
	Header
	Category CategoryKind
}

// NewCategory returns a category node with a fresh identity.
func NewCategory(kind CategoryKind) *CategoryNodeWeight {
	return &CategoryNodeWeight{Header: newHeader(), Category: kind}
}

func (w *CategoryNodeWeight) Kind() NodeKind                { return NodeKindCategory }
func (w *CategoryNodeWeight) ContentHash() (ids.Hash, bool) { return ids.Hash{}, false }
func (w *CategoryNodeWeight) Clone() NodeWeight             { c := *w; return &c }
func (w *CategoryNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	_ = h.WriteByte(byte(w.Category))
	return h.Sum()
}

// ContentNodeWeight is a generic content-addressed domain object such as an
// attribute value, prop, or function.
type ContentNodeWeight struct {
	Header
	ContentKind ContentKind
	Content     ids.Hash
}

// NewContent returns a content node with a fresh identity.
func NewContent(kind ContentKind, content ids.Hash) *ContentNodeWeight {
	return &ContentNodeWeight{Header: newHeader(), ContentKind: kind, Content: content}
}

func (w *ContentNodeWeight) Kind() NodeKind                { return NodeKindContent }
func (w *ContentNodeWeight) ContentHash() (ids.Hash, bool) { return w.Content, true }
func (w *ContentNodeWeight) Clone() NodeWeight             { c := *w; return &c }
func (w *ContentNodeWeight) setContent(x ids.Hash)         { w.Content = x }
func (w *ContentNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	h.WriteString(string(w.ContentKind))
	h.WriteHash(w.Content)
	return h.Sum()
}

// ComponentNodeWeight is a modeled infrastructure component.
type ComponentNodeWeight struct {
	Header
	Content  ids.Hash
	ToDelete bool
}

// NewComponent returns a component node with a fresh identity.
func NewComponent(content ids.Hash) *ComponentNodeWeight {
	return &ComponentNodeWeight{Header: newHeader(), Content: content}
}

func (w *ComponentNodeWeight) Kind() NodeKind                { return NodeKindComponent }
func (w *ComponentNodeWeight) ContentHash() (ids.Hash, bool) { return w.Content, true }
func (w *ComponentNodeWeight) Clone() NodeWeight             { c := *w; return &c }
func (w *ComponentNodeWeight) setContent(x ids.Hash)         { w.Content = x }
func (w *ComponentNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	h.WriteHash(w.Content)
	_ = h.WriteByte(boolByte(w.ToDelete))
	return h.Sum()
}

// SchemaNodeWeight groups the variants of one schema.
type SchemaNodeWeight struct {
	Header
	Name    string
	Content ids.Hash
}

// NewSchema returns a schema node with a fresh identity.
func NewSchema(name string, content ids.Hash) *SchemaNodeWeight {
	return &SchemaNodeWeight{Header: newHeader(), Name: name, Content: content}
}

func (w *SchemaNodeWeight) Kind() NodeKind                { return NodeKindSchema }
func (w *SchemaNodeWeight) ContentHash() (ids.Hash, bool) { return w.Content, true }
func (w *SchemaNodeWeight) Clone() NodeWeight             { c := *w; return &c }
func (w *SchemaNodeWeight) setContent(x ids.Hash)         { w.Content = x }
func (w *SchemaNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	h.WriteString(w.Name)
	h.WriteHash(w.Content)
	return h.Sum()
}

// SchemaVariantNodeWeight is one concrete version of a schema.
type SchemaVariantNodeWeight struct {
	Header
	Name    string
	Content ids.Hash
	Locked  bool
}

// NewSchemaVariant returns a schema variant node with a fresh identity.
func NewSchemaVariant(name string, content ids.Hash) *SchemaVariantNodeWeight {
	return &SchemaVariantNodeWeight{Header: newHeader(), Name: name, Content: content}
}

func (w *SchemaVariantNodeWeight) Kind() NodeKind                { return NodeKindSchemaVariant }
func (w *SchemaVariantNodeWeight) ContentHash() (ids.Hash, bool) { return w.Content, true }
func (w *SchemaVariantNodeWeight) Clone() NodeWeight             { c := *w; return &c }
func (w *SchemaVariantNodeWeight) setContent(x ids.Hash)         { w.Content = x }
func (w *SchemaVariantNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	h.WriteString(w.Name)
	h.WriteHash(w.Content)
	_ = h.WriteByte(boolByte(w.Locked))
	return h.Sum()
}

// SocketNodeWeight is an input or output socket declared by a schema variant.
type SocketNodeWeight struct {
	Header
	Name      string
	Direction SocketDirection
	Arity     SocketArity
	Content   ids.Hash
}

// NewSocket returns a socket node with a fresh identity.
func NewSocket(name string, dir SocketDirection, arity SocketArity) *SocketNodeWeight {
	return &SocketNodeWeight{Header: newHeader(), Name: name, Direction: dir, Arity: arity}
}

func (w *SocketNodeWeight) Kind() NodeKind                { return NodeKindSocket }
func (w *SocketNodeWeight) ContentHash() (ids.Hash, bool) { return w.Content, true }
func (w *SocketNodeWeight) Clone() NodeWeight             { c := *w; return &c }
func (w *SocketNodeWeight) setContent(x ids.Hash)         { w.Content = x }
func (w *SocketNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	h.WriteString(w.Name)
	_ = h.WriteByte(byte(w.Direction))
	_ = h.WriteByte(byte(w.Arity))
	h.WriteHash(w.Content)
	return h.Sum()
}

// ViewNodeWeight is a named diagram view.
type ViewNodeWeight struct {
	Header
	Name    string
	Content ids.Hash
}

// NewView returns a view node with a fresh identity.
func NewView(name string) *ViewNodeWeight {
	return &ViewNodeWeight{Header: newHeader(), Name: name}
}

func (w *ViewNodeWeight) Kind() NodeKind                { return NodeKindView }
func (w *ViewNodeWeight) ContentHash() (ids.Hash, bool) { return w.Content, true }
func (w *ViewNodeWeight) Clone() NodeWeight             { c := *w; return &c }
func (w *ViewNodeWeight) setContent(x ids.Hash)         { w.Content = x }
func (w *ViewNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	h.WriteString(w.Name)
	h.WriteHash(w.Content)
	return h.Sum()
}

// GeometryNodeWeight places one entity inside one view.
type GeometryNodeWeight struct {
	Header
	Content ids.Hash
}

// NewGeometry returns a geometry node with a fresh identity.
func NewGeometry(content ids.Hash) *GeometryNodeWeight {
	return &GeometryNodeWeight{Header: newHeader(), Content: content}
}

func (w *GeometryNodeWeight) Kind() NodeKind                { return NodeKindGeometry }
func (w *GeometryNodeWeight) ContentHash() (ids.Hash, bool) { return w.Content, true }
func (w *GeometryNodeWeight) Clone() NodeWeight             { c := *w; return &c }
func (w *GeometryNodeWeight) setContent(x ids.Hash)         { w.Content = x }
func (w *GeometryNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	h.WriteHash(w.Content)
	return h.Sum()
}

// OrderingNodeWeight records the explicit sibling order of an ordered
// container's children.
type OrderingNodeWeight struct {
	Header
	Order []ids.ID
}

// NewOrdering returns an empty ordering node with a fresh identity.
func NewOrdering() *OrderingNodeWeight {
	return &OrderingNodeWeight{Header: newHeader()}
}

func (w *OrderingNodeWeight) Kind() NodeKind                { return NodeKindOrdering }
func (w *OrderingNodeWeight) ContentHash() (ids.Hash, bool) { return ids.Hash{}, false }
func (w *OrderingNodeWeight) Clone() NodeWeight {
	c := *w
	c.Order = slices.Clone(w.Order)
	return &c
}
func (w *OrderingNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	h.WriteUint64(uint64(len(w.Order)))
	for _, id := range w.Order {
		h.WriteID(id)
	}
	return h.Sum()
}

// Append adds id to the end of the order unless already present.
func (w *OrderingNodeWeight) Append(id ids.ID) bool {
	if slices.Contains(w.Order, id) {
		return false
	}
	w.Order = append(w.Order, id)
	return true
}

// Remove drops id from the order. It reports whether id was present.
func (w *OrderingNodeWeight) Remove(id ids.ID) bool {
	i := slices.Index(w.Order, id)
	if i < 0 {
		return false
	}
	w.Order = slices.Delete(w.Order, i, i+1)
	return true
}

// Replace swaps old for replacement in place, keeping its position.
func (w *OrderingNodeWeight) Replace(old, replacement ids.ID) bool {
	i := slices.Index(w.Order, old)
	if i < 0 {
		return false
	}
	w.Order[i] = replacement
	return true
}

// DependentValueRootNodeWeight marks a value whose dependents must be
// recomputed.
type DependentValueRootNodeWeight struct {
	Header
	ValueID ids.ID
}

// NewDependentValueRoot returns a marker for valueID with a fresh identity.
func NewDependentValueRoot(valueID ids.ID) *DependentValueRootNodeWeight {
	return &DependentValueRootNodeWeight{Header: newHeader(), ValueID: valueID}
}

func (w *DependentValueRootNodeWeight) Kind() NodeKind                { return NodeKindDependentValueRoot }
func (w *DependentValueRootNodeWeight) ContentHash() (ids.Hash, bool) { return ids.Hash{}, false }
func (w *DependentValueRootNodeWeight) Clone() NodeWeight             { c := *w; return &c }
func (w *DependentValueRootNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	h.WriteID(w.ValueID)
	return h.Sum()
}

// ApprovalRequirementDefinitionNodeWeight declares that changes to the
// entity it hangs off need approvals.
type ApprovalRequirementDefinitionNodeWeight struct {
	Header
	MinimumApprovers int
	Content          ids.Hash
}

// NewApprovalRequirementDefinition returns a definition with a fresh identity.
func NewApprovalRequirementDefinition(minimum int) *ApprovalRequirementDefinitionNodeWeight {
	return &ApprovalRequirementDefinitionNodeWeight{Header: newHeader(), MinimumApprovers: minimum}
}

func (w *ApprovalRequirementDefinitionNodeWeight) Kind() NodeKind {
	return NodeKindApprovalRequirementDefinition
}
func (w *ApprovalRequirementDefinitionNodeWeight) ContentHash() (ids.Hash, bool) {
	return w.Content, true
}
func (w *ApprovalRequirementDefinitionNodeWeight) Clone() NodeWeight     { c := *w; return &c }
func (w *ApprovalRequirementDefinitionNodeWeight) setContent(x ids.Hash) { w.Content = x }
func (w *ApprovalRequirementDefinitionNodeWeight) NodeHash() ids.Hash {
	h := ids.NewHasher()
	w.hashInto(h, w.Kind())
	h.WriteUint64(uint64(w.MinimumApprovers))
	h.WriteHash(w.Content)
	return h.Sum()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// -----------------------------------------------------------------------------
// Typed access
// -----------------------------------------------------------------------------

// As asserts that w is the variant T.
//
// Outputs:
//
//	T - The typed weight.
//	error - ErrUnexpectedKind naming both kinds if w is another variant.
func As[T NodeWeight](w NodeWeight) (T, error) {
	typed, ok := w.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: node %s is %s", ErrUnexpectedKind, w.ID(), w.Kind())
	}
	return typed, nil
}

// Name returns the display name of named variants and "" otherwise.
func Name(w NodeWeight) string {
	switch v := w.(type) {
	case *SchemaNodeWeight:
		return v.Name
	case *SchemaVariantNodeWeight:
		return v.Name
	case *SocketNodeWeight:
		return v.Name
	case *ViewNodeWeight:
		return v.Name
	case *CategoryNodeWeight:
		return v.Category.String()
	case *ContentNodeWeight:
		return string(v.ContentKind)
	default:
		return ""
	}
}
