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
	"fmt"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// -----------------------------------------------------------------------------
// Update types
// -----------------------------------------------------------------------------

// UpdateKind names an Update variant.
type UpdateKind string

const (
	UpdateKindNewNode     UpdateKind = "new_node"
	UpdateKindReplaceNode UpdateKind = "replace_node"
	UpdateKindRenameNode  UpdateKind = "rename_node"
	UpdateKindNewEdge     UpdateKind = "new_edge"
	UpdateKindRemoveEdge  UpdateKind = "remove_edge"
)

// Update is one structural delta of a rebase batch. The variants are
// NewNode, ReplaceNode, RenameNode, NewEdge and RemoveEdge.
type Update interface {
	Kind() UpdateKind

	// Subject is the node the update is about: the node itself, or the
	// source of an edge.
	Subject() ids.ID

	isUpdate()
}

// NewNode adds a node that the base does not have.
type NewNode struct {
	Weight weights.NodeWeight
}

// ReplaceNode replaces the weight of an existing node, keeping its edges.
type ReplaceNode struct {
	Weight weights.NodeWeight
}

// RenameNode rewrites a node identifier while stamping a lineage.
type RenameNode struct {
	OldID     ids.ID
	NewID     ids.ID
	LineageID ids.ID
}

// NewEdge adds an edge or replaces its payload.
type NewEdge struct {
	Source ids.ID
	Target ids.ID
	Weight weights.EdgeWeight
}

// RemoveEdge removes an edge.
type RemoveEdge struct {
	Source   ids.ID
	Target   ids.ID
	EdgeKind weights.EdgeKind
}

func (NewNode) Kind() UpdateKind     { return UpdateKindNewNode }
func (ReplaceNode) Kind() UpdateKind { return UpdateKindReplaceNode }
func (RenameNode) Kind() UpdateKind  { return UpdateKindRenameNode }
func (NewEdge) Kind() UpdateKind     { return UpdateKindNewEdge }
func (RemoveEdge) Kind() UpdateKind  { return UpdateKindRemoveEdge }

func (u NewNode) Subject() ids.ID     { return u.Weight.ID() }
func (u ReplaceNode) Subject() ids.ID { return u.Weight.ID() }
func (u RenameNode) Subject() ids.ID  { return u.NewID }
func (u NewEdge) Subject() ids.ID     { return u.Source }
func (u RemoveEdge) Subject() ids.ID  { return u.Source }

func (NewNode) isUpdate()     {}
func (ReplaceNode) isUpdate() {}
func (RenameNode) isUpdate()  {}
func (NewEdge) isUpdate()     {}
func (RemoveEdge) isUpdate()  {}

// Change is a semantic record of one entity whose subtree differs between
// two graph versions.
type Change struct {
	EntityID       ids.ID
	EntityKind     weights.EntityKind
	MerkleTreeHash ids.Hash
}

// -----------------------------------------------------------------------------
// Diff
// -----------------------------------------------------------------------------

// differ walks an updated graph against a base, skipping every subtree whose
// root has the same identifier and merkle hash in both.
type differ struct {
	base    *Graph
	updated *Graph

	// visited holds updated-graph nodes whose subtree differs, in DFS
	// pre-order.
	visited []ids.ID

	// renamed maps base identifiers to their new identifiers.
	renamed map[ids.ID]ids.ID
	// renamedFrom is the inverse of renamed.
	renamedFrom map[ids.ID]ids.ID
}

func newDiffer(base, updated *Graph) (*differ, error) {
	if base.IsDirty() || updated.IsDirty() {
		return nil, ErrNotHashed
	}
	if base.rootID != updated.rootID {
		br, _ := base.node(base.rootID)
		ur, _ := updated.node(updated.rootID)
		if br.LineageID() != ur.LineageID() {
			return nil, fmt.Errorf("%w: base root %s (lineage %s), updated root %s (lineage %s)",
				ErrUnrelatedRoots, base.rootID, br.LineageID(), updated.rootID, ur.LineageID())
		}
	}
	return &differ{
		base:        base,
		updated:     updated,
		renamed:     make(map[ids.ID]ids.ID),
		renamedFrom: make(map[ids.ID]ids.ID),
	}, nil
}

func (d *differ) collect() {
	seen := make(map[ids.ID]struct{})
	stack := []ids.ID{d.updated.rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		uw, ok := d.updated.node(id)
		if !ok {
			continue
		}
		if bw, ok := d.base.node(id); ok && bw.MerkleTreeHash() == uw.MerkleTreeHash() {
			continue
		}
		d.visited = append(d.visited, id)

		edges := d.updated.EdgesDirected(id, Outgoing)
		for i := len(edges) - 1; i >= 0; i-- {
			stack = append(stack, edges[i].Target)
		}
	}
}

// detectRenames pairs new nodes of the updated graph with base nodes of the
// same lineage and kind that the updated graph no longer has.
func (d *differ) detectRenames() {
	var candidates []ids.ID
	for _, id := range d.visited {
		if !d.base.HasNode(id) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return
	}

	byLineage := make(map[ids.ID][]ids.ID)
	for _, s := range d.base.subgraphs {
		for id, w := range s.nodes {
			if !d.updated.HasNode(id) {
				byLineage[w.LineageID()] = append(byLineage[w.LineageID()], id)
			}
		}
	}
	for _, list := range byLineage {
		ids.SortIDs(list)
	}

	for _, newID := range candidates {
		uw, _ := d.updated.node(newID)
		for _, oldID := range byLineage[uw.LineageID()] {
			if _, taken := d.renamed[oldID]; taken {
				continue
			}
			bw, _ := d.base.node(oldID)
			if bw.Kind() != uw.Kind() {
				continue
			}
			d.renamed[oldID] = newID
			d.renamedFrom[newID] = oldID
			break
		}
	}
}

func (d *differ) translate(baseID ids.ID) ids.ID {
	if newID, ok := d.renamed[baseID]; ok {
		return newID
	}
	return baseID
}

// updates builds the ordered batch: renames, new nodes, replaced nodes, new
// edges, removed edges.
func (d *differ) updates() []Update {
	var renames, newNodes, replaced, newEdges, removed []Update

	for _, id := range d.visited {
		uw, _ := d.updated.node(id)

		baseID := id
		if old, ok := d.renamedFrom[id]; ok {
			baseID = old
			renames = append(renames, RenameNode{OldID: old, NewID: id, LineageID: uw.LineageID()})
		}

		bw, inBase := d.base.node(baseID)
		switch {
		case !inBase:
			newNodes = append(newNodes, NewNode{Weight: uw.Clone()})
		case baseID != id:
			if weights.WithIdentity(bw, id, uw.LineageID()).NodeHash() != uw.NodeHash() {
				replaced = append(replaced, ReplaceNode{Weight: uw.Clone()})
			}
		case bw.NodeHash() != uw.NodeHash():
			replaced = append(replaced, ReplaceNode{Weight: uw.Clone()})
		}

		baseEdges := make(map[edgeKey]weights.EdgeWeight)
		if inBase {
			for _, e := range d.base.EdgesDirected(baseID, Outgoing) {
				baseEdges[edgeKey{Kind: e.Weight.Kind, Peer: d.translate(e.Target)}] = e.Weight
			}
		}
		updatedEdges := d.updated.EdgesDirected(id, Outgoing)
		present := make(map[edgeKey]struct{}, len(updatedEdges))
		for _, e := range updatedEdges {
			key := edgeKey{Kind: e.Weight.Kind, Peer: e.Target}
			present[key] = struct{}{}
			if bwt, ok := baseEdges[key]; !ok || bwt != e.Weight {
				newEdges = append(newEdges, NewEdge{Source: id, Target: e.Target, Weight: e.Weight})
			}
		}
		if inBase {
			for _, e := range d.base.EdgesDirected(baseID, Outgoing) {
				key := edgeKey{Kind: e.Weight.Kind, Peer: d.translate(e.Target)}
				if _, ok := present[key]; !ok {
					removed = append(removed, RemoveEdge{Source: id, Target: key.Peer, EdgeKind: key.Kind})
				}
			}
		}
	}

	out := make([]Update, 0, len(renames)+len(newNodes)+len(replaced)+len(newEdges)+len(removed))
	out = append(out, renames...)
	out = append(out, newNodes...)
	out = append(out, replaced...)
	out = append(out, newEdges...)
	out = append(out, removed...)
	return out
}

// DetectUpdates computes the batch that turns g into updated.
//
// Description:
//
//	Both graphs must be merkle hashed and their roots must share a lineage.
//	If the root identifiers and root merkle hashes match, there is nothing
//	to do. Otherwise the updated graph is walked from its root, descending
//	only into subtrees whose merkle hash differs from (or is absent in) g.
//	A new node whose lineage matches a node g has but updated lacks is
//	reported as a rename; this includes a renamed root.
//
// Outputs:
//
//	[]Update - Ordered so that applying them in sequence is valid. Nil if
//	  the graphs are equal.
//	error - ErrNotHashed if either graph is dirty, ErrUnrelatedRoots if the
//	  roots have different lineages.
//
// Thread Safety: Read-only on both graphs.
func (g *Graph) DetectUpdates(updated *Graph) ([]Update, error) {
	d, err := newDiffer(g, updated)
	if err != nil {
		return nil, err
	}
	if g.rootID == updated.rootID && g.RootNodeMerkleTreeHash() == updated.RootNodeMerkleTreeHash() {
		return nil, nil
	}
	d.collect()
	d.detectRenames()
	ups := d.updates()
	if len(ups) == 0 {
		return nil, nil
	}
	return ups, nil
}

// DetectChanges returns a Change for every node of updated whose subtree
// differs from g, in traversal order from the root.
func (g *Graph) DetectChanges(updated *Graph) ([]Change, error) {
	d, err := newDiffer(g, updated)
	if err != nil {
		return nil, err
	}
	if g.rootID == updated.rootID && g.RootNodeMerkleTreeHash() == updated.RootNodeMerkleTreeHash() {
		return nil, nil
	}
	d.collect()

	changes := make([]Change, 0, len(d.visited))
	for _, id := range d.visited {
		w, _ := d.updated.node(id)
		kind, err := weights.EntityKindFor(w.Kind())
		if err != nil {
			return nil, err
		}
		changes = append(changes, Change{EntityID: id, EntityKind: kind, MerkleTreeHash: w.MerkleTreeHash()})
	}
	return changes, nil
}

// -----------------------------------------------------------------------------
// Replay
// -----------------------------------------------------------------------------

// PerformUpdates applies a batch in order and then removes nodes that the
// batch left unreachable.
//
// Every update is keyed by stable identifiers, so replaying a batch that
// was already applied leaves the graph structurally unchanged. Nodes the
// batch itself wrote must end up reachable from the root; otherwise the
// graph is left uncleaned and an error is returned, and callers should
// discard it.
//
// Outputs:
//
//	error - ErrNodeNotFound if an edge update references a node that neither
//	  exists nor was created earlier in the batch; ErrUnreachableUpdate if a
//	  written node is not reachable from the root; ErrUnknownUpdate for a
//	  foreign Update implementation.
func (g *Graph) PerformUpdates(updates []Update) error {
	for i, u := range updates {
		if err := g.performUpdate(u); err != nil {
			return fmt.Errorf("update %d (%s %s): %w", i, u.Kind(), u.Subject(), err)
		}
	}

	reachable := g.reachable()
	for i, u := range updates {
		var id ids.ID
		switch u := u.(type) {
		case NewNode, ReplaceNode:
			id = u.Subject()
		case RenameNode:
			if !g.HasNode(u.NewID) {
				continue
			}
			id = u.NewID
		default:
			continue
		}
		if _, ok := reachable[id]; !ok {
			return fmt.Errorf("update %d (%s %s): %w", i, u.Kind(), id, ErrUnreachableUpdate)
		}
	}
	g.Cleanup()
	return nil
}

func (g *Graph) performUpdate(u Update) error {
	switch u := u.(type) {
	case NewNode:
		return g.AddOrReplaceNode(u.Weight)
	case ReplaceNode:
		return g.AddOrReplaceNode(u.Weight)
	case RenameNode:
		if !g.HasNode(u.OldID) {
			return nil
		}
		if g.HasNode(u.NewID) {
			return nil
		}
		return g.UpdateNodeID(u.OldID, u.NewID, u.LineageID)
	case NewEdge:
		if !g.HasNode(u.Source) {
			return nodeNotFound(u.Source)
		}
		if !g.HasNode(u.Target) {
			return nodeNotFound(u.Target)
		}
		if g.hasEdge(u.Source, u.Target, u.Weight.Kind) &&
			g.edgeWeight(u.Source, u.Target, u.Weight.Kind) == u.Weight {
			return nil
		}
		g.setEdge(u.Source, u.Weight, u.Target)
		return nil
	case RemoveEdge:
		g.deleteEdge(u.Source, u.Target, u.EdgeKind)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownUpdate, u)
	}
}
