// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/changegraph/services/workspace/changeset"
	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/snapshot"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
)

// =============================================================================
// Requests
// =============================================================================

// CreateChangeSetRequest is the body of POST /v1/changesets.
//
// Without Base a change set with a fresh initial snapshot is created;
// with Base the new change set forks Base's current snapshot.
type CreateChangeSetRequest struct {
	Name string      `json:"name" binding:"required"`
	Base strfmt.UUID `json:"base,omitempty"`
}

// CreateViewRequest is the body of POST /v1/changesets/:id/views.
type CreateViewRequest struct {
	Name string `json:"name" binding:"required"`
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`

	// Details lists offending identifiers, when there are any.
	Details []string `json:"details,omitempty"`
}

// ChangeSetResponse describes one change set.
type ChangeSetResponse struct {
	ID        strfmt.UUID     `json:"id"`
	Name      string          `json:"name"`
	Address   string          `json:"address,omitempty"`
	Base      strfmt.UUID     `json:"base,omitempty"`
	UpdatedAt strfmt.DateTime `json:"updated_at"`
}

// ChangeSetsResponse is the body of GET /v1/changesets.
type ChangeSetsResponse struct {
	ChangeSets []ChangeSetResponse `json:"change_sets"`
}

// SummaryResponse is the body of GET /v1/changesets/:id.
type SummaryResponse struct {
	ChangeSetResponse
	RootID         strfmt.UUID    `json:"root_id"`
	NodeCount      int            `json:"node_count"`
	PartitionCount int            `json:"partition_count"`
	Views          []ViewResponse `json:"views"`
}

// ViewResponse describes one view.
type ViewResponse struct {
	ID        strfmt.UUID `json:"id"`
	Name      string      `json:"name"`
	IsDefault bool        `json:"is_default"`
}

// ViewsResponse is the body of GET /v1/changesets/:id/views.
type ViewsResponse struct {
	Views []ViewResponse `json:"views"`
}

// EdgeResponse describes one edge.
type EdgeResponse struct {
	Source    strfmt.UUID `json:"source"`
	Target    strfmt.UUID `json:"target"`
	Kind      string      `json:"kind"`
	IsDefault bool        `json:"is_default,omitempty"`
	Key       string      `json:"key,omitempty"`
}

// NodeResponse is the body of GET /v1/changesets/:id/nodes/:node_id.
type NodeResponse struct {
	ID             strfmt.UUID    `json:"id"`
	LineageID      strfmt.UUID    `json:"lineage_id"`
	Kind           string         `json:"kind"`
	Name           string         `json:"name,omitempty"`
	Content        string         `json:"content,omitempty"`
	MerkleTreeHash string         `json:"merkle_tree_hash"`
	Outgoing       []EdgeResponse `json:"outgoing"`
	Incoming       []EdgeResponse `json:"incoming"`
}

// UpdateResponse is one update of a rebase batch. Fields not relevant to
// Kind are omitted.
type UpdateResponse struct {
	Kind     string      `json:"kind"`
	Subject  strfmt.UUID `json:"subject"`
	NodeKind string      `json:"node_kind,omitempty"`
	OldID    strfmt.UUID `json:"old_id,omitempty"`
	Target   strfmt.UUID `json:"target,omitempty"`
	EdgeKind string      `json:"edge_kind,omitempty"`
}

// RebaseResponse is the body of GET /v1/changesets/:id/rebase.
type RebaseResponse struct {
	Onto    strfmt.UUID      `json:"onto"`
	Updates []UpdateResponse `json:"updates"`
}

// ChangeResponse is one semantic change.
type ChangeResponse struct {
	EntityID       strfmt.UUID `json:"entity_id"`
	EntityKind     string      `json:"entity_kind"`
	MerkleTreeHash string      `json:"merkle_tree_hash"`
}

// ChangesResponse is the body of GET /v1/changesets/:id/changes.
type ChangesResponse struct {
	Against strfmt.UUID      `json:"against"`
	Changes []ChangeResponse `json:"changes"`
}

// ApprovalResponse is one approval requirement.
type ApprovalResponse struct {
	EntityID         strfmt.UUID `json:"entity_id"`
	EntityKind       string      `json:"entity_kind"`
	DefinitionID     strfmt.UUID `json:"definition_id"`
	MinimumApprovers int         `json:"minimum_approvers"`
}

// ApprovalsResponse is the body of GET /v1/changesets/:id/approvals.
type ApprovalsResponse struct {
	Against      strfmt.UUID        `json:"against"`
	Requirements []ApprovalResponse `json:"requirements"`
}

// AddressResponse reports the address a mutation published.
type AddressResponse struct {
	Address string      `json:"address"`
	ID      strfmt.UUID `json:"id,omitempty"`
	Updates *int        `json:"updates,omitempty"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// =============================================================================
// Conversions
// =============================================================================

func uuidOf(id ids.ID) strfmt.UUID {
	if id.IsZero() {
		return ""
	}
	return strfmt.UUID(id.String())
}

func changeSetResponse(cs changeset.ChangeSet) ChangeSetResponse {
	resp := ChangeSetResponse{
		ID:        uuidOf(cs.ID),
		Name:      cs.Name,
		Base:      uuidOf(cs.BaseID),
		UpdatedAt: strfmt.DateTime(cs.UpdatedAt.UTC().Truncate(time.Millisecond)),
	}
	if cs.HasAddress() {
		resp.Address = cs.Address.String()
	}
	return resp
}

func viewResponses(views []snapshot.View) []ViewResponse {
	out := make([]ViewResponse, 0, len(views))
	for _, v := range views {
		out = append(out, ViewResponse{ID: uuidOf(v.ID), Name: v.Name, IsDefault: v.IsDefault})
	}
	return out
}

func edgeResponses(edges []graph.Edge) []EdgeResponse {
	out := make([]EdgeResponse, 0, len(edges))
	for _, e := range edges {
		out = append(out, EdgeResponse{
			Source:    uuidOf(e.Source),
			Target:    uuidOf(e.Target),
			Kind:      e.Weight.Kind.String(),
			IsDefault: e.Weight.IsDefault,
			Key:       e.Weight.Key,
		})
	}
	return out
}

func nodeResponse(d NodeDetail) NodeResponse {
	w := d.Weight
	resp := NodeResponse{
		ID:             uuidOf(w.ID()),
		LineageID:      uuidOf(w.LineageID()),
		Kind:           w.Kind().String(),
		Name:           weights.Name(w),
		MerkleTreeHash: w.MerkleTreeHash().String(),
		Outgoing:       edgeResponses(d.Outgoing),
		Incoming:       edgeResponses(d.Incoming),
	}
	if h, ok := w.ContentHash(); ok {
		resp.Content = h.String()
	}
	return resp
}

func updateResponse(u graph.Update) UpdateResponse {
	resp := UpdateResponse{Kind: string(u.Kind()), Subject: uuidOf(u.Subject())}
	switch v := u.(type) {
	case graph.NewNode:
		resp.NodeKind = v.Weight.Kind().String()
	case graph.ReplaceNode:
		resp.NodeKind = v.Weight.Kind().String()
	case graph.RenameNode:
		resp.OldID = uuidOf(v.OldID)
	case graph.NewEdge:
		resp.Target = uuidOf(v.Target)
		resp.EdgeKind = v.Weight.Kind.String()
	case graph.RemoveEdge:
		resp.Target = uuidOf(v.Target)
		resp.EdgeKind = v.EdgeKind.String()
	}
	return resp
}

func updateResponses(updates []graph.Update) []UpdateResponse {
	out := make([]UpdateResponse, 0, len(updates))
	for _, u := range updates {
		out = append(out, updateResponse(u))
	}
	return out
}

func changeResponses(changes []graph.Change) []ChangeResponse {
	out := make([]ChangeResponse, 0, len(changes))
	for _, c := range changes {
		out = append(out, ChangeResponse{
			EntityID:       uuidOf(c.EntityID),
			EntityKind:     string(c.EntityKind),
			MerkleTreeHash: c.MerkleTreeHash.String(),
		})
	}
	return out
}

func approvalResponses(reqs []snapshot.ApprovalRequirement) []ApprovalResponse {
	out := make([]ApprovalResponse, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, ApprovalResponse{
			EntityID:         uuidOf(r.EntityID),
			EntityKind:       string(r.EntityKind),
			DefinitionID:     uuidOf(r.DefinitionID),
			MinimumApprovers: r.MinimumApprovers,
		})
	}
	return out
}
