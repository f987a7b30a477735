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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/changegraph/services/workspace/dal"
	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/workpool"
)

// CleanupAndMerkleTreeHash removes unreachable nodes and recomputes merkle
// hashes on the working copy. A snapshot without a working copy is already
// hashed and is left alone.
func (s *WorkspaceSnapshot) CleanupAndMerkleTreeHash(ctx context.Context, d *dal.Context) error {
	s.wcMu.Lock()
	defer s.wcMu.Unlock()
	if s.workingCopy == nil {
		return nil
	}
	g := s.workingCopy
	return workpool.Do(ctx, d.Pool, "cleanup_and_merkle", func() error {
		g.CleanupAndMerkleTreeHash()
		return nil
	})
}

// CurrentRebaseBatch returns the updates that turn the base into the
// working copy, or nil when there is no working copy or no difference.
func (s *WorkspaceSnapshot) CurrentRebaseBatch(ctx context.Context, d *dal.Context) ([]graph.Update, error) {
	ctx, span := tracer.Start(ctx, "snapshot.CurrentRebaseBatch")
	defer span.End()

	w := s.writeGraphIfPresent()
	if w == nil {
		return nil, nil
	}
	defer w.Release()
	g := w.Graph()

	updates, err := workpool.Run(ctx, d.Pool, "current_rebase_batch", func() ([]graph.Update, error) {
		g.CleanupAndMerkleTreeHash()
		if g.RootID() == s.base.RootID() && g.RootNodeMerkleTreeHash() == s.base.RootNodeMerkleTreeHash() {
			return nil, nil
		}
		return s.base.DetectUpdates(g)
	})
	if err != nil {
		return nil, fail(span, err)
	}
	rebaseBatchSize.Observe(float64(len(updates)))
	span.SetAttributes(attribute.Int("rebase.updates", len(updates)))
	return updates, nil
}

// writeGraphIfPresent takes the write lock only if a working copy exists.
func (s *WorkspaceSnapshot) writeGraphIfPresent() *writeGuard {
	s.wcMu.Lock()
	if s.workingCopy == nil {
		s.wcMu.Unlock()
		return nil
	}
	return &writeGuard{s: s}
}

// DetectUpdates returns the updates that turn s into updated. Both
// snapshots are read as they currently are; neither is modified.
func (s *WorkspaceSnapshot) DetectUpdates(ctx context.Context, d *dal.Context, updated *WorkspaceSnapshot) ([]graph.Update, error) {
	return CalculateRebaseBatch(ctx, d, s, updated)
}

// CalculateRebaseBatch is DetectUpdates for two independently evolved
// snapshots.
//
// Outputs:
//
//	[]graph.Update - Ordered updates, nil if the graphs are equal.
//	error - graph.ErrNotHashed if either side has unhashed mutations.
func CalculateRebaseBatch(ctx context.Context, d *dal.Context, base, updated *WorkspaceSnapshot) ([]graph.Update, error) {
	ctx, span := tracer.Start(ctx, "snapshot.CalculateRebaseBatch")
	defer span.End()

	rb, ru, release := readBoth(base, updated)
	defer release()

	updates, err := workpool.Run(ctx, d.Pool, "detect_updates", func() ([]graph.Update, error) {
		return rb.DetectUpdates(ru)
	})
	if err != nil {
		return nil, fail(span, err)
	}
	rebaseBatchSize.Observe(float64(len(updates)))
	span.SetAttributes(attribute.Int("rebase.updates", len(updates)))
	return updates, nil
}

// DetectChanges returns semantic change records for every entity whose
// subtree differs between s and updated.
func (s *WorkspaceSnapshot) DetectChanges(ctx context.Context, d *dal.Context, updated *WorkspaceSnapshot) ([]graph.Change, error) {
	ctx, span := tracer.Start(ctx, "snapshot.DetectChanges")
	defer span.End()

	rb, ru, release := readBoth(s, updated)
	defer release()

	changes, err := workpool.Run(ctx, d.Pool, "detect_changes", func() ([]graph.Change, error) {
		return rb.DetectChanges(ru)
	})
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("rebase.changes", len(changes)))
	return changes, nil
}

// readBoth read-locks two snapshots, which may be the same handle.
func readBoth(a, b *WorkspaceSnapshot) (*graph.Graph, *graph.Graph, func()) {
	ra := a.readGraph()
	if a == b {
		return ra.Graph(), ra.Graph(), ra.Release
	}
	rb := b.readGraph()
	return ra.Graph(), rb.Graph(), func() {
		rb.Release()
		ra.Release()
	}
}

// PerformUpdates applies a rebase batch to the working copy. Replaying a
// batch that is already applied leaves the graph unchanged.
func (s *WorkspaceSnapshot) PerformUpdates(ctx context.Context, d *dal.Context, updates []graph.Update) error {
	ctx, span := tracer.Start(ctx, "snapshot.PerformUpdates")
	defer span.End()
	span.SetAttributes(attribute.Int("rebase.updates", len(updates)))

	w := s.writeGraph()
	defer w.Release()
	g := w.Graph()
	if err := workpool.Do(ctx, d.Pool, "perform_updates", func() error {
		return g.PerformUpdates(updates)
	}); err != nil {
		return fail(span, err)
	}
	return nil
}
