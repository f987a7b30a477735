// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/changegraph/pkg/ux"
	"github.com/AleutianAI/changegraph/services/workspace"
	"github.com/AleutianAI/changegraph/services/workspace/changeset"
	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/snapshot"
)

func renderChangeSet(p *ux.Printer, cs changeset.ChangeSet) {
	p.Title(cs.Name)
	p.Field("id", cs.ID.String())
	if cs.HasAddress() {
		p.Field("address", cs.Address.String())
	}
	if !cs.BaseID.IsZero() {
		p.Field("base", cs.BaseID.String())
	}
}

func renderChangeSets(p *ux.Printer, sets []changeset.ChangeSet) {
	p.Title("Change sets")
	for _, cs := range sets {
		detail := ""
		if !cs.BaseID.IsZero() {
			detail = "fork of " + cs.BaseID.String()
		}
		p.Item(ux.IconArrow, cs.ID.String()+" "+cs.Name, detail)
	}
	p.Counts([]string{"change sets"}, []int{len(sets)})
}

func renderSummary(p *ux.Printer, sum workspace.Summary) {
	var b strings.Builder
	fmt.Fprintf(&b, "id\t%s\n", sum.ChangeSet.ID)
	fmt.Fprintf(&b, "address\t%s\n", sum.ChangeSet.Address)
	fmt.Fprintf(&b, "root\t%s\n", sum.RootID)
	fmt.Fprintf(&b, "nodes\t%d\n", sum.NodeCount)
	fmt.Fprintf(&b, "partitions\t%d\n", sum.PartitionCount)
	fmt.Fprintf(&b, "views\t%d", len(sum.Views))
	p.Box(sum.ChangeSet.Name, b.String())
}

func renderViews(p *ux.Printer, views []snapshot.View) {
	p.Title("Views")
	for _, v := range views {
		detail := ""
		if v.IsDefault {
			detail = "default"
		}
		p.Item(ux.IconArrow, v.ID.String()+" "+v.Name, detail)
	}
}

// renderUpdates prints a rebase batch in producer order and a tally per
// update kind.
func renderUpdates(p *ux.Printer, updates []graph.Update) {
	p.Title("Rebase batch")
	tally := map[graph.UpdateKind]int{}
	for _, u := range updates {
		tally[u.Kind()]++
		switch v := u.(type) {
		case graph.RenameNode:
			p.Item(ux.IconChange, "rename "+v.OldID.String(), "now "+v.NewID.String())
		case graph.NewNode:
			p.Item(ux.IconAdd, "node "+v.Weight.ID().String(), v.Weight.Kind().String())
		case graph.ReplaceNode:
			p.Item(ux.IconChange, "node "+v.Weight.ID().String(), v.Weight.Kind().String())
		case graph.NewEdge:
			p.Item(ux.IconAdd, "edge "+v.Source.String()+" → "+v.Target.String(), v.Weight.Kind.String())
		case graph.RemoveEdge:
			p.Item(ux.IconRemove, "edge "+v.Source.String()+" → "+v.Target.String(), v.EdgeKind.String())
		}
	}
	p.Counts(
		[]string{"renamed", "new nodes", "replaced", "new edges", "removed edges"},
		[]int{
			tally[graph.UpdateKindRenameNode],
			tally[graph.UpdateKindNewNode],
			tally[graph.UpdateKindReplaceNode],
			tally[graph.UpdateKindNewEdge],
			tally[graph.UpdateKindRemoveEdge],
		})
}

func renderChanges(p *ux.Printer, changes []graph.Change) {
	p.Title("Changed entities")
	for _, c := range changes {
		p.Item(ux.IconChange, c.EntityID.String(), string(c.EntityKind))
	}
	p.Counts([]string{"changes"}, []int{len(changes)})
}
