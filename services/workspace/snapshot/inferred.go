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
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/changegraph/services/workspace/dal"
	"github.com/AleutianAI/changegraph/services/workspace/graph"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/weights"
	"github.com/AleutianAI/changegraph/services/workspace/workpool"
)

const inferredKey = "inferred"

// InferredConnection is a socket connection implied by frame topology
// rather than drawn explicitly.
type InferredConnection struct {
	SourceComponent      ids.ID
	OutputSocket         ids.ID
	DestinationComponent ids.ID
	InputSocket          ids.ID
}

// InferredConnectionGraph holds the connections implied by frames.
//
// Description:
//
//	A frame component passes its output sockets down to every component it
//	contains, directly or through nested frames. An input socket of a
//	contained component is connected to the output socket with the same
//	name on its nearest enclosing frame that has one.
//
// Thread Safety: Immutable after construction.
type InferredConnectionGraph struct {
	byDestination map[ids.ID][]InferredConnection
	bySource      map[ids.ID][]InferredConnection
	count         int
}

// ForDestination returns the connections feeding component.
func (ig *InferredConnectionGraph) ForDestination(component ids.ID) []InferredConnection {
	return slices.Clone(ig.byDestination[component])
}

// ForSource returns the connections fed by component.
func (ig *InferredConnectionGraph) ForSource(component ids.ID) []InferredConnection {
	return slices.Clone(ig.bySource[component])
}

// Len returns the number of inferred connections.
func (ig *InferredConnectionGraph) Len() int { return ig.count }

// InferredConnectionGraph returns the cached inferred-connection graph,
// building it on first use.
//
// Description:
//
//	Concurrent callers share one build. A build that raced with
//	ClearInferredConnectionGraph is returned to its callers but not cached.
func (s *WorkspaceSnapshot) InferredConnectionGraph(ctx context.Context, d *dal.Context) (*InferredConnectionGraph, error) {
	s.inferredMu.Lock()
	if s.inferred != nil {
		cached := s.inferred
		s.inferredMu.Unlock()
		return cached, nil
	}
	gen := s.inferredGen
	s.inferredMu.Unlock()

	v, err, _ := s.inferredSF.Do(inferredKey, func() (any, error) {
		s.inferredMu.Lock()
		if s.inferred != nil && s.inferredGen == gen {
			cached := s.inferred
			s.inferredMu.Unlock()
			return cached, nil
		}
		s.inferredMu.Unlock()

		ctx, span := tracer.Start(ctx, "snapshot.BuildInferredConnectionGraph")
		defer span.End()

		r := s.readGraph()
		defer r.Release()
		g := r.Graph()

		ig, err := workpool.Run(ctx, d.Pool, "inferred_connections", func() (*InferredConnectionGraph, error) {
			return buildInferred(g)
		})
		if err != nil {
			return nil, fail(span, err)
		}
		span.SetAttributes(attribute.Int("inferred.connections", ig.count))

		s.inferredMu.Lock()
		if s.inferredGen == gen {
			s.inferred = ig
		}
		s.inferredMu.Unlock()
		return ig, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*InferredConnectionGraph), nil
}

// ClearInferredConnectionGraph drops the cached graph. The next call to
// InferredConnectionGraph rebuilds it.
func (s *WorkspaceSnapshot) ClearInferredConnectionGraph() {
	s.inferredMu.Lock()
	s.inferred = nil
	s.inferredGen++
	s.inferredMu.Unlock()
	s.inferredSF.Forget(inferredKey)
}

func buildInferred(g *graph.Graph) (*InferredConnectionGraph, error) {
	ig := &InferredConnectionGraph{
		byDestination: make(map[ids.ID][]InferredConnection),
		bySource:      make(map[ids.ID][]InferredConnection),
	}

	cat, ok, err := categoryNode(g, weights.CategoryComponent)
	if err != nil || !ok {
		return ig, err
	}

	for _, e := range g.EdgesDirectedForKind(cat, weights.EdgeKindUse, graph.Outgoing) {
		component := e.Target
		nw, err := g.NodeWeight(component)
		if err != nil {
			return nil, err
		}
		if nw.Kind() != weights.NodeKindComponent {
			continue
		}
		variant, err := schemaVariantForComponent(g, component)
		if err != nil {
			continue
		}
		inputs, err := socketsForSchemaVariant(g, variant, weights.SocketInput)
		if err != nil {
			return nil, err
		}
		if len(inputs) == 0 {
			continue
		}

		ancestors := frameAncestors(g, component)
		for _, in := range inputs {
			for _, frame := range ancestors {
				out, found, err := outputSocketNamed(g, frame, in.Name)
				if err != nil {
					return nil, err
				}
				if !found {
					continue
				}
				conn := InferredConnection{
					SourceComponent:      frame,
					OutputSocket:         out,
					DestinationComponent: component,
					InputSocket:          in.ID(),
				}
				ig.byDestination[component] = append(ig.byDestination[component], conn)
				ig.bySource[frame] = append(ig.bySource[frame], conn)
				ig.count++
				break
			}
		}
	}
	return ig, nil
}

// frameAncestors returns the enclosing frames of component, nearest first.
// A component with several parents follows the lowest identifier.
func frameAncestors(g *graph.Graph, component ids.ID) []ids.ID {
	var out []ids.ID
	seen := map[ids.ID]struct{}{component: {}}
	cur := component
	for {
		parents := g.EdgesDirectedForKind(cur, weights.EdgeKindFrameContains, graph.Incoming)
		if len(parents) == 0 {
			return out
		}
		cur = parents[0].Source
		if _, loop := seen[cur]; loop {
			return out
		}
		seen[cur] = struct{}{}
		out = append(out, cur)
	}
}

func outputSocketNamed(g *graph.Graph, component ids.ID, name string) (ids.ID, bool, error) {
	variant, err := schemaVariantForComponent(g, component)
	if err != nil {
		return ids.ID{}, false, nil
	}
	outputs, err := socketsForSchemaVariant(g, variant, weights.SocketOutput)
	if err != nil {
		return ids.ID{}, false, err
	}
	for _, out := range outputs {
		if out.Name == name {
			return out.ID(), true, nil
		}
	}
	return ids.ID{}, false, nil
}
