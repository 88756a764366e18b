package topology

import (
	"fmt"
	"sort"

	"github.com/yggrune/governor/internal/collections"
)

// ExecutionPlan is the set of nodes reachable from the manifest's root(s)
// without crossing a link whose required evidence ports were not
// supplied (spec.md §4.3).
type ExecutionPlan struct {
	Included []NodeId
	Pruned   map[NodeId]string
}

// PlanExecutionDAG computes the execution plan for m. suppliedPorts is
// the set of LinkIds whose full required_evidence_ports set has a
// verified evidence bundle at plan time (the Bridge promotion workflow's
// ALLOW step); a link absent from suppliedPorts is treated as unsupplied.
func PlanExecutionDAG(m Manifest, suppliedPorts collections.Set[LinkId]) ExecutionPlan {
	nodesByID := make(map[NodeId]Node, len(m.Nodes))
	for _, n := range m.Nodes {
		nodesByID[n.ID] = n
	}

	linksByEdge := make(map[[2]NodeId][]RuneLink)
	for _, l := range m.Links {
		key := [2]NodeId{l.From, l.To}
		linksByEdge[key] = append(linksByEdge[key], l)
	}

	included := collections.NewSet[NodeId](len(m.Nodes))
	pruneReason := make(map[NodeId]string)

	// A root is a node with no parent that no other node depends on; a
	// parentless node reached only through depends_on must pass the edge
	// gate like any other dependency.
	dependedOn := collections.NewSet[NodeId](len(m.Nodes))
	for _, n := range m.Nodes {
		dependedOn.Add(n.DependsOn...)
	}
	var roots []NodeId
	for _, n := range m.Nodes {
		if n.Parent == nil && !dependedOn.Contains(n.ID) {
			roots = append(roots, n.ID)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	visited := collections.NewSet[NodeId](len(m.Nodes))
	var visit func(id NodeId)
	visit = func(id NodeId) {
		if visited.Contains(id) {
			return
		}
		visited.Add(id)
		included.Add(id)
		n := nodesByID[id]
		deps := append([]NodeId{}, n.DependsOn...)
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
		for _, depID := range deps {
			if blocked, reason := edgeBlocked(n, nodesByID[depID], linksByEdge, suppliedPorts); blocked {
				if _, already := pruneReason[depID]; !already {
					pruneReason[depID] = reason
				}
				continue
			}
			visit(depID)
		}
	}
	for _, r := range roots {
		visit(r)
	}

	for id := range pruneReason {
		if included.Contains(id) {
			delete(pruneReason, id)
		}
	}
	for _, n := range m.Nodes {
		if !included.Contains(n.ID) {
			if _, ok := pruneReason[n.ID]; !ok {
				pruneReason[n.ID] = "unreachable from root"
			}
		}
	}

	out := ExecutionPlan{Pruned: pruneReason}
	for _, id := range included.List() {
		out.Included = append(out.Included, id)
	}
	sort.Slice(out.Included, func(i, j int) bool { return out.Included[i] < out.Included[j] })
	return out
}

func edgeBlocked(u, v Node, linksByEdge map[[2]NodeId][]RuneLink, suppliedPorts collections.Set[LinkId]) (bool, string) {
	isShadowToForecast := u.Lane == LaneShadow && v.Lane == LaneForecast
	links := linksByEdge[[2]NodeId{u.ID, v.ID}]
	for _, l := range links {
		if isShadowToForecast && !l.EvidenceRequired.Contains(ExplicitShadowForecastBridge) {
			return true, fmt.Sprintf("link %s from %s to %s is a shadow->forecast bridge missing EXPLICIT_SHADOW_FORECAST_BRIDGE in evidence_required", l.ID, u.ID, v.ID)
		}
		if isShadowToForecast && len(l.RequiredEvidencePorts) == 0 {
			return true, fmt.Sprintf("link %s from %s to %s is a shadow->forecast bridge with empty required_evidence_ports", l.ID, u.ID, v.ID)
		}
		if len(l.RequiredEvidencePorts) == 0 {
			continue
		}
		if !suppliedPorts.Contains(l.ID) {
			return true, fmt.Sprintf("link %s from %s to %s requires an unsupplied evidence bundle", l.ID, u.ID, v.ID)
		}
	}
	return false, ""
}
