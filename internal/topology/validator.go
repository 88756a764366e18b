package topology

import (
	"fmt"

	"github.com/yggrune/governor/internal/gerr"
)

// LintReport is the result of Validate: ValidationErrors are hard
// failures (cycle, authority monotonicity, unknown dependency or parent);
// ForbiddenCrossings are specifically cross-realm/shadow-forecast edges
// that fail the membrane gate (spec.md §4.3, CLI exit code 5).
type LintReport struct {
	ValidationErrors   []error
	ForbiddenCrossings []LintFinding
}

// Clean reports whether the manifest passed every check.
func (r LintReport) Clean() bool {
	return len(r.ValidationErrors) == 0 && len(r.ForbiddenCrossings) == 0
}

// Validate enforces the §3 invariants 2-5 against m (invariant 1, the
// hash-lock, is checked separately by Verify/Load).
func Validate(m Manifest) LintReport {
	var report LintReport

	nodesByID := make(map[NodeId]Node, len(m.Nodes))
	for _, n := range m.Nodes {
		nodesByID[n.ID] = n
	}

	linksByEdge := make(map[[2]NodeId][]RuneLink)
	for _, l := range m.Links {
		key := [2]NodeId{l.From, l.To}
		linksByEdge[key] = append(linksByEdge[key], l)
	}

	// Invariant 2 & 3: every cross-realm edge needs a permitting link;
	// every shadow->forecast edge needs the explicit bridge evidence.
	for u, un := range nodesByID {
		for _, vID := range un.DependsOn {
			vn, ok := nodesByID[vID]
			if !ok {
				report.ValidationErrors = append(report.ValidationErrors,
					gerr.Newf(gerr.ValidationError, "UnknownDependency", fmt.Sprintf("%s depends on unknown node %s", u, vID)))
				continue
			}
			checkEdge(&report, un, vn, linksByEdge)
		}
	}

	// Invariant 4: no cycles in depends_on.
	if cyc := findCycle(m); cyc != nil {
		report.ValidationErrors = append(report.ValidationErrors,
			gerr.Newf(gerr.ValidationError, "CycleDetected", fmt.Sprintf("dependency cycle: %v", cyc)))
	}

	// Invariant 5: authority_level is monotonic non-increasing along
	// parent links.
	for _, n := range m.Nodes {
		if n.Parent == nil {
			continue
		}
		parent, ok := nodesByID[*n.Parent]
		if !ok {
			report.ValidationErrors = append(report.ValidationErrors,
				gerr.Newf(gerr.ValidationError, "UnknownParent", fmt.Sprintf("%s has unknown parent %s", n.ID, *n.Parent)))
			continue
		}
		if n.AuthorityLevel > parent.AuthorityLevel {
			report.ValidationErrors = append(report.ValidationErrors,
				gerr.Newf(gerr.ValidationError, "AuthorityNotMonotonic",
					fmt.Sprintf("%s (authority %d) exceeds parent %s (authority %d)", n.ID, n.AuthorityLevel, parent.ID, parent.AuthorityLevel)))
		}
	}

	return report
}

func checkEdge(report *LintReport, u, v Node, linksByEdge map[[2]NodeId][]RuneLink) {
	sameRealm := u.Realm == v.Realm
	lanePair := NewLanePair(u.Lane, v.Lane)
	isShadowToForecast := u.Lane == LaneShadow && v.Lane == LaneForecast

	links := linksByEdge[[2]NodeId{u.ID, v.ID}]

	var permitting *RuneLink
	for i := range links {
		if links[i].AllowedLanes.Contains(lanePair) {
			permitting = &links[i]
			break
		}
	}

	if !sameRealm && permitting == nil {
		report.ForbiddenCrossings = append(report.ForbiddenCrossings, LintFinding{
			From: u.ID, To: v.ID,
			Reason: fmt.Sprintf("cross-realm edge %s(%s)->%s(%s) has no RuneLink permitting lane %s", u.ID, u.Realm, v.ID, v.Realm, lanePair),
		})
		return
	}

	if isShadowToForecast {
		if permitting == nil {
			report.ForbiddenCrossings = append(report.ForbiddenCrossings, LintFinding{
				From: u.ID, To: v.ID,
				Reason: "shadow->forecast edge has no permitting RuneLink",
			})
			return
		}
		if !permitting.EvidenceRequired.Contains(ExplicitShadowForecastBridge) {
			report.ForbiddenCrossings = append(report.ForbiddenCrossings, LintFinding{
				From: u.ID, To: v.ID,
				Reason: "shadow->forecast RuneLink missing EXPLICIT_SHADOW_FORECAST_BRIDGE in evidence_required",
			})
			return
		}
		if len(permitting.RequiredEvidencePorts) == 0 {
			report.ForbiddenCrossings = append(report.ForbiddenCrossings, LintFinding{
				From: u.ID, To: v.ID,
				Reason: "shadow->forecast RuneLink has empty required_evidence_ports",
			})
			return
		}
	}
}

// findCycle returns a node id sequence forming a cycle, or nil if the
// depends_on graph is acyclic.
func findCycle(m Manifest) []NodeId {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeId]int, len(m.Nodes))
	deps := make(map[NodeId][]NodeId, len(m.Nodes))
	for _, n := range m.Nodes {
		color[n.ID] = white
		deps[n.ID] = n.DependsOn
	}

	var path []NodeId
	var cycle []NodeId

	var visit func(id NodeId) bool
	visit = func(id NodeId) bool {
		color[id] = gray
		path = append(path, id)
		for _, d := range deps[id] {
			switch color[d] {
			case gray:
				cycle = append(append([]NodeId{}, path...), d)
				return true
			case white:
				if visit(d) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, n := range m.Nodes {
		if color[n.ID] == white {
			if visit(n.ID) {
				return cycle
			}
		}
	}
	return nil
}
