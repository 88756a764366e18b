// Package topology implements the YGGDRASIL manifest: the node/link
// registry, the membrane validator, and the bridge-evidence gate that
// keeps a shadow→forecast crossing from reaching the execution plan
// without a verified evidence bundle (spec.md §3, §4.3).
package topology

import (
	"sort"

	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/collections"
)

// NodeId identifies a node in the manifest (an overlay, module, or rune).
type NodeId string

// LinkId identifies a RuneLink.
type LinkId string

// EvidenceTag names a kind of evidence a RuneLink may require.
type EvidenceTag string

// ExplicitShadowForecastBridge is the evidence tag invariant 3 requires
// on any shadow→forecast RuneLink.
const ExplicitShadowForecastBridge EvidenceTag = "EXPLICIT_SHADOW_FORECAST_BRIDGE"

// NodeKind classifies a node.
type NodeKind string

const (
	KindRootPolicy NodeKind = "RootPolicy"
	KindModule     NodeKind = "Module"
	KindRune       NodeKind = "Rune"
)

// Realm is the coarse taxonomy realm a node belongs to.
type Realm string

const (
	RealmAsgard     Realm = "ASGARD"
	RealmHel        Realm = "HEL"
	RealmMidgard    Realm = "MIDGARD"
	RealmNiflheim   Realm = "NIFLHEIM"
	RealmMuspelheim Realm = "MUSPELHEIM"
)

var validRealms = collections.Of(RealmAsgard, RealmHel, RealmMidgard, RealmNiflheim, RealmMuspelheim)

// Valid reports whether r is one of the five declared realms.
func (r Realm) Valid() bool { return validRealms.Contains(r) }

// Lane is the fine-grained taxonomy classifying a node for membrane
// enforcement. shadow observes, forecast is authoritative.
type Lane string

const (
	LaneForecast Lane = "forecast"
	LaneShadow   Lane = "shadow"
	LaneNeutral  Lane = "neutral"
)

var validLanes = collections.Of(LaneForecast, LaneShadow, LaneNeutral)

// Valid reports whether l is one of the three declared lanes.
func (l Lane) Valid() bool { return validLanes.Contains(l) }

// LanePair is an ordered pair of lanes, e.g. "neutral->forecast".
type LanePair string

// NewLanePair builds the canonical LanePair string for (from, to).
func NewLanePair(from, to Lane) LanePair {
	return LanePair(string(from) + "->" + string(to))
}

// PromotionState is a node's lifecycle stage.
type PromotionState string

const (
	PromotionShadow     PromotionState = "Shadow"
	PromotionCandidate  PromotionState = "Candidate"
	PromotionPromoted   PromotionState = "Promoted"
	PromotionDeprecated PromotionState = "Deprecated"
)

// Node is an overlay, module, or rune in the topology.
type Node struct {
	ID             NodeId
	Kind           NodeKind
	Realm          Realm
	Lane           Lane
	AuthorityLevel uint8
	Parent         *NodeId
	DependsOn      []NodeId
	PromotionState PromotionState
}

// ToCanonical implements canon.Canonical.
func (n Node) ToCanonical() map[string]any {
	deps := make([]any, len(n.DependsOn))
	for i, d := range n.DependsOn {
		deps[i] = string(d)
	}
	m := map[string]any{
		"id":              string(n.ID),
		"kind":            string(n.Kind),
		"realm":           string(n.Realm),
		"lane":            string(n.Lane),
		"authority_level": int64(n.AuthorityLevel),
		"depends_on":      deps,
		"promotion_state": string(n.PromotionState),
	}
	if n.Parent != nil {
		m["parent"] = string(*n.Parent)
	} else {
		m["parent"] = nil
	}
	return m
}

// EvidencePortSpec describes a named evidence port a RuneLink requires
// at plan time before the edge it guards may appear in an ExecutionPlan.
type EvidencePortSpec struct {
	Name           string
	BundleRefHash  canon.Hash32
}

// ToCanonical implements canon.Canonical.
func (e EvidencePortSpec) ToCanonical() map[string]any {
	return map[string]any{
		"name":            e.Name,
		"bundle_ref_hash": e.BundleRefHash,
	}
}

// RuneLink is an explicit cross-realm edge with allowed lane-pairs and
// evidence requirements.
type RuneLink struct {
	ID                   LinkId
	From                 NodeId
	To                   NodeId
	AllowedLanes         collections.Set[LanePair]
	EvidenceRequired     collections.Set[EvidenceTag]
	RequiredEvidencePorts map[LinkId]EvidencePortSpec
}

// ToCanonical implements canon.Canonical.
func (l RuneLink) ToCanonical() map[string]any {
	allowed := make([]any, 0, len(l.AllowedLanes))
	for _, lp := range sortedLanePairs(l.AllowedLanes) {
		allowed = append(allowed, string(lp))
	}
	required := make([]any, 0, len(l.EvidenceRequired))
	for _, tag := range sortedTags(l.EvidenceRequired) {
		required = append(required, string(tag))
	}
	ports := make(map[string]any, len(l.RequiredEvidencePorts))
	for k, v := range l.RequiredEvidencePorts {
		ports[string(k)] = v.ToCanonical()
	}
	return map[string]any{
		"id":                      string(l.ID),
		"from":                    string(l.From),
		"to":                      string(l.To),
		"allowed_lanes":           allowed,
		"evidence_required":       required,
		"required_evidence_ports": ports,
	}
}

func sortedLanePairs(s collections.Set[LanePair]) []LanePair {
	out := s.List()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedTags(s collections.Set[EvidenceTag]) []EvidenceTag {
	out := s.List()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LintFinding is a forbidden-crossing entry in Manifest.Provenance.Lint.
type LintFinding struct {
	From   NodeId
	To     NodeId
	Reason string
}

// Lint is the manifest's embedded lint record.
type Lint struct {
	ForbiddenCrossings []LintFinding
}

// Provenance tracks the manifest's hash-lock and lint history.
type Provenance struct {
	ManifestHash canon.Hash32
	SourceCommit string
	Lint         Lint
}

// Manifest is the YGGDRASIL topology artifact.
type Manifest struct {
	SchemaVersion string
	Provenance    Provenance
	Nodes         []Node
	Links         []RuneLink
}

// ToCanonical implements canon.Canonical. The provenance subfield is
// included here (ComputeManifestHash uses WithoutField to blank only
// provenance.manifest_hash before hashing, per invariant 1).
func (m Manifest) ToCanonical() map[string]any {
	nodes := make([]any, len(m.Nodes))
	ids := make([]int, len(m.Nodes))
	for i := range m.Nodes {
		ids[i] = i
	}
	sort.Slice(ids, func(i, j int) bool { return m.Nodes[ids[i]].ID < m.Nodes[ids[j]].ID })
	for i, idx := range ids {
		nodes[i] = m.Nodes[idx].ToCanonical()
	}

	linkIdx := make([]int, len(m.Links))
	for i := range m.Links {
		linkIdx[i] = i
	}
	sort.Slice(linkIdx, func(i, j int) bool { return m.Links[linkIdx[i]].ID < m.Links[linkIdx[j]].ID })
	links := make([]any, len(m.Links))
	for i, idx := range linkIdx {
		links[i] = m.Links[idx].ToCanonical()
	}

	crossings := make([]any, len(m.Provenance.Lint.ForbiddenCrossings))
	for i, c := range m.Provenance.Lint.ForbiddenCrossings {
		crossings[i] = map[string]any{
			"from":   string(c.From),
			"to":     string(c.To),
			"reason": c.Reason,
		}
	}

	return map[string]any{
		"schema_version": m.SchemaVersion,
		"provenance": map[string]any{
			"manifest_hash": m.Provenance.ManifestHash,
			"source_commit": m.Provenance.SourceCommit,
			"lint": map[string]any{
				"forbidden_crossings": crossings,
			},
		},
		"nodes": nodes,
		"links": links,
	}
}

// NodeByID returns the node with the given id, if present.
func (m Manifest) NodeByID(id NodeId) (Node, bool) {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
