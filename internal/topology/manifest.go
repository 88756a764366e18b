package topology

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/collections"
	"github.com/yggrune/governor/internal/gerr"
)

// ComputeManifestHash computes invariant 1's hash: SHA-256 of the
// canonicalized manifest with the provenance.manifest_hash subfield
// blanked (the whole provenance block is reproducible from the rest of
// the manifest plus source_commit/lint, so we blank only the hash field
// itself to allow round-tripping source_commit/lint through the hash).
func ComputeManifestHash(m Manifest) (canon.Hash32, error) {
	full := m.ToCanonical()
	prov, _ := full["provenance"].(map[string]any)
	prov = canon.WithoutField(prov, "manifest_hash")
	full["provenance"] = prov
	return canon.Hash(full)
}

// Lock stamps m.Provenance.ManifestHash with the freshly computed hash.
// Used when authoring or relocking a manifest.
func Lock(m Manifest) (Manifest, error) {
	h, err := ComputeManifestHash(m)
	if err != nil {
		return Manifest{}, err
	}
	m.Provenance.ManifestHash = h
	return m, nil
}

// Verify checks invariant 1: the manifest's stamped hash matches the
// freshly recomputed hash.
func Verify(m Manifest) error {
	want, err := ComputeManifestHash(m)
	if err != nil {
		return gerr.Wrap(gerr.SerializationFail, "computing manifest hash", err)
	}
	if want != m.Provenance.ManifestHash {
		return gerr.New(gerr.ManifestHashMismatch, fmt.Sprintf("manifest hash mismatch: have %s want %s", m.Provenance.ManifestHash, want))
	}
	return nil
}

// Load reads a manifest from path and verifies its hash-lock.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var dto manifestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return Manifest{}, gerr.Wrap(gerr.SerializationFail, "parsing manifest json", err)
	}
	m := dto.toManifest()
	if err := Verify(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Save writes m to path as canonical-adjacent JSON (readable JSON, not
// the compact canonical byte form; the canonical form is used only for
// hashing).
func Save(path string, m Manifest) error {
	dto := toDTO(m)
	data, err := json.MarshalIndent(dto, "", "  ")
	if err != nil {
		return gerr.Wrap(gerr.SerializationFail, "marshaling manifest json", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// --- JSON DTOs -------------------------------------------------------
//
// Manifest's in-memory types (Set[T], LinkId-keyed maps, pointer fields)
// don't round-trip cleanly through encoding/json without help; the DTOs
// below are the sole place that bridges to on-disk JSON.

type nodeDTO struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	Realm          string   `json:"realm"`
	Lane           string   `json:"lane"`
	AuthorityLevel uint8    `json:"authority_level"`
	Parent         *string  `json:"parent,omitempty"`
	DependsOn      []string `json:"depends_on"`
	PromotionState string   `json:"promotion_state"`
}

type evidencePortDTO struct {
	Name          string `json:"name"`
	BundleRefHash string `json:"bundle_ref_hash"`
}

type runeLinkDTO struct {
	ID                    string                     `json:"id"`
	From                  string                     `json:"from"`
	To                    string                     `json:"to"`
	AllowedLanes          []string                   `json:"allowed_lanes"`
	EvidenceRequired      []string                   `json:"evidence_required"`
	RequiredEvidencePorts map[string]evidencePortDTO `json:"required_evidence_ports"`
}

type lintFindingDTO struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type manifestDTO struct {
	SchemaVersion string `json:"schema_version"`
	Provenance    struct {
		ManifestHash string           `json:"manifest_hash"`
		SourceCommit string           `json:"source_commit"`
		Lint         struct {
			ForbiddenCrossings []lintFindingDTO `json:"forbidden_crossings"`
		} `json:"lint"`
	} `json:"provenance"`
	Nodes []nodeDTO     `json:"nodes"`
	Links []runeLinkDTO `json:"links"`
}

func toDTO(m Manifest) manifestDTO {
	var dto manifestDTO
	dto.SchemaVersion = m.SchemaVersion
	dto.Provenance.ManifestHash = m.Provenance.ManifestHash.String()
	dto.Provenance.SourceCommit = m.Provenance.SourceCommit
	for _, c := range m.Provenance.Lint.ForbiddenCrossings {
		dto.Provenance.Lint.ForbiddenCrossings = append(dto.Provenance.Lint.ForbiddenCrossings, lintFindingDTO{
			From: string(c.From), To: string(c.To), Reason: c.Reason,
		})
	}
	for _, n := range m.Nodes {
		nd := nodeDTO{
			ID:             string(n.ID),
			Kind:           string(n.Kind),
			Realm:          string(n.Realm),
			Lane:           string(n.Lane),
			AuthorityLevel: n.AuthorityLevel,
			PromotionState: string(n.PromotionState),
		}
		if n.Parent != nil {
			p := string(*n.Parent)
			nd.Parent = &p
		}
		for _, d := range n.DependsOn {
			nd.DependsOn = append(nd.DependsOn, string(d))
		}
		dto.Nodes = append(dto.Nodes, nd)
	}
	for _, l := range m.Links {
		ld := runeLinkDTO{
			ID:               string(l.ID),
			From:             string(l.From),
			To:               string(l.To),
			RequiredEvidencePorts: map[string]evidencePortDTO{},
		}
		for _, lp := range sortedLanePairs(l.AllowedLanes) {
			ld.AllowedLanes = append(ld.AllowedLanes, string(lp))
		}
		for _, t := range sortedTags(l.EvidenceRequired) {
			ld.EvidenceRequired = append(ld.EvidenceRequired, string(t))
		}
		for k, v := range l.RequiredEvidencePorts {
			ld.RequiredEvidencePorts[string(k)] = evidencePortDTO{
				Name:          v.Name,
				BundleRefHash: v.BundleRefHash.String(),
			}
		}
		dto.Links = append(dto.Links, ld)
	}
	return dto
}

func (dto manifestDTO) toManifest() Manifest {
	var m Manifest
	m.SchemaVersion = dto.SchemaVersion
	var hash canon.Hash32
	_ = json.Unmarshal([]byte(`"`+dto.Provenance.ManifestHash+`"`), &hash)
	m.Provenance.ManifestHash = hash
	m.Provenance.SourceCommit = dto.Provenance.SourceCommit
	for _, c := range dto.Provenance.Lint.ForbiddenCrossings {
		m.Provenance.Lint.ForbiddenCrossings = append(m.Provenance.Lint.ForbiddenCrossings, LintFinding{
			From: NodeId(c.From), To: NodeId(c.To), Reason: c.Reason,
		})
	}
	for _, nd := range dto.Nodes {
		n := Node{
			ID:             NodeId(nd.ID),
			Kind:           NodeKind(nd.Kind),
			Realm:          Realm(nd.Realm),
			Lane:           Lane(nd.Lane),
			AuthorityLevel: nd.AuthorityLevel,
			PromotionState: PromotionState(nd.PromotionState),
		}
		if nd.Parent != nil {
			p := NodeId(*nd.Parent)
			n.Parent = &p
		}
		for _, d := range nd.DependsOn {
			n.DependsOn = append(n.DependsOn, NodeId(d))
		}
		m.Nodes = append(m.Nodes, n)
	}
	for _, ld := range dto.Links {
		l := RuneLink{
			ID:                    LinkId(ld.ID),
			From:                  NodeId(ld.From),
			To:                    NodeId(ld.To),
			AllowedLanes:          collections.NewSet[LanePair](len(ld.AllowedLanes)),
			EvidenceRequired:      collections.NewSet[EvidenceTag](len(ld.EvidenceRequired)),
			RequiredEvidencePorts: map[LinkId]EvidencePortSpec{},
		}
		for _, lp := range ld.AllowedLanes {
			l.AllowedLanes.Add(LanePair(lp))
		}
		for _, t := range ld.EvidenceRequired {
			l.EvidenceRequired.Add(EvidenceTag(t))
		}
		for k, v := range ld.RequiredEvidencePorts {
			var h canon.Hash32
			_ = json.Unmarshal([]byte(`"`+v.BundleRefHash+`"`), &h)
			l.RequiredEvidencePorts[LinkId(k)] = EvidencePortSpec{Name: v.Name, BundleRefHash: h}
		}
		m.Links = append(m.Links, l)
	}
	return m
}
