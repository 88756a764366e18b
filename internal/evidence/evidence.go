// Package evidence implements the Evidence Bundle store, a component
// supplementing the distilled spec's promoted_tune gate (§4.7 step 5):
// a hash-locked bundle of sources/claims/bridges/calibration references
// that a promoted TuningIR or an ALLOW-stage bridge link must resolve
// to. Bundles live at evidence/<name>.bundle.json.
package evidence

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/gerr"
)

// Claim names a (module, knob) pair a bundle attests evidence for.
type Claim struct {
	Module string
	Knob   string
}

// Bundle is a hash-locked collection of evidence backing a promotion or
// a shadow->forecast bridge.
type Bundle struct {
	Name            string
	Sources         []string
	Claims          []Claim
	Bridges         []string
	CalibrationRefs []string
	BundleRefHash   canon.Hash32
}

// ToCanonical implements canon.Canonical.
func (b Bundle) ToCanonical() map[string]any {
	claims := make([]any, 0, len(b.Claims))
	for _, c := range b.Claims {
		claims = append(claims, map[string]any{"module": c.Module, "knob": c.Knob})
	}
	sources := make([]any, 0, len(b.Sources))
	for _, s := range b.Sources {
		sources = append(sources, s)
	}
	bridges := make([]any, 0, len(b.Bridges))
	for _, s := range b.Bridges {
		bridges = append(bridges, s)
	}
	refs := make([]any, 0, len(b.CalibrationRefs))
	for _, s := range b.CalibrationRefs {
		refs = append(refs, s)
	}
	return map[string]any{
		"name":             b.Name,
		"sources":          sources,
		"claims":           claims,
		"bridges":          bridges,
		"calibration_refs": refs,
	}
}

// ComputeHash returns the bundle's content hash, computed over every
// field (a bundle carries no separate provenance subfield to blank;
// its hash IS its reference, recomputed fully on every relock).
func ComputeHash(b Bundle) (canon.Hash32, error) {
	return canon.Hash(b.ToCanonical())
}

// Lock stamps b.BundleRefHash with the freshly computed hash. Used by
// `evidence relock --bundle <f>` after calibration_refs are updated.
func Lock(b Bundle) (Bundle, error) {
	h, err := ComputeHash(b)
	if err != nil {
		return Bundle{}, err
	}
	b.BundleRefHash = h
	return b, nil
}

// HasClaim reports whether the bundle attests evidence for (module, knob).
func (b Bundle) HasClaim(module, knob string) bool {
	for _, c := range b.Claims {
		if c.Module == module && c.Knob == knob {
			return true
		}
	}
	return false
}

// Verify checks that a promoted_tune TuningIR's evidence requirements
// (spec.md §4.7 step 5) are satisfied: the bundle resolves by hash,
// includes a claim for (module, knob), and has non-empty calibration_refs.
func Verify(b Bundle, wantHash canon.Hash32, module, knob string) error {
	got, err := ComputeHash(b)
	if err != nil {
		return gerr.Wrap(gerr.SerializationFail, "hashing evidence bundle", err)
	}
	if got != wantHash {
		return gerr.New(gerr.EvidenceHashMismatch, fmt.Sprintf("evidence bundle %q hash mismatch: have %s want %s", b.Name, got, wantHash))
	}
	if !b.HasClaim(module, knob) {
		return gerr.New(gerr.EvidenceMissing, fmt.Sprintf("evidence bundle %q has no claim for (%s, %s)", b.Name, module, knob))
	}
	if len(b.CalibrationRefs) == 0 {
		return gerr.New(gerr.EvidenceMissing, fmt.Sprintf("evidence bundle %q has empty calibration_refs", b.Name))
	}
	return nil
}

// Load reads a bundle from path.
func Load(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, err
	}
	var dto bundleDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return Bundle{}, gerr.Wrap(gerr.SerializationFail, "parsing evidence bundle json", err)
	}
	return dto.toBundle(), nil
}

// Save writes b to path.
func Save(path string, b Bundle) error {
	data, err := json.MarshalIndent(bundleDTOFrom(b), "", "  ")
	if err != nil {
		return gerr.Wrap(gerr.SerializationFail, "marshaling evidence bundle json", err)
	}
	return os.WriteFile(path, data, 0o644)
}

type claimDTO struct {
	Module string `json:"module"`
	Knob   string `json:"knob"`
}

type bundleDTO struct {
	Name            string     `json:"name"`
	Sources         []string   `json:"sources"`
	Claims          []claimDTO `json:"claims"`
	Bridges         []string   `json:"bridges"`
	CalibrationRefs []string   `json:"calibration_refs"`
	BundleRefHash   string     `json:"bundle_ref_hash"`
}

func bundleDTOFrom(b Bundle) bundleDTO {
	dto := bundleDTO{
		Name: b.Name, Sources: b.Sources, Bridges: b.Bridges,
		CalibrationRefs: b.CalibrationRefs, BundleRefHash: b.BundleRefHash.String(),
	}
	for _, c := range b.Claims {
		dto.Claims = append(dto.Claims, claimDTO{Module: c.Module, Knob: c.Knob})
	}
	return dto
}

func (dto bundleDTO) toBundle() Bundle {
	b := Bundle{
		Name: dto.Name, Sources: dto.Sources, Bridges: dto.Bridges,
		CalibrationRefs: dto.CalibrationRefs,
	}
	for _, c := range dto.Claims {
		b.Claims = append(b.Claims, Claim{Module: c.Module, Knob: c.Knob})
	}
	_ = json.Unmarshal([]byte(`"`+dto.BundleRefHash+`"`), &b.BundleRefHash)
	return b
}
