// Package tuning implements the Tuning IR & Validator (C7, spec.md §4.7):
// typed, bounded knob assignments against a per-module envelope, and the
// six-step validation gate every TuningIR must pass before a canary
// apply.
package tuning

import (
	"fmt"
	"sort"

	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/collections"
	"github.com/yggrune/governor/internal/evidence"
	"github.com/yggrune/governor/internal/gerr"
	"github.com/yggrune/governor/internal/stabilization"
)

// ModuleID and KnobName mirror the types stabilization and effects index
// by; tuning is the package that produces values for those keys, so
// callers cast explicitly at the boundary rather than sharing one type
// across packages with different persistence lifecycles.
type ModuleID string
type KnobName string

// KnobKind is the closed set of knob value kinds.
type KnobKind string

const (
	KindInt         KnobKind = "Int"
	KindFloat       KnobKind = "Float"
	KindBool        KnobKind = "Bool"
	KindEnum        KnobKind = "Enum"
	KindDurationMs  KnobKind = "DurationMs"
)

// Bounds constrains a knob's permitted values. Int/Float/DurationMs use
// Min/Max; Enum uses Values; Bool has no bounds.
type Bounds struct {
	Min    float64
	Max    float64
	Values []string
}

// KnobSpec declares one tunable knob within a module's envelope.
type KnobSpec struct {
	Kind                 KnobKind
	Bounds               Bounds
	HotApply             bool
	StabilizationCycles  uint32
	CapabilityRequired   string
}

// TuningEnvelope is the set of knobs one module declares as tunable.
type TuningEnvelope struct {
	Module ModuleID
	Knobs  map[KnobName]KnobSpec
}

// Mode is the closed set of TuningIR modes.
type Mode string

const (
	ModeShadowTune   Mode = "shadow_tune"
	ModeAppliedTune  Mode = "applied_tune"
	ModePromotedTune Mode = "promoted_tune"
)

// Provenance carries a TuningIR's hash-lock and audit trail.
type Provenance struct {
	IRHash             canon.Hash32
	SourceCycleID      uint64
	ReasonTags         []string
	EvidenceBundleHash *canon.Hash32
}

// TuningIR is one proposed (or applied/promoted) set of knob assignments
// for a single module.
type TuningIR struct {
	Target      ModuleID
	Assignments map[KnobName]any
	Mode        Mode
	Provenance  Provenance
}

// ToCanonical implements canon.Canonical.
func (ir TuningIR) ToCanonical() map[string]any {
	assignments := make(map[string]any, len(ir.Assignments))
	for k, v := range ir.Assignments {
		assignments[string(k)] = v
	}
	reasonTags := make([]any, 0, len(ir.Provenance.ReasonTags))
	for _, t := range ir.Provenance.ReasonTags {
		reasonTags = append(reasonTags, t)
	}
	prov := map[string]any{
		"ir_hash":         ir.Provenance.IRHash,
		"source_cycle_id": int64(ir.Provenance.SourceCycleID),
		"reason_tags":     reasonTags,
	}
	if ir.Provenance.EvidenceBundleHash != nil {
		prov["evidence_bundle_hash"] = *ir.Provenance.EvidenceBundleHash
	} else {
		prov["evidence_bundle_hash"] = nil
	}
	return map[string]any{
		"target":      string(ir.Target),
		"assignments": assignments,
		"mode":        string(ir.Mode),
		"provenance":  prov,
	}
}

// ComputeIRHash hashes ir with provenance.ir_hash blanked, mirroring
// topology.ComputeManifestHash's treatment of provenance.manifest_hash.
func ComputeIRHash(ir TuningIR) (canon.Hash32, error) {
	full := ir.ToCanonical()
	prov, _ := full["provenance"].(map[string]any)
	prov = canon.WithoutField(prov, "ir_hash")
	full["provenance"] = prov
	return canon.Hash(full)
}

// Lock stamps ir.Provenance.IRHash with the freshly computed hash.
func Lock(ir TuningIR) (TuningIR, error) {
	h, err := ComputeIRHash(ir)
	if err != nil {
		return TuningIR{}, err
	}
	ir.Provenance.IRHash = h
	return ir, nil
}

// BundleResolver resolves an evidence_bundle_hash to its bundle, for
// promoted_tune validation (step 5). Backed in production by the
// evidence package's on-disk bundle store.
type BundleResolver func(canon.Hash32) (evidence.Bundle, bool)

// Validate runs the six-step gate from spec.md §4.7 against ir.
func Validate(ir TuningIR, envelope TuningEnvelope, caps collections.Set[string], stabilizationStore *stabilization.Store, currentCycle uint64, resolveBundle BundleResolver) error {
	knobNames := make([]string, 0, len(ir.Assignments))
	for k := range ir.Assignments {
		knobNames = append(knobNames, string(k))
	}
	sort.Strings(knobNames)

	for _, kn := range knobNames {
		knob := KnobName(kn)
		value := ir.Assignments[knob]

		// Step 1: knob must be declared, and value must satisfy bounds.
		spec, ok := envelope.Knobs[knob]
		if !ok {
			return gerr.Newf(gerr.ValidationError, "UnknownKnob", fmt.Sprintf("%s has no envelope entry for knob %s", envelope.Module, knob))
		}
		if err := checkBounds(knob, spec, value); err != nil {
			return err
		}

		// Step 2: hot_apply required unless shadow_tune.
		if ir.Mode != ModeShadowTune && !spec.HotApply {
			return gerr.Newf(gerr.ValidationError, "NotHotApplicable", fmt.Sprintf("knob %s is not hot-applicable and mode is %s", knob, ir.Mode))
		}

		// Step 3: capability required must be present.
		if spec.CapabilityRequired != "" && !caps.Contains(spec.CapabilityRequired) {
			return gerr.New(gerr.CapabilityMissing, fmt.Sprintf("knob %s requires capability %q", knob, spec.CapabilityRequired))
		}

		// Step 4: applied_tune requires stabilization eligibility.
		if ir.Mode == ModeAppliedTune && stabilizationStore != nil {
			if !stabilizationStore.IsEligible(stabilization.ModuleID(ir.Target), stabilization.KnobName(knob), currentCycle, spec.StabilizationCycles) {
				return gerr.New(gerr.StabilizationBlocked, fmt.Sprintf("(%s,%s) is not yet stabilization-eligible", ir.Target, knob))
			}
		}

		// Step 5: promoted_tune requires a resolvable evidence bundle.
		if ir.Mode == ModePromotedTune {
			if ir.Provenance.EvidenceBundleHash == nil {
				return gerr.New(gerr.EvidenceMissing, "promoted_tune requires evidence_bundle_hash")
			}
			if resolveBundle == nil {
				return gerr.New(gerr.EvidenceMissing, "no bundle resolver configured")
			}
			bundle, ok := resolveBundle(*ir.Provenance.EvidenceBundleHash)
			if !ok {
				return gerr.New(gerr.EvidenceMissing, fmt.Sprintf("evidence bundle %s not found", ir.Provenance.EvidenceBundleHash))
			}
			if err := evidence.Verify(bundle, *ir.Provenance.EvidenceBundleHash, string(ir.Target), string(knob)); err != nil {
				return err
			}
		}
	}

	// Step 6: recompute and verify ir_hash.
	want, err := ComputeIRHash(ir)
	if err != nil {
		return gerr.Wrap(gerr.SerializationFail, "computing ir_hash", err)
	}
	if want != ir.Provenance.IRHash {
		return gerr.Newf(gerr.ValidationError, "IRHashMismatch", fmt.Sprintf("ir_hash mismatch: have %s want %s", ir.Provenance.IRHash, want))
	}
	return nil
}

func checkBounds(knob KnobName, spec KnobSpec, value any) error {
	switch spec.Kind {
	case KindInt, KindDurationMs:
		n, ok := asFloat(value)
		if !ok {
			return gerr.Newf(gerr.ValidationError, "BoundsViolation", fmt.Sprintf("knob %s expects a numeric value, got %T", knob, value))
		}
		if n < spec.Bounds.Min || n > spec.Bounds.Max {
			return gerr.New(gerr.BoundsViolation, fmt.Sprintf("knob %s value %v out of bounds [%v,%v]", knob, value, spec.Bounds.Min, spec.Bounds.Max))
		}
	case KindFloat:
		n, ok := asFloat(value)
		if !ok {
			return gerr.Newf(gerr.ValidationError, "BoundsViolation", fmt.Sprintf("knob %s expects a numeric value, got %T", knob, value))
		}
		if n < spec.Bounds.Min || n > spec.Bounds.Max {
			return gerr.New(gerr.BoundsViolation, fmt.Sprintf("knob %s value %v out of bounds [%v,%v]", knob, value, spec.Bounds.Min, spec.Bounds.Max))
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return gerr.Newf(gerr.ValidationError, "BoundsViolation", fmt.Sprintf("knob %s expects a bool, got %T", knob, value))
		}
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return gerr.Newf(gerr.ValidationError, "BoundsViolation", fmt.Sprintf("knob %s expects a string enum value, got %T", knob, value))
		}
		valid := false
		for _, v := range spec.Bounds.Values {
			if v == s {
				valid = true
				break
			}
		}
		if !valid {
			return gerr.New(gerr.BoundsViolation, fmt.Sprintf("knob %s value %q not in %v", knob, s, spec.Bounds.Values))
		}
	default:
		return gerr.Newf(gerr.ValidationError, "UnknownKind", fmt.Sprintf("knob %s has unknown kind %q", knob, spec.Kind))
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
