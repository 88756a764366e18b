package tuning

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/collections"
	"github.com/yggrune/governor/internal/evidence"
	"github.com/yggrune/governor/internal/gerr"
	"github.com/yggrune/governor/internal/stabilization"
)

func batchEnvelope() TuningEnvelope {
	return TuningEnvelope{
		Module: "routing",
		Knobs: map[KnobName]KnobSpec{
			"batch": {Kind: KindInt, Bounds: Bounds{Min: 1, Max: 8}, HotApply: true, StabilizationCycles: 5, CapabilityRequired: "exec"},
		},
	}
}

func lockedIR(t *testing.T, mode Mode, value int, evidenceHash *canon.Hash32) TuningIR {
	t.Helper()
	ir := TuningIR{
		Target:      "routing",
		Assignments: map[KnobName]any{"batch": int64(value)},
		Mode:        mode,
		Provenance:  Provenance{SourceCycleID: 1, ReasonTags: []string{"test"}, EvidenceBundleHash: evidenceHash},
	}
	locked, err := Lock(ir)
	require.NoError(t, err)
	return locked
}

func TestValidateAcceptsWellFormedAppliedTune(t *testing.T) {
	s, err := stabilization.Open(filepath.Join(t.TempDir(), "stabilization_state.json"))
	require.NoError(t, err)
	ir := lockedIR(t, ModeAppliedTune, 4, nil)
	caps := collections.Of("exec")
	err = Validate(ir, batchEnvelope(), caps, s, 100, nil)
	require.NoError(t, err)
}

func TestValidateRejectsOutOfBounds(t *testing.T) {
	ir := lockedIR(t, ModeShadowTune, 99, nil)
	caps := collections.Of("exec")
	err := Validate(ir, batchEnvelope(), caps, nil, 0, nil)
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.BoundsViolation))
}

func TestValidateRejectsMissingCapability(t *testing.T) {
	ir := lockedIR(t, ModeShadowTune, 4, nil)
	caps := collections.Of[string]()
	err := Validate(ir, batchEnvelope(), caps, nil, 0, nil)
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.CapabilityMissing))
}

func TestValidateRejectsStabilizationIneligible(t *testing.T) {
	s, err := stabilization.Open(filepath.Join(t.TempDir(), "stabilization_state.json"))
	require.NoError(t, err)
	require.NoError(t, s.RecordChange("routing", "batch", 98))

	ir := lockedIR(t, ModeAppliedTune, 4, nil)
	caps := collections.Of("exec")
	err = Validate(ir, batchEnvelope(), caps, s, 99, nil)
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.StabilizationBlocked))
}

func TestValidateRejectsPromotedTuneWithoutEvidence(t *testing.T) {
	ir := lockedIR(t, ModePromotedTune, 4, nil)
	caps := collections.Of("exec")
	err := Validate(ir, batchEnvelope(), caps, nil, 0, nil)
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.EvidenceMissing))
}

func TestValidateAcceptsPromotedTuneWithResolvedEvidence(t *testing.T) {
	bundle, err := evidence.Lock(evidence.Bundle{
		Name:            "routing-batch-calib",
		Claims:          []evidence.Claim{{Module: "routing", Knob: "batch"}},
		CalibrationRefs: []string{"calib#1"},
	})
	require.NoError(t, err)

	hash := bundle.BundleRefHash
	ir := lockedIR(t, ModePromotedTune, 4, &hash)
	caps := collections.Of("exec")
	resolver := func(h canon.Hash32) (evidence.Bundle, bool) {
		if h == bundle.BundleRefHash {
			return bundle, true
		}
		return evidence.Bundle{}, false
	}
	err = Validate(ir, batchEnvelope(), caps, nil, 0, resolver)
	require.NoError(t, err)
}

func TestValidateRejectsTamperedIRHash(t *testing.T) {
	ir := lockedIR(t, ModeShadowTune, 4, nil)
	ir.Provenance.SourceCycleID = 999 // mutate after locking
	caps := collections.Of("exec")
	err := Validate(ir, batchEnvelope(), caps, nil, 0, nil)
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.ValidationError))
}
