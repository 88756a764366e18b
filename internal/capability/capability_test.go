package capability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yggrune/governor/internal/gerr"
)

func TestAscendIsOnlyExecPhase(t *testing.T) {
	r := NewDefaultRegistry()

	require.NoError(t, r.CheckInvocation(PhaseAscend, []string{CapExec}))

	err := r.CheckInvocation(PhaseOpen, []string{CapExec})
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.PolicyViolation))
}

func TestAscendRequiresExec(t *testing.T) {
	r := NewDefaultRegistry()
	err := r.CheckInvocation(PhaseAscend, []string{CapWrite})
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.CapabilityMissing))
}

func TestClearForbidsExternalIO(t *testing.T) {
	r := NewDefaultRegistry()
	err := r.CheckInvocation(PhaseClear, []string{CapExternalIO})
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.PolicyViolation))
}

func TestSealForbidsNonFinalizationWrites(t *testing.T) {
	r := NewDefaultRegistry()
	require.NoError(t, r.CheckInvocation(PhaseSeal, []string{CapFinalizeWrite}))

	err := r.CheckInvocation(PhaseSeal, []string{CapWrite})
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.PolicyViolation))
}

func TestCheckManifestRejectsForbiddenCapabilityAtLoad(t *testing.T) {
	r := NewDefaultRegistry()
	err := r.CheckManifest([]Phase{PhaseOpen, PhaseAscend}, []string{CapExec})
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.PolicyViolation))
}

func TestDenylistDominatesAllowlist(t *testing.T) {
	r := NewDefaultRegistry()
	r.Set(PhaseAlign, PhasePolicy{
		Allowed:   r.policies[PhaseAlign].Allowed,
		Forbidden: r.policies[PhaseAlign].Forbidden,
		Required:  r.policies[PhaseAlign].Required,
	})
	r.policies[PhaseAlign].Allowed.Add(CapExec)
	err := r.CheckInvocation(PhaseAlign, []string{CapExec})
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.PolicyViolation))
}
