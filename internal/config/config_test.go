package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresetsValidate(t *testing.T) {
	for name, p := range map[string]Policy{
		"default":      DefaultPolicy(),
		"conservative": ConservativePolicy(),
		"aggressive":   AggressivePolicy(),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Validate())
		})
	}
}

func TestBudgetsValidate(t *testing.T) {
	tests := []struct {
		name    string
		b       Budgets
		wantErr error
	}{
		{"valid", Budgets{MaxChangesPerCycle: 1}, nil},
		{"zero max changes", Budgets{MaxChangesPerCycle: 0}, ErrMaxChangesTooLow},
		{"negative cost budget", Budgets{MaxChangesPerCycle: 1, CostBudget: -1}, ErrNegativeBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.b.Validate(), tt.wantErr)
		})
	}
}

func TestSignificanceGateValidate(t *testing.T) {
	require.ErrorIs(t, SignificanceGate{MinSamples: 0, ZThreshold: 1}.Validate(), ErrInvalidMinSamples)
	require.ErrorIs(t, SignificanceGate{MinSamples: 1, ZThreshold: 0}.Validate(), ErrInvalidZThreshold)
	require.NoError(t, SignificanceGate{MinSamples: 1, ZThreshold: 1}.Validate())
}

func TestDriftPolicyValidate(t *testing.T) {
	valid := DefaultPolicy().Drift
	require.NoError(t, valid.Validate())

	bad := valid
	bad.RollbackLatencySpikeRatio = 1.0
	require.ErrorIs(t, bad.Validate(), ErrInvalidSpikeRatio)

	bad = valid
	bad.DriftThreshold = 0
	require.ErrorIs(t, bad.Validate(), ErrInvalidDriftThresh)

	bad = valid
	bad.CanaryWindow = 0
	require.ErrorIs(t, bad.Validate(), ErrNonPositiveWindow)
}
