package portfolio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/collections"
	"github.com/yggrune/governor/internal/config"
	"github.com/yggrune/governor/internal/effects"
	"github.com/yggrune/governor/internal/stabilization"
	"github.com/yggrune/governor/internal/tuning"
)

type fixedCandidateSource struct {
	values map[string][]any
}

func (f fixedCandidateSource) CandidateValues(module tuning.ModuleID, knob tuning.KnobName, _ canon.Hash32) []any {
	return f.values[string(module)+"/"+string(knob)]
}

func routingEnvelope() ModuleRegistryEntry {
	return ModuleRegistryEntry{
		Envelope: tuning.TuningEnvelope{
			Module: "routing",
			Knobs: map[tuning.KnobName]tuning.KnobSpec{
				"batch": {Kind: tuning.KindInt, Bounds: tuning.Bounds{Min: 1, Max: 8}, HotApply: true, StabilizationCycles: 5, CapabilityRequired: "exec"},
			},
		},
		Capabilities: collections.Of("exec"),
	}
}

// TestOptimizeSelectsSignificantCandidate covers S1 from spec.md §9: a
// candidate with 30 samples at mean=-12ms, stderr=1.0 clears a
// z_threshold of 3.0 and is selected.
func TestOptimizeSelectsSignificantCandidate(t *testing.T) {
	effectsPath := filepath.Join(t.TempDir(), "effects_store.json")
	effectsStore, err := effects.Open(effectsPath)
	require.NoError(t, err)

	key := effects.Key{Module: "routing", Knob: "batch", Value: canonValueKey(int64(4))}
	for i := 0; i < 30; i++ {
		// 30 samples centered on -12 at ±sqrt(29), giving sample variance
		// 30 and stderr sqrt(30/30) = 1.0.
		x := -12.0
		if i%2 == 0 {
			x -= 5.3852
		} else {
			x += 5.3852
		}
		_, err := effectsStore.Record(key, x)
		require.NoError(t, err)
	}

	stabilizationStore, err := stabilization.Open(filepath.Join(t.TempDir(), "stabilization_state.json"))
	require.NoError(t, err)

	registry := map[tuning.ModuleID]ModuleRegistryEntry{"routing": routingEnvelope()}
	source := fixedCandidateSource{values: map[string][]any{"routing/batch": {int64(4)}}}

	result := Optimize(
		registry, effectsStore, stabilizationStore, PromotionPolicy{},
		config.ObjectiveWeights{Latency: 1.0, Cost: 1.0, Error: 2.0, Throughput: 1.0},
		config.Budgets{MaxChangesPerCycle: 5, MaxChangesPerModule: 2, CostBudget: 100},
		config.SignificanceGate{MinSamples: 20, ZThreshold: 3.0},
		1e-6, 1, canon.Hash32{}, source, nil,
	)

	require.Len(t, result.Items, 1)
	require.Equal(t, tuning.ModuleID("routing"), result.Items[0].Target)
	require.Equal(t, int64(4), result.Items[0].Assignments["batch"])
	require.Equal(t, 1, result.Counts.Selected)
	require.False(t, result.PortfolioHash.IsZero())
}

func TestOptimizeRejectsBelowMinSamples(t *testing.T) {
	effectsPath := filepath.Join(t.TempDir(), "effects_store.json")
	effectsStore, err := effects.Open(effectsPath)
	require.NoError(t, err)

	key := effects.Key{Module: "routing", Knob: "batch", Value: canonValueKey(int64(4))}
	for i := 0; i < 5; i++ {
		_, err := effectsStore.Record(key, -12.0)
		require.NoError(t, err)
	}

	registry := map[tuning.ModuleID]ModuleRegistryEntry{"routing": routingEnvelope()}
	source := fixedCandidateSource{values: map[string][]any{"routing/batch": {int64(4)}}}

	result := Optimize(
		registry, effectsStore, nil, PromotionPolicy{},
		config.ObjectiveWeights{Latency: 1.0},
		config.Budgets{MaxChangesPerCycle: 5, CostBudget: 100},
		config.SignificanceGate{MinSamples: 20, ZThreshold: 3.0},
		1e-6, 1, canon.Hash32{}, source, nil,
	)
	require.Empty(t, result.Items)
	require.Equal(t, 1, result.Counts.SignificanceRejected)
}

func TestOptimizeRespectsMaxChangesPerCycle(t *testing.T) {
	effectsPath := filepath.Join(t.TempDir(), "effects_store.json")
	effectsStore, err := effects.Open(effectsPath)
	require.NoError(t, err)

	registry := map[tuning.ModuleID]ModuleRegistryEntry{
		"routing": routingEnvelope(),
		"caching": {
			Envelope: tuning.TuningEnvelope{
				Module: "caching",
				Knobs: map[tuning.KnobName]tuning.KnobSpec{
					"ttl": {Kind: tuning.KindInt, Bounds: tuning.Bounds{Min: 1, Max: 100}, HotApply: true, CapabilityRequired: "exec"},
				},
			},
			Capabilities: collections.Of("exec"),
		},
	}

	for _, mk := range []struct {
		module, knob string
		value        int64
	}{{"routing", "batch", 4}, {"caching", "ttl", 10}} {
		key := effects.Key{Module: mk.module, Knob: mk.knob, Value: canonValueKey(mk.value)}
		for i := 0; i < 25; i++ {
			x := -20.0
			if i%2 == 0 {
				x -= 1.0
			}
			_, err := effectsStore.Record(key, x)
			require.NoError(t, err)
		}
	}

	source := fixedCandidateSource{values: map[string][]any{
		"routing/batch": {int64(4)},
		"caching/ttl":   {int64(10)},
	}}

	result := Optimize(
		registry, effectsStore, nil, PromotionPolicy{},
		config.ObjectiveWeights{Latency: 1.0},
		config.Budgets{MaxChangesPerCycle: 1, CostBudget: 100},
		config.SignificanceGate{MinSamples: 10, ZThreshold: 1.0},
		1e-6, 1, canon.Hash32{}, source, nil,
	)
	require.Len(t, result.Items, 1)
	require.Equal(t, 1, result.Counts.BudgetRejected)
}
