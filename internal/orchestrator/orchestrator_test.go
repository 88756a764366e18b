package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yggrune/governor/internal/canary"
	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/capability"
	"github.com/yggrune/governor/internal/collections"
	"github.com/yggrune/governor/internal/config"
	"github.com/yggrune/governor/internal/effects"
	"github.com/yggrune/governor/internal/gerr"
	"github.com/yggrune/governor/internal/ledger"
	"github.com/yggrune/governor/internal/overlay"
	"github.com/yggrune/governor/internal/portfolio"
	"github.com/yggrune/governor/internal/stabilization"
	"github.com/yggrune/governor/internal/tuning"
)

type fakeWriter struct {
	values map[string]any
}

func (w *fakeWriter) key(m tuning.ModuleID, k tuning.KnobName) string { return string(m) + "/" + string(k) }
func (w *fakeWriter) Get(m tuning.ModuleID, k tuning.KnobName) (any, error) {
	return w.values[w.key(m, k)], nil
}
func (w *fakeWriter) Set(m tuning.ModuleID, k tuning.KnobName, v any) error {
	w.values[w.key(m, k)] = v
	return nil
}

type fixedCandidateSource struct {
	values map[string][]any
}

func (f fixedCandidateSource) CandidateValues(module tuning.ModuleID, knob tuning.KnobName, _ canon.Hash32) []any {
	return f.values[string(module)+"/"+string(knob)]
}

func routingEnvelope() portfolio.ModuleRegistryEntry {
	return portfolio.ModuleRegistryEntry{
		Envelope: tuning.TuningEnvelope{
			Module: "routing",
			Knobs: map[tuning.KnobName]tuning.KnobSpec{
				"batch": {Kind: tuning.KindInt, Bounds: tuning.Bounds{Min: 1, Max: 8}, HotApply: true, StabilizationCycles: 5, CapabilityRequired: "exec"},
			},
		},
		Capabilities: collections.Of("exec"),
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeWriter) {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"), nil, nil)
	require.NoError(t, err)
	stab, err := stabilization.Open(filepath.Join(t.TempDir(), "stabilization_state.json"))
	require.NoError(t, err)
	eff, err := effects.Open(filepath.Join(t.TempDir(), "effects_store.json"))
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		x := -12.0
		if i%2 == 0 {
			x -= 1.0
		}
		_, err := eff.Record(effects.Key{Module: "routing", Knob: "batch", Value: canonValueKeyInt(4)}, x)
		require.NoError(t, err)
	}

	writer := &fakeWriter{values: map[string]any{"routing/batch": int64(2)}}
	engine := canary.NewEngine(writer, l, stab, eff, nil, nil)

	o := NewOrchestrator(l, stab, eff, engine, nil, nil)
	o.CandidateSource = fixedCandidateSource{values: map[string][]any{"routing/batch": {int64(4)}}}
	o.Objective = config.ObjectiveWeights{Latency: 1.0, Cost: 1.0, Error: 2.0, Throughput: 1.0}
	o.Budgets = config.Budgets{MaxChangesPerCycle: 5, MaxChangesPerModule: 2, CostBudget: 100}
	o.Significance = config.SignificanceGate{MinSamples: 20, ZThreshold: 1.0}
	o.Epsilon = 1e-6
	o.DriftPolicy = config.DriftPolicy{
		CanaryWindow: 1, DriftThreshold: 0.5,
		RollbackLatencySpikeRatio: 2.0, RollbackCostSpikeRatio: 2.0, RollbackErrorSpikeRatio: 2.0,
	}
	return o, writer
}

// canonValueKeyInt mirrors portfolio's canonical value-key encoding for
// an int64 candidate value, kept local to this test so it does not reach
// into portfolio's unexported helpers.
func canonValueKeyInt(v int64) string {
	b, err := canon.Bytes(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func snapshotFor(o *Orchestrator) Snapshot {
	return Snapshot{
		Registry:     map[tuning.ModuleID]portfolio.ModuleRegistryEntry{"routing": routingEnvelope()},
		Envelopes:    map[tuning.ModuleID]tuning.TuningEnvelope{"routing": routingEnvelope().Envelope},
		Capabilities: map[tuning.ModuleID]collections.Set[string]{"routing": collections.Of("exec")},
		Baseline:     canary.MetricsEnvelope{LatencyP50Ms: 10, CostUnits: 1, ErrorRate: 0.01},
	}
}

func TestRunCycleCommitsCleanCycle(t *testing.T) {
	o, writer := newTestOrchestrator(t)
	o.Observer = func(ctx context.Context) (canary.MetricsEnvelope, error) {
		return canary.MetricsEnvelope{LatencyP50Ms: 10.2, CostUnits: 1, ErrorRate: 0.01}, nil
	}

	result, err := o.RunCycle(context.Background(), 1, snapshotFor(o))
	require.NoError(t, err)
	require.Equal(t, StateIdle, result.FinalState)
	require.True(t, result.Outcome.Applied)
	require.Equal(t, int64(4), writer.values["routing/batch"])
}

func TestRunCycleHonorsCancelBeforeApply(t *testing.T) {
	o, writer := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.RunCycle(ctx, 1, snapshotFor(o))
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.Cancelled))
	require.True(t, result.Cancelled)
	require.Equal(t, int64(2), writer.values["routing/batch"], "cancelled-before-apply cycle must not write any knob")
}

func TestRunCycleRejectsModuleWithForbiddenOverlayCapability(t *testing.T) {
	o, writer := newTestOrchestrator(t)
	o.CapabilityRegistry = capability.NewDefaultRegistry()
	o.Overlays = map[tuning.ModuleID]overlay.Manifest{
		"routing": {
			Name:         "routing-overlay",
			Version:      "v1",
			Phases:       []capability.Phase{capability.PhaseOpen},
			Capabilities: []string{capability.CapExec},
		},
	}

	result, err := o.RunCycle(context.Background(), 1, snapshotFor(o))
	require.Error(t, err)
	require.True(t, gerr.Is(err, gerr.PolicyViolation))
	require.Equal(t, StateIdle, result.FinalState)
	require.Equal(t, int64(2), writer.values["routing/batch"], "rejected-at-validate cycle must not write any knob")
}

func TestRunCycleTreatsTimeoutAsDriftAndRollsBack(t *testing.T) {
	o, writer := newTestOrchestrator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done() // force ctx.Err() != nil before APPLY

	o.Observer = func(ctx context.Context) (canary.MetricsEnvelope, error) {
		return canary.MetricsEnvelope{LatencyP50Ms: 10.2, CostUnits: 1, ErrorRate: 0.01}, nil
	}

	result, err := o.RunCycle(ctx, 1, snapshotFor(o))
	require.NoError(t, err)
	require.True(t, result.Outcome.RolledBack)
	require.Contains(t, result.Outcome.Drift.Reasons, "cycle_timeout")
	require.Equal(t, int64(2), writer.values["routing/batch"], "timed-out cycle must roll back to the prior knob value")
}
