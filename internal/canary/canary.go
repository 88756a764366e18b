// Package canary implements the Canary Hot-Apply Engine (C9, spec.md
// §4.9): validate-all, atomic cycle-boundary apply with snapshot/rewind,
// canary observation, drift detection, and rollback.
package canary

import (
	"context"
	"math"
	"sort"

	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/collections"
	"github.com/yggrune/governor/internal/config"
	"github.com/yggrune/governor/internal/effects"
	"github.com/yggrune/governor/internal/gerr"
	"github.com/yggrune/governor/internal/ledger"
	"github.com/yggrune/governor/internal/stabilization"
	"github.com/yggrune/governor/internal/telemetry"
	"github.com/yggrune/governor/internal/tuning"
)

// MetricsEnvelope is a module's observed metric vector (spec.md §3).
type MetricsEnvelope struct {
	LatencyP50Ms float64
	LatencyP95Ms float64
	CostUnits    float64
	Throughput   float64
	ErrorRate    float64
	DriftScore   *float64
	EntropyProxy *float64
}

// DriftReport is the canary window's drift verdict.
type DriftReport struct {
	DriftScore float64
	Reasons    []string
}

// ComputeDrift compares observed metrics against the pre-apply baseline
// using the three configured spike ratios (spec.md §4.9 step 4).
// drift_score is the worst per-dimension normalized spike — 0 when
// observed equals baseline, 1.0 exactly when observed reaches the
// configured spike ratio — capped at 1.0, so DriftPolicy.DriftThreshold
// lives on the same (0,1] scale the config layer validates. Ratios are
// always >1 (config.DriftPolicy.Validate enforces it), so the
// (ratio-1) denominator never degenerates to zero.
func ComputeDrift(baseline, observed MetricsEnvelope, policy config.DriftPolicy) DriftReport {
	var reasons []string
	var worst float64

	check := func(obs, base, ratio float64, reason string) {
		if base <= 0 {
			if obs > 0 {
				reasons = append(reasons, reason)
				worst = math.Max(worst, 1.0)
			}
			return
		}
		actual := obs / base
		if normalized := (actual - 1) / (ratio - 1); normalized > worst {
			worst = normalized
		}
		if actual >= ratio {
			reasons = append(reasons, reason)
		}
	}

	check(observed.LatencyP50Ms, baseline.LatencyP50Ms, policy.RollbackLatencySpikeRatio, "rollback_latency_spike")
	check(observed.CostUnits, baseline.CostUnits, policy.RollbackCostSpikeRatio, "rollback_cost_spike")
	check(observed.ErrorRate, baseline.ErrorRate, policy.RollbackErrorSpikeRatio, "rollback_error_spike")

	return DriftReport{DriftScore: math.Min(1.0, worst), Reasons: reasons}
}

// KnobWriter is the live module state the canary engine mutates. It is
// the one piece of "actually applying a knob" that is consumed, not
// defined, by this package — production wiring points it at the overlay
// host bus's module registry.
type KnobWriter interface {
	Get(module tuning.ModuleID, knob tuning.KnobName) (any, error)
	Set(module tuning.ModuleID, knob tuning.KnobName, value any) error
}

// Observer samples the live metrics envelope after a canary window.
type Observer func(ctx context.Context) (MetricsEnvelope, error)

// assignment is one flattened (module, knob, value) triple from a
// TuningIR, the unit the apply/rollback walk operates on.
type assignment struct {
	Module tuning.ModuleID
	Knob   tuning.KnobName
	Value  any
}

// Engine drives one cycle's validate/apply/observe/commit-or-rollback
// sequence. There is no package singleton; the orchestrator constructs
// one per process and passes it explicitly.
type Engine struct {
	Writer             KnobWriter
	Ledger             *ledger.Ledger
	Stabilization      *stabilization.Store
	Effects            *effects.Store
	Metrics            *telemetry.Metrics
	Logger             telemetry.Logger
}

// NewEngine constructs an Engine. nil Metrics/Logger fall back to no-ops.
func NewEngine(writer KnobWriter, l *ledger.Ledger, stab *stabilization.Store, eff *effects.Store, metrics *telemetry.Metrics, logger telemetry.Logger) *Engine {
	if metrics == nil {
		metrics = telemetry.NewNoOpMetrics()
	}
	if logger == nil {
		logger = telemetry.NewNoOp()
	}
	return &Engine{Writer: writer, Ledger: l, Stabilization: stab, Effects: eff, Metrics: metrics, Logger: logger}
}

// Outcome reports what happened to a portfolio apply.
type Outcome struct {
	Applied    bool
	RolledBack bool
	Drift      DriftReport
}

// ApplyPortfolio runs the full C9 sequence for one cycle's selected
// items: validate-all, atomic apply, observe, drift-detect, and either
// commit (stabilization + effects update) or roll back (restore
// snapshot + cooldown entries).
func (e *Engine) ApplyPortfolio(
	ctx context.Context,
	items []tuning.TuningIR,
	envelopes map[tuning.ModuleID]tuning.TuningEnvelope,
	capabilities map[tuning.ModuleID]collections.Set[string],
	currentCycle uint64,
	baseline MetricsEnvelope,
	observe Observer,
	policy config.DriftPolicy,
	resolveBundle tuning.BundleResolver,
	baselineSig canon.Hash32,
	forcedReasons ...string,
) (Outcome, error) {
	// Step 1: validate-all.
	for _, ir := range items {
		env := envelopes[ir.Target]
		caps := capabilities[ir.Target]
		if err := tuning.Validate(ir, env, caps, e.Stabilization, currentCycle, resolveBundle); err != nil {
			_, _, ledgerErr := e.Ledger.Append(ledger.TuningIRRejected, map[string]any{
				"target": string(ir.Target), "reason": gerr.ReasonString(err), "source_cycle_id": int64(currentCycle),
			})
			if ledgerErr != nil {
				return Outcome{}, ledgerErr
			}
			return Outcome{}, err
		}
	}

	assignments := flatten(items)
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].Module != assignments[j].Module {
			return assignments[i].Module < assignments[j].Module
		}
		return assignments[i].Knob < assignments[j].Knob
	})

	// Step 2: atomic apply with snapshot/rewind.
	var applied []snapshotEntry
	for _, a := range assignments {
		prev, err := e.Writer.Get(a.Module, a.Knob)
		if err != nil {
			rewindSnapshots(e.Writer, applied)
			return Outcome{}, gerr.Wrap(gerr.LedgerAppendFailed, "reading prior knob value", err)
		}
		if err := e.Writer.Set(a.Module, a.Knob, a.Value); err != nil {
			rewindSnapshots(e.Writer, applied)
			return Outcome{}, gerr.Wrap(gerr.LedgerAppendFailed, "applying knob value", err)
		}
		applied = append(applied, snapshotEntry{assignment: a, prev: prev})
	}

	// Step 3: observe.
	observed := baseline
	if observe != nil {
		var err error
		observed, err = observe(ctx)
		if err != nil {
			rewindSnapshots(e.Writer, applied)
			return Outcome{}, gerr.Wrap(gerr.DriftExceeded, "observing canary window", err)
		}
	}

	// Step 4: drift detection. forcedReasons (e.g. a state timeout) force
	// a rollback regardless of the computed drift score, per spec.md
	// §4.11's "timeout at any state → treat as drift" rule.
	drift := ComputeDrift(baseline, observed, policy)
	if len(forcedReasons) > 0 {
		drift.Reasons = append(drift.Reasons, forcedReasons...)
		drift.DriftScore = math.Max(drift.DriftScore, policy.DriftThreshold)
	}
	e.Metrics.DriftScore.Set(drift.DriftScore)
	if drift.DriftScore >= policy.DriftThreshold {
		rewindSnapshots(e.Writer, applied)
		if _, _, err := e.Ledger.Append(ledger.TuningIRRolledBack, map[string]any{
			"reasons": toAnySlice(drift.Reasons), "drift_score": drift.DriftScore, "source_cycle_id": int64(currentCycle),
		}); err != nil {
			return Outcome{}, err
		}
		for _, a := range applied {
			if _, _, err := e.Ledger.Append(ledger.CooldownEntered, map[string]any{
				"module": string(a.Module), "knob": string(a.Knob), "cycle": int64(currentCycle),
			}); err != nil {
				return Outcome{}, err
			}
		}
		e.Metrics.CyclesRolledBack.Inc()
		return Outcome{RolledBack: true, Drift: drift}, nil
	}

	// Step 5: commit.
	for _, ir := range items {
		if _, _, err := e.Ledger.Append(ledger.TuningIRApplied, map[string]any{
			"target": string(ir.Target), "assignments": canonAssignments(ir.Assignments), "source_cycle_id": int64(currentCycle),
		}); err != nil {
			return Outcome{}, err
		}
	}
	for _, a := range applied {
		if e.Stabilization != nil {
			if err := e.Stabilization.RecordChange(stabilization.ModuleID(a.Module), stabilization.KnobName(a.Knob), currentCycle); err != nil {
				return Outcome{}, err
			}
		}
		if e.Effects != nil {
			key := effects.Key{Module: string(a.Module), Knob: string(a.Knob), Value: effects.ValueKey(a.Value), BaselineSignature: baselineSig}
			sample := observed.LatencyP50Ms - baseline.LatencyP50Ms
			if _, err := e.Effects.Record(key, sample); err != nil {
				return Outcome{}, err
			}
			if _, _, err := e.Ledger.Append(ledger.EffectRecorded, map[string]any{
				"module": string(a.Module), "knob": string(a.Knob), "sample": sample,
			}); err != nil {
				return Outcome{}, err
			}
		}
	}
	e.Metrics.CyclesTotal.Inc()
	return Outcome{Applied: true, Drift: drift}, nil
}

func flatten(items []tuning.TuningIR) []assignment {
	var out []assignment
	for _, ir := range items {
		for k, v := range ir.Assignments {
			out = append(out, assignment{Module: ir.Target, Knob: k, Value: v})
		}
	}
	return out
}

// snapshotEntry pairs an applied assignment with the value it replaced,
// so a failed apply or a rollback can restore prior state.
type snapshotEntry struct {
	assignment
	prev any
}

// rewindSnapshots restores every applied knob to its pre-apply value, in
// reverse application order, per spec.md §5's ordering guarantee.
func rewindSnapshots(w KnobWriter, applied []snapshotEntry) {
	for i := len(applied) - 1; i >= 0; i-- {
		_ = w.Set(applied[i].Module, applied[i].Knob, applied[i].prev)
	}
}

func canonAssignments(m map[tuning.KnobName]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func toAnySlice(s []string) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	return out
}
