// Package orchestrator implements the Cycle Orchestrator (C11, spec.md
// §4.11): the state machine that drives one tuning cycle end-to-end,
// wiring together the portfolio optimizer, validator, canary engine, and
// promotion influence reporter.
package orchestrator

import (
	"context"

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
	"github.com/yggrune/governor/internal/promotion"
	"github.com/yggrune/governor/internal/stabilization"
	"github.com/yggrune/governor/internal/telemetry"
	"github.com/yggrune/governor/internal/tuning"
)

// State is a step in the cycle state machine.
type State string

const (
	StateIdle              State = "IDLE"
	StateCollect           State = "COLLECT"
	StatePlan              State = "PLAN"
	StateValidate          State = "VALIDATE"
	StateApply             State = "APPLY"
	StateObserve           State = "OBSERVE"
	StateCommitOrRollback  State = "COMMIT_OR_ROLLBACK"
	StateReport            State = "REPORT"
)

// Snapshot is the per-cycle input the orchestrator collects before
// planning: the module registry, the current metrics baseline per
// module, and the promotion policy in force.
type Snapshot struct {
	Registry        map[tuning.ModuleID]portfolio.ModuleRegistryEntry
	Envelopes       map[tuning.ModuleID]tuning.TuningEnvelope
	Capabilities    map[tuning.ModuleID]collections.Set[string]
	Baseline        canary.MetricsEnvelope
	PromotionPolicy portfolio.PromotionPolicy
	BaselineSig     canon.Hash32
}

// Result is the outcome of one driven cycle.
type Result struct {
	FinalState State
	Portfolio  portfolio.Result
	Outcome    canary.Outcome
	Report     promotion.Report
	Cancelled  bool
}

// Orchestrator drives one cycle at a time. It is not safe for concurrent
// use from multiple goroutines — spec.md §5 makes the cycle orchestrator
// single-threaded by design.
type Orchestrator struct {
	Ledger        *ledger.Ledger
	Stabilization *stabilization.Store
	Effects       *effects.Store
	Canary        *canary.Engine
	CandidateSource portfolio.CandidateSource
	Observer      canary.Observer
	BundleResolver tuning.BundleResolver

	// CapabilityRegistry and Overlays gate a module's planned change on
	// its declared overlay manifest, if any: a module with a registered
	// manifest whose capabilities are forbidden for the current phase is
	// rejected at VALIDATE rather than reaching APPLY. A module absent
	// from Overlays carries no overlay and is never gated.
	CapabilityRegistry *capability.Registry
	Overlays           map[tuning.ModuleID]overlay.Manifest

	Objective    config.ObjectiveWeights
	Budgets      config.Budgets
	Significance config.SignificanceGate
	Epsilon      float64
	DriftPolicy  config.DriftPolicy

	Metrics *telemetry.Metrics
	Logger  telemetry.Logger

	state State
}

// NewOrchestrator constructs an Orchestrator. nil Metrics/Logger fall
// back to no-ops.
func NewOrchestrator(l *ledger.Ledger, stab *stabilization.Store, eff *effects.Store, canaryEngine *canary.Engine, metrics *telemetry.Metrics, logger telemetry.Logger) *Orchestrator {
	if metrics == nil {
		metrics = telemetry.NewNoOpMetrics()
	}
	if logger == nil {
		logger = telemetry.NewNoOp()
	}
	return &Orchestrator{Ledger: l, Stabilization: stab, Effects: eff, Canary: canaryEngine, Metrics: metrics, Logger: logger, state: StateIdle}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State { return o.state }

// RunCycle drives IDLE→COLLECT→PLAN→VALIDATE→APPLY→OBSERVE→
// COMMIT_OR_ROLLBACK→REPORT→IDLE for one cycle. A ctx cancellation
// observed at or before VALIDATE aborts the cycle with a
// tuning_ir_rejected(reason=cancelled) ledger entry and returns
// Result{Cancelled:true}; a cancellation observed at or after APPLY is
// not honored — the cycle still runs OBSERVE and COMMIT_OR_ROLLBACK to
// completion, since only the drift detector may roll back an applied
// bundle. A context deadline that has expired by the time APPLY starts
// is treated as drift and rolls back with reason cycle_timeout. The
// deadline is checked only at that point: the canary observation runs
// under a background context, so a deadline expiring after APPLY begins
// does not force a rollback.
func (o *Orchestrator) RunCycle(ctx context.Context, sourceCycleID uint64, snapshot Snapshot) (Result, error) {
	o.state = StateCollect
	// COLLECT: snapshot is already assembled by the caller; nothing to
	// do here beyond the state transition, which exists so REPORT/metrics
	// can distinguish "never started" from "collected but planning
	// failed".

	if cancelled(ctx) {
		return o.rejectCancelled(sourceCycleID)
	}

	o.state = StatePlan
	result := portfolio.Optimize(
		snapshot.Registry, o.Effects, o.Stabilization, snapshot.PromotionPolicy,
		o.Objective, o.Budgets, o.Significance, o.Epsilon, sourceCycleID,
		snapshot.BaselineSig, o.CandidateSource, o.Metrics,
	)

	if cancelled(ctx) {
		return o.rejectCancelled(sourceCycleID)
	}

	o.state = StateValidate
	// Validation happens inside ApplyPortfolio's step 1 (validate-all);
	// a failure there is reported as tuning_ir_rejected and the state
	// machine returns without reaching APPLY. Before that, any module in
	// this cycle's plan that carries a registered overlay manifest is
	// gated: a manifest declaring a capability forbidden for its phase
	// never reaches APPLY.
	if err := o.validateOverlays(result); err != nil {
		return o.rejectOverlay(sourceCycleID, err)
	}

	if cancelled(ctx) {
		return o.rejectCancelled(sourceCycleID)
	}

	o.state = StateApply
	// From here a context cancellation is no longer honored: only the
	// canary engine's own drift detector may roll back.
	var forcedReasons []string
	if ctxTimedOut(ctx) {
		forcedReasons = append(forcedReasons, "cycle_timeout")
	}

	outcome, err := o.Canary.ApplyPortfolio(
		context.Background(), result.Items, snapshot.Envelopes, snapshot.Capabilities,
		sourceCycleID, snapshot.Baseline, o.Observer, o.DriftPolicy, o.BundleResolver,
		snapshot.BaselineSig, forcedReasons...,
	)
	o.state = StateObserve
	if err != nil {
		o.state = StateIdle
		return Result{FinalState: StateIdle, Portfolio: result}, err
	}
	o.state = StateCommitOrRollback

	o.state = StateReport
	report := promotion.Summarize(result, snapshot.PromotionPolicy, o.Ledger.Iter(0))
	if _, err := promotion.Append(o.Ledger, report); err != nil {
		o.state = StateIdle
		return Result{FinalState: StateIdle, Portfolio: result, Outcome: outcome, Report: report}, err
	}

	o.state = StateIdle
	return Result{FinalState: StateIdle, Portfolio: result, Outcome: outcome, Report: report}, nil
}

// validateOverlays checks every planned item's target module against
// o.Overlays/o.CapabilityRegistry, if both are configured. A module
// absent from o.Overlays carries no overlay and is skipped.
func (o *Orchestrator) validateOverlays(result portfolio.Result) error {
	if o.CapabilityRegistry == nil || len(o.Overlays) == 0 {
		return nil
	}
	for _, item := range result.Items {
		manifest, ok := o.Overlays[item.Target]
		if !ok {
			continue
		}
		if err := manifest.Validate(o.CapabilityRegistry); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) rejectOverlay(sourceCycleID uint64, cause error) (Result, error) {
	o.state = StateIdle
	reason := gerr.ReasonString(cause)
	if _, _, err := o.Ledger.Append(ledger.TuningIRRejected, map[string]any{
		"reason": reason, "source_cycle_id": int64(sourceCycleID),
	}); err != nil {
		return Result{FinalState: StateIdle}, err
	}
	return Result{FinalState: StateIdle}, cause
}

func (o *Orchestrator) rejectCancelled(sourceCycleID uint64) (Result, error) {
	o.state = StateIdle
	if _, _, err := o.Ledger.Append(ledger.TuningIRRejected, map[string]any{
		"reason": "cancelled", "source_cycle_id": int64(sourceCycleID),
	}); err != nil {
		return Result{FinalState: StateIdle, Cancelled: true}, err
	}
	return Result{FinalState: StateIdle, Cancelled: true}, gerr.New(gerr.Cancelled, "cycle cancelled before apply")
}

// cancelled reports an explicit cancel signal, distinct from a deadline
// expiring — spec.md §4.11 treats the two differently: a cancel aborts
// the cycle before APPLY, a timeout is treated as drift and rolls back.
func cancelled(ctx context.Context) bool {
	return ctx.Err() == context.Canceled
}

func ctxTimedOut(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}
