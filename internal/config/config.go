// Package config holds the governor's tunable policy parameters:
// budgets, the significance gate, objective weights, and drift-rollback
// thresholds. Grounded on config/config.go's Parameters struct plus
// DefaultParams/MainnetParams/TestnetParams preset functions in the
// teacher; repurposed here for the portfolio optimizer and canary engine
// instead of consensus sampling (k/alpha/beta).
package config

import (
	"errors"
	"time"
)

var (
	ErrMaxChangesTooLow   = errors.New("config: max_changes_per_cycle must be >= 1")
	ErrNegativeBudget     = errors.New("config: cost/latency budgets must be >= 0")
	ErrInvalidMinSamples  = errors.New("config: min_samples must be >= 1")
	ErrInvalidZThreshold  = errors.New("config: z_threshold must be > 0")
	ErrNegativeWeight     = errors.New("config: objective weights must be >= 0")
	ErrInvalidSpikeRatio  = errors.New("config: spike ratios must be > 1.0")
	ErrInvalidDriftThresh = errors.New("config: drift threshold must be in (0,1]")
	ErrNonPositiveWindow  = errors.New("config: canary window must be > 0")
)

// Budgets bounds what the portfolio optimizer may spend in a single
// cycle (spec.md §4.8 step 7).
type Budgets struct {
	MaxChangesPerCycle int
	MaxChangesPerModule int
	CostBudget          float64
	MaxLatencyDeltaMs   float64
}

// Validate checks Budgets invariants.
func (b Budgets) Validate() error {
	if b.MaxChangesPerCycle < 1 {
		return ErrMaxChangesTooLow
	}
	if b.CostBudget < 0 || b.MaxLatencyDeltaMs < 0 {
		return ErrNegativeBudget
	}
	return nil
}

// SignificanceGate gates candidates on sample size and z-score
// (spec.md §4.8 step 3, §8 invariant 5).
type SignificanceGate struct {
	MinSamples  uint64
	ZThreshold  float64
}

// Validate checks SignificanceGate invariants.
func (g SignificanceGate) Validate() error {
	if g.MinSamples < 1 {
		return ErrInvalidMinSamples
	}
	if g.ZThreshold <= 0 {
		return ErrInvalidZThreshold
	}
	return nil
}

// ObjectiveWeights scores candidates (spec.md §4.8 step 4).
type ObjectiveWeights struct {
	Latency    float64
	Cost       float64
	Error      float64
	Throughput float64
}

// Validate checks ObjectiveWeights invariants.
func (w ObjectiveWeights) Validate() error {
	if w.Latency < 0 || w.Cost < 0 || w.Error < 0 || w.Throughput < 0 {
		return ErrNegativeWeight
	}
	return nil
}

// DriftPolicy configures the canary engine's rollback thresholds
// (spec.md §4.9 step 4).
type DriftPolicy struct {
	CanaryWindow            time.Duration
	DriftThreshold          float64
	RollbackLatencySpikeRatio float64
	RollbackCostSpikeRatio    float64
	RollbackErrorSpikeRatio   float64
}

// Validate checks DriftPolicy invariants.
func (d DriftPolicy) Validate() error {
	if d.CanaryWindow <= 0 {
		return ErrNonPositiveWindow
	}
	if d.DriftThreshold <= 0 || d.DriftThreshold > 1 {
		return ErrInvalidDriftThresh
	}
	for _, r := range []float64{d.RollbackLatencySpikeRatio, d.RollbackCostSpikeRatio, d.RollbackErrorSpikeRatio} {
		if r <= 1.0 {
			return ErrInvalidSpikeRatio
		}
	}
	return nil
}

// Policy bundles everything the orchestrator needs for one cycle.
type Policy struct {
	Budgets          Budgets
	Significance     SignificanceGate
	Objective        ObjectiveWeights
	Drift            DriftPolicy
	PromotionEpsilon float64
}

// Validate validates every sub-policy.
func (p Policy) Validate() error {
	if err := p.Budgets.Validate(); err != nil {
		return err
	}
	if err := p.Significance.Validate(); err != nil {
		return err
	}
	if err := p.Objective.Validate(); err != nil {
		return err
	}
	if err := p.Drift.Validate(); err != nil {
		return err
	}
	return nil
}

// DefaultPolicy returns a moderate, broadly-applicable policy.
func DefaultPolicy() Policy {
	return Policy{
		Budgets: Budgets{
			MaxChangesPerCycle:  5,
			MaxChangesPerModule: 2,
			CostBudget:          100.0,
			MaxLatencyDeltaMs:   50.0,
		},
		Significance: SignificanceGate{
			MinSamples: 20,
			ZThreshold: 2.0,
		},
		Objective: ObjectiveWeights{
			Latency:    1.0,
			Cost:       1.0,
			Error:      2.0,
			Throughput: 1.0,
		},
		Drift: DriftPolicy{
			CanaryWindow:              30 * time.Second,
			DriftThreshold:            0.5,
			RollbackLatencySpikeRatio: 2.0,
			RollbackCostSpikeRatio:    2.0,
			RollbackErrorSpikeRatio:   3.0,
		},
		PromotionEpsilon: 1e-6,
	}
}

// ConservativePolicy tightens the significance gate and shrinks the
// per-cycle budget, for modules with a low tolerance for regressions.
func ConservativePolicy() Policy {
	p := DefaultPolicy()
	p.Budgets.MaxChangesPerCycle = 2
	p.Budgets.MaxChangesPerModule = 1
	p.Significance.MinSamples = 50
	p.Significance.ZThreshold = 3.0
	p.Drift.DriftThreshold = 0.3
	return p
}

// AggressivePolicy widens the budget and loosens the significance gate,
// for high-traffic modules where effect estimates converge quickly.
func AggressivePolicy() Policy {
	p := DefaultPolicy()
	p.Budgets.MaxChangesPerCycle = 10
	p.Budgets.MaxChangesPerModule = 4
	p.Significance.MinSamples = 10
	p.Significance.ZThreshold = 1.5
	p.Drift.DriftThreshold = 0.7
	return p
}
