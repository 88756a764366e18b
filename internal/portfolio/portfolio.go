// Package portfolio implements the Portfolio Optimizer (C8, spec.md
// §4.8): the deterministic greedy algorithm that turns per-knob
// measured effect statistics into a bounded, budgeted set of tuning
// actions for one cycle.
package portfolio

import (
	"math"
	"sort"

	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/collections"
	"github.com/yggrune/governor/internal/config"
	"github.com/yggrune/governor/internal/effects"
	"github.com/yggrune/governor/internal/safemath"
	"github.com/yggrune/governor/internal/stabilization"
	"github.com/yggrune/governor/internal/telemetry"
	"github.com/yggrune/governor/internal/tuning"
)

// ImpactVector is the per-candidate projected delta in each objective
// dimension, relative to the module's current metric vector.
type ImpactVector struct {
	DeltaLatencyMs  float64
	DeltaCostUnits  float64
	DeltaErrorRate  float64
	DeltaThroughput float64
}

// Candidate is one enumerated (module, knob, value) tuning action before
// filtering and scoring.
type Candidate struct {
	Module     tuning.ModuleID
	Knob       tuning.KnobName
	Value      any
	ValueKey   string // canonical string form of Value, used for effect-store lookups
	Impact     ImpactVector
	ReasonTags []string
	Score      float64
	Stats      effects.RunningStats
}

// PromotedValue declares the PromotionPolicy's chosen value for a
// (module, knob), used for tie-break bias and promoted-default fill.
type PromotedValue struct {
	Module tuning.ModuleID
	Knob   tuning.KnobName
	Value  any
}

// PromotionPolicy is the minimal surface the optimizer consumes: the
// promoted value (if any) per (module, knob). The full policy and its
// influence reporting live in internal/promotion; the optimizer must
// never see that package's descriptive reports (testable property 8).
type PromotionPolicy struct {
	Promoted map[tuning.ModuleID]map[tuning.KnobName]PromotedValue
}

// PromotedValueFor looks up the promoted value for (module, knob).
func (p PromotionPolicy) PromotedValueFor(module tuning.ModuleID, knob tuning.KnobName) (PromotedValue, bool) {
	if p.Promoted == nil {
		return PromotedValue{}, false
	}
	byKnob, ok := p.Promoted[module]
	if !ok {
		return PromotedValue{}, false
	}
	v, ok := byKnob[knob]
	return v, ok
}

// ModuleRegistryEntry is one module's envelope, current metrics, and
// declared capabilities, as the orchestrator's registry snapshot would
// present it to the optimizer.
type ModuleRegistryEntry struct {
	Envelope     tuning.TuningEnvelope
	Capabilities collections.Set[string]
}

// CandidateSource supplies the set of candidate values a (module, knob)
// should be evaluated at: every value with a recorded effect under the
// given baseline signature. Optimize appends the promoted value itself
// when one exists. CandidateValues is the sole place domain code must
// plug in to tell the optimizer which values it has evidence for.
type CandidateSource interface {
	// CandidateValues returns the distinct proposed values this
	// (module, knob) has at least one recorded effect for, under
	// baselineSig.
	CandidateValues(module tuning.ModuleID, knob tuning.KnobName, baselineSig canon.Hash32) []any
}

// Result is the optimizer's output for one cycle.
type Result struct {
	SchemaVersion string
	PortfolioHash canon.Hash32
	SourceCycleID uint64
	Items         []tuning.TuningIR
	Counts        Counts
}

// Counts records per-cycle optimizer bookkeeping for the portfolio's
// notes.counts field.
type Counts struct {
	Enumerated          int
	FilteredOut         int
	SignificanceRejected int
	Selected            int
	PromotionBiased     int
	PromotedDefaults    int
	BudgetRejected      int
}

// Optimize runs the eight-step deterministic greedy algorithm from
// spec.md §4.8 and returns the selected TuningIRs for sourceCycleID.
func Optimize(
	registry map[tuning.ModuleID]ModuleRegistryEntry,
	effectsStore *effects.Store,
	stabilizationStore *stabilization.Store,
	promotionPolicy PromotionPolicy,
	objective config.ObjectiveWeights,
	budgets config.Budgets,
	significance config.SignificanceGate,
	epsilon float64,
	sourceCycleID uint64,
	baselineSig canon.Hash32,
	candidateSource CandidateSource,
	metrics *telemetry.Metrics,
) Result {
	if metrics == nil {
		metrics = telemetry.NewNoOpMetrics()
	}

	var counts Counts
	var candidates []Candidate

	// Step 1: enumerate candidates.
	moduleIDs := sortedModuleIDs(registry)
	for _, moduleID := range moduleIDs {
		entry := registry[moduleID]
		knobNames := sortedKnobNames(entry.Envelope.Knobs)
		for _, knobName := range knobNames {
			values := candidateSource.CandidateValues(moduleID, knobName, baselineSig)
			promoted, hasPromoted := promotionPolicy.PromotedValueFor(moduleID, knobName)
			if hasPromoted {
				values = appendIfAbsent(values, promoted.Value)
			}
			for _, v := range values {
				counts.Enumerated++
				key := effects.Key{
					Module: string(moduleID), Knob: string(knobName),
					Value: canonValueKey(v), BaselineSignature: baselineSig,
				}
				candidates = append(candidates, Candidate{
					Module: moduleID, Knob: knobName, Value: v, ValueKey: key.Value,
					Stats: effectsStore.Get(key),
				})
			}
		}
	}
	metrics.CandidatesEnumerated.Add(float64(counts.Enumerated))

	// Step 2: filter on capability present, hot_apply, stabilization eligible.
	filtered := candidates[:0]
	for _, c := range candidates {
		spec := registry[c.Module].Envelope.Knobs[c.Knob]
		caps := registry[c.Module].Capabilities
		if spec.CapabilityRequired != "" && !caps.Contains(spec.CapabilityRequired) {
			counts.FilteredOut++
			continue
		}
		if !spec.HotApply {
			counts.FilteredOut++
			continue
		}
		if stabilizationStore != nil && !stabilizationStore.IsEligible(
			stabilization.ModuleID(c.Module), stabilization.KnobName(c.Knob), sourceCycleID, spec.StabilizationCycles) {
			counts.FilteredOut++
			continue
		}
		filtered = append(filtered, c)
	}
	candidates = filtered

	// Step 3: significance gate, except for the promoted-default fill
	// candidates (handled separately in step 6). A candidate with zero
	// recorded samples (n==0) is never z-tested: it joins the
	// promoted-default pool if it is the promoted value, and is otherwise
	// counted as significance-rejected.
	var significant []Candidate
	var promotedDefaultPool []Candidate
	for _, c := range candidates {
		promoted, hasPromoted := promotionPolicy.PromotedValueFor(c.Module, c.Knob)
		isPromotedValue := hasPromoted && canonValueKey(promoted.Value) == c.ValueKey

		if c.Stats.N == 0 {
			if isPromotedValue {
				promotedDefaultPool = append(promotedDefaultPool, c)
			} else {
				counts.SignificanceRejected++
			}
			continue
		}
		if c.Stats.N < significance.MinSamples {
			if isPromotedValue {
				promotedDefaultPool = append(promotedDefaultPool, c)
			} else {
				counts.SignificanceRejected++
			}
			continue
		}
		stderr := c.Stats.Stderr()
		if stderr > 0 && math.Abs(c.Stats.Mean)/stderr < significance.ZThreshold {
			counts.SignificanceRejected++
			continue
		}
		significant = append(significant, c)
	}
	metrics.SignificanceRejected.Add(float64(counts.SignificanceRejected))

	// Step 4: score.
	for i := range significant {
		significant[i].Impact = projectImpact(significant[i].Stats)
		significant[i].Score = score(significant[i].Impact, objective)
	}

	// Step 5: promotion bias — tie-break within epsilon favors the
	// promoted value.
	applyPromotionBias(significant, promotionPolicy, epsilon, &counts)

	// Step 6: promoted defaults, scored neutral, drawn only from knobs
	// with no significant measured effect.
	selectedKnobs := collections.NewSet[tuning.KnobName](0)
	for _, c := range significant {
		selectedKnobs.Add(c.Knob)
	}
	var promotedDefaults []Candidate
	for _, c := range promotedDefaultPool {
		if hasSignificantCandidateFor(significant, c.Module, c.Knob) {
			continue
		}
		c.Score = 0
		c.ReasonTags = append(c.ReasonTags, "promoted_default_applied")
		promotedDefaults = append(promotedDefaults, c)
	}
	counts.PromotedDefaults = len(promotedDefaults)

	pool := append(significant, promotedDefaults...)

	// Step 7: budget-greedy selection.
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Score != pool[j].Score {
			return pool[i].Score > pool[j].Score
		}
		if pool[i].Module != pool[j].Module {
			return pool[i].Module < pool[j].Module
		}
		return pool[i].Knob < pool[j].Knob
	})

	selected := selectWithinBudget(pool, budgets, &counts)
	metrics.CandidatesSelected.Add(float64(len(selected)))
	metrics.BudgetRejected.Add(float64(counts.BudgetRejected))

	// Step 8: produce PortfolioTuningIR-equivalent Result.
	items := make([]tuning.TuningIR, 0, len(selected))
	for _, c := range selected {
		ir := tuning.TuningIR{
			Target:      tuning.ModuleID(c.Module),
			Assignments: map[tuning.KnobName]any{c.Knob: c.Value},
			Mode:        tuning.ModeAppliedTune,
			Provenance: tuning.Provenance{
				SourceCycleID: sourceCycleID,
				ReasonTags:    c.ReasonTags,
			},
		}
		locked, err := tuning.Lock(ir)
		if err == nil {
			ir = locked
		}
		items = append(items, ir)
	}
	counts.Selected = len(items)

	result := Result{
		SchemaVersion: "v1",
		SourceCycleID: sourceCycleID,
		Items:         items,
		Counts:        counts,
	}
	if h, err := canon.Hash(resultCanonical(result)); err == nil {
		result.PortfolioHash = h
	}
	return result
}

func resultCanonical(r Result) map[string]any {
	items := make([]any, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, it.ToCanonical())
	}
	return map[string]any{
		"schema_version":  r.SchemaVersion,
		"source_cycle_id": int64(r.SourceCycleID),
		"items":           items,
	}
}

func projectImpact(stats effects.RunningStats) ImpactVector {
	// The effects store records latency deltas in milliseconds as its
	// primary observed signal (spec.md S1); other objective dimensions
	// are populated by richer CandidateSource implementations that
	// track per-dimension Welford series and feed ImpactVector directly.
	return ImpactVector{DeltaLatencyMs: stats.Mean}
}

func score(impact ImpactVector, w config.ObjectiveWeights) float64 {
	return -(w.Latency*impact.DeltaLatencyMs + w.Cost*impact.DeltaCostUnits + w.Error*impact.DeltaErrorRate) + w.Throughput*impact.DeltaThroughput
}

func applyPromotionBias(candidates []Candidate, policy PromotionPolicy, epsilon float64, counts *Counts) {
	byKey := make(map[string][]int)
	for i, c := range candidates {
		k := string(c.Module) + "\x00" + string(c.Knob)
		byKey[k] = append(byKey[k], i)
	}
	for _, idxs := range byKey {
		if len(idxs) < 2 {
			continue
		}
		best := idxs[0]
		for _, i := range idxs[1:] {
			if candidates[i].Score > candidates[best].Score {
				best = i
			}
		}
		promoted, ok := policy.PromotedValueFor(candidates[best].Module, candidates[best].Knob)
		if !ok {
			continue
		}
		for _, i := range idxs {
			if i == best {
				continue
			}
			if math.Abs(candidates[i].Score-candidates[best].Score) <= epsilon && canonValueKey(promoted.Value) == candidates[i].ValueKey {
				candidates[i].ReasonTags = append(candidates[i].ReasonTags, "promotion_biased")
				candidates[i].Score = candidates[best].Score + 1e-12
				counts.PromotionBiased++
			}
		}
	}
}

func hasSignificantCandidateFor(significant []Candidate, module tuning.ModuleID, knob tuning.KnobName) bool {
	for _, c := range significant {
		if c.Module == module && c.Knob == knob {
			return true
		}
	}
	return false
}

// selectWithinBudget walks the score-sorted pool greedily, honoring the
// per-cycle and per-module change-count caps and the cost budget. The
// change counters are accumulated through safemath.Add64 rather than a
// plain int++ so a pathological pool (an optimizer bug enumerating far
// more candidates than any real deployment would) cannot wrap the
// counter silently instead of tripping the budget check; the cost
// spend itself stays a float64 accumulator since cost deltas are
// inherently continuous, not a counted quantity safemath's uint64
// overflow guard applies to.
func selectWithinBudget(pool []Candidate, budgets config.Budgets, counts *Counts) []Candidate {
	var selected []Candidate
	var spent float64
	var changesThisCycle uint64
	changesPerModule := map[tuning.ModuleID]uint64{}

	for _, c := range pool {
		if changesThisCycle >= uint64(budgets.MaxChangesPerCycle) {
			counts.BudgetRejected++
			continue
		}
		if budgets.MaxChangesPerModule > 0 && changesPerModule[c.Module] >= uint64(budgets.MaxChangesPerModule) {
			counts.BudgetRejected++
			continue
		}
		spendDelta := math.Max(0, c.Impact.DeltaCostUnits)
		if spent+spendDelta > budgets.CostBudget {
			counts.BudgetRejected++
			continue
		}
		nextCycle, errCycle := safemath.Add64(changesThisCycle, 1)
		nextModule, errModule := safemath.Add64(changesPerModule[c.Module], 1)
		if errCycle != nil || errModule != nil {
			counts.BudgetRejected++
			continue
		}
		selected = append(selected, c)
		spent += spendDelta
		changesThisCycle = nextCycle
		changesPerModule[c.Module] = nextModule
	}
	return selected
}

func sortedModuleIDs(registry map[tuning.ModuleID]ModuleRegistryEntry) []tuning.ModuleID {
	ids := make([]tuning.ModuleID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedKnobNames(knobs map[tuning.KnobName]tuning.KnobSpec) []tuning.KnobName {
	names := make([]tuning.KnobName, 0, len(knobs))
	for n := range knobs {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func appendIfAbsent(values []any, v any) []any {
	key := canonValueKey(v)
	for _, existing := range values {
		if canonValueKey(existing) == key {
			return values
		}
	}
	return append(values, v)
}

// canonValueKey renders a knob value into the stable string used as
// effects.Key.Value; delegated to the effects package so every writer and
// reader of the effects store (the optimizer's candidate lookups here, the
// canary engine's post-apply effect recording) agrees on the same encoding.
func canonValueKey(v any) string {
	return effects.ValueKey(v)
}
