// Package promotion implements the Promotion Policy + Influence Reporter
// (C10, spec.md §4.10): per-cycle descriptive statistics about how often
// the portfolio optimizer's promotion bias fired, and how rollback rates
// differ between promoted and unpromoted selections.
//
// The report is shadow-only by construction: Summarize consumes
// portfolio.Result and ledger history, never the reverse, and nothing in
// this package exposes a type portfolio.Optimize could import without an
// import cycle. That asymmetry is the architectural barrier spec.md §4.10
// and testable property 8 require — see DESIGN.md.
package promotion

import (
	"github.com/yggrune/governor/internal/ledger"
	"github.com/yggrune/governor/internal/portfolio"
	"github.com/yggrune/governor/internal/tuning"
)

// PromotionLift is a descriptive, not causal, comparison of promoted vs.
// unpromoted knob outcomes.
type PromotionLift struct {
	MeanPromoted   float64
	MeanUnpromoted float64
	Delta          float64
	NPromoted      uint64
	NUnpromoted    uint64
}

// Report is the per-cycle influence summary appended to the ledger as
// promotion_influence_reported.
type Report struct {
	CandidatesTotal       int
	PromotionBiased       int
	SelectedWithPromotion int
	DormantPromotions     int
	RollbackRatePromoted  float64
	RollbackRateUnpromoted float64
	Lift                  PromotionLift
}

func (r Report) toPayload() map[string]any {
	return map[string]any{
		"candidates_total":         int64(r.CandidatesTotal),
		"promotion_biased":         int64(r.PromotionBiased),
		"selected_with_promotion":  int64(r.SelectedWithPromotion),
		"dormant_promotions":       int64(r.DormantPromotions),
		"rollback_rate_promoted":   r.RollbackRatePromoted,
		"rollback_rate_unpromoted": r.RollbackRateUnpromoted,
		"promotion_lift": map[string]any{
			"mean_promoted":   r.Lift.MeanPromoted,
			"mean_unpromoted": r.Lift.MeanUnpromoted,
			"delta":           r.Lift.Delta,
			"n_promoted":      int64(r.Lift.NPromoted),
			"n_unpromoted":    int64(r.Lift.NUnpromoted),
		},
	}
}

// rolledBackEffect is one observed (module, knob, sample, promoted) data
// point, gathered from a recent ledger window, used to compute rollback
// rates and promotion lift.
type rolledBackEffect struct {
	module    tuning.ModuleID
	knob      tuning.KnobName
	sample    float64
	promoted  bool
	rolledBack bool
}

// Summarize computes a Report for the given cycle's portfolio result
// against the policy's declared promoted values and a recent ledger
// window (recentEntries, oldest-first).
func Summarize(result portfolio.Result, policy portfolio.PromotionPolicy, recentEntries []ledger.Entry) Report {
	var report Report
	report.CandidatesTotal = result.Counts.Enumerated
	report.PromotionBiased = result.Counts.PromotionBiased

	dormant := 0
	for module, byKnob := range policy.Promoted {
		for knob := range byKnob {
			if !selectedIncludes(result.Items, module, knob) {
				dormant++
			}
		}
	}
	report.DormantPromotions = dormant

	selectedPromoted := 0
	for _, item := range result.Items {
		for knob := range item.Assignments {
			if _, ok := policy.PromotedValueFor(item.Target, knob); ok {
				selectedPromoted++
			}
		}
	}
	report.SelectedWithPromotion = selectedPromoted

	effects := effectsFromLedger(recentEntries, policy)
	report.RollbackRatePromoted = rollbackRate(effects, true)
	report.RollbackRateUnpromoted = rollbackRate(effects, false)
	report.Lift = lift(effects)

	return report
}

// Append appends the report to the ledger as promotion_influence_reported.
func Append(l *ledger.Ledger, report Report) (uint64, error) {
	idx, _, err := l.Append(ledger.PromotionInfluenceReported, report.toPayload())
	return idx, err
}

func selectedIncludes(items []tuning.TuningIR, module tuning.ModuleID, knob tuning.KnobName) bool {
	for _, item := range items {
		if item.Target != module {
			continue
		}
		if _, ok := item.Assignments[knob]; ok {
			return true
		}
	}
	return false
}

// effectsFromLedger reconstructs one rolledBackEffect per
// effect_recorded entry, then marks it rolled back if a cooldown_entered
// entry for the same (module, knob) follows later in the window —
// cooldown entries never carry their own sample, only an attribution.
func effectsFromLedger(entries []ledger.Entry, policy portfolio.PromotionPolicy) []rolledBackEffect {
	index := map[string]int{}
	var out []rolledBackEffect

	for _, e := range entries {
		switch e.EntryType {
		case ledger.EffectRecorded:
			module, _ := e.Payload["module"].(string)
			knob, _ := e.Payload["knob"].(string)
			sample, _ := toFloat(e.Payload["sample"])
			_, promoted := policy.PromotedValueFor(tuning.ModuleID(module), tuning.KnobName(knob))
			key := module + "/" + knob
			out = append(out, rolledBackEffect{module: tuning.ModuleID(module), knob: tuning.KnobName(knob), sample: sample, promoted: promoted})
			index[key] = len(out) - 1
		case ledger.CooldownEntered:
			module, _ := e.Payload["module"].(string)
			knob, _ := e.Payload["knob"].(string)
			key := module + "/" + knob
			if i, ok := index[key]; ok {
				out[i].rolledBack = true
			}
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func rollbackRate(effects []rolledBackEffect, promoted bool) float64 {
	total, rolledBack := 0, 0
	for _, e := range effects {
		if e.promoted != promoted {
			continue
		}
		total++
		if e.rolledBack {
			rolledBack++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(rolledBack) / float64(total)
}

func lift(effects []rolledBackEffect) PromotionLift {
	var sumPromoted, sumUnpromoted float64
	var nPromoted, nUnpromoted uint64
	for _, e := range effects {
		if e.rolledBack {
			continue // samples only, not rollback markers
		}
		if e.promoted {
			sumPromoted += e.sample
			nPromoted++
		} else {
			sumUnpromoted += e.sample
			nUnpromoted++
		}
	}
	var meanPromoted, meanUnpromoted float64
	if nPromoted > 0 {
		meanPromoted = sumPromoted / float64(nPromoted)
	}
	if nUnpromoted > 0 {
		meanUnpromoted = sumUnpromoted / float64(nUnpromoted)
	}
	return PromotionLift{
		MeanPromoted:   meanPromoted,
		MeanUnpromoted: meanUnpromoted,
		Delta:          meanPromoted - meanUnpromoted,
		NPromoted:      nPromoted,
		NUnpromoted:    nUnpromoted,
	}
}
