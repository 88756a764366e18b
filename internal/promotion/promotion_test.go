package promotion

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yggrune/governor/internal/ledger"
	"github.com/yggrune/governor/internal/portfolio"
	"github.com/yggrune/governor/internal/tuning"
)

func policyWithPromotion() portfolio.PromotionPolicy {
	return portfolio.PromotionPolicy{
		Promoted: map[tuning.ModuleID]map[tuning.KnobName]portfolio.PromotedValue{
			"routing": {"batch": {Module: "routing", Knob: "batch", Value: int64(4)}},
		},
	}
}

func TestSummarizeCountsSelectedWithPromotion(t *testing.T) {
	result := portfolio.Result{
		Counts: portfolio.Counts{Enumerated: 10, PromotionBiased: 1},
		Items: []tuning.TuningIR{
			{Target: "routing", Assignments: map[tuning.KnobName]any{"batch": int64(4)}},
		},
	}
	report := Summarize(result, policyWithPromotion(), nil)
	require.Equal(t, 10, report.CandidatesTotal)
	require.Equal(t, 1, report.PromotionBiased)
	require.Equal(t, 1, report.SelectedWithPromotion)
	require.Equal(t, 0, report.DormantPromotions)
}

func TestSummarizeDetectsDormantPromotion(t *testing.T) {
	result := portfolio.Result{} // nothing selected this cycle
	report := Summarize(result, policyWithPromotion(), nil)
	require.Equal(t, 1, report.DormantPromotions)
	require.Equal(t, 0, report.SelectedWithPromotion)
}

func TestSummarizeComputesRollbackRatesAndLift(t *testing.T) {
	entries := []ledger.Entry{
		{EntryType: ledger.EffectRecorded, Payload: map[string]any{"module": "routing", "knob": "batch", "sample": -5.0}},
		{EntryType: ledger.CooldownEntered, Payload: map[string]any{"module": "routing", "knob": "batch"}},
		{EntryType: ledger.EffectRecorded, Payload: map[string]any{"module": "caching", "knob": "ttl", "sample": -2.0}},
	}
	report := Summarize(portfolio.Result{}, policyWithPromotion(), entries)
	require.Equal(t, 1.0, report.RollbackRatePromoted)
	require.Equal(t, 0.0, report.RollbackRateUnpromoted)
	require.Equal(t, -2.0, report.Lift.MeanUnpromoted)
	require.Equal(t, uint64(1), report.Lift.NUnpromoted)
}

func TestAppendWritesPromotionInfluenceReportedEntry(t *testing.T) {
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"), nil, nil)
	require.NoError(t, err)

	report := Summarize(portfolio.Result{Counts: portfolio.Counts{Enumerated: 3}}, policyWithPromotion(), nil)
	_, err = Append(l, report)
	require.NoError(t, err)

	entries := l.Iter(0)
	require.Len(t, entries, 1)
	require.Equal(t, ledger.PromotionInfluenceReported, entries[0].EntryType)
	require.Equal(t, int64(3), entries[0].Payload["candidates_total"])
}
