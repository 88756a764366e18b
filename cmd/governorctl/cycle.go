package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yggrune/governor/internal/canary"
	"github.com/yggrune/governor/internal/canon"
	"github.com/yggrune/governor/internal/collections"
	"github.com/yggrune/governor/internal/config"
	"github.com/yggrune/governor/internal/effects"
	"github.com/yggrune/governor/internal/ledger"
	"github.com/yggrune/governor/internal/orchestrator"
	"github.com/yggrune/governor/internal/portfolio"
	"github.com/yggrune/governor/internal/stabilization"
	"github.com/yggrune/governor/internal/tuning"
)

func cycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Drive tuning cycles against the durable ledger/stabilization/effects stores",
	}
	cmd.AddCommand(cycleTickCmd())
	return cmd
}

// planFile is the declarative description of one cycle's registry,
// candidate pool, and policy, for driving an ad hoc cycle from the CLI
// without a live overlay host bus. Production deployments wire their own
// portfolio.CandidateSource and canary.KnobWriter from the running
// registry; this plan format exists for operator dry-runs and
// integration tests of the orchestrator end-to-end.
type planFile struct {
	SourceCycleID     uint64                  `json:"source_cycle_id"`
	LedgerPath        string                  `json:"ledger_path"`
	StabilizationPath string                  `json:"stabilization_path"`
	EffectsPath       string                  `json:"effects_path"`
	Registry          map[string]planModule   `json:"registry"`
	Candidates        map[string][]float64    `json:"candidates"`
	Promoted          map[string]float64      `json:"promoted"`
	KnobValues        map[string]float64      `json:"knob_values"`
	Baseline          planMetrics             `json:"baseline"`
	Objective         config.ObjectiveWeights `json:"objective"`
	Budgets           config.Budgets          `json:"budgets"`
	Significance      config.SignificanceGate `json:"significance"`
	Drift             config.DriftPolicy      `json:"drift_policy"`
	Epsilon           float64                 `json:"epsilon"`
}

type planModule struct {
	Capabilities []string            `json:"capabilities"`
	Knobs        map[string]planKnob `json:"knobs"`
}

type planKnob struct {
	Min                 float64 `json:"min"`
	Max                 float64 `json:"max"`
	HotApply            bool    `json:"hot_apply"`
	StabilizationCycles uint32  `json:"stabilization_cycles"`
	CapabilityRequired  string  `json:"capability_required"`
}

type planMetrics struct {
	LatencyP50Ms float64 `json:"latency_p50_ms"`
	CostUnits    float64 `json:"cost_units"`
	ErrorRate    float64 `json:"error_rate"`
	Throughput   float64 `json:"throughput"`
}

type planCandidateSource struct {
	values map[string][]any
}

func (p planCandidateSource) CandidateValues(module tuning.ModuleID, knob tuning.KnobName, _ canon.Hash32) []any {
	return p.values[string(module)+"/"+string(knob)]
}

type planKnobWriter struct {
	values map[string]any
}

func (w *planKnobWriter) Get(m tuning.ModuleID, k tuning.KnobName) (any, error) {
	return w.values[string(m)+"/"+string(k)], nil
}
func (w *planKnobWriter) Set(m tuning.ModuleID, k tuning.KnobName, v any) error {
	w.values[string(m)+"/"+string(k)] = v
	return nil
}

func cycleTickCmd() *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one tuning cycle from a declarative plan file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if planPath == "" {
				return exitWith(4, fmt.Errorf("--plan is required"))
			}
			data, err := os.ReadFile(planPath)
			if err != nil {
				return exitWith(2, err)
			}
			var plan planFile
			if err := json.Unmarshal(data, &plan); err != nil {
				return exitWith(4, err)
			}

			l, err := ledger.Open(plan.LedgerPath, nil, nil)
			if err != nil {
				return exitWith(3, err)
			}
			stab, err := stabilization.Open(plan.StabilizationPath)
			if err != nil {
				return exitWith(4, err)
			}
			eff, err := effects.Open(plan.EffectsPath)
			if err != nil {
				return exitWith(4, err)
			}

			registry := map[tuning.ModuleID]portfolio.ModuleRegistryEntry{}
			envelopes := map[tuning.ModuleID]tuning.TuningEnvelope{}
			capabilities := map[tuning.ModuleID]collections.Set[string]{}
			for moduleName, pm := range plan.Registry {
				knobs := map[tuning.KnobName]tuning.KnobSpec{}
				for knobName, pk := range pm.Knobs {
					knobs[tuning.KnobName(knobName)] = tuning.KnobSpec{
						Kind: tuning.KindFloat, Bounds: tuning.Bounds{Min: pk.Min, Max: pk.Max},
						HotApply: pk.HotApply, StabilizationCycles: pk.StabilizationCycles,
						CapabilityRequired: pk.CapabilityRequired,
					}
				}
				envelope := tuning.TuningEnvelope{Module: tuning.ModuleID(moduleName), Knobs: knobs}
				caps := collections.Of(pm.Capabilities...)
				registry[tuning.ModuleID(moduleName)] = portfolio.ModuleRegistryEntry{Envelope: envelope, Capabilities: caps}
				envelopes[tuning.ModuleID(moduleName)] = envelope
				capabilities[tuning.ModuleID(moduleName)] = caps
			}

			candidateValues := map[string][]any{}
			for key, values := range plan.Candidates {
				vs := make([]any, len(values))
				for i, v := range values {
					vs[i] = v
				}
				candidateValues[key] = vs
			}

			promoted := map[tuning.ModuleID]map[tuning.KnobName]portfolio.PromotedValue{}
			for key, v := range plan.Promoted {
				module, knob := splitKey(key)
				if _, ok := promoted[module]; !ok {
					promoted[module] = map[tuning.KnobName]portfolio.PromotedValue{}
				}
				promoted[module][knob] = portfolio.PromotedValue{Module: module, Knob: knob, Value: v}
			}

			writer := &planKnobWriter{values: map[string]any{}}
			for key, v := range plan.KnobValues {
				writer.values[key] = v
			}

			engine := canary.NewEngine(writer, l, stab, eff, nil, nil)
			orch := orchestrator.NewOrchestrator(l, stab, eff, engine, nil, nil)
			orch.CandidateSource = planCandidateSource{values: candidateValues}
			orch.Objective = plan.Objective
			orch.Budgets = plan.Budgets
			orch.Significance = plan.Significance
			orch.Epsilon = plan.Epsilon
			orch.DriftPolicy = plan.Drift

			snapshot := orchestrator.Snapshot{
				Registry:     registry,
				Envelopes:    envelopes,
				Capabilities: capabilities,
				Baseline: canary.MetricsEnvelope{
					LatencyP50Ms: plan.Baseline.LatencyP50Ms, CostUnits: plan.Baseline.CostUnits,
					ErrorRate: plan.Baseline.ErrorRate, Throughput: plan.Baseline.Throughput,
				},
				PromotionPolicy: portfolio.PromotionPolicy{Promoted: promoted},
				BaselineSig:     canon.Hash32{},
			}

			result, err := orch.RunCycle(context.Background(), plan.SourceCycleID, snapshot)
			if err != nil {
				return exitWith(4, err)
			}

			out, _ := json.MarshalIndent(map[string]any{
				"selected":    result.Portfolio.Counts.Selected,
				"applied":     result.Outcome.Applied,
				"rolled_back": result.Outcome.RolledBack,
				"drift_score": result.Outcome.Drift.DriftScore,
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "path to a cycle plan JSON file")
	return cmd
}

func splitKey(key string) (tuning.ModuleID, tuning.KnobName) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return tuning.ModuleID(key[:i]), tuning.KnobName(key[i+1:])
		}
	}
	return tuning.ModuleID(key), ""
}
