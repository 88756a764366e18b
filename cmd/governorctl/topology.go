package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yggrune/governor/internal/gerr"
	"github.com/yggrune/governor/internal/topology"
)

func topologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Inspect and validate YGGDRASIL topology manifests",
	}
	cmd.AddCommand(topologyLintCmd())
	return cmd
}

// topologyLintCmd implements `topology lint --manifest <f>` with the
// exit codes spec.md §6 assigns to the CLI surface:
//
//	0 clean, 2 file missing, 3 hash mismatch, 4 validation failure,
//	5 forbidden crossing.
func topologyLintCmd() *cobra.Command {
	var manifestPath string
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a manifest's hash-lock and membrane invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifestPath == "" {
				return exitWith(4, errors.New("--manifest is required"))
			}
			if _, err := os.Stat(manifestPath); err != nil {
				return exitWith(2, fmt.Errorf("manifest not found: %w", err))
			}

			manifest, err := topology.Load(manifestPath)
			if err != nil {
				if gerr.Is(err, gerr.ManifestHashMismatch) {
					return exitWith(3, err)
				}
				return exitWith(4, err)
			}

			report := topology.Validate(manifest)
			if len(report.ForbiddenCrossings) > 0 {
				for _, c := range report.ForbiddenCrossings {
					fmt.Fprintf(cmd.OutOrStdout(), "forbidden crossing: %s -> %s: %s\n", c.From, c.To, c.Reason)
				}
				return exitWith(5, fmt.Errorf("%d forbidden crossing(s)", len(report.ForbiddenCrossings)))
			}
			if len(report.ValidationErrors) > 0 {
				for _, e := range report.ValidationErrors {
					fmt.Fprintf(cmd.OutOrStdout(), "validation error: %v\n", e)
				}
				return exitWith(4, fmt.Errorf("%d validation error(s)", len(report.ValidationErrors)))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "manifest %s is clean (%d nodes, %d links)\n", manifestPath, len(manifest.Nodes), len(manifest.Links))
			return nil
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to the manifest JSON file")
	return cmd
}
