package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yggrune/governor/internal/evidence"
)

func evidenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Manage evidence bundles backing promoted tuning and shadow bridges",
	}
	cmd.AddCommand(evidenceRelockCmd())
	return cmd
}

// evidenceRelockCmd implements `evidence relock --bundle <f>`: reload a
// bundle, recompute its content hash, and persist the relocked bundle.
// Used after editing a bundle's sources/claims/calibration_refs by hand.
func evidenceRelockCmd() *cobra.Command {
	var bundlePath string
	cmd := &cobra.Command{
		Use:   "relock",
		Short: "Recompute and persist a bundle's content hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bundlePath == "" {
				return exitWith(4, errors.New("--bundle is required"))
			}
			bundle, err := evidence.Load(bundlePath)
			if err != nil {
				return exitWith(2, err)
			}
			locked, err := evidence.Lock(bundle)
			if err != nil {
				return exitWith(4, err)
			}
			if err := evidence.Save(bundlePath, locked); err != nil {
				return exitWith(4, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "relocked %s: %s\n", bundlePath, locked.BundleRefHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "path to the evidence bundle JSON file")
	return cmd
}
