package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yggrune/governor/internal/gerr"
	"github.com/yggrune/governor/internal/ledger"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the evidence ledger's tail-hash chain",
	}
	cmd.AddCommand(ledgerVerifyCmd())
	return cmd
}

// ledgerVerifyCmd implements `ledger verify` with exit codes
// 0 clean, 2 file missing, 3 corruption detected.
func ledgerVerifyCmd() *cobra.Command {
	var ledgerPath string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay the ledger and confirm its tail-hash chain is intact",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ledgerPath == "" {
				return exitWith(4, errors.New("--ledger is required"))
			}
			if _, err := os.Stat(ledgerPath); err != nil {
				return exitWith(2, fmt.Errorf("ledger not found: %w", err))
			}

			l, err := ledger.Open(ledgerPath, nil, nil)
			if err != nil {
				if gerr.Is(err, gerr.LedgerCorruptionDetected) {
					return exitWith(3, err)
				}
				return exitWith(4, err)
			}

			entries := l.Iter(0)
			fmt.Fprintf(cmd.OutOrStdout(), "ledger %s is intact (%d entries, tail %s)\n", ledgerPath, len(entries), l.TailHash())
			return nil
		},
	}
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "path to the ledger JSONL file")
	return cmd
}
