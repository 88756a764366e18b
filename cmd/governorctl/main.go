package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitCodeErr lets a subcommand specify its own process exit code
// without main having to special-case every command by name.
type exitCodeErr struct {
	code int
	err  error
}

func (e *exitCodeErr) Error() string { return e.err.Error() }
func (e *exitCodeErr) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitCodeErr{code: code, err: err}
}

var rootCmd = &cobra.Command{
	Use:   "governorctl",
	Short: "Operator CLI for the governance/tuning plane's ledger, topology, and evidence stores",
	Long: `governorctl inspects and maintains the governance plane's durable state:
topology manifests, evidence bundles, the evidence ledger, and one-off
tuning cycle runs, without requiring the orchestrator process to be live.`,
}

func main() {
	rootCmd.AddCommand(
		topologyCmd(),
		evidenceCmd(),
		cycleCmd(),
		ledgerCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ec *exitCodeErr
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		os.Exit(1)
	}
}
