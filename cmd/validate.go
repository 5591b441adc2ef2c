// File: cmd/validate.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/gatecheck/internal/scenario"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <table.yaml>...",
		Short: "Check scenario tables without starting a browser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed int
			for _, path := range args {
				table, err := scenario.LoadTable(path)
				if err != nil {
					fmt.Fprintf(out, "INVALID %v\n", err)
					failed++
					continue
				}
				reset := table.Reset
				if reset == "" {
					reset = "default"
				}
				fmt.Fprintf(out, "OK      %s: plan %q, %d steps, %d rows, reset %s\n",
					path, table.Name, len(table.Steps), len(table.Rows), reset)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenario tables are invalid", failed, len(args))
			}
			return nil
		},
	}
}
