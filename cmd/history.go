// File: cmd/history.go
package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/gatecheck/internal/observability"
)

func newHistoryCmd(state *app) *cobra.Command {
	var limit int
	historyCmd := &cobra.Command{
		Use:   "history [plan]",
		Short: "List recent runs stored in PostgreSQL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := state.cfg.Database().URL
			if url == "" {
				return errors.New("database.url is not configured")
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			var plan string
			if len(args) == 1 {
				plan = args[0]
			}

			s, closeStore, err := openStore(cmd.Context(), url, observability.GetLogger())
			if err != nil {
				return err
			}
			defer closeStore()

			runs, err := s.RecentRuns(cmd.Context(), plan, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tPLAN\tSTARTED\tDURATION\tPASSED\tFAILED\tROWS\tSTATUS")
			for _, r := range runs {
				status := "complete"
				if r.Truncated {
					status = "truncated"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.Plan, r.StartedAt.Local().Format(time.DateTime),
					r.FinishedAt.Sub(r.StartedAt).Round(time.Second), r.Passed, r.Failed, r.Rows, status)
			}
			return tw.Flush()
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of runs to list")
	return historyCmd
}
