// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatecheck/internal/artifact"
	"github.com/xkilldash9x/gatecheck/internal/browser"
	"github.com/xkilldash9x/gatecheck/internal/config"
	"github.com/xkilldash9x/gatecheck/internal/observability"
	"github.com/xkilldash9x/gatecheck/internal/scenario"
	"github.com/xkilldash9x/gatecheck/internal/store"
)

// ErrRowsFailed is returned by the run command when at least one row did
// not match its expected outcome.
var ErrRowsFailed = errors.New("one or more rows failed")

// runStore is the part of store.Store the commands use.
type runStore interface {
	SaveReport(ctx context.Context, r *scenario.Report) error
	RecentRuns(ctx context.Context, plan string, limit int) ([]store.RunSummary, error)
}

// Function variables for dependency injection in tests.
var (
	newLauncher = func(cfg config.Interface, logger *zap.Logger) browser.Launcher {
		if cfg.Browser().Driver == config.DriverPlaywright {
			return browser.NewPlaywrightLauncher(cfg.Browser(), logger)
		}
		return browser.NewCDPLauncher(cfg.Browser(), logger)
	}
	openStore = openPostgresStore
)

func openPostgresStore(ctx context.Context, url string, logger *zap.Logger) (runStore, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

func newRunCmd(state *app) *cobra.Command {
	var (
		only       []string
		reportPath string
	)
	runCmd := &cobra.Command{
		Use:   "run <table.yaml>",
		Short: "Drive every row of a scenario table through the browser",
		Long: `Loads a scenario table, drives each row through a browser session and
classifies the result. The command fails when any row does not match its
expected outcome or the run is truncated by a fatal browser error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := scenario.LoadTable(args[0])
			if err != nil {
				return err
			}
			rows, err := selectRows(table.Rows, only)
			if err != nil {
				return err
			}
			return runTable(cmd.Context(), cmd.OutOrStdout(), state.cfg, &table.Plan, rows, reportPath)
		},
	}
	runCmd.Flags().StringSliceVar(&only, "only", nil, "run only the rows with these labels")
	runCmd.Flags().StringVar(&reportPath, "report", "", "write the report as JSON to this file")
	return runCmd
}

func runTable(ctx context.Context, out io.Writer, cfg config.Interface, plan *scenario.Plan, rows []scenario.Row, reportPath string) error {
	logger := observability.GetLogger()

	var capturer *artifact.Capturer
	if cfg.Artifacts().Enabled {
		fs, err := artifact.NewFileStore(cfg.Artifacts().Dir)
		if err != nil {
			return err
		}
		capturer = artifact.NewCapturer(fs, nil, logger)
	}

	runner := scenario.NewRunner(newLauncher(cfg, logger), capturer, nil, scenario.OptionsFromConfig(cfg), logger)
	report, runErr := runner.Run(ctx, rows, plan)
	if report == nil {
		return runErr
	}

	printReport(out, report)

	if reportPath != "" {
		if err := writeReport(reportPath, report); err != nil {
			return err
		}
	}

	if cfg.Database().Persist {
		// The run context may already be cancelled; the report is still worth keeping.
		saveCtx, cancel := context.WithTimeout(browser.Detach(ctx), 30*time.Second)
		defer cancel()
		if err := persistReport(saveCtx, cfg.Database().URL, report, logger); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}
	if !report.OK() {
		return ErrRowsFailed
	}
	return nil
}

func persistReport(ctx context.Context, url string, report *scenario.Report, logger *zap.Logger) error {
	s, closeStore, err := openStore(ctx, url, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := s.SaveReport(ctx, report); err != nil {
		return err
	}
	logger.Info("Run report persisted.", zap.String("run_id", report.RunID.String()))
	return nil
}

// selectRows keeps the rows named in only, in table order. An empty filter
// keeps every row.
func selectRows(rows []scenario.Row, only []string) ([]scenario.Row, error) {
	if len(only) == 0 {
		return rows, nil
	}
	wanted := make(map[string]bool, len(only))
	for _, label := range only {
		wanted[label] = true
	}
	var out []scenario.Row
	for _, r := range rows {
		if wanted[r.Label] {
			out = append(out, r)
			delete(wanted, r.Label)
		}
	}
	for _, label := range only {
		if wanted[label] {
			return nil, fmt.Errorf("no row labelled %q", label)
		}
	}
	return out, nil
}

func printReport(out io.Writer, r *scenario.Report) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RESULT\tROW\tEXPECTED\tACTUAL\tDURATION\tDETAIL")
	for _, v := range r.Verdicts {
		result := "PASS"
		if !v.Passed {
			result = "FAIL"
		}
		actual := "-"
		if !v.Actual.IsZero() {
			actual = v.Actual.String()
		}
		detail := ""
		if v.Err != nil {
			detail = v.Err.Error()
		}
		if v.ArtifactRef != "" {
			if detail != "" {
				detail += "; "
			}
			detail += "screenshot " + v.ArtifactRef
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			result, v.Row.Label, v.Row.Expect, actual, v.Duration.Round(time.Millisecond), detail)
	}
	tw.Flush()
	fmt.Fprintln(out, r.Summary())
}

type verdictJSON struct {
	Label       string `json:"label"`
	Expected    string `json:"expected"`
	Actual      string `json:"actual,omitempty"`
	Passed      bool   `json:"passed"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

type reportJSON struct {
	RunID       string        `json:"run_id"`
	Plan        string        `json:"plan"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Rows        int           `json:"rows"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Truncated   bool          `json:"truncated"`
	TruncatedAt *int          `json:"truncated_at,omitempty"`
	Cause       string        `json:"cause,omitempty"`
	Verdicts    []verdictJSON `json:"verdicts"`
}

func toReportJSON(r *scenario.Report) reportJSON {
	out := reportJSON{
		RunID:      r.RunID.String(),
		Plan:       r.Plan,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Rows:       r.Rows,
		Passed:     r.Passed,
		Failed:     r.Failed,
		Truncated:  r.Truncated,
		Verdicts:   make([]verdictJSON, 0, len(r.Verdicts)),
	}
	if r.Truncated {
		at := r.TruncatedAt
		out.TruncatedAt = &at
	}
	if r.Cause != nil {
		out.Cause = r.Cause.Error()
	}
	for _, v := range r.Verdicts {
		vj := verdictJSON{
			Label:       v.Row.Label,
			Expected:    v.Row.Expect.String(),
			Passed:      v.Passed,
			ArtifactRef: v.ArtifactRef,
			DurationMS:  v.Duration.Milliseconds(),
		}
		if !v.Actual.IsZero() {
			vj.Actual = v.Actual.String()
		}
		if v.Err != nil {
			vj.Error = v.Err.Error()
		}
		out.Verdicts = append(out.Verdicts, vj)
	}
	return out
}

func writeReport(path string, r *scenario.Report) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(toReportJSON(r), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(expanded, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
