package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/batchquery/internal/ledger"
	"github.com/sells-group/batchquery/internal/model"
)

var runsOutputDir string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect batch run history",
	Long:  "Commands for listing, viewing, and summarizing recorded batch runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("runs")
	},
}

func openRunsLedger(ctx context.Context) (ledger.Store, error) {
	return initLedger(ctx, runsOutputDir)
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openRunsLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		modelName, _ := cmd.Flags().GetString("model")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, ledger.RunFilter{
			Status: model.RunStatus(status),
			Model:  modelName,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openRunsLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openRunsLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, ledger.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		since, _ := cmd.Flags().GetDuration("since")
		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs, since, time.Now()))
		return nil
	},
}

func init() {
	runsCmd.PersistentFlags().StringVarP(&runsOutputDir, "output-dir", "o", ".", "output directory whose runs.db to read (sqlite ledger)")

	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, halted, canceled, failed)")
	runsListCmd.Flags().String("model", "", "filter by model name")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats, 0 for all runs")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total            int
	Complete         int
	Halted           int
	Canceled         int
	Failed           int
	Other            int
	Records          int
	RecordsFailed    int
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
}

// computeRunStats aggregates runs created within since of now. A zero since
// includes every run.
func computeRunStats(runs []model.Run, since time.Duration, now time.Time) runStats {
	var s runStats
	for _, r := range runs {
		if since > 0 && r.CreatedAt.Before(now.Add(-since)) {
			continue
		}
		s.Total++
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
		case model.RunStatusHalted:
			s.Halted++
		case model.RunStatusCanceled:
			s.Canceled++
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Other++
		}
		if r.Summary == nil || r.Estimate {
			continue
		}
		s.Records += r.Summary.Total
		s.RecordsFailed += r.Summary.Failed
		s.PromptTokens += r.Summary.PromptTokens
		s.CompletionTokens += r.Summary.CompletionTokens
		if r.Summary.CostKnown {
			s.CostUSD += r.Summary.CostUSD
		}
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMODEL\tCLIENT\tSTATUS\tDONE\tFAILED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t------\t----\t------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		done, failed := "-", "-"
		if r.Summary != nil {
			done = fmt.Sprintf("%d/%d", r.Summary.Finished, r.Summary.Total)
			failed = fmt.Sprintf("%d", r.Summary.Failed)
		}

		status := string(r.Status)
		if r.Estimate {
			status += " (estimate)"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Model,
			r.Flavor,
			status,
			done,
			failed,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Halted:\t%d\n", s.Halted)
	_, _ = fmt.Fprintf(w, "Canceled:\t%d\n", s.Canceled)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Other:\t%d\n", s.Other)
	_, _ = fmt.Fprintf(w, "Records:\t%d (%d failed)\n", s.Records, s.RecordsFailed)
	_, _ = fmt.Fprintf(w, "Tokens:\t%d prompt, %d completion\n", s.PromptTokens, s.CompletionTokens)
	if s.CostUSD > 0 {
		_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", s.CostUSD)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
