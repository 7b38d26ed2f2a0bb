package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/batchquery/internal/batch"
	"github.com/sells-group/batchquery/internal/checkpoint"
	"github.com/sells-group/batchquery/internal/cost"
	"github.com/sells-group/batchquery/internal/executor"
	"github.com/sells-group/batchquery/internal/ledger"
	"github.com/sells-group/batchquery/internal/model"
	"github.com/sells-group/batchquery/internal/resilience"
	"github.com/sells-group/batchquery/internal/status"
	"github.com/sells-group/batchquery/pkg/openai"
)

var (
	queryInputDir    string
	queryOutputDir   string
	queryPromptDebug bool
	queryRecoverOnly bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run every pending record of a batch directory",
	Long:  "Loads *.jsonl batches from the input directory, skips records that already succeeded in the output directory, queries the rest concurrently, and merges checkpoint chunks into result_<name>.jsonl files.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyQueryFlags(cmd)
		if err := cfg.Validate("query"); err != nil {
			return err
		}

		return runQuery(ctx, cmd.OutOrStdout(), queryOptions{
			InputDir:    queryInputDir,
			OutputDir:   queryOutputDir,
			Estimate:    queryPromptDebug,
			RecoverOnly: queryRecoverOnly,
		})
	},
}

func init() {
	f := queryCmd.Flags()
	f.StringVarP(&queryInputDir, "input-dir", "i", "", "directory of *.jsonl batches to query")
	f.StringVarP(&queryOutputDir, "output-dir", "o", "", "directory for result files and checkpoint chunks")
	f.String("model-name", "", "model used for records without a name (default from config)")
	f.String("client", "", "client flavor: local or azure (default from config)")
	f.Int("chunk-size", 0, "completions per checkpoint chunk (default from config)")
	f.BoolVar(&queryPromptDebug, "prompt-debug", false, "estimate prompt tokens without calling the API; completion tokens are unknown")
	f.Int("failure-limit", 0, "failed records after which no further requests are sent (default from config)")
	f.BoolVar(&queryRecoverOnly, "recover-only", false, "only merge checkpoint chunks into result files")
	f.Int("concurrency", 0, "max in-flight requests (default min(32, cpus+4))")
	f.Int("retry-limit", 0, "attempts for records without their own retry_limit (default 10)")
	f.Float64("rate-limit", 0, "max requests per second across workers, 0 for none")
	f.String("status-addr", "", "serve live counters on this address, e.g. :8080")
	_ = queryCmd.MarkFlagRequired("input-dir")
	_ = queryCmd.MarkFlagRequired("output-dir")
	rootCmd.AddCommand(queryCmd)
}

// applyQueryFlags copies explicitly set flags over the loaded config.
func applyQueryFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("model-name") {
		cfg.Query.Model, _ = f.GetString("model-name")
	}
	if f.Changed("client") {
		cfg.Query.Client, _ = f.GetString("client")
	}
	if f.Changed("chunk-size") {
		cfg.Query.ChunkSize, _ = f.GetInt("chunk-size")
	}
	if f.Changed("failure-limit") {
		cfg.Query.FailureLimit, _ = f.GetInt("failure-limit")
	}
	if f.Changed("concurrency") {
		cfg.Query.Concurrency, _ = f.GetInt("concurrency")
	}
	if f.Changed("retry-limit") {
		cfg.Query.RetryLimit, _ = f.GetInt("retry-limit")
	}
	if f.Changed("rate-limit") {
		cfg.Query.RateLimit, _ = f.GetFloat64("rate-limit")
	}
	if f.Changed("status-addr") {
		cfg.Status.Addr, _ = f.GetString("status-addr")
	}
}

type queryOptions struct {
	InputDir    string
	OutputDir   string
	Estimate    bool
	RecoverOnly bool
}

// runQuery performs one run: load, dispatch, then merge. Recovery runs even
// when dispatch was interrupted or failed to journal, so completed work
// reaches the result files.
func runQuery(ctx context.Context, out io.Writer, opts queryOptions) error {
	flavor, err := cost.ParseFlavor(cfg.Query.Client)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	store, err := checkpoint.Open(opts.InputDir, opts.OutputDir, runID)
	if err != nil {
		return eris.Wrap(err, "load batches")
	}
	if err := validateModels(store, flavor, cfg.Query.Model); err != nil {
		return err
	}

	if opts.RecoverOnly {
		return recoverResults(out, store)
	}

	execOpts := executor.Options{
		Estimate: opts.Estimate,
		Retry: resilience.FromRetryConfig(0,
			cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs,
			cfg.Retry.Multiplier, cfg.Retry.Jitter),
	}
	var client openai.Client
	if opts.Estimate {
		enc, err := newEncoder()
		if err != nil {
			return err
		}
		execOpts.Encoder = enc
	} else {
		client, err = newChatClient(flavor)
		if err != nil {
			return err
		}
	}
	if r := cfg.Query.RateLimit; r > 0 {
		execOpts.Limiter = rate.NewLimiter(rate.Limit(r), max(1, int(r)))
	}

	pricer, err := initPricer(flavor)
	if err != nil {
		return err
	}

	breakerCfg := resilience.FromFailureLimit(cfg.Query.FailureLimit)
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("failure breaker changed state",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Int("failure_limit", cfg.Query.FailureLimit),
		)
	}
	breaker := resilience.NewFailureBreaker(breakerCfg)

	batchOpts := batch.Options{
		Model:         cfg.Query.Model,
		RetryLimit:    cfg.Query.RetryLimit,
		ChunkSize:     cfg.Query.ChunkSize,
		Concurrency:   cfg.Query.Concurrency,
		Estimate:      opts.Estimate,
		ProgressEvery: cfg.Query.ProgressEvery,
	}
	if pricer != nil {
		batchOpts.Pricer = pricer
	}
	coord := batch.New(store, executor.New(client, breaker, execOpts), breaker, batchOpts)

	runs := openRunLedger(ctx, opts.OutputDir)
	defer runs.Close() //nolint:errcheck
	run := model.Run{
		ID:        runID,
		Model:     cfg.Query.Model,
		Flavor:    string(flavor),
		InputDir:  opts.InputDir,
		OutputDir: opts.OutputDir,
		Estimate:  opts.Estimate,
	}
	if _, err := runs.CreateRun(ctx, run); err != nil {
		zap.L().Warn("ledger: record run start", zap.Error(err))
	}

	if cfg.Status.Addr != "" {
		srv, err := status.Listen(cfg.Status.Addr, status.NewRouter(coord, status.RunInfo{
			RunID:    runID,
			Model:    cfg.Query.Model,
			Flavor:   string(flavor),
			Estimate: opts.Estimate,
		}))
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("status server shutdown", zap.Error(err))
			}
		}()
	}

	sum, runErr := coord.Run(ctx)

	report, recErr := store.Recover()
	if recErr == nil {
		zap.L().Info("results merged",
			zap.Int("chunks", report.ChunksMerged),
			zap.Int("files", report.FilesWritten),
		)
	}

	runStatus := runStatusOf(sum, errors.Join(runErr, recErr))
	if err := runs.FinishRun(context.WithoutCancel(ctx), runID, runStatus, summaryOf(sum)); err != nil {
		zap.L().Warn("ledger: record run finish", zap.Error(err))
	}

	printSummary(out, runID, runStatus, sum, opts.Estimate)

	if runErr != nil {
		return runErr
	}
	if recErr != nil {
		return eris.Wrap(recErr, "merge results")
	}
	return nil
}

// openRunLedger opens the ledger, degrading to a no-op store so a ledger
// outage never blocks a batch.
func openRunLedger(ctx context.Context, outputDir string) ledger.Store {
	st, err := initLedger(ctx, outputDir)
	if err != nil {
		zap.L().Warn("run ledger unavailable; run will not be recorded", zap.Error(err))
		return ledger.Nop{}
	}
	return st
}

func runStatusOf(sum batch.Summary, err error) model.RunStatus {
	switch {
	case err != nil:
		return model.RunStatusFailed
	case sum.Canceled:
		return model.RunStatusCanceled
	case sum.CircuitOpen:
		return model.RunStatusHalted
	default:
		return model.RunStatusComplete
	}
}

func summaryOf(sum batch.Summary) *model.RunSummary {
	return &model.RunSummary{
		Total:            sum.Total,
		Finished:         sum.Finished,
		Estimated:        sum.Estimated,
		Failed:           sum.Failed,
		Saved:            sum.Saved,
		PromptTokens:     sum.PromptTokens,
		CompletionTokens: sum.CompletionTokens,
		CostUSD:          sum.CostUSD,
		CostKnown:        sum.CostKnown,
		CircuitOpen:      sum.CircuitOpen,
		DurationMs:       sum.Duration.Milliseconds(),
	}
}

// printSummary writes the end-of-run report to out.
func printSummary(out io.Writer, runID string, st model.RunStatus, sum batch.Summary, estimate bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", runID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", st)
	_, _ = fmt.Fprintf(w, "Records:\t%d\n", sum.Total)
	_, _ = fmt.Fprintf(w, "Finished:\t%d\n", sum.Finished)
	if estimate {
		_, _ = fmt.Fprintf(w, "Estimated:\t%d\n", sum.Estimated)
	}
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", sum.Failed)
	_, _ = fmt.Fprintf(w, "Saved:\t%d\n", sum.Saved)
	_, _ = fmt.Fprintf(w, "Prompt tokens:\t%d\n", sum.PromptTokens)
	if estimate {
		_, _ = fmt.Fprintf(w, "Completion tokens:\tunknown (estimate)\n")
	} else {
		_, _ = fmt.Fprintf(w, "Completion tokens:\t%d\n", sum.CompletionTokens)
	}
	if sum.CostKnown {
		_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", sum.CostUSD)
	} else {
		_, _ = fmt.Fprintf(w, "Cost:\tn/a\n")
	}
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", sum.Duration.Round(time.Millisecond))
	_ = w.Flush()
}
