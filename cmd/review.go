package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/maxkimambo/revgraph/internal/console"
	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/llm"
	"github.com/maxkimambo/revgraph/internal/logger"
	"github.com/maxkimambo/revgraph/internal/review"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review a local directory or a git repository",
	Long: `Review a local directory or a git repository.

The review runs as a graph of five tasks:
1. ingest: clone the repository (shallow) or open the directory and list the files
2. security: bandit on Python files plus a model review for vulnerabilities
3. performance: radon complexity plus a model review for performance problems
4. style: a model review for code quality
5. aggregate: merge the findings into a markdown report with a health score

The analyzers run in parallel and are skipped when ingest finds no files. A
failing analyzer does not stop the review; the report lists what went wrong.
Missing bandit or radon executables only produce a warning.

EXAMPLES:
# Review a local project with Gemini (GOOGLE_API_KEY or application default credentials)
revgraph review --path ./my-project

# Review a GitHub repository with a local Ollama model
revgraph review --path https://github.com/user/repo --provider ollama --model llama3.2

# Expose Prometheus metrics and record the run in PostgreSQL
revgraph review --path . --metrics-addr :9090 --database-url postgres://localhost/revgraph
`,
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringP("path", "p", "", "Directory or git repository URL to review (required)")
	reviewCmd.Flags().StringP("output", "o", "", "Directory for the markdown report (default: ./code_reviews)")
	reviewCmd.Flags().String("provider", "", "Model provider: gemini or ollama")
	reviewCmd.Flags().String("model", "", "Model name (default depends on the provider)")
	reviewCmd.Flags().Int("concurrency", 4, "Concurrent model requests per analyzer")
	reviewCmd.Flags().Int("max-parallel", 0, "Maximum tasks running at once (0: no limit)")
	reviewCmd.Flags().Int("max-files", 0, "Maximum files each analyzer sends to the model (default: 20)")
	reviewCmd.Flags().Duration("timeout", 0, "Deadline for the whole review (default: 30m)")
	reviewCmd.Flags().StringSlice("ignore", nil, "Extra ignore patterns (comma separated)")
	reviewCmd.Flags().Bool("all-files", false, "Scan every text file, not only source code")
	reviewCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	reviewCmd.Flags().String("database-url", "", "PostgreSQL URL for the run history")
	reviewCmd.Flags().String("ledger-json", "", "Write the task ledger as JSON to this file")
	addConfigFlags(reviewCmd)

	_ = reviewCmd.MarkFlagRequired("path")
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("path")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	ledgerJSON, _ := cmd.Flags().GetString("ledger-json")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := llm.New(ctx, cfg.LLM, nil)
	if err != nil {
		return err
	}

	opts := []review.Option{review.WithFileConcurrency(concurrency)}

	if cfg.MetricsAddr != "" {
		metrics, shutdown := serveMetrics(cfg.MetricsAddr)
		defer shutdown()
		opts = append(opts, review.WithMetrics(metrics))
	}

	if cfg.DatabaseURL != "" {
		store, closeDB, err := openHistory(ctx, cfg.DatabaseURL)
		defer closeDB()
		if err != nil {
			logger.User.Warnf("Run history disabled: %s", errors.DisplayErrorSummary(err))
		} else {
			opts = append(opts, review.WithHistory(store))
		}
	}

	pipeline := review.New(cfg, client, opts...)
	result, err := pipeline.Run(ctx, review.Request{Path: path, OutputDir: cfg.OutputDir})
	if err != nil {
		return err
	}
	if g, err := pipeline.Graph(); err == nil {
		logger.Op.Debug(taskmanager.NewVisualization(g, result.Run.Ledger).GenerateTextSummary())
	}

	if !quiet {
		fmt.Println(console.RunSummary(result.Run, result.Report, result.ReportPath))
		fmt.Print(console.LedgerTable(result.Run.Ledger.Entries()))
	}
	if ledgerJSON != "" {
		if err := writeLedger(ledgerJSON, result.Run); err != nil {
			return err
		}
	}

	if result.Run.Fatal {
		return fatalError(result.Run)
	}
	if result.Run.Cancelled {
		return errors.NewCancelledError("review", context.Cause(ctx))
	}
	return nil
}

// serveMetrics exposes the scheduler metrics until shutdown is called.
func serveMetrics(addr string) (*taskmanager.Metrics, func()) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := taskmanager.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Op.WithFields(map[string]interface{}{
				"addr":  addr,
				"error": err.Error(),
			}).Warn("Metrics server stopped")
		}
	}()
	logger.User.Infof("Serving metrics on %s/metrics", addr)

	return metrics, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

type ledgerDocument struct {
	RunID    string                    `json:"run_id"`
	Outcome  string                    `json:"outcome"`
	Started  time.Time                 `json:"started_at"`
	Finished time.Time                 `json:"finished_at"`
	Summary  taskmanager.LedgerSummary `json:"summary"`
	Tasks    []taskmanager.LedgerEntry `json:"tasks"`
	Notes    []taskmanager.Diagnostic  `json:"diagnostics,omitempty"`
}

func writeLedger(path string, run *taskmanager.RunResult) error {
	doc := ledgerDocument{
		RunID:    run.RunID,
		Outcome:  run.Outcome(),
		Started:  run.StartTime,
		Finished: run.EndTime,
		Summary:  run.Ledger.Summary(),
		Tasks:    run.Ledger.Entries(),
		Notes:    run.State.Diagnostics(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("cannot write ledger to %s", path), "review.ledger").WithCause(err)
	}
	logger.User.Reportf("Ledger saved to %s", path)
	return nil
}

// fatalError returns the error of the critical task that ended the run.
func fatalError(run *taskmanager.RunResult) error {
	for _, e := range run.Ledger.Entries() {
		if e.Status == taskmanager.StatusFailed && e.Error != nil && e.Error.Err != nil {
			return e.Error.Err
		}
	}
	return errors.New(errors.KindTask, "", "review failed", "review")
}
