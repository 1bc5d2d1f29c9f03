package review

import (
	"context"
	"time"

	"github.com/maxkimambo/revgraph/internal/config"
	"github.com/maxkimambo/revgraph/internal/history"
	"github.com/maxkimambo/revgraph/internal/llm"
	"github.com/maxkimambo/revgraph/internal/logger"
	"github.com/maxkimambo/revgraph/internal/report"
	"github.com/maxkimambo/revgraph/internal/source"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
	"github.com/maxkimambo/revgraph/internal/tools"
)

// GraphID names the review graph in logs, metrics and visualizations.
const GraphID = "code_review"

const defaultFileConcurrency = 4

// Recorder stores finished runs.
type Recorder interface {
	Record(ctx context.Context, run history.Run) error
}

// Pipeline runs code reviews. It is safe to call Run concurrently; each call
// builds its own graph and state.
type Pipeline struct {
	llm             llm.Client
	runner          tools.Runner
	cloner          *source.Cloner
	retry           *taskmanager.RetryPolicy
	scheduler       *taskmanager.SchedulerConfig
	scan            source.ScanOptions
	maxFiles        int
	temperature     float64
	maxTokens       int
	fileConcurrency int
	runTimeout      time.Duration
	metrics         *taskmanager.Metrics
	history         Recorder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRunner replaces the executor used for git, bandit and radon.
func WithRunner(r tools.Runner) Option {
	return func(p *Pipeline) { p.runner = r }
}

// WithMetrics records scheduler metrics.
func WithMetrics(m *taskmanager.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithHistory records every finished run.
func WithHistory(r Recorder) Option {
	return func(p *Pipeline) { p.history = r }
}

// WithFileConcurrency bounds concurrent model requests within one analyzer.
func WithFileConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.fileConcurrency = n
		}
	}
}

// New creates a pipeline from a validated configuration.
func New(cfg *config.Config, client llm.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		llm:       client,
		runner:    tools.ExecRunner{},
		retry:     cfg.RetryPolicy(),
		scheduler: cfg.SchedulerConfig(),
		scan: source.ScanOptions{
			MaxFileSize: cfg.MaxFileSize(),
			CodeOnly:    cfg.Scan.CodeOnly,
			Ignore:      cfg.Scan.Ignore,
		},
		maxFiles:        cfg.Scan.MaxFilesPerAnalyzer,
		temperature:     cfg.LLM.Temperature,
		maxTokens:       cfg.LLM.MaxTokens,
		fileConcurrency: defaultFileConcurrency,
		runTimeout:      cfg.Scheduler.RunTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cloner = source.NewCloner(p.runner, p.retry)
	return p
}

// Graph builds the review graph without running it.
func (p *Pipeline) Graph() (*taskmanager.Graph, error) {
	return p.graph(&review{p: p})
}

func (p *Pipeline) graph(r *review) (*taskmanager.Graph, error) {
	gb := taskmanager.NewGraphBuilder(GraphID)
	for key, strategy := range schema {
		gb.DeclareKey(key, strategy)
	}

	gb.AddTask(taskmanager.Task{
		ID:          TaskIngest,
		Description: "Acquire the source and list the files to review",
		Handler:     r.ingest,
		Critical:    true,
	})
	for _, branch := range []struct {
		id, description string
		handler         taskmanager.TaskFunc
	}{
		{TaskSecurity, "Bandit scan and model security review", r.security},
		{TaskPerformance, "Radon complexity and model performance review", r.performance},
		{TaskStyle, "Model code quality review", r.style},
	} {
		gb.AddTask(taskmanager.Task{
			ID:          branch.id,
			Description: branch.description,
			DependsOn:   []string{TaskIngest},
			RouteWhen:   hasFiles,
			Handler:     branch.handler,
		})
	}
	gb.AddTask(taskmanager.Task{
		ID:          TaskAggregate,
		Description: "Build the review report",
		DependsOn:   []string{TaskSecurity, TaskPerformance, TaskStyle},
		Handler:     r.aggregate,
	})

	return gb.SetEntry(TaskIngest).Build()
}

// Request is one review.
type Request struct {
	// Path is a local directory or a git repository URL.
	Path string
	// OutputDir receives the markdown report; empty skips writing it.
	OutputDir string
	RunID     string
}

// Result is the outcome of Run.
type Result struct {
	Run        *taskmanager.RunResult
	Report     *report.Report
	ReportPath string
}

// Run executes one review. The returned error is non-nil only when the run
// could not start or the report could not be written; task failures are in
// Result.Run.Ledger. Scratch directories are removed before Run returns.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	r := &review{p: p}
	defer r.release()

	g, err := p.graph(r)
	if err != nil {
		return nil, err
	}
	state, err := g.NewState(taskmanager.Update{
		KeyInputPath: req.Path,
		KeyOutputDir: req.OutputDir,
	})
	if err != nil {
		return nil, err
	}

	runOpts := []taskmanager.RunOption{taskmanager.WithTimeout(p.runTimeout)}
	if req.RunID != "" {
		runOpts = append(runOpts, taskmanager.WithRunID(req.RunID))
	}
	rc := taskmanager.NewRunContext(ctx, runOpts...)
	defer rc.Release()

	logger.User.Startingf("Reviewing %s with %s", req.Path, llm.Describe(p.llm))
	run, err := taskmanager.NewScheduler(g, p.scheduler, taskmanager.WithMetrics(p.metrics)).Run(rc, state)
	if err != nil {
		return nil, err
	}

	result := &Result{Run: run, Report: ReportFrom(state.View())}
	if result.Report != nil && req.OutputDir != "" {
		path, err := report.Write(req.OutputDir, result.Report)
		if err != nil {
			p.record(ctx, req, result)
			return result, err
		}
		result.ReportPath = path
		logger.User.Reportf("Report saved to %s", path)
	}
	p.record(ctx, req, result)
	return result, nil
}

func (p *Pipeline) record(ctx context.Context, req Request, result *Result) {
	if p.history == nil {
		return
	}
	run := history.FromResult(result.Run)
	run.InputPath = req.Path
	run.SourceType = stringValue(result.Run.State.View(), KeySourceType)
	run.TotalFiles, _ = taskmanager.Value[int](result.Run.State.View(), KeyTotalFiles)
	if result.Report != nil {
		run.HealthScore = result.Report.Summary.HealthScore
		run.Findings = result.Report.Summary.Total
	}

	// a cancelled review is still worth recording
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.history.Record(recordCtx, run); err != nil {
		logger.Op.WithFields(map[string]interface{}{
			"run_id": run.RunID,
			"error":  err.Error(),
		}).Warn("Failed to record run history")
	}
}
