package review

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/revgraph/internal/config"
	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/history"
	"github.com/maxkimambo/revgraph/internal/llm"
	"github.com/maxkimambo/revgraph/internal/logger"
	"github.com/maxkimambo/revgraph/internal/report"
	"github.com/maxkimambo/revgraph/internal/source"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
	"github.com/maxkimambo/revgraph/internal/tools"
)

func TestMain(m *testing.M) {
	logger.Setup(false, false, true)
	os.Exit(m.Run())
}

// MockModel implements llm.Client for testing. Expectations match on the
// analyzer that sent the request, identified by its system prompt.
type MockModel struct {
	mock.Mock
	scripted map[string]bool
}

// newModel answers "[]" to every analyzer without a scripted expectation.
func newModel() *MockModel {
	m := &MockModel{scripted: map[string]bool{}}
	m.On("Generate", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		return !m.scripted[analyzerName(req.System)]
	})).Return("[]", nil).Maybe()
	return m
}

func (m *MockModel) Generate(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockModel) Provider() string { return "mock" }
func (m *MockModel) Model() string    { return "mock-1" }

func (m *MockModel) answer(name, text string) {
	m.scripted[name] = true
	m.On("Generate", mock.Anything, sentBy(name)).Return(text, nil)
}

func (m *MockModel) fail(name string, err error) {
	m.scripted[name] = true
	m.On("Generate", mock.Anything, sentBy(name)).Return("", err)
}

// requestsFrom returns the requests one analyzer sent, once the run is over.
func (m *MockModel) requestsFrom(name string) []llm.Request {
	var out []llm.Request
	for _, c := range m.Calls {
		if req := c.Arguments.Get(1).(llm.Request); analyzerName(req.System) == name {
			out = append(out, req)
		}
	}
	return out
}

func sentBy(name string) interface{} {
	return mock.MatchedBy(func(req llm.Request) bool { return analyzerName(req.System) == name })
}

func analyzerName(system string) string {
	for _, a := range []analyzer{securityAnalyzer, performanceAnalyzer, styleAnalyzer} {
		if a.system == system {
			return a.name
		}
	}
	return "unknown"
}

// MockRunner implements tools.Runner for testing
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) LookPath(name string) (string, error) {
	args := m.Called(name)
	return args.String(0), args.Error(1)
}

func (m *MockRunner) Run(ctx context.Context, dir string, name string, args ...string) (*tools.Result, error) {
	ret := m.Called(ctx, dir, name, args)
	res, _ := ret.Get(0).(*tools.Result)
	return res, ret.Error(1)
}

// newRunner reports bandit and radon as installed only when outputs has an entry
// for them.
func newRunner(outputs map[string]*tools.Result) *MockRunner {
	m := &MockRunner{}
	for _, name := range []string{"bandit", "radon"} {
		res, ok := outputs[name]
		if !ok {
			m.On("LookPath", name).Return("", exec.ErrNotFound).Maybe()
			continue
		}
		m.On("LookPath", name).Return("/usr/bin/"+name, nil).Maybe()
		m.On("Run", mock.Anything, mock.Anything, name, mock.Anything).Return(res, nil).Maybe()
	}
	return m
}

// MockRecorder implements Recorder for testing
type MockRecorder struct {
	mock.Mock
}

func newRecorder() *MockRecorder {
	m := &MockRecorder{}
	m.On("Record", mock.Anything, mock.Anything).Return(nil).Once()
	return m
}

func (m *MockRecorder) Record(ctx context.Context, run history.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockRecorder) recorded(t *testing.T) history.Run {
	t.Helper()
	m.AssertExpectations(t)
	return m.Calls[0].Arguments.Get(1).(history.Run)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Scheduler.TaskTimeout = 10 * time.Second
	cfg.Scheduler.RunTimeout = 30 * time.Second
	return cfg
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func statuses(run *taskmanager.RunResult) map[string]taskmanager.Status {
	out := map[string]taskmanager.Status{}
	for _, e := range run.Ledger.Entries() {
		out[e.TaskID] = e.Status
	}
	return out
}

const banditJSON = `{
  "errors": [],
  "results": [{
    "filename": "app.py",
    "line_number": 3,
    "issue_severity": "HIGH",
    "issue_confidence": "HIGH",
    "test_id": "B608",
    "test_name": "hardcoded_sql_expressions",
    "issue_text": "Possible SQL injection vector through string-based query construction.",
    "issue_cwe": {"id": 89}
  }]
}`

const appSource = `import sqlite3

def find(db, uid):
    return db.execute("SELECT * FROM users WHERE id = " + uid)
`

func TestGraphShape(t *testing.T) {
	p := New(testConfig(), newModel())
	g, err := p.Graph()
	require.NoError(t, err)

	assert.Equal(t, GraphID, g.ID())
	assert.Equal(t, TaskIngest, g.Entry())
	order := g.Order()
	require.Len(t, order, 5)
	assert.Equal(t, TaskIngest, order[0])
	assert.Equal(t, TaskAggregate, order[4])
	assert.ElementsMatch(t, []string{TaskSecurity, TaskPerformance, TaskStyle}, g.Dependencies(TaskAggregate))

	ingest, ok := g.Task(TaskIngest)
	require.True(t, ok)
	assert.True(t, ingest.Critical)
	for _, id := range []string{TaskSecurity, TaskPerformance, TaskStyle} {
		task, _ := g.Task(id)
		assert.NotNil(t, task.RouteWhen, id)
		assert.False(t, task.Critical, id)
	}
}

func TestRun_MissingPathIsFatal(t *testing.T) {
	model := newModel()
	rec := newRecorder()
	p := New(testConfig(), model, WithRunner(newRunner(nil)), WithHistory(rec))

	result, err := p.Run(context.Background(), Request{
		Path:      filepath.Join(t.TempDir(), "does-not-exist"),
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	assert.True(t, result.Run.Fatal)
	assert.Equal(t, "fatal", result.Run.Outcome())
	assert.Nil(t, result.Report)
	assert.Empty(t, result.ReportPath)

	ingest, _ := result.Run.Ledger.Get(TaskIngest)
	assert.Equal(t, taskmanager.StatusFailed, ingest.Status)
	require.NotNil(t, ingest.Error)
	assert.Equal(t, errors.KindValidation, ingest.Error.Kind)
	for _, id := range []string{TaskSecurity, TaskPerformance, TaskStyle, TaskAggregate} {
		e, _ := result.Run.Ledger.Get(id)
		assert.Equal(t, taskmanager.StatusSkipped, e.Status, id)
		assert.Equal(t, taskmanager.SkipUpstreamFailed, e.SkipReason, id)
	}
	model.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

	got := rec.recorded(t)
	assert.Equal(t, "fatal", got.Outcome)
	assert.Equal(t, -1, got.HealthScore)
}

func TestRun_EmptyDirectorySkipsAnalyzers(t *testing.T) {
	out := t.TempDir()
	p := New(testConfig(), newModel(), WithRunner(newRunner(nil)))

	result, err := p.Run(context.Background(), Request{Path: t.TempDir(), OutputDir: out})
	require.NoError(t, err)

	assert.False(t, result.Run.Fatal)
	for _, id := range []string{TaskSecurity, TaskPerformance, TaskStyle} {
		e, _ := result.Run.Ledger.Get(id)
		assert.Equal(t, taskmanager.StatusSkipped, e.Status, id)
		assert.Equal(t, taskmanager.SkipRouteNotTaken, e.SkipReason, id)
	}
	assert.Equal(t, taskmanager.StatusSucceeded, result.Run.Ledger.Status(TaskAggregate))

	require.NotNil(t, result.Report)
	assert.Equal(t, 0, result.Report.Summary.Total)
	assert.Equal(t, 100, result.Report.Summary.HealthScore)
	assert.Contains(t, result.Report.Markdown, "No critical issues found.")

	require.NotEmpty(t, result.ReportPath)
	assert.Equal(t, out, filepath.Dir(result.ReportPath))
	assert.True(t, strings.HasPrefix(filepath.Base(result.ReportPath), "REVIEW_REPORT_"))
	data, err := os.ReadFile(result.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, result.Report.Markdown, string(data))
}

func TestRun_ReviewsFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"app.py":    appSource,
		"README.md": "# demo\n",
	})

	model := newModel()
	model.answer(TaskSecurity, "Here you go:\n```json\n"+
		`[{"line": 3, "severity": "high", "confidence": "HIGH", "issue_type": "SQL Injection",`+
		` "description": "Query built by concatenation.", "recommendation": "Use parameters.", "cwe_id": 89}]`+
		"\n```")
	model.answer(TaskStyle, `[{"line": "1", "severity": "low", "issue_type": "Naming",`+
		` "description": "Unused import.", "principle_violated": "PEP 8"}]`)

	runner := newRunner(map[string]*tools.Result{
		"bandit": {Stdout: []byte(banditJSON), ExitCode: 1},
	})
	rec := newRecorder()
	p := New(testConfig(), model, WithRunner(runner), WithHistory(rec), WithFileConcurrency(2))

	result, err := p.Run(context.Background(), Request{Path: dir, OutputDir: t.TempDir(), RunID: "run-1"})
	require.NoError(t, err)

	for id, status := range statuses(result.Run) {
		assert.Equal(t, taskmanager.StatusSucceeded, status, id)
	}
	assert.Equal(t, "run-1", result.Run.RunID)

	security := model.requestsFrom(TaskSecurity)
	require.Len(t, security, 1)
	assert.Contains(t, security[0].Prompt, "B608")
	assert.Contains(t, security[0].Prompt, "```python")

	rep := result.Report
	require.NotNil(t, rep)
	// bandit's raw hit is replaced by the model's verdict on the same file
	assert.Equal(t, 1, rep.Summary.Security)
	assert.Equal(t, 1, rep.Summary.SecurityHigh)
	assert.Equal(t, 1, rep.Summary.Style)
	assert.Equal(t, 95, rep.Summary.HealthScore)
	assert.Equal(t, "Excellent", rep.Summary.HealthLabel)
	assert.ElementsMatch(t, []string{TaskSecurity, TaskPerformance, TaskStyle}, rep.Input.AnalyzersRun)

	var sec report.Finding
	for _, f := range rep.Input.Findings {
		if f.Category == report.CategorySecurity {
			sec = f
		}
	}
	assert.Equal(t, "llm", sec.Source)
	assert.Equal(t, "CWE-89", sec.CWEID)
	assert.Equal(t, "app.py", sec.File)

	// radon is not installed
	require.Len(t, rep.Input.Warnings, 1)
	assert.Contains(t, rep.Input.Warnings[0], "radon")

	model.AssertExpectations(t)
	runner.AssertCalled(t, "Run", mock.Anything, mock.Anything, "bandit", []string{"-f", "json", "-ll", "-q", "app.py"})

	got := rec.recorded(t)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, dir, got.InputPath)
	assert.Equal(t, "local", got.SourceType)
	assert.Equal(t, 2, got.TotalFiles)
	assert.Equal(t, 95, got.HealthScore)
	assert.Equal(t, 2, got.Findings)
	assert.Len(t, got.Tasks, 5)
}

func TestRun_KeepsToolHitsForUnreviewedFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{"app.py": appSource, "zz.py": "x = 1\n"})
	cfg := testConfig()
	cfg.Scan.MaxFilesPerAnalyzer = 1

	var out struct {
		Errors  []json.RawMessage `json:"errors"`
		Results []map[string]any  `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(banditJSON), &out))
	second := map[string]any{}
	for k, v := range out.Results[0] {
		second[k] = v
	}
	second["filename"] = "zz.py"
	second["line_number"] = 1
	out.Results = append(out.Results, second)
	stdout, err := json.Marshal(out)
	require.NoError(t, err)

	runner := newRunner(map[string]*tools.Result{
		"bandit": {Stdout: stdout, ExitCode: 1},
	})
	model := newModel()
	p := New(cfg, model, WithRunner(runner))

	result, err := p.Run(context.Background(), Request{Path: dir})
	require.NoError(t, err)
	assert.Empty(t, result.ReportPath)

	// both files have one hit; the limit leaves zz.py to the scanner alone
	calls := model.requestsFrom(TaskSecurity)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "app.py")

	var security []report.Finding
	for _, f := range result.Report.Input.Findings {
		if f.Category == report.CategorySecurity {
			security = append(security, f)
		}
	}
	require.Len(t, security, 1)
	assert.Equal(t, "bandit", security[0].Source)
	assert.Equal(t, "zz.py", security[0].File)
	assert.Equal(t, "CWE-89", security[0].CWEID)
}

func TestRun_EveryModelCallFailingFailsAnalyzer(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.py": appSource, "b.py": "y = 2\n"})
	model := newModel()
	model.fail(TaskSecurity, errors.NewExternalServiceError(errors.CodeServiceResponse, "boom", "llm.gemini", false))

	p := New(testConfig(), model, WithRunner(newRunner(nil)))
	result, err := p.Run(context.Background(), Request{Path: dir})
	require.NoError(t, err)

	e, _ := result.Run.Ledger.Get(TaskSecurity)
	assert.Equal(t, taskmanager.StatusFailed, e.Status)
	require.NotNil(t, e.Error)
	assert.Equal(t, errors.KindExternalService, e.Error.Kind)
	assert.Len(t, model.requestsFrom(TaskSecurity), 2)
	assert.Equal(t, taskmanager.StatusSucceeded, result.Run.Ledger.Status(TaskAggregate))
}

func TestRun_AnalyzerFailureDegradesReport(t *testing.T) {
	dir := writeFiles(t, map[string]string{"main.go": "package main\n\nfunc main() {}\n"})
	model := newModel()
	model.fail(TaskStyle, errors.NewExternalServiceError(errors.CodeServiceResponse, "model unavailable", "llm.gemini", false))

	p := New(testConfig(), model, WithRunner(newRunner(nil)))
	result, err := p.Run(context.Background(), Request{Path: dir})
	require.NoError(t, err)

	assert.False(t, result.Run.Fatal)
	assert.Equal(t, taskmanager.StatusFailed, result.Run.Ledger.Status(TaskStyle))
	assert.Equal(t, taskmanager.StatusSucceeded, result.Run.Ledger.Status(TaskSecurity))
	assert.Equal(t, taskmanager.StatusSucceeded, result.Run.Ledger.Status(TaskAggregate))

	rep := result.Report
	require.NotNil(t, rep)
	assert.NotContains(t, rep.Input.AnalyzersRun, TaskStyle)
	joined := strings.Join(rep.Input.Warnings, "\n")
	assert.Contains(t, joined, "model unavailable")
	assert.Contains(t, joined, "style")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(testConfig(), newModel(), WithRunner(newRunner(nil)))
	result, err := p.Run(ctx, Request{Path: t.TempDir()})
	require.NoError(t, err)

	assert.True(t, result.Run.Cancelled)
	assert.Nil(t, result.Report)
	for id, status := range statuses(result.Run) {
		assert.Equal(t, taskmanager.StatusSkipped, status, id)
	}
}

func TestReviewFiles_UnparseableAnswerIsWarning(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.js": "let a = 1\n", "b.js": "let b = 2\n"})
	model := newModel()
	model.answer(TaskStyle, "I could not find anything worth reporting.")

	p := New(testConfig(), model, WithRunner(newRunner(nil)))
	result, err := p.Run(context.Background(), Request{Path: dir})
	require.NoError(t, err)

	assert.Equal(t, taskmanager.StatusSucceeded, result.Run.Ledger.Status(TaskStyle))
	require.NotNil(t, result.Report)
	assert.Equal(t, 0, result.Report.Summary.Style)
	assert.Len(t, model.requestsFrom(TaskStyle), 2)
	var unreadable int
	for _, w := range result.Report.Input.Warnings {
		if strings.Contains(w, "unreadable model output") {
			unreadable++
		}
	}
	assert.Equal(t, 2, unreadable)
}

func TestModelFindingDecoding(t *testing.T) {
	var got []modelFinding
	require.NoError(t, json.Unmarshal([]byte(`[
		{"line": "42", "severity": "High", "cwe_id": 79, "issue_type": null},
		{"line": 7.0, "impact": "critical", "current_complexity": "O(n^2)"},
		{"line": "n/a", "severity": "unheard-of"}
	]`), &got))
	require.Len(t, got, 3)

	first := securityAnalyzer.toFinding("web/app.py", got[0])
	assert.Equal(t, 42, first.Line)
	assert.Equal(t, report.SeverityHigh, first.Severity)
	assert.Equal(t, "CWE-79", first.CWEID)
	assert.Equal(t, "Security Issue", first.IssueType)
	assert.Equal(t, report.CategorySecurity, first.Category)

	second := performanceAnalyzer.toFinding("lib/sort.py", got[1])
	assert.Equal(t, 7, second.Line)
	assert.Equal(t, report.SeverityCritical, second.Impact)
	assert.Equal(t, report.SeverityCritical, second.Severity)
	assert.Equal(t, "O(n^2)", second.CurrentComplexity)

	third := styleAnalyzer.toFinding("x.py", got[2])
	assert.Equal(t, 0, third.Line)
	assert.Equal(t, report.SeverityMedium, third.Severity)
}

func TestPrioritize(t *testing.T) {
	files := reviewable(fileInfos("c.py", "a.py", "b.py", "notes.txt"))
	require.Len(t, files, 3)

	got := prioritize(files, map[string]int{"b.py": 2, "c.py": 1}, 2)
	assert.Equal(t, []string{"b.py", "c.py"}, relPaths(got))

	got = prioritize(files, nil, 0)
	assert.Equal(t, []string{"a.py", "b.py", "c.py"}, relPaths(got))
}

func TestRelease_RunsCleanupsInReverse(t *testing.T) {
	r := &review{}
	var order []int
	r.onCleanup(func() { order = append(order, 1) })
	r.onCleanup(func() { order = append(order, 2) })
	r.release()
	r.release()
	assert.Equal(t, []int{2, 1}, order)
}

func fileInfos(names ...string) []source.FileInfo {
	out := make([]source.FileInfo, len(names))
	for i, n := range names {
		out[i] = source.FileInfo{Path: n, RelPath: n, Name: n, Extension: filepath.Ext(n)}
	}
	return out
}
