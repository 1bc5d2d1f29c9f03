package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/revgraph/internal/config"
	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/llm"
	"github.com/maxkimambo/revgraph/internal/logger"
	"github.com/maxkimambo/revgraph/internal/review"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
	"github.com/maxkimambo/revgraph/internal/tools"
)

func TestMain(m *testing.M) {
	logger.Setup(false, false, true)
	os.Exit(m.Run())
}

// MockClient implements llm.Client for testing
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Generate(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockClient) Provider() string { return "mock" }
func (m *MockClient) Model() string    { return "mock-1" }

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

func reviewGraph(t *testing.T) *taskmanager.Graph {
	t.Helper()
	g, err := review.New(config.Default(), nil).Graph()
	require.NoError(t, err)
	return g
}

func TestPrintGraph_Order(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printGraph(&out, reviewGraph(t), "order"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "1. ingest [critical]", lines[0])
	assert.Equal(t, "5. aggregate <- performance, security, style", lines[4])
	assert.Contains(t, lines[1], "<- ingest [routed]")
}

func TestPrintGraph_Formats(t *testing.T) {
	g := reviewGraph(t)

	var mermaid bytes.Buffer
	require.NoError(t, printGraph(&mermaid, g, "mermaid"))
	assert.True(t, strings.HasPrefix(mermaid.String(), "flowchart LR"))
	assert.Contains(t, mermaid.String(), "ingest -.-> style")

	var dot bytes.Buffer
	require.NoError(t, printGraph(&dot, g, "DOT"))
	assert.Contains(t, dot.String(), `digraph "code_review"`)

	var raw bytes.Buffer
	require.NoError(t, printGraph(&raw, g, "json"))
	var info taskmanager.GraphInfo
	require.NoError(t, json.Unmarshal(raw.Bytes(), &info))
	assert.Equal(t, "ingest", info.Entry)
	assert.Len(t, info.Nodes, 5)
	assert.Len(t, info.Edges, 6)
}

func TestPrintGraph_UnknownFormat(t *testing.T) {
	err := printGraph(&bytes.Buffer{}, reviewGraph(t), "svg")
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	dir := t.TempDir()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("provider", "", "")
	cmd.Flags().String("model", "", "")
	cmd.Flags().String("output", "", "")
	cmd.Flags().Int("max-files", 0, "")
	cmd.Flags().StringSlice("ignore", nil, "")
	cmd.Flags().Bool("all-files", false, "")
	addConfigFlags(cmd)

	cfgFile := filepath.Join(dir, "revgraph.hcl")
	require.NoError(t, os.WriteFile(cfgFile, []byte("output_dir = \"from-file\"\n"), 0o644))
	require.NoError(t, cmd.Flags().Parse([]string{
		"--config", cfgFile,
		"--env-file", filepath.Join(dir, "missing.env"),
		"--provider", "OLLAMA",
		"--max-files", "5",
		"--ignore", "*.gen.go,testdata/",
		"--all-files",
	}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, config.ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, config.DefaultOllamaModel, cfg.LLM.Model)
	assert.Equal(t, config.DefaultOllamaBaseURL, cfg.LLM.BaseURL)
	assert.Equal(t, "from-file", cfg.OutputDir)
	assert.Equal(t, 5, cfg.Scan.MaxFilesPerAnalyzer)
	assert.False(t, cfg.Scan.CodeOnly)
	assert.Subset(t, cfg.Scan.Ignore, []string{"*.gen.go", "testdata/"})
}

func TestLoadConfig_Invalid(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("max-files", 0, "")
	addConfigFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--max-files", "-1",
	}))

	_, err := loadConfig(cmd)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestWriteLedger(t *testing.T) {
	g := reviewGraph(t)
	client := &MockClient{}
	p := review.New(config.Default(), client)
	result, err := p.Run(context.Background(), review.Request{Path: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, writeLedger(path, result.Run))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Outcome string `json:"outcome"`
		Tasks   []struct {
			TaskID     string `json:"task_id"`
			Status     string `json:"status"`
			SkipReason string `json:"skip_reason"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "fatal", doc.Outcome)
	require.Len(t, doc.Tasks, g.Len())
	assert.Equal(t, "Failed", doc.Tasks[0].Status)
	assert.Equal(t, "upstream_failed", doc.Tasks[4].SkipReason)

	err = fatalError(result.Run)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestToolChecks(t *testing.T) {
	runner := &MockRunner{}
	runner.On("LookPath", "git").Return("/usr/bin/git", nil)
	runner.On("Run", mock.Anything, "", "git", []string{"--version"}).
		Return(&tools.Result{Stdout: []byte("git version 2.43.0\n")}, nil)
	runner.On("LookPath", "bandit").Return("/usr/bin/bandit", nil)
	runner.On("Run", mock.Anything, "", "bandit", []string{"--version"}).
		Return(&tools.Result{ExitCode: 2}, nil)
	runner.On("LookPath", "radon").Return("", exec.ErrNotFound)

	checks := toolChecks(context.Background(), runner)
	runner.AssertExpectations(t)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, "radon", mock.Anything)

	require.Len(t, checks, 3)
	assert.Equal(t, doctorCheck{"git", checkOK, "git version 2.43.0"}, checks[0])
	assert.Equal(t, checkWarn, checks[1].Status)
	assert.Equal(t, checkWarn, checks[2].Status)
	assert.Contains(t, checks[2].Detail, tools.InstallRadon)
	assert.Equal(t, 2, countStatus(checks, checkWarn))
}

func TestConfigChecks(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.APIKey = ""
	cfg.Finalize()

	checks := configChecks(cfg)
	require.Len(t, checks, 3)
	assert.Equal(t, checkOK, checks[0].Status)
	assert.Contains(t, checks[0].Detail, config.ProviderGemini)
	assert.Equal(t, doctorCheck{"credentials", checkWarn,
		"GOOGLE_API_KEY not set, application default credentials will be used"}, checks[1])
	assert.Equal(t, checkOK, checks[2].Status)
	assert.Contains(t, checks[2].Detail, "5 tasks: ingest -> ")

	cfg.LLM.APIKey = "secret"
	assert.Equal(t, checkOK, configChecks(cfg)[1].Status)
}

func TestDoctorTable(t *testing.T) {
	out := doctorTable([]doctorCheck{{"git", checkOK, "git version 2.43.0"}})
	assert.Contains(t, out, "Check")
	assert.Contains(t, out, "git version 2.43.0")
	assert.Equal(t, "installed", firstLine(nil, []byte("  \n")))
	assert.Equal(t, "radon 6.0.1", firstLine(nil, []byte("\nradon 6.0.1\n")))
}
