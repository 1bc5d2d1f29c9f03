package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/revgraph/internal/errors"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	cfg.Finalize()

	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, DefaultGeminiModel, cfg.LLM.Model)
	assert.Equal(t, 0.1, cfg.LLM.Temperature)
	assert.Equal(t, 8192, cfg.LLM.MaxTokens)
	assert.Equal(t, int64(5*1024*1024), cfg.MaxFileSize())
	assert.Equal(t, 20, cfg.Scan.MaxFilesPerAnalyzer)
	assert.Equal(t, "./code_reviews", cfg.OutputDir)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.TaskTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.RunTimeout)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("REVGRAPH_TEST_KEY", "from-env-func")
	path := writeFile(t, t.TempDir(), "revgraph.hcl", `
output_dir = "/tmp/reviews"

llm {
  provider    = "ollama"
  model       = "qwen2.5-coder"
  api_key     = env("REVGRAPH_TEST_KEY")
  temperature = 0.3
}

scan {
  ignore                 = ["fixtures", "*.generated.py"]
  max_files_per_analyzer = 5
}

retry {
  max_attempts = 4
  base_delay   = "250ms"
}

scheduler {
  max_parallel = 2
  task_timeout = "2m"
}
`)

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))
	cfg.Finalize()

	assert.Equal(t, "/tmp/reviews", cfg.OutputDir)
	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "qwen2.5-coder", cfg.LLM.Model)
	assert.Equal(t, "from-env-func", cfg.LLM.APIKey)
	assert.Equal(t, DefaultOllamaBaseURL, cfg.LLM.BaseURL)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)
	assert.Equal(t, 8192, cfg.LLM.MaxTokens, "unset attributes keep their default")
	assert.Equal(t, []string{"fixtures", "*.generated.py"}, cfg.Scan.Ignore)
	assert.Equal(t, 5, cfg.Scan.MaxFilesPerAnalyzer)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2, cfg.Scheduler.MaxParallel)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.TaskTimeout)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", `llm {`},
		{"unknown block", `database { url = "x" }`},
		{"bad duration", `retry { base_delay = "soon" }`},
		{"wrong type", `scan { max_file_size_mb = "big" }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".hcl", tt.content)
			err := Default().LoadFile(path)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrValidation))
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
		"LLM_PROVIDER":          "Ollama",
		"OLLAMA_MODEL":          "codellama",
		"OLLAMA_BASE_URL":       "http://gpu-box:11434",
		"GEMINI_MODEL":          "ignored-for-ollama",
		"IGNORE_PATTERNS":       "migrations, ,*.lock",
		"MAX_FILE_SIZE_MB":      "2",
		"REVGRAPH_DATABASE_URL": "postgres://localhost/revgraph",
		"REVGRAPH_OUTPUT_DIR":   "out",
	})))

	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "codellama", cfg.LLM.Model)
	assert.Equal(t, "http://gpu-box:11434", cfg.LLM.BaseURL)
	assert.Equal(t, []string{"migrations", "*.lock"}, cfg.Scan.Ignore)
	assert.Equal(t, 2, cfg.Scan.MaxFileSizeMB)
	assert.Equal(t, "postgres://localhost/revgraph", cfg.DatabaseURL)
	assert.Equal(t, "out", cfg.OutputDir)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	err := Default().ApplyEnv(envMap(map[string]string{"MAX_FILE_SIZE_MB": "lots"}))
	assert.True(t, stderrors.Is(err, errors.ErrValidation))
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "custom.hcl", `
output_dir = "from-file"
llm {
  model = "file-model"
}
`)
	envPath := writeFile(t, dir, ".env", "REVGRAPH_OUTPUT_DIR=from-dotenv\nGEMINI_MODEL=dotenv-model\n")
	t.Setenv("GEMINI_MODEL", "process-model")
	os.Unsetenv("REVGRAPH_OUTPUT_DIR")
	t.Cleanup(func() { os.Unsetenv("REVGRAPH_OUTPUT_DIR") })

	cfg, err := Load(LoadOptions{ConfigFile: cfgPath, EnvFile: envPath})
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.OutputDir, ".env beats the file")
	assert.Equal(t, "process-model", cfg.LLM.Model, "the process environment beats .env")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.hcl"), Lookup: envMap(nil)})
	assert.True(t, stderrors.Is(err, errors.ErrValidation))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.LLM.APIKey = "key"
		cfg.Finalize()
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.LLM.Provider = "openai" }, `llm.provider must be "gemini" or "ollama"`},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"delays", func(c *Config) { c.Retry.BaseDelay = time.Minute }, "retry.base_delay must not exceed"},
		{"parallel", func(c *Config) { c.Scheduler.MaxParallel = -1 }, "scheduler.max_parallel"},
		{"output", func(c *Config) { c.OutputDir = "" }, "output_dir is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, errors.KindValidation, errors.KindOf(err))
		})
	}
}

func TestValidate_NoKeyNeeded(t *testing.T) {
	// gemini falls back to application default credentials, ollama needs none
	for _, provider := range []string{ProviderGemini, ProviderOllama} {
		cfg := Default()
		cfg.LLM.Provider = provider
		cfg.Finalize()
		assert.NoError(t, cfg.Validate(), provider)
	}
}

func TestEngineSettings(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxAttempts = 5
	cfg.Scheduler.MaxParallel = 3

	p := cfg.RetryPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.NotNil(t, p.IsRetryable)

	sc := cfg.SchedulerConfig()
	assert.Equal(t, 3, sc.MaxParallelTasks)
	assert.Equal(t, 10*time.Minute, sc.TaskTimeout)
}
