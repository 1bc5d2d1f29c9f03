package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/logger"
	"github.com/maxkimambo/revgraph/internal/taskmanager"
)

// DefaultFile is read from the working directory when no --config is given.
const DefaultFile = "revgraph.hcl"

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"

	DefaultGeminiModel   = "gemini-2.0-flash"
	DefaultOllamaModel   = "llama3.2"
	DefaultOllamaBaseURL = "http://localhost:11434"
)

// Config is the fully resolved configuration of one review.
type Config struct {
	LLM         LLMConfig
	Scan        ScanConfig
	Retry       RetryConfig
	Scheduler   SchedulerConfig
	OutputDir   string
	DatabaseURL string
	MetricsAddr string
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// ScanConfig controls which files ingest picks up.
type ScanConfig struct {
	MaxFileSizeMB       int
	CodeOnly            bool
	Ignore              []string
	MaxFilesPerAnalyzer int
}

// RetryConfig mirrors taskmanager.RetryPolicy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// SchedulerConfig bounds the run.
type SchedulerConfig struct {
	MaxParallel int
	TaskTimeout time.Duration
	RunTimeout  time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    ProviderGemini,
			Temperature: 0.1,
			MaxTokens:   8192,
		},
		Scan: ScanConfig{
			MaxFileSizeMB:       5,
			CodeOnly:            true,
			MaxFilesPerAnalyzer: 20,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Jitter:      true,
		},
		Scheduler: SchedulerConfig{
			TaskTimeout: 10 * time.Minute,
			RunTimeout:  30 * time.Minute,
		},
		OutputDir: "./code_reviews",
	}
}

// LoadOptions says where Load looks for its layers.
type LoadOptions struct {
	// ConfigFile is an explicit HCL file. When empty, DefaultFile is used if present.
	ConfigFile string
	// EnvFile is the dotenv file. Empty means ".env"; a missing file is ignored.
	EnvFile string
	// Lookup reads the environment. Nil means os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load resolves defaults, the HCL file, the dotenv file and the environment, in
// that order. Command-line flags are applied by the caller afterwards.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	path := opts.ConfigFile
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	} else if explicit {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("config file %s not found", path), "config.Load").
			WithCause(err).
			WithHint("Check the --config path")
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidConfig,
				fmt.Sprintf("failed to read %s", envFile), "config.Load").WithCause(err)
		}
		logger.Op.WithFields(map[string]interface{}{"file": envFile}).Debug("Loaded dotenv file")
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

type hclFile struct {
	LLM         *hclLLM       `hcl:"llm,block"`
	Scan        *hclScan      `hcl:"scan,block"`
	Retry       *hclRetry     `hcl:"retry,block"`
	Scheduler   *hclScheduler `hcl:"scheduler,block"`
	OutputDir   *string       `hcl:"output_dir,optional"`
	DatabaseURL *string       `hcl:"database_url,optional"`
	MetricsAddr *string       `hcl:"metrics_addr,optional"`
}

type hclLLM struct {
	Provider    *string  `hcl:"provider,optional"`
	Model       *string  `hcl:"model,optional"`
	APIKey      *string  `hcl:"api_key,optional"`
	BaseURL     *string  `hcl:"base_url,optional"`
	Temperature *float64 `hcl:"temperature,optional"`
	MaxTokens   *int     `hcl:"max_tokens,optional"`
}

type hclScan struct {
	MaxFileSizeMB       *int     `hcl:"max_file_size_mb,optional"`
	CodeOnly            *bool    `hcl:"code_only,optional"`
	Ignore              []string `hcl:"ignore,optional"`
	MaxFilesPerAnalyzer *int     `hcl:"max_files_per_analyzer,optional"`
}

type hclRetry struct {
	MaxAttempts *int    `hcl:"max_attempts,optional"`
	BaseDelay   *string `hcl:"base_delay,optional"`
	MaxDelay    *string `hcl:"max_delay,optional"`
	Jitter      *bool   `hcl:"jitter,optional"`
}

type hclScheduler struct {
	MaxParallel *int    `hcl:"max_parallel,optional"`
	TaskTimeout *string `hcl:"task_timeout,optional"`
	RunTimeout  *string `hcl:"run_timeout,optional"`
}

// envFunc lets a config file read secrets from the environment:
// api_key = env("GOOGLE_API_KEY").
var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "name", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

// LoadFile overlays the settings present in an HCL file.
func (c *Config) LoadFile(path string) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fileError(path, "parse", diags)
	}

	evalCtx := &hcl.EvalContext{Functions: map[string]function.Function{"env": envFunc}}
	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &parsed); diags.HasErrors() {
		return fileError(path, "decode", diags)
	}
	if err := c.merge(&parsed); err != nil {
		return errors.NewValidationError(errors.CodeInvalidConfig, err.Error(), "config.LoadFile").
			WithContext("file", path)
	}

	logger.Op.WithFields(map[string]interface{}{"file": path}).Debug("Loaded config file")
	return nil
}

func fileError(path, stage string, diags hcl.Diagnostics) error {
	return errors.NewValidationError(errors.CodeInvalidConfig,
		fmt.Sprintf("failed to %s config file %s", stage, path), "config.LoadFile").
		WithCause(diags).
		WithHint("Blocks: llm, scan, retry, scheduler. Durations are strings such as \"30s\"")
}

func (c *Config) merge(f *hclFile) error {
	setString(&c.OutputDir, f.OutputDir)
	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.MetricsAddr, f.MetricsAddr)

	if l := f.LLM; l != nil {
		setString(&c.LLM.Provider, l.Provider)
		setString(&c.LLM.Model, l.Model)
		setString(&c.LLM.APIKey, l.APIKey)
		setString(&c.LLM.BaseURL, l.BaseURL)
		if l.Temperature != nil {
			c.LLM.Temperature = *l.Temperature
		}
		setInt(&c.LLM.MaxTokens, l.MaxTokens)
	}
	if s := f.Scan; s != nil {
		setInt(&c.Scan.MaxFileSizeMB, s.MaxFileSizeMB)
		if s.CodeOnly != nil {
			c.Scan.CodeOnly = *s.CodeOnly
		}
		c.Scan.Ignore = append(c.Scan.Ignore, s.Ignore...)
		setInt(&c.Scan.MaxFilesPerAnalyzer, s.MaxFilesPerAnalyzer)
	}
	if r := f.Retry; r != nil {
		setInt(&c.Retry.MaxAttempts, r.MaxAttempts)
		if err := setDuration(&c.Retry.BaseDelay, "retry.base_delay", r.BaseDelay); err != nil {
			return err
		}
		if err := setDuration(&c.Retry.MaxDelay, "retry.max_delay", r.MaxDelay); err != nil {
			return err
		}
		if r.Jitter != nil {
			c.Retry.Jitter = *r.Jitter
		}
	}
	if s := f.Scheduler; s != nil {
		setInt(&c.Scheduler.MaxParallel, s.MaxParallel)
		if err := setDuration(&c.Scheduler.TaskTimeout, "scheduler.task_timeout", s.TaskTimeout); err != nil {
			return err
		}
		if err := setDuration(&c.Scheduler.RunTimeout, "scheduler.run_timeout", s.RunTimeout); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, name string, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

// ApplyEnv overlays the supported environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get("LLM_PROVIDER"); ok {
		c.LLM.Provider = strings.ToLower(v)
	}
	switch c.LLM.Provider {
	case ProviderOllama:
		if v, ok := get("OLLAMA_MODEL"); ok {
			c.LLM.Model = v
		}
		if v, ok := get("OLLAMA_BASE_URL"); ok {
			c.LLM.BaseURL = v
		}
	default:
		if v, ok := get("GEMINI_MODEL"); ok {
			c.LLM.Model = v
		}
	}
	if v, ok := get("GOOGLE_API_KEY"); ok {
		c.LLM.APIKey = v
	}
	if v, ok := get("IGNORE_PATTERNS"); ok {
		c.Scan.Ignore = append(c.Scan.Ignore, SplitList(v)...)
	}
	if v, ok := get("MAX_FILE_SIZE_MB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewValidationError(errors.CodeInvalidConfig,
				fmt.Sprintf("MAX_FILE_SIZE_MB must be an integer, got %q", v), "config.ApplyEnv")
		}
		c.Scan.MaxFileSizeMB = n
	}
	if v, ok := get("REVGRAPH_DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := get("REVGRAPH_OUTPUT_DIR"); ok {
		c.OutputDir = v
	}
	return nil
}

// SplitList splits a comma separated list and drops empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Finalize fills provider dependent defaults. Call it after the last overlay.
func (c *Config) Finalize() {
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case ProviderOllama:
			c.LLM.Model = DefaultOllamaModel
		default:
			c.LLM.Model = DefaultGeminiModel
		}
	}
	if c.LLM.Provider == ProviderOllama && c.LLM.BaseURL == "" {
		c.LLM.BaseURL = DefaultOllamaBaseURL
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.LLM.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		add("llm.provider must be %q or %q, got %q", ProviderGemini, ProviderOllama, c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens <= 0 {
		add("llm.max_tokens must be positive")
	}
	if c.Scan.MaxFileSizeMB <= 0 {
		add("scan.max_file_size_mb must be positive")
	}
	if c.Scan.MaxFilesPerAnalyzer <= 0 {
		add("scan.max_files_per_analyzer must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		add("retry delays must not be negative")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		add("retry.base_delay must not exceed retry.max_delay")
	}
	if c.Scheduler.MaxParallel < 0 {
		add("scheduler.max_parallel must not be negative")
	}
	if c.Scheduler.TaskTimeout < 0 || c.Scheduler.RunTimeout < 0 {
		add("scheduler timeouts must not be negative")
	}
	if c.OutputDir == "" {
		add("output_dir is required")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.NewValidationError(errors.CodeInvalidConfig,
		"invalid configuration: "+strings.Join(problems, "; "), "config.Validate").
		WithHint("Settings come from revgraph.hcl, .env, the environment and flags")
}

// RetryPolicy builds the policy used around LLM calls and clones.
func (c *Config) RetryPolicy() *taskmanager.RetryPolicy {
	p := taskmanager.DefaultRetryPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.BaseDelay = c.Retry.BaseDelay
	p.MaxDelay = c.Retry.MaxDelay
	p.Jitter = c.Retry.Jitter
	return p
}

// SchedulerConfig builds the engine configuration.
func (c *Config) SchedulerConfig() *taskmanager.SchedulerConfig {
	sc := taskmanager.DefaultSchedulerConfig()
	sc.MaxParallelTasks = c.Scheduler.MaxParallel
	sc.TaskTimeout = c.Scheduler.TaskTimeout
	return sc
}

// MaxFileSize is the scan limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.Scan.MaxFileSizeMB) * 1024 * 1024
}
