// Package llm talks to the language models that review source files.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/maxkimambo/revgraph/internal/config"
	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/logger"
)

const defaultHTTPTimeout = 5 * time.Minute

// Request is one system + user prompt exchange.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Client generates a text completion. Implementations classify failures as
// ExternalService errors so RetryPolicy can tell transient from fatal.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
	Provider() string
	Model() string
}

// New creates the client for cfg.Provider. hc may be nil.
func New(ctx context.Context, cfg config.LLMConfig, hc *http.Client) (Client, error) {
	logger.Op.WithFields(map[string]interface{}{
		"provider": cfg.Provider,
		"model":    cfg.Model,
	}).Debug("Initializing LLM client")

	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGemini(ctx, cfg, hc)
	case config.ProviderOllama:
		return NewOllama(cfg, hc), nil
	default:
		return nil, errors.NewValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("unknown LLM provider %q", cfg.Provider), "llm.New").
			WithHint(fmt.Sprintf("Use %q or %q", config.ProviderGemini, config.ProviderOllama))
	}
}

// Describe renders "provider/model" for logs and reports.
func Describe(c Client) string {
	return c.Provider() + "/" + c.Model()
}
