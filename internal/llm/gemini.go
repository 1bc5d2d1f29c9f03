package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/maxkimambo/revgraph/internal/config"
	"github.com/maxkimambo/revgraph/internal/errors"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	generativeScope      = "https://www.googleapis.com/auth/generative-language"
)

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewGemini creates a Gemini client. Without an API key it authenticates with
// Application Default Credentials.
func NewGemini(ctx context.Context, cfg config.LLMConfig, hc *http.Client) (*GeminiClient, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultGeminiModel
	}

	if hc == nil {
		if cfg.APIKey != "" {
			hc = &http.Client{Timeout: defaultHTTPTimeout}
		} else {
			client, _, err := htransport.NewClient(ctx, option.WithScopes(generativeScope))
			if err != nil {
				return nil, errors.NewExternalServiceError(errors.CodeServiceAuth,
					"no Gemini API key and no application default credentials", "llm.NewGemini", false).
					WithCause(err).
					WithHint("Set GOOGLE_API_KEY", "Or run 'gcloud auth application-default login'")
			}
			hc = client
		}
	}

	return &GeminiClient{apiKey: cfg.APIKey, baseURL: baseURL, model: model, http: hc}, nil
}

func (c *GeminiClient) Provider() string { return config.ProviderGemini }
func (c *GeminiClient) Model() string    { return c.model }

type generateContentRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      *content `json:"content,omitempty"`
		FinishReason string   `json:"finishReason,omitempty"`
	} `json:"candidates,omitempty"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

// Generate returns the text of the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	const op = "gemini.generateContent"

	body := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
	}
	if req.System != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	gc := &generationConfig{Temperature: &req.Temperature}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = &req.MaxTokens
	}
	body.GenerationConfig = gc

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("x-goog-api-key", c.apiKey)
	}

	var resp generateContentResponse
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	if err := postJSON(ctx, c.http, op, url, header, body, &resp); err != nil {
		return "", err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", errors.NewExternalServiceError(errors.CodeServiceResponse,
			"prompt blocked: "+resp.PromptFeedback.BlockReason, op, false)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.NewExternalServiceError(errors.CodeServiceResponse, "response has no candidates", op, false)
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.NewExternalServiceError(errors.CodeServiceResponse,
			fmt.Sprintf("empty completion (finish reason %s)", resp.Candidates[0].FinishReason), op, false)
	}
	return sb.String(), nil
}
