package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/maxkimambo/revgraph/internal/config"
	"github.com/maxkimambo/revgraph/internal/errors"
)

// OllamaClient calls a local Ollama server's /api/chat endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewOllama creates an Ollama client. hc may be nil.
func NewOllama(cfg config.LLMConfig, hc *http.Client) *OllamaClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultOllamaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultOllamaModel
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &OllamaClient{baseURL: baseURL, model: model, http: hc}
}

func (c *OllamaClient) Provider() string { return config.ProviderOllama }
func (c *OllamaClient) Model() string    { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Model      string      `json:"model"`
	Message    chatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason,omitempty"`
}

// Generate sends a non-streaming chat request.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	const op = "ollama.chat"

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:    c.model,
		Messages: messages,
		Options:  chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}

	var resp chatResponse
	if err := postJSON(ctx, c.http, op, c.baseURL+"/api/chat", nil, body, &resp); err != nil {
		if errors.KindOf(err) == errors.KindExternalService && errors.IsRetryableError(err) {
			if pe, ok := err.(*errors.PipelineError); ok {
				pe.WithHint("Is 'ollama serve' running at " + c.baseURL + "?")
			}
		}
		return "", err
	}
	if resp.Message.Content == "" {
		return "", errors.NewExternalServiceError(errors.CodeServiceResponse, "empty completion", op, false)
	}
	return resp.Message.Content, nil
}
