package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaGenerator calls a local Ollama /api/chat endpoint.
type OllamaGenerator struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllamaGenerator(baseURL, model string) *OllamaGenerator {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaGenerator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      strings.TrimSpace(model),
		httpClient: newHTTPClient(),
	}
}

// GenerateText implements TextGenerator with a non-streaming chat call.
func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string, opts ...Option) (string, error) {
	if g.model == "" {
		return "", errors.New("ollama generation model required")
	}
	o := collect(opts)
	req := ollamaChatRequest{
		Model:    g.model,
		Messages: chatMessages(systemPrompt, userPrompt),
	}
	if o.Temperature != nil || o.MaxTokens > 0 {
		req.Options = &ollamaOptions{Temperature: o.Temperature, NumPredict: o.MaxTokens}
	}

	var resp struct {
		Message chatMessage `json:"message"`
	}
	call := apiCall{provider: "ollama", url: g.baseURL + "/api/chat", errText: ollamaError}
	if err := call.do(ctx, g.httpClient, req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Message.Content, nil
}

func ollamaError(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &e)
	return e.Error
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}
