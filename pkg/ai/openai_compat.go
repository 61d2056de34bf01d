package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// OpenAICompatGenerator calls any OpenAI-compatible /chat/completions endpoint.
// Groq is the default deployment; vLLM, LiteLLM and OpenRouter work too.
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatGenerator builds an OpenAI-compatible TextGenerator.
// baseURL includes the /v1 prefix. apiKey may be empty for local models.
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	return &OpenAICompatGenerator{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		httpClient: newHTTPClient(),
	}
}

// GenerateText implements TextGenerator using the chat completions API.
func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string, opts ...Option) (string, error) {
	if g.model == "" {
		return "", errors.New("openai-compat generation model required")
	}
	o := collect(opts)
	req := oaiChatRequest{
		Model:       g.model,
		Messages:    chatMessages(systemPrompt, userPrompt),
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
	}
	call := apiCall{
		provider: "openai-compat",
		url:      g.baseURL + "/chat/completions",
		header:   http.Header{},
		errText:  nestedError,
	}
	if g.apiKey != "" {
		call.header.Set("Authorization", "Bearer "+g.apiKey)
	}

	var resp oaiChatResponse
	if err := call.do(ctx, g.httpClient, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// chatMessage is shared by the OpenAI and Ollama chat schemas.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func chatMessages(systemPrompt, userPrompt string) []chatMessage {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	return append(messages, chatMessage{Role: "user", Content: userPrompt})
}

type oaiChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
