package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompatSendsOptions(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"  {\"employee_id\":\"E1\"}  "}}]}`)
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL+"/v1/", "gsk-test", "llama-3.1-8b-instant")
	text, err := g.GenerateText(context.Background(), "You output only valid JSON.", "text", WithTemperature(0.1), WithMaxTokens(1024))
	require.NoError(t, err)
	assert.Equal(t, `{"employee_id":"E1"}`, text)
	assert.Equal(t, 0.1, got["temperature"])
	assert.Equal(t, float64(1024), got["max_tokens"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAICompatErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"tokens"}}`)
	}))
	defer srv.Close()
	_, err := NewOpenAICompatGenerator(srv.URL, "", "m").GenerateText(context.Background(), "", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	_, err = NewOpenAICompatGenerator(srv.URL, "", "").GenerateText(context.Background(), "", "q")
	assert.Error(t, err)
}

func TestOllamaGenerator(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"42"}}`)
	}))
	defer srv.Close()

	text, err := NewOllamaGenerator(srv.URL, "llama3").GenerateText(context.Background(), "", "how many?", WithTemperature(0))
	require.NoError(t, err)
	assert.Equal(t, "42", text)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 1)
	require.NotNil(t, got.Options)
	assert.Equal(t, 0.0, *got.Options.Temperature)
}

func TestNewSelectsProvider(t *testing.T) {
	g, err := New(Config{APIKey: "gsk"})
	require.NoError(t, err)
	oai, ok := g.(*OpenAICompatGenerator)
	require.True(t, ok)
	assert.Equal(t, DefaultGroqBaseURL, oai.baseURL)
	assert.Equal(t, DefaultGroqModel, oai.model)

	_, err = New(Config{Provider: "groq"})
	assert.Error(t, err)

	g, err = New(Config{Provider: "ollama", Model: "llama3"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaGenerator{}, g)

	_, err = New(Config{Provider: "gemini"})
	assert.Error(t, err)

	_, err = New(Config{Provider: "bard"})
	assert.Error(t, err)
}

func TestGeminiGenerator(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Sales "},{"text":"leads churn."}]}}]}`)
	}))
	defer srv.Close()

	g, err := NewGeminiGenerator(srv.URL, "k", "models/gemini-2.0-flash")
	require.NoError(t, err)
	text, err := g.GenerateText(context.Background(), "analyst", "which department?", WithMaxTokens(2048))
	require.NoError(t, err)
	assert.Equal(t, "Sales leads churn.", text)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "analyst", got.SystemInstruction.Parts[0].Text)
	require.NotNil(t, got.GenerationConfig)
	assert.Equal(t, 2048, got.GenerationConfig.MaxOutputTokens)
}

func TestEmptyResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"  "}}`)
		case "/chat/completions":
			_, _ = io.WriteString(w, `{"choices":[]}`)
		default:
			_, _ = io.WriteString(w, `{"candidates":[]}`)
		}
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "m").GenerateText(context.Background(), "", "q")
	assert.ErrorIs(t, err, ErrEmptyResponse)
	_, err = NewOpenAICompatGenerator(srv.URL, "", "m").GenerateText(context.Background(), "", "q")
	assert.ErrorIs(t, err, ErrEmptyResponse)
	g, err := NewGeminiGenerator(srv.URL, "k", "m")
	require.NoError(t, err)
	_, err = g.GenerateText(context.Background(), "", "q")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOllamaErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"llama9\" not found"}`)
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "llama9").GenerateText(context.Background(), "", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `ollama api error: model "llama9" not found`)
}
