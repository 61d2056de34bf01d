package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from llm provider")

const (
	defaultTimeout = 120 * time.Second
	maxErrorBody   = 4 << 10
)

// apiCall is one JSON POST against a provider endpoint.
type apiCall struct {
	provider string
	url      string
	header   http.Header
	// errText pulls a human message out of a non-2xx body.
	errText func(body []byte) string
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

func (c apiCall) do(ctx context.Context, client *http.Client, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, vs := range c.header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if c.errText != nil {
			if msg := c.errText(raw); msg != "" {
				return fmt.Errorf("%s api error: %s", c.provider, msg)
			}
		}
		return fmt.Errorf("%s api error: %s", c.provider, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", c.provider, err)
	}
	return nil
}

// nestedError reads the {"error":{"message":...}} envelope used by OpenAI and Gemini.
func nestedError(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &e)
	return e.Error.Message
}
