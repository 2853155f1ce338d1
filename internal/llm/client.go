// Package llm implements the classification and grading capabilities
// against an OpenAI-compatible LLM gateway. Every request is a single
// blocking chat completion with a timeout, exponential backoff on
// transient faults, and strict JSON extraction from the reply; a
// malformed reply is a stage failure, never a crash.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-coach-go/internal/logger"
)

// Client talks to the LLM gateway. It satisfies both the Classifier
// and Grader capability contracts.
type Client struct {
	gatewayURL string
	apiKey     string
	model      string
	timeout    time.Duration
	maxRetry   time.Duration
	mock       bool
	httpClient *http.Client
	log        *logger.Logger
}

// Option tweaks a Client.
type Option func(*Client)

// WithTimeout bounds each individual gateway request.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithMaxRetryTime bounds the total backoff window per stage call.
func WithMaxRetryTime(d time.Duration) Option { return func(c *Client) { c.maxRetry = d } }

// NewFromEnv builds a Client from LLM_GATEWAY_URL, LLM_API_KEY,
// LLM_MODEL, and USE_MOCK_LLM. Set USE_MOCK_LLM=true for the
// deterministic offline mode.
func NewFromEnv(opts ...Option) *Client {
	c := &Client{
		gatewayURL: os.Getenv("LLM_GATEWAY_URL"),
		apiKey:     os.Getenv("LLM_API_KEY"),
		model:      os.Getenv("LLM_MODEL"),
		timeout:    25 * time.Second,
		maxRetry:   45 * time.Second,
		mock:       os.Getenv("USE_MOCK_LLM") == "true",
		log:        logger.New().WithComponent("llm"),
	}
	for _, o := range opts {
		o(c)
	}
	c.httpClient = &http.Client{Timeout: c.timeout}
	return c
}

// chat sends one prompt and returns the first balanced JSON object
// found in the model's reply.
func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	if c.gatewayURL == "" || c.apiKey == "" {
		return "", fmt.Errorf("llm gateway not configured")
	}

	reqBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
	}
	data, _ := json.Marshal(reqBody)

	var out string
	var lastErr error

	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.gatewayURL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.log.WithError(err).Warn("llm request failed")
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)

		// Status first: an error response often carries its own JSON
		// body, which must never be mistaken for the model's payload.
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("llm gateway returned status %d", resp.StatusCode)
			c.log.WithField("status", resp.StatusCode).Warn("llm gateway error, retrying")
			return lastErr
		}
		if resp.StatusCode >= 400 {
			// Client errors never heal on retry.
			lastErr = fmt.Errorf("llm gateway returned status %d", resp.StatusCode)
			return backoff.Permanent(lastErr)
		}

		if inner := extractContentFromChoices(body); inner != "" {
			out = inner
			lastErr = nil
			return nil
		}
		if fallback := extractJSON(string(body)); fallback != "" {
			out = fallback
			lastErr = nil
			return nil
		}

		lastErr = fmt.Errorf("no JSON found in llm output (status %d)", resp.StatusCode)
		return lastErr
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxRetry
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr != nil {
			return "", fmt.Errorf("llm call failed: %w", lastErr)
		}
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	return out, nil
}

// extractContentFromChoices reads an OpenAI-style
// choices[0].message.content and extracts its JSON payload.
func extractContentFromChoices(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	c0, _ := choices[0].(map[string]any)
	if c0 == nil {
		return ""
	}
	msg, _ := c0["message"].(map[string]any)
	if msg == nil {
		return ""
	}
	content, _ := msg["content"].(string)
	return extractJSON(content)
}

// extractJSON finds the first balanced JSON object in a string,
// stripping the markdown fences models like to wrap JSON in.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, fence := range []string{"```json", "```yaml", "```text", "```", "`json", "`"} {
		s = strings.ReplaceAll(s, fence, "")
	}
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
