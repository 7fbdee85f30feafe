package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestModeAPIKey is a sentinel credential. When configured, Complete skips
// the network and answers with TestModeReply. It exists for local testing.
const (
	TestModeAPIKey = "test-key-for-debugging"
	TestModeReply  = "Mock svar (test mode)"
)

const maxCompletionBody = 5 * 1024 * 1024

type CompletionConfig struct {
	URL    string
	APIKey string
	Model  string
	// Timeout bounds a single call. Zero leaves only the transport defaults
	// and the caller's context.
	Timeout time.Duration
}

// CompletionClient calls an OpenAI-compatible chat completion endpoint.
type CompletionClient struct {
	cfg        CompletionConfig
	httpClient *http.Client
}

func NewCompletionClient(cfg CompletionConfig, httpClient *http.Client) *CompletionClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &CompletionClient{cfg: cfg, httpClient: httpClient}
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
}

// TestMode reports whether the client is configured with the sentinel key.
func (c *CompletionClient) TestMode() bool {
	return c.cfg.APIKey == TestModeAPIKey
}

// Complete sends userText as a single-turn conversation and returns the
// model's reply. It does not retry.
func (c *CompletionClient) Complete(ctx context.Context, userText string) (string, error) {
	if c.TestMode() {
		return TestModeReply, nil
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(completionRequest{
		Model:    c.cfg.Model,
		Messages: []completionMessage{{Role: "user", Content: userText}},
	})
	if err != nil {
		return "", &Error{Kind: KindUpstream, Op: "encode completion request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindUpstream, Op: "build completion request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: KindUpstream, Op: "call completion API", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCompletionBody))
	if err != nil {
		return "", &Error{Kind: KindUpstream, Op: "read completion response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{Kind: KindUpstream, Err: &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}}
	}

	if strings.TrimSpace(string(body)) == "" {
		return "", &Error{Kind: KindFormat, Err: ErrEmptyResponse}
	}

	reply, err := extractContent(body)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", &Error{Kind: KindFormat, Err: ErrEmptyResponse}
	}
	return reply, nil
}

// extractContent reads choices[0].message.content, falling back to a
// top-level content field.
func extractContent(body []byte) (string, error) {
	var parsed struct {
		Choices json.RawMessage `json:"choices"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Kind: KindFormat, Err: fmt.Errorf("%w: %v", ErrUnknownFormat, err)}
	}

	var choices []struct {
		Message *struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if len(parsed.Choices) > 0 && json.Unmarshal(parsed.Choices, &choices) == nil && len(choices) > 0 {
		if msg := choices[0].Message; msg != nil {
			if text, ok := jsonText(msg.Content); ok {
				return text, nil
			}
		}
	}

	if text, ok := jsonText(parsed.Content); ok {
		return text, nil
	}

	return "", &Error{Kind: KindFormat, Err: ErrUnknownFormat}
}

// jsonText renders a present, non-null JSON value as text: strings are
// unquoted, anything else is returned as its JSON encoding.
func jsonText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, true
	}
	return string(trimmed), true
}
