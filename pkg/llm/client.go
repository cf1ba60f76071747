package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// HTTPClient is a Client over an OpenAI-compatible chat completions
// endpoint. Requests are non-streaming: the summarization path must be
// all-or-nothing, and the loop consumes complete rounds.
type HTTPClient struct {
	model  Model
	apiKey string
	http   *http.Client
}

// NewHTTPClient creates a client for the given model. An empty apiKey falls
// back to the AIDE_API_KEY environment variable at request time.
func NewHTTPClient(model Model, apiKey string) *HTTPClient {
	return &HTTPClient{
		model:  model,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 5 * time.Minute},
	}
}

type wireChoice struct {
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Choices []wireChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// Complete issues one model request and returns the full response. A
// cancelled context yields a Response with StatusCancelled alongside the
// context error.
func (c *HTTPClient) Complete(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	apiKey := c.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("AIDE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key: set AIDE_API_KEY")
	}

	body := map[string]any{
		"model":    c.model.ID,
		"messages": messages,
		"stream":   false,
	}
	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}
	if len(opts.Tools) > 0 {
		body["tools"] = opts.Tools
		choice := opts.ToolChoice
		if choice == "" {
			choice = "auto"
		}
		body["tool_choice"] = choice
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	slog.Debug("[LLM] request", "model", c.model.ID, "provider", c.model.Provider, "bytes", len(jsonBody))

	req, err := http.NewRequestWithContext(ctx, "POST", c.model.BaseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return &Response{Status: StatusCancelled}, ctx.Err()
		}
		if strings.Contains(err.Error(), "no such host") {
			return nil, fmt.Errorf("cannot resolve API host %q, check the configured base URL: %w", c.model.BaseURL, err)
		}
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyAPIError(resp.StatusCode, string(payload), parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	var decoded wireResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return &Response{Status: StatusFailed, RequestID: decoded.ID, ErrorDetails: "response contained no choices"}, nil
	}

	choice := decoded.Choices[0]
	out := &Response{
		Status:    StatusSuccess,
		Text:      choice.Message.Content,
		ToolCalls: choice.Message.ToolCalls,
		Usage:     decoded.Usage,
		RequestID: decoded.ID,
	}
	switch choice.FinishReason {
	case "length":
		out.Status = StatusLength
	case "content_filter":
		out.Status = StatusFiltered
		out.ErrorDetails = "response was filtered"
	}
	slog.Debug("[LLM] response", "status", out.Status, "requestId", out.RequestID,
		"inputTokens", out.Usage.InputTokens, "outputTokens", out.Usage.OutputTokens)
	return out, nil
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
