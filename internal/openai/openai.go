package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stupiduntilnot/personarelay/internal/history"
	"github.com/stupiduntilnot/personarelay/internal/model"
)

// Defaults for the public chat completions API.
const (
	DefaultURL   = "https://api.openai.com/v1/chat/completions"
	DefaultModel = "gpt-4o-mini"
)

// ErrNoChoices is returned when a successful response carries no choices.
var ErrNoChoices = errors.New("openai response contained no choices")

// Client is a minimal OpenAI chat completions client.
type Client struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

// NewClient creates an OpenAI client. A zero timeout leaves the request
// bounded only by its context.
func NewClient(apiKey, url, model string, timeout time.Duration) *Client {
	return &Client{
		apiKey: apiKey,
		url:    url,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []history.Turn `json:"messages"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage     `json:"usage"`
	Error *errorBody `json:"error"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Complete sends one chat completion request: the persona prompt as the
// leading system message followed by the session history.
func (c *Client) Complete(ctx context.Context, r model.Request) (model.Response, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    history.Assemble(r.System, r.History),
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return model.Response{}, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return model.Response{}, fmt.Errorf("failed to create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Response{}, fmt.Errorf("failed reading openai response: %w", err)
	}

	var parsed chatResponse
	parseErr := json.Unmarshal(body, &parsed)

	// An error object wins regardless of status code.
	if parseErr == nil && parsed.Error != nil {
		return model.Response{}, &model.UpstreamError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Type:       parsed.Error.Type,
			Message:    parsed.Error.Message,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		truncated := truncate(string(body), 400)
		return model.Response{}, fmt.Errorf("openai non-success status=%d body=%s", resp.StatusCode, truncated)
	}

	if parseErr != nil {
		truncated := truncate(string(body), 400)
		return model.Response{}, fmt.Errorf("failed to parse openai response: %s", truncated)
	}

	if len(parsed.Choices) == 0 {
		return model.Response{}, ErrNoChoices
	}

	result := model.Response{Content: parsed.Choices[0].Message.Content}
	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}
	return result, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
