// Package anthropic adapts the Anthropic Messages API to model.Provider.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/stupiduntilnot/personarelay/internal/history"
	"github.com/stupiduntilnot/personarelay/internal/model"
)

// DefaultModel is used when ANTHROPIC_MODEL is unset.
const DefaultModel = "claude-3-5-haiku-latest"

// Client implements model.Provider using the Messages API.
type Client struct {
	client anthropic.Client
	model  string
}

// NewClient creates a client with an explicit API key. Retries are
// disabled so each exchange reaches the provider at most once.
func NewClient(apiKey, modelName string, timeout time.Duration, opts ...option.RequestOption) *Client {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		base = append(base, option.WithRequestTimeout(timeout))
	}
	return &Client{
		client: anthropic.NewClient(append(base, opts...)...),
		model:  modelName,
	}
}

// Complete sends the persona prompt as the system block and the session
// history as alternating messages.
func (c *Client) Complete(ctx context.Context, r model.Request) (model.Response, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(r))
	if err != nil {
		return model.Response{}, toUpstreamError(err)
	}

	resp := model.Response{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			resp.Content += block.Text
		}
	}
	return resp, nil
}

func (c *Client) buildParams(r model.Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(r.History))
	for _, t := range r.History {
		switch t.Role {
		case history.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		case history.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    messages,
		MaxTokens:   int64(r.MaxTokens),
		Temperature: param.NewOpt(r.Temperature),
	}
	if r.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.System}}
	}
	return params
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// toUpstreamError surfaces the provider's own error message when the API
// returned an error body.
func toUpstreamError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic request failed: %w", err)
	}
	var body apiErrorBody
	if jsonErr := json.Unmarshal([]byte(apiErr.RawJSON()), &body); jsonErr != nil || body.Error.Message == "" {
		return fmt.Errorf("anthropic request failed: %w", err)
	}
	return &model.UpstreamError{
		Provider:   "anthropic",
		StatusCode: apiErr.StatusCode,
		Type:       body.Error.Type,
		Message:    body.Error.Message,
	}
}
