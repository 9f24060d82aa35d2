package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/stupiduntilnot/personarelay/internal/history"
	"github.com/stupiduntilnot/personarelay/internal/model"
)

func testRequest() model.Request {
	return model.Request{
		System: "You are a bot.",
		History: []history.Turn{
			{Role: history.RoleUser, Content: "hi"},
			{Role: history.RoleAssistant, Content: "hello"},
			{Role: history.RoleUser, Content: "how are you"},
		},
		MaxTokens:   model.DefaultMaxTokens,
		Temperature: model.DefaultTemperature,
	}
}

func TestComplete_Success(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "test-model",
			"content": [{"type": "text", "text": "doing great fam"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	client := NewClient("test-key", "test-model", 0, option.WithBaseURL(server.URL))
	resp, err := client.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "doing great fam" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 4 {
		t.Errorf("unexpected usage in=%d out=%d", resp.InputTokens, resp.OutputTokens)
	}

	if got["model"] != "test-model" {
		t.Errorf("unexpected model %v", got["model"])
	}
	if got["max_tokens"] != float64(150) {
		t.Errorf("unexpected max_tokens %v", got["max_tokens"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	system, _ := got["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("expected one system block, got %v", got["system"])
	}
}

func TestComplete_ErrorBody(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"upstream exploded"}}`))
	}))
	defer server.Close()

	client := NewClient("test-key", "test-model", 0, option.WithBaseURL(server.URL))
	_, err := client.Complete(context.Background(), testRequest())

	var upstream *model.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Message != "upstream exploded" {
		t.Errorf("unexpected message %q", upstream.Message)
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt, got %d", calls)
	}
}
