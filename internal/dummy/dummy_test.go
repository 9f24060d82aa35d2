package dummy

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stupiduntilnot/personarelay/internal/history"
	"github.com/stupiduntilnot/personarelay/internal/model"
)

func userRequest(text string) model.Request {
	return model.Request{History: []history.Turn{{Role: history.RoleUser, Content: text}}}
}

func TestNewProvider_InvalidScript(t *testing.T) {
	if _, err := NewProvider("boom"); err == nil {
		t.Fatal("expected parse error for invalid script")
	}
	if _, err := NewProvider("nope:x"); err == nil {
		t.Fatal("expected parse error for unknown action")
	}
}

func TestNewProvider_InvalidSleep(t *testing.T) {
	for _, script := range []string{"sleep:abc", "sleep:", "sleep:-5", "ok,sleep:1s"} {
		if _, err := NewProvider(script); err == nil {
			t.Fatalf("expected parse error for %q", script)
		}
	}
	if _, err := NewProvider("sleep:0,ok"); err != nil {
		t.Fatalf("sleep:0 should parse: %v", err)
	}
}

func TestProvider_ScriptedResponses(t *testing.T) {
	p, err := NewProvider("err:provider_api,msg:hello")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_, err = p.Complete(ctx, userRequest("hi"))
	var upstream *model.UpstreamError
	if !errors.As(err, &upstream) || upstream.Message != "provider_api" {
		t.Fatalf("expected first call to return upstream error, got %v", err)
	}

	resp, err := p.Complete(ctx, userRequest("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" {
		t.Fatalf("expected hello, got %q", resp.Content)
	}

	// Last action repeats.
	resp, _ = p.Complete(ctx, userRequest("hi"))
	if resp.Content != "hello" {
		t.Fatalf("expected last action to repeat, got %q", resp.Content)
	}
}

func TestProvider_MsgB64Action(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("a, b: c"))
	p, err := NewProvider("msgb64:" + encoded)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "a, b: c" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
}

func TestProvider_Echo(t *testing.T) {
	p, _ := NewProvider("echo")
	req := model.Request{History: []history.Turn{
		{Role: history.RoleUser, Content: "first"},
		{Role: history.RoleAssistant, Content: "reply"},
		{Role: history.RoleUser, Content: "second"},
	}}
	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "second" {
		t.Fatalf("expected echo of last user turn, got %q", resp.Content)
	}
}

func TestProvider_RecordsRequests(t *testing.T) {
	p, _ := NewProvider("ok")
	req := userRequest("hi")
	req.System = "persona"
	p.Complete(context.Background(), req)
	req.History[0].Content = "mutated"

	got := p.Requests()
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	if got[0].System != "persona" || got[0].History[0].Content != "hi" {
		t.Fatalf("unexpected recorded request: %+v", got[0])
	}
}

func TestProvider_SleepHonorsContext(t *testing.T) {
	p, _ := NewProvider("sleep:5000")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Complete(ctx, userRequest("hi")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
