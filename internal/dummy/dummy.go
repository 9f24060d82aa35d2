// Package dummy provides a scripted completion provider for offline runs
// and tests.
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stupiduntilnot/personarelay/internal/history"
	"github.com/stupiduntilnot/personarelay/internal/model"
)

type action struct {
	kind string
	arg  string
}

// parseScript reads a comma-separated action list:
// ok[:text], msg:text, msgb64:base64, echo, err:message, sleep:ms.
func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" || token == "echo" {
			actions = append(actions, action{kind: token})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		switch kind {
		case "sleep":
			if ms, err := strconv.Atoi(arg); err != nil || ms < 0 {
				return nil, fmt.Errorf("invalid dummy sleep duration: %s", token)
			}
			actions = append(actions, action{kind: kind, arg: arg})
		case "ok", "msg", "msgb64", "err":
			actions = append(actions, action{kind: kind, arg: arg})
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

// next returns the next action; the last one repeats once the script runs out.
func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// Provider replays a script of canned completions.
type Provider struct {
	mu       sync.Mutex
	script   *scriptRunner
	requests []model.Request
}

func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner}, nil
}

// Requests returns every request seen so far.
func (p *Provider) Requests() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Provider) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	p.mu.Lock()
	snapshot := req
	snapshot.History = append([]history.Turn(nil), req.History...)
	p.requests = append(p.requests, snapshot)
	a := p.script.next()
	p.mu.Unlock()

	switch a.kind {
	case "ok":
		return reply(emptyAs(a.arg, "dummy-ok")), nil
	case "msg":
		return reply(a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return model.Response{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return reply(string(raw)), nil
	case "echo":
		return reply(lastUserContent(req.History)), nil
	case "err":
		return model.Response{}, &model.UpstreamError{
			Provider: "dummy",
			Message:  emptyAs(a.arg, "dummy provider error"),
		}
	case "sleep":
		// validated by parseScript
		ms, _ := strconv.Atoi(a.arg)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return model.Response{}, fmt.Errorf("dummy provider: %w", ctx.Err())
			}
		}
		return reply("dummy-after-sleep"), nil
	default:
		return reply("dummy-ok"), nil
	}
}

func reply(content string) model.Response {
	return model.Response{Content: content, InputTokens: 1, OutputTokens: 1}
}

func lastUserContent(turns []history.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == history.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
