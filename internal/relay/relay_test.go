package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stupiduntilnot/personarelay/internal/db"
	"github.com/stupiduntilnot/personarelay/internal/dummy"
	"github.com/stupiduntilnot/personarelay/internal/history"
	"github.com/stupiduntilnot/personarelay/internal/model"
	"github.com/stupiduntilnot/personarelay/internal/persona"
)

type providerFunc func(ctx context.Context, req model.Request) (model.Response, error)

func (f providerFunc) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return f(ctx, req)
}

type recordedEvent struct {
	eventType string
	payload   map[string]any
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeRecorder) Record(eventType string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType, payload})
	return nil
}

func testPersona(t *testing.T) persona.Persona {
	t.Helper()
	p, err := persona.Lookup(persona.HoodToly)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func newLiveRelay(t *testing.T, provider model.Provider, store history.Store) *Relay {
	t.Helper()
	r, err := New(Options{
		Persona:     testPersona(t),
		Provider:    provider,
		Store:       store,
		MaxTokens:   model.DefaultMaxTokens,
		Temperature: model.DefaultTemperature,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Mode() != ModeLive {
		t.Fatalf("expected live mode, got %s", r.Mode())
	}
	return r
}

func TestNew_RequiresStoreInLiveMode(t *testing.T) {
	p, _ := dummy.NewProvider("ok")
	if _, err := New(Options{Persona: testPersona(t), Provider: p}); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestNew_RejectsInvalidPersona(t *testing.T) {
	if _, err := New(Options{Persona: persona.Persona{Name: "x"}}); err == nil {
		t.Fatal("expected error for persona without prompt")
	}
}

func TestHandle_FallbackMode(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultWindow)
	p := testPersona(t)
	r, err := New(Options{
		Persona:      p,
		Store:        store,
		FallbackNote: "Add OPENAI_API_KEY to .env for real AI responses",
		Rand:         rand.New(rand.NewPCG(7, 7)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Mode() != ModeFallback {
		t.Fatalf("expected fallback mode, got %s", r.Mode())
	}

	allowed := map[string]bool{}
	for _, line := range p.Fallbacks {
		allowed[line] = true
	}
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		reply, err := r.Handle(ctx, "gm", "s1")
		if err != nil {
			t.Fatal(err)
		}
		if !allowed[reply.Response] {
			t.Fatalf("response %q not in fallback list", reply.Response)
		}
		if reply.Note != "Add OPENAI_API_KEY to .env for real AI responses" {
			t.Fatalf("unexpected note %q", reply.Note)
		}
	}

	if n, _ := store.Sessions(ctx); n != 0 {
		t.Fatalf("fallback mode must not create sessions, got %d", n)
	}
}

func TestHandle_EmptyMessage(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultWindow)
	provider, _ := dummy.NewProvider("ok")
	r := newLiveRelay(t, provider, store)
	ctx := context.Background()

	store.Append(ctx, "existing", history.Turn{Role: history.RoleUser, Content: "before"})

	_, err := r.Handle(ctx, "", "existing")
	if !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("expected ErrMessageRequired, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Message != "Message is required" {
		t.Fatalf("expected validation error text, got %v", err)
	}

	if turns, _ := store.Turns(ctx, "existing"); len(turns) != 1 {
		t.Fatalf("expected existing session untouched, got %d turns", len(turns))
	}
	if n, _ := store.Sessions(ctx); n != 1 {
		t.Fatalf("expected no new session, got %d", n)
	}
	if len(provider.Requests()) != 0 {
		t.Fatal("provider must not be called for invalid input")
	}

	fallback, _ := New(Options{Persona: testPersona(t)})
	if _, err := fallback.Handle(ctx, "", ""); !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("expected validation in fallback mode too, got %v", err)
	}
}

func TestHandle_WindowAfterExchanges(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultWindow)
	provider, _ := dummy.NewProvider("echo")
	r := newLiveRelay(t, provider, store)
	ctx := context.Background()

	for n := 1; n <= 15; n++ {
		msg := fmt.Sprintf("m%d", n)
		if _, err := r.Handle(ctx, msg, "s"); err != nil {
			t.Fatal(err)
		}
		turns, _ := store.Turns(ctx, "s")
		want := min(2*n, 20)
		if len(turns) != want {
			t.Fatalf("after %d exchanges expected %d turns, got %d", n, want, len(turns))
		}
		// Most recent exchanges, oldest first, alternating user/assistant.
		first := n - want/2 + 1
		for i := 0; i < want; i += 2 {
			wantContent := fmt.Sprintf("m%d", first+i/2)
			if turns[i].Role != history.RoleUser || turns[i].Content != wantContent {
				t.Fatalf("exchange %d turn %d: unexpected %+v", n, i, turns[i])
			}
			if turns[i+1].Role != history.RoleAssistant || turns[i+1].Content != wantContent {
				t.Fatalf("exchange %d turn %d: unexpected %+v", n, i+1, turns[i+1])
			}
		}
	}
}

func TestHandle_SendsPersonaAndHistory(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultWindow)
	provider, _ := dummy.NewProvider("msg:first reply,msg:second reply")
	r := newLiveRelay(t, provider, store)
	ctx := context.Background()

	r.Handle(ctx, "hello", "s")
	r.Handle(ctx, "again", "s")

	reqs := provider.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	second := reqs[1]
	if second.System != testPersona(t).Prompt {
		t.Fatal("expected persona prompt as system text")
	}
	if second.MaxTokens != 150 || second.Temperature != 0.9 {
		t.Fatalf("unexpected sampling params %d %v", second.MaxTokens, second.Temperature)
	}
	want := []history.Turn{
		{Role: history.RoleUser, Content: "hello"},
		{Role: history.RoleAssistant, Content: "first reply"},
		{Role: history.RoleUser, Content: "again"},
	}
	if len(second.History) != len(want) {
		t.Fatalf("expected %d history turns, got %d", len(want), len(second.History))
	}
	for i := range want {
		if second.History[i] != want[i] {
			t.Fatalf("turn %d: expected %+v, got %+v", i, want[i], second.History[i])
		}
	}
}

func TestHandle_ResponseIsVerbatim(t *testing.T) {
	const content = "  spaced out\n\n reply \t"
	provider := providerFunc(func(ctx context.Context, req model.Request) (model.Response, error) {
		return model.Response{Content: content}, nil
	})
	store := history.NewMemoryStore(history.DefaultWindow)
	r := newLiveRelay(t, provider, store)

	reply, err := r.Handle(context.Background(), "hi", "s")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Response != content || reply.Note != "" {
		t.Fatalf("expected verbatim reply, got %+v", reply)
	}
	turns, _ := store.Turns(context.Background(), "s")
	if turns[1].Content != content {
		t.Fatalf("expected verbatim assistant turn, got %q", turns[1].Content)
	}
}

func TestHandle_UpstreamErrorKeepsUserTurn(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultWindow)
	provider, _ := dummy.NewProvider("err:Rate limit reached,msg:ok now")
	r := newLiveRelay(t, provider, store)
	ctx := context.Background()

	_, err := r.Handle(ctx, "first try", "s")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if err.Error() != "Rate limit reached" {
		t.Fatalf("expected upstream message, got %q", err.Error())
	}

	turns, _ := store.Turns(ctx, "s")
	if len(turns) != 1 || turns[0].Content != "first try" {
		t.Fatalf("expected user turn kept after failure, got %+v", turns)
	}

	if _, err := r.Handle(ctx, "second try", "s"); err != nil {
		t.Fatal(err)
	}
	reqs := provider.Requests()
	prior := reqs[1].History
	if len(prior) != 2 || prior[0].Content != "first try" || prior[1].Content != "second try" {
		t.Fatalf("expected failed user turn as prior context, got %+v", prior)
	}
}

func TestHandle_DefaultSession(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultWindow)
	provider, _ := dummy.NewProvider("ok")
	r := newLiveRelay(t, provider, store)

	r.Handle(context.Background(), "hi", "")
	turns, _ := store.Turns(context.Background(), history.DefaultSessionID)
	if len(turns) != 2 {
		t.Fatalf("expected default session to hold the exchange, got %d turns", len(turns))
	}
}

func TestHandle_ConcurrentSameSessionIsSerialized(t *testing.T) {
	const requests = 20
	store := history.NewMemoryStore(2 * requests)

	var inFlight, maxInFlight int32
	provider := providerFunc(func(ctx context.Context, req model.Request) (model.Response, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		// The last history turn is always this request's own user turn.
		last := req.History[len(req.History)-1]
		if last.Role != history.RoleUser {
			return model.Response{}, fmt.Errorf("interleaved history: last turn %+v", last)
		}
		return model.Response{Content: "re:" + last.Content}, nil
	})
	r := newLiveRelay(t, provider, store)

	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Handle(context.Background(), fmt.Sprintf("m%d", i), "shared"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	if maxInFlight != 1 {
		t.Fatalf("expected one provider call at a time per session, saw %d", maxInFlight)
	}
	turns, _ := store.Turns(context.Background(), "shared")
	if len(turns) != 2*requests {
		t.Fatalf("expected %d turns, got %d", 2*requests, len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != history.RoleUser || turns[i+1].Content != "re:"+turns[i].Content {
			t.Fatalf("exchange at %d interleaved: %+v %+v", i, turns[i], turns[i+1])
		}
	}
	if r.locks.size() != 0 {
		t.Fatalf("expected session locks released, %d remain", r.locks.size())
	}
}

func TestHandle_DifferentSessionsRunInParallel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	provider := providerFunc(func(ctx context.Context, req model.Request) (model.Response, error) {
		started <- struct{}{}
		<-release
		return model.Response{Content: "ok"}, nil
	})
	r := newLiveRelay(t, provider, history.NewMemoryStore(history.DefaultWindow))

	var wg sync.WaitGroup
	for _, s := range []string{"a", "b"} {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			r.Handle(context.Background(), "hi", s)
		}(s)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("sessions did not run concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestHandle_RecordsEvents(t *testing.T) {
	rec := &fakeRecorder{}
	provider, _ := dummy.NewProvider("ok,err:boom")
	r, err := New(Options{
		Persona:  testPersona(t),
		Provider: provider,
		Store:    history.NewMemoryStore(history.DefaultWindow),
		Events:   rec,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	r.Handle(ctx, "one", "s")
	r.Handle(ctx, "two", "s")

	if len(rec.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(rec.events))
	}
	if rec.events[0].eventType != db.EventChatCompleted || rec.events[0].payload["turns"] != 2 {
		t.Fatalf("unexpected completed event: %+v", rec.events[0])
	}
	if rec.events[1].eventType != db.EventChatFailed || rec.events[1].payload["error"] != "boom" {
		t.Fatalf("unexpected failed event: %+v", rec.events[1])
	}
}

func TestHandle_SweepDuringExchangeKeepsSession(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultWindow)
	var r *Relay
	var active []string
	provider := providerFunc(func(ctx context.Context, req model.Request) (model.Response, error) {
		time.Sleep(2 * time.Millisecond)
		active = r.ActiveSessions()
		if _, err := store.Sweep(ctx, time.Nanosecond, active...); err != nil {
			return model.Response{}, err
		}
		return model.Response{Content: "still here"}, nil
	})
	r = newLiveRelay(t, provider, store)

	if _, err := r.Handle(context.Background(), "gm", "slow"); err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0] != "slow" {
		t.Fatalf("expected slow session active mid-exchange, got %v", active)
	}
	turns, _ := store.Turns(context.Background(), "slow")
	if len(turns) != 2 || turns[0].Role != history.RoleUser {
		t.Fatalf("expected user and assistant turns to survive the sweep, got %+v", turns)
	}
	if got := r.ActiveSessions(); len(got) != 0 {
		t.Fatalf("expected no active sessions after the exchange, got %v", got)
	}
}
