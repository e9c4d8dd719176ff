package agentssdk

import (
	"context"
	"sync"
	"testing"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

// testCollector records captured events.
type testCollector struct {
	mu       sync.Mutex
	events   []aisen.Event
	hints    []*aisen.Hint
	panicMsg string
}

func (c *testCollector) CaptureEvent(ctx context.Context, event *aisen.Event, hint *aisen.Hint) string {
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if event.EventID == "" {
		event.EventID = "evt"
	}
	c.events = append(c.events, *event)
	c.hints = append(c.hints, hint)
	return event.EventID
}

func (c *testCollector) Flush(ctx context.Context) error {
	return nil
}

func (c *testCollector) Close() error {
	return nil
}

func (c *testCollector) getEvents() []aisen.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]aisen.Event(nil), c.events...)
}

// capturingSink captures events written through a real collector.
type capturingSink struct {
	mu     sync.Mutex
	events []aisen.Event
}

func (s *capturingSink) Write(ctx context.Context, event aisen.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) Flush(ctx context.Context) error {
	return nil
}

func (s *capturingSink) Close() error {
	return nil
}

func (s *capturingSink) getEvents() []aisen.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]aisen.Event(nil), s.events...)
}

// fakeRunner stands in for *agents.Runner. during runs with the wrapped
// hooks before the configured outcome.
type fakeRunner struct {
	err        error
	panicValue any
	during     func(ctx context.Context, hooks agents.RunHooks)

	mu      sync.Mutex
	lastCtx context.Context
	lastCfg *agents.RunConfig
}

func (f *fakeRunner) run(ctx context.Context, cfg *agents.RunConfig) (agents.RunResult, error) {
	f.mu.Lock()
	f.lastCtx, f.lastCfg = ctx, cfg
	f.mu.Unlock()

	if f.during != nil {
		f.during(ctx, cfg.Hooks)
	}
	if f.panicValue != nil {
		panic(f.panicValue)
	}
	var zero agents.RunResult
	return zero, f.err
}

func (f *fakeRunner) Run(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (agents.RunResult, error) {
	return f.run(ctx, cfg)
}

func (f *fakeRunner) RunOnce(ctx context.Context, agent *agents.Agent, input string, cfg *agents.RunConfig) (agents.RunResult, error) {
	return f.run(ctx, cfg)
}

func (f *fakeRunner) RunStream(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (*agents.StreamingRun, error) {
	_, err := f.run(ctx, cfg)
	return nil, err
}

// contextSession provides a context ID the way a cxdb-backed session does.
type contextSession struct {
	contextID uint64
	err       error
}

func (s *contextSession) ContextID(ctx context.Context) (uint64, error) {
	return s.contextID, s.err
}

// providerSession is an agents.Session that also provides a context ID.
type providerSession struct {
	agents.Session
	contextSession
}

func exceptionOf(t testing.TB, event aisen.Event) *aisen.Exception {
	t.Helper()
	ex := event.PrimaryException()
	if ex == nil {
		t.Fatalf("event has no exception: %+v", event)
	}
	return ex
}
