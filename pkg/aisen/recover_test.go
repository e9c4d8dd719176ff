package aisen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// mockCollector captures events for verification in recover tests.
type mockCollector struct {
	mu     sync.Mutex
	events []*Event
	hints  []*Hint
}

func (c *mockCollector) CaptureEvent(ctx context.Context, event *Event, hint *Hint) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if event.ContextID == nil {
		if id, ok := ContextIDFromContext(ctx); ok {
			event.ContextID = &id
		}
	}
	c.events = append(c.events, event)
	c.hints = append(c.hints, hint)
	return "evt"
}

func (c *mockCollector) Flush(ctx context.Context) error {
	return nil
}

func (c *mockCollector) Close() error {
	return nil
}

func (c *mockCollector) getEvents() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]*Event, len(c.events))
	copy(result, c.events)
	return result
}

func TestRecover_CapturesPanic(t *testing.T) {
	collector := &mockCollector{}
	ctx := context.Background()

	func() {
		defer Recover(ctx, collector)
		panic("test panic")
	}()

	events := collector.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	if events[0].Level != LevelFatal {
		t.Errorf("Level = %q, want %q", events[0].Level, LevelFatal)
	}
	if events[0].Message != "test panic" {
		t.Errorf("Message = %q, want %q", events[0].Message, "test panic")
	}
	ex := events[0].PrimaryException()
	if ex == nil || ex.Value != "test panic" || ex.Type != "Error" {
		t.Fatalf("exception = %+v", ex)
	}
	if ex.Mechanism == nil || ex.Mechanism.Type != "recover" || !ex.Mechanism.Handled {
		t.Errorf("mechanism = %+v, want recover/handled", ex.Mechanism)
	}
	if collector.hints[0] == nil || collector.hints[0].OriginalException != "test panic" {
		t.Errorf("hint = %+v", collector.hints[0])
	}
}

func TestRecover_IncludesPanicSite(t *testing.T) {
	collector := &mockCollector{}
	ctx := context.Background()

	func() {
		defer Recover(ctx, collector)
		panic("stack trace test")
	}()

	events := collector.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	frames, ok := events[0].Frames()
	if !ok || len(frames) == 0 {
		t.Fatal("frames should be populated")
	}
	last := frames[len(frames)-1]
	if !strings.Contains(last.Function, "TestRecover_IncludesPanicSite") {
		t.Errorf("crash frame = %q, want the panicking test function", last.Function)
	}
	if !strings.HasSuffix(last.Filename, "recover_test.go") {
		t.Errorf("crash frame file = %q", last.Filename)
	}
}

func TestRecover_NoPanic_NoEventRecorded(t *testing.T) {
	collector := &mockCollector{}
	ctx := context.Background()

	func() {
		defer Recover(ctx, collector)
		// No panic
	}()

	events := collector.getEvents()
	if len(events) != 0 {
		t.Errorf("Expected 0 events, got %d", len(events))
	}
}

func TestRecover_HandlesErrorPanic(t *testing.T) {
	collector := &mockCollector{}
	ctx := context.Background()

	testErr := &testError{msg: "error panic"}
	func() {
		defer Recover(ctx, collector)
		panic(testErr)
	}()

	events := collector.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	ex := events[0].PrimaryException()
	if ex == nil {
		t.Fatal("exception missing")
	}
	if ex.Value != "error panic" {
		t.Errorf("Value = %q, want %q", ex.Value, "error panic")
	}
	if ex.Type != "*aisen.testError" {
		t.Errorf("Type = %q, want %q", ex.Type, "*aisen.testError")
	}
}

func TestRecover_PlainObjectPanic(t *testing.T) {
	collector := &mockCollector{}

	func() {
		defer Recover(context.Background(), collector)
		panic(map[string]int{"foo": 1, "bar": 2})
	}()

	events := collector.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Message != "Non-Error exception captured with keys: bar, foo" {
		t.Errorf("Message = %q", events[0].Message)
	}
}

func TestRecover_SkipsOwnRequestFailures(t *testing.T) {
	collector := &mockCollector{}

	func() {
		defer Recover(context.Background(), collector)
		panic(MarkOwnRequest(errors.New("delivery failed")))
	}()

	if n := len(collector.getEvents()); n != 0 {
		t.Errorf("Expected 0 events, got %d", n)
	}
}

func TestRecover_IncludesContextID(t *testing.T) {
	collector := &mockCollector{}
	ctx := WithContextID(context.Background(), 12345)

	func() {
		defer Recover(ctx, collector)
		panic("context id test")
	}()

	events := collector.getEvents()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	if events[0].ContextID == nil {
		t.Error("ContextID should be set from context")
	} else if *events[0].ContextID != 12345 {
		t.Errorf("ContextID = %d, want 12345", *events[0].ContextID)
	}
}

// testError is a custom error type for testing.
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
