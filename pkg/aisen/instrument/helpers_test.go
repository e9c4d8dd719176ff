package instrument

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/host"
)

// recordingCollector records captured events and hints.
type recordingCollector struct {
	mu       sync.Mutex
	events   []*aisen.Event
	hints    []*aisen.Hint
	inactive atomic.Bool
}

func (c *recordingCollector) CaptureEvent(ctx context.Context, event *aisen.Event, hint *aisen.Hint) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.hints = append(c.hints, hint)
	return "id"
}

func (c *recordingCollector) Flush(ctx context.Context) error { return nil }
func (c *recordingCollector) Close() error                    { return nil }
func (c *recordingCollector) Active() bool                    { return !c.inactive.Load() }

func (c *recordingCollector) captured() []*aisen.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*aisen.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *recordingCollector) lastHint() *aisen.Hint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.hints) == 0 {
		return nil
	}
	return c.hints[len(c.hints)-1]
}

// panicker is a comparable listener that panics with value.
type panicker struct {
	value any
	calls int
}

func (p *panicker) HandleEvent(ev *host.Event) {
	p.calls++
	panic(p.value)
}

// counter is a comparable listener that counts calls.
type counter struct {
	calls int
}

func (c *counter) HandleEvent(ev *host.Event) {
	c.calls++
}
