// Package dedupe drops events that immediately repeat the previously accepted
// one. A Filter is installed on a collector as an event processor:
//
//	collector := aisen.NewCollector(
//	    aisen.WithSink(sink),
//	    aisen.WithEventProcessor(dedupe.New()),
//	)
//
// Only the last accepted event is remembered. A dropped duplicate never
// replaces it, so a run of identical failures is reported once however long
// it lasts.
package dedupe

import (
	"context"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

// Option configures a Filter.
type Option func(*Filter)

// WithLogger logs dropped duplicates.
func WithLogger(logger *log.Logger) Option {
	return func(f *Filter) {
		f.logger = logger
	}
}

// Filter remembers the last accepted event and drops immediate repeats.
// It is safe for concurrent use; events are judged in the order Process is
// called. The filter keeps a copy of the compared fields, so processors that
// run after it may change accepted events in place.
type Filter struct {
	mu       sync.Mutex
	previous *aisen.Event
	logger   *log.Logger

	// isDuplicate is replaced in tests to exercise the fail-open path.
	isDuplicate func(current, previous *aisen.Event) bool
}

// New returns a Filter with an empty previous-event slot.
func New(opts ...Option) *Filter {
	f := &Filter{isDuplicate: isDuplicate}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ProcessEvent implements aisen.EventProcessor. It returns nil for duplicates.
func (f *Filter) ProcessEvent(_ context.Context, event *aisen.Event, _ *aisen.Hint) *aisen.Event {
	if !f.Process(event) {
		return nil
	}
	return event
}

// Process reports whether current is accepted. Accepted events become the
// new reference; dropped ones leave it unchanged. A panic while comparing
// accepts the event.
func (f *Filter) Process(current *aisen.Event) bool {
	if current == nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.previous != nil && f.ShouldDrop(current, f.previous) {
		if f.logger != nil {
			f.logger.Printf("dedupe: event dropped as duplicate of previous event %s", f.previous.EventID)
		}
		return false
	}
	f.previous = snapshot(current)
	return true
}

// ShouldDrop reports whether current repeats previous. It never panics: a
// fault while comparing counts as "not a duplicate".
func (f *Filter) ShouldDrop(current, previous *aisen.Event) (drop bool) {
	defer func() {
		if r := recover(); r != nil {
			drop = false
		}
	}()
	return f.isDuplicate(current, previous)
}

// Previous returns a copy of the compared fields of the last accepted
// event, or nil.
func (f *Filter) Previous() *aisen.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previous
}

// snapshot copies the fields the comparisons read: ID, message, fingerprint,
// primary exception and frames.
func snapshot(event *aisen.Event) *aisen.Event {
	s := &aisen.Event{
		EventID:     event.EventID,
		Message:     event.Message,
		Fingerprint: slices.Clone(event.Fingerprint),
		Stacktrace:  cloneStacktrace(event.Stacktrace),
	}
	if ex := event.PrimaryException(); ex != nil {
		s.Exception = &aisen.ExceptionList{Values: []aisen.Exception{{
			Type:       ex.Type,
			Value:      ex.Value,
			Stacktrace: cloneStacktrace(ex.Stacktrace),
		}}}
	}
	return s
}

func cloneStacktrace(st *aisen.Stacktrace) *aisen.Stacktrace {
	if st == nil {
		return nil
	}
	return &aisen.Stacktrace{Frames: slices.Clone(st.Frames)}
}

func isDuplicate(current, previous *aisen.Event) bool {
	return isSameMessage(current, previous) || isSameException(current, previous)
}

func isSameMessage(current, previous *aisen.Event) bool {
	// Neither has a message: leave it to the exception comparison.
	if current.Message == "" && previous.Message == "" {
		return false
	}
	// Only one has a message.
	if current.Message == "" || previous.Message == "" {
		return false
	}
	if current.Message != previous.Message {
		return false
	}
	return isSameFingerprint(current, previous) && isSameStacktrace(current, previous)
}

func isSameException(current, previous *aisen.Event) bool {
	currentException := current.PrimaryException()
	previousException := previous.PrimaryException()
	if currentException == nil || previousException == nil {
		return false
	}
	if currentException.Type != previousException.Type || currentException.Value != previousException.Value {
		return false
	}
	return isSameFingerprint(current, previous) && isSameStacktrace(current, previous)
}

// isSameFingerprint compares the concatenated tokens, so ["ab", "c"] and
// ["a", "bc"] are considered equal.
func isSameFingerprint(current, previous *aisen.Event) bool {
	currentFingerprint := current.Fingerprint
	previousFingerprint := previous.Fingerprint

	if currentFingerprint == nil && previousFingerprint == nil {
		return true
	}
	if currentFingerprint == nil || previousFingerprint == nil {
		return false
	}
	return strings.Join(currentFingerprint, "") == strings.Join(previousFingerprint, "")
}

// isSameStacktrace compares frames index for index. Both lists are ordered
// outermost first.
func isSameStacktrace(current, previous *aisen.Event) bool {
	currentFrames, currentOK := current.Frames()
	previousFrames, previousOK := previous.Frames()

	if !currentOK && !previousOK {
		return true
	}
	if currentOK != previousOK {
		return false
	}
	if len(currentFrames) != len(previousFrames) {
		return false
	}
	for i := range previousFrames {
		a, b := previousFrames[i], currentFrames[i]
		if a.Filename != b.Filename ||
			a.Lineno != b.Lineno ||
			a.Colno != b.Colno ||
			a.Function != b.Function {
			return false
		}
	}
	return true
}
