// Package stderr provides a sink that logs events to stderr in human-readable format.
// Useful for development and debugging.
package stderr

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

// StderrSinkOption configures the stderr sink.
type StderrSinkOption func(*stderrSinkConfig)

type stderrSinkConfig struct {
	verbose bool
	out     io.Writer
}

// WithVerbose enables full event details including stack frames and extra data.
func WithVerbose() StderrSinkOption {
	return func(c *stderrSinkConfig) {
		c.verbose = true
	}
}

// WithWriter redirects output, e.g. to a log file. Defaults to os.Stderr.
func WithWriter(w io.Writer) StderrSinkOption {
	return func(c *stderrSinkConfig) {
		c.out = w
	}
}

// stderrSink writes events in human-readable format.
type stderrSink struct {
	verbose bool
	out     io.Writer

	mu sync.Mutex
}

// NewStderrSink creates a sink that writes to stderr.
func NewStderrSink(opts ...StderrSinkOption) aisen.Sink {
	cfg := &stderrSinkConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &stderrSink{
		verbose: cfg.verbose,
		out:     cfg.out,
	}
}

// Write formats and outputs the event.
func (s *stderrSink) Write(ctx context.Context, event aisen.Event) error {
	var b strings.Builder

	// Format: [AISEN] <timestamp> <LEVEL> <type>: <value> (<mechanism>, handled|unhandled)
	level := strings.ToUpper(string(event.Level))
	timestamp := event.Timestamp.Format("2006-01-02T15:04:05Z07:00")
	parts := []string{fmt.Sprintf("[AISEN] %s %s", timestamp, level)}

	if ex := event.PrimaryException(); ex != nil {
		parts = append(parts, exceptionTitle(ex))
		if ex.Mechanism != nil && ex.Mechanism.Type != "" {
			handled := "unhandled"
			if ex.Mechanism.Handled {
				handled = "handled"
			}
			parts = append(parts, fmt.Sprintf("(%s, %s)", ex.Mechanism.Type, handled))
		}
	}
	fmt.Fprintln(&b, strings.Join(parts, " "))

	if event.Message != "" {
		fmt.Fprintf(&b, "        Message: %s\n", event.Message)
	}

	fmt.Fprintf(&b, "        Group: %s\n", aisen.GroupingHash(event))

	if event.ContextID != nil {
		fmt.Fprintf(&b, "        Context: %d\n", *event.ContextID)
	}

	if sys := event.System; sys != nil {
		uptime := time.Duration(sys.UptimeMs) * time.Millisecond
		fmt.Fprintf(&b, "        System: %s heap, %s goroutines, up %s\n",
			humanize.Bytes(uint64(max(sys.MemoryBytes, 0))),
			humanize.Comma(int64(sys.GoroutineCount)),
			uptime.Round(time.Second))
	}

	if s.verbose {
		if frames, ok := event.Frames(); ok && len(frames) > 0 {
			fmt.Fprintf(&b, "        Stack trace:\n")
			// Crash site first, as Go prints goroutine traces.
			for i := len(frames) - 1; i >= 0; i-- {
				f := frames[i]
				fmt.Fprintf(&b, "          at %s (%s:%d)\n", f.Function, f.Filename, f.Lineno)
			}
		}
		if len(event.Extra) > 0 {
			keys := make([]string, 0, len(event.Extra))
			for k := range event.Extra {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(&b, "        Extra:\n")
			for _, k := range keys {
				fmt.Fprintf(&b, "          %s: %v\n", k, event.Extra[k])
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.out
	if out == nil {
		out = os.Stderr
	}
	if _, err := io.WriteString(out, b.String()); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func exceptionTitle(ex *aisen.Exception) string {
	switch {
	case ex.Type != "" && ex.Value != "":
		return ex.Type + ": " + ex.Value
	case ex.Type != "":
		return ex.Type
	default:
		return ex.Value
	}
}

// Flush is a no-op for stderr sink.
func (s *stderrSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for stderr sink.
func (s *stderrSink) Close() error {
	return nil
}
