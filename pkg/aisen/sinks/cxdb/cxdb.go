// Package cxdb provides a sink that persists events to cxdb as SystemMessage items.
package cxdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	cxdtypes "github.com/strongdm/ai-cxdb/clients/go/types"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

// maxTitleLength bounds SystemMessage.Title.
const maxTitleLength = 100

// CXDBClient is the minimal interface for cxdb client operations.
// The real *cxdb.Client satisfies this interface.
type CXDBClient interface {
	CreateContext(ctx context.Context, baseTurnID uint64) (*cxdbclient.ContextHead, error)
	AppendTurn(ctx context.Context, req *cxdbclient.AppendRequest) (*cxdbclient.AppendResult, error)
}

// CXDBSinkOption configures the CXDB sink.
type CXDBSinkOption func(*cxdbSinkConfig)

type cxdbSinkConfig struct {
	orphanLabels []string
	clientTag    string
	groupOrphans bool
}

// WithOrphanLabels sets labels for orphan event contexts.
func WithOrphanLabels(labels []string) CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.orphanLabels = labels
	}
}

// WithClientTag sets the client tag for orphan contexts.
func WithClientTag(tag string) CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.clientTag = tag
	}
}

// WithGroupedOrphans appends unlinked events with the same grouping hash to
// one orphan context instead of creating a context per event.
func WithGroupedOrphans() CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.groupOrphans = true
	}
}

// cxdbSink writes events to cxdb as SystemMessage items.
type cxdbSink struct {
	client       CXDBClient
	orphanLabels []string
	clientTag    string
	groupOrphans bool

	mu      sync.Mutex
	orphans map[string]uint64
}

// NewCXDBSink creates a sink that writes to cxdb.
//
// Write failures are marked with aisen.MarkOwnRequest: when the sink runs
// inside an instrumented realm, its own delivery failures are never captured
// as new events.
func NewCXDBSink(client CXDBClient, opts ...CXDBSinkOption) aisen.Sink {
	cfg := &cxdbSinkConfig{
		orphanLabels: []string{"error", "unlinked"},
		clientTag:    "aisen",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &cxdbSink{
		client:       client,
		orphanLabels: cfg.orphanLabels,
		clientTag:    cfg.clientTag,
		groupOrphans: cfg.groupOrphans,
		orphans:      make(map[string]uint64),
	}
}

// Write persists an event to cxdb.
func (s *cxdbSink) Write(ctx context.Context, event aisen.Event) error {
	contextID, isNew, err := s.resolveContext(ctx, event)
	if err != nil {
		return aisen.MarkOwnRequest(err)
	}

	item := s.buildConversationItem(event, isNew)

	payload, err := cxdbclient.EncodeMsgpack(item)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req := &cxdbclient.AppendRequest{
		ContextID:      contextID,
		ParentTurnID:   0,
		TypeID:         cxdtypes.TypeIDConversationItem,
		TypeVersion:    cxdtypes.TypeVersionConversationItem,
		Payload:        payload,
		IdempotencyKey: event.EventID,
	}

	if _, err := s.client.AppendTurn(ctx, req); err != nil {
		return aisen.MarkOwnRequest(fmt.Errorf("append turn: %w", err))
	}
	return nil
}

// resolveContext returns the context to append to and whether it was just
// created (and therefore needs context metadata on its first turn).
func (s *cxdbSink) resolveContext(ctx context.Context, event aisen.Event) (uint64, bool, error) {
	if event.ContextID != nil {
		return *event.ContextID, false, nil
	}

	if !s.groupOrphans {
		head, err := s.client.CreateContext(ctx, 0)
		if err != nil {
			return 0, false, fmt.Errorf("create orphan context: %w", err)
		}
		return head.ContextID, true, nil
	}

	group := aisen.GroupingHash(event)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.orphans[group]; ok {
		return id, false, nil
	}
	head, err := s.client.CreateContext(ctx, 0)
	if err != nil {
		return 0, false, fmt.Errorf("create orphan context: %w", err)
	}
	s.orphans[group] = head.ContextID
	return head.ContextID, true, nil
}

// buildConversationItem creates a canonical ConversationItem from an Event.
func (s *cxdbSink) buildConversationItem(event aisen.Event, isOrphan bool) *cxdtypes.ConversationItem {
	item := &cxdtypes.ConversationItem{
		ItemType:  cxdtypes.ItemTypeSystem,
		Status:    cxdtypes.ItemStatusComplete,
		Timestamp: event.Timestamp.UnixMilli(),
		ID:        event.EventID,
		System: &cxdtypes.SystemMessage{
			Kind:    cxdtypes.SystemKindError,
			Title:   buildTitle(event),
			Content: buildEventDetails(event),
		},
	}

	// cxdb expects context metadata on the first turn.
	if isOrphan {
		item.ContextMetadata = &cxdtypes.ContextMetadata{
			Labels:    s.orphanLabels,
			ClientTag: s.clientTag,
		}
	}

	return item
}

// buildTitle renders "Type: value" for exceptions, the message otherwise.
func buildTitle(event aisen.Event) string {
	title := event.Message
	if ex := event.PrimaryException(); ex != nil {
		switch {
		case ex.Type != "" && ex.Value != "":
			title = ex.Type + ": " + ex.Value
		case ex.Type != "":
			title = ex.Type
		case ex.Value != "":
			title = ex.Value
		}
	}
	if title == "" {
		title = "event " + event.EventID
	}
	return aisen.Truncate(title, maxTitleLength-3)
}

// buildEventDetails encodes the event as JSON for SystemMessage.Content.
func buildEventDetails(event aisen.Event) string {
	details := map[string]any{
		"event_id": event.EventID,
		"level":    string(event.Level),
		"grouping": aisen.GroupingHash(event),
	}

	if event.Message != "" {
		details["message"] = event.Message
	}
	if ex := event.PrimaryException(); ex != nil {
		details["exception"] = ex
	}
	if frames, ok := event.Frames(); ok && len(frames) > 0 {
		details["frames"] = frames
	}
	if len(event.Fingerprint) > 0 {
		details["fingerprint"] = event.Fingerprint
	}
	if len(event.Tags) > 0 {
		details["tags"] = event.Tags
	}
	if len(event.Extra) > 0 {
		details["extra"] = event.Extra
	}
	if event.ContextID != nil {
		details["context_id"] = *event.ContextID
	}
	if event.System != nil {
		details["system_state"] = map[string]any{
			"memory_bytes":    event.System.MemoryBytes,
			"goroutine_count": event.System.GoroutineCount,
			"uptime_ms":       event.System.UptimeMs,
			"host_name":       event.System.HostName,
		}
	}

	jsonBytes, err := json.Marshal(details)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to encode details: %s"}`, err)
	}
	return string(jsonBytes)
}

// Flush is a no-op for the cxdb sink (writes are synchronous).
func (s *cxdbSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for the cxdb sink.
func (s *cxdbSink) Close() error {
	return nil
}
