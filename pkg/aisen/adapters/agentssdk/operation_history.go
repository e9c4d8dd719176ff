// operation_history.go keeps a bounded, per-run record of LLM and tool
// operations. The history is attached to captured events as extra data.

package agentssdk

import (
	"time"
)

// DefaultHistorySize is the number of operations kept per run.
const DefaultHistorySize = 20

// Operation kinds.
const (
	OperationLLM  = "llm"
	OperationTool = "tool"
)

// OperationRecord captures a single operation (LLM call or tool call).
// Stored in Event.Extra["operation_history"].
type OperationRecord struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Duration  int64     `json:"duration_ms,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`

	LLM  *LLMOperation  `json:"llm,omitempty"`
	Tool *ToolOperation `json:"tool,omitempty"`

	Error string `json:"error,omitempty"`
}

// LLMOperation captures metadata from an LLM call. Message text is never
// stored.
type LLMOperation struct {
	Model        string            `json:"model"`
	Provider     string            `json:"provider"`
	MessageCount int               `json:"message_count"`
	Messages     []MessageMetadata `json:"messages"`
	Temperature  *float32          `json:"temperature,omitempty"`
	TopP         *float32          `json:"top_p,omitempty"`
	MaxTokens    *int              `json:"max_tokens,omitempty"`
	ToolCount    int               `json:"tool_count"`
	ToolNames    []string          `json:"tool_names,omitempty"`

	// Set by OnLLMEnd.
	ResponseID       string   `json:"response_id,omitempty"`
	FinishReason     string   `json:"finish_reason,omitempty"`
	ToolCallCount    int      `json:"tool_call_count,omitempty"`
	ToolCallNames    []string `json:"tool_call_names,omitempty"`
	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
	TotalTokens      int      `json:"total_tokens,omitempty"`
}

// MessageMetadata captures message structure without content.
type MessageMetadata struct {
	Role          string `json:"role"`
	ContentLength int    `json:"content_length"`
	PartsCount    int    `json:"parts_count"`
	HasImage      bool   `json:"has_image,omitempty"`
	HasToolCall   bool   `json:"has_tool_call,omitempty"`
	HasToolResult bool   `json:"has_tool_result,omitempty"`
}

// ToolOperation captures metadata from a tool call.
type ToolOperation struct {
	Name       string `json:"name"`
	CallID     string `json:"call_id"`
	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size,omitempty"`
	Input      string `json:"input,omitempty"`
	Output     string `json:"output,omitempty"`
}

// operationHistoryBuffer is a bounded ring buffer.
type operationHistoryBuffer struct {
	records  []OperationRecord
	maxSize  int
	writeIdx int
}

func newOperationHistoryBuffer(size int) *operationHistoryBuffer {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &operationHistoryBuffer{maxSize: size}
}

// Add appends a record, evicting the oldest when full.
func (b *operationHistoryBuffer) Add(record OperationRecord) {
	if len(b.records) < b.maxSize {
		b.records = append(b.records, record)
		return
	}
	b.records[b.writeIdx] = record
	b.writeIdx = (b.writeIdx + 1) % b.maxSize
}

// GetAll returns a copy of the records, oldest first.
func (b *operationHistoryBuffer) GetAll() []OperationRecord {
	result := make([]OperationRecord, len(b.records))
	if len(b.records) < b.maxSize {
		copy(result, b.records)
		return result
	}
	// full: writeIdx points at the oldest record
	n := copy(result, b.records[b.writeIdx:])
	copy(result[n:], b.records[:b.writeIdx])
	return result
}

// UpdateLast applies fn to the most recent record of the given kind. An
// empty kind matches any record. It reports whether a record was found.
func (b *operationHistoryBuffer) UpdateLast(kind string, fn func(*OperationRecord)) bool {
	n := len(b.records)
	for i := n - 1; i >= 0; i-- {
		idx := i
		if n == b.maxSize {
			idx = (b.writeIdx + i) % b.maxSize
		}
		if kind == "" || b.records[idx].Kind == kind {
			fn(&b.records[idx])
			return true
		}
	}
	return false
}

func (b *operationHistoryBuffer) clone() *operationHistoryBuffer {
	if b == nil {
		return nil
	}
	c := *b
	c.records = make([]OperationRecord, len(b.records))
	for i, rec := range b.records {
		if rec.LLM != nil {
			llm := *rec.LLM
			rec.LLM = &llm
		}
		if rec.Tool != nil {
			tool := *rec.Tool
			rec.Tool = &tool
		}
		c.records[i] = rec
	}
	return &c
}
