// llm_snapshot.go builds operation records from hook arguments. Prompt and
// completion text is never stored; tool payloads are scrubbed and truncated.

package agentssdk

import (
	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

const (
	snapshotMessages  = 10
	toolPayloadLength = 512
)

var payloadScrubber = aisen.NewScrubber(aisen.DefaultScrubberConfig())

// buildLLMOperation extracts metadata from an LLM request.
func buildLLMOperation(req llmsdk.Request) *LLMOperation {
	op := &LLMOperation{
		Model:        req.Model,
		Provider:     string(req.Provider),
		MessageCount: len(req.Messages),
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		MaxTokens:    req.MaxTokens,
		ToolCount:    len(req.Tools),
	}

	if len(req.Tools) > 0 {
		op.ToolNames = make([]string, len(req.Tools))
		for i, tool := range req.Tools {
			op.ToolNames[i] = tool.Name
		}
	}

	start := max(len(req.Messages)-snapshotMessages, 0)
	op.Messages = make([]MessageMetadata, 0, len(req.Messages)-start)
	for _, msg := range req.Messages[start:] {
		op.Messages = append(op.Messages, buildMessageMetadata(msg))
	}
	return op
}

// buildMessageMetadata describes a message without its content.
func buildMessageMetadata(msg llmsdk.Message) MessageMetadata {
	metadata := MessageMetadata{
		Role:       string(msg.Role),
		PartsCount: len(msg.Parts),
	}
	for _, part := range msg.Parts {
		metadata.ContentLength += len(part.Text)
		if part.ImageData != nil {
			metadata.HasImage = true
		}
		if part.ToolCall != nil {
			metadata.HasToolCall = true
		}
		if part.ToolResult != nil {
			metadata.HasToolResult = true
		}
	}
	return metadata
}

// updateLLMOperationWithResponse adds response metadata to op.
func updateLLMOperationWithResponse(op *LLMOperation, resp llmsdk.Response) {
	if op == nil {
		return
	}

	op.ResponseID = resp.ID
	op.FinishReason = string(resp.FinishReason)
	op.PromptTokens = resp.Usage.PromptTokens
	op.CompletionTokens = resp.Usage.CompletionTokens
	op.TotalTokens = resp.Usage.TotalTokens

	if len(resp.ToolCalls) > 0 {
		op.ToolCallCount = len(resp.ToolCalls)
		op.ToolCallNames = make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			op.ToolCallNames[i] = tc.Name
		}
	}
}

// buildToolOperation records the call with its scrubbed arguments.
func buildToolOperation(tool agents.Tool, call llmsdk.ToolCall) *ToolOperation {
	op := &ToolOperation{
		Name:      tool.Name,
		CallID:    call.ID,
		InputSize: len(call.Arguments),
	}
	if len(call.Arguments) > 0 {
		op.Input = aisen.Truncate(payloadScrubber.ScrubJSON(string(call.Arguments)), toolPayloadLength)
	}
	return op
}

// updateToolOperationWithOutput adds the scrubbed output to op.
func updateToolOperationWithOutput(op *ToolOperation, output string) {
	if op == nil {
		return
	}
	op.OutputSize = len(output)
	if output != "" {
		op.Output = aisen.Truncate(payloadScrubber.ScrubMessage(output), toolPayloadLength)
	}
}

// lastLLMSnapshot returns the most recent LLM operation in history.
func lastLLMSnapshot(history []OperationRecord) *LLMOperation {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == OperationLLM && history[i].LLM != nil {
			return history[i].LLM
		}
	}
	return nil
}
