// Package llm defines the narrow boundary between the hub and an LLM
// vendor's wire format. Per-vendor adapters (HTTP/SSE streaming,
// request/response shaping) are deliberately out of scope for this
// module; SendApiRequestFunc is the single injected seam a host binary wires
// up to a concrete provider.
package llm

import "context"

// ContentBlock is one typed block of a message. Exactly one of the
// Text/Image/ToolUse/ToolResult fields is populated, selected by Type.
type ContentBlock struct {
	Type string `json:"type"` // "text", "image", "tool_use", "tool_result"

	Text string `json:"text,omitempty"`

	// Image
	ImageMediaType string `json:"image_media_type,omitempty"`
	ImageData      string `json:"image_data,omitempty"` // base64

	// ToolUse
	ToolUseID   string                 `json:"tool_use_id,omitempty"`
	ToolName    string                 `json:"tool_name,omitempty"`
	ToolInput   map[string]interface{} `json:"tool_input,omitempty"`

	// ToolResult
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResultText  string `json:"tool_result_text,omitempty"`
	ToolResultError bool   `json:"tool_result_error,omitempty"`
}

func Text(s string) ContentBlock { return ContentBlock{Type: "text", Text: s} }

func ToolUse(id, name string, input map[string]interface{}) ContentBlock {
	return ContentBlock{Type: "tool_use", ToolUseID: id, ToolName: name, ToolInput: input}
}

func ToolResult(forID, text string, isError bool) ContentBlock {
	return ContentBlock{Type: "tool_result", ToolResultForID: forID, ToolResultText: text, ToolResultError: isError}
}

// Role is a conversation message's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleInfo      Role = "info" // visible to subscribers, never sent to the LLM
)

// Message is one turn of the conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// StopReason is why the adapter stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// ToolDeclaration describes one tool visible to the LLM for a request.
type ToolDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Usage tracks token/cost consumption for a single request.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUsd      float64 `json:"cost_usd,omitempty"`
}

// Request is one turn's LLM call.
type Request struct {
	Provider      string
	Model         string
	SystemPrompt  string
	Messages      []Message
	Tools         []ToolDeclaration
	MaxTokens     int
}

// StreamEvent is forwarded verbatim from the adapter to AgentRunner
// subscribers while a request is in flight.
type StreamEvent struct {
	Type      string                 `json:"type"` // "text_delta", "tool_use_start", "tool_use_delta", "tool_use_stop", "usage"
	Text      string                 `json:"text,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	ToolName  string                 `json:"tool_name,omitempty"`
	ToolInput map[string]interface{} `json:"tool_input,omitempty"`
	Usage     *Usage                 `json:"usage,omitempty"`
}

// Response is the finalized result of one LLM turn.
type Response struct {
	Message    Message
	StopReason StopReason
	Usage      Usage
}

// SendApiRequestFunc is the injected streaming call into the vendor's
// wire format; onEvent is invoked for every StreamEvent as it arrives.
// Out of scope: its implementation (HTTP/SSE framing, retries,
// per-vendor auth) belongs to the host binary, not this module.
type SendApiRequestFunc func(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error)
