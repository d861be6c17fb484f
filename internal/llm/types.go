// Package llm reaches the coaching model over the network. The model is an
// opaque external capability; this package owns the wire shape, transient
// failure retry, and nothing else.
package llm

import (
	"context"
	"encoding/json"
)

// Role values for chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single model call.
type Request struct {
	Model     string
	MaxTokens int
	System    string
	Messages  []Message
}

// ToolDefinition declares one tool the model may call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a structured request emitted by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Response is the model's reply to a tools-enabled call.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
}

// Client is the transport the orchestrator talks through.
type Client interface {
	// SendMessage sends the request and returns the text reply.
	SendMessage(ctx context.Context, req Request) (string, error)

	// SendMessageWithTools sends the request with tool declarations and
	// returns text plus any tool calls.
	SendMessageWithTools(ctx context.Context, req Request, tools []ToolDefinition) (*Response, error)
}
