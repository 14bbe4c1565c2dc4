// Package llm defines the conversation data model shared by the agent
// loop, the conversation store, and the streaming adapter, plus the
// provider clients that speak to the model API.
package llm

import (
	"encoding/json"
	"strings"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags a ContentBlock variant.
type BlockType string

const (
	BlockText           BlockType = "text"
	BlockReasoning      BlockType = "reasoning"
	BlockToolInvocation BlockType = "tool_invocation"
	BlockToolResult     BlockType = "tool_result"
)

// ContentBlock is one tagged unit of a message payload. Which fields
// are meaningful depends on Type:
//
//   - text: Text
//   - reasoning: Text, Signature (never replayed to the provider)
//   - tool_invocation: ID, Name, Input
//   - tool_result: ID, Content, IsError
type ContentBlock struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolInvocationBlock returns a tool invocation with the given
// correlation id. A nil input is sent as an empty object.
func ToolInvocationBlock(id, name string, input json.RawMessage) ContentBlock {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return ContentBlock{Type: BlockToolInvocation, ID: id, Name: name, Input: input}
}

// ToolResultBlock returns the result paired with invocation id.
func ToolResultBlock(id, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ID: id, Content: content, IsError: isError}
}

// Message is a single conversation turn.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserText builds a user message with a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// ToolInvocations returns the message's tool invocation blocks in
// emission order.
func (m Message) ToolInvocations() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolInvocation {
			out = append(out, b)
		}
	}
	return out
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Usage is token accounting for one or more provider calls.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ToolSpec advertises one tool to the provider.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
	// ReasoningBudget enables extended reasoning with the given token
	// budget when positive.
	ReasoningBudget int
}
