// Package llm defines the conversational model, guardrail and tool ports used by analysis.
package llm

import (
	"context"
	"encoding/json"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason tells why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopGuardrail StopReason = "guardrail_intervened"
)

// ToolUse is a model request to run a named tool.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult answers a ToolUse, keyed by its ID.
type ToolResult struct {
	ToolUseID string
	Content   json.RawMessage
	IsError   bool
}

// ContentBlock holds exactly one of Text, ToolUse or ToolResult.
type ContentBlock struct {
	Text       string
	ToolUse    *ToolUse
	ToolResult *ToolResult
}

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// Text concatenates the text blocks of m.
func (m Message) Text() string {
	var s string
	for _, b := range m.Content {
		if b.ToolUse == nil && b.ToolResult == nil {
			s += b.Text
		}
	}
	return s
}

// ToolUses returns the tool requests contained in m, in order.
func (m Message) ToolUses() []ToolUse {
	var out []ToolUse
	for _, b := range m.Content {
		if b.ToolUse != nil {
			out = append(out, *b.ToolUse)
		}
	}
	return out
}

// UserText builds a single-block user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{{Text: text}}}
}

// ToolSpec describes a tool offered to the model. InputSchema is a JSON Schema object.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is one converse call.
type Request struct {
	ModelID  string
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// Usage is token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the model answer to a Request.
type Response struct {
	StopReason StopReason
	Message    Message
	Usage      Usage
}

// Model runs one conversational inference.
type Model interface {
	Converse(ctx context.Context, req Request) (Response, error)
}

// Verdict is a guardrail decision on a piece of output text.
type Verdict struct {
	Intervened bool
	// Output is the guardrail's replacement text when Intervened.
	Output string
}

// Guardrail inspects model output before it leaves the system.
type Guardrail interface {
	Inspect(ctx context.Context, text string) (Verdict, error)
}

// ToolExecutor runs tools requested by the model.
type ToolExecutor interface {
	Specs() []ToolSpec
	Execute(ctx context.Context, call ToolUse) (json.RawMessage, error)
}
