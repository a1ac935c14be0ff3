package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Strob0t/runtask-analyzer/internal/port/llm"
)

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Converse runs one chat completion.
func (c *Client) Converse(ctx context.Context, req llm.Request) (llm.Response, error) {
	body, err := json.Marshal(c.chatRequest(req))
	if err != nil {
		return llm.Response{}, fmt.Errorf("marshal chat request: %w", err)
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("chat completion: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return llm.Response{}, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("chat completion: no choices")
	}

	choice := cr.Choices[0]
	resp := llm.Response{
		StopReason: stopReason(choice.FinishReason),
		Message:    llm.Message{Role: llm.RoleAssistant},
		Usage: llm.Usage{
			InputTokens:  cr.Usage.PromptTokens,
			OutputTokens: cr.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		resp.Message.Content = append(resp.Message.Content, llm.ContentBlock{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		resp.Message.Content = append(resp.Message.Content, llm.ContentBlock{ToolUse: &llm.ToolUse{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: args,
		}})
	}
	return resp, nil
}

func (c *Client) chatRequest(req llm.Request) chatRequest {
	model := req.ModelID
	if model == "" {
		model = c.modelID
	}
	out := chatRequest{Model: model}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, toChatMessages(m)...)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type:     "function",
			Function: functionSpec{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
	}
	return out
}

// toChatMessages flattens one message. Tool results become one "tool" message each.
func toChatMessages(m llm.Message) []chatMessage {
	var out []chatMessage
	main := chatMessage{Role: string(m.Role)}
	for _, b := range m.Content {
		switch {
		case b.ToolResult != nil:
			out = append(out, chatMessage{
				Role:       "tool",
				ToolCallID: b.ToolResult.ToolUseID,
				Content:    string(b.ToolResult.Content),
			})
		case b.ToolUse != nil:
			main.ToolCalls = append(main.ToolCalls, toolCall{
				ID:       b.ToolUse.ID,
				Type:     "function",
				Function: functionCall{Name: b.ToolUse.Name, Arguments: string(b.ToolUse.Input)},
			})
		default:
			main.Content += b.Text
		}
	}
	if main.Content != "" || len(main.ToolCalls) > 0 {
		out = append([]chatMessage{main}, out...)
	}
	return out
}

func stopReason(finish string) llm.StopReason {
	switch finish {
	case "tool_calls", "function_call":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	case "content_filter":
		return llm.StopGuardrail
	default:
		return llm.StopEndTurn
	}
}
