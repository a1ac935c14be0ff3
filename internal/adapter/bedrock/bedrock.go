// Package bedrock implements the model and guardrail ports on Amazon Bedrock Runtime.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	br "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/Strob0t/runtask-analyzer/internal/port/llm"
	"github.com/Strob0t/runtask-analyzer/internal/resilience"
)

// API is the subset of the Bedrock Runtime client used here.
type API interface {
	Converse(ctx context.Context, in *br.ConverseInput, optFns ...func(*br.Options)) (*br.ConverseOutput, error)
	ApplyGuardrail(ctx context.Context, in *br.ApplyGuardrailInput, optFns ...func(*br.Options)) (*br.ApplyGuardrailOutput, error)
}

// NewAPI builds a Bedrock Runtime client that never retries; long prompts are
// bounded by the caller's context instead.
func NewAPI(cfg aws.Config) API {
	return br.NewFromConfig(cfg, func(o *br.Options) {
		o.Retryer = aws.NopRetryer{}
	})
}

// Model runs Converse calls against one default model.
type Model struct {
	api     API
	modelID string
	timeout time.Duration
	breaker *resilience.Breaker
}

// NewModel creates a Model. timeout bounds each inference call; zero disables it.
func NewModel(api API, modelID string, timeout time.Duration) *Model {
	return &Model{api: api, modelID: modelID, timeout: timeout}
}

// SetBreaker attaches a circuit breaker to all inference calls.
func (m *Model) SetBreaker(b *resilience.Breaker) {
	m.breaker = b
}

func (m *Model) Converse(ctx context.Context, req llm.Request) (llm.Response, error) {
	in, err := m.input(req)
	if err != nil {
		return llm.Response{}, err
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	var out *br.ConverseOutput
	call := func() error {
		var err error
		out, err = m.api.Converse(ctx, in)
		return err
	}
	if m.breaker != nil {
		err = m.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return llm.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return fromOutput(out)
}

func (m *Model) input(req llm.Request) (*br.ConverseInput, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = m.modelID
	}
	in := &br.ConverseInput{ModelId: aws.String(modelID)}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	for _, msg := range req.Messages {
		bm, err := toMessage(msg)
		if err != nil {
			return nil, err
		}
		in.Messages = append(in.Messages, bm)
	}
	if len(req.Tools) > 0 {
		cfg := &types.ToolConfiguration{}
		for _, t := range req.Tools {
			var schema any
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
			cfg.Tools = append(cfg.Tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			}})
		}
		in.ToolConfig = cfg
	}
	return in, nil
}

func toMessage(msg llm.Message) (types.Message, error) {
	out := types.Message{Role: types.ConversationRole(msg.Role)}
	for _, b := range msg.Content {
		switch {
		case b.ToolUse != nil:
			var input any = map[string]any{}
			if len(b.ToolUse.Input) > 0 {
				if err := json.Unmarshal(b.ToolUse.Input, &input); err != nil {
					return types.Message{}, fmt.Errorf("tool use %s input: %w", b.ToolUse.ID, err)
				}
			}
			out.Content = append(out.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(b.ToolUse.ID),
				Name:      aws.String(b.ToolUse.Name),
				Input:     document.NewLazyDocument(input),
			}})
		case b.ToolResult != nil:
			var content any
			if err := json.Unmarshal(b.ToolResult.Content, &content); err != nil {
				return types.Message{}, fmt.Errorf("tool result %s: %w", b.ToolResult.ToolUseID, err)
			}
			block := types.ToolResultBlock{
				ToolUseId: aws.String(b.ToolResult.ToolUseID),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberJson{Value: document.NewLazyDocument(content)}},
			}
			if b.ToolResult.IsError {
				block.Status = types.ToolResultStatusError
			}
			out.Content = append(out.Content, &types.ContentBlockMemberToolResult{Value: block})
		default:
			out.Content = append(out.Content, &types.ContentBlockMemberText{Value: b.Text})
		}
	}
	return out, nil
}

func fromOutput(out *br.ConverseOutput) (llm.Response, error) {
	resp := llm.Response{StopReason: llm.StopReason(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = llm.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}

	msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp, nil
	}
	resp.Message.Role = llm.Role(msgOut.Value.Role)
	for _, c := range msgOut.Value.Content {
		switch v := c.(type) {
		case *types.ContentBlockMemberText:
			resp.Message.Content = append(resp.Message.Content, llm.ContentBlock{Text: v.Value})
		case *types.ContentBlockMemberToolUse:
			var input json.RawMessage
			if v.Value.Input != nil {
				raw, err := v.Value.Input.MarshalSmithyDocument()
				if err != nil {
					return llm.Response{}, fmt.Errorf("decode tool input: %w", err)
				}
				input = raw
			}
			resp.Message.Content = append(resp.Message.Content, llm.ContentBlock{ToolUse: &llm.ToolUse{
				ID:    aws.ToString(v.Value.ToolUseId),
				Name:  aws.ToString(v.Value.Name),
				Input: input,
			}})
		}
	}
	return resp, nil
}
