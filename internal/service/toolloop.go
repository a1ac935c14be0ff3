package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/runtask-analyzer/internal/adapter/otel"
	"github.com/Strob0t/runtask-analyzer/internal/domain"
	"github.com/Strob0t/runtask-analyzer/internal/port/llm"
)

// ErrToolBudgetExhausted is returned with a LoopResult when the model still
// requested tools after the last allowed round.
var ErrToolBudgetExhausted = errors.New("tool round budget exhausted")

// LoopResult is the state of a finished tool loop.
type LoopResult struct {
	// Final is the last assistant message.
	Final llm.Message
	// Messages is the full conversation, including Final.
	Messages  []llm.Message
	Calls     int
	ToolCalls int
	Usage     llm.Usage
}

// ToolLoop drives a conversation in which the model may request tool runs
// before answering. Each round executes every requested tool, appends one user
// message holding all results and resubmits the whole history.
type ToolLoop struct {
	model     llm.Model
	tools     llm.ToolExecutor
	maxRounds int
	timeout   time.Duration
	metrics   *cfotel.Metrics
}

// NewToolLoop creates a loop allowing at most maxRounds tool rounds within timeout.
// A zero timeout means the caller's deadline only.
func NewToolLoop(model llm.Model, tools llm.ToolExecutor, maxRounds int, timeout time.Duration, metrics *cfotel.Metrics) *ToolLoop {
	if maxRounds < 1 {
		maxRounds = 1
	}
	if metrics == nil {
		metrics = cfotel.NopMetrics()
	}
	return &ToolLoop{model: model, tools: tools, maxRounds: maxRounds, timeout: timeout, metrics: metrics}
}

// Run converses until the model stops for a reason other than tool use.
// When the round budget or the deadline is exceeded the partial result is
// returned together with an error wrapping domain.ErrAnalysisDegraded.
func (l *ToolLoop) Run(ctx context.Context, req llm.Request) (LoopResult, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if l.tools != nil && req.Tools == nil {
		req.Tools = l.tools.Specs()
	}

	res := LoopResult{Messages: append([]llm.Message(nil), req.Messages...)}
	for round := 0; ; round++ {
		req.Messages = res.Messages
		resp, err := l.model.Converse(ctx, req)
		if err != nil {
			if ctx.Err() != nil && res.Calls > 0 {
				return res, fmt.Errorf("%w: tool loop deadline: %w", domain.ErrAnalysisDegraded, err)
			}
			return res, fmt.Errorf("converse round %d: %w", round, err)
		}
		res.Calls++
		res.Usage.InputTokens += resp.Usage.InputTokens
		res.Usage.OutputTokens += resp.Usage.OutputTokens
		res.Messages = append(res.Messages, resp.Message)
		res.Final = resp.Message

		uses := resp.Message.ToolUses()
		if resp.StopReason != llm.StopToolUse || len(uses) == 0 {
			return res, nil
		}
		if round >= l.maxRounds {
			slog.WarnContext(ctx, "tool loop stopped at round budget", "rounds", round, "pending_tools", len(uses))
			return res, fmt.Errorf("%w: %w", domain.ErrAnalysisDegraded, ErrToolBudgetExhausted)
		}

		results := make([]llm.ContentBlock, 0, len(uses))
		for _, use := range uses {
			results = append(results, llm.ContentBlock{ToolResult: l.execute(ctx, use)})
			res.ToolCalls++
		}
		res.Messages = append(res.Messages, llm.Message{Role: llm.RoleUser, Content: results})
	}
}

func (l *ToolLoop) execute(ctx context.Context, use llm.ToolUse) *llm.ToolResult {
	ctx, span := cfotel.StartToolCallSpan(ctx, use.ID, use.Name)
	l.metrics.ToolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", use.Name)))

	var (
		content json.RawMessage
		err     error
	)
	if l.tools == nil {
		err = fmt.Errorf("no tools configured for %s", use.Name)
	} else {
		content, err = l.tools.Execute(ctx, use)
	}
	cfotel.EndSpan(span, err)

	if err != nil {
		slog.WarnContext(ctx, "tool execution failed", "tool", use.Name, "tool_use_id", use.ID, "error", err)
		msg, _ := json.Marshal(map[string]string{"error": err.Error()})
		return &llm.ToolResult{ToolUseID: use.ID, Content: msg, IsError: true}
	}
	slog.DebugContext(ctx, "tool executed", "tool", use.Name, "tool_use_id", use.ID)
	return &llm.ToolResult{ToolUseID: use.ID, Content: content}
}
