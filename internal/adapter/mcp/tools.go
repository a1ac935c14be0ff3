package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/runtask-analyzer/internal/adapter/amirelease"
	"github.com/Strob0t/runtask-analyzer/internal/port/llm"
)

// ToolAMIReleases is the tool the AMI analysis phase offers to the model.
const ToolAMIReleases = "GetECSAmisReleases"

// NoReleaseNotes is returned to the model when no release matches the requested images.
const NoReleaseNotes = "No release notes were found the ami."

// ReleaseLookup resolves AMI image IDs to release details.
type ReleaseLookup interface {
	Lookup(ctx context.Context, imageIDs []string) ([]amirelease.Detail, error)
}

// ErrUnknownTool is returned by Execute for names not in the registry.
var ErrUnknownTool = errors.New("unknown tool")

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.amiReleasesTool(),
	)
}

func (s *Server) amiReleasesTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolAMIReleases,
		mcplib.WithDescription("Get release details of Amazon ECS-optimized AMIs, including kernel, docker and ECS agent versions"),
		mcplib.WithArray("image_ids",
			mcplib.Required(),
			mcplib.Description("AMI image IDs, e.g. ami-0abc123456789def0"),
			mcplib.WithStringItems(),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleAMIReleases,
	}
}

func (s *Server) handleAMIReleases(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Releases == nil {
		return mcplib.NewToolResultError("release lookup not configured"), nil
	}
	ids := stringSlice(req.GetArguments()["image_ids"])
	if len(ids) == 0 {
		return mcplib.NewToolResultError("image_ids is required"), nil
	}

	details, err := s.deps.Releases.Lookup(ctx, ids)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to look up AMI releases", err), nil
	}

	var payload struct {
		ReleaseDetail any `json:"release_detail"`
	}
	payload.ReleaseDetail = NoReleaseNotes
	if len(details) > 0 {
		payload.ReleaseDetail = details
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal release details", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Specs lists the registered tools in the model's tool configuration format.
func (s *Server) Specs() []llm.ToolSpec {
	tools := s.mcpServer.ListTools()
	specs := make([]llm.ToolSpec, 0, len(tools))
	for name, t := range tools {
		schema, err := json.Marshal(t.Tool.InputSchema)
		if err != nil {
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        name,
			Description: t.Tool.Description,
			InputSchema: schema,
		})
	}
	slices.SortFunc(specs, func(a, b llm.ToolSpec) int { return strings.Compare(a.Name, b.Name) })
	return specs
}

// Execute runs a model tool request in-process through the registered handler.
// Tool-level failures are returned as errors so the caller can report them to the model.
func (s *Server) Execute(ctx context.Context, call llm.ToolUse) (json.RawMessage, error) {
	t, ok := s.mcpServer.ListTools()[call.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	var args map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return nil, fmt.Errorf("decode %s input: %w", call.Name, err)
		}
	}

	req := mcplib.CallToolRequest{}
	req.Params.Name = call.Name
	req.Params.Arguments = args
	res, err := t.Handler(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", call.Name, err)
	}

	text := resultText(res)
	if res.IsError {
		return nil, fmt.Errorf("tool %s: %s", call.Name, text)
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	quoted, err := json.Marshal(text)
	if err != nil {
		return nil, err
	}
	return quoted, nil
}

func resultText(res *mcplib.CallToolResult) string {
	var out string
	for _, c := range res.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}
