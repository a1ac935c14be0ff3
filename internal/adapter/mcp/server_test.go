package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	cfmcp "github.com/Strob0t/runtask-analyzer/internal/adapter/mcp"
	"github.com/Strob0t/runtask-analyzer/internal/adapter/amirelease"
	"github.com/Strob0t/runtask-analyzer/internal/port/llm"
)

// --- Mocks ---

type mockReleases struct {
	details []amirelease.Detail
	err     error
	gotIDs  []string
}

func (m *mockReleases) Lookup(_ context.Context, ids []string) ([]amirelease.Detail, error) {
	m.gotIDs = ids
	return m.details, m.err
}

func newServer(deps cfmcp.ServerDeps) *cfmcp.Server {
	return cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)
}

// --- Tests ---

func TestRegisteredTools(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{})
	tools := s.MCPServer().ListTools()
	if _, ok := tools[cfmcp.ToolAMIReleases]; !ok {
		t.Fatalf("expected %s to be registered, got %v", cfmcp.ToolAMIReleases, tools)
	}
}

func TestSpecs(t *testing.T) {
	specs := newServer(cfmcp.ServerDeps{}).Specs()
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	spec := specs[0]
	if spec.Name != cfmcp.ToolAMIReleases || spec.Description == "" {
		t.Fatalf("unexpected spec %+v", spec)
	}
	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(spec.InputSchema, &schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("schema type = %q", schema.Type)
	}
	if schema.Properties["image_ids"]["type"] != "array" {
		t.Errorf("image_ids type = %v", schema.Properties["image_ids"]["type"])
	}
	if len(schema.Required) != 1 || schema.Required[0] != "image_ids" {
		t.Errorf("required = %v", schema.Required)
	}
}

func TestExecuteReturnsReleaseDetail(t *testing.T) {
	rel := &mockReleases{details: []amirelease.Detail{{ImageID: "ami-0abc123456789def0", Release: "20240611"}}}
	s := newServer(cfmcp.ServerDeps{Releases: rel})

	out, err := s.Execute(context.Background(), llm.ToolUse{
		ID:    "tu-1",
		Name:  cfmcp.ToolAMIReleases,
		Input: json.RawMessage(`{"image_ids":["ami-0abc123456789def0"]}`),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rel.gotIDs) != 1 || rel.gotIDs[0] != "ami-0abc123456789def0" {
		t.Errorf("lookup ids = %v", rel.gotIDs)
	}
	var got struct {
		ReleaseDetail []amirelease.Detail `json:"release_detail"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, out)
	}
	if len(got.ReleaseDetail) != 1 || got.ReleaseDetail[0].Release != "20240611" {
		t.Fatalf("unexpected detail %s", out)
	}
}

func TestExecuteNoReleaseNotes(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{Releases: &mockReleases{}})
	out, err := s.Execute(context.Background(), llm.ToolUse{
		Name:  cfmcp.ToolAMIReleases,
		Input: json.RawMessage(`{"image_ids":["ami-0abc123456789def0"]}`),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(string(out), cfmcp.NoReleaseNotes) {
		t.Fatalf("expected placeholder, got %s", out)
	}
}

func TestExecuteToolError(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{Releases: &mockReleases{err: errors.New("rate limited")}})
	_, err := s.Execute(context.Background(), llm.ToolUse{
		Name:  cfmcp.ToolAMIReleases,
		Input: json.RawMessage(`{"image_ids":["ami-0abc123456789def0"]}`),
	})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected tool error, got %v", err)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	_, err := newServer(cfmcp.ServerDeps{}).Execute(context.Background(), llm.ToolUse{Name: "rm_rf"})
	if !errors.Is(err, cfmcp.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestHandlerMissingIDs(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{Releases: &mockReleases{}})
	tool := s.MCPServer().ListTools()[cfmcp.ToolAMIReleases]

	res, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: cfmcp.ToolAMIReleases},
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error result")
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := cfmcp.AuthMiddleware("secret", next)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"api key header", "X-API-Key", "secret", http.StatusOK},
		{"bare authorization", "Authorization", "secret", http.StatusUnauthorized},
		{"wrong", "Authorization", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	cfmcp.AuthMiddleware("", next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}
