package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
	"github.com/Strob0t/runtask-analyzer/internal/domain/tfplan"
	"github.com/Strob0t/runtask-analyzer/internal/port/eventbus"
	"github.com/Strob0t/runtask-analyzer/internal/port/llm"
	"github.com/Strob0t/runtask-analyzer/internal/port/secretstore"
)

var errFake = errors.New("fake failure")

// staticSecrets serves secrets from a map.
func staticSecrets(values map[string]string) secretstore.Fetcher {
	return secretstore.FetcherFunc(func(_ context.Context, id string) (string, error) {
		v, ok := values[id]
		if !ok {
			return "", secretstore.ErrNotFound
		}
		return v, nil
	})
}

// scriptedModel replays responses in order and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []llm.Response
	err       error
	requests  []llm.Request
}

func (m *scriptedModel) Converse(_ context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := req
	snapshot.Messages = append([]llm.Message(nil), req.Messages...)
	m.requests = append(m.requests, snapshot)
	if m.err != nil {
		return llm.Response{}, m.err
	}
	if len(m.responses) == 0 {
		return llm.Response{}, errors.New("script exhausted")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func textResponse(text string) llm.Response {
	return llm.Response{
		StopReason: llm.StopEndTurn,
		Message:    llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentBlock{{Text: text}}},
	}
}

func toolResponse(id, name, input string) llm.Response {
	return llm.Response{
		StopReason: llm.StopToolUse,
		Message: llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentBlock{
			{Text: "Looking up AMIs."},
			{ToolUse: &llm.ToolUse{ID: id, Name: name, Input: json.RawMessage(input)}},
		}},
	}
}

// recordingTools answers every tool call with the same payload.
type recordingTools struct {
	mu     sync.Mutex
	calls  []llm.ToolUse
	result json.RawMessage
	err    error
}

func (t *recordingTools) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{{Name: "GetECSAmisReleases", InputSchema: json.RawMessage(`{"type":"object"}`)}}
}

func (t *recordingTools) Execute(_ context.Context, call llm.ToolUse) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
	return t.result, t.err
}

// fakeGuardrail intervenes on texts listed in block.
type fakeGuardrail struct {
	block  map[string]bool
	output string
	err    error
}

func (g *fakeGuardrail) Inspect(_ context.Context, text string) (llm.Verdict, error) {
	if g.err != nil {
		return llm.Verdict{}, g.err
	}
	if g.block[text] {
		return llm.Verdict{Intervened: true, Output: g.output}, nil
	}
	return llm.Verdict{}, nil
}

// fakePlans serves a fixed plan or error.
type fakePlans struct {
	plan      tfplan.Plan
	bundle    []byte
	err       error
	planCalls int
}

func (p *fakePlans) GetPlan(_ context.Context, _, _ string) (tfplan.Plan, error) {
	p.planCalls++
	return p.plan, p.err
}

func (p *fakePlans) DownloadConfiguration(_ context.Context, _, _ string) ([]byte, error) {
	return p.bundle, p.err
}

// spySink counts PATCH attempts.
type spySink struct {
	trusted  bool
	err      error
	calls    int
	payloads []runtask.TaskResultPayload
}

func (s *spySink) ValidateEndpoint(string) bool { return s.trusted }

func (s *spySink) PatchTaskResult(_ context.Context, _, _ string, payload runtask.TaskResultPayload) error {
	s.calls++
	s.payloads = append(s.payloads, payload)
	return s.err
}

// fakePublisher records envelopes and returns a canned result.
type fakePublisher struct {
	result eventbus.PublishResult
	err    error
	sent   []runtask.Envelope
}

func (p *fakePublisher) Publish(_ context.Context, env runtask.Envelope) (eventbus.PublishResult, error) {
	p.sent = append(p.sent, env)
	return p.result, p.err
}

// memLedger is an in-memory claim ledger.
type memLedger struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (l *memLedger) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys == nil {
		l.keys = make(map[string]bool)
	}
	if l.keys[key] {
		return false, nil
	}
	l.keys[key] = true
	return true, nil
}
