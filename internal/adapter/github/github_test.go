package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/runtask-analyzer/internal/domain"
	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
)

func TestParsePullRequestURL(t *testing.T) {
	tests := []struct {
		in      string
		want    PullRequest
		wantErr bool
	}{
		{in: "https://github.com/acme/infra/pull/42", want: PullRequest{"acme", "infra", 42}},
		{in: "https://github.com/acme/infra/pull/7/files", want: PullRequest{"acme", "infra", 7}},
		{in: "https://ghe.example.com/team/repo/pull/3?tab=checks", want: PullRequest{"team", "repo", 3}},
		{in: "https://github.com/acme/infra/issues/42", wantErr: true},
		{in: "https://github.com/acme/pull/42", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePullRequestURL(tt.in)
		if tt.wantErr {
			if !errors.Is(err, domain.ErrMalformedInput) {
				t.Errorf("ParsePullRequestURL(%q) err = %v, want ErrMalformedInput", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePullRequestURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePullRequestURL(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestCommentsEndpoint(t *testing.T) {
	pr := PullRequest{Owner: "acme", Repo: "infra", Number: 42}
	want := "https://api.github.com/repos/acme/infra/issues/42/comments"
	if got := pr.CommentsEndpoint("https://api.github.com/"); got != want {
		t.Errorf("CommentsEndpoint = %q, want %q", got, want)
	}
}

func TestPostPullRequestComment(t *testing.T) {
	var gotPath, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotBody = body["body"]
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	if err := c.PostPullRequestComment(context.Background(), "https://github.com/acme/infra/pull/42", "gh-token", "hello"); err != nil {
		t.Fatalf("PostPullRequestComment: %v", err)
	}
	if gotPath != "/repos/acme/infra/issues/42/comments" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer gh-token" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody != "hello" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestPostPullRequestCommentAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	err := c.PostPullRequestComment(context.Background(), "https://github.com/acme/infra/pull/1", "bad", "x")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestFormatComment(t *testing.T) {
	ev := runtask.Event{
		OrganizationName: "acme",
		WorkspaceName:    "prod-network",
		RunID:            "run-123",
		Stage:            runtask.StagePostPlan,
		RunAppURL:        "https://app.terraform.io/app/acme/prod-network/runs/run-123",
	}
	res := runtask.Result{
		Status:  runtask.StatusPassed,
		Message: "analysis done",
		Outcomes: []runtask.Outcome{
			runtask.NewOutcome(runtask.OutcomePlanSummary, "Summary of Terraform plan", "line1\nline2"),
		},
	}
	out := FormatComment(ev, res)
	for _, want := range []string{
		"## HCP Terraform run task: passed",
		"acme/prod-network",
		"run-123 (post_plan)",
		"<summary>Summary of Terraform plan</summary>",
		"line1<br>line2",
		"[View run in HCP Terraform](https://app.terraform.io/app/acme/prod-network/runs/run-123)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("comment missing %q:\n%s", want, out)
		}
	}
}
