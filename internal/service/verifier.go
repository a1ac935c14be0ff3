package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/Strob0t/runtask-analyzer/internal/config"
	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
)

// Verdict is the binary outcome of allow-list verification.
type Verdict int

const (
	Unverified Verdict = iota
	Verified
)

func (v Verdict) String() string {
	if v == Verified {
		return "verified"
	}
	return "unverified"
}

// RunTaskVerifier applies the organization, workspace prefix and stage
// allow-lists to forwarded events. An empty allow-list skips its check.
type RunTaskVerifier struct {
	detailType      string
	organization    string
	workspacePrefix string
	stages          []runtask.Stage
}

// NewRunTaskVerifier creates a verifier for envelopes carrying detailType.
func NewRunTaskVerifier(detailType string, cfg config.Verify) *RunTaskVerifier {
	stages := make([]runtask.Stage, 0, len(cfg.Stages))
	for _, s := range cfg.Stages {
		stages = append(stages, runtask.Stage(s))
	}
	return &RunTaskVerifier{
		detailType:      detailType,
		organization:    cfg.Organization,
		workspacePrefix: cfg.WorkspacePrefix,
		stages:          stages,
	}
}

// Applies reports whether envelopes of detailType belong to this deployment.
func (v *RunTaskVerifier) Applies(detailType string) bool {
	return detailType == v.detailType
}

// Verify evaluates every enabled check and logs each failure with the offending value.
func (v *RunTaskVerifier) Verify(ctx context.Context, ev runtask.Event) Verdict {
	verdict := Verified

	if v.organization != "" && ev.OrganizationName != v.organization {
		slog.WarnContext(ctx, "verification failed: organization not allowed",
			"organization", ev.OrganizationName, "expected", v.organization)
		verdict = Unverified
	}
	if v.workspacePrefix != "" && !strings.HasPrefix(ev.WorkspaceName, v.workspacePrefix) {
		slog.WarnContext(ctx, "verification failed: workspace prefix mismatch",
			"workspace", ev.WorkspaceName, "prefix", v.workspacePrefix)
		verdict = Unverified
	}
	if len(v.stages) > 0 && !slices.Contains(v.stages, ev.Stage) {
		slog.WarnContext(ctx, "verification failed: stage not allowed",
			"stage", ev.Stage, "allowed", v.stages)
		verdict = Unverified
	}

	return verdict
}
