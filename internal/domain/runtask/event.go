// Package runtask defines domain types for HCP Terraform run task requests and results.
package runtask

import (
	"encoding/json"
	"time"
)

// Stage is the run lifecycle stage at which the run task was invoked.
type Stage string

const (
	StagePrePlan   Stage = "pre_plan"
	StagePostPlan  Stage = "post_plan"
	StagePreApply  Stage = "pre_apply"
	StagePostApply Stage = "post_apply"
)

// TestToken is the access token HCP Terraform sends when it validates a newly
// registered run task address. Such requests carry dummy data only.
const TestToken = "test-token"

// EventSource is the fixed source identifier attached to every forwarded event.
const EventSource = "app.terraform.io"

// Event is the normalized run task request posted by HCP Terraform.
// It is passed by value through the pipeline and never mutated.
type Event struct {
	PayloadVersion                  int    `json:"payload_version"`
	AccessToken                     string `json:"access_token"`
	Stage                           Stage  `json:"stage"`
	IsSpeculative                   bool   `json:"is_speculative"`
	TaskResultID                    string `json:"task_result_id"`
	TaskResultEnforcementLevel      string `json:"task_result_enforcement_level"`
	TaskResultCallbackURL           string `json:"task_result_callback_url"`
	RunAppURL                       string `json:"run_app_url"`
	RunCreatedAt                    string `json:"run_created_at"`
	RunCreatedBy                    string `json:"run_created_by"`
	RunID                           string `json:"run_id"`
	RunMessage                      string `json:"run_message"`
	WorkspaceID                     string `json:"workspace_id"`
	WorkspaceName                   string `json:"workspace_name"`
	WorkspaceAppURL                 string `json:"workspace_app_url"`
	OrganizationName                string `json:"organization_name"`
	PlanJSONAPIURL                  string `json:"plan_json_api_url,omitempty"`
	ConfigurationVersionID          string `json:"configuration_version_id,omitempty"`
	ConfigurationVersionDownloadURL string `json:"configuration_version_download_url,omitempty"`
	VCSRepoURL                      string `json:"vcs_repo_url,omitempty"`
	VCSBranch                       string `json:"vcs_branch,omitempty"`
	VCSPullRequestURL               string `json:"vcs_pull_request_url,omitempty"`
	VCSCommitURL                    string `json:"vcs_commit_url,omitempty"`
}

// IsProbe reports whether the event is HCP Terraform's address validation request.
func (e Event) IsProbe() bool {
	return e.AccessToken == TestToken
}

// ClaimKey identifies one fulfillment of a run at a stage.
func (e Event) ClaimKey() string {
	return e.RunID + "." + string(e.Stage)
}

// Envelope is the event-bus message wrapping a verified run task request.
// Its shape mirrors an EventBridge event so the same consumer can read
// messages from either bus.
type Envelope struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}
