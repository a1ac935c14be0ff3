package runtask

import "unicode/utf8"

// Status is the verdict reported back to HCP Terraform.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// Outcome identifiers and truncation limits for outcome bodies.
const (
	OutcomePlanSummary = "Plan-Summary"
	OutcomeAMISummary  = "AMI-Summary"

	MaxOutcomeBody      = 10000
	PlanSummaryMaxChars = 9000
	AMISummaryMaxChars  = 700
)

// Fixed result messages.
const (
	MsgVerificationFailed = "Verification failed, check HCP Terraform org, workspace prefix or run task stage"
	MsgFulfillmentFailed  = "HCP Terraform run task failed, please look into the service logs for more details."
	MsgUnsupportedStage   = "Runtask is not configured to run on this stage "
	MsgPlanParseError     = "Error: Could not parse Terraform plan analysis"
	MsgGuardrailPrefix    = "Output omitted due to : "
)

// Tag is a single outcome tag rendered by HCP Terraform.
type Tag struct {
	Label string `json:"label"`
	Level string `json:"level"`
}

// Tags groups the status and severity tags of an outcome.
type Tags struct {
	Status   []Tag `json:"status"`
	Severity []Tag `json:"severity"`
}

// DefaultTags are attached to every informational outcome.
func DefaultTags() Tags {
	return Tags{
		Status:   []Tag{{Label: "Passed", Level: "info"}},
		Severity: []Tag{{Label: "Info", Level: "info"}},
	}
}

// Outcome is one expandable finding attached to a task result.
type Outcome struct {
	OutcomeID   string
	Description string
	Body        string
	Tags        Tags
}

// NewOutcome builds an outcome with default tags, clamping the body to MaxOutcomeBody.
func NewOutcome(id, description, body string) Outcome {
	return Outcome{
		OutcomeID:   id,
		Description: description,
		Body:        Truncate(body, MaxOutcomeBody),
		Tags:        DefaultTags(),
	}
}

// Result is the task verdict produced by fulfillment or short-circuit paths.
type Result struct {
	URL      string
	Status   Status
	Message  string
	Outcomes []Outcome
}

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
