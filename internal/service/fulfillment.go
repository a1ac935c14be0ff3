package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/runtask-analyzer/internal/adapter/hcp"
	cfotel "github.com/Strob0t/runtask-analyzer/internal/adapter/otel"
	"github.com/Strob0t/runtask-analyzer/internal/domain"
	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
	"github.com/Strob0t/runtask-analyzer/internal/domain/tfplan"
	"github.com/Strob0t/runtask-analyzer/internal/logger"
	"github.com/Strob0t/runtask-analyzer/internal/port/llm"
	"github.com/Strob0t/runtask-analyzer/internal/port/runlog"
)

// Prompts and system instructions of the three analysis phases.
const (
	resourcePrompt = "You must respond with ONLY a JSON object. Do not include any explanatory text, conversation, or markdown formatting.\n\n" +
		"Analyze the terraform plan and return this exact JSON structure:\n" +
		`{"thinking": "brief analysis", "resources": "list of resources being created, modified, or deleted"}` + "\n\n" +
		"Terraform plan:\n"
	resourceSystem = "You are a JSON-only response system. Return only valid JSON with no additional text or formatting."

	amiPrompt = "For any Amazon Machine Image (AMI) changes in this analysis, use the get_ami_releases function to compare old and new AMI details including kernel, docker, and ECS agent versions.\n\n" +
		"Analysis: "
	amiSystem = "Provide direct, technical analysis of AMI changes without conversational language."

	summaryPrompt = "Provide a concise summary of these Terraform changes. Focus on what resources are being created, modified, or deleted:\n\n"
	summarySystem = "Provide a direct, technical summary without conversational language."
)

// Outcome descriptions.
const (
	DescPlanSummary = "Summary of Terraform plan"
	DescAMISummary  = "Summary of AMI changes"
)

// PlanSource retrieves run inputs from HCP Terraform.
type PlanSource interface {
	GetPlan(ctx context.Context, url, token string) (tfplan.Plan, error)
	DownloadConfiguration(ctx context.Context, url, token string) ([]byte, error)
}

// FulfillmentConfig holds model settings for the analysis.
type FulfillmentConfig struct {
	ModelID string
	// Provider names the inference service in result messages, e.g. "Amazon Bedrock".
	Provider string
	// TrustedHost is quoted in the message when a plan URL is rejected.
	TrustedHost string
}

// FulfillmentEngine produces the task result for a verified run task event.
type FulfillmentEngine struct {
	plans     PlanSource
	model     llm.Model
	loop      *ToolLoop
	guardrail llm.Guardrail
	runlog    runlog.Writer
	cfg       FulfillmentConfig
	metrics   *cfotel.Metrics
}

// FulfillmentDeps are the collaborators of a FulfillmentEngine. Guardrail and
// RunLog are optional.
type FulfillmentDeps struct {
	Plans     PlanSource
	Model     llm.Model
	Loop      *ToolLoop
	Guardrail llm.Guardrail
	RunLog    runlog.Writer
	Metrics   *cfotel.Metrics
}

// NewFulfillmentEngine creates an engine from deps.
func NewFulfillmentEngine(cfg FulfillmentConfig, deps FulfillmentDeps) *FulfillmentEngine {
	if deps.Metrics == nil {
		deps.Metrics = cfotel.NopMetrics()
	}
	if cfg.Provider == "" {
		cfg.Provider = "Amazon Bedrock"
	}
	return &FulfillmentEngine{
		plans:     deps.Plans,
		model:     deps.Model,
		loop:      deps.Loop,
		guardrail: deps.Guardrail,
		runlog:    deps.RunLog,
		cfg:       cfg,
		metrics:   deps.Metrics,
	}
}

// Fulfill runs the stage-specific work for ev. Retrieval failures produce a
// failed result carrying a diagnostic message; degraded analysis phases are
// replaced by placeholders. A returned error means the run crashed.
func (e *FulfillmentEngine) Fulfill(ctx context.Context, ev runtask.Event) (res runtask.Result, err error) {
	ctx = logger.WithRunID(ctx, ev.RunID)
	ctx, span := cfotel.StartFulfillSpan(ctx, ev.RunID, string(ev.Stage), ev.WorkspaceName)
	start := time.Now()
	defer func() {
		e.metrics.FulfillDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("stage", string(ev.Stage)), attribute.String("status", string(res.Status))))
		cfotel.EndSpan(span, err)
	}()

	switch ev.Stage {
	case runtask.StagePrePlan:
		return e.fulfillPrePlan(ctx, ev), nil
	case runtask.StagePostPlan:
		return e.fulfillPostPlan(ctx, ev)
	default:
		return runtask.Result{Status: runtask.StatusFailed, Message: runtask.MsgUnsupportedStage + string(ev.Stage)}, nil
	}
}

func (e *FulfillmentEngine) fulfillPrePlan(ctx context.Context, ev runtask.Event) runtask.Result {
	res := runtask.Result{URL: e.logURL(ev.RunID), Status: runtask.StatusPassed}

	data, err := e.plans.DownloadConfiguration(ctx, ev.ConfigurationVersionDownloadURL, ev.AccessToken)
	if err != nil {
		slog.ErrorContext(ctx, "configuration download failed", "error", err)
		res.Status = runtask.StatusFailed
		res.Message = e.fetchErrorMessage(err)
		return res
	}

	sum, err := InspectBundle(data)
	if err != nil {
		slog.ErrorContext(ctx, "configuration bundle unreadable", "error", err)
		res.Status = runtask.StatusFailed
		res.Message = "Exception: " + err.Error()
		return res
	}
	slog.DebugContext(ctx, "configuration downloaded",
		"organization", ev.OrganizationName, "workspace", ev.WorkspaceName,
		"files", len(sum.Files), "terraform_files", sum.TerraformFiles, "bytes", sum.Bytes)

	res.Message = fmt.Sprintf("Configuration version downloaded: %d files (%d Terraform)", len(sum.Files), sum.TerraformFiles)
	return res
}

func (e *FulfillmentEngine) fulfillPostPlan(ctx context.Context, ev runtask.Event) (runtask.Result, error) {
	plan, err := e.plans.GetPlan(ctx, ev.PlanJSONAPIURL, ev.AccessToken)
	if err != nil {
		slog.ErrorContext(ctx, "plan retrieval failed", "error", err)
		return runtask.Result{Status: runtask.StatusFailed, Message: e.fetchErrorMessage(err)}, nil
	}
	slog.DebugContext(ctx, "plan received",
		"organization", ev.OrganizationName, "workspace_id", ev.WorkspaceID, "changes", plan.Counts())

	message, outcomes, err := e.analyze(ctx, plan)
	if err != nil {
		return runtask.Result{}, err
	}

	res := runtask.Result{
		URL:      e.logURL(ev.RunID),
		Status:   runtask.StatusPassed,
		Message:  message,
		Outcomes: outcomes,
	}
	e.writeRunLog(ctx, ev.RunID, outcomes)
	return res, nil
}

// analyze runs resource classification, the AMI tool loop and the summary.
func (e *FulfillmentEngine) analyze(ctx context.Context, plan tfplan.Plan) (string, []runtask.Outcome, error) {
	changes := string(plan.RawResourceChanges)

	analysis, err := e.resourceAnalysis(ctx, changes)
	if err != nil {
		return "", nil, err
	}
	amiSummary, err := e.amiAnalysis(ctx, analysis)
	if err != nil {
		return "", nil, err
	}
	description, err := e.planSummary(ctx, changes)
	if err != nil {
		return "", nil, err
	}

	slog.InfoContext(ctx, "analysis report",
		"analysis", analysis, "ami_summary", amiSummary, "plan_summary", description)

	planBody, withheld := e.inspect(ctx, description)
	if !withheld {
		planBody = runtask.Truncate(planBody, runtask.PlanSummaryMaxChars)
	}
	amiBody, withheld := e.inspect(ctx, amiSummary)
	if !withheld {
		amiBody = runtask.Truncate(amiBody, runtask.AMISummaryMaxChars)
	}

	outcomes := []runtask.Outcome{
		runtask.NewOutcome(runtask.OutcomePlanSummary, DescPlanSummary, planBody),
		runtask.NewOutcome(runtask.OutcomeAMISummary, DescAMISummary, amiBody),
	}
	message := fmt.Sprintf("Terraform plan analyzer using %s, expand the findings below to learn more. Click `view more details` to get the detailed logs", e.cfg.Provider)
	return message, outcomes, nil
}

func (e *FulfillmentEngine) resourceAnalysis(ctx context.Context, changes string) (text string, err error) {
	ctx, span := cfotel.StartPhaseSpan(ctx, "resource_analysis")
	defer func() { cfotel.EndSpan(span, err) }()

	resp, err := e.model.Converse(ctx, llm.Request{
		ModelID:  e.cfg.ModelID,
		System:   resourceSystem,
		Messages: []llm.Message{llm.UserText(resourcePrompt + changes)},
	})
	if err != nil {
		return "", fmt.Errorf("resource analysis: %w", err)
	}

	resources, ok := fieldText(CleanResponse(resp.Message.Text()), "resources")
	if !ok {
		slog.ErrorContext(ctx, "resource analysis has no resources field", "error", domain.ErrAnalysisDegraded)
		return runtask.MsgPlanParseError, nil
	}
	return resources, nil
}

func (e *FulfillmentEngine) amiAnalysis(ctx context.Context, analysis string) (text string, err error) {
	ctx, span := cfotel.StartPhaseSpan(ctx, "tool_loop")
	defer func() { cfotel.EndSpan(span, err) }()

	res, err := e.loop.Run(ctx, llm.Request{
		ModelID:  e.cfg.ModelID,
		System:   amiSystem,
		Messages: []llm.Message{llm.UserText(amiPrompt + analysis)},
	})
	if err != nil && !errors.Is(err, domain.ErrAnalysisDegraded) {
		return "", fmt.Errorf("ami analysis: %w", err)
	}
	if err != nil {
		slog.WarnContext(ctx, "ami analysis degraded", "error", err, "model_calls", res.Calls, "tool_calls", res.ToolCalls)
		err = nil
	}

	text = res.Final.Text()
	if text == "" {
		slog.ErrorContext(ctx, "no ami analysis content received")
		return "Error: No AMI analysis response received from " + e.cfg.Provider, nil
	}
	return text, nil
}

func (e *FulfillmentEngine) planSummary(ctx context.Context, changes string) (text string, err error) {
	ctx, span := cfotel.StartPhaseSpan(ctx, "summary")
	defer func() { cfotel.EndSpan(span, err) }()

	resp, err := e.model.Converse(ctx, llm.Request{
		ModelID:  e.cfg.ModelID,
		System:   summarySystem,
		Messages: []llm.Message{llm.UserText(summaryPrompt + changes)},
	})
	if err != nil {
		return "", fmt.Errorf("plan summary: %w", err)
	}
	text = resp.Message.Text()
	if text == "" {
		slog.ErrorContext(ctx, "no summary content received")
		return "Error: No response received from " + e.cfg.Provider, nil
	}
	return text, nil
}

// inspect passes text through the guardrail. When it intervenes, or cannot be
// consulted, the returned body is a redaction notice and withheld is true.
func (e *FulfillmentEngine) inspect(ctx context.Context, text string) (body string, withheld bool) {
	if e.guardrail == nil {
		return text, false
	}
	v, err := e.guardrail.Inspect(ctx, text)
	if err != nil {
		slog.ErrorContext(ctx, "guardrail inspection failed", "error", err)
		return runtask.MsgGuardrailPrefix + "guardrail inspection unavailable", true
	}
	if !v.Intervened {
		return text, false
	}
	e.metrics.GuardrailInterventions.Add(ctx, 1)
	slog.InfoContext(ctx, "guardrail intervened", "output", v.Output)
	return runtask.MsgGuardrailPrefix + v.Output, true
}

func (e *FulfillmentEngine) logURL(runID string) string {
	if e.runlog == nil {
		return ""
	}
	return e.runlog.URL(runlog.Cursor{Stream: runID})
}

// writeRunLog appends each outcome's description and body to the run stream.
// Failures are logged only.
func (e *FulfillmentEngine) writeRunLog(ctx context.Context, runID string, outcomes []runtask.Outcome) {
	if e.runlog == nil {
		return
	}
	cur, err := e.runlog.Open(ctx, runID)
	if err != nil {
		slog.ErrorContext(ctx, "run log open failed", "error", err)
		return
	}
	for _, o := range outcomes {
		cur, err = e.runlog.Append(ctx, cur, o.Description, o.Body)
		if err != nil {
			slog.ErrorContext(ctx, "run log append failed", "outcome", o.OutcomeID, "error", err)
			return
		}
	}
}

// fetchErrorMessage turns a plan or bundle retrieval error into the task result message.
func (e *FulfillmentEngine) fetchErrorMessage(err error) string {
	var httpErr *hcp.HTTPError
	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.Is(err, domain.ErrUntrustedEndpoint):
		return "Error: Invalid endpoint URL, expected host is " + e.cfg.TrustedHost
	case errors.As(err, &httpErr):
		return "HTTP Error: " + httpErr.Error()
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		return "Timeout Error: " + err.Error()
	case errors.As(err, &urlErr):
		return "URL Error: " + urlErr.Err.Error()
	default:
		return "Exception: " + err.Error()
	}
}
