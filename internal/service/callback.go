package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/runtask-analyzer/internal/adapter/github"
	cfotel "github.com/Strob0t/runtask-analyzer/internal/adapter/otel"
	"github.com/Strob0t/runtask-analyzer/internal/domain"
	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
	"github.com/Strob0t/runtask-analyzer/internal/port/secretstore"
)

// TaskResultSink accepts task results on HCP Terraform callback URLs.
type TaskResultSink interface {
	ValidateEndpoint(url string) bool
	PatchTaskResult(ctx context.Context, url, token string, payload runtask.TaskResultPayload) error
}

// CommentPoster posts Markdown comments on pull requests.
type CommentPoster interface {
	PostPullRequestComment(ctx context.Context, prURL, token, body string) error
}

// DeliveryResult reports whether a task result reached HCP Terraform.
type DeliveryResult struct {
	Delivered bool
	Err       error
}

// CallbackDispatcher sends task results back to HCP Terraform and, when
// configured, mirrors them as a pull request comment.
type CallbackDispatcher struct {
	sink          TaskResultSink
	comments      CommentPoster
	secrets       secretstore.Fetcher
	tokenSecretID string
	metrics       *cfotel.Metrics
}

// NewCallbackDispatcher creates a dispatcher. comments and secrets may be nil,
// which disables pull request comments.
func NewCallbackDispatcher(sink TaskResultSink, comments CommentPoster, secrets secretstore.Fetcher, tokenSecretID string, metrics *cfotel.Metrics) *CallbackDispatcher {
	if metrics == nil {
		metrics = cfotel.NopMetrics()
	}
	return &CallbackDispatcher{
		sink:          sink,
		comments:      comments,
		secrets:       secrets,
		tokenSecretID: tokenSecretID,
		metrics:       metrics,
	}
}

// Deliver PATCHes res to the event's callback URL. URLs off the trusted host are
// refused without any network call. Nothing is retried.
func (d *CallbackDispatcher) Deliver(ctx context.Context, ev runtask.Event, res runtask.Result) (out DeliveryResult) {
	ctx, span := cfotel.StartCallbackSpan(ctx, ev.RunID, string(res.Status))
	defer func() {
		cfotel.EndSpan(span, out.Err)
		if out.Delivered {
			d.metrics.CallbacksDelivered.Add(ctx, 1)
		} else {
			d.metrics.CallbacksFailed.Add(ctx, 1)
		}
	}()

	if !d.sink.ValidateEndpoint(ev.TaskResultCallbackURL) {
		err := fmt.Errorf("%w: callback url refused", domain.ErrUntrustedEndpoint)
		slog.ErrorContext(ctx, "task result not sent", "error", err)
		return DeliveryResult{Err: err}
	}

	payload := runtask.NewTaskResultPayload(res)
	slog.InfoContext(ctx, "sending task result", "status", res.Status, "outcomes", len(res.Outcomes))
	if err := d.sink.PatchTaskResult(ctx, ev.TaskResultCallbackURL, ev.AccessToken, payload); err != nil {
		slog.ErrorContext(ctx, "task result delivery failed", "error", err)
		return DeliveryResult{Err: err}
	}
	return DeliveryResult{Delivered: true}
}

// Comment posts res on the run's pull request. It never fails the caller:
// every error, including a panic in formatting, is logged and dropped.
func (d *CallbackDispatcher) Comment(ctx context.Context, ev runtask.Event, res runtask.Result) {
	if d.comments == nil || d.secrets == nil || d.tokenSecretID == "" || ev.VCSPullRequestURL == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "pull request comment panicked", "panic", r)
		}
	}()

	token, err := d.secrets.FetchSecret(ctx, d.tokenSecretID)
	if err != nil || token == "" {
		slog.WarnContext(ctx, "pull request comment skipped: no github token", "error", err)
		return
	}
	body := github.FormatComment(ev, res)
	if err := d.comments.PostPullRequestComment(ctx, ev.VCSPullRequestURL, token, body); err != nil {
		slog.ErrorContext(ctx, "pull request comment failed", "pull_request", ev.VCSPullRequestURL, "error", err)
		return
	}
	slog.InfoContext(ctx, "pull request comment posted", "pull_request", ev.VCSPullRequestURL)
}
