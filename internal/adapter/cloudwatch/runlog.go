// Package cloudwatch implements the run log port on CloudWatch Logs, one stream per run.
package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwl "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/Strob0t/runtask-analyzer/internal/port/runlog"
)

// API is the subset of the CloudWatch Logs client used here.
type API interface {
	CreateLogStream(ctx context.Context, in *cwl.CreateLogStreamInput, optFns ...func(*cwl.Options)) (*cwl.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, in *cwl.PutLogEventsInput, optFns ...func(*cwl.Options)) (*cwl.PutLogEventsOutput, error)
}

// RunLog writes analysis records to <group>/<run_id>.
type RunLog struct {
	api    API
	group  string
	region string
	now    func() time.Time
}

// New creates a RunLog writing to the given log group.
func New(cfg aws.Config, group string) *RunLog {
	return NewWithAPI(cwl.NewFromConfig(cfg), group, cfg.Region)
}

// NewWithAPI creates a RunLog over a custom client.
func NewWithAPI(api API, group, region string) *RunLog {
	return &RunLog{api: api, group: group, region: region, now: time.Now}
}

// Open creates the run's stream. An existing stream is reused.
func (r *RunLog) Open(ctx context.Context, runID string) (runlog.Cursor, error) {
	_, err := r.api.CreateLogStream(ctx, &cwl.CreateLogStreamInput{
		LogGroupName:  aws.String(r.group),
		LogStreamName: aws.String(runID),
	})
	var exists *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return runlog.Cursor{}, fmt.Errorf("create log stream %s: %w", runID, err)
	}
	return runlog.Cursor{Stream: runID}, nil
}

// Append writes lines as timestamped events and returns the advanced cursor.
func (r *RunLog) Append(ctx context.Context, cur runlog.Cursor, lines ...string) (runlog.Cursor, error) {
	if len(lines) == 0 {
		return cur, nil
	}
	now := r.now()
	events := make([]types.InputLogEvent, 0, len(lines))
	for _, l := range lines {
		events = append(events, types.InputLogEvent{
			Timestamp: aws.Int64(now.UnixMilli()),
			Message:   aws.String(now.UTC().Format("2006-01-02 15:04:05") + ": " + l),
		})
	}

	in := &cwl.PutLogEventsInput{
		LogGroupName:  aws.String(r.group),
		LogStreamName: aws.String(cur.Stream),
		LogEvents:     events,
	}
	if cur.Token != "" {
		in.SequenceToken = aws.String(cur.Token)
	}
	out, err := r.api.PutLogEvents(ctx, in)
	if err != nil {
		return cur, fmt.Errorf("put log events %s: %w", cur.Stream, err)
	}

	next := runlog.Cursor{Stream: cur.Stream, Token: aws.ToString(out.NextSequenceToken), Seq: cur.Seq + int64(len(lines))}
	return next, nil
}

// URL links to the stream in the CloudWatch console.
func (r *RunLog) URL(cur runlog.Cursor) string {
	return ConsoleURL(r.region, r.group, cur.Stream)
}

// ConsoleURL builds the console deep link for a log stream. The console expects
// slashes in the group name double-escaped as $252F.
func ConsoleURL(region, group, stream string) string {
	if region == "" || group == "" {
		return ""
	}
	lg := strings.ReplaceAll(group, "/", "$252F")
	u := fmt.Sprintf("https://%s.console.aws.amazon.com/cloudwatch/home?region=%s#logsV2:log-groups/log-group/%s",
		region, url.QueryEscape(region), lg)
	if stream != "" {
		u += "/log-events/" + stream
	}
	return u
}
