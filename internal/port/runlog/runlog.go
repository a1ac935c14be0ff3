// Package runlog defines the per-run analysis log sink.
package runlog

import "context"

// Cursor is the continuation state of one run's log stream. Writers return an
// updated cursor from every call; callers thread it into the next Append.
type Cursor struct {
	Stream string
	Token  string
	Seq    int64
}

// Writer appends analysis records to a stream named after the run.
type Writer interface {
	Open(ctx context.Context, runID string) (Cursor, error)
	Append(ctx context.Context, cur Cursor, lines ...string) (Cursor, error)
	// URL returns a link to the stream for the task result, or "" if none.
	URL(cur Cursor) string
}
