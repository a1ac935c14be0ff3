package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/runtask-analyzer/internal/port/runlog"
)

// RunLog stores analysis records in run_task_logs keyed by (run_id, seq).
// The cursor's Seq is the next free sequence number of the stream.
type RunLog struct {
	pool *pgxpool.Pool
}

// NewRunLog creates a RunLog backed by pool.
func NewRunLog(pool *pgxpool.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Open resumes the stream for runID after any records already written.
func (r *RunLog) Open(ctx context.Context, runID string) (runlog.Cursor, error) {
	var next int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM run_task_logs WHERE run_id = $1`, runID).Scan(&next)
	if err != nil {
		return runlog.Cursor{}, fmt.Errorf("open run log %s: %w", runID, err)
	}
	return runlog.Cursor{Stream: runID, Seq: next}, nil
}

// Append inserts lines in one batch. A conflicting seq means another writer
// advanced the stream; the caller gets the error and an unchanged cursor.
func (r *RunLog) Append(ctx context.Context, cur runlog.Cursor, lines ...string) (runlog.Cursor, error) {
	if len(lines) == 0 {
		return cur, nil
	}
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for i, l := range lines {
		batch.Queue(`INSERT INTO run_task_logs (run_id, seq, message, created_at) VALUES ($1, $2, $3, $4)`,
			cur.Stream, cur.Seq+int64(i), l, now)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return cur, fmt.Errorf("append run log %s: %w", cur.Stream, err)
	}
	cur.Seq += int64(len(lines))
	return cur, nil
}

// URL returns "" because database records have no browsable location.
func (r *RunLog) URL(runlog.Cursor) string { return "" }

// Lines returns the stream's messages in order.
func (r *RunLog) Lines(ctx context.Context, runID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT message FROM run_task_logs WHERE run_id = $1 ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("read run log %s: %w", runID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Ledger claims run keys in run_task_claims. The primary key makes the first insert win.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) Claim(ctx context.Context, key string) (bool, error) {
	tag, err := l.pool.Exec(ctx,
		`INSERT INTO run_task_claims (claim_key) VALUES ($1) ON CONFLICT (claim_key) DO NOTHING`, key)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}
