package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/store"
)

const (
	jobQueued  = "queued"
	jobClaimed = "claimed"
	jobDone    = "done"
	jobFailed  = "failed"
)

// SQLQueue keeps jobs in the sync_jobs table of the backing store, so queued
// work survives a restart. Claims are conditional updates on status.
type SQLQueue struct {
	db   *store.DB
	poll time.Duration

	mu     sync.Mutex
	wake   chan struct{}
	closed bool
}

func NewSQLQueue(db *store.DB, poll time.Duration) *SQLQueue {
	if poll <= 0 {
		poll = time.Second
	}
	return &SQLQueue{db: db, poll: poll, wake: make(chan struct{}, 1)}
}

func (q *SQLQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, q.db.Rebind(`
		INSERT INTO sync_jobs (id, run_id, scope, target_id, status, attempts, enqueued_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`),
		job.ID, job.RunID, job.Scope, nullString(job.TargetID), jobQueued, q.db.Time(job.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *SQLQueue) Dequeue(ctx context.Context) (*domain.Job, error) {
	t := time.NewTicker(q.poll)
	defer t.Stop()
	for {
		if q.isClosed() {
			return nil, ErrClosed
		}
		job, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		case <-t.C:
		}
	}
}

// claim takes the oldest queued job, or returns nil if none is left.
func (q *SQLQueue) claim(ctx context.Context) (*domain.Job, error) {
	for {
		var job domain.Job
		var targetID sql.NullString
		var enqueuedAt string
		err := q.db.QueryRowContext(ctx, q.db.Rebind(`
			SELECT id, run_id, scope, target_id, attempts, enqueued_at FROM sync_jobs
			WHERE status = ? ORDER BY enqueued_at LIMIT 1`), jobQueued).
			Scan(&job.ID, &job.RunID, &job.Scope, &targetID, &job.Attempts, &enqueuedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select job: %w", err)
		}

		res, err := q.db.ExecContext(ctx, q.db.Rebind(`
			UPDATE sync_jobs SET status = ?, claimed_at = ?, attempts = attempts + 1
			WHERE id = ? AND status = ?`),
			jobClaimed, q.db.Time(time.Now()), job.ID, jobQueued)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// another consumer won the race
			continue
		}
		job.TargetID = targetID.String
		job.Attempts++
		if t, err := store.ParseTime(enqueuedAt); err == nil {
			job.EnqueuedAt = t
		}
		return &job, nil
	}
}

// Requeue returns jobs claimed before claimedBefore to the queue. A worker that
// dies mid-job leaves its claim behind; nothing else releases it.
func (q *SQLQueue) Requeue(ctx context.Context, claimedBefore time.Time) (int, error) {
	res, err := q.db.ExecContext(ctx, q.db.Rebind(`
		UPDATE sync_jobs SET status = ?, claimed_at = NULL
		WHERE status = ? AND claimed_at < ?`),
		jobQueued, jobClaimed, q.db.Time(claimedBefore))
	if err != nil {
		return 0, fmt.Errorf("requeue claimed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue claimed jobs: %w", err)
	}
	if n > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return int(n), nil
}

func (q *SQLQueue) Ack(ctx context.Context, job *domain.Job) error {
	return q.finish(ctx, job, jobDone, "")
}

func (q *SQLQueue) Fail(ctx context.Context, job *domain.Job, reason string) error {
	return q.finish(ctx, job, jobFailed, reason)
}

func (q *SQLQueue) finish(ctx context.Context, job *domain.Job, status, reason string) error {
	_, err := q.db.ExecContext(ctx, q.db.Rebind(`
		UPDATE sync_jobs SET status = ?, finished_at = ?, error = ? WHERE id = ?`),
		status, q.db.Time(time.Now()), nullString(reason), job.ID)
	if err != nil {
		return fmt.Errorf("mark job %s %s: %w", job.ID, status, err)
	}
	return nil
}

// Counts reports jobs per status.
func (q *SQLQueue) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (q *SQLQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *SQLQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
