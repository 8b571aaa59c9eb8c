// Package queue implements the durable crawl task queue on top of
// Postgres. Tasks are leased with FOR UPDATE SKIP LOCKED so several
// workers can poll the same table without double-claiming, and every
// state transition re-verifies the lease owner.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sqlc-dev/pqtype"

	"llmstxt/internal/model"
)

// ErrNotOwner is returned when a worker tries to transition a task it
// no longer holds the lease on.
var ErrNotOwner = errors.New("queue: lease not owned")

// ErrNotFound is returned when the task does not exist.
var ErrNotFound = errors.New("queue: task not found")

// BaseBackoff is the retry delay after the first failed attempt. Each
// further attempt doubles it, with up to 20% jitter added on top.
const BaseBackoff = 15 * time.Second

// Queue provides enqueue, claim and lease operations over crawl_tasks.
type Queue struct {
	db          *sql.DB
	maxAttempts int
}

// New creates a Queue. maxAttempts bounds retries per task; attempts at
// or past the bound send the task to the dead letter state.
func New(db *sql.DB, maxAttempts int) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{db: db, maxAttempts: maxAttempts}
}

const taskColumns = `id, site_id, job_id, status, priority, attempts, max_attempts,
	available_at, leased_until, lease_owner, idempotency_key, payload, last_error, created_at`

// ownedGuard makes every lease transition conditional on still holding
// the lease; a zero-row update then maps to ErrNotOwner or ErrNotFound.
const ownedGuard = `status = 'leased' AND lease_owner = $2`

const (
	enqueueSQL = `INSERT INTO crawl_tasks (site_id, job_id, priority, max_attempts, idempotency_key, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		 RETURNING ` + taskColumns

	claimSelectSQL = `SELECT id FROM crawl_tasks
		 WHERE status = 'queued' AND available_at <= now()
		 ORDER BY priority DESC, available_at ASC, id ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`

	claimUpdateSQL = `UPDATE crawl_tasks
		 SET status = 'leased',
			 attempts = attempts + 1,
			 lease_owner = $2,
			 leased_until = now() + $3 * interval '1 second'
		 WHERE id = $1
		 RETURNING ` + taskColumns

	heartbeatSQL = `UPDATE crawl_tasks
		 SET leased_until = now() + $3 * interval '1 second'
		 WHERE id = $1 AND ` + ownedGuard

	completeSQL = `UPDATE crawl_tasks
		 SET status = 'succeeded', lease_owner = NULL, leased_until = NULL
		 WHERE id = $1 AND ` + ownedGuard

	failSQL = `UPDATE crawl_tasks
		 SET status = CASE WHEN attempts >= max_attempts THEN 'dead_letter' ELSE 'queued' END,
			 available_at = now() + $3 * interval '1 second',
			 lease_owner = NULL,
			 leased_until = NULL,
			 last_error = $4
		 WHERE id = $1 AND ` + ownedGuard

	failPermanentSQL = `UPDATE crawl_tasks
		 SET status = 'dead_letter', lease_owner = NULL, leased_until = NULL, last_error = $3
		 WHERE id = $1 AND ` + ownedGuard

	recoverSQL = `UPDATE crawl_tasks
		 SET status = CASE WHEN attempts >= max_attempts THEN 'dead_letter' ELSE 'queued' END,
			 available_at = now(),
			 lease_owner = NULL,
			 leased_until = NULL,
			 last_error = 'lease expired (owner ' || coalesce(lease_owner, '?') || ')'
		 WHERE status = 'leased' AND leased_until < now()`
)

func scanTask(row interface{ Scan(...any) error }) (model.CrawlTask, error) {
	var t model.CrawlTask
	var leasedUntil sql.NullTime
	var owner, key, lastErr sql.NullString
	var payload pqtype.NullRawMessage
	err := row.Scan(&t.ID, &t.SiteID, &t.JobID, &t.Status, &t.Priority, &t.Attempts,
		&t.MaxAttempts, &t.AvailableAt, &leasedUntil, &owner, &key, &payload,
		&lastErr, &t.CreatedAt)
	if err != nil {
		return model.CrawlTask{}, err
	}
	if leasedUntil.Valid {
		lu := leasedUntil.Time
		t.LeasedUntil = &lu
	}
	if owner.Valid {
		o := owner.String
		t.LeaseOwner = &o
	}
	if key.Valid {
		k := key.String
		t.IdempotencyKey = &k
	}
	if lastErr.Valid {
		e := lastErr.String
		t.LastError = &e
	}
	if payload.Valid {
		var p model.TaskPayload
		if err := json.Unmarshal(payload.RawMessage, &p); err != nil {
			return model.CrawlTask{}, fmt.Errorf("decode task payload: %w", err)
		}
		t.Payload = &p
	}
	return t, nil
}

// Enqueue inserts a queued task for the given job. When idempotencyKey
// is set and a task with the same key already exists, the existing task
// is returned and created is false.
func (q *Queue) Enqueue(ctx context.Context, siteID, jobID int64, priority int, idempotencyKey *string, payload *model.TaskPayload) (model.CrawlTask, bool, error) {
	raw := pqtype.NullRawMessage{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return model.CrawlTask{}, false, fmt.Errorf("encode task payload: %w", err)
		}
		raw = pqtype.NullRawMessage{RawMessage: b, Valid: true}
	}
	var key sql.NullString
	if idempotencyKey != nil {
		key = sql.NullString{String: *idempotencyKey, Valid: true}
	}

	row := q.db.QueryRowContext(ctx, enqueueSQL,
		siteID, jobID, priority, q.maxAttempts, key, raw)
	task, err := scanTask(row)
	if err == nil {
		return task, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || idempotencyKey == nil {
		return model.CrawlTask{}, false, err
	}

	// Conflict on the idempotency key; hand back the existing task.
	row = q.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM crawl_tasks WHERE idempotency_key = $1`, *idempotencyKey)
	task, err = scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CrawlTask{}, false, ErrNotFound
	}
	return task, false, err
}

// Claim leases the highest-priority ready task for owner. It returns
// nil when the queue has nothing ready. The claimed task's attempt
// counter is incremented as part of the claim.
func (q *Queue) Claim(ctx context.Context, owner string, leaseFor time.Duration) (*model.CrawlTask, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, claimSelectSQL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, claimUpdateSQL, id, owner, leaseFor.Seconds())
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &task, nil
}

// Heartbeat extends the lease of a task held by owner.
func (q *Queue) Heartbeat(ctx context.Context, taskID int64, owner string, extendBy time.Duration) error {
	res, err := q.db.ExecContext(ctx, heartbeatSQL, taskID, owner, extendBy.Seconds())
	if err != nil {
		return err
	}
	return q.checkOwned(ctx, res, taskID)
}

// Complete marks an owned task as succeeded and releases the lease.
func (q *Queue) Complete(ctx context.Context, taskID int64, owner string) error {
	res, err := q.db.ExecContext(ctx, completeSQL, taskID, owner)
	if err != nil {
		return err
	}
	return q.checkOwned(ctx, res, taskID)
}

// Fail records a retryable failure. The task is re-queued with
// exponential backoff, or dead-lettered once the attempt budget is
// spent.
func (q *Queue) Fail(ctx context.Context, taskID int64, owner, cause string) error {
	res, err := q.db.ExecContext(ctx, failSQL,
		taskID, owner, q.backoffFor(ctx, taskID).Seconds(), cause)
	if err != nil {
		return err
	}
	return q.checkOwned(ctx, res, taskID)
}

// FailPermanent dead-letters an owned task regardless of remaining
// attempts. Used for errors that retrying cannot fix.
func (q *Queue) FailPermanent(ctx context.Context, taskID int64, owner, cause string) error {
	res, err := q.db.ExecContext(ctx, failPermanentSQL, taskID, owner, cause)
	if err != nil {
		return err
	}
	return q.checkOwned(ctx, res, taskID)
}

// Recover re-queues tasks whose lease expired without a terminal
// transition, typically after a worker crash. Attempts are not
// incremented again; the claim already counted the attempt. Tasks out
// of attempts go to the dead letter state instead. It returns the
// number of tasks recovered either way.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, recoverSQL)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetTask fetches a task by id.
func (q *Queue) GetTask(ctx context.Context, taskID int64) (model.CrawlTask, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM crawl_tasks WHERE id = $1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CrawlTask{}, ErrNotFound
	}
	return task, err
}

// checkOwned turns a zero-row update into ErrNotOwner or ErrNotFound.
func (q *Queue) checkOwned(ctx context.Context, res sql.Result, taskID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := q.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM crawl_tasks WHERE id = $1)`, taskID).Scan(&exists); err != nil {
		return err
	}
	return ownerErr(exists)
}

// ownerErr maps a zero-row transition to the right sentinel: the task
// is either gone, or leased by someone else.
func ownerErr(exists bool) error {
	if !exists {
		return ErrNotFound
	}
	return ErrNotOwner
}

// backoffFor computes the retry delay for the task's current attempt
// count. Falls back to the base delay if the row cannot be read.
func (q *Queue) backoffFor(ctx context.Context, taskID int64) time.Duration {
	var attempts int
	if err := q.db.QueryRowContext(ctx,
		`SELECT attempts FROM crawl_tasks WHERE id = $1`, taskID).Scan(&attempts); err != nil {
		return BaseBackoff
	}
	return Backoff(attempts)
}

// Backoff returns the delay before retry number attempt becomes ready:
// BaseBackoff doubled per prior attempt, plus 0-20% jitter so a burst
// of failures does not retry in lockstep.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(BaseBackoff) * math.Pow(2, float64(attempt-1))
	jitter := 1 + rand.Float64()*0.2
	return time.Duration(base * jitter)
}
