// Package queue implements the durable dispatch queue on PostgreSQL.
//
// One row per (campaign, run_at). Items are invisible to workers until
// their run_at arrives, claims go through FOR UPDATE SKIP LOCKED so
// concurrent workers never double-process, and a lease timeout makes items
// claimed by a crashed worker visible again. Delivery is at-least-once;
// the batch sender is responsible for being idempotent on duplicates.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lumamail/pipeline/internal/domain"
)

const (
	// LeaseTimeout is how long a claimed item stays invisible before a
	// crashed worker's claim expires and the item becomes claimable again.
	LeaseTimeout = 5 * time.Minute

	// MaxAttempts bounds per-item retries. An item that fails this many
	// times is marked failed and never retried.
	MaxAttempts = 3
)

// Queue is a Postgres-backed dispatch work queue.
type Queue struct{ db *sql.DB }

// New creates a dispatch queue over the given database handle.
func New(db *sql.DB) *Queue { return &Queue{db: db} }

// Enqueue inserts work items, skipping any whose (campaign_id, run_at)
// idempotency key already exists. Returns the number actually inserted.
func (q *Queue) Enqueue(ctx context.Context, items []domain.DispatchWorkItem) (int, error) {
	inserted := 0
	for _, it := range items {
		res, err := q.db.ExecContext(ctx, `
			INSERT INTO dispatch_queue (id, campaign_id, run_at, status, attempts, created_at)
			VALUES ($1, $2, $3, 'pending', 0, NOW())
			ON CONFLICT (campaign_id, run_at) DO NOTHING
		`, it.ID, it.CampaignID, it.RunAt)
		if err != nil {
			return inserted, fmt.Errorf("enqueue work item: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// Claim atomically takes up to limit due items for the given worker.
// Eligible items are pending rows whose run_at has arrived, plus
// processing rows whose lease has expired.
func (q *Queue) Claim(ctx context.Context, workerID string, limit int) ([]domain.DispatchWorkItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE dispatch_queue
		SET status = 'processing', worker_id = $1, locked_at = NOW()
		WHERE id IN (
			SELECT id FROM dispatch_queue
			WHERE run_at <= NOW()
			  AND (status = 'pending'
			       OR (status = 'processing' AND locked_at < NOW() - ($3 * INTERVAL '1 second')))
			ORDER BY run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, campaign_id, run_at, attempts, created_at
	`, workerID, limit, int(LeaseTimeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("claim work items: %w", err)
	}
	defer rows.Close()

	var items []domain.DispatchWorkItem
	for rows.Next() {
		it := domain.DispatchWorkItem{Status: domain.WorkItemProcessing, WorkerID: workerID}
		if err := rows.Scan(&it.ID, &it.CampaignID, &it.RunAt, &it.Attempts, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkSent transitions an item to sent.
func (q *Queue) MarkSent(ctx context.Context, itemID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE dispatch_queue
		SET status = 'sent', error_message = '', locked_at = NULL
		WHERE id = $1
	`, itemID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a processing failure. Items under the attempt budget
// go back to pending for another try after the given delay; items at the
// budget become failed for good.
func (q *Queue) MarkFailed(ctx context.Context, itemID, errMsg string, retryDelay time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE dispatch_queue
		SET attempts = attempts + 1,
		    error_message = $2,
		    locked_at = NULL,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    run_at = CASE WHEN attempts + 1 >= $3 THEN run_at
		                  ELSE NOW() + ($4 * INTERVAL '1 second') END
		WHERE id = $1
	`, itemID, errMsg, MaxAttempts, int(retryDelay.Seconds()))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Requeue releases a claimed item back to pending after the given delay
// without consuming an attempt. For conditions that are not processing
// failures, like quota starvation or a contended campaign lock, where the
// item must survive until the condition clears no matter how often it is
// bounced.
func (q *Queue) Requeue(ctx context.Context, itemID, reason string, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE dispatch_queue
		SET status = 'pending',
		    error_message = $2,
		    locked_at = NULL,
		    run_at = NOW() + ($3 * INTERVAL '1 second')
		WHERE id = $1
	`, itemID, reason, int(delay.Seconds()))
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// CancelCampaign removes every not-yet-processed item for the campaign.
// Items mid-processing are left alone and allowed to complete; their
// campaign-level status is reconciled afterwards by the caller.
func (q *Queue) CancelCampaign(ctx context.Context, campaignID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM dispatch_queue
		WHERE campaign_id = $1 AND status = 'pending'
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel campaign items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel campaign items: %w", err)
	}
	return n, nil
}

// OutstandingCount returns the number of items for the campaign that have
// not reached a terminal state. Zero means the schedule has fully drained.
func (q *Queue) OutstandingCount(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dispatch_queue
		WHERE campaign_id = $1 AND status IN ('pending', 'processing')
	`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("outstanding count: %w", err)
	}
	return n, nil
}

// PendingForCampaign lists remaining pending items, earliest first.
func (q *Queue) PendingForCampaign(ctx context.Context, campaignID string) ([]domain.DispatchWorkItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, campaign_id, run_at, status, attempts, COALESCE(error_message, ''), created_at
		FROM dispatch_queue
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY run_at ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("pending items: %w", err)
	}
	defer rows.Close()

	var items []domain.DispatchWorkItem
	for rows.Next() {
		var it domain.DispatchWorkItem
		if err := rows.Scan(&it.ID, &it.CampaignID, &it.RunAt, &it.Status, &it.Attempts, &it.ErrorMsg, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
