package domain

import "time"

// WorkItemStatus enumerates the lifecycle of a single dispatch occurrence.
type WorkItemStatus string

const (
	WorkItemPending    WorkItemStatus = "pending"
	WorkItemProcessing WorkItemStatus = "processing"
	WorkItemSent       WorkItemStatus = "sent"
	WorkItemFailed     WorkItemStatus = "failed"
)

// DispatchWorkItem is one scheduled dispatch occurrence for a campaign at a
// specific instant. The (CampaignID, RunAt) pair is the idempotency key:
// re-expanding a schedule never produces a second row for the same instant.
type DispatchWorkItem struct {
	ID         string         `json:"id" db:"id"`
	CampaignID string         `json:"campaign_id" db:"campaign_id"`
	RunAt      time.Time      `json:"run_at" db:"run_at"`
	Status     WorkItemStatus `json:"status" db:"status"`
	Attempts   int            `json:"attempts" db:"attempts"`
	ErrorMsg   string         `json:"error_message,omitempty" db:"error_message"`
	WorkerID   string         `json:"worker_id,omitempty" db:"worker_id"`
	LockedAt   *time.Time     `json:"locked_at,omitempty" db:"locked_at"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}
