package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/lumamail/pipeline/internal/domain"
)

// counterColumns maps event types to the campaign counter they advance.
// Counter updates are atomic increments at the storage layer, never
// read-modify-write in application memory: webhook ingestion and batch
// sending run concurrently against the same campaigns.
var counterColumns = map[domain.EventType]string{
	domain.EventSent:         "sent_count",
	domain.EventOpened:       "open_count",
	domain.EventClicked:      "click_count",
	domain.EventBounced:      "bounce_count",
	domain.EventUnsubscribed: "unsubscribe_count",
	domain.EventFailed:       "failed_count",
}

// Recorder persists delivery events and keeps campaign counters current
// within the same transaction, so dashboard counts stay near-real-time
// without a re-aggregation pass.
type Recorder struct{ db *sql.DB }

// NewRecorder creates a delivery-event recorder.
func NewRecorder(db *sql.DB) *Recorder { return &Recorder{db: db} }

// Record inserts the given events. Terminal types (bounced, failed) with a
// provider message id are deduplicated via the partial unique index;
// send-time failures have no message id and always append, as do
// repeatable types (opens, clicks). The matching campaign counter is only
// incremented when a row was actually inserted, so replayed webhooks never
// double-count.
func (r *Recorder) Record(ctx context.Context, events []domain.DeliveryEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		inserted, err := r.insertEvent(ctx, tx, e)
		if err != nil {
			return err
		}
		if !inserted || e.CampaignID == "" {
			continue
		}
		if col, ok := counterColumns[e.Type]; ok {
			// Column names come from the fixed map above, never from input.
			_, err = tx.ExecContext(ctx, fmt.Sprintf(`
				UPDATE campaigns SET %s = %s + 1, updated_at = NOW() WHERE id = $1
			`, col, col), e.CampaignID)
			if err != nil {
				return fmt.Errorf("increment %s: %w", col, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record tx: %w", err)
	}
	return nil
}

func (r *Recorder) insertEvent(ctx context.Context, tx *sql.Tx, e domain.DeliveryEvent) (bool, error) {
	var res sql.Result
	var err error
	if e.Type.Terminal() && e.MessageID != "" {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO delivery_events
				(id, message_id, campaign_id, email, event_type, occurred_at,
				 user_agent, link_url, reason, ip_address)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (message_id, event_type)
			WHERE event_type IN ('bounced', 'failed') AND message_id <> ''
			DO NOTHING
		`, e.ID, e.MessageID, nullable(e.CampaignID), e.Email, e.Type, e.OccurredAt,
			e.UserAgent, e.LinkURL, e.Reason, e.IPAddress)
	} else {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO delivery_events
				(id, message_id, campaign_id, email, event_type, occurred_at,
				 user_agent, link_url, reason, ip_address)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, e.ID, e.MessageID, nullable(e.CampaignID), e.Email, e.Type, e.OccurredAt,
			e.UserAgent, e.LinkURL, e.Reason, e.IPAddress)
	}
	if err != nil {
		return false, fmt.Errorf("insert delivery event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert delivery event: %w", err)
	}
	return n > 0, nil
}

// ResolveCampaign finds the campaign a provider message id belongs to from
// its sent event. Returns "" when the message was never seen: out-of-order
// webhook delivery is tolerated and such events are recorded unattributed.
func (r *Recorder) ResolveCampaign(ctx context.Context, messageID string) (string, error) {
	var campaignID string
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(campaign_id::text, '') FROM delivery_events
		WHERE message_id = $1 AND event_type IN ('sent', 'queued')
		ORDER BY occurred_at ASC
		LIMIT 1
	`, messageID).Scan(&campaignID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve campaign for message: %w", err)
	}
	return campaignID, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
