package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lumamail/pipeline/internal/domain"
)

// EventSink persists normalized delivery events. Satisfied by
// ingest.Recorder.
type EventSink interface {
	Record(ctx context.Context, events []domain.DeliveryEvent) error
}

// Consumer drains the Redis intake queue, resolves recipient ids to email
// addresses, and hands normalized events to the sink. Unsubscribe events
// additionally flag the recipient so future batch construction excludes
// them.
type Consumer struct {
	client *redis.Client
	db     *sql.DB
	sink   EventSink
	done   chan struct{}
}

// NewConsumer creates a tracking intake consumer.
func NewConsumer(client *redis.Client, db *sql.DB, sink EventSink) *Consumer {
	return &Consumer{client: client, db: db, sink: sink, done: make(chan struct{})}
}

// Start begins draining the intake queue in a background goroutine.
func (c *Consumer) Start(ctx context.Context) {
	log.Printf("[Tracking] intake consumer started (key=%s)", IntakeKey)
	go c.poll(ctx)
}

// Stop terminates the consumer loop.
func (c *Consumer) Stop() { close(c.done) }

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		res, err := c.client.BRPop(ctx, 5*time.Second, IntakeKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Tracking] intake pop error: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}
		// BRPop returns [key, value].
		if len(res) < 2 {
			continue
		}

		var evt Event
		if err := json.Unmarshal([]byte(res[1]), &evt); err != nil {
			log.Printf("[Tracking] bad intake payload, skipping: %v", err)
			continue
		}
		if err := c.processEvent(ctx, evt); err != nil {
			log.Printf("[Tracking] process %s event: %v", evt.Type, err)
		}
	}
}

// ProcessDirect handles one event synchronously. The handlers fall back to
// it when no Redis intake queue is configured.
func (c *Consumer) ProcessDirect(ctx context.Context, evt Event) error {
	return c.processEvent(ctx, evt)
}

func (c *Consumer) processEvent(ctx context.Context, evt Event) error {
	var email string
	err := c.db.QueryRowContext(ctx,
		`SELECT email FROM recipients WHERE id = $1`, evt.RecipientID,
	).Scan(&email)
	if err == sql.ErrNoRows {
		// Recipient deleted since the send; record the event without an
		// address rather than dropping it.
		email = ""
	} else if err != nil {
		return err
	}

	de := domain.DeliveryEvent{
		ID:         uuid.New().String(),
		CampaignID: evt.CampaignID,
		Email:      email,
		Type:       evt.Type,
		OccurredAt: evt.Timestamp,
		UserAgent:  evt.UserAgent,
		LinkURL:    evt.LinkURL,
		IPAddress:  evt.IPAddress,
	}
	if err := c.sink.Record(ctx, []domain.DeliveryEvent{de}); err != nil {
		return err
	}

	if evt.Type == domain.EventUnsubscribed {
		return c.recordUnsubscribe(ctx, evt)
	}
	return nil
}

func (c *Consumer) recordUnsubscribe(ctx context.Context, evt Event) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO campaign_unsubscribes (campaign_id, recipient_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (campaign_id, recipient_id) DO NOTHING
	`, evt.CampaignID, evt.RecipientID)
	return err
}
