package tracking

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumamail/pipeline/internal/domain"
)

// IntakeKey is the Redis list holding raw tracking events awaiting the
// consumer. LPUSH at the handler, BRPOP at the consumer.
const IntakeKey = "tracking:events"

// Event is the wire format between the tracking handlers and the consumer.
type Event struct {
	Type        domain.EventType `json:"event_type"`
	CampaignID  string           `json:"campaign_id"`
	RecipientID string           `json:"recipient_id"`
	LinkURL     string           `json:"link_url,omitempty"`
	IPAddress   string           `json:"ip_address"`
	UserAgent   string           `json:"user_agent"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Publisher pushes tracking events onto the Redis intake queue. Publishing
// is fire-and-forget off the request goroutine: a tracking pixel must
// never block a mail client on queue latency.
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a Publisher over the given Redis client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues the event asynchronously.
func (p *Publisher) Publish(_ context.Context, evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[Tracking] marshal event: %v", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.client.LPush(ctx, IntakeKey, body).Err(); err != nil {
			log.Printf("[Tracking] publish to intake queue: %v", err)
		}
	}()
}
