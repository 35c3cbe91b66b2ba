package domain

import "time"

// EventType is the internal delivery-event taxonomy. Provider-specific
// vocabularies are normalized into this set by internal/ingest.
type EventType string

const (
	EventQueued       EventType = "queued"
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventSpamReport   EventType = "spam_report"
	EventUnsubscribed EventType = "unsubscribed"
	EventFailed       EventType = "failed"

	// EventUnknown records provider events we have no mapping for.
	// They are kept rather than dropped so nothing disappears silently.
	EventUnknown EventType = "unknown"
)

// Terminal reports whether the event type may be recorded at most once
// per message. Repeatable events (opens, clicks) are appended every time.
func (t EventType) Terminal() bool {
	return t == EventBounced || t == EventFailed
}

// DeliveryEvent is a normalized record of something the provider or the
// recipient did with a sent message. Immutable once recorded.
type DeliveryEvent struct {
	ID         string    `json:"id" db:"id"`
	MessageID  string    `json:"message_id" db:"message_id"`
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	Email      string    `json:"email" db:"email"`
	Type       EventType `json:"event_type" db:"event_type"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`

	// Metadata, populated per event type.
	UserAgent string `json:"user_agent,omitempty" db:"user_agent"`
	LinkURL   string `json:"link_url,omitempty" db:"link_url"`
	Reason    string `json:"reason,omitempty" db:"reason"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`
}
