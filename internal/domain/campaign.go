package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignFailed    CampaignStatus = "failed"
)

// Frequency enumerates the supported recurrence frequencies for a
// campaign schedule. The interval semantics live in internal/schedule;
// this type is the persisted vocabulary.
type Frequency string

const (
	FrequencyOnce      Frequency = "once"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiWeekly  Frequency = "bi_weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// Valid reports whether f is one of the supported frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyBiWeekly,
		FrequencyMonthly, FrequencyQuarterly:
		return true
	}
	return false
}

// Campaign represents an email campaign with its content and schedule.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	AccountID   string         `json:"account_id" db:"account_id"`
	AudienceID  string         `json:"audience_id" db:"audience_id"`
	Title       string         `json:"title" db:"title"`
	Subject     string         `json:"subject" db:"subject"`
	FromName    string         `json:"from_name" db:"from_name"`
	FromEmail   string         `json:"from_email" db:"from_email"`
	HTMLContent string         `json:"html_content" db:"html_content"`
	Status      CampaignStatus `json:"status" db:"status"`

	Frequency Frequency  `json:"frequency" db:"frequency"`
	StartsAt  *time.Time `json:"starts_at" db:"starts_at"`
	EndsAt    *time.Time `json:"ends_at" db:"ends_at"`

	// Version is bumped on every status transition and used as the
	// optimistic-concurrency guard for duplicate work-item delivery.
	Version int `json:"version" db:"version"`

	// Counters (read-only, maintained by the ingest layer)
	SentCount        int `json:"sent_count" db:"sent_count"`
	OpenCount        int `json:"open_count" db:"open_count"`
	ClickCount       int `json:"click_count" db:"click_count"`
	BounceCount      int `json:"bounce_count" db:"bounce_count"`
	UnsubscribeCount int `json:"unsubscribe_count" db:"unsubscribe_count"`
	FailedCount      int `json:"failed_count" db:"failed_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignFailed
}

// Sendable reports whether the campaign may still accept dispatch work.
func (c *Campaign) Sendable() bool {
	return c.Status == CampaignScheduled || c.Status == CampaignSending
}
