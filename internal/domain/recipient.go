package domain

import "time"

// Recipient is a member of a campaign audience.
type Recipient struct {
	ID             string     `json:"id" db:"id"`
	AudienceID     string     `json:"audience_id" db:"audience_id"`
	Email          string     `json:"email" db:"email"`
	Name           string     `json:"name" db:"name"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
}

// Unsubscribed reports whether the recipient opted out account-wide.
// Per-campaign unsubscribes are tracked separately and resolved by the
// audience store at batch-construction time.
func (r *Recipient) Unsubscribed() bool {
	return r.UnsubscribedAt != nil
}
