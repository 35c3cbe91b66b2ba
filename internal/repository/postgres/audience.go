package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lumamail/pipeline/internal/domain"
)

// AudienceRepo resolves campaign recipient sets.
type AudienceRepo struct{ db *sql.DB }

func NewAudienceRepo(db *sql.DB) *AudienceRepo { return &AudienceRepo{db: db} }

// RecipientsFor returns the campaign's deliverable recipients: audience
// members minus account-wide opt-outs and per-campaign unsubscribes.
func (r *AudienceRepo) RecipientsFor(ctx context.Context, c *domain.Campaign) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.audience_id, r.email, COALESCE(r.name, '')
		FROM recipients r
		WHERE r.audience_id = $1
		  AND r.unsubscribed_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM campaign_unsubscribes cu
			WHERE cu.campaign_id = $2 AND cu.recipient_id = r.id
		  )
		ORDER BY r.email
	`, c.AudienceID, c.ID)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		if err := rows.Scan(&rec.ID, &rec.AudienceID, &rec.Email, &rec.Name); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// IsUnsubscribed reports whether the recipient opted out of this campaign
// or account-wide.
func (r *AudienceRepo) IsUnsubscribed(ctx context.Context, campaignID, recipientID string) (bool, error) {
	var out bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM campaign_unsubscribes
			WHERE campaign_id = $1 AND recipient_id = $2
		) OR EXISTS (
			SELECT 1 FROM recipients
			WHERE id = $2 AND unsubscribed_at IS NOT NULL
		)
	`, campaignID, recipientID).Scan(&out)
	if err != nil {
		return false, fmt.Errorf("check unsubscribe: %w", err)
	}
	return out, nil
}
