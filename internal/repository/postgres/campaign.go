// Package postgres provides the PostgreSQL implementations of the
// service-layer repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lumamail/pipeline/internal/domain"
	"github.com/lumamail/pipeline/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL. It also
// satisfies the batch sender's campaign store.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, account_id, audience_id, title, subject, from_name, from_email,
	COALESCE(html_content,''), status, COALESCE(frequency,''), starts_at, ends_at, version,
	sent_count, open_count, click_count, bounce_count, unsubscribe_count, failed_count,
	created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.AccountID, &c.AudienceID, &c.Title, &c.Subject, &c.FromName, &c.FromEmail,
		&c.HTMLContent, &c.Status, &c.Frequency, &c.StartsAt, &c.EndsAt, &c.Version,
		&c.SentCount, &c.OpenCount, &c.ClickCount, &c.BounceCount, &c.UnsubscribeCount, &c.FailedCount,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, accountID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM campaigns WHERE account_id = $1`
	countArgs := []interface{}{accountID}
	if f.Status != "" {
		countQ += ` AND status = $2`
		countArgs = append(countArgs, f.Status)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE account_id = $1`
	args := []interface{}{accountID}
	idx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, account_id, audience_id, title, subject, from_name, from_email,
			 html_content, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, NOW(), NOW())
	`, c.ID, c.AccountID, c.AudienceID, c.Title, c.Subject,
		c.FromName, c.FromEmail, c.HTMLContent, c.Status)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

func (r *CampaignRepo) SetSchedule(ctx context.Context, id string, freq domain.Frequency, startsAt time.Time, endsAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET frequency = $2, starts_at = $3, ends_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, freq, startsAt, endsAt)
	if err != nil {
		return fmt.Errorf("set schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// Transition is the optimistic status guard: the row only moves when its
// current status is in from, and the version bump serializes concurrent
// writers.
func (r *CampaignRepo) Transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, to, pq.Array(statuses))
	if err != nil {
		return false, fmt.Errorf("transition campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition campaign: %w", err)
	}
	return n > 0, nil
}
