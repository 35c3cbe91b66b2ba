package campaign

import (
	"context"
	"time"

	"github.com/lumamail/pipeline/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns an account's campaigns ordered by created_at DESC,
	// plus the total count for pagination.
	List(ctx context.Context, accountID string, f ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// SetSchedule persists the campaign's recurrence parameters.
	SetSchedule(ctx context.Context, id string, freq domain.Frequency, startsAt time.Time, endsAt *time.Time) error

	// Transition moves the campaign to status to if its current status is
	// one of from, bumping the version. Returns false when the guard did
	// not match.
	Transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (bool, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// Dispatcher is the slice of the dispatch queue the service drives.
type Dispatcher interface {
	// Enqueue persists work items, skipping (campaign_id, run_at) pairs
	// that already exist. Returns the number actually inserted.
	Enqueue(ctx context.Context, items []domain.DispatchWorkItem) (int, error)

	// CancelCampaign removes all pending work items for the campaign and
	// returns how many were removed.
	CancelCampaign(ctx context.Context, campaignID string) (int64, error)
}
