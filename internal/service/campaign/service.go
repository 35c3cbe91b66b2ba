package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumamail/pipeline/internal/domain"
	"github.com/lumamail/pipeline/internal/pkg/logger"
	"github.com/lumamail/pipeline/internal/schedule"
)

// Service implements campaign business logic. It coordinates between the
// repository, the schedule expander, and the dispatch queue. All public
// methods are safe for concurrent use if the underlying repository is
// concurrency-safe.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
	expander   *schedule.Expander
	log        *logger.Logger
}

// NewService creates a campaign service.
func NewService(repo Repository, dispatcher Dispatcher, expander *schedule.Expander) *Service {
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		expander:   expander,
		log:        logger.With("CampaignService"),
	}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns an account's campaigns.
func (s *Service) List(ctx context.Context, accountID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, accountID, f)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	AccountID   string `json:"account_id"`
	AudienceID  string `json:"audience_id"`
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	FromName    string `json:"from_name"`
	FromEmail   string `json:"from_email"`
	HTMLContent string `json:"html_content"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if input.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if input.FromEmail == "" {
		return nil, fmt.Errorf("from_email is required")
	}
	if input.AudienceID == "" {
		return nil, fmt.Errorf("audience_id is required")
	}

	c := &domain.Campaign{
		ID:          uuid.New().String(),
		AccountID:   input.AccountID,
		AudienceID:  input.AudienceID,
		Title:       input.Title,
		Subject:     input.Subject,
		FromName:    input.FromName,
		FromEmail:   input.FromEmail,
		HTMLContent: input.HTMLContent,
		Status:      domain.CampaignDraft,
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// ScheduleInput holds the recurrence parameters for scheduling.
type ScheduleInput struct {
	Frequency domain.Frequency `json:"frequency"`
	StartsAt  time.Time        `json:"starts_at"`
	EndsAt    *time.Time       `json:"ends_at,omitempty"`
}

// Schedule expands the campaign's recurrence into dispatch work items,
// enqueues them, and transitions the campaign draft -> scheduled.
// Validation failures surface synchronously as schedule.ErrInvalidSchedule.
// Returns the number of work items enqueued.
func (s *Service) Schedule(ctx context.Context, id string, input ScheduleInput) (int, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignDraft {
		return 0, ErrAlreadyScheduled
	}

	items, err := s.expander.Expand(c.ID, input.StartsAt, input.Frequency, input.EndsAt)
	if err != nil {
		return 0, err
	}

	if err := s.repo.SetSchedule(ctx, c.ID, input.Frequency, input.StartsAt, input.EndsAt); err != nil {
		return 0, fmt.Errorf("persist schedule: %w", err)
	}

	n, err := s.dispatcher.Enqueue(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("enqueue work items: %w", err)
	}

	ok, err := s.repo.Transition(ctx, c.ID,
		[]domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignScheduled)
	if err != nil {
		return 0, fmt.Errorf("transition to scheduled: %w", err)
	}
	if !ok {
		// Somebody raced us past draft; undo the enqueue.
		if _, cErr := s.dispatcher.CancelCampaign(ctx, c.ID); cErr != nil {
			s.log.Error("rollback enqueue failed", "campaign", c.ID, "error", cErr.Error())
		}
		return 0, ErrAlreadyScheduled
	}

	s.log.Info("campaign scheduled", "campaign", c.ID,
		"frequency", string(input.Frequency), "items", n)
	return n, nil
}

// Cancel removes all not-yet-processed work items for the campaign and
// reverts its status to draft. In-flight items finish; recipients already
// submitted to the provider are not recalled. Returns the number of work
// items removed.
func (s *Service) Cancel(ctx context.Context, id string) (int64, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignScheduled && c.Status != domain.CampaignSending {
		return 0, ErrInvalidTransition
	}

	removed, err := s.dispatcher.CancelCampaign(ctx, c.ID)
	if err != nil {
		return 0, fmt.Errorf("cancel work items: %w", err)
	}

	if _, err := s.repo.Transition(ctx, c.ID,
		[]domain.CampaignStatus{domain.CampaignScheduled, domain.CampaignSending},
		domain.CampaignDraft); err != nil {
		return removed, fmt.Errorf("revert to draft: %w", err)
	}

	s.log.Info("campaign cancelled", "campaign", c.ID, "removed_items", removed)
	return removed, nil
}
