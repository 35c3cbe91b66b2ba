// Package sender turns claimed dispatch work items into provider batch
// submissions: it resolves the audience, reserves quota, renders and
// tracks each message, and records the per-recipient outcome.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumamail/pipeline/internal/domain"
	"github.com/lumamail/pipeline/internal/pkg/logger"
	"github.com/lumamail/pipeline/internal/provider"
	"github.com/lumamail/pipeline/internal/quota"
	"github.com/lumamail/pipeline/internal/tracking"
)

const (
	// quotaRetryDelay keeps a quota-starved item out of the claim window
	// until the ledger has had a chance to reset.
	quotaRetryDelay = time.Hour

	// transientRetryDelay is the requeue delay for infrastructure errors
	// (database, audience resolution).
	transientRetryDelay = 30 * time.Second
)

// CampaignStore is the campaign persistence the sender needs.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	// Transition moves the campaign to status to if its current status is
	// one of from, bumping the version. Returns false when the guard did
	// not match (somebody else moved it first).
	Transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (bool, error)
}

// AudienceStore resolves the effective recipient set for a campaign:
// audience members minus per-campaign and account-wide unsubscribes.
type AudienceStore interface {
	RecipientsFor(ctx context.Context, c *domain.Campaign) ([]domain.Recipient, error)
}

// EventSink records delivery events with campaign counters in step.
type EventSink interface {
	Record(ctx context.Context, events []domain.DeliveryEvent) error
}

// WorkQueue is the slice of the dispatch queue the sender drives.
type WorkQueue interface {
	MarkSent(ctx context.Context, itemID string) error
	MarkFailed(ctx context.Context, itemID, errMsg string, retryDelay time.Duration) error
	// Requeue bounces an item back to pending without spending an
	// attempt. For wait-for-condition cases, not failures.
	Requeue(ctx context.Context, itemID, reason string, delay time.Duration) error
	OutstandingCount(ctx context.Context, campaignID string) (int, error)
}

// Sender processes one dispatch work item end to end.
type Sender struct {
	campaigns CampaignStore
	audience  AudienceStore
	queue     WorkQueue
	ledger    quota.Ledger
	provider  provider.Sender
	renderer  *Renderer
	signer    *tracking.Signer
	events    EventSink
	log       *logger.Logger
}

func New(campaigns CampaignStore, audience AudienceStore, q WorkQueue,
	ledger quota.Ledger, p provider.Sender, signer *tracking.Signer, events EventSink) *Sender {
	return &Sender{
		campaigns: campaigns,
		audience:  audience,
		queue:     q,
		ledger:    ledger,
		provider:  p,
		renderer:  NewRenderer(),
		signer:    signer,
		events:    events,
		log:       logger.With("Sender"),
	}
}

// Process handles one claimed work item. It always resolves the item
// (sent, failed-with-retry, or failed permanently); the returned error is
// observational. One item's failure never blocks subsequent items.
func (s *Sender) Process(ctx context.Context, item domain.DispatchWorkItem) error {
	c, err := s.campaigns.Get(ctx, item.CampaignID)
	if err != nil {
		s.queue.MarkFailed(ctx, item.ID, err.Error(), transientRetryDelay)
		return fmt.Errorf("load campaign %s: %w", item.CampaignID, err)
	}

	// Duplicate-delivery / cancellation guard: a campaign that is no
	// longer scheduled or sending gets a no-op success.
	if !c.Sendable() {
		s.log.Info("skipping item for non-sendable campaign",
			"item", item.ID, "campaign", c.ID, "status", string(c.Status))
		return s.queue.MarkSent(ctx, item.ID)
	}

	recipients, err := s.audience.RecipientsFor(ctx, c)
	if err != nil {
		s.queue.MarkFailed(ctx, item.ID, err.Error(), transientRetryDelay)
		return fmt.Errorf("resolve audience for %s: %w", c.ID, err)
	}
	if len(recipients) == 0 {
		s.log.Warn("campaign has no deliverable recipients", "campaign", c.ID)
		if err := s.queue.MarkSent(ctx, item.ID); err != nil {
			return err
		}
		return s.finalize(ctx, c)
	}

	// Quota is reserved before the campaign moves to sending, so a
	// starved reservation leaves the campaign status untouched.
	if err := s.ledger.Reserve(ctx, c.AccountID, len(recipients)); err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			// Waiting on a ledger reset is not a processing failure: the
			// item keeps its attempt budget however long starvation lasts.
			s.log.Warn("quota exhausted, requeueing item",
				"campaign", c.ID, "account", c.AccountID, "recipients", len(recipients))
			s.queue.Requeue(ctx, item.ID, "quota exceeded", quotaRetryDelay)
			return nil
		}
		s.queue.MarkFailed(ctx, item.ID, err.Error(), transientRetryDelay)
		return fmt.Errorf("reserve quota for %s: %w", c.AccountID, err)
	}

	if ok, err := s.campaigns.Transition(ctx, c.ID,
		[]domain.CampaignStatus{domain.CampaignScheduled, domain.CampaignSending},
		domain.CampaignSending); err != nil {
		s.queue.MarkFailed(ctx, item.ID, err.Error(), transientRetryDelay)
		return fmt.Errorf("transition campaign %s to sending: %w", c.ID, err)
	} else if !ok {
		// Raced to a terminal state between the reload and the guard.
		return s.queue.MarkSent(ctx, item.ID)
	}

	events := s.submitAll(ctx, c, recipients)
	if len(events) > 0 {
		if err := s.events.Record(ctx, events); err != nil {
			s.log.Error("recording send outcomes", "campaign", c.ID, "error", err.Error())
		}
	}

	if err := s.queue.MarkSent(ctx, item.ID); err != nil {
		return fmt.Errorf("mark item %s sent: %w", item.ID, err)
	}
	return s.finalize(ctx, c)
}

// submitAll partitions recipients into provider-sized batches, renders
// each message with tracking embedded, and submits. Every recipient ends
// up in exactly one event: sent with the provider's message id, or failed
// with a reason.
func (s *Sender) submitAll(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient) []domain.DeliveryEvent {
	var events []domain.DeliveryEvent
	size := s.provider.MaxBatchSize()
	if size <= 0 {
		size = provider.DefaultBatchSize
	}

	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		events = append(events, s.submitBatch(ctx, c, recipients[start:end])...)
	}
	return events
}

func (s *Sender) submitBatch(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient) []domain.DeliveryEvent {
	now := time.Now().UTC()
	batch := provider.Batch{
		FromEmail:  c.FromEmail,
		FromName:   c.FromName,
		Subject:    c.Subject,
		CampaignID: c.ID,
	}

	var events []domain.DeliveryEvent
	for _, rec := range recipients {
		html, err := s.renderer.Render(c, rec)
		if err != nil {
			s.log.Error("render failed", "campaign", c.ID,
				"recipient", logger.RedactEmail(rec.Email), "error", err.Error())
			events = append(events, failedEvent(c.ID, rec.Email, "render: "+err.Error(), now))
			continue
		}
		batch.Personalizations = append(batch.Personalizations, provider.Personalization{
			Email: rec.Email,
			Name:  rec.Name,
			HTML:  s.signer.Inject(html, c.ID, rec.ID),
		})
	}
	if len(batch.Personalizations) == 0 {
		return events
	}

	results, err := s.provider.SubmitBatch(ctx, batch)
	if err != nil {
		// Retries are exhausted inside the provider client; everyone in
		// this batch is failed, subsequent batches still run.
		s.log.Error("batch submission failed", "campaign", c.ID,
			"size", len(batch.Personalizations), "error", err.Error())
		for _, p := range batch.Personalizations {
			events = append(events, failedEvent(c.ID, p.Email, err.Error(), now))
		}
		return events
	}

	for _, res := range results {
		if res.Accepted {
			events = append(events, domain.DeliveryEvent{
				MessageID:  res.MessageID,
				CampaignID: c.ID,
				Email:      res.Email,
				Type:       domain.EventSent,
				OccurredAt: now,
			})
		} else {
			events = append(events, failedEvent(c.ID, res.Email, res.Reason, now))
		}
	}
	return events
}

// finalize settles the campaign status after an item resolves: a one-time
// campaign with nothing outstanding becomes sent, everything else returns
// to scheduled and waits for its next occurrence.
func (s *Sender) finalize(ctx context.Context, c *domain.Campaign) error {
	outstanding, err := s.queue.OutstandingCount(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("count outstanding for %s: %w", c.ID, err)
	}

	if outstanding == 0 && c.Frequency == domain.FrequencyOnce {
		_, err = s.campaigns.Transition(ctx, c.ID,
			[]domain.CampaignStatus{domain.CampaignSending, domain.CampaignScheduled},
			domain.CampaignSent)
		if err == nil {
			s.log.Info("campaign complete", "campaign", c.ID)
		}
		return err
	}

	_, err = s.campaigns.Transition(ctx, c.ID,
		[]domain.CampaignStatus{domain.CampaignSending},
		domain.CampaignScheduled)
	return err
}

func failedEvent(campaignID, email, reason string, at time.Time) domain.DeliveryEvent {
	return domain.DeliveryEvent{
		CampaignID: campaignID,
		Email:      email,
		Type:       domain.EventFailed,
		Reason:     reason,
		OccurredAt: at,
	}
}
