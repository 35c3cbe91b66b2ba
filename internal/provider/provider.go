// Package provider is the client for the external transactional-email
// delivery API. Batches go out as one HTTP call carrying up to the
// provider's personalization limit; the response reports acceptance or
// rejection per recipient, which the batch sender fans out into
// delivery events.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrTransport marks network-level and 5xx submission failures. The
// underlying HTTP client retries them with backoff before this surfaces;
// by the time a caller sees it the retry budget is spent.
var ErrTransport = errors.New("provider transport error")

// Personalization is one recipient's rendered message within a batch.
type Personalization struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	HTML  string `json:"html"`
}

// Batch is a bounded-size group of recipients submitted in one call.
type Batch struct {
	FromEmail        string            `json:"from_email"`
	FromName         string            `json:"from_name,omitempty"`
	Subject          string            `json:"subject"`
	CampaignID       string            `json:"campaign_id"`
	Personalizations []Personalization `json:"personalizations"`
}

// RecipientResult is the provider's verdict for one recipient.
type RecipientResult struct {
	Email     string    `json:"email"`
	Accepted  bool      `json:"accepted"`
	MessageID string    `json:"message_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Sender submits recipient batches to the delivery provider.
// Implementations must be safe for concurrent use.
type Sender interface {
	// SubmitBatch submits one batch. A non-nil error means the whole batch
	// failed at the transport level (after retries); otherwise the results
	// slice carries one entry per personalization, in order.
	SubmitBatch(ctx context.Context, b Batch) ([]RecipientResult, error)

	// MaxBatchSize returns the provider's personalization limit per call.
	MaxBatchSize() int
}
