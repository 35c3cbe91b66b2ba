package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lumamail/pipeline/internal/pkg/httpretry"
)

// DefaultBatchSize is the number of recipients submitted per provider
// call. Kept well under typical provider payload limits.
const DefaultBatchSize = 200

// submitTimeout bounds one batch submission including retries.
const submitTimeout = 60 * time.Second

// Client talks to the provider's HTTP batch-send API. Transport failures
// (network errors, 429, 5xx) are retried with exponential backoff by the
// wrapped httpretry client before being reported as ErrTransport.
type Client struct {
	apiKey  string
	baseURL string
	http    httpretry.Doer
	maxSize int
}

// NewClient creates a provider client. retries bounds transport-level
// retry attempts per batch.
func NewClient(baseURL, apiKey string, retries int) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    httpretry.New(&http.Client{Timeout: 30 * time.Second}, retries),
		maxSize: DefaultBatchSize,
	}
}

// MaxBatchSize returns the personalization limit per call.
func (c *Client) MaxBatchSize() int { return c.maxSize }

// submitResponse is the provider's per-recipient verdict payload.
type submitResponse struct {
	BatchID string `json:"batch_id"`
	Results []struct {
		Email     string `json:"email"`
		Status    string `json:"status"` // "accepted" | "rejected"
		MessageID string `json:"message_id"`
		Reason    string `json:"reason"`
	} `json:"results"`
}

// SubmitBatch posts the batch and maps the provider's per-recipient
// verdicts into RecipientResults. A missing verdict for a recipient is
// treated as accepted when the call itself succeeded, with a synthesized
// message id so downstream correlation still works.
func (c *Client) SubmitBatch(ctx context.Context, b Batch) ([]RecipientResult, error) {
	if len(b.Personalizations) == 0 {
		return nil, nil
	}
	if len(b.Personalizations) > c.maxSize {
		return nil, fmt.Errorf("batch size %d exceeds provider max of %d", len(b.Personalizations), c.maxSize)
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	payload, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d after retries: %s", ErrTransport, resp.StatusCode, body)
	}
	if resp.StatusCode >= 400 {
		// Permanent rejection of the whole batch. Per-recipient reasons
		// may still be present in the body; fall through to parse them.
		var sr submitResponse
		if json.Unmarshal(body, &sr) == nil && len(sr.Results) > 0 {
			return c.mapResults(b, sr), nil
		}
		out := make([]RecipientResult, len(b.Personalizations))
		reason := fmt.Sprintf("provider rejected batch: status %d", resp.StatusCode)
		for i, p := range b.Personalizations {
			out[i] = RecipientResult{Email: p.Email, Accepted: false, Reason: reason, At: time.Now().UTC()}
		}
		return out, nil
	}

	var sr submitResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("parse provider response: %w", err)
	}
	return c.mapResults(b, sr), nil
}

func (c *Client) mapResults(b Batch, sr submitResponse) []RecipientResult {
	now := time.Now().UTC()
	verdicts := make(map[string]RecipientResult, len(sr.Results))
	for _, r := range sr.Results {
		verdicts[r.Email] = RecipientResult{
			Email:     r.Email,
			Accepted:  r.Status == "accepted",
			MessageID: r.MessageID,
			Reason:    r.Reason,
			At:        now,
		}
	}

	out := make([]RecipientResult, len(b.Personalizations))
	for i, p := range b.Personalizations {
		if v, ok := verdicts[p.Email]; ok {
			if v.Accepted && v.MessageID == "" {
				v.MessageID = uuid.New().String()
			}
			out[i] = v
			continue
		}
		out[i] = RecipientResult{Email: p.Email, Accepted: true, MessageID: uuid.New().String(), At: now}
	}
	return out
}
