package ingest

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lumamail/pipeline/internal/domain"
)

// ProviderEvent is the provider's webhook payload for one event. The
// campaign id is echoed back from the metadata attached at submit time,
// so attribution survives even when the event for a message arrives
// before its own sent record.
type ProviderEvent struct {
	Event      string  `json:"event"`
	MessageID  string  `json:"message_id"`
	CampaignID string  `json:"campaign_id,omitempty"`
	Email      string  `json:"email"`
	Timestamp  float64 `json:"timestamp"` // unix seconds
	Reason     string  `json:"reason,omitempty"`
	URL        string  `json:"url,omitempty"`
	UserAgent  string  `json:"useragent,omitempty"`
	IP         string  `json:"ip,omitempty"`
}

// Receiver handles the provider's webhook callbacks. Safe for concurrent
// use; the provider delivers at-least-once, so everything downstream of
// this handler tolerates duplicates.
type Receiver struct {
	recorder    *Recorder
	webhookKey  string
	eventsSeen  int64
	eventsBad   int64
	eventsSaved int64
}

// NewReceiver creates a webhook receiver. webhookKey, when non-empty, is
// required in the X-Webhook-Key header; requests without it get 401.
func NewReceiver(recorder *Recorder, webhookKey string) *Receiver {
	return &Receiver{recorder: recorder, webhookKey: webhookKey}
}

// HandleDeliveryEvents processes POST /delivery-events.
//
// Response policy: 200 for every syntactically valid request, including
// ones with individually malformed entries, to prevent provider retry
// storms. 4xx only for unreadable bodies, invalid JSON, or a bad key.
func (rc *Receiver) HandleDeliveryEvents(w http.ResponseWriter, r *http.Request) {
	if rc.webhookKey != "" {
		key := r.Header.Get("X-Webhook-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(rc.webhookKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var events []ProviderEvent
	if err := json.Unmarshal(body, &events); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	for _, pe := range events {
		atomic.AddInt64(&rc.eventsSeen, 1)

		// One bad entry never aborts the batch.
		if pe.MessageID == "" || pe.Event == "" {
			atomic.AddInt64(&rc.eventsBad, 1)
			log.Printf("[Ingest] skipping malformed entry (event=%q message_id=%q)", pe.Event, pe.MessageID)
			continue
		}

		occurredAt := time.Unix(int64(pe.Timestamp), 0).UTC()
		if pe.Timestamp == 0 {
			occurredAt = time.Now().UTC()
		}

		campaignID := pe.CampaignID
		if campaignID == "" {
			campaignID, err = rc.recorder.ResolveCampaign(ctx, pe.MessageID)
			if err != nil {
				log.Printf("[Ingest] resolve campaign for %s: %v", pe.MessageID, err)
			}
		}

		evt := domain.DeliveryEvent{
			MessageID:  pe.MessageID,
			CampaignID: campaignID,
			Email:      pe.Email,
			Type:       Normalize(pe.Event),
			OccurredAt: occurredAt,
			UserAgent:  pe.UserAgent,
			LinkURL:    pe.URL,
			Reason:     pe.Reason,
			IPAddress:  pe.IP,
		}
		if err := rc.recorder.Record(ctx, []domain.DeliveryEvent{evt}); err != nil {
			atomic.AddInt64(&rc.eventsBad, 1)
			log.Printf("[Ingest] record event for %s: %v", pe.MessageID, err)
			continue
		}
		atomic.AddInt64(&rc.eventsSaved, 1)
	}

	w.WriteHeader(http.StatusOK)
}

// Stats returns ingestion counters.
func (rc *Receiver) Stats() map[string]int64 {
	return map[string]int64{
		"events_seen":  atomic.LoadInt64(&rc.eventsSeen),
		"events_saved": atomic.LoadInt64(&rc.eventsSaved),
		"events_bad":   atomic.LoadInt64(&rc.eventsBad),
	}
}
