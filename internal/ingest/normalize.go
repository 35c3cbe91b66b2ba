// Package ingest receives asynchronous delivery-event webhooks from the
// provider, normalizes the provider's event vocabulary into the internal
// taxonomy, and records events with campaign counters kept in step.
package ingest

import (
	"strings"

	"github.com/lumamail/pipeline/internal/domain"
)

// vocabulary is the fixed provider-to-internal event mapping. Untranslated
// provider types normalize to EventUnknown: an event we can't classify is
// still an event, never silently dropped.
var vocabulary = map[string]domain.EventType{
	"processed":         domain.EventQueued,
	"queued":            domain.EventQueued,
	"deferred":          domain.EventQueued,
	"sent":              domain.EventSent,
	"delivered":         domain.EventDelivered,
	"delivery":          domain.EventDelivered,
	"open":              domain.EventOpened,
	"opened":            domain.EventOpened,
	"click":             domain.EventClicked,
	"clicked":           domain.EventClicked,
	"bounce":            domain.EventBounced,
	"bounced":           domain.EventBounced,
	"hard_bounce":       domain.EventBounced,
	"soft_bounce":       domain.EventBounced,
	"dropped":           domain.EventFailed,
	"blocked":           domain.EventFailed,
	"failed":            domain.EventFailed,
	"spamreport":        domain.EventSpamReport,
	"spam_report":       domain.EventSpamReport,
	"complaint":         domain.EventSpamReport,
	"unsubscribe":       domain.EventUnsubscribed,
	"unsubscribed":      domain.EventUnsubscribed,
	"group_unsubscribe": domain.EventUnsubscribed,
}

// Normalize maps a provider event name to the internal taxonomy.
func Normalize(providerType string) domain.EventType {
	if t, ok := vocabulary[strings.ToLower(strings.TrimSpace(providerType))]; ok {
		return t
	}
	return domain.EventUnknown
}
