// Package stats derives campaign-level reporting from the delivery-event
// stream: counts, rates, a per-day timeline, and best-effort client and
// device breakdowns.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lumamail/pipeline/internal/domain"
)

// Window bounds an aggregation query. Both ends are inclusive at day
// granularity; times are interpreted in UTC.
type Window struct {
	From time.Time
	To   time.Time
}

// DayCounts is one day of the timeline with counts per event type.
type DayCounts struct {
	Date   string           `json:"date"` // YYYY-MM-DD
	Counts map[string]int64 `json:"counts"`
}

// CampaignStats is the full statsFor result.
type CampaignStats struct {
	CampaignID string `json:"campaign_id"`

	Sent         int64 `json:"sent"`
	Delivered    int64 `json:"delivered"`
	Opened       int64 `json:"opened"`
	Clicked      int64 `json:"clicked"`
	Bounced      int64 `json:"bounced"`
	SpamReports  int64 `json:"spam_reports"`
	Unsubscribed int64 `json:"unsubscribed"`
	Failed       int64 `json:"failed"`

	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`

	Timeline []DayCounts      `json:"timeline"`
	Devices  map[string]int64 `json:"devices"`
	Clients  map[string]int64 `json:"clients"`
}

// Aggregator computes on-demand stats from the delivery_events table.
type Aggregator struct {
	db *sql.DB
}

func NewAggregator(db *sql.DB) *Aggregator { return &Aggregator{db: db} }

// StatsFor aggregates the campaign's events within window. Rates use the
// sent count as denominator; a campaign with no sends reports all rates
// as zero. The timeline covers every calendar day of the window.
func (a *Aggregator) StatsFor(ctx context.Context, campaignID string, window Window) (*CampaignStats, error) {
	st := &CampaignStats{
		CampaignID: campaignID,
		Devices:    map[string]int64{},
		Clients:    map[string]int64{},
	}

	from := window.From.UTC().Truncate(24 * time.Hour)
	to := window.To.UTC().Truncate(24 * time.Hour)
	if to.Before(from) {
		return nil, fmt.Errorf("stats window ends before it starts")
	}
	// Inclusive day window.
	upper := to.Add(24 * time.Hour)

	if err := a.loadCounts(ctx, st, campaignID, from, upper); err != nil {
		return nil, err
	}
	if err := a.loadTimeline(ctx, st, campaignID, from, to, upper); err != nil {
		return nil, err
	}
	if err := a.loadBreakdowns(ctx, st, campaignID, from, upper); err != nil {
		return nil, err
	}

	st.OpenRate = rate(st.Opened, st.Sent)
	st.ClickRate = rate(st.Clicked, st.Sent)
	st.BounceRate = rate(st.Bounced, st.Sent)
	st.UnsubscribeRate = rate(st.Unsubscribed, st.Sent)
	return st, nil
}

func rate(n, sent int64) float64 {
	if sent == 0 {
		return 0
	}
	return float64(n) / float64(sent)
}

func (a *Aggregator) loadCounts(ctx context.Context, st *CampaignStats, campaignID string, from, upper time.Time) error {
	rows, err := a.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM delivery_events
		WHERE campaign_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY event_type
	`, campaignID, from, upper)
	if err != nil {
		return fmt.Errorf("query event counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return fmt.Errorf("scan event count: %w", err)
		}
		switch domain.EventType(typ) {
		case domain.EventSent:
			st.Sent = n
		case domain.EventDelivered:
			st.Delivered = n
		case domain.EventOpened:
			st.Opened = n
		case domain.EventClicked:
			st.Clicked = n
		case domain.EventBounced:
			st.Bounced = n
		case domain.EventSpamReport:
			st.SpamReports = n
		case domain.EventUnsubscribed:
			st.Unsubscribed = n
		case domain.EventFailed:
			st.Failed = n
		}
	}
	return rows.Err()
}

func (a *Aggregator) loadTimeline(ctx context.Context, st *CampaignStats, campaignID string, from, to, upper time.Time) error {
	rows, err := a.db.QueryContext(ctx, `
		SELECT date_trunc('day', occurred_at)::date, event_type, COUNT(*)
		FROM delivery_events
		WHERE campaign_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY 1, 2
		ORDER BY 1
	`, campaignID, from, upper)
	if err != nil {
		return fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	byDay := map[string]map[string]int64{}
	for rows.Next() {
		var day time.Time
		var typ string
		var n int64
		if err := rows.Scan(&day, &typ, &n); err != nil {
			return fmt.Errorf("scan timeline row: %w", err)
		}
		key := day.UTC().Format("2006-01-02")
		if byDay[key] == nil {
			byDay[key] = map[string]int64{}
		}
		byDay[key][typ] = n
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Zero-fill: the output covers every day of the window, not only the
	// days that had events.
	for day := from; !day.After(to); day = day.Add(24 * time.Hour) {
		key := day.Format("2006-01-02")
		counts := byDay[key]
		if counts == nil {
			counts = map[string]int64{}
		}
		st.Timeline = append(st.Timeline, DayCounts{Date: key, Counts: counts})
	}
	return nil
}

func (a *Aggregator) loadBreakdowns(ctx context.Context, st *CampaignStats, campaignID string, from, upper time.Time) error {
	rows, err := a.db.QueryContext(ctx, `
		SELECT COALESCE(user_agent, ''), COUNT(*)
		FROM delivery_events
		WHERE campaign_id = $1 AND event_type = 'opened'
		  AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY 1
	`, campaignID, from, upper)
	if err != nil {
		return fmt.Errorf("query breakdowns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ua string
		var n int64
		if err := rows.Scan(&ua, &n); err != nil {
			return fmt.Errorf("scan breakdown row: %w", err)
		}
		st.Devices[ClassifyDevice(ua)] += n
		st.Clients[ClassifyClient(ua)] += n
	}
	return rows.Err()
}

// ClassifyDevice buckets a user agent into mobile, tablet, or desktop.
// Classification is advisory; anything unrecognizable lands in "Other".
func ClassifyDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return "Other"
	}
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	return "desktop"
}

// ClassifyClient buckets a user agent into a coarse mail-client family.
func ClassifyClient(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "Unknown"
	case strings.Contains(ua, "googleimageproxy"):
		return "Gmail"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "macintosh"):
		return "Apple Mail"
	case strings.Contains(ua, "outlook") || strings.Contains(ua, "microsoft office"):
		return "Outlook"
	case strings.Contains(ua, "yahoo"):
		return "Yahoo"
	case strings.Contains(ua, "thunderbird"):
		return "Thunderbird"
	default:
		return "Other"
	}
}
