// Package schedule expands a campaign's recurrence into discrete dispatch
// instants. Expansion is a pure function of its inputs: persistence and
// queue submission belong to the caller.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lumamail/pipeline/internal/domain"
)

// ErrInvalidSchedule is returned for any rejected schedule input. Callers
// surface the wrapped reason to the user; it is never retried.
var ErrInvalidSchedule = errors.New("invalid schedule")

// MaxYear is the last year a dispatch instant may fall in. Instants past
// this bound are rejected rather than silently truncated.
const MaxYear = 9999

// rule computes the i-th occurrence of a schedule from its anchor. Each
// occurrence derives from the original start, never from a previous
// occurrence: a monthly schedule anchored on the 31st clamps to Feb 28 in
// February and returns to the 31st in March.
type rule struct {
	occurrence     func(start time.Time, i int) time.Time
	defaultHorizon func(time.Time) time.Time
}

// Horizons bounds expansion when no explicit end date is supplied.
// Recurrence without a bound must never expand unboundedly, so every
// frequency substitutes a default horizon from this table.
type Horizons struct {
	Daily     time.Duration // default 30 days
	Weekly    time.Duration // default 26 weeks
	BiWeekly  time.Duration // default 26 weeks
	Monthly   int           // calendar months, default 12
	Quarterly int           // calendar months, default 24
}

// DefaultHorizons returns the production horizon table.
func DefaultHorizons() Horizons {
	return Horizons{
		Daily:     30 * 24 * time.Hour,
		Weekly:    26 * 7 * 24 * time.Hour,
		BiWeekly:  26 * 7 * 24 * time.Hour,
		Monthly:   12,
		Quarterly: 24,
	}
}

// Expander expands campaign schedules. It is immutable after construction
// and safe for concurrent use. The horizon table is injected so tests can
// shrink it without touching global state.
type Expander struct {
	horizons Horizons
	now      func() time.Time
}

// NewExpander creates an Expander with the given horizon table.
func NewExpander(h Horizons) *Expander {
	return &Expander{horizons: h, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (e *Expander) WithClock(now func() time.Time) *Expander {
	cp := *e
	cp.now = now
	return &cp
}

// Expand produces one DispatchWorkItem per occurrence of the schedule:
// exactly one at start for "once", otherwise start, start+1 interval, ...
// while the instant is <= end (or the default horizon when end is nil).
//
// Returned items are in strictly increasing RunAt order and carry fresh
// ids in pending state. Expansion has no side effects.
func (e *Expander) Expand(campaignID string, start time.Time, freq domain.Frequency, end *time.Time) ([]domain.DispatchWorkItem, error) {
	if start.Before(e.now()) {
		return nil, fmt.Errorf("%w: start date %s is in the past", ErrInvalidSchedule, start.Format(time.RFC3339))
	}
	if end != nil && end.Before(start) {
		return nil, fmt.Errorf("%w: end date %s precedes start date", ErrInvalidSchedule, end.Format(time.RFC3339))
	}
	if start.Year() > MaxYear {
		return nil, fmt.Errorf("%w: start date out of range", ErrInvalidSchedule)
	}

	r, ok := e.ruleFor(freq, start)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidSchedule, freq)
	}

	if freq == domain.FrequencyOnce {
		return []domain.DispatchWorkItem{newItem(campaignID, start)}, nil
	}

	bound := r.defaultHorizon(start)
	if end != nil {
		bound = *end
	}

	var items []domain.DispatchWorkItem
	for i := 0; ; i++ {
		at := r.occurrence(start, i)
		if at.After(bound) {
			break
		}
		if at.Year() > MaxYear {
			return nil, fmt.Errorf("%w: occurrence at %s out of range", ErrInvalidSchedule, at.Format(time.RFC3339))
		}
		items = append(items, newItem(campaignID, at))
	}
	return items, nil
}

// ruleFor returns the advance/horizon pair for a frequency. The switch is
// exhaustive over the domain.Frequency constants; unknown strings fall out
// as !ok and are rejected by the caller.
func (e *Expander) ruleFor(freq domain.Frequency, start time.Time) (rule, bool) {
	switch freq {
	case domain.FrequencyOnce:
		return rule{
			occurrence:     func(s time.Time, _ int) time.Time { return s },
			defaultHorizon: func(t time.Time) time.Time { return t },
		}, true
	case domain.FrequencyDaily:
		return rule{
			occurrence:     func(s time.Time, i int) time.Time { return s.Add(time.Duration(i) * 24 * time.Hour) },
			defaultHorizon: func(t time.Time) time.Time { return t.Add(e.horizons.Daily) },
		}, true
	case domain.FrequencyWeekly:
		return rule{
			occurrence:     func(s time.Time, i int) time.Time { return s.Add(time.Duration(i) * 7 * 24 * time.Hour) },
			defaultHorizon: func(t time.Time) time.Time { return t.Add(e.horizons.Weekly) },
		}, true
	case domain.FrequencyBiWeekly:
		return rule{
			occurrence:     func(s time.Time, i int) time.Time { return s.Add(time.Duration(i) * 14 * 24 * time.Hour) },
			defaultHorizon: func(t time.Time) time.Time { return t.Add(e.horizons.BiWeekly) },
		}, true
	case domain.FrequencyMonthly:
		return rule{
			occurrence:     func(s time.Time, i int) time.Time { return addMonthsClamped(s, i) },
			defaultHorizon: func(t time.Time) time.Time { return addMonthsClamped(t, e.horizons.Monthly) },
		}, true
	case domain.FrequencyQuarterly:
		return rule{
			occurrence:     func(s time.Time, i int) time.Time { return addMonthsClamped(s, 3*i) },
			defaultHorizon: func(t time.Time) time.Time { return addMonthsClamped(t, e.horizons.Quarterly) },
		}, true
	}
	return rule{}, false
}

func newItem(campaignID string, at time.Time) domain.DispatchWorkItem {
	return domain.DispatchWorkItem{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		RunAt:      at.UTC(),
		Status:     domain.WorkItemPending,
	}
}

// addMonthsClamped advances t by n calendar months, clamping the day of
// month to the last valid day of the target month. Jan 31 + 1 month is
// Feb 28 (29 in leap years), not Mar 2/3 as time.AddDate would produce.
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
