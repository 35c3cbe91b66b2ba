package quota

import (
	"context"
	"sync"
	"time"

	"github.com/lumamail/pipeline/internal/domain"
)

// MemLedger is an in-memory Ledger for unit tests and local development.
// Reset semantics match PGLedger: daily resets after >= 1 day since the
// last reset, monthly after >= 1 calendar month, each independently.
type MemLedger struct {
	mu       sync.Mutex
	accounts map[string]*domain.QuotaUsage
	now      func() time.Time
}

// NewMemLedger creates an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{accounts: make(map[string]*domain.QuotaUsage), now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (m *MemLedger) WithClock(now func() time.Time) *MemLedger {
	m.now = now
	return m
}

// Set installs or replaces an account's ledger entry.
func (m *MemLedger) Set(accountID string, u domain.QuotaUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.AccountID = accountID
	m.accounts[accountID] = &u
}

func (m *MemLedger) Reserve(_ context.Context, accountID string, n int) error {
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.accounts[accountID]
	if !ok {
		return ErrNoLedger
	}
	m.applyResets(u)
	if u.DailyUsed+n > u.DailyLimit || u.MonthlyUsed+n > u.MonthlyLimit {
		return ErrExceeded
	}
	u.DailyUsed += n
	u.MonthlyUsed += n
	return nil
}

func (m *MemLedger) Usage(_ context.Context, accountID string) (domain.QuotaUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.accounts[accountID]
	if !ok {
		return domain.QuotaUsage{}, ErrNoLedger
	}
	m.applyResets(u)
	return *u, nil
}

func (m *MemLedger) applyResets(u *domain.QuotaUsage) {
	now := m.now()
	if !u.LastDailyReset.After(now.Add(-24 * time.Hour)) {
		u.DailyUsed = 0
		u.LastDailyReset = now
	}
	if !u.LastMonthlyReset.After(now.AddDate(0, -1, 0)) {
		u.MonthlyUsed = 0
		u.LastMonthlyReset = now
	}
}
