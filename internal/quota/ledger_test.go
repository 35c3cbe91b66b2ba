package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumamail/pipeline/internal/domain"
)

func seededLedger(daily, dailyLimit, monthly, monthlyLimit int) *MemLedger {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	m := NewMemLedger().WithClock(func() time.Time { return now })
	m.Set("acct", domain.QuotaUsage{
		DailyUsed: daily, DailyLimit: dailyLimit,
		MonthlyUsed: monthly, MonthlyLimit: monthlyLimit,
		LastDailyReset: now, LastMonthlyReset: now,
	})
	return m
}

func TestReserveWithinLimits(t *testing.T) {
	m := seededLedger(0, 100, 0, 1000)
	require.NoError(t, m.Reserve(context.Background(), "acct", 60))

	u, err := m.Usage(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 60, u.DailyUsed)
	assert.Equal(t, 60, u.MonthlyUsed)
	assert.Equal(t, 40, u.DailyRemaining())
}

func TestReserveRejectsDailyOverflow(t *testing.T) {
	m := seededLedger(8, 10, 8, 1000)
	err := m.Reserve(context.Background(), "acct", 5)
	require.ErrorIs(t, err, ErrExceeded)

	// A failed reservation consumes nothing.
	u, _ := m.Usage(context.Background(), "acct")
	assert.Equal(t, 8, u.DailyUsed)
}

func TestReserveRejectsMonthlyOverflow(t *testing.T) {
	m := seededLedger(0, 1000, 995, 1000)
	require.ErrorIs(t, m.Reserve(context.Background(), "acct", 10), ErrExceeded)
}

func TestReserveUnknownAccount(t *testing.T) {
	m := NewMemLedger()
	require.ErrorIs(t, m.Reserve(context.Background(), "ghost", 1), ErrNoLedger)
}

func TestReserveZeroIsNoop(t *testing.T) {
	m := NewMemLedger()
	require.NoError(t, m.Reserve(context.Background(), "ghost", 0))
}

// Concurrent reservations summing past the remaining quota must produce
// exactly enough successes to exhaust it, never an over-reservation.
func TestReserveConcurrentExact(t *testing.T) {
	m := seededLedger(0, 50, 0, 100000)

	const workers = 100 // 100 x 1, only 50 can fit
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Reserve(context.Background(), "acct", 1); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, granted)
	u, _ := m.Usage(context.Background(), "acct")
	assert.Equal(t, 50, u.DailyUsed)
}

func TestLazyDailyReset(t *testing.T) {
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	now := base
	m := NewMemLedger().WithClock(func() time.Time { return now })
	m.Set("acct", domain.QuotaUsage{
		DailyUsed: 10, DailyLimit: 10,
		MonthlyUsed: 10, MonthlyLimit: 1000,
		LastDailyReset: base, LastMonthlyReset: base,
	})

	require.ErrorIs(t, m.Reserve(context.Background(), "acct", 1), ErrExceeded)

	// A day later, the daily window resets while the monthly carries on.
	now = base.Add(25 * time.Hour)
	require.NoError(t, m.Reserve(context.Background(), "acct", 1))

	u, _ := m.Usage(context.Background(), "acct")
	assert.Equal(t, 1, u.DailyUsed)
	assert.Equal(t, 11, u.MonthlyUsed)
}

func TestLazyMonthlyReset(t *testing.T) {
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	now := base
	m := NewMemLedger().WithClock(func() time.Time { return now })
	m.Set("acct", domain.QuotaUsage{
		DailyUsed: 0, DailyLimit: 100,
		MonthlyUsed: 1000, MonthlyLimit: 1000,
		LastDailyReset: base, LastMonthlyReset: base,
	})

	require.ErrorIs(t, m.Reserve(context.Background(), "acct", 1), ErrExceeded)

	now = base.AddDate(0, 1, 1)
	require.NoError(t, m.Reserve(context.Background(), "acct", 1))
	u, _ := m.Usage(context.Background(), "acct")
	assert.Equal(t, 1, u.MonthlyUsed)
}

func TestPGLedgerReserve(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	l := NewPGLedger(db)

	mock.ExpectExec(`UPDATE quota_ledgers SET`).
		WithArgs("acct", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, l.Reserve(context.Background(), "acct", 5))

	// No row updated and the ledger exists: quota exhausted.
	mock.ExpectExec(`UPDATE quota_ledgers SET`).
		WithArgs("acct", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acct").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	require.ErrorIs(t, l.Reserve(context.Background(), "acct", 5), ErrExceeded)

	// No row updated and no ledger row at all.
	mock.ExpectExec(`UPDATE quota_ledgers SET`).
		WithArgs("ghost", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	require.ErrorIs(t, l.Reserve(context.Background(), "ghost", 5), ErrNoLedger)

	require.NoError(t, mock.ExpectationsWereMet())
}
