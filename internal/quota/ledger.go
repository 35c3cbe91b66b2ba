// Package quota tracks per-account daily and monthly send allowances.
//
// Reservation is a single atomic check-and-increment: two concurrent work
// items for the same account can never both slip past the limit. Counter
// resets are lazy, folded into every access rather than run by a separate
// scheduled pass.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lumamail/pipeline/internal/domain"
)

// ErrExceeded is returned when a reservation does not fit in the account's
// remaining daily or monthly allowance. Transient: the same reservation may
// succeed after the next lazy reset.
var ErrExceeded = errors.New("quota exceeded")

// ErrNoLedger is returned for accounts without a ledger row.
var ErrNoLedger = errors.New("no quota ledger for account")

// Ledger is the reservation contract consumed by the batch sender.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Reserve atomically consumes n sends from the account's daily and
	// monthly allowances. Returns ErrExceeded if either would overflow;
	// on success the consumption is irreversible.
	Reserve(ctx context.Context, accountID string, n int) error

	// Usage returns current counters with lazy resets applied.
	Usage(ctx context.Context, accountID string) (domain.QuotaUsage, error)
}

// PGLedger implements Ledger against PostgreSQL.
type PGLedger struct{ db *sql.DB }

// NewPGLedger creates a Postgres-backed quota ledger.
func NewPGLedger(db *sql.DB) *PGLedger { return &PGLedger{db: db} }

// Reserve performs the check-and-increment in one UPDATE so the database
// serializes concurrent reservations. The CASE expressions apply the lazy
// reset: a window whose last reset is at least one day (resp. one month)
// old restarts from zero before the increment and the limit check.
func (l *PGLedger) Reserve(ctx context.Context, accountID string, n int) error {
	if n <= 0 {
		return nil
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE quota_ledgers SET
			daily_used = (CASE WHEN last_daily_reset <= NOW() - INTERVAL '1 day'
				THEN 0 ELSE daily_used END) + $2,
			monthly_used = (CASE WHEN last_monthly_reset <= NOW() - INTERVAL '1 month'
				THEN 0 ELSE monthly_used END) + $2,
			last_daily_reset = CASE WHEN last_daily_reset <= NOW() - INTERVAL '1 day'
				THEN NOW() ELSE last_daily_reset END,
			last_monthly_reset = CASE WHEN last_monthly_reset <= NOW() - INTERVAL '1 month'
				THEN NOW() ELSE last_monthly_reset END,
			updated_at = NOW()
		WHERE account_id = $1
		  AND (CASE WHEN last_daily_reset <= NOW() - INTERVAL '1 day'
				THEN 0 ELSE daily_used END) + $2 <= daily_limit
		  AND (CASE WHEN last_monthly_reset <= NOW() - INTERVAL '1 month'
				THEN 0 ELSE monthly_used END) + $2 <= monthly_limit
	`, accountID, n)
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}
	if affected == 0 {
		// Either the account has no ledger or the reservation didn't fit.
		var exists bool
		if err := l.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM quota_ledgers WHERE account_id = $1)`,
			accountID).Scan(&exists); err != nil {
			return fmt.Errorf("reserve quota: %w", err)
		}
		if !exists {
			return ErrNoLedger
		}
		return ErrExceeded
	}
	return nil
}

// Usage reads the ledger row, applying reset semantics to the returned
// counters without mutating the row.
func (l *PGLedger) Usage(ctx context.Context, accountID string) (domain.QuotaUsage, error) {
	var u domain.QuotaUsage
	err := l.db.QueryRowContext(ctx, `
		SELECT account_id,
		       CASE WHEN last_daily_reset <= NOW() - INTERVAL '1 day' THEN 0 ELSE daily_used END,
		       daily_limit,
		       CASE WHEN last_monthly_reset <= NOW() - INTERVAL '1 month' THEN 0 ELSE monthly_used END,
		       monthly_limit,
		       last_daily_reset, last_monthly_reset
		FROM quota_ledgers
		WHERE account_id = $1
	`, accountID).Scan(
		&u.AccountID, &u.DailyUsed, &u.DailyLimit,
		&u.MonthlyUsed, &u.MonthlyLimit,
		&u.LastDailyReset, &u.LastMonthlyReset,
	)
	if err == sql.ErrNoRows {
		return domain.QuotaUsage{}, ErrNoLedger
	}
	if err != nil {
		return domain.QuotaUsage{}, fmt.Errorf("quota usage: %w", err)
	}
	return u, nil
}
