package domain

import "time"

// QuotaUsage is a point-in-time view of an account's send allowances.
type QuotaUsage struct {
	AccountID        string    `json:"account_id" db:"account_id"`
	DailyUsed        int       `json:"daily_used" db:"daily_used"`
	DailyLimit       int       `json:"daily_limit" db:"daily_limit"`
	MonthlyUsed      int       `json:"monthly_used" db:"monthly_used"`
	MonthlyLimit     int       `json:"monthly_limit" db:"monthly_limit"`
	LastDailyReset   time.Time `json:"last_daily_reset" db:"last_daily_reset"`
	LastMonthlyReset time.Time `json:"last_monthly_reset" db:"last_monthly_reset"`
}

// DailyRemaining returns the sends left today, never negative.
func (q QuotaUsage) DailyRemaining() int {
	if n := q.DailyLimit - q.DailyUsed; n > 0 {
		return n
	}
	return 0
}

// MonthlyRemaining returns the sends left this month, never negative.
func (q QuotaUsage) MonthlyRemaining() int {
	if n := q.MonthlyLimit - q.MonthlyUsed; n > 0 {
		return n
	}
	return 0
}
