package stats

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func expectCounts(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT event_type, COUNT").
		WillReturnRows(rows)
}

func expectTimeline(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT date_trunc").
		WillReturnRows(rows)
}

func expectBreakdowns(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT COALESCE\\(user_agent").
		WillReturnRows(rows)
}

func TestStatsForRates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectCounts(mock, sqlmock.NewRows([]string{"event_type", "count"}).
		AddRow("sent", 200).
		AddRow("opened", 50).
		AddRow("clicked", 10).
		AddRow("bounced", 4).
		AddRow("unsubscribed", 2))
	expectTimeline(mock, sqlmock.NewRows([]string{"day", "event_type", "count"}))
	expectBreakdowns(mock, sqlmock.NewRows([]string{"user_agent", "count"}))

	a := NewAggregator(db)
	st, err := a.StatsFor(context.Background(), "camp-1", Window{From: day(2024, 12, 1), To: day(2024, 12, 1)})
	require.NoError(t, err)

	assert.Equal(t, int64(200), st.Sent)
	assert.InDelta(t, 0.25, st.OpenRate, 1e-9)
	assert.InDelta(t, 0.05, st.ClickRate, 1e-9)
	assert.InDelta(t, 0.02, st.BounceRate, 1e-9)
	assert.InDelta(t, 0.01, st.UnsubscribeRate, 1e-9)
}

func TestStatsForZeroSentNeverDivides(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectCounts(mock, sqlmock.NewRows([]string{"event_type", "count"}).
		AddRow("opened", 7))
	expectTimeline(mock, sqlmock.NewRows([]string{"day", "event_type", "count"}))
	expectBreakdowns(mock, sqlmock.NewRows([]string{"user_agent", "count"}))

	a := NewAggregator(db)
	st, err := a.StatsFor(context.Background(), "camp-1", Window{From: day(2024, 12, 1), To: day(2024, 12, 1)})
	require.NoError(t, err)

	assert.Equal(t, int64(7), st.Opened)
	assert.Zero(t, st.OpenRate)
	assert.Zero(t, st.ClickRate)
	assert.Zero(t, st.BounceRate)
	assert.Zero(t, st.UnsubscribeRate)
}

func TestStatsForTimelineZeroFilled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectCounts(mock, sqlmock.NewRows([]string{"event_type", "count"}))
	expectTimeline(mock, sqlmock.NewRows([]string{"day", "event_type", "count"}).
		AddRow(day(2024, 12, 2), "opened", 3).
		AddRow(day(2024, 12, 4), "clicked", 1))
	expectBreakdowns(mock, sqlmock.NewRows([]string{"user_agent", "count"}))

	a := NewAggregator(db)
	st, err := a.StatsFor(context.Background(), "camp-1", Window{From: day(2024, 12, 1), To: day(2024, 12, 5)})
	require.NoError(t, err)

	require.Len(t, st.Timeline, 5)
	assert.Equal(t, "2024-12-01", st.Timeline[0].Date)
	assert.Empty(t, st.Timeline[0].Counts)
	assert.Equal(t, int64(3), st.Timeline[1].Counts["opened"])
	assert.Empty(t, st.Timeline[2].Counts)
	assert.Equal(t, int64(1), st.Timeline[3].Counts["clicked"])
	assert.Empty(t, st.Timeline[4].Counts)
}

func TestStatsForBreakdowns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectCounts(mock, sqlmock.NewRows([]string{"event_type", "count"}))
	expectTimeline(mock, sqlmock.NewRows([]string{"day", "event_type", "count"}))
	expectBreakdowns(mock, sqlmock.NewRows([]string{"user_agent", "count"}).
		AddRow("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)", 5).
		AddRow("Mozilla/5.0 (Windows NT 10.0) Microsoft Office Outlook", 2).
		AddRow("", 1).
		AddRow("weird-agent/0.1", 4))

	a := NewAggregator(db)
	st, err := a.StatsFor(context.Background(), "camp-1", Window{From: day(2024, 12, 1), To: day(2024, 12, 1)})
	require.NoError(t, err)

	assert.Equal(t, int64(5), st.Devices["mobile"])
	assert.Equal(t, int64(6), st.Devices["desktop"])
	assert.Equal(t, int64(1), st.Devices["Other"])
	assert.Equal(t, int64(5), st.Clients["Apple Mail"])
	assert.Equal(t, int64(2), st.Clients["Outlook"])
	assert.Equal(t, int64(1), st.Clients["Unknown"])
	assert.Equal(t, int64(4), st.Clients["Other"])
}

func TestStatsForInvalidWindow(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := NewAggregator(db)
	_, err = a.StatsFor(context.Background(), "camp-1", Window{From: day(2024, 12, 5), To: day(2024, 12, 1)})
	assert.Error(t, err)
}

func TestClassifyDevice(t *testing.T) {
	assert.Equal(t, "mobile", ClassifyDevice("Mozilla/5.0 (Linux; Android 14)"))
	assert.Equal(t, "tablet", ClassifyDevice("Mozilla/5.0 (iPad; CPU OS 17_0)"))
	assert.Equal(t, "desktop", ClassifyDevice("Mozilla/5.0 (X11; Linux x86_64)"))
	assert.Equal(t, "Other", ClassifyDevice(""))
}

func TestClassifyClientGmailProxy(t *testing.T) {
	assert.Equal(t, "Gmail", ClassifyClient("Mozilla/5.0 (Windows NT 5.1) via ggpht.com GoogleImageProxy"))
}
