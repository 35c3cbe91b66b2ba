package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postEvents(t *testing.T, rc *Receiver, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/delivery-events", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	rc.HandleDeliveryEvents(w, req)
	return w
}

func TestReceiverRecordsEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("msg-7").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow("camp-1"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO delivery_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET open_count").
		WithArgs("camp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rc := NewReceiver(NewRecorder(db), "")
	w := postEvents(t, rc, `[{"event":"open","message_id":"msg-7","email":"jo@example.com","timestamp":1733043600}]`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), rc.Stats()["events_saved"])
}

func TestReceiverDoubleIngestBounceNotDoubleCounted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// First delivery inserts and counts; the replay hits the partial unique
	// index, inserts nothing, and never touches the counter.
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("msg-9").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow("camp-1"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO delivery_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET bounce_count").
		WithArgs("camp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("msg-9").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow("camp-1"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO delivery_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rc := NewReceiver(NewRecorder(db), "")
	payload := `[{"event":"bounce","message_id":"msg-9","email":"jo@example.com","timestamp":1733043600,"reason":"550 mailbox full"}]`

	assert.Equal(t, http.StatusOK, postEvents(t, rc, payload, nil).Code)
	assert.Equal(t, http.StatusOK, postEvents(t, rc, payload, nil).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiverOutOfOrderEventRecordedUnattributed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Open arrives before we ever saw the sent event: no campaign match, the
	// event is still stored, no counter moves.
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("msg-early").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO delivery_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rc := NewReceiver(NewRecorder(db), "")
	w := postEvents(t, rc, `[{"event":"open","message_id":"msg-early","email":"jo@example.com","timestamp":1733043600}]`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiverPayloadCampaignIDSkipsLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// The payload's own campaign id attributes the event even when the
	// message id was never seen, so the open counts toward the campaign.
	// No resolve query may run.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO delivery_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET open_count").
		WithArgs("camp-7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rc := NewReceiver(NewRecorder(db), "")
	w := postEvents(t, rc, `[{"event":"open","message_id":"msg-never-seen","campaign_id":"camp-7","email":"jo@example.com","timestamp":1733043600}]`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), rc.Stats()["events_saved"])
}

func TestReceiverUnknownTypeStillRecorded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("msg-3").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow("camp-1"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO delivery_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rc := NewReceiver(NewRecorder(db), "")
	w := postEvents(t, rc, `[{"event":"list_addition","message_id":"msg-3","email":"jo@example.com","timestamp":1733043600}]`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiverMalformedEntrySkippedBatchSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("msg-ok").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow("camp-1"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO delivery_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rc := NewReceiver(NewRecorder(db), "")
	body := `[{"event":"","message_id":""},{"event":"delivered","message_id":"msg-ok","email":"jo@example.com","timestamp":1733043600}]`
	w := postEvents(t, rc, body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), rc.Stats()["events_bad"])
	assert.Equal(t, int64(1), rc.Stats()["events_saved"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiverInvalidJSON(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rc := NewReceiver(NewRecorder(db), "")
	w := postEvents(t, rc, `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReceiverWebhookKey(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rc := NewReceiver(NewRecorder(db), "s3cret")

	w := postEvents(t, rc, `[]`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postEvents(t, rc, `[]`, map[string]string{"X-Webhook-Key": "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)
}
