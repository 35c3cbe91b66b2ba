package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumamail/pipeline/internal/domain"
)

type memSink struct {
	mu     sync.Mutex
	events []domain.DeliveryEvent
}

func (m *memSink) Record(_ context.Context, events []domain.DeliveryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memSink) all() []domain.DeliveryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DeliveryEvent(nil), m.events...)
}

func testEvent(typ domain.EventType) Event {
	return Event{
		Type:        typ,
		CampaignID:  "camp-1",
		RecipientID: "rec-1",
		UserAgent:   "Mozilla/5.0",
		IPAddress:   "203.0.113.9",
		Timestamp:   time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestProcessDirectResolvesEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT email FROM recipients").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("jo@example.com"))

	sink := &memSink{}
	c := NewConsumer(nil, db, sink)

	require.NoError(t, c.ProcessDirect(context.Background(), testEvent(domain.EventOpened)))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "jo@example.com", events[0].Email)
	assert.Equal(t, domain.EventOpened, events[0].Type)
	assert.Equal(t, "camp-1", events[0].CampaignID)
}

func TestProcessDirectMissingRecipientStillRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT email FROM recipients").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"email"}))

	sink := &memSink{}
	c := NewConsumer(nil, db, sink)

	require.NoError(t, c.ProcessDirect(context.Background(), testEvent(domain.EventClicked)))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Email)
}

func TestProcessDirectUnsubscribeFlagsRecipient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT email FROM recipients").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("jo@example.com"))
	mock.ExpectExec("INSERT INTO campaign_unsubscribes").
		WithArgs("camp-1", "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sink := &memSink{}
	c := NewConsumer(nil, db, sink)

	require.NoError(t, c.ProcessDirect(context.Background(), testEvent(domain.EventUnsubscribed)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumerDrainsIntakeQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT email FROM recipients").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("jo@example.com"))

	sink := &memSink{}
	c := NewConsumer(client, db, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	payload, err := json.Marshal(testEvent(domain.EventOpened))
	require.NoError(t, err)
	require.NoError(t, client.LPush(ctx, IntakeKey, payload).Err())

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "jo@example.com", sink.all()[0].Email)
}

func TestPublisherEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewPublisher(client)
	p.Publish(context.Background(), testEvent(domain.EventOpened))

	require.Eventually(t, func() bool {
		n, err := client.LLen(context.Background(), IntakeKey).Result()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	raw, err := client.RPop(context.Background(), IntakeKey).Result()
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal([]byte(raw), &evt))
	assert.Equal(t, domain.EventOpened, evt.Type)
	assert.Equal(t, "camp-1", evt.CampaignID)
}
