package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch(emails ...string) Batch {
	b := Batch{
		FromEmail:  "news@example.com",
		FromName:   "Example",
		Subject:    "Hello",
		CampaignID: "c1",
	}
	for _, e := range emails {
		b.Personalizations = append(b.Personalizations, Personalization{Email: e, HTML: "<p>hi</p>"})
	}
	return b
}

func TestSubmitBatchAllAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/send/batch", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var got Batch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Len(t, got.Personalizations, 2)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"batch_id": "b1",
			"results": []map[string]string{
				{"email": "a@example.com", "status": "accepted", "message_id": "m1"},
				{"email": "b@example.com", "status": "accepted", "message_id": "m2"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", 1)
	results, err := c.SubmitBatch(context.Background(), testBatch("a@example.com", "b@example.com"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Accepted)
	assert.Equal(t, "m1", results[0].MessageID)
	assert.Equal(t, "m2", results[1].MessageID)
}

func TestSubmitBatchPartialRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"email": "good@example.com", "status": "accepted", "message_id": "m1"},
				{"email": "bad@example.com", "status": "rejected", "reason": "invalid mailbox"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", 1)
	results, err := c.SubmitBatch(context.Background(), testBatch("good@example.com", "bad@example.com"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Accepted)
	assert.False(t, results[1].Accepted)
	assert.Equal(t, "invalid mailbox", results[1].Reason)
}

func TestSubmitBatchRetriesThenTransportError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", 2)
	_, err := c.SubmitBatch(context.Background(), testBatch("a@example.com"))
	require.ErrorIs(t, err, ErrTransport)
	// Initial attempt plus 2 retries.
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestSubmitBatchTransientThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"email": "a@example.com", "status": "accepted", "message_id": "m1"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", 2)
	results, err := c.SubmitBatch(context.Background(), testBatch("a@example.com"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Accepted)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestSubmitBatchWholeBatchRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", 1)
	results, err := c.SubmitBatch(context.Background(), testBatch("a@example.com", "b@example.com"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Accepted)
		assert.Contains(t, r.Reason, "422")
	}
}

func TestSubmitBatchSizeLimit(t *testing.T) {
	c := NewClient("http://unused", "key", 1)
	b := Batch{}
	for i := 0; i <= DefaultBatchSize; i++ {
		b.Personalizations = append(b.Personalizations, Personalization{Email: "x@example.com"})
	}
	_, err := c.SubmitBatch(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds provider max")
}

func TestSubmitBatchEmptyIsNoop(t *testing.T) {
	c := NewClient("http://unused", "key", 1)
	results, err := c.SubmitBatch(context.Background(), Batch{})
	require.NoError(t, err)
	assert.Nil(t, results)
}
