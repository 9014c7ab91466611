package sender

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookpipe/hookpipe/internal/model"
	"github.com/hookpipe/hookpipe/internal/signer"
)

func testWebhook(url string) *model.Webhook {
	return &model.Webhook{
		ID:      "01J000000000000000000000WH",
		URL:     url,
		Status:  model.WebhookActive,
		Headers: model.StringMap{"X-Custom": "yes"},
		Retry:   model.DefaultRetryConfig(),
	}
}

func TestDeliverSuccess(t *testing.T) {
	payload := json.RawMessage(`{"order_id":"o_1","total":42}`)

	var gotReq *http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	s := New(1000, 5, 30000)
	res, err := s.Deliver(context.Background(), testWebhook(srv.URL), "order.created", payload, "s3cret")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", res.Body)
	assert.Greater(t, res.Duration, time.Duration(0))

	require.NotNil(t, gotReq)
	assert.Equal(t, "application/json", gotReq.Header.Get("Content-Type"))
	assert.Equal(t, "order.created", gotReq.Header.Get("X-Webhook-Event"))
	assert.Equal(t, "yes", gotReq.Header.Get("X-Custom"))

	// signature header verifies against the payload
	sig := gotReq.Header.Get("X-Webhook-Signature")
	assert.True(t, signer.Verify(sig, payload, "s3cret"))

	var body struct {
		Event     string          `json:"event"`
		Payload   json.RawMessage `json:"payload"`
		Signature string          `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, "order.created", body.Event)
	assert.Equal(t, sig, body.Signature)
	assert.JSONEq(t, string(payload), string(body.Payload))
}

func TestDeliverClientErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := New(1000, 5, 30000)
	_, err := s.Deliver(context.Background(), testWebhook(srv.URL), "order.created", json.RawMessage(`{}`), "k")
	require.ErrorIs(t, err, ErrClientStatus)
	assert.Contains(t, err.Error(), "status=400")
}

func TestDeliverServerErrorIsNotClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(1000, 5, 30000)
	_, err := s.Deliver(context.Background(), testWebhook(srv.URL), "order.created", json.RawMessage(`{}`), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrClientStatus)
}

func TestDeliverTruncatesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 10_000)))
	}))
	defer srv.Close()

	s := New(1000, 5, 30000)
	res, err := s.Deliver(context.Background(), testWebhook(srv.URL), "e", json.RawMessage(`{}`), "k")
	require.NoError(t, err)
	assert.Len(t, res.Body, responseBodyLimit)
}

func TestDeliverOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(1000, 2, 60_000)
	wh := testWebhook(srv.URL)

	for i := 0; i < 2; i++ {
		_, err := s.Deliver(context.Background(), wh, "e", json.RawMessage(`{}`), "k")
		require.Error(t, err)
	}
	assert.Equal(t, 2, hits)

	// third attempt fails fast without reaching the endpoint
	_, err := s.Deliver(context.Background(), wh, "e", json.RawMessage(`{}`), "k")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, hits)

	// a different webhook has its own breaker
	other := testWebhook(srv.URL)
	other.ID = "01J000000000000000000000W2"
	_, err = s.Deliver(context.Background(), other, "e", json.RawMessage(`{}`), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
}

func TestDeliverRejectsInvalidPayload(t *testing.T) {
	s := New(1000, 5, 30000)
	_, err := s.Deliver(context.Background(), testWebhook("http://127.0.0.1:1"), "e", json.RawMessage(`{"a":`), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign payload")
}
