package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookpipe/hookpipe/internal/model"
)

type stubWebhooks struct {
	hooks []model.Webhook
	err   error
}

func (s *stubWebhooks) Insert(ctx context.Context, w model.Webhook) error             { return nil }
func (s *stubWebhooks) Update(ctx context.Context, w model.Webhook) error             { return nil }
func (s *stubWebhooks) UpdateSecret(ctx context.Context, id, secret string) error     { return nil }
func (s *stubWebhooks) UpdateStatus(ctx context.Context, id string, st model.WebhookStatus) error {
	return nil
}
func (s *stubWebhooks) Delete(ctx context.Context, id string) error { return nil }
func (s *stubWebhooks) GetByID(ctx context.Context, id string) (*model.Webhook, error) {
	return nil, nil
}
func (s *stubWebhooks) ListByTenant(ctx context.Context, tenantID int64, status model.WebhookStatus, limit, offset int) ([]model.Webhook, error) {
	return nil, nil
}
func (s *stubWebhooks) ListActiveByEvent(ctx context.Context, tenantID int64, eventType string) ([]model.Webhook, error) {
	return s.hooks, s.err
}

type recordingDeliveries struct {
	mu       sync.Mutex
	inserted []model.DeliveryAttempt
	failFor  string // webhook ID whose insert fails
}

func (r *recordingDeliveries) Insert(ctx context.Context, a model.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor != "" && a.WebhookID == r.failFor {
		return errors.New("insert failed")
	}
	r.inserted = append(r.inserted, a)
	return nil
}

func (r *recordingDeliveries) Get(ctx context.Context, id string) (*model.DeliveryAttempt, error) {
	return nil, nil
}
func (r *recordingDeliveries) ListByWebhook(ctx context.Context, webhookID string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryAttempt, error) {
	return nil, nil
}
func (r *recordingDeliveries) MarkInFlight(ctx context.Context, id string, version int64, attempt int) error {
	return nil
}
func (r *recordingDeliveries) MarkDelivered(ctx context.Context, id string, version int64, responseCode int, responseBody string) error {
	return nil
}
func (r *recordingDeliveries) MarkRetryScheduled(ctx context.Context, id string, version int64, lastError string, nextAttemptAt time.Time) error {
	return nil
}
func (r *recordingDeliveries) MarkFailed(ctx context.Context, id string, version int64, lastError string) error {
	return nil
}

type recordingQueue struct {
	mu       sync.Mutex
	messages []model.DeliveryMessage
	delays   []time.Duration
	failFor  string // webhook ID whose enqueue fails
}

func (q *recordingQueue) Enqueue(ctx context.Context, msg model.DeliveryMessage, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failFor != "" && msg.WebhookID == q.failFor {
		return errors.New("enqueue failed")
	}
	q.messages = append(q.messages, msg)
	q.delays = append(q.delays, delay)
	return nil
}

func hook(id, secret string) model.Webhook {
	return model.Webhook{
		ID:       id,
		TenantID: 7,
		URL:      "https://example.com/" + id,
		Events:   model.StringList{"order.created"},
		Secret:   secret,
		Status:   model.WebhookActive,
		Retry:    model.DefaultRetryConfig(),
	}
}

func TestDispatchFansOutToAllSubscribers(t *testing.T) {
	hooks := &stubWebhooks{hooks: []model.Webhook{hook("wh-1", "k1"), hook("wh-2", "k2")}}
	dels := &recordingDeliveries{}
	q := &recordingQueue{}
	d := New(hooks, dels, q, nil)

	payload := json.RawMessage(`{"order_id":"o_1"}`)
	n, err := d.Dispatch(context.Background(), 7, "order.created", payload)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, dels.inserted, 2)
	require.Len(t, q.messages, 2)

	for i, a := range dels.inserted {
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, int64(7), a.TenantID)
		assert.Equal(t, "order.created", a.EventType)
		assert.Equal(t, 1, a.Attempt)
		assert.Equal(t, model.DeliveryPending, a.Status)

		m := q.messages[i]
		assert.Equal(t, a.ID, m.AttemptID)
		assert.Equal(t, a.WebhookID, m.WebhookID)
		assert.Equal(t, 1, m.Attempt)
		assert.Equal(t, time.Duration(0), q.delays[i])
	}

	// secret snapshot travels with the message
	assert.Equal(t, "k1", q.messages[0].Secret)
	assert.Equal(t, "k2", q.messages[1].Secret)
}

func TestDispatchNoSubscribers(t *testing.T) {
	d := New(&stubWebhooks{}, &recordingDeliveries{}, &recordingQueue{}, nil)

	n, err := d.Dispatch(context.Background(), 7, "order.created", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatchLookupErrorPropagates(t *testing.T) {
	d := New(&stubWebhooks{err: errors.New("db down")}, &recordingDeliveries{}, &recordingQueue{}, nil)

	_, err := d.Dispatch(context.Background(), 7, "order.created", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestDispatchOneFailureDoesNotBlockOthers(t *testing.T) {
	hooks := &stubWebhooks{hooks: []model.Webhook{hook("wh-1", "k1"), hook("wh-2", "k2"), hook("wh-3", "k3")}}
	dels := &recordingDeliveries{failFor: "wh-2"}
	q := &recordingQueue{}
	d := New(hooks, dels, q, nil)

	n, err := d.Dispatch(context.Background(), 7, "order.created", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var ids []string
	for _, m := range q.messages {
		ids = append(ids, m.WebhookID)
	}
	assert.Equal(t, []string{"wh-1", "wh-3"}, ids)
}

func TestDispatchEnqueueFailureCountsAsSkipped(t *testing.T) {
	hooks := &stubWebhooks{hooks: []model.Webhook{hook("wh-1", "k1"), hook("wh-2", "k2")}}
	dels := &recordingDeliveries{}
	q := &recordingQueue{failFor: "wh-1"}
	d := New(hooks, dels, q, nil)

	n, err := d.Dispatch(context.Background(), 7, "order.created", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, q.messages, 1)
	assert.Equal(t, "wh-2", q.messages[0].WebhookID)
}
