package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookpipe/hookpipe/internal/model"
	"github.com/hookpipe/hookpipe/internal/sender"
)

type memWebhooks struct {
	mu    sync.Mutex
	hooks map[string]model.Webhook
}

func newMemWebhooks() *memWebhooks {
	return &memWebhooks{hooks: map[string]model.Webhook{}}
}

func (m *memWebhooks) Insert(ctx context.Context, w model.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[w.ID] = w
	return nil
}

func (m *memWebhooks) Update(ctx context.Context, w model.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.hooks[w.ID]; ok {
		w.Secret = cur.Secret // updates never touch the secret
		m.hooks[w.ID] = w
	}
	return nil
}

func (m *memWebhooks) UpdateSecret(ctx context.Context, id, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok {
		return nil
	}
	w.Secret = secret
	m.hooks[id] = w
	return nil
}

func (m *memWebhooks) UpdateStatus(ctx context.Context, id string, status model.WebhookStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.hooks[id]; ok {
		w.Status = status
		m.hooks[id] = w
	}
	return nil
}

func (m *memWebhooks) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hooks, id)
	return nil
}

func (m *memWebhooks) GetByID(ctx context.Context, id string) (*model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *memWebhooks) ListByTenant(ctx context.Context, tenantID int64, status model.WebhookStatus, limit, offset int) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Webhook
	for _, w := range m.hooks {
		if w.TenantID != tenantID {
			continue
		}
		if status != "" && w.Status != status {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (m *memWebhooks) ListActiveByEvent(ctx context.Context, tenantID int64, eventType string) ([]model.Webhook, error) {
	return nil, nil
}

type memDeliveries struct {
	mu       sync.Mutex
	attempts map[string]model.DeliveryAttempt
}

func newMemDeliveries() *memDeliveries {
	return &memDeliveries{attempts: map[string]model.DeliveryAttempt{}}
}

func (m *memDeliveries) Insert(ctx context.Context, a model.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = a
	return nil
}

func (m *memDeliveries) Get(ctx context.Context, id string) (*model.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memDeliveries) ListByWebhook(ctx context.Context, webhookID string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DeliveryAttempt
	for _, a := range m.attempts {
		if a.WebhookID == webhookID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memDeliveries) set(id string, mut func(*model.DeliveryAttempt)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil
	}
	mut(&a)
	a.Version++
	m.attempts[id] = a
	return nil
}

func (m *memDeliveries) MarkInFlight(ctx context.Context, id string, version int64, attempt int) error {
	return m.set(id, func(a *model.DeliveryAttempt) { a.Status = model.DeliveryInFlight })
}

func (m *memDeliveries) MarkDelivered(ctx context.Context, id string, version int64, responseCode int, responseBody string) error {
	return m.set(id, func(a *model.DeliveryAttempt) { a.Status = model.DeliveryDelivered })
}

func (m *memDeliveries) MarkRetryScheduled(ctx context.Context, id string, version int64, lastError string, nextAttemptAt time.Time) error {
	return m.set(id, func(a *model.DeliveryAttempt) { a.Status = model.DeliveryRetryScheduled })
}

func (m *memDeliveries) MarkFailed(ctx context.Context, id string, version int64, lastError string) error {
	return m.set(id, func(a *model.DeliveryAttempt) { a.Status = model.DeliveryFailed })
}

func newTestService() (*Service, *memWebhooks, *memDeliveries) {
	hooks := newMemWebhooks()
	dels := newMemDeliveries()
	return New(hooks, dels, sender.New(1000, 100, 30000), model.DefaultRetryConfig()), hooks, dels
}

func TestCreateGeneratesSecretAndDefaults(t *testing.T) {
	svc, _, _ := newTestService()

	wh, err := svc.Create(context.Background(), 7, CreateSpec{
		Name:   "orders",
		URL:    "https://example.com/hook",
		Events: []string{"order.created", " order.created ", "order.updated", ""},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, wh.ID)
	assert.Len(t, wh.Secret, 64) // 32 random bytes, hex
	assert.Equal(t, model.WebhookActive, wh.Status)
	assert.Equal(t, model.StringList{"order.created", "order.updated"}, wh.Events)
	assert.Equal(t, model.DefaultRetryConfig(), wh.Retry)
}

func TestCreateKeepsCallerSecretAndRetry(t *testing.T) {
	svc, _, _ := newTestService()

	retry := model.RetryConfig{MaxAttempts: 5, BaseDelayMs: 100, BackoffRate: 3}
	wh, err := svc.Create(context.Background(), 7, CreateSpec{
		URL:    "https://example.com/hook",
		Events: []string{"x"},
		Secret: "caller-secret",
		Retry:  &retry,
	})
	require.NoError(t, err)
	assert.Equal(t, "caller-secret", wh.Secret)
	assert.Equal(t, retry, wh.Retry)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, 7, CreateSpec{URL: "ftp://example.com", Events: []string{"x"}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, 7, CreateSpec{URL: "not a url", Events: []string{"x"}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, 7, CreateSpec{URL: "https://example.com", Events: []string{" ", ""}})
	assert.ErrorIs(t, err, ErrValidation)

	bad := model.RetryConfig{MaxAttempts: 0}
	_, err = svc.Create(ctx, 7, CreateSpec{URL: "https://example.com", Events: []string{"x"}, Retry: &bad})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetRedactsSecretAndEnforcesTenant(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, 7, CreateSpec{URL: "https://example.com", Events: []string{"x"}})
	require.NoError(t, err)

	got, err := svc.Get(ctx, 7, created.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Secret)

	_, err = svc.Get(ctx, 8, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get(ctx, 7, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePartialPatch(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, 7, CreateSpec{Name: "before", URL: "https://example.com", Events: []string{"x"}})
	require.NoError(t, err)

	name := "after"
	status := "inactive"
	got, err := svc.Update(ctx, 7, created.ID, Patch{Name: &name, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, model.WebhookInactive, got.Status)
	assert.Equal(t, "https://example.com", got.URL)
	assert.Empty(t, got.Secret)

	bad := "nope"
	_, err = svc.Update(ctx, 7, created.ID, Patch{Status: &bad})
	assert.ErrorIs(t, err, ErrValidation)

	badURL := "://"
	_, err = svc.Update(ctx, 7, created.ID, Patch{URL: &badURL})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDelete(t *testing.T) {
	svc, hooks, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, 7, CreateSpec{URL: "https://example.com", Events: []string{"x"}})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, 7, created.ID))
	assert.Empty(t, hooks.hooks)

	assert.ErrorIs(t, svc.Delete(ctx, 7, created.ID), ErrNotFound)
}

func TestRotateSecret(t *testing.T) {
	svc, hooks, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, 7, CreateSpec{URL: "https://example.com", Events: []string{"x"}})
	require.NoError(t, err)
	old := created.Secret

	rotated, err := svc.RotateSecret(ctx, 7, created.ID)
	require.NoError(t, err)
	assert.Len(t, rotated, 64)
	assert.NotEqual(t, old, rotated)
	assert.Equal(t, rotated, hooks.hooks[created.ID].Secret)

	_, err = svc.RotateSecret(ctx, 8, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTestDeliverySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Webhook-Signature"))
		assert.Equal(t, "webhook.test", r.Header.Get("X-Webhook-Event"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, _, dels := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, 7, CreateSpec{URL: srv.URL, Events: []string{"x"}})
	require.NoError(t, err)

	res, err := svc.TestDelivery(ctx, 7, created.ID)
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Error)

	att, _ := dels.Get(ctx, res.AttemptID)
	require.NotNil(t, att)
	assert.Equal(t, model.DeliveryDelivered, att.Status)
	assert.Equal(t, "webhook.test", att.EventType)
}

func TestTestDeliveryFailureIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusBadGateway)
	}))
	defer srv.Close()

	svc, _, dels := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, 7, CreateSpec{URL: srv.URL, Events: []string{"x"}})
	require.NoError(t, err)

	res, err := svc.TestDelivery(ctx, 7, created.ID)
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Contains(t, res.Error, "status=502")

	att, _ := dels.Get(ctx, res.AttemptID)
	require.NotNil(t, att)
	assert.Equal(t, model.DeliveryFailed, att.Status)
}
