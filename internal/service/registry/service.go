package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hookpipe/hookpipe/internal/model"
	"github.com/hookpipe/hookpipe/internal/repository"
	"github.com/hookpipe/hookpipe/internal/sender"
	"github.com/hookpipe/hookpipe/internal/util"
)

var (
	ErrNotFound   = errors.New("webhook not found")
	ErrValidation = errors.New("validation error")
)

// Service owns webhook subscriptions: CRUD, secret generation/rotation, and
// the synchronous test delivery. It never touches the delivery queue.
type Service struct {
	webhooks   repository.WebhooksRepository
	deliveries repository.DeliveriesRepository
	sender     *sender.Sender

	retryDefaults model.RetryConfig
}

func New(webhooks repository.WebhooksRepository, deliveries repository.DeliveriesRepository, snd *sender.Sender, retryDefaults model.RetryConfig) *Service {
	if !retryDefaults.Valid() {
		retryDefaults = model.DefaultRetryConfig()
	}
	return &Service{
		webhooks:      webhooks,
		deliveries:    deliveries,
		sender:        snd,
		retryDefaults: retryDefaults,
	}
}

// CreateSpec is the registration input. Secret and Retry are optional.
type CreateSpec struct {
	Name    string             `json:"name"`
	URL     string             `json:"url"`
	Events  []string           `json:"events"`
	Headers map[string]string  `json:"headers"`
	Secret  string             `json:"secret"`
	Retry   *model.RetryConfig `json:"retry_config"`
}

// Patch carries partial updates; nil fields are left untouched.
type Patch struct {
	Name    *string            `json:"name"`
	URL     *string            `json:"url"`
	Events  []string           `json:"events"`
	Headers map[string]string  `json:"headers"`
	Status  *string            `json:"status"`
	Retry   *model.RetryConfig `json:"retry_config"`
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: malformed url", ErrValidation)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) url", ErrValidation)
	}
	return nil
}

func normalizeEvents(events []string) ([]string, error) {
	out := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: events must be non-empty", ErrValidation)
	}
	return out, nil
}

// Create registers a webhook. A missing secret gets 256 bits of fresh entropy.
// The returned webhook carries the secret; callers must show it exactly once.
func (s *Service) Create(ctx context.Context, tenantID int64, spec CreateSpec) (*model.Webhook, error) {
	if err := validateURL(spec.URL); err != nil {
		return nil, err
	}
	events, err := normalizeEvents(spec.Events)
	if err != nil {
		return nil, err
	}

	retry := s.retryDefaults
	if spec.Retry != nil {
		if !spec.Retry.Valid() {
			return nil, fmt.Errorf("%w: invalid retry config", ErrValidation)
		}
		retry = *spec.Retry
	}

	secret := spec.Secret
	if secret == "" {
		secret = util.NewSecret()
	}

	wh := model.Webhook{
		ID:       util.New(),
		TenantID: tenantID,
		Name:     strings.TrimSpace(spec.Name),
		URL:      strings.TrimSpace(spec.URL),
		Events:   model.StringList(events),
		Secret:   secret,
		Status:   model.WebhookActive,
		Headers:  model.StringMap(spec.Headers),
		Retry:    retry,
	}
	if err := s.webhooks.Insert(ctx, wh); err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	return &wh, nil
}

// Get returns the webhook for the tenant, secret redacted.
func (s *Service) Get(ctx context.Context, tenantID int64, id string) (*model.Webhook, error) {
	wh, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	red := wh.Redacted()
	return &red, nil
}

func (s *Service) List(ctx context.Context, tenantID int64, status model.WebhookStatus, limit, offset int) ([]model.Webhook, error) {
	rows, err := s.webhooks.ListByTenant(ctx, tenantID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i] = rows[i].Redacted()
	}
	return rows, nil
}

// Update applies a partial patch and re-validates the result.
func (s *Service) Update(ctx context.Context, tenantID int64, id string, patch Patch) (*model.Webhook, error) {
	wh, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		wh.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.URL != nil {
		if err := validateURL(*patch.URL); err != nil {
			return nil, err
		}
		wh.URL = strings.TrimSpace(*patch.URL)
	}
	if patch.Events != nil {
		events, err := normalizeEvents(patch.Events)
		if err != nil {
			return nil, err
		}
		wh.Events = model.StringList(events)
	}
	if patch.Headers != nil {
		wh.Headers = model.StringMap(patch.Headers)
	}
	if patch.Status != nil {
		st, ok := model.ParseWebhookStatus(*patch.Status)
		if !ok {
			return nil, fmt.Errorf("%w: invalid status", ErrValidation)
		}
		wh.Status = st
	}
	if patch.Retry != nil {
		if !patch.Retry.Valid() {
			return nil, fmt.Errorf("%w: invalid retry config", ErrValidation)
		}
		wh.Retry = *patch.Retry
	}

	if err := s.webhooks.Update(ctx, *wh); err != nil {
		return nil, fmt.Errorf("update webhook: %w", err)
	}
	red := wh.Redacted()
	return &red, nil
}

func (s *Service) Delete(ctx context.Context, tenantID int64, id string) error {
	if _, err := s.load(ctx, tenantID, id); err != nil {
		return err
	}
	return s.webhooks.Delete(ctx, id)
}

// RotateSecret replaces the signing secret and returns the new value once.
// Attempts already queued keep their dispatch-time secret snapshot.
func (s *Service) RotateSecret(ctx context.Context, tenantID int64, id string) (string, error) {
	if _, err := s.load(ctx, tenantID, id); err != nil {
		return "", err
	}
	secret := util.NewSecret()
	if err := s.webhooks.UpdateSecret(ctx, id, secret); err != nil {
		return "", fmt.Errorf("rotate secret: %w", err)
	}
	return secret, nil
}

// TestResult is the immediate outcome of a synchronous test delivery.
type TestResult struct {
	AttemptID  string `json:"attempt_id"`
	Delivered  bool   `json:"delivered"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TestDelivery sends a synthetic signed event synchronously, bypassing the
// queue, and records the outcome as a terminal attempt for the audit trail.
func (s *Service) TestDelivery(ctx context.Context, tenantID int64, id string) (*TestResult, error) {
	wh, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	const eventType = "webhook.test"
	payload, _ := json.Marshal(map[string]any{
		"webhook_id": wh.ID,
		"ts":         time.Now().UTC().Format(time.RFC3339),
	})

	att := model.DeliveryAttempt{
		ID:        util.New(),
		WebhookID: wh.ID,
		TenantID:  wh.TenantID,
		EventType: eventType,
		Payload:   payload,
		Attempt:   1,
		Status:    model.DeliveryPending,
	}
	if err := s.deliveries.Insert(ctx, att); err != nil {
		return nil, fmt.Errorf("insert test attempt: %w", err)
	}
	if err := s.deliveries.MarkInFlight(ctx, att.ID, 0, 1); err != nil {
		return nil, fmt.Errorf("mark test attempt in_flight: %w", err)
	}

	out := &TestResult{AttemptID: att.ID}
	res, derr := s.sender.Deliver(ctx, wh, eventType, payload, wh.Secret)
	if derr != nil {
		out.Error = derr.Error()
		if err := s.deliveries.MarkFailed(ctx, att.ID, 1, derr.Error()); err != nil {
			return nil, fmt.Errorf("mark test attempt failed: %w", err)
		}
		return out, nil
	}

	out.Delivered = true
	out.StatusCode = res.StatusCode
	if err := s.deliveries.MarkDelivered(ctx, att.ID, 1, res.StatusCode, res.Body); err != nil {
		return nil, fmt.Errorf("mark test attempt delivered: %w", err)
	}
	return out, nil
}

// Logs returns the webhook's delivery history, newest first.
func (s *Service) Logs(ctx context.Context, tenantID int64, id string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryAttempt, error) {
	if _, err := s.load(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.deliveries.ListByWebhook(ctx, id, status, limit, offset)
}

// load fetches by id and enforces tenant ownership.
func (s *Service) load(ctx context.Context, tenantID int64, id string) (*model.Webhook, error) {
	wh, err := s.webhooks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wh == nil || wh.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return wh, nil
}
