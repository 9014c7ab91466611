package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/hookpipe/hookpipe/internal/metrics"
	"github.com/hookpipe/hookpipe/internal/model"
	"github.com/hookpipe/hookpipe/internal/queue"
	"github.com/hookpipe/hookpipe/internal/repository"
	"github.com/hookpipe/hookpipe/internal/util"
)

// Dispatcher fans a domain event out to the tenant's matching webhooks:
// one pending DeliveryAttempt plus one queue message per subscription.
type Dispatcher struct {
	Webhooks   repository.WebhooksRepository
	Deliveries repository.DeliveriesRepository
	Queue      queue.Producer
	Log        *zap.Logger
}

func New(webhooks repository.WebhooksRepository, deliveries repository.DeliveriesRepository, q queue.Producer, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{Webhooks: webhooks, Deliveries: deliveries, Queue: q, Log: log}
}

// Dispatch is fire-and-forget from the producer's perspective: a failure to
// enqueue for one webhook never blocks the others. Returns how many attempts
// were enqueued; the error covers only the subscription lookup.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID int64, eventType string, payload json.RawMessage) (int, error) {
	hooks, err := d.Webhooks.ListActiveByEvent(ctx, tenantID, eventType)
	if err != nil {
		return 0, fmt.Errorf("list webhooks for event: %w", err)
	}

	enqueued := 0
	for i := range hooks {
		wh := &hooks[i]
		if err := d.dispatchOne(ctx, wh, eventType, payload); err != nil {
			d.Log.Warn("dispatch skipped webhook",
				zap.String("webhook_id", wh.ID),
				zap.String("event_type", eventType),
				zap.Error(err))
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, wh *model.Webhook, eventType string, payload json.RawMessage) error {
	att := model.DeliveryAttempt{
		ID:        util.New(),
		WebhookID: wh.ID,
		TenantID:  wh.TenantID,
		EventType: eventType,
		Payload:   payload,
		Attempt:   1,
		Status:    model.DeliveryPending,
	}
	if err := d.Deliveries.Insert(ctx, att); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	msg := model.DeliveryMessage{
		AttemptID: att.ID,
		WebhookID: wh.ID,
		TenantID:  wh.TenantID,
		EventType: eventType,
		Payload:   payload,
		Attempt:   1,
		Secret:    wh.Secret, // snapshot: rotation must not invalidate in-flight attempts
	}
	if err := d.Queue.Enqueue(ctx, msg, 0); err != nil {
		return fmt.Errorf("enqueue attempt: %w", err)
	}

	metrics.DeliveriesTotal.WithLabelValues("enqueued").Inc()
	return nil
}
