package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hookpipe/hookpipe/internal/metrics"
	"github.com/hookpipe/hookpipe/internal/model"
	"github.com/hookpipe/hookpipe/internal/queue"
	"github.com/hookpipe/hookpipe/internal/repository"
	"github.com/hookpipe/hookpipe/internal/sender"
)

// Delivery:
// - fetches delivery messages from the queue,
// - performs the signed HTTP POST,
// - applies the retry/backoff state machine and persists each transition.
//
// The queue is at-least-once, so every step tolerates redelivery: terminal
// attempts are acked without a second HTTP call, and all store writes are
// version-checked compare-and-sets.
type Delivery struct {
	// Dependencies
	Consumer   queue.Consumer
	Producer   queue.Producer
	Webhooks   repository.WebhooksRepository
	Deliveries repository.DeliveriesRepository
	Sender     *sender.Sender
	Log        *zap.Logger

	// Behavior
	Workers           int  // number of goroutines processing messages
	RetryClientErrors bool // retry 4xx like any other failure (reference behavior)
}

// NewDelivery builds a worker with sane defaults.
func NewDelivery(
	consumer queue.Consumer,
	producer queue.Producer,
	webhooksRepo repository.WebhooksRepository,
	deliveriesRepo repository.DeliveriesRepository,
	snd *sender.Sender,
	log *zap.Logger,
) *Delivery {
	if log == nil {
		log = zap.NewNop()
	}
	return &Delivery{
		Consumer:          consumer,
		Producer:          producer,
		Webhooks:          webhooksRepo,
		Deliveries:        deliveriesRepo,
		Sender:            snd,
		Log:               log,
		Workers:           16,
		RetryClientErrors: true,
	}
}

type queued struct {
	msg   model.DeliveryMessage
	token string
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Delivery) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 16
	}

	msgCh := make(chan queued, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			msg, token, err := w.Consumer.Dequeue(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Error("queue dequeue failed", zap.Error(err))
				time.Sleep(200 * time.Millisecond)
				continue
			}
			msgCh <- queued{msg: msg, token: token}
		}
	}()

	// Start processors
	done := make(chan struct{}, w.Workers)
	for i := 0; i < w.Workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for q := range msgCh {
				w.ProcessOne(ctx, q.msg, q.token)
			}
		}()
	}

	<-ctx.Done()
	for i := 0; i < w.Workers; i++ {
		<-done
	}
	return nil
}

// ProcessOne runs the full state machine for one dequeued message. The
// message is acked unless a persistence step failed mid-way, in which case
// it is left in flight so the visibility timeout redelivers it.
func (w *Delivery) ProcessOne(ctx context.Context, m model.DeliveryMessage, token string) {
	if !w.processAttempt(ctx, m) {
		return
	}
	if err := w.Consumer.Ack(ctx, token); err != nil {
		w.Log.Error("queue ack failed", zap.String("attempt_id", m.AttemptID), zap.Error(err))
	}
}

func (w *Delivery) processAttempt(ctx context.Context, m model.DeliveryMessage) bool {
	log := w.Log.With(
		zap.String("attempt_id", m.AttemptID),
		zap.String("webhook_id", m.WebhookID),
		zap.String("event_type", m.EventType),
		zap.Int("attempt", m.Attempt),
	)

	att, err := w.Deliveries.Get(ctx, m.AttemptID)
	if err != nil {
		log.Error("load attempt failed", zap.Error(err))
		return false
	}
	if att == nil {
		log.Warn("attempt not found, dropping message")
		return true
	}
	// Redelivered message for a finished attempt: no-op, no HTTP call.
	if att.Status.Terminal() {
		return true
	}

	wh, err := w.Webhooks.GetByID(ctx, m.WebhookID)
	if err != nil {
		log.Error("load webhook failed", zap.Error(err))
		return false
	}
	// Deactivation prevents the retry, not the call already executing.
	if wh == nil || wh.Status != model.WebhookActive {
		if err := w.Deliveries.MarkFailed(ctx, att.ID, att.Version, "webhook inactive"); err != nil && !errors.Is(err, repository.ErrStaleAttempt) {
			log.Error("mark failed (inactive) failed", zap.Error(err))
			return false
		}
		metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
		log.Info("attempt failed: webhook inactive")
		return true
	}

	if err := w.Deliveries.MarkInFlight(ctx, att.ID, att.Version, m.Attempt); err != nil {
		if errors.Is(err, repository.ErrStaleAttempt) {
			// Another worker holds this attempt; let it finish.
			log.Warn("attempt already claimed, skipping")
			return true
		}
		log.Error("mark in_flight failed", zap.Error(err))
		return false
	}
	version := att.Version + 1

	res, derr := w.Sender.Deliver(ctx, wh, m.EventType, m.Payload, m.Secret)
	if derr == nil {
		metrics.DeliveryDuration.Observe(res.Duration.Seconds())
		if err := w.Deliveries.MarkDelivered(ctx, att.ID, version, res.StatusCode, res.Body); err != nil && !errors.Is(err, repository.ErrStaleAttempt) {
			log.Error("mark delivered failed", zap.Error(err))
			return false
		}
		metrics.DeliveriesTotal.WithLabelValues("delivered").Inc()
		log.Info("delivered", zap.Int("status", res.StatusCode))
		return true
	}

	retryable := w.RetryClientErrors || !errors.Is(derr, sender.ErrClientStatus)
	if retryable && m.Attempt < wh.Retry.MaxAttempts {
		delay := wh.Retry.NextDelay(m.Attempt)
		nextAt := time.Now().Add(delay)

		if err := w.Deliveries.MarkRetryScheduled(ctx, att.ID, version, derr.Error(), nextAt); err != nil && !errors.Is(err, repository.ErrStaleAttempt) {
			log.Error("mark retry_scheduled failed", zap.Error(err))
			return false
		}

		next := m
		next.Attempt = m.Attempt + 1
		if err := w.Producer.Enqueue(ctx, next, delay); err != nil {
			// Leave the message in flight: the visibility timeout will
			// redeliver it and the retry gets scheduled then.
			log.Error("re-enqueue failed", zap.Error(err))
			return false
		}

		metrics.DeliveriesTotal.WithLabelValues("retried").Inc()
		log.Info("retry scheduled", zap.Duration("delay", delay), zap.Error(derr))
		return true
	}

	if err := w.Deliveries.MarkFailed(ctx, att.ID, version, derr.Error()); err != nil && !errors.Is(err, repository.ErrStaleAttempt) {
		log.Error("mark failed failed", zap.Error(err))
		return false
	}
	metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
	log.Info("attempt failed", zap.Error(derr))
	return true
}
