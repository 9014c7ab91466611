package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hookpipe/hookpipe/internal/model"
)

// ErrEmpty is returned by a single poll when no message is due.
var ErrEmpty = errors.New("queue: no message due")

// Producer enqueues delivery-attempt messages, optionally delayed.
type Producer interface {
	Enqueue(ctx context.Context, msg model.DeliveryMessage, delay time.Duration) error
}

// Consumer dequeues with single-consumer visibility. A dequeued message that
// is not acked before the visibility timeout becomes due again (at-least-once).
type Consumer interface {
	// Dequeue blocks until a message is due or ctx is done.
	Dequeue(ctx context.Context) (model.DeliveryMessage, string, error)
	// Ack removes a previously dequeued message using its token.
	Ack(ctx context.Context, token string) error
}
