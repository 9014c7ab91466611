package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hookpipe/hookpipe/internal/model"
)

// ErrBadEvent marks messages that fetched fine but do not decode into a
// usable envelope. They are safe to commit and drop.
var ErrBadEvent = errors.New("bad event")

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // default 1s (0 = sync each msg)
	MaxWait        time.Duration // default 50ms
}

// Consumer reads domain event envelopes from a Kafka topic. It is a thin
// wrapper around segmentio/kafka-go Reader with manual commit, so an event
// is only committed after the dispatcher has fanned it out.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumerFromConfig(c Config) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}
	ci := c.CommitInterval
	if ci <= 0 {
		ci = time.Second
	}

	mw := c.MaxWait
	if mw <= 0 {
		mw = 50 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: ci,
		MaxWait:        mw,
	})

	return &Consumer{r: r}
}

type Message = kafka.Message

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

// FetchEvent fetches the next message and decodes it as an event envelope.
// A decode or validation failure returns the raw message with a non-nil
// error; the caller decides whether to commit (drop) or halt.
func (c *Consumer) FetchEvent(ctx context.Context) (model.EventEnvelope, Message, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		return model.EventEnvelope{}, m, err
	}

	var env model.EventEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return model.EventEnvelope{}, m, fmt.Errorf("decode event at offset %d: %v: %w", m.Offset, err, ErrBadEvent)
	}
	if env.TenantID == 0 || env.Type == "" {
		return model.EventEnvelope{}, m, fmt.Errorf("incomplete event at offset %d: tenant_id=%d type=%q: %w", m.Offset, env.TenantID, env.Type, ErrBadEvent)
	}
	return env, m, nil
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
