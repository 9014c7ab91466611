package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hookpipe/hookpipe/internal/model"
)

// RedisQueue is a delayed, at-least-once delivery queue on two sorted sets:
//   <prefix>:sched    members scored by due time (ms)
//   <prefix>:inflight members scored by visibility deadline (ms)
// A Lua pop atomically moves one due member from sched to inflight, so each
// message is visible to a single consumer until acked or the deadline passes.
type RedisQueue struct {
	rdb *redis.Client

	schedKey    string
	inflightKey string

	PollInterval      time.Duration
	VisibilityTimeout time.Duration
}

type RedisQueueOpts struct {
	KeyPrefix         string        // default "hookpipe:delivery"
	PollInterval      time.Duration // default 250ms
	VisibilityTimeout time.Duration // default 30s
}

func NewRedisQueue(rdb *redis.Client, opts RedisQueueOpts) *RedisQueue {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "hookpipe:delivery"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	vis := opts.VisibilityTimeout
	if vis <= 0 {
		vis = 30 * time.Second
	}
	return &RedisQueue{
		rdb:               rdb,
		schedKey:          prefix + ":sched",
		inflightKey:       prefix + ":inflight",
		PollInterval:      poll,
		VisibilityTimeout: vis,
	}
}

var popScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then return false end
redis.call('ZREM', KEYS[1], due[1])
redis.call('ZADD', KEYS[2], ARGV[2], due[1])
return due[1]
`)

var reclaimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, m in ipairs(expired) do
	redis.call('ZREM', KEYS[2], m)
	redis.call('ZADD', KEYS[1], ARGV[1], m)
end
return #expired
`)

// Enqueue schedules msg to become visible after delay.
func (q *RedisQueue) Enqueue(ctx context.Context, msg model.DeliveryMessage, delay time.Duration) error {
	member, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal delivery message: %w", err)
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.schedKey, redis.Z{Score: due, Member: string(member)}).Err(); err != nil {
		return fmt.Errorf("zadd sched: %w", err)
	}
	return nil
}

// PollOnce attempts a single non-blocking dequeue. Returns ErrEmpty when
// nothing is due. The returned token must be passed to Ack.
func (q *RedisQueue) PollOnce(ctx context.Context) (model.DeliveryMessage, string, error) {
	now := time.Now().UnixMilli()

	// Return timed-out in-flight messages to the scheduled set first.
	if err := reclaimScript.Run(ctx, q.rdb, []string{q.schedKey, q.inflightKey}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return model.DeliveryMessage{}, "", fmt.Errorf("reclaim inflight: %w", err)
	}

	deadline := now + q.VisibilityTimeout.Milliseconds()
	raw, err := popScript.Run(ctx, q.rdb, []string{q.schedKey, q.inflightKey}, now, deadline).Text()
	if errors.Is(err, redis.Nil) {
		return model.DeliveryMessage{}, "", ErrEmpty
	}
	if err != nil {
		return model.DeliveryMessage{}, "", fmt.Errorf("pop sched: %w", err)
	}

	var msg model.DeliveryMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		// Poison member: drop it from inflight so it cannot loop forever.
		_ = q.rdb.ZRem(ctx, q.inflightKey, raw).Err()
		return model.DeliveryMessage{}, "", fmt.Errorf("unmarshal delivery message: %w", err)
	}
	return msg, raw, nil
}

// Dequeue blocks until a message is due or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (model.DeliveryMessage, string, error) {
	for {
		msg, token, err := q.PollOnce(ctx)
		if err == nil {
			return msg, token, nil
		}
		if !errors.Is(err, ErrEmpty) {
			return model.DeliveryMessage{}, "", err
		}

		select {
		case <-ctx.Done():
			return model.DeliveryMessage{}, "", ctx.Err()
		case <-time.After(q.PollInterval):
		}
	}
}

// Ack removes an in-flight message; acking twice is harmless.
func (q *RedisQueue) Ack(ctx context.Context, token string) error {
	return q.rdb.ZRem(ctx, q.inflightKey, token).Err()
}

// Depth returns the number of scheduled (not yet visible or due) messages.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.schedKey).Result()
}

var _ Producer = (*RedisQueue)(nil)
var _ Consumer = (*RedisQueue)(nil)
