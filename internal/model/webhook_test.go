package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelaySchedule(t *testing.T) {
	rc := DefaultRetryConfig()

	// base 5000ms doubling per attempt
	assert.Equal(t, 5*time.Second, rc.NextDelay(1))
	assert.Equal(t, 10*time.Second, rc.NextDelay(2))
	assert.Equal(t, 20*time.Second, rc.NextDelay(3))

	// out-of-range attempt clamps to the base delay
	assert.Equal(t, 5*time.Second, rc.NextDelay(0))
	assert.Equal(t, 5*time.Second, rc.NextDelay(-3))
}

func TestNextDelayCustomRate(t *testing.T) {
	rc := RetryConfig{MaxAttempts: 5, BaseDelayMs: 100, BackoffRate: 3}

	assert.Equal(t, 100*time.Millisecond, rc.NextDelay(1))
	assert.Equal(t, 300*time.Millisecond, rc.NextDelay(2))
	assert.Equal(t, 900*time.Millisecond, rc.NextDelay(3))
}

func TestRetryConfigValid(t *testing.T) {
	assert.True(t, DefaultRetryConfig().Valid())
	assert.False(t, RetryConfig{MaxAttempts: 0, BaseDelayMs: 100, BackoffRate: 2}.Valid())
	assert.False(t, RetryConfig{MaxAttempts: 3, BaseDelayMs: -1, BackoffRate: 2}.Valid())
	assert.False(t, RetryConfig{MaxAttempts: 3, BaseDelayMs: 100, BackoffRate: 0.5}.Valid())
}

func TestParseWebhookStatus(t *testing.T) {
	for in, want := range map[string]WebhookStatus{
		"":          WebhookActive,
		"active":    WebhookActive,
		" Inactive": WebhookInactive,
		"FAILED":    WebhookFailed,
	} {
		got, ok := ParseWebhookStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseWebhookStatus("deleted")
	assert.False(t, ok)
}

func TestDeliveryStatusTerminal(t *testing.T) {
	assert.True(t, DeliveryDelivered.Terminal())
	assert.True(t, DeliveryFailed.Terminal())
	assert.False(t, DeliveryPending.Terminal())
	assert.False(t, DeliveryInFlight.Terminal())
	assert.False(t, DeliveryRetryScheduled.Terminal())
}

func TestStringListScanValue(t *testing.T) {
	l := StringList{"a.created", "a.deleted"}
	v, err := l.Value()
	assert.NoError(t, err)

	var back StringList
	assert.NoError(t, back.Scan(v))
	assert.Equal(t, l, back)
	assert.True(t, back.Contains("a.created"))
	assert.False(t, back.Contains("b.created"))
}

func TestWebhookSyncRetryAndRedacted(t *testing.T) {
	w := Webhook{
		Secret:           "hush",
		RetryMaxAttempts: 4,
		RetryBaseDelayMs: 250,
		RetryBackoffRate: 1.5,
	}
	w.SyncRetry()
	assert.Equal(t, RetryConfig{MaxAttempts: 4, BaseDelayMs: 250, BackoffRate: 1.5}, w.Retry)

	r := w.Redacted()
	assert.Empty(t, r.Secret)
	assert.Equal(t, "hush", w.Secret)
}
