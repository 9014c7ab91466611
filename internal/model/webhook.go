package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

type WebhookStatus string

const (
	WebhookActive   WebhookStatus = "active"
	WebhookInactive WebhookStatus = "inactive"
	WebhookFailed   WebhookStatus = "failed"
)

func (s WebhookStatus) String() string { return string(s) }

func (s WebhookStatus) Valid() bool {
	return s == WebhookActive || s == WebhookInactive || s == WebhookFailed
}

// ParseWebhookStatus normalizes input; empty => active.
// Returns (value, true) if valid; otherwise (active, false).
func ParseWebhookStatus(s string) (WebhookStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "active":
		return WebhookActive, true
	case "inactive":
		return WebhookInactive, true
	case "failed":
		return WebhookFailed, true
	default:
		return WebhookActive, false
	}
}

// RetryConfig is the per-webhook retry/backoff policy.
type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts"`
	BaseDelayMs int64   `json:"base_delay_ms"`
	BackoffRate float64 `json:"backoff_rate"`
}

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelayMs = 5000
	DefaultBackoffRate = 2.0
)

// DefaultRetryConfig returns the reference policy: 3 attempts, 5s base, x2 backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelayMs: DefaultBaseDelayMs,
		BackoffRate: DefaultBackoffRate,
	}
}

// NextDelay computes the wait before the retry that follows `attempt`
// (1-based): baseDelay * rate^(attempt-1).
func (rc RetryConfig) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ms := float64(rc.BaseDelayMs) * math.Pow(rc.BackoffRate, float64(attempt-1))
	return time.Duration(ms) * time.Millisecond
}

func (rc RetryConfig) Valid() bool {
	return rc.MaxAttempts >= 1 && rc.BaseDelayMs >= 0 && rc.BackoffRate >= 1
}

// StringList is a []string stored as a JSON column.
type StringList []string

func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src any) error {
	return scanJSON(src, l)
}

// StringMap is a map[string]string stored as a JSON column.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		m = StringMap{}
	}
	return json.Marshal(m)
}

func (m *StringMap) Scan(src any) error {
	return scanJSON(src, m)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
}

// Webhook is a tenant-owned subscription persisted in the webhooks table.
// Secret is write-only on the wire: returned once at creation/rotation, never on reads.
type Webhook struct {
	ID        string        `db:"id" json:"id"`
	TenantID  int64         `db:"tenant_id" json:"tenant_id"`
	Name      string        `db:"name" json:"name"`
	URL       string        `db:"url" json:"url"`
	Events    StringList    `db:"events" json:"events"`
	Secret    string        `db:"secret" json:"secret,omitempty"`
	Status    WebhookStatus `db:"status" json:"status"`
	Headers   StringMap     `db:"headers" json:"headers,omitempty"`
	Retry     RetryConfig   `db:"-" json:"retry_config"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`

	// Flattened retry columns (see migrations/001_init.sql).
	RetryMaxAttempts int     `db:"retry_max_attempts" json:"-"`
	RetryBaseDelayMs int64   `db:"retry_base_delay_ms" json:"-"`
	RetryBackoffRate float64 `db:"retry_backoff_rate" json:"-"`
}

// SyncRetry copies the flattened DB columns into Retry after a scan.
func (w *Webhook) SyncRetry() {
	w.Retry = RetryConfig{
		MaxAttempts: w.RetryMaxAttempts,
		BaseDelayMs: w.RetryBaseDelayMs,
		BackoffRate: w.RetryBackoffRate,
	}
}

// Redacted returns a copy safe to return from read endpoints.
func (w Webhook) Redacted() Webhook {
	w.Secret = ""
	return w
}
