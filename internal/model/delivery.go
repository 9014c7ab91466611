package model

import (
	"database/sql"
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending        DeliveryStatus = "pending"
	DeliveryInFlight       DeliveryStatus = "in_flight"
	DeliveryDelivered      DeliveryStatus = "delivered"
	DeliveryRetryScheduled DeliveryStatus = "retry_scheduled"
	DeliveryFailed         DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliveryInFlight, DeliveryDelivered, DeliveryRetryScheduled, DeliveryFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions may occur.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// DeliveryAttempt is one event x webhook pairing persisted in delivery_attempts.
// Version backs the optimistic compare-and-set on every transition.
type DeliveryAttempt struct {
	ID            string          `db:"id" json:"id"`
	WebhookID     string          `db:"webhook_id" json:"webhook_id"`
	TenantID      int64           `db:"tenant_id" json:"tenant_id"`
	EventType     string          `db:"event_type" json:"event_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Attempt       int             `db:"attempt" json:"attempt"`
	Status        DeliveryStatus  `db:"status" json:"status"`
	LastError     sql.NullString  `db:"last_error" json:"last_error,omitempty"`
	ResponseCode  sql.NullInt64   `db:"response_code" json:"response_code,omitempty"`
	ResponseBody  sql.NullString  `db:"response_body" json:"response_body,omitempty"`
	Version       int64           `db:"version" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	DeliveredAt   sql.NullTime    `db:"delivered_at" json:"delivered_at,omitempty"`
	NextAttemptAt sql.NullTime    `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
}
