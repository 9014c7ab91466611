package model

import "encoding/json"

// EventEnvelope is the domain-event payload consumed from Kafka (or POST /v1/events).
type EventEnvelope struct {
	TenantID int64           `json:"tenant_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// DeliveryMessage is one delivery-attempt unit carried on the delivery queue.
// Secret is snapshotted at dispatch time so a later rotation never invalidates
// attempts already in flight; retries re-enqueue the same snapshot.
type DeliveryMessage struct {
	AttemptID string          `json:"attempt_id"`
	WebhookID string          `json:"webhook_id"`
	TenantID  int64           `json:"tenant_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	Secret    string          `json:"secret"`
}
