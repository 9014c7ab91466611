package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hookpipe/hookpipe/internal/model"
)

// CHDeliveryRow is the flattened analytics row replicated into ClickHouse.
type CHDeliveryRow struct {
	ID           string    `db:"id"`
	WebhookID    string    `db:"webhook_id"`
	TenantID     int64     `db:"tenant_id"`
	EventType    string    `db:"event_type"`
	Attempt      int       `db:"attempt"`
	Status       string    `db:"status"`
	LastError    string    `db:"last_error"`
	ResponseCode int32     `db:"response_code"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// CHDeliveriesRepository lists delivery attempts from ClickHouse (final view).
// The table is fed by replication outside this service.
type CHDeliveriesRepository interface {
	ListByTenant(ctx context.Context, tenantID int64, webhookID string, status model.DeliveryStatus, limit, offset int) ([]CHDeliveryRow, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

func (r *chDeliveriesRepository) ListByTenant(ctx context.Context, tenantID int64, webhookID string, status model.DeliveryStatus, limit, offset int) ([]CHDeliveryRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, webhook_id, tenant_id, event_type, attempt, status, last_error, response_code, created_at, updated_at
		FROM hookpipe.delivery_attempts_latest
		WHERE tenant_id = ?
	`
	args := []any{tenantID}

	if webhookID != "" {
		q += " AND webhook_id = ?"
		args = append(args, webhookID)
	}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []CHDeliveryRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
