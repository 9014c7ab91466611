package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hookpipe/hookpipe/internal/model"
)

// ErrStaleAttempt signals a lost optimistic-version race: another writer
// already advanced the attempt past the version we read.
var ErrStaleAttempt = errors.New("delivery attempt version is stale")

// DeliveriesRepository persists delivery attempts. Every transition is a
// compare-and-set on the version column; terminal rows are never rewritten.
type DeliveriesRepository interface {
	Insert(ctx context.Context, a model.DeliveryAttempt) error
	Get(ctx context.Context, id string) (*model.DeliveryAttempt, error)
	ListByWebhook(ctx context.Context, webhookID string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryAttempt, error)

	MarkInFlight(ctx context.Context, id string, version int64, attempt int) error
	MarkDelivered(ctx context.Context, id string, version int64, responseCode int, responseBody string) error
	MarkRetryScheduled(ctx context.Context, id string, version int64, lastError string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id string, version int64, lastError string) error
}

type DeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveriesRepository(db *sqlx.DB) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db}
}

var _ DeliveriesRepository = (*DeliveriesRepositoryImpl)(nil)

const deliveryCols = `
	id, webhook_id, tenant_id, event_type, payload, attempt, status,
	last_error, response_code, response_body, version,
	created_at, updated_at, delivered_at, next_attempt_at
`

func (r *DeliveriesRepositoryImpl) Insert(ctx context.Context, a model.DeliveryAttempt) error {
	const q = `
		INSERT INTO delivery_attempts
		    (id, webhook_id, tenant_id, event_type, payload, attempt, status, version, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, 0, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.WebhookID, a.TenantID, a.EventType, []byte(a.Payload), a.Attempt, a.Status.String(),
	)
	return err
}

func (r *DeliveriesRepositoryImpl) Get(ctx context.Context, id string) (*model.DeliveryAttempt, error) {
	var a model.DeliveryAttempt
	err := r.db.GetContext(ctx, &a,
		`SELECT `+deliveryCols+` FROM delivery_attempts WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *DeliveriesRepositoryImpl) ListByWebhook(ctx context.Context, webhookID string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `SELECT ` + deliveryCols + ` FROM delivery_attempts WHERE webhook_id = ?`
	args := []any{webhookID}

	if status != "" {
		q += ` AND status = ?`
		args = append(args, status.String())
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []model.DeliveryAttempt
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// cas runs an update guarded by `version = ?` and excludes terminal rows so a
// redelivered queue message can never rewrite a finished attempt.
func (r *DeliveriesRepositoryImpl) cas(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleAttempt
	}
	return nil
}

func (r *DeliveriesRepositoryImpl) MarkInFlight(ctx context.Context, id string, version int64, attempt int) error {
	const q = `
		UPDATE delivery_attempts
		   SET status = 'in_flight', attempt = ?, version = version + 1, updated_at = NOW()
		 WHERE id = ? AND version = ? AND status NOT IN ('delivered', 'failed')
	`
	return r.cas(ctx, q, attempt, id, version)
}

func (r *DeliveriesRepositoryImpl) MarkDelivered(ctx context.Context, id string, version int64, responseCode int, responseBody string) error {
	const q = `
		UPDATE delivery_attempts
		   SET status = 'delivered', response_code = ?, response_body = ?, last_error = NULL,
		       delivered_at = NOW(), version = version + 1, updated_at = NOW()
		 WHERE id = ? AND version = ? AND status NOT IN ('delivered', 'failed')
	`
	return r.cas(ctx, q, responseCode, responseBody, id, version)
}

func (r *DeliveriesRepositoryImpl) MarkRetryScheduled(ctx context.Context, id string, version int64, lastError string, nextAttemptAt time.Time) error {
	const q = `
		UPDATE delivery_attempts
		   SET status = 'retry_scheduled', last_error = ?, next_attempt_at = ?,
		       version = version + 1, updated_at = NOW()
		 WHERE id = ? AND version = ? AND status NOT IN ('delivered', 'failed')
	`
	return r.cas(ctx, q, lastError, nextAttemptAt.UTC(), id, version)
}

func (r *DeliveriesRepositoryImpl) MarkFailed(ctx context.Context, id string, version int64, lastError string) error {
	const q = `
		UPDATE delivery_attempts
		   SET status = 'failed', last_error = ?, next_attempt_at = NULL,
		       version = version + 1, updated_at = NOW()
		 WHERE id = ? AND version = ? AND status NOT IN ('delivered', 'failed')
	`
	return r.cas(ctx, q, lastError, id, version)
}
