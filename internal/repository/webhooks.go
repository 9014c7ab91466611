package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/hookpipe/hookpipe/internal/model"
)

// WebhooksRepository defines persistence for webhook subscriptions.
type WebhooksRepository interface {
	Insert(ctx context.Context, w model.Webhook) error
	Update(ctx context.Context, w model.Webhook) error
	UpdateSecret(ctx context.Context, id, secret string) error
	UpdateStatus(ctx context.Context, id string, status model.WebhookStatus) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*model.Webhook, error)
	ListByTenant(ctx context.Context, tenantID int64, status model.WebhookStatus, limit, offset int) ([]model.Webhook, error)
	// ListActiveByEvent returns the tenant's active webhooks subscribed to eventType.
	ListActiveByEvent(ctx context.Context, tenantID int64, eventType string) ([]model.Webhook, error)
}

type WebhooksRepositoryImpl struct {
	db *sqlx.DB
}

func NewWebhooksRepository(db *sqlx.DB) *WebhooksRepositoryImpl {
	return &WebhooksRepositoryImpl{db: db}
}

var _ WebhooksRepository = (*WebhooksRepositoryImpl)(nil)

const webhookCols = `
	id, tenant_id, name, url, events, secret, status, headers,
	retry_max_attempts, retry_base_delay_ms, retry_backoff_rate,
	created_at, updated_at
`

func (r *WebhooksRepositoryImpl) Insert(ctx context.Context, w model.Webhook) error {
	const q = `
		INSERT INTO webhooks
		    (id, tenant_id, name, url, events, secret, status, headers,
		     retry_max_attempts, retry_base_delay_ms, retry_backoff_rate,
		     created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		w.ID, w.TenantID, w.Name, w.URL, w.Events, w.Secret, w.Status.String(), w.Headers,
		w.Retry.MaxAttempts, w.Retry.BaseDelayMs, w.Retry.BackoffRate,
	)
	return err
}

func (r *WebhooksRepositoryImpl) Update(ctx context.Context, w model.Webhook) error {
	const q = `
		UPDATE webhooks
		   SET name = ?, url = ?, events = ?, status = ?, headers = ?,
		       retry_max_attempts = ?, retry_base_delay_ms = ?, retry_backoff_rate = ?,
		       updated_at = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q,
		w.Name, w.URL, w.Events, w.Status.String(), w.Headers,
		w.Retry.MaxAttempts, w.Retry.BaseDelayMs, w.Retry.BackoffRate,
		w.ID,
	)
	return err
}

func (r *WebhooksRepositoryImpl) UpdateSecret(ctx context.Context, id, secret string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE webhooks SET secret = ?, updated_at = NOW() WHERE id = ?`, secret, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *WebhooksRepositoryImpl) UpdateStatus(ctx context.Context, id string, status model.WebhookStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhooks SET status = ?, updated_at = NOW() WHERE id = ?`, status.String(), id)
	return err
}

func (r *WebhooksRepositoryImpl) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *WebhooksRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Webhook, error) {
	var w model.Webhook
	err := r.db.GetContext(ctx, &w,
		`SELECT `+webhookCols+` FROM webhooks WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.SyncRetry()
	return &w, nil
}

func (r *WebhooksRepositoryImpl) ListByTenant(ctx context.Context, tenantID int64, status model.WebhookStatus, limit, offset int) ([]model.Webhook, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `SELECT ` + webhookCols + ` FROM webhooks WHERE tenant_id = ?`
	args := []any{tenantID}

	if status != "" {
		q += ` AND status = ?`
		args = append(args, status.String())
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []model.Webhook
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].SyncRetry()
	}
	return rows, nil
}

// ListActiveByEvent filters the events JSON in Go; per-tenant webhook counts
// are small enough that a full scan of the tenant's active rows is fine.
func (r *WebhooksRepositoryImpl) ListActiveByEvent(ctx context.Context, tenantID int64, eventType string) ([]model.Webhook, error) {
	var rows []model.Webhook
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+webhookCols+` FROM webhooks WHERE tenant_id = ? AND status = 'active'`, tenantID)
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for i := range rows {
		if rows[i].Events.Contains(eventType) {
			rows[i].SyncRetry()
			out = append(out, rows[i])
		}
	}
	return out, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
