package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/hookpipe/hookpipe/internal/config"
	"github.com/hookpipe/hookpipe/internal/db"
	"github.com/hookpipe/hookpipe/internal/model"
	"github.com/hookpipe/hookpipe/internal/util"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo tenants and webhooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo tenants...")

		if err := seedTenants(sqlDB); err != nil {
			return err
		}
		if err := seedWebhooks(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

// seedTenants inserts deterministic demo tenants (idempotent).
func seedTenants(dbx *sqlx.DB) error {
	tenants := []model.Tenant{
		{
			Name:         "Acme Corp",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(20),
		},
		{
			Name:         "Foobar LLC",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			RateLimitRPS: intptr(50),
		},
		{
			Name:         "Suspended Inc",
			APIKey:       "33333333333333333333333333333333",
			Status:       "suspended",
			RateLimitRPS: nil,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO tenants
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name        = VALUES(name),
    status      = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at  = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, t := range tenants {
		if _, err := tx.Exec(q, t.Name, t.APIKey, t.Status, t.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert tenant %q: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tenants: %w", err)
	}
	return nil
}

// seedWebhooks gives the first tenant one demo subscription if it has none.
func seedWebhooks(dbx *sqlx.DB) error {
	var count int
	if err := dbx.Get(&count, `
		SELECT COUNT(*) FROM webhooks w
		JOIN tenants t ON t.id = w.tenant_id
		WHERE t.api_key = '11111111111111111111111111111111'
	`); err != nil {
		return fmt.Errorf("count webhooks: %w", err)
	}
	if count > 0 {
		return nil
	}

	wh := model.Webhook{
		ID:      util.New(),
		Name:    "demo endpoint",
		URL:     "http://127.0.0.1:9100/hooks",
		Events:  model.StringList{"tenant.created", "tenant.billing.updated"},
		Secret:  util.NewSecret(),
		Status:  model.WebhookActive,
		Headers: model.StringMap{},
		Retry:   model.DefaultRetryConfig(),
	}

	const q = `
INSERT INTO webhooks
    (id, tenant_id, name, url, events, secret, status, headers,
     retry_max_attempts, retry_base_delay_ms, retry_backoff_rate,
     created_at, updated_at)
SELECT ?, t.id, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW()
FROM tenants t
WHERE t.api_key = '11111111111111111111111111111111'
`
	events, _ := wh.Events.Value()
	headers, _ := wh.Headers.Value()
	if _, err := dbx.Exec(q,
		wh.ID, wh.Name, wh.URL, events, wh.Secret, wh.Status.String(), headers,
		wh.Retry.MaxAttempts, wh.Retry.BaseDelayMs, wh.Retry.BackoffRate,
	); err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}

	log.Printf(">> demo webhook %s secret=%s", wh.ID, wh.Secret)
	return nil
}

func intptr(i int) *int { return &i }
