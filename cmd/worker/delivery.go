package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hookpipe/hookpipe/internal/config"
	"github.com/hookpipe/hookpipe/internal/db"
	"github.com/hookpipe/hookpipe/internal/logger"
	"github.com/hookpipe/hookpipe/internal/metrics"
	"github.com/hookpipe/hookpipe/internal/queue"
	"github.com/hookpipe/hookpipe/internal/repository"
	"github.com/hookpipe/hookpipe/internal/sender"
	"github.com/hookpipe/hookpipe/internal/worker"
)

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Run delivery worker (signed webhook POSTs with retry/backoff)",
	RunE:  runDelivery,
}

func runDelivery(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) Redis-backed delivery queue
	rdb, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	q := queue.NewRedisQueue(rdb, queue.RedisQueueOpts{
		KeyPrefix:         cfg.Queue.KeyPrefix,
		PollInterval:      cfg.Queue.PollInterval,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	})

	// 4) repositories + sender
	webhooksRepo := repository.NewWebhooksRepository(dbx)
	deliveriesRepo := repository.NewDeliveriesRepository(dbx)
	snd := sender.New(cfg.Delivery.TimeoutMs, cfg.Delivery.Breaker.FailThreshold, cfg.Delivery.Breaker.OpenForMs)

	w := worker.NewDelivery(q, q, webhooksRepo, deliveriesRepo, snd, logger.Log)
	if cfg.Delivery.WorkerCount > 0 {
		w.Workers = cfg.Delivery.WorkerCount
	}
	w.RetryClientErrors = cfg.Delivery.RetryClientErrors

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> delivery worker started workers=%d retry_client_errors=%t", w.Workers, w.RetryClientErrors)

	return w.Run(ctx)
}
