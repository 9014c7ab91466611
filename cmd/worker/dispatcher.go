package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hookpipe/hookpipe/internal/config"
	"github.com/hookpipe/hookpipe/internal/db"
	"github.com/hookpipe/hookpipe/internal/dispatcher"
	"github.com/hookpipe/hookpipe/internal/kafka"
	"github.com/hookpipe/hookpipe/internal/logger"
	"github.com/hookpipe/hookpipe/internal/metrics"
	"github.com/hookpipe/hookpipe/internal/queue"
	"github.com/hookpipe/hookpipe/internal/repository"
)

var dispatcherCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Consume domain events from Kafka and fan them out to webhooks",
	RunE:  runDispatcher,
}

func runDispatcher(cmd *cobra.Command, args []string) error {
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

	// 3) Redis-backed delivery queue (producer side)
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

	disp := dispatcher.New(
		repository.NewWebhooksRepository(dbx),
		repository.NewDeliveriesRepository(dbx),
		q,
		logger.Log,
	)

	// 4) kafka consumer
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "hookpipe-dispatcher"
	}
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> dispatcher started topic=%s group=%s", cfg.Kafka.Topic, groupID)

	return consumeLoop(ctx, consumer, disp)
}

func consumeLoop(ctx context.Context, consumer *kafka.Consumer, disp *dispatcher.Dispatcher) error {
	for {
		env, m, err := consumer.FetchEvent(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, kafka.ErrBadEvent) {
				// malformed events are committed and dropped, never retried
				logger.Log.Warn("drop bad event", zap.Error(err))
				_ = consumer.Commit(ctx, m)
				continue
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		n, err := disp.Dispatch(ctx, env.TenantID, env.Type, env.Payload)
		if err != nil {
			// leave uncommitted so the event is redelivered
			logger.Log.Error("dispatch failed",
				zap.Int64("tenant_id", env.TenantID),
				zap.String("type", env.Type),
				zap.Error(err))
			continue
		}

		logger.Log.Debug("event dispatched",
			zap.Int64("tenant_id", env.TenantID),
			zap.String("type", env.Type),
			zap.Int("enqueued", n))

		if err := consumer.Commit(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("kafka commit: %w", err)
		}
	}
}
