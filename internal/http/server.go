package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hookpipe/hookpipe/internal/config"
	"github.com/hookpipe/hookpipe/internal/dispatcher"
	"github.com/hookpipe/hookpipe/internal/http/middleware"
	"github.com/hookpipe/hookpipe/internal/logger"
	"github.com/hookpipe/hookpipe/internal/metrics"
	"github.com/hookpipe/hookpipe/internal/model"
	"github.com/hookpipe/hookpipe/internal/queue"
	"github.com/hookpipe/hookpipe/internal/repository"
	"github.com/hookpipe/hookpipe/internal/sender"
	"github.com/hookpipe/hookpipe/internal/service/registry"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	// repos (MySQL)
	tenantsRepo := repository.NewTenantsRepository(mysqlDB)
	webhooksRepo := repository.NewWebhooksRepository(mysqlDB)
	deliveriesRepo := repository.NewDeliveriesRepository(mysqlDB)

	// repos (ClickHouse)
	chDeliveriesRepo := repository.NewCHDeliveriesRepository(clickhouseDB)

	// delivery queue (producer side only)
	deliveryQueue := queue.NewRedisQueue(rds, queue.RedisQueueOpts{
		KeyPrefix:         cfg.Queue.KeyPrefix,
		PollInterval:      cfg.Queue.PollInterval,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	})

	// services
	snd := sender.New(cfg.Delivery.TimeoutMs, cfg.Delivery.Breaker.FailThreshold, cfg.Delivery.Breaker.OpenForMs)
	registrySvc := registry.New(webhooksRepo, deliveriesRepo, snd, model.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelayMs: cfg.Retry.BaseDelayMs,
		BackoffRate: cfg.Retry.BackoffRate,
	})
	disp := dispatcher.New(webhooksRepo, deliveriesRepo, deliveryQueue, logger.Log)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(tenantsRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:tenant:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/webhooks", createWebhookHandler(registrySvc))
	v1.GET("/webhooks", listWebhooksHandler(registrySvc))
	v1.GET("/webhooks/:id", getWebhookHandler(registrySvc))
	v1.PATCH("/webhooks/:id", updateWebhookHandler(registrySvc))
	v1.DELETE("/webhooks/:id", deleteWebhookHandler(registrySvc))
	v1.POST("/webhooks/:id/rotate-secret", rotateSecretHandler(registrySvc))
	v1.POST("/webhooks/:id/test", testWebhookHandler(registrySvc))
	v1.GET("/webhooks/:id/logs", webhookLogsHandler(registrySvc))
	v1.POST("/events", ingestEventHandler(disp))
	v1.GET("/reports/deliveries", listDeliveriesHandler(chDeliveriesRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
