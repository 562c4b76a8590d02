package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	attendanceHandler "keystone/internal/attendance/handler"
	"keystone/internal/audit"
	"keystone/internal/events"
	httpapi "keystone/internal/http"
	jwttoken "keystone/internal/jwt_token"
	maintenanceHandler "keystone/internal/maintenance/handler"
	memberHandler "keystone/internal/member/handler"
	"keystone/internal/platform/httpserver"
	"keystone/internal/platform/kafka"
	"keystone/internal/platform/kafka/consumer"
	"keystone/internal/platform/metrics"
	"keystone/internal/platform/postgres"
	"keystone/internal/platform/redis"
	promotionHandler "keystone/internal/promotion/handler"
	"keystone/internal/ratelimit"
	"keystone/pkg/platform/circuit"
)

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, evidence consumer and audit relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	rdb, err := redis.New(ctx, cfg.Redis, logger, m)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	svc := buildServices(db, cfg.Database, logger, m)
	tokens := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)

	checks := map[string]httpapi.HealthCheck{"postgres": db.PingContext}
	if rdb != nil {
		checks["redis"] = rdb.Health
	}
	var limiter *ratelimit.Window
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewWindow(cfg.Server.RateLimitPerMinute, time.Minute)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Logger:         logger,
		Metrics:        m,
		Gatherer:       reg,
		Authenticator:  tokens,
		RequestTimeout: cfg.Server.RequestTimeout,
		Limiter:        limiter,
		Checks:         checks,
		Handlers: []httpapi.Registrar{
			memberHandler.New(svc.members, logger),
			promotionHandler.New(svc.promotion, logger),
			attendanceHandler.New(svc.attendance, logger),
			maintenanceHandler.New(svc.maintenance, logger),
		},
	})
	srv := httpserver.New(cfg.Server, router)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case now := <-ticker.C:
					limiter.Sweep(now)
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.KafkaEnabled() {
		if err := a.startKafka(gctx, g, svc, rdb, m); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
	} else {
		logger.Warn("no kafka brokers configured; evidence consumer and audit relay disabled")
	}

	return g.Wait()
}

// startKafka bootstraps topics and launches the evidence consumer and the
// audit outbox relay on g.
func (a *app) startKafka(ctx context.Context, g *errgroup.Group, svc *services, rdb *redis.Client, m *metrics.Metrics) error {
	cfg, logger := a.cfg, a.logger

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return err
	}
	if err := kafka.EnsureTopics(ctx, producer, cfg.Kafka); err != nil {
		producer.Close()
		return err
	}
	client, err := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.EvidenceTopic)
	if err != nil {
		producer.Close()
		return err
	}

	opts := []events.Option{events.WithLogger(logger), events.WithMetrics(m)}
	if rdb != nil {
		breaker := circuit.New("redis-dedupe", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2))
		dedupe := events.NewGuardedDeduper(events.NewRedisDeduper(rdb.Client, cfg.Redis.DedupeTTL), breaker, logger)
		opts = append(opts, events.WithDeduper(dedupe))
	} else {
		logger.Warn("no redis configured; redelivered evidence is only deduplicated by service idempotency")
	}
	dispatcher := events.NewDispatcher(svc.members, svc.promotion, svc.attendance, opts...)
	evidence := consumer.New(client, dispatcher, logger)

	relay := audit.NewRelay(svc.auditStore, svc.tx, producer, cfg.Kafka.AuditTopic,
		audit.WithRelayLogger(logger),
		audit.WithRelayMetrics(m),
		audit.WithBatchSize(cfg.Kafka.RelayBatch),
		audit.WithInterval(cfg.Kafka.RelayInterval),
	)

	g.Go(func() error {
		defer client.Close()
		logger.Info("evidence consumer started", "topic", cfg.Kafka.EvidenceTopic)
		return evidence.Run(ctx)
	})
	g.Go(func() error {
		defer producer.Close()
		logger.Info("audit relay started", "topic", cfg.Kafka.AuditTopic)
		return relay.Run(ctx)
	})
	return nil
}
