package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iho/gosettle/internal/adapter/http/middleware"
	redisRepo "github.com/iho/gosettle/internal/adapter/repository/redis"
	"github.com/iho/gosettle/internal/adapter/webhook"
	"github.com/iho/gosettle/internal/app"
	"github.com/iho/gosettle/internal/infrastructure/auth"
	"github.com/iho/gosettle/internal/infrastructure/config"
	"github.com/iho/gosettle/internal/infrastructure/eventpublisher"
	"github.com/iho/gosettle/internal/infrastructure/logger"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
	"github.com/iho/gosettle/internal/infrastructure/redis"
	"github.com/iho/gosettle/internal/infrastructure/scheduler"
	"github.com/iho/gosettle/internal/usecase"
)

func main() {
	cfg, err := config.LoadWithDotenv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, nil); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

// run serves until ctx is cancelled. ready, if non-nil, receives the bound address.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, ready chan<- string) error {
	backend, err := app.NewBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()
	log.Info().Str("storage", backend.Name).Msg("storage ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegistry(reg)

	var (
		cache usecase.Cache
		store usecase.IdempotencyStore
	)
	checks := backend.Checks
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return err
		}
		defer client.Close()
		cache = redisRepo.NewCache(client)
		store = redisRepo.NewIdempotencyStore(client)
		checks["redis"] = redis.Check(client)
	} else {
		log.Warn().Msg("REDIS_URL not set, caching and admin idempotency disabled")
	}

	publisher, closePublisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	services := app.NewServices(backend, app.Options{
		Cache:   cache,
		Alerter: eventpublisher.NewDriftAlerter(publisher, backend.IDGen, log),
		Gate:    app.GateConfig(cfg),
		Metrics: m,
		Logger:  log,
	})

	var jwtManager *auth.JWTManager
	if cfg.AuthEnabled {
		jwtManager = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	} else {
		log.Warn().Msg("AUTH_ENABLED=false, admin API is unauthenticated")
	}

	limiter := middleware.NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookRateBurst, "webhooks", m)
	verifiers := webhook.NewRegistryFromSecrets(cfg.WebhookSecrets)
	if len(verifiers.Providers()) == 0 {
		log.Warn().Msg("WEBHOOK_SECRETS empty, every webhook will be rejected")
	}

	outbox := eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: backend.Outbox,
		Publisher:  publisher,
		Metrics:    m,
		Logger:     log,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxInterval,
	})

	sch := scheduler.New(log, time.Minute)
	if err := services.ScheduleJobs(sch, cfg, outbox, limiter); err != nil {
		return err
	}

	server := newHTTPServer(cfg, services.Router(app.HTTPOptions{
		Verifiers:          verifiers,
		JWTManager:         jwtManager,
		IdempotencyStore:   store,
		WebhookRateLimiter: limiter,
		Registry:           reg,
		Checks:             checks,
	}))

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", server.Addr, err)
	}
	if ready != nil {
		ready <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := outbox.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	sch.Start()

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()

		if err := sch.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("scheduled jobs did not finish in time")
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}
}

// newPublisher returns the AMQP publisher when AMQP_URL is set and a
// logging publisher otherwise.
func newPublisher(cfg *config.Config, log zerolog.Logger) (eventpublisher.Publisher, func(), error) {
	if cfg.AMQPURL == "" {
		log.Warn().Msg("AMQP_URL not set, outbox events are only logged")
		return eventpublisher.NewLogPublisher(log), func() {}, nil
	}

	p, err := eventpublisher.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	if err != nil {
		return nil, nil, err
	}
	return p, func() {
		if err := p.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close AMQP publisher")
		}
	}, nil
}
