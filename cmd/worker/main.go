// The worker drains the grant event outbox to the redis broker and runs
// the periodic expiry sweep. Correctness never depends on it: every read
// path re-checks expires_at itself.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/medgrant/portal-api/internal/config"
	"github.com/medgrant/portal-api/internal/repository/postgres"
	grantService "github.com/medgrant/portal-api/internal/service/grant"
	identityService "github.com/medgrant/portal-api/internal/service/identity"
	"github.com/medgrant/portal-api/internal/token"
	"github.com/medgrant/portal-api/pkg/logger"
	"github.com/medgrant/portal-api/pkg/messaging/redis"
	"github.com/medgrant/portal-api/pkg/metrics"
	"github.com/medgrant/portal-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: 100 * time.Millisecond,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, appLogger.Zerolog())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer broker.Close()

	grantRepo := postgres.NewGrantRepository(db)
	patientRepo := postgres.NewPatientRepository(db)
	clinicianRepo := postgres.NewClinicianRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	appMetrics := metrics.NewMetrics("portal", "worker")

	// The sweep runs through the same engine the API uses so expiry events
	// reach the outbox.
	identitySvc := identityService.NewService(patientRepo, clinicianRepo)
	grantSvc := grantService.NewService(
		grantRepo,
		token.NewGenerator(grantRepo, cfg.Grant.TokenAttempts),
		identitySvc,
		nil,
		outboxRepo,
		nil,
		appLogger,
		grantService.Config{
			DefaultTTL: cfg.Grant.DefaultTTL(),
			MaxTTL:     cfg.Grant.MaxTTL(),
		},
	)

	processor := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:     cfg.Worker.BatchSize,
		PollInterval:  time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second,
		RetryAttempts: cfg.Worker.RetryAttempts,
		RetryDelay:    time.Duration(cfg.Worker.RetryDelaySeconds) * time.Second,
	}, appLogger, appMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Start(ctx)
	go runSweep(ctx, grantSvc, appMetrics, appLogger, time.Duration(cfg.Worker.SweepIntervalSeconds)*time.Second)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)
}

func runSweep(ctx context.Context, svc *grantService.Service, m *metrics.Metrics, l *logger.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := svc.SweepExpired(ctx)
			if err != nil {
				l.Error(err, "expiry sweep failed")
				continue
			}
			if count > 0 {
				m.GrantsExpired.Add(float64(count))
				l.Info("expiry sweep completed", "expired", count)
			}
		}
	}
}
