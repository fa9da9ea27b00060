package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medgrant/portal-api/internal/config"
	"github.com/medgrant/portal-api/internal/handler"
	accessHandler "github.com/medgrant/portal-api/internal/handler/access"
	grantHandler "github.com/medgrant/portal-api/internal/handler/grant"
	"github.com/medgrant/portal-api/internal/middleware"
	"github.com/medgrant/portal-api/internal/notification"
	"github.com/medgrant/portal-api/internal/repository/postgres"
	"github.com/medgrant/portal-api/internal/router"
	accessService "github.com/medgrant/portal-api/internal/service/access"
	auditService "github.com/medgrant/portal-api/internal/service/audit"
	grantService "github.com/medgrant/portal-api/internal/service/grant"
	identityService "github.com/medgrant/portal-api/internal/service/identity"
	"github.com/medgrant/portal-api/internal/token"
	"github.com/medgrant/portal-api/pkg/logger"
	"github.com/medgrant/portal-api/pkg/metrics"
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

	// Repositories
	grantRepo := postgres.NewGrantRepository(db)
	patientRepo := postgres.NewPatientRepository(db)
	clinicianRepo := postgres.NewClinicianRepository(db)
	auditRepo := postgres.NewAuditRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	// Services
	identitySvc := identityService.NewService(patientRepo, clinicianRepo)
	auditSvc := auditService.NewService(auditRepo)
	generator := token.NewGenerator(grantRepo, cfg.Grant.TokenAttempts)
	notifier := notification.NewEmailNotifier(notification.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, appLogger)

	grantSvc := grantService.NewService(
		grantRepo,
		generator,
		identitySvc,
		auditSvc,
		outboxRepo,
		notifier,
		appLogger,
		grantService.Config{
			DefaultTTL: cfg.Grant.DefaultTTL(),
			MaxTTL:     cfg.Grant.MaxTTL(),
		},
	)
	gatewaySvc := accessService.NewService(grantRepo, auditSvc, appLogger)

	// Handlers
	appMetrics := metrics.NewMetrics("portal", "grants")
	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, identitySvc)
	grantH := grantHandler.NewHandler(grantSvc, appMetrics)
	accessH := accessHandler.NewHandler(grantSvc, gatewaySvc, appMetrics)
	healthH := handler.NewHealthHandler(db)

	r := router.NewRouter(authMiddleware, grantH, accessH, healthH, router.RouterConfig{
		RateLimitRPS:   10,
		RateLimitBurst: 20,
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
