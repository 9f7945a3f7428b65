package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"formhook/internal/api"
	"formhook/internal/api/handlers"
	"formhook/internal/api/middleware"
	"formhook/internal/engine/ingest"
	"formhook/internal/engine/live"
	"formhook/internal/engine/notify"
	"formhook/internal/engine/typeform"
	"formhook/internal/pkg/logger"
	"formhook/internal/pkg/parser"
	"formhook/internal/platform/audit"
	"formhook/internal/platform/auth"
	"formhook/internal/platform/config"
	"formhook/internal/platform/database"
	"formhook/internal/platform/metrics"
	"formhook/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.Logging)
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to open database")
	}
	defer db.Close()

	if err := database.Migrate(db, "up"); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	webhookRepo := repositories.NewWebhookRepository(db)
	responseRepo := repositories.NewResponseRepository(db)

	if created, err := ensureBootstrapAdmin(ctx, userRepo, cfg.Auth); err != nil {
		log.Fatal().Err(err).Msg("failed to create bootstrap admin")
	} else if created {
		log.Info().Str("username", cfg.Auth.BootstrapAdmin.Username).Msg("created bootstrap admin")
	}

	// Live hub, relayed through Redis when several instances share a dashboard
	var relay live.Relay
	if cfg.Redis.URL != "" {
		client, err := live.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		redisRelay := live.NewRedisRelay(client, cfg.Redis.Channel)
		relay = redisRelay
		log.Info().Str("channel", cfg.Redis.Channel).Str("instance", redisRelay.InstanceID()).Msg("live relay enabled")
	}
	hub := live.NewHub(live.Options{
		SendTimeout: cfg.Live.SendTimeout,
		Concurrency: cfg.Live.BroadcastConcurrency,
		Relay:       relay,
	})
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	auditLogger := audit.NewLogger(db)
	mailer := notify.NewMailer(cfg.Email.SMTP)
	if !mailer.Enabled() {
		log.Info().Msg("smtp host not set, email notifications disabled")
	}
	typeformClient := typeform.NewClient(cfg.Typeform, cfg.Ingestion.SigningSecret)
	ingestSvc := ingest.NewService(webhookRepo, responseRepo, hub, mailer, ingest.Options{
		SigningSecret:      cfg.Ingestion.SigningSecret,
		DedupeByCaseNumber: cfg.Ingestion.DedupeByCaseNumber,
	})

	rateLimiter := middleware.NewRateLimiter()
	go rateLimiter.Run(ctx)

	authMiddleware := middleware.NewAuthMiddleware(tokenSvc)

	proxies, err := parser.NewProxyResolver(cfg.Server.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid server.trusted_proxies")
	}

	deps := &api.Dependencies{
		AuthHandler:    handlers.NewAuthHandler(userRepo, tokenSvc, auditLogger),
		UserHandler:    handlers.NewUserHandler(userRepo, cfg.Auth.BcryptCost),
		WebhookHandler: handlers.NewWebhookHandler(webhookRepo, responseRepo, typeformClient, auditLogger, cfg.Server.PublicURL),
		IngestHandler:  handlers.NewIngestHandler(ingestSvc, cfg.Ingestion.MaxBodyBytes),
		LiveHandler:    handlers.NewLiveHandler(hub, authMiddleware, cfg.Live, cfg.CORS.AllowedOrigins),
		HealthHandler:  handlers.NewHealthHandler(db, hub),
		MetricsHandler: handlers.NewMetricsHandler(webhookRepo, responseRepo, hub),
		AuditHandler:   handlers.NewAuditHandler(auditLogger),
		AuthMiddleware: authMiddleware,
		RateLimiter:    rateLimiter,
		ProxyResolver:  proxies,

		LivePath:         cfg.Live.Path,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		ReceivePerMinute: cfg.RateLimit.ReceivePerMinute,
		LoginPerMinute:   cfg.RateLimit.LoginPerMinute,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("live_path", cfg.Live.Path).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
		stop()
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked websockets are not tracked by Shutdown; the hub closes them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	<-hubDone

	ingestSvc.Wait()
	mailer.Wait()
	auditLogger.Wait()

	log.Info().Msg("server stopped")
}
