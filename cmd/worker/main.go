package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"formhook/internal/engine/typeform"
	"formhook/internal/pkg/logger"
	"formhook/internal/platform/config"
	"formhook/internal/platform/database"
	"formhook/internal/platform/metrics"
	"formhook/internal/platform/repositories"
	"formhook/internal/workers"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	once := flag.Bool("once", false, "Run a single reconciliation pass and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.Logging)
	metrics.Register()

	client := typeform.NewClient(cfg.Typeform, cfg.Ingestion.SigningSecret)
	if !client.Configured() {
		log.Fatal().Msg("typeform.api_token must be set to reconcile remote webhooks")
	}
	if cfg.Server.PublicURL == "" {
		log.Fatal().Msg("server.public_url must be set to reconcile remote webhooks")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to open database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconciler := workers.NewReconciler(
		repositories.NewWebhookRepository(db),
		client,
		cfg.Server.PublicURL,
		cfg.Workers.ReconcileConcurrency,
	)

	if *once {
		summary, err := reconciler.RunOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("reconciliation failed")
			return
		}
		if summary.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	log.Info().Dur("interval", cfg.Workers.ReconcileInterval).Msg("starting reconciliation worker")
	reconciler.Run(ctx, cfg.Workers.ReconcileInterval)
	log.Info().Msg("worker stopped")
}
