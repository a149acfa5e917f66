package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/store"
	"github.com/TeneoProtocolAI/agent-network/internal/api"
	"github.com/TeneoProtocolAI/agent-network/internal/app"
	"github.com/TeneoProtocolAI/agent-network/internal/config"
	"github.com/TeneoProtocolAI/agent-network/internal/core/service"
	"github.com/TeneoProtocolAI/agent-network/internal/observability"
	"github.com/TeneoProtocolAI/agent-network/pkg/version"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	observability.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	fmt.Println(version.GetBanner())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("indexer stopped")
	}
	log.Info().Msg("indexer stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	metrics := observability.NewMetrics("agent_network")

	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pipeline, err := app.NewPipeline(ctx, cfg, st, metrics)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	feed := api.NewFeed(st, metrics, api.DefaultFeedConfig())
	pipeline.AddListener(feed)

	var history api.History
	if cfg.DatabaseURL != "" {
		archive, err := store.NewPostgresArchive(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("snapshot archive disabled")
		} else {
			defer archive.Close()
			pipeline.AddListener(archive)
			history = archive
			log.Info().Msg("archiving snapshots to postgres")
		}
	}

	scheduler := service.NewScheduler(pipeline, cfg.PipelineInterval)
	server := api.NewServer(api.Options{
		Store:       st,
		Scheduler:   scheduler,
		History:     history,
		Feed:        feed,
		Metrics:     metrics,
		AdminSecret: cfg.AdminToken,
	})
	if !cfg.AdminEnabled() {
		log.Info().Msg("ADMIN_TOKEN not set, admin routes disabled")
	}

	scheduler.Start(ctx)
	log.Info().Dur("interval", cfg.PipelineInterval).Msg("scheduler started")

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-serverErr:
		if err != nil {
			err = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("http shutdown")
	}
	scheduler.Stop()
	return err
}
