package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	appcontainer "pfingest/internal/application/container"
	"pfingest/internal/application/usecase/ingest"
	"pfingest/internal/infrastructure/config"
	"pfingest/internal/infrastructure/container"
	"pfingest/internal/infrastructure/logger"
	httpapi "pfingest/internal/interfaces/http"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.toml", "path to config.toml (empty: environment only)")
	logLevel := pflag.String("log-level", "", "override app.log_level")
	pflag.Parse()

	logger.Setup("info", true)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	if *logLevel != "" {
		cfg.App.LogLevel = *logLevel
	}
	logger.Setup(cfg.App.LogLevel, cfg.App.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := container.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("container init failed")
	}
	defer infra.Close()

	app := appcontainer.New(infra.Store(), infra.Objects(), cfg.Worker.SnapshotPrefix)

	svc := ingest.NewService(ingest.ServiceDeps{
		Queue:      infra.Queue(),
		DeadLetter: infra.DeadLetter(),
		Handler:    app.IngestHandler(),
		Classifier: ingest.Classifier{PortfolioPrefixes: cfg.Worker.PortfolioPrefixes},
		Policy: ingest.RetryPolicy{
			MaxAttempts: cfg.Worker.MaxAttempts,
			CapSeconds:  cfg.Worker.CapSeconds,
		},
		BatchSize:      cfg.Worker.BatchSize,
		WaitTime:       cfg.PollWait(),
		Heartbeat:      infra.Heartbeat(),
		HeartbeatEvery: cfg.HeartbeatInterval(),
		Metrics:        infra.Metrics(),
	})

	var srv *http.Server
	if cfg.App.HTTPAddr != "" {
		checks := map[string]httpapi.HealthCheck{}
		for name, check := range infra.HealthChecks() {
			checks[name] = httpapi.HealthCheck(check)
		}
		api := httpapi.NewServer(httpapi.Deps{
			Runs:       app.RunTracker(),
			Positions:  app.PositionService(),
			Portfolios: app.Store(),
			Cache:      infra.Cache(),
			Metrics:    infra.Metrics().Handler(),
			Checks:     checks,
		})
		srv = &http.Server{
			Addr:              cfg.App.HTTPAddr,
			Handler:           api.R,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.App.HTTPAddr).Msg("status api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status api stopped")
				stop()
			}
		}()
	}

	log.Info().
		Str("config", *configPath).
		Str("worker", cfg.App.WorkerID).
		Str("queue", cfg.Queue.Name).
		Int("max_attempts", cfg.Worker.MaxAttempts).
		Int("cap_seconds", cfg.Worker.CapSeconds).
		Msg("ingestd started")

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("ingest consumer exited")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("status api shutdown")
		}
	}
	log.Info().Msg("ingestd stopped")
}
