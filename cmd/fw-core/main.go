package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetscope/fw-core/internal/config"
	"fleetscope/fw-core/internal/db"
	"fleetscope/fw-core/internal/httpapi"
	"fleetscope/fw-core/internal/jobtracker"
	"fleetscope/fw-core/internal/metrics"
	"fleetscope/fw-core/internal/updater"
	"fleetscope/fw-core/internal/vuln"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := httpapi.NewLogger("info")
		l.Fatal().Err(err).Msg("failed to load config")
	}

	logger := httpapi.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *db.Pool
	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
	}

	var store *jobtracker.Store
	if cfg.JobStorePath != "" {
		s, err := jobtracker.OpenStore(cfg.JobStorePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.JobStorePath).Msg("failed to open job store")
		}
		defer s.Close()
		store = s
	}

	jobs := jobtracker.New(logger, store)
	if err := jobs.Load(); err != nil {
		logger.Warn().Err(err).Msg("failed to load persisted jobs")
	}

	m := metrics.New()

	var orch *updater.Coordinator
	if pool != nil {
		q := pool.Queries()
		orch = updater.New(logger, q, jobs, vuln.New(logger, q), m, updater.Options{
			BatchConcurrency: cfg.Updater.BatchConcurrency,
			CheckpointDelay:  cfg.Updater.CheckpointDelay(),
		})
	}

	var orchIface httpapi.Orchestrator
	if orch != nil {
		orchIface = orch
	}
	h := httpapi.NewHandler(logger, pool, m, orchIface)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("fw-core listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Updater.ShutdownGrace())
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
