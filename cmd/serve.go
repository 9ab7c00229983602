package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/trophy/internal/adapters/directory"
	"github.com/okian/trophy/internal/adapters/http/api"
	"github.com/okian/trophy/internal/adapters/repository"
	service "github.com/okian/trophy/internal/app"
	"github.com/okian/trophy/internal/auth"
	"github.com/okian/trophy/internal/config"
	"github.com/okian/trophy/pkg/logger"
	"github.com/okian/trophy/pkg/metrics"
	"github.com/spf13/cobra"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
	tokenTTL               = 12 * time.Hour
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ranking service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides TROPHY_ADDR)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "service stop failed", logger.Error(err))
		}
	}()

	go startServiceMetricsUpdater(ctx, svc)

	srv := buildServer(cfg, svc)
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// buildService opens the configured directory and ranking store and wraps
// them in an unstarted service.
func buildService(ctx context.Context, cfg *config.Config) (*service.Service, error) {
	dir, err := directory.Open(ctx, directory.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}

	var store repository.Store
	switch cfg.Store {
	case config.StoreRedis:
		store, err = repository.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			repository.WithKey(cfg.RedisKey))
		if err != nil {
			_ = dir.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	default:
		store = repository.NewTreapStore(ctx, repository.WithSnapshotInterval(cfg.SnapshotInterval))
	}

	return service.New(
		service.WithLogger(logger.Named("service")),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithScoreConcurrency(cfg.ScoreConcurrency),
		service.WithDirectory(dir),
		service.WithStore(store),
		service.WithRebuildOnStart(cfg.RebuildOnStart),
	), nil
}

func buildServer(cfg *config.Config, svc *service.Service) *http.Server {
	opts := []api.Option{
		api.WithMaxLimit(cfg.MaxLeaderboardLimit),
		api.WithRequestTimeout(cfg.RequestTimeout),
		api.WithCORSOrigins(cfg.CORSOrigins),
		api.WithLogger(logger.Named("http")),
	}
	if cfg.AuthSecret != "" {
		opts = append(opts, api.WithVerifier(auth.NewVerifier(cfg.AuthSecret, tokenTTL)))
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(svc, opts...).Handler(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startServiceMetricsUpdater refreshes gauges derived from service stats.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := svc.GetStats(ctx)
			metrics.UpdateQueueSize(stats.QueueLength)
			metrics.UpdateWorkerCount(stats.Workers)
		}
	}
}
