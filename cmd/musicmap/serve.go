package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sydlexius/musicmap/internal/api"
	"github.com/sydlexius/musicmap/internal/config"
	"github.com/sydlexius/musicmap/internal/event"
	"github.com/sydlexius/musicmap/internal/logging"
	"github.com/sydlexius/musicmap/internal/version"
	"github.com/sydlexius/musicmap/internal/watcher"
	"github.com/sydlexius/musicmap/internal/webhook"
)

const eventBufferSize = 256

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, logMgr, logger, err := bootstrap(cmd, os.Stdout)
	if err != nil {
		return err
	}
	defer logMgr.Close() //nolint:errcheck

	logger.Info("starting musicmap",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus(logger, eventBufferSize)
	go bus.Start()

	a, err := newApp(ctx, cfg, logger, appOptions{
		registerer: prometheus.DefaultRegisterer,
		publisher:  bus,
	})
	if err != nil {
		bus.Stop()
		return err
	}
	defer a.close()

	dispatcher := webhook.NewDispatcher(a.webhooks, logger)
	dispatcher.Subscribe(bus)

	if cfg.Maintenance.Interval > 0 {
		go a.maintenance.StartScheduler(ctx, cfg.Maintenance.Interval)
	}
	if cfg.Backup.Interval > 0 {
		go a.backup.StartScheduler(ctx, cfg.Backup.Interval)
	}

	configPath, _ := cmd.Flags().GetString(configFlag)
	go watcher.NewService(configPath, reloadFunc(configPath, a, logMgr, logger), logger).Start(ctx)

	router := api.NewRouter(api.RouterDeps{
		Resolver:         a.orchestrator,
		ProviderRegistry: a.registry,
		HistoryService:   a.history,
		WebhookService:   a.webhooks,
		Maintenance:      a.maintenance,
		Backup:           a.backup,
		Gatherer:         prometheus.DefaultGatherer,
		Logger:           logger,
		BasePath:         cfg.Server.BasePath,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.Handler(ctx),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.Int("port", cfg.Server.Port), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	if !bus.Shutdown(5 * time.Second) {
		logger.Warn("event bus did not drain before shutdown timeout")
	}
	dispatcher.Wait()
	return shutdownErr
}

// reloadFunc re-reads the config file and applies the settings that can
// change without a restart: logging and per-source rate limits.
func reloadFunc(path string, a *app, logMgr *logging.Manager, logger *slog.Logger) watcher.ReloadFunc {
	return func(context.Context) error {
		next, err := config.Load(path)
		if err != nil {
			return err
		}
		rebuilt := logMgr.Reconfigure(next.Logging.Manager())
		applyRateLimits(a.limiter, next.Sources)
		logger.Info("config reloaded",
			slog.String("log_level", next.Logging.Level),
			slog.Bool("log_handler_rebuilt", rebuilt))
		return nil
	}
}
