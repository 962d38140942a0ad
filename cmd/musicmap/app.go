package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sydlexius/musicmap/internal/backup"
	"github.com/sydlexius/musicmap/internal/cache"
	"github.com/sydlexius/musicmap/internal/config"
	"github.com/sydlexius/musicmap/internal/database"
	"github.com/sydlexius/musicmap/internal/event"
	"github.com/sydlexius/musicmap/internal/history"
	"github.com/sydlexius/musicmap/internal/maintenance"
	"github.com/sydlexius/musicmap/internal/observability"
	"github.com/sydlexius/musicmap/internal/origin"
	"github.com/sydlexius/musicmap/internal/provider"
	"github.com/sydlexius/musicmap/internal/provider/musicbrainz"
	"github.com/sydlexius/musicmap/internal/provider/nominatim"
	"github.com/sydlexius/musicmap/internal/provider/wikipedia"
	"github.com/sydlexius/musicmap/internal/webhook"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	db           *sql.DB
	metrics      *observability.Metrics
	store        *cache.Store
	limiter      *provider.RateLimiterMap
	registry     *provider.Registry
	resolver     *origin.Resolver
	orchestrator *origin.Orchestrator
	history      *history.Service
	webhooks     *webhook.Service
	maintenance  *maintenance.Service
	backup       *backup.Service
}

type appOptions struct {
	// registerer receives the Prometheus collectors; nil disables metrics.
	registerer prometheus.Registerer
	// publisher receives resolution events; nil publishes nothing.
	publisher event.Publisher
}

// newApp opens the database, loads the caches and wires the resolution
// pipeline. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	applied, err := database.Migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready",
		slog.String("path", cfg.Database.Path),
		slog.Int64("schema_version", applied))

	a := &app{cfg: cfg, logger: logger, db: db}
	if opts.registerer != nil {
		a.metrics = observability.NewMetrics(opts.registerer)
	}

	a.store = cache.NewStore(cacheBackend(cfg, db), logger, cacheOptions(cfg, a.metrics)...)
	if err := a.store.LoadAll(ctx); err != nil {
		// A damaged namespace starts empty and is rewritten on the next flush.
		logger.Warn("loading caches", slog.String("error", err.Error()))
	}

	a.limiter = rateLimiters(cfg.Sources)
	wiki, mb, nom := sourceAdapters(cfg.Sources, a.limiter, logger)
	a.registry = provider.NewRegistry()
	a.registry.Register(wiki)
	a.registry.Register(mb)
	a.registry.Register(nom)

	src := cfg.Sources
	a.resolver = origin.NewResolver(
		origin.NewExtractor(wiki, a.store, src.Wikipedia.Delay, logger, a.metrics),
		origin.NewRegistryLookup(mb, a.store, src.SearchLimit, src.MusicBrainz.Delay, logger, a.metrics),
		origin.NewGeocoder(nom, a.store, src.Nominatim.Delay, logger, a.metrics),
		logger, a.metrics,
	)

	a.history = history.NewService(db)
	a.webhooks = webhook.NewService(db)

	orchOpts := []origin.OrchestratorOption{
		origin.WithPool(cfg.Batch.MaxWorkers, cfg.Batch.PoolDivisor),
		origin.WithRecorder(a.history),
		origin.WithBatchMetrics(a.metrics),
	}
	if opts.publisher != nil {
		orchOpts = append(orchOpts, origin.WithPublisher(opts.publisher))
	}
	a.orchestrator = origin.NewOrchestrator(a.resolver, a.store, logger, orchOpts...)

	a.maintenance = maintenance.NewService(db, cfg.Database.Path, a.store, a.history, logger,
		maintenance.WithRunRetention(cfg.Maintenance.RunRetention))
	a.backup = newBackupService(cfg, db, logger)
	return a, nil
}

// close flushes the caches and closes the database.
func (a *app) close() {
	if err := a.store.FlushAll(context.Background()); err != nil {
		a.logger.Error("flushing caches on shutdown", slog.String("error", err.Error()))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("closing database", slog.String("error", err.Error()))
	}
}

func newBackupService(cfg *config.Config, db *sql.DB, logger *slog.Logger) *backup.Service {
	return backup.NewService(db, cfg.Backup.Dir,
		backup.Policy{Keep: cfg.Backup.Keep, MaxAge: cfg.Backup.MaxAge}, logger)
}

func cacheBackend(cfg *config.Config, db *sql.DB) cache.Backend {
	if cfg.Cache.Backend == config.BackendFile {
		return cache.NewFileBackend(cfg.Cache.Dir)
	}
	return cache.NewSQLiteBackend(db)
}

func cacheOptions(cfg *config.Config, m *observability.Metrics) []cache.Option {
	opts := []cache.Option{cache.WithMetrics(m)}
	for ns, ttl := range cfg.Cache.TTL {
		opts = append(opts, cache.WithTTL(cache.Namespace(ns), ttl))
	}
	return opts
}

// rateLimiters starts from the documented per-source ceilings and applies
// any configured override.
func rateLimiters(s config.SourcesConfig) *provider.RateLimiterMap {
	m := provider.NewRateLimiterMap()
	applyRateLimits(m, s)
	return m
}

func applyRateLimits(m *provider.RateLimiterMap, s config.SourcesConfig) {
	for name, sc := range map[provider.ProviderName]config.SourceConfig{
		provider.NameWikipedia:   s.Wikipedia,
		provider.NameMusicBrainz: s.MusicBrainz,
		provider.NameNominatim:   s.Nominatim,
	} {
		if sc.RateLimit > 0 {
			m.SetLimit(name, sc.RateLimit)
		}
	}
}

func sourceAdapters(s config.SourcesConfig, limiter *provider.RateLimiterMap, logger *slog.Logger) (*wikipedia.Adapter, *musicbrainz.Adapter, *nominatim.Adapter) {
	wiki := wikipedia.NewWithBaseURL(limiter, logger, s.ContactEmail, s.Wikipedia.BaseURL)
	wiki.SetTimeout(s.Wikipedia.Timeout)

	mb := musicbrainz.NewWithBaseURL(limiter, logger, s.ContactEmail, s.MusicBrainz.BaseURL)
	mb.SetTimeout(s.MusicBrainz.Timeout)

	nom := nominatim.NewWithBaseURL(limiter, logger, s.ContactEmail, s.Nominatim.BaseURL)
	nom.SetTimeout(s.Nominatim.Timeout)
	return wiki, mb, nom
}
