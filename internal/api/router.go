package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sydlexius/musicmap/internal/api/middleware"
	"github.com/sydlexius/musicmap/internal/backup"
	"github.com/sydlexius/musicmap/internal/history"
	"github.com/sydlexius/musicmap/internal/location"
	"github.com/sydlexius/musicmap/internal/maintenance"
	"github.com/sydlexius/musicmap/internal/origin"
	"github.com/sydlexius/musicmap/internal/provider"
	"github.com/sydlexius/musicmap/internal/webhook"
)

// BatchResolver resolves a batch of artists.
type BatchResolver interface {
	ResolveBatch(ctx context.Context, artists []location.ArtistRequest) origin.BatchResult
}

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	Resolver         BatchResolver
	ProviderRegistry *provider.Registry
	HistoryService   *history.Service
	WebhookService   *webhook.Service
	Maintenance      *maintenance.Service
	Backup           *backup.Service
	Gatherer         prometheus.Gatherer
	Logger           *slog.Logger
	BasePath         string

	// MaxBatch caps the number of artists accepted per request. Zero uses
	// DefaultMaxBatch.
	MaxBatch int
}

// DefaultMaxBatch is the largest batch POST /api/v1/locations accepts.
const DefaultMaxBatch = 500

// Router sets up all HTTP routes for the application.
type Router struct {
	resolver         BatchResolver
	providerRegistry *provider.Registry
	historyService   *history.Service
	webhookService   *webhook.Service
	maintenance      *maintenance.Service
	backup           *backup.Service
	gatherer         prometheus.Gatherer
	logger           *slog.Logger
	basePath         string
	maxBatch         int
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(deps RouterDeps) *Router {
	maxBatch := deps.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Router{
		resolver:         deps.Resolver,
		providerRegistry: deps.ProviderRegistry,
		historyService:   deps.HistoryService,
		webhookService:   deps.WebhookService,
		maintenance:      deps.Maintenance,
		backup:           deps.Backup,
		gatherer:         gatherer,
		logger:           deps.Logger.With(slog.String("component", "api")),
		basePath:         deps.BasePath,
		maxBatch:         maxBatch,
	}
}

// Handler returns the root http.Handler. ctx bounds the lifetime of the
// background cleanup of the resolve rate limiter.
func (r *Router) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath

	limiter := middleware.NewIPRateLimiter(ctx, middleware.DefaultResolveRate)

	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)
	mux.Handle("GET "+bp+"/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))

	// Resolution
	mux.Handle("POST "+bp+"/api/v1/locations", limiter.Middleware(http.HandlerFunc(r.handleResolveLocations)))

	// Sources
	mux.HandleFunc("GET "+bp+"/api/v1/providers", r.handleListProviders)
	mux.HandleFunc("POST "+bp+"/api/v1/providers/check", r.handleCheckProviders)

	// Run history
	mux.HandleFunc("GET "+bp+"/api/v1/runs", r.handleListRuns)
	mux.HandleFunc("GET "+bp+"/api/v1/runs/{id}", r.handleGetRun)

	// Webhooks
	mux.HandleFunc("GET "+bp+"/api/v1/webhooks", r.handleListWebhooks)
	mux.HandleFunc("POST "+bp+"/api/v1/webhooks", r.handleCreateWebhook)
	mux.HandleFunc("GET "+bp+"/api/v1/webhooks/{id}", r.handleGetWebhook)
	mux.HandleFunc("PUT "+bp+"/api/v1/webhooks/{id}", r.handleUpdateWebhook)
	mux.HandleFunc("DELETE "+bp+"/api/v1/webhooks/{id}", r.handleDeleteWebhook)

	// Maintenance
	if r.maintenance != nil {
		mux.HandleFunc("GET "+bp+"/api/v1/maintenance", r.handleMaintenanceStatus)
		mux.HandleFunc("POST "+bp+"/api/v1/maintenance/run", r.handleMaintenanceRun)
	}

	// Backups
	if r.backup != nil {
		mux.HandleFunc("GET "+bp+"/api/v1/backups", r.handleListBackups)
		mux.HandleFunc("POST "+bp+"/api/v1/backups", r.handleCreateBackup)
		mux.HandleFunc("DELETE "+bp+"/api/v1/backups/{filename}", r.handleDeleteBackup)
	}

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(mux))
}
