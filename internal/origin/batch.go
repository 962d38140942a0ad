package origin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/musicmap/internal/cache"
	"github.com/sydlexius/musicmap/internal/event"
	"github.com/sydlexius/musicmap/internal/history"
	"github.com/sydlexius/musicmap/internal/location"
	"github.com/sydlexius/musicmap/internal/observability"
)

// Pool sizing defaults: one worker per three pending artists, at most five.
const (
	DefaultMaxWorkers  = 5
	DefaultPoolDivisor = 3
)

// PoolSize returns clamp(n/divisor, 1, maxWorkers).
func PoolSize(n, divisor, maxWorkers int) int {
	if divisor <= 0 {
		divisor = DefaultPoolDivisor
	}
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return min(maxWorkers, max(1, n/divisor))
}

// ArtistResolver resolves one artist. It must not return errors; failures
// are expressed as an unresolved location.
type ArtistResolver interface {
	Resolve(ctx context.Context, artist string) location.ResolvedLocation
}

// RunRecorder persists batch summaries.
type RunRecorder interface {
	Record(ctx context.Context, r history.Run) error
}

// BatchResult is the outcome of ResolveBatch.
type BatchResult struct {
	RunID     string                      `json:"run_id"`
	Locations []location.ResolvedLocation `json:"locations"`
	Stats     history.Run                 `json:"stats"`
}

// Orchestrator resolves batches of artists: cache-fresh artists are answered
// immediately, the rest go through a bounded worker pool.
type Orchestrator struct {
	resolver   ArtistResolver
	store      *cache.Store
	logger     *slog.Logger
	metrics    *observability.Metrics
	publisher  event.Publisher
	recorder   RunRecorder
	maxWorkers int
	divisor    int
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPool sets the worker ceiling and the artists-per-worker divisor.
func WithPool(maxWorkers, divisor int) OrchestratorOption {
	return func(o *Orchestrator) {
		if maxWorkers > 0 {
			o.maxWorkers = maxWorkers
		}
		if divisor > 0 {
			o.divisor = divisor
		}
	}
}

// WithPublisher emits per-artist and per-batch events.
func WithPublisher(p event.Publisher) OrchestratorOption {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithRecorder stores a summary of every batch.
func WithRecorder(r RunRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithBatchMetrics records batch figures.
func WithBatchMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(resolver ArtistResolver, store *cache.Store, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		resolver:   resolver,
		store:      store,
		logger:     logger.With(slog.String("component", "batch")),
		maxWorkers: DefaultMaxWorkers,
		divisor:    DefaultPoolDivisor,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type pendingArtist struct {
	idx int
	req location.ArtistRequest
}

type workerResult struct {
	idx int
	loc location.ResolvedLocation
}

// ResolveBatch resolves every named artist. Results come back in input
// order; duplicates collapse to one entry carrying the latest side-metadata,
// and empty names are skipped. An artist whose worker fails unexpectedly is
// omitted. All cache namespaces are flushed once at the end.
func (o *Orchestrator) ResolveBatch(ctx context.Context, artists []location.ArtistRequest) BatchResult {
	clock := o.store.Clock()
	run := history.Run{ID: uuid.NewString(), StartedAt: clock.Now()}
	logger := o.logger.With(slog.String("run_id", run.ID))

	requests := dedupe(artists, logger)
	run.Total = len(requests)

	found := make(map[int]location.ResolvedLocation, len(requests))
	var pending []pendingArtist
	for i, req := range requests {
		if loc, ok := o.cached(req.Name); ok {
			found[i] = loc.WithMeta(req.Meta)
			continue
		}
		pending = append(pending, pendingArtist{idx: i, req: req})
	}
	run.Cached = len(found)
	run.Dispatched = len(pending)

	if len(pending) > 0 {
		run.Workers = PoolSize(len(pending), o.divisor, o.maxWorkers)
		logger.Info("dispatching artists",
			slog.Int("pending", len(pending)),
			slog.Int("cached", run.Cached),
			slog.Int("workers", run.Workers))

		results := o.dispatch(ctx, pending, run.Workers)
		// Only this goroutine writes the artist namespace.
		for res := range results {
			found[res.idx] = res.loc
			if res.loc.HasCoordinates() {
				run.Resolved++
				if err := o.store.Put(cache.NamespaceArtist, res.loc.ArtistName, res.loc); err != nil {
					logger.Warn("caching artist location", slog.String("error", err.Error()))
				}
				o.publish(event.LocationResolved, res.loc)
			} else {
				run.Unresolved++
				o.publish(event.LocationUnresolved, res.loc)
			}
		}
		run.Failed = len(pending) - run.Resolved - run.Unresolved
	}

	if err := o.store.FlushAll(context.WithoutCancel(ctx)); err != nil {
		logger.Error("flushing caches", slog.String("error", err.Error()))
		if o.publisher != nil {
			o.publisher.Publish(event.Event{
				Type: event.CacheFlushFailed,
				Data: map[string]any{"run_id": run.ID, "message": err.Error()},
			})
		}
	}

	run.FinishedAt = clock.Now()
	o.finish(ctx, run, logger)

	idxs := make([]int, 0, len(found))
	for i := range found {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	locs := make([]location.ResolvedLocation, 0, len(idxs))
	for _, i := range idxs {
		locs = append(locs, found[i])
	}
	return BatchResult{RunID: run.ID, Locations: locs, Stats: run}
}

// dispatch runs the resolver for every pending artist on a pool of size
// workers and returns a closed channel holding the results.
func (o *Orchestrator) dispatch(ctx context.Context, pending []pendingArtist, workers int) <-chan workerResult {
	results := make(chan workerResult, len(pending))

	var g errgroup.Group
	g.SetLimit(workers)
	for _, p := range pending {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					o.metrics.WorkerPanic()
					o.logger.Error("resolver worker failed, omitting artist",
						slog.String("artist", p.req.Name),
						slog.String("panic", fmt.Sprint(r)))
				}
			}()
			loc := o.resolver.Resolve(ctx, p.req.Name)
			results <- workerResult{idx: p.idx, loc: loc.WithMeta(p.req.Meta)}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	return results
}

// cached returns a fresh, coordinate-bearing artist entry.
func (o *Orchestrator) cached(name string) (location.ResolvedLocation, bool) {
	loc, ok := cache.Lookup[location.ResolvedLocation](o.store, cache.NamespaceArtist, name)
	if !ok || !loc.HasCoordinates() {
		return location.ResolvedLocation{}, false
	}
	return loc, true
}

func (o *Orchestrator) publish(t event.Type, loc location.ResolvedLocation) {
	if o.publisher == nil {
		return
	}
	data := map[string]any{
		"name":   loc.ArtistName,
		"source": string(loc.Source),
	}
	if loc.Origin != nil {
		data["origin"] = *loc.Origin
		data["message"] = fmt.Sprintf("%s placed at %s (%s)", loc.ArtistName, *loc.Origin, loc.Source)
	} else {
		data["message"] = fmt.Sprintf("%s could not be placed", loc.ArtistName)
	}
	if loc.Coordinates != nil {
		data["lat"] = loc.Coordinates.Lat
		data["lon"] = loc.Coordinates.Lon
	}
	o.publisher.Publish(event.Event{Type: t, Data: data})
}

func (o *Orchestrator) finish(ctx context.Context, run history.Run, logger *slog.Logger) {
	o.metrics.Batch(run.Total, run.Workers, run.Duration())

	if o.recorder != nil {
		if err := o.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
			logger.Warn("recording run", slog.String("error", err.Error()))
		}
	}
	if o.publisher != nil {
		o.publisher.Publish(event.Event{
			Type: event.BatchCompleted,
			Data: map[string]any{
				"run_id":     run.ID,
				"total":      run.Total,
				"cached":     run.Cached,
				"resolved":   run.Resolved,
				"unresolved": run.Unresolved,
				"failed":     run.Failed,
				"workers":    run.Workers,
				"message": fmt.Sprintf("Batch of %d artists: %d cached, %d resolved, %d unresolved, %d failed",
					run.Total, run.Cached, run.Resolved, run.Unresolved, run.Failed),
			},
		})
	}
	logger.Info("batch complete",
		slog.Int("total", run.Total),
		slog.Int("cached", run.Cached),
		slog.Int("resolved", run.Resolved),
		slog.Int("unresolved", run.Unresolved),
		slog.Int("failed", run.Failed),
		slog.Duration("duration", run.Duration()))
}

// dedupe drops empty names and collapses repeated names into the position of
// their first occurrence, keeping the latest side-metadata.
func dedupe(artists []location.ArtistRequest, logger *slog.Logger) []location.ArtistRequest {
	seen := make(map[string]int, len(artists))
	out := make([]location.ArtistRequest, 0, len(artists))
	for _, a := range artists {
		if a.Name == "" {
			logger.Warn("skipping artist with empty name")
			continue
		}
		if i, ok := seen[a.Name]; ok {
			out[i].Meta = a.Meta
			continue
		}
		seen[a.Name] = len(out)
		out = append(out, a)
	}
	return out
}
