package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sydlexius/musicmap/internal/event"
	"github.com/sydlexius/musicmap/internal/version"
)

const (
	maxRetries     = 3
	requestTimeout = 10 * time.Second
	defaultBackoff = time.Second
)

// Dispatcher sends events to matching webhooks.
type Dispatcher struct {
	service    *Service
	httpClient *http.Client
	backoff    time.Duration
	logger     *slog.Logger
	inflight   sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithBackoff sets the delay before the second attempt; later attempts double it.
func WithBackoff(base time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.backoff = base }
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(service *Service, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		service:    service,
		httpClient: &http.Client{Timeout: requestTimeout},
		backoff:    defaultBackoff,
		logger:     logger.With(slog.String("component", "webhook-dispatcher")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers the dispatcher for every known event type.
func (d *Dispatcher) Subscribe(bus *event.Bus) {
	bus.SubscribeAll(d.HandleEvent)
}

// HandleEvent is an event.Handler that dispatches the event to all matching webhooks.
func (d *Dispatcher) HandleEvent(e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	webhooks, err := d.service.ListByEvent(ctx, e.Type)
	if err != nil {
		d.logger.Error("listing webhooks for event",
			slog.String("type", string(e.Type)),
			slog.String("error", err.Error()))
		return
	}

	for _, w := range webhooks {
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			d.deliver(w, e)
		}()
	}
}

// Wait blocks until every delivery started so far has finished or given up.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) deliver(w Webhook, e event.Event) {
	body, contentType := formatPayload(&w, e)
	logger := d.logger.With(slog.String("webhook", w.Name), slog.String("event", string(e.Type)))

	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			time.Sleep(d.backoff << (attempt - 1))
		}

		lastErr = d.send(w.URL, body, contentType)
		if lastErr == nil {
			logger.Debug("webhook delivered", slog.Int("attempt", attempt+1))
			break
		}

		logger.Warn("webhook delivery failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()))
	}
	if lastErr != nil {
		logger.Error("webhook delivery exhausted retries", slog.String("error", lastErr.Error()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	disabled, err := d.service.RecordDelivery(ctx, w.ID, lastErr)
	if err != nil {
		logger.Warn("recording webhook delivery", slog.String("error", err.Error()))
		return
	}
	if disabled {
		logger.Warn("webhook disabled after repeated failures",
			slog.Int("consecutive_failures", MaxConsecutiveFailures))
	}
}

func (d *Dispatcher) send(url string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "MusicMap-Webhook/"+version.Version)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
