package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/musicmap/internal/provider"
)

const defaultBaseURL = "https://nominatim.openstreetmap.org"

// Adapter is the geocoding source backed by an OpenStreetMap Nominatim instance.
type Adapter struct {
	client    *http.Client
	limiter   *provider.RateLimiterMap
	logger    *slog.Logger
	baseURL   string
	userAgent string
}

// New creates a Nominatim adapter against the public instance.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger, contact string) *Adapter {
	return NewWithBaseURL(limiter, logger, contact, defaultBaseURL)
}

// NewWithBaseURL creates a Nominatim adapter with a custom base URL (for
// testing or a self-hosted instance).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, contact, baseURL string) *Adapter {
	return &Adapter{
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   limiter,
		logger:    logger.With(slog.String("provider", "nominatim")),
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: provider.UserAgent(contact),
	}
}

// SetTimeout overrides the per-request timeout.
func (a *Adapter) SetTimeout(d time.Duration) {
	if d > 0 {
		a.client.Timeout = d
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.ProviderName { return provider.NameNominatim }

// Geocode returns the best match for text, or nil when the service has no result.
func (a *Adapter) Geocode(ctx context.Context, text string) (*provider.GeoPoint, error) {
	places, err := a.search(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, nil
	}
	return toPoint(places[0])
}

// TestConnection verifies connectivity with the service's status endpoint.
func (a *Adapter) TestConnection(ctx context.Context) error {
	_, err := a.doRequest(ctx, a.baseURL+"/status?format=json", "status")
	return err
}

func (a *Adapter) search(ctx context.Context, text string, limit int) ([]Place, error) {
	params := url.Values{
		"q":      {text},
		"format": {"json"},
		"limit":  {strconv.Itoa(limit)},
	}
	body, err := a.doRequest(ctx, a.baseURL+"/search?"+params.Encode(), text)
	if err != nil {
		return nil, err
	}

	var places []Place
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}
	return places, nil
}

func toPoint(p Place) (*provider.GeoPoint, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing latitude %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing longitude %q: %w", p.Lon, err)
	}
	return &provider.GeoPoint{Lat: lat, Lon: lon, DisplayName: p.DisplayName}, nil
}

// doRequest executes an HTTP GET with rate limiting and standard headers.
func (a *Adapter) doRequest(ctx context.Context, reqURL, id string) ([]byte, error) {
	if err := a.limiter.Wait(ctx, provider.NameNominatim); err != nil {
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.NameNominatim,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "application/json")

	a.logger.Debug("requesting", slog.String("url", reqURL))

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from trusted base + encoded query
	if err != nil {
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.NameNominatim,
			Cause:    err,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := provider.CheckStatus(provider.NameNominatim, resp, id); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	return io.ReadAll(io.LimitReader(resp.Body, 256*1024))
}
